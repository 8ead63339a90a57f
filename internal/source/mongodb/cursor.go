// C5 file backend for MongoDB: unlike Postgres, a change stream's
// resume token has no server-side durable home, so the cursor is kept
// in the same atomic-write-rename JSON file every document source uses
//.
package mongodb

import (
	"context"

	"github.com/myyrakle/clockpipe/internal/cursorstore"
	"github.com/myyrakle/clockpipe/internal/types"
)

type FileCursor struct {
	store *cursorstore.File
	ref   types.SourceRef
}

func NewFileCursor(store *cursorstore.File, ref types.SourceRef) *FileCursor {
	return &FileCursor{store: store, ref: ref}
}

func (c *FileCursor) Load(ctx context.Context) (types.OpaqueBytes, error) {
	return c.store.Load(c.ref)
}

func (c *FileCursor) Save(ctx context.Context, token types.OpaqueBytes) error {
	return c.store.Save(c.ref, token)
}
