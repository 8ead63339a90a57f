// Adapter ties the Mongo-specific introspector, change-stream decoder,
// file cursor, and bulk copier together behind source.Source, the same
// role internal/source/postgres/adapter.go plays for Postgres.
package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/myyrakle/clockpipe/internal/config"
	"github.com/myyrakle/clockpipe/internal/cursorstore"
	"github.com/myyrakle/clockpipe/internal/source"
	"github.com/myyrakle/clockpipe/internal/types"
)

// streamRef is the synthetic SourceRef the file cursor store keys its
// single change-stream resume token under; one change stream spans
// every configured collection, so there is exactly one token per
// database pairing rather than one per collection.
func streamRef(dbName string) types.SourceRef {
	return types.SourceRef{Schema: dbName, Name: "_changestream"}
}

type Adapter struct {
	client *mongo.Client
	db     *mongo.Database
	cfg    config.MongoDBConfig
	intro  *Introspector
	cursor *FileCursor
	decoder *Decoder
}

// Open connects to MongoDB and prepares the introspector and
// file-backed cursor. The change stream itself is opened lazily by the
// first Peek call, once CursorLoad has supplied the resume token to
// resume from (or none, to start from "now").
func Open(ctx context.Context, cfg config.MongoDBConfig) (*Adapter, error) {
	if cfg.ResumeTokenStorage != "file" {
		return nil, fmt.Errorf("mongodb: unsupported resume_token_storage %q", cfg.ResumeTokenStorage)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Connection.URI))
	if err != nil {
		return nil, fmt.Errorf("mongodb: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("mongodb: ping: %w", err)
	}

	db := client.Database(cfg.Connection.Database)
	store := cursorstore.NewFile(cfg.ResumeTokenPath)

	return &Adapter{
		client: client,
		db:     db,
		cfg:    cfg,
		intro:  NewIntrospector(db, cfg),
		cursor: NewFileCursor(store, streamRef(db.Name())),
	}, nil
}

func (a *Adapter) Introspect(ctx context.Context) ([]types.TableSchema, error) {
	return a.intro.IntrospectAll(ctx)
}

func (a *Adapter) BulkCopy(ctx context.Context, schema types.TableSchema, sink source.Sink) error {
	batchSize := a.cfg.CopyBatchSize
	if batchSize == 0 {
		batchSize = config.DefaultCopyBatchSizeMongo
	}
	return BulkCopy(ctx, a.db, schema, batchSize, sink)
}

// Peek lazily opens the change stream on first use, resuming from the
// last saved token.
func (a *Adapter) Peek(ctx context.Context, limit int64) source.PeekResult {
	if a.decoder == nil {
		token, err := a.cursor.Load(ctx)
		if err != nil {
			return source.PeekResult{Err: err}
		}
		collections := make([]string, len(a.cfg.Collections))
		for i, c := range a.cfg.Collections {
			collections[i] = c.CollectionName
		}
		decoder, err := NewDecoder(ctx, a.db, collections, token)
		if err != nil {
			return source.PeekResult{Err: err, Transient: true}
		}
		a.decoder = decoder
	}
	return a.decoder.Peek(ctx, limit)
}

func (a *Adapter) Ack(ctx context.Context, token types.OpaqueBytes) error {
	if a.decoder == nil {
		return nil
	}
	return a.decoder.Ack(ctx, token)
}

func (a *Adapter) CursorLoad(ctx context.Context) (types.OpaqueBytes, error) {
	return a.cursor.Load(ctx)
}

func (a *Adapter) CursorSave(ctx context.Context, token types.OpaqueBytes) error {
	return a.cursor.Save(ctx, token)
}

func (a *Adapter) Close(ctx context.Context) error {
	if a.decoder != nil {
		if err := a.decoder.Close(ctx); err != nil {
			return err
		}
	}
	return a.client.Disconnect(ctx)
}
