// Package source defines the capability set every source adapter
// (Postgres, MongoDB) implements, generalizing // IPipe/IExporter traits (src/pipes/mod.rs, src/interface.rs) and the
// "Source capability set" sketched in so the sync loop (C8) is
// written once and driven by either variant.
package source

import (
	"context"

	"github.com/myyrakle/clockpipe/internal/types"
)

// Sink receives rows during a bulk copy (C7) without the copier needing
// to know whether the destination is ClickHouse or a test double.
type Sink interface {
	InsertBatch(ctx context.Context, ref types.SourceRef, schema types.TableSchema, rows []types.Row, versionBase uint64) error
}

// PeekResult is one bounded batch of changes read from the decoder,
// generalizing PeekResult{rows, advance_key} to
// spec.md's richer ChangeRecord/OpaqueBytes vocabulary.
type PeekResult struct {
	Changes   []types.ChangeRecord
	LastToken types.OpaqueBytes
	Empty     bool
	Transient bool
	Err       error

	// SchemaChanges carries, for sources that can detect it mid-stream
	// (Postgres, via a re-emitted Relation message), the updated
	// TableSchema for every source_ref whose column set changed since the
	// last time it was seen. The sync loop reconciles each of these
	// against the target before writing any batch that references it.
	// Sources that cannot detect drift out-of-band (MongoDB) leave this
	// nil.
	SchemaChanges []types.TableSchema
}

// Source is the capability set the sync loop (C8) is generic over. Each
// configured source/target pairing owns exactly one Source implementation
// and no state is shared across pairings.
type Source interface {
	// Introspect enumerates the configured tables/collections and returns
	// their TableSchema (C3). For Postgres the source-side prerequisites
	// (publication, replication slot) are created earlier, by postgres.Open.
	Introspect(ctx context.Context) ([]types.TableSchema, error)

	// BulkCopy performs the one-shot initial snapshot for one table (C7),
	// streaming rows into sink in batches.
	BulkCopy(ctx context.Context, schema types.TableSchema, sink Sink) error

	// Peek returns up to limit decoded changes (C4a/C4b), never
	// buffering more than limit in-flight.
	Peek(ctx context.Context, limit int64) PeekResult

	// Ack acknowledges token at the protocol level (e.g. Postgres standby
	// status update); a no-op for sources whose cursor is saved purely
	// through CursorSave.
	Ack(ctx context.Context, token types.OpaqueBytes) error

	// CursorLoad/CursorSave implement C5 for this source's configured
	// backend (source-managed for Postgres, file for MongoDB).
	CursorLoad(ctx context.Context) (types.OpaqueBytes, error)
	CursorSave(ctx context.Context, token types.OpaqueBytes) error

	// Close releases pooled connections held by this source.
	Close(ctx context.Context) error
}
