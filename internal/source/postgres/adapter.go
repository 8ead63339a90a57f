// Adapter ties the Postgres-specific introspector, decoder, cursor, and
// bulk copier together behind the source.Source capability interface
//, so internal/syncloop can drive a Postgres pairing without
// knowing it isn't Mongo.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/myyrakle/clockpipe/internal/config"
	"github.com/myyrakle/clockpipe/internal/source"
	"github.com/myyrakle/clockpipe/internal/types"
)

type Adapter struct {
	cfg           config.PostgresConfig
	copyBatchSize int64
	conn          *pgx.Conn
	replConn      *pgconn.PgConn
	decoder       *Decoder
	cursor        *SourceCursor
	intro         *Introspector
}

// Open dials both the regular and replication connections, ensures the
// publication/slot prerequisites exist, and returns an Adapter ready to
// Introspect/BulkCopy/Peek. copyBatchSize is the operator-configured
// copy_batch_size (top-level config.Config.CopyBatchSize, already
// defaulted by config.Load) and is used only by BulkCopy.
func Open(ctx context.Context, cfg config.PostgresConfig, copyBatchSize int64) (*Adapter, error) {
	conn, err := dial(ctx, cfg.Connection)
	if err != nil {
		return nil, err
	}

	intro := NewIntrospector(conn, cfg)
	consistentPoint, err := intro.EnsurePrerequisites(ctx, nil)
	if err != nil {
		conn.Close(ctx)
		return nil, err
	}

	replConn, err := dialReplication(ctx, cfg.Connection)
	if err != nil {
		conn.Close(ctx)
		return nil, err
	}

	refOf := func(namespace, name string) types.SourceRef {
		return types.SourceRef{Schema: namespace, Name: name}
	}

	if err := pglogrepl.StartReplication(ctx, replConn, cfg.ReplicationSlotName, consistentPoint, pglogrepl.StartReplicationOptions{
		PluginArgs: []string{
			"proto_version '1'",
			fmt.Sprintf("publication_names '%s'", cfg.PublicationName),
		},
	}); err != nil {
		conn.Close(ctx)
		replConn.Close(ctx)
		return nil, fmt.Errorf("postgres: start replication: %w", err)
	}

	decoder := NewDecoder(conn, replConn, cfg.ReplicationSlotName, consistentPoint, refOf)
	cursor := NewSourceCursor(conn, cfg.ReplicationSlotName, decoder)

	if copyBatchSize == 0 {
		copyBatchSize = config.DefaultCopyBatchSizePG
	}

	return &Adapter{
		cfg:           cfg,
		copyBatchSize: copyBatchSize,
		conn:          conn,
		replConn:      replConn,
		decoder:       decoder,
		cursor:        cursor,
		intro:         intro,
	}, nil
}

func (a *Adapter) Introspect(ctx context.Context) ([]types.TableSchema, error) {
	return a.intro.IntrospectAll(ctx)
}

func (a *Adapter) BulkCopy(ctx context.Context, schema types.TableSchema, sink source.Sink) error {
	return BulkCopy(ctx, a.conn, schema, a.copyBatchSize, sink)
}

func (a *Adapter) Peek(ctx context.Context, limit int64) source.PeekResult {
	return a.decoder.Peek(ctx, limit)
}

func (a *Adapter) Ack(ctx context.Context, token types.OpaqueBytes) error {
	return a.decoder.Ack(ctx, token)
}

func (a *Adapter) CursorLoad(ctx context.Context) (types.OpaqueBytes, error) {
	return a.cursor.Load(ctx)
}

func (a *Adapter) CursorSave(ctx context.Context, token types.OpaqueBytes) error {
	return a.cursor.Save(ctx, token)
}

func (a *Adapter) Close(ctx context.Context) error {
	var firstErr error
	if err := a.replConn.Close(ctx); err != nil {
		firstErr = err
	}
	if err := a.conn.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
