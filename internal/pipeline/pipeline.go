// Package pipeline wires one configured source/target pairing together:
// introspect, reconcile, bulk-copy newly created tables, then hand off
// to the sync loop — the initialize()/sync() split // pipe.rs Pipe::run_pipe models, generalized from "Postgres exporter
// only" to either source variant via internal/source.Source.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/myyrakle/clockpipe/internal/config"
	"github.com/myyrakle/clockpipe/internal/logging"
	"github.com/myyrakle/clockpipe/internal/reconcile"
	"github.com/myyrakle/clockpipe/internal/source"
	"github.com/myyrakle/clockpipe/internal/source/mongodb"
	"github.com/myyrakle/clockpipe/internal/source/postgres"
	"github.com/myyrakle/clockpipe/internal/syncloop"
	"github.com/myyrakle/clockpipe/internal/target/clickhouse"
	"github.com/myyrakle/clockpipe/internal/types"
)

// tableRouting is the per-table configuration the orchestration pass
// needs beyond what TableSchema already carries: its target table name,
// mask columns, skip_copy flag, and merged table_options.
type tableRouting struct {
	targetTable string
	maskColumns []string
	skipCopy    bool
	options     config.TableOptions
}

// Run opens the configured source, reconciles every configured table
// against the target, performs the initial bulk copy for tables it just
// created, and then either runs the sync loop forever or, when
// disable_sync_loop is set, returns immediately.
func Run(ctx context.Context, cfg *config.Config) error {
	writer := clickhouse.NewWriter(cfg.Target.ClickHouse.Connection)
	if err := writer.Ping(ctx); err != nil {
		return fmt.Errorf("pipeline: ping clickhouse: %w", err)
	}

	src, routing, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer src.Close(ctx)

	schemas, err := src.Introspect(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: introspect source: %w", err)
	}

	database := cfg.Target.ClickHouse.Connection.Database
	reconciler := reconcile.New(writer, database)

	tables := make(map[string]syncloop.TableTarget, len(schemas))
	for _, schema := range schemas {
		route, ok := routing[schema.SourceRef.String()]
		if !ok {
			return fmt.Errorf("pipeline: no routing configured for %s", schema.SourceRef)
		}

		if err := reconcile.ValidateMaskColumns(schema, route.maskColumns); err != nil {
			return err
		}

		created, err := reconciler.Reconcile(ctx, route.targetTable, schema, route.options)
		if err != nil {
			return fmt.Errorf("pipeline: reconcile %s: %w", schema.SourceRef, err)
		}

		tables[tableKey(schema.SourceRef)] = syncloop.TableTarget{
			TargetTable: route.targetTable,
			Schema:      schema,
			MaskColumns: route.maskColumns,
			Options:     route.options,
		}

		if created && !route.skipCopy {
			logging.Info(ctx, "pipeline: bulk copying %s into %s.%s", schema.SourceRef, database, route.targetTable)
			sink := &bulkCopySink{writer: writer, database: database, table: route.targetTable, maskColumns: route.maskColumns, schema: schema}
			if err := src.BulkCopy(ctx, schema, sink); err != nil {
				return fmt.Errorf("pipeline: bulk copy %s: %w", schema.SourceRef, err)
			}
		} else if route.skipCopy {
			logging.Info(ctx, "pipeline: skip_copy set for %s, not bulk copying", schema.SourceRef)
		}
	}

	if cfg.Target.ClickHouse.DisableSyncLoop {
		logging.Info(ctx, "pipeline: disable_sync_loop set, exiting after bulk copy")
		return nil
	}

	loop := syncloop.New(src, writer, reconciler, database, tables, tuningFromConfig(cfg))
	return loop.Run(ctx)
}

func tableKey(ref types.SourceRef) string { return ref.Schema + "." + ref.Name }

// bulkCopySink adapts clickhouse.Writer's insert_batch signature (which
// takes an explicit op/table pair) to the source.Sink interface C7's
// bulk copiers write through, applying the same mask at copy time that
// the sync loop applies to CDC rows.
type bulkCopySink struct {
	writer      *clickhouse.Writer
	database    string
	table       string
	maskColumns []string
	schema      types.TableSchema
}

func (s *bulkCopySink) InsertBatch(ctx context.Context, ref types.SourceRef, schema types.TableSchema, rows []types.Row, versionBase uint64) error {
	masked := make([]types.Row, len(rows))
	for i, r := range rows {
		masked[i] = reconcile.ApplyMask(r, schema, s.maskColumns)
	}
	return s.writer.InsertBatch(ctx, s.database, s.table, schema, types.OpInsert, masked, versionBase)
}

// openSource builds the configured source adapter along with its
// per-table routing information ( target-table naming: "
// <source_schema>_<source_table> (PostgreSQL) or <collection_name>
// (MongoDB)").
func openSource(ctx context.Context, cfg *config.Config) (source.Source, map[string]tableRouting, error) {
	switch cfg.Source.SourceType {
	case "postgres":
		src, err := postgres.Open(ctx, *cfg.Source.Postgres, cfg.CopyBatchSize)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: open postgres source: %w", err)
		}
		routing := make(map[string]tableRouting, len(cfg.Source.Postgres.Tables))
		for _, t := range cfg.Source.Postgres.Tables {
			ref := types.SourceRef{Schema: t.SchemaName, Name: t.TableName}
			routing[ref.String()] = tableRouting{
				targetTable: t.SchemaName + "_" + t.TableName,
				maskColumns: t.MaskColumns,
				skipCopy:    t.SkipCopy,
				options:     config.MergeTableOptions(cfg.Target.ClickHouse.TableOptions, t.TableOptions),
			}
		}
		return src, routing, nil

	case "mongodb":
		src, err := mongodb.Open(ctx, *cfg.Source.MongoDB)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: open mongodb source: %w", err)
		}
		routing := make(map[string]tableRouting, len(cfg.Source.MongoDB.Collections))
		for _, c := range cfg.Source.MongoDB.Collections {
			ref := types.SourceRef{Schema: cfg.Source.MongoDB.Connection.Database, Name: c.CollectionName}
			routing[ref.String()] = tableRouting{
				targetTable: c.CollectionName,
				maskColumns: c.MaskFields,
				skipCopy:    c.SkipCopy,
				options:     config.MergeTableOptions(cfg.Target.ClickHouse.TableOptions, nil),
			}
		}
		return src, routing, nil

	default:
		return nil, nil, fmt.Errorf("pipeline: unknown source_type %q", cfg.Source.SourceType)
	}
}

func tuningFromConfig(cfg *config.Config) syncloop.Tuning {
	return syncloop.Tuning{
		SleepWhenPeekFailed:     msToDuration(cfg.SleepMillisWhenPeekFailed),
		SleepWhenPeekIsEmpty:    msToDuration(cfg.SleepMillisWhenPeekIsEmpty),
		SleepWhenWriteFailed:    msToDuration(cfg.SleepMillisWhenWriteFailed),
		SleepAfterSyncIteration: msToDuration(cfg.SleepMillisAfterSyncIteration),
		SleepAfterSyncWrite:     msToDuration(cfg.SleepMillisAfterSyncWrite),
		PeekChangesLimit:        cfg.PeekChangesLimit,
	}
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
