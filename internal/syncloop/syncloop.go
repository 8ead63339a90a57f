// Package syncloop implements C8: the cooperative peek -> group -> write
// -> ack cycle described in, generalized over internal/source's
// Source capability interface so one loop drives either a Postgres or a
// MongoDB pairing.
package syncloop

import (
	"context"
	"fmt"
	"time"

	"github.com/myyrakle/clockpipe/internal/config"
	"github.com/myyrakle/clockpipe/internal/logging"
	"github.com/myyrakle/clockpipe/internal/metrics"
	"github.com/myyrakle/clockpipe/internal/reconcile"
	"github.com/myyrakle/clockpipe/internal/source"
	"github.com/myyrakle/clockpipe/internal/target/clickhouse"
	"github.com/myyrakle/clockpipe/internal/types"
)

// Tuning mirrors "Loop tuning" configuration block.
type Tuning struct {
	SleepWhenPeekFailed    time.Duration
	SleepWhenPeekIsEmpty   time.Duration
	SleepWhenWriteFailed   time.Duration
	SleepAfterSyncIteration time.Duration
	SleepAfterSyncWrite    time.Duration
	PeekChangesLimit       int64
}

// TableTarget binds one SourceRef to its ClickHouse table name, schema,
// and configured mask columns — the static routing table the loop
// consults while grouping a batch.
type TableTarget struct {
	TargetTable string
	Schema      types.TableSchema
	MaskColumns []string
	// Options is the merged table_options this table was reconciled with
	// at startup, kept so a mid-stream schema-drift reconcile (triggered
	// by a re-emitted Postgres Relation message, see Run) can call
	// Reconciler.Reconcile again with the same settings without the loop
	// needing to know how they were originally computed.
	Options config.TableOptions
}

// WriteCounter mirrors WriteCounter{insert_count,
// update_count, delete_count} (src/pipes/mod.rs), extended with a
// truncate tally since spec.md's ChangeOp adds a Truncate variant the
// original did not have.
type WriteCounter struct {
	InsertCount   int
	UpdateCount   int
	DeleteCount   int
	TruncateCount int
}

// Loop is one cooperative task per source/target pairing: all
// stages execute in strict sequence, no locks are needed, and no state is
// shared with any other pairing's Loop.
type Loop struct {
	Source      source.Source
	Writer      *clickhouse.Writer
	Reconciler  *reconcile.Reconciler
	Database    string
	Tables      map[string]TableTarget // keyed by "<schema>.<name>"
	Tuning      Tuning

	// clock supplies the version base (wall-clock nanoseconds); overridable
	// in tests. Run never uses a base below the versions it has already
	// handed out, so versions strictly increase across iterations.
	clock func() uint64
}

func New(src source.Source, writer *clickhouse.Writer, reconciler *reconcile.Reconciler, database string, tables map[string]TableTarget, tuning Tuning) *Loop {
	return &Loop{
		Source:     src,
		Writer:     writer,
		Reconciler: reconciler,
		Database:   database,
		Tables:     tables,
		Tuning:     tuning,
		clock:      func() uint64 { return uint64(time.Now().UnixNano()) },
	}
}

func tableKey(ref types.SourceRef) string { return ref.Schema + "." + ref.Name }

// Run drives the loop forever until ctx is cancelled. Cancellation drains
// the in-flight batch: the current group write is allowed to finish
// before Run returns, and the cursor is only saved/acked for batches that
// fully succeeded.
func (l *Loop) Run(ctx context.Context) error {
	var counters WriteCounter
	var nextVersion uint64

	for {
		if ctx.Err() != nil {
			return nil
		}

		iterStart := time.Now()

		peek := l.Source.Peek(ctx, l.Tuning.PeekChangesLimit)
		if peek.Err != nil && !peek.Transient {
			return fmt.Errorf("syncloop: fatal peek error: %w", peek.Err)
		}
		if peek.Transient {
			logging.Warn(ctx, "syncloop: peek failed: %v", peek.Err)
			if !sleepOrDone(ctx, l.Tuning.SleepWhenPeekFailed) {
				return nil
			}
			continue
		}

		for _, schema := range peek.SchemaChanges {
			key := tableKey(schema.SourceRef)
			target, ok := l.Tables[key]
			if !ok {
				continue
			}
			logging.Info(ctx, "syncloop: schema drift detected for %s, reconciling before next write", schema.SourceRef)
			if _, err := l.Reconciler.Reconcile(ctx, target.TargetTable, schema, target.Options); err != nil {
				return fmt.Errorf("syncloop: reconcile %s after schema drift: %w", schema.SourceRef, err)
			}
			target.Schema = schema
			l.Tables[key] = target
		}

		if peek.Empty || len(peek.Changes) == 0 {
			if !sleepOrDone(ctx, l.Tuning.SleepWhenPeekIsEmpty) {
				return nil
			}
			continue
		}

		groups := partition(peek.Changes)
		baseVersion := l.clock()
		if baseVersion < nextVersion {
			baseVersion = nextVersion
		}
		var offset uint64

		for _, g := range groups {
			target, ok := l.Tables[tableKey(g.sourceRef)]
			if !ok {
				logging.Warn(ctx, "syncloop: no configured target for %s, dropping %d change(s)", g.sourceRef, len(g.rows))
				continue
			}

			maskedRows := make([]types.Row, len(g.rows))
			for i, r := range g.rows {
				maskedRows[i] = reconcile.ApplyMask(r, target.Schema, target.MaskColumns)
			}

			versionBase := baseVersion + offset
			if err := l.writeGroupWithRetry(ctx, g, target, maskedRows, versionBase); err != nil {
				return err
			}
			offset += uint64(len(maskedRows))
			tallyGroup(&counters, g.op, len(maskedRows))

			if !sleepOrDone(ctx, l.Tuning.SleepAfterSyncWrite) {
				return nil
			}
		}
		nextVersion = baseVersion + offset

		if err := l.Source.CursorSave(ctx, peek.LastToken); err != nil {
			logging.Error(ctx, "syncloop: cursor save failed, will not ack: %v", err)
			continue
		}
		metrics.CursorSaves.Inc()

		if err := l.Source.Ack(ctx, peek.LastToken); err != nil {
			logging.Error(ctx, "syncloop: ack failed: %v", err)
		}

		metrics.SyncIterationDuration.Observe(time.Since(iterStart).Seconds())

		if !sleepOrDone(ctx, l.Tuning.SleepAfterSyncIteration) {
			return nil
		}
	}
}

func tallyGroup(c *WriteCounter, op types.OpKind, n int) {
	switch op {
	case types.OpInsert:
		c.InsertCount += n
	case types.OpUpdate:
		c.UpdateCount += n
	case types.OpDelete:
		c.DeleteCount += n
	case types.OpTruncate:
		c.TruncateCount += n
	}
}

// writeGroupWithRetry retries a single group's write forever on failure
//, honoring shutdown: a
// cancelled context stops the retry after the in-flight attempt
// completes rather than looping past it.
func (l *Loop) writeGroupWithRetry(ctx context.Context, g group, target TableTarget, rows []types.Row, versionBase uint64) error {
	// The attempt itself runs detached from cancellation so an in-flight
	// write finishes; only the retry sleep below observes ctx.
	writeCtx := context.WithoutCancel(ctx)
	for {
		var err error
		if g.op == types.OpTruncate {
			err = l.Writer.TruncateTable(writeCtx, l.Database, target.TargetTable)
		} else {
			err = l.Writer.InsertBatch(writeCtx, l.Database, target.TargetTable, target.Schema, g.op, rows, versionBase)
		}
		if err == nil {
			return nil
		}

		metrics.WriteFailures.WithLabelValues(target.TargetTable).Inc()
		logging.Error(ctx, "syncloop: write failed for %s: %v", g.sourceRef, err)

		if !sleepOrDone(ctx, l.Tuning.SleepWhenWriteFailed) {
			return fmt.Errorf("syncloop: shutdown while retrying write for %s: %w", g.sourceRef, err)
		}
	}
}

// sleepOrDone sleeps for d unless ctx is cancelled first; it reports
// whether the caller should continue looping (false means ctx is done).
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// group is one (source_ref, op) partition of a peeked batch.
type group struct {
	sourceRef types.SourceRef
	op        types.OpKind
	rows      []types.Row
}

// partition groups changes by (source_ref, op-family) preserving batch
// order per group, and orders the groups themselves by the first record's
// position in the batch.
func partition(changes []types.ChangeRecord) []group {
	index := make(map[string]int)
	var groups []group

	for _, c := range changes {
		key := fmt.Sprintf("%s|%d", c.SourceRef, c.Op.Kind)
		if i, ok := index[key]; ok {
			groups[i].rows = append(groups[i].rows, c.Row)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, group{
			sourceRef: c.SourceRef,
			op:        c.Op.Kind,
			rows:      []types.Row{c.Row},
		})
	}

	return groups
}
