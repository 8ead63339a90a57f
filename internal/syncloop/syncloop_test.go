package syncloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/myyrakle/clockpipe/internal/config"
	"github.com/myyrakle/clockpipe/internal/reconcile"
	"github.com/myyrakle/clockpipe/internal/source"
	"github.com/myyrakle/clockpipe/internal/types"
)

func rec(ref types.SourceRef, op types.OpKind, id int) types.ChangeRecord {
	return types.ChangeRecord{
		SourceRef: ref,
		Op:        types.ChangeOp{Kind: op},
		Row:       types.Row{"id": types.IntValue(int64(id))},
	}
}

func TestPartitionGroupsBySourceRefAndOp(t *testing.T) {
	users := types.SourceRef{Schema: "public", Name: "users"}
	orders := types.SourceRef{Schema: "public", Name: "orders"}

	changes := []types.ChangeRecord{
		rec(users, types.OpInsert, 1),
		rec(orders, types.OpInsert, 10),
		rec(users, types.OpInsert, 2),
		rec(users, types.OpDelete, 3),
	}

	groups := partition(changes)
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}

	if groups[0].sourceRef != users || groups[0].op != types.OpInsert || len(groups[0].rows) != 2 {
		t.Fatalf("expected first group to be users/insert with 2 rows, got %+v", groups[0])
	}
	if groups[1].sourceRef != orders || groups[1].op != types.OpInsert || len(groups[1].rows) != 1 {
		t.Fatalf("expected second group to be orders/insert with 1 row, got %+v", groups[1])
	}
	if groups[2].sourceRef != users || groups[2].op != types.OpDelete || len(groups[2].rows) != 1 {
		t.Fatalf("expected third group to be users/delete with 1 row, got %+v", groups[2])
	}
}

func TestPartitionPreservesRowOrderWithinGroup(t *testing.T) {
	ref := types.SourceRef{Schema: "public", Name: "users"}
	changes := []types.ChangeRecord{
		rec(ref, types.OpInsert, 1),
		rec(ref, types.OpInsert, 2),
		rec(ref, types.OpInsert, 3),
	}

	groups := partition(changes)
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	for i, want := range []int64{1, 2, 3} {
		got := groups[0].rows[i]["id"].Int
		if got != want {
			t.Fatalf("row %d: expected id=%d, got %d", i, want, got)
		}
	}
}

func TestTallyGroupCountsByOp(t *testing.T) {
	var c WriteCounter
	tallyGroup(&c, types.OpInsert, 3)
	tallyGroup(&c, types.OpUpdate, 2)
	tallyGroup(&c, types.OpDelete, 1)
	tallyGroup(&c, types.OpTruncate, 1)

	if c.InsertCount != 3 || c.UpdateCount != 2 || c.DeleteCount != 1 || c.TruncateCount != 1 {
		t.Fatalf("unexpected counter state: %+v", c)
	}
}

func TestSleepOrDoneReturnsImmediatelyForZeroDuration(t *testing.T) {
	if !sleepOrDone(context.Background(), 0) {
		t.Fatal("expected true for a live context with zero duration")
	}
}

// fakeSource is a minimal source.Source whose Peek is scripted by the
// test; every other method is a no-op since these tests never reach the
// write path.
type fakeSource struct {
	peekResults []source.PeekResult
	peekCalls   int
}

func (f *fakeSource) Introspect(ctx context.Context) ([]types.TableSchema, error) { return nil, nil }
func (f *fakeSource) BulkCopy(ctx context.Context, schema types.TableSchema, sink source.Sink) error {
	return nil
}
func (f *fakeSource) Peek(ctx context.Context, limit int64) source.PeekResult {
	i := f.peekCalls
	if i >= len(f.peekResults) {
		i = len(f.peekResults) - 1
	}
	f.peekCalls++
	return f.peekResults[i]
}
func (f *fakeSource) Ack(ctx context.Context, token types.OpaqueBytes) error { return nil }
func (f *fakeSource) CursorLoad(ctx context.Context) (types.OpaqueBytes, error) {
	return nil, nil
}
func (f *fakeSource) CursorSave(ctx context.Context, token types.OpaqueBytes) error { return nil }
func (f *fakeSource) Close(ctx context.Context) error                              { return nil }

// fakeTargetWriter satisfies reconcile.TargetWriter so a Reconciler can be
// exercised without a real ClickHouse connection.
type fakeTargetWriter struct {
	alterCalls int
}

func (f *fakeTargetWriter) EnsureTable(ctx context.Context, database, table string, schema types.TableSchema, opts config.TableOptions) (bool, error) {
	return true, nil
}
func (f *fakeTargetWriter) AlterAddColumns(ctx context.Context, database, table string, cols []types.ColumnSpec) error {
	f.alterCalls++
	return nil
}

var errBoom = errors.New("boom")

func TestRunReturnsFatalErrorWithoutRetrying(t *testing.T) {
	src := &fakeSource{peekResults: []source.PeekResult{
		{Err: errBoom, Transient: false},
	}}
	loop := New(src, nil, reconcile.New(&fakeTargetWriter{}, "analytics"), "analytics", map[string]TableTarget{}, Tuning{})

	err := loop.Run(context.Background())
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected Run to propagate the fatal peek error, got %v", err)
	}
	if src.peekCalls != 1 {
		t.Fatalf("expected exactly one Peek call for a fatal error, got %d", src.peekCalls)
	}
}

func TestRunRetriesTransientPeekErrorUntilCancelled(t *testing.T) {
	src := &fakeSource{peekResults: []source.PeekResult{
		{Err: errBoom, Transient: true},
	}}
	loop := New(src, nil, reconcile.New(&fakeTargetWriter{}, "analytics"), "analytics", map[string]TableTarget{}, Tuning{SleepWhenPeekFailed: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := loop.Run(ctx); err != nil {
		t.Fatalf("expected Run to return nil on cancellation, got %v", err)
	}
	if src.peekCalls < 2 {
		t.Fatalf("expected a transient error to be retried at least once, got %d calls", src.peekCalls)
	}
}

func TestRunReconcilesSchemaDriftBeforeEmptyReturn(t *testing.T) {
	ref := types.SourceRef{Schema: "public", Name: "users"}
	drifted := types.TableSchema{
		SourceRef:  ref,
		Columns:    []types.ColumnSpec{{Name: "id", Ordinal: 1}, {Name: "age", Ordinal: 2}},
		PrimaryKey: []string{"id"},
	}
	src := &fakeSource{peekResults: []source.PeekResult{
		{Empty: true, SchemaChanges: []types.TableSchema{drifted}},
	}}
	writer := &fakeTargetWriter{}
	r := reconcile.New(writer, "analytics")
	initialSchema := types.TableSchema{SourceRef: ref, Columns: []types.ColumnSpec{{Name: "id", Ordinal: 1}}, PrimaryKey: []string{"id"}}
	// Seed the reconciler as pipeline.Run's startup pass would, so the
	// mid-stream drift below hits the diff-and-alter branch rather than
	// being treated as a first-seen table.
	if _, err := r.Reconcile(context.Background(), "public_users", initialSchema, config.TableOptions{}); err != nil {
		t.Fatalf("seed Reconcile: %v", err)
	}
	writer.alterCalls = 0

	tables := map[string]TableTarget{
		"public.users": {
			TargetTable: "public_users",
			Schema:      initialSchema,
		},
	}
	loop := New(src, nil, r, "analytics", tables, Tuning{SleepWhenPeekIsEmpty: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := loop.Run(ctx); err != nil {
		t.Fatalf("expected Run to return nil on cancellation, got %v", err)
	}
	if writer.alterCalls == 0 {
		t.Fatal("expected schema drift to trigger AlterAddColumns via the reconciler")
	}
	if got := loop.Tables["public.users"].Schema; len(got.Columns) != 2 {
		t.Fatalf("expected the loop's table target schema to be updated to the drifted schema, got %+v", got)
	}
}
