package reconcile

import (
	"context"
	"testing"

	"github.com/myyrakle/clockpipe/internal/config"
	"github.com/myyrakle/clockpipe/internal/types"
)

type fakeWriter struct {
	ensureTableCalls int
	ensureCreated    bool
	ensureErr        error
	alterCalls       [][]types.ColumnSpec
	alterErr         error
}

func (f *fakeWriter) EnsureTable(ctx context.Context, database, table string, schema types.TableSchema, opts config.TableOptions) (bool, error) {
	f.ensureTableCalls++
	return f.ensureCreated, f.ensureErr
}

func (f *fakeWriter) AlterAddColumns(ctx context.Context, database, table string, cols []types.ColumnSpec) error {
	f.alterCalls = append(f.alterCalls, cols)
	return f.alterErr
}

func schemaWithColumns(names ...string) types.TableSchema {
	ref := types.SourceRef{Schema: "public", Name: "users"}
	cols := make([]types.ColumnSpec, len(names))
	for i, n := range names {
		cols[i] = types.ColumnSpec{Name: n, SourceType: types.SourceType{Kind: "postgres", Name: "text"}, Ordinal: i + 1}
	}
	return types.TableSchema{SourceRef: ref, Columns: cols, PrimaryKey: []string{"id"}}
}

func TestReconcileCreatesUnseenTable(t *testing.T) {
	fw := &fakeWriter{ensureCreated: true}
	r := New(fw, "analytics")

	created, err := r.Reconcile(context.Background(), "public_users", schemaWithColumns("id", "name"), config.TableOptions{})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !created {
		t.Fatal("expected created=true for a first-seen table")
	}
	if fw.ensureTableCalls != 1 {
		t.Fatalf("expected EnsureTable called once, got %d", fw.ensureTableCalls)
	}
}

func TestReconcileDiffsAndAltersOnSecondCall(t *testing.T) {
	fw := &fakeWriter{ensureCreated: true}
	r := New(fw, "analytics")

	if _, err := r.Reconcile(context.Background(), "public_users", schemaWithColumns("id", "name"), config.TableOptions{}); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}

	created, err := r.Reconcile(context.Background(), "public_users", schemaWithColumns("id", "name", "email"), config.TableOptions{})
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if created {
		t.Fatal("expected created=false on a diff pass")
	}
	if len(fw.alterCalls) != 1 || len(fw.alterCalls[0]) != 1 || fw.alterCalls[0][0].Name != "email" {
		t.Fatalf("expected one AlterAddColumns call adding email, got %+v", fw.alterCalls)
	}
}

func TestReconcileIgnoresRemovedColumns(t *testing.T) {
	fw := &fakeWriter{ensureCreated: true}
	r := New(fw, "analytics")

	if _, err := r.Reconcile(context.Background(), "public_users", schemaWithColumns("id", "name", "email"), config.TableOptions{}); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	if _, err := r.Reconcile(context.Background(), "public_users", schemaWithColumns("id", "name"), config.TableOptions{}); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if len(fw.alterCalls) != 0 {
		t.Fatalf("expected no ALTER for a removed column, got %+v", fw.alterCalls)
	}
}

func TestValidateMaskColumnsRejectsPrimaryKey(t *testing.T) {
	schema := schemaWithColumns("id", "name")
	if err := ValidateMaskColumns(schema, []string{"id"}); err == nil {
		t.Fatal("expected error when masking a primary-key column")
	}
	if err := ValidateMaskColumns(schema, []string{"name"}); err != nil {
		t.Fatalf("expected no error for a non-PK mask column, got %v", err)
	}
}

func TestApplyMaskZeroesConfiguredColumns(t *testing.T) {
	schema := schemaWithColumns("id", "name")
	row := types.Row{"id": types.StringValue("1"), "name": types.StringValue("alice")}

	out := ApplyMask(row, schema, []string{"name"})
	if out["name"].Str != "" {
		t.Fatalf("expected masked name to be zeroed, got %q", out["name"].Str)
	}
	if out["id"].Str != "1" {
		t.Fatalf("expected id to be untouched, got %q", out["id"].Str)
	}
	if row["name"].Str != "alice" {
		t.Fatal("expected ApplyMask not to mutate the input row")
	}
}

func TestApplyMaskNoopWithoutMaskColumns(t *testing.T) {
	schema := schemaWithColumns("id", "name")
	row := types.Row{"id": types.StringValue("1"), "name": types.StringValue("alice")}
	out := ApplyMask(row, schema, nil)
	if out["name"].Str != "alice" {
		t.Fatal("expected row unchanged when no mask columns configured")
	}
}
