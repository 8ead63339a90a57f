package ingestion

import (
	"testing"

	"github.com/myyrakle/clockpipe/internal/types"
)

func TestInferSchemaAddsNewColumnsFromFirstRow(t *testing.T) {
	row := types.Row{"id": types.IntValue(1), "name": types.StringValue("alice")}
	schema := InferSchema(testRef, types.TableSchema{}, "id", row)

	if len(schema.Columns) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(schema.Columns))
	}
	col, ok := schema.ColumnByName("id")
	if !ok || !col.IsPrimaryKey {
		t.Fatalf("expected id to be inferred as the primary key, got %+v ok=%v", col, ok)
	}
	nameCol, ok := schema.ColumnByName("name")
	if !ok || !nameCol.Nullable {
		t.Fatalf("expected name to be nullable, got %+v ok=%v", nameCol, ok)
	}
}

func TestInferSchemaIsAdditiveAcrossCalls(t *testing.T) {
	first := InferSchema(testRef, types.TableSchema{}, "id", types.Row{"id": types.IntValue(1)})
	second := InferSchema(testRef, first, "id", types.Row{"id": types.IntValue(2), "email": types.StringValue("a@b.com")})

	if len(second.Columns) != 2 {
		t.Fatalf("expected schema to grow to 2 columns, got %d", len(second.Columns))
	}
	if len(first.Columns) != 1 {
		t.Fatal("expected InferSchema not to mutate the previous schema's column slice")
	}
}

func TestInferSchemaAssignsIncreasingOrdinals(t *testing.T) {
	schema := InferSchema(testRef, types.TableSchema{}, "id", types.Row{
		"id": types.IntValue(1), "email": types.StringValue("a"), "age": types.IntValue(30),
	})
	seen := make(map[int]bool)
	for _, c := range schema.Columns {
		if seen[c.Ordinal] {
			t.Fatalf("duplicate ordinal %d", c.Ordinal)
		}
		seen[c.Ordinal] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct ordinals, got %d", len(seen))
	}
}

func TestInferTypeNameMapsValueKinds(t *testing.T) {
	cases := []struct {
		v    types.Value
		want string
	}{
		{types.IntValue(1), "int64"},
		{types.FloatValue(1.5), "double"},
		{types.BoolValue(true), "bool"},
		{types.ArrayValue(nil), "array"},
		{types.DocumentValue(nil), "object"},
		{types.StringValue("x"), "string"},
	}
	for _, c := range cases {
		if got := inferTypeName(c.v); got != c.want {
			t.Fatalf("inferTypeName(%+v) = %q, want %q", c.v, got, c.want)
		}
	}
}
