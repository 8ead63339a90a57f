package typemap

import (
	"testing"

	"github.com/myyrakle/clockpipe/internal/types"
)

func TestMapTypePostgresBasics(t *testing.T) {
	cases := []struct {
		name     string
		st       types.SourceType
		nullable bool
		want     string
	}{
		{"int4 not null", types.SourceType{Kind: "postgres", Name: "int4"}, false, "Int32"},
		{"int4 nullable", types.SourceType{Kind: "postgres", Name: "int4"}, true, "Nullable(Int32)"},
		{"text", types.SourceType{Kind: "postgres", Name: "text"}, false, "String"},
		{"bool", types.SourceType{Kind: "postgres", Name: "bool"}, false, "Bool"},
		{"timestamptz", types.SourceType{Kind: "postgres", Name: "timestamptz"}, false, "DateTime64(6)"},
		{"uuid", types.SourceType{Kind: "postgres", Name: "uuid"}, false, "UUID"},
		{"array of int4 stays non-nullable", types.SourceType{Kind: "postgres", Name: "_int4"}, true, "Array(Int32)"},
		{"unknown kind falls back to String", types.SourceType{Kind: "unknown", Name: "whatever"}, false, "String"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := MapType(c.st, c.nullable)
			if got != c.want {
				t.Fatalf("MapType(%+v, %v) = %q, want %q", c.st, c.nullable, got, c.want)
			}
		})
	}
}

func TestMapTypeNumericUsesPrecisionScale(t *testing.T) {
	st := types.SourceType{Kind: "postgres", Name: "numeric", Precision: 10, Scale: 2}
	got := MapType(st, false)
	want := "Decimal(10,2)"
	if got != want {
		t.Fatalf("MapType(numeric) = %q, want %q", got, want)
	}
}

func TestMapTypeNumericDefaultsWithoutPrecision(t *testing.T) {
	st := types.SourceType{Kind: "postgres", Name: "numeric"}
	got := MapType(st, false)
	want := "Decimal(38,9)"
	if got != want {
		t.Fatalf("MapType(numeric, no precision) = %q, want %q", got, want)
	}
}

func TestMapTypeMongoBasics(t *testing.T) {
	cases := []struct {
		name string
		st   types.SourceType
		want string
	}{
		{"int64", types.SourceType{Kind: "mongodb", Name: "int64"}, "Int64"},
		{"double", types.SourceType{Kind: "mongodb", Name: "double"}, "Float64"},
		{"objectId", types.SourceType{Kind: "mongodb", Name: "objectId"}, "String"},
		{"array undeclared shape", types.SourceType{Kind: "mongodb", Name: "array"}, "String"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := MapType(c.st, false)
			if got != c.want {
				t.Fatalf("MapType(%+v) = %q, want %q", c.st, got, c.want)
			}
		})
	}
}

func TestZeroValuePostgresNumeric(t *testing.T) {
	col := types.ColumnSpec{SourceType: types.SourceType{Kind: "postgres", Name: "numeric"}}
	v := ZeroValue(col)
	if v.Kind != types.ValueDecimal || v.Decimal != "0" {
		t.Fatalf("ZeroValue(numeric) = %+v, want Decimal(0)", v)
	}
}

func TestZeroValuePostgresArray(t *testing.T) {
	col := types.ColumnSpec{SourceType: types.SourceType{Kind: "postgres", Name: "_int4"}}
	v := ZeroValue(col)
	if v.Kind != types.ValueArray {
		t.Fatalf("ZeroValue(_int4) = %+v, want an array value", v)
	}
}

func TestZeroValueMongoDouble(t *testing.T) {
	col := types.ColumnSpec{SourceType: types.SourceType{Kind: "mongodb", Name: "double"}}
	v := ZeroValue(col)
	if v.Kind != types.ValueFloat || v.Float != 0 {
		t.Fatalf("ZeroValue(mongodb double) = %+v, want Float(0)", v)
	}
}

func TestZeroValueDefaultsToEmptyString(t *testing.T) {
	col := types.ColumnSpec{SourceType: types.SourceType{Kind: "postgres", Name: "uuid"}}
	v := ZeroValue(col)
	if v.Kind != types.ValueString || v.Str != "" {
		t.Fatalf("ZeroValue(uuid) = %+v, want empty String", v)
	}
}
