// Package typemap implements C1: a pure function translating source
// column types into ClickHouse column type strings.
//
// The Postgres branch is grounded on the exhaustive match in
// adapter/postgres/mapper.rs; this version adds
// Nullable wrapping, uuid/bytea, and Decimal(p,s) precision/scale that the
// original mapper did not yet implement.
package typemap

import (
	"fmt"
	"strings"

	"github.com/myyrakle/clockpipe/internal/types"
)

// MapType translates a source type into its ClickHouse counterpart.
// nullable wraps the result in Nullable(T); Array types are never wrapped.
// Callers pass nullable=false for primary-key columns, and the Postgres
// introspector rejects a nullable primary-key column
// (postgres.ErrNullablePrimaryKey) before this function is reached.
func MapType(st types.SourceType, nullable bool) string {
	var base string
	switch st.Kind {
	case "postgres":
		base = mapPostgres(st)
	case "mongodb":
		base = mapMongo(st)
	default:
		base = "String"
	}

	if nullable && !strings.HasPrefix(base, "Array(") {
		return fmt.Sprintf("Nullable(%s)", base)
	}
	return base
}

// MapTypeUnwrapped returns the base ClickHouse type without Nullable(...)
// wrapping, used by the writer to decide whether a Document/Array value is
// landing in a String column regardless of nullability.
func MapTypeUnwrapped(st types.SourceType) string {
	switch st.Kind {
	case "postgres":
		return mapPostgres(st)
	case "mongodb":
		return mapMongo(st)
	default:
		return "String"
	}
}

func mapPostgres(st types.SourceType) string {
	switch st.Name {
	case "int2":
		return "Int16"
	case "_int2":
		return "Array(Int16)"
	case "int4", "int":
		return "Int32"
	case "_int4":
		return "Array(Int32)"
	case "int8", "bigint":
		return "Int64"
	case "_int8":
		return "Array(Int64)"
	case "float4":
		return "Float32"
	case "_float4":
		return "Array(Float32)"
	case "float8":
		return "Float64"
	case "_float8":
		return "Array(Float64)"
	case "numeric":
		if st.Precision > 0 {
			scale := st.Scale
			return fmt.Sprintf("Decimal(%d,%d)", st.Precision, scale)
		}
		return "Decimal(38,9)"
	case "_numeric":
		return "Array(Decimal(38,9))"
	case "varchar", "text", "bpchar":
		return "String"
	case "json", "jsonb":
		return "String"
	case "_varchar", "_text":
		return "Array(String)"
	case "bool", "boolean":
		return "Bool"
	case "_bool":
		return "Array(Bool)"
	case "timestamp", "timestamptz":
		return "DateTime64(6)"
	case "date":
		return "Date"
	case "uuid":
		return "UUID"
	case "bytea":
		return "String"
	default:
		return "String"
	}
}

// ZeroValue returns the type's zero value as a Value, used both by
// internal/reconcile for masked columns and by internal/target/clickhouse
// for the non-PK columns of a Delete row and for columns a source
// update/copy left absent (Postgres UNCHANGED-TOAST, missing Mongo
// fields).
func ZeroValue(col types.ColumnSpec) types.Value {
	switch col.SourceType.Kind {
	case "postgres":
		switch {
		case isIntegerType(col.SourceType.Name):
			return types.IntValue(0)
		case isFloatType(col.SourceType.Name):
			return types.FloatValue(0)
		case col.SourceType.Name == "bool" || col.SourceType.Name == "boolean":
			return types.BoolValue(false)
		case col.SourceType.Name == "numeric":
			return types.DecimalValue("0")
		case strings.HasPrefix(col.SourceType.Name, "_"):
			return types.ArrayValue(nil)
		default:
			return types.StringValue("")
		}
	case "mongodb":
		switch col.SourceType.Name {
		case "int32", "int64", "long":
			return types.IntValue(0)
		case "double":
			return types.FloatValue(0)
		case "bool", "boolean":
			return types.BoolValue(false)
		case "array":
			return types.ArrayValue(nil)
		default:
			return types.StringValue("")
		}
	default:
		return types.StringValue("")
	}
}

func isIntegerType(name string) bool {
	switch name {
	case "int2", "int4", "int", "int8", "bigint":
		return true
	default:
		return false
	}
}

func isFloatType(name string) bool {
	switch name {
	case "float4", "float8":
		return true
	default:
		return false
	}
}

// mapMongo maps a document field's declared schema type when one is
// provided; fields without a declared schema default to String. Document
// and array values in such a column are written as encoding/json text,
// not as MongoDB extended JSON; scalar values are written as they are.
func mapMongo(st types.SourceType) string {
	switch st.Name {
	case "int32":
		return "Int32"
	case "int64", "long":
		return "Int64"
	case "double":
		return "Float64"
	case "bool", "boolean":
		return "Bool"
	case "date", "timestamp":
		return "DateTime64(6)"
	case "objectId", "string":
		return "String"
	case "array":
		return "String"
	case "object", "document":
		return "String"
	default:
		return "String"
	}
}
