// Package types holds the data model shared across every clockpipe
// component: source-agnostic schema descriptions, change records, and the
// tagged value variant that carries row data between a decoder and the
// ClickHouse writer.
package types

import "time"

// SourceRef identifies a source table or collection. For relational
// sources Schema is the schema name and Name the table name; for document
// sources Schema is the database name and Name the collection name.
type SourceRef struct {
	Schema string
	Name   string
}

// TargetTableName is the ClickHouse table this SourceRef maps to.
func (r SourceRef) TargetTableName(sep string) string {
	if r.Schema == "" {
		return r.Name
	}
	return r.Schema + sep + r.Name
}

func (r SourceRef) String() string {
	return r.Schema + "." + r.Name
}

// ColumnSpec describes one source column. SourceType is a tagged variant
// across the union of source type systems and is the only value that
// crosses adapter boundaries before being mapped by internal/typemap.
type ColumnSpec struct {
	Name         string
	SourceType   SourceType
	Nullable     bool
	IsPrimaryKey bool
	Ordinal      int
}

// SourceType tags a column's origin type system so the type mapper can
// dispatch without the caller needing to know which source produced it.
type SourceType struct {
	// Kind is one of "postgres" or "mongodb".
	Kind string
	// Name is the native type name, e.g. "int4", "_varchar", "numeric".
	Name string
	// Precision/Scale apply to numeric types; zero when not applicable.
	Precision int
	Scale     int
}

// TableSchema is the full column layout of one source table/collection.
// Invariant: PrimaryKey is non-empty and every name in it appears in
// Columns.
type TableSchema struct {
	SourceRef  SourceRef
	Columns    []ColumnSpec
	PrimaryKey []string
}

// ColumnByName returns the column with the given name, or false if absent.
func (t TableSchema) ColumnByName(name string) (ColumnSpec, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// OpKind tags the variant held by ChangeOp.
type OpKind int

const (
	OpInsert OpKind = iota
	OpUpdate
	OpDelete
	OpTruncate
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpTruncate:
		return "truncate"
	default:
		return "unknown"
	}
}

// ChangeOp is the tagged variant { Insert, Update{before?}, Delete,
// Truncate } described in Before is only meaningful when Kind ==
// OpUpdate, and may be nil when the source publishes only the new image.
type ChangeOp struct {
	Kind   OpKind
	Before Row
}

// Row is a mapping column_name -> Value. Non-PK columns may be absent when
// the source emits partial images (e.g. Postgres TOAST-unchanged columns).
type Row map[string]Value

// Clone returns a shallow copy of the row, safe to mutate independently.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ChangeRecord is one normalized mutation flowing from a decoder to the
// sync loop. Invariant: every primary-key column of the corresponding
// TableSchema is present in Row.
type ChangeRecord struct {
	SourceRef  SourceRef
	Op         ChangeOp
	Row        Row
	LSNOrToken OpaqueBytes
	CommitTime *time.Time
}

// OpaqueBytes is a source cursor position: a WAL LSN serialization or a
// Mongo resume-token document, never interpreted by the sync loop itself.
type OpaqueBytes []byte

// ValueKind tags the variant held by Value.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueBool
	ValueInt
	ValueUint
	ValueFloat
	ValueDecimal
	ValueString
	ValueBytes
	ValueArray
	ValueDocument
	ValueTimestamp
)

// Value is the dynamic tagged variant carried between decoders and the
// writer: { Null, Bool, Int(i64), UInt(u64), Float(f64),
// Decimal(string), String(bytes), Bytes(bytes), Array(list),
// Document(map), Timestamp(micros) }. Exactly one of the typed fields is
// meaningful, selected by Kind.
type Value struct {
	Kind       ValueKind
	Bool       bool
	Int        int64
	Uint       uint64
	Float      float64
	Decimal    string
	Str        string
	Bytes      []byte
	Array      []Value
	Document   map[string]Value
	TimestampUS int64
}

func NullValue() Value                  { return Value{Kind: ValueNull} }
func BoolValue(b bool) Value            { return Value{Kind: ValueBool, Bool: b} }
func IntValue(v int64) Value            { return Value{Kind: ValueInt, Int: v} }
func UintValue(v uint64) Value           { return Value{Kind: ValueUint, Uint: v} }
func FloatValue(v float64) Value         { return Value{Kind: ValueFloat, Float: v} }
func DecimalValue(s string) Value        { return Value{Kind: ValueDecimal, Decimal: s} }
func StringValue(s string) Value         { return Value{Kind: ValueString, Str: s} }
func BytesValue(b []byte) Value          { return Value{Kind: ValueBytes, Bytes: b} }
func ArrayValue(v []Value) Value         { return Value{Kind: ValueArray, Array: v} }
func DocumentValue(m map[string]Value) Value { return Value{Kind: ValueDocument, Document: m} }
func TimestampValue(us int64) Value      { return Value{Kind: ValueTimestamp, TimestampUS: us} }

// IsNull reports whether the value is the Null variant.
func (v Value) IsNull() bool { return v.Kind == ValueNull }

// Cursor is the opaque replication position persisted across runs.
type Cursor struct {
	SourceRef SourceRef
	Token     OpaqueBytes
}
