package clickhouse

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/myyrakle/clockpipe/internal/typemap"
	"github.com/myyrakle/clockpipe/internal/types"
)

// encodeRow renders one row as a single JSONEachRow line: schema.Columns
// in order, then _version and _sign. A column missing from row is filled
// with typemap.ZeroValue(col) — the same fill used for Delete's non-PK
// columns and for masked columns, so a decoder's absent-column convention
// (NULL/UNCHANGED-TOAST for Postgres, an unset field for Mongo) never
// produces a JSON key ClickHouse would reject.
func encodeRow(schema types.TableSchema, row types.Row, version uint64, sign int8) ([]byte, error) {
	obj := make(map[string]any, len(schema.Columns)+2)
	for _, col := range schema.Columns {
		v, ok := row[col.Name]
		if !ok || v.IsNull() {
			if ok && v.IsNull() {
				obj[col.Name] = nil
				continue
			}
			v = typemap.ZeroValue(col)
		}
		encoded, err := encodeColumnValue(col, v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		obj[col.Name] = encoded
	}
	obj["_version"] = version
	obj["_sign"] = sign

	return json.Marshal(obj)
}

// encodeColumnValue converts one tagged Value into the Go value
// json.Marshal should render for col's ClickHouse type. Document/Array
// values landing in a String column (an undeclared Mongo field, per
// §4.1) are serialized to canonical JSON text rather than emitted as a
// nested JSON structure.
func encodeColumnValue(col types.ColumnSpec, v types.Value) (any, error) {
	chBase := typemap.MapTypeUnwrapped(col.SourceType)
	if chBase == "String" && (v.Kind == types.ValueDocument || v.Kind == types.ValueArray) {
		plain, err := toPlainValue(v)
		if err != nil {
			return nil, err
		}
		text, err := json.Marshal(plain)
		if err != nil {
			return nil, err
		}
		return string(text), nil
	}
	return toPlainValue(v)
}

// toPlainValue recursively lowers a tagged Value to the closest
// encoding/json-marshalable Go value, self-describing via v.Kind rather
// than needing per-element column context.
func toPlainValue(v types.Value) (any, error) {
	switch v.Kind {
	case types.ValueNull:
		return nil, nil
	case types.ValueBool:
		return v.Bool, nil
	case types.ValueInt:
		return v.Int, nil
	case types.ValueUint:
		return v.Uint, nil
	case types.ValueFloat:
		return v.Float, nil
	case types.ValueDecimal:
		return v.Decimal, nil
	case types.ValueString:
		return v.Str, nil
	case types.ValueBytes:
		return v.Bytes, nil // encoding/json base64-encodes []byte
	case types.ValueTimestamp:
		return formatTimestamp(v.TimestampUS), nil
	case types.ValueArray:
		out := make([]any, len(v.Array))
		for i, el := range v.Array {
			plain, err := toPlainValue(el)
			if err != nil {
				return nil, err
			}
			out[i] = plain
		}
		return out, nil
	case types.ValueDocument:
		out := make(map[string]any, len(v.Document))
		for k, el := range v.Document {
			plain, err := toPlainValue(el)
			if err != nil {
				return nil, err
			}
			out[k] = plain
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unhandled value kind %d", v.Kind)
	}
}

// formatTimestamp renders microseconds-since-epoch as the textual form
// ClickHouse's JSON input format accepts for DateTime64(6).
func formatTimestamp(us int64) string {
	t := time.UnixMicro(us).UTC()
	return t.Format("2006-01-02 15:04:05.000000")
}
