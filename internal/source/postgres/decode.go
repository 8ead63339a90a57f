// Pure translation from pgoutput wire messages to clockpipe's normalized
// ChangeRecord, kept separate from stream.go's network I/O loop the same
// way the teacher's translateEnvelopeToRow is a pure function called from
// RunCDC's I/O loop (internal/ingestion/cdc.go).
package postgres

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pglogrepl"

	"github.com/myyrakle/clockpipe/internal/types"
)

// DecodeTuple turns one pgoutput TupleData into a Row, using rel's column
// list to assign names. Per: a 'n' (NULL) or 'u'
// (UNCHANGED-TOAST) column is omitted from the row entirely ("absent");
// only 't' (text) columns are parsed and included.
func DecodeTuple(rel *pglogrepl.RelationMessage, tuple *pglogrepl.TupleData) (types.Row, error) {
	if tuple == nil {
		return types.Row{}, nil
	}
	row := make(types.Row, len(tuple.Columns))
	for i, col := range tuple.Columns {
		if i >= len(rel.Columns) {
			return nil, fmt.Errorf("postgres: tuple has more columns than relation %s.%s", rel.Namespace, rel.RelationName)
		}
		relCol := rel.Columns[i]

		switch col.DataType {
		case 'n', 'u':
			continue
		case 't':
			typeName, known := typeNameForOID(relCol.DataType)
			if !known {
				typeName = "text"
			}
			v, err := ValueFromText(typeName, col.Data)
			if err != nil {
				return nil, fmt.Errorf("postgres: decode column %s: %w", relCol.Name, err)
			}
			row[relCol.Name] = v
		default:
			return nil, fmt.Errorf("postgres: unknown tuple column data type %q for %s", col.DataType, relCol.Name)
		}
	}
	return row, nil
}

// ValueFromText parses one textual-format pgoutput column value into the
// tagged Value variant, dispatching on the Postgres type name.
func ValueFromText(typeName string, raw []byte) (types.Value, error) {
	s := string(raw)

	if strings.HasPrefix(typeName, "_") {
		return parseArrayLiteral(typeName[1:], s)
	}

	switch typeName {
	case "int2", "int4", "int8":
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return types.Value{}, err
		}
		return types.IntValue(n), nil
	case "float4", "float8":
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return types.Value{}, err
		}
		return types.FloatValue(f), nil
	case "numeric":
		return types.DecimalValue(s), nil
	case "bool":
		return types.BoolValue(s == "t" || s == "true"), nil
	case "timestamp", "timestamptz":
		us, err := parseTimestampMicros(s)
		if err != nil {
			return types.Value{}, err
		}
		return types.TimestampValue(us), nil
	case "date":
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return types.Value{}, err
		}
		return types.TimestampValue(t.UnixMicro()), nil
	case "bytea":
		return types.BytesValue(raw), nil
	case "json", "jsonb", "uuid", "text", "varchar", "bpchar":
		return types.StringValue(s), nil
	default:
		return types.StringValue(s), nil
	}
}

// parseTimestampMicros parses Postgres's textual timestamp format
// ("2024-01-02 15:04:05.999999" with an optional trailing timezone
// offset for timestamptz) into microseconds since the epoch.
func parseTimestampMicros(s string) (int64, error) {
	layouts := []string{
		"2006-01-02 15:04:05.999999-07",
		"2006-01-02 15:04:05-07",
		"2006-01-02 15:04:05.999999",
		"2006-01-02 15:04:05",
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UnixMicro(), nil
		}
		lastErr = err
	}
	return 0, lastErr
}

// parseArrayLiteral parses Postgres's textual array literal
// ("{1,2,3}"/"{a,b,c}") into an Array Value whose elements are decoded
// using the array's element type name. Nested arrays and embedded commas
// inside quoted elements are not handled — clockpipe's sources do not
// configure multi-dimensional array columns.
func parseArrayLiteral(elemTypeName, s string) (types.Value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.ArrayValue(nil), nil
	}
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return types.Value{}, fmt.Errorf("postgres: malformed array literal %q", s)
	}
	inner := s[1 : len(s)-1]
	if inner == "" {
		return types.ArrayValue(nil), nil
	}

	parts := strings.Split(inner, ",")
	values := make([]types.Value, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.Trim(p, `"`)
		if p == "NULL" {
			values = append(values, types.NullValue())
			continue
		}
		v, err := ValueFromText(elemTypeName, []byte(p))
		if err != nil {
			return types.Value{}, err
		}
		values = append(values, v)
	}
	return types.ArrayValue(values), nil
}

// TranslateMessage converts one decoded pgoutput Message into at most one
// ChangeRecord (Insert/Update/Delete) or, for Truncate, the caller
// iterates RelationIDs separately via TranslateTruncate. Transaction-
// control messages (Begin/Commit/Type/Origin) return (nil, nil, nil):
// they update decoder state rather than producing a record. A Relation
// message never produces a ChangeRecord either, but when its column set
// differs from the one this session last cached for the same relation
// (a live ALTER TABLE on the source), the second return value carries the
// rebuilt TableSchema so the caller can reconcile the target before the
// next row for that relation is written.
func TranslateMessage(cache *RelationCache, msg pglogrepl.Message, refOf func(namespace, name string) types.SourceRef) (*types.ChangeRecord, *types.TableSchema, error) {
	switch m := msg.(type) {
	case *pglogrepl.RelationMessage:
		ref := refOf(m.Namespace, m.RelationName)
		if changed := cache.Store(m); changed {
			schema := schemaFromRelation(m, ref)
			return nil, &schema, nil
		}
		return nil, nil, nil

	case *pglogrepl.InsertMessage:
		rel, ok := cache.Get(m.RelationID)
		if !ok {
			return nil, nil, fmt.Errorf("postgres: insert for unknown relation oid %d", m.RelationID)
		}
		row, err := DecodeTuple(rel, m.Tuple)
		if err != nil {
			return nil, nil, err
		}
		return &types.ChangeRecord{
			SourceRef: refOf(rel.Namespace, rel.RelationName),
			Op:        types.ChangeOp{Kind: types.OpInsert},
			Row:       row,
		}, nil, nil

	case *pglogrepl.UpdateMessage:
		rel, ok := cache.Get(m.RelationID)
		if !ok {
			return nil, nil, fmt.Errorf("postgres: update for unknown relation oid %d", m.RelationID)
		}
		row, err := DecodeTuple(rel, m.NewTuple)
		if err != nil {
			return nil, nil, err
		}
		op := types.ChangeOp{Kind: types.OpUpdate}
		if m.OldTuple != nil {
			before, err := DecodeTuple(rel, m.OldTuple)
			if err != nil {
				return nil, nil, err
			}
			op.Before = before
		}
		return &types.ChangeRecord{
			SourceRef: refOf(rel.Namespace, rel.RelationName),
			Op:        op,
			Row:       row,
		}, nil, nil

	case *pglogrepl.DeleteMessage:
		rel, ok := cache.Get(m.RelationID)
		if !ok {
			return nil, nil, fmt.Errorf("postgres: delete for unknown relation oid %d", m.RelationID)
		}
		row, err := DecodeTuple(rel, m.OldTuple)
		if err != nil {
			return nil, nil, err
		}
		return &types.ChangeRecord{
			SourceRef: refOf(rel.Namespace, rel.RelationName),
			Op:        types.ChangeOp{Kind: types.OpDelete},
			Row:       row,
		}, nil, nil

	default:
		return nil, nil, nil
	}
}

// schemaFromRelation rebuilds a TableSchema from a pgoutput Relation
// message's column list. pgoutput's RelationMessageColumn carries a Flags
// bit (0x1) marking a column as part of the relation's replica identity
// (its effective primary key) but no nullability information for the
// rest; a column added by a live ALTER TABLE ADD COLUMN is therefore
// modeled as nullable unless it is itself a key column, matching how
// Postgres requires new columns to either be nullable or carry a default.
func schemaFromRelation(rel *pglogrepl.RelationMessage, ref types.SourceRef) types.TableSchema {
	const keyColumnFlag = 0x1

	columns := make([]types.ColumnSpec, len(rel.Columns))
	var primaryKey []string
	for i, col := range rel.Columns {
		typeName, known := typeNameForOID(col.DataType)
		if !known {
			typeName = "text"
		}
		isKey := col.Flags&keyColumnFlag != 0
		if isKey {
			primaryKey = append(primaryKey, col.Name)
		}
		columns[i] = types.ColumnSpec{
			Name:         col.Name,
			SourceType:   types.SourceType{Kind: "postgres", Name: typeName},
			Nullable:     !isKey,
			IsPrimaryKey: isKey,
			Ordinal:      i + 1,
		}
	}
	return types.TableSchema{SourceRef: ref, Columns: columns, PrimaryKey: primaryKey}
}

// TranslateTruncate expands a Truncate message into one ChangeRecord per
// affected relation.
func TranslateTruncate(cache *RelationCache, m *pglogrepl.TruncateMessage, refOf func(namespace, name string) types.SourceRef) ([]types.ChangeRecord, error) {
	records := make([]types.ChangeRecord, 0, len(m.RelationIDs))
	for _, oid := range m.RelationIDs {
		rel, ok := cache.Get(oid)
		if !ok {
			return nil, fmt.Errorf("postgres: truncate for unknown relation oid %d", oid)
		}
		records = append(records, types.ChangeRecord{
			SourceRef: refOf(rel.Namespace, rel.RelationName),
			Op:        types.ChangeOp{Kind: types.OpTruncate},
			Row:       types.Row{},
		})
	}
	return records, nil
}
