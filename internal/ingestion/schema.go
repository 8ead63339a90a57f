package ingestion

import "github.com/myyrakle/clockpipe/internal/types"

// InferSchema extends prev with any column present in row but not yet
// known, inferring each new column's type from the decoded Value the way
// internal/source/mongodb's introspector defaults an undeclared field:
// there is no declared schema on a Kafka/Debezium topic, only the shape
// of whatever payload showed up. Feeding the result back through
// internal/reconcile.Reconciler.Reconcile lets a topic carrying steadily
// richer envelopes evolve the target table the same additive way a
// Postgres ALTER TABLE does for the primary CDC path.
func InferSchema(ref types.SourceRef, prev types.TableSchema, pkColumn string, row types.Row) types.TableSchema {
	seen := make(map[string]bool, len(prev.Columns))
	columns := append([]types.ColumnSpec(nil), prev.Columns...)
	for _, c := range columns {
		seen[c.Name] = true
	}

	ordinal := len(columns)
	for name, v := range row {
		if seen[name] {
			continue
		}
		ordinal++
		columns = append(columns, types.ColumnSpec{
			Name:         name,
			SourceType:   types.SourceType{Kind: "mongodb", Name: inferTypeName(v)},
			Nullable:     name != pkColumn,
			IsPrimaryKey: name == pkColumn,
			Ordinal:      ordinal,
		})
		seen[name] = true
	}

	return types.TableSchema{SourceRef: ref, Columns: columns, PrimaryKey: []string{pkColumn}}
}

func inferTypeName(v types.Value) string {
	switch v.Kind {
	case types.ValueInt, types.ValueUint:
		return "int64"
	case types.ValueFloat:
		return "double"
	case types.ValueBool:
		return "bool"
	case types.ValueArray:
		return "array"
	case types.ValueDocument:
		return "object"
	default:
		return "string"
	}
}
