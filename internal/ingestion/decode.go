// decode.go normalizes the legacy Kafka/Debezium-envelope ingestion path
// onto the same types.ChangeRecord/types.Value vocabulary
// internal/source/postgres and internal/source/mongodb decoders produce
// (spec §9's dynamic-typing note), so the sync-loop's downstream write
// path never needs a second representation of a change.
package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/myyrakle/clockpipe/internal/model"
	"github.com/myyrakle/clockpipe/internal/types"
)

// TranslateEnvelope turns one Debezium change-event payload into a
// ChangeRecord addressed at ref, the generalized replacement for the
// teacher's translateEnvelopeToRow (which only understood a single
// hardcoded users table).
func TranslateEnvelope(ref types.SourceRef, env model.DBZEnvelope, key []byte) (*types.ChangeRecord, error) {
	switch env.Op {
	case "c", "r", "u":
		if env.After == nil {
			return nil, fmt.Errorf("ingestion: missing 'after' for op=%s", env.Op)
		}
		opKind := types.OpInsert
		if env.Op == "u" {
			opKind = types.OpUpdate
		}
		row := jsonRowToRow(env.After)
		return &types.ChangeRecord{SourceRef: ref, Op: types.ChangeOp{Kind: opKind}, Row: row}, nil

	case "d":
		if env.Before != nil {
			row := jsonRowToRow(env.Before)
			return &types.ChangeRecord{SourceRef: ref, Op: types.ChangeOp{Kind: types.OpDelete}, Row: row}, nil
		}
		row, err := jsonKeyToRow(key)
		if err != nil {
			return nil, err
		}
		return &types.ChangeRecord{SourceRef: ref, Op: types.ChangeOp{Kind: types.OpDelete}, Row: row}, nil

	default:
		return nil, fmt.Errorf("ingestion: unknown op %q", env.Op)
	}
}

func jsonRowToRow(m map[string]any) types.Row {
	row := make(types.Row, len(m))
	for k, v := range m {
		row[k] = jsonToValue(v)
	}
	return row
}

func jsonKeyToRow(raw []byte) (types.Row, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("ingestion: decode message key: %w", err)
	}
	return jsonRowToRow(m), nil
}

// jsonToValue lowers an encoding/json-decoded any (nil, bool, float64,
// string, []any, map[string]any) into clockpipe's tagged Value variant.
// Debezium envelopes carry no numeric type distinction beyond JSON's own,
// so an integral float64 becomes ValueInt and a fractional one ValueFloat.
func jsonToValue(v any) types.Value {
	switch t := v.(type) {
	case nil:
		return types.NullValue()
	case bool:
		return types.BoolValue(t)
	case float64:
		if t == float64(int64(t)) {
			return types.IntValue(int64(t))
		}
		return types.FloatValue(t)
	case string:
		return types.StringValue(t)
	case []any:
		out := make([]types.Value, len(t))
		for i, el := range t {
			out[i] = jsonToValue(el)
		}
		return types.ArrayValue(out)
	case map[string]any:
		out := make(map[string]types.Value, len(t))
		for k, el := range t {
			out[k] = jsonToValue(el)
		}
		return types.DocumentValue(out)
	default:
		return types.StringValue(fmt.Sprintf("%v", t))
	}
}
