package ingestion

import (
	"testing"

	"github.com/myyrakle/clockpipe/internal/model"
	"github.com/myyrakle/clockpipe/internal/types"
)

var testRef = types.SourceRef{Schema: "kafka", Name: "legacy_changes"}

func TestTranslateEnvelopeInsert(t *testing.T) {
	env := model.DBZEnvelope{
		Op:    "c",
		After: map[string]any{"id": float64(1), "name": "alice"},
	}
	rec, err := TranslateEnvelope(testRef, env, nil)
	if err != nil {
		t.Fatalf("TranslateEnvelope: %v", err)
	}
	if rec.Op.Kind != types.OpInsert {
		t.Fatalf("expected OpInsert, got %v", rec.Op.Kind)
	}
	if rec.Row["id"].Int != 1 {
		t.Fatalf("expected id=1, got %v", rec.Row["id"])
	}
	if rec.Row["name"].Str != "alice" {
		t.Fatalf("expected name=alice, got %v", rec.Row["name"])
	}
}

func TestTranslateEnvelopeUpdate(t *testing.T) {
	env := model.DBZEnvelope{
		Op:     "u",
		Before: map[string]any{"id": float64(1), "name": "alice"},
		After:  map[string]any{"id": float64(1), "name": "alicia"},
	}
	rec, err := TranslateEnvelope(testRef, env, nil)
	if err != nil {
		t.Fatalf("TranslateEnvelope: %v", err)
	}
	if rec.Op.Kind != types.OpUpdate {
		t.Fatalf("expected OpUpdate, got %v", rec.Op.Kind)
	}
	if rec.Row["name"].Str != "alicia" {
		t.Fatalf("expected updated name, got %v", rec.Row["name"])
	}
}

func TestTranslateEnvelopeDeleteWithBefore(t *testing.T) {
	env := model.DBZEnvelope{
		Op:     "d",
		Before: map[string]any{"id": float64(9)},
	}
	rec, err := TranslateEnvelope(testRef, env, nil)
	if err != nil {
		t.Fatalf("TranslateEnvelope: %v", err)
	}
	if rec.Op.Kind != types.OpDelete {
		t.Fatalf("expected OpDelete, got %v", rec.Op.Kind)
	}
	if rec.Row["id"].Int != 9 {
		t.Fatalf("expected id=9 from before image, got %v", rec.Row["id"])
	}
}

func TestTranslateEnvelopeDeleteFallsBackToKey(t *testing.T) {
	env := model.DBZEnvelope{Op: "d"}
	rec, err := TranslateEnvelope(testRef, env, []byte(`{"id": 42}`))
	if err != nil {
		t.Fatalf("TranslateEnvelope: %v", err)
	}
	if rec.Row["id"].Int != 42 {
		t.Fatalf("expected id=42 from message key, got %v", rec.Row["id"])
	}
}

func TestTranslateEnvelopeMissingAfterErrors(t *testing.T) {
	env := model.DBZEnvelope{Op: "c"}
	if _, err := TranslateEnvelope(testRef, env, nil); err == nil {
		t.Fatal("expected error for a create envelope with no 'after' image")
	}
}

func TestTranslateEnvelopeUnknownOpErrors(t *testing.T) {
	env := model.DBZEnvelope{Op: "x"}
	if _, err := TranslateEnvelope(testRef, env, nil); err == nil {
		t.Fatal("expected error for an unrecognized op code")
	}
}

func TestJSONToValueDistinguishesIntFromFloat(t *testing.T) {
	if v := jsonToValue(float64(3)); v.Kind != types.ValueInt || v.Int != 3 {
		t.Fatalf("expected integral float64 to become ValueInt, got %+v", v)
	}
	if v := jsonToValue(float64(3.5)); v.Kind != types.ValueFloat || v.Float != 3.5 {
		t.Fatalf("expected fractional float64 to become ValueFloat, got %+v", v)
	}
}

func TestJSONToValueNestedStructures(t *testing.T) {
	v := jsonToValue([]any{float64(1), "two"})
	if v.Kind != types.ValueArray || len(v.Array) != 2 {
		t.Fatalf("expected a 2-element array value, got %+v", v)
	}
	if v.Array[0].Int != 1 || v.Array[1].Str != "two" {
		t.Fatalf("unexpected array contents: %+v", v.Array)
	}
}

func TestTryUnmarshalEnvelopeHandlesDoubleEncodedPayload(t *testing.T) {
	var env model.DBZEnvelope
	quoted := []byte(`"{\"op\":\"c\",\"after\":{\"id\":1}}"`)
	if !tryUnmarshalEnvelope(quoted, &env) {
		t.Fatal("expected double-encoded envelope to unmarshal")
	}
	if env.Op != "c" {
		t.Fatalf("expected op=c, got %q", env.Op)
	}
}
