// Package generator produces synthetic events for local/demo runs,
// exercising the metrics/tracing/ClickHouse-write bootstrap without a
// real Postgres or MongoDB source attached. Adapted from the teacher's
// fixed-shape generator to write through the same
// internal/target/clickhouse.Writer + internal/typemap-mapped TableSchema
// every real source uses, rather than a bespoke insert call.
package generator

import (
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/myyrakle/clockpipe/internal/model"
	"github.com/myyrakle/clockpipe/internal/types"
)

var actions = []string{"login", "click", "purchase", "logout"}

// SourceRef identifies the synthetic events stream to the reconciler and
// writer the same way a real source's table/collection does.
var SourceRef = types.SourceRef{Schema: "demo", Name: "events"}

// Schema is the fixed TableSchema for the synthetic events table: an
// event ID primary key plus the four Event fields, typed through
// internal/typemap the same way a real introspected column is.
func Schema() types.TableSchema {
	return types.TableSchema{
		SourceRef: SourceRef,
		Columns: []types.ColumnSpec{
			{Name: "event_id", SourceType: types.SourceType{Kind: "postgres", Name: "uuid"}, IsPrimaryKey: true, Ordinal: 1},
			{Name: "timestamp", SourceType: types.SourceType{Kind: "postgres", Name: "timestamptz"}, Ordinal: 2},
			{Name: "user_id", SourceType: types.SourceType{Kind: "postgres", Name: "text"}, Ordinal: 3},
			{Name: "action", SourceType: types.SourceType{Kind: "postgres", Name: "text"}, Ordinal: 4},
			{Name: "payload", SourceType: types.SourceType{Kind: "postgres", Name: "text"}, Ordinal: 5},
		},
		PrimaryKey: []string{"event_id"},
	}
}

// GenerateEvent produces one random synthetic event.
func GenerateEvent() model.Event {
	return model.Event{
		Timestamp: time.Now(),
		UserID:    getUserId(),
		Action:    actions[rand.Intn(len(actions))],
		Payload:   "example-payload",
	}
}

// ToRow converts an Event into the Row shape Schema()'s columns expect,
// assigning it a fresh event_id the way a real primary key would already
// be present on a source row.
func ToRow(e model.Event) types.Row {
	return types.Row{
		"event_id":  types.StringValue(uuid.NewString()),
		"timestamp": types.TimestampValue(e.Timestamp.UnixMicro()),
		"user_id":   types.StringValue(e.UserID),
		"action":    types.StringValue(e.Action),
		"payload":   types.StringValue(e.Payload),
	}
}

func getUserId() string {
	return "user-" + uuid.NewString()
}
