package model

// DBZSource is the "source" block of a Debezium change-event payload:
// the WAL position and originating schema/table the connector observed.
type DBZSource struct {
	LSN    *uint64 `json:"lsn"`
	TsUS   *int64  `json:"ts_us"`
	Schema string  `json:"schema"`
	Table  string  `json:"table"`
}

// DBZEnvelope is one Debezium change-event payload consumed by the
// legacy Kafka ingestion path (internal/ingestion). Before/After are left
// as generic JSON objects rather than a fixed struct — a Kafka topic
// fronted by Debezium can carry envelopes for any configured table, and
// internal/ingestion normalizes whichever fields show up into the same
// types.ChangeRecord/types.Row/types.Value shape internal/source's
// Postgres and MongoDB decoders produce, so both paths converge on one
// ClickHouse write path (internal/target/clickhouse).
type DBZEnvelope struct {
	Before map[string]any `json:"before"`
	After  map[string]any `json:"after"`
	Source DBZSource      `json:"source"`
	Op     string         `json:"op"` // "c" create, "r" snapshot read, "u" update, "d" delete
	TsUS   *int64         `json:"ts_us"`
}
