// Package model holds the wire shapes shared by clockpipe's non-primary
// entrypoints: Event backs internal/generator's synthetic demo stream,
// DBZEnvelope backs internal/ingestion's legacy Kafka/Debezium path. Both
// are converted into the same types.ChangeRecord/types.Row the primary
// Postgres/MongoDB sources produce before anything reaches ClickHouse.
package model

import "time"

// Event is one synthetic action emitted by internal/generator; ToRow
// assigns it a fresh primary key since, unlike a real source row, it
// carries no identity of its own until inserted.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	Action    string    `json:"action"`
	Payload   string    `json:"payload"`
}
