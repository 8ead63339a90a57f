// Package metrics registers clockpipe's Prometheus collectors and serves
// them over HTTP, following the teacher's Init(port) bootstrap shape.
package metrics

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Retained from the teacher / legacy synthetic-event and Kafka CDC
	// ingestion paths (internal/ingestion, internal/generator).
	IngestedEventCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ingestion_generated_events_total",
			Help: "Total number of synthetic events generated",
		},
	)
	InsertErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clickhouse_insert_errors_total",
			Help: "Total number of failed ClickHouse insert/DDL calls",
		},
	)
	InsertLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clickhouse_insert_latency_seconds",
			Help:    "Latency of ClickHouse HTTP insert/DDL calls",
			Buckets: prometheus.DefBuckets,
		},
	)
	RowsInserted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clickhouse_rows_inserted_total",
			Help: "Total number of rows successfully inserted into ClickHouse",
		},
	)

	// Sync-loop / decoder / reconciler metrics added for the CDC pipeline.
	ChangesDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clockpipe_changes_decoded_total",
			Help: "Total number of normalized change records decoded, by operation",
		},
		[]string{"source", "table", "op"},
	)
	BatchesWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clockpipe_batches_written_total",
			Help: "Total number of grouped batches written to the target",
		},
		[]string{"table"},
	)
	WriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clockpipe_write_failures_total",
			Help: "Total number of insert_batch calls that returned an error",
		},
		[]string{"table"},
	)
	CursorSaves = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clockpipe_cursor_saves_total",
			Help: "Total number of successful cursor store saves",
		},
	)
	SchemaAlters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clockpipe_schema_alters_total",
			Help: "Total number of ALTER TABLE ADD COLUMN statements issued by the reconciler",
		},
		[]string{"table"},
	)
	SyncIterationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clockpipe_sync_iteration_seconds",
			Help:    "Wall-clock duration of one peek/group/write/ack sync loop iteration",
			Buckets: prometheus.DefBuckets,
		},
	)
)

var registered bool

func Init(port string) {
	if !registered {
		prometheus.MustRegister(
			IngestedEventCount,
			InsertErrors,
			InsertLatency,
			RowsInserted,
			ChangesDecoded,
			BatchesWritten,
			WriteFailures,
			CursorSaves,
			SchemaAlters,
			SyncIterationDuration,
		)
		registered = true
	}

	http.Handle("/metrics", promhttp.Handler())

	log.Printf("Prometheus metrics available at http://localhost:%s/metrics", port)

	go func() {
		if err := http.ListenAndServe(":"+port, nil); err != nil {
			log.Fatalf("Failed to start metrics endpoint: %v", err)
		}
	}()
}
