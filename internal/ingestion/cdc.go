package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/myyrakle/clockpipe/internal/config"
	"github.com/myyrakle/clockpipe/internal/logging"
	"github.com/myyrakle/clockpipe/internal/model"
	"github.com/myyrakle/clockpipe/internal/reconcile"
	"github.com/myyrakle/clockpipe/internal/target/clickhouse"
	"github.com/myyrakle/clockpipe/internal/types"
)

type staticResolver struct{ ip string }

func (r staticResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return []string{r.ip}, nil
}

// RunCDC is the legacy Kafka/Debezium-envelope ingestion path: it tails a
// Redpanda/Kafka topic of Debezium change payloads rather than talking to
// Postgres/MongoDB directly, kept as an alternate entrypoint for
// deployments that already run Debezium in front of clockpipe. Every
// decoded envelope is normalized into the same types.ChangeRecord shape
// (TranslateEnvelope) and written through the same
// internal/target/clickhouse.Writer + internal/reconcile machinery C8
// uses, inferring and evolving the target schema from whatever fields the
// topic's payloads happen to carry (InferSchema).
func RunCDC(ctx context.Context, cfg Config) error {
	tr := otel.Tracer("clockpipe")

	var dialer *kafka.Dialer
	if os.Getenv("KAFKA_FORCE_LOCAL") == "1" {
		dialer = &kafka.Dialer{
			Timeout:  10 * time.Second,
			Resolver: staticResolver{ip: "127.0.0.1"},
		}
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		Dialer:   dialer,
		MinBytes: 1,
		MaxBytes: 10 << 20,
	})
	defer reader.Close()

	writer := clickhouse.NewWriter(cfg.ClickHouse)
	reconciler := reconcile.New(writer, cfg.ClickHouse.Database)

	log.Printf("[cdc] brokers=%v topic=%s group=%s", cfg.Brokers, cfg.Topic, cfg.GroupID)

	ref := types.SourceRef{Schema: "kafka", Name: cfg.TargetTable}
	var schema types.TableSchema
	var version uint64

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		mCtx, span := tr.Start(ctx, "cdc.message")
		logging.WithTrace(mCtx, "WAL event received")

		var env model.DBZEnvelope
		if !tryUnmarshalEnvelope(msg.Value, &env) {
			logging.WithTrace(mCtx, "[cdc] bad payload at offset=%d", msg.Offset)
			span.End()
			continue
		}

		record, err := TranslateEnvelope(ref, env, msg.Key)
		if err != nil {
			logging.WithTrace(mCtx, "[cdc] translate error at offset=%d: %v", msg.Offset, err)
			span.End()
			continue
		}
		if _, ok := record.Row[cfg.PKColumn]; !ok {
			logging.WithTrace(mCtx, "[cdc] payload missing configured pk column %q, skipping", cfg.PKColumn)
			span.End()
			continue
		}

		schema = InferSchema(ref, schema, cfg.PKColumn, record.Row)
		if _, err := reconciler.Reconcile(mCtx, cfg.TargetTable, schema, config.TableOptions{}); err != nil {
			logging.WithTrace(mCtx, "[cdc] reconcile error: %v", err)
			span.End()
			continue
		}

		version++
		if err := writer.InsertBatch(mCtx, cfg.ClickHouse.Database, cfg.TargetTable, schema, record.Op.Kind, []types.Row{record.Row}, version); err != nil {
			logging.WithTrace(mCtx, "[cdc] insert error: %v", err)
			span.End()
			continue
		}

		logging.WithTrace(mCtx, "[cdc] ok op=%s pk=%v", record.Op.Kind, record.Row[cfg.PKColumn])
		span.End()
	}
}

func tryUnmarshalEnvelope(b []byte, out *model.DBZEnvelope) bool {
	if json.Unmarshal(b, out) == nil {
		return true
	}
	var s string
	if json.Unmarshal(b, &s) == nil {
		return json.Unmarshal([]byte(s), out) == nil
	}
	return false
}
