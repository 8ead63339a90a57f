package ingestion

import (
	"os"
	"strconv"
	"strings"

	"github.com/myyrakle/clockpipe/internal/config"
)

// Config is the legacy Kafka ingestion path's own env-var configuration,
// separate from internal/config's JSON document: this path predates the
// configured multi-table pipeline and is kept for deployments that
// already run Debezium+Kafka/Redpanda in front of clockpipe rather than
// letting clockpipe open the replication slot itself.
type Config struct {
	Brokers     []string
	Topic       string
	GroupID     string
	ClickHouse  config.ClickHouseConnection
	TargetTable string
	PKColumn    string
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func LoadConfig() Config {
	return Config{
		Brokers: strings.Split(getenv("REDPANDA_BROKERS", "redpanda:9093"), ","),
		Topic:   getenv("TOPIC", "clockpipe.legacy.changes"),
		GroupID: getenv("GROUP_ID", "clockpipe-legacy-ingest"),
		ClickHouse: config.ClickHouseConnection{
			Host:     getenv("CLICKHOUSE_HOST", "localhost"),
			Port:     getenvInt("CLICKHOUSE_PORT", 8123),
			Username: getenv("CLICKHOUSE_USER", ""),
			Password: getenv("CLICKHOUSE_PASSWORD", ""),
			Database: getenv("CLICKHOUSE_DB", "clockpipe"),
		},
		TargetTable: getenv("CLICKHOUSE_TABLE", "legacy_changes"),
		PKColumn:    getenv("PK_COLUMN", "id"),
	}
}
