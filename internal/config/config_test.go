package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalPostgresConfig = `{
	"source": {
		"source_type": "postgres",
		"postgres": {
			"connection": {"host": "localhost", "port": 5432, "username": "u", "password": "p", "database": "db"},
			"tables": [{"schema_name": "public", "table_name": "users"}]
		}
	},
	"target": {
		"target_type": "clickhouse",
		"clickhouse": {"connection": {"host": "localhost", "port": 8123, "database": "analytics"}}
	}
}`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalPostgresConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PeekChangesLimit != DefaultPeekChangesLimit {
		t.Fatalf("expected default peek_changes_limit, got %d", cfg.PeekChangesLimit)
	}
	if cfg.Source.Postgres.PublicationName != DefaultPublicationName {
		t.Fatalf("expected default publication name, got %q", cfg.Source.Postgres.PublicationName)
	}
	if cfg.Source.Postgres.ReplicationSlotName != DefaultReplicationSlotName {
		t.Fatalf("expected default replication slot name, got %q", cfg.Source.Postgres.ReplicationSlotName)
	}
	if cfg.CopyBatchSize != DefaultCopyBatchSizePG {
		t.Fatalf("expected default postgres copy batch size, got %d", cfg.CopyBatchSize)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	body := `{"source": {"source_type": "postgres"}, "target": {"target_type": "clickhouse"}, "bogus_field": 1}`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected an error for an unknown top-level field")
	}
}

func TestLoadRejectsUnknownSourceType(t *testing.T) {
	body := `{"source": {"source_type": "oracle"}, "target": {"target_type": "clickhouse", "clickhouse": {"connection": {}}}}`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected an error for an unrecognized source_type")
	}
}

func TestLoadRejectsDuplicatePostgresTables(t *testing.T) {
	body := `{
		"source": {
			"source_type": "postgres",
			"postgres": {
				"connection": {"host": "localhost", "port": 5432, "database": "db"},
				"tables": [
					{"schema_name": "public", "table_name": "users"},
					{"schema_name": "public", "table_name": "users"}
				]
			}
		},
		"target": {"target_type": "clickhouse", "clickhouse": {"connection": {"host": "localhost", "port": 8123, "database": "analytics"}}}
	}`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected an error for a duplicate postgres table entry")
	}
}

func TestLoadRejectsDuplicateMongoCollections(t *testing.T) {
	body := `{
		"source": {
			"source_type": "mongodb",
			"mongodb": {
				"connection": {"uri": "mongodb://localhost", "database": "db"},
				"collections": [
					{"collection_name": "orders"},
					{"collection_name": "orders"}
				]
			}
		},
		"target": {"target_type": "clickhouse", "clickhouse": {"connection": {"host": "localhost", "port": 8123, "database": "analytics"}}}
	}`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected an error for a duplicate mongodb collection entry")
	}
}

func TestMergeTableOptionsPerTableOverridesGlobal(t *testing.T) {
	global := &TableOptions{Granularity: 8192, StoragePolicy: "default"}
	perTable := &TableOptions{Granularity: 4096}

	merged := MergeTableOptions(global, perTable)
	if merged.Granularity != 4096 {
		t.Fatalf("expected per-table granularity to win, got %d", merged.Granularity)
	}
	if merged.StoragePolicy != "default" {
		t.Fatalf("expected global storage_policy to carry over, got %q", merged.StoragePolicy)
	}
}

func TestMergeTableOptionsFallsBackToPackageDefaults(t *testing.T) {
	merged := MergeTableOptions(nil, nil)
	if merged.Granularity != DefaultIndexGranularity {
		t.Fatalf("expected default granularity, got %d", merged.Granularity)
	}
	if merged.MinAgeToForceMergeSeconds != DefaultMinAgeToForceMergeS {
		t.Fatalf("expected default min_age_to_force_merge_seconds, got %d", merged.MinAgeToForceMergeSeconds)
	}
}

func TestPostgresConnectionConnString(t *testing.T) {
	c := PostgresConnection{Host: "db.internal", Port: 5432, Username: "u", Password: "p", Database: "app"}
	want := "postgres://u:p@db.internal:5432/app"
	if got := c.ConnString(); got != want {
		t.Fatalf("ConnString() = %q, want %q", got, want)
	}
}
