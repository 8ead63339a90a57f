package clickhouse

import (
	"strings"
	"testing"

	"github.com/myyrakle/clockpipe/internal/config"
	"github.com/myyrakle/clockpipe/internal/types"
)

func TestBuildCreateTableShape(t *testing.T) {
	schema := types.TableSchema{
		SourceRef: types.SourceRef{Schema: "public", Name: "users"},
		Columns: []types.ColumnSpec{
			{Name: "id", SourceType: types.SourceType{Kind: "postgres", Name: "int4"}, IsPrimaryKey: true, Ordinal: 1},
			{Name: "email", SourceType: types.SourceType{Kind: "postgres", Name: "text"}, Nullable: true, Ordinal: 2},
		},
		PrimaryKey: []string{"id"},
	}

	stmt := BuildCreateTable("analytics", "public_users", schema, config.TableOptions{Granularity: 8192, MinAgeToForceMergeSeconds: 60})

	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS `analytics`.`public_users`",
		"`id` Int32 COMMENT 'postgres int4'",
		"`email` Nullable(String) COMMENT 'postgres text'",
		"`_version` UInt64",
		"`_sign` Int8",
		"ENGINE = ReplacingMergeTree(`_version`)",
		"ORDER BY (`id`)",
		"SETTINGS index_granularity = 8192, min_age_to_force_merge_seconds = 60",
	} {
		if !strings.Contains(stmt, want) {
			t.Fatalf("expected statement to contain %q, got %q", want, stmt)
		}
	}
}

func TestBuildCreateTableOmitsSettingsClauseWhenEmpty(t *testing.T) {
	schema := types.TableSchema{
		SourceRef:  types.SourceRef{Schema: "public", Name: "users"},
		Columns:    []types.ColumnSpec{{Name: "id", SourceType: types.SourceType{Kind: "postgres", Name: "int4"}, IsPrimaryKey: true, Ordinal: 1}},
		PrimaryKey: []string{"id"},
	}
	stmt := BuildCreateTable("analytics", "public_users", schema, config.TableOptions{})
	if strings.Contains(stmt, "SETTINGS") {
		t.Fatalf("expected no SETTINGS clause with empty table options, got %q", stmt)
	}
}

func TestBuildCreateTableOrdersColumnsByOrdinalRegardlessOfInputOrder(t *testing.T) {
	schema := types.TableSchema{
		SourceRef: types.SourceRef{Schema: "public", Name: "users"},
		Columns: []types.ColumnSpec{
			{Name: "email", SourceType: types.SourceType{Kind: "postgres", Name: "text"}, Ordinal: 2},
			{Name: "id", SourceType: types.SourceType{Kind: "postgres", Name: "int4"}, IsPrimaryKey: true, Ordinal: 1},
		},
		PrimaryKey: []string{"id"},
	}
	stmt := BuildCreateTable("analytics", "public_users", schema, config.TableOptions{})
	idPos := strings.Index(stmt, "`id`")
	emailPos := strings.Index(stmt, "`email`")
	if idPos == -1 || emailPos == -1 || idPos > emailPos {
		t.Fatalf("expected id column before email column, got %q", stmt)
	}
}

func TestBuildSettingsQuotesStoragePolicy(t *testing.T) {
	got := buildSettings(config.TableOptions{StoragePolicy: "hot_cold"})
	want := "storage_policy = 'hot_cold'"
	if got != want {
		t.Fatalf("buildSettings(storage_policy) = %q, want %q", got, want)
	}
}
