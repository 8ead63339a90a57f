package clickhouse

import (
	"fmt"
	"strings"

	"github.com/myyrakle/clockpipe/internal/config"
	"github.com/myyrakle/clockpipe/internal/typemap"
	"github.com/myyrakle/clockpipe/internal/types"
)

// BuildCreateTable renders the CREATE TABLE IF NOT EXISTS statement for a
// newly reconciled table: every source column mapped through typemap and
// commented with its source type's textual description, plus the two
// synthetic columns _version UInt64 and _sign Int8, engine
// ReplacingMergeTree(_version), ORDER BY the primary key, and settings
// merged from global + per-table table_options.
func BuildCreateTable(database, table string, schema types.TableSchema, opts config.TableOptions) string {
	cols := make([]string, 0, len(schema.Columns)+2)
	for _, c := range sortedByOrdinal(schema.Columns) {
		chType := typemap.MapType(c.SourceType, c.Nullable && !c.IsPrimaryKey)
		cols = append(cols, fmt.Sprintf("%s %s COMMENT %s", quoteIdent(c.Name), chType, quoteLiteral(sourceTypeComment(c.SourceType))))
	}
	cols = append(cols, quoteIdent("_version")+" UInt64", quoteIdent("_sign")+" Int8")

	pk := make([]string, len(schema.PrimaryKey))
	for i, name := range schema.PrimaryKey {
		pk[i] = quoteIdent(name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s.%s (%s) ENGINE = ReplacingMergeTree(%s) ORDER BY (%s)",
		quoteIdent(database), quoteIdent(table), strings.Join(cols, ", "), quoteIdent("_version"), strings.Join(pk, ", "))

	settings := buildSettings(opts)
	if settings != "" {
		b.WriteString(" SETTINGS ")
		b.WriteString(settings)
	}
	return b.String()
}

func buildSettings(opts config.TableOptions) string {
	var parts []string
	if opts.Granularity > 0 {
		parts = append(parts, fmt.Sprintf("index_granularity = %d", opts.Granularity))
	}
	if opts.MinAgeToForceMergeSeconds > 0 {
		parts = append(parts, fmt.Sprintf("min_age_to_force_merge_seconds = %d", opts.MinAgeToForceMergeSeconds))
	}
	if opts.StoragePolicy != "" {
		parts = append(parts, fmt.Sprintf("storage_policy = %s", quoteLiteral(opts.StoragePolicy)))
	}
	return strings.Join(parts, ", ")
}

// sourceTypeComment renders the source type's textual description
// (e.g. "postgres numeric(10,2)" or "mongodb double") the way
// original_source/src/adapter/mapper.rs comments each generated column
// with the type it was mapped from.
func sourceTypeComment(t types.SourceType) string {
	if t.Precision > 0 || t.Scale > 0 {
		return fmt.Sprintf("%s %s(%d,%d)", t.Kind, t.Name, t.Precision, t.Scale)
	}
	return fmt.Sprintf("%s %s", t.Kind, t.Name)
}

func sortedByOrdinal(cols []types.ColumnSpec) []types.ColumnSpec {
	out := append([]types.ColumnSpec(nil), cols...)
	sortByOrdinal(out)
	return out
}
