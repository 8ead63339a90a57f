// Package reconcile implements C6, the schema reconciler: on startup (and
// whenever a decoder detects a schema drift), diff the source schema
// against what was last applied to ClickHouse and evolve the target
// in place. The reconciler is strictly additive.
package reconcile

import (
	"context"
	"fmt"

	"github.com/myyrakle/clockpipe/internal/config"
	"github.com/myyrakle/clockpipe/internal/logging"
	"github.com/myyrakle/clockpipe/internal/typemap"
	"github.com/myyrakle/clockpipe/internal/types"
)

// TargetWriter is the subset of clickhouse.Writer the reconciler depends
// on, narrowed so tests can substitute a fake.
type TargetWriter interface {
	EnsureTable(ctx context.Context, database, table string, schema types.TableSchema, opts config.TableOptions) (bool, error)
	AlterAddColumns(ctx context.Context, database, table string, cols []types.ColumnSpec) error
}

// Reconciler tracks, per SourceRef, the last column set it applied so a
// later call can diff instead of re-querying ClickHouse every time.
type Reconciler struct {
	writer   TargetWriter
	database string
	known    map[string]types.TableSchema
}

func New(writer TargetWriter, database string) *Reconciler {
	return &Reconciler{
		writer:   writer,
		database: database,
		known:    make(map[string]types.TableSchema),
	}
}

func refKey(ref types.SourceRef) string { return ref.Schema + "." + ref.Name }

// Reconcile implements steps 1-3 for one table: ensure_table if
// the target does not exist yet; otherwise diff columns by name and
// alter_add_columns for any new source columns, in ordinal order. Removed
// source columns are ignored (logged at WARN). A primary-key mismatch is
// reported by the writer as ErrSchemaConflict and returned unchanged —
// the caller (sync loop / startup) treats that as fatal
//
// The returned bool reports whether this call is the one that created
// the target table for the first time this process run — C7's bulk
// copier only copies tables for which this is true.
func (r *Reconciler) Reconcile(ctx context.Context, targetTable string, schema types.TableSchema, opts config.TableOptions) (bool, error) {
	prev, seen := r.known[refKey(schema.SourceRef)]
	if !seen {
		created, err := r.writer.EnsureTable(ctx, r.database, targetTable, schema, opts)
		if err != nil {
			return false, err
		}
		r.known[refKey(schema.SourceRef)] = schema
		return created, nil
	}

	added, removed := diffColumns(prev, schema)
	if len(removed) > 0 {
		for _, name := range removed {
			logging.Warn(ctx, "reconcile: column %s removed from source %s, target column retained with stale defaults", name, schema.SourceRef)
		}
	}
	if len(added) > 0 {
		if err := r.writer.AlterAddColumns(ctx, r.database, targetTable, added); err != nil {
			return false, err
		}
	}

	r.known[refKey(schema.SourceRef)] = schema
	return false, nil
}

// diffColumns returns, in ordinal order, the columns present in next but
// not prev (added) and the names present in prev but not next (removed).
func diffColumns(prev, next types.TableSchema) (added []types.ColumnSpec, removed []string) {
	prevNames := make(map[string]bool, len(prev.Columns))
	for _, c := range prev.Columns {
		prevNames[c.Name] = true
	}
	nextNames := make(map[string]bool, len(next.Columns))
	for _, c := range next.Columns {
		nextNames[c.Name] = true
		if !prevNames[c.Name] {
			added = append(added, c)
		}
	}
	for _, c := range prev.Columns {
		if !nextNames[c.Name] {
			removed = append(removed, c.Name)
		}
	}
	return added, removed
}

// ValidateMaskColumns rejects configuration where a masked column is also
// a primary-key column.
func ValidateMaskColumns(schema types.TableSchema, maskColumns []string) error {
	pk := make(map[string]bool, len(schema.PrimaryKey))
	for _, k := range schema.PrimaryKey {
		pk[k] = true
	}
	for _, m := range maskColumns {
		if pk[m] {
			return fmt.Errorf("reconcile: mask_columns cannot include primary-key column %q on table %s", m, schema.SourceRef)
		}
	}
	return nil
}

// ApplyMask zeroes every column named in maskColumns on row, regardless
// of the source value.
// Masking happens at write time: the target column keeps its real type,
// only the value written changes.
func ApplyMask(row types.Row, schema types.TableSchema, maskColumns []string) types.Row {
	if len(maskColumns) == 0 {
		return row
	}
	out := row.Clone()
	for _, name := range maskColumns {
		col, ok := schema.ColumnByName(name)
		if !ok {
			continue
		}
		out[name] = typemap.ZeroValue(col)
	}
	return out
}
