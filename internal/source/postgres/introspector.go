// Package postgres implements the Postgres variant of every source-side
// component: introspection (C3), prerequisite setup, pgoutput decoding
// (C4a), the source-managed cursor (C5), and bulk copy (C7).
//
// The publication/slot setup sequencing below is grounded on
// setup(): find-or-create
// publication, diff its current table list against configured tables and
// ADD TABLE incrementally, then find-or-create the replication slot.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5"

	"github.com/myyrakle/clockpipe/internal/config"
	"github.com/myyrakle/clockpipe/internal/logging"
	"github.com/myyrakle/clockpipe/internal/types"
)

// ErrMissingPrimaryKey is fatal: "if a configured table has
// no PK, the operation fails (replication identity is required)."
type ErrMissingPrimaryKey struct{ Ref types.SourceRef }

func (e *ErrMissingPrimaryKey) Error() string {
	return fmt.Sprintf("postgres: table %s has no primary key; replication identity is required", e.Ref)
}

// ErrNullablePrimaryKey is a fatal configuration error
type ErrNullablePrimaryKey struct {
	Ref    types.SourceRef
	Column string
}

func (e *ErrNullablePrimaryKey) Error() string {
	return fmt.Sprintf("postgres: primary-key column %s.%s is nullable", e.Ref, e.Column)
}

// Introspector implements C3 and the prerequisite setup described in
//
type Introspector struct {
	conn   *pgx.Conn
	config config.PostgresConfig
}

func NewIntrospector(conn *pgx.Conn, cfg config.PostgresConfig) *Introspector {
	return &Introspector{conn: conn, config: cfg}
}

// IntrospectAll enumerates every configured table's TableSchema.
func (in *Introspector) IntrospectAll(ctx context.Context) ([]types.TableSchema, error) {
	schemas := make([]types.TableSchema, 0, len(in.config.Tables))
	for _, table := range in.config.Tables {
		schema, err := in.introspectTable(ctx, table.SchemaName, table.TableName)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, schema)
	}
	return schemas, nil
}

func (in *Introspector) introspectTable(ctx context.Context, schemaName, tableName string) (types.TableSchema, error) {
	ref := types.SourceRef{Schema: schemaName, Name: tableName}
	qualified := schemaName + "." + tableName

	rows, err := in.conn.Query(ctx, `
		SELECT a.attname, t.typname, a.attnotnull, a.attnum
		FROM pg_attribute a
		JOIN pg_type t ON t.oid = a.atttypid
		WHERE a.attrelid = $1::regclass AND a.attnum > 0 AND NOT a.attisdropped
		ORDER BY a.attnum
	`, qualified)
	if err != nil {
		return types.TableSchema{}, fmt.Errorf("postgres: introspect columns for %s: %w", ref, err)
	}

	var columns []types.ColumnSpec
	for rows.Next() {
		var name, typname string
		var notNull bool
		var attnum int
		if err := rows.Scan(&name, &typname, &notNull, &attnum); err != nil {
			rows.Close()
			return types.TableSchema{}, err
		}
		columns = append(columns, types.ColumnSpec{
			Name:       name,
			SourceType: types.SourceType{Kind: "postgres", Name: typname},
			Nullable:   !notNull,
			Ordinal:    attnum,
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return types.TableSchema{}, err
	}

	pkRows, err := in.conn.Query(ctx, `
		SELECT a.attname
		FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE i.indrelid = $1::regclass AND i.indisprimary
		ORDER BY array_position(i.indkey, a.attnum)
	`, qualified)
	if err != nil {
		return types.TableSchema{}, fmt.Errorf("postgres: introspect primary key for %s: %w", ref, err)
	}
	var pk []string
	for pkRows.Next() {
		var name string
		if err := pkRows.Scan(&name); err != nil {
			pkRows.Close()
			return types.TableSchema{}, err
		}
		pk = append(pk, name)
	}
	pkRows.Close()
	if err := pkRows.Err(); err != nil {
		return types.TableSchema{}, err
	}

	if len(pk) == 0 {
		return types.TableSchema{}, &ErrMissingPrimaryKey{Ref: ref}
	}

	pkSet := make(map[string]bool, len(pk))
	for _, name := range pk {
		pkSet[name] = true
	}
	for i, col := range columns {
		if pkSet[col.Name] {
			columns[i].IsPrimaryKey = true
			if col.Nullable {
				return types.TableSchema{}, &ErrNullablePrimaryKey{Ref: ref, Column: col.Name}
			}
		}
	}

	return types.TableSchema{
		SourceRef:  ref,
		Columns:    columns,
		PrimaryKey: pk,
	}, nil
}

// EnsurePrerequisites creates the publication (with the configured table
// set) and the replication slot if either is absent, following
// exact ordering: find-or-create publication, diff its
// current tables against configuration and ADD TABLE incrementally, then
// find-or-create the slot. It returns the LSN replication starts from: a
// newly created slot's consistent point, or an existing slot's
// confirmed_flush_lsn. Bulk copy does not use this LSN.
func (in *Introspector) EnsurePrerequisites(ctx context.Context, replConn *pgx.Conn) (pglogrepl.LSN, error) {
	if err := in.ensurePublication(ctx); err != nil {
		return 0, err
	}
	return in.ensureReplicationSlot(ctx)
}

func (in *Introspector) ensurePublication(ctx context.Context) error {
	pubName := in.config.PublicationName

	var exists bool
	err := in.conn.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM pg_publication WHERE pubname = $1)`, pubName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: check publication %s: %w", pubName, err)
	}

	if len(in.config.Tables) == 0 {
		return fmt.Errorf("postgres: no source tables specified in configuration")
	}

	if !exists {
		tableList := make([]string, 0, len(in.config.Tables))
		for _, t := range in.config.Tables {
			tableList = append(tableList, fmt.Sprintf("%s.%s", t.SchemaName, t.TableName))
		}
		logging.Info(ctx, "postgres: creating publication %s for tables %v", pubName, tableList)
		stmt := fmt.Sprintf("CREATE PUBLICATION %s FOR TABLE %s", quoteIdentPG(pubName), strings.Join(tableList, ", "))
		if _, err := in.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: create publication %s: %w", pubName, err)
		}
		return nil
	}

	logging.Info(ctx, "postgres: publication %s already exists, checking table membership", pubName)

	rows, err := in.conn.Query(ctx, `SELECT schemaname, tablename FROM pg_publication_tables WHERE pubname = $1`, pubName)
	if err != nil {
		return fmt.Errorf("postgres: list publication tables: %w", err)
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var schema, table string
		if err := rows.Scan(&schema, &table); err != nil {
			rows.Close()
			return err
		}
		existing[schema+"."+table] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, t := range in.config.Tables {
		key := t.SchemaName + "." + t.TableName
		if existing[key] {
			continue
		}
		logging.Info(ctx, "postgres: adding table %s to publication %s", key, pubName)
		stmt := fmt.Sprintf("ALTER PUBLICATION %s ADD TABLE %s", quoteIdentPG(pubName), key)
		if _, err := in.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: add table %s to publication: %w", key, err)
		}
	}
	return nil
}

func (in *Introspector) ensureReplicationSlot(ctx context.Context) (pglogrepl.LSN, error) {
	slotName := in.config.ReplicationSlotName

	var confirmedFlush *string
	err := in.conn.QueryRow(ctx, `SELECT confirmed_flush_lsn::text FROM pg_replication_slots WHERE slot_name = $1`, slotName).Scan(&confirmedFlush)
	if err == nil && confirmedFlush != nil {
		logging.Info(ctx, "postgres: replication slot %s already exists", slotName)
		return pglogrepl.ParseLSN(*confirmedFlush)
	}

	replConn, err := dialReplication(ctx, in.config.Connection)
	if err != nil {
		return 0, err
	}
	defer replConn.Close(ctx)

	logging.Info(ctx, "postgres: creating replication slot %s (pgoutput)", slotName)
	result, err := pglogrepl.CreateReplicationSlot(ctx, replConn, slotName, "pgoutput",
		pglogrepl.CreateReplicationSlotOptions{Temporary: false})
	if err != nil {
		return 0, fmt.Errorf("postgres: create replication slot %s: %w", slotName, err)
	}

	return pglogrepl.ParseLSN(result.ConsistentPoint)
}

func quoteIdentPG(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
