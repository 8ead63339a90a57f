// Package clickhouse implements C2, the target writer: DDL and batched
// DML issued against ClickHouse's HTTP interface using the JSONEachRow
// format, following the teacher's POST-and-check-status idiom
// (internal/ingestion/clickhouse.go's doJSONEachRowPOST) generalized from
// a single fixed events table to arbitrary reconciled tables.
//
// Writer is stateless between calls: every method opens its own request
// against the pooled *http.Client, so a caller can retry any call safely.
package clickhouse

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/myyrakle/clockpipe/internal/config"
	"github.com/myyrakle/clockpipe/internal/logging"
	"github.com/myyrakle/clockpipe/internal/metrics"
	"github.com/myyrakle/clockpipe/internal/typemap"
	"github.com/myyrakle/clockpipe/internal/types"
)

// ErrSchemaConflict is returned when a target table already exists with a
// primary key different from the source's — §4.2: "If the table exists
// with a different PK, the operation fails loudly (no silent
// reconfiguration)."
type ErrSchemaConflict struct {
	Table    string
	Existing []string
	Wanted   []string
}

func (e *ErrSchemaConflict) Error() string {
	return fmt.Sprintf("clickhouse: table %s exists with ORDER BY (%s), configured primary key is (%s)",
		e.Table, strings.Join(e.Existing, ", "), strings.Join(e.Wanted, ", "))
}

// Writer issues DDL/DML against one ClickHouse server over HTTP. A single
// pooled *http.Client is sufficient: §5 notes writer pool size 1 suffices
// since writes are serialized by the sync loop.
type Writer struct {
	conn   config.ClickHouseConnection
	client *http.Client
}

func NewWriter(conn config.ClickHouseConnection) *Writer {
	return &Writer{
		conn:   conn,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *Writer) hostPort() string {
	if w.conn.Port == 0 {
		return w.conn.Host
	}
	return fmt.Sprintf("%s:%d", w.conn.Host, w.conn.Port)
}

func (w *Writer) endpoint(database, query string) string {
	v := url.Values{}
	if database != "" {
		v.Set("database", database)
	}
	if query != "" {
		v.Set("query", query)
	}
	return fmt.Sprintf("http://%s/?%s", w.hostPort(), v.Encode())
}

func (w *Writer) do(ctx context.Context, endpoint string, body []byte) error {
	tr := otel.Tracer("clockpipe")
	ctx, span := tr.Start(ctx, "clickhouse.post")
	defer span.End()

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		metrics.InsertErrors.Inc()
		return fmt.Errorf("clickhouse: build request: %w", err)
	}
	if w.conn.Username != "" {
		req.SetBasicAuth(w.conn.Username, w.conn.Password)
	}

	resp, err := w.client.Do(req)
	metrics.InsertLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.InsertErrors.Inc()
		return fmt.Errorf("clickhouse: http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.InsertErrors.Inc()
		return fmt.Errorf("clickhouse: %s", readErrorBody(resp))
	}
	return nil
}

// Ping issues a trivial query to verify the server is reachable, called
// once at pipeline startup before any reconcile/bulk-copy work begins.
func (w *Writer) Ping(ctx context.Context) error {
	return w.exec(ctx, "", "SELECT 1")
}

func (w *Writer) exec(ctx context.Context, database, query string) error {
	return w.do(ctx, w.endpoint(database, query), nil)
}

// EnsureTable implements idempotent table creation: if the table does not
// exist it is created with engine ReplacingMergeTree(_version), ORDER BY
// the primary key, and settings merged from global + per-table
// table_options. If it already exists, its ORDER BY is compared against
// the configured primary key and a mismatch fails loudly rather than
// silently reconfiguring. The returned bool is true only when this call
// created the table (C7's bulk copier uses it to decide whether to copy).
func (w *Writer) EnsureTable(ctx context.Context, database, table string, schema types.TableSchema, opts config.TableOptions) (bool, error) {
	existingKey, exists, err := w.sortingKey(ctx, database, table)
	if err != nil {
		return false, err
	}
	if exists {
		if !sameKey(existingKey, schema.PrimaryKey) {
			return false, &ErrSchemaConflict{Table: table, Existing: existingKey, Wanted: schema.PrimaryKey}
		}
		return false, nil
	}

	stmt := BuildCreateTable(database, table, schema, opts)
	logging.Info(ctx, "clickhouse: creating table %s.%s", database, table)
	if err := w.exec(ctx, database, stmt); err != nil {
		return false, fmt.Errorf("clickhouse: create table %s: %w", table, err)
	}
	return true, nil
}

func (w *Writer) sortingKey(ctx context.Context, database, table string) ([]string, bool, error) {
	query := fmt.Sprintf(
		"SELECT sorting_key FROM system.tables WHERE database = %s AND name = %s FORMAT TabSeparated",
		quoteLiteral(database), quoteLiteral(table),
	)
	body, err := w.query(ctx, query)
	if err != nil {
		return nil, false, fmt.Errorf("clickhouse: check existing table %s: %w", table, err)
	}
	line := strings.TrimSpace(string(body))
	if line == "" {
		return nil, false, nil
	}
	parts := strings.Split(line, ", ")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, true, nil
}

func (w *Writer) query(ctx context.Context, query string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.endpoint("", query), nil)
	if err != nil {
		return nil, err
	}
	if w.conn.Username != "" {
		req.SetBasicAuth(w.conn.Username, w.conn.Password)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s", readErrorBody(resp))
	}
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sameKey(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// AlterAddColumns issues ALTER TABLE ... ADD COLUMN IF NOT EXISTS per new
// column, in ordinal order, per §4.2 and §4.7's additive-only reconciler.
func (w *Writer) AlterAddColumns(ctx context.Context, database, table string, cols []types.ColumnSpec) error {
	sorted := append([]types.ColumnSpec(nil), cols...)
	sortByOrdinal(sorted)

	for _, col := range sorted {
		chType := typemap.MapType(col.SourceType, col.Nullable)
		stmt := fmt.Sprintf("ALTER TABLE %s.%s ADD COLUMN IF NOT EXISTS %s %s",
			quoteIdent(database), quoteIdent(table), quoteIdent(col.Name), chType)
		if err := w.exec(ctx, database, stmt); err != nil {
			return fmt.Errorf("clickhouse: alter add column %s.%s: %w", table, col.Name, err)
		}
		metrics.SchemaAlters.WithLabelValues(table).Inc()
		logging.Info(ctx, "clickhouse: added column %s %s to %s.%s", col.Name, chType, database, table)
	}
	return nil
}

func sortByOrdinal(cols []types.ColumnSpec) {
	for i := 1; i < len(cols); i++ {
		for j := i; j > 0 && cols[j].Ordinal < cols[j-1].Ordinal; j-- {
			cols[j], cols[j-1] = cols[j-1], cols[j]
		}
	}
}

// TruncateTable implements the Truncate ChangeOp as a single TRUNCATE
// TABLE statement rather than per-row deletes, per §4.2.
func (w *Writer) TruncateTable(ctx context.Context, database, table string) error {
	stmt := fmt.Sprintf("TRUNCATE TABLE %s.%s", quoteIdent(database), quoteIdent(table))
	if err := w.exec(ctx, database, stmt); err != nil {
		return fmt.Errorf("clickhouse: truncate %s: %w", table, err)
	}
	return nil
}

// InsertBatch packs rows into one INSERT INTO ... FORMAT JSONEachRow
// call. _version is versionBase + row index; _sign is +1 for
// Insert/Update and -1 for Delete. Delete rows carry real PK values and
// the type's zero value for every non-PK column, since a superseding
// version discards them on merge anyway. A column present in schema but
// absent from a row (Postgres UNCHANGED-TOAST, a partial Mongo image) is
// filled with the same zero value — a documented fidelity loss, not a
// bug (§4.4).
func (w *Writer) InsertBatch(ctx context.Context, database, table string, schema types.TableSchema, op types.OpKind, rows []types.Row, versionBase uint64) error {
	if len(rows) == 0 {
		return nil
	}
	if op == types.OpTruncate {
		return fmt.Errorf("clickhouse: InsertBatch called with OpTruncate for %s, use TruncateTable", table)
	}

	sign := int8(1)
	if op == types.OpDelete {
		sign = -1
	}

	columnNames := make([]string, 0, len(schema.Columns)+2)
	for _, c := range schema.Columns {
		columnNames = append(columnNames, c.Name)
	}
	columnNames = append(columnNames, "_version", "_sign")

	var body bytes.Buffer
	for i, row := range rows {
		if op == types.OpDelete {
			keyOnly := make(types.Row, len(schema.PrimaryKey))
			for _, k := range schema.PrimaryKey {
				if v, ok := row[k]; ok {
					keyOnly[k] = v
				}
			}
			row = keyOnly
		}
		obj, err := encodeRow(schema, row, versionBase+uint64(i), sign)
		if err != nil {
			return fmt.Errorf("clickhouse: encode row %d for %s: %w", i, table, err)
		}
		body.Write(obj)
		body.WriteByte('\n')
	}

	quotedCols := make([]string, len(columnNames))
	for i, c := range columnNames {
		quotedCols[i] = quoteIdent(c)
	}
	query := fmt.Sprintf("INSERT INTO %s.%s (%s) FORMAT JSONEachRow",
		quoteIdent(database), quoteIdent(table), strings.Join(quotedCols, ", "))

	if err := w.do(ctx, w.endpoint(database, query), body.Bytes()); err != nil {
		return fmt.Errorf("clickhouse: insert batch into %s: %w", table, err)
	}
	metrics.RowsInserted.Add(float64(len(rows)))
	metrics.BatchesWritten.WithLabelValues(table).Inc()
	return nil
}

func readErrorBody(resp *http.Response) string {
	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	msg := strings.TrimSpace(buf.String())
	if msg == "" {
		msg = resp.Status
	}
	return fmt.Sprintf("status %s: %s", resp.Status, msg)
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "\\'") + "'"
}
