// C7 for Postgres: COPY (SELECT <schema columns> FROM schema.table) TO
// STDOUT on the ordinary query connection, streamed in copy_batch_size
// batches into the sink with _version = 0. The COPY is not run inside the
// snapshot exported by slot creation; it reads the table as of the moment
// the statement starts.
package postgres

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/myyrakle/clockpipe/internal/source"
	"github.com/myyrakle/clockpipe/internal/types"
)

// BulkCopy streams every row of schema's table to sink in batches of
// batchSize, at _version = 0.
func BulkCopy(ctx context.Context, conn *pgx.Conn, schema types.TableSchema, batchSize int64, sink source.Sink) error {
	columnNames := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		columnNames[i] = c.Name
	}

	qualified := fmt.Sprintf("%s.%s", schema.SourceRef.Schema, schema.SourceRef.Name)
	sql := fmt.Sprintf("COPY (SELECT %s FROM %s) TO STDOUT", strings.Join(quoteAll(columnNames), ", "), qualified)

	pr, pw := io.Pipe()
	copyErrCh := make(chan error, 1)
	go func() {
		_, err := conn.PgConn().CopyTo(ctx, pw, sql)
		pw.CloseWithError(err)
		copyErrCh <- err
	}()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var batch []types.Row
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := sink.InsertBatch(ctx, schema.SourceRef, schema, batch, 0); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		row, err := decodeCopyLine(line, schema.Columns)
		if err != nil {
			return fmt.Errorf("postgres: decode copy line for %s: %w", schema.SourceRef, err)
		}
		batch = append(batch, row)
		if int64(len(batch)) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("postgres: scan copy stream for %s: %w", schema.SourceRef, err)
	}
	if err := flush(); err != nil {
		return err
	}

	if err := <-copyErrCh; err != nil && err != io.EOF {
		return fmt.Errorf("postgres: copy to stdout for %s: %w", schema.SourceRef, err)
	}
	return nil
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdentPG(n)
	}
	return out
}

// decodeCopyLine parses one line of Postgres's COPY TEXT format:
// tab-separated values, "\N" for SQL NULL, and a small set of backslash
// escapes (\t, \n, \\). Each field is parsed according to its column's
// type the same way pgoutput's textual columns are (ValueFromText), so a
// bulk-copied row and a later CDC row for the same column decode to the
// same Value representation.
func decodeCopyLine(line []byte, columns []types.ColumnSpec) (types.Row, error) {
	fields := bytes.Split(line, []byte{'\t'})
	if len(fields) != len(columns) {
		return nil, fmt.Errorf("expected %d columns, got %d", len(columns), len(fields))
	}

	row := make(types.Row, len(columns))
	for i, raw := range fields {
		if string(raw) == `\N` {
			continue // absent, per spec's NULL -> absent convention (§4.4)
		}
		unescaped := unescapeCopyText(raw)
		v, err := ValueFromText(columns[i].SourceType.Name, []byte(unescaped))
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", columns[i].Name, err)
		}
		row[columns[i].Name] = v
	}
	return row, nil
}

func unescapeCopyText(raw []byte) string {
	s := string(raw)
	replacer := strings.NewReplacer(`\t`, "\t", `\n`, "\n", `\r`, "\r", `\\`, `\`)
	return replacer.Replace(s)
}
