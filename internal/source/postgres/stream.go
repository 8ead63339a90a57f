// Network half of C4a: tails the logical replication stream with
// pglogrepl/pgconn's START_REPLICATION protocol, feeding decoded messages
// through decode.go's pure translation and standby status keepalives.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"go.opentelemetry.io/otel"

	"github.com/myyrakle/clockpipe/internal/logging"
	"github.com/myyrakle/clockpipe/internal/source"
	"github.com/myyrakle/clockpipe/internal/types"
)

// ErrSlotLost is the non-retryable error returned once the server reports
// the slot's wal_status as lost.
var ErrSlotLost = errors.New("postgres: replication slot lost")

const standbyMessageTimeout = 10 * time.Second

// Decoder tails one logical replication slot. It owns the relation cache
// and the open transaction frame; no external component references
// either, so there is no cyclic dependency between decoding a Relation
// message and interpreting the stream it arrived in.
type Decoder struct {
	// queryConn is the plain (non-replication) connection used to poll
	// pg_replication_slots.wal_status; the replication connection itself
	// speaks only the replication protocol and cannot run a SQL query.
	queryConn *pgx.Conn
	conn      *pgconn.PgConn
	slotName  string
	cache     *RelationCache
	refOf     func(namespace, name string) types.SourceRef

	clientXLogPos pglogrepl.LSN
	// inFrame is true between a Begin and its matching Commit; per spec
	// §4.4, Insert/Update/Delete/Truncate are only meaningful while a
	// frame is open.
	inFrame bool

	nextStandbyDeadline time.Time
}

func NewDecoder(queryConn *pgx.Conn, conn *pgconn.PgConn, slotName string, startLSN pglogrepl.LSN, refOf func(namespace, name string) types.SourceRef) *Decoder {
	return &Decoder{
		queryConn:           queryConn,
		conn:                conn,
		slotName:            slotName,
		cache:               NewRelationCache(),
		refOf:               refOf,
		clientXLogPos:       startLSN,
		nextStandbyDeadline: time.Now().Add(standbyMessageTimeout),
	}
}

// checkSlotStatus polls pg_replication_slots.wal_status for this
// decoder's slot and returns ErrSlotLost once the server reports it as
// "lost" (§4.4: "if the slot is reported lost, the decoder fails with a
// non-retryable SlotLost error"). A missing row (slot dropped entirely)
// is treated the same way, since no lost-slot event can arrive afterward.
func (d *Decoder) checkSlotStatus(ctx context.Context) error {
	var walStatus *string
	err := d.queryConn.QueryRow(ctx, `SELECT wal_status FROM pg_replication_slots WHERE slot_name = $1`, d.slotName).Scan(&walStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSlotLost
		}
		return fmt.Errorf("postgres: check slot status: %w", err)
	}
	if walStatus != nil && *walStatus == "lost" {
		return ErrSlotLost
	}
	return nil
}

// Peek reads up to limit decoded ChangeRecords from the wire, returning
// early (possibly with zero records, marked Empty) once no further data
// arrives within the inner timeout. It never buffers more than limit
// records in flight.
func (d *Decoder) Peek(ctx context.Context, limit int64) source.PeekResult {
	tr := otel.Tracer("clockpipe")
	ctx, span := tr.Start(ctx, "postgres.peek")
	defer span.End()

	var changes []types.ChangeRecord
	var schemaChanges []types.TableSchema
	var lastLSN pglogrepl.LSN

	for int64(len(changes)) < limit {
		if time.Now().After(d.nextStandbyDeadline) {
			if err := d.checkSlotStatus(ctx); err != nil {
				return source.PeekResult{Err: err}
			}
			if err := d.sendStandbyStatus(ctx); err != nil {
				return source.PeekResult{Err: err, Transient: true}
			}
		}

		innerCtx, cancel := context.WithTimeout(ctx, standbyMessageTimeout)
		rawMsg, err := d.conn.ReceiveMessage(innerCtx)
		cancel()

		if err != nil {
			if pgconn.Timeout(err) {
				break
			}
			if errors.Is(err, context.Canceled) {
				return source.PeekResult{Empty: true}
			}
			return source.PeekResult{Err: fmt.Errorf("postgres: receive message: %w", err), Transient: true}
		}

		cd, ok := rawMsg.(*pgproto3.CopyData)
		if !ok {
			continue
		}
		if len(cd.Data) == 0 {
			continue
		}

		switch cd.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(cd.Data[1:])
			if err != nil {
				return source.PeekResult{Err: fmt.Errorf("postgres: parse keepalive: %w", err), Transient: true}
			}
			if pkm.ReplyRequested {
				d.nextStandbyDeadline = time.Time{}
			}

		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(cd.Data[1:])
			if err != nil {
				return source.PeekResult{Err: fmt.Errorf("postgres: parse xlogdata: %w", err), Transient: true}
			}

			recs, schemaChange, newLSN, err := d.handleWALData(ctx, xld)
			if err != nil {
				return source.PeekResult{Err: err}
			}
			if newLSN > d.clientXLogPos {
				d.clientXLogPos = newLSN
			}
			if len(recs) > 0 {
				changes = append(changes, recs...)
				lastLSN = d.clientXLogPos
			}
			if len(schemaChange) > 0 {
				schemaChanges = append(schemaChanges, schemaChange...)
			}
		}
	}

	if len(changes) == 0 {
		return source.PeekResult{Empty: true, SchemaChanges: schemaChanges}
	}

	return source.PeekResult{
		Changes:       changes,
		LastToken:     types.OpaqueBytes(lastLSN.String()),
		SchemaChanges: schemaChanges,
	}
}

// handleWALData decodes one WAL record's logical message and, for
// Begin/Commit, updates the transaction frame. The second return value
// carries any schema-drift signal produced by a re-emitted Relation
// message (see TranslateMessage), independent of the transaction frame:
// a Relation message is metadata, not a row change, so it is surfaced
// even while inFrame is false.
func (d *Decoder) handleWALData(ctx context.Context, xld pglogrepl.XLogData) ([]types.ChangeRecord, []types.TableSchema, pglogrepl.LSN, error) {
	logicalMsg, err := pglogrepl.Parse(xld.WALData)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("postgres: parse logical message: %w", err)
	}

	switch m := logicalMsg.(type) {
	case *pglogrepl.BeginMessage:
		d.inFrame = true
		return nil, nil, xld.WALStart, nil

	case *pglogrepl.CommitMessage:
		d.inFrame = false
		return nil, nil, m.TransactionEndLSN, nil

	case *pglogrepl.TruncateMessage:
		if !d.inFrame {
			return nil, nil, xld.WALStart, nil
		}
		recs, err := TranslateTruncate(d.cache, m, d.refOf)
		if err != nil {
			return nil, nil, 0, err
		}
		return recs, nil, xld.WALStart, nil

	default:
		rec, schemaChange, err := TranslateMessage(d.cache, logicalMsg, d.refOf)
		if err != nil {
			return nil, nil, 0, err
		}
		var schemaChanges []types.TableSchema
		if schemaChange != nil {
			schemaChanges = []types.TableSchema{*schemaChange}
		}
		if rec == nil || !d.inFrame {
			return nil, schemaChanges, xld.WALStart, nil
		}
		return []types.ChangeRecord{*rec}, schemaChanges, xld.WALStart, nil
	}
}

func (d *Decoder) sendStandbyStatus(ctx context.Context) error {
	err := pglogrepl.SendStandbyStatusUpdate(ctx, d.conn, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: d.clientXLogPos,
	})
	d.nextStandbyDeadline = time.Now().Add(standbyMessageTimeout)
	if err != nil {
		logging.Error(ctx, "postgres: standby status update failed: %v", err)
	}
	return err
}

// Ack sends a standby status update for the acknowledged LSN, treating it
// as the confirmed flush position.
func (d *Decoder) Ack(ctx context.Context, token types.OpaqueBytes) error {
	lsn, err := pglogrepl.ParseLSN(string(token))
	if err != nil {
		return fmt.Errorf("postgres: ack: parse lsn %q: %w", string(token), err)
	}
	return pglogrepl.SendStandbyStatusUpdate(ctx, d.conn, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: lsn,
		WALFlushPosition: lsn,
		WALApplyPosition: lsn,
	})
}
