// C5 source-managed cursor backend: the replication slot itself is the
// cursor. Load queries the slot's confirmed_flush_lsn; Save
// is the protocol-level Standby Status Update issued by Decoder.Ack, so
// SourceCursor.Save simply delegates to the same decoder the sync loop
// already drives.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/myyrakle/clockpipe/internal/types"
)

type SourceCursor struct {
	conn     *pgx.Conn
	slotName string
	decoder  *Decoder
}

func NewSourceCursor(conn *pgx.Conn, slotName string, decoder *Decoder) *SourceCursor {
	return &SourceCursor{conn: conn, slotName: slotName, decoder: decoder}
}

// Load returns the slot's confirmed_flush_lsn, the "first run" sentinel
// position contract that load() returns the last
// successfully saved token.
func (c *SourceCursor) Load(ctx context.Context) (types.OpaqueBytes, error) {
	var confirmedFlush *string
	err := c.conn.QueryRow(ctx, `SELECT confirmed_flush_lsn::text FROM pg_replication_slots WHERE slot_name = $1`, c.slotName).Scan(&confirmedFlush)
	if err != nil {
		return nil, fmt.Errorf("postgres: load cursor for slot %s: %w", c.slotName, err)
	}
	if confirmedFlush == nil {
		return nil, nil
	}
	return types.OpaqueBytes(*confirmedFlush), nil
}

// Save issues a Standby Status Update carrying the confirmed flush LSN
// and returns once the update is sent; the replication protocol carries
// no acknowledgement of it back from the server.
func (c *SourceCursor) Save(ctx context.Context, token types.OpaqueBytes) error {
	return c.decoder.Ack(ctx, token)
}
