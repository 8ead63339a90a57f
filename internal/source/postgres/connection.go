package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/myyrakle/clockpipe/internal/config"
)

// dial opens a regular (non-replication) connection, used by the
// introspector and bulk copier.
func dial(ctx context.Context, conn config.PostgresConnection) (*pgx.Conn, error) {
	c, err := pgx.Connect(ctx, conn.ConnString())
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return c, nil
}

// dialReplication opens a connection in logical replication mode, the
// connection the decoder issues START_REPLICATION on.
func dialReplication(ctx context.Context, conn config.PostgresConnection) (*pgconn.PgConn, error) {
	connString := conn.ConnString() + "?replication=database"
	pgConn, err := pgconn.Connect(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect (replication): %w", err)
	}
	return pgConn, nil
}
