package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the archive table. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS records (
    hash              TEXT        NOT NULL,
    address           TEXT        NOT NULL,
    network           TEXT        NOT NULL,
    state             TEXT        NOT NULL CHECK (state IN ('unconfirmed', 'confirmed')),
    signer            TEXT        NOT NULL DEFAULT '',
    message           TEXT        NOT NULL DEFAULT '',
    amount            DOUBLE PRECISION,
    direction         TEXT        NOT NULL DEFAULT '',
    height            BIGINT      NOT NULL DEFAULT 0,
    network_timestamp BIGINT,
    settled_at        TIMESTAMPTZ,
    source            TEXT        NOT NULL,
    seen_at           TIMESTAMPTZ NOT NULL,
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (hash, address)
);

CREATE INDEX IF NOT EXISTS records_address_seen_idx ON records (address, seen_at DESC);
`

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
