package config

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS device_locations (
	id         BIGSERIAL PRIMARY KEY,
	device_id  TEXT NOT NULL,
	latitude   DOUBLE PRECISION NOT NULL,
	longitude  DOUBLE PRECISION NOT NULL,
	accuracy   DOUBLE PRECISION,
	altitude   DOUBLE PRECISION,
	timestamp  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS device_locations_device_ts ON device_locations (device_id, timestamp);

CREATE TABLE IF NOT EXISTS waypoints (
	id              BIGSERIAL PRIMARY KEY,
	description     TEXT NOT NULL,
	latitude        DOUBLE PRECISION NOT NULL,
	longitude       DOUBLE PRECISION NOT NULL,
	radius          DOUBLE PRECISION NOT NULL,
	last_transition SMALLINT NOT NULL DEFAULT 0,
	last_triggered  TIMESTAMPTZ,
	tst             TIMESTAMPTZ NOT NULL
);
`

func NewPostgres(cfg *Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the tables the tracker needs if they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres schema: %w", err)
	}
	return nil
}
