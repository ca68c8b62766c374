package database

import (
	"context"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/sentinel-nexus/sentinel/internal/config"
)

func Connect() (*sqlx.DB, error) {
	dsn := config.DatabaseDSN()
	return sqlx.Connect("pgx", dsn)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS readings (
		id BIGSERIAL PRIMARY KEY,
		device_id TEXT NOT NULL,
		energy_wh DOUBLE PRECISION NOT NULL,
		power_w DOUBLE PRECISION NOT NULL,
		voltage_v DOUBLE PRECISION,
		current_a DOUBLE PRECISION,
		ts TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS readings_device_ts_idx ON readings (device_id, ts DESC)`,
	`CREATE INDEX IF NOT EXISTS readings_ts_idx ON readings (ts)`,
	`CREATE TABLE IF NOT EXISTS devices (
		device_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('meter','inverter','battery')),
		status TEXT NOT NULL CHECK (status IN ('online','offline')),
		registered_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate creates the readings and devices tables if they are missing.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
