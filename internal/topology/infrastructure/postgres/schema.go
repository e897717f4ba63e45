package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schema = `
CREATE TABLE IF NOT EXISTS hub_sensors (
	hub_id TEXT NOT NULL,
	id TEXT NOT NULL,
	device_type TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (hub_id, id)
);
CREATE TABLE IF NOT EXISTS hub_scenarios (
	id BIGSERIAL PRIMARY KEY,
	hub_id TEXT NOT NULL,
	name TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (hub_id, name)
);
CREATE TABLE IF NOT EXISTS scenario_conditions (
	scenario_id BIGINT NOT NULL REFERENCES hub_scenarios(id) ON DELETE CASCADE,
	position INT NOT NULL,
	sensor_id TEXT NOT NULL,
	type TEXT NOT NULL,
	operation TEXT NOT NULL,
	value INT NULL,
	PRIMARY KEY (scenario_id, position)
);
CREATE INDEX IF NOT EXISTS scenario_conditions_sensor_idx ON scenario_conditions (sensor_id);
CREATE TABLE IF NOT EXISTS scenario_actions (
	scenario_id BIGINT NOT NULL REFERENCES hub_scenarios(id) ON DELETE CASCADE,
	position INT NOT NULL,
	sensor_id TEXT NOT NULL,
	type TEXT NOT NULL,
	value INT NULL,
	PRIMARY KEY (scenario_id, position)
);
CREATE INDEX IF NOT EXISTS scenario_actions_sensor_idx ON scenario_actions (sensor_id);
`

// Open opens a pgx-backed database and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("topology repo: empty dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("topology repo: ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the topology tables when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("topology repo: nil db")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("topology repo: ensure schema: %w", err)
	}
	return nil
}
