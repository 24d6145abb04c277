// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package pgstore is the PostgreSQL implementation of core.Store,
// built on github.com/lib/pq and github.com/rubenv/sql-migrate over
// the planet/worker/task_history schema.
package pgstore

import (
	"database/sql"
	"strings"

	_ "github.com/lib/pq"

	migrate "github.com/rubenv/sql-migrate"
)

// Store is a Postgres-backed core.Store. It carries its own
// connection pool and should be constructed once per process and
// shared.
type Store struct {
	db *sql.DB
}

var migrationSource = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "0001-initial",
			Up: []string{
				`CREATE TABLE planets (
					planet_id TEXT PRIMARY KEY,
					season_id INTEGER NOT NULL,
					round_id INTEGER NOT NULL,
					current_round_number INTEGER NOT NULL,
					next_round_time TIMESTAMPTZ NOT NULL,
					status INTEGER NOT NULL,
					last_processed TIMESTAMPTZ,
					processing_server_id TEXT NOT NULL DEFAULT '',
					error_retry_count INTEGER NOT NULL DEFAULT 0,
					version BIGINT NOT NULL DEFAULT 1
				)`,
				`CREATE INDEX planets_status_idx ON planets (status)`,
				`CREATE TABLE workers (
					server_id TEXT PRIMARY KEY,
					server_ip TEXT NOT NULL DEFAULT '',
					status INTEGER NOT NULL,
					last_heartbeat TIMESTAMPTZ,
					idle_cpu DOUBLE PRECISION NOT NULL DEFAULT 0,
					max_cpu DOUBLE PRECISION NOT NULL DEFAULT 0,
					idle_ram DOUBLE PRECISION NOT NULL DEFAULT 0,
					max_ram DOUBLE PRECISION NOT NULL DEFAULT 0,
					disk DOUBLE PRECISION NOT NULL DEFAULT 0,
					current_task TEXT NOT NULL DEFAULT '',
					total_assigned INTEGER NOT NULL DEFAULT 0,
					total_completed INTEGER NOT NULL DEFAULT 0,
					total_failed INTEGER NOT NULL DEFAULT 0,
					connected_at TIMESTAMPTZ,
					disconnected_at TIMESTAMPTZ,
					version BIGINT NOT NULL DEFAULT 1
				)`,
				`CREATE TABLE task_history (
					id BIGSERIAL PRIMARY KEY,
					planet_id TEXT NOT NULL,
					server_id TEXT NOT NULL,
					start_time TIMESTAMPTZ NOT NULL,
					end_time TIMESTAMPTZ,
					status INTEGER NOT NULL,
					error_message TEXT NOT NULL DEFAULT '',
					duration_seconds DOUBLE PRECISION
				)`,
				`CREATE INDEX task_history_lookup_idx ON task_history (planet_id, server_id, start_time DESC)`,
			},
			Down: []string{
				`DROP TABLE task_history`,
				`DROP TABLE workers`,
				`DROP TABLE planets`,
			},
		},
	},
}

// New opens a Postgres connection pool and upgrades the schema to the
// latest migration. connectionString follows github.com/lib/pq's
// rules: a key=value DSN, a postgres:// URL, or a schemeless URL.
func New(connectionString string) (*Store, error) {
	if strings.HasPrefix(connectionString, "//") {
		connectionString = "postgres:" + connectionString
	}
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, err
	}
	if err := Upgrade(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Upgrade runs every pending migration against db.
func Upgrade(db *sql.DB) error {
	_, err := migrate.Exec(db, "postgres", migrationSource, migrate.Up)
	return err
}

// Drop reverses every migration, dropping all tables. Intended for
// test teardown.
func Drop(db *sql.DB) error {
	_, err := migrate.Exec(db, "postgres", migrationSource, migrate.Down)
	return err
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
