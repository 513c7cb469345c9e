package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS lamp_state (
		id INTEGER PRIMARY KEY CHECK(id=1),
		is_on BOOLEAN NOT NULL,
		brightness INTEGER NOT NULL,
		color_r INTEGER NOT NULL,
		color_g INTEGER NOT NULL,
		color_b INTEGER NOT NULL,
		mode TEXT NOT NULL,
		last_trigger TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_interactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		action TEXT NOT NULL,
		is_on BOOLEAN NOT NULL,
		brightness INTEGER NOT NULL,
		color_r INTEGER NOT NULL,
		color_g INTEGER NOT NULL,
		color_b INTEGER NOT NULL,
		hour INTEGER NOT NULL,
		day_of_week INTEGER NOT NULL,
		is_weekend BOOLEAN NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_interactions_timestamp ON user_interactions(timestamp)`,
	`CREATE TABLE IF NOT EXISTS system_events (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		kind TEXT NOT NULL,
		event_trigger TEXT,
		detail TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS environmental_data (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		data_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		value REAL,
		details TEXT
	)`,
}

// Open opens (creating if needed) the sqlite database at path and applies
// the schema. sqlite allows one writer, so the pool is pinned to a single
// connection.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := ApplyMigrations(conn); err != nil {
		conn.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("Database ready")
	return conn, nil
}

func ApplyMigrations(conn *sql.DB) error {
	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return tx.Commit()
}

func marshalJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
