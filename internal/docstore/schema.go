// Package docstore is the SQLite-backed document collection tagdex scans,
// counts, indexes and writes back to. Documents are JSON bodies whose tag
// fields are keyed by serial.
package docstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	body       TEXT NOT NULL DEFAULT '{}',
	checksum   TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tags (
	serial       INTEGER PRIMARY KEY,
	identifier   TEXT NOT NULL UNIQUE,
	offset_paths TEXT NOT NULL DEFAULT '[]',
	unit_count   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS recommit_checkpoints (
	run_id     TEXT PRIMARY KEY,
	query      TEXT NOT NULL DEFAULT '{}',
	skip       INTEGER NOT NULL DEFAULT 0,
	last_key   INTEGER NOT NULL DEFAULT 0,
	keyset     INTEGER NOT NULL DEFAULT 0,
	processed  INTEGER NOT NULL DEFAULT 0,
	failed     INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// DB wraps a sql.DB with collection-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("docstore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, wrapErr("ping", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("docstore: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the store is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return wrapErr("ping", db.conn.PingContext(ctx))
}
