// Package sqlite implements the repository interfaces on top of SQLite.
//
// WHY SQLITE FOR A DOCUMENT STORE?
// The application only needs collections of JSON documents, atomic batches
// and change notification. SQLite gives us the first two in one embedded
// file; the third is an in-process hub (watch.go) that wakes listeners after
// every committed write.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite: no CGo, no C compiler, trivial
// cross-compilation.
//
// STORAGE LAYOUT:
//
//	documents(collection, id, data, updated_at)   -- PRIMARY KEY (collection, id)
//	kv(key, value, updated_at)                    -- local key/value store
package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"

	// BLANK IMPORT:
	// The driver registers itself with database/sql as "sqlite" in its init().
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and the change hub.
type DB struct {
	conn   *sql.DB
	hub    *hub
	logger *slog.Logger
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/crono.db"  → file-based database (persistent)
//   - ":memory:"       → in-memory database (tests)
//
// SINGLE CONNECTION:
// The pool is capped at one connection. Transactions are therefore
// serialised, which is what gives RunTransaction its read-check-write
// atomicity, and ":memory:" databases stay a single database instead of one
// per pooled connection.
func New(dbPath string, logger *slog.Logger) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets other processes read the file while this one writes.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{
		conn:   conn,
		logger: logger,
	}
	db.hub = newHub(db, logger)

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close stops every live subscription, then closes the connection pool.
func (db *DB) Close() error {
	db.hub.stopAll()
	return db.conn.Close()
}

// migrate creates the tables. CREATE ... IF NOT EXISTS keeps it idempotent.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			data       TEXT NOT NULL DEFAULT '{}',
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (collection, id)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating documents table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating kv table: %w", err)
	}

	return nil
}
