package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const (
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

// DB wraps the SQL connection. The same queries serve both backends; sqlx
// rebinds placeholders for the driver in use.
type DB struct {
	conn   *sqlx.DB
	driver string
}

// New opens or creates an SQLite database at the given path.
func New(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	conn, err := sqlx.Open(driverSQLite, path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection serializes writers; pragmas apply to it for its lifetime.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	db := &DB{conn: conn, driver: driverSQLite}
	if err := db.migrate(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Open picks the backend by driver name.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	switch driver {
	case driverSQLite:
		return New(dsn)
	case driverPostgres:
		return NewPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// NewWithConn wraps an existing connection without migrating. Used by tests.
func NewWithConn(conn *sqlx.DB) *DB {
	return &DB{conn: conn, driver: conn.DriverName()}
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	if db.driver == driverPostgres {
		return "PostgreSQL"
	}
	return "SQLite"
}

// SupportsHighConcurrency returns true for PostgreSQL.
func (db *DB) SupportsHighConcurrency() bool {
	return db.driver == driverPostgres
}

// Ping runs a trivial query against the backend.
func (db *DB) Ping(ctx context.Context) error {
	var one int
	if err := db.conn.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return fmt.Errorf("ping %s: %w", db.DatabaseType(), err)
	}
	return nil
}

func (db *DB) migrate(statements []string) error {
	for _, stmt := range statements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS feeds (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		category TEXT,
		update_interval INTEGER,
		last_fetched_at DATETIME,
		last_status TEXT,
		error_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		feed_id TEXT NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		url TEXT NOT NULL,
		author TEXT,
		content TEXT,
		summary TEXT,
		published_at DATETIME,
		is_read INTEGER NOT NULL DEFAULT 0,
		is_starred INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(feed_id, url)
	)`,
	`CREATE TABLE IF NOT EXISTS site_icons (
		id TEXT PRIMARY KEY,
		domain TEXT NOT NULL UNIQUE,
		icon_url TEXT,
		icon_data TEXT,
		icon_type TEXT,
		icon_size INTEGER,
		last_fetched DATETIME,
		expires_at DATETIME,
		error_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_feed_id ON entries(feed_id)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_published_at ON entries(published_at)`,
	`CREATE INDEX IF NOT EXISTS idx_feeds_error_count ON feeds(error_count)`,
	`CREATE INDEX IF NOT EXISTS idx_site_icons_expires_at ON site_icons(expires_at)`,
}
