// Package database provides the embedded SQLite client and migration
// utilities. A single shared connection serializes all writers, which keeps
// SQLITE_BUSY out of the picture for the per-chat write patterns the
// orchestrator produces.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Client wraps the SQL handle.
type Client struct {
	db *sql.DB
}

// DB returns the underlying database handle.
func (c *Client) DB() *sql.DB { return c.db }

// Close closes the database.
func (c *Client) Close() error { return c.db.Close() }

// NewClient opens (creating if needed) the SQLite database at path and runs
// all pending migrations. Use ":memory:" for tests.
func NewClient(ctx context.Context, path string) (*Client, error) {
	var dsn string
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(ON)"
	} else {
		// busy_timeout guards the brief window where the migration driver
		// holds its own connection alongside ours.
		dsn = fmt.Sprintf("file:%s?%s", path, url.Values{
			"_pragma": []string{"busy_timeout(5000)", "journal_mode(WAL)", "foreign_keys(ON)"},
		}.Encode())
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Client{db: db}, nil
}

// Health pings the database with the caller's deadline.
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "loom", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the source driver. m.Close() would also close the database
	// driver, which closes the shared *sql.DB.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}
	return nil
}
