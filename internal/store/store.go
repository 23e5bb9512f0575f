// Package store provides the SQLite-backed persistence layer for the
// activation ledger and the application settings, using the pure-Go
// modernc.org/sqlite driver with goose-managed embedded migrations.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	// Register modernc SQLite driver with database/sql.
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config captures SQLite store configuration.
type Config struct {
	// Path is the database location or ":memory:" for tests.
	Path string
	// BusyTimeout configures the sqlite busy timeout pragma.
	BusyTimeout time.Duration
}

// Store wraps the SQLite database behind the activation and settings
// repositories.
type Store struct {
	db *sql.DB
}

// buildDSN assembles the modernc DSN: WAL journal, busy timeout, foreign
// keys, and immediate transactions so the activate check-then-insert takes
// its write lock up front.
func buildDSN(cfg Config) string {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	return fmt.Sprintf("file:%s?%s", cfg.Path, q.Encode())
}

// Open opens the database and applies all pending migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: database path is required")
	}
	db, err := sql.Open("sqlite", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	// SQLite allows a single writer; keep the pool at one connection so
	// the immediate transactions serialize instead of failing busy.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// gooseInitMu serializes goose's package-level state across concurrent
// Open calls in tests.
var gooseInitMu sync.Mutex

func applyMigrations(ctx context.Context, db *sql.DB) error {
	gooseInitMu.Lock()
	defer func() {
		goose.SetBaseFS(nil)
		gooseInitMu.Unlock()
	}()
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("store: set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("store: apply migrations: %w", err)
	}
	return nil
}
