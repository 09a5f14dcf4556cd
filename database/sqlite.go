package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-file store for local runs and tests.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens path (":memory:" for an in-process database).
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer at a time; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	log.Infow("opened SQLite database", "path", path)
	return &SQLiteStore{db: db}, nil
}

// Init creates the tables when missing.
func (s *SQLiteStore) Init() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS rate_limits (
			identity TEXT NOT NULL,
			window_start TIMESTAMP NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			expires_at TIMESTAMP NOT NULL,
			PRIMARY KEY (identity, window_start)
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("create sqlite tables: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
