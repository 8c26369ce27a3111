package prefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bitrise-io/go-chunkupload/prefs/migrations"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps preferences in a `preferences` table; every put is a single upsert.
type SQLiteStore struct {
	db *sql.DB
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// OpenSQLite opens (or creates) the database at dsn and migrates it.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers and keeps `:memory:` databases shared.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("migrate %s: %w", dsn, err)
	}
	return &SQLiteStore{db: db}, nil
}

// GetString ...
func (s *SQLiteStore) GetString(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get preference[%s]: %w", key, err)
	}
	return value, true, nil
}

// PutString ...
func (s *SQLiteStore) PutString(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set preference[%s]: %w", key, err)
	}
	return nil
}

// Close ...
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
