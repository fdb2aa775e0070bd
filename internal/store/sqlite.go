package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteBackend stores snapshot blobs in a local SQLite database, one
// row per account.
type SQLiteBackend struct {
	db  *sqlx.DB
	key string
}

// NewSQLiteBackend opens (or creates) the database at dbPath, enables
// WAL mode, runs any pending schema migrations, and scopes the backend
// to the given account ID.
func NewSQLiteBackend(dbPath, accountID string) (*SQLiteBackend, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	b := &SQLiteBackend{db: db, key: accountID}
	if err := b.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return b, nil
}

// Close closes the underlying database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (b *SQLiteBackend) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := b.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = b.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := b.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Load returns the stored blob for this account, or nil when nothing
// was saved yet.
func (b *SQLiteBackend) Load(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := b.db.GetContext(ctx, &payload,
		"SELECT payload FROM snapshots WHERE account_id = ?", b.key,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot for %s: %w", b.key, err)
	}
	return payload, nil
}

// Save writes the blob for this account, replacing any previous row.
func (b *SQLiteBackend) Save(ctx context.Context, blob []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshots (account_id, payload, updated_at)
		VALUES (?, ?, ?)`,
		b.key, blob, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("writing snapshot for %s: %w", b.key, err)
	}
	return nil
}
