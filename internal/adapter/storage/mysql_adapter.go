package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const (
	createSnapshotTableQuery = `
		CREATE TABLE IF NOT EXISTS cart_snapshots (
			snapshot_key VARCHAR(191) NOT NULL PRIMARY KEY,
			payload      MEDIUMTEXT   NOT NULL,
			version      INT          NOT NULL DEFAULT 0,
			created_at   TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at   TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`

	selectSnapshotQuery = `SELECT payload FROM cart_snapshots WHERE snapshot_key = ?`

	upsertSnapshotQuery = `
		INSERT INTO cart_snapshots (snapshot_key, payload, version)
		VALUES (?, ?, 0)
		ON DUPLICATE KEY UPDATE payload = VALUES(payload), version = version + 1, updated_at = NOW()`
)

// MySQLAdapter stores cart snapshots in the cart_snapshots table, one row
// per key. Every overwrite bumps the row version.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// EnsureSchema creates the snapshot table if it does not exist.
func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, createSnapshotTableQuery); err != nil {
		return fmt.Errorf("create cart_snapshots: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) Get(ctx context.Context, key string) (string, bool, error) {
	var payload string
	err := m.db.QueryRowContext(ctx, selectSnapshotQuery, key).Scan(&payload)

	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query snapshot: %w", err)
	}

	return payload, true, nil
}

func (m *MySQLAdapter) Set(ctx context.Context, key, value string) error {
	if _, err := m.db.ExecContext(ctx, upsertSnapshotQuery, key, value); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}
