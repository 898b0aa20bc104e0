package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nerrad567/provisiond/internal/infrastructure/database"
)

// SQLiteKV stores the namespace in the kv table of the credential database.
type SQLiteKV struct {
	db  *database.DB
	now func() time.Time
}

// NewSQLiteKV wraps an opened and migrated database.
func NewSQLiteKV(db *database.DB) *SQLiteKV {
	return &SQLiteKV{db: db, now: time.Now}
}

// Get implements KV.
func (s *SQLiteKV) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %w", ErrStorage, key, err)
	}
	return value, nil
}

// GetMany implements KV with a single SELECT so the result is one snapshot.
func (s *SQLiteKV) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM kv WHERE key IN ("+placeholders+")", args...) //nolint:gosec // Placeholders only
	if err != nil {
		return nil, fmt.Errorf("%w: querying: %w", ErrStorage, err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("%w: scanning: %w", ErrStorage, err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating: %w", ErrStorage, err)
	}
	return out, nil
}

// Apply implements KV. Sets are applied in key order, then erases.
func (s *SQLiteKV) Apply(ctx context.Context, sets map[string]string, erases []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrStorage, err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	keys := make([]string, 0, len(sets))
	for k := range sets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	stamp := s.now().UTC().Format(time.RFC3339)
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			k, sets[k], stamp,
		); err != nil {
			return fmt.Errorf("%w: writing %s: %w", ErrStorage, k, err)
		}
	}
	for _, k := range erases {
		if _, err := tx.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", k); err != nil {
			return fmt.Errorf("%w: erasing %s: %w", ErrStorage, k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrStorage, err)
	}
	return nil
}
