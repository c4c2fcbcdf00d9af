// Package pg implements the remote store contract on top of Postgres.
// Each record is a row in sync_kv keyed by (collection, id) with the
// record's JSON document as the value.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Store is a Postgres-backed remote store.
type Store struct {
	db *sql.DB
}

// NewStore initializes a store over an open connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the sync_kv table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS sync_kv (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (collection, id)
		)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create sync_kv table: %w", err)
	}
	return nil
}

// GetAll fetches every record in the collection.
func (s *Store) GetAll(ctx context.Context, collection string) (map[string]json.RawMessage, error) {
	query := `SELECT id, doc FROM sync_kv WHERE collection = $1`
	rows, err := s.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch collection %s: %w", collection, err)
	}
	defer rows.Close()

	records := make(map[string]json.RawMessage)
	for rows.Next() {
		var id string
		var doc []byte
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records[id] = json.RawMessage(doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read collection %s: %w", collection, err)
	}
	return records, nil
}

// PutAll replaces the collection inside a single transaction.
func (s *Store) PutAll(ctx context.Context, collection string, records map[string]json.RawMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_kv WHERE collection = $1`, collection); err != nil {
		return fmt.Errorf("failed to clear collection %s: %w", collection, err)
	}

	insert := `
		INSERT INTO sync_kv (collection, id, doc, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)`
	for id, doc := range records {
		if _, err := tx.ExecContext(ctx, insert, collection, id, []byte(doc)); err != nil {
			return fmt.Errorf("failed to insert record %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit collection %s: %w", collection, err)
	}
	return nil
}
