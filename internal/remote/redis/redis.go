// Package redis implements the remote store contract on top of Redis.
// Each collection lives in one hash: field = record id, value = the
// record's JSON document.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "synckv:"

// Store is a Redis-backed remote store.
type Store struct {
	client *redis.Client
}

// NewStore initializes a store over an existing client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// GetAll fetches every record in the collection's hash.
func (s *Store) GetAll(ctx context.Context, collection string) (map[string]json.RawMessage, error) {
	fields, err := s.client.HGetAll(ctx, keyPrefix+collection).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch collection %s: %w", collection, err)
	}

	records := make(map[string]json.RawMessage, len(fields))
	for id, doc := range fields {
		records[id] = json.RawMessage(doc)
	}
	return records, nil
}

// PutAll replaces the collection's hash atomically via a pipeline.
func (s *Store) PutAll(ctx context.Context, collection string, records map[string]json.RawMessage) error {
	key := keyPrefix + collection

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(records) > 0 {
		fields := make(map[string]interface{}, len(records))
		for id, doc := range records {
			fields[id] = string(doc)
		}
		pipe.HSet(ctx, key, fields)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to replace collection %s: %w", collection, err)
	}
	return nil
}
