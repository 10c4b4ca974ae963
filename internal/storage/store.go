package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store is the durable key/value layer behind the quota engine.
// Keys are plain strings (settings names and date-partitioned state keys);
// all parsing and formatting of values is the caller's concern.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Put writes every entry of kv atomically: either all keys are
	// written or none are.
	Put(ctx context.Context, kv map[string]string) error

	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Keys lists all keys starting with prefix, in lexical order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	Close() error
}

// GetOrDefault returns the stored value for key, or def when the key is missing.
func GetOrDefault(ctx context.Context, s Store, key, def string) (string, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}
