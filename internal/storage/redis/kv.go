package redis

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/goodtune/ktime/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Get retrieves a value by key
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.valueKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Put atomically writes a batch of keys and indexes them
func (s *Store) Put(ctx context.Context, kv map[string]string) error {
	if len(kv) == 0 {
		return nil
	}

	script := redis.NewScript(putScript)

	keys := []string{s.indexKey()}
	args := make([]interface{}, 0, len(kv)*3)
	for k, v := range kv {
		args = append(args, s.valueKey(k), k, v)
	}

	return script.Run(ctx, s.client, keys, args...).Err()
}

// Delete removes keys and their index entries
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	script := redis.NewScript(deleteScript)

	args := make([]interface{}, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, s.valueKey(k), k)
	}

	return script.Run(ctx, s.client, []string{s.indexKey()}, args...).Err()
}

// Keys returns indexed keys with the given prefix
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(members))
	for _, m := range members {
		if strings.HasPrefix(m, prefix) {
			keys = append(keys, m)
		}
	}
	sort.Strings(keys)

	return keys, nil
}
