// Package storagetest holds the behaviour suite every storage backend must pass.
package storagetest

import (
	"context"
	"errors"
	"testing"

	"github.com/goodtune/ktime/internal/storage"
)

// Run exercises a fresh, empty store.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	t.Helper()

	t.Run("missing key", func(t *testing.T) {
		s := open(t)
		defer func() { _ = s.Close() }()

		_, err := s.Get(context.Background(), "remaining_time_2024-01-01")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("Get() error = %v, want ErrNotFound", err)
		}

		v, err := storage.GetOrDefault(context.Background(), s, "passcode_hash", "fallback")
		if err != nil {
			t.Fatalf("GetOrDefault() error = %v", err)
		}
		if v != "fallback" {
			t.Errorf("GetOrDefault() = %q, want fallback", v)
		}
	})

	t.Run("put and overwrite", func(t *testing.T) {
		s := open(t)
		defer func() { _ = s.Close() }()
		ctx := context.Background()

		if err := s.Put(ctx, map[string]string{
			"remaining_time_2024-01-01": "7200",
			"status_2024-01-01":         "active",
		}); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := s.Put(ctx, map[string]string{"remaining_time_2024-01-01": "7199"}); err != nil {
			t.Fatalf("Put() overwrite error = %v", err)
		}

		got, err := s.Get(ctx, "remaining_time_2024-01-01")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got != "7199" {
			t.Errorf("Get() = %q, want 7199", got)
		}

		status, err := s.Get(ctx, "status_2024-01-01")
		if err != nil {
			t.Fatalf("Get(status) error = %v", err)
		}
		if status != "active" {
			t.Errorf("Get(status) = %q, want active", status)
		}
	})

	t.Run("empty value is stored", func(t *testing.T) {
		s := open(t)
		defer func() { _ = s.Close() }()
		ctx := context.Background()

		if err := s.Put(ctx, map[string]string{"pause_started_2024-01-01": ""}); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		v, err := s.Get(ctx, "pause_started_2024-01-01")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if v != "" {
			t.Errorf("Get() = %q, want empty", v)
		}
	})

	t.Run("keys by prefix and delete", func(t *testing.T) {
		s := open(t)
		defer func() { _ = s.Close() }()
		ctx := context.Background()

		if err := s.Put(ctx, map[string]string{
			"remaining_time_2024-01-02": "10",
			"remaining_time_2024-01-01": "20",
			"pause_used_2024-01-01":     "30",
			"limit_monday":              "7200",
		}); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		keys, err := s.Keys(ctx, storage.PrefixRemaining)
		if err != nil {
			t.Fatalf("Keys() error = %v", err)
		}
		want := []string{"remaining_time_2024-01-01", "remaining_time_2024-01-02"}
		if len(keys) != len(want) {
			t.Fatalf("Keys() = %v, want %v", keys, want)
		}
		for i := range want {
			if keys[i] != want[i] {
				t.Errorf("Keys()[%d] = %q, want %q", i, keys[i], want[i])
			}
		}

		if err := s.Delete(ctx, "remaining_time_2024-01-01", "does-not-exist"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := s.Get(ctx, "remaining_time_2024-01-01"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
		}
		if _, err := s.Get(ctx, "limit_monday"); err != nil {
			t.Errorf("unrelated key lost: %v", err)
		}
	})
}
