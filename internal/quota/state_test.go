package quota

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestEncodeStateKeys(t *testing.T) {
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Minute)
	s := newState("2024-03-04", 3600)
	s.Status = StatusPaused
	s.PauseStartedAt = &end
	s.PauseUsedSeconds = 600
	s.Pauses = []PauseEntry{{Start: start, End: end}}
	s.FiredWarnings[300] = true
	s.FiredWarnings[600] = true

	kv := encodeState(s)

	want := map[string]string{
		"remaining_time_2024-03-04": "3600",
		"status_2024-03-04":         "paused",
		"session_active_2024-03-04": "0",
		"pause_used_2024-03-04":     "600",
		"pause_started_2024-03-04":  "1709543400",
		"pause_last_end_2024-03-04": "",
		"pause_log_2024-03-04":      `[{"start":1709542800,"end":1709543400}]`,
		"extensions_2024-03-04":     "[]",
		"warnings_fired_2024-03-04": "600,300",
	}
	for k, v := range want {
		if kv[k] != v {
			t.Errorf("%s: expected %q, got %q", k, v, kv[k])
		}
	}
	if len(kv) != len(want) {
		t.Errorf("Expected %d keys, got %d", len(want), len(kv))
	}
}

func TestChangedKeys(t *testing.T) {
	prev := map[string]string{"a": "1", "b": "2"}
	next := map[string]string{"a": "1", "b": "3", "c": ""}

	diff := changedKeys(prev, next)
	if len(diff) != 2 || diff["b"] != "3" {
		t.Errorf("Unexpected diff: %v", diff)
	}
	if v, ok := diff["c"]; !ok || v != "" {
		t.Errorf("Expected new empty key in diff, got %v", diff)
	}
}

func TestLoadStateTolerance(t *testing.T) {
	tests := []struct {
		name   string
		stored map[string]string
		found  bool
		check  func(t *testing.T, s SessionState)
	}{
		{
			name:  "missing day",
			found: false,
			check: func(t *testing.T, s SessionState) {
				if s.RemainingSeconds != 7200 || s.Status != StatusActive {
					t.Errorf("Expected fresh state, got %+v", s)
				}
			},
		},
		{
			name: "malformed values fall back",
			stored: map[string]string{
				"remaining_time_2024-03-04": "1800",
				"status_2024-03-04":         "sleeping",
				"pause_used_2024-03-04":     "lots",
				"pause_log_2024-03-04":      "{",
				"warnings_fired_2024-03-04": "600,x",
			},
			found: true,
			check: func(t *testing.T, s SessionState) {
				if s.RemainingSeconds != 1800 {
					t.Errorf("Expected 1800 remaining, got %d", s.RemainingSeconds)
				}
				if s.Status != StatusActive || s.PauseUsedSeconds != 0 || len(s.Pauses) != 0 {
					t.Errorf("Expected defaults for bad fields, got %+v", s)
				}
				if !s.FiredWarnings[600] || len(s.FiredWarnings) != 1 {
					t.Errorf("Expected only 600 fired, got %v", s.FiredWarnings)
				}
			},
		},
		{
			name: "paused without start resumes",
			stored: map[string]string{
				"remaining_time_2024-03-04": "900",
				"status_2024-03-04":         "paused",
				"pause_started_2024-03-04":  "",
			},
			found: true,
			check: func(t *testing.T, s SessionState) {
				if s.Status != StatusActive || s.PauseStartedAt != nil {
					t.Errorf("Expected active without pause start, got %+v", s)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			ctx := context.Background()
			_ = store.Put(ctx, tt.stored)

			s, found, err := loadState(ctx, store, "2024-03-04", 7200, time.UTC, zerolog.Nop())
			if err != nil {
				t.Fatalf("loadState failed: %v", err)
			}
			if found != tt.found {
				t.Errorf("Expected found=%v, got %v", tt.found, found)
			}
			tt.check(t, s)
		})
	}
}
