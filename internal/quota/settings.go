package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/ktime/internal/storage"
	"github.com/rs/zerolog"
)

// Settings keys.
const (
	KeyPauseEnabled      = "pause_enabled"
	KeyPauseDailyBudget  = "pause_daily_budget"
	KeyPauseMaxDuration  = "pause_max_duration"
	KeyPauseCooldown     = "pause_cooldown"
	KeyPauseMinActive    = "pause_min_active_time"
	KeyPauseLowTimeBlock = "pause_low_time_block"
	KeyWarnings          = "warnings"
	KeyBlockingMessage   = "blocking_message"

	limitKeyPrefix = "limit_"
)

// LimitKey returns the settings key holding the limit for weekday d.
func LimitKey(d time.Weekday) string {
	return limitKeyPrefix + WeekdayName(d)
}

// WeekdayName returns the lower-case English name of d.
func WeekdayName(d time.Weekday) string {
	return strings.ToLower(d.String())
}

// ParseWeekday parses a lower- or mixed-case English weekday name.
func ParseWeekday(name string) (time.Weekday, bool) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), name) {
			return d, true
		}
	}
	return 0, false
}

// DefaultSettings returns the built-in settings used when neither the store
// nor the configuration provide a value.
func DefaultSettings() Settings {
	return Settings{
		Limits: map[time.Weekday]int64{
			time.Monday:    2 * 3600,
			time.Tuesday:   2 * 3600,
			time.Wednesday: 2 * 3600,
			time.Thursday:  2 * 3600,
			time.Friday:    3 * 3600,
			time.Saturday:  4 * 3600,
			time.Sunday:    4 * 3600,
		},
		Pause: PauseConfig{
			Enabled:             true,
			DailyBudgetSeconds:  45 * 60,
			MaxDurationSeconds:  20 * 60,
			CooldownSeconds:     15 * 60,
			MinActiveSeconds:    10 * 60,
			LowTimeBlockSeconds: 60,
		},
		Warnings: []Warning{
			{ThresholdSeconds: 600, Message: "10 minutes remaining!"},
			{ThresholdSeconds: 300, Message: "5 minutes remaining!"},
		},
		BlockingMessage: "Your screen time limit has been reached.",
	}
}

// Clone returns a deep copy of s.
func (s Settings) Clone() Settings {
	c := s
	c.Limits = make(map[time.Weekday]int64, len(s.Limits))
	for d, v := range s.Limits {
		c.Limits[d] = v
	}
	c.Warnings = append([]Warning(nil), s.Warnings...)
	return c
}

// Validate checks that s can be applied.
func (s Settings) Validate() error {
	for d := time.Sunday; d <= time.Saturday; d++ {
		v, ok := s.Limits[d]
		if !ok {
			return fmt.Errorf("missing limit for %s", WeekdayName(d))
		}
		if v < 0 {
			return fmt.Errorf("limit for %s must not be negative", WeekdayName(d))
		}
	}

	p := s.Pause
	for name, v := range map[string]int64{
		"daily budget":    p.DailyBudgetSeconds,
		"max duration":    p.MaxDurationSeconds,
		"cooldown":        p.CooldownSeconds,
		"min active time": p.MinActiveSeconds,
		"low time block":  p.LowTimeBlockSeconds,
	} {
		if v < 0 {
			return fmt.Errorf("pause %s must not be negative", name)
		}
	}

	seen := make(map[int64]bool, len(s.Warnings))
	for _, w := range s.Warnings {
		if w.ThresholdSeconds <= 0 {
			return fmt.Errorf("warning threshold must be positive")
		}
		if seen[w.ThresholdSeconds] {
			return fmt.Errorf("duplicate warning threshold %d", w.ThresholdSeconds)
		}
		seen[w.ThresholdSeconds] = true
	}

	return nil
}

// sortWarnings orders warnings by descending threshold.
func sortWarnings(ws []Warning) {
	sort.SliceStable(ws, func(i, j int) bool {
		return ws[i].ThresholdSeconds > ws[j].ThresholdSeconds
	})
}

// encodeSettings renders s as store keys.
func encodeSettings(s Settings) (map[string]string, error) {
	kv := make(map[string]string, 16)
	for d, v := range s.Limits {
		kv[LimitKey(d)] = strconv.FormatInt(v, 10)
	}

	enabled := "0"
	if s.Pause.Enabled {
		enabled = "1"
	}
	kv[KeyPauseEnabled] = enabled
	kv[KeyPauseDailyBudget] = strconv.FormatInt(s.Pause.DailyBudgetSeconds, 10)
	kv[KeyPauseMaxDuration] = strconv.FormatInt(s.Pause.MaxDurationSeconds, 10)
	kv[KeyPauseCooldown] = strconv.FormatInt(s.Pause.CooldownSeconds, 10)
	kv[KeyPauseMinActive] = strconv.FormatInt(s.Pause.MinActiveSeconds, 10)
	kv[KeyPauseLowTimeBlock] = strconv.FormatInt(s.Pause.LowTimeBlockSeconds, 10)

	warnings := s.Warnings
	if warnings == nil {
		warnings = []Warning{}
	}
	data, err := json.Marshal(warnings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode warnings: %w", err)
	}
	kv[KeyWarnings] = string(data)
	kv[KeyBlockingMessage] = s.BlockingMessage

	return kv, nil
}

// SeedSettings writes every settings key missing from the store using
// defaults. It returns the number of keys written.
func SeedSettings(ctx context.Context, store storage.Store, defaults Settings) (int, error) {
	kv, err := encodeSettings(defaults)
	if err != nil {
		return 0, err
	}

	missing := make(map[string]string)
	for k, v := range kv {
		_, err := store.Get(ctx, k)
		if errors.Is(err, storage.ErrNotFound) {
			missing[k] = v
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read setting %s: %w", k, err)
		}
	}

	if err := store.Put(ctx, missing); err != nil {
		return 0, fmt.Errorf("failed to seed settings: %w", err)
	}
	return len(missing), nil
}

// LoadSettings reads settings from the store. Missing or malformed values
// fall back to the corresponding value in fallback and are logged. Only
// store faults are returned as errors.
func LoadSettings(ctx context.Context, store storage.Store, fallback Settings, logger zerolog.Logger) (Settings, error) {
	s := fallback.Clone()
	r := settingsReader{ctx: ctx, store: store, logger: logger}

	for d := time.Sunday; d <= time.Saturday; d++ {
		s.Limits[d] = r.seconds(LimitKey(d), fallback.Limits[d])
	}

	s.Pause.Enabled = r.flag(KeyPauseEnabled, fallback.Pause.Enabled)
	s.Pause.DailyBudgetSeconds = r.seconds(KeyPauseDailyBudget, fallback.Pause.DailyBudgetSeconds)
	s.Pause.MaxDurationSeconds = r.seconds(KeyPauseMaxDuration, fallback.Pause.MaxDurationSeconds)
	s.Pause.CooldownSeconds = r.seconds(KeyPauseCooldown, fallback.Pause.CooldownSeconds)
	s.Pause.MinActiveSeconds = r.seconds(KeyPauseMinActive, fallback.Pause.MinActiveSeconds)
	s.Pause.LowTimeBlockSeconds = r.seconds(KeyPauseLowTimeBlock, fallback.Pause.LowTimeBlockSeconds)

	if raw, ok := r.raw(KeyWarnings); ok {
		var ws []Warning
		if err := json.Unmarshal([]byte(raw), &ws); err != nil {
			r.invalid(KeyWarnings, raw, err)
		} else if err := (Settings{Limits: s.Limits, Warnings: ws}).Validate(); err != nil {
			r.invalid(KeyWarnings, raw, err)
		} else {
			s.Warnings = ws
		}
	}
	sortWarnings(s.Warnings)

	if raw, ok := r.raw(KeyBlockingMessage); ok && raw != "" {
		s.BlockingMessage = raw
	}

	if r.err != nil {
		return fallback, r.err
	}
	return s, nil
}

// settingsReader collects the first store fault and logs bad values.
type settingsReader struct {
	ctx    context.Context
	store  storage.Store
	logger zerolog.Logger
	err    error
}

func (r *settingsReader) raw(key string) (string, bool) {
	if r.err != nil {
		return "", false
	}
	v, err := r.store.Get(r.ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false
	}
	if err != nil {
		r.err = fmt.Errorf("failed to read setting %s: %w", key, err)
		return "", false
	}
	return v, true
}

func (r *settingsReader) seconds(key string, def int64) int64 {
	raw, ok := r.raw(key)
	if !ok {
		return def
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || v < 0 {
		r.invalid(key, raw, err)
		return def
	}
	return v
}

func (r *settingsReader) flag(key string, def bool) bool {
	raw, ok := r.raw(key)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	r.invalid(key, raw, nil)
	return def
}

func (r *settingsReader) invalid(key, raw string, err error) {
	r.logger.Warn().
		Err(err).
		Str("key", key).
		Str("value", raw).
		Msg("Invalid setting, using default")
}
