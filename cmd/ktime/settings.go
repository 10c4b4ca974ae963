package main

import (
	"fmt"
	"time"

	"github.com/goodtune/ktime/internal/config"
	"github.com/goodtune/ktime/internal/quota"
)

// settingsFromConfig converts the defaults section into engine settings.
// Unparseable durations fall back to the built-in defaults.
func settingsFromConfig(d config.DefaultsConfig) (quota.Settings, error) {
	builtin := quota.DefaultSettings()
	s := builtin.Clone()

	for name, raw := range d.Limits {
		day, ok := quota.ParseWeekday(name)
		if !ok {
			return quota.Settings{}, fmt.Errorf("unknown weekday %q in defaults.limits", name)
		}
		s.Limits[day] = seconds(raw, builtin.Limits[day])
	}

	p := d.Pause
	s.Pause = quota.PauseConfig{
		Enabled:             p.Enabled,
		DailyBudgetSeconds:  seconds(p.DailyBudget, builtin.Pause.DailyBudgetSeconds),
		MaxDurationSeconds:  seconds(p.MaxDuration, builtin.Pause.MaxDurationSeconds),
		CooldownSeconds:     seconds(p.Cooldown, builtin.Pause.CooldownSeconds),
		MinActiveSeconds:    seconds(p.MinActiveTime, builtin.Pause.MinActiveSeconds),
		LowTimeBlockSeconds: seconds(p.LowTimeBlock, builtin.Pause.LowTimeBlockSeconds),
	}

	if len(d.Warnings) > 0 {
		s.Warnings = make([]quota.Warning, 0, len(d.Warnings))
		for _, w := range d.Warnings {
			threshold := int64(config.ParseDuration(w.Before, 0) / time.Second)
			if threshold <= 0 {
				return quota.Settings{}, fmt.Errorf("invalid warning threshold %q", w.Before)
			}
			s.Warnings = append(s.Warnings, quota.Warning{ThresholdSeconds: threshold, Message: w.Message})
		}
	}

	if d.BlockingMessage != "" {
		s.BlockingMessage = d.BlockingMessage
	}

	if err := s.Validate(); err != nil {
		return quota.Settings{}, fmt.Errorf("invalid defaults: %w", err)
	}
	return s, nil
}

func seconds(raw string, fallback int64) int64 {
	return int64(config.ParseDuration(raw, time.Duration(fallback)*time.Second) / time.Second)
}
