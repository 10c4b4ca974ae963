package quota

import "time"

// PauseAvailability decides whether a pause may start at now. The first
// matching rule wins.
func PauseAvailability(s SessionState, p PauseConfig, now time.Time) Availability {
	if s.Status == StatusPaused {
		return Availability{Kind: ResumeAvailable}
	}
	if !p.Enabled {
		return Availability{Kind: Disabled}
	}
	if s.PauseUsedSeconds >= p.DailyBudgetSeconds {
		return Availability{Kind: BudgetExhausted}
	}
	if s.LastPauseEndedAt != nil {
		since := secondsBetween(*s.LastPauseEndedAt, now)
		if since < p.CooldownSeconds {
			left := p.CooldownSeconds - since
			if left > p.CooldownSeconds {
				left = p.CooldownSeconds
			}
			return Availability{Kind: Cooldown, Seconds: left}
		}
	}
	if len(s.Pauses) == 0 && s.ActiveSecondsConsumed < p.MinActiveSeconds {
		return Availability{Kind: NeedMoreActiveTime, Seconds: p.MinActiveSeconds - s.ActiveSecondsConsumed}
	}
	if s.Status == StatusBlocked || s.RemainingSeconds < p.LowTimeBlockSeconds {
		return Availability{Kind: TimeTooLow}
	}
	return Availability{Kind: Available, Seconds: p.DailyBudgetSeconds - s.PauseUsedSeconds}
}

// maxPauseSeconds is the longest the current pause may run: the configured
// maximum, cut short by whatever is left of the daily budget.
func maxPauseSeconds(s SessionState, p PauseConfig) int64 {
	limit := p.MaxDurationSeconds
	if left := p.DailyBudgetSeconds - s.PauseUsedSeconds; left < limit {
		limit = left
	}
	if limit < 0 {
		return 0
	}
	return limit
}

// pauseDue reports whether the pause in s has run its course at now, and
// the time at which it logically ended.
func pauseDue(s SessionState, p PauseConfig, now time.Time) (time.Time, bool) {
	if s.Status != StatusPaused || s.PauseStartedAt == nil {
		return time.Time{}, false
	}
	limit := maxPauseSeconds(s, p)
	if secondsBetween(*s.PauseStartedAt, now) < limit {
		return time.Time{}, false
	}
	return s.PauseStartedAt.Add(time.Duration(limit) * time.Second), true
}

// endPause closes the pause in s at end, capped at the pause's maximum, and
// commits it to the log and the used budget. It returns the pause length.
func endPause(s *SessionState, p PauseConfig, end time.Time) int64 {
	start := *s.PauseStartedAt
	secs := secondsBetween(start, end)
	if secs < 0 {
		secs = 0
	}
	if limit := maxPauseSeconds(*s, p); secs > limit {
		secs = limit
	}
	end = start.Add(time.Duration(secs) * time.Second)

	s.Pauses = append(s.Pauses, PauseEntry{Start: start, End: end})
	s.PauseUsedSeconds += secs
	s.LastPauseEndedAt = &end
	s.PauseStartedAt = nil
	s.Status = StatusActive
	return secs
}

// secondsBetween returns whole seconds from a to b, negative if b is before a.
func secondsBetween(a, b time.Time) int64 {
	return int64(b.Sub(a) / time.Second)
}
