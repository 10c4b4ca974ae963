package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/ktime/internal/metrics"
)

// RequestPause starts a pause if the pause policy allows it now.
func (e *Engine) RequestPause(ctx context.Context) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if err := e.syncDay(ctx, now); err != nil {
		return e.fail("pause", err)
	}

	avail := PauseAvailability(e.state, e.settings.Pause, now)
	if avail.Kind != Available {
		return e.reject("pause", OutcomePauseDenied, avail), nil
	}

	next := e.state.Clone()
	start := now.Truncate(time.Second)
	next.Status = StatusPaused
	next.PauseStartedAt = &start

	if err := e.commit(ctx, next); err != nil {
		return e.fail("pause", err)
	}

	e.emit(e.newEvent(EventPaused, now, next, fmt.Sprintf("Paused for up to %s", FormatSeconds(maxPauseSeconds(next, e.settings.Pause)))))
	return e.applied("pause", avail), nil
}

// RequestResume ends the running pause.
func (e *Engine) RequestResume(ctx context.Context) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if err := e.syncDay(ctx, now); err != nil {
		return e.fail("resume", err)
	}

	if e.state.Status != StatusPaused {
		return e.reject("resume", OutcomeNotPaused, Availability{}), nil
	}

	next := e.state.Clone()
	secs := endPause(&next, e.settings.Pause, now)

	if err := e.commit(ctx, next); err != nil {
		return e.fail("resume", err)
	}

	metrics.PauseSecondsTotal.Add(float64(secs))
	e.emit(e.newEvent(EventResumed, now, next, fmt.Sprintf("Resumed after %s", FormatSeconds(secs))))
	return e.applied("resume", Availability{}), nil
}

// RequestExtend adds minutes to today's remaining time after verifying code.
// Passcodes are verified outside the engine lock.
func (e *Engine) RequestExtend(ctx context.Context, minutes int, code string) (Result, error) {
	ok := e.auth.Verify(code)

	e.mu.Lock()
	defer e.mu.Unlock()

	if !ok {
		return e.reject("extend", OutcomeUnauthorized, Availability{}), nil
	}
	return e.extend(ctx, minutes, SourceLocal)
}

// GrantExtension adds minutes for a caller that is already authorized, such
// as the remote channel's admin.
func (e *Engine) GrantExtension(ctx context.Context, minutes int, source string) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.extend(ctx, minutes, source)
}

func (e *Engine) extend(ctx context.Context, minutes int, source string) (Result, error) {
	if minutes < 1 || minutes > e.config.MaxExtendMinutes {
		return e.reject("extend", OutcomeInvalidAmount, Availability{}), nil
	}

	now := e.now()
	if err := e.syncDay(ctx, now); err != nil {
		return e.fail("extend", err)
	}

	secs := int64(minutes) * 60
	next := e.state.Clone()
	next.RemainingSeconds += secs
	next.Extensions = append(next.Extensions, Extension{
		At:      now.Truncate(time.Second),
		Seconds: secs,
		Source:  source,
	})
	wasBlocked := next.Status == StatusBlocked
	if wasBlocked {
		next.Status = StatusActive
	}
	e.warnings.Rearm(&next, e.settings.Warnings)

	if err := e.commit(ctx, next); err != nil {
		return e.fail("extend", err)
	}

	metrics.ExtensionMinutesTotal.WithLabelValues(source).Add(float64(minutes))
	e.logger.Info().
		Int("minutes", minutes).
		Str("source", source).
		Int64("remaining_seconds", next.RemainingSeconds).
		Msg("Time extended")

	events := []Event{e.newEvent(EventExtended, now, next, fmt.Sprintf("Extended by %d minutes", minutes))}
	if wasBlocked {
		events = append(events, e.newEvent(EventUnblocked, now, next, "Unlocked by extension"))
	}
	e.emit(events...)
	return e.applied("extend", Availability{}), nil
}

// RequestUnlock restores a blocked day to its full limit.
func (e *Engine) RequestUnlock(ctx context.Context, code string) (Result, error) {
	ok := e.auth.Verify(code)

	e.mu.Lock()
	defer e.mu.Unlock()

	if !ok {
		return e.reject("unlock", OutcomeUnauthorized, Availability{}), nil
	}

	now := e.now()
	if err := e.syncDay(ctx, now); err != nil {
		return e.fail("unlock", err)
	}
	if e.state.Status != StatusBlocked {
		return e.reject("unlock", OutcomeNotBlocked, Availability{}), nil
	}
	return e.resetLimit(ctx, "unlock", now)
}

// RequestReset sets remaining time back to the day's limit. It is rejected
// while paused.
func (e *Engine) RequestReset(ctx context.Context, code string) (Result, error) {
	ok := e.auth.Verify(code)

	e.mu.Lock()
	defer e.mu.Unlock()

	if !ok {
		return e.reject("reset", OutcomeUnauthorized, Availability{}), nil
	}

	now := e.now()
	if err := e.syncDay(ctx, now); err != nil {
		return e.fail("reset", err)
	}
	if e.state.Status == StatusPaused {
		return e.reject("reset", OutcomeInvalidState, Availability{}), nil
	}
	return e.resetLimit(ctx, "reset", now)
}

func (e *Engine) resetLimit(ctx context.Context, command string, now time.Time) (Result, error) {
	next := e.state.Clone()
	next.RemainingSeconds = e.limitFor(next.Date)
	wasBlocked := next.Status == StatusBlocked
	if wasBlocked {
		next.Status = StatusActive
	}
	e.warnings.Rearm(&next, e.settings.Warnings)

	if err := e.commit(ctx, next); err != nil {
		return e.fail(command, err)
	}

	e.logger.Info().
		Str("command", command).
		Int64("remaining_seconds", next.RemainingSeconds).
		Msg("Timer reset to daily limit")

	if wasBlocked {
		e.emit(e.newEvent(EventUnblocked, now, next, "Timer reset to the daily limit"))
	}
	return e.applied(command, Availability{}), nil
}

// UpdateSettings validates and stores new settings. Limits apply from the
// next day; pause and warning policy apply immediately.
func (e *Engine) UpdateSettings(ctx context.Context, s Settings, code string) (Result, error) {
	ok := e.auth.Verify(code)

	e.mu.Lock()
	defer e.mu.Unlock()

	if !ok {
		return e.reject("settings", OutcomeUnauthorized, Availability{}), nil
	}

	s = s.Clone()
	sortWarnings(s.Warnings)
	if err := s.Validate(); err != nil {
		e.logger.Info().Err(err).Msg("Rejected settings update")
		return e.reject("settings", OutcomeInvalidSettings, Availability{}), nil
	}

	kv, err := encodeSettings(s)
	if err != nil {
		return e.fail("settings", err)
	}
	if err := e.persist(ctx, kv); err != nil {
		return e.fail("settings", err)
	}

	e.settings = s
	e.logger.Info().Msg("Settings updated")
	return e.applied("settings", Availability{}), nil
}

// ChangePasscode replaces the passcode. The current code must verify and
// the new code must be entered twice.
func (e *Engine) ChangePasscode(ctx context.Context, current, code, confirm string) (Result, error) {
	ok := e.auth.Verify(current)

	var (
		hash    string
		hashErr error
	)
	if ok && code == confirm && ValidPasscode(code) {
		hash, hashErr = e.auth.Hash(code)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !ok {
		return e.reject("passcode", OutcomeUnauthorized, Availability{}), nil
	}
	if code != confirm {
		return e.reject("passcode", OutcomePasscodeMismatch, Availability{}), nil
	}
	if !ValidPasscode(code) {
		return e.reject("passcode", OutcomePasscodeFormat, Availability{}), nil
	}
	if hashErr != nil {
		return e.fail("passcode", hashErr)
	}
	if err := e.persist(ctx, map[string]string{KeyPasscodeHash: hash}); err != nil {
		return e.fail("passcode", err)
	}
	e.auth.setHash(hash)

	e.logger.Info().Msg("Passcode changed")
	return e.applied("passcode", Availability{}), nil
}

func (e *Engine) applied(command string, avail Availability) Result {
	metrics.CommandsTotal.WithLabelValues(command, string(OutcomeApplied)).Inc()
	return Result{Outcome: OutcomeApplied, Availability: avail, State: e.state.Clone()}
}

func (e *Engine) reject(command string, outcome Outcome, avail Availability) Result {
	metrics.CommandsTotal.WithLabelValues(command, string(outcome)).Inc()
	e.logger.Debug().
		Str("command", command).
		Str("outcome", string(outcome)).
		Str("availability", string(avail.Kind)).
		Msg("Command rejected")
	return Result{Outcome: outcome, Availability: avail, State: e.state.Clone()}
}

func (e *Engine) fail(command string, err error) (Result, error) {
	metrics.CommandsTotal.WithLabelValues(command, "error").Inc()
	e.logger.Error().Err(err).Str("command", command).Msg("Command failed")
	return Result{}, err
}
