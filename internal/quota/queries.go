package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/ktime/internal/storage"
)

var (
	// ErrInvalidDate is returned for dates not in YYYY-MM-DD form.
	ErrInvalidDate = errors.New("quota: invalid date")

	// ErrNoHistory is returned when no state was ever stored for a date.
	ErrNoHistory = fmt.Errorf("quota: no history for date: %w", storage.ErrNotFound)
)

// CurrentStatus returns today's session status.
func (e *Engine) CurrentStatus(ctx context.Context) Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view(ctx, e.now()).Status
}

// RemainingSeconds returns today's remaining quota.
func (e *Engine) RemainingSeconds(ctx context.Context) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view(ctx, e.now()).RemainingSeconds
}

// PauseAvailability returns the pause decision for now.
func (e *Engine) PauseAvailability(ctx context.Context) Availability {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	return PauseAvailability(e.view(ctx, now), e.settings.Pause, now)
}

// Overview returns today's state together with the pause decision, both
// taken under one lock.
func (e *Engine) Overview(ctx context.Context) (SessionState, Availability) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	s := e.view(ctx, now)
	return s, PauseAvailability(s, e.settings.Pause, now)
}

// Snapshot returns a copy of today's session state.
func (e *Engine) Snapshot(ctx context.Context) SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view(ctx, e.now())
}

// TodayStats summarises today.
func (e *Engine) TodayStats(ctx context.Context) DayStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats(e.view(ctx, e.now()))
}

// Settings returns a copy of the current settings.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings.Clone()
}

// History returns the summary of date. Days before today are served from
// a cache since they no longer change.
func (e *Engine) History(ctx context.Context, date string) (DayStats, error) {
	if _, err := time.Parse(storage.DateLayout, date); err != nil {
		return DayStats{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	today := storage.FormatDate(now)
	switch {
	case date == e.state.Date:
		return e.stats(e.state), nil
	case date == today:
		return e.stats(e.view(ctx, now)), nil
	}

	if s, ok := e.history.Get(date); ok {
		return e.stats(s), nil
	}

	s, found, err := loadState(ctx, e.store, date, e.limitFor(date), e.loc, e.logger)
	if err != nil {
		return DayStats{}, err
	}
	if !found {
		return DayStats{}, ErrNoHistory
	}
	if date < today {
		e.history.Add(date, s)
	}
	return e.stats(s), nil
}

// HistoryDates lists every stored date, oldest first.
func (e *Engine) HistoryDates(ctx context.Context) ([]string, error) {
	keys, err := e.store.Keys(ctx, storage.PrefixRemaining)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return storage.DatesFromKeys(keys), nil
}

// view returns the state for the date of now without writing anything. On a
// day the ticker has not reached yet, the stored or a freshly seeded state
// is returned.
func (e *Engine) view(ctx context.Context, now time.Time) SessionState {
	date := storage.FormatDate(now)
	if date == e.state.Date {
		return e.state.Clone()
	}

	limit := e.limitFor(date)
	s, _, err := loadState(ctx, e.store, date, limit, e.loc, e.logger)
	if err != nil {
		e.logger.Warn().Err(err).Str("date", date).Msg("Failed to read state, using fresh day")
		return newState(date, limit)
	}
	return s
}

func (e *Engine) stats(s SessionState) DayStats {
	var extended int64
	for _, ext := range s.Extensions {
		extended += ext.Seconds
	}

	return DayStats{
		Date:               s.Date,
		Status:             s.Status,
		LimitSeconds:       e.limitFor(s.Date),
		UsedSeconds:        s.ActiveSecondsConsumed,
		RemainingSeconds:   s.RemainingSeconds,
		ExtendedSeconds:    extended,
		PauseUsedSeconds:   s.PauseUsedSeconds,
		PauseBudgetSeconds: e.settings.Pause.DailyBudgetSeconds,
		PauseCount:         len(s.Pauses),
		Pauses:             append([]PauseEntry{}, s.Pauses...),
		Extensions:         append([]Extension{}, s.Extensions...),
	}
}
