package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/ktime/internal/metrics"
	"github.com/goodtune/ktime/internal/storage"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxTickElapsed bounds the time a single tick may charge.
	DefaultMaxTickElapsed = time.Hour

	// DefaultMaxExtendMinutes is the largest single extension.
	DefaultMaxExtendMinutes = 120

	// DefaultRetries is the number of store write attempts per transition.
	DefaultRetries = 3

	// DefaultBackoff is the delay before the first write retry.
	DefaultBackoff = 50 * time.Millisecond

	// DefaultHistoryCacheSize is the number of past days kept in memory.
	DefaultHistoryCacheSize = 64
)

// Config holds engine configuration
type Config struct {
	Clock            Clock
	Location         *time.Location
	Defaults         Settings
	MaxTickElapsed   time.Duration
	MaxExtendMinutes int
	Retries          int
	Backoff          time.Duration
	HistoryCacheSize int
}

// Engine owns the session state of the current day and serializes every
// tick, command and query on a single mutex.
type Engine struct {
	store    storage.Store
	auth     *Authenticator
	clock    Clock
	loc      *time.Location
	config   Config
	warnings WarningScheduler
	notifier Notifier
	history  *lru.Cache[string, SessionState]
	logger   zerolog.Logger

	settings  Settings
	state     SessionState
	persisted map[string]string
	lastTick  time.Time

	mu sync.Mutex
}

// NewEngine loads settings and today's state from store.
func NewEngine(ctx context.Context, store storage.Store, auth *Authenticator, config Config, logger zerolog.Logger) (*Engine, error) {
	if config.Clock == nil {
		config.Clock = RealClock{}
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.Defaults.Limits == nil {
		config.Defaults = DefaultSettings()
	}
	if config.MaxTickElapsed <= 0 {
		config.MaxTickElapsed = DefaultMaxTickElapsed
	}
	if config.MaxExtendMinutes <= 0 {
		config.MaxExtendMinutes = DefaultMaxExtendMinutes
	}
	if config.Retries <= 0 {
		config.Retries = DefaultRetries
	}
	if config.Backoff <= 0 {
		config.Backoff = DefaultBackoff
	}
	if config.HistoryCacheSize <= 0 {
		config.HistoryCacheSize = DefaultHistoryCacheSize
	}

	history, err := lru.New[string, SessionState](config.HistoryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create history cache: %w", err)
	}

	e := &Engine{
		store:   store,
		auth:    auth,
		clock:   config.Clock,
		loc:     config.Location,
		config:  config,
		history: history,
		logger:  logger.With().Str("component", "engine").Logger(),
	}

	e.settings, err = LoadSettings(ctx, store, config.Defaults, e.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	now := e.now()
	date := storage.FormatDate(now)
	e.closeStalePauses(ctx, date)

	state, found, err := loadState(ctx, store, date, e.limitFor(date), e.loc, e.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load state for %s: %w", date, err)
	}

	e.persisted = make(map[string]string)
	if found {
		e.persisted = encodeState(state)
	}
	if err := e.commit(ctx, state); err != nil {
		return nil, err
	}
	e.lastTick = now

	e.logger.Info().
		Str("date", state.Date).
		Str("status", string(state.Status)).
		Int64("remaining_seconds", state.RemainingSeconds).
		Bool("resumed", found).
		Msg("Engine initialized")

	return e, nil
}

// SetNotifier sets the receiver of engine events.
func (e *Engine) SetNotifier(n Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifier = n
}

// Tick advances the engine to the clock's current time.
func (e *Engine) Tick(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	metrics.TicksTotal.Inc()

	now := e.now()
	elapsed := e.advanceClock(now)

	if date := storage.FormatDate(now); date != e.state.Date {
		return e.rollover(ctx, now, date)
	}

	next := e.state.Clone()
	var events []Event

	switch next.Status {
	case StatusPaused:
		if end, due := pauseDue(next, e.settings.Pause, now); due {
			secs := endPause(&next, e.settings.Pause, end)
			metrics.PauseSecondsTotal.Add(float64(secs))
			events = append(events, e.newEvent(EventResumed, now, next, "Pause ended automatically"))
		}
	case StatusActive:
		events = e.consume(&next, elapsed, now)
	}

	e.commitTick(ctx, next)
	e.emit(events...)
	return nil
}

// consume charges elapsed seconds to an Active state.
func (e *Engine) consume(s *SessionState, elapsed int64, now time.Time) []Event {
	if elapsed <= 0 {
		return nil
	}

	used := elapsed
	if used > s.RemainingSeconds {
		used = s.RemainingSeconds
	}
	s.RemainingSeconds -= used
	s.ActiveSecondsConsumed += used

	if s.RemainingSeconds <= 0 {
		s.RemainingSeconds = 0
		s.Status = StatusBlocked
		e.warnings.Silence(s, e.settings.Warnings)
		return []Event{e.newEvent(EventBlocked, now, *s, e.settings.BlockingMessage)}
	}

	var events []Event
	for _, w := range e.warnings.Evaluate(s, e.settings.Warnings) {
		metrics.WarningsFired.Inc()
		events = append(events, e.newEvent(EventWarning, now, *s, w.Message))
	}
	return events
}

// advanceClock returns the whole seconds elapsed since the previous tick,
// clamping clock jumps. Sub-second remainders carry over to the next tick.
func (e *Engine) advanceClock(now time.Time) int64 {
	if e.lastTick.IsZero() {
		e.lastTick = now
		return 0
	}

	delta := now.Sub(e.lastTick)
	switch {
	case delta < 0:
		metrics.ClockAnomalies.WithLabelValues("backward").Inc()
		e.logger.Warn().Dur("delta", delta).Msg("Clock moved backwards, ignoring elapsed time")
		e.lastTick = now
		return 0
	case delta > e.config.MaxTickElapsed:
		metrics.ClockAnomalies.WithLabelValues("forward").Inc()
		e.logger.Warn().
			Dur("delta", delta).
			Dur("charged", e.config.MaxTickElapsed).
			Msg("Clock jumped forwards, clamping elapsed time")
		e.lastTick = now
		return int64(e.config.MaxTickElapsed / time.Second)
	}

	secs := int64(delta / time.Second)
	e.lastTick = e.lastTick.Add(time.Duration(secs) * time.Second)
	return secs
}

// rollover switches the engine to date. A pause running on the old day is
// closed and flushed first. No time is charged to the new day.
func (e *Engine) rollover(ctx context.Context, now time.Time, date string) error {
	limit := e.limitFor(date)
	today, found, err := loadState(ctx, e.store, date, limit, e.loc, e.logger)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("get").Inc()
		return fmt.Errorf("failed to load state for %s: %w", date, err)
	}

	prev := e.state.Clone()
	if prev.Status == StatusPaused && prev.PauseStartedAt != nil {
		end := now
		if due, ok := pauseDue(prev, e.settings.Pause, now); ok {
			end = due
		}
		secs := endPause(&prev, e.settings.Pause, end)
		metrics.PauseSecondsTotal.Add(float64(secs))
		e.commitTick(ctx, prev)
	}
	e.history.Add(prev.Date, prev)

	e.persisted = make(map[string]string)
	if found {
		e.persisted = encodeState(today)
	}
	e.commitTick(ctx, today)

	e.logger.Info().
		Str("previous_date", prev.Date).
		Str("date", date).
		Int64("remaining_seconds", today.RemainingSeconds).
		Msg("Day rollover")

	e.emit(e.newEvent(EventRollover, now, today, fmt.Sprintf("New day started with %s", FormatSeconds(today.RemainingSeconds))))
	return nil
}

// closeStalePauses ends pauses left running on days before today by a
// process that stopped mid-pause. Each pause ends when it would have
// auto-resumed, or at that day's midnight if sooner. Failures are logged and
// retried on the next start.
func (e *Engine) closeStalePauses(ctx context.Context, today string) {
	keys, err := e.store.Keys(ctx, storage.PrefixStatus)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("keys").Inc()
		e.logger.Warn().Err(err).Msg("Failed to list stored days, skipping stale pause check")
		return
	}

	for _, date := range storage.DatesFromKeys(keys) {
		if date >= today {
			continue
		}
		status, err := e.store.Get(ctx, storage.DateKey(storage.PrefixStatus, date))
		if err != nil || status != string(StatusPaused) {
			continue
		}

		prev, found, err := loadState(ctx, e.store, date, e.limitFor(date), e.loc, e.logger)
		if err != nil || !found {
			continue
		}

		next := prev.Clone()
		if next.PauseStartedAt == nil {
			next.Status = StatusActive
		} else {
			day, _ := time.ParseInLocation(storage.DateLayout, date, e.loc)
			end := day.AddDate(0, 0, 1)
			if due, ok := pauseDue(next, e.settings.Pause, end); ok {
				end = due
			}
			secs := endPause(&next, e.settings.Pause, end)
			metrics.PauseSecondsTotal.Add(float64(secs))
		}

		if err := e.persist(ctx, changedKeys(encodeState(prev), encodeState(next))); err != nil {
			e.logger.Error().Err(err).Str("date", date).Msg("Failed to close stale pause")
			continue
		}
		e.logger.Info().
			Str("date", date).
			Int64("pause_used_seconds", next.PauseUsedSeconds).
			Msg("Closed pause left running on a previous day")
	}
}

// syncDay rolls the engine over when a command arrives on a new day before
// the ticker noticed.
func (e *Engine) syncDay(ctx context.Context, now time.Time) error {
	if date := storage.FormatDate(now); date != e.state.Date {
		if err := e.rollover(ctx, now, date); err != nil {
			return fmt.Errorf("%w: %w", ErrPersist, err)
		}
	}
	return nil
}

// commit flushes the keys of next that changed and makes it current. On
// failure the current state is left untouched.
func (e *Engine) commit(ctx context.Context, next SessionState) error {
	kv := changedKeys(e.persisted, encodeState(next))
	if len(kv) > 0 {
		if err := e.persist(ctx, kv); err != nil {
			return err
		}
		for k, v := range kv {
			e.persisted[k] = v
		}
	}

	e.state = next
	e.observe()
	return nil
}

// commitTick is commit for clock-driven transitions: when the store stays
// unavailable the in-memory state still advances and the unwritten keys are
// retried with the next commit.
func (e *Engine) commitTick(ctx context.Context, next SessionState) {
	if err := e.commit(ctx, next); err != nil {
		e.logger.Error().
			Err(err).
			Str("date", next.Date).
			Msg("Failed to persist tick, keeping in-memory state")
		e.state = next
		e.observe()
	}
}

// persist writes kv with bounded retries and exponential backoff.
func (e *Engine) persist(ctx context.Context, kv map[string]string) error {
	backoff := e.config.Backoff

	var err error
	for attempt := 1; attempt <= e.config.Retries; attempt++ {
		if err = e.store.Put(ctx, kv); err == nil {
			return nil
		}

		metrics.StoreErrors.WithLabelValues("put").Inc()
		e.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("keys", len(kv)).
			Msg("Store write failed")

		if attempt == e.config.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrPersist, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return fmt.Errorf("%w: %w", ErrPersist, err)
}

func (e *Engine) observe() {
	metrics.RemainingSeconds.Set(float64(e.state.RemainingSeconds))
	metrics.SetStatus(string(e.state.Status))
}

func (e *Engine) newEvent(kind EventKind, now time.Time, s SessionState, message string) Event {
	return Event{
		ID:               uuid.NewString(),
		Kind:             kind,
		At:               now,
		Date:             s.Date,
		Message:          message,
		RemainingSeconds: s.RemainingSeconds,
	}
}

func (e *Engine) emit(events ...Event) {
	for _, ev := range events {
		e.logger.Info().
			Str("event_id", ev.ID).
			Str("kind", string(ev.Kind)).
			Str("date", ev.Date).
			Int64("remaining_seconds", ev.RemainingSeconds).
			Str("message", ev.Message).
			Msg("Engine event")

		if e.notifier != nil {
			e.notifier.Notify(ev)
		}
	}
}

func (e *Engine) now() time.Time {
	return e.clock.Now().In(e.loc)
}

// limitFor returns the configured limit for the weekday of date.
func (e *Engine) limitFor(date string) int64 {
	t, err := time.ParseInLocation(storage.DateLayout, date, e.loc)
	if err != nil {
		return 0
	}
	return e.settings.LimitFor(t.Weekday())
}

// FormatSeconds renders seconds as "1h 05m", "12m 30s" or "45s".
func FormatSeconds(secs int64) string {
	if secs < 0 {
		secs = 0
	}
	h := secs / 3600
	m := (secs % 3600) / 60
	s := secs % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
