package quota

import (
	"errors"
	"time"
)

// ErrPersist is returned when a command could not be flushed to the store
// after the configured retries. The command's transition was not applied.
var ErrPersist = errors.New("quota: persistence failed")

// Status is the session state of a day.
type Status string

const (
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusBlocked Status = "blocked"
)

// ParseStatus parses a stored status value.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusActive, StatusPaused, StatusBlocked:
		return Status(s), true
	}
	return "", false
}

// PauseEntry is one completed pause.
type PauseEntry struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Seconds returns the pause length in whole seconds.
func (p PauseEntry) Seconds() int64 {
	return int64(p.End.Sub(p.Start) / time.Second)
}

// Extension sources.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// Extension records time granted on top of the day's limit.
type Extension struct {
	At      time.Time `json:"at"`
	Seconds int64     `json:"seconds"`
	Source  string    `json:"source"`
}

// SessionState is the quota state of a single calendar day.
type SessionState struct {
	Date                  string
	RemainingSeconds      int64
	Status                Status
	ActiveSecondsConsumed int64
	PauseUsedSeconds      int64
	PauseStartedAt        *time.Time
	LastPauseEndedAt      *time.Time
	Pauses                []PauseEntry
	Extensions            []Extension
	FiredWarnings         map[int64]bool
}

// Clone returns a deep copy of s.
func (s SessionState) Clone() SessionState {
	c := s
	if s.PauseStartedAt != nil {
		t := *s.PauseStartedAt
		c.PauseStartedAt = &t
	}
	if s.LastPauseEndedAt != nil {
		t := *s.LastPauseEndedAt
		c.LastPauseEndedAt = &t
	}
	c.Pauses = append([]PauseEntry(nil), s.Pauses...)
	c.Extensions = append([]Extension(nil), s.Extensions...)
	c.FiredWarnings = make(map[int64]bool, len(s.FiredWarnings))
	for k, v := range s.FiredWarnings {
		c.FiredWarnings[k] = v
	}
	return c
}

// PauseConfig is the pause policy. All durations are in seconds.
type PauseConfig struct {
	Enabled             bool  `json:"enabled"`
	DailyBudgetSeconds  int64 `json:"daily_budget_seconds"`
	MaxDurationSeconds  int64 `json:"max_duration_seconds"`
	CooldownSeconds     int64 `json:"cooldown_seconds"`
	MinActiveSeconds    int64 `json:"min_active_seconds"`
	LowTimeBlockSeconds int64 `json:"low_time_block_seconds"`
}

// Warning is a message shown once when remaining time drops to the threshold.
type Warning struct {
	ThresholdSeconds int64  `json:"threshold"`
	Message          string `json:"message"`
}

// Settings is the stored, user-editable configuration of the engine.
type Settings struct {
	Limits          map[time.Weekday]int64 `json:"-"`
	Pause           PauseConfig            `json:"pause"`
	Warnings        []Warning              `json:"warnings"`
	BlockingMessage string                 `json:"blocking_message"`
}

// LimitFor returns the daily limit in seconds for weekday d.
func (s Settings) LimitFor(d time.Weekday) int64 {
	return s.Limits[d]
}

// AvailabilityKind names the pause decision.
type AvailabilityKind string

const (
	ResumeAvailable    AvailabilityKind = "resume_available"
	Disabled           AvailabilityKind = "disabled"
	BudgetExhausted    AvailabilityKind = "budget_exhausted"
	Cooldown           AvailabilityKind = "cooldown"
	NeedMoreActiveTime AvailabilityKind = "need_more_active_time"
	TimeTooLow         AvailabilityKind = "time_too_low"
	Available          AvailabilityKind = "available"
)

// Availability is the result of the pause decision. Seconds carries the
// remaining cooldown, the missing active time or the remaining budget,
// depending on Kind.
type Availability struct {
	Kind    AvailabilityKind `json:"kind"`
	Seconds int64            `json:"seconds,omitempty"`
}

// Outcome is the named result of a command.
type Outcome string

const (
	OutcomeApplied          Outcome = "applied"
	OutcomeUnauthorized     Outcome = "unauthorized"
	OutcomeNotPaused        Outcome = "not_paused"
	OutcomeNotBlocked       Outcome = "not_blocked"
	OutcomeInvalidState     Outcome = "invalid_state"
	OutcomeInvalidAmount    Outcome = "invalid_amount"
	OutcomeInvalidSettings  Outcome = "invalid_settings"
	OutcomePauseDenied      Outcome = "pause_denied"
	OutcomePasscodeMismatch Outcome = "passcode_mismatch"
	OutcomePasscodeFormat   Outcome = "passcode_format"
)

// Result is returned by every command. State is the session state after
// the command, whether or not it was applied.
type Result struct {
	Outcome      Outcome
	Availability Availability
	State        SessionState
}

// Applied reports whether the command changed state.
func (r Result) Applied() bool {
	return r.Outcome == OutcomeApplied
}

// EventKind classifies engine events.
type EventKind string

const (
	EventWarning   EventKind = "warning"
	EventBlocked   EventKind = "blocked"
	EventUnblocked EventKind = "unblocked"
	EventPaused    EventKind = "paused"
	EventResumed   EventKind = "resumed"
	EventExtended  EventKind = "extended"
	EventRollover  EventKind = "rollover"
)

// Event is emitted after a committed transition.
type Event struct {
	ID               string    `json:"id"`
	Kind             EventKind `json:"kind"`
	At               time.Time `json:"at"`
	Date             string    `json:"date"`
	Message          string    `json:"message,omitempty"`
	RemainingSeconds int64     `json:"remaining_seconds"`
}

// Notifier receives engine events. Notify must not block.
type Notifier interface {
	Notify(Event)
}

// DayStats summarises one day for display.
type DayStats struct {
	Date               string       `json:"date"`
	Status             Status       `json:"status"`
	LimitSeconds       int64        `json:"limit_seconds"`
	UsedSeconds        int64        `json:"used_seconds"`
	RemainingSeconds   int64        `json:"remaining_seconds"`
	ExtendedSeconds    int64        `json:"extended_seconds"`
	PauseUsedSeconds   int64        `json:"pause_used_seconds"`
	PauseBudgetSeconds int64        `json:"pause_budget_seconds"`
	PauseCount         int          `json:"pause_count"`
	Pauses             []PauseEntry `json:"pauses"`
	Extensions         []Extension  `json:"extensions"`
}
