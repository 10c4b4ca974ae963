package admin

import (
	"fmt"
	"time"

	"github.com/goodtune/ktime/internal/quota"
)

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Status           quota.Status       `json:"status"`
	RemainingSeconds int64              `json:"remaining_seconds"`
	Remaining        string             `json:"remaining"`
	Availability     quota.Availability `json:"availability"`
}

// ExtendRequest represents a request for extra time.
type ExtendRequest struct {
	Minutes int    `json:"minutes"`
	Code    string `json:"code"`
}

// CodeRequest carries just a passcode.
type CodeRequest struct {
	Code string `json:"code"`
}

// PasscodeRequest represents a passcode change request.
type PasscodeRequest struct {
	Old     string `json:"old"`
	New     string `json:"new"`
	Confirm string `json:"confirm"`
}

// SettingsPayload is the wire form of quota.Settings. Limits are keyed by
// lower-case weekday name and given in seconds.
type SettingsPayload struct {
	Limits          map[string]int64  `json:"limits"`
	Pause           quota.PauseConfig `json:"pause"`
	Warnings        []quota.Warning   `json:"warnings"`
	BlockingMessage string            `json:"blocking_message"`
}

// SettingsRequest represents a settings update.
type SettingsRequest struct {
	Settings SettingsPayload `json:"settings"`
	Code     string          `json:"code"`
}

// CommandResponse is returned by every command endpoint.
type CommandResponse struct {
	Outcome          quota.Outcome       `json:"outcome"`
	Availability     *quota.Availability `json:"availability,omitempty"`
	Status           quota.Status        `json:"status,omitempty"`
	RemainingSeconds int64               `json:"remaining_seconds"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HistoryListResponse lists stored dates.
type HistoryListResponse struct {
	Dates []string `json:"dates"`
}

func newSettingsPayload(s quota.Settings) SettingsPayload {
	p := SettingsPayload{
		Limits:          make(map[string]int64, len(s.Limits)),
		Pause:           s.Pause,
		Warnings:        append([]quota.Warning{}, s.Warnings...),
		BlockingMessage: s.BlockingMessage,
	}
	for d, v := range s.Limits {
		p.Limits[quota.WeekdayName(d)] = v
	}
	return p
}

func (p SettingsPayload) toSettings() (quota.Settings, error) {
	s := quota.Settings{
		Limits:          make(map[time.Weekday]int64, len(p.Limits)),
		Pause:           p.Pause,
		Warnings:        append([]quota.Warning(nil), p.Warnings...),
		BlockingMessage: p.BlockingMessage,
	}
	for name, v := range p.Limits {
		d, ok := quota.ParseWeekday(name)
		if !ok {
			return quota.Settings{}, fmt.Errorf("unknown weekday %q", name)
		}
		s.Limits[d] = v
	}
	return s, nil
}
