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

// storedPause is the persisted form of a PauseEntry.
type storedPause struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// storedExtension is the persisted form of an Extension.
type storedExtension struct {
	At      int64  `json:"at"`
	Seconds int64  `json:"seconds"`
	Source  string `json:"source"`
}

// newState returns a fresh Active state for date with the given limit.
func newState(date string, limit int64) SessionState {
	return SessionState{
		Date:             date,
		RemainingSeconds: limit,
		Status:           StatusActive,
		FiredWarnings:    make(map[int64]bool),
	}
}

// encodeState renders s as date-partitioned store keys.
func encodeState(s SessionState) map[string]string {
	key := func(prefix string) string { return storage.DateKey(prefix, s.Date) }

	pauses := make([]storedPause, 0, len(s.Pauses))
	for _, p := range s.Pauses {
		pauses = append(pauses, storedPause{Start: p.Start.Unix(), End: p.End.Unix()})
	}
	pauseLog, _ := json.Marshal(pauses)

	exts := make([]storedExtension, 0, len(s.Extensions))
	for _, e := range s.Extensions {
		exts = append(exts, storedExtension{At: e.At.Unix(), Seconds: e.Seconds, Source: e.Source})
	}
	extLog, _ := json.Marshal(exts)

	fired := make([]int64, 0, len(s.FiredWarnings))
	for th, ok := range s.FiredWarnings {
		if ok {
			fired = append(fired, th)
		}
	}
	sort.Slice(fired, func(i, j int) bool { return fired[i] > fired[j] })
	firedStr := make([]string, len(fired))
	for i, th := range fired {
		firedStr[i] = strconv.FormatInt(th, 10)
	}

	return map[string]string{
		key(storage.PrefixRemaining):     strconv.FormatInt(s.RemainingSeconds, 10),
		key(storage.PrefixStatus):        string(s.Status),
		key(storage.PrefixActive):        strconv.FormatInt(s.ActiveSecondsConsumed, 10),
		key(storage.PrefixPauseUsed):     strconv.FormatInt(s.PauseUsedSeconds, 10),
		key(storage.PrefixPauseStarted):  formatUnix(s.PauseStartedAt),
		key(storage.PrefixPauseLastEnd):  formatUnix(s.LastPauseEndedAt),
		key(storage.PrefixPauseLog):      string(pauseLog),
		key(storage.PrefixExtensions):    string(extLog),
		key(storage.PrefixWarningsFired): strings.Join(firedStr, ","),
	}
}

// changedKeys returns the entries of next that differ from prev.
func changedKeys(prev, next map[string]string) map[string]string {
	diff := make(map[string]string)
	for k, v := range next {
		if old, ok := prev[k]; !ok || old != v {
			diff[k] = v
		}
	}
	return diff
}

// loadState reads the state of date from the store. found is false when the
// day has never been written, in which case a fresh state using limit is
// returned. Malformed values are logged and replaced by their zero value.
func loadState(ctx context.Context, store storage.Store, date string, limit int64, loc *time.Location, logger zerolog.Logger) (SessionState, bool, error) {
	s := newState(date, limit)

	get := func(prefix string) (string, bool, error) {
		v, err := store.Get(ctx, storage.DateKey(prefix, date))
		if errors.Is(err, storage.ErrNotFound) {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("failed to read %s%s: %w", prefix, date, err)
		}
		return v, true, nil
	}
	invalid := func(prefix, raw string, err error) {
		logger.Warn().Err(err).Str("key", prefix+date).Str("value", raw).Msg("Invalid stored state, using default")
	}

	raw, found, err := get(storage.PrefixRemaining)
	if err != nil {
		return s, false, err
	}
	if !found {
		return s, false, nil
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v >= 0 {
		s.RemainingSeconds = v
	} else {
		invalid(storage.PrefixRemaining, raw, err)
	}

	int64Field := func(prefix string, dst *int64) error {
		raw, ok, err := get(prefix)
		if err != nil || !ok {
			return err
		}
		v, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil || v < 0 {
			invalid(prefix, raw, perr)
			return nil
		}
		*dst = v
		return nil
	}
	timeField := func(prefix string, dst **time.Time) error {
		raw, ok, err := get(prefix)
		if err != nil || !ok || raw == "" {
			return err
		}
		v, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			invalid(prefix, raw, perr)
			return nil
		}
		t := time.Unix(v, 0).In(loc)
		*dst = &t
		return nil
	}

	if raw, ok, err := get(storage.PrefixStatus); err != nil {
		return s, true, err
	} else if ok {
		if st, valid := ParseStatus(raw); valid {
			s.Status = st
		} else {
			invalid(storage.PrefixStatus, raw, nil)
		}
	}
	if err := int64Field(storage.PrefixActive, &s.ActiveSecondsConsumed); err != nil {
		return s, true, err
	}
	if err := int64Field(storage.PrefixPauseUsed, &s.PauseUsedSeconds); err != nil {
		return s, true, err
	}
	if err := timeField(storage.PrefixPauseStarted, &s.PauseStartedAt); err != nil {
		return s, true, err
	}
	if err := timeField(storage.PrefixPauseLastEnd, &s.LastPauseEndedAt); err != nil {
		return s, true, err
	}

	if raw, ok, err := get(storage.PrefixPauseLog); err != nil {
		return s, true, err
	} else if ok && raw != "" {
		var stored []storedPause
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			invalid(storage.PrefixPauseLog, raw, err)
		}
		for _, p := range stored {
			s.Pauses = append(s.Pauses, PauseEntry{
				Start: time.Unix(p.Start, 0).In(loc),
				End:   time.Unix(p.End, 0).In(loc),
			})
		}
	}

	if raw, ok, err := get(storage.PrefixExtensions); err != nil {
		return s, true, err
	} else if ok && raw != "" {
		var stored []storedExtension
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			invalid(storage.PrefixExtensions, raw, err)
		}
		for _, e := range stored {
			s.Extensions = append(s.Extensions, Extension{
				At:      time.Unix(e.At, 0).In(loc),
				Seconds: e.Seconds,
				Source:  e.Source,
			})
		}
	}

	if raw, ok, err := get(storage.PrefixWarningsFired); err != nil {
		return s, true, err
	} else if ok && raw != "" {
		for _, part := range strings.Split(raw, ",") {
			th, perr := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if perr != nil {
				invalid(storage.PrefixWarningsFired, raw, perr)
				continue
			}
			s.FiredWarnings[th] = true
		}
	}

	// A paused day without a start time cannot be resumed; treat it as active.
	if s.Status == StatusPaused && s.PauseStartedAt == nil {
		logger.Warn().Str("date", date).Msg("Paused state without start time, resuming")
		s.Status = StatusActive
	}
	if s.Status != StatusPaused {
		s.PauseStartedAt = nil
	}

	return s, true, nil
}

func formatUnix(t *time.Time) string {
	if t == nil {
		return ""
	}
	return strconv.FormatInt(t.Unix(), 10)
}
