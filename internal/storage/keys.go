package storage

import (
	"sort"
	"strings"
	"time"
)

// DateLayout is the calendar date format used in date-partitioned keys.
const DateLayout = "2006-01-02"

// Date-partitioned key prefixes. The full key is prefix + date.
const (
	PrefixRemaining     = "remaining_time_"
	PrefixStatus        = "status_"
	PrefixActive        = "session_active_"
	PrefixPauseUsed     = "pause_used_"
	PrefixPauseStarted  = "pause_started_"
	PrefixPauseLastEnd  = "pause_last_end_"
	PrefixPauseLog      = "pause_log_"
	PrefixExtensions    = "extensions_"
	PrefixWarningsFired = "warnings_fired_"
)

// DatePrefixes lists every date-partitioned prefix.
var DatePrefixes = []string{
	PrefixRemaining,
	PrefixStatus,
	PrefixActive,
	PrefixPauseUsed,
	PrefixPauseStarted,
	PrefixPauseLastEnd,
	PrefixPauseLog,
	PrefixExtensions,
	PrefixWarningsFired,
}

// DateKey builds a date-partitioned key.
func DateKey(prefix, date string) string {
	return prefix + date
}

// FormatDate formats t as a key date in t's location.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// SplitDateKey returns the prefix and date of a date-partitioned key.
func SplitDateKey(key string) (prefix, date string, ok bool) {
	for _, p := range DatePrefixes {
		if !strings.HasPrefix(key, p) {
			continue
		}
		d := strings.TrimPrefix(key, p)
		if _, err := time.Parse(DateLayout, d); err != nil {
			continue
		}
		return p, d, true
	}
	return "", "", false
}

// DatesFromKeys returns the distinct dates found in keys, oldest first.
func DatesFromKeys(keys []string) []string {
	seen := make(map[string]struct{})
	for _, k := range keys {
		if _, d, ok := SplitDateKey(k); ok {
			seen[d] = struct{}{}
		}
	}
	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}
