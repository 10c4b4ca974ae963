package remote

import (
	"fmt"
	"strings"

	"github.com/goodtune/ktime/internal/quota"
)

const helpText = `Commands:
/status - status, remaining time and pause availability
/time - remaining time today
/extend <minutes> - add time to today
/pause - start a pause
/resume - end the current pause
/history [YYYY-MM-DD] - recent days, or one day in detail
/help - this message`

// DescribeAvailability renders a pause decision for people.
func DescribeAvailability(a quota.Availability) string {
	switch a.Kind {
	case quota.ResumeAvailable:
		return "paused, resume available"
	case quota.Disabled:
		return "pauses are disabled"
	case quota.BudgetExhausted:
		return "pause budget used up for today"
	case quota.Cooldown:
		return fmt.Sprintf("cooling down, available in %s", quota.FormatSeconds(a.Seconds))
	case quota.NeedMoreActiveTime:
		return fmt.Sprintf("available after %s more use", quota.FormatSeconds(a.Seconds))
	case quota.TimeTooLow:
		return "not enough time left to pause"
	case quota.Available:
		return fmt.Sprintf("available, %s of pause left", quota.FormatSeconds(a.Seconds))
	}
	return string(a.Kind)
}

func formatStatus(s quota.DayStats, a quota.Availability) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Status: %s\n", s.Status)
	fmt.Fprintf(&b, "Remaining: %s\n", quota.FormatSeconds(s.RemainingSeconds))
	fmt.Fprintf(&b, "Used: %s of %s", quota.FormatSeconds(s.UsedSeconds), quota.FormatSeconds(s.LimitSeconds))
	if s.ExtendedSeconds > 0 {
		fmt.Fprintf(&b, " (+%s extended)", quota.FormatSeconds(s.ExtendedSeconds))
	}
	fmt.Fprintf(&b, "\nPauses: %d, %s of %s used\n", s.PauseCount,
		quota.FormatSeconds(s.PauseUsedSeconds), quota.FormatSeconds(s.PauseBudgetSeconds))
	fmt.Fprintf(&b, "Pause: %s", DescribeAvailability(a))
	return b.String()
}

func formatDay(s quota.DayStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", s.Date, s.Status)
	fmt.Fprintf(&b, "Used %s of %s, %s remaining\n",
		quota.FormatSeconds(s.UsedSeconds), quota.FormatSeconds(s.LimitSeconds), quota.FormatSeconds(s.RemainingSeconds))
	fmt.Fprintf(&b, "Pauses: %d (%s)", s.PauseCount, quota.FormatSeconds(s.PauseUsedSeconds))
	for _, p := range s.Pauses {
		fmt.Fprintf(&b, "\n  %s-%s", p.Start.Format("15:04"), p.End.Format("15:04"))
	}
	if len(s.Extensions) > 0 {
		fmt.Fprintf(&b, "\nExtensions: %d (%s)", len(s.Extensions), quota.FormatSeconds(s.ExtendedSeconds))
		for _, e := range s.Extensions {
			fmt.Fprintf(&b, "\n  %s +%s (%s)", e.At.Format("15:04"), quota.FormatSeconds(e.Seconds), e.Source)
		}
	}
	return b.String()
}

func formatDaySummary(s quota.DayStats) string {
	return fmt.Sprintf("%s  %s / %s  %s", s.Date,
		quota.FormatSeconds(s.UsedSeconds), quota.FormatSeconds(s.LimitSeconds), s.Status)
}

func formatEvent(ev quota.Event) string {
	switch ev.Kind {
	case quota.EventWarning:
		return fmt.Sprintf("Warning: %s (%s left)", ev.Message, quota.FormatSeconds(ev.RemainingSeconds))
	case quota.EventBlocked:
		return fmt.Sprintf("Time is up: %s", ev.Message)
	case quota.EventRollover:
		return ev.Message
	}
	return fmt.Sprintf("%s: %s", ev.Kind, ev.Message)
}
