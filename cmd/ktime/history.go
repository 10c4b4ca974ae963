package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/ktime/internal/quota"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [DATE]",
	Short: "Show past days",
	Long:  `List the most recent stored days, or show the detail of a single day (YYYY-MM-DD).`,
	Example: `  ktime history
  ktime history --days 14
  ktime history 2024-03-04`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "days", 7, "Number of days to list")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	client, err := clientFromConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	if len(args) == 1 {
		day, err := client.history(ctx, args[0])
		if err != nil {
			return err
		}
		printDay(os.Stdout, day)
		return nil
	}

	dates, err := client.historyDates(ctx)
	if err != nil {
		return err
	}
	if historyLimit > 0 && len(dates) > historyLimit {
		dates = dates[len(dates)-historyLimit:]
	}

	days := make([]quota.DayStats, 0, len(dates))
	for i := len(dates) - 1; i >= 0; i-- {
		day, err := client.history(ctx, dates[i])
		if err != nil {
			return err
		}
		days = append(days, day)
	}
	printHistory(os.Stdout, days)
	return nil
}

// printHistory prints one line per day, newest first.
func printHistory(w io.Writer, days []quota.DayStats) {
	if len(days) == 0 {
		fmt.Fprintln(w, "No history recorded yet.")
		return
	}

	cyan := color.New(color.FgCyan, color.Bold)
	_, _ = cyan.Fprintf(w, "%-10s  %-7s  %8s  %8s  %8s  %6s\n", "DATE", "STATUS", "LIMIT", "USED", "LEFT", "PAUSES")
	for _, d := range days {
		fmt.Fprintf(w, "%-10s  ", d.Date)
		_, _ = statusColor(d.Status).Fprintf(w, "%-7s", d.Status)
		fmt.Fprintf(w, "  %8s  %8s  %8s  %6d\n",
			quota.FormatSeconds(d.LimitSeconds),
			quota.FormatSeconds(d.UsedSeconds),
			quota.FormatSeconds(d.RemainingSeconds),
			d.PauseCount)
	}
}

// printDay prints the detail of a single day.
func printDay(w io.Writer, d quota.DayStats) {
	cyan := color.New(color.FgCyan, color.Bold)
	yellow := color.New(color.FgYellow)

	_, _ = cyan.Fprintf(w, "%s ", d.Date)
	_, _ = statusColor(d.Status).Fprintln(w, d.Status)
	fmt.Fprintf(w, "  Limit:     %s\n", quota.FormatSeconds(d.LimitSeconds))
	fmt.Fprintf(w, "  Used:      %s\n", quota.FormatSeconds(d.UsedSeconds))
	fmt.Fprintf(w, "  Remaining: %s\n", quota.FormatSeconds(d.RemainingSeconds))
	fmt.Fprintf(w, "  Pauses:    %d, %s of %s\n", d.PauseCount,
		quota.FormatSeconds(d.PauseUsedSeconds), quota.FormatSeconds(d.PauseBudgetSeconds))
	for _, p := range d.Pauses {
		_, _ = yellow.Fprintf(w, "    %s - %s  %s\n",
			p.Start.Format("15:04"), p.End.Format("15:04"), quota.FormatSeconds(p.Seconds()))
	}
	if len(d.Extensions) > 0 {
		fmt.Fprintf(w, "  Extensions:\n")
		for _, e := range d.Extensions {
			_, _ = yellow.Fprintf(w, "    %s  +%s (%s)\n",
				e.At.Format("15:04"), quota.FormatSeconds(e.Seconds), e.Source)
		}
	}
}
