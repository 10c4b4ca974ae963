package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/ktime/internal/admin"
	"github.com/goodtune/ktime/internal/quota"
	"github.com/goodtune/ktime/internal/remote"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show today's remaining time",
	Long:  `Query a running KTime daemon for today's status, remaining time and pause availability.`,
	Example: `  ktime status
  ktime --addr 127.0.0.1:8765 status`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := clientFromConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	status, err := client.status(ctx)
	if err != nil {
		return err
	}
	stats, err := client.stats(ctx)
	if err != nil {
		return err
	}

	printStatus(os.Stdout, status, stats)
	return nil
}

// statusColor picks the display color for a session status.
func statusColor(s quota.Status) *color.Color {
	switch s {
	case quota.StatusActive:
		return color.New(color.FgGreen, color.Bold)
	case quota.StatusPaused:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}

func printStatus(w io.Writer, status admin.StatusResponse, stats quota.DayStats) {
	cyan := color.New(color.FgCyan, color.Bold)

	_, _ = cyan.Fprintf(w, "KTime %s\n", stats.Date)
	fmt.Fprintf(w, "  Status:    ")
	_, _ = statusColor(status.Status).Fprintln(w, status.Status)
	fmt.Fprintf(w, "  Remaining: %s\n", quota.FormatSeconds(status.RemainingSeconds))
	fmt.Fprintf(w, "  Used:      %s of %s", quota.FormatSeconds(stats.UsedSeconds), quota.FormatSeconds(stats.LimitSeconds))
	if stats.ExtendedSeconds > 0 {
		fmt.Fprintf(w, " (+%s extended)", quota.FormatSeconds(stats.ExtendedSeconds))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Pauses:    %d, %s of %s used\n", stats.PauseCount,
		quota.FormatSeconds(stats.PauseUsedSeconds), quota.FormatSeconds(stats.PauseBudgetSeconds))
	fmt.Fprintf(w, "  Pause:     %s\n", remote.DescribeAvailability(status.Availability))
}
