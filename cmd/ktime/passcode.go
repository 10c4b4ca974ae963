package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/ktime/internal/quota"
	"github.com/spf13/cobra"
)

var (
	passcodeOld     string
	passcodeNew     string
	passcodeConfirm string
)

var passcodeCmd = &cobra.Command{
	Use:     "passcode",
	Short:   "Change the parent passcode",
	Long:    `Change the four digit passcode that guards extend, unlock, reset and settings.`,
	Example: `  ktime passcode --old 0000 --new 4821 --confirm 4821`,
	Args:    cobra.NoArgs,
	RunE:    runPasscode,
}

func init() {
	passcodeCmd.Flags().StringVar(&passcodeOld, "old", "", "Current passcode (required)")
	passcodeCmd.Flags().StringVar(&passcodeNew, "new", "", "New passcode (required)")
	passcodeCmd.Flags().StringVar(&passcodeConfirm, "confirm", "", "New passcode again (required)")
	_ = passcodeCmd.MarkFlagRequired("old")
	_ = passcodeCmd.MarkFlagRequired("new")
	_ = passcodeCmd.MarkFlagRequired("confirm")
	rootCmd.AddCommand(passcodeCmd)
}

func runPasscode(cmd *cobra.Command, args []string) error {
	// Catch typos before contacting the daemon
	if !quota.ValidPasscode(passcodeNew) {
		return quota.ErrPasscodeFormat
	}
	if passcodeNew != passcodeConfirm {
		return fmt.Errorf("new passcode and confirmation do not match")
	}

	client, err := clientFromConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	resp, err := client.changePasscode(ctx, passcodeOld, passcodeNew, passcodeConfirm)
	if err != nil {
		return err
	}

	switch resp.Outcome {
	case quota.OutcomeApplied:
		_, _ = color.New(color.FgGreen, color.Bold).Fprintln(os.Stdout, "Passcode changed")
		return nil
	case quota.OutcomeUnauthorized:
		return fmt.Errorf("current passcode is incorrect")
	default:
		return fmt.Errorf("passcode not changed: %s", resp.Outcome)
	}
}
