package main

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/ktime/internal/config"
	"github.com/spf13/cobra"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the KTime configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	red := color.New(color.FgRed, color.Bold)

	cfg, err := config.Load(configPath)
	if err != nil {
		_, _ = red.Fprintf(os.Stderr, "Configuration validation failed: %v\n", err)
		return err
	}

	if _, err := settingsFromConfig(cfg.Defaults); err != nil {
		_, _ = red.Fprintf(os.Stderr, "Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with --dump)
	unknownKeys, err := config.UnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Warning: could not check for unknown keys: %v\n", err)
	}

	_, _ = color.New(color.FgGreen, color.Bold).Fprintf(os.Stdout, "Configuration is valid: %s\n", configPath)

	if len(unknownKeys) > 0 {
		fmt.Fprintln(os.Stdout)
		_, _ = red.Fprintf(os.Stdout, "WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(os.Stdout, cfg, config.DefaultConfig())

		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
	}

	return nil
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(w io.Writer, cfg, def *config.Config) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	field := func(name string, value, defaultValue interface{}) {
		dumpField(w, name, value, defaultValue, yellow, green)
	}

	field("timezone", cfg.Timezone, def.Timezone)

	_, _ = cyan.Fprintln(w, "\n[engine]")
	field("  tick_interval", cfg.Engine.TickInterval, def.Engine.TickInterval)
	field("  max_tick_elapsed", cfg.Engine.MaxTickElapsed, def.Engine.MaxTickElapsed)
	field("  max_extend_minutes", cfg.Engine.MaxExtendMinutes, def.Engine.MaxExtendMinutes)

	_, _ = cyan.Fprintln(w, "\n[persistence]")
	field("  retries", cfg.Persistence.Retries, def.Persistence.Retries)
	field("  backoff", cfg.Persistence.Backoff, def.Persistence.Backoff)

	_, _ = cyan.Fprintln(w, "\n[storage]")
	field("  type", cfg.Storage.Type, def.Storage.Type)
	field("  path", cfg.Storage.Path, def.Storage.Path)
	field("  retention_days", cfg.Storage.RetentionDays, def.Storage.RetentionDays)
	field("  retention_check_time", cfg.Storage.RetentionCheckTime, def.Storage.RetentionCheckTime)
	field("  history_cache_size", cfg.Storage.HistoryCacheSize, def.Storage.HistoryCacheSize)
	_, _ = cyan.Fprintln(w, "  [storage.redis]")
	field("    host", cfg.Storage.Redis.Host, def.Storage.Redis.Host)
	field("    port", cfg.Storage.Redis.Port, def.Storage.Redis.Port)
	field("    password", redact(cfg.Storage.Redis.Password), redact(def.Storage.Redis.Password))
	field("    db", cfg.Storage.Redis.DB, def.Storage.Redis.DB)
	field("    pool_size", cfg.Storage.Redis.PoolSize, def.Storage.Redis.PoolSize)
	field("    min_idle_conns", cfg.Storage.Redis.MinIdleConns, def.Storage.Redis.MinIdleConns)
	field("    dial_timeout", cfg.Storage.Redis.DialTimeout, def.Storage.Redis.DialTimeout)
	field("    read_timeout", cfg.Storage.Redis.ReadTimeout, def.Storage.Redis.ReadTimeout)
	field("    write_timeout", cfg.Storage.Redis.WriteTimeout, def.Storage.Redis.WriteTimeout)
	field("    key_prefix", cfg.Storage.Redis.KeyPrefix, def.Storage.Redis.KeyPrefix)

	_, _ = cyan.Fprintln(w, "\n[logging]")
	field("  level", cfg.Logging.Level, def.Logging.Level)
	field("  format", cfg.Logging.Format, def.Logging.Format)

	_, _ = cyan.Fprintln(w, "\n[auth]")
	field("  initial_passcode", redact(cfg.Auth.InitialPasscode), redact(def.Auth.InitialPasscode))
	field("  bcrypt_cost", cfg.Auth.BcryptCost, def.Auth.BcryptCost)

	_, _ = cyan.Fprintln(w, "\n[defaults]")
	days := make([]string, 0, len(cfg.Defaults.Limits))
	for d := range cfg.Defaults.Limits {
		days = append(days, d)
	}
	sort.Strings(days)
	for _, d := range days {
		field("  limits."+d, cfg.Defaults.Limits[d], def.Defaults.Limits[d])
	}
	field("  pause.enabled", cfg.Defaults.Pause.Enabled, def.Defaults.Pause.Enabled)
	field("  pause.daily_budget", cfg.Defaults.Pause.DailyBudget, def.Defaults.Pause.DailyBudget)
	field("  pause.max_duration", cfg.Defaults.Pause.MaxDuration, def.Defaults.Pause.MaxDuration)
	field("  pause.cooldown", cfg.Defaults.Pause.Cooldown, def.Defaults.Pause.Cooldown)
	field("  pause.min_active_time", cfg.Defaults.Pause.MinActiveTime, def.Defaults.Pause.MinActiveTime)
	field("  pause.low_time_block", cfg.Defaults.Pause.LowTimeBlock, def.Defaults.Pause.LowTimeBlock)
	field("  warnings", cfg.Defaults.Warnings, def.Defaults.Warnings)
	field("  blocking_message", cfg.Defaults.BlockingMessage, def.Defaults.BlockingMessage)

	_, _ = cyan.Fprintln(w, "\n[remote]")
	field("  enabled", cfg.Remote.Enabled, def.Remote.Enabled)
	field("  token", redact(cfg.Remote.Token), redact(def.Remote.Token))
	field("  endpoint", cfg.Remote.Endpoint, def.Remote.Endpoint)
	field("  admin_user_id", cfg.Remote.AdminUserID, def.Remote.AdminUserID)
	field("  poll_timeout", cfg.Remote.PollTimeout, def.Remote.PollTimeout)
	field("  notify_buffer", cfg.Remote.NotifyBuffer, def.Remote.NotifyBuffer)

	_, _ = cyan.Fprintln(w, "\n[admin]")
	field("  enabled", cfg.Admin.Enabled, def.Admin.Enabled)
	field("  bind_address", cfg.Admin.BindAddress, def.Admin.BindAddress)
	field("  port", cfg.Admin.Port, def.Admin.Port)

	_, _ = cyan.Fprintln(w, "\n[metrics]")
	field("  enabled", cfg.Metrics.Enabled, def.Metrics.Enabled)
	field("  bind_address", cfg.Metrics.BindAddress, def.Metrics.BindAddress)
	field("  port", cfg.Metrics.Port, def.Metrics.Port)
}

// dumpField prints a field with color if it differs from default
func dumpField(w io.Writer, name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	if reflect.DeepEqual(value, defaultValue) {
		_, _ = defaultColor.Fprintf(w, "%s = %v\n", name, value)
		return
	}
	_, _ = modifiedColor.Fprintf(w, "%s = %v (default: %v)\n", name, value, defaultValue)
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
