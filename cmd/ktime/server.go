package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/ktime/internal/admin"
	"github.com/goodtune/ktime/internal/config"
	"github.com/goodtune/ktime/internal/metrics"
	"github.com/goodtune/ktime/internal/quota"
	"github.com/goodtune/ktime/internal/remote"
	"github.com/goodtune/ktime/internal/storage"
	"github.com/goodtune/ktime/internal/storage/bolt"
	"github.com/goodtune/ktime/internal/storage/redis"
	"github.com/goodtune/ktime/internal/storage/sqlite"
	"github.com/goodtune/ktime/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start KTime server",
	Long:  `Start the quota engine with its ticker, control API, remote channel and metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting KTime")

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	defaults, err := settingsFromConfig(cfg.Defaults)
	if err != nil {
		return err
	}

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	seeded, err := quota.SeedSettings(ctx, store, defaults)
	if err != nil {
		return fmt.Errorf("failed to seed settings: %w", err)
	}
	if seeded > 0 {
		logger.Info().Int("keys", seeded).Msg("Seeded missing settings from configuration defaults")
	}

	auth, err := quota.NewAuthenticator(ctx, store, cfg.Auth.InitialPasscode, cfg.Auth.BcryptCost, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize passcode: %w", err)
	}

	// Initialize Quota Engine
	engine, err := quota.NewEngine(ctx, store, auth, quota.Config{
		Location:         loc,
		Defaults:         defaults,
		MaxTickElapsed:   config.ParseDuration(cfg.Engine.MaxTickElapsed, quota.DefaultMaxTickElapsed),
		MaxExtendMinutes: cfg.Engine.MaxExtendMinutes,
		Retries:          cfg.Persistence.Retries,
		Backoff:          config.ParseDuration(cfg.Persistence.Backoff, quota.DefaultBackoff),
		HistoryCacheSize: cfg.Storage.HistoryCacheSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Quota Engine: %w", err)
	}

	// Initialize Remote Channel (if enabled)
	var bot *remote.Bot
	botDone := make(chan struct{})
	if cfg.Remote.Enabled {
		transport, err := remote.NewTelegramTransport(remote.TelegramConfig{
			Token:       cfg.Remote.Token,
			Endpoint:    cfg.Remote.Endpoint,
			PollTimeout: config.ParseDuration(cfg.Remote.PollTimeout, remote.DefaultPollTimeout),
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram transport: %w", err)
		}
		defer func() {
			if err := transport.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close Telegram transport")
			}
		}()

		bot = remote.NewBot(transport, engine, remote.Config{
			AdminUserID:      cfg.Remote.AdminUserID,
			NotifyBuffer:     cfg.Remote.NotifyBuffer,
			MaxExtendMinutes: cfg.Engine.MaxExtendMinutes,
		}, logger)
		engine.SetNotifier(bot)

		go func() {
			defer close(botDone)
			if err := bot.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("Remote channel stopped")
			}
		}()
	} else {
		close(botDone)
	}

	// Start the ticker after the notifier is attached
	ticker := quota.NewTicker(engine, config.ParseDuration(cfg.Engine.TickInterval, quota.DefaultTickInterval), logger)
	ticker.Start()

	// Initialize Retention Scheduler
	retention, err := storage.NewRetentionScheduler(store, cfg.Storage.RetentionDays, cfg.Storage.RetentionCheckTime, loc, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Retention Scheduler: %w", err)
	}
	retention.Start()

	// Initialize Admin Server
	var adminServer *admin.Server
	if cfg.Admin.Enabled {
		adminAddr := fmt.Sprintf("%s:%d", cfg.Admin.BindAddress, cfg.Admin.Port)
		adminServer = admin.NewServer(admin.Config{ListenAddr: adminAddr}, engine, logger)

		// Use systemd socket-activated listener if available
		if sdListeners.Activated && sdListeners.Admin != nil {
			adminServer.SetListener(sdListeners.Admin)
		}

		if err := adminServer.Start(); err != nil {
			return fmt.Errorf("failed to start Admin Server: %w", err)
		}
	}

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Metrics.BindAddress, cfg.Metrics.Port)
		metricsServer = metrics.NewServer(metricsAddr, logger)

		if sdListeners.Activated && sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}

		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start Metrics Server: %w", err)
		}
	}

	stats := engine.TodayStats(ctx)
	logger.Info().
		Str("date", stats.Date).
		Str("status", string(stats.Status)).
		Str("remaining", quota.FormatSeconds(stats.RemainingSeconds)).
		Msg("KTime startup complete")

	if bot != nil {
		bot.Announce(fmt.Sprintf("KTime started. %s remaining today (%s).",
			quota.FormatSeconds(stats.RemainingSeconds), stats.Status))
	}

	// Notify systemd that we're ready
	if sent, err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else if sent {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")

	if _, err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// Stop ticking first so the final state is what gets reported
	ticker.Stop()
	retention.Stop()

	if bot != nil {
		sendCtx, sendCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := bot.SendNow(sendCtx, "KTime is shutting down."); err != nil {
			logger.Warn().Err(err).Msg("Failed to send shutdown notification")
		}
		sendCancel()
	}
	cancel()
	<-botDone

	if adminServer != nil {
		if err := adminServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Admin Server")
		}
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("KTime stopped")

	return nil
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "bolt", "":
		return bolt.Open(cfg.Path)
	case "sqlite":
		return sqlite.Open(ctx, cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
