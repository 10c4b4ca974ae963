package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Timezone    string            `mapstructure:"timezone"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Defaults    DefaultsConfig    `mapstructure:"defaults"`
	Remote      RemoteConfig      `mapstructure:"remote"`
	Admin       AdminConfig       `mapstructure:"admin"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// EngineConfig defines clock and tick behaviour
type EngineConfig struct {
	TickInterval     string `mapstructure:"tick_interval"`
	MaxTickElapsed   string `mapstructure:"max_tick_elapsed"`
	MaxExtendMinutes int    `mapstructure:"max_extend_minutes"`
}

// PersistenceConfig defines the bounded retry applied to store writes
type PersistenceConfig struct {
	Retries int    `mapstructure:"retries"`
	Backoff string `mapstructure:"backoff"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type               string      `mapstructure:"type"`
	Path               string      `mapstructure:"path"`
	Redis              RedisConfig `mapstructure:"redis"`
	RetentionDays      int         `mapstructure:"retention_days"`
	RetentionCheckTime string      `mapstructure:"retention_check_time"`
	HistoryCacheSize   int         `mapstructure:"history_cache_size"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	KeyPrefix    string `mapstructure:"key_prefix"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuthConfig defines passcode handling
type AuthConfig struct {
	InitialPasscode string `mapstructure:"initial_passcode"`
	BcryptCost      int    `mapstructure:"bcrypt_cost"`
}

// DefaultsConfig seeds the stored settings when they are missing
type DefaultsConfig struct {
	Limits          map[string]string `mapstructure:"limits"`
	Pause           PauseDefaults     `mapstructure:"pause"`
	Warnings        []WarningDefault  `mapstructure:"warnings"`
	BlockingMessage string            `mapstructure:"blocking_message"`
}

// PauseDefaults are the default pause policy values (durations)
type PauseDefaults struct {
	Enabled       bool   `mapstructure:"enabled"`
	DailyBudget   string `mapstructure:"daily_budget"`
	MaxDuration   string `mapstructure:"max_duration"`
	Cooldown      string `mapstructure:"cooldown"`
	MinActiveTime string `mapstructure:"min_active_time"`
	LowTimeBlock  string `mapstructure:"low_time_block"`
}

// WarningDefault is one default warning threshold
type WarningDefault struct {
	Before  string `mapstructure:"before"`
	Message string `mapstructure:"message"`
}

// RemoteConfig defines the Telegram remote channel
type RemoteConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Token        string `mapstructure:"token"`
	Endpoint     string `mapstructure:"endpoint"`
	AdminUserID  int64  `mapstructure:"admin_user_id"` // sender allowed to command; notifications go to its private chat
	PollTimeout  string `mapstructure:"poll_timeout"`
	NotifyBuffer int    `mapstructure:"notify_buffer"`
}

// AdminConfig defines the local control API
type AdminConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port"`
}

// MetricsConfig defines the metrics endpoint
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("KTIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("timezone", "Local")

	// Engine defaults
	v.SetDefault("engine.tick_interval", "1s")
	v.SetDefault("engine.max_tick_elapsed", "1h")
	v.SetDefault("engine.max_extend_minutes", 120)

	// Persistence defaults
	v.SetDefault("persistence.retries", 3)
	v.SetDefault("persistence.backoff", "50ms")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", defaultDataPath())
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 1)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.key_prefix", "ktime")
	v.SetDefault("storage.retention_days", 0)
	v.SetDefault("storage.retention_check_time", "03:00")
	v.SetDefault("storage.history_cache_size", 64)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Auth defaults
	v.SetDefault("auth.initial_passcode", "0000")
	v.SetDefault("auth.bcrypt_cost", 12)

	// Settings seeded into the store on first start
	v.SetDefault("defaults.limits", map[string]string{
		"monday":    "2h",
		"tuesday":   "2h",
		"wednesday": "2h",
		"thursday":  "2h",
		"friday":    "3h",
		"saturday":  "4h",
		"sunday":    "4h",
	})
	v.SetDefault("defaults.pause.enabled", true)
	v.SetDefault("defaults.pause.daily_budget", "45m")
	v.SetDefault("defaults.pause.max_duration", "20m")
	v.SetDefault("defaults.pause.cooldown", "15m")
	v.SetDefault("defaults.pause.min_active_time", "10m")
	v.SetDefault("defaults.pause.low_time_block", "1m")
	v.SetDefault("defaults.warnings", []map[string]string{
		{"before": "10m", "message": "10 minutes remaining!"},
		{"before": "5m", "message": "5 minutes remaining!"},
	})
	v.SetDefault("defaults.blocking_message", "Your screen time limit has been reached.")

	// Remote channel defaults
	v.SetDefault("remote.enabled", false)
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.endpoint", "")
	v.SetDefault("remote.admin_user_id", 0)
	v.SetDefault("remote.poll_timeout", "60s")
	v.SetDefault("remote.notify_buffer", 32)

	// Admin API defaults
	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.bind_address", "127.0.0.1")
	v.SetDefault("admin.port", 8765)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.bind_address", "127.0.0.1")
	v.SetDefault("metrics.port", 9765)
}

// DefaultConfig returns the configuration built from defaults alone.
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// KnownKeys returns the set of recognised configuration keys.
func KnownKeys() map[string]bool {
	v := viper.New()
	setDefaults(v)

	keys := make(map[string]bool)
	for _, k := range v.AllKeys() {
		keys[k] = true
	}
	return keys
}

// UnknownKeys reads the config file at path and returns the keys it sets
// that no part of Config reads.
func UnknownKeys(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	known := KnownKeys()
	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !known[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown, nil
}

// validate validates the configuration
func validate(cfg *Config) error {
	if _, err := cfg.Location(); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "bolt"
	}
	switch cfg.Storage.Type {
	case "bolt", "sqlite":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required for %s storage", cfg.Storage.Type)
		}
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("storage.redis.host is required for redis storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	if cfg.Storage.RetentionDays < 0 {
		return fmt.Errorf("storage.retention_days must not be negative")
	}

	if cfg.Admin.Enabled && (cfg.Admin.Port <= 0 || cfg.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", cfg.Admin.Port)
	}
	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.Metrics.Port)
	}

	if cfg.Remote.Enabled {
		if cfg.Remote.Token == "" {
			return fmt.Errorf("remote.token is required when the remote channel is enabled")
		}
		if cfg.Remote.AdminUserID == 0 {
			return fmt.Errorf("remote.admin_user_id is required when the remote channel is enabled")
		}
	}

	if cfg.Engine.MaxExtendMinutes <= 0 {
		cfg.Engine.MaxExtendMinutes = 120
	}

	return nil
}

// Location resolves the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Timezone {
	case "", "Local":
		return time.Local, nil
	default:
		return time.LoadLocation(c.Timezone)
	}
}

// ParseDuration parses a duration string with a fallback
func ParseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func defaultDataPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "ktime", "ktime.bolt")
}
