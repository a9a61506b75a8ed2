package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aussiebroadwan/casedesk/internal/casedesk/gateway"
	"github.com/aussiebroadwan/casedesk/internal/casedesk/service"
	"github.com/aussiebroadwan/casedesk/pkg/httpx"
)

// Record drivers.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// ErrNoAPIURL is returned when no backend base URL is configured.
var ErrNoAPIURL = errors.New("CASEDESK_API_URL is required")

type Config struct {
	APIURL           string        `yaml:"api_url"`           // Required: backend base URL
	StoreDriver      string        `yaml:"store_driver"`      // Optional: durable record driver (file, sqlite) (default: file)
	StateDir         string        `yaml:"state_dir"`         // Optional: directory for the record (default: <user config dir>/casedesk)
	DatabaseFile     string        `yaml:"database_file"`     // Optional: SQLite file for the sqlite driver (default: <state dir>/session.db)
	RecordKeyFile    string        `yaml:"record_key_file"`   // Optional: key file sealing record values at rest
	NATSURL          string        `yaml:"nats_url"`          // Optional: NATS server broadcasting record changes
	NATSSubject      string        `yaml:"nats_subject"`      // Optional: subject prefix (default: casedesk)
	RequestTimeout   time.Duration `yaml:"request_timeout"`   // Optional: per request timeout (default: 30s)
	WarningThreshold time.Duration `yaml:"warning_threshold"` // Optional: warning lead time (default: 60s)
	RefreshInterval  time.Duration `yaml:"refresh_interval"`  // Optional: keep-alive interval, 0 disables (default: 0)
	RefreshWindow    time.Duration `yaml:"refresh_window"`    // Optional: keep-alive refresh window (default: 5m)
	MetricsAddr      string        `yaml:"metrics_addr"`      // Optional: address serving /metrics in watch mode
	Env              string        `yaml:"env"`               // Environment (dev, staging, prod) (default: prod)
	LogLevel         string        `yaml:"log_level"`         // Log level (debug, info, warn, error) (default: warn)
	LogFormat        string        `yaml:"log_format"`        // Log format (json, text) (default: text)

	GatewayLimit httpx.RateLimitConfig `yaml:"-"` // RATELIMIT_GATEWAY_*
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		StoreDriver:      DriverFile,
		StateDir:         defaultStateDir(),
		NATSSubject:      "casedesk",
		RequestTimeout:   gateway.DefaultTimeout,
		WarningThreshold: service.DefaultWarningThreshold,
		RefreshWindow:    service.DefaultRefreshWindow,
		Env:              "prod",
		LogLevel:         "warn",
		LogFormat:        "text",
		GatewayLimit:     httpx.DefaultGatewayLimit,
	}
}

// LoadConfig layers defaults, the YAML file named by CASEDESK_CONFIG and the
// environment, in that order.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("CASEDESK_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.APIURL = getEnvOrDefault("CASEDESK_API_URL", cfg.APIURL)
	cfg.StoreDriver = getEnvOrDefault("CASEDESK_STORE_DRIVER", cfg.StoreDriver)
	cfg.StateDir = getEnvOrDefault("CASEDESK_STATE_DIR", cfg.StateDir)
	cfg.DatabaseFile = getEnvOrDefault("CASEDESK_DATABASE_FILE", cfg.DatabaseFile)
	cfg.RecordKeyFile = getEnvOrDefault("CASEDESK_RECORD_KEY_FILE", cfg.RecordKeyFile)
	cfg.NATSURL = getEnvOrDefault("CASEDESK_NATS_URL", cfg.NATSURL)
	cfg.NATSSubject = getEnvOrDefault("CASEDESK_NATS_SUBJECT", cfg.NATSSubject)
	cfg.RequestTimeout = getEnvDurationOrDefault("CASEDESK_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.WarningThreshold = getEnvDurationOrDefault("CASEDESK_WARNING_THRESHOLD", cfg.WarningThreshold)
	cfg.RefreshInterval = getEnvDurationOrDefault("CASEDESK_REFRESH_INTERVAL", cfg.RefreshInterval)
	cfg.RefreshWindow = getEnvDurationOrDefault("CASEDESK_REFRESH_WINDOW", cfg.RefreshWindow)
	cfg.MetricsAddr = getEnvOrDefault("CASEDESK_METRICS_ADDR", cfg.MetricsAddr)
	cfg.Env = getEnvOrDefault("ENV", cfg.Env)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnvOrDefault("LOG_FORMAT", cfg.LogFormat)
	cfg.GatewayLimit = httpx.ParseRateLimitFromEnv("GATEWAY", cfg.GatewayLimit)

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks the settings every command needs.
func (c Config) Validate() error {
	if c.APIURL == "" {
		return ErrNoAPIURL
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("CASEDESK_API_URL %q is not an absolute URL", c.APIURL)
	}

	switch c.StoreDriver {
	case DriverFile, DriverSQLite:
	default:
		return fmt.Errorf("unknown store driver %q (want %s or %s)", c.StoreDriver, DriverFile, DriverSQLite)
	}

	if c.StateDir == "" {
		return errors.New("state directory is empty")
	}
	if c.WarningThreshold <= 0 {
		return fmt.Errorf("warning threshold must be positive, got %s", c.WarningThreshold)
	}
	if c.RefreshInterval < 0 {
		return fmt.Errorf("refresh interval must not be negative, got %s", c.RefreshInterval)
	}
	return nil
}

// DatabasePath is the SQLite file used by the sqlite driver.
func (c Config) DatabasePath() string {
	if c.DatabaseFile != "" {
		return c.DatabaseFile
	}
	return filepath.Join(c.StateDir, "session.db")
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "casedesk")
	}
	return ".casedesk"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "90s", "5m")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}

	return defaultValue
}
