// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var codePrefixPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`
	PrivateKey  string   `mapstructure:"privatekey"`
	Timezone    string   `mapstructure:"timezone"`
	SiteHost    string   `mapstructure:"sitehost"` // public venue site; referrers from it are internal
	AdminAPIKey string   `mapstructure:"adminapikey"`

	// File paths
	DatabasePath string `mapstructure:"storagepath"`
	DatabaseName string `mapstructure:"-"` // Derived from other settings

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseMaxOpenConns int `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int `mapstructure:"dbmaxidleconns"`

	// Referral codes
	CodePrefix         string `mapstructure:"codeprefix"`
	CodeMaxAttempts    int    `mapstructure:"codemaxattempts"`
	PartnerCacheTTLSec int    `mapstructure:"partnercachettlseconds"`

	// Ledger
	LedgerMaxRetries int `mapstructure:"ledgermaxretries"`

	// Event tracking
	TrackingTimeoutMs   int `mapstructure:"trackingtimeoutms"`
	TrackingMaxInFlight int `mapstructure:"trackingmaxinflight"`

	// Job scheduling settings
	RollupCronSpec    string `mapstructure:"rollupcronspec"`
	ReconcileCronSpec string `mapstructure:"reconcilecronspec"`
	RollupBatchSize   int    `mapstructure:"rollupbatchsize"`
	BackfillWorkers   int    `mapstructure:"backfillworkers"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		c, err := Load()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		cfg = c
	})
	return cfg
}

// Load reads defaults and environment overrides into a fresh Config.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("appname", "leadflow")
	v.SetDefault("appport", "3000")
	v.SetDefault("environment", Development)
	v.SetDefault("loglevel", string(LogLevelDebug))
	v.SetDefault("privatekey", "88888888888888888888888888888888")
	v.SetDefault("timezone", "UTC")
	v.SetDefault("sitehost", "")
	v.SetDefault("adminapikey", "")
	v.SetDefault("storagepath", "storage")
	v.SetDefault("logsdir", "logs")
	v.SetDefault("logsmaxsizeinmb", 20)
	v.SetDefault("logsmaxbackups", 10)
	v.SetDefault("logsmaxageindays", 30)
	v.SetDefault("dbmaxopenconns", 0)
	v.SetDefault("dbmaxidleconns", 0)
	v.SetDefault("codeprefix", "TWBFL")
	v.SetDefault("codemaxattempts", 10)
	v.SetDefault("partnercachettlseconds", 60)
	v.SetDefault("ledgermaxretries", 3)
	v.SetDefault("trackingtimeoutms", 2000)
	v.SetDefault("trackingmaxinflight", 64)
	v.SetDefault("rollupcronspec", "15 0 * * *")
	v.SetDefault("reconcilecronspec", "30 3 * * *")
	v.SetDefault("rollupbatchsize", 500)
	v.SetDefault("backfillworkers", 4)

	v.BindEnv("appname", "LEADFLOW_APP_NAME")
	v.BindEnv("appport", "LEADFLOW_APP_PORT")
	v.BindEnv("environment", "LEADFLOW_ENV")
	v.BindEnv("loglevel", "LEADFLOW_LOG_LEVEL")
	v.BindEnv("privatekey", "LEADFLOW_PRIVATE_KEY")
	v.BindEnv("timezone", "LEADFLOW_TIMEZONE")
	v.BindEnv("sitehost", "LEADFLOW_SITE_HOST")
	v.BindEnv("adminapikey", "LEADFLOW_ADMIN_API_KEY")
	v.BindEnv("storagepath", "LEADFLOW_STORAGE_PATH")
	v.BindEnv("logsdir", "LEADFLOW_LOGS_DIR")
	v.BindEnv("logsmaxsizeinmb", "LEADFLOW_LOGS_MAX_SIZE_IN_MB")
	v.BindEnv("logsmaxbackups", "LEADFLOW_LOGS_MAX_BACKUPS")
	v.BindEnv("logsmaxageindays", "LEADFLOW_LOGS_MAX_AGE_IN_DAYS")
	v.BindEnv("dbmaxopenconns", "LEADFLOW_DB_MAX_OPEN_CONNS")
	v.BindEnv("dbmaxidleconns", "LEADFLOW_DB_MAX_IDLE_CONNS")
	v.BindEnv("codeprefix", "LEADFLOW_CODE_PREFIX")
	v.BindEnv("codemaxattempts", "LEADFLOW_CODE_MAX_ATTEMPTS")
	v.BindEnv("partnercachettlseconds", "LEADFLOW_PARTNER_CACHE_TTL_SECONDS")
	v.BindEnv("ledgermaxretries", "LEADFLOW_LEDGER_MAX_RETRIES")
	v.BindEnv("trackingtimeoutms", "LEADFLOW_TRACKING_TIMEOUT_MS")
	v.BindEnv("trackingmaxinflight", "LEADFLOW_TRACKING_MAX_IN_FLIGHT")
	v.BindEnv("rollupcronspec", "LEADFLOW_ROLLUP_CRON")
	v.BindEnv("reconcilecronspec", "LEADFLOW_RECONCILE_CRON")
	v.BindEnv("rollupbatchsize", "LEADFLOW_ROLLUP_BATCH_SIZE")
	v.BindEnv("backfillworkers", "LEADFLOW_BACKFILL_WORKERS")

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c.DatabaseName = c.GetDatabasePath()

	if c.IsProduction() && c.PrivateKey == "88888888888888888888888888888888" {
		return nil, fmt.Errorf("production requires a unique LEADFLOW_PRIVATE_KEY (cannot use default)")
	}
	if c.IsProduction() && len(c.AdminAPIKey) < 24 {
		return nil, fmt.Errorf("production requires LEADFLOW_ADMIN_API_KEY of at least 24 characters")
	}

	return c, nil
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	if !codePrefixPattern.MatchString(c.CodePrefix) {
		return fmt.Errorf("invalid code prefix %q: must be 2-10 uppercase alphanumerics", c.CodePrefix)
	}

	if c.CodeMaxAttempts <= 0 {
		return fmt.Errorf("code max attempts must be positive, got %d", c.CodeMaxAttempts)
	}

	if c.LedgerMaxRetries <= 0 {
		return fmt.Errorf("ledger max retries must be positive, got %d", c.LedgerMaxRetries)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// Location returns the timezone used to cut calendar days.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// TrackingTimeout bounds a single detached event write.
func (c *Config) TrackingTimeout() time.Duration {
	return time.Duration(c.TrackingTimeoutMs) * time.Millisecond
}

// PartnerCacheTTL returns how long resolved referral codes stay cached.
func (c *Config) PartnerCacheTTL() time.Duration {
	return time.Duration(c.PartnerCacheTTLSec) * time.Second
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory implements cartridge.Config; the service ships no static assets.
func (c *Config) GetPublicDirectory() string {
	return ""
}

// GetAssetsPrefix implements cartridge.Config.
func (c *Config) GetAssetsPrefix() string {
	return "/"
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.PrivateKey
}

// GetSessionTimeout implements cartridge.FactoryConfig. There are no browser
// sessions; admin requests authenticate with the API key.
func (c *Config) GetSessionTimeout() int {
	return 0
}

// GetLoginSessionTimeout implements cartridge.FactoryConfig.
func (c *Config) GetLoginSessionTimeout() int {
	return 0
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1
// - Development/Production: 10 (dashboard queries fan out concurrently)
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
