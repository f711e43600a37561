package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the learningpaths configuration
type Config struct {
	// Storage paths
	Storage StorageConfig `mapstructure:"storage"`

	// Database connection
	Database DatabaseConfig `mapstructure:"database"`

	// Daemon and HTTP API settings
	Daemon DaemonConfig `mapstructure:"daemon"`

	// Bearer token settings
	Auth AuthConfig `mapstructure:"auth"`

	// Enrollment behaviour
	Enrollment EnrollmentConfig `mapstructure:"enrollment"`

	// Course milestone processing
	Milestones MilestonesConfig `mapstructure:"milestones"`

	// Certificate eligibility
	Certificates CertificatesConfig `mapstructure:"certificates"`

	// API rate limiting
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// UI settings
	UI UIConfig `mapstructure:"ui"`
}

type StorageConfig struct {
	BaseDir  string `mapstructure:"base_dir"`
	MediaURL string `mapstructure:"media_url"`
}

type DatabaseConfig struct {
	// DSN selects the driver: postgres:// URLs use PostgreSQL, anything
	// else is a SQLite file. Empty means the SQLite file under base_dir.
	DSN string `mapstructure:"dsn"`
}

type DaemonConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type AuthConfig struct {
	SigningKey string        `mapstructure:"signing_key"`
	Issuer     string        `mapstructure:"issuer"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
}

type EnrollmentConfig struct {
	AllowSelfUnenrollment bool `mapstructure:"allow_self_unenrollment"`
}

type MilestonesConfig struct {
	PrerequisitesEnabled bool          `mapstructure:"prerequisites_enabled"`
	Mode                 string        `mapstructure:"mode"` // sync or async
	Workers              int           `mapstructure:"workers"`
	MaxRetries           int           `mapstructure:"max_retries"`
	RetryDelay           time.Duration `mapstructure:"retry_delay"`
}

type CertificatesConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type UIConfig struct {
	ProgressBar  bool   `mapstructure:"progress_bar"`
	Verbose      bool   `mapstructure:"verbose"`
	OutputFormat string `mapstructure:"output_format"`
}

const (
	MilestoneModeSync  = "sync"
	MilestoneModeAsync = "async"
)

var (
	cfg *Config
	v   *viper.Viper
)

// Helper methods for accessing config values

// GetInt returns an integer value from the config
func (c *Config) GetInt(key string) int {
	if v != nil {
		return v.GetInt(key)
	}
	return 0
}

// GetBool returns a boolean value from the config
func (c *Config) GetBool(key string) bool {
	if v != nil {
		return v.GetBool(key)
	}
	return false
}

// GetString returns a string value from the config
func (c *Config) GetString(key string) string {
	if v != nil {
		return v.GetString(key)
	}
	return ""
}

// Initialize sets up the configuration
func Initialize() error {
	v = viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// 1. Same directory as executable
	if exe, err := os.Executable(); err == nil {
		v.AddConfigPath(filepath.Dir(exe))
	}

	// 2. Current working directory
	v.AddConfigPath(".")

	// 3. User config directory
	if configDir := getUserConfigDir(); configDir != "" {
		v.AddConfigPath(configDir)
	}

	setDefaults(v)

	// LEARNINGPATHS_AUTH_SIGNING_KEY overrides auth.signing_key
	v.SetEnvPrefix("LEARNINGPATHS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return load()
}

func load() error {
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	expandPaths(c)
	if err := c.Validate(); err != nil {
		return err
	}
	cfg = c
	return nil
}

// setDefaults sets all default values
func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.base_dir", getDefaultBaseDir())
	v.SetDefault("storage.media_url", "")

	v.SetDefault("database.dsn", "") // SQLite under base_dir/db

	v.SetDefault("daemon.host", "127.0.0.1")
	v.SetDefault("daemon.port", 8737)
	v.SetDefault("daemon.shutdown_timeout", 10*time.Second)

	v.SetDefault("auth.signing_key", "") // generated and persisted on first start
	v.SetDefault("auth.issuer", "learningpaths")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("enrollment.allow_self_unenrollment", false)

	v.SetDefault("milestones.prerequisites_enabled", false)
	v.SetDefault("milestones.mode", MilestoneModeAsync)
	v.SetDefault("milestones.workers", 2)
	v.SetDefault("milestones.max_retries", 3)
	v.SetDefault("milestones.retry_delay", 2*time.Second)

	v.SetDefault("certificates.enabled", false)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 20.0)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("ui.progress_bar", true)
	v.SetDefault("ui.verbose", false)
	v.SetDefault("ui.output_format", "text") // text or json
}

// Validate checks values that have a fixed set of choices or ranges
func (c *Config) Validate() error {
	switch c.Milestones.Mode {
	case MilestoneModeSync, MilestoneModeAsync:
	default:
		return fmt.Errorf("milestones.mode must be %q or %q, got %q", MilestoneModeSync, MilestoneModeAsync, c.Milestones.Mode)
	}
	if c.Milestones.MaxRetries < 0 {
		return errors.New("milestones.max_retries cannot be negative")
	}
	if c.Daemon.Port < 0 || c.Daemon.Port > 65535 {
		return fmt.Errorf("daemon.port out of range: %d", c.Daemon.Port)
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return errors.New("rate_limit.requests_per_second must be positive")
	}
	return nil
}

// getDefaultBaseDir returns the default base directory
func getDefaultBaseDir() string {
	if dir := os.Getenv("LEARNINGPATHS_HOME"); dir != "" {
		return dir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ".learningpaths"
	}

	return filepath.Join(home, ".learningpaths")
}

// getUserConfigDir returns the user's config directory
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "learningpaths")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "learningpaths")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "learningpaths")
		}
		return filepath.Join(home, "AppData", "Roaming", "learningpaths")
	default:
		return filepath.Join(home, ".config", "learningpaths")
	}
}

// expandPaths expands the configured paths
func expandPaths(cfg *Config) {
	if cfg.Storage.BaseDir != "" {
		cfg.Storage.BaseDir = expandPath(cfg.Storage.BaseDir)
	}
	if cfg.Database.DSN != "" && !strings.Contains(cfg.Database.DSN, "://") {
		cfg.Database.DSN = expandPath(cfg.Database.DSN)
	}
}

// expandPath expands ~ and environment variables
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	return os.ExpandEnv(path)
}

// Get returns the current configuration
func Get() *Config {
	if cfg == nil {
		panic("config not initialized")
	}
	return cfg
}

// GetViper returns the viper instance
func GetViper() *viper.Viper {
	if v == nil {
		panic("config not initialized")
	}
	return v
}

// Reload re-reads values after flags or settings changed on the viper instance
func Reload() error {
	if v == nil {
		return errors.New("config not initialized")
	}
	return load()
}

// Set overrides a value and reloads the configuration
func Set(key string, value any) error {
	GetViper().Set(key, value)
	return Reload()
}

// SaveConfig saves the current configuration to file
func SaveConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return v.WriteConfigAs(path)
}
