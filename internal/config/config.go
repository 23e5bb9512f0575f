// Package config loads SalePoint configuration. Precedence, lowest to
// highest: built-in defaults, an optional YAML file, environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// envPrefix namespaces every environment variable, e.g. SALEPOINT_SERVER_PORT.
// Fields deliberately carry no envconfig name tags: a name tag doubles as an
// un-prefixed fallback lookup, which makes a field like the database path
// read the ambient $PATH variable.
const envPrefix = "SALEPOINT"

// Config is the complete application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	License  LicenseConfig  `yaml:"license"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
}

// LicenseConfig contains license subsystem configuration.
type LicenseConfig struct {
	// Secret is the shared issuer secret the key codec derives its
	// symmetric key from. Issuer and application must agree on it.
	Secret string `yaml:"secret"`
	// CacheTTL bounds how long decode results are memoized.
	CacheTTL time.Duration `yaml:"cache_ttl" split_words:"true"`
	// CacheMaxSize caps the decode cache entry count.
	CacheMaxSize int `yaml:"cache_max_size" split_words:"true"`
	// MaxAttempts failed activations within AttemptWindow block a device
	// for BlockDuration.
	MaxAttempts   int           `yaml:"max_attempts" split_words:"true"`
	BlockDuration time.Duration `yaml:"block_duration" split_words:"true"`
	AttemptWindow time.Duration `yaml:"attempt_window" split_words:"true"`
}

// DatabaseConfig contains SQLite configuration.
type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout" split_words:"true"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Output   string `yaml:"output"` // stdout|file|both
	FilePath string `yaml:"file_path" split_words:"true"`
}

// defaultLicenseSecret ships with the binary the way the application's
// other embedded credentials do; deployments override it via
// SALEPOINT_LICENSE_SECRET or the config file.
const defaultLicenseSecret = "salepoint-issuer-secret-2024"

// defaultConfig holds the built-in defaults. Kept out of struct tags so
// the YAML file can overlay them before the environment is applied.
func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:            8090,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		License: LicenseConfig{
			CacheTTL:      5 * time.Minute,
			CacheMaxSize:  1000,
			MaxAttempts:   5,
			BlockDuration: 15 * time.Minute,
			AttemptWindow: 5 * time.Minute,
		},
		Database: DatabaseConfig{
			Path:        "data/salepoint.db",
			BusyTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "stdout",
			FilePath: "logs/salepoint.log",
		},
	}
}

// Load reads configuration using the default config file location
// (salepoint.yml in the working directory, or SALEPOINT_CONFIG).
func Load() (*Config, error) {
	return LoadFrom(configFilePath())
}

// LoadFrom reads configuration using the given YAML file path. A missing
// file is not an error; defaults and environment variables still apply.
// Environment variables override file values where set.
func LoadFrom(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("load config from file: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("load config from file: %w", err)
		}
	}

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if cfg.License.Secret == "" {
		cfg.License.Secret = defaultLicenseSecret
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func configFilePath() string {
	if p := os.Getenv(envPrefix + "_CONFIG"); p != "" {
		return p
	}
	return "salepoint.yml"
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.License.MaxAttempts < 1 {
		return fmt.Errorf("license max attempts must be at least 1")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	return nil
}

// EnsureDirectories creates the directories the configured paths live in.
func (c *Config) EnsureDirectories() error {
	dirs := []string{filepath.Dir(c.Database.Path)}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
