// Package config loads and validates the portscout configuration file.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anstrom/portscout/internal/db"
	"github.com/anstrom/portscout/internal/errors"
	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/profiles"
	"github.com/anstrom/portscout/internal/scanning"
)

const (
	maxConcurrency  = 10000
	maxBannerBytes  = 64 * 1024
	defaultAPIPort  = 8080
	defaultMaxBody  = 1024 * 1024 // 1MB
	configDirPerm   = 0750
	configFilePerm  = 0600
	defaultShutdown = 15 * time.Second
)

// Config represents the complete portscout configuration
type Config struct {
	// Scan defaults and output handling
	Scanning ScanningConfig `yaml:"scanning" json:"scanning"`

	// Database configuration, only needed for profiles and stored scans
	Database db.Config `yaml:"database" json:"database"`

	// API configuration
	API APIConfig `yaml:"api" json:"api"`

	// Logging configuration
	Logging logging.Config `yaml:"logging" json:"logging"`
}

// ScanningConfig holds scanning-related settings
type ScanningConfig struct {
	// Per-port connect timeout
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// Connect and read timeout for banner grabs
	BannerTimeout time.Duration `yaml:"banner_timeout" json:"banner_timeout"`

	// Maximum probes in flight
	Concurrency int `yaml:"concurrency" json:"concurrency"`

	// Completions between progress updates
	ProgressInterval int `yaml:"progress_interval" json:"progress_interval"`

	// Byte budget for a single banner read
	BannerMaxBytes int `yaml:"banner_max_bytes" json:"banner_max_bytes"`

	// Optional DNS server (host or host:port) used instead of the system resolver
	DNSServer string `yaml:"dns_server" json:"dns_server"`

	// Directory for JSON scan artifacts
	OutputDir string `yaml:"output_dir" json:"output_dir"`

	// Write a JSON artifact per scan
	SaveJSON bool `yaml:"save_json" json:"save_json"`

	// Store summaries in PostgreSQL
	SaveDatabase bool `yaml:"save_database" json:"save_database"`
}

// APIConfig holds API server settings
type APIConfig struct {
	// Listen address
	Host string `yaml:"host" json:"host"`

	// Listen port
	Port int `yaml:"port" json:"port"`

	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Maximum request body size
	MaxRequestSize int64 `yaml:"max_request_size" json:"max_request_size"`

	// CORS settings
	CORS CORSConfig `yaml:"cors" json:"cors"`
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Scanning: ScanningConfig{
			Timeout:          scanning.DefaultTimeout,
			BannerTimeout:    scanning.DefaultBannerTimeout,
			Concurrency:      scanning.DefaultConcurrency,
			ProgressInterval: scanning.DefaultProgressInterval,
			BannerMaxBytes:   scanning.DefaultBannerMaxBytes,
			OutputDir:        "scans",
			SaveJSON:         true,
			SaveDatabase:     false,
		},
		Database: db.DefaultConfig(),
		API: APIConfig{
			Host:            "127.0.0.1",
			Port:            defaultAPIPort,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    5 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: defaultShutdown,
			MaxRequestSize:  defaultMaxBody,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization"},
			},
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewFileError(errors.CodeFileRead, path, err)
	}

	// yaml.v3 also accepts JSON documents, so both extensions share a decoder.
	if err := yaml.Unmarshal(data, config); err != nil {
		switch filepath.Ext(path) {
		case ".json":
			return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to parse JSON config", err)
		default:
			return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to parse YAML config", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return errors.NewFileError(errors.CodeDirectoryCreate, filepath.Dir(path), err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return errors.NewFileError(errors.CodeFileWrite, path, err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.validateScanning(); err != nil {
		return err
	}

	if c.Scanning.SaveDatabase && !c.Database.IsConfigured() {
		return errors.NewConfigFieldError(errors.CodeConfiguration,
			"database host, name and username are required when save_database is set",
			"database", nil)
	}
	if c.Database.Port < 0 || c.Database.Port > scanning.MaxPort {
		return errors.ErrConfigInvalid("database.port", c.Database.Port)
	}

	if c.API.Port <= 0 || c.API.Port > scanning.MaxPort {
		return errors.NewConfigFieldError(errors.CodeValidation,
			"API port must be between 1 and 65535", "api.port", c.API.Port)
	}
	if c.API.MaxRequestSize <= 0 {
		return errors.ErrConfigInvalid("api.max_request_size", c.API.MaxRequestSize)
	}

	validLogLevels := map[logging.LogLevel]bool{
		logging.LevelDebug: true,
		logging.LevelInfo:  true,
		logging.LevelWarn:  true,
		logging.LevelError: true,
	}
	if !validLogLevels[c.Logging.Level] {
		return errors.ErrConfigInvalid("logging.level", c.Logging.Level)
	}

	validLogFormats := map[logging.LogFormat]bool{
		logging.FormatText: true,
		logging.FormatJSON: true,
	}
	if !validLogFormats[c.Logging.Format] {
		return errors.ErrConfigInvalid("logging.format", c.Logging.Format)
	}

	return nil
}

func (c *Config) validateScanning() error {
	s := c.Scanning
	switch {
	case s.Timeout <= 0:
		return errors.ErrConfigInvalid("scanning.timeout", s.Timeout)
	case s.BannerTimeout <= 0:
		return errors.ErrConfigInvalid("scanning.banner_timeout", s.BannerTimeout)
	case s.Concurrency < 1 || s.Concurrency > maxConcurrency:
		return errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("concurrency must be between 1 and %d", maxConcurrency),
			"scanning.concurrency", s.Concurrency)
	case s.ProgressInterval < 1:
		return errors.ErrConfigInvalid("scanning.progress_interval", s.ProgressInterval)
	case s.BannerMaxBytes < 1 || s.BannerMaxBytes > maxBannerBytes:
		return errors.ErrConfigInvalid("scanning.banner_max_bytes", s.BannerMaxBytes)
	case s.SaveJSON && s.OutputDir == "":
		return errors.NewConfigFieldError(errors.CodeValidation,
			"output directory is required when save_json is set", "scanning.output_dir", s.OutputDir)
	}
	return nil
}

// GetDatabaseConfig returns the database configuration
func (c *Config) GetDatabaseConfig() db.Config {
	return c.Database
}

// GetAPIAddress returns the full API address
func (c *Config) GetAPIAddress() string {
	return net.JoinHostPort(c.API.Host, strconv.Itoa(c.API.Port))
}

// CoordinatorOptions maps the scanning section onto coordinator options.
func (c *Config) CoordinatorOptions() scanning.CoordinatorOptions {
	return scanning.CoordinatorOptions{
		DNSServer:        c.Scanning.DNSServer,
		BannerMaxBytes:   c.Scanning.BannerMaxBytes,
		ProgressInterval: c.Scanning.ProgressInterval,
	}
}

// ScanDefaults returns the values used for anything a request or profile
// leaves unset.
func (c *Config) ScanDefaults() profiles.Defaults {
	return profiles.Defaults{
		Timeout:       c.Scanning.Timeout,
		BannerTimeout: c.Scanning.BannerTimeout,
		Concurrency:   c.Scanning.Concurrency,
	}
}
