package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/c2fleet/pkg/stores"
	"github.com/openfroyo/c2fleet/pkg/telemetry"
)

// EnvLogLevel overrides the configured log level when set.
const EnvLogLevel = "LOG_LEVEL"

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Store     StoreConfig      `yaml:"store"`
	Flows     FlowsConfig      `yaml:"flows"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ServerConfig configures the agent-facing HTTP listener.
type ServerConfig struct {
	// ListenAddress is the host:port the C2 endpoints are served on.
	ListenAddress string `yaml:"listen_address" validate:"required,hostname_port"`

	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`

	// MaxBodyBytes bounds the size of a decoded request body.
	MaxBodyBytes int64 `yaml:"max_body_bytes" validate:"gt=0"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver          string        `yaml:"driver" validate:"required,oneof=memory sqlite"`
	Path            string        `yaml:"path" validate:"required_if=Driver sqlite"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"gte=0"`
}

// SQLite returns the SQLite store settings.
func (s StoreConfig) SQLite() stores.Config {
	return stores.Config{
		Path:            s.Path,
		MaxOpenConns:    s.MaxOpenConns,
		MaxIdleConns:    s.MaxIdleConns,
		ConnMaxLifetime: s.ConnMaxLifetime,
	}
}

// FlowsConfig points at the class-to-flow mapping file.
type FlowsConfig struct {
	MappingFile string `yaml:"mapping_file" validate:"required_if=Watch true"`
	Watch       bool   `yaml:"watch"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:   ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    2 << 20,
		},
		Store: StoreConfig{
			Driver:          DriverSQLite,
			Path:            "c2fleet.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads the configuration at path over the defaults. An empty path
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if level := os.Getenv(EnvLogLevel); level != "" {
		cfg.Telemetry.Logging.Level = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}
