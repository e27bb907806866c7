// Package config loads the decoder service configuration from YAML with
// ARROWFFI_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/VanDung-dev/arrow-wasm-ffi/server"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ARROWFFI_"

// Config represents the decoder service configuration.
type Config struct {
	Guest   Guest   `yaml:"guest"`
	Server  Server  `yaml:"server"`
	Metrics Metrics `yaml:"metrics"`
	Logging Logging `yaml:"logging"`
}

// Guest configures the decoder module.
type Guest struct {
	// WasmPath is the compiled guest module. Empty selects the in-process
	// decoder.
	WasmPath         string `yaml:"wasm_path"`
	Instances        int    `yaml:"instances"`
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`
}

// Server configures the network transports.
type Server struct {
	Address        string            `yaml:"address"`
	ZmqAddress     string            `yaml:"zmq_address"`
	RequestTimeout time.Duration     `yaml:"request_timeout"`
	Auth           server.AuthConfig `yaml:"auth"`
}

// Metrics configures the Prometheus endpoint. An empty address disables it.
type Metrics struct {
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
}

// Logging contains logging configuration
type Logging struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Guest: Guest{
			Instances:        4,
			MemoryLimitPages: 4096, // 256MB
		},
		Server: Server{
			Address:        "127.0.0.1:50052",
			RequestTimeout: server.DefaultRequestTimeout,
		},
		Metrics: Metrics{
			Address:   ":2112",
			Namespace: "arrowffi",
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// Load reads the file at path over the defaults, then applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path with secure permissions.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from ARROWFFI_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	var errs []error
	parse := func(name string, fn func(string) error) {
		if v, ok := lookup(EnvPrefix + name); ok {
			if err := fn(v); err != nil {
				errs = append(errs, fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err))
			}
		}
	}

	str("WASM", &c.Guest.WasmPath)
	parse("INSTANCES", func(v string) (err error) {
		c.Guest.Instances, err = strconv.Atoi(v)
		return err
	})
	parse("MEMORY_LIMIT_PAGES", func(v string) error {
		n, err := strconv.ParseUint(v, 10, 32)
		c.Guest.MemoryLimitPages = uint32(n)
		return err
	})

	str("ADDRESS", &c.Server.Address)
	str("ZMQ_ADDRESS", &c.Server.ZmqAddress)
	parse("REQUEST_TIMEOUT", func(v string) (err error) {
		c.Server.RequestTimeout, err = time.ParseDuration(v)
		return err
	})
	parse("AUTH_ENABLED", func(v string) (err error) {
		c.Server.Auth.Enabled, err = strconv.ParseBool(v)
		return err
	})
	str("AUTH_TOKEN", &c.Server.Auth.Token)

	str("METRICS_ADDRESS", &c.Metrics.Address)
	str("LOG_LEVEL", &c.Logging.Level)

	return errors.Join(errs...)
}

// Validate checks the configuration for values no component accepts.
func (c *Config) Validate() error {
	var errs []error
	if c.Guest.Instances < 1 {
		errs = append(errs, fmt.Errorf("guest.instances must be positive, got %d", c.Guest.Instances))
	}
	if c.Guest.MemoryLimitPages > 65536 {
		errs = append(errs, fmt.Errorf("guest.memory_limit_pages must be at most 65536, got %d", c.Guest.MemoryLimitPages))
	}
	if c.Server.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.request_timeout must not be negative"))
	}
	if c.Server.ZmqAddress != "" && !strings.Contains(c.Server.ZmqAddress, "://") {
		errs = append(errs, fmt.Errorf("server.zmq_address must be an endpoint like tcp://host:port, got %q", c.Server.ZmqAddress))
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	return errors.Join(errs...)
}

// Logger builds a zap logger for the logging section.
func (l Logging) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
