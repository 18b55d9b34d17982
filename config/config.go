// Package config holds the runtime configuration for the textanon service:
// defaults, JSON file overrides and validation. Environment overrides are
// applied by the entrypoint.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging configuration options.
type LoggingConfig struct {
	LogRequests bool // log request metadata
	LogEntities bool // log detected entity labels
	LogVerbose  bool // include offsets in entity logs
}

// DatabaseConfig holds audit database configuration.
type DatabaseConfig struct {
	Enabled      bool   // whether to use PostgreSQL for the audit trail
	Host         string // database host
	Port         int    // database port
	Database     string // database name
	Username     string // database username
	Password     string // database password
	SSLMode      string // ssl mode (disable, require, etc.)
	MaxOpenConns int    // maximum open connections
	MaxIdleConns int    // maximum idle connections
	MaxLifetime  int    // connection max lifetime in seconds
	CleanupHours int    // hours after which to cleanup old audit entries
}

// RateLimitConfig holds per-client request limiting.
type RateLimitConfig struct {
	RPS   float64 // sustained requests per second per client
	Burst int     // burst allowance per client
}

// Config holds all configuration for the anonymization service.
type Config struct {
	ListenAddr string          // HTTP listen address, ":PORT" form
	Detector   string          // onnx | regex | sidecar
	ModelDir   string          // directory with model.onnx, tokenizer.json, label_mappings.json
	SidecarURL string          // base URL of the NER sidecar, detector=sidecar only
	SentryDSN  string          // error reporting, empty disables
	RateLimit  RateLimitConfig `json:"RateLimit"`
	Database   DatabaseConfig  `json:"Database"`
	Logging    LoggingConfig   `json:"Logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: ":8080",
		Detector:   "onnx",
		ModelDir:   "model",
		SidecarURL: "http://localhost:8001",
		RateLimit: RateLimitConfig{
			RPS:   5,
			Burst: 10,
		},
		Database: DatabaseConfig{
			Enabled:      false,
			Host:         "localhost",
			Port:         5432,
			Database:     "textanon",
			Username:     "postgres",
			Password:     "",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 25,
			MaxLifetime:  300,
			CleanupHours: 24,
		},
		Logging: LoggingConfig{
			LogRequests: true,
			LogEntities: true,
			LogVerbose:  false,
		},
	}
}

// LoadFile overlays c with values from a JSON config file.
func (c *Config) LoadFile(path string) error {
	// #nosec G304 - config file path comes from the -config flag, not user input
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			fmt.Printf("Warning: failed to close config file: %v\n", err)
		}
	}()

	if err := json.NewDecoder(file).Decode(c); err != nil {
		return fmt.Errorf("failed to decode config file: %w", err)
	}
	return nil
}

// MaxLifetimeDuration returns the connection lifetime as a duration.
func (dc DatabaseConfig) MaxLifetimeDuration() time.Duration {
	return time.Duration(dc.MaxLifetime) * time.Second
}

// CleanupInterval returns the audit cleanup age as a duration.
func (dc DatabaseConfig) CleanupInterval() time.Duration {
	return time.Duration(dc.CleanupHours) * time.Hour
}

// Validate checks the configuration for values that would only fail at
// startup otherwise.
func (c *Config) Validate() error {
	if err := validatePort(c.ListenAddr, "ListenAddr"); err != nil {
		return err
	}

	switch c.Detector {
	case "onnx", "regex", "sidecar":
	default:
		return fmt.Errorf("Detector: must be one of onnx, regex, sidecar (current value: %s)", c.Detector)
	}

	if c.Detector == "onnx" && c.ModelDir == "" {
		return fmt.Errorf("ModelDir: required when Detector is onnx")
	}
	if c.Detector == "sidecar" && c.SidecarURL == "" {
		return fmt.Errorf("SidecarURL: required when Detector is sidecar")
	}

	if c.RateLimit.RPS <= 0 {
		return fmt.Errorf("RateLimit.RPS: must be positive (current value: %g)", c.RateLimit.RPS)
	}
	if c.RateLimit.Burst < 1 {
		return fmt.Errorf("RateLimit.Burst: must be at least 1 (current value: %d)", c.RateLimit.Burst)
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("Database.Host: cannot be empty when the database is enabled")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("Database.Port: must be between 1 and 65535 (current value: %d)", c.Database.Port)
		}
	}
	return nil
}

// validatePort checks the ":PORT" address form used for listen addresses.
func validatePort(port string, fieldName string) error {
	if port == "" {
		return fmt.Errorf("%s: port cannot be empty", fieldName)
	}
	if !strings.HasPrefix(port, ":") {
		return fmt.Errorf("%s: port must be in format ':PORT' where PORT is numeric (current value: %s)", fieldName, port)
	}
	n, err := strconv.Atoi(port[1:])
	if err != nil {
		return fmt.Errorf("%s: port must be in format ':PORT' where PORT is numeric (current value: %s)", fieldName, port)
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("%s: port must be between 1 and 65535 (current value: %d)", fieldName, n)
	}
	return nil
}
