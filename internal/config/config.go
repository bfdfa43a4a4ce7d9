// Package config provides console configuration loaded from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Config holds proxy-console configuration.
type Config struct {
	// Dispatch: "native" calls the in-process service, "remote" talks to
	// ServerURL over HTTP.
	Mode      string `envconfig:"CONSOLE_MODE" default:"native"`
	ServerURL string `envconfig:"CONSOLE_SERVER_URL" default:"http://127.0.0.1:8080"`

	// COMMS: connect to standalone NATS at COMMSURL for log record push.
	COMMSURL  string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName string `envconfig:"SERVICE_NAME" default:"proxy-console"`

	// Log stream subject override (empty = console.logs.record)
	LogSubject string `envconfig:"CONSOLE_LOG_SUBJECT"`

	// Timeouts
	RequestTimeout time.Duration `envconfig:"CONSOLE_REQUEST_TIMEOUT" default:"30s"`

	// Database (empty = in-memory log history)
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// Log buffer and file retention
	LogCapacity int           `envconfig:"CONSOLE_LOG_CAPACITY" default:"5000"`
	LogDir      string        `envconfig:"CONSOLE_LOG_DIR"`
	LogMaxAge   time.Duration `envconfig:"CONSOLE_LOG_MAX_AGE" default:"168h"`

	// CLI sync: installed CLI version and the constraint it must satisfy.
	CLIVersion    string `envconfig:"CONSOLE_CLI_VERSION"`
	CLIConstraint string `envconfig:"CONSOLE_CLI_CONSTRAINT" default:"^1.0.0"`

	// HTTP server (CONSOLE_HTTP_ADDR preferred, e.g. "0.0.0.0:8080")
	HTTPAddr           string        `envconfig:"CONSOLE_HTTP_ADDR"`
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ValidateForServe checks required config when running the console server.
func (c *Config) ValidateForServe() error {
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - CONSOLE_REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if c.LogCapacity <= 0 {
		return fmt.Errorf("%s - CONSOLE_LOG_CAPACITY must be positive", logPrefix)
	}
	return nil
}

// ValidateForDispatch checks required config when running dispatch clients.
func (c *Config) ValidateForDispatch() error {
	switch c.Mode {
	case "native", "remote":
	default:
		return fmt.Errorf("%s - CONSOLE_MODE must be \"native\" or \"remote\", got %q", logPrefix, c.Mode)
	}
	if c.Mode == "remote" && c.ServerURL == "" {
		return fmt.Errorf("%s - CONSOLE_SERVER_URL is required for remote mode", logPrefix)
	}
	return nil
}
