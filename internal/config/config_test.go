package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	// Clear all environment variables that might interfere
	envVars := []string{
		"CONSOLE_MODE", "CONSOLE_SERVER_URL",
		"COMMS_URL", "SERVICE_NAME", "CONSOLE_LOG_SUBJECT",
		"CONSOLE_REQUEST_TIMEOUT", "DATABASE_URL",
		"CONSOLE_LOG_CAPACITY", "CONSOLE_LOG_DIR", "CONSOLE_LOG_MAX_AGE",
		"CONSOLE_CLI_VERSION", "CONSOLE_CLI_CONSTRAINT",
		"CONSOLE_HTTP_ADDR", "HTTP_PORT", "HEALTH_CHECK_TIMEOUT", "LOG_LEVEL",
	}
	for _, env := range envVars {
		os.Unsetenv(env)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}

	// Verify defaults
	if cfg.Mode != "native" {
		t.Errorf("config:config_test - Mode = %q, want %q", cfg.Mode, "native")
	}
	if cfg.ServerURL != "http://127.0.0.1:8080" {
		t.Errorf("config:config_test - ServerURL = %q, want %q", cfg.ServerURL, "http://127.0.0.1:8080")
	}
	if cfg.COMMSURL != "nats://127.0.0.1:4222" {
		t.Errorf("config:config_test - COMMSURL = %q, want %q", cfg.COMMSURL, "nats://127.0.0.1:4222")
	}
	if cfg.COMMSName != "proxy-console" {
		t.Errorf("config:config_test - COMMSName = %q, want %q", cfg.COMMSName, "proxy-console")
	}
	if cfg.LogSubject != "" {
		t.Errorf("config:config_test - LogSubject = %q, want empty", cfg.LogSubject)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("config:config_test - RequestTimeout = %v, want 30s", cfg.RequestTimeout)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("config:config_test - DatabaseURL = %q, want empty", cfg.DatabaseURL)
	}
	if cfg.LogCapacity != 5000 {
		t.Errorf("config:config_test - LogCapacity = %d, want 5000", cfg.LogCapacity)
	}
	if cfg.LogMaxAge != 168*time.Hour {
		t.Errorf("config:config_test - LogMaxAge = %v, want 168h", cfg.LogMaxAge)
	}
	if cfg.CLIConstraint != "^1.0.0" {
		t.Errorf("config:config_test - CLIConstraint = %q, want %q", cfg.CLIConstraint, "^1.0.0")
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("config:config_test - HTTPPort = %d, want 8080", cfg.HTTPPort)
	}
	if cfg.HealthCheckTimeout != 5*time.Second {
		t.Errorf("config:config_test - HealthCheckTimeout = %v, want 5s", cfg.HealthCheckTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("config:config_test - LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	overrides := map[string]string{
		"CONSOLE_MODE":            "remote",
		"CONSOLE_SERVER_URL":      "http://proxy.internal:9090",
		"COMMS_URL":               "nats://custom:4222",
		"SERVICE_NAME":            "test-console",
		"CONSOLE_LOG_SUBJECT":     "custom.logs.record",
		"CONSOLE_REQUEST_TIMEOUT": "10s",
		"DATABASE_URL":            "postgres://test@localhost/test",
		"CONSOLE_LOG_CAPACITY":    "100",
		"CONSOLE_LOG_DIR":         "/tmp/console-logs",
		"CONSOLE_CLI_VERSION":     "1.2.3",
		"CONSOLE_CLI_CONSTRAINT":  ">=1.2.0",
		"HTTP_PORT":               "9090",
		"HEALTH_CHECK_TIMEOUT":    "10s",
		"LOG_LEVEL":               "debug",
	}

	for key, val := range overrides {
		os.Setenv(key, val)
	}
	defer func() {
		for key := range overrides {
			os.Unsetenv(key)
		}
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}

	if cfg.Mode != "remote" {
		t.Errorf("config:config_test - Mode = %q, want %q", cfg.Mode, "remote")
	}
	if cfg.ServerURL != "http://proxy.internal:9090" {
		t.Errorf("config:config_test - ServerURL = %q, want %q", cfg.ServerURL, "http://proxy.internal:9090")
	}
	if cfg.COMMSURL != "nats://custom:4222" {
		t.Errorf("config:config_test - COMMSURL = %q, want %q", cfg.COMMSURL, "nats://custom:4222")
	}
	if cfg.COMMSName != "test-console" {
		t.Errorf("config:config_test - COMMSName = %q, want %q", cfg.COMMSName, "test-console")
	}
	if cfg.LogSubject != "custom.logs.record" {
		t.Errorf("config:config_test - LogSubject = %q, want %q", cfg.LogSubject, "custom.logs.record")
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("config:config_test - RequestTimeout = %v, want 10s", cfg.RequestTimeout)
	}
	if cfg.DatabaseURL != "postgres://test@localhost/test" {
		t.Errorf("config:config_test - DatabaseURL = %q, unexpected", cfg.DatabaseURL)
	}
	if cfg.LogCapacity != 100 {
		t.Errorf("config:config_test - LogCapacity = %d, want 100", cfg.LogCapacity)
	}
	if cfg.LogDir != "/tmp/console-logs" {
		t.Errorf("config:config_test - LogDir = %q, want %q", cfg.LogDir, "/tmp/console-logs")
	}
	if cfg.CLIVersion != "1.2.3" {
		t.Errorf("config:config_test - CLIVersion = %q, want %q", cfg.CLIVersion, "1.2.3")
	}
	if cfg.CLIConstraint != ">=1.2.0" {
		t.Errorf("config:config_test - CLIConstraint = %q, want %q", cfg.CLIConstraint, ">=1.2.0")
	}
	if cfg.HTTPPort != 9090 {
		t.Errorf("config:config_test - HTTPPort = %d, want 9090", cfg.HTTPPort)
	}
	if cfg.HealthCheckTimeout != 10*time.Second {
		t.Errorf("config:config_test - HealthCheckTimeout = %v, want 10s", cfg.HealthCheckTimeout)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("config:config_test - LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestValidateForDispatch(t *testing.T) {
	cases := []struct {
		mode      string
		serverURL string
		wantErr   bool
	}{
		{"native", "", false},
		{"remote", "http://127.0.0.1:8080", false},
		{"remote", "", true},
		{"bridge", "http://127.0.0.1:8080", true},
		{"", "", true},
	}
	for _, tc := range cases {
		cfg := &Config{Mode: tc.mode, ServerURL: tc.serverURL}
		err := cfg.ValidateForDispatch()
		if tc.wantErr && err == nil {
			t.Errorf("config:config_test - mode %q url %q: expected error", tc.mode, tc.serverURL)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("config:config_test - mode %q url %q: unexpected error: %v", tc.mode, tc.serverURL, err)
		}
	}
}

func TestValidateForServe(t *testing.T) {
	cfg := &Config{RequestTimeout: 30 * time.Second, HealthCheckTimeout: 5 * time.Second, LogCapacity: 5000}
	if err := cfg.ValidateForServe(); err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}

	cfg.LogCapacity = 0
	if err := cfg.ValidateForServe(); err == nil {
		t.Error("config:config_test - expected error for zero log capacity")
	}
}
