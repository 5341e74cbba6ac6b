package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// validMinimalConfig returns a minimal valid configuration for testing.
func validMinimalConfig() *Config {
	return &Config{
		ASToken:         "as_token_abc",
		HSToken:         "hs_token_xyz",
		ASAddress:       "0.0.0.0:8090",
		WebhookAddress:  "0.0.0.0:8091",
		ASURL:           "http://localhost:8090",
		HSURL:           "https://m.example.com",
		HSDomain:        "example.com",
		SenderLocalpart: "rocketchat",
		DatabaseURL:     "postgres://localhost/test",
	}
}

func TestValidate_MinimalValid(t *testing.T) {
	cfg := validMinimalConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate minimal config: %v", err)
	}
}

func TestValidate_Defaults(t *testing.T) {
	cfg := validMinimalConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("expected default log_level 'info', got %s", cfg.LogLevel)
	}
	if !cfg.LogToConsole {
		t.Errorf("expected log_to_console to default true when no sink configured")
	}
	if cfg.HTTPTimeout != 10_000_000_000 {
		t.Errorf("expected default http_timeout 10s, got %v", cfg.HTTPTimeout)
	}
}

func TestValidate_CustomValuesNotOverwritten(t *testing.T) {
	cfg := validMinimalConfig()
	cfg.LogLevel = "debug"
	cfg.LogToConsole = false
	cfg.LogToFile = true
	cfg.LogFilePath = "/var/log/bridge.log"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("custom log_level overwritten: %s", cfg.LogLevel)
	}
	if cfg.LogToConsole {
		t.Errorf("log_to_console should stay false when log_to_file is explicitly set")
	}
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name  string
		break_ func(*Config)
		want  string
	}{
		{"as_token", func(c *Config) { c.ASToken = "" }, "as_token"},
		{"hs_token", func(c *Config) { c.HSToken = "" }, "hs_token"},
		{"as_address", func(c *Config) { c.ASAddress = "" }, "as_address"},
		{"webhook_address", func(c *Config) { c.WebhookAddress = "" }, "webhook_address"},
		{"as_url", func(c *Config) { c.ASURL = "" }, "as_url"},
		{"hs_url", func(c *Config) { c.HSURL = "" }, "hs_url"},
		{"hs_domain", func(c *Config) { c.HSDomain = "" }, "hs_domain"},
		{"sender_localpart", func(c *Config) { c.SenderLocalpart = "" }, "sender_localpart"},
		{"database_url", func(c *Config) { c.DatabaseURL = "" }, "database_url"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validMinimalConfig()
			tc.break_(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error for missing %s", tc.name)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error should mention %s: %v", tc.want, err)
			}
		})
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validMinimalConfig()
	cfg.LogLevel = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid log_level")
	}
}

func TestValidate_LogToFileRequiresPath(t *testing.T) {
	cfg := validMinimalConfig()
	cfg.LogToFile = true

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error when log_to_file is set without log_file_path")
	}
	if !strings.Contains(err.Error(), "log_file_path") {
		t.Errorf("error should mention log_file_path: %v", err)
	}
}

func TestValidate_HTTPSRequiresPKCS12(t *testing.T) {
	cfg := validMinimalConfig()
	cfg.UseHTTPS = true

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error when use_https is set without pkcs12_path")
	}
	if !strings.Contains(err.Error(), "pkcs12_path") {
		t.Errorf("error should mention pkcs12_path: %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	os.WriteFile(path, []byte("{{invalid yaml"), 0644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_ValidationError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.yaml")
	os.WriteFile(path, []byte("{}"), 0644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error for empty config")
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
as_token: "test_as_token"
hs_token: "test_hs_token"
as_address: "0.0.0.0:8090"
webhook_address: "0.0.0.0:8091"
as_url: "http://localhost:8090"
hs_url: "https://m.example.com"
hs_domain: "example.com"
sender_localpart: "rocketchat"
database_url: "postgres://localhost/test"
`
	os.WriteFile(path, []byte(content), 0644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load valid config: %v", err)
	}

	if cfg.HSDomain != "example.com" {
		t.Errorf("hs_domain: %s", cfg.HSDomain)
	}
	if cfg.SenderLocalpart != "rocketchat" {
		t.Errorf("sender_localpart: %s", cfg.SenderLocalpart)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	t.Setenv("TEST_AS_TOKEN", "env_as_token")
	t.Setenv("TEST_DB_URL", "postgres://localhost/testdb")

	content := `
as_token: $TEST_AS_TOKEN
hs_token: "hs_token_xyz"
as_address: "0.0.0.0:8090"
webhook_address: "0.0.0.0:8091"
as_url: "http://localhost:8090"
hs_url: "https://m.example.com"
hs_domain: "example.com"
sender_localpart: "rocketchat"
database_url: $TEST_DB_URL
`
	os.WriteFile(path, []byte(content), 0644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config with env vars: %v", err)
	}

	if cfg.ASToken != "env_as_token" {
		t.Errorf("env var not expanded for as_token: %s", cfg.ASToken)
	}
	if cfg.DatabaseURL != "postgres://localhost/testdb" {
		t.Errorf("env var not expanded for database_url: %s", cfg.DatabaseURL)
	}
}
