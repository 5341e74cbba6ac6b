// Package config loads and validates the bridge's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/n42/matrix-rocketchat/internal/errs"
)

// Config is the root configuration for the matrix-rocketchat bridge.
type Config struct {
	// ASToken is the bearer token presented on outbound Matrix calls.
	ASToken string `yaml:"as_token"`
	// HSToken is required on inbound transactions from the homeserver.
	HSToken string `yaml:"hs_token"`
	// ASAddress is the bind address (host:port) for the AS HTTP server.
	ASAddress string `yaml:"as_address"`
	// WebhookAddress is the bind address (host:port) for the Rocket.Chat
	// webhook server and the /metrics endpoint.
	WebhookAddress string `yaml:"webhook_address"`
	// ASURL is the externally reachable URL for homeserver callbacks.
	ASURL string `yaml:"as_url"`
	// HSURL is the homeserver's base URL.
	HSURL string `yaml:"hs_url"`
	// HSDomain is the homeserver domain used for identity construction.
	HSDomain string `yaml:"hs_domain"`
	// SenderLocalpart is the bot's local part and virtual-user namespace prefix.
	SenderLocalpart string `yaml:"sender_localpart"`
	// DatabaseURL is the Store connection string.
	DatabaseURL string `yaml:"database_url"`
	// AcceptRemoteInvites, if false, drops invites from other homeservers silently.
	AcceptRemoteInvites bool `yaml:"accept_remote_invites"`

	LogLevel     string `yaml:"log_level"`
	LogToConsole bool   `yaml:"log_to_console"`
	LogToFile    bool   `yaml:"log_to_file"`
	LogFilePath  string `yaml:"log_file_path"`

	UseHTTPS       bool   `yaml:"use_https"`
	PKCS12Path     string `yaml:"pkcs12_path,omitempty"`
	PKCS12Password string `yaml:"pkcs12_password,omitempty"`

	// HTTPTimeout bounds every outbound Matrix/Rocket.Chat call. Not a
	// top-level key in spec.md §6; defaulted below per spec.md §5's
	// "default recommended: 10s".
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// Load reads and parses a YAML configuration file, expanding environment
// variables and validating required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.ReadFileError, err, "read config file "+path)
	}

	data = []byte(os.ExpandEnv(string(data)))

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errs.Wrap(errs.InvalidYAML, err, "parse config "+path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and fills in defaults for optional ones.
func (c *Config) Validate() error {
	required := map[string]string{
		"as_token":         c.ASToken,
		"hs_token":         c.HSToken,
		"as_address":       c.ASAddress,
		"webhook_address":  c.WebhookAddress,
		"as_url":           c.ASURL,
		"hs_url":           c.HSURL,
		"hs_domain":        c.HSDomain,
		"sender_localpart": c.SenderLocalpart,
		"database_url":     c.DatabaseURL,
	}
	for key, val := range required {
		if val == "" {
			return errs.New(errs.ReadConfigError, key+" is required")
		}
	}

	switch c.LogLevel {
	case "":
		c.LogLevel = "info"
	case "debug", "info", "warning", "error":
		// valid
	default:
		return errs.New(errs.ReadConfigError, fmt.Sprintf("log_level must be one of debug, info, warning, error, got %q", c.LogLevel))
	}

	if !c.LogToConsole && !c.LogToFile {
		c.LogToConsole = true
	}
	if c.LogToFile && c.LogFilePath == "" {
		return errs.New(errs.ReadConfigError, "log_file_path is required when log_to_file is true")
	}

	if c.UseHTTPS && c.PKCS12Path == "" {
		return errs.New(errs.ReadConfigError, "pkcs12_path is required when use_https is true")
	}

	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = 10 * time.Second
	}

	return nil
}
