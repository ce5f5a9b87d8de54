// Package config implements the esmhealth configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the tool looks for its config when no --config flag
// is given.
const DefaultPath = "esmhealth.yaml"

// ConfigurationError reports a config entry that cannot be evaluated. The
// registry refuses to build sources from a config that fails validation.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// QueryEntry names one device event feed to watch.
type QueryEntry struct {
	// Name is an optional label; the device directory name wins when the
	// device ID resolves.
	Name string `yaml:"name,omitempty"`

	// DeviceID is the datasource ID (IPSID) of the device.
	DeviceID string `yaml:"device_id"`

	// ThresholdMinutes is the max acceptable event age before alerting.
	ThresholdMinutes int `yaml:"threshold"`
}

// EmailConfig configures SMTP alert delivery.
type EmailConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
	Username string   `yaml:"username,omitempty"`
	Password string   `yaml:"password,omitempty"`
}

// NotifyConfig configures where staleness alerts are delivered.
type NotifyConfig struct {
	SlackWebhookURL string       `yaml:"slack_webhook_url,omitempty"`
	SlackChannel    string       `yaml:"slack_channel,omitempty"`
	WebhookURL      string       `yaml:"webhook_url,omitempty"`
	WebhookSecret   string       `yaml:"webhook_secret,omitempty"`
	Email           *EmailConfig `yaml:"email,omitempty"`

	// MaxPerHour caps notifications per source per hour. 0 means no cap.
	MaxPerHour int `yaml:"max_per_hour,omitempty"`
}

// Config holds the full esmhealth configuration.
type Config struct {
	// ESM API endpoint and session credentials.
	ServerURL          string `yaml:"server_url"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password,omitempty"` // falls back to ESMHEALTH_PASSWORD
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty"`

	// Global triggered-alarm feed.
	MonitorAlarms         bool   `yaml:"monitor_alarms"`
	AlarmWindow           string `yaml:"alarm_window"`
	AlarmThresholdMinutes int    `yaml:"alarm_threshold"`

	// Per-device event feeds, evaluated in listed order.
	MonitorQueries bool         `yaml:"monitor_queries"`
	EventWindow    string       `yaml:"event_window"`
	Queries        []QueryEntry `yaml:"queries,omitempty"`

	// Watch-mode scheduling (standard cron expression).
	Schedule    string `yaml:"schedule,omitempty"`
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	// OTLP trace collector endpoint; empty disables tracing.
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`

	// Concurrency bounds parallel source evaluation. 0 or 1 is sequential.
	Concurrency int `yaml:"concurrency,omitempty"`

	Notify NotifyConfig `yaml:"notify,omitempty"`
}

// Default returns the configuration the `config` subcommand writes.
func Default() *Config {
	return &Config{
		ServerURL:             "https://esm.example.com",
		Username:              "NGCP",
		MonitorAlarms:         true,
		AlarmWindow:           "LAST_HOUR",
		AlarmThresholdMinutes: 30,
		MonitorQueries:        true,
		EventWindow:           "LAST_HOUR",
		Schedule:              "*/10 * * * *",
		MetricsAddr:           ":9215",
	}
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to disk, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the invariants the registry and runner rely on. Every
// threshold that reaches the evaluator is guaranteed non-negative.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return &ConfigurationError{Field: "server_url", Reason: "required"}
	}
	if c.MonitorAlarms {
		if c.AlarmWindow == "" {
			return &ConfigurationError{Field: "alarm_window", Reason: "required when monitor_alarms is true"}
		}
		if c.AlarmThresholdMinutes < 0 {
			return &ConfigurationError{Field: "alarm_threshold", Reason: "must not be negative"}
		}
	}
	if c.MonitorQueries {
		if c.EventWindow == "" {
			return &ConfigurationError{Field: "event_window", Reason: "required when monitor_queries is true"}
		}
		for i, q := range c.Queries {
			if q.DeviceID == "" {
				return &ConfigurationError{Field: fmt.Sprintf("queries[%d].device_id", i), Reason: "required"}
			}
			if q.ThresholdMinutes < 0 {
				return &ConfigurationError{Field: fmt.Sprintf("queries[%d].threshold", i), Reason: "must not be negative"}
			}
		}
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return &ConfigurationError{Field: "schedule", Reason: fmt.Sprintf("invalid cron expression: %v", err)}
		}
	}
	if c.Concurrency < 0 {
		return &ConfigurationError{Field: "concurrency", Reason: "must not be negative"}
	}
	return nil
}
