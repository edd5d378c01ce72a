// Package config loads the YAML alert configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kyle-gehring/sqlsentinel-sub002/internal/alert"
)

type Config struct {
	// Database is the target the alert queries run against. Supports
	// ${ENV_VAR} expansion so credentials stay out of the file.
	Database string `yaml:"database"`

	// QueryTimeout bounds each alert query. Zero means the default.
	QueryTimeout time.Duration `yaml:"query_timeout"`

	// MinAlertInterval suppresses repeat notifications for an alert that
	// stays in ALERT. Zero disables the suppression window.
	MinAlertInterval time.Duration `yaml:"min_alert_interval"`

	Alerts []alert.Alert `yaml:"alerts"`
}

const DefaultQueryTimeout = 30 * time.Second

// Load reads and parses the config file. Validation of the alert
// definitions themselves is a separate step (alert.ValidateAll) so the
// CLI can report every problem at once.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Database == "" && len(cfg.Alerts) == 0 {
		return Config{}, fmt.Errorf("config is empty")
	}
	cfg.Database = os.ExpandEnv(cfg.Database)
	for i := range cfg.Alerts {
		for j := range cfg.Alerts[i].Notify {
			expandChannelEnv(&cfg.Alerts[i].Notify[j])
		}
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	return cfg, nil
}

// expandChannelEnv applies ${ENV_VAR} expansion to the channel fields
// that commonly carry secrets, such as webhook URLs and header values.
func expandChannelEnv(ch *alert.ChannelConfig) {
	ch.URL = os.ExpandEnv(ch.URL)
	ch.WebhookURL = os.ExpandEnv(ch.WebhookURL)
	ch.NATSSubject = os.ExpandEnv(ch.NATSSubject)
	for i, r := range ch.Recipients {
		ch.Recipients[i] = os.ExpandEnv(r)
	}
	for k, v := range ch.Headers {
		ch.Headers[k] = os.ExpandEnv(v)
	}
}

// AlertByName returns the named alert, or false when it is not configured.
func (c Config) AlertByName(name string) (alert.Alert, bool) {
	for _, a := range c.Alerts {
		if a.Name == name {
			return a, true
		}
	}
	return alert.Alert{}, false
}
