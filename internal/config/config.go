// Package config loads the daemon configuration: listen address, data
// directory, accounts and per-model access rules.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/syncline-dev/syncline/internal/access"
	"github.com/syncline-dev/syncline/pkg/schema"
)

// Model names a replicated collection and its ordered access rules.
type Model struct {
	Name  string        `yaml:"name"`
	Rules []access.Rule `yaml:"rules"`
}

// Config is the daemon configuration.
type Config struct {
	// Listen is the HTTP listen address, e.g. ":7010".
	Listen string `yaml:"listen"`
	// DataDir holds the record snapshots and the changelog database.
	DataDir string `yaml:"data_dir"`
	// TLS enables a self-signed certificate for the listener.
	TLS bool `yaml:"tls"`
	// Source names this data source; checkpoint sequences belong to it.
	Source string `yaml:"source"`

	Users  []schema.Account `yaml:"users"`
	Models []Model          `yaml:"models"`
}

// Load reads the yaml file at path and applies defaults and environment
// overrides (SYNCLINE_LISTEN, SYNCLINE_DATA_DIR).
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Listen == "" {
		cfg.Listen = ":7010"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.Source == "" {
		cfg.Source = "synclined"
	}
	if addr := os.Getenv("SYNCLINE_LISTEN"); addr != "" {
		cfg.Listen = addr
	}
	if dir := os.Getenv("SYNCLINE_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}

	for _, m := range cfg.Models {
		for i, rule := range m.Rules {
			if err := rule.Validate(); err != nil {
				return nil, fmt.Errorf("model %s rule %d: %w", m.Name, i, err)
			}
		}
	}
	for i, u := range cfg.Users {
		if u.ID == "" || u.Token == "" {
			return nil, fmt.Errorf("user %d: id and token are required", i)
		}
	}

	return &cfg, nil
}

// Principals returns the token-to-principal lookup for the auth
// middleware.
func (c *Config) Principals() map[string]access.Principal {
	out := make(map[string]access.Principal, len(c.Users))
	for _, u := range c.Users {
		out[u.Token] = access.Principal{ID: u.ID, Roles: u.Roles}
	}
	return out
}

// ApplyRules installs every model's ordered rule list into the registry.
func (c *Config) ApplyRules(registry *access.Registry) error {
	for _, m := range c.Models {
		if err := registry.SetRules(m.Name, m.Rules); err != nil {
			return err
		}
	}
	return nil
}
