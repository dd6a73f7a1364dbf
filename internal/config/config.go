package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Ledger    LedgerConfig    `toml:"ledger"`
	Retention RetentionConfig `toml:"retention"`
	Instance  InstanceConfig  `toml:"instance"`
}

type LedgerConfig struct {
	Path      string `toml:"path"`
	SessionID string `toml:"session_id"`
	Disabled  bool   `toml:"disabled"`
}

type RetentionConfig struct {
	MaxIncidents int `toml:"max_incidents"`
	MaxAgeDays   int `toml:"max_age_days"`
	CheckEvery   int `toml:"check_every"`
}

type InstanceConfig struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

func DefaultConfig() *Config {
	return &Config{
		Ledger: LedgerConfig{
			Path: "data/ledger.db",
		},
		Retention: RetentionConfig{
			MaxIncidents: 5000,
			MaxAgeDays:   90,
			CheckEvery:   64,
		},
		Instance: InstanceConfig{
			ID:   "local",
			Name: "evidenceledger-local",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}
