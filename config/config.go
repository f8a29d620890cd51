// Package config loads and validates the engine configuration from a
// yaml or json file with GD_-prefixed environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/griddispatch/connectors/mqttbridge"
	"github.com/kilianp07/griddispatch/core/metrics"
)

// Config is the root configuration of the dispatch engine.
type Config struct {
	Store   StoreConfig       `json:"store"`
	Tracker TrackerConfig     `json:"tracker"`
	Bus     BusConfig         `json:"bus"`
	Query   QueryConfig       `json:"query"`
	MQTT    mqttbridge.Config `json:"mqtt"`
	Metrics metrics.Config    `json:"metrics"`
	Journal JournalConfig     `json:"journal"`
	Sentry  SentryConfig      `json:"sentry"`
	Logging LoggingConfig     `json:"logging"`
}

// Load reads the file at path, applies environment overrides of the
// form GD_SECTION__KEY, fills defaults and validates every section.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider("GD_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "gd_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, for
// running without a file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	c.Store.SetDefaults()
	c.Tracker.SetDefaults()
	c.Bus.SetDefaults()
	c.Query.SetDefaults()
	c.Journal.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Tracker.Validate(); err != nil {
		return fmt.Errorf("tracker: %w", err)
	}
	if err := c.Query.Validate(); err != nil {
		return fmt.Errorf("query: %w", err)
	}
	if err := c.Journal.Validate(); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}
