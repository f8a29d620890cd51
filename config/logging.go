package config

import "fmt"

// LoggingConfig tunes process logging.
type LoggingConfig struct {
	// Level is the minimum level: trace, debug, info, warn or error.
	Level string `json:"level"`
	// Pretty forces human-readable console output regardless of
	// APP_ENV.
	Pretty bool `json:"pretty"`
}

// SetDefaults applies sane defaults.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

// Validate checks mandatory fields.
func (c LoggingConfig) Validate() error {
	switch c.Level {
	case "trace", "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("unknown log level %s", c.Level)
	}
}
