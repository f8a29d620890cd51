package config

import "fmt"

// JournalConfig controls the on-disk lifecycle journal.
type JournalConfig struct {
	// Enabled turns the journal on.
	Enabled bool `json:"enabled"`
	// Path is the JSONL file the journal appends to.
	Path string `json:"path"`
	// MaxSizeMB rotates the file once it grows past this size.
	MaxSizeMB int `json:"max_size_mb"`
	// MaxBackups is the number of rotated files kept.
	MaxBackups int `json:"max_backups"`
	// MaxAgeDays removes rotated files older than this.
	MaxAgeDays int `json:"max_age_days"`
}

// SetDefaults applies sane defaults.
func (c *JournalConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "dispatch-journal.jsonl"
	}
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = 10
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = 3
	}
	if c.MaxAgeDays == 0 {
		c.MaxAgeDays = 28
	}
}

// Validate checks mandatory fields.
func (c JournalConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Path == "" {
		return fmt.Errorf("journal requires a path")
	}
	if c.MaxSizeMB < 1 {
		return fmt.Errorf("max_size_mb must be at least 1")
	}
	return nil
}
