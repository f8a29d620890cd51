package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/griddispatch/core/activation"
	"github.com/kilianp07/griddispatch/core/query"
	"github.com/kilianp07/griddispatch/internal/eventbus"
)

// TrackerConfig tunes the activation tracker.
type TrackerConfig struct {
	// TickSeconds is the periodic re-evaluation interval.
	TickSeconds int `json:"tick_seconds"`
}

// SetDefaults applies sane defaults.
func (c *TrackerConfig) SetDefaults() {
	if c.TickSeconds == 0 {
		c.TickSeconds = int(activation.DefaultTickInterval / time.Second)
	}
}

// Validate checks mandatory fields.
func (c TrackerConfig) Validate() error {
	if c.TickSeconds < 1 {
		return fmt.Errorf("tick_seconds must be at least 1")
	}
	return nil
}

// Interval returns the tick period as a duration.
func (c TrackerConfig) Interval() time.Duration {
	return time.Duration(c.TickSeconds) * time.Second
}

// BusConfig tunes the event fan-out.
type BusConfig struct {
	// Buffer is the per-subscriber channel depth. A subscriber that
	// falls this many events behind is terminated.
	Buffer int `json:"buffer"`
}

// SetDefaults applies sane defaults.
func (c *BusConfig) SetDefaults() {
	if c.Buffer == 0 {
		c.Buffer = eventbus.DefaultBufferSize
	}
}

// QueryConfig bounds list queries issued through the CLI.
type QueryConfig struct {
	// MaxPageSize caps the page size a caller can request; never above
	// the engine-wide limit.
	MaxPageSize int `json:"max_page_size"`
}

// SetDefaults applies sane defaults.
func (c *QueryConfig) SetDefaults() {
	if c.MaxPageSize == 0 {
		c.MaxPageSize = query.MaxPageSize
	}
}

// Validate checks mandatory fields.
func (c QueryConfig) Validate() error {
	if c.MaxPageSize < 1 || c.MaxPageSize > query.MaxPageSize {
		return fmt.Errorf("max_page_size must be between 1 and %d", query.MaxPageSize)
	}
	return nil
}
