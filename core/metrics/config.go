package metrics

import "github.com/kilianp07/griddispatch/core/factory"

// Config selects the sinks dispatch telemetry is written to and the
// optional Prometheus scrape endpoint.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
	// PromListen exposes /metrics on this address when set, for
	// example ":9091".
	PromListen string `json:"prom_listen"`
}
