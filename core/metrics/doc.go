// Package metrics defines the interfaces and record shapes for engine
// observability. Sinks like PromSink and InfluxSink record dispatch
// lifecycle events, activation transitions and state censuses, and can
// be combined with NewMultiSink. The factory helpers return a MultiSink
// automatically when multiple sinks are configured; implementations
// register themselves from infra/metrics.
package metrics
