package metrics

import "time"

// LifecycleRecord is one create/update/delete event as seen on the bus.
type LifecycleRecord struct {
	Kind        string
	MicrogridID uint64
	DispatchID  uint64
	DryRun      bool
	Time        time.Time
}

// TransitionRecord is one activation state change.
type TransitionRecord struct {
	MicrogridID uint64
	DispatchID  uint64
	From        string
	To          string
	DryRun      bool
	Time        time.Time
}

// StateCountsRecord is a per-microgrid census of activation states,
// taken once per tracker tick.
type StateCountsRecord struct {
	MicrogridID uint64
	Counts      map[string]int
	Time        time.Time
}

// Sink records engine observability events.
type Sink interface {
	RecordLifecycle(rec LifecycleRecord) error
	RecordTransition(rec TransitionRecord) error
	RecordStateCounts(rec StateCountsRecord) error
}

// NopSink implements Sink with no-op methods.
type NopSink struct{}

func (NopSink) RecordLifecycle(LifecycleRecord) error     { return nil }
func (NopSink) RecordTransition(TransitionRecord) error   { return nil }
func (NopSink) RecordStateCounts(StateCountsRecord) error { return nil }
