package metrics

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordLifecycle forwards the record to all sinks, returning the first
// error encountered.
func (m *MultiSink) RecordLifecycle(rec LifecycleRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordLifecycle(rec); err != nil {
			return err
		}
	}
	return nil
}

// RecordTransition forwards activation transitions.
func (m *MultiSink) RecordTransition(rec TransitionRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordTransition(rec); err != nil {
			return err
		}
	}
	return nil
}

// RecordStateCounts forwards state censuses.
func (m *MultiSink) RecordStateCounts(rec StateCountsRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordStateCounts(rec); err != nil {
			return err
		}
	}
	return nil
}

// Close releases every sink that holds resources.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
