package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/griddispatch/core/metrics"
)

// PromSink records engine events in Prometheus metrics.
type PromSink struct {
	lifecycle   *prometheus.CounterVec
	transitions *prometheus.CounterVec
	states      *prometheus.GaugeVec
}

// NewPromSink registers the engine metrics on the default Prometheus
// registerer. The /metrics server is started separately.
func NewPromSink() (coremetrics.Sink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (coremetrics.Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	lifecycle := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_lifecycle_events_total",
		Help: "Total number of dispatch create/update/delete events",
	}, []string{"microgrid_id", "kind", "dry_run"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_activation_transitions_total",
		Help: "Total number of dispatch activation state transitions",
	}, []string{"microgrid_id", "from", "to"})
	states := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dispatch_activation_state",
		Help: "Number of dispatches per activation state",
	}, []string{"microgrid_id", "state"})

	if err := reg.Register(lifecycle); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			lifecycle = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(transitions); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			transitions = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(states); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			states = are.ExistingCollector.(*prometheus.GaugeVec)
		} else {
			return nil, err
		}
	}

	return &PromSink{lifecycle: lifecycle, transitions: transitions, states: states}, nil
}

// RecordLifecycle increments the lifecycle counter.
func (s *PromSink) RecordLifecycle(rec coremetrics.LifecycleRecord) error {
	s.lifecycle.WithLabelValues(
		strconv.FormatUint(rec.MicrogridID, 10), rec.Kind, strconv.FormatBool(rec.DryRun),
	).Inc()
	return nil
}

// RecordTransition increments the transition counter.
func (s *PromSink) RecordTransition(rec coremetrics.TransitionRecord) error {
	s.transitions.WithLabelValues(
		strconv.FormatUint(rec.MicrogridID, 10), rec.From, rec.To,
	).Inc()
	return nil
}

// RecordStateCounts sets the per-state gauges for one microgrid.
func (s *PromSink) RecordStateCounts(rec coremetrics.StateCountsRecord) error {
	mg := strconv.FormatUint(rec.MicrogridID, 10)
	for state, n := range rec.Counts {
		s.states.WithLabelValues(mg, state).Set(float64(n))
	}
	return nil
}
