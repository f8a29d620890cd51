// Package app wires configuration into a running dispatch engine.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/griddispatch/config"
	"github.com/kilianp07/griddispatch/connectors/mqttbridge"
	"github.com/kilianp07/griddispatch/core/activation"
	"github.com/kilianp07/griddispatch/core/events"
	"github.com/kilianp07/griddispatch/core/journal"
	coremetrics "github.com/kilianp07/griddispatch/core/metrics"
	"github.com/kilianp07/griddispatch/core/model"
	coremon "github.com/kilianp07/griddispatch/core/monitoring"
	"github.com/kilianp07/griddispatch/core/store"
	"github.com/kilianp07/griddispatch/infra/logger"
	"github.com/kilianp07/griddispatch/infra/metrics"
	"github.com/kilianp07/griddispatch/infra/monitoring"
	"github.com/kilianp07/griddispatch/internal/eventbus"
)

// Service orchestrates the dispatch store, activation tracker and
// connectors. The lifecycle and changes buses are exported so embedders
// can attach their own subscribers before Run.
type Service struct {
	Store     *store.Store
	Tracker   *activation.Tracker
	Lifecycle *store.Bus
	Changes   *activation.Bus

	cfg     *config.Config
	log     logger.Logger
	sink    coremetrics.Sink
	bridge  *mqttbridge.Bridge
	journal journal.Store
}

// New creates a Service from the configuration.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	logger.SetLevel(cfg.Logging.Level)
	if cfg.Logging.Pretty {
		logger.ForceConsole()
	}
	log := logger.New("service")

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	backend, err := NewBackend(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("store backend: %w", err)
	}
	lifecycle := eventbus.New[model.MicrogridID, events.Event](cfg.Bus.Buffer)
	st, err := store.New(ctx, backend, lifecycle, logger.New("store"))
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	sink, err := coremetrics.NewSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	changes := eventbus.New[model.MicrogridID, activation.Change](cfg.Bus.Buffer)
	tracker := activation.New(st, lifecycle, changes, sink, logger.New("tracker"), cfg.Tracker.Interval())

	svc := &Service{
		Store:     st,
		Tracker:   tracker,
		Lifecycle: lifecycle,
		Changes:   changes,
		cfg:       cfg,
		log:       log,
		sink:      sink,
	}

	if cfg.Journal.Enabled {
		jst, err := journal.NewRotatingJSONLStore(cfg.Journal.Path,
			cfg.Journal.MaxSizeMB, cfg.Journal.MaxBackups, cfg.Journal.MaxAgeDays)
		if err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
		svc.journal = jst
	}
	if cfg.MQTT.Enabled {
		bridge, err := mqttbridge.New(cfg.MQTT, lifecycle, changes)
		if err != nil {
			return nil, fmt.Errorf("mqtt bridge: %w", err)
		}
		svc.bridge = bridge
	}
	return svc, nil
}

// NewBackend opens the persistence backend the config selects.
func NewBackend(ctx context.Context, cfg config.StoreConfig) (store.Backend, error) {
	switch cfg.Backend {
	case "sqlite":
		return store.NewSQLiteBackend(ctx, cfg.Path)
	default:
		return store.NewMemoryBackend(), nil
	}
}

// Run starts the tracker, the metrics plumbing, the journal and the
// bridge, then blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	metrics.StartEventCollector(ctx, s.Lifecycle, s.sink, logger.New("metrics_collector"))
	if s.journal != nil {
		journal.StartCollector(ctx, s.Lifecycle, s.journal, logger.New("journal"))
	}
	go s.Tracker.Run(ctx)
	if addr := s.cfg.Metrics.PromListen; addr != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, addr, s.log); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	if s.bridge != nil {
		go s.bridge.Run(ctx)
	}
	s.log.Infof("dispatch engine running")
	<-ctx.Done()
	return nil
}

// Close releases resources held by the service. Call after Run has
// returned.
func (s *Service) Close() error {
	if s.bridge != nil {
		s.bridge.Close()
	}
	s.Changes.Close()
	s.Lifecycle.Close()
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.log.Errorf("journal close: %v", err)
		}
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	err := s.Store.Close()
	coremon.Flush(2 * time.Second)
	return err
}
