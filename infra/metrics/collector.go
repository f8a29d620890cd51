package metrics

import (
	"context"
	"time"

	"github.com/kilianp07/griddispatch/core/events"
	coremetrics "github.com/kilianp07/griddispatch/core/metrics"
	"github.com/kilianp07/griddispatch/core/model"
	"github.com/kilianp07/griddispatch/infra/logger"
	"github.com/kilianp07/griddispatch/internal/eventbus"
)

// StartEventCollector subscribes to the lifecycle bus across all
// microgrids and records a metric for every event. It stops when the
// context is canceled or the bus closes.
func StartEventCollector(ctx context.Context, bus *eventbus.Bus[model.MicrogridID, events.Event], sink coremetrics.Sink, log logger.Logger) {
	if bus == nil || sink == nil {
		return
	}
	sub := bus.SubscribeAll()
	go func() {
		defer sub.Cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.C():
				if !ok {
					if err := sub.Err(); err != nil {
						log.Warnf("metrics collector dropped: %v", err)
					}
					return
				}
				rec := coremetrics.LifecycleRecord{
					Kind:        ev.Kind.String(),
					MicrogridID: uint64(ev.MicrogridID),
					DispatchID:  uint64(ev.ID),
					Time:        time.Now().UTC(),
				}
				if ev.Dispatch != nil {
					rec.DryRun = ev.Dispatch.DryRun
					rec.Time = ev.Dispatch.UpdateTime
				}
				if err := sink.RecordLifecycle(rec); err != nil {
					log.Warnf("record lifecycle metric: %v", err)
				}
			}
		}
	}()
}
