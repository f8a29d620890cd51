package journal

import (
	"context"
	"time"

	"github.com/kilianp07/griddispatch/core/events"
	"github.com/kilianp07/griddispatch/core/logger"
	"github.com/kilianp07/griddispatch/core/model"
	"github.com/kilianp07/griddispatch/core/monitoring"
	"github.com/kilianp07/griddispatch/internal/eventbus"
)

// StartCollector subscribes to the lifecycle bus across all microgrids
// and journals every event. It stops when the context is canceled or
// the bus closes; a forced unsubscribe leaves a gap in the journal, so
// it is reported to monitoring rather than silently resumed.
func StartCollector(ctx context.Context, bus *eventbus.Bus[model.MicrogridID, events.Event], st Store, log logger.Logger) {
	if bus == nil || st == nil {
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
						log.Warnf("journal collector dropped: %v", err)
						monitoring.CaptureException(err, map[string]string{"module": "journal"})
					}
					return
				}
				e := Entry{Time: time.Now().UTC(), Event: ev}
				if err := st.Append(ctx, e); err != nil {
					log.Warnf("journal append: %v", err)
					monitoring.CaptureException(err, map[string]string{"module": "journal"})
				}
			}
		}
	}()
}
