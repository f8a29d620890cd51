package activation

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kilianp07/griddispatch/core/events"
	"github.com/kilianp07/griddispatch/core/logger"
	"github.com/kilianp07/griddispatch/core/metrics"
	"github.com/kilianp07/griddispatch/core/model"
	"github.com/kilianp07/griddispatch/core/monitoring"
	"github.com/kilianp07/griddispatch/internal/eventbus"
)

// DefaultTickInterval is the evaluation period when none is configured.
const DefaultTickInterval = time.Minute

// Bus carries activation changes, keyed by microgrid.
type Bus = eventbus.Bus[model.MicrogridID, Change]

// Snapshotter is the read view of the store the tracker works from. It
// never holds writable references.
type Snapshotter interface {
	Microgrids() []model.MicrogridID
	Snapshot(mg model.MicrogridID) []model.Dispatch
}

type dispatchKey struct {
	mg model.MicrogridID
	id model.DispatchID
}

// Tracker drives the activation state machine over store snapshots. It
// re-evaluates everything on a periodic tick and re-evaluates single
// dispatches as soon as their lifecycle events arrive. Dry-run
// dispatches go through the same transitions, tagged so consumers know
// not to act on them.
type Tracker struct {
	store     Snapshotter
	lifecycle *eventbus.Bus[model.MicrogridID, events.Event]
	changes   *Bus
	sink      metrics.Sink
	log       logger.Logger
	interval  time.Duration
	now       func() time.Time

	mu     sync.Mutex
	states map[dispatchKey]State
}

// New builds a tracker. lifecycle and changes may be nil for tools that
// only want StateOf; sink may be nil.
func New(store Snapshotter, lifecycle *eventbus.Bus[model.MicrogridID, events.Event], changes *Bus, sink metrics.Sink, log logger.Logger, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Tracker{
		store:     store,
		lifecycle: lifecycle,
		changes:   changes,
		sink:      sink,
		log:       log,
		interval:  interval,
		now:       time.Now,
		states:    make(map[dispatchKey]State),
	}
}

// Run evaluates until the context is canceled. It refreshes everything
// up front, then on every tick, and reacts to lifecycle events in
// between so transitions caused by mutations surface without waiting
// for the next tick.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	var sub *eventbus.Subscription[model.MicrogridID, events.Event]
	var evCh <-chan events.Event
	if t.lifecycle != nil {
		sub = t.lifecycle.SubscribeAll()
		evCh = sub.C()
		defer func() { sub.Cancel() }()
	}

	t.Refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Refresh()
		case ev, ok := <-evCh:
			if !ok {
				if err := sub.Err(); err != nil {
					t.log.Warnf("tracker lifecycle feed dropped, resubscribing: %v", err)
					sub = t.lifecycle.SubscribeAll()
					evCh = sub.C()
					t.Refresh()
					continue
				}
				evCh = nil
				continue
			}
			t.apply(ev)
		}
	}
}

// Refresh re-evaluates every dispatch of every microgrid and records a
// state census per microgrid.
func (t *Tracker) Refresh() {
	now := t.now().UTC()
	seen := make(map[dispatchKey]struct{})
	for _, mg := range t.store.Microgrids() {
		snapshot := t.store.Snapshot(mg)
		counts := make(map[string]int, 4)
		for i := range snapshot {
			d := &snapshot[i]
			seen[dispatchKey{mg: mg, id: d.ID}] = struct{}{}
			st := t.evaluate(d, now)
			counts[st.String()]++
		}
		if err := t.sink.RecordStateCounts(metrics.StateCountsRecord{
			MicrogridID: uint64(mg), Counts: counts, Time: now,
		}); err != nil {
			t.log.Warnf("record state census for microgrid %d: %v", mg, err)
		}
	}
	t.prune(seen)
}

// StateOf reports the last evaluated state of a dispatch.
func (t *Tracker) StateOf(mg model.MicrogridID, id model.DispatchID) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[dispatchKey{mg: mg, id: id}]
	return st, ok
}

// apply reacts to one lifecycle event: deletions drop the tracked
// state, creates and updates re-evaluate the affected dispatch only.
func (t *Tracker) apply(ev events.Event) {
	k := dispatchKey{mg: ev.MicrogridID, id: ev.ID}
	if ev.Kind == events.KindDeleted {
		t.mu.Lock()
		delete(t.states, k)
		t.mu.Unlock()
		return
	}
	if ev.Dispatch == nil {
		return
	}
	t.evaluate(ev.Dispatch, t.now().UTC())
}

// evaluate runs the state machine for one dispatch and publishes the
// transition if the visible state changed. A failure here is logged and
// isolated so one bad dispatch cannot halt the others.
func (t *Tracker) evaluate(d *model.Dispatch, now time.Time) (st State) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Errorf("activation evaluation failed for dispatch %d/%d: %v", d.MicrogridID, d.ID, r)
			monitoring.CaptureException(fmt.Errorf("activation evaluation panic: %v", r), map[string]string{
				"module":       "activation_tracker",
				"microgrid_id": strconv.FormatUint(uint64(d.MicrogridID), 10),
				"dispatch_id":  strconv.FormatUint(uint64(d.ID), 10),
			})
			st = StateUnspecified
		}
	}()
	st = Evaluate(d, now)

	k := dispatchKey{mg: d.MicrogridID, id: d.ID}
	t.mu.Lock()
	prev := t.states[k]
	if prev == st {
		t.mu.Unlock()
		return st
	}
	t.states[k] = st
	t.mu.Unlock()

	if t.changes != nil {
		t.changes.Publish(d.MicrogridID, Change{
			MicrogridID: d.MicrogridID,
			ID:          d.ID,
			From:        prev,
			To:          st,
			At:          now,
			DryRun:      d.DryRun,
		})
	}
	if err := t.sink.RecordTransition(metrics.TransitionRecord{
		MicrogridID: uint64(d.MicrogridID),
		DispatchID:  uint64(d.ID),
		From:        prev.String(),
		To:          st.String(),
		DryRun:      d.DryRun,
		Time:        now,
	}); err != nil {
		t.log.Warnf("record transition for dispatch %d/%d: %v", d.MicrogridID, d.ID, err)
	}
	return st
}

// prune drops tracked states whose dispatches no longer exist.
func (t *Tracker) prune(seen map[dispatchKey]struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.states {
		if _, ok := seen[k]; !ok {
			delete(t.states, k)
		}
	}
}
