package activation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kilianp07/griddispatch/core/events"
	"github.com/kilianp07/griddispatch/core/metrics"
	"github.com/kilianp07/griddispatch/core/model"
	"github.com/kilianp07/griddispatch/infra/logger"
	"github.com/kilianp07/griddispatch/internal/eventbus"
)

type fakeStore struct {
	mu    sync.Mutex
	grids map[model.MicrogridID][]model.Dispatch
}

func newFakeStore() *fakeStore {
	return &fakeStore{grids: make(map[model.MicrogridID][]model.Dispatch)}
}

func (f *fakeStore) set(mg model.MicrogridID, ds ...model.Dispatch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grids[mg] = ds
}

func (f *fakeStore) Microgrids() []model.MicrogridID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.MicrogridID, 0, len(f.grids))
	for mg := range f.grids {
		out = append(out, mg)
	}
	return out
}

func (f *fakeStore) Snapshot(mg model.MicrogridID) []model.Dispatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Dispatch(nil), f.grids[mg]...)
}

type recordingSink struct {
	mu          sync.Mutex
	transitions []metrics.TransitionRecord
	censuses    []metrics.StateCountsRecord
}

func (r *recordingSink) RecordLifecycle(metrics.LifecycleRecord) error { return nil }

func (r *recordingSink) RecordTransition(rec metrics.TransitionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, rec)
	return nil
}

func (r *recordingSink) RecordStateCounts(rec metrics.StateCountsRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.censuses = append(r.censuses, rec)
	return nil
}

func (r *recordingSink) lastCensus() (metrics.StateCountsRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.censuses) == 0 {
		return metrics.StateCountsRecord{}, false
	}
	return r.censuses[len(r.censuses)-1], true
}

func waitChange(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for activation change")
	}
	return Change{}
}

func TestRefreshEmitsInitialTransitions(t *testing.T) {
	st := newFakeStore()
	d := oneShot(time.Hour)
	st.set(d.MicrogridID, d)

	changes := eventbus.New[model.MicrogridID, Change](16)
	sub := changes.Subscribe(d.MicrogridID)
	defer sub.Cancel()

	tr := New(st, nil, changes, nil, logger.NopLogger{}, time.Hour)
	tr.now = func() time.Time { return anchor.Add(-time.Minute) }

	tr.Refresh()

	c := waitChange(t, sub.C())
	if c.From != StateUnspecified || c.To != StatePending {
		t.Fatalf("initial transition %s -> %s, want unspecified -> pending", c.From, c.To)
	}
	if c.MicrogridID != d.MicrogridID || c.ID != d.ID {
		t.Fatalf("transition for dispatch %d/%d, want %d/%d", c.MicrogridID, c.ID, d.MicrogridID, d.ID)
	}
	if got, ok := tr.StateOf(d.MicrogridID, d.ID); !ok || got != StatePending {
		t.Fatalf("StateOf = %s, %v", got, ok)
	}
}

func TestRefreshTransitionsWithClock(t *testing.T) {
	st := newFakeStore()
	d := oneShot(time.Hour)
	st.set(d.MicrogridID, d)

	changes := eventbus.New[model.MicrogridID, Change](16)
	sub := changes.Subscribe(d.MicrogridID)
	defer sub.Cancel()

	now := anchor.Add(-time.Minute)
	tr := New(st, nil, changes, nil, logger.NopLogger{}, time.Hour)
	tr.now = func() time.Time { return now }

	tr.Refresh()
	if c := waitChange(t, sub.C()); c.To != StatePending {
		t.Fatalf("first state %s, want pending", c.To)
	}

	// Same instant again: no state change, no event.
	tr.Refresh()

	now = anchor.Add(time.Minute)
	tr.Refresh()
	c := waitChange(t, sub.C())
	if c.From != StatePending || c.To != StateActive {
		t.Fatalf("transition %s -> %s, want pending -> active", c.From, c.To)
	}

	now = anchor.Add(2 * time.Hour)
	tr.Refresh()
	c = waitChange(t, sub.C())
	if c.From != StateActive || c.To != StateInactiveExpired {
		t.Fatalf("transition %s -> %s, want active -> inactive_expired", c.From, c.To)
	}
}

func TestRefreshRecordsCensus(t *testing.T) {
	st := newFakeStore()
	pending := oneShot(time.Hour)
	active := oneShot(time.Hour)
	active.ID = 2
	active.StartTime = anchor.Add(-30 * time.Minute)
	disabled := oneShot(time.Hour)
	disabled.ID = 3
	disabled.Active = false
	st.set(1, pending, active, disabled)

	sink := &recordingSink{}
	tr := New(st, nil, nil, sink, logger.NopLogger{}, time.Hour)
	tr.now = func() time.Time { return anchor.Add(-time.Minute) }

	tr.Refresh()

	census, ok := sink.lastCensus()
	if !ok {
		t.Fatal("no census recorded")
	}
	if census.MicrogridID != 1 {
		t.Fatalf("census microgrid %d", census.MicrogridID)
	}
	want := map[string]int{"pending": 1, "active": 1, "disabled": 1}
	for k, n := range want {
		if census.Counts[k] != n {
			t.Fatalf("census[%s] = %d, want %d (all: %v)", k, census.Counts[k], n, census.Counts)
		}
	}
}

func TestRefreshPrunesRemovedDispatches(t *testing.T) {
	st := newFakeStore()
	d := oneShot(time.Hour)
	st.set(d.MicrogridID, d)

	tr := New(st, nil, nil, nil, logger.NopLogger{}, time.Hour)
	tr.now = func() time.Time { return anchor }

	tr.Refresh()
	if _, ok := tr.StateOf(d.MicrogridID, d.ID); !ok {
		t.Fatal("state missing after refresh")
	}

	st.set(d.MicrogridID)
	tr.Refresh()
	if _, ok := tr.StateOf(d.MicrogridID, d.ID); ok {
		t.Fatal("state survived removal")
	}
}

func TestRunReactsToLifecycleEvents(t *testing.T) {
	st := newFakeStore()
	lifecycle := eventbus.New[model.MicrogridID, events.Event](16)
	changes := eventbus.New[model.MicrogridID, Change](16)
	sub := changes.Subscribe(1)
	defer sub.Cancel()

	// Interval long enough that only events drive evaluation.
	tr := New(st, lifecycle, changes, nil, logger.NopLogger{}, time.Hour)
	fixed := anchor.Add(time.Minute)
	tr.now = func() time.Time { return fixed }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.Run(ctx)
	}()

	d := oneShot(time.Hour)
	st.set(d.MicrogridID, d)
	lifecycle.Publish(d.MicrogridID, events.Event{
		Kind: events.KindCreated, MicrogridID: d.MicrogridID, ID: d.ID, Dispatch: &d, Seq: 1,
	})

	c := waitChange(t, sub.C())
	if c.From != StateUnspecified || c.To != StateActive {
		t.Fatalf("transition %s -> %s, want unspecified -> active", c.From, c.To)
	}

	lifecycle.Publish(d.MicrogridID, events.Event{
		Kind: events.KindDeleted, MicrogridID: d.MicrogridID, ID: d.ID, Seq: 2,
	})
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := tr.StateOf(d.MicrogridID, d.ID); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("state not dropped after delete event")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestTrackerTagsDryRunTransitions(t *testing.T) {
	st := newFakeStore()
	d := oneShot(time.Hour)
	d.DryRun = true
	st.set(d.MicrogridID, d)

	changes := eventbus.New[model.MicrogridID, Change](16)
	sub := changes.Subscribe(d.MicrogridID)
	defer sub.Cancel()

	sink := &recordingSink{}
	tr := New(st, nil, changes, sink, logger.NopLogger{}, time.Hour)
	tr.now = func() time.Time { return anchor.Add(time.Minute) }

	tr.Refresh()

	c := waitChange(t, sub.C())
	if c.To != StateActive {
		t.Fatalf("dry-run state %s, want active", c.To)
	}
	if !c.DryRun {
		t.Fatal("change not tagged as dry-run")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.transitions) != 1 || !sink.transitions[0].DryRun {
		t.Fatalf("transitions: %+v", sink.transitions)
	}
}
