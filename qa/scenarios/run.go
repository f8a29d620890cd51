package scenarios

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/kilianp07/griddispatch/core/activation"
	"github.com/kilianp07/griddispatch/core/events"
	"github.com/kilianp07/griddispatch/core/model"
	"github.com/kilianp07/griddispatch/core/store"
	"github.com/kilianp07/griddispatch/infra/logger"
	"github.com/kilianp07/griddispatch/internal/eventbus"
)

// RunScenario creates the scenario's dispatches through a real store
// and checks every probe against the pure activation evaluation.
func RunScenario(t *testing.T, sc *Scenario) {
	t.Helper()
	// The store rejects past start times, so the base sits in the
	// future; probes are relative and unaffected.
	base := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	ctx := context.Background()

	bus := eventbus.New[model.MicrogridID, events.Event](16)
	defer bus.Close()
	st, err := store.New(ctx, store.NewMemoryBackend(), bus, logger.NopLogger{})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer func() { _ = st.Close() }()

	const mg = model.MicrogridID(1)
	records := make([]model.Dispatch, len(sc.Dispatches))
	for i, dd := range sc.Dispatches {
		data, err := dd.ToData(base)
		if err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
		rec, err := st.Create(ctx, mg, data)
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		records[i] = rec
	}

	for _, p := range sc.Probes {
		off, err := time.ParseDuration(p.AtOffset)
		if err != nil {
			t.Fatalf("probe %q: %v", p.AtOffset, err)
		}
		if len(p.States) != len(records) {
			t.Fatalf("probe %q lists %d states for %d dispatches", p.AtOffset, len(p.States), len(records))
		}
		at := base.Add(off)
		for i, name := range p.States {
			want, err := parseState(name)
			if err != nil {
				t.Fatalf("probe %q: %v", p.AtOffset, err)
			}
			if got := activation.Evaluate(&records[i], at); got != want {
				t.Errorf("probe %q dispatch %d: got %s, want %s", p.AtOffset, i, got, want)
			}
		}
	}
}

func parseState(s string) (activation.State, error) {
	var st activation.State
	if err := json.Unmarshal([]byte(strconv.Quote(s)), &st); err != nil {
		return activation.StateUnspecified, err
	}
	return st, nil
}
