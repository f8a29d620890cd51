package journal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kilianp07/griddispatch/core/events"
	"github.com/kilianp07/griddispatch/core/model"
	"github.com/kilianp07/griddispatch/infra/logger"
	"github.com/kilianp07/griddispatch/internal/eventbus"
)

func entry(mg model.MicrogridID, id model.DispatchID, kind events.Kind, at time.Time) Entry {
	return Entry{
		Time: at,
		Event: events.Event{
			Kind:        kind,
			MicrogridID: mg,
			ID:          id,
			Seq:         uint64(id),
		},
	}
}

func TestJSONLStoreAppendQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	st, err := NewJSONLStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = st.Close() }()

	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()
	for i, e := range []Entry{
		entry(1, 1, events.KindCreated, base),
		entry(1, 1, events.KindUpdated, base.Add(time.Minute)),
		entry(2, 7, events.KindDeleted, base.Add(2*time.Minute)),
	} {
		if err := st.Append(ctx, e); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	all, err := st.Query(ctx, Query{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d entries, want 3", len(all))
	}

	byGrid, err := st.Query(ctx, Query{MicrogridID: 2})
	if err != nil {
		t.Fatalf("query grid: %v", err)
	}
	if len(byGrid) != 1 || byGrid[0].Event.ID != 7 {
		t.Fatalf("grid filter returned %+v", byGrid)
	}

	byKind, err := st.Query(ctx, Query{Kind: events.KindUpdated})
	if err != nil {
		t.Fatalf("query kind: %v", err)
	}
	if len(byKind) != 1 || byKind[0].Event.Kind != events.KindUpdated {
		t.Fatalf("kind filter returned %+v", byKind)
	}

	ranged, err := st.Query(ctx, Query{Start: base.Add(30 * time.Second), End: base.Add(90 * time.Second)})
	if err != nil {
		t.Fatalf("query range: %v", err)
	}
	if len(ranged) != 1 || ranged[0].Event.Kind != events.KindUpdated {
		t.Fatalf("range filter returned %+v", ranged)
	}
}

func TestJSONLStoreSkipsGarbageLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	st, err := NewJSONLStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := os.WriteFile(path, []byte("not json\n"), 0644); err != nil {
		t.Fatalf("seed garbage: %v", err)
	}
	ctx := context.Background()
	if err := st.Append(ctx, entry(1, 1, events.KindCreated, time.Now().UTC())); err != nil {
		t.Fatalf("append: %v", err)
	}
	out, err := st.Query(ctx, Query{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d entries, want 1", len(out))
	}
}

func TestRotatingJSONLStoreRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	st, err := NewRotatingJSONLStore(path, 1, 3, 1)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = st.Close() }()

	// Oversized payloads push the file past 1 MiB quickly.
	filler := strings.Repeat("x", 96*1024)
	ctx := context.Background()
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	const n = 14
	for i := 0; i < n; i++ {
		e := entry(1, model.DispatchID(i+1), events.KindCreated, base.Add(time.Duration(i)*time.Second))
		e.Event.Dispatch = &model.Dispatch{
			ID:          e.Event.ID,
			MicrogridID: 1,
			DispatchData: model.DispatchData{
				Type:    "charge",
				Payload: model.Payload{"filler": filler},
			},
		}
		if err := st.Append(ctx, e); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	files, err := filepath.Glob(filepath.Join(filepath.Dir(path), "journal*"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("expected rotated files, got %v", files)
	}
	out, err := st.Query(ctx, Query{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != n {
		t.Fatalf("got %d entries across files, want %d", len(out), n)
	}
}

func TestCollectorJournalsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	st, err := NewJSONLStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	bus := eventbus.New[model.MicrogridID, events.Event](8)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartCollector(ctx, bus, st, logger.NopLogger{})

	bus.Publish(4, events.Event{Kind: events.KindCreated, MicrogridID: 4, ID: 9, Seq: 1})

	deadline := time.Now().Add(2 * time.Second)
	for {
		out, err := st.Query(ctx, Query{MicrogridID: 4})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(out) == 1 {
			if out[0].Event.Kind != events.KindCreated || out[0].Event.ID != 9 {
				t.Fatalf("journaled %+v", out[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("event never journaled")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
