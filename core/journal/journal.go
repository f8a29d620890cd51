// Package journal persists dispatch lifecycle events as an append-only
// JSONL audit trail, with optional file rotation. One line per event;
// queries scan the file(s) and filter in memory, which is fine for the
// operational volumes a single engine produces.
package journal

import (
	"context"
	"time"

	"github.com/kilianp07/griddispatch/core/events"
	"github.com/kilianp07/griddispatch/core/model"
)

// maxLineBytes bounds a single journal line. Payloads alone may reach
// the store's 50 KiB cap, so the default bufio token size is too small.
const maxLineBytes = 1 << 20

// Entry is one journaled lifecycle event, stamped with the time it was
// written.
type Entry struct {
	Time  time.Time    `json:"time"`
	Event events.Event `json:"event"`
}

// Query filters journal entries. Zero fields match everything.
type Query struct {
	Start       time.Time
	End         time.Time
	MicrogridID model.MicrogridID
	Kind        events.Kind
}

func (q Query) matches(e Entry) bool {
	if !q.Start.IsZero() && e.Time.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && e.Time.After(q.End) {
		return false
	}
	if q.MicrogridID != 0 && e.Event.MicrogridID != q.MicrogridID {
		return false
	}
	if q.Kind != events.KindUnspecified && e.Event.Kind != q.Kind {
		return false
	}
	return true
}

// Store persists entries and supports querying.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Query(ctx context.Context, q Query) ([]Entry, error)
	Close() error
}
