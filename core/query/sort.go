package query

import (
	"time"

	"github.com/kilianp07/griddispatch/core/model"
)

// SortKey names the dispatch field a listing is ordered by.
type SortKey int

const (
	SortUnspecified SortKey = iota
	SortCreateTime
	SortStartTime
	SortUpdateTime
	SortID
)

// String returns the wire-stable key name used inside cursors.
func (k SortKey) String() string {
	switch k {
	case SortCreateTime:
		return "create_time"
	case SortStartTime:
		return "start_time"
	case SortUpdateTime:
		return "update_time"
	case SortID:
		return "id"
	default:
		return "unspecified"
	}
}

// ParseSortKey resolves a wire name back to a sort key.
func ParseSortKey(s string) (SortKey, bool) {
	switch s {
	case "create_time":
		return SortCreateTime, true
	case "start_time":
		return SortStartTime, true
	case "update_time":
		return SortUpdateTime, true
	case "id":
		return SortID, true
	}
	return SortUnspecified, false
}

// SortOptions selects the listing order. The zero value means
// creation time, newest first.
type SortOptions struct {
	Key        SortKey
	Descending bool
}

// normalize resolves the default: unspecified key sorts by creation
// time descending regardless of the Descending field.
func (o SortOptions) normalize() (SortKey, bool) {
	if o.Key == SortUnspecified {
		return SortCreateTime, true
	}
	return o.Key, o.Descending
}

// less orders a before b under the given key and direction. Ties on
// the key value always break by ascending id so the order is total
// and stable across pages.
func less(a, b *model.Dispatch, key SortKey, descending bool) bool {
	c := compareKey(a, b, key)
	if c == 0 {
		return a.ID < b.ID
	}
	if descending {
		return c > 0
	}
	return c < 0
}

func compareKey(a, b *model.Dispatch, key SortKey) int {
	if key == SortID {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	}
	return compareTime(keyTime(a, key), keyTime(b, key))
}

func keyTime(d *model.Dispatch, key SortKey) time.Time {
	switch key {
	case SortStartTime:
		return d.StartTime
	case SortUpdateTime:
		return d.UpdateTime
	default:
		return d.CreateTime
	}
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}
