// Package activation derives the current activation state of every
// dispatch from store contents and wall-clock time, and pushes state
// transitions to subscribers. The state machine itself is a pure
// function of one dispatch and one instant; the Tracker drives it on a
// periodic tick plus immediately after store mutations.
package activation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kilianp07/griddispatch/core/model"
	"github.com/kilianp07/griddispatch/core/recurrence"
)

// State is the activation state of one dispatch.
type State int

const (
	// StateUnspecified is the zero value; the tracker never publishes a
	// transition into it.
	StateUnspecified State = iota
	// StatePending waits for the next occurrence to start.
	StatePending
	// StateActive covers an instant inside a running occurrence.
	StateActive
	// StateInactiveExpired marks a schedule whose overall end has passed.
	StateInactiveExpired
	// StateDisabled parks dispatches whose active flag is off.
	StateDisabled
)

// String returns the wire-stable name of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateInactiveExpired:
		return "inactive_expired"
	case StateDisabled:
		return "disabled"
	default:
		return "unspecified"
	}
}

// MarshalJSON encodes the state as its wire name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a wire name back into the state.
func (s *State) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return fmt.Errorf("unmarshal activation state: %w", err)
	}
	switch name {
	case "pending":
		*s = StatePending
	case "active":
		*s = StateActive
	case "inactive_expired":
		*s = StateInactiveExpired
	case "disabled":
		*s = StateDisabled
	case "unspecified":
		*s = StateUnspecified
	default:
		return fmt.Errorf("unmarshal activation state: unknown name %q", name)
	}
	return nil
}

// Evaluate derives the dispatch's activation state at the given
// instant. The disabled flag overrides everything; past the overall end
// the dispatch is expired; otherwise it is active while an occurrence
// covers now and pending in the gaps.
//
// A dispatch without a duration runs until further notice: it is active
// from its first occurrence start to its overall end, or forever when
// the schedule is unbounded.
func Evaluate(d *model.Dispatch, now time.Time) State {
	if !d.Active {
		return StateDisabled
	}
	now = now.UTC()
	if !d.EndTime.IsZero() && !now.Before(d.EndTime) {
		return StateInactiveExpired
	}
	if now.Before(d.StartTime) {
		return StatePending
	}

	if d.Duration == 0 {
		first, ok := recurrence.Expand(d.Recurrence, d.StartTime).Next()
		if ok && !now.Before(first) {
			return StateActive
		}
		return StatePending
	}

	// Only occurrences in (now-duration, now] can cover now.
	it := recurrence.ExpandWindow(d.Recurrence, d.StartTime, now.Add(-d.Duration), now.Add(time.Nanosecond))
	for {
		o, ok := it.Next()
		if !ok {
			return StatePending
		}
		if !now.Before(o) && now.Before(o.Add(d.Duration)) {
			return StateActive
		}
	}
}

// Change is one externally visible activation-state transition. From is
// StateUnspecified on the first evaluation of a dispatch.
type Change struct {
	MicrogridID model.MicrogridID `json:"microgrid_id"`
	ID          model.DispatchID  `json:"dispatch_id"`
	From        State             `json:"from"`
	To          State             `json:"to"`
	At          time.Time         `json:"at"`
	DryRun      bool              `json:"is_dry_run"`
}
