package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kilianp07/griddispatch/core/errs"
)

// MicrogridID identifies one microgrid. Dispatches are scoped to it.
type MicrogridID uint64

// DispatchID identifies a dispatch within its microgrid. IDs are allocated
// monotonically and never reused, deletions included.
type DispatchID uint64

// DispatchData is the client-writable part of a dispatch: everything a
// create call supplies and an update call may patch.
type DispatchData struct {
	// Type names the component-specific operation, e.g. "charge" or
	// "frequency_containment". The engine treats it as opaque.
	Type string
	// StartTime is the first (or only) instant the dispatch starts, UTC.
	StartTime time.Time
	// Duration is how long each occurrence stays active. Zero means unset:
	// the dispatch runs until further notice once started.
	Duration time.Duration
	// Selector names the target components.
	Selector ComponentSelector
	// Active gates the whole schedule. Inactive dispatches are parked in
	// the DISABLED state regardless of time.
	Active bool
	// DryRun marks rehearsal dispatches. They run the full lifecycle but
	// operators must not act on them.
	DryRun bool
	// Payload is the opaque operation body.
	Payload Payload
	// Recurrence repeats the dispatch after StartTime. Nil means one-shot.
	Recurrence *RecurrenceRule
}

// Validate performs the structural checks: type present, duration
// non-negative, selector well-formed, payload within limits, rule valid.
// The temporal check (start not in the past) lives in the store, which
// owns the clock.
func (d *DispatchData) Validate() error {
	if d.Type == "" {
		return errs.InvalidArgf("dispatch: type is required")
	}
	if d.StartTime.IsZero() {
		return errs.InvalidArgf("dispatch: start time is required")
	}
	if d.Duration < 0 {
		return errs.InvalidArgf("dispatch: duration must not be negative, got %s", d.Duration)
	}
	if err := ValidateSelector(d.Selector); err != nil {
		return err
	}
	if err := d.Payload.Validate(); err != nil {
		return err
	}
	return d.Recurrence.Validate()
}

// Clone deep-copies the data.
func (d DispatchData) Clone() DispatchData {
	out := d
	if d.Selector != nil {
		out.Selector = d.Selector.Clone()
	}
	out.Payload = d.Payload.Clone()
	out.Recurrence = d.Recurrence.Clone()
	return out
}

// Dispatch is one stored dispatch record.
type Dispatch struct {
	ID          DispatchID
	MicrogridID MicrogridID

	DispatchData

	// CreateTime and UpdateTime are engine-owned, UTC. UpdateTime strictly
	// increases across modifications of the same dispatch.
	CreateTime time.Time
	UpdateTime time.Time
	// EndTime is the instant after which no occurrence can be active.
	// Zero means unbounded.
	EndTime time.Time
}

// Recurring reports whether the dispatch has a recurrence rule.
func (d *Dispatch) Recurring() bool { return d.Recurrence != nil }

// Clone deep-copies the record so callers cannot mutate stored state.
func (d Dispatch) Clone() Dispatch {
	out := d
	out.DispatchData = d.DispatchData.Clone()
	return out
}

// Field mask paths accepted by Update.
const (
	FieldType       = "type"
	FieldStartTime  = "start_time"
	FieldDuration   = "duration"
	FieldSelector   = "selector"
	FieldActive     = "is_active"
	FieldDryRun     = "is_dry_run"
	FieldPayload    = "payload"
	FieldRecurrence = "recurrence"

	FieldRecurrenceFreq        = "recurrence.freq"
	FieldRecurrenceInterval    = "recurrence.interval"
	FieldRecurrenceEnd         = "recurrence.end"
	FieldRecurrenceEndCount    = "recurrence.end.count"
	FieldRecurrenceEndUntil    = "recurrence.end.until"
	FieldRecurrenceByMinutes   = "recurrence.by_minutes"
	FieldRecurrenceByHours     = "recurrence.by_hours"
	FieldRecurrenceByWeekdays  = "recurrence.by_weekdays"
	FieldRecurrenceByMonthdays = "recurrence.by_monthdays"
	FieldRecurrenceByMonths    = "recurrence.by_months"
)

var knownFields = map[string]struct{}{
	FieldType:                  {},
	FieldStartTime:             {},
	FieldDuration:              {},
	FieldSelector:              {},
	FieldActive:                {},
	FieldDryRun:                {},
	FieldPayload:               {},
	FieldRecurrence:            {},
	FieldRecurrenceFreq:        {},
	FieldRecurrenceInterval:    {},
	FieldRecurrenceEnd:         {},
	FieldRecurrenceEndCount:    {},
	FieldRecurrenceEndUntil:    {},
	FieldRecurrenceByMinutes:   {},
	FieldRecurrenceByHours:     {},
	FieldRecurrenceByWeekdays:  {},
	FieldRecurrenceByMonthdays: {},
	FieldRecurrenceByMonths:    {},
}

// FieldMask lists the paths an update call replaces. Unlisted fields keep
// their stored value.
type FieldMask []string

// Validate rejects empty masks, unknown paths and the count/until conflict.
func (m FieldMask) Validate() error {
	if len(m) == 0 {
		return errs.InvalidArgf("field mask: at least one path is required")
	}
	for _, p := range m {
		if _, ok := knownFields[p]; !ok {
			return errs.InvalidArgf("field mask: unknown path %q", p)
		}
	}
	if m.Contains(FieldRecurrenceEndCount) && m.Contains(FieldRecurrenceEndUntil) {
		return errs.FailedPreconditionf("field mask: recurrence.end.count and recurrence.end.until are mutually exclusive")
	}
	return nil
}

// Contains reports whether the mask names the path.
func (m FieldMask) Contains(path string) bool {
	for _, p := range m {
		if p == path {
			return true
		}
	}
	return false
}

// TouchesRecurrence reports whether any masked path modifies the rule.
func (m FieldMask) TouchesRecurrence() bool {
	for _, p := range m {
		if p == FieldRecurrence || len(p) > len(FieldRecurrence) && p[:len(FieldRecurrence)+1] == FieldRecurrence+"." {
			return true
		}
	}
	return false
}

// dispatchEnvelope is the stored form of a dispatch record. Times are
// RFC 3339 UTC; duration is whole seconds, absent when unset; end time is
// absent when unbounded.
type dispatchEnvelope struct {
	ID          uint64          `json:"id"`
	MicrogridID uint64          `json:"microgrid_id"`
	Type        string          `json:"type"`
	StartTime   string          `json:"start_time"`
	Duration    *int64          `json:"duration_seconds,omitempty"`
	Selector    json.RawMessage `json:"selector"`
	Active      bool            `json:"is_active"`
	DryRun      bool            `json:"is_dry_run"`
	Payload     Payload         `json:"payload,omitempty"`
	Recurrence  *RecurrenceRule `json:"recurrence,omitempty"`
	CreateTime  string          `json:"create_time"`
	UpdateTime  string          `json:"update_time"`
	EndTime     *string         `json:"end_time,omitempty"`
}

// MarshalJSON encodes the record as its storage envelope.
func (d Dispatch) MarshalJSON() ([]byte, error) {
	sel, err := MarshalSelector(d.Selector)
	if err != nil {
		return nil, err
	}
	env := dispatchEnvelope{
		ID:          uint64(d.ID),
		MicrogridID: uint64(d.MicrogridID),
		Type:        d.Type,
		StartTime:   d.StartTime.UTC().Format(time.RFC3339Nano),
		Selector:    sel,
		Active:      d.Active,
		DryRun:      d.DryRun,
		Payload:     d.Payload,
		Recurrence:  d.Recurrence,
		CreateTime:  d.CreateTime.UTC().Format(time.RFC3339Nano),
		UpdateTime:  d.UpdateTime.UTC().Format(time.RFC3339Nano),
	}
	if d.Duration > 0 {
		secs := int64(d.Duration / time.Second)
		env.Duration = &secs
	}
	if !d.EndTime.IsZero() {
		e := d.EndTime.UTC().Format(time.RFC3339Nano)
		env.EndTime = &e
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes the storage envelope back into the record.
func (d *Dispatch) UnmarshalJSON(b []byte) error {
	var env dispatchEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return fmt.Errorf("unmarshal dispatch: %w", err)
	}
	sel, err := UnmarshalSelector(env.Selector)
	if err != nil {
		return err
	}
	out := Dispatch{
		ID:          DispatchID(env.ID),
		MicrogridID: MicrogridID(env.MicrogridID),
		DispatchData: DispatchData{
			Type:       env.Type,
			Selector:   sel,
			Active:     env.Active,
			DryRun:     env.DryRun,
			Payload:    env.Payload,
			Recurrence: env.Recurrence,
		},
	}
	if out.StartTime, err = parseEnvelopeTime("start_time", env.StartTime); err != nil {
		return err
	}
	if out.CreateTime, err = parseEnvelopeTime("create_time", env.CreateTime); err != nil {
		return err
	}
	if out.UpdateTime, err = parseEnvelopeTime("update_time", env.UpdateTime); err != nil {
		return err
	}
	if env.Duration != nil {
		out.Duration = time.Duration(*env.Duration) * time.Second
	}
	if env.EndTime != nil {
		if out.EndTime, err = parseEnvelopeTime("end_time", *env.EndTime); err != nil {
			return err
		}
	}
	*d = out
	return nil
}

func parseEnvelopeTime(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unmarshal dispatch: bad %s: %w", field, err)
	}
	return t.UTC(), nil
}
