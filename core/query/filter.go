// Package query implements the read side of the engine: filter
// predicates, sort ordering and cursor pagination over a store
// snapshot. It never mutates the snapshot it is handed.
package query

import (
	"time"

	"github.com/kilianp07/griddispatch/core/errs"
	"github.com/kilianp07/griddispatch/core/model"
)

// RecurrenceFilter matches structural fields of a recurrence rule.
// Zero-valued fields match anything.
type RecurrenceFilter struct {
	Freq     model.Frequency
	Interval int
}

// Filter is a conjunction of optional predicates. A nil or zero-valued
// filter matches every dispatch.
//
// Time ranges are half-open [From, To); a zero bound leaves that side
// unconstrained. End-time ranges never match unbounded dispatches,
// which have no end time to fall inside the range.
type Filter struct {
	// Targets matches dispatches whose selector covers at least one of
	// the listed components. Empty means no selector constraint.
	Targets []model.ComponentTarget

	Active *bool
	DryRun *bool

	// Recurring filters on rule presence; Recurrence on rule fields.
	// The two are mutually exclusive.
	Recurring  *bool
	Recurrence *RecurrenceFilter

	StartFrom time.Time
	StartTo   time.Time
	EndFrom   time.Time
	EndTo     time.Time
	UpdateFrom time.Time
	UpdateTo   time.Time
}

// Validate rejects filters that can never be evaluated meaningfully.
func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}
	if f.Recurring != nil && f.Recurrence != nil {
		return errs.InvalidArgf("filter: recurring and recurrence constraints are mutually exclusive")
	}
	for i, tgt := range f.Targets {
		if tgt == nil {
			return errs.InvalidArgf("filter: target %d is empty", i)
		}
	}
	return nil
}

// Matches reports whether the dispatch passes every set predicate.
func (f *Filter) Matches(d *model.Dispatch) bool {
	if f == nil {
		return true
	}
	if len(f.Targets) > 0 && !f.matchesTarget(d) {
		return false
	}
	if f.Active != nil && d.Active != *f.Active {
		return false
	}
	if f.DryRun != nil && d.DryRun != *f.DryRun {
		return false
	}
	if f.Recurring != nil && d.Recurring() != *f.Recurring {
		return false
	}
	if f.Recurrence != nil && !f.matchesRecurrence(d.Recurrence) {
		return false
	}
	if !inRange(d.StartTime, f.StartFrom, f.StartTo) {
		return false
	}
	if (!f.EndFrom.IsZero() || !f.EndTo.IsZero()) && d.EndTime.IsZero() {
		return false
	}
	if !inRange(d.EndTime, f.EndFrom, f.EndTo) {
		return false
	}
	return inRange(d.UpdateTime, f.UpdateFrom, f.UpdateTo)
}

func (f *Filter) matchesTarget(d *model.Dispatch) bool {
	if d.Selector == nil {
		return false
	}
	for _, tgt := range f.Targets {
		if d.Selector.Matches(tgt) {
			return true
		}
	}
	return false
}

func (f *Filter) matchesRecurrence(r *model.RecurrenceRule) bool {
	if r == nil {
		return false
	}
	if f.Recurrence.Freq != model.FreqUnspecified && r.Freq != f.Recurrence.Freq {
		return false
	}
	if f.Recurrence.Interval != 0 && r.Interval != f.Recurrence.Interval {
		return false
	}
	return true
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}
