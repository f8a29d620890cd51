package recurrence

import (
	"time"

	"github.com/kilianp07/griddispatch/core/model"
)

// EndTime computes the instant after which no occurrence of the schedule
// can be active. Zero means unbounded.
//
// One-shot dispatches end at start plus duration; with duration unset
// they run until further notice. Counted rules end at the final
// occurrence start plus duration, the start alone when duration is
// unset. Until rules end the same way, anchored on the last occurrence
// strictly before the cutoff. A bounded rule that yields no occurrence
// at all ends at the start itself.
func EndTime(start time.Time, duration time.Duration, rule *model.RecurrenceRule) time.Time {
	start = start.UTC()
	if rule == nil {
		if duration == 0 {
			return time.Time{}
		}
		return start.Add(duration)
	}
	var last time.Time
	var found bool
	switch end := rule.End.(type) {
	case model.EndCount:
		last, found = lastOccurrence(rule, start)
	case model.EndUntil:
		last, found = lastBefore(rule, start, time.Time(end).UTC())
	default:
		return time.Time{}
	}
	if !found {
		return start
	}
	if duration == 0 {
		return last
	}
	return last.Add(duration)
}

// lastOccurrence drains a counted rule and returns its final occurrence.
// Bounded by the rule's count.
func lastOccurrence(rule *model.RecurrenceRule, start time.Time) (time.Time, bool) {
	it := Expand(rule, start)
	var last time.Time
	found := false
	for {
		t, ok := it.Next()
		if !ok {
			return last, found
		}
		last, found = t, true
	}
}

// lastBefore walks the schedule backwards from the cutoff and returns
// the last occurrence strictly before it. Backwards rather than forwards
// because a dense rule with a far cutoff has billions of occurrences but
// the answer sits in the final unit.
func lastBefore(rule *model.RecurrenceRule, anchor, until time.Time) (time.Time, bool) {
	anchor = anchor.UTC()
	if !until.After(anchor) {
		return time.Time{}, false
	}
	e := newExpander(rule, anchor)
	if e.trapped() {
		return time.Time{}, false
	}
	subMonth := e.freq == model.FreqMinutely || e.freq == model.FreqHourly || e.freq == model.FreqDaily
	subDay := e.freq == model.FreqMinutely || e.freq == model.FreqHourly
	for k := e.upperTick(until); k >= 0; k-- {
		tick := e.tickAt(k)
		us, _ := e.unitBounds(tick)
		if !us.Before(until) {
			continue
		}
		if subMonth && len(e.months) > 0 {
			if _, ok := e.months[tick.Month()]; !ok {
				k -= e.ticksBack(tick, e.prevAdmittedMonthEnd(tick)) - 1
				continue
			}
		}
		if subDay && (len(e.monthdays) > 0 || len(e.weekdays) > 0) && !e.dayAdmitted(tick) {
			k -= e.ticksBack(tick, dateOf(tick)) - 1
			continue
		}
		cands := e.expand(tick)
		for i := len(cands) - 1; i >= 0; i-- {
			if cands[i].Before(until) {
				return cands[i], true
			}
		}
	}
	return time.Time{}, false
}

// upperTick bounds the tick index whose unit could still contain an
// instant before the cutoff. A little slack covers units that start
// before their tick.
func (e *expander) upperTick(until time.Time) int64 {
	var k int64
	if e.monthStep > 0 {
		months := int64(until.Year()-e.anchor.Year())*12 + int64(until.Month()-e.anchor.Month())
		k = months/int64(e.monthStep) + 2
	} else {
		diffMin := (until.Unix() - e.anchor.Unix()) / 60
		k = diffMin/e.stepMin + 2
	}
	if k < 0 {
		return 0
	}
	return k
}
