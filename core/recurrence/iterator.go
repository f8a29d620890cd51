// Package recurrence expands dispatch recurrence rules into concrete
// occurrence start times and derives overall schedule end times.
//
// Expansion works on frequency ticks anchored at the dispatch start:
// fixed spacing for minutely through weekly rules, calendar arithmetic
// for monthly and yearly ones (day-of-month preserved, clamped to the
// last valid day of shorter months). Non-empty restriction lists expand
// each tick into the matching instants inside the tick's enclosing
// calendar unit; restrictions coarser than the unit degrade to filters.
// All times are UTC, weeks start on Monday.
package recurrence

import (
	"time"

	"github.com/kilianp07/griddispatch/core/model"
)

// maxYear bounds expansion so degenerate rules cannot scan forever.
const maxYear = 9999

// Iterator walks the occurrence start times of one dispatch schedule in
// ascending order. It is single-use; construct a fresh one to restart.
type Iterator struct {
	exp    *expander
	from   time.Time
	to     time.Time
	until  time.Time
	count  uint64 // 0 = unbounded
	single bool   // no rule: the anchor is the only occurrence

	k       int64
	pending []time.Time
	pi      int
	emitted uint64
	done    bool
}

// Expand returns an iterator over every occurrence from the dispatch
// start onward. A nil rule describes a one-shot dispatch: the start
// itself is the only occurrence. The rule must already be validated.
func Expand(rule *model.RecurrenceRule, start time.Time) *Iterator {
	return ExpandWindow(rule, start, time.Time{}, time.Time{})
}

// ExpandWindow returns an iterator over the occurrences falling within
// [from, to). Zero bounds leave that side open. Occurrences skipped by
// from still count against a rule's end count, so windowed and unwindowed
// expansions of the same rule agree on which instants exist.
func ExpandWindow(rule *model.RecurrenceRule, start time.Time, from, to time.Time) *Iterator {
	it := &Iterator{from: from, to: to}
	if rule == nil {
		it.single = true
		it.pending = []time.Time{start.UTC()}
		return it
	}
	it.exp = newExpander(rule, start)
	switch e := rule.End.(type) {
	case model.EndCount:
		it.count = uint64(e)
	case model.EndUntil:
		it.until = time.Time(e).UTC()
	}
	if it.exp.trapped() {
		it.done = true
	}
	return it
}

// Next returns the next occurrence start, or false when the schedule,
// the end criteria or the window is exhausted.
func (it *Iterator) Next() (time.Time, bool) {
	if it.done {
		return time.Time{}, false
	}
	if it.single {
		it.done = true
		c := it.pending[0]
		if !it.from.IsZero() && c.Before(it.from) {
			return time.Time{}, false
		}
		if !it.to.IsZero() && !c.Before(it.to) {
			return time.Time{}, false
		}
		return c, true
	}
	for {
		for it.pi < len(it.pending) {
			c := it.pending[it.pi]
			it.pi++
			if !it.until.IsZero() && !c.Before(it.until) {
				it.done = true
				return time.Time{}, false
			}
			if it.count > 0 && it.emitted >= it.count {
				it.done = true
				return time.Time{}, false
			}
			it.emitted++
			if !it.to.IsZero() && !c.Before(it.to) {
				it.done = true
				return time.Time{}, false
			}
			if !it.from.IsZero() && c.Before(it.from) {
				continue
			}
			return c, true
		}
		if !it.fill() {
			it.done = true
			return time.Time{}, false
		}
	}
}

// fill advances ticks until one produces candidates. False means the
// schedule is exhausted.
//
// Uncounted rules jump straight toward the window start; counted rules
// must enumerate every candidate so skipped ones still consume the count.
func (it *Iterator) fill() bool {
	e := it.exp
	for {
		tick := e.tickAt(it.k)
		if tick.Year() > maxYear {
			return false
		}
		us, ue := e.unitBounds(tick)
		if !it.until.IsZero() && !us.Before(it.until) {
			return false
		}
		if !it.to.IsZero() && !us.Before(it.to) {
			return false
		}
		if it.count == 0 && e.stepMin > 0 && !it.from.IsZero() && !ue.After(it.from) {
			it.k += e.ticksUntil(tick, it.from.Add(-e.unitLen()))
			continue
		}
		if target, skip := e.skipTarget(tick); skip {
			it.k += e.ticksUntil(tick, target)
			continue
		}
		cands := e.expand(tick)
		it.k++
		if len(cands) > 0 {
			it.pending = cands
			it.pi = 0
			return true
		}
	}
}

// Collect drains up to max occurrences into a slice. A max of 0 means
// no cap; callers expanding unbounded rules should set one.
func Collect(it *Iterator, max int) []time.Time {
	var out []time.Time
	for {
		if max > 0 && len(out) >= max {
			return out
		}
		t, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, t)
	}
}

// expander holds the normalized rule machinery shared by forward and
// backward walks.
type expander struct {
	freq   model.Frequency
	anchor time.Time

	minutes   []int
	hours     []int
	weekdays  map[time.Weekday]struct{}
	monthdays []int
	months    map[time.Month]struct{}

	stepMin   int64 // minutes per tick for fixed-length frequencies
	monthStep int   // months per tick for monthly/yearly
}

func newExpander(rule *model.RecurrenceRule, start time.Time) *expander {
	e := &expander{
		freq:      rule.Freq,
		anchor:    start.UTC(),
		minutes:   rule.NormalizedMinutes(),
		hours:     rule.NormalizedHours(),
		monthdays: rule.NormalizedMonthdays(),
	}
	if len(rule.ByWeekdays) > 0 {
		e.weekdays = make(map[time.Weekday]struct{}, len(rule.ByWeekdays))
		for _, d := range rule.ByWeekdays {
			e.weekdays[d] = struct{}{}
		}
	}
	if len(rule.ByMonths) > 0 {
		e.months = make(map[time.Month]struct{}, len(rule.ByMonths))
		for _, m := range rule.ByMonths {
			e.months[m] = struct{}{}
		}
	}
	iv := int64(rule.Interval)
	switch rule.Freq {
	case model.FreqMinutely:
		e.stepMin = iv
	case model.FreqHourly:
		e.stepMin = iv * 60
	case model.FreqDaily:
		e.stepMin = iv * 24 * 60
	case model.FreqWeekly:
		e.stepMin = iv * 7 * 24 * 60
	case model.FreqMonthly:
		e.monthStep = rule.Interval
	case model.FreqYearly:
		e.monthStep = rule.Interval * 12
	}
	return e
}

// tickAt computes tick k from the anchor. Fixed frequencies decompose
// the offset into whole days plus a sub-day remainder so the arithmetic
// stays exact over multi-millennium spans.
func (e *expander) tickAt(k int64) time.Time {
	if e.monthStep > 0 {
		return addMonthsClamped(e.anchor, int(k)*e.monthStep)
	}
	total := k * e.stepMin
	days := total / (24 * 60)
	rem := total % (24 * 60)
	return e.anchor.AddDate(0, 0, int(days)).Add(time.Duration(rem) * time.Minute)
}

// unitBounds returns the half-open calendar unit [start, end) enclosing
// the tick for this frequency.
func (e *expander) unitBounds(tick time.Time) (time.Time, time.Time) {
	y, mo, d := tick.Date()
	switch e.freq {
	case model.FreqMinutely:
		us := time.Date(y, mo, d, tick.Hour(), tick.Minute(), 0, 0, time.UTC)
		return us, us.Add(time.Minute)
	case model.FreqHourly:
		us := time.Date(y, mo, d, tick.Hour(), 0, 0, 0, time.UTC)
		return us, us.Add(time.Hour)
	case model.FreqDaily:
		us := time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
		return us, us.AddDate(0, 0, 1)
	case model.FreqWeekly:
		midnight := time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
		us := midnight.AddDate(0, 0, -mondayOffset(tick.Weekday()))
		return us, us.AddDate(0, 0, 7)
	case model.FreqMonthly:
		us := time.Date(y, mo, 1, 0, 0, 0, 0, time.UTC)
		return us, us.AddDate(0, 1, 0)
	default: // yearly
		us := time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
		return us, us.AddDate(1, 0, 0)
	}
}

// expand materializes the tick's candidates: the restriction
// cross-product inside the unit, chronological, confined to the unit
// and never before the anchor.
func (e *expander) expand(tick time.Time) []time.Time {
	us, ue := e.unitBounds(tick)
	dates := e.candidateDates(tick, us, ue)
	if len(dates) == 0 {
		return nil
	}
	hours := e.hours
	if len(hours) == 0 {
		hours = []int{tick.Hour()}
	}
	minutes := e.minutes
	if len(minutes) == 0 {
		minutes = []int{tick.Minute()}
	}
	sec, nsec := e.anchor.Second(), e.anchor.Nanosecond()
	var out []time.Time
	for _, d := range dates {
		dy, dm, dd := d.Date()
		for _, h := range hours {
			for _, m := range minutes {
				c := time.Date(dy, dm, dd, h, m, sec, nsec, time.UTC)
				if c.Before(us) || !c.Before(ue) {
					continue
				}
				if c.Before(e.anchor) {
					continue
				}
				out = append(out, c)
			}
		}
	}
	return out
}

// candidateDates picks the calendar days of the unit admitted by the
// month and day restrictions. With no day-level lists the tick's own
// date stands in, except for yearly month expansion which reuses the
// anchor's day-of-month and skips months where it does not exist.
func (e *expander) candidateDates(tick, us, ue time.Time) []time.Time {
	if len(e.monthdays) == 0 && len(e.weekdays) == 0 {
		if len(e.months) == 0 {
			return []time.Time{dateOf(tick)}
		}
		if e.freq != model.FreqYearly {
			if _, ok := e.months[tick.Month()]; !ok {
				return nil
			}
			return []time.Time{dateOf(tick)}
		}
		day := e.anchor.Day()
		var out []time.Time
		for m := time.January; m <= time.December; m++ {
			if _, ok := e.months[m]; !ok {
				continue
			}
			d := time.Date(tick.Year(), m, day, 0, 0, 0, 0, time.UTC)
			if d.Month() != m || d.Day() != day {
				continue // no such date in this month
			}
			out = append(out, d)
		}
		return out
	}
	var out []time.Time
	for d := dateOf(us); d.Before(ue); d = d.AddDate(0, 0, 1) {
		if len(e.months) > 0 {
			if _, ok := e.months[d.Month()]; !ok {
				continue
			}
		}
		if len(e.monthdays) > 0 && !e.monthdayMatch(d) {
			continue
		}
		if len(e.weekdays) > 0 {
			if _, ok := e.weekdays[d.Weekday()]; !ok {
				continue
			}
		}
		out = append(out, d)
	}
	return out
}

func (e *expander) monthdayMatch(d time.Time) bool {
	dim := daysIn(d.Year(), d.Month())
	for _, s := range e.monthdays {
		if s > 0 && d.Day() == s {
			return true
		}
		if s < 0 && d.Day() == dim+s+1 {
			return true
		}
	}
	return false
}

// skipTarget reports whether the tick can be fast-forwarded past a
// stretch that cannot produce candidates, and where to. Only sub-month
// frequencies need this; month-stepped ticks are already sparse.
func (e *expander) skipTarget(tick time.Time) (time.Time, bool) {
	subMonth := e.freq == model.FreqMinutely || e.freq == model.FreqHourly || e.freq == model.FreqDaily
	if subMonth && len(e.months) > 0 {
		if _, ok := e.months[tick.Month()]; !ok {
			return e.nextAdmittedMonthStart(tick), true
		}
	}
	subDay := e.freq == model.FreqMinutely || e.freq == model.FreqHourly
	if subDay && (len(e.monthdays) > 0 || len(e.weekdays) > 0) && !e.dayAdmitted(tick) {
		return dateOf(tick).AddDate(0, 0, 1), true
	}
	return time.Time{}, false
}

func (e *expander) dayAdmitted(t time.Time) bool {
	if len(e.monthdays) > 0 && !e.monthdayMatch(t) {
		return false
	}
	if len(e.weekdays) > 0 {
		if _, ok := e.weekdays[t.Weekday()]; !ok {
			return false
		}
	}
	return true
}

// nextAdmittedMonthStart finds the first day of the next admitted month
// strictly after the tick's month. Always within 13 months.
func (e *expander) nextAdmittedMonthStart(tick time.Time) time.Time {
	y, m := tick.Year(), tick.Month()
	for i := 0; i < 13; i++ {
		m++
		if m > time.December {
			m = time.January
			y++
		}
		if _, ok := e.months[m]; ok {
			return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
		}
	}
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// prevAdmittedMonthEnd finds the first instant after the latest admitted
// month at or before the tick's month. Always within 13 months.
func (e *expander) prevAdmittedMonthEnd(tick time.Time) time.Time {
	y, m := tick.Year(), tick.Month()
	for i := 0; i < 13; i++ {
		if _, ok := e.months[m]; ok {
			return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
		}
		m--
		if m < time.January {
			m = time.December
			y--
		}
	}
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// unitLen is the fixed span of one enclosing unit. Only meaningful for
// the fixed-length frequencies, which all have stepMin set.
func (e *expander) unitLen() time.Duration {
	switch e.freq {
	case model.FreqMinutely:
		return time.Minute
	case model.FreqHourly:
		return time.Hour
	case model.FreqDaily:
		return 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// ticksUntil returns how many ticks to advance from tick so the next one
// lands at or past target. Sub saturates on multi-century gaps, which
// just splits one jump into a few. Always at least 1.
func (e *expander) ticksUntil(tick, target time.Time) int64 {
	if e.stepMin <= 0 {
		return 1
	}
	diff := target.Sub(tick)
	if diff <= 0 {
		return 1
	}
	step := time.Duration(e.stepMin) * time.Minute
	n := int64(diff / step)
	if tick.Add(time.Duration(n)*step).Before(target) {
		n++
	}
	if n < 1 {
		n = 1
	}
	return n
}

// ticksBack returns how many ticks to retreat from tick so the previous
// one lands strictly before target. Always at least 1.
func (e *expander) ticksBack(tick, target time.Time) int64 {
	if e.stepMin <= 0 {
		return 1
	}
	diff := tick.Sub(target)
	step := time.Duration(e.stepMin) * time.Minute
	n := int64(diff/step) + 1
	if n < 1 {
		n = 1
	}
	return n
}

// trapped detects rules whose tick phase can never satisfy the
// restrictions, so expansion would otherwise scan to the year bound for
// nothing. Example: minutely, interval 2, anchored on an even minute,
// by-minutes all odd.
func (e *expander) trapped() bool {
	switch e.freq {
	case model.FreqMinutely, model.FreqHourly:
		if len(e.hours) == 0 && (e.freq == model.FreqHourly || len(e.minutes) == 0) {
			return false
		}
		g := gcd64(e.stepMin, 24*60)
		base := int64(e.anchor.Hour())*60 + int64(e.anchor.Minute())
		for j := int64(0); j*g < 24*60; j++ {
			tod := (base + j*g) % (24 * 60)
			h, m := int(tod/60), int(tod%60)
			if len(e.hours) > 0 && !containsInt(e.hours, h) {
				continue
			}
			if e.freq == model.FreqMinutely && len(e.minutes) > 0 && !containsInt(e.minutes, m) {
				continue
			}
			return false
		}
		return true
	case model.FreqDaily:
		if len(e.weekdays) == 0 {
			return false
		}
		g := gcd64(e.stepMin/(24*60), 7)
		base := int64(mondayOffset(e.anchor.Weekday()))
		for j := int64(0); j*g < 7; j++ {
			wd := time.Weekday((int((base+j*g)%7) + 1) % 7)
			if _, ok := e.weekdays[wd]; ok {
				return false
			}
		}
		return true
	case model.FreqMonthly:
		if len(e.months) == 0 {
			return false
		}
		g := gcd64(int64(e.monthStep), 12)
		base := int64(e.anchor.Month() - 1)
		for j := int64(0); j*g < 12; j++ {
			m := time.Month((base+j*g)%12 + 1)
			if _, ok := e.months[m]; ok {
				return false
			}
		}
		return true
	}
	return false
}

// mondayOffset maps a weekday to its distance from Monday, the start of
// the week here.
func mondayOffset(d time.Weekday) int {
	return (int(d) + 6) % 7
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// addMonthsClamped shifts t by whole months keeping the day-of-month,
// clamped to the last day of shorter target months.
func addMonthsClamped(t time.Time, months int) time.Time {
	y := t.Year()
	mo := int(t.Month()) - 1 + months
	y += mo / 12
	mo %= 12
	if mo < 0 {
		mo += 12
		y--
	}
	m := time.Month(mo + 1)
	d := t.Day()
	if dim := daysIn(y, m); d > dim {
		d = dim
	}
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func gcd64(a, b int64) int64 {
	if a < 0 {
		a = -a
	}
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
