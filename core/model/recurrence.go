package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/kilianp07/griddispatch/core/errs"
)

// Frequency is the base unit a recurrence rule repeats on.
type Frequency int

const (
	FreqUnspecified Frequency = iota
	FreqMinutely
	FreqHourly
	FreqDaily
	FreqWeekly
	FreqMonthly
	FreqYearly
)

var freqNames = map[Frequency]string{
	FreqMinutely: "minutely",
	FreqHourly:   "hourly",
	FreqDaily:    "daily",
	FreqWeekly:   "weekly",
	FreqMonthly:  "monthly",
	FreqYearly:   "yearly",
}

// String returns the wire name of the frequency.
func (f Frequency) String() string {
	if n, ok := freqNames[f]; ok {
		return n
	}
	return "unspecified"
}

// ParseFrequency resolves a wire name back to a Frequency.
func ParseFrequency(s string) (Frequency, error) {
	for f, n := range freqNames {
		if n == s {
			return f, nil
		}
	}
	return FreqUnspecified, errs.InvalidArgf("unknown frequency %q", s)
}

// MaxEndCount caps how many occurrences a counted rule may produce.
const MaxEndCount = 4096

// MaxInterval caps the tick spacing so schedule arithmetic stays bounded.
const MaxInterval = 1_000_000

// EndCriteria bounds a recurrence rule: repeat a fixed number of times or
// until a cutoff instant. Nil means the rule repeats forever.
type EndCriteria interface{ isEnd() }

// EndCount ends the rule after that many occurrences, the first included.
type EndCount uint32

// EndUntil ends the rule at the cutoff: occurrences at or after it are
// not produced.
type EndUntil time.Time

func (EndCount) isEnd() {}
func (EndUntil) isEnd() {}

// RecurrenceRule describes how a dispatch repeats after its first start.
// The zero restriction lists leave the corresponding component of each
// tick unchanged; non-empty lists expand each tick into the matching
// instants inside its calendar unit.
type RecurrenceRule struct {
	Freq     Frequency
	Interval int
	End      EndCriteria

	ByMinutes   []int            // 0..59
	ByHours     []int            // 0..23
	ByWeekdays  []time.Weekday   // weeks start on Monday
	ByMonthdays []int            // 1..31 or -31..-1, counted from month end
	ByMonths    []time.Month     // 1..12
}

// Validate rejects malformed rules with InvalidArgument.
func (r *RecurrenceRule) Validate() error {
	if r == nil {
		return nil
	}
	if _, ok := freqNames[r.Freq]; !ok {
		return errs.InvalidArgf("recurrence: frequency is required")
	}
	if r.Interval < 1 || r.Interval > MaxInterval {
		return errs.InvalidArgf("recurrence: interval must be in [1, %d], got %d", MaxInterval, r.Interval)
	}
	switch e := r.End.(type) {
	case nil:
	case EndCount:
		if e < 1 || e > MaxEndCount {
			return errs.InvalidArgf("recurrence: count must be in [1, %d], got %d", MaxEndCount, e)
		}
	case EndUntil:
		if time.Time(e).IsZero() {
			return errs.InvalidArgf("recurrence: until must be a valid instant")
		}
	default:
		return errs.InvalidArgf("recurrence: unsupported end criteria %T", r.End)
	}
	for _, m := range r.ByMinutes {
		if m < 0 || m > 59 {
			return errs.InvalidArgf("recurrence: by_minutes value %d out of range [0, 59]", m)
		}
	}
	for _, h := range r.ByHours {
		if h < 0 || h > 23 {
			return errs.InvalidArgf("recurrence: by_hours value %d out of range [0, 23]", h)
		}
	}
	for _, d := range r.ByWeekdays {
		if d < time.Sunday || d > time.Saturday {
			return errs.InvalidArgf("recurrence: by_weekdays value %d out of range", d)
		}
	}
	for _, d := range r.ByMonthdays {
		if d == 0 || d < -31 || d > 31 {
			return errs.InvalidArgf("recurrence: by_monthdays value %d out of range [-31, 31] excluding 0", d)
		}
	}
	if len(r.ByMonthdays) > 0 && r.Freq == FreqWeekly {
		return errs.InvalidArgf("recurrence: by_monthdays cannot be combined with weekly frequency")
	}
	for _, m := range r.ByMonths {
		if m < time.January || m > time.December {
			return errs.InvalidArgf("recurrence: by_months value %d out of range [1, 12]", m)
		}
	}
	return nil
}

// Clone returns a deep copy, nil stays nil.
func (r *RecurrenceRule) Clone() *RecurrenceRule {
	if r == nil {
		return nil
	}
	out := &RecurrenceRule{
		Freq:     r.Freq,
		Interval: r.Interval,
		End:      r.End,
	}
	if len(r.ByMinutes) > 0 {
		out.ByMinutes = append([]int(nil), r.ByMinutes...)
	}
	if len(r.ByHours) > 0 {
		out.ByHours = append([]int(nil), r.ByHours...)
	}
	if len(r.ByWeekdays) > 0 {
		out.ByWeekdays = append([]time.Weekday(nil), r.ByWeekdays...)
	}
	if len(r.ByMonthdays) > 0 {
		out.ByMonthdays = append([]int(nil), r.ByMonthdays...)
	}
	if len(r.ByMonths) > 0 {
		out.ByMonths = append([]time.Month(nil), r.ByMonths...)
	}
	return out
}

// recurrenceEnvelope is the stored/wire form of a rule. End criteria are
// flattened: at most one of count/until is set.
type recurrenceEnvelope struct {
	Freq        string   `json:"freq"`
	Interval    int      `json:"interval"`
	Count       *uint32  `json:"count,omitempty"`
	Until       *string  `json:"until,omitempty"`
	ByMinutes   []int    `json:"by_minutes,omitempty"`
	ByHours     []int    `json:"by_hours,omitempty"`
	ByWeekdays  []string `json:"by_weekdays,omitempty"`
	ByMonthdays []int    `json:"by_monthdays,omitempty"`
	ByMonths    []int    `json:"by_months,omitempty"`
}

var weekdayNames = map[time.Weekday]string{
	time.Monday:    "monday",
	time.Tuesday:   "tuesday",
	time.Wednesday: "wednesday",
	time.Thursday:  "thursday",
	time.Friday:    "friday",
	time.Saturday:  "saturday",
	time.Sunday:    "sunday",
}

// ParseWeekday resolves a wire name back to a weekday.
func ParseWeekday(s string) (time.Weekday, error) {
	for d, n := range weekdayNames {
		if n == s {
			return d, nil
		}
	}
	return 0, errs.InvalidArgf("unknown weekday %q", s)
}

// MarshalJSON encodes the rule as its envelope.
func (r *RecurrenceRule) MarshalJSON() ([]byte, error) {
	env := recurrenceEnvelope{
		Freq:        r.Freq.String(),
		Interval:    r.Interval,
		ByMinutes:   r.ByMinutes,
		ByHours:     r.ByHours,
		ByMonthdays: r.ByMonthdays,
	}
	switch e := r.End.(type) {
	case EndCount:
		c := uint32(e)
		env.Count = &c
	case EndUntil:
		u := time.Time(e).UTC().Format(time.RFC3339Nano)
		env.Until = &u
	}
	if len(r.ByWeekdays) > 0 {
		env.ByWeekdays = make([]string, len(r.ByWeekdays))
		for i, d := range r.ByWeekdays {
			env.ByWeekdays[i] = weekdayNames[d]
		}
	}
	if len(r.ByMonths) > 0 {
		env.ByMonths = make([]int, len(r.ByMonths))
		for i, m := range r.ByMonths {
			env.ByMonths[i] = int(m)
		}
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes the envelope back into the rule.
func (r *RecurrenceRule) UnmarshalJSON(b []byte) error {
	var env recurrenceEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return fmt.Errorf("unmarshal recurrence: %w", err)
	}
	freq, err := ParseFrequency(env.Freq)
	if err != nil {
		return err
	}
	out := RecurrenceRule{
		Freq:        freq,
		Interval:    env.Interval,
		ByMinutes:   env.ByMinutes,
		ByHours:     env.ByHours,
		ByMonthdays: env.ByMonthdays,
	}
	if env.Count != nil && env.Until != nil {
		return errs.InvalidArgf("recurrence: count and until are mutually exclusive")
	}
	if env.Count != nil {
		out.End = EndCount(*env.Count)
	}
	if env.Until != nil {
		t, err := time.Parse(time.RFC3339Nano, *env.Until)
		if err != nil {
			return errs.InvalidArgf("recurrence: bad until instant: %v", err)
		}
		out.End = EndUntil(t.UTC())
	}
	if len(env.ByWeekdays) > 0 {
		out.ByWeekdays = make([]time.Weekday, len(env.ByWeekdays))
		for i, n := range env.ByWeekdays {
			d, err := ParseWeekday(n)
			if err != nil {
				return err
			}
			out.ByWeekdays[i] = d
		}
	}
	if len(env.ByMonths) > 0 {
		out.ByMonths = make([]time.Month, len(env.ByMonths))
		for i, m := range env.ByMonths {
			out.ByMonths[i] = time.Month(m)
		}
	}
	*r = out
	return nil
}

// NormalizedMinutes returns the sorted, deduplicated by-minute list.
func (r *RecurrenceRule) NormalizedMinutes() []int { return normInts(r.ByMinutes) }

// NormalizedHours returns the sorted, deduplicated by-hour list.
func (r *RecurrenceRule) NormalizedHours() []int { return normInts(r.ByHours) }

// NormalizedMonthdays returns the sorted, deduplicated by-monthday list.
func (r *RecurrenceRule) NormalizedMonthdays() []int { return normInts(r.ByMonthdays) }

func normInts(in []int) []int {
	if len(in) == 0 {
		return nil
	}
	out := append([]int(nil), in...)
	sort.Ints(out)
	n := 0
	for i, v := range out {
		if i == 0 || v != out[n-1] {
			out[n] = v
			n++
		}
	}
	return out[:n]
}
