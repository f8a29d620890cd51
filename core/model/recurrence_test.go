package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kilianp07/griddispatch/core/errs"
)

func TestRecurrenceValidate(t *testing.T) {
	cases := []struct {
		name string
		rule RecurrenceRule
		ok   bool
	}{
		{"minimal daily", RecurrenceRule{Freq: FreqDaily, Interval: 1}, true},
		{"unspecified freq", RecurrenceRule{Interval: 1}, false},
		{"zero interval", RecurrenceRule{Freq: FreqHourly}, false},
		{"count low", RecurrenceRule{Freq: FreqDaily, Interval: 1, End: EndCount(0)}, false},
		{"count high", RecurrenceRule{Freq: FreqDaily, Interval: 1, End: EndCount(MaxEndCount + 1)}, false},
		{"count max", RecurrenceRule{Freq: FreqDaily, Interval: 1, End: EndCount(MaxEndCount)}, true},
		{"zero until", RecurrenceRule{Freq: FreqDaily, Interval: 1, End: EndUntil(time.Time{})}, false},
		{"minute range", RecurrenceRule{Freq: FreqHourly, Interval: 1, ByMinutes: []int{60}}, false},
		{"hour range", RecurrenceRule{Freq: FreqDaily, Interval: 1, ByHours: []int{24}}, false},
		{"monthday zero", RecurrenceRule{Freq: FreqMonthly, Interval: 1, ByMonthdays: []int{0}}, false},
		{"monthday negative", RecurrenceRule{Freq: FreqMonthly, Interval: 1, ByMonthdays: []int{-1}}, true},
		{"monthday oob", RecurrenceRule{Freq: FreqMonthly, Interval: 1, ByMonthdays: []int{32}}, false},
		{"weekly with monthdays", RecurrenceRule{Freq: FreqWeekly, Interval: 1, ByMonthdays: []int{5}}, false},
		{"month range", RecurrenceRule{Freq: FreqYearly, Interval: 1, ByMonths: []time.Month{13}}, false},
	}
	for _, c := range cases {
		err := c.rule.Validate()
		if c.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", c.name, err)
		}
		if !c.ok {
			if !errs.IsInvalidArgument(err) {
				t.Fatalf("%s: expected invalid argument, got %v", c.name, err)
			}
		}
	}
}

func TestRecurrenceNilValidates(t *testing.T) {
	var r *RecurrenceRule
	if err := r.Validate(); err != nil {
		t.Fatalf("nil rule must validate, got %v", err)
	}
}

func TestRecurrenceJSONRoundTripCount(t *testing.T) {
	in := RecurrenceRule{
		Freq:       FreqWeekly,
		Interval:   2,
		End:        EndCount(10),
		ByWeekdays: []time.Weekday{time.Monday, time.Friday},
		ByHours:    []int{8, 18},
	}
	b, err := json.Marshal(&in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out RecurrenceRule
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Freq != FreqWeekly || out.Interval != 2 {
		t.Fatalf("freq/interval lost: %+v", out)
	}
	if c, ok := out.End.(EndCount); !ok || c != 10 {
		t.Fatalf("end count lost: %#v", out.End)
	}
	if len(out.ByWeekdays) != 2 || out.ByWeekdays[0] != time.Monday || out.ByWeekdays[1] != time.Friday {
		t.Fatalf("weekdays lost: %v", out.ByWeekdays)
	}
	if len(out.ByHours) != 2 || out.ByHours[0] != 8 {
		t.Fatalf("hours lost: %v", out.ByHours)
	}
}

func TestRecurrenceJSONRoundTripUntil(t *testing.T) {
	until := time.Date(2035, 6, 1, 12, 0, 0, 0, time.UTC)
	in := RecurrenceRule{Freq: FreqDaily, Interval: 1, End: EndUntil(until)}
	b, err := json.Marshal(&in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out RecurrenceRule
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	u, ok := out.End.(EndUntil)
	if !ok {
		t.Fatalf("end until lost: %#v", out.End)
	}
	if !time.Time(u).Equal(until) {
		t.Fatalf("until changed: got %v want %v", time.Time(u), until)
	}
}

func TestRecurrenceJSONRejectsCountAndUntil(t *testing.T) {
	raw := []byte(`{"freq":"daily","interval":1,"count":3,"until":"2030-01-01T00:00:00Z"}`)
	var out RecurrenceRule
	err := json.Unmarshal(raw, &out)
	if !errs.IsInvalidArgument(err) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestRecurrenceCloneIsIndependent(t *testing.T) {
	orig := &RecurrenceRule{Freq: FreqDaily, Interval: 1, ByHours: []int{6}}
	clone := orig.Clone()
	clone.ByHours[0] = 23
	clone.Interval = 9
	if orig.ByHours[0] != 6 || orig.Interval != 1 {
		t.Fatalf("clone mutated the original: %+v", orig)
	}
	var nilRule *RecurrenceRule
	if nilRule.Clone() != nil {
		t.Fatalf("nil clone must stay nil")
	}
}

func TestNormalizedListsSortAndDedup(t *testing.T) {
	r := RecurrenceRule{ByMinutes: []int{30, 0, 30, 15}}
	got := r.NormalizedMinutes()
	want := []int{0, 15, 30}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}
