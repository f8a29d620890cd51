package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/griddispatch/core/model"
	"github.com/kilianp07/griddispatch/core/recurrence"
)

// rruleOptions collects the rule flags so the rule construction stays
// testable without cobra.
type rruleOptions struct {
	Freq        string
	Interval    int
	Count       uint32
	Until       string
	ByMinutes   []int
	ByHours     []int
	ByWeekdays  []string
	ByMonthdays []int
	ByMonths    []int
}

// rule builds and validates the recurrence rule the flags describe.
func (o rruleOptions) rule() (*model.RecurrenceRule, error) {
	freq, err := model.ParseFrequency(strings.ToLower(o.Freq))
	if err != nil {
		return nil, err
	}
	r := &model.RecurrenceRule{
		Freq:        freq,
		Interval:    o.Interval,
		ByMinutes:   o.ByMinutes,
		ByHours:     o.ByHours,
		ByMonthdays: o.ByMonthdays,
	}
	if o.Count > 0 && o.Until != "" {
		return nil, fmt.Errorf("count and until are mutually exclusive")
	}
	if o.Count > 0 {
		r.End = model.EndCount(o.Count)
	}
	if o.Until != "" {
		t, err := time.Parse(time.RFC3339, o.Until)
		if err != nil {
			return nil, fmt.Errorf("bad until instant: %w", err)
		}
		r.End = model.EndUntil(t.UTC())
	}
	for _, n := range o.ByWeekdays {
		d, err := model.ParseWeekday(strings.ToLower(n))
		if err != nil {
			return nil, err
		}
		r.ByWeekdays = append(r.ByWeekdays, d)
	}
	for _, m := range o.ByMonths {
		r.ByMonths = append(r.ByMonths, time.Month(m))
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

var (
	rruleOpts     rruleOptions
	rruleStart    string
	rruleDuration time.Duration
	rruleMax      int
)

var rruleCmd = &cobra.Command{
	Use:   "rrule",
	Short: "Preview the occurrences of a recurrence rule",
	RunE:  runRrule,
}

func init() {
	f := rruleCmd.Flags()
	f.StringVar(&rruleOpts.Freq, "freq", "", "frequency: minutely, hourly, daily, weekly, monthly or yearly")
	f.IntVar(&rruleOpts.Interval, "interval", 1, "ticks between occurrences")
	f.Uint32Var(&rruleOpts.Count, "count", 0, "stop after this many occurrences")
	f.StringVar(&rruleOpts.Until, "until", "", "stop at this RFC3339 instant")
	f.IntSliceVar(&rruleOpts.ByMinutes, "by-minutes", nil, "restrict to these minutes (0-59)")
	f.IntSliceVar(&rruleOpts.ByHours, "by-hours", nil, "restrict to these hours (0-23)")
	f.StringSliceVar(&rruleOpts.ByWeekdays, "by-weekdays", nil, "restrict to these weekdays (monday..sunday)")
	f.IntSliceVar(&rruleOpts.ByMonthdays, "by-monthdays", nil, "restrict to these month days (1..31, negative from month end)")
	f.IntSliceVar(&rruleOpts.ByMonths, "by-months", nil, "restrict to these months (1-12)")
	f.StringVar(&rruleStart, "start", "", "anchor instant, RFC3339 (default now)")
	f.DurationVar(&rruleDuration, "duration", 0, "occurrence duration used for the end-time estimate")
	f.IntVar(&rruleMax, "max", 10, "occurrences to preview")
	_ = rruleCmd.MarkFlagRequired("freq")
	rootCmd.AddCommand(rruleCmd)
}

func runRrule(cmd *cobra.Command, args []string) error {
	start := time.Now().UTC().Truncate(time.Minute)
	if rruleStart != "" {
		t, err := time.Parse(time.RFC3339, rruleStart)
		if err != nil {
			return fmt.Errorf("bad start instant: %w", err)
		}
		start = t.UTC()
	}
	rule, err := rruleOpts.rule()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	it := recurrence.Expand(rule, start)
	n := 0
	for n < rruleMax {
		o, ok := it.Next()
		if !ok {
			break
		}
		fmt.Fprintln(out, o.Format(time.RFC3339))
		n++
	}
	if n == 0 {
		fmt.Fprintln(out, "no occurrences")
	}
	if end := recurrence.EndTime(start, rruleDuration, rule); end.IsZero() {
		fmt.Fprintln(out, "end: unbounded")
	} else {
		fmt.Fprintf(out, "end: %s\n", end.Format(time.RFC3339))
	}
	return nil
}
