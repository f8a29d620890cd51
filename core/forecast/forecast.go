// Package forecast projects dispatch schedules onto a sampling grid and
// aggregates concurrency statistics for capacity review. The projection
// is a pure function of a store snapshot and a window; it shares the
// activation semantics of the tracker without running one.
package forecast

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/griddispatch/core/errs"
	"github.com/kilianp07/griddispatch/core/model"
	"github.com/kilianp07/griddispatch/core/recurrence"
)

// DefaultStep is the sampling resolution when none is configured.
const DefaultStep = time.Minute

// MaxSamples bounds the sample grid so a mistyped horizon cannot eat
// the process.
const MaxSamples = 1 << 20

// Options tune a projection.
type Options struct {
	// Step is the sampling resolution; DefaultStep when non-positive.
	Step time.Duration
	// IncludeDryRun counts rehearsal dispatches as load.
	IncludeDryRun bool
	// IncludeSeries keeps the per-sample counts on the report, for
	// exporters that plot the full curve.
	IncludeSeries bool
}

// Report summarises projected schedule load over one window. Sample
// instants sit at From + i*Step for i in [0, Samples); a dispatch is
// counted at an instant when one of its occurrences covers it.
type Report struct {
	MicrogridID model.MicrogridID `json:"microgrid_id"`
	From        time.Time         `json:"from"`
	To          time.Time         `json:"to"`
	Step        time.Duration     `json:"step"`
	Samples     int               `json:"samples"`

	// Dispatches that contribute at least one active instant.
	Dispatches int `json:"dispatches"`

	PeakActive   int       `json:"peak_active"`
	PeakAt       time.Time `json:"peak_at,omitempty"`
	MeanActive   float64   `json:"mean_active"`
	MedianActive float64   `json:"median_active"`
	P95Active    float64   `json:"p95_active"`

	// ActiveHours is the summed per-dispatch activity inside the
	// window, in hours.
	ActiveHours float64 `json:"active_hours"`

	// Series holds the active count at each sample instant, only when
	// Options.IncludeSeries is set.
	Series []int `json:"series,omitempty"`
}

type interval struct{ a, b time.Time }

// Project samples the activation of every dispatch in the snapshot over
// [from, to). Disabled dispatches never contribute; dry-run dispatches
// only when opted in.
func Project(mg model.MicrogridID, snapshot []model.Dispatch, from, to time.Time, opts Options) (*Report, error) {
	step := opts.Step
	if step <= 0 {
		step = DefaultStep
	}
	from, to = from.UTC(), to.UTC()
	if !to.After(from) {
		return nil, errs.InvalidArgf("forecast window [%v, %v) is empty", from, to)
	}
	n := int((to.Sub(from) + step - 1) / step)
	if n > MaxSamples {
		return nil, errs.InvalidArgf("forecast window needs %d samples, limit is %d", n, MaxSamples)
	}

	r := &Report{MicrogridID: mg, From: from, To: to, Step: step, Samples: n}
	counts := make([]float64, n)

	for i := range snapshot {
		d := &snapshot[i]
		if !d.Active || (d.DryRun && !opts.IncludeDryRun) {
			continue
		}
		busy := busyIntervals(d, from, to)
		if len(busy) == 0 {
			continue
		}
		r.Dispatches++
		for _, iv := range busy {
			mark(counts, from, step, iv)
			r.ActiveHours += iv.b.Sub(iv.a).Hours()
		}
	}

	r.MeanActive = stat.Mean(counts, nil)
	peakIdx := floats.MaxIdx(counts)
	r.PeakActive = int(counts[peakIdx])
	if r.PeakActive > 0 {
		r.PeakAt = from.Add(time.Duration(peakIdx) * step)
	}
	sorted := append([]float64(nil), counts...)
	sort.Float64s(sorted)
	r.MedianActive = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	r.P95Active = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	if opts.IncludeSeries {
		r.Series = make([]int, n)
		for i, c := range counts {
			r.Series[i] = int(c)
		}
	}
	return r, nil
}

// busyIntervals returns the merged spans during which the dispatch is
// active, clamped to [from, to). Overlapping occurrences of one
// dispatch merge into a single span so the dispatch is never counted
// twice at an instant.
func busyIntervals(d *model.Dispatch, from, to time.Time) []interval {
	if d.Duration == 0 {
		first, ok := recurrence.Expand(d.Recurrence, d.StartTime).Next()
		if !ok {
			return nil
		}
		end := to
		if !d.EndTime.IsZero() && d.EndTime.Before(to) {
			end = d.EndTime
		}
		if iv, ok := clamp(interval{a: first, b: end}, from, to); ok {
			return []interval{iv}
		}
		return nil
	}

	// Occurrences starting before the window can still reach into it.
	it := recurrence.ExpandWindow(d.Recurrence, d.StartTime, from.Add(-d.Duration), to)
	var merged []interval
	var cur interval
	have := false
	for {
		o, ok := it.Next()
		if !ok {
			break
		}
		end := o.Add(d.Duration)
		if have && !o.After(cur.b) {
			if end.After(cur.b) {
				cur.b = end
			}
			continue
		}
		if have {
			merged = append(merged, cur)
		}
		cur, have = interval{a: o, b: end}, true
	}
	if have {
		merged = append(merged, cur)
	}

	out := merged[:0]
	for _, iv := range merged {
		if c, ok := clamp(iv, from, to); ok {
			out = append(out, c)
		}
	}
	return out
}

func clamp(iv interval, from, to time.Time) (interval, bool) {
	if iv.a.Before(from) {
		iv.a = from
	}
	if iv.b.After(to) {
		iv.b = to
	}
	if !iv.b.After(iv.a) {
		return interval{}, false
	}
	return iv, true
}

// mark increments every sample instant the interval covers. Instant i
// sits at from + i*step and is covered when a <= t < b.
func mark(counts []float64, from time.Time, step time.Duration, iv interval) {
	i0 := 0
	if iv.a.After(from) {
		i0 = int((iv.a.Sub(from) + step - 1) / step)
	}
	i1 := int((iv.b.Sub(from) + step - 1) / step)
	if i1 > len(counts) {
		i1 = len(counts)
	}
	for i := i0; i < i1; i++ {
		counts[i]++
	}
}
