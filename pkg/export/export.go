// Package export renders forecast reports for humans and downstream
// tooling.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/griddispatch/core/forecast"
)

// WriteJSON writes the report to w in JSON format.
func WriteJSON(w io.Writer, r *forecast.Report) error {
	enc := json.NewEncoder(w)
	return enc.Encode(r)
}

// WriteCSV writes the per-sample activity series to w with headers.
// The report must carry a series (Options.IncludeSeries).
func WriteCSV(w io.Writer, r *forecast.Report) error {
	if len(r.Series) == 0 {
		return fmt.Errorf("report carries no series")
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"sample_time", "active_dispatches"}); err != nil {
		return err
	}
	for i, n := range r.Series {
		rec := []string{
			r.From.Add(time.Duration(i) * r.Step).Format(time.RFC3339),
			strconv.Itoa(n),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
