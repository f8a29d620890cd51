package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/kilianp07/griddispatch/core/forecast"
)

// ChartHTML renders the activity series as a standalone HTML line
// chart. The report must carry a series (Options.IncludeSeries).
func ChartHTML(r *forecast.Report) (string, error) {
	if len(r.Series) == 0 {
		return "", fmt.Errorf("report carries no series")
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Dispatch load, microgrid %d", r.MicrogridID)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Active dispatches"}),
	)

	xAxis := make([]string, len(r.Series))
	yAxis := make([]opts.LineData, len(r.Series))
	for i, n := range r.Series {
		xAxis[i] = r.From.Add(time.Duration(i) * r.Step).Format("2006-01-02 15:04")
		yAxis[i] = opts.LineData{Value: n}
	}
	line.SetXAxis(xAxis).AddSeries("Active", yAxis)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		return "", fmt.Errorf("render chart: %w", err)
	}
	return buf.String(), nil
}
