package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/kilianp07/griddispatch/core/forecast"
)

func sampleReport() *forecast.Report {
	from := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	return &forecast.Report{
		MicrogridID: 3,
		From:        from,
		To:          from.Add(4 * time.Minute),
		Step:        time.Minute,
		Samples:     4,
		Dispatches:  2,
		PeakActive:  2,
		PeakAt:      from.Add(time.Minute),
		Series:      []int{1, 2, 1, 0},
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sampleReport()); err != nil {
		t.Fatalf("write json: %v", err)
	}
	var got forecast.Report
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.MicrogridID != 3 || got.PeakActive != 2 || len(got.Series) != 4 {
		t.Fatalf("round trip lost fields: %+v", got)
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleReport()); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("got %d rows, want header + 4", len(rows))
	}
	if rows[0][0] != "sample_time" || rows[0][1] != "active_dispatches" {
		t.Fatalf("header = %v", rows[0])
	}
	if rows[2][0] != "2026-06-01T00:01:00Z" || rows[2][1] != "2" {
		t.Fatalf("row = %v", rows[2])
	}
}

func TestWriteCSVNeedsSeries(t *testing.T) {
	r := sampleReport()
	r.Series = nil
	if err := WriteCSV(&bytes.Buffer{}, r); err == nil {
		t.Fatal("expected error without series")
	}
}

func TestChartHTML(t *testing.T) {
	html, err := ChartHTML(sampleReport())
	if err != nil {
		t.Fatalf("chart: %v", err)
	}
	if !strings.Contains(html, "Dispatch load, microgrid 3") {
		t.Fatalf("chart html missing title")
	}
	if !strings.Contains(html, "echarts") {
		t.Fatalf("chart html missing library reference")
	}
}

func TestChartHTMLNeedsSeries(t *testing.T) {
	r := sampleReport()
	r.Series = nil
	if _, err := ChartHTML(r); err == nil {
		t.Fatal("expected error without series")
	}
}
