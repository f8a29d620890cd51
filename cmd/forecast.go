package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/griddispatch/app"
	"github.com/kilianp07/griddispatch/config"
	"github.com/kilianp07/griddispatch/core/events"
	"github.com/kilianp07/griddispatch/core/forecast"
	"github.com/kilianp07/griddispatch/core/model"
	"github.com/kilianp07/griddispatch/core/store"
	"github.com/kilianp07/griddispatch/infra/logger"
	"github.com/kilianp07/griddispatch/internal/eventbus"
	"github.com/kilianp07/griddispatch/pkg/export"
)

var (
	forecastMicrogrid uint64
	forecastFrom      string
	forecastHorizon   time.Duration
	forecastStep      time.Duration
	forecastDryRun    bool
	forecastJSON      bool
	forecastCSV       string
	forecastChart     string
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Project schedule load for a microgrid",
	RunE:  runForecast,
}

func init() {
	f := forecastCmd.Flags()
	f.Uint64Var(&forecastMicrogrid, "microgrid", 0, "microgrid identifier")
	f.StringVar(&forecastFrom, "from", "", "window start, RFC3339 (default now)")
	f.DurationVar(&forecastHorizon, "horizon", 24*time.Hour, "window length")
	f.DurationVar(&forecastStep, "step", forecast.DefaultStep, "sampling resolution")
	f.BoolVar(&forecastDryRun, "include-dry-run", false, "count rehearsal dispatches as load")
	f.BoolVar(&forecastJSON, "json", false, "print the report as JSON")
	f.StringVar(&forecastCSV, "csv", "", "write the sample series to this CSV file")
	f.StringVar(&forecastChart, "chart", "", "write an HTML load chart to this file")
	_ = forecastCmd.MarkFlagRequired("microgrid")
	rootCmd.AddCommand(forecastCmd)
}

// openStore loads the configured backend for offline inspection.
func openStore(ctx context.Context, cfg *config.Config, component string) (*store.Store, error) {
	backend, err := app.NewBackend(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("store backend: %w", err)
	}
	bus := eventbus.New[model.MicrogridID, events.Event](cfg.Bus.Buffer)
	st, err := store.New(ctx, backend, bus, logger.New(component))
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return st, nil
}

func runForecast(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := cmd.Context()
	st, err := openStore(ctx, cfg, "forecast")
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.New("forecast").Errorf("store close: %v", err)
		}
	}()

	from := time.Now().UTC()
	if forecastFrom != "" {
		t, err := time.Parse(time.RFC3339, forecastFrom)
		if err != nil {
			return fmt.Errorf("bad from instant: %w", err)
		}
		from = t.UTC()
	}
	mg := model.MicrogridID(forecastMicrogrid)
	rep, err := forecast.Project(mg, st.Snapshot(mg), from, from.Add(forecastHorizon), forecast.Options{
		Step:          forecastStep,
		IncludeDryRun: forecastDryRun,
		IncludeSeries: forecastCSV != "" || forecastChart != "",
	})
	if err != nil {
		return err
	}
	if forecastCSV != "" {
		if err := writeForecastCSV(forecastCSV, rep); err != nil {
			return err
		}
	}
	if forecastChart != "" {
		if err := writeForecastChart(forecastChart, rep); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if forecastJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	fmt.Fprintf(out, "microgrid:  %d\n", rep.MicrogridID)
	fmt.Fprintf(out, "window:     %s .. %s (step %s)\n",
		rep.From.Format(time.RFC3339), rep.To.Format(time.RFC3339), rep.Step)
	fmt.Fprintf(out, "dispatches: %d\n", rep.Dispatches)
	if rep.PeakActive > 0 {
		fmt.Fprintf(out, "peak:       %d active at %s\n", rep.PeakActive, rep.PeakAt.Format(time.RFC3339))
	} else {
		fmt.Fprintf(out, "peak:       none\n")
	}
	fmt.Fprintf(out, "mean:       %.2f active\n", rep.MeanActive)
	fmt.Fprintf(out, "median/p95: %.0f / %.0f\n", rep.MedianActive, rep.P95Active)
	fmt.Fprintf(out, "total:      %.1f dispatch-hours\n", rep.ActiveHours)
	return nil
}

func writeForecastCSV(path string, rep *forecast.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	if err := export.WriteCSV(f, rep); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeForecastChart(path string, rep *forecast.Report) error {
	html, err := export.ChartHTML(rep)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(html), 0644)
}
