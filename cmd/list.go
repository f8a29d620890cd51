package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/griddispatch/config"
	"github.com/kilianp07/griddispatch/core/model"
	"github.com/kilianp07/griddispatch/core/query"
	"github.com/kilianp07/griddispatch/infra/logger"
)

var (
	listMicrogrid uint64
	listSize      int
	listCursor    string
	listSort      string
	listDesc      bool
	listActive    bool
	listRecurring bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the dispatches of a microgrid",
	RunE:  runList,
}

func init() {
	f := listCmd.Flags()
	f.Uint64Var(&listMicrogrid, "microgrid", 0, "microgrid identifier")
	f.IntVar(&listSize, "size", query.DefaultPageSize, "page size")
	f.StringVar(&listCursor, "cursor", "", "resume from this page cursor")
	f.StringVar(&listSort, "sort", "create_time", "sort key: create_time, start_time, update_time or id")
	f.BoolVar(&listDesc, "desc", false, "sort descending")
	f.BoolVar(&listActive, "only-active", false, "only enabled dispatches")
	f.BoolVar(&listRecurring, "only-recurring", false, "only recurring dispatches")
	_ = listCmd.MarkFlagRequired("microgrid")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	key, ok := query.ParseSortKey(listSort)
	if !ok {
		return fmt.Errorf("unknown sort key %q", listSort)
	}
	ctx := cmd.Context()
	st, err := openStore(ctx, cfg, "list")
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.New("list").Errorf("store close: %v", err)
		}
	}()

	var f query.Filter
	if listActive {
		v := true
		f.Active = &v
	}
	if listRecurring {
		v := true
		f.Recurring = &v
	}
	size := listSize
	if size > cfg.Query.MaxPageSize {
		size = cfg.Query.MaxPageSize
	}

	mg := model.MicrogridID(listMicrogrid)
	page, err := query.List(st.Snapshot(mg), &f, query.SortOptions{Key: key, Descending: listDesc}, query.PageRequest{
		Size:   size,
		Cursor: listCursor,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, d := range page.Dispatches {
		recurring := "-"
		if d.Recurrence != nil {
			recurring = d.Recurrence.Freq.String()
		}
		fmt.Fprintf(out, "%d\t%s\t%s\t%s\t%s\tactive=%v\n",
			d.ID, d.Type, d.StartTime.Format(time.RFC3339), d.Duration, recurring, d.Active)
	}
	fmt.Fprintf(out, "total: %d\n", page.Total)
	if page.NextCursor != "" {
		fmt.Fprintf(out, "next: %s\n", page.NextCursor)
	}
	return nil
}
