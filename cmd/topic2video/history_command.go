package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ivlev/topic2video/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.History.Enabled || cfg.History.Path == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "Run history is disabled.")
				return nil
			}
			store, err := history.Open(cfg.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}

			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				result := r.Output
				if r.Error != "" {
					result = r.Error
					if r.Stage != "" {
						result = r.Stage + ": " + r.Error
					}
				}
				rows = append(rows, []string{
					humanize.Time(r.CreatedAt),
					r.Topic,
					r.Status,
					fmt.Sprint(r.Scenes),
					fmt.Sprintf("%d/%d/%d", r.Generated, r.CacheHits, r.Fallbacks),
					fmt.Sprintf("%.1fs", r.Duration),
					result,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"When", "Topic", "Status", "Scenes", "Gen/Hit/Fb", "Length", "Result"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}
