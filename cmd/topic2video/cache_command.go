package main

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ivlev/topic2video/internal/asset"
	"github.com/ivlev/topic2video/internal/engine"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the image cache",
	}
	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	return cacheCmd
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show image cache usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cache, err := engine.OpenCache(cfg)
			if err != nil {
				return err
			}
			stats, err := cache.Stats()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Directory: %s\n", stats.Dir)
			fmt.Fprintf(out, "Entries:   %d\n", stats.Entries)
			fmt.Fprintf(out, "Size:      %s\n", humanize.Bytes(uint64(stats.TotalBytes)))
			if stats.Entries == 0 {
				return nil
			}
			fmt.Fprintf(out, "Oldest:    %s\n", humanize.Time(stats.Oldest))
			fmt.Fprintf(out, "Newest:    %s\n", humanize.Time(stats.Newest))

			backends := make([]string, 0, len(stats.PerBackend))
			for b := range stats.PerBackend {
				backends = append(backends, string(b))
			}
			sort.Strings(backends)
			rows := make([][]string, 0, len(backends))
			for _, b := range backends {
				rows = append(rows, []string{b, humanize.Comma(int64(stats.PerBackend[asset.Backend(b)]))})
			}
			fmt.Fprintln(out, renderTable([]string{"Backend", "Entries"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
}
