package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ivlev/topic2video/internal/asset"
	"github.com/ivlev/topic2video/internal/scene"
)

func newParseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <script-file>",
		Short: "Show how a script splits into scenes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			scenes, dropped := scene.ParseWithReport(string(data))
			out := cmd.OutOrStdout()

			if len(scenes) == 0 {
				fmt.Fprintln(out, "No scenes found.")
			} else {
				rows := make([][]string, 0, len(scenes))
				for _, s := range scenes {
					prompt, generic := asset.Sanitize(s.VisualDescription)
					substituted := ""
					if generic {
						substituted = "yes"
					}
					rows = append(rows, []string{
						fmt.Sprint(s.Index),
						fmt.Sprintf("%.0f", s.Start),
						fmt.Sprintf("%.0f", s.End),
						s.Caption,
						prompt,
						substituted,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"#", "Start", "End", "Caption", "Prompt", "Generic"},
					rows,
					[]columnAlignment{alignRight, alignRight, alignRight, alignLeft, alignLeft, alignLeft},
				))
			}

			if len(dropped) > 0 {
				rows := make([][]string, 0, len(dropped))
				for _, d := range dropped {
					rows = append(rows, []string{d.Marker, fmt.Sprint(d.Offset), d.Reason})
				}
				fmt.Fprintln(out, "Dropped segments:")
				fmt.Fprintln(out, renderTable([]string{"Marker", "Offset", "Reason"}, rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft}))
			}
			if len(scenes) == 0 {
				return scene.ErrNoScenes
			}
			return nil
		},
	}
}
