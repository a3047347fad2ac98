package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ivlev/topic2video/internal/config"
	"github.com/ivlev/topic2video/internal/engine"
	"github.com/ivlev/topic2video/internal/system"
)

type createFlags struct {
	backend      string
	concurrency  int
	scriptFile   string
	audio        string
	outputDir    string
	dryRun       bool
	keepTimeline bool
}

func newCreateCommand(ctx *commandContext) *cobra.Command {
	var flags createFlags

	cmd := &cobra.Command{
		Use:   "create <topic>",
		Short: "Generate a video for a topic",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := flags.apply(cmd, cfg); err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			system.InitResourceLimits(logger)

			pipeline, err := engine.New(cfg, logger)
			if err != nil {
				return err
			}
			defer pipeline.Close()
			pipeline.Options.DryRun = flags.dryRun
			pipeline.Options.KeepTimeline = flags.keepTimeline

			outcome, err := pipeline.Run(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run:       %s\n", outcome.RunID)
			fmt.Fprintf(out, "Scenes:    %d (%d dropped)\n", len(outcome.Scenes), len(outcome.Dropped))
			fmt.Fprintf(out, "Images:    %d generated, %d cached, %d fallback\n",
				outcome.Summary.Generated, outcome.Summary.CacheHits, outcome.Summary.Fallbacks)
			fmt.Fprintf(out, "Narration: %.1fs\n", outcome.Narration.Duration)
			if outcome.TimelinePath != "" {
				fmt.Fprintf(out, "Timeline:  %s\n", outcome.TimelinePath)
			}
			if !flags.dryRun {
				size := ""
				if info, err := os.Stat(outcome.OutputPath); err == nil {
					size = " (" + humanize.Bytes(uint64(info.Size())) + ")"
				}
				fmt.Fprintf(out, "Video:     %s%s\n", outcome.OutputPath, size)
			}
			fmt.Fprintf(out, "Elapsed:   %s\n", outcome.Elapsed.Round(10*time.Millisecond))
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&flags.backend, "backend", "", "Image backend: pollinations, stability, session")
	fs.IntVar(&flags.concurrency, "concurrency", 0, "Parallel image requests")
	fs.StringVar(&flags.scriptFile, "script-file", "", "Use a script file instead of generating one")
	fs.StringVar(&flags.audio, "audio", "", "Use an existing narration file (or the newest audio file in a directory)")
	fs.StringVar(&flags.outputDir, "output-dir", "", "Directory for the finished video")
	fs.BoolVar(&flags.dryRun, "dry-run", false, "Stop after composing the timeline")
	fs.BoolVar(&flags.keepTimeline, "keep-timeline", false, "Write the timeline YAML next to the video")

	return cmd
}

func (f createFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	if f.backend != "" {
		cfg.Assets.Backend = strings.ToLower(f.backend)
	}
	if cmd.Flags().Changed("concurrency") {
		if f.concurrency <= 0 {
			return fmt.Errorf("--concurrency must be positive")
		}
		cfg.Assets.Concurrency = f.concurrency
	}
	if f.scriptFile != "" {
		cfg.Script.Provider, cfg.Script.File = "file", f.scriptFile
	}
	if f.audio != "" {
		cfg.Narration.Provider, cfg.Narration.File = "file", f.audio
	}
	if f.outputDir != "" {
		cfg.Paths.OutputDir = f.outputDir
	}
	return cfg.Validate()
}
