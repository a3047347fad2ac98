// Package engine runs one topic through script, narration, assets,
// composition and rendering.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ivlev/topic2video/internal/asset"
	"github.com/ivlev/topic2video/internal/history"
	"github.com/ivlev/topic2video/internal/logging"
	"github.com/ivlev/topic2video/internal/narration"
	"github.com/ivlev/topic2video/internal/pool"
	"github.com/ivlev/topic2video/internal/scene"
	"github.com/ivlev/topic2video/internal/script"
	"github.com/ivlev/topic2video/internal/timeline"
	"github.com/ivlev/topic2video/internal/video"
)

// Stage names the pipeline step an error came from.
type Stage string

const (
	StageScript      Stage = "script"
	StageNarration   Stage = "narration"
	StageComposition Stage = "composition"
	StageRender      Stage = "render"
)

// StageError wraps a failure with the stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// Options are per-pipeline switches.
type Options struct {
	OutputDir    string
	TempDir      string
	Backend      asset.Backend
	Concurrency  int
	KeepTimeline bool
	// DryRun stops after composition; nothing is rendered.
	DryRun bool
}

// Pipeline wires the collaborators for video creation. A Pipeline may run
// several topics; all per-run state lives in Outcome.
type Pipeline struct {
	Script    script.Provider
	Narration narration.Provider
	Resolver  pool.Resolver
	Renderer  video.Renderer
	History   history.Recorder
	Options   Options
	Logger    *slog.Logger

	now func() time.Time
}

// Outcome is everything a run produced.
type Outcome struct {
	RunID        string
	Topic        string
	OutputPath   string
	TimelinePath string
	Scenes       []scene.Scene
	Dropped      []scene.Dropped
	Narration    narration.Track
	Results      map[int]asset.Result
	Summary      pool.Summary
	Timeline     *timeline.Timeline
	Elapsed      time.Duration
}

// Run creates a video for topic.
func (p *Pipeline) Run(ctx context.Context, topic string) (*Outcome, error) {
	start := p.clock()
	out := &Outcome{RunID: uuid.NewString(), Topic: strings.TrimSpace(topic)}
	logger := logging.Component(p.Logger, "pipeline").With(slog.String("run_id", out.RunID))

	err := p.run(ctx, out, logger)
	out.Elapsed = p.clock().Sub(start)
	p.record(ctx, out, err, logger)
	if err != nil {
		logger.Error("run failed", slog.String("error", err.Error()))
		return out, err
	}
	logger.Info("run finished",
		slog.String("output", out.OutputPath),
		slog.Duration("elapsed", out.Elapsed),
		slog.Any("assets", out.Summary),
	)
	return out, nil
}

func (p *Pipeline) run(ctx context.Context, out *Outcome, logger *slog.Logger) error {
	if out.Topic == "" {
		return stageErr(StageScript, errors.New("empty topic"))
	}
	logger.Info("starting run", slog.String("topic", out.Topic))

	text, err := p.Script.Script(ctx, out.Topic)
	if err != nil {
		return stageErr(StageScript, err)
	}
	out.Scenes, out.Dropped = scene.ParseWithReport(text)
	for _, d := range out.Dropped {
		logger.Warn("dropped script segment",
			slog.String("marker", d.Marker),
			slog.Int("offset", d.Offset),
			slog.String("reason", d.Reason),
		)
	}
	if len(out.Scenes) == 0 {
		return stageErr(StageScript, scene.ErrNoScenes)
	}
	logger.Info("script parsed", slog.Int("scenes", len(out.Scenes)), slog.Int("dropped", len(out.Dropped)))

	workDir := filepath.Join(p.Options.TempDir, out.RunID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return stageErr(StageNarration, err)
	}
	// Successful dry or keep-timeline runs keep the narration audio.
	keep, done := p.Options.DryRun || p.Options.KeepTimeline, false
	defer func() {
		if keep && done {
			logger.Info("keeping narration", slog.String("path", out.Narration.Path))
			return
		}
		os.RemoveAll(workDir)
		if strings.HasPrefix(out.Narration.Path, workDir+string(filepath.Separator)) {
			out.Narration.Path = ""
		}
	}()

	track, err := p.Narration.Narrate(ctx, scene.FullText(out.Scenes), workDir)
	if err != nil {
		return stageErr(StageNarration, err)
	}
	if track.Duration <= 0 {
		return stageErr(StageNarration, fmt.Errorf("%w: %.3fs", narration.ErrEmptyAudio, track.Duration))
	}
	out.Narration = track
	logger.Info("narration ready", slog.String("path", track.Path), slog.Float64("seconds", track.Duration))

	reqs := make([]asset.Request, len(out.Scenes))
	for i, sc := range out.Scenes {
		reqs[i] = asset.NewRequest(sc.Index, sc.VisualDescription, p.Options.Backend)
	}
	out.Results = pool.ResolveAll(ctx, p.Resolver, reqs, p.Options.Concurrency, logger)
	out.Summary = pool.Summarize(out.Results)
	logger.Info("assets resolved", slog.Any("assets", out.Summary))

	out.Timeline, err = timeline.Compose(out.Scenes, out.Results, track.Duration, p.Resolver.FallbackPath())
	if err != nil {
		return stageErr(StageComposition, err)
	}

	out.OutputPath = OutputPath(p.Options.OutputDir, out.Topic)
	if p.Options.KeepTimeline || p.Options.DryRun {
		out.TimelinePath = strings.TrimSuffix(out.OutputPath, filepath.Ext(out.OutputPath)) + ".timeline.yaml"
		if err := os.MkdirAll(filepath.Dir(out.TimelinePath), 0o755); err != nil {
			return stageErr(StageComposition, err)
		}
		if err := timeline.Write(out.Timeline, out.TimelinePath); err != nil {
			return stageErr(StageComposition, err)
		}
	}
	if p.Options.DryRun {
		logger.Info("dry run, skipping render", slog.String("timeline", out.TimelinePath))
		done = true
		return nil
	}

	path, err := p.Renderer.Render(ctx, out.Timeline, track.Path, out.OutputPath)
	if err != nil {
		return stageErr(StageRender, err)
	}
	out.OutputPath = path
	done = true
	return nil
}

func (p *Pipeline) record(ctx context.Context, out *Outcome, runErr error, logger *slog.Logger) {
	if p.History == nil {
		return
	}
	row := history.Run{
		ID:        out.RunID,
		Topic:     out.Topic,
		Scenes:    len(out.Scenes),
		Generated: out.Summary.Generated,
		CacheHits: out.Summary.CacheHits,
		Fallbacks: out.Summary.Fallbacks,
		Duration:  out.Narration.Duration,
		Status:    history.StatusSucceeded,
		CreatedAt: p.clock(),
	}
	switch {
	case runErr != nil:
		row.Status, row.Error = history.StatusFailed, runErr.Error()
		var se *StageError
		if errors.As(runErr, &se) {
			row.Stage, row.Error = string(se.Stage), se.Err.Error()
		}
	case p.Options.DryRun:
		row.Status, row.Output = history.StatusDryRun, out.TimelinePath
	default:
		row.Output = out.OutputPath
	}
	// The run itself already finished; a cancelled ctx should not lose the row.
	if err := p.History.Record(context.WithoutCancel(ctx), row); err != nil {
		logger.Warn("could not record run history", slog.String("error", err.Error()))
	}
}

func (p *Pipeline) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_]`)

// OutputPath derives the video file name from the topic.
func OutputPath(dir, topic string) string {
	name := unsafeName.ReplaceAllString(strings.ReplaceAll(strings.TrimSpace(topic), " ", "_"), "")
	if name == "" {
		name = "video"
	}
	return filepath.Join(dir, name+".mp4")
}
