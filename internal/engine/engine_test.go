package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/topic2video/internal/asset"
	"github.com/ivlev/topic2video/internal/history"
	"github.com/ivlev/topic2video/internal/logging"
	"github.com/ivlev/topic2video/internal/narration"
	"github.com/ivlev/topic2video/internal/scene"
	"github.com/ivlev/topic2video/internal/timeline"
)

const exampleScript = "[0:00-0:05] Intro (a sunrise over mountains) [0:05-0:12] Body (a city skyline at night)"

type fakeScript struct{ text string }

func (f fakeScript) Script(ctx context.Context, topic string) (string, error) { return f.text, nil }

type fakeNarration struct {
	duration float64
	calls    int
	text     string
}

func (f *fakeNarration) Narrate(ctx context.Context, text, workDir string) (narration.Track, error) {
	f.calls++
	f.text = text
	return narration.Track{Path: filepath.Join(workDir, "voice.wav"), Duration: f.duration}, nil
}

type fakeResolver struct {
	mu   sync.Mutex
	reqs []asset.Request
}

func (f *fakeResolver) Resolve(ctx context.Context, req asset.Request) asset.Result {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return asset.Result{SceneIndex: req.SceneIndex, ImagePath: "/img/" + req.Prompt, Source: asset.SourceGenerated, Attempts: 1}
}

func (f *fakeResolver) FallbackPath() string { return "/cache/fallback.png" }

type fakeRenderer struct {
	calls int
	audio string
	tl    *timeline.Timeline
	err   error
}

func (f *fakeRenderer) Render(ctx context.Context, tl *timeline.Timeline, audio, output string) (string, error) {
	f.calls++
	f.audio, f.tl = audio, tl
	return output, f.err
}

type fakeHistory struct{ runs []history.Run }

func (f *fakeHistory) Record(ctx context.Context, run history.Run) error {
	f.runs = append(f.runs, run)
	return nil
}

type fixture struct {
	p        *Pipeline
	narr     *fakeNarration
	resolver *fakeResolver
	renderer *fakeRenderer
	hist     *fakeHistory
}

func newFixture(t *testing.T, text string, duration float64) *fixture {
	t.Helper()
	f := &fixture{
		narr:     &fakeNarration{duration: duration},
		resolver: &fakeResolver{},
		renderer: &fakeRenderer{},
		hist:     &fakeHistory{},
	}
	f.p = &Pipeline{
		Script:    fakeScript{text: text},
		Narration: f.narr,
		Resolver:  f.resolver,
		Renderer:  f.renderer,
		History:   f.hist,
		Options: Options{
			OutputDir:   filepath.Join(t.TempDir(), "outputs"),
			TempDir:     t.TempDir(),
			Backend:     asset.BackendPollinations,
			Concurrency: 2,
		},
		Logger: logging.NewNop(),
	}
	return f
}

func TestRunExample(t *testing.T) {
	f := newFixture(t, exampleScript, 14.0)

	out, err := f.p.Run(context.Background(), "city life")
	require.NoError(t, err)
	assert.NotEmpty(t, out.RunID)
	require.Len(t, out.Scenes, 2)

	assert.Equal(t, "Intro Body", f.narr.text)
	require.Equal(t, 1, f.renderer.calls)
	assert.Equal(t, filepath.Join(f.p.Options.TempDir, out.RunID, "voice.wav"), f.renderer.audio)
	assert.Empty(t, out.Narration.Path, "work dir audio is gone after the run")

	tl := f.renderer.tl
	require.Len(t, tl.Images, 2)
	assert.Equal(t, 0.0, tl.Images[0].Start)
	assert.Equal(t, 5.0, tl.Images[0].Duration)
	assert.Equal(t, 5.0, tl.Images[1].Start)
	assert.InDelta(t, 14.0, tl.Images[1].End(), 1e-9)
	assert.Equal(t, "/img/a sunrise over mountains", tl.Images[0].ImagePath)

	assert.Equal(t, filepath.Join(f.p.Options.OutputDir, "city_life.mp4"), out.OutputPath)
	require.Len(t, f.hist.runs, 1)
	assert.Equal(t, history.StatusSucceeded, f.hist.runs[0].Status)
	assert.Equal(t, 2, f.hist.runs[0].Generated)
	assert.Equal(t, out.RunID, f.hist.runs[0].ID)
}

func TestRunNoScenes(t *testing.T) {
	f := newFixture(t, "Just a paragraph with no timestamps at all.", 10)

	_, err := f.p.Run(context.Background(), "nothing")
	require.Error(t, err)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageScript, se.Stage)
	assert.ErrorIs(t, err, scene.ErrNoScenes)

	assert.Zero(t, f.narr.calls)
	assert.Empty(t, f.resolver.reqs)
	assert.Zero(t, f.renderer.calls)
	require.Len(t, f.hist.runs, 1)
	assert.Equal(t, history.StatusFailed, f.hist.runs[0].Status)
}

func TestRunNarrationWithoutDuration(t *testing.T) {
	f := newFixture(t, exampleScript, 0)

	_, err := f.p.Run(context.Background(), "x")
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageNarration, se.Stage)
	assert.ErrorIs(t, err, narration.ErrEmptyAudio)
	assert.Empty(t, f.resolver.reqs)
}

func TestRunRenderFailure(t *testing.T) {
	f := newFixture(t, exampleScript, 14)
	f.renderer.err = errors.New("ffmpeg exploded")

	_, err := f.p.Run(context.Background(), "x")
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageRender, se.Stage)
	require.Len(t, f.hist.runs, 1)
	assert.Equal(t, history.StatusFailed, f.hist.runs[0].Status)
	assert.Equal(t, string(StageRender), f.hist.runs[0].Stage)
	assert.Equal(t, "ffmpeg exploded", f.hist.runs[0].Error)
}

func TestRunDenylistedVisualUsesGenericPrompt(t *testing.T) {
	f := newFixture(t, "[0:00-0:04] Welcome (Upbeat background music) [0:04-0:08] Facts (a library)", 8)

	_, err := f.p.Run(context.Background(), "books")
	require.NoError(t, err)
	require.Len(t, f.resolver.reqs, 2)
	for _, r := range f.resolver.reqs {
		assert.NotContains(t, r.Prompt, "music")
		assert.Equal(t, asset.BackendPollinations, r.Backend)
	}
}

func TestRunDryRunWritesTimeline(t *testing.T) {
	f := newFixture(t, exampleScript, 14)
	f.p.Options.DryRun = true

	out, err := f.p.Run(context.Background(), "dry topic")
	require.NoError(t, err)
	assert.Zero(t, f.renderer.calls)

	require.NotEmpty(t, out.TimelinePath)
	_, err = os.Stat(out.TimelinePath)
	require.NoError(t, err)
	got, err := timeline.Read(out.TimelinePath)
	require.NoError(t, err)
	assert.Equal(t, out.Timeline, got)
	assert.Equal(t, history.StatusDryRun, f.hist.runs[0].Status)

	require.NotEmpty(t, out.Narration.Path)
	info, err := os.Stat(filepath.Dir(out.Narration.Path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRunLeavesNoWorkDir(t *testing.T) {
	f := newFixture(t, exampleScript, 14)
	_, err := f.p.Run(context.Background(), "x")
	require.NoError(t, err)

	entries, err := os.ReadDir(f.p.Options.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunFailureRemovesWorkDirEvenWhenKeeping(t *testing.T) {
	f := newFixture(t, exampleScript, 14)
	f.p.Options.KeepTimeline = true
	f.renderer.err = errors.New("ffmpeg exploded")

	_, err := f.p.Run(context.Background(), "x")
	require.Error(t, err)

	entries, err := os.ReadDir(f.p.Options.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOutputPath(t *testing.T) {
	cases := map[string]string{
		"Black Holes":       "Black_Holes.mp4",
		"what's AI? (2025)": "whats_AI_2025.mp4",
		"!!!":               "video.mp4",
		"":                  "video.mp4",
		"Ça va":             "a_va.mp4",
	}
	for topic, want := range cases {
		assert.Equal(t, filepath.Join("outputs", want), OutputPath("outputs", topic), topic)
	}
}

func TestStageErrorMessage(t *testing.T) {
	err := &StageError{Stage: StageComposition, Err: timeline.ErrInvalidDuration}
	assert.Equal(t, "composition: "+timeline.ErrInvalidDuration.Error(), err.Error())
	assert.ErrorIs(t, err, timeline.ErrInvalidDuration)
}
