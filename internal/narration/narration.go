// Package narration produces the voiceover track and measures its length.
package narration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ivlev/topic2video/internal/system"
)

// ErrEmptyAudio is returned when the produced track has no usable length.
var ErrEmptyAudio = errors.New("narration has no duration")

// Track is a finished narration file.
type Track struct {
	Path     string
	Duration float64
}

// Provider turns narration text into an audio track.
type Provider interface {
	Narrate(ctx context.Context, text, workDir string) (Track, error)
}

// DurationFunc measures an audio file in seconds.
type DurationFunc func(ctx context.Context, path string) (float64, error)

// CommandProvider runs an external TTS command. Args may contain
// {text_file} and {output}, replaced by the text file it writes and the
// audio file the command must produce.
type CommandProvider struct {
	Args     []string
	Format   string
	Duration DurationFunc
}

func (p CommandProvider) Narrate(ctx context.Context, text, workDir string) (Track, error) {
	if len(p.Args) == 0 {
		return Track{}, errors.New("narration: empty command")
	}
	if strings.TrimSpace(text) == "" {
		return Track{}, errors.New("narration: no text to speak")
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return Track{}, err
	}

	textFile := filepath.Join(workDir, "narration.txt")
	if err := os.WriteFile(textFile, []byte(text), 0o644); err != nil {
		return Track{}, fmt.Errorf("narration: write text: %w", err)
	}
	format := strings.TrimPrefix(p.Format, ".")
	if format == "" {
		format = "wav"
	}
	output := filepath.Join(workDir, "narration."+format)

	repl := strings.NewReplacer("{text_file}", textFile, "{output}", output, "{text}", text)
	args := make([]string, len(p.Args))
	for i, a := range p.Args {
		args[i] = repl.Replace(a)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return Track{}, fmt.Errorf("narration: %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return measure(ctx, output, p.Duration)
}

// FileProvider uses an existing recording. A directory selects its most
// recently modified audio file.
type FileProvider struct {
	Path     string
	Duration DurationFunc
}

func (p FileProvider) Narrate(ctx context.Context, text, workDir string) (Track, error) {
	path := p.Path
	info, err := os.Stat(path)
	if err != nil {
		return Track{}, fmt.Errorf("narration: %w", err)
	}
	if info.IsDir() {
		if path, err = system.FindLatestFile(path, system.AudioExtensions); err != nil {
			return Track{}, fmt.Errorf("narration: %w", err)
		}
	}
	return measure(ctx, path, p.Duration)
}

func measure(ctx context.Context, path string, fn DurationFunc) (Track, error) {
	if fn == nil {
		fn = system.GetAudioDuration
	}
	if _, err := os.Stat(path); err != nil {
		return Track{}, fmt.Errorf("narration: output missing: %w", err)
	}
	d, err := fn(ctx, path)
	if err != nil {
		return Track{}, fmt.Errorf("narration: measure %s: %w", path, err)
	}
	if d <= 0 {
		return Track{}, fmt.Errorf("%w: %s reports %.3fs", ErrEmptyAudio, path, d)
	}
	return Track{Path: path, Duration: d}, nil
}
