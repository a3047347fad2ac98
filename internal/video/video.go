package video

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ivlev/topic2video/internal/analyzer"
	"github.com/ivlev/topic2video/internal/asset"
	"github.com/ivlev/topic2video/internal/config"
	"github.com/ivlev/topic2video/internal/effects"
	"github.com/ivlev/topic2video/internal/logging"
	"github.com/ivlev/topic2video/internal/system"
	"github.com/ivlev/topic2video/internal/timeline"
)

// Renderer encodes a timeline and a narration track into a video file.
type Renderer interface {
	Render(ctx context.Context, tl *timeline.Timeline, audioPath, outputPath string) (string, error)
}

// ExecFunc runs an external command and returns its combined output.
type ExecFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// FFmpegRenderer encodes one clip per image layer, joins them and muxes the
// narration with burned-in captions.
type FFmpegRenderer struct {
	cfg     config.Video
	effect  effects.Effect
	focus   *analyzer.FocusDetector
	tempDir string
	logger  *slog.Logger
	exec    ExecFunc
}

func NewFFmpegRenderer(cfg config.Video, effect effects.Effect, tempDir string, logger *slog.Logger) *FFmpegRenderer {
	if effect == nil {
		effect = &effects.KenBurns{}
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 24
	}
	if cfg.Workers <= 0 {
		cfg.Workers = system.DefaultRenderWorkers()
	}
	return &FFmpegRenderer{
		cfg:     cfg,
		effect:  effect,
		focus:   analyzer.NewFocusDetector(),
		tempDir: tempDir,
		logger:  logging.Component(logger, "renderer"),
		exec:    runCommand,
	}
}

type segment struct {
	index    int
	image    string
	duration float64
	path     string
}

func (r *FFmpegRenderer) Render(ctx context.Context, tl *timeline.Timeline, audioPath, outputPath string) (string, error) {
	if err := tl.Validate(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", err
	}
	if r.tempDir != "" {
		if err := os.MkdirAll(r.tempDir, 0o755); err != nil {
			return "", err
		}
	}
	work, err := os.MkdirTemp(r.tempDir, "topic2video_")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(work)

	encoder := r.cfg.Encoder
	if encoder == "" || encoder == "auto" {
		encoder = system.GetBestH264Encoder()
	}

	segments := r.plan(tl, work)
	r.logger.Info("encoding segments",
		slog.Int("segments", len(segments)),
		slog.String("encoder", encoder),
		slog.Int("workers", r.cfg.Workers),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, seg := range segments {
		g.Go(func() error {
			return r.encodeSegment(gctx, seg, encoder)
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	concatFile := filepath.Join(work, "inputs.txt")
	if err := writeConcatList(concatFile, segments); err != nil {
		return "", err
	}

	var srtPath string
	if r.cfg.Captions && len(tl.Captions) > 0 {
		srtPath = filepath.Join(work, "captions.srt")
		f, err := os.Create(srtPath)
		if err != nil {
			return "", err
		}
		err = tl.WriteSRT(f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return "", fmt.Errorf("write captions: %w", err)
		}
	}

	args := r.finalArgs(concatFile, audioPath, srtPath, outputPath, encoder, tl.TotalDuration)
	if out, err := r.exec(ctx, "ffmpeg", args...); err != nil {
		return "", fmt.Errorf("ffmpeg mux error: %v, output: %s", err, tail(out))
	}
	r.logger.Info("video written", slog.String("path", outputPath))
	return outputPath, nil
}

// plan lists the clips to encode. An uncovered lead-in before the first
// layer shows the fallback image. Intervals shorter than one frame are not
// encoded on their own; their time goes to the previous clip, or to the next
// one when nothing precedes them, so the clips add up to the full track.
func (r *FFmpegRenderer) plan(tl *timeline.Timeline, work string) []segment {
	minDur := 1.0 / float64(r.cfg.FPS)
	var (
		segs  []segment
		carry float64
	)
	add := func(image string, d float64) {
		if d <= 0 {
			return
		}
		if d < minDur {
			if n := len(segs); n > 0 {
				segs[n-1].duration += d
			} else {
				carry += d
			}
			return
		}
		n := len(segs)
		segs = append(segs, segment{
			index:    n,
			image:    image,
			duration: d + carry,
			path:     filepath.Join(work, fmt.Sprintf("seg_%04d.mp4", n)),
		})
		carry = 0
	}

	img := tl.FallbackImage
	if img == "" {
		img = tl.Images[0].ImagePath
	}
	add(img, tl.LeadIn())
	for _, l := range tl.Images {
		add(l.ImagePath, l.Duration)
	}
	if carry > 0 {
		last := tl.Images[len(tl.Images)-1]
		segs = append(segs, segment{
			index:    0,
			image:    last.ImagePath,
			duration: carry,
			path:     filepath.Join(work, "seg_0000.mp4"),
		})
	}
	return segs
}

func (r *FFmpegRenderer) encodeSegment(ctx context.Context, seg segment, encoder string) error {
	params := config.SegmentParams{
		Width:      r.cfg.Width,
		Height:     r.cfg.Height,
		FPS:        r.cfg.FPS,
		Duration:   seg.duration,
		ZoomMode:   r.cfg.ZoomMode,
		ZoomSpeed:  r.cfg.ZoomSpeed,
		LayerIndex: seg.index,
	}
	if strings.EqualFold(r.cfg.ZoomMode, "focus") {
		p := r.focusPoint(seg.image)
		params.FocusX, params.FocusY = p.X, p.Y
	}
	filter := r.effect.GenerateFilter(params)

	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-loop", "1",
		"-i", seg.image,
		"-vf", filter,
		"-t", fmt.Sprintf("%f", seg.duration),
		"-r", fmt.Sprintf("%d", r.cfg.FPS),
		"-pix_fmt", "yuv420p",
		"-c:v", encoder,
	}
	args = append(args, qualityArgs(encoder, r.cfg.Quality)...)
	args = append(args, seg.path)

	if out, err := r.exec(ctx, "ffmpeg", args...); err != nil {
		return fmt.Errorf("segment %d (%s): ffmpeg error: %v, output: %s", seg.index, seg.image, err, tail(out))
	}
	return nil
}

func (r *FFmpegRenderer) focusPoint(path string) analyzer.Point {
	img, _, err := asset.ValidateImageFile(path)
	if err != nil {
		r.logger.Debug("focus analysis skipped", slog.String("image", path), slog.String("error", err.Error()))
		return analyzer.Center
	}
	return r.focus.Focus(img)
}

func (r *FFmpegRenderer) finalArgs(concatFile, audioPath, srtPath, outputPath, encoder string, total float64) []string {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0", "-i", concatFile,
	}
	if audioPath != "" {
		args = append(args, "-i", audioPath)
	}

	args = append(args, "-map", "0:v")
	if audioPath != "" {
		args = append(args, "-map", "1:a")
	}

	if srtPath != "" {
		style := fmt.Sprintf("FontSize=%d,Alignment=2,Outline=2,MarginV=40", max(r.cfg.FontSize, 8))
		args = append(args, "-vf", fmt.Sprintf("subtitles=%s:force_style='%s'", escapeFilterPath(srtPath), style))
		args = append(args, "-c:v", encoder, "-pix_fmt", "yuv420p")
		args = append(args, qualityArgs(encoder, r.cfg.Quality)...)
	} else {
		args = append(args, "-c:v", "copy")
	}
	if audioPath != "" {
		args = append(args, "-c:a", "aac", "-b:a", "192k")
	}
	args = append(args, "-t", fmt.Sprintf("%f", total), "-movflags", "+faststart", outputPath)
	return args
}

func qualityArgs(encoder string, quality int) []string {
	switch encoder {
	case "h264_videotoolbox":
		if quality <= 0 {
			quality = 60
		}
		return []string{"-b:v", fmt.Sprintf("%dk", quality*100)}
	case "h264_nvenc":
		if quality <= 0 {
			quality = 23
		}
		return []string{"-cq", fmt.Sprintf("%d", quality)}
	default: // libx264
		if quality <= 0 {
			quality = 23
		}
		return []string{"-crf", fmt.Sprintf("%d", quality), "-preset", "medium"}
	}
}

func writeConcatList(path string, segs []segment) error {
	var sb strings.Builder
	for _, s := range segs {
		abs, err := filepath.Abs(s.path)
		if err != nil {
			return err
		}
		fmt.Fprintf(&sb, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

// escapeFilterPath quotes a path for use inside an ffmpeg filter argument.
func escapeFilterPath(p string) string {
	r := strings.NewReplacer(`\`, `\\\\`, `:`, `\\:`, `'`, `\\\'`, `,`, `\,`)
	return r.Replace(p)
}

func tail(out []byte) string {
	const n = 800
	s := strings.TrimSpace(string(out))
	if len(s) > n {
		return "..." + s[len(s)-n:]
	}
	return s
}
