package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ivlev/topic2video/internal/asset"
	"github.com/ivlev/topic2video/internal/config"
	"github.com/ivlev/topic2video/internal/effects"
	"github.com/ivlev/topic2video/internal/history"
	"github.com/ivlev/topic2video/internal/imagegen"
	"github.com/ivlev/topic2video/internal/narration"
	"github.com/ivlev/topic2video/internal/script"
	"github.com/ivlev/topic2video/internal/video"
)

// New assembles a Pipeline from configuration. The returned Pipeline must be
// closed to release the history database.
func New(cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	backend, err := asset.ParseBackend(cfg.Assets.Backend)
	if err != nil {
		return nil, err
	}

	cache, err := OpenCache(cfg)
	if err != nil {
		return nil, err
	}
	fallback, err := asset.EnsureFallback(cache, cfg.Assets.FallbackImage, cfg.Video.Width, cfg.Video.Height)
	if err != nil {
		return nil, err
	}

	gen, err := imagegen.New(cfg.Assets, backend)
	if err != nil {
		return nil, fmt.Errorf("image backend %s: %w", backend, err)
	}
	resolver := asset.NewResolver(cache, map[asset.Backend]asset.Generator{backend: gen}, fallback, asset.Options{
		MaxAttempts: cfg.Assets.MaxAttempts,
		Backoff:     cfg.Assets.Backoff(),
		Timeout:     cfg.Assets.Timeout(),
	}, logger)

	scripts, err := newScriptProvider(cfg.Script)
	if err != nil {
		return nil, err
	}

	var hist history.Recorder = history.Nop{}
	if cfg.History.Enabled && cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return nil, err
		}
		hist = store
	}

	return &Pipeline{
		Script:    scripts,
		Narration: newNarrationProvider(cfg.Narration),
		Resolver:  resolver,
		Renderer:  video.NewFFmpegRenderer(cfg.Video, &effects.KenBurns{}, cfg.Paths.TempDir, logger),
		History:   hist,
		Options: Options{
			OutputDir:   cfg.Paths.OutputDir,
			TempDir:     cfg.Paths.TempDir,
			Backend:     backend,
			Concurrency: cfg.Assets.Concurrency,
		},
		Logger: logger,
	}, nil
}

// Close releases resources held by the Pipeline.
func (p *Pipeline) Close() error {
	if c, ok := p.History.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// OpenCache opens the image cache described by cfg.
func OpenCache(cfg *config.Config) (*asset.Cache, error) {
	return asset.NewCache(cfg.Paths.CacheDir, cfg.Assets.CacheTTL())
}

func newScriptProvider(cfg config.Script) (script.Provider, error) {
	switch cfg.Provider {
	case "file":
		if cfg.File == "" {
			return nil, fmt.Errorf("script.file must be set for the file provider")
		}
		return script.FileProvider{Path: cfg.File}, nil
	default:
		return script.NewGeminiProvider(cfg.APIKey, cfg.Model, cfg.BaseURL, time.Duration(cfg.Timeout)*time.Second)
	}
}

func newNarrationProvider(cfg config.Narration) narration.Provider {
	if cfg.Provider == "file" {
		return narration.FileProvider{Path: cfg.File}
	}
	return narration.CommandProvider{Args: cfg.Command, Format: cfg.Format}
}
