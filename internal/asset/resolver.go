package asset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ivlev/topic2video/internal/logging"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 2 * time.Second
	DefaultTimeout     = 60 * time.Second
)

// Options tunes the retry loop.
type Options struct {
	MaxAttempts int
	Backoff     time.Duration
	// Timeout bounds each generation attempt; zero means no per-attempt limit.
	Timeout time.Duration
}

// Resolver resolves prompts to images through a cache and a set of backends.
// It is safe for concurrent use.
type Resolver struct {
	cache      *Cache
	generators map[Backend]Generator
	fallback   string
	opts       Options
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewResolver builds a Resolver. fallback must point at a readable image.
func NewResolver(cache *Cache, generators map[Backend]Generator, fallback string, opts Options, logger *slog.Logger) *Resolver {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}
	gens := make(map[Backend]Generator, len(generators))
	for b, g := range generators {
		gens[b] = g
	}
	return &Resolver{
		cache:      cache,
		generators: gens,
		fallback:   fallback,
		opts:       opts,
		logger:     logging.Component(logger, "resolver"),
		sleep:      sleepContext,
	}
}

// FallbackPath returns the placeholder used for failed requests.
func (r *Resolver) FallbackPath() string { return r.fallback }

type state int

const (
	statePending state = iota
	stateAttempting
	stateSucceeded
	stateExhausted
)

// Resolve returns an image for req. It never fails: on total failure the
// Result points at the fallback image and carries the last error.
func (r *Resolver) Resolve(ctx context.Context, req Request) Result {
	res := Result{SceneIndex: req.SceneIndex}
	logger := r.logger.With(slog.Int("scene", req.SceneIndex), slog.String("backend", string(req.Backend)))

	prompt, substituted := Sanitize(req.Prompt)
	if substituted {
		logger.Debug("using generic prompt", slog.String("original", req.Prompt))
	}
	key := CacheKey(prompt, req.Backend)

	var (
		gen     Generator
		lastErr error
	)

	st := statePending
	for {
		switch st {
		case statePending:
			if path, ok := r.cache.Lookup(key); ok {
				res.ImagePath, res.Source = path, SourceCacheHit
				logger.Debug("cache hit", slog.String("path", path))
				return res
			}
			var ok bool
			if gen, ok = r.generators[req.Backend]; !ok || gen == nil {
				lastErr = fmt.Errorf("no generator registered for backend %q", req.Backend)
				st = stateExhausted
				continue
			}
			st = stateAttempting

		case stateAttempting:
			if res.Attempts > 0 {
				if err := r.sleep(ctx, r.opts.Backoff); err != nil {
					lastErr = errors.Join(lastErr, err)
					st = stateExhausted
					continue
				}
			}
			res.Attempts++
			path, err := r.attempt(ctx, gen, prompt, key)
			if err == nil {
				res.ImagePath = path
				st = stateSucceeded
				continue
			}
			lastErr = err
			logger.Warn("image generation attempt failed",
				slog.Int("attempt", res.Attempts),
				slog.Int("max_attempts", r.opts.MaxAttempts),
				slog.String("error", err.Error()),
			)
			if res.Attempts >= r.opts.MaxAttempts || ctx.Err() != nil {
				st = stateExhausted
			}

		case stateSucceeded:
			res.Source = SourceGenerated
			logger.Info("image generated", slog.Int("attempts", res.Attempts), slog.String("path", res.ImagePath))
			return res

		case stateExhausted:
			res.ImagePath, res.Source, res.Err = r.fallback, SourceFallback, lastErr
			logger.Warn("using fallback image", slog.Int("attempts", res.Attempts), slog.Any("error", lastErr))
			return res
		}
	}
}

func (r *Resolver) attempt(ctx context.Context, gen Generator, prompt, key string) (string, error) {
	actx := ctx
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}
	data, err := gen.Generate(actx, prompt)
	if err != nil {
		return "", err
	}
	return r.cache.Commit(key, data)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
