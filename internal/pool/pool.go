// Package pool resolves a batch of asset requests with bounded concurrency.
package pool

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/ivlev/topic2video/internal/asset"
)

// DefaultConcurrency is used when a non-positive limit is requested.
const DefaultConcurrency = 4

// Resolver is the part of asset.Resolver the pool depends on.
type Resolver interface {
	Resolve(ctx context.Context, req asset.Request) asset.Result
	FallbackPath() string
}

// ResolveAll runs every request through r with at most n in flight and
// returns exactly one Result per request, keyed by SceneIndex. A request
// whose worker panics or never reports gets a fallback Result. One
// request's failure never cancels its siblings.
func ResolveAll(ctx context.Context, r Resolver, reqs []asset.Request, n int, logger *slog.Logger) map[int]asset.Result {
	if n <= 0 {
		n = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}

	slots := make([]*asset.Result, len(reqs))
	var g errgroup.Group
	g.SetLimit(n)
	for i, req := range reqs {
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					logger.Error("asset worker panicked",
						slog.Int("scene", req.SceneIndex),
						slog.Any("panic", p),
					)
				}
			}()
			res := r.Resolve(ctx, req)
			slots[i] = &res
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[int]asset.Result, len(reqs))
	for i, req := range reqs {
		if slots[i] == nil {
			out[req.SceneIndex] = asset.Result{
				SceneIndex: req.SceneIndex,
				ImagePath:  r.FallbackPath(),
				Source:     asset.SourceFallback,
				Err:        fmt.Errorf("scene %d: worker produced no result", req.SceneIndex),
			}
			continue
		}
		res := *slots[i]
		res.SceneIndex = req.SceneIndex
		if res.ImagePath == "" {
			res.ImagePath, res.Source = r.FallbackPath(), asset.SourceFallback
		}
		out[req.SceneIndex] = res
	}
	return out
}

// Summary counts results per Source.
type Summary struct {
	Total     int
	CacheHits int
	Generated int
	Fallbacks int
}

func Summarize(results map[int]asset.Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Source {
		case asset.SourceCacheHit:
			s.CacheHits++
		case asset.SourceGenerated:
			s.Generated++
		default:
			s.Fallbacks++
		}
	}
	return s
}

func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("total", s.Total),
		slog.Int("cache_hits", s.CacheHits),
		slog.Int("generated", s.Generated),
		slog.Int("fallbacks", s.Fallbacks),
	)
}
