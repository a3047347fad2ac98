package asset

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/topic2video/internal/logging"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 5), B: uint8(x ^ y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type countingGen struct {
	mu      sync.Mutex
	calls   int32
	prompts []string
	fn      func(call int32) ([]byte, error)
}

func (g *countingGen) Generate(ctx context.Context, prompt string) ([]byte, error) {
	n := atomic.AddInt32(&g.calls, 1)
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	return g.fn(n)
}

func newTestResolver(t *testing.T, gen Generator, opts Options) (*Resolver, *Cache) {
	t.Helper()
	cache, err := NewCache(t.TempDir(), 0)
	require.NoError(t, err)
	fallback, err := EnsureFallback(cache, "", 64, 36)
	require.NoError(t, err)
	r := NewResolver(cache, map[Backend]Generator{BackendPollinations: gen}, fallback, opts, logging.NewNop())
	r.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return r, cache
}

func cacheFiles(t *testing.T, cache *Cache) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(cache.Dir(), "*"+cacheExt))
	require.NoError(t, err)
	return files
}

func TestResolveIsIdempotent(t *testing.T) {
	payload := testPNG(t, 32, 32)
	gen := &countingGen{fn: func(int32) ([]byte, error) { return payload, nil }}
	r, cache := newTestResolver(t, gen, Options{MaxAttempts: 3})

	req := NewRequest(0, "a sunrise over mountains", BackendPollinations)
	first := r.Resolve(context.Background(), req)
	second := r.Resolve(context.Background(), req)

	assert.Equal(t, SourceGenerated, first.Source)
	assert.Equal(t, SourceCacheHit, second.Source)
	assert.Equal(t, first.ImagePath, second.ImagePath)
	assert.NoError(t, second.Err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&gen.calls))
	assert.Len(t, cacheFiles(t, cache), 1)
}

func TestResolveRetriesThenSucceeds(t *testing.T) {
	payload := testPNG(t, 16, 16)
	gen := &countingGen{fn: func(n int32) ([]byte, error) {
		switch n {
		case 1:
			return nil, errors.New("connection reset")
		case 2:
			return []byte("<html>rate limited</html>"), nil
		default:
			return payload, nil
		}
	}}
	r, _ := newTestResolver(t, gen, Options{MaxAttempts: 3})

	res := r.Resolve(context.Background(), NewRequest(4, "lighthouse in fog", BackendPollinations))
	assert.Equal(t, SourceGenerated, res.Source)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 4, res.SceneIndex)
	assert.True(t, readableImage(res.ImagePath))
}

func TestResolveFallsBackAfterExhaustion(t *testing.T) {
	gen := &countingGen{fn: func(int32) ([]byte, error) { return nil, errors.New("HTTP 503") }}
	r, cache := newTestResolver(t, gen, Options{MaxAttempts: 2})

	res := r.Resolve(context.Background(), NewRequest(1, "volcano at dusk", BackendPollinations))
	assert.Equal(t, SourceFallback, res.Source)
	assert.Equal(t, r.FallbackPath(), res.ImagePath)
	assert.Equal(t, 2, res.Attempts)
	assert.ErrorContains(t, res.Err, "503")
	assert.Empty(t, cacheFiles(t, cache))
}

func TestResolveUnregisteredBackend(t *testing.T) {
	gen := &countingGen{fn: func(int32) ([]byte, error) { return nil, nil }}
	r, _ := newTestResolver(t, gen, Options{})

	res := r.Resolve(context.Background(), NewRequest(0, "desert", BackendSession))
	assert.Equal(t, SourceFallback, res.Source)
	assert.Zero(t, res.Attempts)
	assert.Error(t, res.Err)
}

func TestResolveDenylistUsesGenericPrompt(t *testing.T) {
	payload := testPNG(t, 16, 16)
	gen := &countingGen{fn: func(int32) ([]byte, error) { return payload, nil }}
	r, _ := newTestResolver(t, gen, Options{})

	res := r.Resolve(context.Background(), NewRequest(2, "Upbeat background music", BackendPollinations))
	assert.Equal(t, SourceGenerated, res.Source)
	require.Len(t, gen.prompts, 1)
	assert.Equal(t, GenericPrompt, gen.prompts[0])
	assert.NotContains(t, gen.prompts[0], "music")
}

func TestResolvePerAttemptTimeout(t *testing.T) {
	gen := GeneratorFunc(func(ctx context.Context, prompt string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	r, _ := newTestResolver(t, gen, Options{MaxAttempts: 2, Timeout: 20 * time.Millisecond})

	start := time.Now()
	res := r.Resolve(context.Background(), NewRequest(0, "slow backend", BackendPollinations))
	assert.Equal(t, SourceFallback, res.Source)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestResolveCorruptCacheEntryRegenerates(t *testing.T) {
	payload := testPNG(t, 16, 16)
	gen := &countingGen{fn: func(int32) ([]byte, error) { return payload, nil }}
	r, cache := newTestResolver(t, gen, Options{})

	req := NewRequest(0, "harbor cranes", BackendPollinations)
	key := CacheKey(req.Prompt, req.Backend)
	require.NoError(t, os.WriteFile(cache.Path(key), []byte("not an image"), 0o644))

	res := r.Resolve(context.Background(), req)
	assert.Equal(t, SourceGenerated, res.Source)
	assert.Equal(t, cache.Path(key), res.ImagePath)
	assert.True(t, readableImage(res.ImagePath))
}

func TestConcurrentIdenticalPromptsLeaveOneEntry(t *testing.T) {
	payload := testPNG(t, 24, 24)
	release := make(chan struct{})
	gen := &countingGen{fn: func(int32) ([]byte, error) {
		<-release
		return payload, nil
	}}
	r, cache := newTestResolver(t, gen, Options{})

	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Resolve(context.Background(), NewRequest(i, "the same red balloon", BackendPollinations))
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	files := cacheFiles(t, cache)
	require.Len(t, files, 1)
	for _, res := range results {
		assert.NotEqual(t, SourceFallback, res.Source)
		assert.True(t, readableImage(res.ImagePath))
	}
	tmps, _ := filepath.Glob(filepath.Join(cache.Dir(), "*.tmp"))
	assert.Empty(t, tmps)
}
