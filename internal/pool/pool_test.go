package pool

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/topic2video/internal/asset"
	"github.com/ivlev/topic2video/internal/logging"
)

type fakeResolver struct {
	fn       func(req asset.Request) asset.Result
	inFlight int32
	peak     int32
}

func (f *fakeResolver) Resolve(ctx context.Context, req asset.Request) asset.Result {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if cur <= p || atomic.CompareAndSwapInt32(&f.peak, p, cur) {
			break
		}
	}
	return f.fn(req)
}

func (f *fakeResolver) FallbackPath() string { return "/cache/fallback.png" }

func requests(n int) []asset.Request {
	reqs := make([]asset.Request, n)
	for i := range reqs {
		reqs[i] = asset.NewRequest(i, "scene visual", asset.BackendPollinations)
	}
	return reqs
}

func TestResolveAllKeysByIndex(t *testing.T) {
	r := &fakeResolver{fn: func(req asset.Request) asset.Result {
		time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
		return asset.Result{SceneIndex: req.SceneIndex, ImagePath: "/img/" + string(rune('a'+req.SceneIndex)), Source: asset.SourceGenerated}
	}}

	got := ResolveAll(context.Background(), r, requests(12), 3, logging.NewNop())
	require.Len(t, got, 12)
	for i := 0; i < 12; i++ {
		assert.Equal(t, i, got[i].SceneIndex)
		assert.Equal(t, "/img/"+string(rune('a'+i)), got[i].ImagePath)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&r.peak), int32(3))
}

func TestResolveAllTotalWhenEverythingFails(t *testing.T) {
	r := &fakeResolver{fn: func(req asset.Request) asset.Result {
		return asset.Result{SceneIndex: req.SceneIndex, ImagePath: "/cache/fallback.png", Source: asset.SourceFallback, Err: errors.New("HTTP 500")}
	}}

	got := ResolveAll(context.Background(), r, requests(5), 0, logging.NewNop())
	require.Len(t, got, 5)
	for _, res := range got {
		assert.Equal(t, asset.SourceFallback, res.Source)
		assert.Equal(t, r.FallbackPath(), res.ImagePath)
	}
	assert.Equal(t, Summary{Total: 5, Fallbacks: 5}, Summarize(got))
}

func TestResolveAllRecoversPanics(t *testing.T) {
	r := &fakeResolver{fn: func(req asset.Request) asset.Result {
		if req.SceneIndex == 2 {
			panic("boom")
		}
		return asset.Result{SceneIndex: req.SceneIndex, ImagePath: "/img/ok", Source: asset.SourceCacheHit}
	}}

	got := ResolveAll(context.Background(), r, requests(4), 2, logging.NewNop())
	require.Len(t, got, 4)
	assert.Equal(t, asset.SourceFallback, got[2].Source)
	assert.Equal(t, r.FallbackPath(), got[2].ImagePath)
	assert.Error(t, got[2].Err)
	assert.Equal(t, Summary{Total: 4, CacheHits: 3, Fallbacks: 1}, Summarize(got))
}

func TestResolveAllEmpty(t *testing.T) {
	r := &fakeResolver{fn: func(req asset.Request) asset.Result { return asset.Result{} }}
	assert.Empty(t, ResolveAll(context.Background(), r, nil, 4, nil))
}
