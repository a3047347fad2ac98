package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/topic2video/internal/asset"
	"github.com/ivlev/topic2video/internal/config"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPollinationsRequest(t *testing.T) {
	payload := pngBytes(t)
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "image/png")
		w.Write(payload)
	}))
	defer srv.Close()

	p := NewPollinations(srv.Client(), srv.URL+"/prompt", 640, 360)
	data, err := p.Generate(context.Background(), "red fox, at dawn")
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	assert.Equal(t, "/prompt/red%20fox%2C%20at%20dawn", gotPath)
	assert.Contains(t, gotQuery, "width=640")
	assert.Contains(t, gotQuery, "height=360")
	assert.Contains(t, gotQuery, "nologo=true")
	assert.Contains(t, gotQuery, "seed=")
	assert.Equal(t, p.requestURL("red fox, at dawn"), p.requestURL("red fox, at dawn"))
}

func TestPollinationsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewPollinations(srv.Client(), srv.URL, 0, 0).Generate(context.Background(), "x")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, "busy", se.Body)
}

func TestStabilityRequest(t *testing.T) {
	payload := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "image/*", r.Header.Get("Accept"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "lighthouse", r.FormValue("prompt"))
		assert.Equal(t, "jpeg", r.FormValue("output_format"))
		w.Write(payload)
	}))
	defer srv.Close()

	s, err := NewStability(srv.Client(), srv.URL, "sk-test")
	require.NoError(t, err)
	data, err := s.Generate(context.Background(), "lighthouse")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestStabilityAuth(t *testing.T) {
	_, err := NewStability(nil, "", "")
	assert.ErrorIs(t, err, ErrAuthRequired)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	s, err := NewStability(srv.Client(), srv.URL, "bad")
	require.NoError(t, err)
	_, err = s.Generate(context.Background(), "x")
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func writeState(t *testing.T, cookies ...map[string]any) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{"cookies": cookies, "origins": []any{}})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestSessionFlow(t *testing.T) {
	payload := pngBytes(t)
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/generations", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("sid")
		if err != nil || c.Value != "abc" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "canyon", body["prompt"])
		json.NewEncoder(w).Encode(generationJob{ID: "j1", Status: "pending"})
	})
	mux.HandleFunc("/api/generations/j1", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&polls, 1) < 2 {
			json.NewEncoder(w).Encode(generationJob{ID: "j1", Status: "running"})
			return
		}
		json.NewEncoder(w).Encode(generationJob{ID: "j1", Status: "done", ImageURL: "/files/j1.png"})
	})
	mux.HandleFunc("/files/j1.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	state := writeState(t, map[string]any{"name": "sid", "value": "abc", "path": "/", "expires": -1})
	s, err := NewSession(srv.Client(), srv.URL+"/api", state)
	require.NoError(t, err)
	s.pollInterval = time.Millisecond

	data, err := s.Generate(context.Background(), "canyon")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.EqualValues(t, 2, atomic.LoadInt32(&polls))
}

func TestSessionRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	state := writeState(t, map[string]any{"name": "sid", "value": "stale", "path": "/", "expires": -1})
	s, err := NewSession(srv.Client(), srv.URL, state)
	require.NoError(t, err)
	_, err = s.Generate(context.Background(), "x")
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestSessionStateErrors(t *testing.T) {
	_, err := NewSession(nil, "http://example.test", "")
	assert.ErrorIs(t, err, ErrAuthRequired)

	_, err = NewSession(nil, "http://example.test", filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, ErrAuthRequired)

	expired := writeState(t, map[string]any{"name": "sid", "value": "x", "path": "/", "expires": 1000})
	_, err = NewSession(nil, "http://example.test", expired)
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestSessionFailedJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generationJob{ID: "j9", Status: "failed", Error: "nsfw filter"})
	}))
	defer srv.Close()

	state := writeState(t, map[string]any{"name": "sid", "value": "abc", "path": "/", "expires": -1})
	s, err := NewSession(srv.Client(), srv.URL, state)
	require.NoError(t, err)
	_, err = s.Generate(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nsfw filter")
}

func TestLimitWaitsOnContext(t *testing.T) {
	var calls int32
	gen := asset.GeneratorFunc(func(ctx context.Context, prompt string) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	})
	limited := Limit(gen, 0.001, 1)

	_, err := limited.Generate(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = limited.Generate(ctx, "b")
	assert.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	_, wrapped := Limit(gen, 0, 0).(*Limited)
	assert.False(t, wrapped)
}

func TestNewRegistry(t *testing.T) {
	cfg := config.Default().Assets

	g, err := New(cfg, asset.BackendPollinations)
	require.NoError(t, err)
	assert.IsType(t, &Limited{}, g)

	_, err = New(cfg, asset.BackendStability)
	assert.ErrorIs(t, err, ErrAuthRequired)

	_, err = New(cfg, asset.Backend("dalle"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "dalle"))
}
