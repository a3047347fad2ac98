// Package asset turns a scene's visual description into an image on disk.
//
// Resolution goes through a content-addressed cache first; on a miss the
// selected image backend is called with bounded retries, and when every
// attempt fails a static placeholder is used instead. Resolve never fails.
package asset

import (
	"context"
	"fmt"
	"strings"
)

// Backend names an image generation service.
type Backend string

const (
	// BackendPollinations is a plain request/response service, no auth.
	BackendPollinations Backend = "pollinations"
	// BackendStability is a keyed request/response service.
	BackendStability Backend = "stability"
	// BackendSession drives a service through a pre-authenticated browser session.
	BackendSession Backend = "session"
)

// ParseBackend maps a configuration string to a Backend.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case BackendPollinations, BackendStability, BackendSession:
		return b, nil
	default:
		return "", fmt.Errorf("unknown image backend %q", s)
	}
}

// Source records where a Result's image came from.
type Source string

const (
	SourceCacheHit  Source = "cache-hit"
	SourceGenerated Source = "generated"
	SourceFallback  Source = "fallback"
)

// Generator is the single capability every backend offers.
type Generator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) ([]byte, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) ([]byte, error) {
	return f(ctx, prompt)
}

// Request is one unit of resolution work.
type Request struct {
	SceneIndex int
	Prompt     string
	Backend    Backend
}

// NewRequest builds a Request with the prompt already sanitized.
func NewRequest(sceneIndex int, visual string, backend Backend) Request {
	prompt, _ := Sanitize(visual)
	return Request{SceneIndex: sceneIndex, Prompt: prompt, Backend: backend}
}

// Result is the outcome of a Request. ImagePath is always set.
type Result struct {
	SceneIndex int
	ImagePath  string
	Source     Source
	Attempts   int
	Err        error
}
