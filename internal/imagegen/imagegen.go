// Package imagegen holds the concrete image generation backends.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ivlev/topic2video/internal/asset"
	"github.com/ivlev/topic2video/internal/config"
)

// ErrAuthRequired is returned when a backend needs credentials or a session
// that is missing or rejected.
var ErrAuthRequired = errors.New("image backend: authentication required")

// maxImageBytes caps a single downloaded image.
const maxImageBytes = 32 << 20

const userAgent = "Mozilla/5.0 (compatible; topic2video/1.0)"

// StatusError is a non-2xx answer from a backend.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d from %s", e.Code, e.Service)
	}
	return fmt.Sprintf("HTTP %d from %s: %s", e.Code, e.Service, e.Body)
}

// New builds the generator configured for backend, wrapped in the shared
// rate limiter.
func New(cfg config.Assets, backend asset.Backend) (asset.Generator, error) {
	client := &http.Client{Timeout: httpTimeout(cfg)}

	var (
		gen asset.Generator
		err error
	)
	switch backend {
	case asset.BackendPollinations:
		gen = NewPollinations(client, cfg.PollinationsURL, cfg.Width, cfg.Height)
	case asset.BackendStability:
		gen, err = NewStability(client, cfg.StabilityURL, cfg.StabilityAPIKey)
	case asset.BackendSession:
		gen, err = NewSession(client, cfg.SessionURL, cfg.SessionState)
	default:
		return nil, fmt.Errorf("unknown image backend %q", backend)
	}
	if err != nil {
		return nil, err
	}
	return Limit(gen, cfg.RatePerSecond, cfg.RateBurst), nil
}

func httpTimeout(cfg config.Assets) time.Duration {
	if t := cfg.Timeout(); t > 0 {
		// The resolver enforces the per-attempt deadline; this only guards
		// against a missing context deadline.
		return t + 10*time.Second
	}
	return 0
}

// Limited gates a Generator behind a token bucket.
type Limited struct {
	next    asset.Generator
	limiter *rate.Limiter
}

// Limit wraps next with a limiter of rps requests per second. rps <= 0
// returns next unchanged.
func Limit(next asset.Generator, rps float64, burst int) asset.Generator {
	if rps <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *Limited) Generate(ctx context.Context, prompt string) ([]byte, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return l.next.Generate(ctx, prompt)
}

// readImageBody reads a successful response body or turns a failure into
// a StatusError (or ErrAuthRequired for 401/403).
func readImageBody(service string, resp *http.Response) ([]byte, error) {
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%s: %w (HTTP %d)", service, ErrAuthRequired, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Service: service, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", service, err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("%s: image larger than %d bytes", service, maxImageBytes)
	}
	return data, nil
}
