package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	defaultPollInterval = 2 * time.Second
	sessionService      = "session"
)

// storageState is the subset of a browser automation storage-state export
// needed to replay an authenticated session.
type storageState struct {
	Cookies []struct {
		Name     string  `json:"name"`
		Value    string  `json:"value"`
		Domain   string  `json:"domain"`
		Path     string  `json:"path"`
		Expires  float64 `json:"expires"`
		HTTPOnly bool    `json:"httpOnly"`
		Secure   bool    `json:"secure"`
	} `json:"cookies"`
}

type generationJob struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	ImageURL string `json:"image_url"`
	Error    string `json:"error"`
}

// Session drives a web generator through a session established elsewhere.
// It submits the prompt, polls the job, then downloads the image. It never
// logs in; a missing or rejected session yields ErrAuthRequired.
type Session struct {
	client       *http.Client
	baseURL      *url.URL
	pollInterval time.Duration
}

// NewSession loads cookies from statePath into client's jar.
func NewSession(client *http.Client, baseURL, statePath string) (*Session, error) {
	if baseURL == "" {
		return nil, errors.New("session: base url not set")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("session: base url: %w", err)
	}
	if statePath == "" {
		return nil, fmt.Errorf("session: %w: no session state configured", ErrAuthRequired)
	}
	cookies, err := loadStorageState(statePath)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	jar.SetCookies(u, cookies)

	c := &http.Client{Jar: jar}
	if client != nil {
		c.Timeout = client.Timeout
		c.Transport = client.Transport
	}
	return &Session{client: c, baseURL: u, pollInterval: defaultPollInterval}, nil
}

func loadStorageState(path string) ([]*http.Cookie, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("session: %w: %s not found", ErrAuthRequired, path)
	}
	if err != nil {
		return nil, fmt.Errorf("session: read state: %w", err)
	}
	var st storageState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("session: parse state %s: %w", path, err)
	}

	now := time.Now()
	cookies := make([]*http.Cookie, 0, len(st.Cookies))
	for _, c := range st.Cookies {
		ck := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			HttpOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		// Session cookies are exported with expires = -1.
		if c.Expires > 0 {
			ck.Expires = time.Unix(int64(c.Expires), 0)
			if ck.Expires.Before(now) {
				continue
			}
		}
		cookies = append(cookies, ck)
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("session: %w: %s holds no live cookies", ErrAuthRequired, path)
	}
	return cookies, nil
}

func (s *Session) Generate(ctx context.Context, prompt string) ([]byte, error) {
	job, err := s.submit(ctx, prompt)
	if err != nil {
		return nil, err
	}
	for job.Status != "done" {
		switch job.Status {
		case "failed", "error":
			return nil, fmt.Errorf("session: generation %s failed: %s", job.ID, job.Error)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}
		if job, err = s.poll(ctx, job.ID); err != nil {
			return nil, err
		}
	}
	if job.ImageURL == "" {
		return nil, fmt.Errorf("session: generation %s finished without an image", job.ID)
	}
	return s.download(ctx, job.ImageURL)
}

func (s *Session) submit(ctx context.Context, prompt string) (generationJob, error) {
	payload, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return generationJob{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint("generations"), bytes.NewReader(payload))
	if err != nil {
		return generationJob{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.doJob(req)
}

func (s *Session) poll(ctx context.Context, id string) (generationJob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint("generations", id), nil)
	if err != nil {
		return generationJob{}, err
	}
	return s.doJob(req)
}

func (s *Session) doJob(req *http.Request) (generationJob, error) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	resp, err := s.client.Do(req)
	if err != nil {
		return generationJob{}, fmt.Errorf("session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return generationJob{}, fmt.Errorf("session: %w (HTTP %d)", ErrAuthRequired, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return generationJob{}, &StatusError{Service: sessionService, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	var job generationJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return generationJob{}, fmt.Errorf("session: decode job: %w", err)
	}
	if job.ID == "" {
		return generationJob{}, errors.New("session: job without id")
	}
	return job, nil
}

func (s *Session) download(ctx context.Context, raw string) ([]byte, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("session: image url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL.ResolveReference(ref).String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	defer resp.Body.Close()
	return readImageBody(sessionService, resp)
}

func (s *Session) endpoint(parts ...string) string {
	return s.baseURL.JoinPath(parts...).String()
}
