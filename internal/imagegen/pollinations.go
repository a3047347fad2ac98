package imagegen

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/url"
	"strings"
)

const defaultPollinationsURL = "https://image.pollinations.ai/prompt/"

// Pollinations generates images with a single unauthenticated GET.
type Pollinations struct {
	client  *http.Client
	baseURL string
	width   int
	height  int
}

func NewPollinations(client *http.Client, baseURL string, width, height int) *Pollinations {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = defaultPollinationsURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if width <= 0 || height <= 0 {
		width, height = 1280, 720
	}
	return &Pollinations{client: client, baseURL: baseURL, width: width, height: height}
}

func (p *Pollinations) Generate(ctx context.Context, prompt string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.requestURL(prompt), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pollinations: %w", err)
	}
	defer resp.Body.Close()
	return readImageBody("pollinations", resp)
}

func (p *Pollinations) requestURL(prompt string) string {
	q := url.Values{}
	q.Set("width", fmt.Sprint(p.width))
	q.Set("height", fmt.Sprint(p.height))
	q.Set("nologo", "true")
	// Same prompt, same seed: lets the service return identical output.
	q.Set("seed", fmt.Sprint(promptSeed(prompt)))
	return p.baseURL + url.PathEscape(prompt) + "?" + q.Encode()
}

func promptSeed(prompt string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(prompt))
	return h.Sum32() % 1_000_000
}
