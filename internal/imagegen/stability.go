package imagegen

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
)

const defaultStabilityURL = "https://api.stability.ai/v2beta/stable-image/generate/sd3"

// Stability calls a keyed multipart text-to-image endpoint.
type Stability struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

func NewStability(client *http.Client, endpoint, apiKey string) (*Stability, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("stability: %w: api key not set", ErrAuthRequired)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if endpoint == "" {
		endpoint = defaultStabilityURL
	}
	return &Stability{client: client, endpoint: endpoint, apiKey: apiKey}, nil
}

func (s *Stability) Generate(ctx context.Context, prompt string) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range map[string]string{
		"prompt":        prompt,
		"output_format": "jpeg",
		"aspect_ratio":  "16:9",
	} {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Accept", "image/*")
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stability: %w", err)
	}
	defer resp.Body.Close()
	return readImageBody("stability", resp)
}
