package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPConfig points at an embedding server speaking the teacher's
// /embed JSON protocol (texts + mode in, embeddings out).
type HTTPConfig struct {
	BaseURL    string
	Dimensions int
	Timeout    time.Duration
}

// httpProvider is the production Provider: a thin client over a
// network-reachable embedding server, matching the teacher's localProvider
// request/response shapes but dialing a configured endpoint instead of
// managing a subprocess.
type httpProvider struct {
	baseURL    string
	dimensions int
	client     *http.Client
}

func NewHTTPProvider(cfg HTTPConfig) Provider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpProvider{
		baseURL:    cfg.BaseURL,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: timeout},
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Mode  string   `json:"mode"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (p *httpProvider) Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	body, err := json.Marshal(embedRequest{Texts: texts, Mode: string(mode)})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed server returned status %d", resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	return out.Embeddings, nil
}

func (p *httpProvider) Dimensions() int { return p.dimensions }

func (p *httpProvider) Close() error { return nil }
