// Package ollama implements embedding.Backend against an Ollama-native
// HTTP endpoint (§6 "Embedding backend").
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smileformylove/memscreen/embedding"
)

// Config describes an Ollama embedding backend.
type Config struct {
	BaseURL       string
	Model         string
	Dimension     int
	Timeout       time.Duration
	ProvisionOnStart bool
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("memscreen: ollama embedding config: base_url is required")
	}
	if c.Model == "" {
		return fmt.Errorf("memscreen: ollama embedding config: model is required")
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("memscreen: ollama embedding config: embedding_dims must be > 0")
	}
	return nil
}

// Backend implements embedding.Backend over POST /api/embeddings.
type Backend struct {
	cfg    Config
	client *http.Client
}

var _ embedding.Backend = (*Backend)(nil)

// New constructs a Backend. If cfg.ProvisionOnStart is set, it attempts to
// provision the model via /api/tags + /api/pull; a provisioning failure
// does not prevent construction (§4.1 "initialization may continue").
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	b := &Backend{
		cfg:    cfg,
		client: newLoopbackAwareClient(cfg.BaseURL),
	}

	if cfg.ProvisionOnStart {
		_ = b.ensureModel(ctx)
	}

	return b, nil
}

// Dimension returns the configured embedding dimension.
func (b *Backend) Dimension() int {
	return b.cfg.Dimension
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed implements embedding.Backend.
func (b *Backend) Embed(ctx context.Context, text string, action embedding.Action) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: b.cfg.Model, Prompt: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(b.cfg.BaseURL, "/")+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("memscreen: ollama embeddings request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("memscreen: ollama embeddings returned %d: %s", resp.StatusCode, string(data))
	}

	var out embedResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("memscreen: decode embeddings response: %w", err)
	}
	return out.Embedding, nil
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (b *Backend) ensureModel(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(b.cfg.BaseURL, "/")+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return err
	}
	for _, m := range tags.Models {
		if m.Name == b.cfg.Model {
			return nil
		}
	}
	return b.pull(ctx)
}

func (b *Backend) pull(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{"name": b.cfg.Model})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(b.cfg.BaseURL, "/")+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("memscreen: ollama pull %q returned %d", b.cfg.Model, resp.StatusCode)
	}
	return nil
}

// newLoopbackAwareClient returns an http.Client whose transport never
// inherits system-wide proxy environment variables when baseURL points at
// localhost/127.0.0.1 (§4.2's per-model proxy-bypass policy).
func newLoopbackAwareClient(baseURL string) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if u, err := url.Parse(baseURL); err == nil && isLoopbackHost(u.Hostname()) {
		transport.Proxy = nil
	}

	return &http.Client{Transport: transport}
}

func isLoopbackHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
