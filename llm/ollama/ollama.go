// Package ollama implements llm.Backend against an Ollama-native HTTP
// endpoint (§6 "LLM backend"), including line-delimited streaming support
// for the chat handler (C10).
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smileformylove/memscreen/llm"
)

// Config describes an Ollama chat backend.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("memscreen: ollama llm config: base_url is required")
	}
	if c.Model == "" {
		return fmt.Errorf("memscreen: ollama llm config: model is required")
	}
	return nil
}

// Backend implements llm.Backend over POST /api/chat.
type Backend struct {
	cfg    Config
	client *http.Client
}

var _ llm.Backend = (*Backend)(nil)

// New constructs a Backend.
func New(cfg Config) (*Backend, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Backend{cfg: cfg, client: newLoopbackAwareClient(cfg.BaseURL)}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
	NumCtx      int     `json:"num_ctx,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Options  chatOptions   `json:"options,omitempty"`
	Format   string        `json:"format,omitempty"`
	Stream   bool          `json:"stream"`
}

type chatResponseChunk struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

func toChatMessages(messages []llm.Message) []chatMessage {
	out := make([]chatMessage, len(messages))
	for i, m := range messages {
		out[i] = chatMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}

func (b *Backend) buildRequest(messages []llm.Message, opts llm.Options, stream bool) chatRequest {
	req := chatRequest{
		Model:    b.cfg.Model,
		Messages: toChatMessages(messages),
		Stream:   stream,
		Options: chatOptions{
			Temperature: opts.Temperature,
			TopP:        opts.TopP,
			TopK:        opts.TopK,
			NumPredict:  opts.MaxOutputTokens,
			NumCtx:      opts.NumCtx,
		},
	}
	if opts.JSONMode {
		req.Format = "json"
	}
	return req
}

// Generate implements llm.Backend.
func (b *Backend) Generate(ctx context.Context, messages []llm.Message, opts llm.Options) (string, error) {
	body, err := json.Marshal(b.buildRequest(messages, opts, false))
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(b.cfg.BaseURL, "/")+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("memscreen: ollama chat request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("memscreen: ollama chat returned %d: %s", resp.StatusCode, string(data))
	}

	var chunk chatResponseChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return "", fmt.Errorf("memscreen: decode chat response: %w", err)
	}
	return chunk.Message.Content, nil
}

// Stream issues a streaming chat request and yields each line-delimited
// JSON chunk's content until a {"done":true} terminator, per §6.
func (b *Backend) Stream(ctx context.Context, messages []llm.Message, opts llm.Options) (func(yield func(string, error) bool), error) {
	body, err := json.Marshal(b.buildRequest(messages, opts, true))
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(b.cfg.BaseURL, "/")+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("memscreen: ollama chat stream request: %w", err)
	}

	return func(yield func(string, error) bool) {
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk chatResponseChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				if !yield("", err) {
					return
				}
				continue
			}
			if !yield(chunk.Message.Content, nil) {
				return
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", err)
		}
	}, nil
}

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
