// Package openai implements embedding.Backend against an OpenAI-compatible
// /v1/embeddings endpoint, the shape a vLLM deployment exposes.
package openai

import (
	"context"
	"errors"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/smileformylove/memscreen/embedding"
)

// Config configures a vLLM/OpenAI-compatible embedding backend.
type Config struct {
	BaseURL        string
	Model          string
	Dimension      int
	RequestOptions []option.RequestOption
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return errors.New("memscreen: openai embedding config: base_url is required")
	}
	if c.Model == "" {
		return errors.New("memscreen: openai embedding config: model is required")
	}
	if c.Dimension <= 0 {
		return errors.New("memscreen: openai embedding config: embedding_dims must be > 0")
	}
	return nil
}

// Backend implements embedding.Backend over the OpenAI embeddings API.
type Backend struct {
	cfg    Config
	client *openai.Client
}

var _ embedding.Backend = (*Backend)(nil)

// New constructs a Backend.
func New(cfg Config) (*Backend, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	options := append([]option.RequestOption{option.WithBaseURL(cfg.BaseURL)}, cfg.RequestOptions...)
	client := openai.NewClient(options...)

	return &Backend{cfg: cfg, client: &client}, nil
}

// Dimension returns the configured embedding dimension.
func (b *Backend) Dimension() int {
	return b.cfg.Dimension
}

// Embed implements embedding.Backend. action is not forwarded: the
// OpenAI-compatible embeddings API has no notion of it.
func (b *Backend) Embed(ctx context.Context, text string, _ embedding.Action) ([]float32, error) {
	resp, err := b.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: b.cfg.Model,
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("memscreen: openai embeddings: empty response")
	}

	raw := resp.Data[0].Embedding
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = float32(v)
	}
	return out, nil
}
