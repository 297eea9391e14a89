// Package embedding implements the embedding client (C1): turning text into
// fixed-dimension vectors through an external backend, with an LRU cache
// and bounded-parallelism batch fan-out.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/smileformylove/memscreen/cache"
)

// Action is advisory: some backends use different models for retrieval vs.
// indexing. It never changes the vector's dimension within a deployment.
type Action string

const (
	ActionAdd    Action = "add"
	ActionSearch Action = "search"
	ActionUpdate Action = "update"
)

// Backend is the provider-specific transport (embedding/ollama,
// embedding/openai implement it). It performs exactly one embedding call per
// invocation; batching and caching are handled by Client.
type Backend interface {
	// Embed returns the vector for text, using action as a hint.
	Embed(ctx context.Context, text string, action Action) ([]float32, error)
	// Dimension returns the fixed vector dimension this backend produces.
	Dimension() int
}

// ErrDimensionMismatch is DimensionError from §7: the backend returned a
// vector whose length disagrees with the configured dimension.
var ErrDimensionMismatch = errors.New("memscreen: embedding dimension mismatch")

// Config tunes the client's cache and fan-out behavior.
type Config struct {
	// CacheSize is the LRU capacity keyed by exact input string. Default 1000.
	CacheSize int
	// BatchFanout bounds the concurrency of embed_batch when the backend
	// exposes only single-item calls. Default 4.
	BatchFanout int
	// MaxBatchTokens bounds the combined tiktoken-estimated token count of
	// any single EmbedBatch sub-batch. Default 8191, OpenAI's own
	// text-embedding-3 batch limit.
	MaxBatchTokens int
	// MaxBatchItems bounds the item count of any single EmbedBatch
	// sub-batch regardless of token count. Default 2048.
	MaxBatchItems int
}

func (c *Config) withDefaults() *Config {
	cfg := Config{CacheSize: 1000, BatchFanout: 4, MaxBatchTokens: 8191, MaxBatchItems: 2048}
	if c != nil {
		if c.CacheSize > 0 {
			cfg.CacheSize = c.CacheSize
		}
		if c.BatchFanout > 0 {
			cfg.BatchFanout = c.BatchFanout
		}
		if c.MaxBatchTokens > 0 {
			cfg.MaxBatchTokens = c.MaxBatchTokens
		}
		if c.MaxBatchItems > 0 {
			cfg.MaxBatchItems = c.MaxBatchItems
		}
	}
	return &cfg
}

// Client is the embedding client callers depend on. It wraps a Backend with
// an LRU cache (process-local, keyed by exact input) and token-aware
// batching.
type Client struct {
	backend  Backend
	cache    *cache.Cache[string, []float32]
	fanout   int
	batching *batchingStrategy
}

// New constructs a Client over backend. A nil cfg uses the documented
// defaults (cache size 1000, fanout 4, 8191 tokens/batch).
func New(backend Backend, cfg *Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		backend:  backend,
		cache:    cache.New[string, []float32](cfg.CacheSize, 0),
		fanout:   cfg.BatchFanout,
		batching: newBatchingStrategy(cfg.MaxBatchTokens, cfg.MaxBatchItems),
	}
}

// Dimension returns the backend's configured vector dimension.
func (c *Client) Dimension() int {
	return c.backend.Dimension()
}

// Embed returns the vector for text, validating its dimension and serving
// from cache when possible (§4.1).
func (c *Client) Embed(ctx context.Context, text string, action Action) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}

	v, err := c.backend.Embed(ctx, text, action)
	if err != nil {
		return nil, fmt.Errorf("memscreen: embed failed: %w", err)
	}
	if dim := c.backend.Dimension(); dim > 0 && len(v) != dim {
		return nil, fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(v), dim)
	}

	c.cache.Set(text, v)
	return v, nil
}

// EmbedBatch embeds every text, first splitting into token-bounded
// sub-batches (so a single call never asks the backend for more than its
// request-size budget) and then fanning each sub-batch out with bounded
// parallelism. Order of the returned slice matches the order of texts.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, action Action) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	for _, batch := range c.batching.split(texts) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.fanout)

		for _, i := range batch {
			text := texts[i]
			g.Go(func() error {
				v, err := c.Embed(gctx, text, action)
				if err != nil {
					return err
				}
				out[i] = v
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CacheStats exposes the embedding cache's running counters (§9 "Caches").
func (c *Client) CacheStats() cache.Stats {
	return c.cache.Stats()
}
