// Package llm implements the LLM client (C2): prompting an external model
// for fact extraction, update-plan generation, conflict classification, and
// summarization, with robust recovery of JSON-mode responses.
package llm

import (
	"context"
	"fmt"
)

// Role mirrors the role tags a chat-style message carries.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged turn.
type Message struct {
	Role    Role
	Content string
}

// UseCase tags a call with the preset (§4.10) its generation parameters
// should come from.
type UseCase string

const (
	UseCaseChat     UseCase = "chat"
	UseCaseChatFast UseCase = "chat_fast"
	UseCaseVision   UseCase = "vision"
	UseCaseSummary  UseCase = "summary"
	UseCaseSearch   UseCase = "search"
	UseCaseMemory   UseCase = "memory"
)

// Options carries the generation parameters a client forwards. Not every
// field applies to every backend (the OpenAI backend ignores TopK and
// NumCtx). No backend filters fields by model class: a reasoning-class model
// receives the same parameters as any other.
type Options struct {
	UseCase         UseCase
	MaxOutputTokens int
	Temperature     float64
	TopP            float64
	TopK            int
	NumCtx          int
	JSONMode        bool
}

// Preset is one named entry of the use-case preset table (§4.10, E4).
type Preset struct {
	Temperature     float64
	TopP            float64
	MaxOutputTokens int
	NumCtx          int
}

// Presets is the six use-case preset table carried over from the original
// implementation's performance_config module (E4). The memory preset uses
// the lowest temperature and top_p to minimize hallucination against
// retrieved context.
var Presets = map[UseCase]Preset{
	UseCaseChat:     {Temperature: 0.7, TopP: 0.9, MaxOutputTokens: 512, NumCtx: 4096},
	UseCaseChatFast: {Temperature: 0.5, TopP: 0.9, MaxOutputTokens: 256, NumCtx: 2048},
	UseCaseVision:   {Temperature: 0.4, TopP: 0.9, MaxOutputTokens: 512, NumCtx: 4096},
	UseCaseSummary:  {Temperature: 0.3, TopP: 0.85, MaxOutputTokens: 256, NumCtx: 4096},
	UseCaseSearch:   {Temperature: 0.2, TopP: 0.8, MaxOutputTokens: 128, NumCtx: 2048},
	UseCaseMemory:   {Temperature: 0.2, TopP: 0.7, MaxOutputTokens: 256, NumCtx: 4096},
}

// ApplyPreset fills in zero-valued generation parameters from the preset
// registered under opts.UseCase, leaving any caller-set value untouched.
func (o Options) ApplyPreset() Options {
	preset, ok := Presets[o.UseCase]
	if !ok {
		return o
	}
	if o.Temperature == 0 {
		o.Temperature = preset.Temperature
	}
	if o.TopP == 0 {
		o.TopP = preset.TopP
	}
	if o.MaxOutputTokens == 0 {
		o.MaxOutputTokens = preset.MaxOutputTokens
	}
	if o.NumCtx == 0 {
		o.NumCtx = preset.NumCtx
	}
	return o
}

// Backend is the provider-specific transport (llm/ollama, llm/openai).
type Backend interface {
	Generate(ctx context.Context, messages []Message, opts Options) (string, error)
}

// UpstreamError wraps any HTTP/transport failure from a Backend (§7).
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return fmt.Sprintf("memscreen: upstream llm error: %v", e.Err) }
func (e *UpstreamError) Unwrap() error { return e.Err }

// Client is the use-case-aware facade callers depend on. It is oblivious to
// prompt content; prompt construction lives in its callers (conflict,
// tiered, ingest, router).
type Client struct {
	backend Backend
}

// New constructs a Client over backend.
func New(backend Backend) *Client {
	return &Client{backend: backend}
}

// Generate prompts the backend and returns the raw response text. Transport
// failures are wrapped in UpstreamError; the client does not retry
// internally (§4.2 — the caller decides).
func (c *Client) Generate(ctx context.Context, messages []Message, opts Options) (string, error) {
	opts = opts.ApplyPreset()
	text, err := c.backend.Generate(ctx, messages, opts)
	if err != nil {
		return "", &UpstreamError{Err: err}
	}
	return text, nil
}

// GenerateJSON is Generate with JSONMode forced on and the robust recovery
// parser applied to the response, decoding into out. On total parse
// failure it returns ErrUnrecoverable and leaves out untouched; callers are
// responsible for a documented safe default (§4.2, §7 ParseError).
func (c *Client) GenerateJSON(ctx context.Context, messages []Message, opts Options, out any) error {
	opts.JSONMode = true
	text, err := c.Generate(ctx, messages, opts)
	if err != nil {
		return err
	}
	return RecoverJSON(text, out)
}
