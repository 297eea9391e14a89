// Package openai implements llm.Backend against an OpenAI-compatible
// /v1/chat/completions endpoint, the shape a vLLM deployment exposes
// (§6 "LLM backend").
package openai

import (
	"context"
	"errors"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/smileformylove/memscreen/llm"
)

// Config configures a vLLM/OpenAI-compatible chat backend.
type Config struct {
	BaseURL        string
	Model          string
	RequestOptions []option.RequestOption
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return errors.New("memscreen: openai llm config: base_url is required")
	}
	if c.Model == "" {
		return errors.New("memscreen: openai llm config: model is required")
	}
	return nil
}

// Backend implements llm.Backend over openai.Client.Chat.Completions.
type Backend struct {
	cfg    Config
	client *openai.Client
}

var _ llm.Backend = (*Backend)(nil)

// New constructs a Backend.
func New(cfg Config) (*Backend, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	options := append([]option.RequestOption{option.WithBaseURL(cfg.BaseURL)}, cfg.RequestOptions...)
	client := openai.NewClient(options...)

	return &Backend{cfg: cfg, client: &client}, nil
}

func toOpenAIMessages(messages []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case llm.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// Generate implements llm.Backend. It forwards Messages, the JSON
// response-format hint when requested, and MaxOutputTokens, Temperature and
// TopP whenever they are positive. The same parameters go to every model:
// reasoning-class models are not told apart, so they receive
// Temperature/TopP too.
func (b *Backend) Generate(ctx context.Context, messages []llm.Message, opts llm.Options) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    b.cfg.Model,
		Messages: toOpenAIMessages(messages),
	}
	if opts.MaxOutputTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxOutputTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.TopP > 0 {
		params.TopP = openai.Float(opts.TopP)
	}
	if opts.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("memscreen: openai chat completion: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}
