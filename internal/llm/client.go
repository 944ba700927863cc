// Package llm wraps an OpenAI-compatible API behind the two
// capabilities the pipeline consumes: chat completion (single-shot and
// streaming) and text embedding.
package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sammcj/answer-engine/internal/config"
)

// Role identifies a conversation participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    Role
	Content string
}

// Client is a chat completion client bound to one model.
type Client struct {
	client      openai.Client
	model       string
	temperature float64
}

// NewClient creates a chat client from the resolved configuration.
func NewClient(cfg config.LLMConfig) (*Client, error) {
	if cfg.Model == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("chat model not configured")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

// Model returns the model identifier this client is bound to.
func (c *Client) Model() string {
	return c.model
}

// Complete performs a single non-streaming completion and returns the
// full response text.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    toParams(messages),
		Temperature: openai.Float(c.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream performs a streaming completion, invoking fn for every text
// increment as it arrives. It returns the accumulated full text. A
// non-nil error from fn aborts the stream.
func (c *Client) Stream(ctx context.Context, messages []Message, fn func(delta string) error) (string, error) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    toParams(messages),
		Temperature: openai.Float(c.temperature),
	})

	var full string
	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			full += choice.Delta.Content
			if err := fn(choice.Delta.Content); err != nil {
				_ = stream.Close()
				return full, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return full, fmt.Errorf("completion stream failed: %w", err)
	}
	return full, nil
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// EmbeddingClient implements the pipeline's embedding capability.
type EmbeddingClient struct {
	client openai.Client
	model  string
}

// NewEmbeddingClient creates an embedding client from the resolved
// configuration.
func NewEmbeddingClient(cfg config.EmbeddingConfig) (*EmbeddingClient, error) {
	if cfg.Model == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding model not configured")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &EmbeddingClient{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}, nil
}

// Embed returns one vector per input text, aligned by index. A text the
// backend skipped yields a nil vector rather than an error so callers
// can degrade per entry.
func (e *EmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: e.model,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}

	vectors := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && int(d.Index) < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	return vectors, nil
}
