package metadata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAICompleter talks to any OpenAI-compatible endpoint (Groq by default).
type OpenAICompleter struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAICompleter creates a completer. An empty baseURL targets OpenAI itself.
func NewOpenAICompleter(apiKey, baseURL, model string, opts ...option.RequestOption) *OpenAICompleter {
	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(baseURL))
	}
	clientOpts = append(clientOpts, opts...)
	return &OpenAICompleter{
		client:  openai.NewClient(clientOpts...),
		model:   model,
		timeout: 60 * time.Second,
	}
}

// Complete requests a JSON object answer.
func (c *OpenAICompleter) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Model:       c.model,
		Temperature: openai.Float(0.8),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("chat completion returned empty content")
	}
	return content, nil
}
