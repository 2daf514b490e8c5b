// Package llm wraps the chat completion provider behind a single call.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/zhouzirui/medchat/backend/internal/config"
)

var (
	// ErrTransport wraps every failure reaching the provider, timeouts included.
	ErrTransport = errors.New("llm: transport error")
	// ErrEmptyCompletion is returned when the provider answers without choices
	// or with blank content.
	ErrEmptyCompletion = errors.New("llm: completion returned no content")
)

// Completer issues one system+user completion and returns trimmed text.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient implements Completer against the OpenAI chat completions API.
type OpenAIClient struct {
	client  chatClient
	model   string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewOpenAIClient builds a client from configuration. A placeholder key is
// accepted here; the provider rejects it when the first call is made.
func NewOpenAIClient(cfg config.AIConfig, logger zerolog.Logger) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return newOpenAIClient(openai.NewClientWithConfig(clientCfg), cfg.Model, cfg.Timeout, logger)
}

func newOpenAIClient(client chatClient, model string, timeout time.Duration, logger zerolog.Logger) *OpenAIClient {
	if client == nil {
		panic("llm: chat client cannot be nil")
	}
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	return &OpenAIClient{
		client:  client,
		model:   model,
		timeout: timeout,
		logger:  logger,
	}
}

// Complete sends the two-message prompt and returns the trimmed reply. The
// call is bounded by the configured timeout; expiry surfaces as an error.
func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		MaxTokens: maxTokens,
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: chat completion failed: %w", ErrTransport, err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	c.logger.Debug().
		Str("model", c.model).
		Int("max_tokens", maxTokens).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Dur("duration", time.Since(start)).
		Msg("completion finished")

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}
