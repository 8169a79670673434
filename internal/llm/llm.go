// Package llm is the text generation collaborator of the document
// generator.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/gbaeke/flowkit"
)

// Client completes a single prompt.
type Client interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, prompt string, maxTokens int) (string, error)

// Complete calls f.
func (f ClientFunc) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return f(ctx, prompt, maxTokens)
}

// Options configures an OpenAI client.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// OpenAI is a Client backed by the chat completions API.
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float32
	logger      *slog.Logger
}

// NewOpenAI creates a chat completions client.
func NewOpenAI(opts Options) (*OpenAI, error) {
	if opts.APIKey == "" {
		return nil, errors.New("llm: OPENAI_API_KEY is not set")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	model := opts.Model
	if model == "" {
		model = "gpt-4.1-nano"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: opts.Temperature,
		logger:      logger,
	}, nil
}

// Complete sends prompt as a single user message. Requests the API rejects
// outright (4xx other than rate limiting) are marked fatal so the caller's
// retry loop does not repeat them.
func (c *OpenAI) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	c.logger.Debug("Calling LLM.", "model", c.model, "maxTokens", maxTokens, "promptLength", len(prompt))

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		err = fmt.Errorf("llm: chat completion: %w", err)
		if permanent(err) {
			return "", flowkit.Fatal(err)
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm: response has no choices")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("llm: response is empty")
	}
	c.logger.Debug("LLM responded.", "model", c.model, "responseLength", len(content), "totalTokens", resp.Usage.TotalTokens)
	return content, nil
}

func permanent(err error) bool {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout
}
