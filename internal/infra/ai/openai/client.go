package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-lint/internal/infra/ai/prompt"
)

const maxTokens = 512

const defaultModel = "gpt-4o-mini"

// Client implements domain.Summarizer on the chat completions API.
type Client struct {
	*openai.Client
	Model string
}

func NewClient(apiKey, model, baseURL string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{Client: openai.NewClientWithConfig(cfg), Model: model}
}

func (c *Client) Summarize(ctx context.Context, res domain.Result) (string, error) {
	model := c.Model
	if model == "" {
		model = defaultModel
	}
	req := openai.ChatCompletionRequest{
		Model: model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.GetSystemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: prompt.GetUserPrompt(res)},
		},
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") || strings.HasPrefix(model, "gpt-5") {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	var s prompt.Suggestion
	if err := json.Unmarshal([]byte(content), &s); err == nil && s.Summary != "" {
		return s.Summary, nil
	}
	// not the requested schema; the text is still a usable summary
	return content, nil
}
