package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/EvanCNavarro/disc-sub000/core/retry"
	"github.com/EvanCNavarro/disc-sub000/logger"
	"github.com/EvanCNavarro/disc-sub000/model"
)

// Config contains configuration for the chat model client.
type Config struct {
	APIBaseURL  string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Client calls an OpenAI-compatible chat completions API. Every request asks
// for JSON mode so downstream parsing can be strict.
type Client struct {
	config     *Config
	httpClient *http.Client
}

// NewClient creates a new chat model client.
func NewClient(config *Config) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Model returns the configured model name, used for cache keying.
func (c *Client) Model() string {
	return c.config.Model
}

// Result is one completion plus its token usage.
type Result struct {
	Content string
	Usage   model.TokenUsage
}

// CompleteJSON sends the messages and returns the first choice. Transient
// failures are retried within the LLM attempt budget.
func (c *Client) CompleteJSON(ctx context.Context, messages []model.OpenAIChatMessage) (*Result, error) {
	var result *Result
	err := retry.Do(ctx, retry.LLMPolicy, "llm.complete", func() error {
		r, err := c.complete(ctx, messages)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) complete(ctx context.Context, messages []model.OpenAIChatMessage) (*Result, error) {
	reqBody := model.OpenAIChatRequest{
		Model:          c.config.Model,
		Messages:       messages,
		MaxTokens:      c.config.MaxTokens,
		Temperature:    c.config.Temperature,
		ResponseFormat: &model.OpenAIResponseFormat{Type: "json_object"},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.config.APIBaseURL+"/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &retry.StatusError{Code: resp.StatusCode, Message: string(body)}
	}

	var chatResp model.OpenAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	logger.Debug("[LLM] 完成对话调用",
		logger.String("model", c.config.Model),
		logger.Int("promptTokens", chatResp.Usage.PromptTokens),
		logger.Int("completionTokens", chatResp.Usage.CompletionTokens))

	return &Result{
		Content: chatResp.Choices[0].Message.Content,
		Usage:   chatResp.Usage,
	}, nil
}
