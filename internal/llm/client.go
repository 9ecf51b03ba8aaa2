package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"time"
)

// ClientConfig holds the OpenRouter connection settings.
type ClientConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
}

// Client handles communication with the OpenRouter chat-completions
// API, with bounded retries on rate limits and server errors.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	maxRetries int
	baseDelay  time.Duration
}

// ChatMessage represents a message in the chat completion request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest represents the request body for chat completion
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// Usage carries upstream token accounting
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponse represents the response from chat completion
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// UpstreamError is a non-retryable or retry-exhausted upstream failure.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error (status %d): %s", e.Status, e.Body)
}

// NewClient creates a new OpenRouter API client
func NewClient(cfg ClientConfig) *Client {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxRetries: maxRetries,
		baseDelay:  time.Second,
	}
}

// IsConfigured returns true if the client has a credential
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.model
}

// ChatCompletion sends a chat completion request. Rate limits (429)
// and server errors (5xx) are retried with exponential backoff plus
// jitter, up to maxRetries retries beyond the first attempt; any other
// client error is terminal immediately.
func (c *Client) ChatCompletion(ctx context.Context, messages []ChatMessage, temperature float64, maxTokens int) (*ChatCompletionResponse, error) {
	if temperature == 0 {
		temperature = 0.1
	}
	if maxTokens == 0 {
		maxTokens = 8000
	}
	reqBody := ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay*time.Duration(1<<(attempt-1)) + time.Duration(rand.Int63n(int64(c.baseDelay)))
			log.Printf("Retrying LLM call in %s (attempt %d): %v", delay, attempt+1, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.doRequest(ctx, bodyBytes)
		if err != nil {
			var re *retryableError
			if !errors.As(err, &re) {
				return nil, err
			}
			lastErr = re.err
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("LLM call failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// retryableError marks a failure worth another attempt.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func (c *Client) doRequest(ctx context.Context, body []byte) (*ChatCompletionResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", "https://audit-agent.local")
	req.Header.Set("X-Title", "Audit Agent")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &retryableError{fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{fmt.Errorf("failed to read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var chatResp ChatCompletionResponse
		if err := json.Unmarshal(respBody, &chatResp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		if len(chatResp.Choices) == 0 {
			return nil, fmt.Errorf("no choices in response")
		}
		return &chatResp, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &retryableError{&UpstreamError{Status: resp.StatusCode, Body: string(respBody)}}
	default:
		// Non-429 client errors are terminal; retrying cannot help.
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(respBody)}
	}
}
