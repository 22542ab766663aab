package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// assumed sustained upload throughput used to scale timeouts with
// payload size; a fixed timeout for all sizes times out large uploads.
const uploadBytesPerSecond = 256 * 1024

// Client is a thin OpenAI-compatible multimodal chat client.
// Thread-safe for concurrent use.
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new LLM client with the given configuration
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Client{
		config:  config,
		baseURL: config.APIURL,
		// Per-request deadlines are payload-sized; no client-wide timeout.
		httpClient: &http.Client{},
	}, nil
}

func (c *Client) Model() string {
	return c.config.Model
}

// TimeoutFor returns the request deadline for a payload of the given
// size: the configured base plus transfer time at the assumed
// throughput.
func (c *Client) TimeoutFor(payloadBytes int) time.Duration {
	base := time.Duration(c.config.Timeout) * time.Second
	transfer := time.Duration(payloadBytes/uploadBytesPerSecond) * time.Second
	return base + transfer
}

// ChatCompletion posts messages to the chat completions endpoint.
// The returned status code is 0 when the request never reached the
// server.
func (c *Client) ChatCompletion(ctx context.Context, messages []Message) (*ChatResponse, int, error) {
	request := ChatRequest{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.TimeoutFor(len(jsonData)))
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range c.config.GetHeaders() {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Surface the caller's cancellation rather than the derived
		// deadline context.
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	var chatResponse ChatResponse
	if err := json.Unmarshal(responseBody, &chatResponse); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to parse response: %w", err)
	}

	if chatResponse.Error != nil && chatResponse.Error.Message != "" {
		return &chatResponse, resp.StatusCode, chatResponse.Error
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &chatResponse, resp.StatusCode, fmt.Errorf("API request failed with status %d", resp.StatusCode)
	}

	return &chatResponse, resp.StatusCode, nil
}

// Complete is the single-reply convenience wrapper.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, int, error) {
	response, status, err := c.ChatCompletion(ctx, messages)
	if err != nil {
		return "", status, err
	}
	if len(response.Choices) == 0 {
		return "", status, fmt.Errorf("no choices in response")
	}
	return response.Choices[0].Message.Content, status, nil
}
