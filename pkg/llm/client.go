package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxResponseSize limits the response body read to prevent memory
// exhaustion on a misbehaving endpoint.
const maxResponseSize = 10 * 1024 * 1024

// defaultMaxTokens is used when a request leaves MaxTokens unset.
const defaultMaxTokens = 8192

// apiVersion is the messages API version header value.
const apiVersion = "2023-06-01"

// HTTPClient implements Client against an Anthropic-style messages endpoint
// with an ordered model fallback chain.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	models     []string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) { h.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *HTTPClient) { h.logger = l }
}

// NewHTTPClient creates a client for the given endpoint, credential, and
// ordered model list. The first model is preferred; later models are
// fallbacks.
func NewHTTPClient(baseURL, apiKey string, models []string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		models:  models,
		httpClient: &http.Client{
			Timeout: 180 * time.Second,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiRequest is the wire format of a create-message call.
type apiRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	Tools     []Tool    `json:"tools,omitempty"`
}

// apiResponse is the wire format of a create-message reply.
type apiResponse struct {
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// CreateMessage sends the request through the model fallback chain.
// Auth and payment failures abort immediately; any other failure falls
// through to the next model. If all models exhaust, the last error is
// returned.
func (c *HTTPClient) CreateMessage(ctx context.Context, req *MessageRequest) (*Response, error) {
	if len(c.models) == 0 {
		return nil, &APIError{Class: ClassUnexpected, Body: "no models configured"}
	}

	var lastErr error
	for _, model := range c.models {
		resp, err := c.doRequest(ctx, model, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if IsFatal(err) || IsCancelled(err) {
			return nil, err
		}
		c.logger.Warn("Model failed, trying fallback", "model", model, "error", err)
	}
	return nil, lastErr
}

// OneShot sends a single system+user exchange without tools.
func (c *HTTPClient) OneShot(ctx context.Context, system, user string) (string, Usage, error) {
	resp, err := c.CreateMessage(ctx, &MessageRequest{
		System:   system,
		Messages: []Message{UserText(user)},
	})
	if err != nil {
		return "", Usage{}, err
	}
	return resp.Text(), resp.Usage, nil
}

func (c *HTTPClient) doRequest(ctx context.Context, model string, req *MessageRequest) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	body, err := json.Marshal(apiRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  req.Messages,
		Tools:     req.Tools,
	})
	if err != nil {
		return nil, &APIError{Class: ClassUnexpected, Model: model, Body: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, &APIError{Class: ClassUnexpected, Model: model, Body: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, &APIError{Class: ClassCancelled, Model: model, Body: err.Error()}
		}
		return nil, &APIError{Class: ClassTransport, Model: model, Body: err.Error()}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		if ctx.Err() != nil {
			return nil, &APIError{Class: ClassCancelled, Model: model, Body: err.Error()}
		}
		return nil, &APIError{Class: ClassTransport, Model: model, Body: err.Error()}
	}

	if httpResp.StatusCode != http.StatusOK {
		snippet := string(respBody)
		if len(snippet) > 300 {
			snippet = snippet[:300] + "..."
		}
		return nil, &APIError{
			Class:  classify(httpResp.StatusCode),
			Status: httpResp.StatusCode,
			Model:  model,
			Body:   snippet,
		}
	}

	var parsed apiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &APIError{Class: ClassUnexpected, Model: model, Body: fmt.Sprintf("parse response: %v", err)}
	}

	return &Response{
		StopReason: parsed.StopReason,
		Content:    parsed.Content,
		Usage:      parsed.Usage,
		Model:      parsed.Model,
	}, nil
}
