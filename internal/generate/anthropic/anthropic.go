package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/drewdunne/bicepmigrate/internal/config"
	"github.com/drewdunne/bicepmigrate/internal/generate"
)

const defaultBaseURL = "https://api.anthropic.com/v1"

// Ensure Client implements generate.Client.
var _ generate.Client = (*Client)(nil)

func init() {
	generate.Register(generate.BackendAnthropic, func(cfg config.GenerationConfig) generate.Client {
		opts := []Option{WithTimeout(cfg.Timeout())}
		if cfg.Endpoint != "" {
			opts = append(opts, WithBaseURL(cfg.Endpoint))
		}
		if cfg.MaxTokens > 0 {
			opts = append(opts, WithMaxTokens(cfg.MaxTokens))
		}
		return New(cfg.APIKey, cfg.Model, opts...)
	})
}

// Client implements generate.Client using the Anthropic Messages API.
type Client struct {
	apiKey    string
	model     string
	baseURL   string
	maxTokens int
	timeout   time.Duration
	client    *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithTimeout sets the hard deadline of one call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxTokens sets the response token budget.
func WithMaxTokens(n int) Option {
	return func(c *Client) {
		c.maxTokens = n
	}
}

// New creates a new Anthropic generation client.
func New(apiKey, model string, opts ...Option) *Client {
	c := &Client{
		apiKey:    apiKey,
		model:     model,
		baseURL:   defaultBaseURL,
		maxTokens: 8192,
		timeout:   generate.DefaultTimeout,
		client:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate sends the rendered prompt and returns the model's text.
func (c *Client) Generate(ctx context.Context, req generate.Request) (*generate.Result, error) {
	reqBody := map[string]interface{}{
		"model":      c.model,
		"max_tokens": c.maxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}

	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(reqJSON))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	start := time.Now()
	body, err := generate.Send(ctx, c.client, httpReq, c.timeout)
	if err != nil {
		return nil, err
	}

	text, err := parseResponse(body)
	if err != nil {
		return nil, err
	}

	return &generate.Result{
		Text:     text,
		Bytes:    len(text),
		Duration: time.Since(start),
	}, nil
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func parseResponse(body []byte) (string, error) {
	var resp messagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		// A 200 with an unreadable body is a broken exchange, not a refusal.
		return "", &generate.TransportError{Err: fmt.Errorf("decoding response: %w", err)}
	}

	if resp.StopReason == "refusal" {
		return "", &generate.RefusalError{Reason: "model refused the request"}
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", &generate.RefusalError{Reason: "empty response from model"}
	}
	return text, nil
}
