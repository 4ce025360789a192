// Package duo calls the GitLab Duo chat completions endpoint.
package duo

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

const defaultBaseURL = "https://gitlab.com"

var _ generate.Client = (*Client)(nil)

func init() {
	generate.Register(generate.BackendDuo, func(cfg config.GenerationConfig) generate.Client {
		return New(cfg.APIKey, WithBaseURL(cfg.Endpoint), WithTimeout(cfg.Timeout()))
	})
}

// Client implements generate.Client against /api/v4/chat/completions.
type Client struct {
	token   string
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL sets the GitLab instance URL.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = strings.TrimSuffix(url, "/")
		}
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

// New creates a Duo client authenticated with a personal or project access token.
func New(token string, opts ...Option) *Client {
	c := &Client{
		token:   token,
		baseURL: defaultBaseURL,
		timeout: generate.DefaultTimeout,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate sends the prompt scoped to the project named in the request.
func (c *Client) Generate(ctx context.Context, req generate.Request) (*generate.Result, error) {
	payload := map[string]string{
		"content":       req.Prompt,
		"resource_type": "project",
		"resource_id":   req.Project.Namespace + "/" + req.Project.Name,
	}

	reqJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v4/chat/completions", bytes.NewReader(reqJSON))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("PRIVATE-TOKEN", c.token)

	start := time.Now()
	body, err := generate.Send(ctx, c.client, httpReq, c.timeout)
	if err != nil {
		return nil, err
	}

	text := extractText(body)
	if strings.TrimSpace(text) == "" {
		return nil, &generate.RefusalError{Reason: "empty response from Duo"}
	}

	return &generate.Result{
		Text:     text,
		Bytes:    len(text),
		Duration: time.Since(start),
	}, nil
}

// extractText accepts the response shapes the endpoint has been seen to return:
// an OpenAI-style choices list, {"response": ...}, {"content": ...} or a bare JSON string.
func extractText(body []byte) string {
	var obj struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Response string `json:"response"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(body, &obj); err == nil {
		if len(obj.Choices) > 0 && obj.Choices[0].Message.Content != "" {
			return obj.Choices[0].Message.Content
		}
		if obj.Response != "" {
			return obj.Response
		}
		return obj.Content
	}

	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		return s
	}
	return string(body)
}
