package generate

import (
	"context"
	"time"
)

// DefaultTimeout is the hard deadline for one generation call.
const DefaultTimeout = 60 * time.Second

// Client wraps a single call to the external model.
type Client interface {
	// Generate sends one request and returns the raw model text unmodified.
	// It performs exactly one outbound call and never retries.
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Project is the metadata sent alongside the file content.
type Project struct {
	Name          string `json:"name"`
	DefaultBranch string `json:"default_branch"`
	Namespace     string `json:"namespace"`
}

// Request is a rendered prompt. It is built by prompt.Render and never persisted.
type Request struct {
	Prompt     string
	Project    Project
	SourcePath string
}

// Result is the raw model output of a successful call.
type Result struct {
	Text string

	// Bytes and Duration are for observability only.
	Bytes    int
	Duration time.Duration
}

// Backend identifies a generation backend.
type Backend string

const (
	BackendAnthropic Backend = "anthropic"
	BackendDuo       Backend = "duo"
)
