package provider

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned (wrapped) when a repository, branch, file or ref does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable marks host errors worth retrying: 5xx answers and rate limiting.
	ErrUnavailable = errors.New("provider unavailable")
)

// Provider defines the source-control operations a migration run needs.
type Provider interface {
	// Name returns the provider name (github, gitlab).
	Name() string

	// GetRepository fetches repository metadata.
	GetRepository(ctx context.Context, owner, repo string) (*Repository, error)

	// CreateBranch creates name from fromRef if it does not exist yet.
	// created is false when the branch was already there.
	CreateBranch(ctx context.Context, owner, repo, name, fromRef string) (created bool, err error)

	// ReadFile returns the raw content of path at ref.
	ReadFile(ctx context.Context, owner, repo, path, ref string) ([]byte, error)

	// CommitFiles writes all files to branch in a single commit.
	CommitFiles(ctx context.Context, owner, repo, branch, message string, files []FileChange) (*Commit, error)

	// FindRequestByBranch returns the open merge request from branch, or else the most
	// recent closed or merged one. It returns nil when the branch never had one.
	FindRequestByBranch(ctx context.Context, owner, repo, branch string) (*MergeRequest, error)

	// CreateRequest opens a merge request.
	CreateRequest(ctx context.Context, owner, repo string, req NewRequest) (*MergeRequest, error)

	// UpdateRequest replaces the description of an open merge request.
	UpdateRequest(ctx context.Context, owner, repo string, number int, body string) (*MergeRequest, error)

	// ChangedPaths lists files changed between two commits.
	ChangedPaths(ctx context.Context, owner, repo, from, to string) ([]ChangedFile, error)
}

