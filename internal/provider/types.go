package provider

import "time"

// Merge request states, normalized across providers.
const (
	StateOpen   = "open"
	StateClosed = "closed"
	StateMerged = "merged"
)

// File change statuses reported by ChangedPaths.
const (
	StatusAdded    = "added"
	StatusModified = "modified"
	StatusDeleted  = "deleted"
	StatusRenamed  = "renamed"
)

// MergeRequest represents a merge request/pull request.
type MergeRequest struct {
	ID           int
	Number       int // PR number (GitHub) or MR IID (GitLab)
	Title        string
	Description  string
	SourceBranch string
	TargetBranch string
	State        string // open, closed, merged
	URL          string
	CreatedAt    time.Time
}

// NewRequest holds what is needed to open a merge request.
type NewRequest struct {
	SourceBranch string
	TargetBranch string
	Title        string
	Body         string
	Labels       []string
}

// FileChange is a file to create or overwrite in a commit.
type FileChange struct {
	Path    string
	Content string
}

// Commit identifies a created commit.
type Commit struct {
	SHA string
	URL string
}

// ChangedFile represents a file changed between two commits.
type ChangedFile struct {
	Path   string
	Status string // added, modified, deleted, renamed
}

// Repository represents a git repository.
type Repository struct {
	ID            int
	Name          string
	FullName      string // owner/repo
	Namespace     string
	DefaultBranch string
	URL           string
}
