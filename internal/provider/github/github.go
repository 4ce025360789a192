package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v60/github"

	"github.com/drewdunne/bicepmigrate/internal/provider"
)

// Ensure GitHubProvider implements provider.Provider.
var _ provider.Provider = (*GitHubProvider)(nil)

// GitHubProvider implements provider.Provider for GitHub.
type GitHubProvider struct {
	client *github.Client
	token  string
}

// Option configures the GitHub provider.
type Option func(*GitHubProvider)

// WithBaseURL sets a custom API URL (GitHub Enterprise, or a test server).
func WithBaseURL(url string) Option {
	return func(p *GitHubProvider) {
		if url == "" {
			return
		}
		p.client.BaseURL, _ = p.client.BaseURL.Parse(strings.TrimSuffix(url, "/") + "/")
	}
}

// New creates a new GitHub provider.
func New(token string, opts ...Option) *GitHubProvider {
	httpClient := &http.Client{
		Transport: &tokenTransport{token: token},
	}
	client := github.NewClient(httpClient)

	p := &GitHubProvider{
		client: client,
		token:  token,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// tokenTransport adds authorization header to requests.
type tokenTransport struct {
	token string
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+t.token)
	return http.DefaultTransport.RoundTrip(req)
}

// Name returns the provider name.
func (p *GitHubProvider) Name() string {
	return "github"
}

func isStatus(resp *github.Response, code int) bool {
	return resp != nil && resp.Response != nil && resp.StatusCode == code
}

func wrap(op string, resp *github.Response, err error) error {
	if resp != nil && resp.Response != nil {
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, provider.ErrNotFound)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("%s: %w: %w", op, provider.ErrUnavailable, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// GetRepository fetches repository metadata.
func (p *GitHubProvider) GetRepository(ctx context.Context, owner, repo string) (*provider.Repository, error) {
	r, resp, err := p.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, wrap("fetching repository", resp, err)
	}

	return &provider.Repository{
		ID:            int(r.GetID()),
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		Namespace:     r.GetOwner().GetLogin(),
		DefaultBranch: r.GetDefaultBranch(),
		URL:           r.GetHTMLURL(),
	}, nil
}

// CreateBranch creates name at the head of fromRef. GitHub answers 422
// "Reference already exists" when it is there, which is reported as created=false.
func (p *GitHubProvider) CreateBranch(ctx context.Context, owner, repo, name, fromRef string) (bool, error) {
	from, resp, err := p.client.Git.GetRef(ctx, owner, repo, "heads/"+fromRef)
	if err != nil {
		return false, wrap("resolving "+fromRef, resp, err)
	}

	_, resp, err = p.client.Git.CreateRef(ctx, owner, repo, &github.Reference{
		Ref:    github.String("refs/heads/" + name),
		Object: &github.GitObject{SHA: from.GetObject().SHA},
	})
	if err == nil {
		return true, nil
	}
	if isStatus(resp, http.StatusUnprocessableEntity) && strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return false, nil
	}
	return false, wrap("creating branch", resp, err)
}

// ReadFile returns the decoded content of path at ref.
func (p *GitHubProvider) ReadFile(ctx context.Context, owner, repo, path, ref string) ([]byte, error) {
	fc, _, resp, err := p.client.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return nil, wrap("reading "+path, resp, err)
	}
	if fc == nil {
		return nil, fmt.Errorf("reading %s: is a directory: %w", path, provider.ErrNotFound)
	}

	content, err := fc.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return []byte(content), nil
}

// CommitFiles writes all files to branch as one commit built through the git data API:
// a tree on top of the branch head, a commit with that tree, and a ref update.
func (p *GitHubProvider) CommitFiles(ctx context.Context, owner, repo, branch, message string, files []provider.FileChange) (*provider.Commit, error) {
	ref, resp, err := p.client.Git.GetRef(ctx, owner, repo, "heads/"+branch)
	if err != nil {
		return nil, wrap("fetching branch ref", resp, err)
	}
	parentSHA := ref.GetObject().GetSHA()

	parent, resp, err := p.client.Git.GetCommit(ctx, owner, repo, parentSHA)
	if err != nil {
		return nil, wrap("fetching head commit", resp, err)
	}

	entries := make([]*github.TreeEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, &github.TreeEntry{
			Path:    github.String(f.Path),
			Mode:    github.String("100644"),
			Type:    github.String("blob"),
			Content: github.String(f.Content),
		})
	}

	tree, resp, err := p.client.Git.CreateTree(ctx, owner, repo, parent.GetTree().GetSHA(), entries)
	if err != nil {
		return nil, wrap("creating tree", resp, err)
	}

	commit, resp, err := p.client.Git.CreateCommit(ctx, owner, repo, &github.Commit{
		Message: github.String(message),
		Tree:    tree,
		Parents: []*github.Commit{{SHA: github.String(parentSHA)}},
	}, nil)
	if err != nil {
		return nil, wrap("creating commit", resp, err)
	}

	_, resp, err = p.client.Git.UpdateRef(ctx, owner, repo, &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: commit.SHA},
	}, false)
	if err != nil {
		return nil, wrap("updating branch ref", resp, err)
	}

	return &provider.Commit{SHA: commit.GetSHA(), URL: commit.GetHTMLURL()}, nil
}

// FindRequestByBranch returns the open pull request from branch, or the most recent one.
func (p *GitHubProvider) FindRequestByBranch(ctx context.Context, owner, repo, branch string) (*provider.MergeRequest, error) {
	prs, resp, err := p.client.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
		State: "all",
		Head:  owner + ":" + branch,
	})
	if err != nil {
		return nil, wrap("listing pull requests", resp, err)
	}

	var found *provider.MergeRequest
	for _, pr := range prs {
		result := convertPullRequest(pr)
		if result.State == provider.StateOpen {
			return result, nil
		}
		if found == nil {
			found = result
		}
	}
	return found, nil
}

// CreateRequest opens a pull request and labels it.
func (p *GitHubProvider) CreateRequest(ctx context.Context, owner, repo string, req provider.NewRequest) (*provider.MergeRequest, error) {
	pr, resp, err := p.client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(req.Title),
		Head:  github.String(req.SourceBranch),
		Base:  github.String(req.TargetBranch),
		Body:  github.String(req.Body),
	})
	if err != nil {
		return nil, wrap("creating pull request", resp, err)
	}

	if len(req.Labels) > 0 {
		if _, resp, err := p.client.Issues.AddLabelsToIssue(ctx, owner, repo, pr.GetNumber(), req.Labels); err != nil {
			return convertPullRequest(pr), wrap("labeling pull request", resp, err)
		}
	}

	return convertPullRequest(pr), nil
}

// UpdateRequest replaces the pull request body.
func (p *GitHubProvider) UpdateRequest(ctx context.Context, owner, repo string, number int, body string) (*provider.MergeRequest, error) {
	pr, resp, err := p.client.PullRequests.Edit(ctx, owner, repo, number, &github.PullRequest{
		Body: github.String(body),
	})
	if err != nil {
		return nil, wrap("updating pull request", resp, err)
	}
	return convertPullRequest(pr), nil
}

// ChangedPaths lists files changed between two commits.
func (p *GitHubProvider) ChangedPaths(ctx context.Context, owner, repo, from, to string) ([]provider.ChangedFile, error) {
	cmp, resp, err := p.client.Repositories.CompareCommits(ctx, owner, repo, from, to, nil)
	if err != nil {
		return nil, wrap("comparing commits", resp, err)
	}

	result := make([]provider.ChangedFile, len(cmp.Files))
	for i, f := range cmp.Files {
		status := provider.StatusModified
		switch f.GetStatus() {
		case "added":
			status = provider.StatusAdded
		case "removed":
			status = provider.StatusDeleted
		case "renamed":
			status = provider.StatusRenamed
		}
		result[i] = provider.ChangedFile{
			Path:   f.GetFilename(),
			Status: status,
		}
	}
	return result, nil
}

func convertPullRequest(pr *github.PullRequest) *provider.MergeRequest {
	state := provider.StateClosed
	switch {
	case pr.GetState() == "open":
		state = provider.StateOpen
	case pr.MergedAt != nil || pr.GetMerged():
		state = provider.StateMerged
	}

	return &provider.MergeRequest{
		ID:           int(pr.GetID()),
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		Description:  pr.GetBody(),
		SourceBranch: pr.GetHead().GetRef(),
		TargetBranch: pr.GetBase().GetRef(),
		State:        state,
		URL:          pr.GetHTMLURL(),
		CreatedAt:    pr.GetCreatedAt().Time,
	}
}
