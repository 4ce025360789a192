package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/xanzy/go-gitlab"

	"github.com/drewdunne/bicepmigrate/internal/provider"
)

// Ensure GitLabProvider implements provider.Provider.
var _ provider.Provider = (*GitLabProvider)(nil)

// GitLabProvider implements provider.Provider for GitLab.
type GitLabProvider struct {
	client  *gitlab.Client
	token   string
	baseURL string
}

// Option configures the GitLab provider.
type Option func(*GitLabProvider)

// WithBaseURL sets the instance URL (self-managed GitLab, or a test server).
func WithBaseURL(baseURL string) Option {
	return func(p *GitLabProvider) {
		if baseURL != "" {
			p.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// New creates a new GitLab provider.
func New(token string, opts ...Option) *GitLabProvider {
	p := &GitLabProvider{token: token}
	for _, opt := range opts {
		opt(p)
	}

	// Retries are decided by the caller; mutations must never be replayed.
	clientOpts := []gitlab.ClientOptionFunc{gitlab.WithCustomRetryMax(0)}
	if p.baseURL != "" {
		clientOpts = append(clientOpts, gitlab.WithBaseURL(p.baseURL+"/api/v4"))
	}
	p.client, _ = gitlab.NewClient(token, clientOpts...)

	return p
}

// Name returns the provider name.
func (p *GitLabProvider) Name() string {
	return "gitlab"
}

// projectPath joins owner/repo; go-gitlab escapes it.
func projectPath(owner, repo string) string {
	return owner + "/" + repo
}

func wrap(op string, resp *gitlab.Response, err error) error {
	if resp != nil {
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
func (p *GitLabProvider) GetRepository(ctx context.Context, owner, repo string) (*provider.Repository, error) {
	project, resp, err := p.client.Projects.GetProject(projectPath(owner, repo), nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, wrap("fetching project", resp, err)
	}

	result := &provider.Repository{
		ID:            project.ID,
		Name:          project.Path,
		FullName:      project.PathWithNamespace,
		DefaultBranch: project.DefaultBranch,
		URL:           project.WebURL,
	}
	if project.Namespace != nil {
		result.Namespace = project.Namespace.FullPath
	}
	return result, nil
}

// CreateBranch creates name from fromRef. GitLab answers 400 "Branch already exists"
// when it is there, which is reported as created=false.
func (p *GitLabProvider) CreateBranch(ctx context.Context, owner, repo, name, fromRef string) (bool, error) {
	_, resp, err := p.client.Branches.CreateBranch(projectPath(owner, repo), &gitlab.CreateBranchOptions{
		Branch: gitlab.Ptr(name),
		Ref:    gitlab.Ptr(fromRef),
	}, gitlab.WithContext(ctx))
	if err == nil {
		return true, nil
	}
	if resp != nil && resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return false, nil
	}
	return false, wrap("creating branch", resp, err)
}

// ReadFile returns the raw content of path at ref.
func (p *GitLabProvider) ReadFile(ctx context.Context, owner, repo, path, ref string) ([]byte, error) {
	data, resp, err := p.client.RepositoryFiles.GetRawFile(projectPath(owner, repo), path, &gitlab.GetRawFileOptions{
		Ref: gitlab.Ptr(ref),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, wrap("reading "+path, resp, err)
	}
	return data, nil
}

// CommitFiles writes all files to branch with one multi-action commit.
func (p *GitLabProvider) CommitFiles(ctx context.Context, owner, repo, branch, message string, files []provider.FileChange) (*provider.Commit, error) {
	pid := projectPath(owner, repo)

	actions := make([]*gitlab.CommitActionOptions, 0, len(files))
	for _, f := range files {
		action := gitlab.FileUpdate
		_, resp, err := p.client.RepositoryFiles.GetFileMetaData(pid, f.Path, &gitlab.GetFileMetaDataOptions{
			Ref: gitlab.Ptr(branch),
		}, gitlab.WithContext(ctx))
		switch {
		case resp != nil && resp.StatusCode == http.StatusNotFound:
			action = gitlab.FileCreate
		case err != nil:
			return nil, fmt.Errorf("checking %s: %w", f.Path, err)
		}

		actions = append(actions, &gitlab.CommitActionOptions{
			Action:   gitlab.Ptr(action),
			FilePath: gitlab.Ptr(f.Path),
			Content:  gitlab.Ptr(f.Content),
		})
	}

	commit, resp, err := p.client.Commits.CreateCommit(pid, &gitlab.CreateCommitOptions{
		Branch:        gitlab.Ptr(branch),
		CommitMessage: gitlab.Ptr(message),
		Actions:       actions,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, wrap("creating commit", resp, err)
	}

	return &provider.Commit{SHA: commit.ID, URL: commit.WebURL}, nil
}

// FindRequestByBranch returns the open merge request from branch, or the most recent one.
func (p *GitLabProvider) FindRequestByBranch(ctx context.Context, owner, repo, branch string) (*provider.MergeRequest, error) {
	mrs, resp, err := p.client.MergeRequests.ListProjectMergeRequests(projectPath(owner, repo), &gitlab.ListProjectMergeRequestsOptions{
		SourceBranch: gitlab.Ptr(branch),
		State:        gitlab.Ptr("all"),
		OrderBy:      gitlab.Ptr("created_at"),
		Sort:         gitlab.Ptr("desc"),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, wrap("listing merge requests", resp, err)
	}

	var found *provider.MergeRequest
	for _, mr := range mrs {
		result := &provider.MergeRequest{
			ID:           mr.ID,
			Number:       mr.IID,
			Title:        mr.Title,
			Description:  mr.Description,
			SourceBranch: mr.SourceBranch,
			TargetBranch: mr.TargetBranch,
			State:        normalizeState(mr.State),
			URL:          mr.WebURL,
		}
		if mr.CreatedAt != nil {
			result.CreatedAt = *mr.CreatedAt
		}

		if result.State == provider.StateOpen {
			return result, nil
		}
		if found == nil {
			found = result
		}
	}
	return found, nil
}

// CreateRequest opens a merge request that removes its source branch on merge.
func (p *GitLabProvider) CreateRequest(ctx context.Context, owner, repo string, req provider.NewRequest) (*provider.MergeRequest, error) {
	opts := &gitlab.CreateMergeRequestOptions{
		Title:              gitlab.Ptr(req.Title),
		Description:        gitlab.Ptr(req.Body),
		SourceBranch:       gitlab.Ptr(req.SourceBranch),
		TargetBranch:       gitlab.Ptr(req.TargetBranch),
		RemoveSourceBranch: gitlab.Ptr(true),
	}
	if len(req.Labels) > 0 {
		opts.Labels = gitlab.Ptr(gitlab.LabelOptions(req.Labels))
	}

	mr, resp, err := p.client.MergeRequests.CreateMergeRequest(projectPath(owner, repo), opts, gitlab.WithContext(ctx))
	if err != nil {
		return nil, wrap("creating merge request", resp, err)
	}
	return convertMergeRequest(mr), nil
}

// UpdateRequest replaces the merge request description.
func (p *GitLabProvider) UpdateRequest(ctx context.Context, owner, repo string, number int, body string) (*provider.MergeRequest, error) {
	mr, resp, err := p.client.MergeRequests.UpdateMergeRequest(projectPath(owner, repo), number, &gitlab.UpdateMergeRequestOptions{
		Description: gitlab.Ptr(body),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, wrap("updating merge request", resp, err)
	}
	return convertMergeRequest(mr), nil
}

// ChangedPaths lists files changed between two commits.
func (p *GitLabProvider) ChangedPaths(ctx context.Context, owner, repo, from, to string) ([]provider.ChangedFile, error) {
	cmp, resp, err := p.client.Repositories.Compare(projectPath(owner, repo), &gitlab.CompareOptions{
		From: gitlab.Ptr(from),
		To:   gitlab.Ptr(to),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, wrap("comparing commits", resp, err)
	}

	result := make([]provider.ChangedFile, len(cmp.Diffs))
	for i, d := range cmp.Diffs {
		status := provider.StatusModified
		if d.NewFile {
			status = provider.StatusAdded
		} else if d.DeletedFile {
			status = provider.StatusDeleted
		} else if d.RenamedFile {
			status = provider.StatusRenamed
		}
		result[i] = provider.ChangedFile{
			Path:   d.NewPath,
			Status: status,
		}
	}
	return result, nil
}

func convertMergeRequest(mr *gitlab.MergeRequest) *provider.MergeRequest {
	result := &provider.MergeRequest{
		ID:           mr.ID,
		Number:       mr.IID,
		Title:        mr.Title,
		Description:  mr.Description,
		SourceBranch: mr.SourceBranch,
		TargetBranch: mr.TargetBranch,
		State:        normalizeState(mr.State),
		URL:          mr.WebURL,
	}
	if mr.CreatedAt != nil {
		result.CreatedAt = *mr.CreatedAt
	}
	return result
}

// normalizeState maps GitLab's "opened" and "locked" onto the shared states.
func normalizeState(state string) string {
	switch state {
	case "opened", "locked":
		return provider.StateOpen
	case "merged":
		return provider.StateMerged
	default:
		return provider.StateClosed
	}
}
