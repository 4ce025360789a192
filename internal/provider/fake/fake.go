// Package fake is an in-memory provider.Provider for tests and dry runs.
package fake

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/drewdunne/bicepmigrate/internal/provider"
)

var _ provider.Provider = (*Provider)(nil)

// Methods that change repository state.
var mutations = map[string]bool{
	"CreateBranch":  true,
	"CommitFiles":   true,
	"CreateRequest": true,
	"UpdateRequest": true,
}

// Provider keeps branches, files and merge requests of one repository in memory.
// Owner and repo arguments are ignored. It is safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	defaultBranch string
	refs          map[string]map[string]string // ref -> path -> content
	requests      []*provider.MergeRequest
	commits       map[string]int // created branch -> commit count
	changes       []provider.ChangedFile
	calls         map[string]int
	failures      map[string]error
	nextSHA       int
}

// New creates an empty repository whose default branch is defaultBranch.
func New(defaultBranch string) *Provider {
	return &Provider{
		defaultBranch: defaultBranch,
		refs:          map[string]map[string]string{defaultBranch: {}},
		commits:       make(map[string]int),
		calls:         make(map[string]int),
		failures:      make(map[string]error),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string { return "fake" }

// SetFile stores a file at ref, creating the ref if needed. Refs may be branch names or SHAs.
func (p *Provider) SetFile(ref, path, content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refs[ref] == nil {
		p.refs[ref] = make(map[string]string)
	}
	p.refs[ref][path] = content
}

// File returns a file at ref without counting as a call.
func (p *Provider) File(ref, path string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	content, ok := p.refs[ref][path]
	return content, ok
}

// SetChangedPaths sets what ChangedPaths returns.
func (p *Provider) SetChangedPaths(files []provider.ChangedFile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = files
}

// FailOn makes every later call to method return err. A nil err clears it.
func (p *Provider) FailOn(method string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, method)
		return
	}
	p.failures[method] = err
}

// SetRequestState changes the state of a merge request, as a reviewer closing or merging it would.
func (p *Provider) SetRequestState(number int, state string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, mr := range p.requests {
		if mr.Number == number {
			mr.State = state
		}
	}
}

// Requests returns copies of all merge requests in creation order.
func (p *Provider) Requests() []provider.MergeRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]provider.MergeRequest, len(p.requests))
	for i, mr := range p.requests {
		out[i] = *mr
	}
	return out
}

// Branches returns the branches created through CreateBranch, sorted.
func (p *Provider) Branches() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.commits))
	for name := range p.commits {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Commits returns the number of commits made to branch through CommitFiles.
func (p *Provider) Commits(branch string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.commits[branch]
}

// Calls returns how often method was called.
func (p *Provider) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

// TotalCalls returns the number of calls of any method.
func (p *Provider) TotalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, n := range p.calls {
		total += n
	}
	return total
}

// Mutations returns the number of calls that change repository state.
func (p *Provider) Mutations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for method, n := range p.calls {
		if mutations[method] {
			total += n
		}
	}
	return total
}

// begin records a call and returns the injected failure, if any. Callers hold p.mu.
func (p *Provider) begin(ctx context.Context, method string) error {
	p.calls[method]++
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.failures[method]
}

// GetRepository returns fixed metadata naming the default branch.
func (p *Provider) GetRepository(ctx context.Context, owner, repo string) (*provider.Repository, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, "GetRepository"); err != nil {
		return nil, err
	}
	return &provider.Repository{
		Name:          repo,
		FullName:      owner + "/" + repo,
		Namespace:     owner,
		DefaultBranch: p.defaultBranch,
	}, nil
}

// CreateBranch copies fromRef into name unless name exists.
func (p *Provider) CreateBranch(ctx context.Context, owner, repo, name, fromRef string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, "CreateBranch"); err != nil {
		return false, err
	}
	if _, ok := p.refs[name]; ok {
		return false, nil
	}
	from, ok := p.refs[fromRef]
	if !ok {
		return false, fmt.Errorf("resolving %s: %w", fromRef, provider.ErrNotFound)
	}

	files := make(map[string]string, len(from))
	for k, v := range from {
		files[k] = v
	}
	p.refs[name] = files
	p.commits[name] = 0
	return true, nil
}

// ReadFile returns the content of path at ref.
func (p *Provider) ReadFile(ctx context.Context, owner, repo, path, ref string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, "ReadFile"); err != nil {
		return nil, err
	}
	content, ok := p.refs[ref][path]
	if !ok {
		return nil, fmt.Errorf("reading %s at %s: %w", path, ref, provider.ErrNotFound)
	}
	return []byte(content), nil
}

// CommitFiles writes all files to branch at once.
func (p *Provider) CommitFiles(ctx context.Context, owner, repo, branch, message string, files []provider.FileChange) (*provider.Commit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, "CommitFiles"); err != nil {
		return nil, err
	}
	tree, ok := p.refs[branch]
	if !ok {
		return nil, fmt.Errorf("committing to %s: %w", branch, provider.ErrNotFound)
	}
	for _, f := range files {
		tree[f.Path] = f.Content
	}
	p.commits[branch]++
	p.nextSHA++
	return &provider.Commit{SHA: fmt.Sprintf("%040x", p.nextSHA)}, nil
}

// FindRequestByBranch returns the open request from branch, else the newest one.
func (p *Provider) FindRequestByBranch(ctx context.Context, owner, repo, branch string) (*provider.MergeRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, "FindRequestByBranch"); err != nil {
		return nil, err
	}

	var found *provider.MergeRequest
	for i := len(p.requests) - 1; i >= 0; i-- {
		mr := p.requests[i]
		if mr.SourceBranch != branch {
			continue
		}
		if mr.State == provider.StateOpen {
			c := *mr
			return &c, nil
		}
		if found == nil {
			c := *mr
			found = &c
		}
	}
	return found, nil
}

// CreateRequest opens a request. Like the real hosts it refuses a second open request
// from the same branch.
func (p *Provider) CreateRequest(ctx context.Context, owner, repo string, req provider.NewRequest) (*provider.MergeRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, "CreateRequest"); err != nil {
		return nil, err
	}
	if _, ok := p.refs[req.SourceBranch]; !ok {
		return nil, fmt.Errorf("source branch %s: %w", req.SourceBranch, provider.ErrNotFound)
	}
	for _, mr := range p.requests {
		if mr.SourceBranch == req.SourceBranch && mr.State == provider.StateOpen {
			return nil, fmt.Errorf("an open request already exists for %s", req.SourceBranch)
		}
	}

	number := len(p.requests) + 1
	mr := &provider.MergeRequest{
		ID:           number,
		Number:       number,
		Title:        req.Title,
		Description:  req.Body,
		SourceBranch: req.SourceBranch,
		TargetBranch: req.TargetBranch,
		State:        provider.StateOpen,
		URL:          fmt.Sprintf("https://example.test/%s/%s/requests/%d", owner, repo, number),
		CreatedAt:    time.Now(),
	}
	p.requests = append(p.requests, mr)
	c := *mr
	return &c, nil
}

// UpdateRequest replaces the description of request number.
func (p *Provider) UpdateRequest(ctx context.Context, owner, repo string, number int, body string) (*provider.MergeRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, "UpdateRequest"); err != nil {
		return nil, err
	}
	for _, mr := range p.requests {
		if mr.Number == number {
			mr.Description = body
			c := *mr
			return &c, nil
		}
	}
	return nil, fmt.Errorf("request %d: %w", number, provider.ErrNotFound)
}

// ChangedPaths returns what SetChangedPaths stored.
func (p *Provider) ChangedPaths(ctx context.Context, owner, repo, from, to string) ([]provider.ChangedFile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, "ChangedPaths"); err != nil {
		return nil, err
	}
	return append([]provider.ChangedFile(nil), p.changes...), nil
}
