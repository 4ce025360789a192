package event

import (
	"strings"
	"time"
)

// Push represents a normalized push webhook event.
type Push struct {
	// Provider is the git provider (github, gitlab).
	Provider string

	// Repository is the full repository path (owner/repo or group/subgroup/project).
	Repository    string
	DefaultBranch string

	// Ref is the full pushed ref, e.g. refs/heads/main.
	Ref string

	// Before and After bound the pushed commit range.
	Before string
	After  string

	// Paths are the files added or modified by the pushed commits, in commit order
	// and without duplicates. Removed files are not included.
	Paths []string

	// Deleted is set when the push removed the ref.
	Deleted bool

	// Actor who triggered the event.
	Actor string

	// Timestamp of the event.
	Timestamp time.Time

	// RawPayload is the original webhook payload.
	RawPayload []byte
}

// Key returns a unique key for this event (used for debouncing).
func (p *Push) Key() string {
	return p.Provider + "/" + p.Repository + "/" + p.After
}

// Branch returns the pushed branch name, or "" for tag pushes.
func (p *Push) Branch() string {
	if !strings.HasPrefix(p.Ref, "refs/heads/") {
		return ""
	}
	return strings.TrimPrefix(p.Ref, "refs/heads/")
}

// IsTag reports whether the push updated a tag.
func (p *Push) IsTag() bool {
	return strings.HasPrefix(p.Ref, "refs/tags/")
}

type commitFiles struct {
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
}

// changedPaths collects added and modified paths across commits, first occurrence wins.
func changedPaths(commits []commitFiles) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, c := range commits {
		for _, list := range [][]string{c.Added, c.Modified} {
			for _, p := range list {
				if seen[p] {
					continue
				}
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}
	return paths
}
