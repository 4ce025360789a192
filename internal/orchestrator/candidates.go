package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/drewdunne/bicepmigrate/internal/detect"
	"github.com/drewdunne/bicepmigrate/internal/migration"
	"github.com/drewdunne/bicepmigrate/internal/provider"
)

// RemoteCandidates returns candidates whose content is read through p at ref.
func RemoteCandidates(p provider.Provider, owner, repo, ref string, paths []string) []detect.Candidate {
	candidates := make([]detect.Candidate, 0, len(paths))
	for _, path := range paths {
		candidates = append(candidates, detect.Candidate{
			Path:   path,
			Loader: remoteLoader(p, owner, repo, path, ref),
		})
	}
	return candidates
}

func remoteLoader(p provider.Provider, owner, repo, path, ref string) detect.Loader {
	return func(ctx context.Context) (string, error) {
		data, err := p.ReadFile(ctx, owner, repo, path, ref)
		if errors.Is(err, provider.ErrNotFound) {
			return "", fmt.Errorf("%w: %w", detect.ErrNotFound, err)
		}
		if err != nil {
			return "", migration.Gateway("reading "+path, err)
		}
		return string(data), nil
	}
}

// ChangedCandidates lists the files changed between before and sha through p and returns
// loaders for everything that was not deleted. With no usable before, only sha's own
// changes are unknown, so nil is returned and callers fall back to explicit paths.
func ChangedCandidates(ctx context.Context, p provider.Provider, owner, repo, before, sha string) ([]detect.Candidate, error) {
	if before == "" || isZeroSHA(before) {
		return nil, nil
	}
	changed, err := p.ChangedPaths(ctx, owner, repo, before, sha)
	if err != nil {
		return nil, migration.Gateway("listing changed paths", err)
	}

	paths := make([]string, 0, len(changed))
	for _, c := range changed {
		if c.Status == provider.StatusDeleted {
			continue
		}
		paths = append(paths, c.Path)
	}
	return RemoteCandidates(p, owner, repo, sha, paths), nil
}

func isZeroSHA(s string) bool {
	for _, c := range s {
		if c != '0' {
			return false
		}
	}
	return true
}
