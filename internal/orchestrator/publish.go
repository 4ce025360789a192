package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/drewdunne/bicepmigrate/internal/config"
	"github.com/drewdunne/bicepmigrate/internal/metrics"
	"github.com/drewdunne/bicepmigrate/internal/migration"
	"github.com/drewdunne/bicepmigrate/internal/provider"
	"github.com/drewdunne/bicepmigrate/internal/record"
)

// publish pushes the valid artifacts to the migration branch and opens or refreshes its
// request. The whole read-then-write sequence runs under the branch lock.
func (r *run) publish(ctx context.Context, merged *config.MergedConfig, target string) error {
	owner, name := r.trig.Owner(), r.trig.Name()
	base := migration.BranchName(merged.BranchPrefix, r.trig.RunRef())

	lockCtx := ctx
	if wait := r.cfg.Lock.WaitSeconds; wait > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, time.Duration(wait)*time.Second)
		defer cancel()
	}
	release, err := r.locker.Acquire(lockCtx, record.Key(r.provider.Name(), r.trig.Repository, base))
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx.Err())
		}
		return migration.Gateway("acquiring publish lock for "+base, err)
	}
	defer release()

	branch, mr, err := r.findBranch(ctx, owner, name, base)
	if err != nil {
		return err
	}
	r.outcome.Branch = branch
	log := r.logger.With(zap.String("branch", branch))

	created := false
	if mr == nil {
		err := r.mutate(ctx, "creating branch "+branch, func(ctx context.Context) error {
			var err error
			created, err = r.provider.CreateBranch(ctx, owner, name, branch, target)
			return err
		})
		if err != nil {
			return err
		}
		if created {
			log.Info("created branch", zap.String("from", target))
		} else {
			log.Info("reusing existing branch without request")
		}
	}

	key := record.Key(r.provider.Name(), r.trig.Repository, branch)
	known, err := r.publishedHashes(ctx, key, branch, created)
	if err != nil {
		return err
	}

	var (
		changes []provider.FileChange
		paths   []string
	)
	for i := range r.outcome.Files {
		fo := &r.outcome.Files[i]
		if fo.Artifact == nil {
			continue
		}
		content := fo.Artifact.Files[0].Content
		if known[fo.Path] == migration.ContentHash(content) {
			continue
		}
		fo.Changed = true
		changes = append(changes, provider.FileChange{Path: fo.Path, Content: content})
		paths = append(paths, fo.Path)
	}

	if len(changes) > 0 {
		msg := CommitMessage(r.trig.ShortRef(), paths)
		err := r.mutate(ctx, "committing to "+branch, func(ctx context.Context) error {
			_, err := r.provider.CommitFiles(ctx, owner, name, branch, msg, changes)
			return err
		})
		if err != nil {
			return err
		}
		r.outcome.Commits++
		metrics.CommitCreated(r.provider.Name())
		log.Info("committed", zap.Strings("paths", paths))
		for _, c := range changes {
			known[c.Path] = migration.ContentHash(c.Content)
		}
	} else {
		log.Info("generated files unchanged, nothing to commit")
	}

	body := Body(r.trig.RunRef(), r.outcome.Files, known)
	switch {
	case mr == nil:
		req := provider.NewRequest{
			SourceBranch: branch,
			TargetBranch: target,
			Title:        Title(r.trig.ShortRef(), r.publishedSources()),
			Body:         body,
			Labels:       merged.Labels,
		}
		err := r.mutate(ctx, "creating request for "+branch, func(ctx context.Context) error {
			var err error
			mr, err = r.provider.CreateRequest(ctx, owner, name, req)
			return err
		})
		if err != nil {
			if mr != nil {
				// The request exists but a follow-up call (labels) failed.
				r.outcome.Request = mr
			}
			return err
		}
		metrics.RequestCreated(r.provider.Name())
		log.Info("opened request", zap.Int("number", mr.Number), zap.String("url", mr.URL))

	case mr.Description != body:
		number := mr.Number
		err := r.mutate(ctx, fmt.Sprintf("updating request %d", number), func(ctx context.Context) error {
			updated, err := r.provider.UpdateRequest(ctx, owner, name, number, body)
			if err == nil {
				mr = updated
			}
			return err
		})
		if err != nil {
			return err
		}
		metrics.RequestUpdated(r.provider.Name())
		log.Info("updated request", zap.Int("number", mr.Number))

	default:
		log.Info("request up to date", zap.Int("number", mr.Number))
	}
	r.outcome.Request = mr

	rec := &migration.Record{
		Branch:        branch,
		Ref:           r.trig.RunRef(),
		RequestNumber: mr.Number,
		RequestURL:    mr.URL,
		Files:         known,
		UpdatedAt:     time.Now().UTC(),
	}
	r.outcome.Record = rec
	if err := r.records.Put(context.WithoutCancel(ctx), key, rec); err != nil {
		// The branch is the source of truth; the next run rebuilds the hashes from it.
		log.Warn("saving record failed", zap.Error(err))
	}
	return nil
}

// findBranch walks base, base-2, base-3... and returns the first candidate whose
// request is open or that never had one. mr is nil in the latter case.
func (r *run) findBranch(ctx context.Context, owner, name, base string) (string, *provider.MergeRequest, error) {
	for n := 1; n <= maxVariants; n++ {
		branch := migration.VariantName(base, n)

		var mr *provider.MergeRequest
		err := r.read(ctx, func(ctx context.Context) error {
			var err error
			mr, err = r.provider.FindRequestByBranch(ctx, owner, name, branch)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return "", nil, cancelled(ctx.Err())
			}
			return "", nil, migration.Gateway("finding request for "+branch, err)
		}

		if mr == nil || mr.State == provider.StateOpen {
			return branch, mr, nil
		}
		r.logger.Info("request was closed, trying next branch variant",
			zap.String("branch", branch),
			zap.Int("number", mr.Number),
			zap.String("state", mr.State),
		)
	}
	return "", nil, migration.Gateway("choosing branch", fmt.Errorf("all %d variants of %s have closed requests", maxVariants, base))
}

// publishedHashes returns path -> content hash of what the branch already holds for this
// run's artifact paths, including those of files that failed this run. The record store
// is trusted unless the branch was just created; otherwise the files are read back
// through the provider.
func (r *run) publishedHashes(ctx context.Context, key, branch string, created bool) (map[string]string, error) {
	known := make(map[string]string)

	if !created {
		rec, err := r.records.Get(ctx, key)
		if err != nil {
			r.logger.Warn("loading record failed, reading branch instead", zap.Error(err))
		}
		if rec != nil && rec.Branch == branch {
			for path, hash := range rec.Files {
				known[path] = hash
			}
			return known, nil
		}
	}

	for _, fo := range r.outcome.Files {
		data, err := r.readFile(ctx, fo.Path, branch)
		if errors.Is(err, provider.ErrNotFound) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, cancelled(ctx.Err())
			}
			return nil, migration.Gateway("reading "+fo.Path+" on "+branch, err)
		}
		known[fo.Path] = migration.ContentHash(string(data))
	}
	return known, nil
}

func (r *run) publishedSources() []string {
	var sources []string
	for _, f := range r.outcome.Files {
		if f.Artifact != nil {
			sources = append(sources, f.Source)
		}
	}
	return sources
}
