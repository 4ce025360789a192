package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drewdunne/bicepmigrate/internal/detect"
	"github.com/drewdunne/bicepmigrate/internal/event"
	"github.com/drewdunne/bicepmigrate/internal/logging"
	"github.com/drewdunne/bicepmigrate/internal/migration"
	"github.com/drewdunne/bicepmigrate/internal/orchestrator"
	"github.com/drewdunne/bicepmigrate/internal/provider"
	"github.com/drewdunne/bicepmigrate/internal/registry"
	"github.com/drewdunne/bicepmigrate/internal/webhook"
)

var errNoCandidateSource = errors.New("cannot tell which files changed: pass --paths, --before or --payload")

type runFlags struct {
	provider      string
	repo          string
	ref           string
	sha           string
	before        string
	defaultBranch string
	paths         []string
	workdir       string
	payload       string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Migrate the files changed by one push",
		Long: "run processes a single trigger and exits 0 when the run is Done (including when " +
			"nothing needed migrating) and 1 when it Failed. Unset flags fall back to GitLab CI " +
			"and GitHub Actions environment variables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), root, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.provider, "provider", "", "Git provider: gitlab or github")
	fl.StringVar(&f.repo, "repo", "", "Repository path, e.g. group/project")
	fl.StringVar(&f.ref, "ref", "", "Branch or tag that was pushed")
	fl.StringVar(&f.sha, "sha", "", "Commit to read files from")
	fl.StringVar(&f.before, "before", "", "Start of the pushed commit range")
	fl.StringVar(&f.defaultBranch, "default-branch", "", "Branch migration branches start from")
	fl.StringSliceVar(&f.paths, "paths", nil, "Changed files, comma separated (skips change detection)")
	fl.StringVar(&f.workdir, "workdir", "", "Read --paths from this checkout instead of the provider")
	fl.StringVar(&f.payload, "payload", "", "Push webhook payload file to take the trigger from")
	return cmd
}

func runOnce(ctx context.Context, root *rootOptions, f *runFlags) error {
	cfg, err := loadConfig(root.configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	push, err := loadPayload(f.provider, f.payload)
	if err != nil {
		return err
	}
	trig, err := resolveTrigger(f, push, os.Getenv)
	if err != nil {
		return err
	}

	p := registry.New(cfg).Get(trig.Provider)
	if p == nil {
		return fmt.Errorf("provider %q is not configured (set its token)", trig.Provider)
	}

	if err := checkCandidateSource(f, trig, push); err != nil {
		return err
	}

	d, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()

	outcome := d.newOrchestrator(p).RunFunc(ctx, trig, func(ctx context.Context) ([]detect.Candidate, error) {
		return runCandidates(ctx, p, trig, f, push)
	})
	if outcome.Failure != nil {
		logger.Error("migration failed",
			zap.String("run_id", outcome.RunID),
			zap.String("kind", string(outcome.Failure.Kind)),
			zap.String("reason", outcome.Failure.Reason),
			zap.Error(outcome.Failure),
		)
		return errRunFailed
	}
	return nil
}

// loadPayload reads a push webhook payload. An empty path yields nil.
func loadPayload(providerName, path string) (*event.Push, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}

	var push *event.Push
	switch providerName {
	case "github":
		push, err = event.NormalizeGitHubPush(&webhook.GitHubEvent{EventType: "push", RawPayload: data})
	case "gitlab", "":
		push, err = event.NormalizeGitLabPush(&webhook.GitLabEvent{EventType: "Push Hook", RawPayload: data})
	default:
		return nil, fmt.Errorf("unknown provider: %s", providerName)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing payload: %w", err)
	}
	return push, nil
}

// resolveTrigger combines flags, the payload and CI variables, in that order of precedence.
func resolveTrigger(f *runFlags, push *event.Push, getenv func(string) string) (migration.Trigger, error) {
	trig := migration.Trigger{
		Provider:      f.provider,
		Repository:    f.repo,
		Ref:           f.ref,
		SHA:           f.sha,
		Before:        f.before,
		DefaultBranch: f.defaultBranch,
	}

	if push != nil {
		trig.Provider = first(trig.Provider, push.Provider)
		trig.Repository = first(trig.Repository, push.Repository)
		trig.Ref = first(trig.Ref, push.Ref)
		trig.SHA = first(trig.SHA, push.After)
		trig.Before = first(trig.Before, push.Before)
		trig.DefaultBranch = first(trig.DefaultBranch, push.DefaultBranch)
	}

	if trig.Provider == "" {
		switch {
		case getenv("CI_PROJECT_PATH") != "":
			trig.Provider = "gitlab"
		case getenv("GITHUB_REPOSITORY") != "":
			trig.Provider = "github"
		}
	}

	switch trig.Provider {
	case "gitlab":
		trig.Repository = first(trig.Repository, getenv("CI_PROJECT_PATH"))
		trig.SHA = first(trig.SHA, getenv("CI_COMMIT_SHA"))
		trig.Ref = first(trig.Ref, getenv("CI_COMMIT_REF_NAME"))
		trig.Before = first(trig.Before, getenv("CI_COMMIT_BEFORE_SHA"))
		trig.DefaultBranch = first(trig.DefaultBranch, getenv("CI_DEFAULT_BRANCH"))
	case "github":
		trig.Repository = first(trig.Repository, getenv("GITHUB_REPOSITORY"))
		trig.SHA = first(trig.SHA, getenv("GITHUB_SHA"))
		trig.Ref = first(trig.Ref, getenv("GITHUB_REF"))
	case "":
		return trig, fmt.Errorf("--provider is required outside CI")
	default:
		return trig, fmt.Errorf("unknown provider: %s", trig.Provider)
	}

	if trig.Repository == "" {
		return trig, fmt.Errorf("--repo is required")
	}
	if _, name := migration.SplitRepository(trig.Repository); name == "" {
		return trig, fmt.Errorf("--repo must be owner/name, got %q", trig.Repository)
	}
	if trig.SHA == "" && trig.Ref == "" {
		return trig, fmt.Errorf("--sha or --ref is required")
	}
	return trig, nil
}

// checkCandidateSource rejects invocations that give no way to find the changed files.
func checkCandidateSource(f *runFlags, trig migration.Trigger, push *event.Push) error {
	if len(f.paths) > 0 || push != nil || strings.Trim(trig.Before, "0") != "" {
		return nil
	}
	return errNoCandidateSource
}

// runCandidates picks the changed files: explicit paths first, then the provider's diff of
// before..sha, then the paths listed in the payload.
func runCandidates(ctx context.Context, p provider.Provider, trig migration.Trigger, f *runFlags, push *event.Push) ([]detect.Candidate, error) {
	ref := trig.RunRef()

	if len(f.paths) > 0 {
		paths := cleanPaths(f.paths)
		if f.workdir == "" {
			return orchestrator.RemoteCandidates(p, trig.Owner(), trig.Name(), ref, paths), nil
		}
		candidates := make([]detect.Candidate, 0, len(paths))
		for _, path := range paths {
			candidates = append(candidates, detect.Candidate{Path: path, Loader: detect.Local(f.workdir, path)})
		}
		return candidates, nil
	}

	candidates, err := orchestrator.ChangedCandidates(ctx, p, trig.Owner(), trig.Name(), trig.Before, ref)
	if err != nil {
		return nil, err
	}
	if candidates != nil {
		return candidates, nil
	}

	if push != nil {
		return orchestrator.RemoteCandidates(p, trig.Owner(), trig.Name(), ref, push.Paths), nil
	}
	return nil, errNoCandidateSource
}

func cleanPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.TrimPrefix(p, "./"))
		}
	}
	return out
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
