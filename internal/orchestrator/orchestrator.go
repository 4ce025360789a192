// Package orchestrator runs one migration: detect, generate, validate, publish.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/drewdunne/bicepmigrate/internal/config"
	"github.com/drewdunne/bicepmigrate/internal/detect"
	"github.com/drewdunne/bicepmigrate/internal/generate"
	"github.com/drewdunne/bicepmigrate/internal/lock"
	"github.com/drewdunne/bicepmigrate/internal/logging"
	"github.com/drewdunne/bicepmigrate/internal/metrics"
	"github.com/drewdunne/bicepmigrate/internal/migration"
	"github.com/drewdunne/bicepmigrate/internal/notify"
	"github.com/drewdunne/bicepmigrate/internal/parser"
	"github.com/drewdunne/bicepmigrate/internal/prompt"
	"github.com/drewdunne/bicepmigrate/internal/provider"
	"github.com/drewdunne/bicepmigrate/internal/record"
	"github.com/drewdunne/bicepmigrate/internal/retry"
)

// State is a step of a run.
type State string

const (
	StateIdle       State = "Idle"
	StateDetecting  State = "Detecting"
	StateGenerating State = "Generating"
	StateValidating State = "Validating"
	StatePublishing State = "Publishing"
	StateDone       State = "Done"
	StateFailed     State = "Failed"
)

const (
	// maxVariants bounds the branch variants tried once requests get closed.
	maxVariants = 50

	mutationTimeout = 30 * time.Second
	notifyTimeout   = 5 * time.Second
)

// FileOutcome is what happened to one relevant source file.
type FileOutcome struct {
	Source string
	Kind   migration.Kind

	// Path is where the generated template is committed.
	Path     string
	Attempts int
	Artifact *migration.Artifact
	Failure  *migration.Failure

	// Changed is set when the file was part of this run's commit.
	Changed bool
}

// Outcome is the result of a run.
type Outcome struct {
	RunID   string
	State   State
	Failure *migration.Failure
	Files   []FileOutcome

	Branch  string
	Request *provider.MergeRequest
	Record  *migration.Record
	Commits int

	// GatewayCalls counts calls made to the provider, retries included.
	GatewayCalls int

	// Trace lists the states the run passed through.
	Trace []State
}

// Err returns the run failure, or nil for Done.
func (o *Outcome) Err() error {
	if o.Failure == nil {
		return nil
	}
	return o.Failure
}

// Orchestrator runs migrations against one provider.
type Orchestrator struct {
	cfg       *config.Config
	provider  provider.Provider
	generator generate.Client
	locker    lock.Locker
	records   record.Store
	notifier  notify.Notifier
	logger    *zap.Logger
	runLogs   *logging.Writer
	template  string
	newID     func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLocker sets the publish lock. Defaults to an in-process lock.
func WithLocker(l lock.Locker) Option {
	return func(o *Orchestrator) { o.locker = l }
}

// WithRecordStore sets where publish records are kept. Defaults to memory.
func WithRecordStore(s record.Store) Option {
	return func(o *Orchestrator) { o.records = s }
}

// WithNotifier sets who hears about finished runs.
func WithNotifier(n notify.Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithRunLogs writes a log file per run.
func WithRunLogs(w *logging.Writer) Option {
	return func(o *Orchestrator) { o.runLogs = w }
}

// WithTemplate replaces the built-in prompt template.
func WithTemplate(tmpl string) Option {
	return func(o *Orchestrator) { o.template = tmpl }
}

// WithIDGenerator sets how run IDs are made.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// New creates an Orchestrator.
func New(cfg *config.Config, p provider.Provider, gen generate.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		provider:  p,
		generator: gen,
		locker:    lock.NewLocal(),
		records:   record.NewMemory(),
		notifier:  notify.Noop{},
		logger:    zap.NewNop(),
		template:  prompt.DefaultTemplate(),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run holds the state of one Run call.
type run struct {
	*Orchestrator
	trig    migration.Trigger
	logger  *zap.Logger
	outcome *Outcome
}

// CandidateFunc lists the paths touched by a push, in push order.
type CandidateFunc func(ctx context.Context) ([]detect.Candidate, error)

// Run processes one trigger. candidates are the paths touched by the push, in push order.
// Run never returns a nil Outcome; failures are reported in Outcome.Failure.
func (o *Orchestrator) Run(ctx context.Context, trig migration.Trigger, candidates []detect.Candidate) *Outcome {
	return o.RunFunc(ctx, trig, func(context.Context) ([]detect.Candidate, error) {
		return candidates, nil
	})
}

// RunFunc is Run with the candidates listed inside the run, so a failure to list them
// (a compare API error, say) ends the run Failed and is reported like any other failure.
func (o *Orchestrator) RunFunc(ctx context.Context, trig migration.Trigger, list CandidateFunc) *Outcome {
	r := &run{
		Orchestrator: o,
		trig:         trig,
		outcome:      &Outcome{RunID: o.newID(), Trace: []State{StateIdle}},
	}

	r.logger = o.logger.With(
		zap.String("run_id", r.outcome.RunID),
		zap.String("provider", o.provider.Name()),
		zap.String("repository", trig.Repository),
		zap.String("ref", trig.RunRef()),
	)
	if o.runLogs != nil {
		teed, closeFn, err := o.runLogs.Tee(r.logger, logging.RunEntry{
			RunID:     r.outcome.RunID,
			RepoOwner: trig.Owner(),
			RepoName:  trig.Name(),
			ShortRef:  trig.ShortRef(),
			Timestamp: time.Now(),
		})
		if err != nil {
			r.logger.Warn("run log unavailable", zap.Error(err))
		} else {
			r.logger = teed
			defer closeFn()
		}
	}

	r.execute(ctx, list)
	r.finish()
	return r.outcome
}

func (r *run) enter(s State) {
	r.outcome.State = s
	r.outcome.Trace = append(r.outcome.Trace, s)
	r.logger.Debug("state", zap.String("state", string(s)))
}

func (r *run) fail(f *migration.Failure) {
	r.outcome.Failure = f
	r.enter(StateFailed)
}

func (r *run) execute(ctx context.Context, list CandidateFunc) {
	r.enter(StateDetecting)
	candidates, err := list(ctx)
	if err != nil {
		r.fail(classify(ctx, "listing changed files", err))
		return
	}
	files, err := detect.Detect(ctx, candidates)
	if err != nil {
		r.fail(classify(ctx, "detecting changes", err))
		return
	}
	if len(files) == 0 {
		r.logger.Info("no migration-relevant files changed")
		r.enter(StateDone)
		return
	}
	r.trig.Files = files

	merged, target, err := r.settings(ctx)
	if err != nil {
		r.fail(classify(ctx, "loading settings", err))
		return
	}
	if merged.Disabled {
		r.logger.Info("migration disabled by repository config")
		r.enter(StateDone)
		return
	}

	paths := migration.ArtifactPaths(merged.OutputDir, files)
	for i, f := range files {
		r.outcome.Files = append(r.outcome.Files, FileOutcome{
			Source: f.Path,
			Kind:   f.Kind,
			Path:   paths[i],
		})
	}

	tmpl, err := r.promptTemplate(ctx, merged)
	if err != nil {
		r.fail(classify(ctx, "loading prompt template", err))
		return
	}

	r.enter(StateGenerating)
	project := generate.Project{
		Name:          r.trig.Name(),
		DefaultBranch: target,
		Namespace:     r.trig.Owner(),
	}
	texts := r.generateAll(ctx, prompt.NewBuilder(tmpl), project)
	if ctx.Err() != nil {
		r.fail(cancelled(ctx.Err()))
		return
	}
	if r.succeeded() == 0 {
		r.fail(r.firstFailure())
		return
	}

	r.enter(StateValidating)
	r.validateAll(texts)
	if r.succeeded() == 0 {
		r.fail(r.firstFailure())
		return
	}

	r.enter(StatePublishing)
	if err := r.publish(ctx, merged, target); err != nil {
		r.fail(classify(ctx, "publishing", err))
		return
	}

	if f := r.firstFailure(); f != nil {
		r.fail(f)
		return
	}
	r.enter(StateDone)
}

// settings loads the repository config and resolves the target branch.
func (r *run) settings(ctx context.Context) (*config.MergedConfig, string, error) {
	reader := &repoReader{run: r}
	repoCfg, err := config.LoadRepoConfig(ctx, reader, r.trig.Owner(), r.trig.Name(), r.trig.RunRef())
	if err != nil {
		if reader.err != nil {
			return nil, "", err
		}
		r.logger.Warn("ignoring invalid repository config", zap.Error(err))
		repoCfg = &config.RepoConfig{}
	}
	merged := config.MergeConfigs(r.cfg, repoCfg)

	target := merged.TargetBranch
	if target == "" {
		target = r.trig.DefaultBranch
	}
	if target == "" {
		var repo *provider.Repository
		err := r.read(ctx, func(ctx context.Context) error {
			var err error
			repo, err = r.provider.GetRepository(ctx, r.trig.Owner(), r.trig.Name())
			return err
		})
		if err != nil {
			return nil, "", migration.Gateway("fetching repository", err)
		}
		target = repo.DefaultBranch
	}
	return merged, target, nil
}

func (r *run) promptTemplate(ctx context.Context, merged *config.MergedConfig) (string, error) {
	if merged.Template == "" {
		return r.template, nil
	}
	data, err := r.readFile(ctx, merged.Template, r.trig.RunRef())
	if err != nil {
		return "", migration.Gateway("reading "+merged.Template, err)
	}
	return string(data), nil
}

// generateAll calls the model once per file, concurrently. It returns the raw text per
// file index; failures are recorded on the file outcomes.
func (r *run) generateAll(ctx context.Context, prompts *prompt.Builder, project generate.Project) []string {
	texts := make([]string, len(r.trig.Files))

	limit := r.cfg.Generation.Concurrency
	if limit <= 0 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)

	for i, file := range r.trig.Files {
		g.Go(func() error {
			text, attempts, f := r.generateOne(ctx, prompts.Build(file, project), file.Path)
			r.outcome.Files[i].Attempts = attempts
			if f != nil {
				r.outcome.Files[i].Failure = f
				r.logger.Warn("generation failed", zap.String("file", file.Path), zap.Error(f))
				return nil
			}
			texts[i] = text
			return nil
		})
	}
	_ = g.Wait()
	return texts
}

func (r *run) generateOne(ctx context.Context, req generate.Request, path string) (string, int, *migration.Failure) {
	cfg := retry.Config{
		MaxRetries:     r.cfg.Generation.Retries,
		InitialBackoff: r.cfg.Generation.InitialBackoff(),
		MaxBackoff:     retry.DefaultConfig().MaxBackoff,
		IsTransient:    generate.IsTransport,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			r.logger.Info("retrying generation",
				zap.String("file", path),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		},
	}

	var (
		attempts int
		result   *generate.Result
	)
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		attempts++
		res, err := r.generator.Generate(ctx, req)
		metrics.GenerationAttempt(attemptResult(err))
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return "", attempts, classifyGeneration(ctx, err)
	}

	r.logger.Info("generated",
		zap.String("file", path),
		zap.Int("bytes", result.Bytes),
		zap.Duration("duration", result.Duration),
		zap.Int("attempts", attempts),
	)
	return result.Text, attempts, nil
}

func (r *run) validateAll(texts []string) {
	for i := range r.outcome.Files {
		fo := &r.outcome.Files[i]
		if fo.Failure != nil {
			continue
		}
		artifact, err := parser.Parse(texts[i])
		if err != nil {
			var f *migration.Failure
			if !errors.As(err, &f) {
				f = &migration.Failure{Kind: migration.MalformedOutput, Err: err}
			}
			fo.Failure = f
			r.logger.Warn("invalid model output", zap.String("file", fo.Source), zap.Error(f))
			continue
		}
		artifact.Source = fo.Source
		artifact.Files[0].Path = fo.Path
		fo.Artifact = artifact
	}
}

func (r *run) succeeded() int {
	n := 0
	for _, f := range r.outcome.Files {
		if f.Failure == nil {
			n++
		}
	}
	return n
}

// firstFailure returns the failure of the first failed file in trigger order.
func (r *run) firstFailure() *migration.Failure {
	for _, f := range r.outcome.Files {
		if f.Failure != nil {
			return f.Failure
		}
	}
	return nil
}

func (r *run) finish() {
	out := r.outcome
	kind := ""
	if out.Failure != nil {
		kind = string(out.Failure.Kind)
		r.logger.Error("run failed",
			zap.String("kind", kind),
			zap.String("reason", out.Failure.Error()),
			zap.Int("gateway_calls", out.GatewayCalls),
		)
	} else {
		r.logger.Info("run done",
			zap.String("branch", out.Branch),
			zap.Int("commits", out.Commits),
			zap.Int("gateway_calls", out.GatewayCalls),
		)
	}
	metrics.RunFinished(string(out.State), kind)

	ev := notify.Event{
		RunID:      out.RunID,
		Provider:   r.provider.Name(),
		Repository: r.trig.Repository,
		Ref:        r.trig.RunRef(),
		State:      string(out.State),
		Kind:       kind,
		Branch:     out.Branch,
		FinishedAt: time.Now().UTC(),
	}
	if out.Failure != nil {
		ev.Reason = out.Failure.Error()
	}
	if out.Request != nil {
		ev.RequestURL = out.Request.URL
	}
	for _, f := range out.Files {
		fe := notify.FileEvent{Source: f.Source, Kind: failureOf(f.Failure)}
		if f.Failure == nil {
			fe.Artifact = f.Path
		} else {
			fe.Reason = f.Failure.Error()
		}
		ev.Files = append(ev.Files, fe)
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := r.notifier.Notify(ctx, ev); err != nil {
		r.logger.Warn("notify failed", zap.Error(err))
	}
}

// read runs a provider read, retrying transient errors.
func (r *run) read(ctx context.Context, fn func(ctx context.Context) error) error {
	cfg := retry.DefaultConfig()
	cfg.InitialBackoff = r.cfg.Generation.InitialBackoff()
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		r.logger.Info("retrying provider read", zap.Int("attempt", attempt), zap.Error(err))
	}
	return retry.Do(ctx, cfg, func(ctx context.Context) error {
		r.outcome.GatewayCalls++
		return fn(ctx)
	})
}

func (r *run) readFile(ctx context.Context, path, ref string) ([]byte, error) {
	var data []byte
	err := r.read(ctx, func(ctx context.Context) error {
		var err error
		data, err = r.provider.ReadFile(ctx, r.trig.Owner(), r.trig.Name(), path, ref)
		return err
	})
	return data, err
}

// mutate runs a provider write exactly once. A write is not started on a cancelled
// context; once started it runs to completion on its own deadline.
func (r *run) mutate(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mutationTimeout)
	defer cancel()

	r.outcome.GatewayCalls++
	if err := fn(mctx); err != nil {
		return migration.Gateway(op, err)
	}
	return nil
}

// repoReader adapts the provider to config.FileReader.
type repoReader struct {
	run *run
	err error
}

func (rr *repoReader) ReadFile(ctx context.Context, owner, repo, path, ref string) ([]byte, error) {
	data, err := rr.run.readFile(ctx, path, ref)
	if errors.Is(err, provider.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", config.ErrConfigNotFound, err)
	}
	if err != nil {
		rr.err = err
		return nil, migration.Gateway("reading "+path, err)
	}
	return data, nil
}

func attemptResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case generate.IsRefusal(err):
		return "refusal"
	default:
		return "transport"
	}
}

func cancelled(err error) *migration.Failure {
	return &migration.Failure{Kind: migration.Cancelled, Reason: "run cancelled", Err: err}
}

func classifyGeneration(ctx context.Context, err error) *migration.Failure {
	switch {
	case ctx.Err() != nil:
		return cancelled(ctx.Err())
	case generate.IsRefusal(err):
		return &migration.Failure{Kind: migration.UpstreamRefusal, Err: err}
	default:
		return &migration.Failure{Kind: migration.TransportError, Err: err}
	}
}

// classify turns an error from a run step into a Failure.
func classify(ctx context.Context, op string, err error) *migration.Failure {
	if ctx.Err() != nil {
		return cancelled(ctx.Err())
	}
	var f *migration.Failure
	if errors.As(err, &f) {
		return f
	}
	return migration.Gateway(op, err)
}
