package handler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/drewdunne/bicepmigrate/internal/detect"
	"github.com/drewdunne/bicepmigrate/internal/event"
	"github.com/drewdunne/bicepmigrate/internal/metrics"
	"github.com/drewdunne/bicepmigrate/internal/migration"
	"github.com/drewdunne/bicepmigrate/internal/orchestrator"
	"github.com/drewdunne/bicepmigrate/internal/provider"
	"github.com/drewdunne/bicepmigrate/internal/registry"
	"github.com/drewdunne/bicepmigrate/internal/runner"
)

// Runner executes one migration run.
type Runner interface {
	Run(ctx context.Context, trig migration.Trigger, candidates []detect.Candidate) *orchestrator.Outcome
}

// RunnerFactory builds a Runner bound to one provider.
type RunnerFactory func(p provider.Provider) Runner

// MigrationHandler handles pushes by queueing migration runs.
type MigrationHandler struct {
	providers *registry.Registry
	newRunner RunnerFactory
	runs      *runner.Manager
	logger    *zap.Logger
}

// NewMigrationHandler creates a new migration handler.
func NewMigrationHandler(providers *registry.Registry, newRunner RunnerFactory, runs *runner.Manager, logger *zap.Logger) *MigrationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MigrationHandler{
		providers: providers,
		newRunner: newRunner,
		runs:      runs,
		logger:    logger,
	}
}

// Handle queues a run for push. It returns once the run is queued, not when it finishes.
func (h *MigrationHandler) Handle(ctx context.Context, push *event.Push) error {
	p := h.providers.Get(push.Provider)
	if p == nil {
		return fmt.Errorf("provider %q is not configured", push.Provider)
	}

	trig := TriggerFromPush(push)
	job := runner.Job{
		ID: push.Key(),
		Run: func(ctx context.Context) {
			h.process(ctx, p, trig, push.Paths)
		},
	}
	if err := h.runs.Enqueue(job); err != nil {
		return fmt.Errorf("queueing run for %s: %w", push.Key(), err)
	}

	metrics.WebhookProcessed(push.Provider)
	h.logger.Info("queued run",
		zap.String("repository", push.Repository),
		zap.String("ref", push.Ref),
		zap.String("sha", push.After),
		zap.Int("queued", h.runs.QueueLength()),
	)
	return nil
}

func (h *MigrationHandler) process(ctx context.Context, p provider.Provider, trig migration.Trigger, paths []string) {
	log := h.logger.With(zap.String("repository", trig.Repository), zap.String("sha", trig.SHA))

	candidates, err := orchestrator.ChangedCandidates(ctx, p, trig.Owner(), trig.Name(), trig.Before, trig.SHA)
	if err != nil {
		log.Warn("listing changed paths failed, using push payload", zap.Error(err))
		candidates = nil
	}
	if candidates == nil {
		candidates = orchestrator.RemoteCandidates(p, trig.Owner(), trig.Name(), trig.SHA, paths)
	}

	outcome := h.newRunner(p).Run(ctx, trig, candidates)
	if err := outcome.Err(); err != nil {
		log.Error("run failed", zap.String("run_id", outcome.RunID), zap.Error(err))
	}
}

// TriggerFromPush converts a normalized push into a run trigger.
func TriggerFromPush(push *event.Push) migration.Trigger {
	return migration.Trigger{
		Provider:      push.Provider,
		Repository:    push.Repository,
		Ref:           push.Ref,
		SHA:           push.After,
		Before:        push.Before,
		DefaultBranch: push.DefaultBranch,
	}
}
