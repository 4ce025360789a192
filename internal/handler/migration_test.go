package handler

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/drewdunne/bicepmigrate/internal/config"
	"github.com/drewdunne/bicepmigrate/internal/detect"
	"github.com/drewdunne/bicepmigrate/internal/event"
	"github.com/drewdunne/bicepmigrate/internal/migration"
	"github.com/drewdunne/bicepmigrate/internal/orchestrator"
	"github.com/drewdunne/bicepmigrate/internal/provider"
	"github.com/drewdunne/bicepmigrate/internal/provider/fake"
	"github.com/drewdunne/bicepmigrate/internal/registry"
	"github.com/drewdunne/bicepmigrate/internal/runner"
)

type capturedRun struct {
	trig  migration.Trigger
	paths []string
}

type captureRunner struct {
	runs chan capturedRun
}

func (c *captureRunner) Run(ctx context.Context, trig migration.Trigger, candidates []detect.Candidate) *orchestrator.Outcome {
	var paths []string
	for _, cand := range candidates {
		paths = append(paths, cand.Path)
	}
	c.runs <- capturedRun{trig: trig, paths: paths}
	return &orchestrator.Outcome{State: orchestrator.StateDone}
}

func setup(t *testing.T, p provider.Provider) (*MigrationHandler, *captureRunner) {
	t.Helper()

	reg := registry.New(&config.Config{})
	if p != nil {
		reg.Register("github", p)
	}
	capture := &captureRunner{runs: make(chan capturedRun, 1)}
	runs := runner.NewManager(runner.Config{MaxConcurrent: 1, QueueSize: 5}, nil)
	t.Cleanup(runs.Shutdown)

	h := NewMigrationHandler(reg, func(provider.Provider) Runner { return capture }, runs, nil)
	return h, capture
}

func waitRun(t *testing.T, c *captureRunner) capturedRun {
	t.Helper()
	select {
	case r := <-c.runs:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("run was not started")
		return capturedRun{}
	}
}

func TestHandle_UsesChangedPaths(t *testing.T) {
	p := fake.New("main")
	p.SetChangedPaths([]provider.ChangedFile{
		{Path: "main.tf", Status: provider.StatusModified},
		{Path: "gone.tf", Status: provider.StatusDeleted},
		{Path: "stack.yaml", Status: provider.StatusAdded},
	})
	h, capture := setup(t, p)

	push := &event.Push{
		Provider:      "github",
		Repository:    "acme/infra",
		DefaultBranch: "main",
		Ref:           "refs/heads/main",
		Before:        "1111111111111111111111111111111111111111",
		After:         "2222222222222222222222222222222222222222",
		Paths:         []string{"ignored.tf"},
	}
	if err := h.Handle(context.Background(), push); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := waitRun(t, capture)
	if want := []string{"main.tf", "stack.yaml"}; !reflect.DeepEqual(got.paths, want) {
		t.Errorf("candidate paths = %v, want %v", got.paths, want)
	}
	if got.trig.SHA != push.After || got.trig.Before != push.Before {
		t.Errorf("trigger range = %s..%s", got.trig.Before, got.trig.SHA)
	}
	if got.trig.Owner() != "acme" || got.trig.Name() != "infra" {
		t.Errorf("trigger repository = %q/%q", got.trig.Owner(), got.trig.Name())
	}
}

func TestHandle_NewBranchUsesPayloadPaths(t *testing.T) {
	p := fake.New("main")
	h, capture := setup(t, p)

	push := &event.Push{
		Provider:   "github",
		Repository: "acme/infra",
		Ref:        "refs/heads/feature",
		Before:     "0000000000000000000000000000000000000000",
		After:      "2222222222222222222222222222222222222222",
		Paths:      []string{"a.tf", "b.tf"},
	}
	if err := h.Handle(context.Background(), push); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := waitRun(t, capture)
	if want := []string{"a.tf", "b.tf"}; !reflect.DeepEqual(got.paths, want) {
		t.Errorf("candidate paths = %v, want %v", got.paths, want)
	}
	if p.Calls("ChangedPaths") != 0 {
		t.Errorf("ChangedPaths calls = %d, want 0", p.Calls("ChangedPaths"))
	}
}

func TestHandle_ChangedPathsFailureFallsBack(t *testing.T) {
	p := fake.New("main")
	p.FailOn("ChangedPaths", errors.New("compare unavailable"))
	h, capture := setup(t, p)

	push := &event.Push{
		Provider:   "github",
		Repository: "acme/infra",
		Ref:        "refs/heads/main",
		Before:     "1111111111111111111111111111111111111111",
		After:      "2222222222222222222222222222222222222222",
		Paths:      []string{"main.tf"},
	}
	if err := h.Handle(context.Background(), push); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := waitRun(t, capture)
	if want := []string{"main.tf"}; !reflect.DeepEqual(got.paths, want) {
		t.Errorf("candidate paths = %v, want %v", got.paths, want)
	}
}

func TestHandle_UnknownProvider(t *testing.T) {
	h, _ := setup(t, nil)

	err := h.Handle(context.Background(), &event.Push{Provider: "github", Repository: "acme/infra", After: "1"})
	if err == nil {
		t.Error("Handle() error = nil, want error for unconfigured provider")
	}
}

func TestHandle_QueueFull(t *testing.T) {
	reg := registry.New(&config.Config{})
	reg.Register("github", fake.New("main"))

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	runs := runner.NewManager(runner.Config{MaxConcurrent: 1, QueueSize: 1}, nil)
	defer runs.Shutdown()
	defer close(block)

	blocking := blockingRunner{started: started, block: block}
	h := NewMigrationHandler(reg, func(provider.Provider) Runner { return blocking }, runs, nil)

	push := func(sha string) *event.Push {
		return &event.Push{Provider: "github", Repository: "acme/infra", Ref: "refs/heads/main", After: sha}
	}

	if err := h.Handle(context.Background(), push("1")); err != nil {
		t.Fatalf("first Handle() error = %v", err)
	}
	<-started
	if err := h.Handle(context.Background(), push("2")); err != nil {
		t.Fatalf("second Handle() error = %v", err)
	}
	err := h.Handle(context.Background(), push("3"))
	if !errors.Is(err, runner.ErrQueueFull) {
		t.Errorf("third Handle() error = %v, want ErrQueueFull", err)
	}
}

type blockingRunner struct {
	started chan struct{}
	block   chan struct{}
}

func (b blockingRunner) Run(ctx context.Context, trig migration.Trigger, candidates []detect.Candidate) *orchestrator.Outcome {
	select {
	case b.started <- struct{}{}:
	default:
	}
	select {
	case <-b.block:
	case <-ctx.Done():
	}
	return &orchestrator.Outcome{State: orchestrator.StateDone}
}

func TestTriggerFromPush(t *testing.T) {
	trig := TriggerFromPush(&event.Push{
		Provider:      "gitlab",
		Repository:    "group/sub/project",
		DefaultBranch: "develop",
		Ref:           "refs/heads/feature/x",
		Before:        "aaaa",
		After:         "bbbbbbbbcccc",
	})

	if trig.Owner() != "group" || trig.Name() != "sub/project" {
		t.Errorf("Owner/Name = %q/%q", trig.Owner(), trig.Name())
	}
	if trig.DefaultBranch != "develop" {
		t.Errorf("DefaultBranch = %q, want develop", trig.DefaultBranch)
	}
	if trig.ShortRef() != "bbbbbbbb" {
		t.Errorf("ShortRef() = %q, want bbbbbbbb", trig.ShortRef())
	}
}
