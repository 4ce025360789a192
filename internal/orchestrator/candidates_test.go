package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/drewdunne/bicepmigrate/internal/detect"
	"github.com/drewdunne/bicepmigrate/internal/migration"
	"github.com/drewdunne/bicepmigrate/internal/provider"
	"github.com/drewdunne/bicepmigrate/internal/provider/fake"
)

func TestChangedCandidates(t *testing.T) {
	gw := fake.New("main")
	gw.SetFile("sha2", "infra/main.tf", terraform)
	gw.SetChangedPaths([]provider.ChangedFile{
		{Path: "infra/main.tf", Status: provider.StatusModified},
		{Path: "old/Dockerfile", Status: provider.StatusDeleted},
		{Path: "docs/README.md", Status: provider.StatusAdded},
	})

	cands, err := ChangedCandidates(context.Background(), gw, "group", "project", "sha1", "sha2")
	if err != nil {
		t.Fatalf("ChangedCandidates() error = %v", err)
	}
	if len(cands) != 2 || cands[0].Path != "infra/main.tf" || cands[1].Path != "docs/README.md" {
		t.Fatalf("candidates = %+v", cands)
	}

	files, err := detect.Detect(context.Background(), cands)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(files) != 1 || files[0].Content != terraform {
		t.Errorf("files = %+v", files)
	}
	if gw.Calls("ReadFile") != 1 {
		t.Errorf("ReadFile calls = %d, want 1 (README is never read)", gw.Calls("ReadFile"))
	}
}

func TestChangedCandidates_NoBefore(t *testing.T) {
	gw := fake.New("main")
	for _, before := range []string{"", "0000000000000000000000000000000000000000"} {
		cands, err := ChangedCandidates(context.Background(), gw, "g", "p", before, "sha2")
		if err != nil || cands != nil {
			t.Errorf("ChangedCandidates(before=%q) = %v, %v; want nil, nil", before, cands, err)
		}
	}
	if gw.TotalCalls() != 0 {
		t.Errorf("TotalCalls = %d, want 0", gw.TotalCalls())
	}
}

func TestRemoteCandidates_Errors(t *testing.T) {
	gw := fake.New("main")

	cands := RemoteCandidates(gw, "g", "p", "sha", []string{"gone.tf"})
	files, err := detect.Detect(context.Background(), cands)
	if err != nil || len(files) != 0 {
		t.Errorf("missing file: files = %v, err = %v; want skipped", files, err)
	}

	gw.FailOn("ReadFile", errors.New("boom"))
	_, err = detect.Detect(context.Background(), RemoteCandidates(gw, "g", "p", "sha", []string{"main.tf"}))
	if migration.KindOf(err) != migration.GatewayError {
		t.Errorf("KindOf(%v) = %q, want GatewayError", err, migration.KindOf(err))
	}
}
