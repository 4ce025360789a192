package detect

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/drewdunne/bicepmigrate/internal/migration"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		path string
		want migration.Kind
	}{
		{"main.tf", migration.KindTerraform},
		{"infra/modules/vpc/variables.tf", migration.KindTerraform},
		{"Dockerfile", migration.KindDockerfile},
		{"services/api/Dockerfile", migration.KindDockerfile},
		{"dockerfile", migration.KindUnknown},
		{"Dockerfile.dev", migration.KindUnknown},
		{"main.tfvars", migration.KindUnknown},
		{"terraform.tfstate", migration.KindUnknown},
		{".tf", migration.KindUnknown},
		{"README.md", migration.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := Classify(tt.path); got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestDetect_KeepsOrderAndLoadsRelevant(t *testing.T) {
	var loaded []string
	loader := func(p, content string) Loader {
		return func(context.Context) (string, error) {
			loaded = append(loaded, p)
			return content, nil
		}
	}

	files, err := Detect(context.Background(), []Candidate{
		{Path: "Dockerfile", Loader: loader("Dockerfile", "FROM alpine")},
		{Path: "README.md", Loader: loader("README.md", "# readme")},
		{Path: "main.tf", Loader: loader("main.tf", `resource "aws_s3_bucket" "b" {}`)},
	})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}

	if len(files) != 2 {
		t.Fatalf("len(files) = %d, want 2", len(files))
	}
	if files[0].Path != "Dockerfile" || files[0].Kind != migration.KindDockerfile {
		t.Errorf("files[0] = %+v", files[0])
	}
	if files[1].Path != "main.tf" || files[1].Content != `resource "aws_s3_bucket" "b" {}` {
		t.Errorf("files[1] = %+v", files[1])
	}
	for _, p := range loaded {
		if p == "README.md" {
			t.Error("Unknown files should not be loaded")
		}
	}
}

func TestDetect_NothingRelevant(t *testing.T) {
	files, err := Detect(context.Background(), []Candidate{
		{Path: "README.md", Loader: Static("x")},
	})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if files == nil || len(files) != 0 {
		t.Errorf("files = %v, want empty non-nil slice", files)
	}
}

func TestDetect_SkipsDeletedAndDuplicates(t *testing.T) {
	files, err := Detect(context.Background(), []Candidate{
		{Path: "old.tf", Loader: func(context.Context) (string, error) { return "", ErrNotFound }},
		{Path: "main.tf", Loader: Static("a")},
		{Path: "main.tf", Loader: Static("b")},
	})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(files) != 1 || files[0].Content != "a" {
		t.Errorf("files = %+v, want single main.tf with first content", files)
	}
}

func TestDetect_LoaderError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Detect(context.Background(), []Candidate{
		{Path: "main.tf", Loader: func(context.Context) (string, error) { return "", boom }},
	})
	if !errors.Is(err, boom) {
		t.Errorf("Detect() error = %v, want wrapping %v", err, boom)
	}
}

func TestLocal(t *testing.T) {
	root := t.TempDir()
	os.MkdirAll(filepath.Join(root, "infra"), 0755)
	os.WriteFile(filepath.Join(root, "infra", "main.tf"), []byte("resource \"x\" \"y\" {}"), 0644)

	content, err := Local(root, "infra/main.tf")(context.Background())
	if err != nil {
		t.Fatalf("Local() error = %v", err)
	}
	if content != `resource "x" "y" {}` {
		t.Errorf("content = %q", content)
	}

	if _, err := Local(root, "gone.tf")(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing file error = %v, want ErrNotFound", err)
	}
}
