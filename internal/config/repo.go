package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// RepoConfigPath is where a repository may override migration settings.
const RepoConfigPath = ".bicepmigrate.yaml"

// ErrConfigNotFound indicates the repo config file doesn't exist.
var ErrConfigNotFound = errors.New("config not found")

// RepoConfig is the optional per-repository override file. Paths are relative to
// the repository root.
type RepoConfig struct {
	Disabled     bool     `yaml:"disabled"`
	OutputDir    string   `yaml:"output_dir"`
	Labels       []string `yaml:"labels"`
	TargetBranch string   `yaml:"target_branch"`

	// Template replaces the server prompt template for this repository.
	Template string `yaml:"template"`
}

// FileReader reads files from a repository.
type FileReader interface {
	ReadFile(ctx context.Context, owner, repo, path, ref string) ([]byte, error)
}

// LoadRepoConfig reads RepoConfigPath at ref. A missing file yields an empty
// config; unknown keys and paths leaving the repository are errors.
// The reader must wrap its not-found error with ErrConfigNotFound.
func LoadRepoConfig(ctx context.Context, reader FileReader, owner, repo, ref string) (*RepoConfig, error) {
	data, err := reader.ReadFile(ctx, owner, repo, RepoConfigPath, ref)
	if errors.Is(err, ErrConfigNotFound) {
		return &RepoConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading repo config: %w", err)
	}

	cfg, err := ParseRepoConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", RepoConfigPath, err)
	}
	return cfg, nil
}

// ParseRepoConfig decodes and validates a repository config document.
func ParseRepoConfig(data []byte) (*RepoConfig, error) {
	var cfg RepoConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing repo config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *RepoConfig) normalize() error {
	var err error
	if c.OutputDir, err = repoPath("output_dir", c.OutputDir); err != nil {
		return err
	}
	if c.Template, err = repoPath("template", c.Template); err != nil {
		return err
	}

	labels := c.Labels[:0]
	for _, l := range c.Labels {
		if l = strings.TrimSpace(l); l != "" {
			labels = append(labels, l)
		}
	}
	c.Labels = labels

	c.TargetBranch = strings.TrimPrefix(strings.TrimSpace(c.TargetBranch), "refs/heads/")
	if strings.ContainsAny(c.TargetBranch, " ~^:?*[\\") {
		return fmt.Errorf("target_branch: invalid branch name %q", c.TargetBranch)
	}
	return nil
}

// repoPath cleans p and rejects absolute paths and paths climbing out of the repository.
func repoPath(field, p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", nil
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%s: %q must be relative to the repository root", field, p)
	}
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%s: %q is outside the repository", field, p)
	}
	return clean, nil
}
