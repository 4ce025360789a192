package config

// MergedConfig is the effective migration configuration for one repository.
type MergedConfig struct {
	Disabled     bool
	BranchPrefix string
	OutputDir    string
	Labels       []string
	TargetBranch string
	Template     string // repository path; empty means the server template
}

// MergeConfigs merges server config with repo config.
// Repo config values take precedence over server defaults. The branch prefix is
// server-only so that every run for a ref agrees on the same branch name.
func MergeConfigs(server *Config, repo *RepoConfig) *MergedConfig {
	merged := &MergedConfig{
		Disabled:     repo.Disabled,
		BranchPrefix: server.Migration.BranchPrefix,
		OutputDir:    coalesce(repo.OutputDir, server.Migration.OutputDir),
		TargetBranch: coalesce(repo.TargetBranch, server.Migration.TargetBranch),
		Template:     repo.Template,
	}

	merged.Labels = server.Migration.Labels
	if len(repo.Labels) > 0 {
		merged.Labels = repo.Labels
	}

	return merged
}

func coalesce(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
