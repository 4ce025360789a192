package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultBranchPrefix is prepended to the short ref to build the migration branch name.
const DefaultBranchPrefix = "migrate-to-azure"

// Kind classifies a changed file.
type Kind string

const (
	KindTerraform  Kind = "terraform"
	KindDockerfile Kind = "dockerfile"
	KindUnknown    Kind = "unknown"
)

// ChangedFile is a migration-relevant file touched by the triggering push.
type ChangedFile struct {
	Path    string
	Content string
	Kind    Kind
}

// Trigger is one invocation context. It is built once per run and never mutated.
type Trigger struct {
	// Provider is the source-control host (github, gitlab).
	Provider string

	// Repository is the full repository path (owner/repo or group/subgroup/project).
	Repository string

	// Ref is the branch or tag pointer that initiated the run.
	Ref string

	// SHA is the commit the run reads file contents from.
	SHA string

	// Before is the start of the pushed commit range, if known.
	Before string

	// DefaultBranch is the branch migration branches are created from.
	DefaultBranch string

	// Files are the changed files in push order.
	Files []ChangedFile
}

// Owner returns the first path segment of the repository.
func (t *Trigger) Owner() string {
	owner, _ := SplitRepository(t.Repository)
	return owner
}

// Name returns the repository path below the owner.
func (t *Trigger) Name() string {
	_, name := SplitRepository(t.Repository)
	return name
}

// ShortRef returns the abbreviated ref used in branch names.
func (t *Trigger) ShortRef() string {
	if t.SHA != "" {
		return ShortRef(t.SHA)
	}
	return ShortRef(t.Ref)
}

// RunRef returns the pointer a run is keyed on: the commit if known, else the ref.
func (t *Trigger) RunRef() string {
	if t.SHA != "" {
		return t.SHA
	}
	return t.Ref
}

// SplitRepository splits "owner/repo" at the first slash.
func SplitRepository(full string) (owner, name string) {
	parts := strings.SplitN(full, "/", 2)
	if len(parts) != 2 {
		return full, ""
	}
	return parts[0], parts[1]
}

var (
	hexSHA     = regexp.MustCompile(`^[0-9a-fA-F]{8,64}$`)
	unsafeChar = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// ShortRef abbreviates a commit SHA to 8 characters and sanitizes branch or tag names.
func ShortRef(ref string) string {
	ref = strings.TrimPrefix(ref, "refs/heads/")
	ref = strings.TrimPrefix(ref, "refs/tags/")
	if hexSHA.MatchString(ref) {
		return strings.ToLower(ref[:8])
	}
	ref = unsafeChar.ReplaceAllString(ref, "-")
	return strings.Trim(ref, "-.")
}

// BranchName returns the deterministic migration branch for a ref.
func BranchName(prefix, ref string) string {
	if prefix == "" {
		prefix = DefaultBranchPrefix
	}
	return prefix + "-" + ShortRef(ref)
}

// VariantName returns the n-th branch variant used once the base request was closed.
// n < 2 returns base unchanged.
func VariantName(base string, n int) string {
	if n < 2 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, n)
}

// ContentHash returns the hex SHA-256 of content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// MappingRow maps one source resource to its Azure equivalent.
type MappingRow struct {
	Source    string
	Target    string
	Rationale string
}

// CostRow is one line of the monthly cost estimate.
type CostRow struct {
	Resource    string
	SKU         string
	MonthlyCost decimal.Decimal
}

// GeneratedFile is a file produced by the model.
type GeneratedFile struct {
	Path    string
	Content string
}

// Artifact is a validated model output for one source file.
type Artifact struct {
	// Source is the path of the file the artifact was generated from.
	Source string

	Summary    string
	Deployment string
	Mapping    []MappingRow
	Costs      []CostRow
	Total      decimal.Decimal
	Files      []GeneratedFile
}

// ArtifactPath returns where the generated template for a source file is committed:
// <outputDir>/<source dir>/<source stem>.bicep.
func ArtifactPath(outputDir string, file ChangedFile) string {
	dir := path.Dir(file.Path)
	stem := strings.TrimSuffix(path.Base(file.Path), path.Ext(file.Path))
	if file.Kind == KindDockerfile {
		stem = "containerapp"
	}
	return path.Join(outputDir, dir, stem+".bicep")
}

// ArtifactPaths returns ArtifactPath for each file, except that files whose paths
// would collide are committed under <source base name>.bicep instead, so a Dockerfile
// next to containerapp.tf yields Dockerfile.bicep and containerapp.tf.bicep.
// The result only depends on the set of files, not their order.
func ArtifactPaths(outputDir string, files []ChangedFile) []string {
	paths := make([]string, len(files))
	full := make([]bool, len(files))
	for i, f := range files {
		paths[i] = ArtifactPath(outputDir, f)
	}

	// Full base names never collide with each other, so every pass either settles or
	// moves at least one more file to its full name.
	for {
		claims := make(map[string][]int, len(paths))
		for i, p := range paths {
			claims[p] = append(claims[p], i)
		}
		moved := false
		for _, idx := range claims {
			if len(idx) < 2 {
				continue
			}
			for _, i := range idx {
				if full[i] {
					continue
				}
				full[i] = true
				paths[i] = path.Join(outputDir, path.Dir(files[i].Path), path.Base(files[i].Path)+".bicep")
				moved = true
			}
		}
		if !moved {
			return paths
		}
	}
}

// CommonDir returns the deepest directory containing every path, or "." when the paths
// share none (or are all at the repository root).
func CommonDir(paths []string) string {
	if len(paths) == 0 {
		return "."
	}

	common := strings.Split(path.Dir(paths[0]), "/")
	for _, p := range paths[1:] {
		parts := strings.Split(path.Dir(p), "/")
		n := 0
		for n < len(common) && n < len(parts) && common[n] == parts[n] {
			n++
		}
		common = common[:n]
	}

	if len(common) == 0 || common[0] == "." {
		return "."
	}
	return strings.Join(common, "/")
}

// Record is the durable side effect of a successful publish.
type Record struct {
	Branch        string            `json:"branch"`
	Ref           string            `json:"ref"`
	RequestNumber int               `json:"request_number"`
	RequestURL    string            `json:"request_url"`
	Files         map[string]string `json:"files"` // path -> content hash
	UpdatedAt     time.Time         `json:"updated_at"`
}
