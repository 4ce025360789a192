package detect

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/drewdunne/bicepmigrate/internal/migration"
)

// ErrNotFound is returned by a Loader when the path no longer exists at the ref
// (for example, it was deleted later in the pushed range).
var ErrNotFound = errors.New("file not found")

// Loader returns the content of a candidate file.
type Loader func(ctx context.Context) (string, error)

// Candidate is a path touched by a push together with a way to read it.
type Candidate struct {
	Path   string
	Loader Loader
}

// Static returns a Loader for content already in memory.
func Static(content string) Loader {
	return func(context.Context) (string, error) { return content, nil }
}

// Classify returns the kind of file at p.
func Classify(p string) migration.Kind {
	p = strings.ReplaceAll(p, "\\", "/")
	base := path.Base(p)
	switch {
	case strings.HasSuffix(base, ".tf") && len(base) > len(".tf"):
		return migration.KindTerraform
	case base == "Dockerfile":
		return migration.KindDockerfile
	default:
		return migration.KindUnknown
	}
}

// Detect returns the migration-relevant candidates in input order, with content loaded.
// Unknown files are dropped without being read. An empty result is not an error.
func Detect(ctx context.Context, candidates []Candidate) ([]migration.ChangedFile, error) {
	files := []migration.ChangedFile{}
	seen := make(map[string]bool)

	for _, c := range candidates {
		kind := Classify(c.Path)
		if kind == migration.KindUnknown || seen[c.Path] {
			continue
		}
		seen[c.Path] = true

		content, err := c.Loader(ctx)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", c.Path, err)
		}

		files = append(files, migration.ChangedFile{
			Path:    c.Path,
			Content: content,
			Kind:    kind,
		})
	}

	return files, nil
}

// Local returns a Loader reading p below root on the local filesystem.
func Local(root, p string) Loader {
	return func(context.Context) (string, error) {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(p)))
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", p, ErrNotFound)
		}
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}
