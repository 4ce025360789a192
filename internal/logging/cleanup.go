package logging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

const runLogMarker = "-run-"

// CleanupResult counts what one Cleanup pass removed.
type CleanupResult struct {
	Files int
	Dirs  int
}

// Cleaner prunes run logs written by Writer once they are older than the retention window.
// Anything under baseDir that is not a run log is left alone.
type Cleaner struct {
	baseDir   string
	retention time.Duration
	now       func() time.Time
}

// NewCleaner returns a Cleaner keeping retentionDays worth of run logs under baseDir.
func NewCleaner(baseDir string, retentionDays int) *Cleaner {
	return &Cleaner{
		baseDir:   baseDir,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
	}
}

// Cleanup removes expired run logs, then any directory the removal left empty.
// A missing baseDir is not an error.
func (c *Cleaner) Cleanup() (CleanupResult, error) {
	var res CleanupResult
	cutoff := c.now().Add(-c.retention)

	var dirs []string
	err := filepath.WalkDir(c.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == c.baseDir {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if path != c.baseDir {
				dirs = append(dirs, path)
			}
			return nil
		}
		created, ok := runLogTime(d)
		if !ok || !created.Before(cutoff) {
			return nil
		}
		if os.Remove(path) == nil {
			res.Files++
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("walking %s: %w", c.baseDir, err)
	}

	// WalkDir visits parents first, so walking backwards empties children before parents.
	for _, dir := range slices.Backward(dirs) {
		if os.Remove(dir) == nil {
			res.Dirs++
		}
	}
	return res, nil
}

// runLogTime reports when a run log was started. The timestamp Writer puts in the
// file name wins; the modification time is used when the name does not parse.
func runLogTime(d fs.DirEntry) (time.Time, bool) {
	name := d.Name()
	stamp, _, ok := strings.Cut(name, runLogMarker)
	if !ok || !strings.HasSuffix(name, ".log") {
		return time.Time{}, false
	}
	if t, err := time.ParseInLocation(runLogTimeLayout, stamp, time.Local); err == nil {
		return t, true
	}
	info, err := d.Info()
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}
