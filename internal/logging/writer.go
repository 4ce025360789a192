package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RunEntry contains metadata for creating a run log file.
type RunEntry struct {
	RunID     string
	RepoOwner string
	RepoName  string
	ShortRef  string
	Timestamp time.Time
}

const runLogTimeLayout = "2006-01-02T15-04-05"

// Writer manages log files organized by repository and ref.
type Writer struct {
	baseDir string
}

// NewWriter creates a new Writer with the specified base directory.
func NewWriter(baseDir string) *Writer {
	return &Writer{baseDir: baseDir}
}

// Create creates a new log file for the given entry and returns the path.
// Directory structure: baseDir/owner/repo/shortRef/timestamp-run-runID.log
func (w *Writer) Create(entry RunEntry) (string, error) {
	dir := filepath.Join(
		w.baseDir,
		entry.RepoOwner,
		entry.RepoName,
		entry.ShortRef,
	)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating log directory: %w", err)
	}

	filename := fmt.Sprintf("%s%s%s.log",
		entry.Timestamp.Format(runLogTimeLayout),
		runLogMarker,
		entry.RunID,
	)

	path := filepath.Join(dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating log file: %w", err)
	}
	f.Close()

	return path, nil
}

// Tee returns a logger that writes everything logger writes, plus debug and above as
// JSON lines into a new run log file. The returned close function flushes and closes it.
func (w *Writer) Tee(logger *zap.Logger, entry RunEntry) (*zap.Logger, func() error, error) {
	path, err := w.Create(entry)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(f),
		zapcore.DebugLevel,
	)
	teed := logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	}))

	closeFn := func() error {
		_ = fileCore.Sync()
		return f.Close()
	}
	return teed, closeFn, nil
}
