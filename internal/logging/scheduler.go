package logging

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// CleanupScheduler runs a Cleaner once at start and then on every interval.
type CleanupScheduler struct {
	cleaner  *Cleaner
	interval time.Duration
	logger   *zap.Logger
}

func NewCleanupScheduler(cleaner *Cleaner, interval time.Duration, logger *zap.Logger) *CleanupScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &CleanupScheduler{cleaner: cleaner, interval: interval, logger: logger}
}

// Run blocks until ctx is done. A pass that is already running when ctx is
// cancelled finishes before Run returns.
func (s *CleanupScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.cleanOnce()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *CleanupScheduler) cleanOnce() {
	res, err := s.cleaner.Cleanup()
	if err != nil {
		s.logger.Warn("run log cleanup failed", zap.Error(err))
		return
	}
	if res.Files > 0 || res.Dirs > 0 {
		s.logger.Info("cleaned up old run logs",
			zap.Int("files", res.Files),
			zap.Int("dirs", res.Dirs),
		)
	}
}
