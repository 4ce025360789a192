package event

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/drewdunne/bicepmigrate/internal/config"
	"github.com/drewdunne/bicepmigrate/internal/migration"
)

// Handler processes a push that passed routing.
type Handler func(ctx context.Context, push *Push) error

// Router filters pushes and hands the rest to a handler.
type Router struct {
	serverCfg *config.Config
	handler   Handler
	debouncer *Debouncer
	logger    *zap.Logger
}

// NewRouter creates a new push router. A nil logger discards output.
func NewRouter(serverCfg *config.Config, handler Handler, logger *zap.Logger) *Router {
	debounceWindow := time.Duration(serverCfg.Runs.DebounceSeconds) * time.Second
	if debounceWindow == 0 {
		debounceWindow = 10 * time.Second // Default
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		serverCfg: serverCfg,
		handler:   handler,
		debouncer: NewDebouncer(debounceWindow),
		logger:    logger,
	}
}

// Route processes a push through the routing pipeline.
func (r *Router) Route(ctx context.Context, push *Push) error {
	log := r.logger.With(
		zap.String("provider", push.Provider),
		zap.String("repository", push.Repository),
		zap.String("ref", push.Ref),
	)

	if reason := r.skipReason(push); reason != "" {
		log.Debug("push ignored", zap.String("reason", reason))
		return nil
	}

	key := push.Key()
	if !r.debouncer.Admit(key) {
		log.Info("push debounced", zap.String("key", key))
		return nil
	}

	if err := r.handler(ctx, push); err != nil {
		r.debouncer.Forget(key)
		return err
	}
	return nil
}

// Cleanup drops stale debounce entries.
func (r *Router) Cleanup() {
	if n := r.debouncer.Cleanup(); n > 0 {
		r.logger.Debug("debounce entries expired", zap.Int("count", n))
	}
}

func (r *Router) skipReason(push *Push) string {
	switch {
	case push.Deleted:
		return "ref deleted"
	case push.IsTag():
		return "tag push"
	case push.Branch() == "":
		return "not a branch"
	}

	prefix := r.serverCfg.Migration.BranchPrefix
	if prefix == "" {
		prefix = migration.DefaultBranchPrefix
	}
	// Migration branches only ever carry our own commits.
	if strings.HasPrefix(push.Branch(), prefix+"-") {
		return "migration branch"
	}
	return ""
}
