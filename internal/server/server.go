package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/drewdunne/bicepmigrate/internal/config"
	"github.com/drewdunne/bicepmigrate/internal/event"
	"github.com/drewdunne/bicepmigrate/internal/metrics"
	"github.com/drewdunne/bicepmigrate/internal/webhook"
)

// HealthResponse represents the health check response structure.
type HealthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]interface{} `json:"checks"`
}

// RunStats reports run queue occupancy for the health check.
type RunStats interface {
	ActiveCount() int
	QueueLength() int
}

// Server is the HTTP server for bicepmigrate serve mode.
type Server struct {
	cfg          *config.Config
	mux          *http.ServeMux
	httpServer   *http.Server
	listener     net.Listener
	httpServerMu sync.RWMutex  // protects httpServer and listener
	ready        chan struct{} // closed when server is ready to accept connections
	eventRouter  *event.Router
	runs         RunStats
	logger       *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithRouter routes verified pushes to r. Without it webhooks are accepted and dropped.
func WithRouter(r *event.Router) Option {
	return func(s *Server) { s.eventRouter = r }
}

// WithRunStats reports queue occupancy on /health.
func WithRunStats(rs RunStats) Option {
	return func(s *Server) { s.runs = rs }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a new Server with the given config.
func New(cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		mux:    http.NewServeMux(),
		ready:  make(chan struct{}),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Ready returns a channel that is closed when the server is ready to accept connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// routes sets up the HTTP routes.
func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", metrics.Handler())

	// GitHub webhook
	if s.cfg.Providers.GitHub.WebhookSecret != "" {
		githubHandler := webhook.NewGitHubHandler(
			s.cfg.Providers.GitHub.WebhookSecret,
			s.handleGitHubEvent,
		)
		s.mux.Handle("/webhook/github", githubHandler)
	}

	// GitLab webhook
	if s.cfg.Providers.GitLab.WebhookSecret != "" {
		gitlabHandler := webhook.NewGitLabHandler(
			s.cfg.Providers.GitLab.WebhookSecret,
			s.handleGitLabEvent,
		)
		s.mux.Handle("/webhook/gitlab", gitlabHandler)
	}
}

// handleHealth responds with server health status. A full run queue reports degraded,
// since further pushes would be rejected.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	active, queued := 0, 0
	if s.runs != nil {
		active, queued = s.runs.ActiveCount(), s.runs.QueueLength()
	}

	checks := map[string]interface{}{
		"active_runs": active,
		"queued_runs": queued,
		"webhooks":    s.webhookProviders(),
	}

	status := "ok"
	if size := s.cfg.Runs.QueueSize; size > 0 && queued >= size {
		status = "degraded"
	}

	health := HealthResponse{
		Status: status,
		Checks: checks,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

func (s *Server) webhookProviders() []string {
	providers := []string{}
	if s.cfg.Providers.GitHub.WebhookSecret != "" {
		providers = append(providers, "github")
	}
	if s.cfg.Providers.GitLab.WebhookSecret != "" {
		providers = append(providers, "gitlab")
	}
	return providers
}

// handleGitHubEvent processes a GitHub webhook event.
func (s *Server) handleGitHubEvent(ghEvent *webhook.GitHubEvent) error {
	log := s.logger.With(zap.String("provider", "github"), zap.String("event", ghEvent.EventType), zap.String("delivery", ghEvent.DeliveryID))
	log.Debug("received webhook")

	if s.eventRouter == nil {
		return nil
	}

	push, err := event.NormalizeGitHubPush(ghEvent)
	if err != nil {
		// Ping and non-push deliveries land here; they are acknowledged, not retried.
		log.Debug("ignoring webhook", zap.Error(err))
		return nil
	}

	return s.route(log, push)
}

// handleGitLabEvent processes a GitLab webhook event.
func (s *Server) handleGitLabEvent(glEvent *webhook.GitLabEvent) error {
	log := s.logger.With(zap.String("provider", "gitlab"), zap.String("event", glEvent.EventType), zap.String("kind", glEvent.ObjectKind))
	log.Debug("received webhook")

	if s.eventRouter == nil {
		return nil
	}

	push, err := event.NormalizeGitLabPush(glEvent)
	if err != nil {
		log.Debug("ignoring webhook", zap.Error(err))
		return nil
	}

	return s.route(log, push)
}

// route hands push to the router. Routing errors fail the delivery so the provider
// shows it and can redeliver.
func (s *Server) route(log *zap.Logger, push *event.Push) error {
	if err := s.eventRouter.Route(context.Background(), push); err != nil {
		log.Error("failed to route push", zap.String("repository", push.Repository), zap.Error(err))
		return err
	}
	return nil
}
