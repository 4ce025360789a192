package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/drewdunne/bicepmigrate/internal/config"
	"github.com/drewdunne/bicepmigrate/internal/event"
	"github.com/drewdunne/bicepmigrate/internal/metrics"
)

type fixedStats struct{ active, queued int }

func (f fixedStats) ActiveCount() int { return f.active }
func (f fixedStats) QueueLength() int { return f.queued }

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server = config.ServerConfig{Host: "127.0.0.1", Port: 8080}
	return cfg
}

func getHealth(t *testing.T, srv *Server) HealthResponse {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("GET /health Content-Type = %q, want %q", ct, "application/json")
	}

	var health HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("Failed to parse health response: %v", err)
	}
	return health
}

func TestNewServer(t *testing.T) {
	srv := New(testConfig())
	if srv == nil {
		t.Fatal("New() returned nil")
	}
}

func TestServer_HealthEndpoint(t *testing.T) {
	srv := New(testConfig(), WithRunStats(fixedStats{active: 2, queued: 3}))

	health := getHealth(t, srv)

	if health.Status != "ok" {
		t.Errorf("GET /health status = %q, want ok", health.Status)
	}
	// JSON numbers decode as float64.
	if got, _ := health.Checks["active_runs"].(float64); got != 2 {
		t.Errorf("active_runs = %v, want 2", health.Checks["active_runs"])
	}
	if got, _ := health.Checks["queued_runs"].(float64); got != 3 {
		t.Errorf("queued_runs = %v, want 3", health.Checks["queued_runs"])
	}
	if _, ok := health.Checks["webhooks"]; !ok {
		t.Error("GET /health missing 'webhooks' in checks")
	}
}

func TestServer_HealthEndpoint_DegradedWhenQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.Runs.QueueSize = 3

	srv := New(cfg, WithRunStats(fixedStats{active: 4, queued: 3}))

	if health := getHealth(t, srv); health.Status != "degraded" {
		t.Errorf("GET /health status = %q, want degraded when the queue is full", health.Status)
	}
}

func TestServer_HealthEndpoint_NoRunStats(t *testing.T) {
	health := getHealth(t, New(testConfig()))

	if got, _ := health.Checks["active_runs"].(float64); got != 0 {
		t.Errorf("active_runs = %v, want 0", health.Checks["active_runs"])
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	metrics.Reset()
	metrics.CommitCreated("github")
	srv := New(testConfig())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `bicepmigrate_commits_total{provider="github"} 1`) {
		t.Errorf("GET /metrics body has no bicepmigrate metrics:\n%s", rec.Body.String())
	}
}

func TestServer_WebhookRoutesOnlyWithSecrets(t *testing.T) {
	srv := New(testConfig())

	for _, path := range []string{"/webhook/github", "/webhook/gitlab"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("POST %s status = %d, want %d", path, rec.Code, http.StatusNotFound)
		}
	}
}

func TestServer_WebhookGitHubEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.Providers.GitHub.WebhookSecret = "test-secret"

	var routed *event.Push
	router := event.NewRouter(cfg, func(ctx context.Context, p *event.Push) error {
		routed = p
		return nil
	}, nil)
	srv := New(cfg, WithRouter(router))

	payload := `{"ref":"refs/heads/main","after":"abc123","repository":{"full_name":"acme/infra"},"commits":[{"added":["main.tf"]}]}`
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte(payload))
	signature := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhook/github", strings.NewReader(payload))
	req.Header.Set("X-Hub-Signature-256", signature)
	req.Header.Set("X-GitHub-Event", "push")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("POST /webhook/github status = %d, want %d, body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if routed == nil || routed.Repository != "acme/infra" {
		t.Fatalf("routed push = %+v", routed)
	}
	if len(routed.Paths) != 1 || routed.Paths[0] != "main.tf" {
		t.Errorf("routed paths = %v, want [main.tf]", routed.Paths)
	}
}

func TestServer_WebhookGitHubPing(t *testing.T) {
	cfg := testConfig()
	cfg.Providers.GitHub.WebhookSecret = "test-secret"

	router := event.NewRouter(cfg, func(ctx context.Context, p *event.Push) error {
		t.Error("ping should not be routed")
		return nil
	}, nil)
	srv := New(cfg, WithRouter(router))

	payload := `{"zen":"Keep it logically awesome."}`
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte(payload))

	req := httptest.NewRequest(http.MethodPost, "/webhook/github", strings.NewReader(payload))
	req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set("X-GitHub-Event", "ping")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("POST /webhook/github ping status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestServer_WebhookGitLabEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.Providers.GitLab.WebhookSecret = "test-secret"

	srv := New(cfg)

	payload := `{"object_kind":"push"}`

	req := httptest.NewRequest(http.MethodPost, "/webhook/gitlab", strings.NewReader(payload))
	req.Header.Set("X-Gitlab-Token", "test-secret")
	req.Header.Set("X-Gitlab-Event", "Push Hook")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("POST /webhook/gitlab status = %d, want %d, body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestServer_WebhookRoutingErrorFailsDelivery(t *testing.T) {
	cfg := testConfig()
	cfg.Providers.GitLab.WebhookSecret = "test-secret"

	router := event.NewRouter(cfg, func(ctx context.Context, p *event.Push) error {
		return errors.New("run queue is full")
	}, nil)
	srv := New(cfg, WithRouter(router))

	payload := `{"object_kind":"push","ref":"refs/heads/main","after":"abc","project":{"path_with_namespace":"group/project"}}`

	req := httptest.NewRequest(http.MethodPost, "/webhook/gitlab", strings.NewReader(payload))
	req.Header.Set("X-Gitlab-Token", "test-secret")
	req.Header.Set("X-Gitlab-Event", "Push Hook")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("POST /webhook/gitlab status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}
