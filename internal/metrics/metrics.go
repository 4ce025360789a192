// Package metrics exposes Prometheus counters for runs and webhooks.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bicepmigrate"

// Registry holds every bicepmigrate collector. It is separate from the default
// registry so tests and embedders see only these series.
var Registry = prometheus.NewRegistry()

var (
	runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Finished runs by terminal state and failure kind.",
	}, []string{"state", "kind"})

	generationAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generation_attempts_total",
		Help:      "Calls to the generation backend by result.",
	}, []string{"result"})

	commits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commits_total",
		Help:      "Commits pushed to migration branches.",
	}, []string{"provider"})

	requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Merge or pull requests created or updated.",
	}, []string{"provider", "action"})

	webhooksReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhooks_received_total",
		Help:      "Webhook deliveries accepted by provider.",
	}, []string{"provider"})

	webhooksProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhooks_processed_total",
		Help:      "Webhook deliveries that started a run.",
	}, []string{"provider"})
)

func init() {
	Registry.MustRegister(runs, generationAttempts, commits, requests, webhooksReceived, webhooksProcessed)
}

// RunFinished counts a run that reached a terminal state. kind is empty for Done.
func RunFinished(state, kind string) { runs.WithLabelValues(state, kind).Inc() }

// GenerationAttempt counts one backend call. result is ok, transport or refusal.
func GenerationAttempt(result string) { generationAttempts.WithLabelValues(result).Inc() }

// CommitCreated counts a commit pushed through provider.
func CommitCreated(provider string) { commits.WithLabelValues(provider).Inc() }

// RequestCreated counts a newly opened merge or pull request.
func RequestCreated(provider string) { requests.WithLabelValues(provider, "created").Inc() }

// RequestUpdated counts a request whose body was rewritten.
func RequestUpdated(provider string) { requests.WithLabelValues(provider, "updated").Inc() }

// WebhookReceived increments the count of webhooks received.
func WebhookReceived(provider string) { webhooksReceived.WithLabelValues(provider).Inc() }

// WebhookProcessed increments the count of webhooks that started a run.
func WebhookProcessed(provider string) { webhooksProcessed.WithLabelValues(provider).Inc() }

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// Reset resets all metrics to zero (useful for testing).
func Reset() {
	runs.Reset()
	generationAttempts.Reset()
	commits.Reset()
	requests.Reset()
	webhooksReceived.Reset()
	webhooksProcessed.Reset()
}
