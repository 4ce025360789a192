// Package webhook verifies provider webhook deliveries and decodes their envelope.
package webhook

import (
	"errors"
	"io"
	"net/http"

	"github.com/drewdunne/bicepmigrate/internal/metrics"
)

// maxPayloadBytes bounds a delivery body. GitHub caps push payloads at 25 MB.
const maxPayloadBytes = 25 << 20

// readBody reads a POST body, writing the error response itself when it fails.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

// dispatch counts a verified delivery and hands it to fn.
func dispatch(w http.ResponseWriter, provider string, fn func() error) {
	metrics.WebhookReceived(provider)

	if err := fn(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
