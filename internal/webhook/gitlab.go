package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

// GitLabEvent is a verified GitLab delivery. Only the envelope is decoded here.
type GitLabEvent struct {
	EventType  string
	DeliveryID string
	ObjectKind string `json:"object_kind"`
	Ref        string `json:"ref"`
	After      string `json:"after"`
	RawPayload []byte
}

// GitLabEventHandler is called when a valid GitLab webhook is received.
type GitLabEventHandler func(event *GitLabEvent) error

// GitLabHandler checks the X-Gitlab-Token shared secret.
type GitLabHandler struct {
	secret  []byte
	handler GitLabEventHandler
}

// NewGitLabHandler creates a new GitLab webhook handler.
func NewGitLabHandler(secret string, handler GitLabEventHandler) *GitLabHandler {
	return &GitLabHandler{
		secret:  []byte(secret),
		handler: handler,
	}
}

// ServeHTTP implements http.Handler.
func (h *GitLabHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	token := r.Header.Get("X-Gitlab-Token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	if subtle.ConstantTimeCompare([]byte(token), h.secret) != 1 {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	event := &GitLabEvent{
		EventType:  r.Header.Get("X-Gitlab-Event"),
		DeliveryID: r.Header.Get("X-Gitlab-Event-UUID"),
		RawPayload: body,
	}
	if err := json.Unmarshal(body, event); err != nil {
		http.Error(w, "failed to parse payload", http.StatusBadRequest)
		return
	}

	dispatch(w, "gitlab", func() error { return h.handler(event) })
}
