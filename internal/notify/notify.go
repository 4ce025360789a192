// Package notify publishes run outcomes to interested subscribers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Event is the outcome of one run as published to subscribers.
type Event struct {
	RunID      string      `json:"run_id"`
	Provider   string      `json:"provider"`
	Repository string      `json:"repository"`
	Ref        string      `json:"ref"`
	State      string      `json:"state"`
	Kind       string      `json:"kind,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Branch     string      `json:"branch,omitempty"`
	RequestURL string      `json:"request_url,omitempty"`
	Files      []FileEvent `json:"files,omitempty"`
	FinishedAt time.Time   `json:"finished_at"`
}

// FileEvent is the outcome for one source file.
type FileEvent struct {
	Source   string `json:"source"`
	Artifact string `json:"artifact,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Notifier delivers run outcomes.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
	Close()
}

// Noop drops every event.
type Noop struct{}

func (Noop) Notify(context.Context, Event) error { return nil }
func (Noop) Close()                              {}

// publisher is the subset of *nats.Conn used by NATS.
type publisher interface {
	Publish(subject string, data []byte) error
	Close()
}

// NATS publishes events as JSON on a single subject.
type NATS struct {
	conn    publisher
	subject string
}

// Connect dials the NATS server at url.
func Connect(url, subject string) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("bicepmigrate"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(3),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &NATS{conn: nc, subject: subject}, nil
}

// Notify publishes ev. Publishing is fire-and-forget; ctx only aborts before the send.
func (n *NATS) Notify(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", n.subject, err)
	}
	return nil
}

// Close closes the underlying connection.
func (n *NATS) Close() {
	n.conn.Close()
}
