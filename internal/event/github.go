package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/drewdunne/bicepmigrate/internal/webhook"
)

type gitHubPayload struct {
	Ref        string        `json:"ref"`
	Before     string        `json:"before"`
	After      string        `json:"after"`
	Deleted    bool          `json:"deleted"`
	Commits    []commitFiles `json:"commits"`
	Repository struct {
		FullName      string `json:"full_name"`
		DefaultBranch string `json:"default_branch"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
}

// NormalizeGitHubPush converts a GitHub push webhook to a Push.
func NormalizeGitHubPush(ghEvent *webhook.GitHubEvent) (*Push, error) {
	if ghEvent.EventType != "push" {
		return nil, fmt.Errorf("unhandled event type: %s", ghEvent.EventType)
	}

	var payload gitHubPayload
	if err := json.Unmarshal(ghEvent.RawPayload, &payload); err != nil {
		return nil, fmt.Errorf("parsing payload: %w", err)
	}

	if !strings.Contains(payload.Repository.FullName, "/") {
		return nil, fmt.Errorf("invalid repository full_name: %s", payload.Repository.FullName)
	}

	return &Push{
		Provider:      "github",
		Repository:    payload.Repository.FullName,
		DefaultBranch: payload.Repository.DefaultBranch,
		Ref:           payload.Ref,
		Before:        payload.Before,
		After:         payload.After,
		Paths:         changedPaths(payload.Commits),
		Deleted:       payload.Deleted,
		Actor:         payload.Sender.Login,
		Timestamp:     time.Now(),
		RawPayload:    ghEvent.RawPayload,
	}, nil
}
