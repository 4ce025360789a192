package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/drewdunne/bicepmigrate/internal/webhook"
)

// gitLabZeroSHA marks a created or deleted ref in GitLab push payloads.
const gitLabZeroSHA = "0000000000000000000000000000000000000000"

type gitLabPayload struct {
	ObjectKind   string        `json:"object_kind"`
	Ref          string        `json:"ref"`
	Before       string        `json:"before"`
	After        string        `json:"after"`
	UserUsername string        `json:"user_username"`
	Commits      []commitFiles `json:"commits"`
	Project      struct {
		PathWithNamespace string `json:"path_with_namespace"`
		DefaultBranch     string `json:"default_branch"`
	} `json:"project"`
}

// NormalizeGitLabPush converts a GitLab push or tag_push webhook to a Push.
func NormalizeGitLabPush(glEvent *webhook.GitLabEvent) (*Push, error) {
	var payload gitLabPayload
	if err := json.Unmarshal(glEvent.RawPayload, &payload); err != nil {
		return nil, fmt.Errorf("parsing payload: %w", err)
	}

	switch payload.ObjectKind {
	case "push", "tag_push":
	default:
		return nil, fmt.Errorf("unhandled object_kind: %s", payload.ObjectKind)
	}

	if !strings.Contains(payload.Project.PathWithNamespace, "/") {
		return nil, fmt.Errorf("invalid project path: %s", payload.Project.PathWithNamespace)
	}

	return &Push{
		Provider:      "gitlab",
		Repository:    payload.Project.PathWithNamespace,
		DefaultBranch: payload.Project.DefaultBranch,
		Ref:           payload.Ref,
		Before:        payload.Before,
		After:         payload.After,
		Paths:         changedPaths(payload.Commits),
		Deleted:       payload.After == gitLabZeroSHA,
		Actor:         payload.UserUsername,
		Timestamp:     time.Now(),
		RawPayload:    glEvent.RawPayload,
	}, nil
}
