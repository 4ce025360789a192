package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGitHubHandler_ValidSignature(t *testing.T) {
	secret := "test-secret"
	payload := `{"ref":"refs/heads/main","after":"0123456789abcdef0123456789abcdef01234567","deleted":false}`

	// Calculate expected signature
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	signature := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	handler := NewGitHubHandler(secret, func(event *GitHubEvent) error {
		if event.Ref != "refs/heads/main" {
			t.Errorf("event.Ref = %q, want %q", event.Ref, "refs/heads/main")
		}
		if event.DeliveryID != "delivery-1" {
			t.Errorf("event.DeliveryID = %q, want %q", event.DeliveryID, "delivery-1")
		}
		return nil
	})

	req := httptest.NewRequest(http.MethodPost, "/webhook/github", strings.NewReader(payload))
	req.Header.Set("X-Hub-Signature-256", signature)
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-GitHub-Delivery", "delivery-1")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d, body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestGitHubHandler_InvalidSignature(t *testing.T) {
	secret := "test-secret"
	payload := `{"ref":"refs/heads/main"}`

	handler := NewGitHubHandler(secret, func(event *GitHubEvent) error {
		t.Error("handler should not be called with invalid signature")
		return nil
	})

	req := httptest.NewRequest(http.MethodPost, "/webhook/github", strings.NewReader(payload))
	req.Header.Set("X-Hub-Signature-256", "sha256=invalid")
	req.Header.Set("X-GitHub-Event", "push")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestGitHubHandler_MissingSignature(t *testing.T) {
	secret := "test-secret"
	payload := `{"ref":"refs/heads/main"}`

	handler := NewGitHubHandler(secret, func(event *GitHubEvent) error {
		t.Error("handler should not be called with missing signature")
		return nil
	})

	req := httptest.NewRequest(http.MethodPost, "/webhook/github", strings.NewReader(payload))
	req.Header.Set("X-GitHub-Event", "push")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestGitHubHandler_DeletedBranch(t *testing.T) {
	secret := "test-secret"
	payload := `{"ref":"refs/heads/feature","deleted":true}`

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))

	var got *GitHubEvent
	handler := NewGitHubHandler(secret, func(event *GitHubEvent) error {
		got = event
		return nil
	})

	req := httptest.NewRequest(http.MethodPost, "/webhook/github", strings.NewReader(payload))
	req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set("X-GitHub-Event", "push")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got == nil || !got.Deleted {
		t.Errorf("event.Deleted = false, want true")
	}
	if string(got.RawPayload) != payload {
		t.Errorf("RawPayload = %q, want %q", got.RawPayload, payload)
	}
}

func TestVerify(t *testing.T) {
	secret := []byte("s3cret")
	payload := []byte(`{"ref":"refs/heads/main"}`)
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	good := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	tests := []struct {
		name      string
		signature string
		want      bool
	}{
		{"valid", good, true},
		{"sha1 prefix", "sha1=" + hex.EncodeToString(mac.Sum(nil)), false},
		{"not hex", "sha256=zz", false},
		{"wrong digest", "sha256=" + strings.Repeat("0", 64), false},
		{"no prefix", hex.EncodeToString(mac.Sum(nil)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Verify(secret, payload, tt.signature); got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGitHubHandler_RejectsGet(t *testing.T) {
	handler := NewGitHubHandler("test-secret", func(event *GitHubEvent) error {
		t.Error("handler should not be called for GET")
		return nil
	})

	req := httptest.NewRequest(http.MethodGet, "/webhook/github", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
	if rec.Header().Get("Allow") != http.MethodPost {
		t.Errorf("Allow = %q, want POST", rec.Header().Get("Allow"))
	}
}
