package duo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/drewdunne/bicepmigrate/internal/generate"
)

func TestClient_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v4/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("PRIVATE-TOKEN") != "test-token" {
			t.Errorf("missing or incorrect token header")
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["resource_type"] != "project" || body["resource_id"] != "group/app" {
			t.Errorf("unexpected resource: %v", body)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "generated"}},
			},
		})
	}))
	defer server.Close()

	c := New("test-token", WithBaseURL(server.URL))
	res, err := c.Generate(context.Background(), generate.Request{
		Prompt:  "p",
		Project: generate.Project{Name: "app", Namespace: "group", DefaultBranch: "main"},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Text != "generated" {
		t.Errorf("Text = %q, want %q", res.Text, "generated")
	}
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"choices", `{"choices":[{"message":{"content":"a"}}]}`, "a"},
		{"response", `{"response":"b"}`, "b"},
		{"content", `{"content":"c"}`, "c"},
		{"bare string", `"d"`, "d"},
		{"plain text", `not json`, "not json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractText([]byte(tt.body)); got != tt.want {
				t.Errorf("extractText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClient_Generate_EmptyIsRefusal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":""}`))
	}))
	defer server.Close()

	_, err := New("t", WithBaseURL(server.URL)).Generate(context.Background(), generate.Request{Prompt: "p"})
	if !generate.IsRefusal(err) {
		t.Errorf("Generate() error = %v, want RefusalError", err)
	}
}
