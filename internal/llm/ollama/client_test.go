package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/linnemanlabs/sift/internal/mail"
	"github.com/linnemanlabs/sift/internal/triage"
)

func testRequest() *triage.ClassifyRequest {
	return &triage.ClassifyRequest{
		Email: &mail.Email{
			ID:      "em-1",
			From:    "news@digest.example.com",
			Subject: "This week in Go",
			Date:    time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		},
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %q, want /api/generate", r.URL.Path)
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "llama3" {
			t.Errorf("model = %q, want llama3", req.Model)
		}
		if req.Stream {
			t.Error("expected stream=false")
		}
		if req.Format != "json" {
			t.Errorf("format = %q, want json", req.Format)
		}

		_ = json.NewEncoder(w).Encode(generateResponse{
			Response: `{"folder":"newsletters","confidence":0.83,"reasoning":"weekly digest"}`,
			Done:     true,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3")
	v, err := c.Classify(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.Folder != mail.FolderNewsletters {
		t.Errorf("Folder = %q, want %q", v.Folder, mail.FolderNewsletters)
	}
	if v.Confidence != 0.83 {
		t.Errorf("Confidence = %v, want 0.83", v.Confidence)
	}
}

func TestClassify_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3")
	if _, err := c.Classify(context.Background(), testRequest()); err == nil {
		t.Fatal("expected error on HTTP 500")
	}
}

func TestClassify_EmptyResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(generateResponse{Done: true})
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3")
	if _, err := c.Classify(context.Background(), testRequest()); err == nil {
		t.Fatal("expected error on empty response content")
	}
}

func TestClassify_InvalidVerdict(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(generateResponse{
			Response: `{"folder":"definitely-not-a-folder","confidence":0.5}`,
			Done:     true,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3")
	if _, err := c.Classify(context.Background(), testRequest()); err == nil {
		t.Fatal("expected error on unknown folder")
	}
}
