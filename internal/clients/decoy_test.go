package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decoyServer(t *testing.T, alternatives []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generate-false-answers" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req decoyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		json.NewEncoder(w).Encode(decoyResponse{Alternatives: alternatives})
	}))
}

func TestGenerateDecoysSuccess(t *testing.T) {
	srv := decoyServer(t, []string{"a cat on a roof", "a dog in a boat", "a fish on a bike"})
	defer srv.Close()

	client := NewDecoyClient(srv.URL, "")
	decoys, err := client.GenerateDecoys(context.Background(), "a horse on a hill", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decoys) != 3 {
		t.Fatalf("expected 3 decoys, got %d", len(decoys))
	}
}

func TestGenerateDecoysTooFew(t *testing.T) {
	srv := decoyServer(t, []string{"a cat on a roof", "a dog in a boat"})
	defer srv.Close()

	client := NewDecoyClient(srv.URL, "")
	_, err := client.GenerateDecoys(context.Background(), "a horse on a hill", 3)
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
}

func TestGenerateDecoysDuplicates(t *testing.T) {
	srv := decoyServer(t, []string{"a cat on a roof", "A Cat On A Roof", "a fish on a bike"})
	defer srv.Close()

	client := NewDecoyClient(srv.URL, "")
	_, err := client.GenerateDecoys(context.Background(), "a horse on a hill", 3)
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError for duplicates, got %v", err)
	}
}

func TestGenerateDecoysMatchingCorrect(t *testing.T) {
	srv := decoyServer(t, []string{"a horse on a hill", "a dog in a boat", "a fish on a bike"})
	defer srv.Close()

	client := NewDecoyClient(srv.URL, "")
	_, err := client.GenerateDecoys(context.Background(), "a horse on a hill", 3)
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError when a decoy equals the correct caption, got %v", err)
	}
}

func TestGenerateDecoysEmptyEntry(t *testing.T) {
	srv := decoyServer(t, []string{"a cat on a roof", "   ", "a fish on a bike"})
	defer srv.Close()

	client := NewDecoyClient(srv.URL, "")
	_, err := client.GenerateDecoys(context.Background(), "a horse on a hill", 3)
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError for empty decoy, got %v", err)
	}
}

func TestGenerateDecoysUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewDecoyClient(srv.URL, "")
	_, err := client.GenerateDecoys(context.Background(), "a horse on a hill", 3)
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError for upstream failure, got %v", err)
	}
}

func TestRenderClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generate-image" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(renderResponse{ImageURL: "https://img.example/abc.png"})
	}))
	defer srv.Close()

	client := NewRenderClient(srv.URL, "")
	url, err := client.Render(context.Background(), "a horse on a hill")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://img.example/abc.png" {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestRenderClientMissingURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewRenderClient(srv.URL, "")
	if _, err := client.Render(context.Background(), "a horse"); err == nil {
		t.Fatal("expected error for missing image_url")
	}
}
