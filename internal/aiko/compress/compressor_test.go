package compress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestCompressSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/compress" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req compressRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Input != "a rather verbose system prompt" {
			t.Errorf("unexpected input %q", req.Input)
		}
		if req.Aggressiveness != 0.5 {
			t.Errorf("expected default aggressiveness 0.5, got %v", req.Aggressiveness)
		}
		json.NewEncoder(w).Encode(compressResponse{
			Output:              "short prompt",
			OriginalInputTokens: 40,
			OutputTokens:        12,
		})
	}))
	defer srv.Close()

	c := NewHTTP(HTTPConfig{BaseURL: srv.URL})
	result, err := c.Compress(context.Background(), "a rather verbose system prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Compressed {
		t.Error("expected Compressed true")
	}
	if result.Text != "short prompt" {
		t.Errorf("unexpected text %q", result.Text)
	}
	if result.Saved() != 28 {
		t.Errorf("expected 28 tokens saved, got %d", result.Saved())
	}
}

func TestCompressBlankInputSkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := NewHTTP(HTTPConfig{BaseURL: srv.URL})
	result, err := c.Compress(context.Background(), "   ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Compressed {
		t.Error("expected pass-through for blank input")
	}
	if calls.Load() != 0 {
		t.Errorf("expected no HTTP call, got %d", calls.Load())
	}
}

func TestCompressServerErrorReturnsOriginal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTP(HTTPConfig{BaseURL: srv.URL})
	result, err := c.Compress(context.Background(), "original text")
	if err == nil {
		t.Fatal("expected error from failing service")
	}
	// Callers fall back to Result.Text, which must carry the original.
	if result.Text != "original text" {
		t.Errorf("expected original text preserved, got %q", result.Text)
	}
	if result.Compressed {
		t.Error("expected Compressed false on failure")
	}
}

func TestCompressEmptyOutputPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(compressResponse{})
	}))
	defer srv.Close()

	c := NewHTTP(HTTPConfig{BaseURL: srv.URL})
	result, err := c.Compress(context.Background(), "keep me")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Compressed || result.Text != "keep me" {
		t.Errorf("expected pass-through, got %+v", result)
	}
}
