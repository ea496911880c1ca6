package cobalt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestResolveTunnel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Api-Key secret" {
			t.Errorf("unexpected authorization %q", got)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["url"] != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
			t.Errorf("unexpected url %q", body["url"])
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":   "tunnel",
			"url":      "https://media.example/tunnel?id=1",
			"filename": "Never Gonna Give You Up (720p, h264).mp4",
		})
	}))
	defer server.Close()

	p := NewProvider(Config{Endpoints: []string{server.URL}, APIKey: "secret", Client: server.Client()})
	loc, err := p.Resolve(context.Background(), "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if loc.URL != "https://media.example/tunnel?id=1" {
		t.Fatalf("unexpected url %q", loc.URL)
	}
	if loc.Title != "Never Gonna Give You Up" {
		t.Fatalf("unexpected title %q", loc.Title)
	}
	if loc.MimeType != "video/mp4" {
		t.Fatalf("unexpected mime %q", loc.MimeType)
	}
}

func TestResolveFallsBackToNextEndpoint(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "error", "error": map[string]string{"code": "error.api.rate_exceeded"}})
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "redirect", "url": "https://cdn.example/v.webm", "filename": "clip.webm"})
	}))
	defer up.Close()

	p := NewProvider(Config{Endpoints: []string{down.URL, up.URL}})
	loc, err := p.Resolve(context.Background(), "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if loc.MimeType != "video/webm" || loc.Title != "clip" {
		t.Fatalf("unexpected locator %+v", loc)
	}
}

func TestResolveSurfacesErrorCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "error", "error": map[string]string{"code": "error.api.content.video.unavailable"}})
	}))
	defer server.Close()

	p := NewProvider(Config{Endpoints: []string{server.URL}})
	_, err := p.Resolve(context.Background(), "dQw4w9WgXcQ")
	if err == nil || !strings.Contains(err.Error(), "video.unavailable") {
		t.Fatalf("expected cobalt error code, got %v", err)
	}
}

func TestInfoDisabledWithoutEndpoints(t *testing.T) {
	if NewProvider(Config{}).Info().Enabled {
		t.Fatal("expected provider without endpoints to be disabled")
	}
}
