package oembed_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/marrow-wiki/mbr/internal/oembed"
)

func TestFetchParsesOpenGraphTags(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head>
			<meta property="og:title" content="Test Title">
			<meta property="og:description" content="Test Description">
			<meta property="og:image" content="https://example.com/img.png">
		</head></html>`))
	}))
	defer srv.Close()

	f := oembed.New(2*time.Second, 1<<20)
	info, ok := f.Fetch(context.Background(), srv.URL)
	if !ok {
		t.Fatalf("expected Fetch to succeed")
	}
	if info.Title != "Test Title" || info.Description != "Test Description" || info.Image != "https://example.com/img.png" {
		t.Errorf("unexpected info: %+v", info)
	}
	if !strings.Contains(info.HTML(), "Test Title") {
		t.Errorf("expected HTML to contain title, got %s", info.HTML())
	}
}

func TestFetchDisabledWhenTimeoutZero(t *testing.T) {
	t.Parallel()
	f := oembed.New(0, 1<<20)
	if _, ok := f.Fetch(context.Background(), "https://example.com"); ok {
		t.Errorf("expected disabled fetcher to always miss")
	}
}

func TestFetchReturnsFalseOnNon2xx(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := oembed.New(2*time.Second, 1<<20)
	if _, ok := f.Fetch(context.Background(), srv.URL); ok {
		t.Errorf("expected 404 response to be treated as a miss")
	}
}

func TestFetchCachesResult(t *testing.T) {
	t.Parallel()
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`<html><head><meta property="og:title" content="Cached"></head></html>`))
	}))
	defer srv.Close()

	f := oembed.New(2*time.Second, 1<<20)
	if _, ok := f.Fetch(context.Background(), srv.URL); !ok {
		t.Fatalf("expected first fetch to succeed")
	}
	if _, ok := f.Fetch(context.Background(), srv.URL); !ok {
		t.Fatalf("expected second fetch to succeed from cache")
	}
	if hits != 1 {
		t.Errorf("expected exactly 1 HTTP request, got %d", hits)
	}
}
