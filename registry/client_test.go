package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cppkg/cppkg/internal/errs"
)

func TestSearchDecodesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"results":[{"name":"fmt","version":"9.1.0","description":"formatting"}]}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, TotalDeadline: 2 * time.Second, MaxRetries: 1})
	got, err := c.Search(context.Background(), "fmt", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Name != "fmt" {
		t.Fatalf("Search() = %+v", got)
	}
}

func TestVersionsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"versions":[]}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, TotalDeadline: 2 * time.Second, MaxRetries: 1})
	_, err := c.Versions(context.Background(), "nope")
	if _, ok := err.(*errs.PackageNotFound); !ok {
		t.Fatalf("Versions() error = %v, want *errs.PackageNotFound", err)
	}
}

func Test4xxIsNotRetried(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, TotalDeadline: 3 * time.Second, MaxRetries: 3})
	_, err := c.Search(context.Background(), "fmt", 10)
	if err == nil {
		t.Fatal("Search() = nil, want error")
	}
	if hits != 1 {
		t.Fatalf("server was hit %d times, want exactly 1 for a non-retryable 4xx", hits)
	}
}

func Test5xxIsRetriedThenSucceeds(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"results":[]}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, TotalDeadline: 5 * time.Second, MaxRetries: 3})
	if _, err := c.Search(context.Background(), "fmt", 10); err != nil {
		t.Fatalf("Search() = %v, want eventual success after retry", err)
	}
	if hits < 2 {
		t.Fatalf("server was hit %d times, want at least 2 (one failure, one retry)", hits)
	}
}
