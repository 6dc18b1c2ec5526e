package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/woozymasta/nodeatlas/internal/vars"
)

const dump = `{"local":[{"addr":"fc00::1","owner_name":"alice","latitude":1,"longitude":2,"status":1,"updated_at":"2026-01-01T00:00:00Z"}],
"http://grandchild.example":[{"addr":"fc00::2","owner_name":"bob","latitude":3,"longitude":4,"status":0,"retrieve_time":1700000000,"updated_at":"2026-01-01T00:00:00Z"}]}`

func fastOptions(tries uint) Options {
	return Options{MaxTries: tries, InitialInterval: time.Millisecond}
}

func TestAllNodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/child_maps" {
			http.NotFound(w, r)
			return
		}
		if r.UserAgent() != vars.UserAgent() {
			t.Errorf("unexpected user agent %q", r.UserAgent())
		}
		_, _ = w.Write([]byte(dump))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", fastOptions(1))
	if c.BaseURL() != srv.URL {
		t.Fatalf("base url not trimmed: %q", c.BaseURL())
	}

	got, err := c.AllNodes(context.Background())
	if err != nil {
		t.Fatalf("all nodes: %v", err)
	}
	if len(got["local"]) != 1 || got["local"][0].ID() != "fc00::1" {
		t.Fatalf("unexpected local nodes %+v", got["local"])
	}
	far := got["http://grandchild.example"]
	if len(far) != 1 || far[0].RetrieveTime != 1700000000 {
		t.Fatalf("unexpected grandchild nodes %+v", far)
	}
}

func TestAllNodes_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(dump))
	}))
	defer srv.Close()

	if _, err := New(srv.URL, fastOptions(3)).AllNodes(context.Background()); err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}

	calls.Store(-10)
	_, err := New(srv.URL, fastOptions(2)).AllNodes(context.Background())
	var serr *StatusError
	if !errors.As(err, &serr) || serr.Code != http.StatusBadGateway {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestAllNodes_PermanentFailures(t *testing.T) {
	for name, handler := range map[string]http.HandlerFunc{
		"not found": func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) },
		"bad json":  func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("<html>")) },
	} {
		t.Run(name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				handler(w, r)
			}))
			defer srv.Close()

			if _, err := New(srv.URL, fastOptions(5)).AllNodes(context.Background()); err == nil {
				t.Fatalf("expected error")
			}
			if calls.Load() != 1 {
				t.Fatalf("expected a single attempt, got %d", calls.Load())
			}
		})
	}
}

func TestAllNodes_ContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(srv.URL, Options{MaxTries: 10, InitialInterval: time.Hour}).AllNodes(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"name":"child","local_nodes":4,"cached_nodes":1,"site":{"name":"child"}}`))
	}))
	defer srv.Close()

	s, err := New(srv.URL, fastOptions(1)).Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if s.Name != "child" || s.LocalNodes != 4 {
		t.Fatalf("unexpected summary %+v", s)
	}
}
