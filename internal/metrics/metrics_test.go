package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandler_ExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest(http.MethodGet, "/api/all", http.StatusOK, 10*time.Millisecond)
	m.IncNodeChange("add", "ok")
	m.SetNodes(3, 7)
	m.IncChildMapFetch(false)
	m.IncProbe(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`nodeatlas_http_requests_total{method="GET",route="/api/all",status="200"} 1`,
		`nodeatlas_node_changes_total{op="add",result="ok"} 1`,
		`nodeatlas_nodes{kind="cached"} 7`,
		`nodeatlas_child_map_fetches_total{result="error"} 1`,
		`nodeatlas_probes_total{result="ok"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output:\n%s", want, text)
		}
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveHTTPRequest(http.MethodGet, "/", 200, time.Second)
	m.IncNodeChange("add", "ok")
	m.SetNodes(1, 1)
	m.ObserveCacheRefresh(time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
