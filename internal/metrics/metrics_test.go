package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetrics_nilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("ok")
	m.ObserveStage("forward", 0.1)
	m.CacheLookup(true)
	m.InflightInc()
	m.InflightDec()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New(false)
	m.ObserveRequest("ok")
	m.ObserveRequest("ok")
	m.ObserveRequest("malformed")
	m.ObserveStage("forward", 0.02)
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.InflightInc()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	out := string(body)

	for _, want := range []string{
		`imgembed_requests_total{kind="ok"} 2`,
		`imgembed_requests_total{kind="malformed"} 1`,
		`imgembed_stage_duration_seconds_count{stage="forward"} 1`,
		`imgembed_cache_lookups_total{result="hit"} 1`,
		`imgembed_cache_lookups_total{result="miss"} 1`,
		`imgembed_inflight_requests 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNew_defaultCollectors(t *testing.T) {
	m := New(true)
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "go_") {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected Go runtime metrics")
	}
}
