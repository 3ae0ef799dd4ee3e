package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObservePass(t *testing.T) {
	label := "test-observe-pass"
	ObservePass(label, Pass{Fetched: 3, Ingested: 2, Duplicates: 1, PatchFiles: 1, Cursor: 42, Backlog: 3})
	ObservePass(label, Pass{Fetched: 1, Ingested: 1, Cursor: 43})

	if got := testutil.ToFloat64(metricMessages.WithLabelValues(label, "fetched")); got != 4 {
		t.Fatalf("fetched = %v, want 4", got)
	}
	if got := testutil.ToFloat64(metricCursor.WithLabelValues(label)); got != 43 {
		t.Fatalf("cursor = %v, want 43", got)
	}
	if got := testutil.ToFloat64(metricBacklog.WithLabelValues(label)); got != 0 {
		t.Fatalf("backlog = %v, want 0", got)
	}
}

func TestObserveCycleErrorAndHealthy(t *testing.T) {
	label := "test-cycle-error"
	ObserveCycleError(label, "network", 4*time.Second)
	if got := testutil.ToFloat64(metricBackoff.WithLabelValues(label)); got != 4 {
		t.Fatalf("backoff = %v, want 4", got)
	}
	ObserveHealthy(label)
	if got := testutil.ToFloat64(metricBackoff.WithLabelValues(label)); got != 0 {
		t.Fatalf("backoff after success = %v, want 0", got)
	}
}

func TestHandler(t *testing.T) {
	ObserveHealthy("test-handler")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "mailsync_backoff_seconds") {
		t.Fatal("metrics output missing mailsync_backoff_seconds")
	}
}
