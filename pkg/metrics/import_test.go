package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestImportMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewImportMetrics(reg)

	m.IncRun("succeeded")
	m.AddBooks("new", 3)
	m.AddBooks("skipped", 0)
	m.IncAttempt("failed")
	m.ObserveRun(2 * time.Second)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "bookstore_import_runs_total", "status", "succeeded"); err != nil || got != 1 {
		t.Fatalf("expected runs=1, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "bookstore_import_books_total", "outcome", "new"); err != nil || got != 3 {
		t.Fatalf("expected new books=3, got %f (%v)", got, err)
	}
	if _, err := fetchCounterValue(mfs, "bookstore_import_books_total", "outcome", "skipped"); err == nil {
		t.Fatalf("zero adds should not create a series")
	}
	if got, err := fetchCounterValue(mfs, "bookstore_import_attempts_total", "result", "failed"); err != nil || got != 1 {
		t.Fatalf("expected failed attempts=1, got %f (%v)", got, err)
	}
}

func TestNilImportMetricsAreSafe(t *testing.T) {
	var m *ImportMetrics
	m.IncRun("failed_permanently")
	m.AddBooks("new", 1)
	m.IncAttempt("ok")
	m.ObserveRun(time.Second)

	empty := NewImportMetrics(nil)
	empty.IncRun("cancelled")
}
