package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewLifecycleMetricsWithRegisterer(t *testing.T) {
	m := NewLifecycleMetricsWithRegisterer(prometheus.NewRegistry())

	if m.transitions == nil || m.operationLatency == nil || m.versionConflicts == nil {
		t.Fatal("lifecycle collectors should not be nil")
	}
	if m.handlerFailures == nil || m.ingested == nil || m.syncAttempts == nil || m.syncInFlight == nil {
		t.Fatal("pipeline collectors should not be nil")
	}
}

func TestNewLifecycleMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewLifecycleMetricsWithRegisterer(reg)
	second := NewLifecycleMetricsWithRegisterer(reg)

	first.RecordVersionConflict()
	second.RecordVersionConflict()

	if got := testutil.ToFloat64(first.versionConflicts); got != 2 {
		t.Fatalf("expected shared counter value 2, got %v", got)
	}
}

func TestRecordTransition(t *testing.T) {
	m := NewLifecycleMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordTransition("ORDER_CREATED")
	m.RecordTransition("ORDER_CREATED")
	m.RecordTransition("PAYMENT_SUCCESS")

	if got := testutil.ToFloat64(m.transitions.WithLabelValues("ORDER_CREATED")); got != 2 {
		t.Fatalf("expected 2 ORDER_CREATED transitions, got %v", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("PAYMENT_SUCCESS")); got != 1 {
		t.Fatalf("expected 1 PAYMENT_SUCCESS transition, got %v", got)
	}
}

func TestObserveOperation(t *testing.T) {
	m := NewLifecycleMetricsWithRegisterer(prometheus.NewRegistry())

	m.ObserveOperation("create_estimate", nil, 15*time.Millisecond)
	m.ObserveOperation("create_estimate", errors.New("boom"), 5*time.Millisecond)

	if got := testutil.CollectAndCount(m.operationLatency); got != 2 {
		t.Fatalf("expected 2 label series, got %d", got)
	}
}

func TestHandlerFailuresAndIngest(t *testing.T) {
	m := NewLifecycleMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordHandlerFailure("ORDER_CREATED", "notify")
	m.RecordIngest(IngestCreated)
	m.RecordIngest(IngestDuplicate)
	m.RecordIngest(IngestDuplicate)

	if got := testutil.ToFloat64(m.handlerFailures.WithLabelValues("ORDER_CREATED", "notify")); got != 1 {
		t.Fatalf("expected 1 handler failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.ingested.WithLabelValues(IngestDuplicate)); got != 2 {
		t.Fatalf("expected 2 duplicates, got %v", got)
	}
}

func TestSyncInFlight(t *testing.T) {
	m := NewLifecycleMetricsWithRegisterer(prometheus.NewRegistry())

	m.SyncStarted()
	m.SyncStarted()
	m.SyncFinished()
	m.RecordSync(SyncFailure)

	if got := testutil.ToFloat64(m.syncInFlight); got != 1 {
		t.Fatalf("expected 1 in-flight sync, got %v", got)
	}
	if got := testutil.ToFloat64(m.syncAttempts.WithLabelValues(SyncFailure)); got != 1 {
		t.Fatalf("expected 1 failed sync, got %v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *LifecycleMetrics

	m.RecordTransition("ORDER_CREATED")
	m.ObserveOperation("op", nil, time.Second)
	m.RecordVersionConflict()
	m.RecordHandlerFailure("e", "s")
	m.RecordIngest(IngestFailed)
	m.RecordSync(SyncSkipped)
	m.SyncStarted()
	m.SyncFinished()
}
