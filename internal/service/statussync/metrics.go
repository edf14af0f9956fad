package statussync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	failedSyncPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orderflow_failed_syncs_pending",
		Help: "Pending records in the failed sync ledger after the last sweep.",
	})
	failedSyncTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_failed_sync_transitions_total",
		Help: "Failed sync ledger transitions grouped by resulting status.",
	}, []string{"status"})
	syncBacklogDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderflow_sync_backlog_overflow_total",
		Help: "Event-triggered pushes deferred to the ledger because the backlog was full.",
	})
)
