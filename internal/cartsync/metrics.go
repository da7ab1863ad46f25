package cartsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the engine's Prometheus collectors.
type Metrics struct {
	RemoteCalls    *prometheus.CounterVec
	WritesSkipped  prometheus.Counter
	LockDeferrals  *prometheus.CounterVec
	Demotions      prometheus.Counter
	Refetches      *prometheus.CounterVec
	PersistDropped prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RemoteCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cartsync_remote_calls_total",
			Help: "Cart gateway calls by operation and result.",
		}, []string{"op", "result"}),
		WritesSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "cartsync_writes_skipped_total",
			Help: "Quantity writes skipped because they matched the acknowledged baseline.",
		}),
		LockDeferrals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cartsync_flush_deferrals_total",
			Help: "Tasks rescheduled because the sync lock was held.",
		}, []string{"task"}),
		Demotions: f.NewCounter(prometheus.CounterOpts{
			Name: "cartsync_session_demotions_total",
			Help: "Switches to guest mode caused by a lost session or a failed remote clear.",
		}),
		Refetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cartsync_refetches_total",
			Help: "Server cart refetches by result.",
		}, []string{"result"}),
		PersistDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "cartsync_persist_items_dropped_total",
			Help: "Stored cart items rejected by normalization.",
		}),
	}
}
