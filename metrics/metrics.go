// Package metrics exposes Prometheus counters for the delivery core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counter set one node instance reports. Counters are
// registered against the given registerer so embedding applications
// control exposure.
type Metrics struct {
	Inbound           *prometheus.CounterVec
	AdmissionRejected *prometheus.CounterVec
	WakeupsEnqueued   prometheus.Counter
	ErrorRepliesSent  prometheus.Counter
	OfflineStored     prometheus.Counter
}

// New creates and registers the counter set. A nil registerer yields
// working but unregistered counters, which tests rely on.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_inbound_messages_total",
			Help: "Inbound messages handled, by terminal outcome.",
		}, []string{"outcome"}),
		AdmissionRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_admission_rejected_total",
			Help: "Inbound messages dropped by rate admission, by app.",
		}, []string{"app"}),
		WakeupsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_wakeups_enqueued_total",
			Help: "Wakeup push requests enqueued for offline devices.",
		}),
		ErrorRepliesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_error_replies_total",
			Help: "Error replies sent back to message originators.",
		}),
		OfflineStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_offline_stored_total",
			Help: "Envelopes stored for later delivery.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Inbound, m.AdmissionRejected, m.WakeupsEnqueued, m.ErrorRepliesSent, m.OfflineStored)
	}
	return m
}
