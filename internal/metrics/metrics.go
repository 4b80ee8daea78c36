// Package metrics exposes Prometheus instruments for the bidding core.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "auctionhub"

// Metrics groups every instrument the service records.
type Metrics struct {
	bids           *prometheus.CounterVec
	bidDuration    prometheus.Histogram
	transitions    *prometheus.CounterVec
	lateStarts     prometheus.Counter
	timersArmed    prometheus.Gauge
	connections    prometheus.Gauge
	leader         prometheus.Gauge
	sideEffectErrs *prometheus.CounterVec
}

// New registers the instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	m := &Metrics{
		bids: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bids_total",
			Help:      "Bid adjudications by outcome.",
		}, []string{"outcome"}),
		bidDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bid_adjudication_seconds",
			Help:      "Time spent adjudicating a bid, lock included.",
			Buckets:   prometheus.DefBuckets,
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auction_transitions_total",
			Help:      "Auction status transitions by target status.",
		}, []string{"status"}),
		lateStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auction_late_starts_total",
			Help:      "Scheduled auctions started past the grace window.",
		}),
		timersArmed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_timers_armed",
			Help:      "Lifecycle timers currently armed.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_connections",
			Help:      "Open realtime channel connections.",
		}),
		leader: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_leader",
			Help:      "1 while this replica holds scheduler leadership.",
		}),
		sideEffectErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effect_failures_total",
			Help:      "Swallowed side-effect failures by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.bids, m.bidDuration, m.transitions, m.lateStarts, m.timersArmed, m.connections, m.leader, m.sideEffectErrs)
	return m
}

// ObserveBid records the outcome ("accepted" or an error code) and latency
// of one adjudication.
func (m *Metrics) ObserveBid(outcome string, d time.Duration) {
	if m == nil || m.bids == nil {
		return
	}
	m.bids.WithLabelValues(normalize(outcome)).Inc()
	m.bidDuration.Observe(d.Seconds())
}

// IncTransition counts a transition into status.
func (m *Metrics) IncTransition(status string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalize(status)).Inc()
}

// IncLateStart counts a start that fired past the grace window.
func (m *Metrics) IncLateStart() {
	if m == nil || m.lateStarts == nil {
		return
	}
	m.lateStarts.Inc()
}

// SetTimersArmed sets the armed timer gauge.
func (m *Metrics) SetTimersArmed(n int) {
	if m == nil || m.timersArmed == nil {
		return
	}
	m.timersArmed.Set(float64(n))
}

// ConnOpened increments the open connection gauge.
func (m *Metrics) ConnOpened() {
	if m == nil || m.connections == nil {
		return
	}
	m.connections.Inc()
}

// ConnClosed decrements the open connection gauge.
func (m *Metrics) ConnClosed() {
	if m == nil || m.connections == nil {
		return
	}
	m.connections.Dec()
}

// SetLeader records whether this replica leads the scheduler.
func (m *Metrics) SetLeader(leading bool) {
	if m == nil || m.leader == nil {
		return
	}
	if leading {
		m.leader.Set(1)
		return
	}
	m.leader.Set(0)
}

// IncSideEffectFailure counts a swallowed failure of the given kind
// (notification, email, invoice, cache).
func (m *Metrics) IncSideEffectFailure(kind string) {
	if m == nil || m.sideEffectErrs == nil {
		return
	}
	m.sideEffectErrs.WithLabelValues(normalize(kind)).Inc()
}

func normalize(label string) string {
	if label == "" {
		return "unknown"
	}
	return label
}
