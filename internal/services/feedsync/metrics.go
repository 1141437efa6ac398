package feedsync

import (
	"github.com/BearBump/CarparkFinder/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	cycles   *prometheus.CounterVec
	deltas   *prometheus.CounterVec
	fetched  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the sync collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carparkfinder",
			Subsystem: "feedsync",
			Name:      "cycles_total",
			Help:      "Reconciliation cycles by resource and result (ok, throttled, error).",
		}, []string{"resource", "result"}),
		deltas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carparkfinder",
			Subsystem: "feedsync",
			Name:      "deltas_total",
			Help:      "Rows written by reconciliation, by kind.",
		}, []string{"resource", "kind"}),
		fetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carparkfinder",
			Subsystem: "feedsync",
			Name:      "upstream_records_total",
			Help:      "Records received from the upstream feed.",
		}, []string{"resource"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "carparkfinder",
			Subsystem: "feedsync",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of completed reconciliation cycles.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"resource"}),
	}
	reg.MustRegister(m.cycles, m.deltas, m.fetched, m.duration)
	return m
}

func (m *Metrics) cycle(rt models.ResourceType, result string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(string(rt), result).Inc()
}

func (m *Metrics) completed(rt models.ResourceType, seconds float64, fetched int, deltas map[string]int) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(string(rt)).Observe(seconds)
	m.fetched.WithLabelValues(string(rt)).Add(float64(fetched))
	for kind, n := range deltas {
		if n > 0 {
			m.deltas.WithLabelValues(string(rt), kind).Add(float64(n))
		}
	}
}
