package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PromMetrics mirrors the tracker's counters onto a prometheus registry for
// the ops /metrics endpoint.
type PromMetrics struct {
	runs     *prometheus.CounterVec
	records  *prometheus.CounterVec
	duration *prometheus.HistogramVec

	OrderTransitions *prometheus.CounterVec
	SafetyRejections *prometheus.CounterVec
	RateLimitOpen    prometheus.Counter
	QueueDepth       prometheus.Gauge
}

// RegisterPrometheus attaches the tracker (and the trading/safety series) to
// the given registry. Call once at startup.
func (t *Tracker) RegisterPrometheus(reg prometheus.Registerer) {
	p := &PromMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omc",
			Subsystem: "collector",
			Name:      "runs_total",
			Help:      "Total collector runs by outcome",
		}, []string{"collector", "status"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omc",
			Subsystem: "collector",
			Name:      "records_total",
			Help:      "Records stored per collector",
		}, []string{"collector"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "omc",
			Subsystem: "collector",
			Name:      "run_duration_seconds",
			Help:      "Collector run duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collector"}),
		OrderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omc",
			Subsystem: "orders",
			Name:      "transitions_total",
			Help:      "Order state transitions",
		}, []string{"status"}),
		SafetyRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omc",
			Subsystem: "safety",
			Name:      "rejections_total",
			Help:      "Trades rejected by the safety manager",
		}, []string{"check"}),
		RateLimitOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omc",
			Subsystem: "safety",
			Name:      "rate_limit_fail_open_total",
			Help:      "Rate-limit checks allowed because the KV store was unreachable",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "omc",
			Subsystem: "orders",
			Name:      "queue_depth",
			Help:      "Orders waiting in the execution queue",
		}),
	}

	reg.MustRegister(p.runs, p.records, p.duration,
		p.OrderTransitions, p.SafetyRejections, p.RateLimitOpen, p.QueueDepth)

	t.mu.Lock()
	t.prom = p
	t.mu.Unlock()
}

// Prom exposes the shared series for the trading and safety packages.
// Returns nil until RegisterPrometheus has run (tests usually skip it).
func (t *Tracker) Prom() *PromMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.prom
}

func (p *PromMetrics) observeRun(name string, success bool, records int, latency time.Duration) {
	status := "success"
	if !success {
		status = "failed"
	}
	p.runs.WithLabelValues(name, status).Inc()
	p.duration.WithLabelValues(name).Observe(latency.Seconds())
	if records > 0 {
		p.records.WithLabelValues(name).Add(float64(records))
	}
}
