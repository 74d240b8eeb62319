package http

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sentinel-Gate/appsec-gate/internal/domain/arena"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/rules"
	"github.com/Sentinel-Gate/appsec-gate/internal/service"
)

// Metrics holds all Prometheus metrics for the gateway.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	InspectionsTotal   *prometheus.CounterVec
	InspectionDuration *prometheus.HistogramVec
	BlocksTotal        *prometheus.CounterVec
	RuleOutcomesTotal  *prometheus.CounterVec
	ArenaBytes         *prometheus.HistogramVec
	ArenaObjects       *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "appsec_gate",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "appsec_gate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		InspectionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "appsec_gate",
				Name:      "inspections_total",
				Help:      "Total inspections by phase and outcome",
			},
			[]string{"phase", "outcome"}, // outcome=allow/block
		),
		InspectionDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "appsec_gate",
				Name:      "inspection_duration_seconds",
				Help:      "Time spent serializing and evaluating one phase",
				Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
			},
			[]string{"phase"},
		),
		BlocksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "appsec_gate",
				Name:      "blocks_total",
				Help:      "Total block responses sent",
			},
			[]string{"phase", "status", "content_type"},
		),
		RuleOutcomesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "appsec_gate",
				Name:      "rule_outcomes_total",
				Help:      "Rule matches and evaluation errors",
			},
			[]string{"phase", "rule", "outcome"}, // outcome=block/monitor/error
		),
		ArenaBytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "appsec_gate",
				Name:      "inspection_arena_bytes",
				Help:      "String bytes copied into the request arena per phase",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
			},
			[]string{"phase"},
		),
		ArenaObjects: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "appsec_gate",
				Name:      "inspection_arena_objects",
				Help:      "Value tree nodes allocated from the request arena per phase",
				Buckets:   prometheus.ExponentialBuckets(8, 4, 8),
			},
			[]string{"phase"},
		),
	}
}

// ObserveRule implements service.RuleObserver.
func (m *Metrics) ObserveRule(phase rules.Phase, rule, outcome string) {
	m.RuleOutcomesTotal.WithLabelValues(string(phase), rule, outcome).Inc()
}

// ObserveInspection implements service.InspectionObserver.
func (m *Metrics) ObserveInspection(phase rules.Phase, outcome string, elapsed time.Duration) {
	m.InspectionsTotal.WithLabelValues(string(phase), outcome).Inc()
	m.InspectionDuration.WithLabelValues(string(phase)).Observe(elapsed.Seconds())
}

// ObserveBlock implements service.InspectionObserver.
func (m *Metrics) ObserveBlock(phase rules.Phase, status int, contentType string) {
	m.BlocksTotal.WithLabelValues(string(phase), strconv.Itoa(status), contentType).Inc()
}

// ObserveArena implements service.InspectionObserver.
func (m *Metrics) ObserveArena(phase rules.Phase, stats arena.Stats) {
	m.ArenaBytes.WithLabelValues(string(phase)).Observe(float64(stats.Bytes))
	m.ArenaObjects.WithLabelValues(string(phase)).Observe(float64(stats.Objects))
}

var (
	_ service.RuleObserver       = (*Metrics)(nil)
	_ service.InspectionObserver = (*Metrics)(nil)
)
