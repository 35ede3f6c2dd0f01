package monitoring

import (
	"duocall/internal/core/domain"
	"duocall/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter
	sessionsEnded  *prometheus.CounterVec

	messagesRelayed  *prometheus.CounterVec
	staleMessages    prometheus.Counter
	storeFailures    *prometheus.CounterVec
	negotiationTime  prometheus.Histogram
	roundTripSeconds prometheus.Histogram
}

var _ ports.MetricsRecorder = (*PrometheusCollector)(nil)

func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "duocall_sessions_active",
			Help: "Number of call sessions currently alive",
		}),

		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "duocall_sessions_total",
			Help: "Total number of call sessions started",
		}),

		sessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "duocall_sessions_ended_total",
			Help: "Total number of call sessions ended, by final state",
		}, []string{"final_state"}),

		messagesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "duocall_signaling_messages_total",
			Help: "Total number of signaling records published, by kind",
		}, []string{"kind"}),

		staleMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "duocall_stale_messages_dropped_total",
			Help: "Total number of stale or malformed signaling records dropped",
		}),

		storeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "duocall_store_operation_failures_total",
			Help: "Total number of failed signaling store operations, by operation",
		}, []string{"operation"}),

		negotiationTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "duocall_negotiation_duration_seconds",
			Help:    "Time from negotiation start to first remote media",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		roundTripSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "duocall_round_trip_seconds",
			Help:    "Sampled round-trip time of established connections",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.2, 0.5, 1},
		}),
	}
}

func (p *PrometheusCollector) SessionStarted() {
	p.sessionsActive.Inc()
	p.sessionsTotal.Inc()
}

func (p *PrometheusCollector) SessionEnded(final domain.SessionState) {
	p.sessionsActive.Dec()
	p.sessionsEnded.WithLabelValues(string(final)).Inc()
}

func (p *PrometheusCollector) MessageRelayed(kind domain.MessageType) {
	p.messagesRelayed.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) StaleMessageDropped() {
	p.staleMessages.Inc()
}

func (p *PrometheusCollector) StoreOperationFailed(op string) {
	p.storeFailures.WithLabelValues(op).Inc()
}

func (p *PrometheusCollector) NegotiationCompleted(seconds float64) {
	p.negotiationTime.Observe(seconds)
}

func (p *PrometheusCollector) RTTSample(seconds float64) {
	p.roundTripSeconds.Observe(seconds)
}
