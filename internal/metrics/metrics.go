// Package metrics holds the Prometheus instrumentation of the event-service.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "event_service"

type Metrics struct {
	applyOutcomes     *prometheus.CounterVec
	limiterDecisions  *prometheus.CounterVec
	allocations       *prometheus.CounterVec
	drawWinners       *prometheus.CounterVec
	drawDuration      *prometheus.HistogramVec
	rewardPayouts     *prometheus.HistogramVec
	rewardFallbacks   prometheus.Counter
	consumerMessages  *prometheus.CounterVec
	scheduledDrawRuns *prometheus.CounterVec
}

// New creates the collectors and registers them with reg
// (prometheus.DefaultRegisterer when nil).
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = defaultNamespace
	}

	m := &Metrics{
		applyOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apply",
			Name:      "outcomes_total",
			Help:      "Applications by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		limiterDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "decisions_total",
			Help:      "Admission limiter decisions (allowed, denied, error).",
		}, []string{"scope", "decision"}),
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "results_total",
			Help:      "Immediate allocation results (WON, EXHAUSTED, DUPLICATE).",
		}, []string{"result"}),
		drawWinners: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "draw",
			Name:      "winners_total",
			Help:      "Entries committed as winners by batch draws.",
		}, []string{"strategy"}),
		drawDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "draw",
			Name:      "duration_seconds",
			Help:      "Wall time of batch draws including lock wait.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"strategy"}),
		rewardPayouts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reward",
			Name:      "amount",
			Help:      "Computed reward amounts by reward type.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"reward_type"}),
		rewardFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reward",
			Name:      "stats_fallbacks_total",
			Help:      "Payouts that fell back to the minimum because aggregate stats were unavailable.",
		}),
		consumerMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "messages_total",
			Help:      "Queue messages by queue and result (ok, dropped, retried, dead_lettered).",
		}, []string{"queue", "result"}),
		scheduledDrawRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "draw_runs_total",
			Help:      "Scheduled draw attempts by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.applyOutcomes,
		m.limiterDecisions,
		m.allocations,
		m.drawWinners,
		m.drawDuration,
		m.rewardPayouts,
		m.rewardFallbacks,
		m.consumerMessages,
		m.scheduledDrawRuns,
	)
	return m
}

func (m *Metrics) ApplyOutcome(eventType, outcome string) {
	if m == nil {
		return
	}
	m.applyOutcomes.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) LimiterDecision(scope, decision string) {
	if m == nil {
		return
	}
	m.limiterDecisions.WithLabelValues(scope, decision).Inc()
}

func (m *Metrics) Allocation(result string) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(result).Inc()
}

func (m *Metrics) DrawCompleted(strategy string, winners int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.drawWinners.WithLabelValues(strategy).Add(float64(winners))
	m.drawDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

func (m *Metrics) RewardPaid(rewardType string, amount int64) {
	if m == nil {
		return
	}
	m.rewardPayouts.WithLabelValues(rewardType).Observe(float64(amount))
}

func (m *Metrics) RewardFallback() {
	if m == nil {
		return
	}
	m.rewardFallbacks.Inc()
}

func (m *Metrics) ConsumerMessage(queue, result string) {
	if m == nil {
		return
	}
	m.consumerMessages.WithLabelValues(queue, result).Inc()
}

func (m *Metrics) ScheduledDrawRun(result string) {
	if m == nil {
		return
	}
	m.scheduledDrawRuns.WithLabelValues(result).Inc()
}
