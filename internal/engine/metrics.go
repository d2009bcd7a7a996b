package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rovshanmuradov/solana-dispatch/internal/confirm"
	"github.com/rovshanmuradov/solana-dispatch/internal/types"
)

// Metrics holds the engine's prometheus collectors.
type Metrics struct {
	dispatches           *prometheus.CounterVec
	broadcastAttempts    *prometheus.CounterVec
	verificationRounds   *prometheus.CounterVec
	verificationAttempts prometheus.Histogram
	timeToVerdict        *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "solana_dispatch",
				Name:      "dispatches_total",
				Help:      "Dispatches by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		broadcastAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "solana_dispatch",
				Name:      "broadcast_attempts_total",
				Help:      "Direct broadcast attempts by result",
			},
			[]string{"result"},
		),
		verificationRounds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "solana_dispatch",
				Name:      "verification_rounds_total",
				Help:      "Confirmation probe rounds by observed state",
			},
			[]string{"state"},
		),
		verificationAttempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "solana_dispatch",
				Name:      "verification_attempts",
				Help:      "Probe rounds needed to reach a verdict",
				Buckets:   prometheus.LinearBuckets(1, 1, 6),
			},
		),
		timeToVerdict: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "solana_dispatch",
				Name:      "time_to_verdict_seconds",
				Help:      "Time from broadcast to verdict",
				Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
			},
			[]string{"state"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.dispatches,
			m.broadcastAttempts,
			m.verificationRounds,
			m.verificationAttempts,
			m.timeToVerdict,
		)
	}
	return m
}

func (m *Metrics) dispatched(mode types.DispatchMode, outcome string) {
	m.dispatches.WithLabelValues(string(mode), outcome).Inc()
}

func (m *Metrics) broadcastAttempt(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.broadcastAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) verificationRound(o confirm.Observation) {
	m.verificationRounds.WithLabelValues(o.State.String()).Inc()
}

func (m *Metrics) verdict(v confirm.Verdict, elapsed time.Duration) {
	m.verificationAttempts.Observe(float64(v.Attempts))
	m.timeToVerdict.WithLabelValues(v.State.String()).Observe(elapsed.Seconds())
}
