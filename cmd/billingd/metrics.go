package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/billsdk/pkg/billing"
)

// sweepMetrics exports renewal sweep outcomes.
type sweepMetrics struct {
	runs      *prometheus.CounterVec
	outcomes  *prometheus.CounterVec
	duration  prometheus.Histogram
	lastSweep prometheus.Gauge
}

func newSweepMetrics(reg prometheus.Registerer) *sweepMetrics {
	m := &sweepMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billsdk",
			Name:      "renewal_sweeps_total",
			Help:      "Renewal sweeps by result: ok, error or skipped (another sweep held the lock).",
		}, []string{"result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billsdk",
			Name:      "renewal_subscriptions_total",
			Help:      "Subscriptions handled by renewal sweeps, by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "billsdk",
			Name:      "renewal_sweep_duration_seconds",
			Help:      "Wall time of completed renewal sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		lastSweep: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "billsdk",
			Name:      "renewal_last_success_timestamp_seconds",
			Help:      "Unix time of the last sweep that finished without a lock conflict.",
		}),
	}
	reg.MustRegister(m.runs, m.outcomes, m.duration, m.lastSweep)
	return m
}

func (m *sweepMetrics) skipped() {
	m.runs.WithLabelValues("skipped").Inc()
}

func (m *sweepMetrics) failed() {
	m.runs.WithLabelValues("error").Inc()
}

func (m *sweepMetrics) observe(rep *billing.RenewalReport, took time.Duration) {
	m.runs.WithLabelValues("ok").Inc()
	m.duration.Observe(took.Seconds())
	m.lastSweep.Set(float64(rep.Now.Unix()))

	for outcome, n := range map[string]int{
		"due":        rep.Due,
		"renewed":    rep.Renewed,
		"converted":  rep.Converted,
		"changed":    rep.Changed,
		"canceled":   rep.Canceled,
		"past_due":   rep.PastDue,
		"downgraded": rep.Downgraded,
		"awaiting":   rep.Awaiting,
		"failed":     rep.Failed,
	} {
		if n > 0 {
			m.outcomes.WithLabelValues(outcome).Add(float64(n))
		}
	}
}
