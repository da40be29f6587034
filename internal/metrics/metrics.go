// Package metrics exposes healing counters to Prometheus and OpenTelemetry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dwsmith1983/pipemedic/pkg/types"
)

const namespace = "pipemedic"

// Skip reasons recorded by RemediationSkipped.
const (
	SkipUnfixable      = "unfixable"
	SkipLowProbability = "low_probability"
)

// Sink receives healing events. Implementations must be safe for concurrent use.
type Sink interface {
	RunObserved()
	RunSucceeded()
	FailureClassified(category types.FailureCategory)
	RemediationAttempted(strategy types.StrategyID, success bool)
	RemediationSkipped(reason string)
	RerunRequested()
	Escalated(ok bool)
	PollError()
	PollDuration(d time.Duration)
	PredictionConfidence(confidence float64)
	HealingProbability(p float64)
}

// Prometheus is a Sink backed by client_golang collectors.
type Prometheus struct {
	gatherer prometheus.Gatherer

	runsObserved         prometheus.Counter
	runsSucceeded        prometheus.Counter
	failuresClassified   *prometheus.CounterVec
	remediationAttempts  *prometheus.CounterVec
	remediationSkipped   *prometheus.CounterVec
	rerunsRequested      prometheus.Counter
	escalations          *prometheus.CounterVec
	pollErrors           prometheus.Counter
	pollDuration         prometheus.Histogram
	predictionConfidence prometheus.Gauge
	healingProbability   prometheus.Histogram
}

// NewPrometheus registers the collectors on reg. Passing a fresh registry per
// instance avoids duplicate registration panics in tests.
func NewPrometheus(reg *prometheus.Registry) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		gatherer: reg,
		runsObserved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_observed_total",
			Help:      "New run observations handled by the tracker.",
		}),
		runsSucceeded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_succeeded_total",
			Help:      "Completed pipeline runs that concluded successfully.",
		}),
		failuresClassified: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_classified_total",
			Help:      "Failed runs by classified category.",
		}, []string{"category"}),
		remediationAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remediation_attempts_total",
			Help:      "Dispatched remediation strategies by outcome.",
		}, []string{"strategy", "result"}),
		remediationSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remediation_skipped_total",
			Help:      "Failures not dispatched, by reason.",
		}, []string{"reason"}),
		rerunsRequested: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reruns_requested_total",
			Help:      "Reruns requested after a successful remediation.",
		}),
		escalations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Issues opened for failures needing a human.",
		}, []string{"result"}),
		pollErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Poll cycles that ended in an error.",
		}),
		pollDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Wall time of one poll cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		predictionConfidence: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "prediction_confidence",
			Help:      "Confidence of the most recent run-failure prediction.",
		}),
		healingProbability: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "healing_probability",
			Help:      "Predicted healing success probability per failure.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 9),
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}

func (p *Prometheus) RunObserved()  { p.runsObserved.Inc() }
func (p *Prometheus) RunSucceeded() { p.runsSucceeded.Inc() }

func (p *Prometheus) FailureClassified(category types.FailureCategory) {
	p.failuresClassified.WithLabelValues(string(category)).Inc()
}

func (p *Prometheus) RemediationAttempted(strategy types.StrategyID, success bool) {
	p.remediationAttempts.WithLabelValues(string(strategy), result(success)).Inc()
}

func (p *Prometheus) RemediationSkipped(reason string) {
	p.remediationSkipped.WithLabelValues(reason).Inc()
}

func (p *Prometheus) RerunRequested() { p.rerunsRequested.Inc() }

func (p *Prometheus) Escalated(ok bool) {
	p.escalations.WithLabelValues(result(ok)).Inc()
}

func (p *Prometheus) PollError()                     { p.pollErrors.Inc() }
func (p *Prometheus) PollDuration(d time.Duration)   { p.pollDuration.Observe(d.Seconds()) }
func (p *Prometheus) PredictionConfidence(c float64) { p.predictionConfidence.Set(c) }
func (p *Prometheus) HealingProbability(v float64)   { p.healingProbability.Observe(v) }

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Nop discards every event.
type Nop struct{}

func (Nop) RunObserved()                                {}
func (Nop) RunSucceeded()                               {}
func (Nop) FailureClassified(types.FailureCategory)     {}
func (Nop) RemediationAttempted(types.StrategyID, bool) {}
func (Nop) RemediationSkipped(string)                   {}
func (Nop) RerunRequested()                             {}
func (Nop) Escalated(bool)                              {}
func (Nop) PollError()                                  {}
func (Nop) PollDuration(time.Duration)                  {}
func (Nop) PredictionConfidence(float64)                {}
func (Nop) HealingProbability(float64)                  {}

var (
	_ Sink = (*Prometheus)(nil)
	_ Sink = (*OTel)(nil)
	_ Sink = Multi(nil)
	_ Sink = Nop{}
)

// FormatProbability renders a probability for log and issue text.
func FormatProbability(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64)
}
