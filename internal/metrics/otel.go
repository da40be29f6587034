package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// MeterName names the meter the OTel sink records on.
const MeterName = "github.com/dwsmith1983/pipemedic"

// OTel records the same events as Prometheus on OpenTelemetry instruments,
// for deployments that push metrics over OTLP instead of being scraped.
type OTel struct {
	runsObserved         metric.Int64Counter
	runsSucceeded        metric.Int64Counter
	failuresClassified   metric.Int64Counter
	remediationAttempts  metric.Int64Counter
	remediationSkipped   metric.Int64Counter
	rerunsRequested      metric.Int64Counter
	escalations          metric.Int64Counter
	pollErrors           metric.Int64Counter
	pollDuration         metric.Float64Histogram
	predictionConfidence metric.Float64Gauge
	healingProbability   metric.Float64Histogram
}

// NewOTel creates every instrument on meter.
func NewOTel(meter metric.Meter) (*OTel, error) {
	var (
		o   OTel
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&o.runsObserved, "pipemedic.runs.observed", "New run observations handled by the tracker."},
		{&o.runsSucceeded, "pipemedic.runs.succeeded", "Completed pipeline runs that concluded successfully."},
		{&o.failuresClassified, "pipemedic.failures.classified", "Failed runs by classified category."},
		{&o.remediationAttempts, "pipemedic.remediation.attempts", "Dispatched remediation strategies by outcome."},
		{&o.remediationSkipped, "pipemedic.remediation.skipped", "Failures not dispatched, by reason."},
		{&o.rerunsRequested, "pipemedic.reruns.requested", "Reruns requested after a successful remediation."},
		{&o.escalations, "pipemedic.escalations", "Issues opened for failures needing a human."},
		{&o.pollErrors, "pipemedic.poll.errors", "Poll cycles that ended in an error."},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("create %s: %w", c.name, err)
		}
	}

	if o.pollDuration, err = meter.Float64Histogram("pipemedic.poll.duration",
		metric.WithDescription("Wall time of one poll cycle."), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create pipemedic.poll.duration: %w", err)
	}
	if o.predictionConfidence, err = meter.Float64Gauge("pipemedic.prediction.confidence",
		metric.WithDescription("Confidence of the most recent run-failure prediction.")); err != nil {
		return nil, fmt.Errorf("create pipemedic.prediction.confidence: %w", err)
	}
	if o.healingProbability, err = meter.Float64Histogram("pipemedic.healing.probability",
		metric.WithDescription("Predicted healing success probability per failure.")); err != nil {
		return nil, fmt.Errorf("create pipemedic.healing.probability: %w", err)
	}
	return &o, nil
}

func (o *OTel) RunObserved()  { o.runsObserved.Add(context.Background(), 1) }
func (o *OTel) RunSucceeded() { o.runsSucceeded.Add(context.Background(), 1) }

func (o *OTel) FailureClassified(category types.FailureCategory) {
	o.failuresClassified.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("category", string(category))))
}

func (o *OTel) RemediationAttempted(strategy types.StrategyID, success bool) {
	o.remediationAttempts.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("strategy", string(strategy)),
		attribute.String("result", result(success)),
	))
}

func (o *OTel) RemediationSkipped(reason string) {
	o.remediationSkipped.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}

func (o *OTel) RerunRequested() { o.rerunsRequested.Add(context.Background(), 1) }

func (o *OTel) Escalated(ok bool) {
	o.escalations.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("result", result(ok))))
}

func (o *OTel) PollError() { o.pollErrors.Add(context.Background(), 1) }

func (o *OTel) PollDuration(d time.Duration) {
	o.pollDuration.Record(context.Background(), d.Seconds())
}

func (o *OTel) PredictionConfidence(c float64) {
	o.predictionConfidence.Record(context.Background(), c)
}

func (o *OTel) HealingProbability(v float64) {
	o.healingProbability.Record(context.Background(), v)
}

// Multi fans every event out to each sink in order.
type Multi []Sink

func (m Multi) RunObserved() {
	for _, s := range m {
		s.RunObserved()
	}
}

func (m Multi) RunSucceeded() {
	for _, s := range m {
		s.RunSucceeded()
	}
}

func (m Multi) FailureClassified(category types.FailureCategory) {
	for _, s := range m {
		s.FailureClassified(category)
	}
}

func (m Multi) RemediationAttempted(strategy types.StrategyID, success bool) {
	for _, s := range m {
		s.RemediationAttempted(strategy, success)
	}
}

func (m Multi) RemediationSkipped(reason string) {
	for _, s := range m {
		s.RemediationSkipped(reason)
	}
}

func (m Multi) RerunRequested() {
	for _, s := range m {
		s.RerunRequested()
	}
}

func (m Multi) Escalated(ok bool) {
	for _, s := range m {
		s.Escalated(ok)
	}
}

func (m Multi) PollError() {
	for _, s := range m {
		s.PollError()
	}
}

func (m Multi) PollDuration(d time.Duration) {
	for _, s := range m {
		s.PollDuration(d)
	}
}

func (m Multi) PredictionConfidence(c float64) {
	for _, s := range m {
		s.PredictionConfidence(c)
	}
}

func (m Multi) HealingProbability(v float64) {
	for _, s := range m {
		s.HealingProbability(v)
	}
}
