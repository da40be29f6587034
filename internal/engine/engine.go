// Package engine runs one healing pass over a failed pipeline run:
// classify, record, score, gate, remediate, then rerun or escalate.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dwsmith1983/pipemedic/internal/classifier"
	"github.com/dwsmith1983/pipemedic/internal/lifecycle"
	"github.com/dwsmith1983/pipemedic/internal/metrics"
	"github.com/dwsmith1983/pipemedic/internal/predictor"
	"github.com/dwsmith1983/pipemedic/internal/remediation"
	"github.com/dwsmith1983/pipemedic/internal/scm"
	"github.com/dwsmith1983/pipemedic/internal/store"
	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// DefaultThreshold is the healing probability a failure must exceed before a
// remediation is dispatched.
const DefaultThreshold = 0.70

// TracerName names the engine's tracer.
const TracerName = "github.com/dwsmith1983/pipemedic/internal/engine"

// ErrNotFailed is returned by Heal for runs that did not complete with a failure.
var ErrNotFailed = errors.New("run did not fail")

// LogsUnavailable prefixes the message of failures whose logs could not be fetched.
const LogsUnavailable = "logs unavailable"

// DefaultIssueLabels are attached to escalation issues.
var DefaultIssueLabels = []string{"auto-healing", "needs-attention"}

// Options tunes an Engine. The zero value is usable.
type Options struct {
	// Threshold is the exclusive lower bound on healing probability. Zero means DefaultThreshold.
	Threshold   float64
	OpenIssues  bool
	IssueLabels []string
	Flaky       *classifier.FlakyDetector
	Metrics     metrics.Sink
	AlertFn     func(context.Context, types.Alert)
	Tracer      trace.Tracer
	Logger      *slog.Logger
}

// Engine drives failed runs through the healing lifecycle.
type Engine struct {
	client     scm.Client
	store      store.OutcomeStore
	predictor  *predictor.Predictor
	dispatcher *remediation.Dispatcher

	threshold   float64
	openIssues  bool
	issueLabels []string
	flaky       *classifier.FlakyDetector
	metrics     metrics.Sink
	alertFn     func(context.Context, types.Alert)
	tracer      trace.Tracer
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a new Engine.
func New(client scm.Client, st store.OutcomeStore, pred *predictor.Predictor, disp *remediation.Dispatcher, opts Options) *Engine {
	e := &Engine{
		client:      client,
		store:       st,
		predictor:   pred,
		dispatcher:  disp,
		threshold:   opts.Threshold,
		openIssues:  opts.OpenIssues,
		issueLabels: opts.IssueLabels,
		flaky:       opts.Flaky,
		metrics:     opts.Metrics,
		alertFn:     opts.AlertFn,
		tracer:      opts.Tracer,
		logger:      opts.Logger,
		now:         time.Now,
	}
	if e.threshold == 0 {
		e.threshold = DefaultThreshold
	}
	if len(e.issueLabels) == 0 {
		e.issueLabels = DefaultIssueLabels
	}
	if e.metrics == nil {
		e.metrics = metrics.Nop{}
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(TracerName)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Threshold returns the effective healing threshold.
func (e *Engine) Threshold() float64 { return e.threshold }

// Result describes one processing pass.
type Result struct {
	RunID           string                `json:"runId"`
	State           types.HealingState    `json:"state"`
	Classification  *types.Classification `json:"classification,omitempty"`
	Score           *types.HealingScore   `json:"score,omitempty"`
	Outcome         *types.Outcome        `json:"outcome,omitempty"`
	FailureRecordID string                `json:"failureRecordId,omitempty"`
	AttemptID       string                `json:"attemptId,omitempty"`
	IssueURL        string                `json:"issueUrl,omitempty"`
	Steps           []lifecycle.Step      `json:"steps,omitempty"`
}

// Process records an observed run and, when it failed, runs a healing pass.
// Results for runs that did not fail carry an empty State. Errors are only
// returned when the pass was abandoned before any remediation was dispatched.
func (e *Engine) Process(ctx context.Context, run types.RunSummary) (Result, error) {
	if err := e.observe(ctx, run); err != nil {
		return Result{RunID: run.ID}, err
	}
	if !run.Failed() {
		return Result{RunID: run.ID}, nil
	}
	return e.heal(ctx, run, false)
}

// Heal runs a manual override pass for runID. The predictor is not consulted
// and any resulting attempt is marked as an override.
func (e *Engine) Heal(ctx context.Context, runID string) (Result, error) {
	run, err := e.client.GetRun(ctx, runID)
	if err != nil {
		return Result{RunID: runID}, fmt.Errorf("loading run %s: %w", runID, err)
	}
	if !run.Failed() {
		return Result{RunID: runID}, fmt.Errorf("run %s (%s/%s): %w", runID, run.Status, run.Conclusion, ErrNotFailed)
	}
	if err := e.upsertRun(ctx, run); err != nil {
		return Result{RunID: runID}, err
	}
	return e.heal(ctx, run, true)
}

func (e *Engine) observe(ctx context.Context, run types.RunSummary) error {
	if err := e.upsertRun(ctx, run); err != nil {
		return err
	}
	if e.flaky != nil && run.Status == types.RunCompleted {
		switch run.Conclusion {
		case types.ConclusionSuccess:
			e.flaky.RecordWorkflowPass(run.Name)
		case types.ConclusionFailure:
			e.flaky.Record(run.Name, false)
		}
	}
	return nil
}

func (e *Engine) upsertRun(ctx context.Context, run types.RunSummary) error {
	if err := e.store.UpsertPipelineRun(ctx, e.pipelineRun(run)); err != nil {
		return fmt.Errorf("storing run %s: %w", run.ID, err)
	}
	return nil
}

func (e *Engine) pipelineRun(s types.RunSummary) types.PipelineRun {
	run := types.PipelineRun{
		ID:         s.ID,
		Repository: e.client.Repository(),
		Workflow:   s.Name,
		Branch:     s.Branch,
		CommitSHA:  s.CommitSHA,
		Status:     s.Status,
		Conclusion: s.Conclusion,
		StartedAt:  s.CreatedAt,
		UpdatedAt:  e.now().UTC(),
	}
	if s.Status == types.RunCompleted && !s.UpdatedAt.IsZero() {
		ended := s.UpdatedAt
		run.EndedAt = &ended
	}
	return run
}

func (e *Engine) heal(ctx context.Context, run types.RunSummary, override bool) (res Result, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.heal", trace.WithAttributes(
		attribute.String("pipemedic.run_id", run.ID),
		attribute.String("pipemedic.workflow", run.Name),
		attribute.Bool("pipemedic.override", override),
	))
	machine := lifecycle.New(run.ID)
	res = Result{RunID: run.ID}
	defer func() {
		res.State = machine.State()
		res.Steps = machine.History()
		span.SetAttributes(attribute.String("pipemedic.state", string(res.State)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	logText, logErr := e.client.FetchLogs(ctx, run.ID)
	if logErr != nil {
		if override {
			return res, fmt.Errorf("fetching logs for run %s: %w", run.ID, logErr)
		}
		// Classified as unknown so the run still reaches a human.
		e.logger.Warn("log fetch failed, escalating without logs", "runID", run.ID, "error", logErr)
		logText = ""
	}

	cl := e.classify(logText, run)
	if logErr != nil {
		cl.Message = fmt.Sprintf("%s: %v", LogsUnavailable, logErr)
	}
	res.Classification = &cl
	e.metrics.FailureClassified(cl.Category)
	span.SetAttributes(attribute.String("pipemedic.category", string(cl.Category)))
	e.advance(machine, types.StateClassified, string(cl.Category))

	rec := types.FailureRecord{
		ID:         ulid.Make().String(),
		RunID:      run.ID,
		Category:   cl.Category,
		Message:    cl.Message,
		StackTrace: cl.StackTrace,
		Severity:   cl.Severity,
		Metadata:   failureMetadata(cl),
		CreatedAt:  e.now().UTC(),
	}
	if err := e.store.CreateFailureRecord(ctx, rec); err != nil {
		return res, fmt.Errorf("storing failure record for run %s: %w", run.ID, err)
	}
	res.FailureRecordID = rec.ID

	var score types.HealingScore
	switch {
	case override:
		score = types.HealingScore{Probability: 1, Reason: "manual override"}
		e.advance(machine, types.StateScored, "override")
	case !cl.Fixable:
		e.metrics.RemediationSkipped(metrics.SkipUnfixable)
		e.advance(machine, types.StateSkipped, "no automated fix for "+string(cl.Category))
		e.logger.Info("remediation skipped", "runID", run.ID, "category", cl.Category, "reason", metrics.SkipUnfixable)
		res.IssueURL = e.escalate(ctx, run, cl, nil, nil, machine.State())
		return res, nil
	default:
		score = e.predictor.ScoreHealing(cl)
		res.Score = &score
		e.metrics.HealingProbability(score.Probability)
		span.SetAttributes(
			attribute.Float64("pipemedic.probability", score.Probability),
			attribute.Bool("pipemedic.fallback", score.Fallback),
		)
		e.advance(machine, types.StateScored, metrics.FormatProbability(score.Probability))
		if score.Probability <= e.threshold {
			e.metrics.RemediationSkipped(metrics.SkipLowProbability)
			e.advance(machine, types.StateSkipped, fmt.Sprintf("probability %s not above %s",
				metrics.FormatProbability(score.Probability), metrics.FormatProbability(e.threshold)))
			e.logger.Info("remediation skipped", "runID", run.ID, "category", cl.Category,
				"probability", score.Probability, "threshold", e.threshold, "reason", metrics.SkipLowProbability)
			res.IssueURL = e.escalate(ctx, run, cl, &score, nil, machine.State())
			return res, nil
		}
	}

	e.advance(machine, types.StateDispatched, string(cl.Strategy))
	out := e.dispatcher.Heal(ctx, run, cl)
	res.Outcome = &out
	e.metrics.RemediationAttempted(out.Strategy, out.Success)

	attempt := types.RemediationAttempt{
		ID:              ulid.Make().String(),
		RunID:           run.ID,
		FailureRecordID: rec.ID,
		Strategy:        out.Strategy,
		Success:         out.Success,
		Details:         out.Details,
		Changes:         out.Changes,
		Probability:     score.Probability,
		Override:        override,
		CreatedAt:       e.now().UTC(),
	}
	if err := e.store.CreateRemediationAttempt(ctx, attempt); err != nil {
		// The strategy has already run; carry on so the rerun or issue still happens.
		e.logger.Error("failed to store remediation attempt", "runID", run.ID, "strategy", out.Strategy, "error", err)
	} else {
		res.AttemptID = attempt.ID
	}

	if !out.Success {
		e.advance(machine, types.StateFailed, out.Details)
		res.IssueURL = e.escalate(ctx, run, cl, res.Score, &out, machine.State())
		return res, nil
	}

	e.advance(machine, types.StateSucceeded, out.Details)
	if err := e.client.Rerun(ctx, run.ID); err != nil {
		e.logger.Error("failed to request rerun", "runID", run.ID, "error", err)
	} else {
		e.metrics.RerunRequested()
		e.logger.Info("rerun requested", "runID", run.ID, "strategy", out.Strategy)
	}
	return res, nil
}

// classify runs the classifier and promotes a test failure to a flaky test
// when either the failing test or its workflow has a flaky history.
func (e *Engine) classify(logText string, run types.RunSummary) types.Classification {
	cl := classifier.Classify(logText)
	if e.flaky == nil || cl.Category != types.CategoryTestFailure {
		return cl
	}
	e.flaky.RecordTestFailure(run.Name, cl.TestName)
	if (cl.TestName != "" && e.flaky.IsFlaky(cl.TestName)) || e.flaky.IsFlaky(run.Name) {
		e.logger.Info("test failure promoted to flaky", "runID", run.ID, "test", cl.TestName, "workflow", run.Name)
		return classifier.PromoteFlaky(cl)
	}
	return cl
}

func (e *Engine) advance(m *lifecycle.Machine, to types.HealingState, note string) {
	if err := m.Advance(to, note); err != nil {
		e.logger.Error("invalid healing transition", "error", err)
	}
}

func failureMetadata(cl types.Classification) map[string]string {
	md := map[string]string{
		"strategy":   string(cl.Strategy),
		"difficulty": string(cl.Difficulty),
		"fixable":    fmt.Sprint(cl.Fixable),
		"rules":      classifier.RulesVersion,
	}
	if cl.Package != "" {
		md["package"] = cl.Package
	}
	if cl.TestName != "" {
		md["testName"] = cl.TestName
	}
	if cl.Line != "" {
		md["line"] = cl.Line
	}
	return md
}
