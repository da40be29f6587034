package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/dwsmith1983/pipemedic/internal/classifier"
	"github.com/dwsmith1983/pipemedic/internal/engine"
	"github.com/dwsmith1983/pipemedic/internal/metrics"
	"github.com/dwsmith1983/pipemedic/internal/predictor"
	"github.com/dwsmith1983/pipemedic/internal/remediation"
	"github.com/dwsmith1983/pipemedic/internal/scm"
	"github.com/dwsmith1983/pipemedic/internal/store/memory"
	"github.com/dwsmith1983/pipemedic/internal/testutil"
	"github.com/dwsmith1983/pipemedic/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type fixedModel float64

func (f fixedModel) PredictProbability([]float64) (float64, error) { return float64(f), nil }

type recordingMetrics struct {
	metrics.Nop
	mu        sync.Mutex
	skipped   []string
	attempted []types.StrategyID
	reruns    int
	escalated int
}

func (r *recordingMetrics) RemediationSkipped(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped = append(r.skipped, reason)
}

func (r *recordingMetrics) RemediationAttempted(s types.StrategyID, _ bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempted = append(r.attempted, s)
}

func (r *recordingMetrics) RerunRequested() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reruns++
}

func (r *recordingMetrics) Escalated(bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.escalated++
}

type harness struct {
	eng     *engine.Engine
	mock    *testutil.MockSCM
	store   *memory.Store
	metrics *recordingMetrics
	spans   *tracetest.SpanRecorder
	alerts  *[]types.Alert
	flaky   *classifier.FlakyDetector
}

func newHarness(t *testing.T, healing predictor.Model, mutate ...func(*engine.Options)) *harness {
	t.Helper()
	mock := testutil.NewMockSCM()
	st := memory.New()
	rec := &recordingMetrics{}
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	flaky, err := classifier.NewFlakyDetector(20, 100)
	require.NoError(t, err)

	alerts := &[]types.Alert{}
	opts := engine.Options{
		OpenIssues: true,
		Flaky:      flaky,
		Metrics:    rec,
		Tracer:     tp.Tracer("test"),
		AlertFn: func(_ context.Context, a types.Alert) {
			*alerts = append(*alerts, a)
		},
	}
	for _, m := range mutate {
		m(&opts)
	}

	pred := predictor.New(nil, healing, nil)
	disp := remediation.New(mock, remediation.Config{}, nil)
	return &harness{
		eng:     engine.New(mock, st, pred, disp, opts),
		mock:    mock,
		store:   st,
		metrics: rec,
		spans:   sr,
		alerts:  alerts,
		flaky:   flaky,
	}
}

func (h *harness) failedRun(t *testing.T, id, log string) types.RunSummary {
	t.Helper()
	run := testutil.FailedRun(id, "main")
	h.mock.AddRun(run, log)
	return run
}

func TestProcess_MissingDependencyHealed(t *testing.T) {
	h := newHarness(t, fixedModel(0.85))
	h.mock.SetFile("main", "requirements.txt", "flask\n")
	run := h.failedRun(t, "101", "Collecting deps\nModuleNotFoundError: No module named 'pandas'\n")

	res, err := h.eng.Process(context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, types.StateSucceeded, res.State)
	require.NotNil(t, res.Classification)
	assert.Equal(t, types.CategoryMissingDependency, res.Classification.Category)
	assert.Equal(t, "pandas", res.Classification.Package)
	assert.Equal(t, types.SeverityHigh, res.Classification.Severity)
	assert.True(t, res.Classification.Fixable)
	require.NotNil(t, res.Outcome)
	assert.True(t, res.Outcome.Success)
	assert.Equal(t, []string{"requirements.txt: +pandas"}, res.Outcome.Changes)
	assert.Equal(t, []string{"101"}, h.mock.Reruns())
	assert.Empty(t, h.mock.Issues())
	assert.Empty(t, *h.alerts)
	assert.Equal(t, 1, h.metrics.reruns)

	hist, err := h.store.GetRunHistory(context.Background(), "101")
	require.NoError(t, err)
	assert.Equal(t, types.ConclusionFailure, hist.Run.Conclusion)
	assert.Equal(t, "acme/shop", hist.Run.Repository)
	require.Len(t, hist.Failures, 1)
	require.Len(t, hist.Attempts, 1)
	assert.Equal(t, hist.Failures[0].ID, hist.Attempts[0].FailureRecordID)
	assert.Equal(t, res.FailureRecordID, hist.Failures[0].ID)
	assert.Equal(t, "pandas", hist.Failures[0].Metadata["package"])
	assert.InDelta(t, 0.85, hist.Attempts[0].Probability, 1e-9)
	assert.False(t, hist.Attempts[0].Override)

	var states []types.HealingState
	for _, s := range res.Steps {
		states = append(states, s.State)
	}
	assert.Equal(t, []types.HealingState{
		types.StateDetected, types.StateClassified, types.StateScored, types.StateDispatched, types.StateSucceeded,
	}, states)
}

func TestProcess_ResourceLimitRaisesLimits(t *testing.T) {
	h := newHarness(t, fixedModel(0.9))
	h.mock.SetFile("main", ".github/workflows/main.yml", "jobs:\n  build:\n    runs-on: ubuntu-latest\n    timeout-minutes: 15\n")
	run := h.failedRun(t, "102", "OOMKilled: Container exceeded memory limit (512Mi)")

	res, err := h.eng.Process(context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, types.CategoryResourceLimit, res.Classification.Category)
	assert.Equal(t, types.SeverityCritical, res.Classification.Severity)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, types.StrategyRaiseLimits, res.Outcome.Strategy)
	assert.Equal(t, types.StateSucceeded, res.State)
}

func TestProcess_UnknownSkippedAndEscalated(t *testing.T) {
	h := newHarness(t, fixedModel(0.99))
	run := h.failedRun(t, "103", "something odd happened on the runner")

	res, err := h.eng.Process(context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, types.StateSkipped, res.State)
	assert.Equal(t, types.CategoryUnknown, res.Classification.Category)
	assert.False(t, res.Classification.Fixable)
	assert.Nil(t, res.Outcome)
	assert.Nil(t, res.Score, "unfixable failures are not scored")
	assert.Empty(t, h.mock.Commits())
	assert.Empty(t, h.mock.Reruns())
	assert.Equal(t, []string{metrics.SkipUnfixable}, h.metrics.skipped)

	issues := h.mock.Issues()
	require.Len(t, issues, 1)
	assert.Equal(t, "Pipeline failure requires attention: CI (#103)", issues[0].Title)
	assert.Equal(t, []string{"auto-healing", "needs-attention"}, issues[0].Labels)
	assert.Contains(t, issues[0].Body, "**Category:** unknown")
	assert.NotEmpty(t, res.IssueURL)

	require.Len(t, *h.alerts, 1)
	a := (*h.alerts)[0]
	assert.Equal(t, types.AlertLevelWarning, a.Level)
	assert.Equal(t, "103", a.RunID)
	assert.Equal(t, res.IssueURL, a.Details["issue"])

	hist, err := h.store.GetRunHistory(context.Background(), "103")
	require.NoError(t, err)
	assert.Len(t, hist.Failures, 1)
	assert.Empty(t, hist.Attempts)
}

func TestProcess_ThresholdIsExclusive(t *testing.T) {
	tests := []struct {
		prob  float64
		state types.HealingState
	}{
		{0.70, types.StateSkipped},
		{0.701, types.StateSucceeded},
		{0.5, types.StateSkipped},
	}
	for _, tt := range tests {
		h := newHarness(t, fixedModel(tt.prob))
		h.mock.SetFile("main", "requirements.txt", "")
		run := h.failedRun(t, "104", "ModuleNotFoundError: No module named 'pandas'")

		res, err := h.eng.Process(context.Background(), run)
		require.NoError(t, err)
		assert.Equal(t, tt.state, res.State, "probability %v", tt.prob)

		hist, err := h.store.GetRunHistory(context.Background(), "104")
		require.NoError(t, err)
		if tt.state == types.StateSkipped {
			assert.Empty(t, hist.Attempts, "probability %v", tt.prob)
			assert.Equal(t, []string{metrics.SkipLowProbability}, h.metrics.skipped)
			assert.Len(t, h.mock.Issues(), 1)
		} else {
			assert.Len(t, hist.Attempts, 1, "probability %v", tt.prob)
			assert.Empty(t, h.mock.Issues())
		}
	}
}

func TestProcess_CustomThreshold(t *testing.T) {
	h := newHarness(t, fixedModel(0.6), func(o *engine.Options) { o.Threshold = 0.5 })
	h.mock.SetFile("main", "requirements.txt", "")
	run := h.failedRun(t, "105", "ModuleNotFoundError: No module named 'numpy'")

	assert.InDelta(t, 0.5, h.eng.Threshold(), 1e-9)
	res, err := h.eng.Process(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, types.StateSucceeded, res.State)
}

func TestProcess_NoHealingModelFallsBackAndSkips(t *testing.T) {
	h := newHarness(t, nil)
	run := h.failedRun(t, "106", "ModuleNotFoundError: No module named 'pandas'")

	res, err := h.eng.Process(context.Background(), run)
	require.NoError(t, err)

	require.NotNil(t, res.Score)
	assert.True(t, res.Score.Fallback)
	assert.Equal(t, predictor.NeutralProbability, res.Score.Probability)
	assert.Equal(t, types.StateSkipped, res.State)
	require.Len(t, h.mock.Issues(), 1)
	assert.Contains(t, h.mock.Issues()[0].Body, "0.50 (fallback)")
}

func TestProcess_RemediationFailureEscalates(t *testing.T) {
	h := newHarness(t, fixedModel(0.9))
	h.mock.CommitErr = errors.New("branch protected")
	run := h.failedRun(t, "107", "ModuleNotFoundError: No module named 'pandas'")

	res, err := h.eng.Process(context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, types.StateFailed, res.State)
	require.NotNil(t, res.Outcome)
	assert.False(t, res.Outcome.Success)
	assert.Contains(t, res.Outcome.Details, "Error during healing")
	assert.Empty(t, h.mock.Reruns())

	hist, err := h.store.GetRunHistory(context.Background(), "107")
	require.NoError(t, err)
	require.Len(t, hist.Attempts, 1)
	assert.False(t, hist.Attempts[0].Success)

	issues := h.mock.Issues()
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Body, "### Remediation (add-to-manifest)")
	require.Len(t, *h.alerts, 1)
	assert.Equal(t, types.AlertLevelError, (*h.alerts)[0].Level)
	assert.Equal(t, []types.StrategyID{types.StrategyAddToManifest}, h.metrics.attempted)
}

func TestProcess_IssuesDisabledStillAlerts(t *testing.T) {
	h := newHarness(t, fixedModel(0.9), func(o *engine.Options) { o.OpenIssues = false })
	run := h.failedRun(t, "108", "no pattern here")

	res, err := h.eng.Process(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, types.StateSkipped, res.State)
	assert.Empty(t, h.mock.Issues())
	assert.Empty(t, res.IssueURL)
	assert.Len(t, *h.alerts, 1)
	assert.Zero(t, h.metrics.escalated)
}

func TestProcess_IssueFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, fixedModel(0.9))
	h.mock.IssueErr = errors.New("issues disabled for repo")
	run := h.failedRun(t, "109", "no pattern here")

	res, err := h.eng.Process(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, types.StateSkipped, res.State)
	assert.Empty(t, res.IssueURL)
	assert.Len(t, *h.alerts, 1)
}

func TestProcess_SuccessfulRunOnlyRecorded(t *testing.T) {
	h := newHarness(t, fixedModel(0.9))
	run := testutil.SucceededRun("110", "main", "abc")

	res, err := h.eng.Process(context.Background(), run)
	require.NoError(t, err)
	assert.Empty(t, res.State)

	hist, err := h.store.GetRunHistory(context.Background(), "110")
	require.NoError(t, err)
	assert.Equal(t, types.ConclusionSuccess, hist.Run.Conclusion)
	require.NotNil(t, hist.Run.EndedAt)
	assert.Empty(t, hist.Failures)
	assert.Equal(t, []bool{true}, h.flaky.History("CI"))
}

func TestProcess_LogFetchErrorEscalatesAsUnknown(t *testing.T) {
	h := newHarness(t, fixedModel(0.9))
	h.mock.LogsErr = errors.New("502 bad gateway")
	run := h.failedRun(t, "111", "ModuleNotFoundError: No module named 'pandas'")

	res, err := h.eng.Process(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, types.StateSkipped, res.State)
	assert.Equal(t, types.CategoryUnknown, res.Classification.Category)
	assert.Contains(t, res.Classification.Message, "logs unavailable: 502 bad gateway")
	assert.Empty(t, h.mock.Commits())

	hist, err := h.store.GetRunHistory(context.Background(), "111")
	require.NoError(t, err)
	require.Len(t, hist.Failures, 1)
	assert.Equal(t, types.CategoryUnknown, hist.Failures[0].Category)

	issues := h.mock.Issues()
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Body, "logs unavailable")
	require.Len(t, *h.alerts, 1)
	assert.Equal(t, "111", (*h.alerts)[0].RunID)
}

func TestHeal_LogFetchErrorReturned(t *testing.T) {
	h := newHarness(t, fixedModel(0.9))
	h.mock.LogsErr = errors.New("502 bad gateway")
	h.failedRun(t, "115", "ModuleNotFoundError: No module named 'pandas'")

	_, err := h.eng.Heal(context.Background(), "115")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetching logs")
	assert.Empty(t, h.mock.Issues())
}

type failingStore struct {
	*memory.Store
	err error
}

func (f failingStore) CreateFailureRecord(context.Context, types.FailureRecord) error { return f.err }

func TestProcess_PersistenceFailureDropsRecord(t *testing.T) {
	mock := testutil.NewMockSCM()
	mock.SetFile("main", "requirements.txt", "")
	run := testutil.FailedRun("112", "main")
	mock.AddRun(run, "ModuleNotFoundError: No module named 'pandas'")

	st := failingStore{Store: memory.New(), err: errors.New("connection reset")}
	eng := engine.New(mock, st, predictor.New(nil, fixedModel(0.9), nil), remediation.New(mock, remediation.Config{}, nil), engine.Options{})

	res, err := eng.Process(context.Background(), run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storing failure record")
	assert.Equal(t, types.StateClassified, res.State)
	assert.Empty(t, mock.Commits(), "no remediation without a stored failure record")
}

func TestProcess_FlakyTestPromoted(t *testing.T) {
	h := newHarness(t, fixedModel(0.9))
	for _, passed := range []bool{true, false, true, false} {
		h.flaky.Record("CI", passed)
	}
	h.mock.SetFile("main", "requirements.txt", "")
	h.mock.SetFile("main", "pytest.ini", "[pytest]\n")
	run := h.failedRun(t, "113", "FAILED tests/test_api.py::test_checkout - assert 1 == 2")

	res, err := h.eng.Process(context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, types.CategoryTestFailure, res.Classification.Category)
	assert.Equal(t, types.StrategyAddRetryPolicy, res.Classification.Strategy)
	assert.True(t, res.Classification.Fixable)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, types.StrategyAddRetryPolicy, res.Outcome.Strategy)
	assert.Equal(t, types.StateSucceeded, res.State)
	assert.Equal(t, []bool{false}, h.flaky.History("test_checkout"))
}

func TestProcess_FlakyTestPromotedUnderOwnName(t *testing.T) {
	h := newHarness(t, fixedModel(0.9))
	for i := 0; i < 20; i++ {
		h.flaky.Record("CI", true)
	}
	h.mock.SetFile("main", "pytest.ini", "[pytest]\n")
	ctx := context.Background()
	log := "FAILED tests/test_api.py::test_checkout - assert 1 == 2"

	var last engine.Result
	for i, failed := range []bool{true, false, true, false, true} {
		id := fmt.Sprintf("%d", 120+i)
		run := testutil.SucceededRun(id, "main", strings.Repeat("a", 40))
		if failed {
			run = h.failedRun(t, id, log)
		}
		res, err := h.eng.Process(ctx, run)
		require.NoError(t, err)
		last = res
	}

	assert.Equal(t, []bool{false, true, false, true, false}, h.flaky.History("test_checkout"))
	assert.True(t, h.flaky.IsFlaky("test_checkout"))
	assert.False(t, h.flaky.IsFlaky("CI"), "workflow history stays mostly green")
	require.NotNil(t, last.Classification)
	assert.Equal(t, types.StrategyAddRetryPolicy, last.Classification.Strategy)
	assert.True(t, last.Classification.Fixable)
	assert.Equal(t, types.StateSucceeded, last.State)
}

func TestProcess_TestFailureWithoutHistorySkipped(t *testing.T) {
	h := newHarness(t, fixedModel(0.9))
	run := h.failedRun(t, "114", "FAILED tests/test_api.py::test_checkout - assert 1 == 2")

	res, err := h.eng.Process(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, types.StateSkipped, res.State)
	assert.False(t, res.Classification.Fixable)
}

func TestHeal_ManualOverrideBypassesPredictor(t *testing.T) {
	h := newHarness(t, nil)
	h.mock.SetFile("main", "requirements.txt", "")
	h.failedRun(t, "115", "ModuleNotFoundError: No module named 'pandas'")

	res, err := h.eng.Heal(context.Background(), "115")
	require.NoError(t, err)
	assert.Equal(t, types.StateSucceeded, res.State)
	assert.Nil(t, res.Score)

	hist, err := h.store.GetRunHistory(context.Background(), "115")
	require.NoError(t, err)
	require.Len(t, hist.Attempts, 1)
	assert.True(t, hist.Attempts[0].Override)
	assert.Equal(t, 1.0, hist.Attempts[0].Probability)
	assert.Equal(t, []string{"115"}, h.mock.Reruns())
}

func TestHeal_RejectsRunsThatDidNotFail(t *testing.T) {
	h := newHarness(t, nil)
	h.mock.AddRun(testutil.SucceededRun("116", "main", "abc"), "")

	_, err := h.eng.Heal(context.Background(), "116")
	assert.ErrorIs(t, err, engine.ErrNotFailed)

	_, err = h.eng.Heal(context.Background(), "404")
	assert.ErrorIs(t, err, scm.ErrNotFound)
}

func TestProcess_SpanCarriesOutcome(t *testing.T) {
	h := newHarness(t, fixedModel(0.85))
	h.mock.SetFile("main", "requirements.txt", "")
	run := h.failedRun(t, "117", "ModuleNotFoundError: No module named 'pandas'")

	_, err := h.eng.Process(context.Background(), run)
	require.NoError(t, err)

	spans := h.spans.Ended()
	require.Len(t, spans, 1)
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "117", attrs["pipemedic.run_id"].AsString())
	assert.Equal(t, "missing_dependency", attrs["pipemedic.category"].AsString())
	assert.InDelta(t, 0.85, attrs["pipemedic.probability"].AsFloat64(), 1e-9)
	assert.Equal(t, string(types.StateSucceeded), attrs["pipemedic.state"].AsString())
}
