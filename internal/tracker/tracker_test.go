package tracker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dwsmith1983/pipemedic/internal/engine"
	"github.com/dwsmith1983/pipemedic/internal/predictor"
	"github.com/dwsmith1983/pipemedic/internal/remediation"
	"github.com/dwsmith1983/pipemedic/internal/store/memory"
	"github.com/dwsmith1983/pipemedic/internal/testutil"
	"github.com/dwsmith1983/pipemedic/internal/tracker"
	"github.com/dwsmith1983/pipemedic/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixedModel float64

func (f fixedModel) PredictProbability([]float64) (float64, error) { return float64(f), nil }

type stubProcessor struct {
	mu    sync.Mutex
	calls []string
	panic string
	err   error
	delay time.Duration
	inFly atomic.Int32
	peak  atomic.Int32
}

func (s *stubProcessor) Process(_ context.Context, run types.RunSummary) (engine.Result, error) {
	n := s.inFly.Add(1)
	defer s.inFly.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	s.calls = append(s.calls, tracker.Key(run))
	s.mu.Unlock()

	if run.ID == s.panic {
		panic("bad run " + run.ID)
	}
	return engine.Result{RunID: run.ID}, s.err
}

func (s *stubProcessor) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func newLocal(t *testing.T, capacity int) *tracker.LocalDeduper {
	t.Helper()
	d, err := tracker.NewLocalDeduper(capacity)
	require.NoError(t, err)
	return d
}

func TestPoll_SameRunTwiceHealsOnce(t *testing.T) {
	mock := testutil.NewMockSCM()
	mock.SetFile("main", "requirements.txt", "")
	mock.AddRun(testutil.FailedRun("201", "main"), "ModuleNotFoundError: No module named 'pandas'")
	st := memory.New()
	eng := engine.New(mock, st, predictor.New(nil, fixedModel(0.9), nil),
		remediation.New(mock, remediation.Config{}, nil), engine.Options{OpenIssues: true})
	tr := tracker.New(mock, eng, newLocal(t, 0), nil, nil, tracker.Config{})

	ctx := context.Background()
	first, err := tr.Poll(ctx)
	require.NoError(t, err)
	second, err := tr.Poll(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, first.Processed)
	assert.Equal(t, 1, first.Failed)
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 1, second.Duplicates)

	hist, err := st.GetRunHistory(ctx, "201")
	require.NoError(t, err)
	assert.Len(t, hist.Failures, 1)
	assert.Len(t, hist.Attempts, 1)
	assert.Len(t, mock.Commits(), 1)
	assert.Equal(t, []string{"201"}, mock.Reruns())
}

func TestPoll_PendingThenCompleted(t *testing.T) {
	mock := testutil.NewMockSCM()
	run := testutil.FailedRun("202", "main")
	run.Status, run.Conclusion = types.RunInProgress, types.ConclusionNone
	mock.AddRun(run, "")
	proc := &stubProcessor{}
	tr := tracker.New(mock, proc, newLocal(t, 0), nil, nil, tracker.Config{})

	ctx := context.Background()
	_, err := tr.Poll(ctx)
	require.NoError(t, err)
	_, err = tr.Poll(ctx)
	require.NoError(t, err)

	mock.AddRun(testutil.FailedRun("202", "main"), "boom")
	cycle, err := tr.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cycle.Failed)

	_, err = tr.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"202:pending", "202:completed"}, proc.Calls())
}

func TestPoll_ListErrorReturned(t *testing.T) {
	mock := testutil.NewMockSCM()
	mock.ListErr = errors.New("503 service unavailable")
	tr := tracker.New(mock, &stubProcessor{}, newLocal(t, 0), nil, nil, tracker.Config{})

	_, err := tr.Poll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listing recent runs")
}

func TestPoll_PanicIsContainedToOneRun(t *testing.T) {
	mock := testutil.NewMockSCM()
	mock.AddRun(testutil.FailedRun("203", "main"), "x")
	mock.AddRun(testutil.FailedRun("204", "main"), "x")
	proc := &stubProcessor{panic: "204"}
	tr := tracker.New(mock, proc, newLocal(t, 0), nil, nil, tracker.Config{})

	cycle, err := tr.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, cycle.Processed)
	assert.Equal(t, 1, cycle.Errors)
	assert.ElementsMatch(t, []string{"203:completed", "204:completed"}, proc.Calls())
}

func TestPoll_ProcessorErrorCounted(t *testing.T) {
	mock := testutil.NewMockSCM()
	mock.AddRun(testutil.FailedRun("205", "main"), "x")
	proc := &stubProcessor{err: errors.New("store down")}
	tr := tracker.New(mock, proc, newLocal(t, 0), nil, nil, tracker.Config{})

	cycle, err := tr.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cycle.Errors)

	// The observation was marked seen, so the failed pass is not retried inline.
	cycle, err = tr.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cycle.Duplicates)
}

type brokenDeduper struct{}

func (brokenDeduper) MarkSeen(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

func TestPoll_DedupErrorSkipsRun(t *testing.T) {
	mock := testutil.NewMockSCM()
	mock.AddRun(testutil.FailedRun("206", "main"), "x")
	proc := &stubProcessor{}
	tr := tracker.New(mock, proc, brokenDeduper{}, nil, nil, tracker.Config{})

	cycle, err := tr.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cycle.Errors)
	assert.Empty(t, proc.Calls())
}

func TestPoll_SequentialByDefault(t *testing.T) {
	mock := testutil.NewMockSCM()
	for _, id := range []string{"211", "212", "213"} {
		mock.AddRun(testutil.FailedRun(id, "main"), "x")
	}
	proc := &stubProcessor{delay: 20 * time.Millisecond}
	tr := tracker.New(mock, proc, newLocal(t, 0), nil, nil, tracker.Config{})

	_, err := tr.Poll(context.Background())
	require.NoError(t, err)
	assert.Len(t, proc.Calls(), 3)
	assert.EqualValues(t, 1, proc.peak.Load())
}

func TestPoll_Workers(t *testing.T) {
	mock := testutil.NewMockSCM()
	for _, id := range []string{"221", "222", "223", "224"} {
		mock.AddRun(testutil.FailedRun(id, "main"), "x")
	}
	proc := &stubProcessor{delay: 50 * time.Millisecond}
	tr := tracker.New(mock, proc, newLocal(t, 0), nil, nil, tracker.Config{Workers: 4})

	cycle, err := tr.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, cycle.Processed)
	assert.Greater(t, proc.peak.Load(), int32(1))
}

func TestPoll_PageSize(t *testing.T) {
	mock := testutil.NewMockSCM()
	for _, id := range []string{"231", "232", "233"} {
		mock.AddRun(testutil.FailedRun(id, "main"), "x")
	}
	tr := tracker.New(mock, &stubProcessor{}, newLocal(t, 0), nil, nil, tracker.Config{PageSize: 2})

	cycle, err := tr.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, cycle.Listed)
}

func TestStartStop_KeepsPollingThroughErrors(t *testing.T) {
	mock := testutil.NewMockSCM()
	mock.ListErr = errors.New("rate limited")
	tr := tracker.New(mock, &stubProcessor{}, newLocal(t, 0), nil, nil, tracker.Config{PollInterval: 10 * time.Millisecond})

	tr.Start(context.Background())
	testutil.WaitForPollCount(t, mock, 3, 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	tr.Stop(ctx)
}

func TestStartStop_ProcessesNewRuns(t *testing.T) {
	mock := testutil.NewMockSCM()
	proc := &stubProcessor{}
	tr := tracker.New(mock, proc, newLocal(t, 0), nil, nil, tracker.Config{PollInterval: 10 * time.Millisecond})

	tr.Start(context.Background())
	testutil.WaitForPollCount(t, mock, 1, time.Second)
	mock.AddRun(testutil.FailedRun("241", "main"), "x")
	testutil.WaitFor(t, 2*time.Second, func() bool { return len(proc.Calls()) == 1 }, "new run processed")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	tr.Stop(ctx)
	assert.Equal(t, []string{"241:completed"}, proc.Calls())
}
