// Package testutil provides shared test utilities for pipemedic.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dwsmith1983/pipemedic/internal/scm"
	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// Compile-time interface satisfaction check.
var _ scm.Client = (*MockSCM)(nil)

// MockSCM is an in-memory scm.Client for testing.
type MockSCM struct {
	mu       sync.Mutex
	repo     string
	runs     []types.RunSummary
	logs     map[string]string
	files    map[string]scm.File // key: "branch:path"
	shaSeq   int
	commits  []scm.CommitRequest
	issues   []scm.Issue
	reruns   []string
	cleared  map[string]int
	caches   map[string]int
	inFlight map[string]int
	maxPar   int

	// Injected failures. Nil means succeed.
	ListErr   error
	LogsErr   error
	CommitErr error
	IssueErr  error
	RerunErr  error
	CacheErr  error

	// CommitDelay slows CommitFile down to expose concurrent writers.
	CommitDelay time.Duration

	pollCount atomic.Int64
}

// NewMockSCM creates an empty mock for "acme/shop".
func NewMockSCM() *MockSCM {
	return &MockSCM{
		repo:     "acme/shop",
		logs:     make(map[string]string),
		files:    make(map[string]scm.File),
		cleared:  make(map[string]int),
		caches:   make(map[string]int),
		inFlight: make(map[string]int),
	}
}

// AddRun registers a run (newest first) and optionally its log text.
func (m *MockSCM) AddRun(run types.RunSummary, log string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.runs {
		if r.ID == run.ID {
			m.runs[i] = run
			if log != "" {
				m.logs[run.ID] = log
			}
			return
		}
	}
	m.runs = append([]types.RunSummary{run}, m.runs...)
	if log != "" {
		m.logs[run.ID] = log
	}
}

// SetFile seeds a file on a branch.
func (m *MockSCM) SetFile(branch, path, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shaSeq++
	m.files[branch+":"+path] = scm.File{Path: path, Content: content, SHA: fmt.Sprintf("sha-%d", m.shaSeq)}
}

// SetCaches seeds the number of Actions caches for a branch.
func (m *MockSCM) SetCaches(branch string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches[branch] = n
}

// File returns the current content of a file, if any.
func (m *MockSCM) File(branch, path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[branch+":"+path]
	return f.Content, ok
}

// Commits returns all successful commits.
func (m *MockSCM) Commits() []scm.CommitRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]scm.CommitRequest(nil), m.commits...)
}

// Issues returns all opened issues.
func (m *MockSCM) Issues() []scm.Issue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]scm.Issue(nil), m.issues...)
}

// Reruns returns the run ids a rerun was requested for.
func (m *MockSCM) Reruns() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.reruns...)
}

// ClearedCaches returns how many caches were cleared on branch.
func (m *MockSCM) ClearedCaches(branch string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleared[branch]
}

// MaxConcurrentCommits returns the highest number of overlapping CommitFile
// calls seen on any single branch.
func (m *MockSCM) MaxConcurrentCommits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxPar
}

// PollCount returns how many times ListRecentRuns has been called.
func (m *MockSCM) PollCount() int64 {
	return m.pollCount.Load()
}

func (m *MockSCM) Repository() string { return m.repo }

func (m *MockSCM) ListRecentRuns(_ context.Context, filter scm.RunFilter) ([]types.RunSummary, error) {
	m.pollCount.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	var out []types.RunSummary
	for _, r := range m.runs {
		if filter.Branch != "" && r.Branch != filter.Branch {
			continue
		}
		if filter.Event != "" && r.Event != filter.Event {
			continue
		}
		if filter.Status != "" && string(r.Status) != filter.Status && string(r.Conclusion) != filter.Status {
			continue
		}
		out = append(out, r)
		if filter.PerPage > 0 && len(out) == filter.PerPage {
			break
		}
	}
	return out, nil
}

func (m *MockSCM) GetRun(_ context.Context, runID string) (types.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.ID == runID {
			return r, nil
		}
	}
	return types.RunSummary{}, fmt.Errorf("get run %s: %w", runID, scm.ErrNotFound)
}

func (m *MockSCM) FetchLogs(_ context.Context, runID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LogsErr != nil {
		return "", m.LogsErr
	}
	log, ok := m.logs[runID]
	if !ok {
		return "", fmt.Errorf("logs for %s: %w", runID, scm.ErrNotFound)
	}
	return log, nil
}

func (m *MockSCM) Rerun(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RerunErr != nil {
		return m.RerunErr
	}
	m.reruns = append(m.reruns, runID)
	return nil
}

func (m *MockSCM) GetFile(_ context.Context, path, ref string) (*scm.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[ref+":"+path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, scm.ErrNotFound)
	}
	return &f, nil
}

func (m *MockSCM) CommitFile(ctx context.Context, req scm.CommitRequest) error {
	m.mu.Lock()
	m.inFlight[req.Branch]++
	if m.inFlight[req.Branch] > m.maxPar {
		m.maxPar = m.inFlight[req.Branch]
	}
	delay := m.CommitDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight[req.Branch]--
	if m.CommitErr != nil {
		return m.CommitErr
	}
	key := req.Branch + ":" + req.Path
	current, exists := m.files[key]
	if (exists && current.SHA != req.ExpectedSHA) || (!exists && req.ExpectedSHA != "") {
		return fmt.Errorf("commit %s: %w", req.Path, scm.ErrConflict)
	}
	m.shaSeq++
	m.files[key] = scm.File{Path: req.Path, Content: req.Content, SHA: fmt.Sprintf("sha-%d", m.shaSeq)}
	m.commits = append(m.commits, req)
	return nil
}

func (m *MockSCM) OpenIssue(_ context.Context, issue scm.Issue) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.IssueErr != nil {
		return "", m.IssueErr
	}
	m.issues = append(m.issues, issue)
	return fmt.Sprintf("https://github.com/%s/issues/%d", m.repo, len(m.issues)), nil
}

func (m *MockSCM) ClearCaches(_ context.Context, branch string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CacheErr != nil {
		return 0, m.CacheErr
	}
	n := m.caches[branch]
	m.caches[branch] = 0
	m.cleared[branch] += n
	return n, nil
}

// FailedRun builds a completed, failed run summary.
func FailedRun(id, branch string) types.RunSummary {
	return types.RunSummary{
		ID:         id,
		Name:       "CI",
		Status:     types.RunCompleted,
		Conclusion: types.ConclusionFailure,
		Branch:     branch,
		CommitSHA:  strings.Repeat(id[len(id)-1:], 40),
		Event:      "push",
		CreatedAt:  time.Now().Add(-time.Minute),
		UpdatedAt:  time.Now(),
	}
}

// SucceededRun builds a completed, successful run summary.
func SucceededRun(id, branch, sha string) types.RunSummary {
	return types.RunSummary{
		ID:         id,
		Name:       "CI",
		Status:     types.RunCompleted,
		Conclusion: types.ConclusionSuccess,
		Branch:     branch,
		CommitSHA:  sha,
		Event:      "push",
		CreatedAt:  time.Now().Add(-time.Hour),
		UpdatedAt:  time.Now().Add(-time.Hour),
	}
}
