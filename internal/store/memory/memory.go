// Package memory implements an in-process OutcomeStore. It backs tests and
// single-process deployments that do not need durable history.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dwsmith1983/pipemedic/internal/store"
	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// Compile-time interface satisfaction check.
var _ store.OutcomeStore = (*Store)(nil)

// Store is a mutex-guarded map store.
type Store struct {
	mu       sync.RWMutex
	runs     map[string]types.PipelineRun
	failures map[string]types.FailureRecord
	attempts map[string]types.RemediationAttempt
	now      func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		runs:     make(map[string]types.PipelineRun),
		failures: make(map[string]types.FailureRecord),
		attempts: make(map[string]types.RemediationAttempt),
		now:      time.Now,
	}
}

func (s *Store) Start(context.Context) error { return nil }
func (s *Store) Stop(context.Context) error  { return nil }
func (s *Store) Ping(context.Context) error  { return nil }

// UpsertPipelineRun inserts or replaces a run by id.
func (s *Store) UpsertPipelineRun(_ context.Context, run types.PipelineRun) error {
	if err := store.ValidateRun(run); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

// CreateFailureRecord stores a new record; ids are never reused.
func (s *Store) CreateFailureRecord(_ context.Context, rec types.FailureRecord) error {
	if err := store.ValidateFailureRecord(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.failures[rec.ID]; ok {
		return fmt.Errorf("failure record %s: %w", rec.ID, store.ErrAlreadyExists)
	}
	rec.Metadata = copyMap(rec.Metadata)
	s.failures[rec.ID] = rec
	return nil
}

// CreateRemediationAttempt stores a new attempt for an existing failure record.
func (s *Store) CreateRemediationAttempt(_ context.Context, a types.RemediationAttempt) error {
	if err := store.ValidateAttempt(a); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.failures[a.FailureRecordID]; !ok {
		return fmt.Errorf("failure record %s: %w", a.FailureRecordID, store.ErrNotFound)
	}
	if _, ok := s.attempts[a.ID]; ok {
		return fmt.Errorf("remediation attempt %s: %w", a.ID, store.ErrAlreadyExists)
	}
	a.Changes = append([]string(nil), a.Changes...)
	s.attempts[a.ID] = a
	return nil
}

// GetAggregateStatistics counts failed runs started and attempts created
// within the last windowDays days.
func (s *Store) GetAggregateStatistics(_ context.Context, windowDays int) (types.AggregateStatistics, error) {
	since := store.WindowStart(s.now(), windowDays)

	s.mu.RLock()
	defer s.mu.RUnlock()

	failures := 0
	for _, r := range s.runs {
		if r.Conclusion == types.ConclusionFailure && !r.StartedAt.Before(since) {
			failures++
		}
	}
	attempted, succeeded := 0, 0
	for _, a := range s.attempts {
		if a.CreatedAt.Before(since) {
			continue
		}
		attempted++
		if a.Success {
			succeeded++
		}
	}
	return store.NewStatistics(windowDays, failures, attempted, succeeded), nil
}

// GetRunHistory returns a run with its failure records and attempts, oldest first.
func (s *Store) GetRunHistory(_ context.Context, runID string) (*types.RunHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}
	h := &types.RunHistory{
		Run:      run,
		Failures: []types.FailureRecord{},
		Attempts: []types.RemediationAttempt{},
	}
	for _, f := range s.failures {
		if f.RunID == runID {
			h.Failures = append(h.Failures, f)
		}
	}
	for _, a := range s.attempts {
		if a.RunID == runID {
			h.Attempts = append(h.Attempts, a)
		}
	}
	sort.Slice(h.Failures, func(i, j int) bool {
		return lessByTime(h.Failures[i].CreatedAt, h.Failures[j].CreatedAt, h.Failures[i].ID, h.Failures[j].ID)
	})
	sort.Slice(h.Attempts, func(i, j int) bool {
		return lessByTime(h.Attempts[i].CreatedAt, h.Attempts[j].CreatedAt, h.Attempts[i].ID, h.Attempts[j].ID)
	})
	return h, nil
}

func lessByTime(a, b time.Time, idA, idB string) bool {
	if a.Equal(b) {
		return idA < idB
	}
	return a.Before(b)
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
