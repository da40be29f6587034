package classifier

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Flakiness thresholds: a test is flaky when its failure rate falls inside
// [FlakyMinRate, FlakyMaxRate] over at least FlakyMinSamples outcomes.
const (
	FlakyMinSamples = 5
	FlakyMinRate    = 0.20
	FlakyMaxRate    = 0.80
)

// IsFlaky applies the flakiness rule to an outcome history where true means
// the test passed. Fewer than FlakyMinSamples outcomes is never flaky.
func IsFlaky(passed []bool) bool {
	if len(passed) < FlakyMinSamples {
		return false
	}
	failures := 0
	for _, ok := range passed {
		if !ok {
			failures++
		}
	}
	rate := float64(failures) / float64(len(passed))
	return rate >= FlakyMinRate && rate <= FlakyMaxRate
}

// FlakyDetector keeps a bounded pass/fail history per test name. Both the
// per-name history and the number of tracked names are bounded; the least
// recently recorded name is dropped first.
//
// Test names seen failing are indexed by workflow so that a later passing
// run of that workflow counts as a pass for each of them.
type FlakyDetector struct {
	mu        sync.Mutex
	window    int
	histories *lru.Cache[string, []bool]
	tests     *lru.Cache[string, map[string]struct{}]
}

// NewFlakyDetector creates a detector keeping the last window outcomes for up
// to maxNames test names.
func NewFlakyDetector(window, maxNames int) (*FlakyDetector, error) {
	if window < FlakyMinSamples {
		return nil, fmt.Errorf("flaky window %d is below the %d sample minimum", window, FlakyMinSamples)
	}
	cache, err := lru.New[string, []bool](maxNames)
	if err != nil {
		return nil, fmt.Errorf("creating flaky history cache: %w", err)
	}
	tests, err := lru.New[string, map[string]struct{}](maxNames)
	if err != nil {
		return nil, fmt.Errorf("creating workflow test index: %w", err)
	}
	return &FlakyDetector{window: window, histories: cache, tests: tests}, nil
}

// Record appends one outcome for the named test.
func (d *FlakyDetector) Record(name string, passed bool) {
	if name == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(name, passed)
}

// RecordTestFailure records a failure for test and remembers that it runs in
// workflow.
func (d *FlakyDetector) RecordTestFailure(workflow, test string) {
	if test == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(test, false)
	if workflow == "" {
		return
	}
	names, ok := d.tests.Get(workflow)
	if !ok {
		names = make(map[string]struct{})
	}
	names[test] = struct{}{}
	d.tests.Add(workflow, names)
}

// RecordWorkflowPass records a pass for workflow and for every test previously
// seen failing in it.
func (d *FlakyDetector) RecordWorkflowPass(workflow string) {
	if workflow == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(workflow, true)
	names, _ := d.tests.Get(workflow)
	for test := range names {
		d.record(test, true)
	}
}

func (d *FlakyDetector) record(name string, passed bool) {
	h, _ := d.histories.Get(name)
	h = append(h, passed)
	if len(h) > d.window {
		h = append([]bool(nil), h[len(h)-d.window:]...)
	}
	d.histories.Add(name, h)
}

// IsFlaky reports whether the named test's recorded history is flaky.
func (d *FlakyDetector) IsFlaky(name string) bool {
	return IsFlaky(d.History(name))
}

// History returns a copy of the recorded outcomes for the named test.
func (d *FlakyDetector) History(name string) []bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.histories.Peek(name)
	if !ok {
		return nil
	}
	out := make([]bool, len(h))
	copy(out, h)
	return out
}

// Failures returns how many of the named test's recorded outcomes failed.
func (d *FlakyDetector) Failures(name string) int {
	n := 0
	for _, ok := range d.History(name) {
		if !ok {
			n++
		}
	}
	return n
}
