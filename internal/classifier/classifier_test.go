package classifier

import (
	"fmt"
	"testing"

	"github.com/dwsmith1983/pipemedic/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const missingDepLog = `
Traceback (most recent call last):
  File "app.py", line 3, in <module>
    import pandas as pd
ModuleNotFoundError: No module named 'pandas'
`

func TestClassify_MissingDependency(t *testing.T) {
	cl := Classify("ModuleNotFoundError: No module named 'pandas'")

	assert.Equal(t, types.CategoryMissingDependency, cl.Category)
	assert.Equal(t, "pandas", cl.Package)
	assert.Equal(t, types.SeverityHigh, cl.Severity)
	assert.True(t, cl.Fixable)
	assert.Equal(t, types.StrategyAddToManifest, cl.Strategy)
	assert.Equal(t, []string{"pandas"}, cl.Groups)
}

func TestClassify_MissingDependencyLowercaseLog(t *testing.T) {
	cl := Classify("modulenotfounderror: no module named 'pandas'")

	assert.Equal(t, types.CategoryMissingDependency, cl.Category)
	assert.Equal(t, "pandas", cl.Package)
}

func TestClassify_ResourceLimit(t *testing.T) {
	cl := Classify("OOMKilled: Container exceeded memory limit (512Mi)")

	assert.Equal(t, types.CategoryResourceLimit, cl.Category)
	assert.Equal(t, types.SeverityCritical, cl.Severity)
	assert.Equal(t, types.StrategyRaiseLimits, cl.Strategy)
	assert.True(t, cl.Fixable)
}

func TestClassify_Unknown(t *testing.T) {
	cl := Classify("step 3 exited with status 1\nsee above for details")

	assert.Equal(t, types.CategoryUnknown, cl.Category)
	assert.False(t, cl.Fixable)
	assert.Equal(t, types.StrategyNone, cl.Strategy)
	assert.Equal(t, types.SeverityMedium, cl.Severity)
	assert.Equal(t, -1, cl.RuleIndex)
	assert.NotEmpty(t, cl.Message)
}

func TestClassify_SampleLogs(t *testing.T) {
	tests := []struct {
		name     string
		log      string
		category types.FailureCategory
		testName string
	}{
		{"timeout", "FAILED tests/test_slow.py::test_data_processing - Timeout\nTest exceeded 60s timeout\n", types.CategoryTestTimeout, "test_data_processing"},
		{"assertion", "FAILED tests/test_api.py::test_user_creation\nAssertionError: Expected status code 200 but got 404\n", types.CategoryTestFailure, "test_user_creation"},
		{"deployment", "Error: Deployment app-deployment crashed\nCrashLoopBackOff: container failed health check\n", types.CategoryDeploymentCrash, ""},
		{"network", "ERROR: Connection timeout when connecting to registry.hub.docker.com\ndial tcp 104.26.13.115:443: i/o timeout\n", types.CategoryNetworkTimeout, ""},
		{"build", "Build step 'compile' failed with exit code 2", types.CategoryBuildFailure, ""},
		{"syntax", "  File \"x.py\", line 1\nSyntaxError: invalid syntax", types.CategorySyntaxError, ""},
		{"permission", "PermissionError: [Errno 13] /var/lib", types.CategoryPermissionError, ""},
		{"configuration", "KeyError: 'DATABASE_URL'", types.CategoryConfigurationError, ""},
		{"case insensitive", "container oomkilled", types.CategoryResourceLimit, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cl := Classify(tt.log)
			assert.Equal(t, tt.category, cl.Category)
			assert.Equal(t, tt.testName, cl.TestName)
			assert.Equal(t, SeverityFor(tt.category), cl.Severity)
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	logs := []string{missingDepLog, "OOMKilled", "nothing matched here", "FAILED test_a"}
	first := make([]types.FailureCategory, len(logs))
	for i, l := range logs {
		first[i] = Classify(l).Category
	}
	for round := 0; round < 5; round++ {
		for i := len(logs) - 1; i >= 0; i-- {
			assert.Equal(t, first[i], Classify(logs[i]).Category, "round %d log %d", round, i)
		}
	}
}

func TestClassify_RulePrecedence(t *testing.T) {
	log := "FAILED tests/test_io.py::test_import\nModuleNotFoundError: No module named 'requests'\n"

	cl := Classify(log)
	assert.Equal(t, types.CategoryMissingDependency, cl.Category)
	assert.Equal(t, "requests", cl.Package)

	reversed := New([]Rule{
		NewRule(types.CategoryTestFailure, `FAILED.*test_(\w+)`),
		NewRule(types.CategoryMissingDependency, `ModuleNotFoundError: No module named ['"](\w+)['"]`),
	})
	cl = reversed.Classify(log)
	assert.Equal(t, types.CategoryTestFailure, cl.Category)
	assert.Equal(t, 0, cl.RuleIndex)
}

func TestClassify_StackTraceAndLine(t *testing.T) {
	cl := Classify(missingDepLog + "\n\nmore output afterwards\n")

	require.NotEmpty(t, cl.StackTrace)
	assert.Contains(t, cl.StackTrace, "Traceback (most recent call last):")
	assert.Contains(t, cl.StackTrace, "ModuleNotFoundError")
	assert.NotContains(t, cl.StackTrace, "more output")
	assert.Equal(t, "ModuleNotFoundError: No module named 'pandas'", cl.Line)
}

func TestClassify_NoStackTrace(t *testing.T) {
	cl := Classify("OOMKilled")
	assert.Empty(t, cl.StackTrace)
}

func TestDefaultRules_Order(t *testing.T) {
	rules := DefaultRules()
	require.Len(t, rules, 41)
	assert.Equal(t, types.CategoryMissingDependency, rules[0].Category)
	assert.Equal(t, types.CategoryConfigurationError, rules[len(rules)-1].Category)

	// Categories appear in one contiguous block each, in declaration order.
	seen := map[types.FailureCategory]bool{}
	var prev types.FailureCategory
	for _, r := range rules {
		if r.Category != prev {
			assert.False(t, seen[r.Category], "category %s split across the table", r.Category)
			seen[r.Category] = true
			prev = r.Category
		}
	}
}

func TestRules_ReturnsCopy(t *testing.T) {
	c := New(nil)
	rules := c.Rules()
	rules[0] = NewRule(types.CategorySyntaxError, "ModuleNotFoundError")

	assert.Equal(t, types.CategoryMissingDependency, c.Classify("ModuleNotFoundError: No module named 'x'").Category)
}

func TestSeverityFor(t *testing.T) {
	want := map[types.FailureCategory]types.Severity{
		types.CategoryDeploymentCrash:    types.SeverityCritical,
		types.CategoryResourceLimit:      types.SeverityCritical,
		types.CategoryMissingDependency:  types.SeverityHigh,
		types.CategoryBuildFailure:       types.SeverityHigh,
		types.CategoryTestTimeout:        types.SeverityMedium,
		types.CategoryTestFailure:        types.SeverityMedium,
		types.CategoryNetworkTimeout:     types.SeverityMedium,
		types.CategorySyntaxError:        types.SeverityMedium,
		types.CategoryPermissionError:    types.SeverityMedium,
		types.CategoryConfigurationError: types.SeverityMedium,
		types.CategoryUnknown:            types.SeverityMedium,
	}
	for cat, sev := range want {
		if got := SeverityFor(cat); got != sev {
			t.Errorf("SeverityFor(%s) = %s, want %s", cat, got, sev)
		}
	}
}

func TestPromoteFlaky(t *testing.T) {
	cl := Classify("FAILED tests/test_api.py::test_login\nAssertionError: boom")
	require.False(t, cl.Fixable)

	promoted := PromoteFlaky(cl)
	assert.True(t, promoted.Fixable)
	assert.Equal(t, types.StrategyAddRetryPolicy, promoted.Strategy)

	other := Classify("OOMKilled")
	assert.Equal(t, other, PromoteFlaky(other))
}

func TestClassify_Concurrent(t *testing.T) {
	done := make(chan types.FailureCategory, 50)
	for i := 0; i < 50; i++ {
		go func(i int) {
			done <- Classify(fmt.Sprintf("run %d\nOOMKilled", i)).Category
		}(i)
	}
	for i := 0; i < 50; i++ {
		assert.Equal(t, types.CategoryResourceLimit, <-done)
	}
}
