package remediation

import (
	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// Failure is the closed set of failure variants the dispatcher understands.
// Each variant carries only what its strategy needs.
type Failure interface {
	Strategy() types.StrategyID
	isFailure()
}

// MissingDependency is a package the build could not import or install.
type MissingDependency struct{ Package string }

// TestTimeout is a test run that exceeded its time budget.
type TestTimeout struct{ TestName string }

// FlakyTest is a test whose outcome alternates across runs of the same code.
type FlakyTest struct{ TestName string }

// BuildFailure is a failed build step. Text is the log line that matched.
type BuildFailure struct{ Text string }

// DeploymentCrash is an application that failed to start after deploying.
type DeploymentCrash struct{}

// ResourceLimit is a job killed for exceeding memory, disk or time limits.
type ResourceLimit struct{}

// NetworkTimeout is a job that could not reach a remote service.
type NetworkTimeout struct{}

// Unknown is any category without a strategy.
type Unknown struct{ Category types.FailureCategory }

func (MissingDependency) Strategy() types.StrategyID { return types.StrategyAddToManifest }
func (TestTimeout) Strategy() types.StrategyID       { return types.StrategyRaiseTimeout }
func (FlakyTest) Strategy() types.StrategyID         { return types.StrategyAddRetryPolicy }
func (BuildFailure) Strategy() types.StrategyID      { return types.StrategyCacheOrManual }
func (DeploymentCrash) Strategy() types.StrategyID   { return types.StrategyRollback }
func (ResourceLimit) Strategy() types.StrategyID     { return types.StrategyRaiseLimits }
func (NetworkTimeout) Strategy() types.StrategyID    { return types.StrategyAddRetryDeps }
func (Unknown) Strategy() types.StrategyID           { return types.StrategyNone }

func (MissingDependency) isFailure() {}
func (TestTimeout) isFailure()       {}
func (FlakyTest) isFailure()         {}
func (BuildFailure) isFailure()      {}
func (DeploymentCrash) isFailure()   {}
func (ResourceLimit) isFailure()     {}
func (NetworkTimeout) isFailure()    {}
func (Unknown) isFailure()           {}

// FailureFrom builds the variant for a classification. A test failure that
// was promoted to flaky maps to FlakyTest; unmapped categories to Unknown.
func FailureFrom(cl types.Classification) Failure {
	switch cl.Category {
	case types.CategoryMissingDependency:
		return MissingDependency{Package: cl.Package}
	case types.CategoryTestTimeout:
		return TestTimeout{TestName: cl.TestName}
	case types.CategoryTestFailure:
		if cl.Strategy == types.StrategyAddRetryPolicy {
			return FlakyTest{TestName: cl.TestName}
		}
	case types.CategoryBuildFailure:
		text := cl.Line
		if text == "" {
			text = cl.Message
		}
		return BuildFailure{Text: text}
	case types.CategoryDeploymentCrash:
		return DeploymentCrash{}
	case types.CategoryResourceLimit:
		return ResourceLimit{}
	case types.CategoryNetworkTimeout:
		return NetworkTimeout{}
	}
	return Unknown{Category: cl.Category}
}
