package classifier

import (
	"regexp"

	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// RulesVersion identifies the default rule table. Classification outcomes
// depend on rule order, so any addition, removal or reordering of
// defaultRuleSpecs must bump this value.
const RulesVersion = "2"

// Rule is one (pattern, category) entry of an ordered rule table.
type Rule struct {
	Category types.FailureCategory
	Pattern  *regexp.Regexp
}

// NewRule compiles a case-insensitive rule. It panics on an invalid pattern,
// so it is meant for static tables.
func NewRule(category types.FailureCategory, pattern string) Rule {
	return Rule{Category: category, Pattern: regexp.MustCompile(`(?i)` + pattern)}
}

var defaultRuleSpecs = []struct {
	category types.FailureCategory
	patterns []string
}{
	{types.CategoryMissingDependency, []string{
		`ModuleNotFoundError: No module named ['"]([\w.]+)['"]`,
		`ImportError: cannot import name ['"](\w+)['"]`,
		`ERROR: Could not find a version that satisfies the requirement (\S+)`,
		`npm ERR! 404\s+'(\S+)' is not in the npm registry`,
		`Package ['"](\w+)['"] not found`,
	}},
	{types.CategoryTestTimeout, []string{
		`FAILED.*test_(\w+).*Timeout`,
		`pytest\.timeout\.Timeout`,
		`Test exceeded (\d+)s timeout`,
		`TimeoutError`,
	}},
	{types.CategoryTestFailure, []string{
		`AssertionError: (.+)`,
		`FAILED.*test_(\w+)`,
		"Error: Assertion `(.+)` failed",
		`Expected .+ but got .+`,
	}},
	{types.CategoryBuildFailure, []string{
		`Build step.*failed with exit code (\d+)`,
		`ERROR: Build failed`,
		`make: \*\*\* \[.*\] Error (\d+)`,
		`Compilation error`,
	}},
	{types.CategoryDeploymentCrash, []string{
		`Deployment.*crashed`,
		`CrashLoopBackOff`,
		`Error: Application failed to start`,
		`Health check failed`,
	}},
	{types.CategoryResourceLimit, []string{
		`OOMKilled`,
		`OutOfMemoryError`,
		`Resource limit exceeded`,
		`Disk space full`,
	}},
	{types.CategoryNetworkTimeout, []string{
		`Connection refused`,
		`Connection timeout`,
		`dial tcp.*timeout`,
		`Network is unreachable`,
	}},
	{types.CategorySyntaxError, []string{
		`SyntaxError: (.+)`,
		`IndentationError`,
		`invalid syntax`,
		`unexpected token`,
	}},
	{types.CategoryPermissionError, []string{
		`PermissionError`,
		`Permission denied`,
		`Access denied`,
		`Forbidden`,
	}},
	{types.CategoryConfigurationError, []string{
		`Configuration error`,
		`Invalid configuration`,
		`Missing required.*config`,
		`KeyError: ['"](\w+)['"]`,
	}},
}

// DefaultRules returns a fresh copy of the default ordered rule table.
func DefaultRules() []Rule {
	var rules []Rule
	for _, spec := range defaultRuleSpecs {
		for _, p := range spec.patterns {
			rules = append(rules, NewRule(spec.category, p))
		}
	}
	return rules
}

type categoryInfo struct {
	difficulty types.Difficulty
	strategy   types.StrategyID
	fixSeconds int
}

var categories = map[types.FailureCategory]categoryInfo{
	types.CategoryMissingDependency:  {types.DifficultyEasy, types.StrategyAddToManifest, 60},
	types.CategoryTestTimeout:        {types.DifficultyEasy, types.StrategyRaiseTimeout, 30},
	types.CategoryTestFailure:        {types.DifficultyMedium, types.StrategyNone, 120},
	types.CategoryBuildFailure:       {types.DifficultyMedium, types.StrategyCacheOrManual, 90},
	types.CategoryDeploymentCrash:    {types.DifficultyMedium, types.StrategyRollback, 180},
	types.CategoryResourceLimit:      {types.DifficultyEasy, types.StrategyRaiseLimits, 45},
	types.CategoryNetworkTimeout:     {types.DifficultyEasy, types.StrategyAddRetryDeps, 30},
	types.CategorySyntaxError:        {types.DifficultyHard, types.StrategyNone, 0},
	types.CategoryPermissionError:    {types.DifficultyHard, types.StrategyNone, 0},
	types.CategoryConfigurationError: {types.DifficultyMedium, types.StrategyNone, 60},
	types.CategoryUnknown:            {types.DifficultyHard, types.StrategyNone, 0},
}

// SeverityFor maps a category onto its fixed severity.
func SeverityFor(category types.FailureCategory) types.Severity {
	switch category {
	case types.CategoryDeploymentCrash, types.CategoryResourceLimit:
		return types.SeverityCritical
	case types.CategoryMissingDependency, types.CategoryBuildFailure:
		return types.SeverityHigh
	default:
		return types.SeverityMedium
	}
}

// StrategyFor returns the remediation strategy registered for a category, or
// StrategyNone.
func StrategyFor(category types.FailureCategory) types.StrategyID {
	if info, ok := categories[category]; ok {
		return info.strategy
	}
	return types.StrategyNone
}

// DifficultyFor returns the advisory healing difficulty of a category.
func DifficultyFor(category types.FailureCategory) types.Difficulty {
	if info, ok := categories[category]; ok {
		return info.difficulty
	}
	return types.DifficultyHard
}
