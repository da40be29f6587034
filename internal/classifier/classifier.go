// Package classifier maps raw CI failure logs onto a closed set of failure
// categories using an ordered, first-match rule table.
package classifier

import (
	"github.com/dwsmith1983/pipemedic/pkg/types"
)

const unknownMessage = "no known failure pattern matched"

// Classifier evaluates an immutable ordered rule table. It holds no mutable
// state and is safe for concurrent use.
type Classifier struct {
	rules []Rule
}

// New creates a Classifier over the given rules, evaluated in slice order.
// A nil or empty slice selects DefaultRules.
func New(rules []Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	return &Classifier{rules: cp}
}

var defaultClassifier = New(nil)

// Classify classifies a log with the default rule table.
func Classify(log string) types.Classification {
	return defaultClassifier.Classify(log)
}

// Rules returns a copy of the classifier's rule table.
func (c *Classifier) Rules() []Rule {
	cp := make([]Rule, len(c.rules))
	copy(cp, c.rules)
	return cp
}

// Classify returns the classification from the first rule whose pattern
// matches the log. When nothing matches the category is unknown, which is a
// normal result rather than an error.
func (c *Classifier) Classify(log string) types.Classification {
	stack := ExtractStackTrace(log)

	for i, rule := range c.rules {
		loc := rule.Pattern.FindStringSubmatchIndex(log)
		if loc == nil {
			continue
		}
		matched := log[loc[0]:loc[1]]
		var groups []string
		for g := 2; g+1 < len(loc); g += 2 {
			if loc[g] >= 0 {
				groups = append(groups, log[loc[g]:loc[g+1]])
			}
		}

		cl := newClassification(rule.Category)
		cl.Message = matched
		cl.MatchedText = matched
		cl.Line = lineAround(log, loc[0], loc[1])
		cl.Groups = groups
		cl.StackTrace = stack
		cl.RuleIndex = i

		switch rule.Category {
		case types.CategoryMissingDependency:
			cl.Package = ExtractPackage(log)
		case types.CategoryTestTimeout, types.CategoryTestFailure:
			cl.TestName = ExtractTestName(log)
		}
		return cl
	}

	cl := newClassification(types.CategoryUnknown)
	cl.Message = unknownMessage
	cl.StackTrace = stack
	cl.RuleIndex = -1
	return cl
}

func newClassification(category types.FailureCategory) types.Classification {
	info := categories[category]
	strategy := StrategyFor(category)
	return types.Classification{
		Category:            category,
		Severity:            SeverityFor(category),
		Difficulty:          DifficultyFor(category),
		Strategy:            strategy,
		Fixable:             category != types.CategoryUnknown && strategy != types.StrategyNone,
		EstimatedFixSeconds: info.fixSeconds,
	}
}

// PromoteFlaky turns a test failure into a fixable flaky-test classification.
// Other categories are returned unchanged.
func PromoteFlaky(cl types.Classification) types.Classification {
	if cl.Category != types.CategoryTestFailure {
		return cl
	}
	cl.Strategy = types.StrategyAddRetryPolicy
	cl.Fixable = true
	cl.Difficulty = types.DifficultyEasy
	return cl
}
