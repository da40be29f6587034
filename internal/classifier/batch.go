package classifier

import (
	"sort"

	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// MostCommonLimit is how many categories BatchReport.MostCommon holds.
const MostCommonLimit = 5

// CategoryStats is one row of a batch distribution.
type CategoryStats struct {
	Count      int              `json:"count"`
	Percentage float64          `json:"percentage"`
	Difficulty types.Difficulty `json:"difficulty"`
}

// CategoryCount pairs a category with its frequency.
type CategoryCount struct {
	Category types.FailureCategory `json:"category"`
	Count    int                   `json:"count"`
}

// BatchReport aggregates classifications over a set of logs.
type BatchReport struct {
	Total           int                                     `json:"totalFailures"`
	Distribution    map[types.FailureCategory]CategoryStats `json:"distribution"`
	MostCommon      []CategoryCount                         `json:"mostCommon"`
	Classifications []types.Classification                  `json:"classifications"`
}

// AnalyzeBatch classifies each log and reports counts, percentages and the
// most frequent categories. Ties are broken by category declaration order.
func (c *Classifier) AnalyzeBatch(logs []string) BatchReport {
	report := BatchReport{
		Total:        len(logs),
		Distribution: make(map[types.FailureCategory]CategoryStats),
	}
	counts := make(map[types.FailureCategory]int)
	for _, l := range logs {
		cl := c.Classify(l)
		counts[cl.Category]++
		report.Classifications = append(report.Classifications, cl)
	}

	for cat, n := range counts {
		report.Distribution[cat] = CategoryStats{
			Count:      n,
			Percentage: float64(n) / float64(len(logs)) * 100,
			Difficulty: DifficultyFor(cat),
		}
	}

	order := make(map[types.FailureCategory]int, len(types.Categories))
	for i, cat := range types.Categories {
		order[cat] = i
	}
	for cat, n := range counts {
		report.MostCommon = append(report.MostCommon, CategoryCount{Category: cat, Count: n})
	}
	sort.Slice(report.MostCommon, func(i, j int) bool {
		a, b := report.MostCommon[i], report.MostCommon[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return order[a.Category] < order[b.Category]
	})
	if len(report.MostCommon) > MostCommonLimit {
		report.MostCommon = report.MostCommon[:MostCommonLimit]
	}
	return report
}

// AnalyzeBatch runs a batch analysis with the default rule table.
func AnalyzeBatch(logs []string) BatchReport {
	return defaultClassifier.AnalyzeBatch(logs)
}
