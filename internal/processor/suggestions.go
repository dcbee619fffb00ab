package processor

import (
	"fmt"
	"sort"

	"talentai/learning/internal/store"
)

type Suggestion struct {
	Intent         string `json:"intent,omitempty"`
	Issue          string `json:"issue"`
	Description    string `json:"description,omitempty"`
	Recommendation string `json:"recommendation"`
}

// Suggestions groups data-quality findings by kind.
type Suggestions struct {
	DataQuality   []Suggestion `json:"data_quality"`
	CoverageGaps  []Suggestion `json:"coverage_gaps"`
	BalanceIssues []Suggestion `json:"balance_issues"`
	NewPatterns   []Suggestion `json:"new_patterns"`
	Performance   []Suggestion `json:"performance"`
}

// Empty reports whether no finding was raised.
func (s *Suggestions) Empty() bool {
	return len(s.DataQuality)+len(s.CoverageGaps)+len(s.BalanceIssues)+len(s.NewPatterns)+len(s.Performance) == 0
}

// SuggestTrainingImprovements flags low average quality, known intents with
// fewer than three conversation examples, and intents making up more than
// 40% of the conversation data. perf may be nil.
func (p *Processor) SuggestTrainingImprovements(scored []Example, perf *store.PerformanceMetrics) *Suggestions {
	s := &Suggestions{
		DataQuality:   []Suggestion{},
		CoverageGaps:  []Suggestion{},
		BalanceIssues: []Suggestion{},
		NewPatterns:   []Suggestion{},
		Performance:   []Suggestion{},
	}

	var avg float64
	counts := make(map[string]int)
	for _, ex := range scored {
		avg += ex.QualityScore
		counts[ex.Intent]++
	}
	if len(scored) > 0 {
		avg /= float64(len(scored))
	}

	if avg < lowAverageQuality {
		s.DataQuality = append(s.DataQuality, Suggestion{
			Issue:          "Low average quality",
			Description:    fmt.Sprintf("Average quality score is %.2f", avg),
			Recommendation: "Review feedback collection and add more validation",
		})
	}

	for _, intent := range p.corpus.Intents() {
		switch n := counts[intent]; {
		case n == 0:
			s.CoverageGaps = append(s.CoverageGaps, Suggestion{
				Intent:         intent,
				Issue:          "No conversation examples",
				Recommendation: "Encourage users to test this intent",
			})
		case n < minCoverageSamples:
			s.CoverageGaps = append(s.CoverageGaps, Suggestion{
				Intent:         intent,
				Issue:          fmt.Sprintf("Only %d examples", n),
				Recommendation: "Need more diverse examples for this intent",
			})
		}
	}

	intents := make([]string, 0, len(counts))
	for intent := range counts {
		intents = append(intents, intent)
	}
	sort.Strings(intents)

	for _, intent := range intents {
		ratio := float64(counts[intent]) / float64(len(scored))
		if ratio > overrepresentation {
			s.BalanceIssues = append(s.BalanceIssues, Suggestion{
				Intent:         intent,
				Issue:          fmt.Sprintf("Overrepresented (%.1f%%)", ratio*100),
				Recommendation: "Consider reducing weight or increasing other intents",
			})
		}
		if !p.corpus.Has(intent) {
			s.NewPatterns = append(s.NewPatterns, Suggestion{
				Intent:         intent,
				Issue:          fmt.Sprintf("Unknown intent with %d examples", counts[intent]),
				Recommendation: "Consider adding this intent to the corpus",
			})
		}
	}

	if perf != nil && perf.Accuracy != nil && *perf.Accuracy < lowLiveAccuracy {
		s.Performance = append(s.Performance, Suggestion{
			Issue:          "Low accuracy on corrected predictions",
			Description:    fmt.Sprintf("%.1f%% of %d corrected predictions were right", *perf.Accuracy*100, perf.CorrectedCount),
			Recommendation: "Review the most frequently corrected intents",
		})
	}

	return s
}
