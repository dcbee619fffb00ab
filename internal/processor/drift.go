package processor

import "sort"

// Drift levels
const (
	DriftLow    = "low"
	DriftMedium = "medium"
	DriftHigh   = "high"
)

type IntentDrift struct {
	OriginalRatio float64 `json:"original_ratio"`
	RecentRatio   float64 `json:"recent_ratio"`
	DriftScore    float64 `json:"drift_score"`
	Trend         string  `json:"trend"` // increasing | decreasing | stable
}

// DriftReport compares the live intent distribution with the corpus.
type DriftReport struct {
	OverallDriftScore   float64                `json:"overall_drift_score"`
	DriftLevel          string                 `json:"drift_level"`
	IntentAnalysis      map[string]IntentDrift `json:"intent_analysis"`
	NewPotentialIntents []string               `json:"new_potential_intents"`
	SampleSize          int                    `json:"sample_size"`
}

// DetectIntentDrift scores each known intent by the absolute difference
// between its share of recent and its share of the corpus. The overall score
// is the mean over known intents.
func (p *Processor) DetectIntentDrift(recent []Pair) *DriftReport {
	recentCounts := make(map[string]int)
	for _, pair := range recent {
		recentCounts[pair.Intent]++
	}

	original := p.corpus.Distribution()
	total := len(recent)
	if total == 0 {
		total = 1
	}

	report := &DriftReport{
		IntentAnalysis:      make(map[string]IntentDrift),
		NewPotentialIntents: []string{},
		SampleSize:          len(recent),
	}

	known := p.corpus.Intents()
	var sum float64
	for _, intent := range known {
		orig := original[intent]
		rec := float64(recentCounts[intent]) / float64(total)
		d := rec - orig
		if d < 0 {
			d = -d
		}

		trend := "stable"
		if rec > orig {
			trend = "increasing"
		} else if rec < orig {
			trend = "decreasing"
		}

		report.IntentAnalysis[intent] = IntentDrift{
			OriginalRatio: orig,
			RecentRatio:   rec,
			DriftScore:    d,
			Trend:         trend,
		}
		sum += d
	}
	if len(known) > 0 {
		report.OverallDriftScore = sum / float64(len(known))
	}
	report.DriftLevel = driftLevel(report.OverallDriftScore)

	for intent := range recentCounts {
		if !p.corpus.Has(intent) {
			report.NewPotentialIntents = append(report.NewPotentialIntents, intent)
		}
	}
	sort.Strings(report.NewPotentialIntents)

	return report
}

func driftLevel(score float64) string {
	switch {
	case score >= 0.3:
		return DriftHigh
	case score >= 0.1:
		return DriftMedium
	default:
		return DriftLow
	}
}
