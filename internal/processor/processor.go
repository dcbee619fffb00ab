package processor

import (
	"sort"

	"talentai/learning/internal/classifier"
	"talentai/learning/internal/corpus"
	"talentai/learning/internal/models"

	"go.uber.org/zap"
)

const (
	// minimum quality for a conversation example to be kept at all
	minValidatedScore = 0.5
	// intents missing from the corpus need this score to be added
	newIntentMinScore  = 0.8
	newIntentMaxAdded  = 10
	minAddedPerIntent  = 5
	lowAverageQuality  = 0.7
	minCoverageSamples = 3
	overrepresentation = 0.4
	lowLiveAccuracy    = 0.8
)

// Pair is a raw (text, intent) candidate, optionally tied to the conversation
// it came from.
type Pair struct {
	Text           string `json:"text"`
	Intent         string `json:"intent"`
	ConversationID uint   `json:"conversation_id,omitempty"`
}

// Example is a training example with its provenance and quality score.
type Example struct {
	Text           string  `json:"text"`
	Intent         string  `json:"intent"`
	Source         string  `json:"source"`
	QualityScore   float64 `json:"quality_score"`
	ConversationID uint    `json:"conversation_id,omitempty"`
}

// Prepared is the outcome of PrepareTrainingData.
type Prepared struct {
	Examples  []Example `json:"examples"`
	Validated []Example `json:"validated"`
	Rejected  []Example `json:"rejected"`
}

// ClassifierExamples strips provenance for fitting.
func (p *Prepared) ClassifierExamples() []classifier.Example {
	out := make([]classifier.Example, len(p.Examples))
	for i, ex := range p.Examples {
		out[i] = classifier.Example{Text: ex.Text, Intent: ex.Intent}
	}
	return out
}

// Processor scores conversation data against the original corpus and
// assembles training sets. It holds no mutable state.
type Processor struct {
	corpus   *corpus.Corpus
	original []Example
	logger   *zap.Logger
}

func New(c *corpus.Corpus, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	var original []Example
	for _, ex := range c.Examples() {
		original = append(original, Example{
			Text:         ex.Text,
			Intent:       ex.Intent,
			Source:       models.SourceOriginal,
			QualityScore: 1,
		})
	}
	return &Processor{corpus: c, original: original, logger: logger}
}

// Original returns a copy of the original corpus examples.
func (p *Processor) Original() []Example {
	return append([]Example(nil), p.original...)
}

// ValidateConversationData scores every pair and keeps those scoring at
// least 0.5.
func (p *Processor) ValidateConversationData(pairs []Pair) []Example {
	validated, _ := p.score(pairs)
	p.logger.Info("Validated conversation examples",
		zap.Int("kept", len(validated)),
		zap.Int("total", len(pairs)))
	return validated
}

func (p *Processor) score(pairs []Pair) (kept, rejected []Example) {
	for _, pair := range pairs {
		ex := Example{
			Text:           pair.Text,
			Intent:         pair.Intent,
			Source:         models.SourceConversation,
			QualityScore:   p.CalculateQualityScore(pair.Text, pair.Intent),
			ConversationID: pair.ConversationID,
		}
		if ex.QualityScore >= minValidatedScore {
			kept = append(kept, ex)
		} else {
			rejected = append(rejected, ex)
		}
	}
	return kept, rejected
}

// BalanceTrainingData adds conversation examples to original without letting
// any intent's conversational data swamp it. An intent present in original
// gains at most max(count/2, 5) examples, best first. An intent absent from
// original gains at most 10, and only examples scoring 0.8 or more.
func (p *Processor) BalanceTrainingData(original, scored []Example) []Example {
	originalCounts := make(map[string]int)
	var originalOrder []string
	for _, ex := range original {
		if originalCounts[ex.Intent] == 0 {
			originalOrder = append(originalOrder, ex.Intent)
		}
		originalCounts[ex.Intent]++
	}

	byIntent := make(map[string][]Example)
	var scoredOrder []string
	for _, ex := range scored {
		if _, ok := byIntent[ex.Intent]; !ok {
			scoredOrder = append(scoredOrder, ex.Intent)
		}
		byIntent[ex.Intent] = append(byIntent[ex.Intent], ex)
	}

	balanced := append([]Example(nil), original...)

	for _, intent := range originalOrder {
		limit := originalCounts[intent] / 2
		if limit < minAddedPerIntent {
			limit = minAddedPerIntent
		}
		candidates := append([]Example(nil), byIntent[intent]...)
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].QualityScore > candidates[j].QualityScore
		})
		if len(candidates) > limit {
			candidates = candidates[:limit]
		}
		balanced = append(balanced, candidates...)
	}

	for _, intent := range scoredOrder {
		if originalCounts[intent] > 0 {
			continue
		}
		added := 0
		for _, ex := range byIntent[intent] {
			if added >= newIntentMaxAdded {
				break
			}
			if ex.QualityScore >= newIntentMinScore {
				balanced = append(balanced, ex)
				added++
			}
		}
	}

	p.logger.Info("Balanced training data", zap.Int("total", len(balanced)))
	return balanced
}

// PrepareTrainingData validates pairs, optionally adds the original corpus
// and balances, then drops exact (text, intent) duplicates.
func (p *Processor) PrepareTrainingData(pairs []Pair, includeOriginal, balance bool) *Prepared {
	validated, rejected := p.score(pairs)

	var base []Example
	if includeOriginal {
		base = p.Original()
	}

	var combined []Example
	if balance {
		combined = p.BalanceTrainingData(base, validated)
	} else {
		combined = append(base, validated...)
	}

	type key struct{ text, intent string }
	seen := make(map[key]bool, len(combined))
	final := make([]Example, 0, len(combined))
	for _, ex := range combined {
		k := key{ex.Text, ex.Intent}
		if seen[k] {
			continue
		}
		seen[k] = true
		final = append(final, ex)
	}

	p.logger.Info("Prepared training data",
		zap.Int("examples", len(final)),
		zap.Int("original", len(base)),
		zap.Int("validated", len(validated)),
		zap.Int("rejected", len(rejected)))

	return &Prepared{Examples: final, Validated: validated, Rejected: rejected}
}
