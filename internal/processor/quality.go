package processor

import (
	"strings"
	"unicode/utf8"

	"talentai/learning/internal/classifier"
	"talentai/learning/internal/models"
)

const similarityMaxFeatures = 1000

// CalculateQualityScore estimates how informative and non-redundant a
// training example is. Every failed check multiplies the score by a penalty
// factor; the result is clamped to [0,1].
func (p *Processor) CalculateQualityScore(text, intent string) float64 {
	score := 1.0
	trimmed := strings.TrimSpace(text)

	switch n := utf8.RuneCountInString(trimmed); {
	case n < 3:
		score *= 0.1
	case n < 5:
		score *= 0.5
	case n > 200:
		score *= 0.7
	}

	if len(classifier.Words(text)) == 0 {
		score *= 0.1
	}

	if distinctWords(text) < 2 {
		score *= 0.3
	}

	if !p.corpus.Has(intent) {
		score *= 0.2
	}

	if len(classifier.ContentTokens(text)) == 0 {
		score *= 0.1
	}

	if !hasSentence(trimmed) {
		score *= 0.5
	}

	score *= 1 - p.similarityPenalty(text, intent)

	return models.ClampUnit(score)
}

func distinctWords(text string) int {
	seen := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		seen[w] = struct{}{}
	}
	return len(seen)
}

// a sentence needs at least one word of two or more letters
func hasSentence(text string) bool {
	for _, w := range classifier.Words(text) {
		if len(w) >= 2 {
			return true
		}
	}
	return false
}

// similarityPenalty compares text to the corpus examples of the same intent.
// 0.8 above 0.9 cosine similarity, 0.4 above 0.7, otherwise none.
func (p *Processor) similarityPenalty(text, intent string) float64 {
	examples := p.corpus.ExamplesFor(intent)
	if len(examples) == 0 {
		return 0
	}

	v := classifier.NewVectorizer(classifier.VectorizerOptions{
		MaxFeatures: similarityMaxFeatures,
		NGramMax:    1,
		StopWords:   true,
	})
	vectors := v.FitTransform(append(examples, text))
	target := vectors[len(vectors)-1]

	maxSim := 0.0
	for _, vec := range vectors[:len(vectors)-1] {
		if sim := classifier.Cosine(target, vec); sim > maxSim {
			maxSim = sim
		}
	}

	switch {
	case maxSim > 0.9:
		return 0.8
	case maxSim > 0.7:
		return 0.4
	default:
		return 0
	}
}
