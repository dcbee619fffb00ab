package classifier

import (
	"math"
	"sort"
	"strings"
)

// SparseVector maps a vocabulary index to its weight.
type SparseVector map[int]float64

// VectorizerOptions controls tokenisation and vocabulary size.
type VectorizerOptions struct {
	MaxFeatures int  `json:"max_features"` // 0 keeps every term
	NGramMax    int  `json:"ngram_max"`    // 1 = unigrams, 2 = unigrams and bigrams
	StopWords   bool `json:"stop_words"`
}

// Vectorizer turns text into l2-normalised TF-IDF vectors. It is read-only
// once fitted and safe for concurrent Transform calls.
type Vectorizer struct {
	Options    VectorizerOptions `json:"options"`
	Vocabulary map[string]int    `json:"vocabulary"`
	IDF        []float64         `json:"idf"`
}

func NewVectorizer(opts VectorizerOptions) *Vectorizer {
	if opts.NGramMax < 1 {
		opts.NGramMax = 1
	}
	return &Vectorizer{Options: opts}
}

// Analyze returns the terms of text: tokens, then n-grams up to NGramMax.
func (v *Vectorizer) Analyze(text string) []string {
	var tokens []string
	if v.Options.StopWords {
		tokens = ContentTokens(text)
	} else {
		tokens = Tokenize(text)
	}

	terms := append([]string(nil), tokens...)
	for n := 2; n <= v.Options.NGramMax; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			terms = append(terms, strings.Join(tokens[i:i+n], " "))
		}
	}
	return terms
}

// Fit learns the vocabulary and smoothed inverse document frequencies.
func (v *Vectorizer) Fit(docs []string) {
	df := make(map[string]int)
	tf := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool)
		for _, term := range v.Analyze(doc) {
			tf[term]++
			if !seen[term] {
				seen[term] = true
				df[term]++
			}
		}
	}

	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}

	if v.Options.MaxFeatures > 0 && len(terms) > v.Options.MaxFeatures {
		sort.Slice(terms, func(i, j int) bool {
			if tf[terms[i]] != tf[terms[j]] {
				return tf[terms[i]] > tf[terms[j]]
			}
			return terms[i] < terms[j]
		})
		terms = terms[:v.Options.MaxFeatures]
	}
	sort.Strings(terms)

	n := float64(len(docs))
	v.Vocabulary = make(map[string]int, len(terms))
	v.IDF = make([]float64, len(terms))
	for i, term := range terms {
		v.Vocabulary[term] = i
		v.IDF[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}
}

// Transform vectorises text against the fitted vocabulary. Unknown terms are
// ignored, so the result may be empty.
func (v *Vectorizer) Transform(text string) SparseVector {
	vec := make(SparseVector)
	for _, term := range v.Analyze(text) {
		if idx, ok := v.Vocabulary[term]; ok {
			vec[idx]++
		}
	}

	var norm float64
	for idx, count := range vec {
		w := count * v.IDF[idx]
		vec[idx] = w
		norm += w * w
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for idx := range vec {
			vec[idx] /= norm
		}
	}
	return vec
}

func (v *Vectorizer) FitTransform(docs []string) []SparseVector {
	v.Fit(docs)
	out := make([]SparseVector, len(docs))
	for i, doc := range docs {
		out[i] = v.Transform(doc)
	}
	return out
}

// Size is the number of vocabulary terms.
func (v *Vectorizer) Size() int {
	return len(v.Vocabulary)
}

// Cosine returns the cosine similarity of a and b, 0 when either is empty.
func Cosine(a, b SparseVector) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}

	var dot, na, nb float64
	for idx, w := range a {
		dot += w * b[idx]
		na += w * w
	}
	for _, w := range b {
		nb += w * w
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
