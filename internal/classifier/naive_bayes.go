package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
)

const defaultAlpha = 0.1

var (
	ErrNoExamples = errors.New("no training examples")
	ErrNotFitted  = errors.New("classifier not fitted")
)

// DefaultVectorizerOptions mirrors the features the intent model is trained on.
var DefaultVectorizerOptions = VectorizerOptions{
	MaxFeatures: 5000,
	NGramMax:    2,
	StopWords:   true,
}

// NaiveBayes is a multinomial naive Bayes model over TF-IDF features.
type NaiveBayes struct {
	Alpha          float64     `json:"alpha"`
	Classes        []string    `json:"classes"`
	ClassLogPrior  []float64   `json:"class_log_prior"`
	FeatureLogProb [][]float64 `json:"feature_log_prob"`

	vectorizer *Vectorizer
}

var (
	_ Classifier = (*NaiveBayes)(nil)
	_ Persister  = (*NaiveBayes)(nil)
)

func NewNaiveBayes() *NaiveBayes {
	return &NaiveBayes{
		Alpha:      defaultAlpha,
		vectorizer: NewVectorizer(DefaultVectorizerOptions),
	}
}

// NaiveBayesFactory is the default Factory.
func NaiveBayesFactory() Classifier {
	return NewNaiveBayes()
}

func (nb *NaiveBayes) Fit(examples []Example) error {
	if len(examples) == 0 {
		return ErrNoExamples
	}

	texts := make([]string, len(examples))
	for i, ex := range examples {
		texts[i] = ex.Text
	}
	vectors := nb.vectorizer.FitTransform(texts)

	classIndex := make(map[string]int)
	var classes []string
	for _, ex := range examples {
		if _, ok := classIndex[ex.Intent]; !ok {
			classIndex[ex.Intent] = 0
			classes = append(classes, ex.Intent)
		}
	}
	sort.Strings(classes)
	for i, c := range classes {
		classIndex[c] = i
	}

	vocab := nb.vectorizer.Size()
	counts := make([]float64, len(classes))
	featureCounts := make([][]float64, len(classes))
	for i := range featureCounts {
		featureCounts[i] = make([]float64, vocab)
	}
	for i, ex := range examples {
		c := classIndex[ex.Intent]
		counts[c]++
		for idx, w := range vectors[i] {
			featureCounts[c][idx] += w
		}
	}

	nb.Classes = classes
	nb.ClassLogPrior = make([]float64, len(classes))
	nb.FeatureLogProb = make([][]float64, len(classes))
	total := float64(len(examples))
	for c := range classes {
		nb.ClassLogPrior[c] = math.Log(counts[c] / total)

		var sum float64
		for _, v := range featureCounts[c] {
			sum += v
		}
		denom := sum + nb.Alpha*float64(vocab)
		row := make([]float64, vocab)
		for idx, v := range featureCounts[c] {
			row[idx] = math.Log((v + nb.Alpha) / denom)
		}
		nb.FeatureLogProb[c] = row
	}
	return nil
}

// PredictAll returns the posterior over every class. Inputs without any known
// term return an empty distribution.
func (nb *NaiveBayes) PredictAll(text string) map[string]float64 {
	dist := make(map[string]float64)
	if len(nb.Classes) == 0 || nb.vectorizer == nil {
		return dist
	}

	x := nb.vectorizer.Transform(text)
	if len(x) == 0 {
		return dist
	}

	jll := make([]float64, len(nb.Classes))
	maxLL := math.Inf(-1)
	for c := range nb.Classes {
		ll := nb.ClassLogPrior[c]
		for idx, w := range x {
			ll += w * nb.FeatureLogProb[c][idx]
		}
		jll[c] = ll
		if ll > maxLL {
			maxLL = ll
		}
	}

	var z float64
	for c := range jll {
		jll[c] = math.Exp(jll[c] - maxLL)
		z += jll[c]
	}
	for c, name := range nb.Classes {
		dist[name] = jll[c] / z
	}
	return dist
}

func (nb *NaiveBayes) Predict(text string) (string, float64) {
	dist := nb.PredictAll(text)
	best, bestP := FallbackIntent, 0.0
	for _, c := range nb.Classes {
		if p, ok := dist[c]; ok && p > bestP {
			best, bestP = c, p
		}
	}
	return best, bestP
}

// Save writes the model and its vectorizer as JSON artifacts.
func (nb *NaiveBayes) Save(modelPath, vectorizerPath string) error {
	if len(nb.Classes) == 0 {
		return ErrNotFitted
	}
	if err := writeJSON(modelPath, nb); err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}
	if err := writeJSON(vectorizerPath, nb.vectorizer); err != nil {
		return fmt.Errorf("failed to save vectorizer: %w", err)
	}
	return nil
}

// LoadNaiveBayes restores a model written by Save.
func LoadNaiveBayes(modelPath, vectorizerPath string) (Classifier, error) {
	nb := &NaiveBayes{}
	if err := readJSON(modelPath, nb); err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}
	vec := &Vectorizer{}
	if err := readJSON(vectorizerPath, vec); err != nil {
		return nil, fmt.Errorf("failed to load vectorizer: %w", err)
	}
	if len(nb.FeatureLogProb) != len(nb.Classes) || len(vec.IDF) != len(vec.Vocabulary) {
		return nil, fmt.Errorf("corrupt model artifacts at %s", modelPath)
	}
	nb.vectorizer = vec
	return nb, nil
}

func writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
