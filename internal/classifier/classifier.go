package classifier

import "talentai/learning/internal/models"

// Example is a labelled utterance used for fitting.
type Example struct {
	Text   string `json:"text"`
	Intent string `json:"intent"`
}

// Classifier is the capability the learning pipeline needs from a model.
// A fitted classifier must be safe for concurrent Predict calls.
type Classifier interface {
	Fit(examples []Example) error
	// Predict returns the top label and its probability mass.
	Predict(text string) (string, float64)
	// PredictAll returns the full label distribution.
	PredictAll(text string) map[string]float64
}

// Persister is implemented by classifiers that can write their artifacts.
type Persister interface {
	Save(modelPath, vectorizerPath string) error
}

// Factory builds an untrained classifier.
type Factory func() Classifier

// Loader restores a classifier from the artifacts written by a Persister.
type Loader func(modelPath, vectorizerPath string) (Classifier, error)

// FallbackIntent is returned for inputs with no usable tokens.
const FallbackIntent = models.FallbackIntent
