package tuning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"talentai/learning/internal/classifier"
	"talentai/learning/internal/metrics"
	"talentai/learning/internal/models"

	"go.uber.org/zap"
)

const (
	defaultValidationFraction = 0.2
	splitSeed                 = 42
	crossValidationFolds      = 5
	// cross-validation only runs above this many examples
	crossValidationMinExamples = 50
	lowConfidence              = 0.7
	highConfidence             = 0.8
)

var ErrInsufficientData = errors.New("insufficient training data")

type TrainOptions struct {
	// ValidationFraction defaults to 0.2
	ValidationFraction float64
	CrossValidation    bool
	// Activate stores the version as the active one in the same write.
	// Bootstrap uses it for the first model.
	Activate bool
}

// ModelInfo describes a trained version.
type ModelInfo struct {
	Version            string                  `json:"version"`
	TrainingDataSize   int                     `json:"training_data_size"`
	ValidationAccuracy float64                 `json:"validation_accuracy"`
	TestAccuracy       float64                 `json:"test_accuracy"`
	TrainingTime       float64                 `json:"training_time"` // seconds
	ModelPath          string                  `json:"model_path"`
	VectorizerPath     string                  `json:"vectorizer_path"`
	Validation         *ValidationResults      `json:"validation_results,omitempty"`
	CrossValidation    *CrossValidationResults `json:"cross_validation,omitempty"`
	CreatedAt          time.Time               `json:"created_at"`
}

type ClassReport struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1_score"`
	Support   int     `json:"support"`
}

type ValidationResults struct {
	Accuracy             float64                `json:"accuracy"`
	AverageConfidence    float64                `json:"average_confidence"`
	ConfidenceStd        float64                `json:"confidence_std"`
	ClassificationReport map[string]ClassReport `json:"classification_report"`
	Labels               []string               `json:"labels"`
	ConfusionMatrix      [][]int                `json:"confusion_matrix"`
	LowConfidenceCount   int                    `json:"low_confidence_count"`
	HighConfidenceCount  int                    `json:"high_confidence_count"`
	Samples              int                    `json:"samples"`
}

type CrossValidationResults struct {
	Scores []float64 `json:"cv_scores"`
	Mean   float64   `json:"cv_mean"`
	Std    float64   `json:"cv_std"`
	Folds  int       `json:"cv_folds"`
}

// TrainNewModel fits a candidate on a stratified split, validates it, writes
// its artifacts and records it as an inactive version.
func (m *ModelManager) TrainNewModel(ctx context.Context, examples []classifier.Example, opts TrainOptions) (*ModelInfo, error) {
	if len(examples) < 2 {
		return nil, fmt.Errorf("%w: got %d examples", ErrInsufficientData, len(examples))
	}
	fraction := opts.ValidationFraction
	if fraction <= 0 || fraction >= 1 {
		fraction = defaultValidationFraction
	}

	version := m.nextVersion()
	m.logger.Info("Training new model version",
		zap.String("version", version), zap.Int("examples", len(examples)))

	train, val := stratifiedSplit(examples, fraction, splitSeed)
	if len(val) == 0 || len(train) == 0 {
		return nil, fmt.Errorf("%w: validation split is empty", ErrInsufficientData)
	}

	start := time.Now()
	clf := m.factory()
	if err := clf.Fit(train); err != nil {
		return nil, fmt.Errorf("failed to fit model %s: %w", version, err)
	}
	trainingTime := time.Since(start).Seconds()

	validation := validate(clf, val)

	var cv *CrossValidationResults
	if opts.CrossValidation && len(examples) > crossValidationMinExamples {
		cv = m.crossValidate(examples)
	}

	modelPath, vecPath := m.artifactPaths(version)
	if p, ok := clf.(classifier.Persister); ok {
		if err := os.MkdirAll(filepath.Dir(modelPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create model directory: %w", err)
		}
		if err := p.Save(modelPath, vecPath); err != nil {
			return nil, fmt.Errorf("failed to save model %s: %w", version, err)
		}
	}

	info := ModelInfo{
		Version:            version,
		TrainingDataSize:   len(examples),
		ValidationAccuracy: validation.Accuracy,
		TrainingTime:       trainingTime,
		ModelPath:          modelPath,
		VectorizerPath:     vecPath,
		Validation:         validation,
		CrossValidation:    cv,
	}
	if cv != nil {
		info.TestAccuracy = cv.Mean
	}

	row := &models.ModelVersion{
		Version:            version,
		ModelPath:          modelPath,
		VectorizerPath:     vecPath,
		TrainingDataSize:   len(examples),
		ValidationAccuracy: validation.Accuracy,
		TestAccuracy:       info.TestAccuracy,
		TrainingConfig: models.JSONMap{
			"validation_split": fraction,
			"cross_validation": opts.CrossValidation,
			"training_time":    trainingTime,
			"split_seed":       splitSeed,
		},
		PerformanceMetrics: toJSONMap(validation),
	}
	if opts.Activate {
		if _, err := m.store.SaveModelVersion(ctx, row); err != nil {
			return nil, err
		}
	} else if _, err := m.store.RecordModelVersion(ctx, row); err != nil {
		return nil, err
	}
	info.CreatedAt = row.CreatedAt

	m.register(version, clf, info)
	if opts.Activate {
		m.mu.Lock()
		m.active = version
		m.experiment = nil
		m.mu.Unlock()
		metrics.IncDeployment(StrategyImmediate)
		metrics.SetValidationAccuracy(validation.Accuracy)
	}
	m.logger.Info("Model trained",
		zap.String("version", version),
		zap.Float64("validation_accuracy", validation.Accuracy),
		zap.Float64("training_time", trainingTime))
	return &info, nil
}

// nextVersion derives a version from the clock, bumped by a millisecond when
// needed so versions stay strictly increasing.
func (m *ModelManager) nextVersion() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.now()
	v := formatVersion(t)
	for v <= m.lastVersion {
		t = t.Add(time.Millisecond)
		v = formatVersion(t)
	}
	m.lastVersion = v
	return v
}

func formatVersion(t time.Time) string {
	return "v" + strings.Replace(t.Format("20060102_150405.000"), ".", "_", 1)
}

// stratifiedSplit holds out fraction of every label with at least two
// examples. Labels with one example stay in the training split.
func stratifiedSplit(examples []classifier.Example, fraction float64, seed int64) (train, val []classifier.Example) {
	rng := rand.New(rand.NewSource(seed))
	byLabel := groupByLabel(examples)

	for _, label := range sortedKeys(byLabel) {
		idx := byLabel[label]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		n := 0
		if len(idx) >= 2 {
			n = int(math.Round(float64(len(idx)) * fraction))
			if n < 1 {
				n = 1
			}
			if n >= len(idx) {
				n = len(idx) - 1
			}
		}
		for k, i := range idx {
			if k < n {
				val = append(val, examples[i])
			} else {
				train = append(train, examples[i])
			}
		}
	}
	return train, val
}

// stratifiedFolds deals each label's shuffled examples round-robin into k folds.
func stratifiedFolds(examples []classifier.Example, k int, seed int64) [][]int {
	rng := rand.New(rand.NewSource(seed))
	byLabel := groupByLabel(examples)
	folds := make([][]int, k)
	next := 0
	for _, label := range sortedKeys(byLabel) {
		idx := byLabel[label]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for _, i := range idx {
			folds[next%k] = append(folds[next%k], i)
			next++
		}
	}
	return folds
}

func groupByLabel(examples []classifier.Example) map[string][]int {
	byLabel := make(map[string][]int)
	for i, ex := range examples {
		byLabel[ex.Intent] = append(byLabel[ex.Intent], i)
	}
	return byLabel
}

func sortedKeys(m map[string][]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func validate(clf classifier.Classifier, val []classifier.Example) *ValidationResults {
	labelSet := make(map[string]struct{})
	predictions := make([]string, len(val))
	confidences := make([]float64, len(val))
	correct := 0
	res := &ValidationResults{Samples: len(val)}

	for i, ex := range val {
		intent, conf := clf.Predict(ex.Text)
		predictions[i] = intent
		confidences[i] = conf
		labelSet[ex.Intent] = struct{}{}
		labelSet[intent] = struct{}{}
		if intent == ex.Intent {
			correct++
		}
		if conf < lowConfidence {
			res.LowConfidenceCount++
		}
		if conf >= highConfidence {
			res.HighConfidenceCount++
		}
	}

	res.Accuracy = float64(correct) / float64(len(val))
	res.AverageConfidence, res.ConfidenceStd = meanStd(confidences)

	for l := range labelSet {
		res.Labels = append(res.Labels, l)
	}
	sort.Strings(res.Labels)
	pos := make(map[string]int, len(res.Labels))
	for i, l := range res.Labels {
		pos[l] = i
	}

	res.ConfusionMatrix = make([][]int, len(res.Labels))
	for i := range res.ConfusionMatrix {
		res.ConfusionMatrix[i] = make([]int, len(res.Labels))
	}
	for i, ex := range val {
		res.ConfusionMatrix[pos[ex.Intent]][pos[predictions[i]]]++
	}

	res.ClassificationReport = make(map[string]ClassReport, len(res.Labels))
	for i, l := range res.Labels {
		tp := res.ConfusionMatrix[i][i]
		var predicted, actual int
		for j := range res.Labels {
			predicted += res.ConfusionMatrix[j][i]
			actual += res.ConfusionMatrix[i][j]
		}
		r := ClassReport{Support: actual}
		if predicted > 0 {
			r.Precision = float64(tp) / float64(predicted)
		}
		if actual > 0 {
			r.Recall = float64(tp) / float64(actual)
		}
		if r.Precision+r.Recall > 0 {
			r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
		}
		res.ClassificationReport[l] = r
	}
	return res
}

func (m *ModelManager) crossValidate(examples []classifier.Example) *CrossValidationResults {
	folds := stratifiedFolds(examples, crossValidationFolds, splitSeed)
	res := &CrossValidationResults{Folds: crossValidationFolds}

	for f, held := range folds {
		if len(held) == 0 {
			continue
		}
		heldSet := make(map[int]struct{}, len(held))
		for _, i := range held {
			heldSet[i] = struct{}{}
		}
		var train, test []classifier.Example
		for i, ex := range examples {
			if _, ok := heldSet[i]; ok {
				test = append(test, ex)
			} else {
				train = append(train, ex)
			}
		}

		clf := m.factory()
		if err := clf.Fit(train); err != nil {
			m.logger.Warn("Cross-validation fold failed", zap.Int("fold", f), zap.Error(err))
			continue
		}
		correct := 0
		for _, ex := range test {
			if intent, _ := clf.Predict(ex.Text); intent == ex.Intent {
				correct++
			}
		}
		res.Scores = append(res.Scores, float64(correct)/float64(len(test)))
	}

	if len(res.Scores) == 0 {
		return nil
	}
	res.Mean, res.Std = meanStd(res.Scores)
	return res
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

func toJSONMap(v interface{}) models.JSONMap {
	b, err := json.Marshal(v)
	if err != nil {
		return models.JSONMap{}
	}
	out := models.JSONMap{}
	if err := json.Unmarshal(b, &out); err != nil {
		return models.JSONMap{}
	}
	return out
}
