package tuning

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"talentai/learning/internal/classifier"
	"talentai/learning/internal/metrics"
	"talentai/learning/internal/models"

	"go.uber.org/zap"
)

// Deployment strategies
const (
	StrategyImmediate = "immediate"
	StrategyABTest    = "ab_test"
)

// HashScheme identifies the request bucketing function. Changing the hash
// requires a new scheme name so experiment assignment stays reproducible.
const HashScheme = "fnv1a32-v1"

const (
	defaultTrafficSplit = 0.1
	modelFileSuffix     = "_intent_model.json"
	vectorFileSuffix    = "_vectorizer.json"
)

var (
	ErrNoModelsAvailable = errors.New("no models available")
	ErrUnknownVersion    = errors.New("unknown model version")
	ErrNoStableVersion   = errors.New("no stable model versions available for rollback")
	ErrUnknownStrategy   = errors.New("unknown deployment strategy")
)

// VersionStore is the subset of the persistent store the manager needs.
type VersionStore interface {
	SaveModelVersion(ctx context.Context, mv *models.ModelVersion) (uint, error)
	RecordModelVersion(ctx context.Context, mv *models.ModelVersion) (uint, error)
	ActivateModelVersion(ctx context.Context, version string) (*models.ModelVersion, error)
	SetTrafficWeight(ctx context.Context, version string, weight int, startedAt time.Time) error
	ClearTrafficWeights(ctx context.Context) error
	ListModelVersions(ctx context.Context) ([]models.ModelVersion, error)
	FeedbackOutcomes(ctx context.Context, version string, since time.Time) (int64, int64, error)
}

type Options struct {
	// ArtifactDir holds models/ and backups/
	ArtifactDir  string
	Factory      classifier.Factory
	Loader       classifier.Loader
	TrafficSplit float64
	Logger       *zap.Logger
	// Now is overridden in tests
	Now func() time.Time
}

type registeredModel struct {
	classifier classifier.Classifier
	info       ModelInfo
}

type experiment struct {
	candidate string
	weight    int
	startedAt time.Time

	candidateRequests atomic.Int64
	controlRequests   atomic.Int64
}

// ModelManager owns the trained model versions, the active model and the
// single traffic-split experiment.
type ModelManager struct {
	store   VersionStore
	dir     string
	factory classifier.Factory
	loader  classifier.Loader
	logger  *zap.Logger
	now     func() time.Time

	// serializes deploy, rollback and experiment changes
	deployMu sync.Mutex

	mu           sync.RWMutex
	models       map[string]*registeredModel
	active       string
	experiment   *experiment
	trafficSplit float64
	lastVersion  string
}

// ModelStatus summarises the registry for status endpoints.
type ModelStatus struct {
	ActiveVersion     string            `json:"active_version,omitempty"`
	AvailableVersions []string          `json:"available_versions"`
	TotalModels       int               `json:"total_models"`
	ExperimentActive  bool              `json:"experiment_active"`
	Experiment        *ExperimentStatus `json:"experiment,omitempty"`
	TrafficSplit      float64           `json:"traffic_split"`
	HashScheme        string            `json:"hash_scheme"`
}

type ExperimentStatus struct {
	CandidateVersion  string    `json:"candidate_version"`
	ControlVersion    string    `json:"control_version"`
	TrafficWeight     int       `json:"traffic_weight"`
	StartedAt         time.Time `json:"started_at"`
	CandidateRequests int64     `json:"candidate_requests"`
	ControlRequests   int64     `json:"control_requests"`
}

// Performance is the accuracy of the currently active model, the input to
// ShouldDeployModel.
type Performance struct {
	Version  string  `json:"version"`
	Accuracy float64 `json:"accuracy"`
}

func NewModelManager(store VersionStore, opts Options) *ModelManager {
	if opts.Factory == nil {
		opts.Factory = classifier.NaiveBayesFactory
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TrafficSplit <= 0 || opts.TrafficSplit > 1 {
		opts.TrafficSplit = defaultTrafficSplit
	}
	return &ModelManager{
		store:        store,
		dir:          opts.ArtifactDir,
		factory:      opts.Factory,
		loader:       opts.Loader,
		logger:       opts.Logger,
		now:          opts.Now,
		models:       make(map[string]*registeredModel),
		trafficSplit: opts.TrafficSplit,
	}
}

// Load restores the registry, the active version and any running experiment
// from the store. Versions whose artifacts cannot be read are skipped.
func (m *ModelManager) Load(ctx context.Context) (int, error) {
	rows, err := m.store.ListModelVersions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load model versions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	loaded := 0
	for _, row := range rows {
		if row.Version > m.lastVersion {
			m.lastVersion = row.Version
		}
		if m.loader == nil {
			continue
		}
		clf, err := m.loader(row.ModelPath, row.VectorizerPath)
		if err != nil {
			m.logger.Warn("Skipping model version with unreadable artifacts",
				zap.String("version", row.Version), zap.Error(err))
			continue
		}
		m.models[row.Version] = &registeredModel{classifier: clf, info: infoFromRow(row)}
		loaded++
		if row.IsActive {
			m.active = row.Version
		}
	}

	for _, row := range rows {
		if row.TrafficWeight > 0 && m.active != "" {
			if _, ok := m.models[row.Version]; ok {
				startedAt := row.CreatedAt
				if row.DeployedAt != nil {
					startedAt = *row.DeployedAt
				}
				m.experiment = &experiment{
					candidate: row.Version,
					weight:    row.TrafficWeight,
					startedAt: startedAt,
				}
			}
		}
	}

	m.logger.Info("Loaded model registry",
		zap.Int("versions", loaded),
		zap.String("active", m.active),
		zap.Bool("experiment", m.experiment != nil))
	return loaded, nil
}

// Bootstrap trains and activates a first model when the registry is empty.
// It returns nil when a model already exists.
func (m *ModelManager) Bootstrap(ctx context.Context, examples []classifier.Example) (*ModelInfo, error) {
	m.mu.RLock()
	empty := len(m.models) == 0
	m.mu.RUnlock()
	if !empty {
		return nil, nil
	}

	info, err := m.TrainNewModel(ctx, examples, TrainOptions{Activate: true})
	if err != nil {
		return nil, fmt.Errorf("failed to bootstrap model: %w", err)
	}
	return info, nil
}

// Bucket maps a request ID to [0,100) using HashScheme.
func Bucket(requestID string) int {
	h := fnv.New32a()
	h.Write([]byte(requestID))
	return int(h.Sum32() % 100)
}

// GetModelForRequest picks the model that serves requestID. With a running
// experiment, requests whose bucket falls below the traffic weight go to the
// candidate. Without an active model the newest version is served.
func (m *ModelManager) GetModelForRequest(requestID string) (classifier.Classifier, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if exp := m.experiment; exp != nil && Bucket(requestID) < exp.weight {
		if rm, ok := m.models[exp.candidate]; ok {
			exp.candidateRequests.Add(1)
			metrics.IncExperimentRoute("candidate")
			return rm.classifier, exp.candidate, nil
		}
	}

	if rm, ok := m.models[m.active]; ok {
		if m.experiment != nil {
			m.experiment.controlRequests.Add(1)
			metrics.IncExperimentRoute("control")
		}
		return rm.classifier, m.active, nil
	}

	if latest := m.latestLocked(); latest != "" {
		return m.models[latest].classifier, latest, nil
	}
	return nil, "", ErrNoModelsAvailable
}

func (m *ModelManager) latestLocked() string {
	latest := ""
	for v := range m.models {
		if v > latest {
			latest = v
		}
	}
	return latest
}

// ActivePerformance returns the active model's validation accuracy, or nil
// before the first deployment.
func (m *ModelManager) ActivePerformance() *Performance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rm, ok := m.models[m.active]
	if !ok {
		return nil
	}
	return &Performance{Version: m.active, Accuracy: rm.info.ValidationAccuracy}
}

func (m *ModelManager) ActiveVersion() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Info returns the metadata of a registered version.
func (m *ModelManager) Info(version string) (ModelInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rm, ok := m.models[version]
	if !ok {
		return ModelInfo{}, false
	}
	return rm.info, true
}

// ListVersions returns registered versions, newest first.
func (m *ModelManager) ListVersions() []ModelInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ModelInfo, 0, len(m.models))
	for _, rm := range m.models {
		out = append(out, rm.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out
}

// SetTrafficSplit changes the fraction used by the next experiment.
func (m *ModelManager) SetTrafficSplit(split float64) {
	if split <= 0 || split > 1 {
		return
	}
	m.mu.Lock()
	m.trafficSplit = split
	m.mu.Unlock()
}

func (m *ModelManager) Status() ModelStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := make([]string, 0, len(m.models))
	for v := range m.models {
		versions = append(versions, v)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(versions)))

	status := ModelStatus{
		ActiveVersion:     m.active,
		AvailableVersions: versions,
		TotalModels:       len(m.models),
		ExperimentActive:  m.experiment != nil,
		TrafficSplit:      m.trafficSplit,
		HashScheme:        HashScheme,
	}
	if exp := m.experiment; exp != nil {
		status.Experiment = &ExperimentStatus{
			CandidateVersion:  exp.candidate,
			ControlVersion:    m.active,
			TrafficWeight:     exp.weight,
			StartedAt:         exp.startedAt,
			CandidateRequests: exp.candidateRequests.Load(),
			ControlRequests:   exp.controlRequests.Load(),
		}
	}
	return status
}

func (m *ModelManager) register(version string, clf classifier.Classifier, info ModelInfo) {
	m.mu.Lock()
	m.models[version] = &registeredModel{classifier: clf, info: info}
	m.mu.Unlock()
}

func (m *ModelManager) artifactPaths(version string) (string, string) {
	base := filepath.Join(m.dir, "models")
	return filepath.Join(base, version+modelFileSuffix), filepath.Join(base, version+vectorFileSuffix)
}

func infoFromRow(row models.ModelVersion) ModelInfo {
	return ModelInfo{
		Version:            row.Version,
		TrainingDataSize:   row.TrainingDataSize,
		ValidationAccuracy: row.ValidationAccuracy,
		TestAccuracy:       row.TestAccuracy,
		ModelPath:          row.ModelPath,
		VectorizerPath:     row.VectorizerPath,
		CreatedAt:          row.CreatedAt,
	}
}
