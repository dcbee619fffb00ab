package learning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"talentai/learning/internal/cache"
	"talentai/learning/internal/classifier"
	"talentai/learning/internal/config"
	"talentai/learning/internal/feedback"
	"talentai/learning/internal/metrics"
	"talentai/learning/internal/models"
	"talentai/learning/internal/processor"
	"talentai/learning/internal/store"
	"talentai/learning/internal/tuning"
	"talentai/learning/internal/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Pipeline states
const (
	StateIdle         = "IDLE"
	StateCycleRunning = "CYCLE_RUNNING"
)

const cycleMetricName = "learning_cycle"

var (
	ErrCycleRunning  = errors.New("learning cycle already active")
	ErrInvalidConfig = errors.New("invalid learning configuration")
)

type Deps struct {
	Store     *store.Store
	Processor *processor.Processor
	Models    *tuning.ModelManager
	Cache     *cache.InsightsCache
	Collector *feedback.Collector
	Routes    *feedback.RouteCache
	Config    config.LearningConfig
	Logger    *zap.Logger
	Now       func() time.Time
}

// Pipeline is the learning orchestrator. It records conversations and
// feedback, evaluates retraining triggers and runs at most one learning
// cycle at a time.
type Pipeline struct {
	store     *store.Store
	processor *processor.Processor
	models    *tuning.ModelManager
	cache     *cache.InsightsCache
	collector *feedback.Collector
	routes    *feedback.RouteCache
	logger    *zap.Logger
	now       func() time.Time

	cfgMu sync.RWMutex
	cfg   config.LearningConfig

	// cycleMu guards the cycle body; running mirrors it for cheap reads
	cycleMu sync.Mutex
	running atomic.Bool
	wg      sync.WaitGroup

	stateMu      sync.RWMutex
	lastTraining *time.Time
	lastCycle    *CycleResult
}

func New(d Deps) *Pipeline {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Collector == nil {
		d.Collector = feedback.NewCollector()
	}
	return &Pipeline{
		store:     d.Store,
		processor: d.Processor,
		models:    d.Models,
		cache:     d.Cache,
		collector: d.Collector,
		routes:    d.Routes,
		logger:    d.Logger,
		now:       d.Now,
		cfg:       d.Config,
	}
}

// Restore loads the model registry, trains a first model from the original
// corpus when none exists, and recovers the last training time from the
// latest learning_cycle metric.
func (p *Pipeline) Restore(ctx context.Context) error {
	if _, err := p.models.Load(ctx); err != nil {
		return err
	}

	original := p.processor.Original()
	examples := make([]classifier.Example, len(original))
	for i, ex := range original {
		examples[i] = classifier.Example{Text: ex.Text, Intent: ex.Intent}
	}
	info, err := p.models.Bootstrap(ctx, examples)
	if err != nil {
		return err
	}
	if info != nil {
		p.logger.Info("Bootstrapped initial model",
			zap.String("version", info.Version),
			zap.Float64("validation_accuracy", info.ValidationAccuracy))
	}

	last, err := p.store.LatestMetric(ctx, cycleMetricName)
	if err != nil {
		return err
	}
	if last != nil {
		at := last.CreatedAt
		p.stateMu.Lock()
		p.lastTraining = &at
		p.stateMu.Unlock()
	}
	return nil
}

// ProcessConversation records one chat turn and evaluates triggers. When
// the turn carries a request ID seen by Predict, the serving model version
// is filled in from the route cache.
func (p *Pipeline) ProcessConversation(ctx context.Context, req models.ConversationRequest) (uint, error) {
	version := req.ModelVersion
	if version == "" && req.RequestID != "" && p.routes != nil {
		if route, ok := p.routes.Get(req.RequestID); ok {
			version = route.ModelVersion
		}
	}

	id, err := p.store.StoreConversation(ctx, store.ConversationInput{
		SessionID:         req.SessionID,
		UserID:            req.UserID,
		UserInput:         req.UserInput,
		PreprocessedInput: req.PreprocessedInput,
		PredictedIntent:   utils.NormalizeIntent(req.PredictedIntent),
		Confidence:        req.Confidence,
		Response:          req.Response,
		ResponseTime:      req.ResponseTime,
		Context:           req.Context,
		ModelVersion:      version,
	})
	if err != nil {
		return 0, err
	}
	metrics.IncConversations()

	p.maybeTrigger(ctx)
	return id, nil
}

// ProcessFeedback records explicit feedback on a conversation.
func (p *Pipeline) ProcessFeedback(ctx context.Context, conversationID uint, req models.FeedbackRequest) (uint, error) {
	if req.CorrectedIntent != nil {
		corrected := utils.NormalizeIntent(*req.CorrectedIntent)
		req.CorrectedIntent = &corrected
	}
	id, err := p.store.StoreFeedback(ctx, store.FeedbackInput{
		ConversationID:        conversationID,
		FeedbackType:          req.FeedbackType,
		Rating:                req.Rating,
		Comment:               req.Comment,
		CorrectedIntent:       req.CorrectedIntent,
		ImprovementSuggestion: req.ImprovementSuggestion,
	})
	if err != nil {
		return 0, err
	}
	p.collector.Record(req.FeedbackType, req.Rating, false)
	metrics.IncFeedback(req.FeedbackType)

	p.maybeTrigger(ctx)
	return id, nil
}

// CollectImplicitFeedback infers feedback from user behaviour. It reports
// false when the behaviour carries no signal and nothing was stored.
func (p *Pipeline) CollectImplicitFeedback(ctx context.Context, conversationID uint, b models.BehaviorRequest) (uint, bool, error) {
	feedbackType, ok := feedback.InferFeedback(b)
	if !ok {
		return 0, false, nil
	}

	comment := feedback.ImplicitComment(b)
	id, err := p.store.StoreFeedback(ctx, store.FeedbackInput{
		ConversationID: conversationID,
		FeedbackType:   feedbackType,
		Comment:        &comment,
	})
	if err != nil {
		return 0, false, err
	}
	p.collector.Record(feedbackType, nil, true)
	metrics.IncFeedback(feedbackType)
	p.logger.Debug("Stored implicit feedback",
		zap.Uint("conversation_id", conversationID),
		zap.String("type", feedbackType))

	p.maybeTrigger(ctx)
	return id, true, nil
}

// Prediction is the routed classification of one request.
type Prediction struct {
	RequestID    string  `json:"request_id"`
	Intent       string  `json:"intent"`
	Confidence   float64 `json:"confidence"`
	ModelVersion string  `json:"model_version"`
}

// Predict classifies text with the model selected for requestID and
// remembers the route so the resulting conversation can be attributed.
func (p *Pipeline) Predict(ctx context.Context, requestID, text string) (*Prediction, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	clf, version, err := p.models.GetModelForRequest(requestID)
	if err != nil {
		return nil, err
	}

	intent, confidence := clf.Predict(utils.NormalizeText(text))
	pred := &Prediction{
		RequestID:    requestID,
		Intent:       intent,
		Confidence:   confidence,
		ModelVersion: version,
	}
	if p.routes != nil {
		p.routes.Set(feedback.Route{
			RequestID:    requestID,
			ModelVersion: version,
			Intent:       intent,
			Confidence:   confidence,
		})
	}
	return pred, nil
}

// LearningStatus is the operator view of the pipeline.
type LearningStatus struct {
	State          string                  `json:"state"`
	Active         bool                    `json:"is_active"`
	LastTraining   *time.Time              `json:"last_training,omitempty"`
	Config         config.LearningConfig   `json:"configuration"`
	Metrics        feedback.Stats          `json:"metrics"`
	ModelStatus    tuning.ModelStatus      `json:"model_status"`
	LastCycle      *CycleResult            `json:"last_cycle,omitempty"`
	RecentInsights *store.LearningInsights `json:"recent_insights,omitempty"`
}

func (p *Pipeline) GetLearningStatus(ctx context.Context) (*LearningStatus, error) {
	insights, err := p.GetLearningInsights(ctx)
	if err != nil {
		return nil, err
	}

	p.stateMu.RLock()
	last := p.lastTraining
	cycle := p.lastCycle
	p.stateMu.RUnlock()

	return &LearningStatus{
		State:          p.State(),
		Active:         p.running.Load(),
		LastTraining:   last,
		Config:         p.Config(),
		Metrics:        p.collector.Snapshot(),
		ModelStatus:    p.models.Status(),
		LastCycle:      cycle,
		RecentInsights: insights,
	}, nil
}

// GetLearningInsights serves the dashboard aggregates, cached when redis is
// configured.
func (p *Pipeline) GetLearningInsights(ctx context.Context) (*store.LearningInsights, error) {
	return cache.GetOrLoad(ctx, p.cache, cache.KeyInsights, p.store.GetLearningInsights)
}

// GetPerformance returns live performance over windowDays.
func (p *Pipeline) GetPerformance(ctx context.Context, windowDays int) (*store.PerformanceMetrics, error) {
	key := fmt.Sprintf("%s:%d", cache.KeyPerformance, windowDays)
	return cache.GetOrLoad(ctx, p.cache, key, func(ctx context.Context) (*store.PerformanceMetrics, error) {
		return p.store.GetModelPerformanceMetrics(ctx, windowDays)
	})
}

func (p *Pipeline) State() string {
	if p.running.Load() {
		return StateCycleRunning
	}
	return StateIdle
}

func (p *Pipeline) Config() config.LearningConfig {
	p.cfgMu.RLock()
	defer p.cfgMu.RUnlock()
	return p.cfg
}

// UpdateLearningConfig applies a partial configuration. Invalid results are
// rejected and leave the current configuration in place.
func (p *Pipeline) UpdateLearningConfig(patch models.ConfigPatch) (config.LearningConfig, error) {
	p.cfgMu.Lock()
	updated := p.cfg.Apply(patch)
	if err := updated.Validate(); err != nil {
		p.cfgMu.Unlock()
		return config.LearningConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	p.cfg = updated
	p.cfgMu.Unlock()

	p.models.SetTrafficSplit(updated.ABTestTrafficSplit)
	p.logger.Info("Updated learning configuration", zap.Any("config", updated))
	return updated, nil
}

// RollbackModel reactivates version, or the newest stable version when
// version is empty or unknown.
func (p *Pipeline) RollbackModel(ctx context.Context, version string) (string, error) {
	rolled, err := p.models.RollbackModel(ctx, version)
	if err != nil {
		return "", err
	}
	p.cache.Invalidate(ctx, cache.KeyInsights)
	return rolled, nil
}

// AnalyzeExperiment reports on the running experiment without acting on it.
func (p *Pipeline) AnalyzeExperiment(ctx context.Context) (*tuning.ABTestResult, error) {
	return p.models.AnalyzeABTest(ctx)
}

func (p *Pipeline) ListModels() []tuning.ModelInfo {
	return p.models.ListVersions()
}

// Wait blocks until background cycles have finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) LastTraining() *time.Time {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.lastTraining
}
