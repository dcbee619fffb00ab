package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"talentai/learning/internal/cache"
	"talentai/learning/internal/metrics"
	"talentai/learning/internal/models"
	"talentai/learning/internal/processor"
	"talentai/learning/internal/tuning"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Cycle outcomes
const (
	CycleCompleted = "completed"
	CycleSkipped   = "skipped"
	CycleFailed    = "failed"
)

const (
	validationFraction = 0.2
	// candidates below this accuracy are deployed behind an experiment
	immediateDeployAccuracy = 0.8
	suggestionWindowDays    = 7
)

type DeploymentDecision struct {
	ShouldDeploy bool   `json:"should_deploy"`
	Reason       string `json:"reason"`
	Strategy     string `json:"strategy,omitempty"`
	Deployed     bool   `json:"deployed"`
	Error        string `json:"error,omitempty"`
}

// CycleResult is the full record of one learning cycle. It is stored as the
// payload of the learning_cycle metric.
type CycleResult struct {
	ID                 string                 `json:"cycle_id"`
	Trigger            string                 `json:"trigger_reason"`
	Status             string                 `json:"status"`
	Reason             string                 `json:"reason,omitempty"`
	StartedAt          time.Time              `json:"started_at"`
	DurationSeconds    float64                `json:"duration_seconds"`
	TrainingCandidates int                    `json:"training_candidates"`
	TrainingExamples   int                    `json:"training_examples"`
	RejectedExamples   int                    `json:"rejected_examples"`
	ModelTrained       bool                   `json:"model_trained"`
	ModelVersion       string                 `json:"model_version,omitempty"`
	ValidationAccuracy float64                `json:"validation_accuracy,omitempty"`
	Deployment         *DeploymentDecision    `json:"deployment,omitempty"`
	Drift              *processor.DriftReport `json:"drift_analysis,omitempty"`
	Suggestions        *processor.Suggestions `json:"suggestions,omitempty"`
	Error              string                 `json:"error,omitempty"`
}

// executeCycle runs the cycle body and records its outcome. The caller holds
// cycleMu. Panics are turned into a failed result so the active model is
// left untouched.
func (p *Pipeline) executeCycle(ctx context.Context, trigger string) (res *CycleResult) {
	res = &CycleResult{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: p.now(),
	}
	log := p.logger.With(zap.String("cycle_id", res.ID), zap.String("trigger", trigger))
	log.Info("Starting learning cycle")

	defer func() {
		if r := recover(); r != nil {
			log.Error("Learning cycle panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			res.Status = CycleFailed
			res.Error = fmt.Sprintf("panic: %v", r)
		}
		p.recordCycle(ctx, res, log)
	}()

	if err := p.runCycle(ctx, res, log); err != nil {
		log.Error("Learning cycle failed", zap.Error(err))
		res.Status = CycleFailed
		res.Error = err.Error()
	}
	return res
}

func (p *Pipeline) runCycle(ctx context.Context, res *CycleResult, log *zap.Logger) error {
	cfg := p.Config()

	candidates, err := p.store.GetConversationsForTraining(ctx, cfg.QualityThreshold, true, 0)
	if err != nil {
		return fmt.Errorf("load training candidates: %w", err)
	}
	res.TrainingCandidates = len(candidates)
	if len(candidates) < cfg.MinTrainingExamples {
		res.Status = CycleSkipped
		res.Reason = fmt.Sprintf("Insufficient training data: %d < %d", len(candidates), cfg.MinTrainingExamples)
		log.Info("Skipping learning cycle", zap.String("reason", res.Reason))
		return nil
	}

	pairs := make([]processor.Pair, len(candidates))
	for i, c := range candidates {
		pairs[i] = processor.Pair{Text: c.Text, Intent: c.Intent, ConversationID: c.ConversationID}
	}

	prepared := p.processor.PrepareTrainingData(pairs, true, true)
	res.TrainingExamples = len(prepared.Examples)
	res.RejectedExamples = len(prepared.Rejected)
	res.Drift = p.processor.DetectIntentDrift(pairs)
	if res.Drift.DriftLevel != processor.DriftLow {
		log.Warn("Intent drift detected",
			zap.String("level", res.Drift.DriftLevel),
			zap.Float64("score", res.Drift.OverallDriftScore),
			zap.Strings("new_intents", res.Drift.NewPotentialIntents))
	}

	info, err := p.models.TrainNewModel(ctx, prepared.ClassifierExamples(), tuning.TrainOptions{
		ValidationFraction: validationFraction,
		CrossValidation:    true,
	})
	if err != nil {
		return fmt.Errorf("train model: %w", err)
	}
	res.ModelTrained = true
	res.ModelVersion = info.Version
	res.ValidationAccuracy = info.ValidationAccuracy
	metrics.SetValidationAccuracy(info.ValidationAccuracy)

	if err := p.store.SaveTrainingSet(ctx, info.Version, trainingRows(prepared)); err != nil {
		log.Warn("Failed to save training set", zap.Error(err))
	}

	res.Deployment = p.deploy(ctx, info, log)

	perf, err := p.store.GetModelPerformanceMetrics(ctx, suggestionWindowDays)
	if err != nil {
		log.Warn("Failed to load performance for suggestions", zap.Error(err))
		perf = nil
	}
	res.Suggestions = p.processor.SuggestTrainingImprovements(prepared.Validated, perf)

	res.Status = CycleCompleted
	return nil
}

func (p *Pipeline) deploy(ctx context.Context, info *tuning.ModelInfo, log *zap.Logger) *DeploymentDecision {
	ok, reason := p.models.ShouldDeployModel(info.Version, p.models.ActivePerformance())
	decision := &DeploymentDecision{ShouldDeploy: ok, Reason: reason}
	if !ok {
		log.Info("Model not deployed", zap.String("version", info.Version), zap.String("reason", reason))
		return decision
	}

	decision.Strategy = tuning.StrategyABTest
	if info.ValidationAccuracy >= immediateDeployAccuracy {
		decision.Strategy = tuning.StrategyImmediate
	}
	if err := p.models.DeployModel(ctx, info.Version, decision.Strategy); err != nil {
		log.Error("Model deployment failed", zap.String("version", info.Version), zap.Error(err))
		decision.Error = err.Error()
		return decision
	}
	decision.Deployed = true
	log.Info("Model deployed",
		zap.String("version", info.Version),
		zap.String("strategy", decision.Strategy),
		zap.String("reason", reason))
	return decision
}

// recordCycle stamps the last training time and stores the outcome. Failed
// cycles are stamped too so the time trigger does not fire on every event.
func (p *Pipeline) recordCycle(ctx context.Context, res *CycleResult, log *zap.Logger) {
	finished := p.now()
	res.DurationSeconds = finished.Sub(res.StartedAt).Seconds()

	p.stateMu.Lock()
	p.lastTraining = &finished
	p.lastCycle = res
	p.stateMu.Unlock()

	metrics.ObserveCycle(res.Status, finished.Sub(res.StartedAt))

	var version *string
	if res.ModelVersion != "" {
		version = &res.ModelVersion
	}
	if err := p.store.RecordMetric(ctx, cycleMetricName, res.DurationSeconds, payload(res), version); err != nil {
		log.Warn("Failed to record learning cycle", zap.Error(err))
	}
	p.cache.Invalidate(ctx, cache.KeyInsights)

	log.Info("Learning cycle finished",
		zap.String("status", res.Status),
		zap.Float64("duration_seconds", res.DurationSeconds))
}

// trainingRows snapshots the approved and rejected examples of a cycle.
func trainingRows(prepared *processor.Prepared) []models.TrainingExample {
	now := time.Now()
	rows := make([]models.TrainingExample, 0, len(prepared.Examples)+len(prepared.Rejected))
	add := func(ex processor.Example, status string) {
		row := models.TrainingExample{
			Text:             ex.Text,
			Intent:           ex.Intent,
			Source:           ex.Source,
			QualityScore:     ex.QualityScore,
			ValidationStatus: status,
			ValidatedAt:      &now,
		}
		if ex.ConversationID != 0 {
			id := ex.ConversationID
			row.ConversationID = &id
		}
		rows = append(rows, row)
	}
	for _, ex := range prepared.Examples {
		add(ex, models.ValidationApproved)
	}
	for _, ex := range prepared.Rejected {
		add(ex, models.ValidationRejected)
	}
	return rows
}

func payload(v interface{}) models.JSONMap {
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
