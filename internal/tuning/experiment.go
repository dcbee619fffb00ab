package tuning

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Experiment verdicts
const (
	ExperimentNone             = "no_experiment"
	ExperimentInsufficientData = "insufficient_data"
	ExperimentComplete         = "complete"

	RecommendDeploy       = "deploy_new_model"
	RecommendKeep         = "keep_current_model"
	RecommendInconclusive = "inconclusive"

	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

const (
	minExperimentSamples = 10
	minRateChange        = 0.05
	strongRateGain       = 0.10
)

// Actions taken by ConcludeExperiment
const (
	ActionNone     = "none"
	ActionDeployed = "deployed"
	ActionCleared  = "cleared"
)

type ABTestResult struct {
	Status               string    `json:"status"`
	Message              string    `json:"message,omitempty"`
	CandidateVersion     string    `json:"candidate_version,omitempty"`
	ControlVersion       string    `json:"control_version,omitempty"`
	CandidateSamples     int64     `json:"candidate_samples"`
	ControlSamples       int64     `json:"control_samples"`
	CandidateSuccessRate float64   `json:"candidate_success_rate"`
	ControlSuccessRate   float64   `json:"control_success_rate"`
	Improvement          float64   `json:"improvement"`
	CandidateRequests    int64     `json:"candidate_requests"`
	ControlRequests      int64     `json:"control_requests"`
	StartedAt            time.Time `json:"started_at,omitempty"`
	Recommendation       string    `json:"recommendation,omitempty"`
	Confidence           string    `json:"confidence,omitempty"`
}

// AnalyzeABTest compares the helpful-feedback rate of the candidate against
// the control since the experiment started. Each side needs at least 10
// feedback samples.
func (m *ModelManager) AnalyzeABTest(ctx context.Context) (*ABTestResult, error) {
	m.mu.RLock()
	exp := m.experiment
	control := m.active
	m.mu.RUnlock()

	if exp == nil {
		return &ABTestResult{Status: ExperimentNone, Message: "No experiment is running"}, nil
	}

	res := &ABTestResult{
		CandidateVersion:  exp.candidate,
		ControlVersion:    control,
		StartedAt:         exp.startedAt,
		CandidateRequests: exp.candidateRequests.Load(),
		ControlRequests:   exp.controlRequests.Load(),
	}

	candHelpful, candTotal, err := m.store.FeedbackOutcomes(ctx, exp.candidate, exp.startedAt)
	if err != nil {
		return nil, err
	}
	ctrlHelpful, ctrlTotal, err := m.store.FeedbackOutcomes(ctx, control, exp.startedAt)
	if err != nil {
		return nil, err
	}
	res.CandidateSamples = candTotal
	res.ControlSamples = ctrlTotal

	if candTotal < minExperimentSamples || ctrlTotal < minExperimentSamples {
		res.Status = ExperimentInsufficientData
		res.Message = fmt.Sprintf("Need at least %d feedback samples per model for a reliable comparison", minExperimentSamples)
		return res, nil
	}

	res.Status = ExperimentComplete
	res.CandidateSuccessRate = float64(candHelpful) / float64(candTotal)
	res.ControlSuccessRate = float64(ctrlHelpful) / float64(ctrlTotal)
	res.Improvement = res.CandidateSuccessRate - res.ControlSuccessRate

	switch {
	case res.Improvement >= minRateChange-epsilon:
		res.Recommendation = RecommendDeploy
		res.Confidence = ConfidenceMedium
		if res.Improvement >= strongRateGain-epsilon {
			res.Confidence = ConfidenceHigh
		}
	case res.Improvement <= -minRateChange+epsilon:
		res.Recommendation = RecommendKeep
		res.Confidence = ConfidenceHigh
	default:
		res.Recommendation = RecommendInconclusive
		res.Confidence = ConfidenceLow
	}
	return res, nil
}

// ConcludeExperiment acts on high confidence verdicts only: the candidate is
// deployed, or the experiment is cleared in favour of the control.
func (m *ModelManager) ConcludeExperiment(ctx context.Context, res *ABTestResult) (string, error) {
	if res == nil || res.Status != ExperimentComplete || res.Confidence != ConfidenceHigh {
		return ActionNone, nil
	}

	switch res.Recommendation {
	case RecommendDeploy:
		if err := m.DeployModel(ctx, res.CandidateVersion, StrategyImmediate); err != nil {
			return ActionNone, err
		}
		m.logger.Info("Experiment winner deployed", zap.String("version", res.CandidateVersion))
		return ActionDeployed, nil
	case RecommendKeep:
		if err := m.ClearExperiment(ctx); err != nil {
			return ActionNone, err
		}
		m.logger.Info("Experiment cleared, keeping control", zap.String("version", res.ControlVersion))
		return ActionCleared, nil
	}
	return ActionNone, nil
}

// ClearExperiment stops routing traffic to the candidate.
func (m *ModelManager) ClearExperiment(ctx context.Context) error {
	m.deployMu.Lock()
	defer m.deployMu.Unlock()

	if err := m.store.ClearTrafficWeights(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.experiment = nil
	m.mu.Unlock()
	return nil
}
