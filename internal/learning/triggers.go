package learning

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Trigger reasons recorded with each cycle
const (
	TriggerConversations = "conversation_threshold"
	TriggerFeedback      = "feedback_threshold"
	TriggerTime          = "time_threshold"
	TriggerDegradation   = "performance_degradation"
	TriggerManual        = "manual_trigger"
)

// CheckTriggers reports the first retraining trigger that holds, or "" when
// none does. Triggers are checked in order: conversation volume, feedback
// volume, elapsed time, then live accuracy degradation.
func (p *Pipeline) CheckTriggers(ctx context.Context) (string, error) {
	cfg := p.Config()
	last := p.LastTraining()

	conversations, err := p.store.CountConversationsSince(ctx, last)
	if err != nil {
		return "", fmt.Errorf("count conversations: %w", err)
	}
	if conversations >= int64(cfg.AutoRetrainThreshold) {
		return TriggerConversations, nil
	}

	feedbackCount, err := p.store.CountFeedbackSince(ctx, last)
	if err != nil {
		return "", fmt.Errorf("count feedback: %w", err)
	}
	if feedbackCount >= int64(cfg.MinFeedbackForRetraining) {
		return TriggerFeedback, nil
	}

	if last == nil || p.now().Sub(*last) >= cfg.RetrainInterval() {
		return TriggerTime, nil
	}

	degraded, err := p.performanceDegraded(ctx)
	if err != nil {
		return "", err
	}
	if degraded {
		return TriggerDegradation, nil
	}
	return "", nil
}

// performanceDegraded compares accuracy on corrected predictions in the
// recent window against the baseline window. Windows without labelled
// conversations never count as degraded.
func (p *Pipeline) performanceDegraded(ctx context.Context) (bool, error) {
	cfg := p.Config()

	recent, err := p.store.GetModelPerformanceMetrics(ctx, cfg.RecentWindowDays)
	if err != nil {
		return false, fmt.Errorf("recent performance: %w", err)
	}
	baseline, err := p.store.GetModelPerformanceMetrics(ctx, cfg.BaselineWindowDays)
	if err != nil {
		return false, fmt.Errorf("baseline performance: %w", err)
	}
	if recent.Accuracy == nil || baseline.Accuracy == nil {
		return false, nil
	}
	if *recent.Accuracy <= 0 || *baseline.Accuracy <= 0 {
		return false, nil
	}

	drop := *baseline.Accuracy - *recent.Accuracy
	if drop > cfg.PerformanceDegradationThreshold {
		p.logger.Warn("Live accuracy degraded",
			zap.Float64("recent", *recent.Accuracy),
			zap.Float64("baseline", *baseline.Accuracy),
			zap.Float64("drop", drop))
		return true, nil
	}
	return false, nil
}

// maybeTrigger evaluates triggers after an ingestion and starts a background
// cycle when one holds. It never blocks on a running cycle.
func (p *Pipeline) maybeTrigger(ctx context.Context) {
	if p.running.Load() {
		return
	}

	reason, err := p.CheckTriggers(ctx)
	if err != nil {
		p.logger.Warn("Failed to evaluate learning triggers", zap.Error(err))
		return
	}
	if reason == "" {
		return
	}

	if !p.cycleMu.TryLock() {
		p.logger.Debug("Learning cycle already running, trigger ignored", zap.String("trigger", reason))
		return
	}
	p.running.Store(true)

	bg := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.finishCycle()
		p.logger.Info("Learning cycle triggered", zap.String("trigger", reason))
		p.executeCycle(bg, reason)
	}()
}

// ManualLearningCycle runs a cycle synchronously. Without force it returns
// ErrCycleRunning when a cycle is active; with force it waits for that cycle
// to finish first.
func (p *Pipeline) ManualLearningCycle(ctx context.Context, force bool) (*CycleResult, error) {
	if force {
		p.cycleMu.Lock()
	} else if !p.cycleMu.TryLock() {
		p.logger.Info("Manual learning cycle rejected, cycle already running")
		return nil, ErrCycleRunning
	}
	p.running.Store(true)
	defer p.finishCycle()

	return p.executeCycle(ctx, TriggerManual), nil
}

func (p *Pipeline) finishCycle() {
	p.running.Store(false)
	p.cycleMu.Unlock()
}
