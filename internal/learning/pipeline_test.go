package learning

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"talentai/learning/internal/classifier"
	"talentai/learning/internal/config"
	"talentai/learning/internal/corpus"
	"talentai/learning/internal/feedback"
	"talentai/learning/internal/models"
	"talentai/learning/internal/processor"
	"talentai/learning/internal/store"
	"talentai/learning/internal/tuning"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var dbSeq int64

type harness struct {
	db       *gorm.DB
	store    *store.Store
	models   *tuning.ModelManager
	routes   *feedback.RouteCache
	pipeline *Pipeline
	dir      string
	factory  classifier.Factory
}

func newHarness(t *testing.T, cfg config.LearningConfig) *harness {
	t.Helper()
	return newHarnessWithFactory(t, cfg, classifier.NaiveBayesFactory)
}

func newHarnessWithFactory(t *testing.T, cfg config.LearningConfig, factory classifier.Factory) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:learning_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), atomic.AddInt64(&dbSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	s := store.New(db, zap.NewNop())
	require.NoError(t, s.Migrate(context.Background()))

	c, err := corpus.Load()
	require.NoError(t, err)

	h := &harness{db: db, store: s, dir: t.TempDir(), factory: factory}
	h.models = h.newManager(cfg)
	h.routes = feedback.NewRouteCache(time.Minute)
	t.Cleanup(h.routes.Close)

	h.pipeline = New(Deps{
		Store:     s,
		Processor: processor.New(c, zap.NewNop()),
		Models:    h.models,
		Routes:    h.routes,
		Config:    cfg,
		Logger:    zap.NewNop(),
	})
	return h
}

func (h *harness) newManager(cfg config.LearningConfig) *tuning.ModelManager {
	return tuning.NewModelManager(h.store, tuning.Options{
		ArtifactDir:  h.dir,
		Factory:      h.factory,
		Loader:       classifier.LoadNaiveBayes,
		TrafficSplit: cfg.ABTestTrafficSplit,
		Logger:       zap.NewNop(),
	})
}

// quiet marks the pipeline as freshly trained so only the trigger under test
// can fire.
func (h *harness) quiet() {
	now := time.Now()
	h.pipeline.stateMu.Lock()
	h.pipeline.lastTraining = &now
	h.pipeline.stateMu.Unlock()
}

func (h *harness) conversation(t *testing.T, text, intent string, confidence float64) uint {
	t.Helper()
	id, err := h.store.StoreConversation(context.Background(), store.ConversationInput{
		SessionID:         "session-1",
		UserInput:         text,
		PreprocessedInput: text,
		PredictedIntent:   intent,
		Confidence:        confidence,
		Response:          "ok",
	})
	require.NoError(t, err)
	return id
}

func (h *harness) backdate(t *testing.T, id uint, at time.Time) {
	t.Helper()
	require.NoError(t, h.db.Model(&models.Conversation{}).Where("id = ?", id).Update("created_at", at).Error)
}

func strPtr(v string) *string { return &v }

var scoringQuestions = []string{
	"how exactly is my interview score calculated",
	"which factors decide the final assessment score",
	"why did my coding round get a low score",
	"can someone explain the scoring rubric for projects",
	"what weighting do behavioural answers carry in scoring",
	"is the technical score averaged across every section",
	"does finishing early change my overall score",
	"how are partial answers scored in the quiz",
	"who reviews the automated score before release",
	"what score do candidates usually need to pass",
	"are communication skills part of the scoring model",
	"how often is the scoring algorithm updated",
}

func TestRestoreBootstrapsAndReloads(t *testing.T) {
	cfg := config.DefaultLearningConfig()
	h := newHarness(t, cfg)
	ctx := context.Background()

	require.NoError(t, h.pipeline.Restore(ctx))
	active := h.models.ActiveVersion()
	require.NotEmpty(t, active, "expected a bootstrapped active model")
	assert.Nil(t, h.pipeline.LastTraining())

	_, err := h.pipeline.ManualLearningCycle(ctx, false)
	require.NoError(t, err)

	// a second process sharing the store reloads instead of bootstrapping
	restarted := New(Deps{
		Store:     h.store,
		Processor: h.pipeline.processor,
		Models:    h.newManager(cfg),
		Config:    cfg,
	})
	require.NoError(t, restarted.Restore(ctx))
	assert.Equal(t, active, restarted.models.ActiveVersion())
	assert.Len(t, restarted.ListModels(), 1)
	assert.NotNil(t, restarted.LastTraining(), "expected last training restored from the cycle metric")
}

func TestPredictAttributesConversation(t *testing.T) {
	h := newHarness(t, config.DefaultLearningConfig())
	ctx := context.Background()
	require.NoError(t, h.pipeline.Restore(ctx))
	h.quiet()

	pred, err := h.pipeline.Predict(ctx, "req-42", "How is my score calculated?")
	require.NoError(t, err)
	assert.Equal(t, "req-42", pred.RequestID)
	assert.Equal(t, h.models.ActiveVersion(), pred.ModelVersion)
	assert.NotEmpty(t, pred.Intent)

	id, err := h.pipeline.ProcessConversation(ctx, models.ConversationRequest{
		RequestID:         "req-42",
		SessionID:         "s1",
		UserInput:         "How is my score calculated?",
		PreprocessedInput: "how is my score calculated",
		PredictedIntent:   pred.Intent,
		Confidence:        pred.Confidence,
		Response:          "Scores combine...",
	})
	require.NoError(t, err)

	conv, err := h.store.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, pred.ModelVersion, conv.ModelVersion)

	generated, err := h.pipeline.Predict(ctx, "", "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, generated.RequestID)
}

func TestConversationThresholdStartsBackgroundCycle(t *testing.T) {
	cfg := config.DefaultLearningConfig()
	cfg.AutoRetrainThreshold = 2
	cfg.MinTrainingExamples = 1000
	h := newHarness(t, cfg)
	ctx := context.Background()
	h.quiet()

	for i := 0; i < 2; i++ {
		_, err := h.pipeline.ProcessConversation(ctx, models.ConversationRequest{
			SessionID:       "s1",
			UserInput:       scoringQuestions[i],
			PredictedIntent: "scoring",
			Confidence:      0.9,
			Response:        "ok",
		})
		require.NoError(t, err)
	}
	h.pipeline.Wait()

	status, err := h.pipeline.GetLearningStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, status.LastCycle, "expected a cycle to have run")
	assert.Equal(t, TriggerConversations, status.LastCycle.Trigger)
	assert.Equal(t, CycleSkipped, status.LastCycle.Status)
	assert.Contains(t, status.LastCycle.Reason, "Insufficient training data")
	assert.Equal(t, StateIdle, status.State)

	metric, err := h.store.LatestMetric(ctx, cycleMetricName)
	require.NoError(t, err)
	require.NotNil(t, metric)
	assert.Equal(t, status.LastCycle.ID, metric.MetricData["cycle_id"])
}

func TestCheckTriggersOrder(t *testing.T) {
	cfg := config.DefaultLearningConfig()
	cfg.AutoRetrainThreshold = 3
	cfg.MinFeedbackForRetraining = 2
	h := newHarness(t, cfg)
	ctx := context.Background()

	reason, err := h.pipeline.CheckTriggers(ctx)
	require.NoError(t, err)
	assert.Equal(t, TriggerTime, reason, "never trained means the time trigger holds")

	h.quiet()
	reason, err = h.pipeline.CheckTriggers(ctx)
	require.NoError(t, err)
	assert.Empty(t, reason)

	id := h.conversation(t, scoringQuestions[0], "scoring", 0.9)
	for i := 0; i < 2; i++ {
		_, err := h.store.StoreFeedback(ctx, store.FeedbackInput{ConversationID: id, FeedbackType: models.FeedbackHelpful})
		require.NoError(t, err)
	}
	reason, err = h.pipeline.CheckTriggers(ctx)
	require.NoError(t, err)
	assert.Equal(t, TriggerFeedback, reason)

	h.conversation(t, scoringQuestions[1], "scoring", 0.9)
	h.conversation(t, scoringQuestions[2], "scoring", 0.9)
	reason, err = h.pipeline.CheckTriggers(ctx)
	require.NoError(t, err)
	assert.Equal(t, TriggerConversations, reason, "conversation volume is checked first")

	stale := time.Now().Add(-25 * time.Hour)
	h.pipeline.stateMu.Lock()
	h.pipeline.lastTraining = &stale
	h.pipeline.stateMu.Unlock()
	_, err = h.pipeline.UpdateLearningConfig(models.ConfigPatch{
		AutoRetrainThreshold:     intPtr(1000),
		MinFeedbackForRetraining: intPtr(1000),
	})
	require.NoError(t, err)
	reason, err = h.pipeline.CheckTriggers(ctx)
	require.NoError(t, err)
	assert.Equal(t, TriggerTime, reason)
}

func intPtr(v int) *int { return &v }

func TestPerformanceDegradationTrigger(t *testing.T) {
	h := newHarness(t, config.DefaultLearningConfig())
	ctx := context.Background()

	correct := func(id uint, intent string) {
		_, err := h.store.StoreFeedback(ctx, store.FeedbackInput{
			ConversationID:  id,
			FeedbackType:    models.FeedbackCorrection,
			CorrectedIntent: strPtr(intent),
		})
		require.NoError(t, err)
	}

	// baseline: ten correct predictions a week ago
	for i := 0; i < 10; i++ {
		id := h.conversation(t, fmt.Sprintf("old question %d", i), "scoring", 0.9)
		correct(id, "scoring")
		h.backdate(t, id, time.Now().AddDate(0, 0, -7))
	}
	// recent: two right, three wrong
	for i := 0; i < 5; i++ {
		id := h.conversation(t, fmt.Sprintf("new question %d", i), "scoring", 0.9)
		if i < 2 {
			correct(id, "scoring")
		} else {
			correct(id, "certification")
		}
	}
	h.quiet()

	reason, err := h.pipeline.CheckTriggers(ctx)
	require.NoError(t, err)
	assert.Equal(t, TriggerDegradation, reason)

	_, err = h.pipeline.UpdateLearningConfig(models.ConfigPatch{PerformanceDegradationThreshold: floatPtr(0.5)})
	require.NoError(t, err)
	reason, err = h.pipeline.CheckTriggers(ctx)
	require.NoError(t, err)
	assert.Empty(t, reason, "a 0.4 drop is within a 0.5 margin")
}

func floatPtr(v float64) *float64 { return &v }

func TestManualCycleTrainsAndRecords(t *testing.T) {
	h := newHarness(t, config.DefaultLearningConfig())
	ctx := context.Background()
	require.NoError(t, h.pipeline.Restore(ctx))

	for _, q := range scoringQuestions {
		h.conversation(t, q, "scoring", 0.92)
	}
	// below the quality threshold, never a candidate
	h.conversation(t, "what certificates can I earn", "certification", 0.4)

	res, err := h.pipeline.ManualLearningCycle(ctx, true)
	require.NoError(t, err)
	require.Equal(t, CycleCompleted, res.Status, "cycle error: %s", res.Error)
	assert.Equal(t, TriggerManual, res.Trigger)
	assert.Equal(t, len(scoringQuestions), res.TrainingCandidates)
	assert.True(t, res.ModelTrained)
	assert.NotEmpty(t, res.ModelVersion)
	require.NotNil(t, res.Deployment)
	require.NotNil(t, res.Drift)
	assert.Greater(t, res.Drift.IntentAnalysis["scoring"].RecentRatio, 0.9)
	require.NotNil(t, res.Suggestions)

	_, ok := h.models.Info(res.ModelVersion)
	assert.True(t, ok, "expected the trained version to be registered")
	if res.Deployment.Deployed && res.Deployment.Strategy == tuning.StrategyImmediate {
		assert.Equal(t, res.ModelVersion, h.models.ActiveVersion())
	}

	set, err := h.store.CurrentTrainingSet(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, set)
	for _, ex := range set {
		assert.Equal(t, res.ModelVersion, ex.TrainingSet)
	}

	last := h.pipeline.LastTraining()
	require.NotNil(t, last)
	assert.False(t, last.Before(res.StartedAt))
}

// brokenNaiveBayes trains normally until mode is set, then fails or panics
// in Fit.
type brokenNaiveBayes struct {
	*classifier.NaiveBayes
	mode *atomic.Int32
}

const (
	fitOK int32 = iota
	fitError
	fitPanic
)

func (b brokenNaiveBayes) Fit(examples []classifier.Example) error {
	switch b.mode.Load() {
	case fitError:
		return errors.New("fit exploded")
	case fitPanic:
		panic("fit exploded")
	}
	return b.NaiveBayes.Fit(examples)
}

func TestFailedCycleKeepsActiveModel(t *testing.T) {
	for _, tc := range []struct {
		name string
		mode int32
		want string
	}{
		{"error", fitError, "fit exploded"},
		{"panic", fitPanic, "panic: fit exploded"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			mode := &atomic.Int32{}
			h := newHarnessWithFactory(t, config.DefaultLearningConfig(), func() classifier.Classifier {
				return brokenNaiveBayes{NaiveBayes: classifier.NewNaiveBayes(), mode: mode}
			})
			ctx := context.Background()
			require.NoError(t, h.pipeline.Restore(ctx))
			before := h.models.ActiveVersion()
			require.NotEmpty(t, before)
			require.Nil(t, h.pipeline.LastTraining())

			for _, q := range scoringQuestions {
				h.conversation(t, q, "scoring", 0.92)
			}
			mode.Store(tc.mode)

			res, err := h.pipeline.ManualLearningCycle(ctx, true)
			require.NoError(t, err)
			assert.Equal(t, CycleFailed, res.Status)
			assert.Contains(t, res.Error, tc.want)
			assert.False(t, res.ModelTrained)
			assert.Equal(t, before, h.models.ActiveVersion())
			assert.Len(t, h.models.ListVersions(), 1)
			assert.NotNil(t, h.pipeline.LastTraining())
			assert.Equal(t, StateIdle, h.pipeline.State())
		})
	}
}

func TestManualCycleRejectedWhileRunning(t *testing.T) {
	h := newHarness(t, config.DefaultLearningConfig())
	ctx := context.Background()

	h.pipeline.cycleMu.Lock()
	h.pipeline.running.Store(true)
	assert.Equal(t, StateCycleRunning, h.pipeline.State())

	_, err := h.pipeline.ManualLearningCycle(ctx, false)
	assert.ErrorIs(t, err, ErrCycleRunning)

	done := make(chan *CycleResult)
	go func() {
		res, err := h.pipeline.ManualLearningCycle(ctx, true)
		assert.NoError(t, err)
		done <- res
	}()

	select {
	case <-done:
		t.Fatal("forced cycle must wait for the running cycle")
	case <-time.After(50 * time.Millisecond):
	}

	h.pipeline.running.Store(false)
	h.pipeline.cycleMu.Unlock()

	select {
	case res := <-done:
		assert.Equal(t, CycleSkipped, res.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("forced cycle did not run")
	}
	assert.Equal(t, StateIdle, h.pipeline.State())
}

func TestFeedbackAndImplicitFeedback(t *testing.T) {
	h := newHarness(t, config.DefaultLearningConfig())
	ctx := context.Background()
	h.quiet()

	id := h.conversation(t, scoringQuestions[0], "scoring", 0.9)

	rating := 5
	_, err := h.pipeline.ProcessFeedback(ctx, id, models.FeedbackRequest{FeedbackType: models.FeedbackHelpful, Rating: &rating})
	require.NoError(t, err)

	_, err = h.pipeline.ProcessFeedback(ctx, 9999, models.FeedbackRequest{FeedbackType: models.FeedbackHelpful})
	assert.ErrorIs(t, err, store.ErrConversationNotFound)

	_, stored, err := h.pipeline.CollectImplicitFeedback(ctx, id, models.BehaviorRequest{Action: feedback.ActionSessionEnd, Duration: 2})
	require.NoError(t, err)
	assert.True(t, stored)

	_, stored, err = h.pipeline.CollectImplicitFeedback(ctx, id, models.BehaviorRequest{Duration: 12})
	require.NoError(t, err)
	assert.False(t, stored, "a neutral dwell time carries no signal")

	stats := h.pipeline.collector.Snapshot()
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.ByType[models.FeedbackHelpful])
	assert.Equal(t, int64(1), stats.ByType[models.FeedbackNotHelpful])
	assert.Equal(t, int64(1), stats.Implicit)
	assert.Equal(t, int64(1), stats.Ratings[5])

	helpful, total, err := h.store.FeedbackOutcomes(ctx, "", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, int64(1), helpful)
}

func TestUpdateLearningConfig(t *testing.T) {
	h := newHarness(t, config.DefaultLearningConfig())

	updated, err := h.pipeline.UpdateLearningConfig(models.ConfigPatch{
		AutoRetrainThreshold: intPtr(50),
		ABTestTrafficSplit:   floatPtr(0.3),
	})
	require.NoError(t, err)
	assert.Equal(t, 50, updated.AutoRetrainThreshold)
	assert.Equal(t, 0.3, h.models.Status().TrafficSplit)

	_, err = h.pipeline.UpdateLearningConfig(models.ConfigPatch{RecentWindowDays: intPtr(30)})
	assert.Error(t, err)
	assert.Equal(t, updated, h.pipeline.Config(), "a rejected patch leaves the config alone")
}

func TestRunMaintenanceCleansUp(t *testing.T) {
	cfg := config.DefaultLearningConfig()
	cfg.RetentionDays = 30
	h := newHarness(t, cfg)
	ctx := context.Background()
	require.NoError(t, h.pipeline.Restore(ctx))

	old := h.conversation(t, "stale low confidence question", "scoring", 0.3)
	h.backdate(t, old, time.Now().AddDate(0, 0, -60))
	fresh := h.conversation(t, scoringQuestions[0], "scoring", 0.3)

	report, err := h.pipeline.RunMaintenance(ctx)
	require.NoError(t, err)
	assert.True(t, report.StoreHealthy)
	assert.True(t, report.CacheHealthy, "an unconfigured cache is healthy")
	assert.Equal(t, h.models.ActiveVersion(), report.ActiveModel)
	assert.Nil(t, report.Experiment)
	assert.Equal(t, tuning.ActionNone, report.ExperimentAction)
	assert.Equal(t, int64(1), report.RemovedRows)

	_, err = h.store.GetConversation(ctx, old)
	assert.ErrorIs(t, err, store.ErrConversationNotFound)
	_, err = h.store.GetConversation(ctx, fresh)
	assert.NoError(t, err)
}

func TestRollbackThroughPipeline(t *testing.T) {
	h := newHarness(t, config.DefaultLearningConfig())
	ctx := context.Background()

	_, err := h.pipeline.RollbackModel(ctx, "")
	assert.ErrorIs(t, err, tuning.ErrNoStableVersion)

	require.NoError(t, h.pipeline.Restore(ctx))
	first := h.models.ActiveVersion()

	rolled, err := h.pipeline.RollbackModel(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, first, rolled)
	assert.False(t, h.models.Status().ExperimentActive)
}
