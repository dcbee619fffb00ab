package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"talentai/learning/internal/config"
	"talentai/learning/internal/learning"
	"talentai/learning/internal/middleware"
	"talentai/learning/internal/models"
	"talentai/learning/internal/store"
	"talentai/learning/internal/tuning"

	"github.com/go-chi/chi/v5"
)

type mockLearningService struct {
	processConversationFn func(ctx context.Context, req models.ConversationRequest) (uint, error)
	processFeedbackFn     func(ctx context.Context, id uint, req models.FeedbackRequest) (uint, error)
	implicitFn            func(ctx context.Context, id uint, b models.BehaviorRequest) (uint, bool, error)
	predictFn             func(ctx context.Context, requestID, text string) (*learning.Prediction, error)
	statusFn              func(ctx context.Context) (*learning.LearningStatus, error)
	insightsFn            func(ctx context.Context) (*store.LearningInsights, error)
	performanceFn         func(ctx context.Context, days int) (*store.PerformanceMetrics, error)
	cycleFn               func(ctx context.Context, force bool) (*learning.CycleResult, error)
	configFn              func(patch models.ConfigPatch) (config.LearningConfig, error)
}

func (m *mockLearningService) ProcessConversation(ctx context.Context, req models.ConversationRequest) (uint, error) {
	if m.processConversationFn == nil {
		return 1, nil
	}
	return m.processConversationFn(ctx, req)
}

func (m *mockLearningService) ProcessFeedback(ctx context.Context, id uint, req models.FeedbackRequest) (uint, error) {
	if m.processFeedbackFn == nil {
		return 1, nil
	}
	return m.processFeedbackFn(ctx, id, req)
}

func (m *mockLearningService) CollectImplicitFeedback(ctx context.Context, id uint, b models.BehaviorRequest) (uint, bool, error) {
	if m.implicitFn == nil {
		return 0, false, nil
	}
	return m.implicitFn(ctx, id, b)
}

func (m *mockLearningService) Predict(ctx context.Context, requestID, text string) (*learning.Prediction, error) {
	if m.predictFn == nil {
		return &learning.Prediction{RequestID: requestID, Intent: "greet", Confidence: 0.9, ModelVersion: "v1"}, nil
	}
	return m.predictFn(ctx, requestID, text)
}

func (m *mockLearningService) GetLearningStatus(ctx context.Context) (*learning.LearningStatus, error) {
	if m.statusFn == nil {
		return &learning.LearningStatus{State: learning.StateIdle}, nil
	}
	return m.statusFn(ctx)
}

func (m *mockLearningService) GetLearningInsights(ctx context.Context) (*store.LearningInsights, error) {
	if m.insightsFn == nil {
		return &store.LearningInsights{}, nil
	}
	return m.insightsFn(ctx)
}

func (m *mockLearningService) GetPerformance(ctx context.Context, days int) (*store.PerformanceMetrics, error) {
	if m.performanceFn == nil {
		return &store.PerformanceMetrics{WindowDays: days}, nil
	}
	return m.performanceFn(ctx, days)
}

func (m *mockLearningService) ManualLearningCycle(ctx context.Context, force bool) (*learning.CycleResult, error) {
	if m.cycleFn == nil {
		return &learning.CycleResult{Status: learning.CycleSkipped}, nil
	}
	return m.cycleFn(ctx, force)
}

func (m *mockLearningService) UpdateLearningConfig(patch models.ConfigPatch) (config.LearningConfig, error) {
	if m.configFn == nil {
		return config.DefaultLearningConfig().Apply(patch), nil
	}
	return m.configFn(patch)
}

type mockModelService struct {
	models     []tuning.ModelInfo
	analyzeFn  func(ctx context.Context) (*tuning.ABTestResult, error)
	rollbackFn func(ctx context.Context, version string) (string, error)
}

func (m *mockModelService) ListModels() []tuning.ModelInfo { return m.models }

func (m *mockModelService) AnalyzeExperiment(ctx context.Context) (*tuning.ABTestResult, error) {
	if m.analyzeFn == nil {
		return &tuning.ABTestResult{Status: tuning.ExperimentNone}, nil
	}
	return m.analyzeFn(ctx)
}

func (m *mockModelService) RollbackModel(ctx context.Context, version string) (string, error) {
	if m.rollbackFn == nil {
		return version, nil
	}
	return m.rollbackFn(ctx, version)
}

// serve runs handler behind the validation middleware for T, with an optional
// chi id parameter.
func serve[T middleware.Validator](handler http.HandlerFunc, method, id, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/", bytes.NewBufferString(body))
	if id != "" {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", id)
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}
	rec := httptest.NewRecorder()
	middleware.ValidateRequest[T]()(handler).ServeHTTP(rec, req)
	return rec
}

func decodeResp(t *testing.T, rec *httptest.ResponseRecorder) (bool, json.RawMessage) {
	t.Helper()
	var body struct {
		OK   bool            `json:"ok"`
		Info json.RawMessage `json:"info"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body.OK, body.Info
}
