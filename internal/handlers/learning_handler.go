package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"talentai/learning/internal/config"
	"talentai/learning/internal/learning"
	"talentai/learning/internal/middleware"
	"talentai/learning/internal/models"
	"talentai/learning/internal/store"
	"talentai/learning/internal/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const defaultPerformanceWindow = 7

// LearningService is the part of the learning pipeline exposed over HTTP.
type LearningService interface {
	ProcessConversation(ctx context.Context, req models.ConversationRequest) (uint, error)
	ProcessFeedback(ctx context.Context, conversationID uint, req models.FeedbackRequest) (uint, error)
	CollectImplicitFeedback(ctx context.Context, conversationID uint, b models.BehaviorRequest) (uint, bool, error)
	Predict(ctx context.Context, requestID, text string) (*learning.Prediction, error)
	GetLearningStatus(ctx context.Context) (*learning.LearningStatus, error)
	GetLearningInsights(ctx context.Context) (*store.LearningInsights, error)
	GetPerformance(ctx context.Context, windowDays int) (*store.PerformanceMetrics, error)
	ManualLearningCycle(ctx context.Context, force bool) (*learning.CycleResult, error)
	UpdateLearningConfig(patch models.ConfigPatch) (config.LearningConfig, error)
}

type LearningHandler struct {
	service LearningService
	logger  *zap.Logger
}

func NewLearningHandler(service LearningService, logger *zap.Logger) *LearningHandler {
	return &LearningHandler{service: service, logger: logger}
}

// RecordConversation handles POST /api/v1/learning/conversations
func (h *LearningHandler) RecordConversation(w http.ResponseWriter, r *http.Request) {
	req := middleware.GetValidatedRequest[*models.ConversationRequest](r)

	id, err := h.service.ProcessConversation(r.Context(), *req)
	if err != nil {
		h.logger.Error("Failed to record conversation", zap.Error(err), zap.String("session_id", req.SessionID))
		utils.WriteError(w, http.StatusInternalServerError, "failed to record conversation")
		return
	}
	utils.WriteOK(w, http.StatusCreated, map[string]uint{"conversation_id": id})
}

// RecordFeedback handles POST /api/v1/learning/conversations/{id}/feedback
func (h *LearningHandler) RecordFeedback(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := conversationIDParam(w, r)
	if !ok {
		return
	}
	req := middleware.GetValidatedRequest[*models.FeedbackRequest](r)

	id, err := h.service.ProcessFeedback(r.Context(), conversationID, *req)
	if err != nil {
		h.writeStoreError(w, err, "failed to record feedback")
		return
	}
	utils.WriteOK(w, http.StatusCreated, map[string]uint{"feedback_id": id})
}

// RecordBehavior handles POST /api/v1/learning/conversations/{id}/behavior
func (h *LearningHandler) RecordBehavior(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := conversationIDParam(w, r)
	if !ok {
		return
	}
	req := middleware.GetValidatedRequest[*models.BehaviorRequest](r)

	id, stored, err := h.service.CollectImplicitFeedback(r.Context(), conversationID, *req)
	if err != nil {
		h.writeStoreError(w, err, "failed to record behavior")
		return
	}
	info := map[string]interface{}{"stored": stored}
	if stored {
		info["feedback_id"] = id
	}
	utils.WriteOK(w, http.StatusOK, info)
}

// Predict handles POST /api/v1/learning/predict
func (h *LearningHandler) Predict(w http.ResponseWriter, r *http.Request) {
	req := middleware.GetValidatedRequest[*models.PredictRequest](r)

	pred, err := h.service.Predict(r.Context(), req.RequestID, req.Text)
	if err != nil {
		h.logger.Error("Prediction failed", zap.Error(err), zap.String("request_id", req.RequestID))
		utils.WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	utils.WriteOK(w, http.StatusOK, pred)
}

// Status handles GET /api/v1/learning/status
func (h *LearningHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.GetLearningStatus(r.Context())
	if err != nil {
		h.logger.Error("Failed to get learning status", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "failed to get learning status")
		return
	}
	utils.WriteOK(w, http.StatusOK, status)
}

// Insights handles GET /api/v1/learning/insights
func (h *LearningHandler) Insights(w http.ResponseWriter, r *http.Request) {
	insights, err := h.service.GetLearningInsights(r.Context())
	if err != nil {
		h.logger.Error("Failed to get learning insights", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "failed to get learning insights")
		return
	}
	utils.WriteOK(w, http.StatusOK, insights)
}

// Performance handles GET /api/v1/learning/performance?days=N
func (h *LearningHandler) Performance(w http.ResponseWriter, r *http.Request) {
	days := defaultPerformanceWindow
	if raw := r.URL.Query().Get("days"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d <= 0 {
			utils.WriteError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = d
	}

	perf, err := h.service.GetPerformance(r.Context(), days)
	if err != nil {
		h.logger.Error("Failed to get performance", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "failed to get performance")
		return
	}
	utils.WriteOK(w, http.StatusOK, perf)
}

// Retrain handles POST /api/v1/learning/retrain
func (h *LearningHandler) Retrain(w http.ResponseWriter, r *http.Request) {
	req := middleware.GetValidatedRequest[*models.RetrainRequest](r)

	res, err := h.service.ManualLearningCycle(r.Context(), req.Force)
	if errors.Is(err, learning.ErrCycleRunning) {
		utils.WriteError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("Manual learning cycle failed", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "failed to run learning cycle")
		return
	}
	utils.WriteOK(w, http.StatusOK, res)
}

// UpdateConfig handles PUT /api/v1/learning/config
func (h *LearningHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	req := middleware.GetValidatedRequest[*models.ConfigPatch](r)

	cfg, err := h.service.UpdateLearningConfig(*req)
	if errors.Is(err, learning.ErrInvalidConfig) {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("Failed to update learning config", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "failed to update configuration")
		return
	}
	utils.WriteOK(w, http.StatusOK, cfg)
}

func (h *LearningHandler) writeStoreError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, store.ErrConversationNotFound):
		utils.WriteError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, store.ErrInvalidFeedback):
		utils.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error(msg, zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, msg)
	}
}

func conversationIDParam(w http.ResponseWriter, r *http.Request) (uint, bool) {
	raw := chi.URLParam(r, "id")
	if raw == "" {
		utils.WriteError(w, http.StatusBadRequest, "conversation id is required")
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		utils.WriteError(w, http.StatusBadRequest, "invalid conversation id")
		return 0, false
	}
	return uint(id), true
}
