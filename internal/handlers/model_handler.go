package handlers

import (
	"context"
	"errors"
	"net/http"

	"talentai/learning/internal/middleware"
	"talentai/learning/internal/models"
	"talentai/learning/internal/tuning"
	"talentai/learning/internal/utils"

	"go.uber.org/zap"
)

// ModelService exposes the model registry.
type ModelService interface {
	ListModels() []tuning.ModelInfo
	AnalyzeExperiment(ctx context.Context) (*tuning.ABTestResult, error)
	RollbackModel(ctx context.Context, version string) (string, error)
}

type ModelHandler struct {
	service ModelService
	logger  *zap.Logger
}

func NewModelHandler(service ModelService, logger *zap.Logger) *ModelHandler {
	return &ModelHandler{service: service, logger: logger}
}

// ListModels handles GET /api/v1/learning/models
func (mh *ModelHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	utils.WriteOK(w, http.StatusOK, mh.service.ListModels())
}

// Experiment handles GET /api/v1/learning/experiment. It reports on the
// running experiment without acting on it.
func (mh *ModelHandler) Experiment(w http.ResponseWriter, r *http.Request) {
	res, err := mh.service.AnalyzeExperiment(r.Context())
	if err != nil {
		mh.logger.Error("Failed to analyze experiment", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "failed to analyze experiment")
		return
	}
	utils.WriteOK(w, http.StatusOK, res)
}

// Rollback handles POST /api/v1/learning/rollback. An empty version selects
// the newest stable model.
func (mh *ModelHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	req := middleware.GetValidatedRequest[*models.RollbackRequest](r)

	version, err := mh.service.RollbackModel(r.Context(), req.Version)
	if errors.Is(err, tuning.ErrNoStableVersion) {
		utils.WriteError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		mh.logger.Error("Rollback failed", zap.Error(err), zap.String("target", req.Version))
		utils.WriteError(w, http.StatusInternalServerError, "failed to roll back model")
		return
	}
	utils.WriteOK(w, http.StatusOK, map[string]string{"active_version": version})
}
