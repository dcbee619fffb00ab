package handlers

import (
	"context"
	"net/http"
	"time"

	"talentai/learning/internal/config"
	"talentai/learning/internal/tuning"
	"talentai/learning/internal/utils"
)

const readinessTimeout = 2 * time.Second

type ReadinessCheck struct {
	Status  string `json:"status"` // "ok" | "failed"
	Message string `json:"message,omitempty"`
}

type ReadinessResponse struct {
	Status  string                    `json:"status"`  // "ready" | "not_ready"
	Service string                    `json:"service"` // Service name
	Checks  map[string]ReadinessCheck `json:"checks"`  // Individual check results
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type ModelStatusProvider interface {
	Status() tuning.ModelStatus
}

type HealthHandler struct {
	store  Pinger
	cache  Pinger
	models ModelStatusProvider
	config *config.Config
}

// NewHealthHandler builds the probe handler. cache may be nil when redis is
// not configured.
func NewHealthHandler(store Pinger, cache Pinger, models ModelStatusProvider, cfg *config.Config) *HealthHandler {
	return &HealthHandler{
		store:  store,
		cache:  cache,
		models: models,
		config: cfg,
	}
}

func (handler *HealthHandler) HealthzHandler(writer http.ResponseWriter, request *http.Request) {
	utils.JSON(writer, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "learning",
		"version": "1.0.0",
	})
}

func (handler *HealthHandler) ReadyzHandler(writer http.ResponseWriter, request *http.Request) {
	ctx, cancel := context.WithTimeout(request.Context(), readinessTimeout)
	defer cancel()

	checks := make(map[string]ReadinessCheck)
	allChecksPass := true

	fail := func(name, msg string) {
		checks[name] = ReadinessCheck{Status: "failed", Message: msg}
		allChecksPass = false
	}

	switch {
	case handler.store == nil:
		fail("database", "Store not initialized")
	default:
		if err := handler.store.Ping(ctx); err != nil {
			fail("database", err.Error())
		} else {
			checks["database"] = ReadinessCheck{Status: "ok"}
		}
	}

	// the cache is optional and never fails readiness
	if handler.cache != nil {
		if err := handler.cache.Ping(ctx); err != nil {
			checks["cache"] = ReadinessCheck{Status: "degraded", Message: err.Error()}
		} else {
			checks["cache"] = ReadinessCheck{Status: "ok"}
		}
	}

	switch {
	case handler.models == nil:
		fail("model", "Model manager not initialized")
	case handler.models.Status().TotalModels == 0:
		fail("model", "No trained model available")
	default:
		checks["model"] = ReadinessCheck{Status: "ok"}
	}

	if handler.config == nil {
		fail("configuration", "Configuration not loaded")
	} else {
		checks["configuration"] = ReadinessCheck{Status: "ok"}
	}

	response := ReadinessResponse{
		Service: "learning",
		Checks:  checks,
	}

	if allChecksPass {
		response.Status = "ready"
		utils.JSON(writer, http.StatusOK, response)
	} else {
		response.Status = "not_ready"
		utils.JSON(writer, http.StatusServiceUnavailable, response)
	}
}
