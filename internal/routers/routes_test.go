package routers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"talentai/learning/internal/config"
	"talentai/learning/internal/handlers"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func TestHealthRoutes(t *testing.T) {
	router := chi.NewRouter()
	handler := handlers.NewHealthHandler(nil, nil, nil, &config.Config{})

	HealthRoutes(router, handler)

	for _, path := range []string{"/healthz", "/metrics"} {
		req, _ := http.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s route not registered correctly, got status %d", path, rec.Code)
		}
	}
}

func TestLearningRoutesRegistersEndpoints(t *testing.T) {
	router := chi.NewRouter()
	logger := zap.NewNop()
	LearningRoutes(router, handlers.NewLearningHandler(nil, logger), handlers.NewModelHandler(nil, logger), "")

	paths := map[string]bool{}
	if err := chi.Walk(router, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		paths[method+" "+route] = true
		return nil
	}); err != nil {
		t.Fatalf("failed walking routes: %v", err)
	}

	expected := []string{
		"POST /api/v1/learning/conversations",
		"POST /api/v1/learning/conversations/{id}/feedback",
		"POST /api/v1/learning/conversations/{id}/behavior",
		"POST /api/v1/learning/predict",
		"GET /api/v1/learning/status",
		"GET /api/v1/learning/insights",
		"GET /api/v1/learning/performance",
		"GET /api/v1/learning/models",
		"GET /api/v1/learning/experiment",
		"POST /api/v1/learning/retrain",
		"PUT /api/v1/learning/config",
		"POST /api/v1/learning/rollback",
	}

	for _, route := range expected {
		if !paths[route] {
			t.Fatalf("expected route %s to be registered", route)
		}
	}
}

func TestOperatorRoutesRequireToken(t *testing.T) {
	router := chi.NewRouter()
	logger := zap.NewNop()
	LearningRoutes(router, handlers.NewLearningHandler(nil, logger), handlers.NewModelHandler(nil, logger), "secret")

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/learning/retrain"},
		{http.MethodPut, "/api/v1/learning/config"},
		{http.MethodPost, "/api/v1/learning/rollback"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, bytes.NewBufferString(`{}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401 without token, got %d", tc.method, tc.path, rec.Code)
		}
	}
}
