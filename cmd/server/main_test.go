package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"talentai/learning/internal/config"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:   config.ServerConfig{Port: "0", AllowedOrigins: []string{"*"}},
		Database: config.DatabaseConfig{Driver: "sqlite", DSN: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())},
		Log:      config.LogConfig{Level: "error", Format: "console"},
		Model:    config.ModelConfig{ArtifactDir: t.TempDir(), RouteTTL: time.Minute},
		Learning: config.DefaultLearningConfig(),
		Maintenance: config.MaintenanceConfig{
			Schedule: "@every 1h",
			Backoff:  time.Second,
		},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	a, err := buildApp(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("buildApp failed: %v", err)
	}
	t.Cleanup(func() { a.shutdown(zap.NewNop()) })
	return a
}

func TestBuildAppServesProbes(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	for _, path := range []string{"/healthz", "/readyz", "/api/v1/learning/status", "/api/v1/learning/models"} {
		rec := httptest.NewRecorder()
		a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected %s to return 200, got %d: %s", path, rec.Code, rec.Body.String())
		}
	}
}

func TestBuildAppRecordsAndPredicts(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/learning/predict",
		strings.NewReader(`{"request_id":"req-1","text":"hello there"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected predict to succeed, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/learning/conversations",
		strings.NewReader(`{"request_id":"req-1","session_id":"s1","user_input":"hello there","predicted_intent":"greet","confidence":0.9,"response":"hi"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected conversation to be recorded, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		OK   bool `json:"ok"`
		Info struct {
			ConversationID uint `json:"conversation_id"`
		} `json:"info"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body.Info.ConversationID == 0 {
		t.Fatalf("expected a conversation id, got %+v (%v)", body, err)
	}
}

func TestBuildAppWithRedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	cfg := testConfig(t)
	cfg.Redis = config.RedisConfig{Addr: mr.Addr(), TTL: time.Minute}
	a := newTestApp(t, cfg)

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/learning/insights", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected insights to return 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(mr.Keys()) == 0 {
		t.Fatalf("expected insights to be cached in redis")
	}

	rec = httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if !strings.Contains(rec.Body.String(), `"cache":{"status":"ok"}`) {
		t.Fatalf("expected cache check in readiness, got %s", rec.Body.String())
	}
}

func TestOperatorRoutesRequireToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = "secret"
	a := newTestApp(t, cfg)

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/learning/retrain", strings.NewReader(`{}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rec.Code)
	}
}

func TestBuildAppRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "mysql"
	if _, err := buildApp(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatalf("expected an error for an unsupported driver")
	}
}
