package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"talentai/learning/internal/utils"
)

func protected(t *testing.T, secret string) (http.Handler, *bool) {
	t.Helper()
	called := false
	return RequireJWT(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if secret != "" && Claims(r)["sub"] != "operator" {
			t.Fatalf("expected operator subject, got %v", Claims(r))
		}
		w.WriteHeader(http.StatusNoContent)
	})), &called
}

func TestRequireJWT(t *testing.T) {
	const secret = "s3cret"

	t.Run("disabled without secret", func(t *testing.T) {
		handler, called := protected(t, "")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/retrain", nil))
		if !*called || rec.Code != http.StatusNoContent {
			t.Fatalf("expected passthrough, got %d", rec.Code)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		handler, called := protected(t, secret)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/retrain", nil))
		if *called || rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := utils.SignToken("other", "operator")
		if err != nil {
			t.Fatalf("SignToken returned error: %v", err)
		}
		handler, called := protected(t, secret)
		req := httptest.NewRequest(http.MethodPost, "/retrain", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if *called || rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := utils.SignToken(secret, "operator")
		if err != nil {
			t.Fatalf("SignToken returned error: %v", err)
		}
		handler, called := protected(t, secret)
		req := httptest.NewRequest(http.MethodPost, "/retrain", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if !*called || rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}
	})
}
