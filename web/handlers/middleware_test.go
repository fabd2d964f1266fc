package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relkit/relkit/internal/config"
	"github.com/relkit/relkit/web/handlers"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuth_SkipInDevelopmentMode(t *testing.T) {
	cfg := &config.Config{
		Security: config.SecurityConfig{
			Mode:     "development",
			APIToken: "secret",
		},
	}

	handler := handlers.RequireAuth(okHandler(), cfg)

	req := httptest.NewRequest("GET", "/api/relations", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAuth_RejectMissingToken(t *testing.T) {
	cfg := &config.Config{
		Security: config.SecurityConfig{
			Mode:     "production",
			APIToken: "secret",
		},
	}

	handler := handlers.RequireAuth(okHandler(), cfg)

	req := httptest.NewRequest("GET", "/api/relations", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAuth_RejectWrongToken(t *testing.T) {
	cfg := &config.Config{
		Security: config.SecurityConfig{
			Mode:     "production",
			APIToken: "secret",
		},
	}

	handler := handlers.RequireAuth(okHandler(), cfg)

	req := httptest.NewRequest("GET", "/api/relations", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAuth_AcceptValidToken(t *testing.T) {
	cfg := &config.Config{
		Security: config.SecurityConfig{
			Mode:     "production",
			APIToken: "secret",
		},
	}

	handler := handlers.RequireAuth(okHandler(), cfg)

	req := httptest.NewRequest("GET", "/api/relations", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAuth_RejectWhenTokenUnconfigured(t *testing.T) {
	cfg := &config.Config{
		Security: config.SecurityConfig{
			Mode: "production",
		},
	}

	handler := handlers.RequireAuth(okHandler(), cfg)

	req := httptest.NewRequest("GET", "/api/relations", nil)
	req.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimitMiddleware_EnforcesLimit(t *testing.T) {
	// Tiny burst so the limit trips immediately.
	rl := handlers.NewRateLimiter(1.0, 2)
	handler := handlers.RateLimitMiddleware(okHandler(), rl)

	var limited bool
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/api/relations", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			limited = true
		}
	}

	assert.True(t, limited, "expected at least one request to be rate limited")
}

func TestRateLimitMiddleware_AllowsWithinBurst(t *testing.T) {
	rl := handlers.NewRateLimiter(100.0, 10)
	handler := handlers.RateLimitMiddleware(okHandler(), rl)

	req := httptest.NewRequest("GET", "/api/relations", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	handler := handlers.SecurityHeadersMiddleware(okHandler())

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
}
