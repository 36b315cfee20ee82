package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/hitoshi/loopin/internal/model"
)

func testRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		AuthRate:        1, // 1 req/sec
		AuthBurst:       2,
		GeneralRate:     1,
		GeneralBurst:    3,
		CleanupInterval: time.Minute,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func authRequest(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func callerRequest(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	caller := onboardedCaller(userID)
	caller.Subject = "sub-" + userID
	return req.WithContext(ContextWithCaller(req.Context(), caller))
}

// --- AuthMiddleware (クライアントIP単位) のテスト ---

func TestAuthRateLimit_Returns429WhenLimitExceeded(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.AuthMiddleware()(okHandler())

	// バースト分（2回）は通る
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, authRequest("203.0.113.1:5000"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	// 同じIPの別ポートでも同じリミッターを使う
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authRequest("203.0.113.1:6000"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want %q", got, "1")
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeRateLimitExceeded {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRateLimitExceeded)
	}
}

func TestAuthRateLimit_IndependentPerIP(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.AuthMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), authRequest("203.0.113.1:5000"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authRequest("198.51.100.7:5000"))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := rl.AuthLimiterCount(); got != 2 {
		t.Errorf("AuthLimiterCount() = %d, want 2", got)
	}
}

// --- GeneralMiddleware (呼び出し元単位) のテスト ---

func TestGeneralRateLimit_Returns429WhenLimitExceeded(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, callerRequest("user-1"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, callerRequest("user-1"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	// 別の呼び出し元は影響を受けない
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, callerRequest("user-2"))
	if w.Code != http.StatusOK {
		t.Errorf("other caller: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestGeneralRateLimit_RequiresCaller(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	w := httptest.NewRecorder()
	rl.GeneralMiddleware()(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/me", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestRateLimiter_Cleanup_EvictsIdleEntries(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	rl.AuthMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), authRequest("203.0.113.1:5000"))
	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), callerRequest("user-1"))

	rl.cleanup(time.Now())
	if rl.AuthLimiterCount() != 1 || rl.GeneralLimiterCount() != 1 {
		t.Fatalf("recent entries should survive cleanup: auth=%d general=%d", rl.AuthLimiterCount(), rl.GeneralLimiterCount())
	}

	rl.cleanup(time.Now().Add(3 * time.Minute))
	if rl.AuthLimiterCount() != 0 || rl.GeneralLimiterCount() != 0 {
		t.Errorf("idle entries should be evicted: auth=%d general=%d", rl.AuthLimiterCount(), rl.GeneralLimiterCount())
	}
}

func TestNewRateLimiterConfig_ConvertsPerMinute(t *testing.T) {
	cfg := NewRateLimiterConfig(30, 120)

	if cfg.AuthRate != 0.5 || cfg.AuthBurst != 30 {
		t.Errorf("auth = %v/%d, want 0.5/30", cfg.AuthRate, cfg.AuthBurst)
	}
	if cfg.GeneralRate != 2 || cfg.GeneralBurst != 120 {
		t.Errorf("general = %v/%d, want 2/120", cfg.GeneralRate, cfg.GeneralBurst)
	}
	if DefaultRateLimiterConfig() != cfg {
		t.Error("DefaultRateLimiterConfig() should match 30/120 req/min")
	}
}

func TestWriteRateLimitResponse_RetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	writeRateLimitResponse(w, NewRateLimiterConfig(30, 120).AuthRate)

	got, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || got != 2 {
		t.Errorf("Retry-After = %q, want 2", w.Header().Get("Retry-After"))
	}
}
