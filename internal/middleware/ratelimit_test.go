package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func userRequest(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	return req.WithContext(ContextWithUserID(req.Context(), userID))
}

func signInRequest(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/signin/email", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func testRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    2,
		SignInRate:      1.0 / 3600.0,
		SignInBurst:     2,
		CleanupInterval: time.Minute,
	}
}

// --- GeneralMiddleware のテスト ---

func TestGeneralMiddleware_Returns429WhenLimitExceeded(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	// バースト分（2回）は通る
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, userRequest("user-1"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	// 3回目はレート制限に引っかかる
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, userRequest("user-1"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q, want RATE_LIMIT_EXCEEDED", body.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}
}

func TestGeneralMiddleware_IsolatesUsers(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), userRequest("user-A"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, userRequest("user-B"))
	if w.Code != http.StatusOK {
		t.Errorf("user-B status = %d, want %d", w.Code, http.StatusOK)
	}
	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("GeneralLimiterCount() = %d, want 2", rl.GeneralLimiterCount())
	}
}

func TestGeneralMiddleware_NoUser_Returns401(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	w := httptest.NewRecorder()
	rl.GeneralMiddleware()(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users/me", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// --- サインイン制限のテスト ---

func TestSignInMiddleware_LimitsPerIP(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.SignInMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, signInRequest("192.0.2.1:1234"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	// 送信元ポートが異なっても同じIPとして扱う
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, signInRequest("192.0.2.1:5678"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retry != 3600 {
		t.Errorf("Retry-After = %q, want 3600", w.Header().Get("Retry-After"))
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, signInRequest("198.51.100.7:1234"))
	if w.Code != http.StatusOK {
		t.Errorf("other IP status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAllowSignInEmail_LimitsPerEmail(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	if !rl.AllowSignInEmail("alice@example.com") || !rl.AllowSignInEmail("alice@example.com") {
		t.Fatal("first two requests should be allowed")
	}
	if rl.AllowSignInEmail("alice@example.com") {
		t.Error("third request should be rejected")
	}
	if !rl.AllowSignInEmail("bob@example.com") {
		t.Error("other email should be allowed")
	}
	if rl.SignInRetryAfter() != 3600 {
		t.Errorf("SignInRetryAfter() = %d, want 3600", rl.SignInRetryAfter())
	}
}

func TestDefaultRateLimiterConfig_SignInPerHour(t *testing.T) {
	cfg := DefaultRateLimiterConfig(5)

	if cfg.SignInBurst != 5 {
		t.Errorf("SignInBurst = %d, want 5", cfg.SignInBurst)
	}
	if got := float64(cfg.SignInRate) * 3600; got < 4.99 || got > 5.01 {
		t.Errorf("SignInRate per hour = %v, want 5", got)
	}

	if DefaultRateLimiterConfig(0).SignInBurst != 1 {
		t.Error("non-positive value should be clamped to 1")
	}
}

// --- クリーンアップのテスト ---

func TestRateLimiter_CleanupEvictsIdleEntries(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), userRequest("user-idle"))
	rl.AllowSignInEmail("idle@example.com")

	// 直後のクリーンアップでは削除されない
	rl.cleanup(time.Now())
	if rl.GeneralLimiterCount() != 1 || rl.SignInLimiterCount() != 1 {
		t.Fatalf("entries evicted too early: general=%d signin=%d", rl.GeneralLimiterCount(), rl.SignInLimiterCount())
	}

	// ユーザー単位は2*CleanupInterval、サインイン用はバースト補充時間を過ぎると削除される
	rl.cleanup(time.Now().Add(3 * time.Minute))
	if rl.GeneralLimiterCount() != 0 {
		t.Errorf("GeneralLimiterCount() = %d, want 0", rl.GeneralLimiterCount())
	}
	if rl.SignInLimiterCount() != 1 {
		t.Errorf("SignInLimiterCount() = %d, want 1", rl.SignInLimiterCount())
	}

	rl.cleanup(time.Now().Add(3 * time.Hour))
	if rl.SignInLimiterCount() != 0 {
		t.Errorf("SignInLimiterCount() = %d, want 0", rl.SignInLimiterCount())
	}
}
