package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/hitoshi/studyhub/internal/model"
)

func testRateConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    2,
		LoginRate:       1,
		LoginBurst:      3,
		CleanupInterval: time.Minute,
	}
}

// fixedClock はリミッターの時刻を固定し、トークンが補充されないようにする。
func fixedClock(rl *RateLimiter) *time.Time {
	now := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return &now
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestAs(userID int64) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	return req.WithContext(ContextWithPrincipal(req.Context(), model.Principal{ID: userID, Role: model.RoleTeacher}))
}

func loginFrom(addr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = addr
	return req
}

// --- GeneralMiddleware ---

func TestGeneralMiddleware_AllowsBurstThenRejects(t *testing.T) {
	rl := NewRateLimiter(testRateConfig())
	defer rl.Stop()
	fixedClock(rl)
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(1))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(1))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if ra := w.Header().Get("Retry-After"); ra != "1" {
		t.Errorf("Retry-After = %q, want %q", ra, "1")
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q, want %q", body.Code, "RATE_LIMIT_EXCEEDED")
	}
}

func TestGeneralMiddleware_IndependentPerUser(t *testing.T) {
	rl := NewRateLimiter(testRateConfig())
	defer rl.Stop()
	fixedClock(rl)
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestAs(1))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(2))
	if w.Code != http.StatusOK {
		t.Errorf("other user status = %d, want %d", w.Code, http.StatusOK)
	}
	if n := rl.GeneralLimiterCount(); n != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", n)
	}
}

func TestGeneralMiddleware_RequiresPrincipal(t *testing.T) {
	rl := NewRateLimiter(testRateConfig())
	defer rl.Stop()

	w := httptest.NewRecorder()
	rl.GeneralMiddleware()(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestGeneralMiddleware_RefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(testRateConfig())
	defer rl.Stop()
	now := fixedClock(rl)
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestAs(1))
	}
	*now = now.Add(time.Second)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(1))
	if w.Code != http.StatusOK {
		t.Errorf("status after refill = %d, want %d", w.Code, http.StatusOK)
	}
}

// --- LoginMiddleware ---

func TestLoginMiddleware_KeyedByClientIP(t *testing.T) {
	rl := NewRateLimiter(testRateConfig())
	defer rl.Stop()
	fixedClock(rl)
	handler := rl.LoginMiddleware()(okHandler())

	// 同一IPの別ポートは同じ枠を消費する
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, loginFrom("203.0.113.5:"+strconv.Itoa(40000+i)))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, loginFrom("203.0.113.5:50000"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, loginFrom("198.51.100.9:1234"))
	if w.Code != http.StatusOK {
		t.Errorf("other IP status = %d, want %d", w.Code, http.StatusOK)
	}
	if n := rl.LoginLimiterCount(); n != 2 {
		t.Errorf("LoginLimiterCount = %d, want 2", n)
	}
}

func TestLoginMiddleware_RetryAfterRoundsUp(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	cfg.LoginBurst = 1
	rl := NewRateLimiter(cfg)
	defer rl.Stop()
	fixedClock(rl)
	handler := rl.LoginMiddleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), loginFrom("203.0.113.5:1"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, loginFrom("203.0.113.5:1"))

	// 10 req/min は6秒に1トークン
	if ra := w.Header().Get("Retry-After"); ra != "6" {
		t.Errorf("Retry-After = %q, want %q", ra, "6")
	}
}

// --- cleanup ---

func TestCleanup_EvictsIdleEntries(t *testing.T) {
	rl := NewRateLimiter(testRateConfig())
	defer rl.Stop()
	now := fixedClock(rl)

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestAs(1))
	rl.LoginMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), loginFrom("203.0.113.5:1"))

	*now = now.Add(time.Minute)
	rl.cleanup()
	if rl.GeneralLimiterCount() != 1 || rl.LoginLimiterCount() != 1 {
		t.Fatal("entries within the TTL should be kept")
	}

	*now = now.Add(2 * time.Minute)
	rl.cleanup()
	if rl.GeneralLimiterCount() != 0 || rl.LoginLimiterCount() != 0 {
		t.Errorf("counts = (%d, %d), want (0, 0)", rl.GeneralLimiterCount(), rl.LoginLimiterCount())
	}
}

func TestStop_IsIdempotent(t *testing.T) {
	rl := NewRateLimiter(testRateConfig())
	rl.Stop()
	rl.Stop()
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	if cfg.GeneralBurst != 120 || cfg.LoginBurst != 10 {
		t.Errorf("bursts = (%d, %d), want (120, 10)", cfg.GeneralBurst, cfg.LoginBurst)
	}
}
