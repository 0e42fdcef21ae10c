package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func testRateLimiterConfig(generalBurst, commentBurst int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    generalBurst,
		CommentRate:     0.1,
		CommentBurst:    commentBurst,
		CleanupInterval: 1 * time.Minute,
	}
}

func requestAsUser(method, path, userID string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	if userID != "" {
		req = req.WithContext(context.WithValue(req.Context(), userIDContextKey, userID))
	}
	return req
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// --- GeneralMiddleware (API全般) のテスト ---

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(5, 10))
	defer rl.Stop()

	handlerCallCount := 0
	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAsUser(http.MethodGet, "/api/posts", "user-1"))

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	if handlerCallCount != 5 {
		t.Errorf("handler call count = %d, want 5", handlerCallCount)
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfterHeader(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(2, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestAsUser(http.MethodGet, "/api/posts", "user-2"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAsUser(http.MethodGet, "/api/posts", "user-2"))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}

	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		t.Fatal("expected Retry-After header")
	}
	sec, err := strconv.Atoi(retryAfter)
	if err != nil || sec < 1 {
		t.Errorf("Retry-After = %q, want positive integer", retryAfter)
	}
}

func TestRateLimitMiddleware_IsolatesUserRateLimits(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(1, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	wA := httptest.NewRecorder()
	handler.ServeHTTP(wA, requestAsUser(http.MethodGet, "/api/posts", "user-a"))
	if wA.Result().StatusCode != http.StatusOK {
		t.Fatalf("user-a first request: status = %d", wA.Result().StatusCode)
	}

	// user-aの上限到達はuser-bに影響しない
	wB := httptest.NewRecorder()
	handler.ServeHTTP(wB, requestAsUser(http.MethodGet, "/api/posts", "user-b"))
	if wB.Result().StatusCode != http.StatusOK {
		t.Errorf("user-b: status = %d, want %d", wB.Result().StatusCode, http.StatusOK)
	}

	wA2 := httptest.NewRecorder()
	handler.ServeHTTP(wA2, requestAsUser(http.MethodGet, "/api/posts", "user-a"))
	if wA2.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("user-a second request: status = %d, want %d", wA2.Result().StatusCode, http.StatusTooManyRequests)
	}
}

func TestRateLimitMiddleware_AnonymousKeyedByClientIP(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(1, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	send := func(remoteAddr string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
		req.RemoteAddr = remoteAddr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Result().StatusCode
	}

	if got := send("10.0.0.1:1111"); got != http.StatusOK {
		t.Fatalf("first request: status = %d", got)
	}
	// ポートが違っても同一ホストは同じ枠を共有する
	if got := send("10.0.0.1:2222"); got != http.StatusTooManyRequests {
		t.Errorf("same host: status = %d, want %d", got, http.StatusTooManyRequests)
	}
	if got := send("10.0.0.2:1111"); got != http.StatusOK {
		t.Errorf("other host: status = %d, want %d", got, http.StatusOK)
	}
	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", rl.GeneralLimiterCount())
	}
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	if got := clientKey(req); got != "ip:192.0.2.7" {
		t.Errorf("clientKey = %q, want %q", got, "ip:192.0.2.7")
	}

	req.RemoteAddr = "no-port"
	if got := clientKey(req); got != "ip:no-port" {
		t.Errorf("clientKey = %q, want %q", got, "ip:no-port")
	}

	authed := requestAsUser(http.MethodGet, "/", "user-9")
	if got := clientKey(authed); got != "user:user-9" {
		t.Errorf("clientKey = %q, want %q", got, "user:user-9")
	}
}

// --- CommentMiddleware のテスト ---

func TestCommentRateLimit_Returns429WhenLimitExceeded(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(100, 2))
	defer rl.Stop()

	handler := rl.CommentMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAsUser(http.MethodPost, "/api/posts/p/comments", "user-c"))
		if w.Result().StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAsUser(http.MethodPost, "/api/posts/p/comments", "user-c"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusTooManyRequests)
	}
	if rl.CommentLimiterCount() != 1 {
		t.Errorf("CommentLimiterCount = %d, want 1", rl.CommentLimiterCount())
	}
}

func TestCommentRateLimit_NoUserID_Returns401(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(100, 2))
	defer rl.Stop()

	w := httptest.NewRecorder()
	rl.CommentMiddleware()(okHandler()).ServeHTTP(w, requestAsUser(http.MethodPost, "/api/posts/p/comments", ""))

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestCommentRateLimit_IndependentFromGeneralLimit(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(100, 1))
	defer rl.Stop()

	general := rl.GeneralMiddleware()(okHandler())
	comment := rl.CommentMiddleware()(okHandler())

	comment.ServeHTTP(httptest.NewRecorder(), requestAsUser(http.MethodPost, "/api/posts/p/comments", "user-d"))

	// コメント枠を使い切っても一般APIは通る
	w := httptest.NewRecorder()
	general.ServeHTTP(w, requestAsUser(http.MethodGet, "/api/posts", "user-d"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("general request: status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	w2 := httptest.NewRecorder()
	comment.ServeHTTP(w2, requestAsUser(http.MethodPost, "/api/posts/p/comments", "user-d"))
	if w2.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("comment request: status = %d, want %d", w2.Result().StatusCode, http.StatusTooManyRequests)
	}
}

// --- 429レスポンスフォーマットのテスト ---

func TestRateLimitMiddleware_429ResponseIsJSON(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(1, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), requestAsUser(http.MethodGet, "/api/posts", "user-json"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAsUser(http.MethodGet, "/api/posts", "user-json"))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != ErrCodeRateLimitExceeded {
		t.Errorf("code = %q, want %q", body.Code, ErrCodeRateLimitExceeded)
	}
	if body.Category != "system" {
		t.Errorf("category = %q, want %q", body.Category, "system")
	}
}

// --- クリーンアップのテスト ---

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	cfg := testRateLimiterConfig(5, 10)
	cfg.CleanupInterval = 50 * time.Millisecond // テスト用に短く

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestAsUser(http.MethodGet, "/api/posts", "user-cleanup"))
	rl.CommentMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestAsUser(http.MethodPost, "/api/posts/p/comments", "user-cleanup"))

	if rl.GeneralLimiterCount() == 0 || rl.CommentLimiterCount() == 0 {
		t.Fatal("expected limiter entries")
	}

	// TTLはCleanupIntervalの2倍（100ms）
	time.Sleep(300 * time.Millisecond)

	if count := rl.GeneralLimiterCount(); count != 0 {
		t.Errorf("expected 0 general entries after cleanup, got %d", count)
	}
	if count := rl.CommentLimiterCount(); count != 0 {
		t.Errorf("expected 0 comment entries after cleanup, got %d", count)
	}
}

// --- デフォルト設定値のテスト ---

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralRate != 2.0 { // 120/60 = 2
		t.Errorf("GeneralRate = %f, want 2.0", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.CommentRate == 0 {
		t.Error("CommentRate should not be 0")
	}
	if cfg.CommentBurst != 10 {
		t.Errorf("CommentBurst = %d, want 10", cfg.CommentBurst)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}

func TestPerMinuteRateLimiterConfig(t *testing.T) {
	cfg := PerMinuteRateLimiterConfig(60, 6)

	if cfg.GeneralRate != 1.0 {
		t.Errorf("GeneralRate = %f, want 1.0", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 60 || cfg.CommentBurst != 6 {
		t.Errorf("bursts = %d/%d, want 60/6", cfg.GeneralBurst, cfg.CommentBurst)
	}
	if cfg.CommentRate != 0.1 {
		t.Errorf("CommentRate = %f, want 0.1", cfg.CommentRate)
	}
}
