package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// newChainRouter はルーターと同じ順序でミドルウェアを組み立てたテスト用ルーターを返す。
func newChainRouter(rl *RateLimiter) http.Handler {
	r := chi.NewRouter()
	r.Use(NewRecoveryMiddleware())
	r.Use(NewCORSMiddleware("http://localhost:3000"))
	r.Use(NewAuthMiddleware(&stubVerifier{userID: "user-chain"}))
	r.Use(rl.GeneralMiddleware())

	r.Get("/api/posts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"ok": "true"})
	})
	r.Group(func(r chi.Router) {
		r.Use(RequireAuth)
		r.With(rl.CommentMiddleware()).Post("/api/posts/{id}/comments", func(w http.ResponseWriter, r *http.Request) {
			userID, _ := UserIDFromContext(r.Context())
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"user_id": userID, "post_id": chi.URLParam(r, "id")})
		})
	})
	r.Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	return r
}

func TestMiddlewareChain_AnonymousRead(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{GeneralRate: 1, GeneralBurst: 10, CommentRate: 1, CommentBurst: 2, CleanupInterval: time.Minute})
	defer rl.Stop()

	w := httptest.NewRecorder()
	newChainRouter(rl).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/posts", nil))

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if got := w.Result().Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestMiddlewareChain_CommentRequiresAuth(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{GeneralRate: 1, GeneralBurst: 10, CommentRate: 1, CommentBurst: 2, CleanupInterval: time.Minute})
	defer rl.Stop()
	router := newChainRouter(rl)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/posts/p1/comments", nil))
	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous: status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/posts/p1/comments", nil)
	req.Header.Set("Authorization", "Bearer good")
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req)
	if w2.Result().StatusCode != http.StatusCreated {
		t.Fatalf("authenticated: status = %d, want %d", w2.Result().StatusCode, http.StatusCreated)
	}
	var body map[string]string
	if err := json.NewDecoder(w2.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body["user_id"] != "user-chain" || body["post_id"] != "p1" {
		t.Errorf("body = %v", body)
	}
}

func TestMiddlewareChain_CommentLimitAfterBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{GeneralRate: 1, GeneralBurst: 10, CommentRate: 0.01, CommentBurst: 2, CleanupInterval: time.Minute})
	defer rl.Stop()
	router := newChainRouter(rl)

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/posts/p1/comments", nil)
		req.Header.Set("Authorization", "Bearer good")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		last = w.Result().StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third comment: status = %d, want %d", last, http.StatusTooManyRequests)
	}
}

func TestMiddlewareChain_PanicRecovered(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{GeneralRate: 1, GeneralBurst: 10, CommentRate: 1, CommentBurst: 2, CleanupInterval: time.Minute})
	defer rl.Stop()

	w := httptest.NewRecorder()
	newChainRouter(rl).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	if w.Result().StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusInternalServerError)
	}
	if code := decodeErrorCode(t, w); code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", code)
	}
}
