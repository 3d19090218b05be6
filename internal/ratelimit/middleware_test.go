package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func cartBudget(limiter Limiter, max int) Handler {
	return Handler{
		Limiter: limiter,
		Config: Config{
			Key:    func(*http.Request) string { return "session" },
			Window: time.Second,
			Max:    max,
		},
	}
}

func TestMiddlewareShedsOverBudget(t *testing.T) {
	limiter, _ := newLimiter(t)
	wrapped := cartBudget(limiter, 1).Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/cart/items", nil)

	first := httptest.NewRecorder()
	wrapped.ServeHTTP(first, req.Clone(req.Context()))
	if first.Code != http.StatusNoContent {
		t.Fatalf("first request within budget, got %d", first.Code)
	}
	if got := first.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("remaining header: got %q", got)
	}

	second := httptest.NewRecorder()
	wrapped.ServeHTTP(second, req.Clone(req.Context()))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("over-budget request must get 429, got %d", second.Code)
	}
	if got := second.Header().Get("X-RateLimit-Limit"); got != "1" {
		t.Fatalf("limit header: got %q", got)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatal("rejected response must carry Retry-After")
	}
}

func TestMiddlewareFailsOpenOnRedisError(t *testing.T) {
	dead := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer func() { _ = dead.Close() }()

	handler := cartBudget(Limiter{Client: dead, Prefix: "test:"}, 1)
	var seen error
	handler.OnError = func(err error) { seen = err }

	wrapped := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cart/items", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("limiter outage must not block the cart, got %d", rec.Code)
	}
	if seen == nil {
		t.Fatal("OnError must receive the limiter error")
	}
}

func TestMiddlewareWithoutKeyPassesThrough(t *testing.T) {
	wrapped := Handler{}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cart", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("keyless handler must pass through, got %d", rec.Code)
	}
}
