package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterEnforcesBurst(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 2}, nil)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/evidence", nil)
		req.RemoteAddr = "10.0.0.1:4000"
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)
		codes = append(codes, recorder.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("burst requests rejected: %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("third request not limited: %v", codes)
	}

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/evidence", nil)
	req.RemoteAddr = "10.0.0.2:4000"
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("second client limited: %d", recorder.Code)
	}
}

func TestRateLimiterHonoursForwardedFor(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 1}, nil)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/evidence", nil)
		req.RemoteAddr = "127.0.0.1:9999"
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)
		if recorder.Code != want {
			t.Fatalf("request %d: got %d want %d", i, recorder.Code, want)
		}
	}
}

func TestRateLimiterPrunesIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 1}, nil)
	current := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }

	limiter.obtainLimiter("1.2.3.4")
	if len(limiter.visitors) != 1 {
		t.Fatalf("expected 1 visitor, got %d", len(limiter.visitors))
	}

	current = current.Add(2 * time.Hour)
	limiter.obtainLimiter("5.6.7.8")
	if _, ok := limiter.visitors["1.2.3.4"]; ok {
		t.Fatal("idle visitor not pruned")
	}
}
