package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type mockLimiter struct {
	allow bool
	retry time.Duration
	err   error
}

func (m mockLimiter) Allow(context.Context, string, int, time.Duration) (bool, time.Duration, error) {
	return m.allow, m.retry, m.err
}

type recordingLimiter struct {
	lastKey string
	calls   int
	allow   bool
}

func (r *recordingLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, time.Duration, error) {
	r.lastKey = key
	r.calls++
	return r.allow, 0, nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestDistributedRateLimiterFailOpenOnBackendError(t *testing.T) {
	rl := NewDistributedRateLimiter(mockLimiter{err: errors.New("redis down")}, 10, time.Minute, FailOpen, "api")
	req := httptest.NewRequest(http.MethodPost, "/api/flags/", nil)
	req.RemoteAddr = "10.0.0.1:1111"
	rr := httptest.NewRecorder()
	rl.Middleware()(okHandler()).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected fail-open to allow request, got %d", rr.Code)
	}
}

func TestDistributedRateLimiterFailClosedOnBackendError(t *testing.T) {
	rl := NewDistributedRateLimiter(mockLimiter{err: errors.New("redis down")}, 10, time.Minute, FailClosed, "writes")
	req := httptest.NewRequest(http.MethodPatch, "/api/approvals/1", nil)
	req.RemoteAddr = "10.0.0.1:1111"
	rr := httptest.NewRecorder()
	rl.Middleware()(okHandler()).ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected fail-closed to reject request, got %d", rr.Code)
	}
}

func TestDistributedRateLimiterDeniedSetsRetryAfter(t *testing.T) {
	rl := NewDistributedRateLimiter(mockLimiter{allow: false, retry: 5 * time.Second}, 1, time.Minute, FailClosed, "api")
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.RemoteAddr = "10.0.0.1:1111"
	rr := httptest.NewRecorder()
	rl.Middleware()(okHandler()).ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "5" {
		t.Fatalf("expected Retry-After 5, got %q", got)
	}
}

func TestRateLimiterSkipsReadsAndBypassedRequests(t *testing.T) {
	limiter := &recordingLimiter{allow: false}
	rl := NewDistributedRateLimiter(limiter, 1, time.Minute, FailClosed, "writes").
		WithBypass(NewRequestBypassEvaluator(RequestBypassConfig{TrustedCIDRs: []string{"10.1.0.0/16"}}))
	h := rl.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/runtime/check", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || limiter.calls != 0 {
		t.Fatalf("reads must not be limited, code=%d calls=%d", rr.Code, limiter.calls)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/flags/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || limiter.calls != 0 {
		t.Fatalf("trusted cidr must bypass, code=%d calls=%d", rr.Code, limiter.calls)
	}
}

func TestActorOrIPKey(t *testing.T) {
	limiter := &recordingLimiter{allow: true}
	rl := NewDistributedRateLimiter(limiter, 5, time.Minute, FailClosed, "writes")
	h := rl.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodPatch, "/api/approvals/1", nil)
	req.RemoteAddr = "10.0.0.9:1234"
	req.Header.Set("X-Approver-Id", "Team-Lead@Company.com")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if limiter.lastKey != "writes:actor:team-lead@company.com" {
		t.Fatalf("expected actor key, got %q", limiter.lastKey)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/flags/", nil)
	req.RemoteAddr = "10.0.0.9:1234"
	h.ServeHTTP(httptest.NewRecorder(), req)
	if limiter.lastKey != "writes:10.0.0.9" {
		t.Fatalf("expected ip key, got %q", limiter.lastKey)
	}
}

func TestLocalFixedWindowLimiter(t *testing.T) {
	l := NewLocalFixedWindowLimiter()
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if ok, _, _ := l.Allow(ctx, "k", 2, time.Minute); !ok {
			t.Fatalf("request %d should pass", i)
		}
	}
	ok, retry, err := l.Allow(ctx, "k", 2, time.Minute)
	if ok || err != nil || retry <= 0 {
		t.Fatalf("expected denial with retry, got ok=%v retry=%v err=%v", ok, retry, err)
	}
	if ok, _, _ := l.Allow(ctx, "other", 2, time.Minute); !ok {
		t.Fatal("keys must be independent")
	}
}
