package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/http/middleware"
)

func TestWriteRateLimitLeavesRuntimeChecksAlone(t *testing.T) {
	limiter := middleware.NewRateLimiter(2, time.Minute)
	baseURL, client := newTestServer(t, testServerOptions{assessor: fixedAssessor(10), writeLimiter: limiter})
	actor := map[string]string{"X-Actor-Id": "dev@company.com"}

	for i, name := range []string{"a", "b"} {
		resp, _ := doRawText(t, client, http.MethodPost, baseURL+"/api/flags/", checkoutFlagBody(name), actor)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("expected write %d to pass, got %d", i+1, resp.StatusCode)
		}
	}
	resp, env := doJSON(t, client, http.MethodPost, baseURL+"/api/flags/", checkoutFlagBody("c"), actor)
	expectError(t, resp, env, http.StatusTooManyRequests, "RATE_LIMITED")
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	resp, _ = doRawText(t, client, http.MethodPost, baseURL+"/api/flags/", checkoutFlagBody("d"), map[string]string{"X-Actor-Id": "other@company.com"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("other actors keep their own quota, got %d", resp.StatusCode)
	}

	for i := 0; i < 5; i++ {
		resp, _ := doRawText(t, client, http.MethodGet, baseURL+"/api/runtime/check?flag_name=a&user_id=u", nil, actor)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("runtime checks must not be limited, got %d", resp.StatusCode)
		}
	}
}
