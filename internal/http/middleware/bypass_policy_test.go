package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewRequestBypassEvaluatorIgnoresInvalidCIDRsAndCanReturnNil(t *testing.T) {
	eval := NewRequestBypassEvaluator(RequestBypassConfig{
		TrustedCIDRs: []string{"not-a-cidr", "", "300.1.1.1/8"},
	})
	if eval != nil {
		t.Fatal("expected nil evaluator when no valid cidrs and probes disabled")
	}
}

func TestRequestBypassEvaluatorMethodPathAndNilRequest(t *testing.T) {
	eval := NewRequestBypassEvaluator(RequestBypassConfig{EnableInternalProbeBypass: true})
	if eval == nil {
		t.Fatal("expected evaluator")
	}
	if bypass, reason := eval(nil); bypass || reason != "" {
		t.Fatalf("nil request should not bypass, got bypass=%v reason=%q", bypass, reason)
	}

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	if bypass, reason := eval(req); !bypass || reason != "internal_probe_path" {
		t.Fatalf("health should bypass regardless of method, got bypass=%v reason=%q", bypass, reason)
	}
	req = httptest.NewRequest(http.MethodGet, "/Health/Ready", nil)
	if bypass, reason := eval(req); !bypass || reason != "internal_probe_path" {
		t.Fatalf("path matching should be case-insensitive, got bypass=%v reason=%q", bypass, reason)
	}
	req = httptest.NewRequest(http.MethodPost, "/api/flags/", nil)
	if bypass, reason := eval(req); bypass || reason != "" {
		t.Fatalf("api path should not bypass, got bypass=%v reason=%q", bypass, reason)
	}
}

func TestRequestBypassEvaluatorTrustedCIDR(t *testing.T) {
	eval := NewRequestBypassEvaluator(RequestBypassConfig{TrustedCIDRs: []string{" 192.168.0.0/16 ", "bad"}})
	if eval == nil {
		t.Fatal("expected evaluator")
	}
	req := httptest.NewRequest(http.MethodPost, "/api/flags/", nil)
	req.RemoteAddr = "192.168.4.2:9000"
	if bypass, reason := eval(req); !bypass || reason != "trusted_cidr" {
		t.Fatalf("expected trusted cidr bypass, got bypass=%v reason=%q", bypass, reason)
	}
	req.RemoteAddr = "8.8.8.8"
	if bypass, _ := eval(req); bypass {
		t.Fatal("untrusted address must not bypass")
	}
	req.RemoteAddr = ""
	if bypass, _ := eval(req); bypass {
		t.Fatal("missing address must not bypass")
	}
}
