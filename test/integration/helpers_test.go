package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/database"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/domain"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/http/handler"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/http/middleware"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/http/router"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/repository"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/risk"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/service"
)

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type fixedAssessor float64

func (f fixedAssessor) Assess(context.Context, risk.Input) (risk.Assessment, error) {
	return risk.Assessment{Score: float64(f), Reasoning: "fixed", Source: "test"}, nil
}

type testServerOptions struct {
	assessor     risk.Assessor
	writeLimiter *middleware.RateLimiter
	idempotency  service.IdempotencyStore
}

func newTestServer(t *testing.T, opts testServerOptions) (string, *http.Client) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy, err := service.NewApproverPolicy(map[domain.RiskLevel][]string{
		domain.RiskLevelLow:      {"peer-reviewer@company.com"},
		domain.RiskLevelMedium:   {"team-lead@company.com"},
		domain.RiskLevelHigh:     {"senior-engineer@company.com"},
		domain.RiskLevelCritical: {"security-lead@company.com"},
	}, []string{"cto@company.com"})
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	assessor := opts.assessor
	if assessor == nil {
		assessor = risk.NewHeuristicAssessor()
	}

	repo := repository.NewFeatureFlagRepository(db)
	machine := service.NewFlagStateMachine()
	registry := service.NewFlagRegistry(
		repo,
		risk.NewGuarded(assessor, time.Second, quiet),
		service.NewApprovalRouter(policy, machine),
		machine,
		service.NewRuntimeSnapshotCacheForRepository(repo, service.NewInMemoryRuntimeSnapshotStore(), time.Minute, quiet),
		quiet,
	)

	h := router.NewRouter(router.Dependencies{
		FlagHandler:      handler.NewFlagHandler(registry),
		ApprovalHandler:  handler.NewApprovalHandler(registry),
		RuntimeHandler:   handler.NewRuntimeHandler(registry),
		HealthHandler:    handler.NewHealthHandler("test", nil),
		Logger:           quiet,
		WriteLimiter:     opts.writeLimiter,
		IdempotencyStore: opts.idempotency,
		IdempotencyTTL:   time.Hour,
		CORSOrigins:      []string{"http://localhost:5173"},
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv.URL, srv.Client()
}

func doRawText(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, string) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(raw)
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, apiEnvelope) {
	t.Helper()
	resp, raw := doRawText(t, client, method, url, body, headers)
	var env apiEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("decode envelope: %v body=%q", err, raw)
	}
	return resp, env
}

func mustDecode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode data: %v raw=%s", err, raw)
	}
	return v
}

func expectError(t *testing.T, resp *http.Response, env apiEnvelope, status int, code string) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("expected %d, got %d (%#v)", status, resp.StatusCode, env.Error)
	}
	if env.Error == nil || env.Error.Code != code {
		t.Fatalf("expected code %s, got %#v", code, env.Error)
	}
}

func checkoutFlagBody(name string) map[string]any {
	return map[string]any{
		"name":         name,
		"description":  "New checkout UI",
		"created_by":   "dev@company.com",
		"code_changes": "Update button color on checkout page",
		"scope":        "frontend",
		"config":       map[string]any{"rollout_percentage": 10},
	}
}
