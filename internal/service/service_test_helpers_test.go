package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/database"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/domain"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/repository"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/risk"
)

func newServiceDBForTest(t *testing.T) *gorm.DB {
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
	return db
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func defaultPolicyForTest(t *testing.T) *ApproverPolicy {
	t.Helper()
	p, err := NewApproverPolicy(map[domain.RiskLevel][]string{
		domain.RiskLevelLow:      {"peer-reviewer@company.com"},
		domain.RiskLevelMedium:   {"team-lead@company.com"},
		domain.RiskLevelHigh:     {"senior-engineer@company.com"},
		domain.RiskLevelCritical: {"security-lead@company.com"},
	}, []string{"cto@company.com"})
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	return p
}

type stubRiskAssessor struct {
	assessFn func(ctx context.Context, in risk.Input) (risk.Assessment, error)
}

func (s *stubRiskAssessor) Assess(ctx context.Context, in risk.Input) (risk.Assessment, error) {
	return s.assessFn(ctx, in)
}

func fixedScore(score float64) *stubRiskAssessor {
	return &stubRiskAssessor{assessFn: func(context.Context, risk.Input) (risk.Assessment, error) {
		return risk.Assessment{Score: score, Reasoning: "stub", Source: "stub"}, nil
	}}
}

type registryFixture struct {
	registry FlagRegistry
	repo     repository.FeatureFlagRepository
	runtime  *RuntimeSnapshotCache
}

func newRegistryForTest(t *testing.T, assessor risk.Assessor, timeout time.Duration) registryFixture {
	t.Helper()
	repo := repository.NewFeatureFlagRepository(newServiceDBForTest(t))
	machine := NewFlagStateMachine()
	runtime := NewRuntimeSnapshotCacheForRepository(repo, NewInMemoryRuntimeSnapshotStore(), time.Minute, quietLogger())
	registry := NewFlagRegistry(
		repo,
		risk.NewGuarded(assessor, timeout, quietLogger()),
		NewApprovalRouter(defaultPolicyForTest(t), machine),
		machine,
		runtime,
		quietLogger(),
	)
	return registryFixture{registry: registry, repo: repo, runtime: runtime}
}

func validCreateInput(name string) CreateFlagInput {
	return CreateFlagInput{
		Name:              name,
		Description:       "New checkout UI",
		CodeChanges:       "Update button color on checkout page",
		Scope:             "frontend",
		CreatedBy:         "dev@company.com",
		RolloutPercentage: 10,
	}
}
