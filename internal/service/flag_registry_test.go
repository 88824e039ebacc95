package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/domain"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/repository"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/risk"
)

func TestFlagRegistryCheckoutScenario(t *testing.T) {
	fx := newRegistryForTest(t, fixedScore(10), time.Second)
	ctx := context.Background()

	in := validCreateInput("new-checkout-flow")
	flag, err := fx.registry.Create(ctx, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if flag.Status != domain.FlagStatusPending || flag.RiskLevel != domain.RiskLevelLow {
		t.Fatalf("expected pending/low, got %s/%s", flag.Status, flag.RiskLevel)
	}
	if flag.RequiredApprover != "peer-reviewer@company.com" {
		t.Fatalf("expected peer reviewer, got %q", flag.RequiredApprover)
	}
	if flag.RiskAnalysis == nil || flag.RiskAnalysis.RiskScore != 10 {
		t.Fatalf("expected stored risk analysis, got %+v", flag.RiskAnalysis)
	}

	pending, err := fx.registry.ListApprovals(ctx, ApprovalFilter{ApproverID: "peer-reviewer@company.com", Status: domain.ApprovalStatusPending})
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending approval, got %d err=%v", len(pending), err)
	}
	if pending[0].FlagDetails == nil || pending[0].FlagDetails.Name != "new-checkout-flow" {
		t.Fatalf("expected flag details on approval, got %+v", pending[0].FlagDetails)
	}

	resolved, err := fx.registry.ResolveApproval(ctx, Decision{
		ApprovalID: pending[0].ID,
		Status:     domain.ApprovalStatusApproved,
		Comment:    "ship it",
		ApproverID: "peer-reviewer@company.com",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != domain.ApprovalStatusApproved || resolved.ApprovedAt == nil {
		t.Fatalf("unexpected resolved approval: %+v", resolved.Approval)
	}
	if resolved.FlagDetails.Status != domain.FlagStatusApproved {
		t.Fatalf("expected approved flag, got %s", resolved.FlagDetails.Status)
	}

	decision, err := fx.registry.CheckRuntime(ctx, "new-checkout-flow", "user_123")
	if err != nil || decision.Enabled {
		t.Fatalf("approved but inactive flag must be off, got %+v err=%v", decision, err)
	}

	toggled, err := fx.registry.Toggle(ctx, flag.ID)
	if err != nil || toggled.Status != domain.FlagStatusActive {
		t.Fatalf("expected active, got %+v err=%v", toggled, err)
	}

	decision, err = fx.registry.CheckRuntime(ctx, "new-checkout-flow", "user_123")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	// user_123 sits in bucket 83 for this flag, outside a 10% rollout.
	if decision.Enabled {
		t.Fatalf("expected user_123 to be off at 10%%, got %+v", decision)
	}
	if decision.Bucket == nil || *decision.Bucket != 83 {
		t.Fatalf("expected bucket 83 in decision, got %+v", decision)
	}

	if _, err := fx.registry.UpdateRollout(ctx, flag.ID, 100); err != nil {
		t.Fatalf("update rollout: %v", err)
	}
	decision, err = fx.registry.CheckRuntime(ctx, "new-checkout-flow", "user_123")
	if err != nil || !decision.Enabled {
		t.Fatalf("expected enabled at 100%%, got %+v err=%v", decision, err)
	}
	all, err := fx.registry.CheckAllRuntime(ctx, "user_123")
	if err != nil || !all["new-checkout-flow"] {
		t.Fatalf("expected flag enabled in batch, got %v err=%v", all, err)
	}
}

func TestFlagRegistryAssessorTimeoutRoutesCritical(t *testing.T) {
	slow := &stubRiskAssessor{assessFn: func(ctx context.Context, _ risk.Input) (risk.Assessment, error) {
		<-ctx.Done()
		return risk.Assessment{}, ctx.Err()
	}}
	fx := newRegistryForTest(t, slow, 30*time.Millisecond)

	start := time.Now()
	flag, err := fx.registry.Create(context.Background(), validCreateInput("slow-flag"))
	if err != nil {
		t.Fatalf("create must complete via fail-safe, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("create did not honor the assessor timeout")
	}
	if flag.RiskLevel != domain.RiskLevelCritical || flag.RequiredApprover != "security-lead@company.com" {
		t.Fatalf("expected critical/security lead, got %s/%s", flag.RiskLevel, flag.RequiredApprover)
	}
	if flag.RiskAnalysis.Source != risk.SourceFailSafe {
		t.Fatalf("expected fail-safe analysis, got %q", flag.RiskAnalysis.Source)
	}
}

func TestFlagRegistryCreateValidation(t *testing.T) {
	fx := newRegistryForTest(t, fixedScore(10), time.Second)
	ctx := context.Background()

	in := validCreateInput("x")
	in.Description = "  "
	in.Scope = ""
	if _, err := fx.registry.Create(ctx, in); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	in = validCreateInput("x")
	in.RolloutPercentage = 150
	if _, err := fx.registry.Create(ctx, in); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for rollout, got %v", err)
	}
	flags, _ := fx.registry.List(ctx, "")
	if len(flags) != 0 {
		t.Fatalf("failed creates must not persist, got %d flags", len(flags))
	}
}

func TestFlagRegistryLiveNameIsUnique(t *testing.T) {
	fx := newRegistryForTest(t, fixedScore(60), time.Second)
	ctx := context.Background()

	first, err := fx.registry.Create(ctx, validCreateInput("dup"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.RequiredApprover != "senior-engineer@company.com" {
		t.Fatalf("expected senior engineer for high risk, got %q", first.RequiredApprover)
	}
	if _, err := fx.registry.Create(ctx, validCreateInput("dup")); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected duplicate live name rejected, got %v", err)
	}

	approvals, _ := fx.registry.ListApprovals(ctx, ApprovalFilter{Status: domain.ApprovalStatusPending})
	if _, err := fx.registry.ResolveApproval(ctx, Decision{
		ApprovalID: approvals[0].ID, Status: domain.ApprovalStatusRejected, ApproverID: "senior-engineer@company.com",
	}); err != nil {
		t.Fatalf("reject: %v", err)
	}
	second, err := fx.registry.Create(ctx, validCreateInput("dup"))
	if err != nil {
		t.Fatalf("resubmission after rejection should succeed: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("resubmission must be a new flag")
	}
}

func TestFlagRegistryToggleLegality(t *testing.T) {
	fx := newRegistryForTest(t, fixedScore(10), time.Second)
	ctx := context.Background()

	flag, err := fx.registry.Create(ctx, validCreateInput("legal"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := fx.registry.Toggle(ctx, flag.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("toggle on pending must fail, got %v", err)
	}
	if _, err := fx.registry.Toggle(ctx, "missing"); !errors.Is(err, domain.ErrFlagNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := fx.registry.UpdateRollout(ctx, flag.ID, 101); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	updated, err := fx.registry.UpdateRollout(ctx, flag.ID, 30)
	if err != nil || updated.Config.RolloutPercentage != 30 {
		t.Fatalf("rollout while pending should be allowed, got %+v err=%v", updated, err)
	}

	approvals, _ := fx.registry.ListApprovals(ctx, ApprovalFilter{})
	if _, err := fx.registry.ResolveApproval(ctx, Decision{
		ApprovalID: approvals[0].ID, Status: domain.ApprovalStatusRejected, ApproverID: "peer-reviewer@company.com",
	}); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := fx.registry.Toggle(ctx, flag.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("toggle on rejected must fail, got %v", err)
	}
	if _, err := fx.registry.UpdateRollout(ctx, flag.ID, 50); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("rollout on rejected must fail, got %v", err)
	}
	decision, err := fx.registry.CheckRuntime(ctx, "legal", "u1")
	if err != nil || decision.Enabled {
		t.Fatalf("rejected flag must be off, got %+v err=%v", decision, err)
	}
}

func TestFlagRegistryResolveConflicts(t *testing.T) {
	fx := newRegistryForTest(t, fixedScore(30), time.Second)
	ctx := context.Background()

	if _, err := fx.registry.Create(ctx, validCreateInput("guarded")); err != nil {
		t.Fatalf("create: %v", err)
	}
	approvals, _ := fx.registry.ListApprovals(ctx, ApprovalFilter{ApproverID: "team-lead@company.com"})
	if len(approvals) != 1 {
		t.Fatalf("expected approval for team lead, got %d", len(approvals))
	}
	id := approvals[0].ID

	if _, err := fx.registry.ResolveApproval(ctx, Decision{ApprovalID: id, Status: domain.ApprovalStatusApproved, ApproverID: "intruder@company.com"}); !errors.Is(err, domain.ErrApprovalConflict) {
		t.Fatalf("expected conflict for wrong approver, got %v", err)
	}
	if _, err := fx.registry.ResolveApproval(ctx, Decision{ApprovalID: id, Status: "maybe", ApproverID: "team-lead@company.com"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for bad status, got %v", err)
	}
	if _, err := fx.registry.ResolveApproval(ctx, Decision{ApprovalID: id, Status: domain.ApprovalStatusApproved, ApproverID: "cto@company.com"}); err != nil {
		t.Fatalf("override approver should resolve: %v", err)
	}
	if _, err := fx.registry.ResolveApproval(ctx, Decision{ApprovalID: id, Status: domain.ApprovalStatusRejected, ApproverID: "team-lead@company.com"}); !errors.Is(err, domain.ErrApprovalConflict) {
		t.Fatalf("expected conflict on second resolution, got %v", err)
	}
	if _, err := fx.registry.ResolveApproval(ctx, Decision{ApprovalID: "missing", Status: domain.ApprovalStatusApproved, ApproverID: "x"}); !errors.Is(err, domain.ErrApprovalNotFound) {
		t.Fatalf("expected approval not found, got %v", err)
	}
	stored, err := fx.repo.FindApprovalByID(ctx, id)
	if err != nil || stored.ResolvedBy != "cto@company.com" {
		t.Fatalf("expected override recorded, got %+v err=%v", stored, err)
	}
}

func TestFlagRegistrySinglePendingApproval(t *testing.T) {
	fx := newRegistryForTest(t, fixedScore(10), time.Second)
	ctx := context.Background()

	flag, err := fx.registry.Create(ctx, validCreateInput("single"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := fx.registry.CreateApproval(ctx, CreateApprovalInput{FlagID: flag.ID, ApproverID: "other@company.com"}); !errors.Is(err, domain.ErrApprovalConflict) {
		t.Fatalf("expected conflict for second pending approval, got %v", err)
	}

	router := NewApprovalRouter(defaultPolicyForTest(t), NewFlagStateMachine())
	err = fx.repo.WithinTransaction(ctx, func(tx repository.FeatureFlagRepository) error {
		_, err := router.Route(ctx, tx, flag)
		return err
	})
	if !errors.Is(err, domain.ErrInvariantViolation) {
		t.Fatalf("routing twice must be an invariant violation, got %v", err)
	}

	approvals, _ := fx.registry.ListApprovals(ctx, ApprovalFilter{})
	if _, err := fx.registry.ResolveApproval(ctx, Decision{
		ApprovalID: approvals[0].ID, Status: domain.ApprovalStatusApproved, ApproverID: "peer-reviewer@company.com",
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := fx.registry.CreateApproval(ctx, CreateApprovalInput{FlagID: flag.ID}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("approved flag must not accept a new approval, got %v", err)
	}
	for _, status := range []domain.FlagStatus{domain.FlagStatusActive, domain.FlagStatusInactive} {
		live := &domain.FeatureFlag{ID: flag.ID, Status: status, RiskLevel: domain.RiskLevelLow}
		err := fx.repo.WithinTransaction(ctx, func(tx repository.FeatureFlagRepository) error {
			_, err := router.Open(ctx, tx, live, "")
			return err
		})
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("%s flag must not accept a new approval, got %v", status, err)
		}
	}

	err = fx.repo.WithinTransaction(ctx, func(tx repository.FeatureFlagRepository) error {
		_, err := router.Route(ctx, tx, flag)
		return err
	})
	if err != nil {
		t.Fatalf("routing after resolution should succeed: %v", err)
	}
	if _, err := fx.registry.CreateApproval(ctx, CreateApprovalInput{FlagID: "missing"}); !errors.Is(err, domain.ErrFlagNotFound) {
		t.Fatalf("expected flag not found, got %v", err)
	}
}

func TestFlagRegistryConcurrentTogglesAreSerialized(t *testing.T) {
	fx := newRegistryForTest(t, fixedScore(10), time.Second)
	ctx := context.Background()
	flag, err := fx.registry.Create(ctx, validCreateInput("busy"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	approvals, _ := fx.registry.ListApprovals(ctx, ApprovalFilter{})
	if _, err := fx.registry.ResolveApproval(ctx, Decision{
		ApprovalID: approvals[0].ID, Status: domain.ApprovalStatusApproved, ApproverID: "peer-reviewer@company.com",
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := fx.registry.Toggle(ctx, flag.ID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("toggle failed: %v", err)
	}
	got, err := fx.registry.Get(ctx, flag.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// approved -> active, then nine flips.
	if got.Status != domain.FlagStatusInactive {
		t.Fatalf("expected inactive after %d toggles, got %s", n, got.Status)
	}
	if got.Version != int64(n+2) {
		t.Fatalf("expected version %d, got %d", n+2, got.Version)
	}
}

func TestFlagRegistryListFilters(t *testing.T) {
	fx := newRegistryForTest(t, fixedScore(10), time.Second)
	ctx := context.Background()
	for _, name := range []string{"a", "b"} {
		if _, err := fx.registry.Create(ctx, validCreateInput(name)); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	pending, err := fx.registry.List(ctx, domain.FlagStatusPending)
	if err != nil || len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d err=%v", len(pending), err)
	}
	active, err := fx.registry.List(ctx, domain.FlagStatusActive)
	if err != nil || len(active) != 0 {
		t.Fatalf("expected 0 active, got %d err=%v", len(active), err)
	}
	if _, err := fx.registry.List(ctx, "bogus"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := fx.registry.ListApprovals(ctx, ApprovalFilter{Status: "bogus"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := fx.registry.Get(ctx, "missing"); !errors.Is(err, domain.ErrFlagNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFlagRegistryCheckRuntimeUnknownFlag(t *testing.T) {
	fx := newRegistryForTest(t, fixedScore(10), time.Second)
	d, err := fx.registry.CheckRuntime(context.Background(), "nope", "u1")
	if err != nil || d.Enabled || d.Reason != "flag not found" {
		t.Fatalf("unexpected decision %+v err=%v", d, err)
	}
	all, err := fx.registry.CheckAllRuntime(context.Background(), "u1")
	if err != nil || len(all) != 0 {
		t.Fatalf("expected empty batch, got %v err=%v", all, err)
	}
}
