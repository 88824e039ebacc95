package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/domain"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/repository"
)

// ApprovalRouter assigns approvers by risk level and records approval
// decisions. It always works inside the caller's transaction.
type ApprovalRouter struct {
	policy  *ApproverPolicy
	machine FlagStateMachine
	now     func() time.Time
}

func NewApprovalRouter(policy *ApproverPolicy, machine FlagStateMachine) *ApprovalRouter {
	return &ApprovalRouter{policy: policy, machine: machine, now: func() time.Time { return time.Now().UTC() }}
}

// Route opens the submission approval for a freshly assessed flag and
// stamps flag.RequiredApprover. A pending approval already on the flag
// means the flag was routed twice, which is a bug in the caller.
func (r *ApprovalRouter) Route(ctx context.Context, tx repository.FeatureFlagRepository, flag *domain.FeatureFlag) (*domain.Approval, error) {
	if !flag.RiskLevel.Valid() {
		return nil, fmt.Errorf("%w: flag %s routed without a risk level", domain.ErrInvariantViolation, flag.ID)
	}
	pending, err := tx.CountPendingApprovals(ctx, flag.ID)
	if err != nil {
		return nil, err
	}
	if pending > 0 {
		return nil, fmt.Errorf("%w: flag %s already has %d pending approval(s)", domain.ErrInvariantViolation, flag.ID, pending)
	}
	approver, err := r.policy.Assign(flag.RiskLevel, flag.ID)
	if err != nil {
		return nil, err
	}
	approval := &domain.Approval{
		FlagID:     flag.ID,
		ApproverID: approver,
		Status:     domain.ApprovalStatusPending,
		CreatedAt:  r.now(),
	}
	if err := tx.CreateApproval(ctx, approval); err != nil {
		return nil, err
	}
	flag.RequiredApprover = approver
	return approval, nil
}

// Open records an approval requested explicitly by a client. Only flags
// awaiting review accept one, since a decision on any other flag could not
// move it. Unlike Route a pending approval here is an ordinary conflict the
// caller can observe.
func (r *ApprovalRouter) Open(ctx context.Context, tx repository.FeatureFlagRepository, flag *domain.FeatureFlag, approverID string) (*domain.Approval, error) {
	if flag.Status != domain.FlagStatusPending {
		return nil, fmt.Errorf("%w: flag %s is %s, approvals are only opened while it is pending", domain.ErrInvalidTransition, flag.ID, flag.Status)
	}
	pending, err := tx.CountPendingApprovals(ctx, flag.ID)
	if err != nil {
		return nil, err
	}
	if pending > 0 {
		return nil, fmt.Errorf("%w: flag %s already has a pending approval", domain.ErrApprovalConflict, flag.ID)
	}
	approverID = strings.TrimSpace(approverID)
	if approverID == "" {
		level := flag.RiskLevel
		if !level.Valid() {
			level = domain.RiskLevelCritical
		}
		if approverID, err = r.policy.Assign(level, flag.ID); err != nil {
			return nil, err
		}
	}
	approval := &domain.Approval{
		FlagID:     flag.ID,
		ApproverID: approverID,
		Status:     domain.ApprovalStatusPending,
		CreatedAt:  r.now(),
	}
	if err := tx.CreateApproval(ctx, approval); err != nil {
		return nil, err
	}
	return approval, nil
}

type Decision struct {
	ApprovalID string
	Status     domain.ApprovalStatus
	Comment    string
	ApproverID string
}

// Resolve records the decision and, when the flag is still awaiting review,
// moves it to approved or rejected.
func (r *ApprovalRouter) Resolve(ctx context.Context, tx repository.FeatureFlagRepository, d Decision) (*domain.Approval, *domain.FeatureFlag, error) {
	if d.Status != domain.ApprovalStatusApproved && d.Status != domain.ApprovalStatusRejected {
		return nil, nil, fmt.Errorf("%w: status must be approved or rejected", domain.ErrValidation)
	}
	approverID := strings.TrimSpace(d.ApproverID)
	if approverID == "" {
		return nil, nil, fmt.Errorf("%w: approver_id is required", domain.ErrValidation)
	}
	approval, err := tx.FindApprovalByID(ctx, d.ApprovalID)
	if err != nil {
		return nil, nil, err
	}
	if approval.Status != domain.ApprovalStatusPending {
		return nil, nil, fmt.Errorf("%w: approval %s is already %s", domain.ErrApprovalConflict, approval.ID, approval.Status)
	}
	if approverID != approval.ApproverID && !r.policy.CanOverride(approverID) {
		return nil, nil, fmt.Errorf("%w: approval %s is assigned to %s", domain.ErrApprovalConflict, approval.ID, approval.ApproverID)
	}

	flag, err := tx.FindFlagByID(ctx, approval.FlagID)
	if err != nil {
		return nil, nil, err
	}
	flagChanged := false
	if flag.Status == domain.FlagStatusPending {
		if err := r.machine.Resolve(flag, d.Status); err != nil {
			return nil, nil, err
		}
		flagChanged = true
	}

	now := r.now()
	approval.Status = d.Status
	approval.Comment = d.Comment
	approval.ResolvedBy = approverID
	approval.ApprovedAt = &now
	if err := tx.ResolveApproval(ctx, approval); err != nil {
		return nil, nil, err
	}
	if flagChanged {
		if err := tx.UpdateFlag(ctx, flag); err != nil {
			return nil, nil, err
		}
	}
	return approval, flag, nil
}
