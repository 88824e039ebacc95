package service

import (
	"fmt"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/domain"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/rollout"
)

// flagTransitions is the complete set of legal status edges. Submission
// (unset -> pending) is handled by Submit.
var flagTransitions = map[domain.FlagStatus][]domain.FlagStatus{
	domain.FlagStatusPending:  {domain.FlagStatusApproved, domain.FlagStatusRejected},
	domain.FlagStatusApproved: {domain.FlagStatusActive},
	domain.FlagStatusActive:   {domain.FlagStatusInactive},
	domain.FlagStatusInactive: {domain.FlagStatusActive},
	domain.FlagStatusRejected: nil,
}

// FlagStateMachine is the only writer of FeatureFlag.Status. Its methods
// mutate the flag in memory; persisting is the caller's job.
type FlagStateMachine struct{}

func NewFlagStateMachine() FlagStateMachine { return FlagStateMachine{} }

func (FlagStateMachine) CanTransition(from, to domain.FlagStatus) bool {
	for _, next := range flagTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (m FlagStateMachine) Submit(flag *domain.FeatureFlag) error {
	if flag.Status != "" {
		return fmt.Errorf("%w: flag %s already submitted (%s)", domain.ErrInvalidTransition, flag.ID, flag.Status)
	}
	flag.Status = domain.FlagStatusPending
	return nil
}

// Resolve applies an approval decision to a pending flag.
func (m FlagStateMachine) Resolve(flag *domain.FeatureFlag, decision domain.ApprovalStatus) error {
	var to domain.FlagStatus
	switch decision {
	case domain.ApprovalStatusApproved:
		to = domain.FlagStatusApproved
	case domain.ApprovalStatusRejected:
		to = domain.FlagStatusRejected
	default:
		return fmt.Errorf("%w: decision must be approved or rejected", domain.ErrValidation)
	}
	return m.transition(flag, to)
}

// Toggle flips active and inactive, and activates an approved flag.
func (m FlagStateMachine) Toggle(flag *domain.FeatureFlag) error {
	if err := m.checkKnown(flag); err != nil {
		return err
	}
	to := domain.FlagStatusActive
	if flag.Status == domain.FlagStatusActive {
		to = domain.FlagStatusInactive
	}
	return m.transition(flag, to)
}

func (m FlagStateMachine) UpdateRollout(flag *domain.FeatureFlag, percentage int) error {
	if percentage < 0 || percentage > 100 {
		return fmt.Errorf("%w: rollout_percentage must be between 0 and 100", domain.ErrValidation)
	}
	if err := m.checkKnown(flag); err != nil {
		return err
	}
	if flag.Status == domain.FlagStatusRejected {
		return fmt.Errorf("%w: flag %s is rejected", domain.ErrInvalidTransition, flag.ID)
	}
	flag.Config.RolloutPercentage = rollout.ClampPercentage(percentage)
	return nil
}

func (m FlagStateMachine) transition(flag *domain.FeatureFlag, to domain.FlagStatus) error {
	if err := m.checkKnown(flag); err != nil {
		return err
	}
	if !m.CanTransition(flag.Status, to) {
		return fmt.Errorf("%w: flag %s cannot move from %s to %s", domain.ErrInvalidTransition, flag.ID, flag.Status, to)
	}
	flag.Status = to
	return nil
}

func (FlagStateMachine) checkKnown(flag *domain.FeatureFlag) error {
	if !flag.Status.Valid() {
		return fmt.Errorf("%w: flag %s has undefined status %q", domain.ErrInvariantViolation, flag.ID, flag.Status)
	}
	return nil
}
