package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/domain"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/observability"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/repository"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/risk"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/rollout"
)

const maxVersionRetries = 3

// FlagAssessor scores a submission. It never fails; see risk.Guarded.
type FlagAssessor interface {
	Assess(ctx context.Context, in risk.Input) risk.Result
}

type CreateFlagInput struct {
	Name              string
	Description       string
	CodeChanges       string
	Scope             string
	CreatedBy         string
	RolloutPercentage int
	TargetUsers       []string
}

type CreateApprovalInput struct {
	FlagID     string
	ApproverID string
}

type ApprovalFilter struct {
	Status     domain.ApprovalStatus
	ApproverID string
	FlagID     string
}

// RuntimeDecision is the answer to a runtime check. Bucket is nil when the
// flag was not bucketed.
type RuntimeDecision struct {
	FlagName          string            `json:"flag_name"`
	UserID            string            `json:"user_id"`
	Enabled           bool              `json:"enabled"`
	Status            domain.FlagStatus `json:"status,omitempty"`
	RolloutPercentage int               `json:"rollout_percentage"`
	Bucket            *int              `json:"bucket,omitempty"`
	Reason            string            `json:"reason"`
}

// FlagRegistry owns flags and approvals. Writes to one flag are serialized;
// runtime checks read an immutable snapshot.
type FlagRegistry interface {
	Create(ctx context.Context, in CreateFlagInput) (*domain.FeatureFlag, error)
	Get(ctx context.Context, id string) (*domain.FeatureFlag, error)
	List(ctx context.Context, status domain.FlagStatus) ([]domain.FeatureFlag, error)
	ListPaged(ctx context.Context, status domain.FlagStatus, page repository.PageRequest) (repository.PageResult[domain.FeatureFlag], error)
	Toggle(ctx context.Context, id string) (*domain.FeatureFlag, error)
	UpdateRollout(ctx context.Context, id string, percentage int) (*domain.FeatureFlag, error)

	CreateApproval(ctx context.Context, in CreateApprovalInput) (*domain.Approval, error)
	ListApprovals(ctx context.Context, filter ApprovalFilter) ([]domain.ApprovalWithFlag, error)
	ResolveApproval(ctx context.Context, d Decision) (*domain.ApprovalWithFlag, error)

	CheckRuntime(ctx context.Context, flagName, userID string) (RuntimeDecision, error)
	CheckAllRuntime(ctx context.Context, userID string) (map[string]bool, error)
}

type flagRegistry struct {
	repo     repository.FeatureFlagRepository
	assessor FlagAssessor
	router   *ApprovalRouter
	machine  FlagStateMachine
	runtime  *RuntimeSnapshotCache
	locks    *flagLocks
	logger   *slog.Logger
	now      func() time.Time
}

func NewFlagRegistry(
	repo repository.FeatureFlagRepository,
	assessor FlagAssessor,
	router *ApprovalRouter,
	machine FlagStateMachine,
	runtime *RuntimeSnapshotCache,
	logger *slog.Logger,
) FlagRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &flagRegistry{
		repo:     repo,
		assessor: assessor,
		router:   router,
		machine:  machine,
		runtime:  runtime,
		locks:    newFlagLocks(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NewRuntimeSnapshotCacheForRepository wires a snapshot cache to the flag
// table.
func NewRuntimeSnapshotCacheForRepository(repo repository.FeatureFlagRepository, store RuntimeSnapshotStore, ttl time.Duration, logger *slog.Logger) *RuntimeSnapshotCache {
	return NewRuntimeSnapshotCache(func(ctx context.Context) ([]domain.FeatureFlag, error) {
		return repo.ListFlags(ctx, "")
	}, store, ttl, logger)
}

func (s *flagRegistry) Create(ctx context.Context, in CreateFlagInput) (*domain.FeatureFlag, error) {
	in = normalizeCreateInput(in)
	if err := validateCreateInput(in); err != nil {
		return nil, err
	}

	// Same-name submissions are serialized so only one can become live.
	unlock := s.locks.Lock("name:" + in.Name)
	defer unlock()

	if existing, err := s.repo.FindLiveFlagByName(ctx, in.Name); err == nil {
		return nil, fmt.Errorf("%w: flag %q already exists with status %s", domain.ErrValidation, in.Name, existing.Status)
	} else if !errors.Is(err, domain.ErrFlagNotFound) {
		return nil, err
	}

	result := s.assessor.Assess(ctx, risk.Input{
		Name:              in.Name,
		Description:       in.Description,
		CodeChanges:       in.CodeChanges,
		Scope:             in.Scope,
		RolloutPercentage: in.RolloutPercentage,
	})
	if result.FailSafe {
		s.logger.WarnContext(ctx, "risk assessment unavailable, routing as critical",
			"flag_name", in.Name, "error", result.Cause)
	}

	now := s.now()
	flag := &domain.FeatureFlag{
		Name:        in.Name,
		Description: in.Description,
		CodeChanges: in.CodeChanges,
		Scope:       in.Scope,
		CreatedBy:   in.CreatedBy,
		RiskLevel:   result.Level,
		Config: domain.FlagConfig{
			RolloutPercentage: in.RolloutPercentage,
			TargetUsers:       in.TargetUsers,
		},
		Version: 1,
		RiskAnalysis: &domain.RiskAnalysis{
			RiskScore:      result.Score,
			AIReasoning:    result.Reasoning,
			DetectedIssues: result.DetectedIssues,
			Recommendation: result.Recommendation,
			Source:         result.Source,
			AnalyzedAt:     now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	flag.ID = uuid.NewString()
	if err := s.machine.Submit(flag); err != nil {
		return nil, err
	}

	unlockFlag := s.locks.Lock(flag.ID)
	defer unlockFlag()
	err := s.repo.WithinTransaction(ctx, func(tx repository.FeatureFlagRepository) error {
		if _, err := s.router.Route(ctx, tx, flag); err != nil {
			return err
		}
		return tx.CreateFlag(ctx, flag)
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvariantViolation) {
			s.logger.ErrorContext(ctx, "flag routing invariant violated", "flag_id", flag.ID, "error", err)
		}
		return nil, err
	}
	s.reloadRuntime(ctx)
	return flag, nil
}

func (s *flagRegistry) Get(ctx context.Context, id string) (*domain.FeatureFlag, error) {
	return s.repo.FindFlagByID(ctx, id)
}

func (s *flagRegistry) List(ctx context.Context, status domain.FlagStatus) ([]domain.FeatureFlag, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, status)
	}
	return s.repo.ListFlags(ctx, status)
}

func (s *flagRegistry) ListPaged(ctx context.Context, status domain.FlagStatus, page repository.PageRequest) (repository.PageResult[domain.FeatureFlag], error) {
	if status != "" && !status.Valid() {
		return repository.PageResult[domain.FeatureFlag]{}, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, status)
	}
	return s.repo.ListFlagsPaged(ctx, status, page)
}

func (s *flagRegistry) Toggle(ctx context.Context, id string) (*domain.FeatureFlag, error) {
	return s.mutateFlag(ctx, id, s.machine.Toggle)
}

func (s *flagRegistry) UpdateRollout(ctx context.Context, id string, percentage int) (*domain.FeatureFlag, error) {
	if percentage < 0 || percentage > 100 {
		return nil, fmt.Errorf("%w: rollout_percentage must be between 0 and 100", domain.ErrValidation)
	}
	return s.mutateFlag(ctx, id, func(flag *domain.FeatureFlag) error {
		return s.machine.UpdateRollout(flag, percentage)
	})
}

// mutateFlag applies fn under the flag's lock and retries when another
// replica bumped the version in between.
func (s *flagRegistry) mutateFlag(ctx context.Context, id string, fn func(*domain.FeatureFlag) error) (*domain.FeatureFlag, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var (
		flag *domain.FeatureFlag
		err  error
	)
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		err = s.repo.WithinTransaction(ctx, func(tx repository.FeatureFlagRepository) error {
			current, err := tx.FindFlagByID(ctx, id)
			if err != nil {
				return err
			}
			if err := fn(current); err != nil {
				return err
			}
			if err := tx.UpdateFlag(ctx, current); err != nil {
				return err
			}
			flag = current
			return nil
		})
		if !errors.Is(err, repository.ErrFlagVersionConflict) {
			break
		}
		s.logger.DebugContext(ctx, "flag version conflict, retrying", "flag_id", id, "attempt", attempt+1)
	}
	if err != nil {
		if errors.Is(err, repository.ErrFlagVersionConflict) {
			return nil, fmt.Errorf("%w: flag %s is being modified concurrently", domain.ErrInvalidTransition, id)
		}
		if errors.Is(err, domain.ErrInvariantViolation) {
			s.logger.ErrorContext(ctx, "flag state invariant violated", "flag_id", id, "error", err)
		}
		return nil, err
	}
	s.reloadRuntime(ctx)
	return flag, nil
}

func (s *flagRegistry) CreateApproval(ctx context.Context, in CreateApprovalInput) (*domain.Approval, error) {
	flagID := strings.TrimSpace(in.FlagID)
	if flagID == "" {
		return nil, fmt.Errorf("%w: flag_id is required", domain.ErrValidation)
	}
	unlock := s.locks.Lock(flagID)
	defer unlock()

	var approval *domain.Approval
	err := s.repo.WithinTransaction(ctx, func(tx repository.FeatureFlagRepository) error {
		flag, err := tx.FindFlagByID(ctx, flagID)
		if err != nil {
			return err
		}
		approval, err = s.router.Open(ctx, tx, flag, in.ApproverID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return approval, nil
}

func (s *flagRegistry) ListApprovals(ctx context.Context, filter ApprovalFilter) ([]domain.ApprovalWithFlag, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown approval status %q", domain.ErrValidation, filter.Status)
	}
	approvals, err := s.repo.ListApprovals(ctx, repository.ApprovalQuery{
		Status:     filter.Status,
		ApproverID: strings.TrimSpace(filter.ApproverID),
		FlagID:     strings.TrimSpace(filter.FlagID),
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(approvals))
	for _, a := range approvals {
		ids = append(ids, a.FlagID)
	}
	flags, err := s.repo.FindFlagsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ApprovalWithFlag, 0, len(approvals))
	for _, a := range approvals {
		item := domain.ApprovalWithFlag{Approval: a}
		if f, ok := flags[a.FlagID]; ok {
			item.FlagDetails = &f
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *flagRegistry) ResolveApproval(ctx context.Context, d Decision) (*domain.ApprovalWithFlag, error) {
	// The approval names the flag whose lock we need.
	pre, err := s.repo.FindApprovalByID(ctx, d.ApprovalID)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(pre.FlagID)
	defer unlock()

	var out *domain.ApprovalWithFlag
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		err = s.repo.WithinTransaction(ctx, func(tx repository.FeatureFlagRepository) error {
			approval, flag, err := s.router.Resolve(ctx, tx, d)
			if err != nil {
				return err
			}
			out = &domain.ApprovalWithFlag{Approval: *approval, FlagDetails: flag}
			return nil
		})
		if !errors.Is(err, repository.ErrFlagVersionConflict) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, repository.ErrFlagVersionConflict) {
			return nil, fmt.Errorf("%w: flag %s is being modified concurrently", domain.ErrApprovalConflict, pre.FlagID)
		}
		return nil, err
	}
	s.reloadRuntime(ctx)
	return out, nil
}

func (s *flagRegistry) CheckRuntime(ctx context.Context, flagName, userID string) (RuntimeDecision, error) {
	decision := RuntimeDecision{FlagName: flagName, UserID: userID}
	snap, err := s.runtime.Get(ctx)
	if err != nil {
		return decision, err
	}
	flag, ok := snap.Flags[flagName]
	if !ok {
		decision.Reason = "flag not found"
		observability.RecordRuntimeEvaluation(ctx, "single", false)
		return decision, nil
	}
	decision = evaluateRuntimeFlag(flag, userID)
	observability.RecordRuntimeEvaluation(ctx, "single", decision.Enabled)
	return decision, nil
}

func (s *flagRegistry) CheckAllRuntime(ctx context.Context, userID string) (map[string]bool, error) {
	snap, err := s.runtime.Get(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(snap.Flags))
	for name, flag := range snap.Flags {
		if flag.Status != domain.FlagStatusActive {
			continue
		}
		out[name] = evaluateRuntimeFlag(flag, userID).Enabled
		observability.RecordRuntimeEvaluation(ctx, "batch", out[name])
	}
	return out, nil
}

func evaluateRuntimeFlag(flag RuntimeFlag, userID string) RuntimeDecision {
	d := RuntimeDecision{
		FlagName:          flag.Name,
		UserID:            userID,
		Status:            flag.Status,
		RolloutPercentage: flag.RolloutPercentage,
	}
	if flag.Status != domain.FlagStatusActive {
		d.Reason = fmt.Sprintf("flag is %s, not active", flag.Status)
		return d
	}
	ex := rollout.Explain(flag.Name, userID, flag.RolloutPercentage, flag.TargetUsers)
	d.Enabled = ex.Enabled
	d.RolloutPercentage = ex.RolloutPercentage
	d.Reason = ex.Reason
	if ex.Bucket >= 0 {
		bucket := ex.Bucket
		d.Bucket = &bucket
	}
	return d
}

// reloadRuntime makes the write visible to this replica immediately. A
// failure only delays visibility until the next TTL refresh.
func (s *flagRegistry) reloadRuntime(ctx context.Context) {
	if s.runtime == nil {
		return
	}
	if err := s.runtime.Reload(ctx); err != nil {
		s.logger.WarnContext(ctx, "runtime snapshot reload failed", "error", err)
	}
}

func normalizeCreateInput(in CreateFlagInput) CreateFlagInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.CodeChanges = strings.TrimSpace(in.CodeChanges)
	in.Scope = strings.ToLower(strings.TrimSpace(in.Scope))
	in.CreatedBy = strings.TrimSpace(in.CreatedBy)
	in.TargetUsers = normalizePool(in.TargetUsers)
	if len(in.TargetUsers) == 0 {
		in.TargetUsers = nil
	}
	return in
}

func validateCreateInput(in CreateFlagInput) error {
	var missing []string
	for _, f := range []struct {
		name, value string
	}{
		{"name", in.Name},
		{"description", in.Description},
		{"created_by", in.CreatedBy},
		{"code_changes", in.CodeChanges},
		{"scope", in.Scope},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", domain.ErrValidation, strings.Join(missing, ", "))
	}
	if in.RolloutPercentage < 0 || in.RolloutPercentage > 100 {
		return fmt.Errorf("%w: rollout_percentage must be between 0 and 100", domain.ErrValidation)
	}
	return nil
}
