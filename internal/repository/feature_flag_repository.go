package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/domain"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/observability"
)

// ErrFlagVersionConflict means the flag changed between read and write.
var ErrFlagVersionConflict = errors.New("feature flag modified concurrently")

type ApprovalQuery struct {
	Status     domain.ApprovalStatus
	ApproverID string
	FlagID     string
}

// FeatureFlagRepository persists the flag aggregate: flags, their risk
// analysis and their approval history.
type FeatureFlagRepository interface {
	WithinTransaction(ctx context.Context, fn func(tx FeatureFlagRepository) error) error

	ListFlags(ctx context.Context, status domain.FlagStatus) ([]domain.FeatureFlag, error)
	ListFlagsPaged(ctx context.Context, status domain.FlagStatus, page PageRequest) (PageResult[domain.FeatureFlag], error)
	FindFlagByID(ctx context.Context, id string) (*domain.FeatureFlag, error)
	FindFlagsByIDs(ctx context.Context, ids []string) (map[string]domain.FeatureFlag, error)
	FindLiveFlagByName(ctx context.Context, name string) (*domain.FeatureFlag, error)
	CreateFlag(ctx context.Context, flag *domain.FeatureFlag) error
	UpdateFlag(ctx context.Context, flag *domain.FeatureFlag) error

	CreateApproval(ctx context.Context, approval *domain.Approval) error
	FindApprovalByID(ctx context.Context, id string) (*domain.Approval, error)
	ListApprovals(ctx context.Context, q ApprovalQuery) ([]domain.Approval, error)
	CountPendingApprovals(ctx context.Context, flagID string) (int64, error)
	ResolveApproval(ctx context.Context, approval *domain.Approval) error
}

type GormFeatureFlagRepository struct{ db *gorm.DB }

func NewFeatureFlagRepository(db *gorm.DB) FeatureFlagRepository {
	return &GormFeatureFlagRepository{db: db}
}

func (r *GormFeatureFlagRepository) WithinTransaction(ctx context.Context, fn func(tx FeatureFlagRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormFeatureFlagRepository{db: tx})
	})
}

func (r *GormFeatureFlagRepository) flagQuery(ctx context.Context, status domain.FlagStatus) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&domain.FeatureFlag{}).Preload("RiskAnalysis")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	return q
}

func (r *GormFeatureFlagRepository) ListFlags(ctx context.Context, status domain.FlagStatus) ([]domain.FeatureFlag, error) {
	var flags []domain.FeatureFlag
	if err := r.flagQuery(ctx, status).Order("created_at asc").Order("id asc").Find(&flags).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "feature_flag", "list", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "feature_flag", "list", "success")
	return flags, nil
}

func (r *GormFeatureFlagRepository) ListFlagsPaged(ctx context.Context, status domain.FlagStatus, page PageRequest) (PageResult[domain.FeatureFlag], error) {
	page = page.Normalized()
	var total int64
	countQ := r.db.WithContext(ctx).Model(&domain.FeatureFlag{})
	if status != "" {
		countQ = countQ.Where("status = ?", status)
	}
	if err := countQ.Count(&total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "feature_flag", "list_paged", "error")
		return PageResult[domain.FeatureFlag]{}, err
	}
	var flags []domain.FeatureFlag
	err := r.flagQuery(ctx, status).
		Order("created_at asc").Order("id asc").
		Offset(page.Offset()).Limit(page.PageSize).
		Find(&flags).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "feature_flag", "list_paged", "error")
		return PageResult[domain.FeatureFlag]{}, err
	}
	observability.RecordRepositoryOperation(ctx, "feature_flag", "list_paged", "success")
	return newPageResult(flags, page, total), nil
}

func (r *GormFeatureFlagRepository) FindFlagByID(ctx context.Context, id string) (*domain.FeatureFlag, error) {
	var flag domain.FeatureFlag
	err := r.db.WithContext(ctx).Preload("RiskAnalysis").Where("id = ?", id).First(&flag).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "feature_flag", "find_by_id", "not_found")
			return nil, domain.ErrFlagNotFound
		}
		observability.RecordRepositoryOperation(ctx, "feature_flag", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "feature_flag", "find_by_id", "success")
	return &flag, nil
}

func (r *GormFeatureFlagRepository) FindFlagsByIDs(ctx context.Context, ids []string) (map[string]domain.FeatureFlag, error) {
	out := make(map[string]domain.FeatureFlag, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var flags []domain.FeatureFlag
	if err := r.db.WithContext(ctx).Preload("RiskAnalysis").Where("id IN ?", ids).Find(&flags).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "feature_flag", "find_by_ids", "error")
		return nil, err
	}
	for _, f := range flags {
		out[f.ID] = f
	}
	observability.RecordRepositoryOperation(ctx, "feature_flag", "find_by_ids", "success")
	return out, nil
}

// FindLiveFlagByName returns the newest flag with the name that has not been
// rejected. Rejected flags release their name.
func (r *GormFeatureFlagRepository) FindLiveFlagByName(ctx context.Context, name string) (*domain.FeatureFlag, error) {
	var flag domain.FeatureFlag
	err := r.db.WithContext(ctx).
		Where("name = ? AND status <> ?", name, domain.FlagStatusRejected).
		Order("created_at desc").
		First(&flag).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "feature_flag", "find_live_by_name", "not_found")
			return nil, domain.ErrFlagNotFound
		}
		observability.RecordRepositoryOperation(ctx, "feature_flag", "find_live_by_name", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "feature_flag", "find_live_by_name", "success")
	return &flag, nil
}

func (r *GormFeatureFlagRepository) CreateFlag(ctx context.Context, flag *domain.FeatureFlag) error {
	if flag.ID == "" {
		flag.ID = uuid.NewString()
	}
	if flag.Version == 0 {
		flag.Version = 1
	}
	if ra := flag.RiskAnalysis; ra != nil {
		if ra.ID == "" {
			ra.ID = uuid.NewString()
		}
		ra.FlagID = flag.ID
	}
	if err := r.db.WithContext(ctx).Create(flag).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "feature_flag", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "feature_flag", "create", "success")
	return nil
}

// UpdateFlag writes the mutable flag fields if the stored version still
// matches flag.Version, then bumps flag.Version.
func (r *GormFeatureFlagRepository) UpdateFlag(ctx context.Context, flag *domain.FeatureFlag) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.FeatureFlag{}).
		Where("id = ? AND version = ?", flag.ID, flag.Version).
		Updates(map[string]any{
			"status":             flag.Status,
			"risk_level":         flag.RiskLevel,
			"rollout_percentage": flag.Config.RolloutPercentage,
			"target_users":       flag.Config.TargetUsers,
			"required_approver":  flag.RequiredApprover,
			"version":            flag.Version + 1,
			"updated_at":         now,
		})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "feature_flag", "update", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&domain.FeatureFlag{}).Where("id = ?", flag.ID).Count(&count).Error; err != nil {
			observability.RecordRepositoryOperation(ctx, "feature_flag", "update", "error")
			return err
		}
		if count == 0 {
			observability.RecordRepositoryOperation(ctx, "feature_flag", "update", "not_found")
			return domain.ErrFlagNotFound
		}
		observability.RecordRepositoryOperation(ctx, "feature_flag", "update", "conflict")
		return fmt.Errorf("%w: flag %s at version %d", ErrFlagVersionConflict, flag.ID, flag.Version)
	}
	flag.Version++
	flag.UpdatedAt = now
	observability.RecordRepositoryOperation(ctx, "feature_flag", "update", "success")
	return nil
}

func (r *GormFeatureFlagRepository) CreateApproval(ctx context.Context, approval *domain.Approval) error {
	if approval.ID == "" {
		approval.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(approval).Error; err != nil {
		if isUniqueViolation(err) {
			observability.RecordRepositoryOperation(ctx, "approval", "create", "conflict")
			return fmt.Errorf("%w: flag %s already has a pending approval", domain.ErrApprovalConflict, approval.FlagID)
		}
		observability.RecordRepositoryOperation(ctx, "approval", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "approval", "create", "success")
	return nil
}

func (r *GormFeatureFlagRepository) FindApprovalByID(ctx context.Context, id string) (*domain.Approval, error) {
	var approval domain.Approval
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&approval).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "approval", "find_by_id", "not_found")
			return nil, domain.ErrApprovalNotFound
		}
		observability.RecordRepositoryOperation(ctx, "approval", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "approval", "find_by_id", "success")
	return &approval, nil
}

func (r *GormFeatureFlagRepository) ListApprovals(ctx context.Context, q ApprovalQuery) ([]domain.Approval, error) {
	query := r.db.WithContext(ctx).Model(&domain.Approval{})
	if q.Status != "" {
		query = query.Where("status = ?", q.Status)
	}
	if q.ApproverID != "" {
		query = query.Where("approver_id = ?", q.ApproverID)
	}
	if q.FlagID != "" {
		query = query.Where("flag_id = ?", q.FlagID)
	}
	var approvals []domain.Approval
	if err := query.Order("created_at asc").Order("id asc").Find(&approvals).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "approval", "list", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "approval", "list", "success")
	return approvals, nil
}

func (r *GormFeatureFlagRepository) CountPendingApprovals(ctx context.Context, flagID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Approval{}).
		Where("flag_id = ? AND status = ?", flagID, domain.ApprovalStatusPending).
		Count(&count).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "approval", "count_pending", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "approval", "count_pending", "success")
	return count, nil
}

// ResolveApproval records the decision only while the approval is pending.
func (r *GormFeatureFlagRepository) ResolveApproval(ctx context.Context, approval *domain.Approval) error {
	res := r.db.WithContext(ctx).Model(&domain.Approval{}).
		Where("id = ? AND status = ?", approval.ID, domain.ApprovalStatusPending).
		Updates(map[string]any{
			"status":      approval.Status,
			"comment":     approval.Comment,
			"resolved_by": approval.ResolvedBy,
			"approved_at": approval.ApprovedAt,
		})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "approval", "resolve", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindApprovalByID(ctx, approval.ID); err != nil {
			return err
		}
		observability.RecordRepositoryOperation(ctx, "approval", "resolve", "conflict")
		return fmt.Errorf("%w: approval %s is no longer pending", domain.ErrApprovalConflict, approval.ID)
	}
	observability.RecordRepositoryOperation(ctx, "approval", "resolve", "success")
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "SQLSTATE 23505")
}
