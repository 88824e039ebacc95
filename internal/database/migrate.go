package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/domain"
)

// onePendingApprovalIndex backs the router's at-most-one-pending check.
const onePendingApprovalIndex = "idx_approvals_one_pending_per_flag"

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.FeatureFlag{},
		&domain.RiskAnalysis{},
		&domain.Approval{},
	); err != nil {
		return err
	}
	stmt := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON approvals (flag_id) WHERE status = '%s'",
		onePendingApprovalIndex, domain.ApprovalStatusPending)
	return db.Exec(stmt).Error
}

// Status reports which tables and indexes exist.
func Status(db *gorm.DB) map[string]bool {
	m := db.Migrator()
	return map[string]bool{
		"feature_flags":         m.HasTable(&domain.FeatureFlag{}),
		"risk_analyses":         m.HasTable(&domain.RiskAnalysis{}),
		"approvals":             m.HasTable(&domain.Approval{}),
		onePendingApprovalIndex: m.HasIndex(&domain.Approval{}, onePendingApprovalIndex),
	}
}
