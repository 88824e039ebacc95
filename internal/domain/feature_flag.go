package domain

import (
	"time"

	"gorm.io/datatypes"
)

type FlagStatus string

const (
	FlagStatusPending  FlagStatus = "pending"
	FlagStatusApproved FlagStatus = "approved"
	FlagStatusRejected FlagStatus = "rejected"
	FlagStatusActive   FlagStatus = "active"
	FlagStatusInactive FlagStatus = "inactive"
)

var flagStatuses = map[FlagStatus]struct{}{
	FlagStatusPending:  {},
	FlagStatusApproved: {},
	FlagStatusRejected: {},
	FlagStatusActive:   {},
	FlagStatusInactive: {},
}

func (s FlagStatus) Valid() bool {
	_, ok := flagStatuses[s]
	return ok
}

type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// RiskLevels lists the recognised levels from least to most severe.
var RiskLevels = []RiskLevel{RiskLevelLow, RiskLevelMedium, RiskLevelHigh, RiskLevelCritical}

func (l RiskLevel) Valid() bool {
	for _, known := range RiskLevels {
		if l == known {
			return true
		}
	}
	return false
}

// FlagConfig is the part of a flag the runtime evaluator reads.
type FlagConfig struct {
	RolloutPercentage int                         `gorm:"column:rollout_percentage;not null;default:0" json:"rollout_percentage"`
	TargetUsers       datatypes.JSONSlice[string] `gorm:"column:target_users" json:"target_users,omitempty"`
}

type FeatureFlag struct {
	ID               string        `gorm:"primaryKey;size:36" json:"id"`
	Name             string        `gorm:"size:255;not null;index" json:"name"`
	Description      string        `gorm:"type:text" json:"description"`
	CodeChanges      string        `gorm:"type:text" json:"code_changes"`
	Scope            string        `gorm:"size:64" json:"scope"`
	CreatedBy        string        `gorm:"size:255;not null" json:"created_by"`
	Status           FlagStatus    `gorm:"size:16;not null;index" json:"status"`
	RiskLevel        RiskLevel     `gorm:"size:16" json:"risk_level,omitempty"`
	Config           FlagConfig    `gorm:"embedded" json:"config"`
	RequiredApprover string        `gorm:"size:255" json:"required_approver,omitempty"`
	Version          int64         `gorm:"not null;default:1" json:"version"`
	RiskAnalysis     *RiskAnalysis `gorm:"foreignKey:FlagID;constraint:OnDelete:CASCADE" json:"risk_analysis,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// RiskAnalysis is written once when its flag is submitted and never updated.
type RiskAnalysis struct {
	ID             string                      `gorm:"primaryKey;size:36" json:"id"`
	FlagID         string                      `gorm:"size:36;not null;uniqueIndex" json:"flag_id"`
	RiskScore      float64                     `gorm:"not null" json:"risk_score"`
	AIReasoning    string                      `gorm:"type:text" json:"ai_reasoning"`
	DetectedIssues datatypes.JSONSlice[string] `gorm:"column:detected_issues" json:"detected_issues"`
	Recommendation string                      `gorm:"type:text" json:"recommendation"`
	Source         string                      `gorm:"size:32" json:"source"`
	AnalyzedAt     time.Time                   `gorm:"not null" json:"analyzed_at"`
}
