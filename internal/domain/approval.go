package domain

import "time"

type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalStatusPending, ApprovalStatusApproved, ApprovalStatusRejected:
		return true
	}
	return false
}

// Approval references its flag by id only. It is an audit record and is
// never deleted; it carries no foreign-key constraint on the flag.
type Approval struct {
	ID         string         `gorm:"primaryKey;size:36" json:"id"`
	FlagID     string         `gorm:"size:36;not null;index" json:"flag_id"`
	ApproverID string         `gorm:"size:255;not null;index" json:"approver_id"`
	Status     ApprovalStatus `gorm:"size:16;not null;index" json:"status"`
	Comment    string         `gorm:"type:text" json:"comment"`
	ResolvedBy string         `gorm:"size:255" json:"resolved_by,omitempty"`
	ApprovedAt *time.Time     `json:"approved_at"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// ApprovalWithFlag is the read model returned by approval listings.
type ApprovalWithFlag struct {
	Approval
	FlagDetails *FeatureFlag `json:"flag_details"`
}
