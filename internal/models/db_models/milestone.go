package db_models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "PENDING"
	MilestoneInProgress MilestoneStatus = "IN_PROGRESS"
	MilestoneCompleted  MilestoneStatus = "COMPLETED"
	MilestoneApproved   MilestoneStatus = "APPROVED"
	MilestoneRejected   MilestoneStatus = "REJECTED"
)

type Milestone struct {
	BaseModel
	TransactionID uuid.UUID       `gorm:"type:uuid;uniqueIndex:idx_milestone_order" json:"transaction_id"`
	SortOrder     int             `gorm:"uniqueIndex:idx_milestone_order" json:"sort_order"`
	Title         string          `gorm:"size:200" json:"title"`
	Description   string          `json:"description,omitempty"`
	Percentage    decimal.Decimal `gorm:"type:numeric(5,2)" json:"percentage"`
	Amount        decimal.Decimal `gorm:"type:numeric(14,2)" json:"amount"`
	Status        MilestoneStatus `gorm:"size:20" json:"status"`
	DueDate       *time.Time      `json:"due_date,omitempty"`

	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	CompletionNote  string     `json:"completion_note,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	PaymentRef      string     `gorm:"size:64" json:"payment_ref,omitempty"`
}
