package db_models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type PaymentType string

const (
	PaymentCollection   PaymentType = "COLLECTION"
	PaymentDisbursement PaymentType = "DISBURSEMENT"
	PaymentRefund       PaymentType = "REFUND"
	PaymentFee          PaymentType = "FEE"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentSuccess    PaymentStatus = "SUCCESS"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentCancelled  PaymentStatus = "CANCELLED"
	PaymentTimeout    PaymentStatus = "TIMEOUT"
)

func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentSuccess, PaymentFailed, PaymentCancelled, PaymentTimeout:
		return true
	}
	return false
}

// PaymentPurpose tells settlement what to do once the provider confirms.
type PaymentPurpose string

const (
	PurposeEscrowFunding  PaymentPurpose = "ESCROW_FUNDING"
	PurposeCommission     PaymentPurpose = "COMMISSION"
	PurposeRelease        PaymentPurpose = "RELEASE"
	PurposeMilestone      PaymentPurpose = "MILESTONE"
	PurposeCancelRefund   PaymentPurpose = "CANCEL_REFUND"
	PurposeFeeRefund      PaymentPurpose = "FEE_REFUND"
	PurposeDisputeRefund  PaymentPurpose = "DISPUTE_REFUND"
	PurposeDisputeRelease PaymentPurpose = "DISPUTE_RELEASE"
	// PurposeLateRefund returns a collection that settled after the
	// transaction stopped waiting for funds.
	PurposeLateRefund PaymentPurpose = "LATE_REFUND"
)

type Payment struct {
	BaseModel
	Reference     string         `gorm:"uniqueIndex;size:64" json:"reference"`
	TransactionID *uuid.UUID     `gorm:"type:uuid;index" json:"transaction_id,omitempty"`
	MilestoneID   *uuid.UUID     `gorm:"type:uuid" json:"milestone_id,omitempty"`
	DisputeID     *uuid.UUID     `gorm:"type:uuid" json:"dispute_id,omitempty"`
	AccountID     uuid.UUID      `gorm:"type:uuid;index" json:"account_id"`
	Type          PaymentType    `gorm:"size:20;index" json:"type"`
	Purpose       PaymentPurpose `gorm:"size:20" json:"purpose"`
	Provider      string         `gorm:"size:20" json:"provider"`
	PhoneNumber   string         `gorm:"size:20" json:"phone_number,omitempty"`
	TriggerAction string         `gorm:"size:30" json:"trigger_action,omitempty"`
	InitiatedBy   *uuid.UUID     `gorm:"type:uuid" json:"initiated_by,omitempty"`

	Amount      decimal.Decimal `gorm:"type:numeric(14,2)" json:"amount"`
	Fee         decimal.Decimal `gorm:"type:numeric(14,2)" json:"fee"`
	TotalAmount decimal.Decimal `gorm:"type:numeric(14,2)" json:"total_amount"`
	Currency    string          `gorm:"size:3" json:"currency"`
	Status      PaymentStatus   `gorm:"size:20;index" json:"status"`

	ExternalReference string         `gorm:"size:100;index" json:"external_reference,omitempty"`
	CheckoutURL       string         `json:"checkout_url,omitempty"`
	FailureReason     string         `json:"failure_reason,omitempty"`
	ProviderResponse  datatypes.JSON `json:"-"`

	Attempts      int        `json:"attempts"`
	NextAttemptAt *time.Time `gorm:"index" json:"next_attempt_at,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

func (p *Payment) IsOutgoing() bool {
	return p.Type == PaymentDisbursement || p.Type == PaymentRefund
}

// DrawsEscrow reports whether settling p takes money out of the escrow account.
func (p *Payment) DrawsEscrow() bool {
	switch p.Purpose {
	case PurposeRelease, PurposeMilestone, PurposeCancelRefund, PurposeDisputeRefund, PurposeDisputeRelease:
		return true
	}
	return false
}
