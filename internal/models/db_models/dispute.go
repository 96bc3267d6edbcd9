package db_models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DisputeStatus string

const (
	DisputeOpen      DisputeStatus = "OPEN"
	DisputeAssigned  DisputeStatus = "ASSIGNED"
	DisputeInReview  DisputeStatus = "IN_REVIEW"
	DisputeResolved  DisputeStatus = "RESOLVED"
	DisputeClosed    DisputeStatus = "CLOSED"
	DisputeEscalated DisputeStatus = "ESCALATED"
)

type Verdict string

const (
	VerdictBuyerFavor    Verdict = "BUYER_FAVOR"
	VerdictSellerFavor   Verdict = "SELLER_FAVOR"
	VerdictPartialRefund Verdict = "PARTIAL_REFUND"
	VerdictNoFault       Verdict = "NO_FAULT"
)

func (v Verdict) Valid() bool {
	switch v {
	case VerdictBuyerFavor, VerdictSellerFavor, VerdictPartialRefund, VerdictNoFault:
		return true
	}
	return false
}

type DisputePriority string

const (
	PriorityLow    DisputePriority = "LOW"
	PriorityMedium DisputePriority = "MEDIUM"
	PriorityHigh   DisputePriority = "HIGH"
	PriorityUrgent DisputePriority = "URGENT"
)

type Dispute struct {
	BaseModel
	Reference     string          `gorm:"uniqueIndex;size:20" json:"reference"`
	TransactionID uuid.UUID       `gorm:"type:uuid;uniqueIndex" json:"transaction_id"`
	ComplainantID uuid.UUID       `gorm:"type:uuid;index" json:"complainant_id"`
	RespondentID  uuid.UUID       `gorm:"type:uuid;index" json:"respondent_id"`
	ArbitreID     *uuid.UUID      `gorm:"type:uuid;index" json:"arbitre_id,omitempty"`
	Category      string          `gorm:"size:30" json:"category"`
	Priority      DisputePriority `gorm:"size:10" json:"priority"`
	Title         string          `gorm:"size:200" json:"title"`
	Description   string          `json:"description"`
	Status        DisputeStatus   `gorm:"size:20;index" json:"status"`

	// FrozenAmount is the escrow available balance when the dispute opened.
	FrozenAmount    decimal.Decimal     `gorm:"type:numeric(14,2)" json:"frozen_amount"`
	Verdict         Verdict             `gorm:"size:20" json:"verdict,omitempty"`
	RefundAmount    decimal.NullDecimal `gorm:"type:numeric(14,2)" json:"refund_amount,omitempty"`
	ResolutionNotes string              `json:"resolution_notes,omitempty"`

	RefundPaymentRef  string `gorm:"size:64" json:"refund_payment_ref,omitempty"`
	ReleasePaymentRef string `gorm:"size:64" json:"release_payment_ref,omitempty"`

	EscalationReason string     `json:"escalation_reason,omitempty"`
	AssignedAt       *time.Time `json:"assigned_at,omitempty"`
	ReviewStartedAt  *time.Time `json:"review_started_at,omitempty"`
	EscalatedAt      *time.Time `json:"escalated_at,omitempty"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
}

type DisputeComment struct {
	BaseModel
	DisputeID  uuid.UUID `gorm:"type:uuid;index" json:"dispute_id"`
	AuthorID   uuid.UUID `gorm:"type:uuid" json:"author_id"`
	Body       string    `json:"body"`
	IsInternal bool      `json:"is_internal"`
}
