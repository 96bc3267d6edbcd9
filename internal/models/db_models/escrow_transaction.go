package db_models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type TransactionStatus string

const (
	TxnPendingFunds TransactionStatus = "PENDING_FUNDS"
	TxnFundsHeld    TransactionStatus = "FUNDS_HELD"
	TxnDelivered    TransactionStatus = "DELIVERED"
	TxnReleased     TransactionStatus = "RELEASED"
	TxnDispute      TransactionStatus = "DISPUTE"
	TxnRefunded     TransactionStatus = "REFUNDED"
	TxnCancelled    TransactionStatus = "CANCELLED"
)

func (s TransactionStatus) IsTerminal() bool {
	return s == TxnReleased || s == TxnRefunded || s == TxnCancelled
}

type EscrowTransaction struct {
	BaseModel
	Reference   string    `gorm:"uniqueIndex;size:20" json:"reference"`
	BuyerID     uuid.UUID `gorm:"type:uuid;index" json:"buyer_id"`
	SellerID    uuid.UUID `gorm:"type:uuid;index" json:"seller_id"`
	Title       string    `gorm:"size:200" json:"title"`
	Description string    `json:"description"`
	Category    string    `gorm:"size:50" json:"category"`

	Amount      decimal.Decimal   `gorm:"type:numeric(14,2)" json:"amount"`
	Commission  decimal.Decimal   `gorm:"type:numeric(14,2)" json:"commission"`
	TotalAmount decimal.Decimal   `gorm:"type:numeric(14,2)" json:"total_amount"`
	Currency    string            `gorm:"size:3" json:"currency"`
	Status      TransactionStatus `gorm:"size:20;index" json:"status"`

	PaymentDeadline  time.Time  `json:"payment_deadline"`
	DeliveryDeadline time.Time  `json:"delivery_deadline"`
	AutoReleaseDate  *time.Time `gorm:"index" json:"auto_release_date,omitempty"`
	DisputeDeadline  *time.Time `json:"dispute_deadline,omitempty"`

	FundsReceivedAt *time.Time `json:"funds_received_at,omitempty"`
	DeliveredAt     *time.Time `json:"delivered_at,omitempty"`
	ReleasedAt      *time.Time `json:"released_at,omitempty"`
	RefundedAt      *time.Time `json:"refunded_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`

	AutoReleaseEnabled          bool `json:"auto_release_enabled"`
	AutoReleaseDays             int  `json:"auto_release_days"`
	RequireDeliveryConfirmation bool `json:"require_delivery_confirmation"`

	DeliveryAddress      string         `json:"delivery_address,omitempty"`
	DeliveryInstructions string         `json:"delivery_instructions,omitempty"`
	Notes                string         `json:"notes,omitempty"`
	CancelReason         string         `json:"cancel_reason,omitempty"`
	Metadata             datatypes.JSON `json:"metadata,omitempty"`

	// SettlementRef is set by whoever claims the final payout.
	SettlementRef string `gorm:"size:64;index" json:"-"`
	Version       int    `json:"version"`

	Milestones []Milestone `gorm:"foreignKey:TransactionID" json:"milestones,omitempty"`
}

func (EscrowTransaction) TableName() string { return "escrow_transactions" }

// IsParticipant reports whether the account is the buyer or the seller.
func (t *EscrowTransaction) IsParticipant(accountID uuid.UUID) bool {
	return t.BuyerID == accountID || t.SellerID == accountID
}

func (t *EscrowTransaction) CounterpartyOf(accountID uuid.UUID) uuid.UUID {
	if t.BuyerID == accountID {
		return t.SellerID
	}
	return t.BuyerID
}
