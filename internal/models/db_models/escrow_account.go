package db_models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EscrowAccountStatus string

const (
	EscrowAccountActive EscrowAccountStatus = "ACTIVE"
	EscrowAccountClosed EscrowAccountStatus = "CLOSED"
)

type EscrowAccount struct {
	BaseModel
	TransactionID uuid.UUID           `gorm:"type:uuid;uniqueIndex" json:"transaction_id"`
	Balance       decimal.Decimal     `gorm:"type:numeric(14,2)" json:"balance"`
	FrozenAmount  decimal.Decimal     `gorm:"type:numeric(14,2)" json:"frozen_amount"`
	Currency      string              `gorm:"size:3" json:"currency"`
	Status        EscrowAccountStatus `gorm:"size:10" json:"status"`
	ClosedAt      *time.Time          `json:"closed_at,omitempty"`
}

func (a *EscrowAccount) AvailableBalance() decimal.Decimal {
	return a.Balance.Sub(a.FrozenAmount)
}
