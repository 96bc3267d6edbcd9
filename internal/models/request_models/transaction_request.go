package request_models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type MilestoneRequest struct {
	Title       string          `json:"title" binding:"required,max=200"`
	Description string          `json:"description"`
	Percentage  decimal.Decimal `json:"percentage"`
	DueDate     *time.Time      `json:"due_date"`
}

type CreateTransactionRequest struct {
	SellerID    uuid.UUID       `json:"seller_id" binding:"required"`
	Title       string          `json:"title" binding:"required,max=200"`
	Description string          `json:"description"`
	Category    string          `json:"category" binding:"omitempty,max=50"`
	Amount      decimal.Decimal `json:"amount"`

	PaymentDeadline  *time.Time `json:"payment_deadline"`
	DeliveryDeadline time.Time  `json:"delivery_deadline" binding:"required"`

	AutoReleaseEnabled          *bool `json:"auto_release_enabled"`
	AutoReleaseDays             *int  `json:"auto_release_days"`
	RequireDeliveryConfirmation *bool `json:"require_delivery_confirmation"`

	DeliveryAddress      string `json:"delivery_address"`
	DeliveryInstructions string `json:"delivery_instructions"`
	Notes                string `json:"notes"`

	Milestones []MilestoneRequest `json:"milestones" binding:"omitempty,dive"`
}

type TransactionActionRequest struct {
	Action string `json:"action" binding:"required,oneof=cancel mark_delivered confirm_delivery request_release"`
	Reason string `json:"reason" binding:"max=500"`
}

type ListTransactionsQuery struct {
	Page     int    `form:"page,default=1"`
	PageSize int    `form:"pageSize,default=20"`
	Status   string `form:"status"`
	Role     string `form:"role" binding:"omitempty,oneof=buyer seller"`
}

type PostMessageRequest struct {
	Body string `json:"body" binding:"required,max=2000"`
}

type RateTransactionRequest struct {
	Rating        int    `json:"rating" binding:"required,min=1,max=5"`
	Communication int    `json:"communication" binding:"omitempty,min=1,max=5"`
	Reliability   int    `json:"reliability" binding:"omitempty,min=1,max=5"`
	Quality       int    `json:"quality" binding:"omitempty,min=1,max=5"`
	Comment       string `json:"comment" binding:"max=1000"`
}

type MilestoneActionRequest struct {
	Note string `json:"note" binding:"max=1000"`
}
