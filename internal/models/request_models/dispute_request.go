package request_models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OpenDisputeRequest struct {
	TransactionID uuid.UUID `json:"transaction_id" binding:"required"`
	Category      string    `json:"category" binding:"required,oneof=NOT_DELIVERED NOT_AS_DESCRIBED DAMAGED PAYMENT_ISSUE FRAUD OTHER"`
	Priority      string    `json:"priority" binding:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	Title         string    `json:"title" binding:"required,max=200"`
	Description   string    `json:"description" binding:"required"`
}

type AssignDisputeRequest struct {
	ArbitreID uuid.UUID `json:"arbitre_id" binding:"required"`
}

type ResolveDisputeRequest struct {
	Verdict      string           `json:"verdict" binding:"required,oneof=BUYER_FAVOR SELLER_FAVOR PARTIAL_REFUND NO_FAULT"`
	RefundAmount *decimal.Decimal `json:"refund_amount"`
	Notes        string           `json:"notes" binding:"max=2000"`
}

type EscalateDisputeRequest struct {
	Reason string `json:"reason" binding:"required,max=1000"`
}

type DisputeCommentRequest struct {
	Body       string `json:"body" binding:"required,max=2000"`
	IsInternal bool   `json:"is_internal"`
}

type ListDisputesQuery struct {
	Page     int    `form:"page,default=1"`
	PageSize int    `form:"pageSize,default=20"`
	Status   string `form:"status"`
}
