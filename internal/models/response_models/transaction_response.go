package response_models

import (
	"github.com/shopspring/decimal"

	"kimi/internal/models/db_models"
)

type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
}

func NewPagination(page, pageSize int, total int64) Pagination {
	pages := 0
	if pageSize > 0 {
		pages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return Pagination{Page: page, PageSize: pageSize, TotalItems: total, TotalPages: pages}
}

type TransactionDetail struct {
	db_models.EscrowTransaction
	MyRole         string   `json:"my_role,omitempty"`
	AllowedActions []string `json:"allowed_actions"`
	FormattedTotal string   `json:"formatted_total"`
}

type TransactionList struct {
	Items      []db_models.EscrowTransaction `json:"items"`
	Pagination Pagination                    `json:"pagination"`
}

type UserStatistics struct {
	TotalPurchases       int64           `json:"total_purchases"`
	TotalSales           int64           `json:"total_sales"`
	PurchaseSuccessRate  float64         `json:"purchase_success_rate"`
	SalesSuccessRate     float64         `json:"sales_success_rate"`
	PurchaseVolume       decimal.Decimal `json:"purchase_volume"`
	SalesVolume          decimal.Decimal `json:"sales_volume"`
	DisputedTransactions int64           `json:"disputed_transactions"`
	AverageRating        float64         `json:"average_rating"`
	RatingsReceived      int64           `json:"ratings_received"`
}

type EscrowAccountResponse struct {
	db_models.EscrowAccount
	AvailableBalance decimal.Decimal `json:"available_balance"`
}

type PaymentList struct {
	Items      []db_models.Payment `json:"items"`
	Pagination Pagination          `json:"pagination"`
}

type StartPaymentResponse struct {
	Payment     db_models.Payment `json:"payment"`
	CheckoutURL string            `json:"checkout_url,omitempty"`
	Replayed    bool              `json:"replayed"`
}

type DisputeList struct {
	Items      []db_models.Dispute `json:"items"`
	Pagination Pagination          `json:"pagination"`
}

type DisputeDetail struct {
	db_models.Dispute
	Comments []db_models.DisputeComment `json:"comments"`
}
