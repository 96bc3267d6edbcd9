package lifecycle

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	dbm "kimi/internal/models/db_models"
	"kimi/pkg/utils"
)

var hundred = decimal.NewFromInt(100)

type MilestoneInput struct {
	Title       string
	Description string
	Percentage  decimal.Decimal
	DueDate     *time.Time
}

type CreateInput struct {
	BuyerID     uuid.UUID
	SellerID    uuid.UUID
	Title       string
	Description string
	Category    string
	Amount      decimal.Decimal

	PaymentDeadline  *time.Time
	DeliveryDeadline time.Time

	AutoReleaseEnabled          *bool
	AutoReleaseDays             *int
	RequireDeliveryConfirmation *bool

	DeliveryAddress      string
	DeliveryInstructions string
	Notes                string

	Milestones []MilestoneInput
}

// Commission returns amount × rate rounded half-up to two decimals.
func (m *Machine) Commission(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(m.policy.CommissionRate).Round(2)
}

// NewTransaction validates in and builds an unsaved PENDING_FUNDS transaction
// with its derived amounts, deadlines and milestones.
func (m *Machine) NewTransaction(in CreateInput, now time.Time) (*dbm.EscrowTransaction, error) {
	if in.BuyerID == uuid.Nil || in.SellerID == uuid.Nil {
		return nil, utils.NewValidationError("seller_id", "buyer and seller are required")
	}
	if in.BuyerID == in.SellerID {
		return nil, utils.NewValidationError("seller_id", "buyer and seller must be different accounts")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, utils.NewValidationError("title", "title is required")
	}
	if err := m.ValidateAmount(in.Amount); err != nil {
		return nil, err
	}

	paymentDeadline := now.Add(m.policy.PaymentWindow)
	if in.PaymentDeadline != nil {
		paymentDeadline = in.PaymentDeadline.UTC()
	}
	if !paymentDeadline.After(now) {
		return nil, utils.NewValidationError("payment_deadline", "must be in the future")
	}
	deliveryDeadline := in.DeliveryDeadline.UTC()
	if !deliveryDeadline.After(paymentDeadline) {
		return nil, utils.NewValidationError("delivery_deadline", "must be after the payment deadline")
	}

	autoRelease := boolOr(in.AutoReleaseEnabled, true)
	requireConfirmation := boolOr(in.RequireDeliveryConfirmation, true)
	days := m.policy.AutoReleaseDays
	if in.AutoReleaseDays != nil {
		days = *in.AutoReleaseDays
	}
	if days < 1 || days > 90 {
		return nil, utils.NewValidationError("auto_release_days", "must be between 1 and 90")
	}

	commission := m.Commission(in.Amount)
	txn := &dbm.EscrowTransaction{
		BaseModel:                   dbm.BaseModel{ID: uuid.New()},
		Reference:                   utils.NewReference("TXN", 8),
		BuyerID:                     in.BuyerID,
		SellerID:                    in.SellerID,
		Title:                       strings.TrimSpace(in.Title),
		Description:                 in.Description,
		Category:                    in.Category,
		Amount:                      in.Amount,
		Commission:                  commission,
		TotalAmount:                 in.Amount.Add(commission),
		Currency:                    m.policy.Currency,
		Status:                      dbm.TxnPendingFunds,
		PaymentDeadline:             paymentDeadline,
		DeliveryDeadline:            deliveryDeadline,
		AutoReleaseEnabled:          autoRelease,
		AutoReleaseDays:             days,
		RequireDeliveryConfirmation: requireConfirmation,
		DeliveryAddress:             in.DeliveryAddress,
		DeliveryInstructions:        in.DeliveryInstructions,
		Notes:                       in.Notes,
		Version:                     1,
	}

	if len(in.Milestones) > 0 {
		milestones, err := m.SplitMilestones(txn.ID, in.Amount, in.Milestones)
		if err != nil {
			return nil, err
		}
		txn.Milestones = milestones
	}
	return txn, nil
}

func (m *Machine) ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return utils.NewValidationError("amount", "must be positive")
	}
	if !amount.Equal(amount.Round(2)) {
		return utils.NewValidationError("amount", "at most two decimal places")
	}
	if amount.LessThan(m.policy.MinAmount) || amount.GreaterThan(m.policy.MaxAmount) {
		return utils.NewValidationError("amount", "must be between %s and %s",
			utils.FormatAmount(m.policy.MinAmount, m.policy.Currency),
			utils.FormatAmount(m.policy.MaxAmount, m.policy.Currency))
	}
	return nil
}

// ValidateMilestones enforces 0 < p ≤ 100 per entry and a total of 100
// within the configured tolerance.
func (m *Machine) ValidateMilestones(in []MilestoneInput) error {
	total := decimal.Zero
	for i, ms := range in {
		if strings.TrimSpace(ms.Title) == "" {
			return utils.NewValidationError("milestones", "milestone %d: title is required", i+1)
		}
		if !ms.Percentage.IsPositive() || ms.Percentage.GreaterThan(hundred) {
			return utils.NewValidationError("milestones", "milestone %d: percentage must be in (0, 100]", i+1)
		}
		total = total.Add(ms.Percentage)
	}
	if total.Sub(hundred).Abs().GreaterThan(m.policy.MilestoneTolerance) {
		return utils.NewValidationError("milestones", "percentages must sum to 100, got %s", total.String())
	}
	return nil
}

// SplitMilestones derives each milestone amount from the transaction amount.
// The last milestone absorbs rounding so the amounts add up exactly.
func (m *Machine) SplitMilestones(txnID uuid.UUID, amount decimal.Decimal, in []MilestoneInput) ([]dbm.Milestone, error) {
	if err := m.ValidateMilestones(in); err != nil {
		return nil, err
	}
	out := make([]dbm.Milestone, 0, len(in))
	allocated := decimal.Zero
	for i, ms := range in {
		share := amount.Mul(ms.Percentage).Div(hundred).Round(2)
		if i == len(in)-1 {
			share = amount.Sub(allocated)
		}
		allocated = allocated.Add(share)
		out = append(out, dbm.Milestone{
			BaseModel:     dbm.BaseModel{ID: uuid.New()},
			TransactionID: txnID,
			SortOrder:     i + 1,
			Title:         strings.TrimSpace(ms.Title),
			Description:   ms.Description,
			Percentage:    ms.Percentage,
			Amount:        share,
			Status:        dbm.MilestonePending,
			DueDate:       ms.DueDate,
		})
	}
	return out, nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
