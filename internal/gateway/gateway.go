// Package gateway abstracts the money rails: collection from the buyer and
// payouts or refunds through mobile money. Every call is keyed by the
// caller's payment reference and must be safe to repeat.
package gateway

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusPending Status = "PENDING"
	StatusFailed  Status = "FAILED"
)

type Op string

const (
	OpCollect Op = "collect"
	OpRelease Op = "release"
	OpRefund  Op = "refund"
)

type Request struct {
	Reference   string
	AccountID   uuid.UUID
	Amount      decimal.Decimal
	Currency    string
	PhoneNumber string
	Description string
}

type Result struct {
	Status            Status
	ExternalReference string
	CheckoutURL       string
	FailureReason     string
	Raw               map[string]interface{}
}

// Gateway returns an error only when the outcome is unknown (transport
// failure, timeout). A provider refusal is a Result with StatusFailed.
type Gateway interface {
	Name() string
	Collect(ctx context.Context, req Request) (Result, error)
	Release(ctx context.Context, req Request) (Result, error)
	Refund(ctx context.Context, req Request) (Result, error)
}

// Call dispatches op on g.
func Call(ctx context.Context, g Gateway, op Op, req Request) (Result, error) {
	switch op {
	case OpCollect:
		return g.Collect(ctx, req)
	case OpRelease:
		return g.Release(ctx, req)
	default:
		return g.Refund(ctx, req)
	}
}
