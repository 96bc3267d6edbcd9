package gateway

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"

	"github.com/payOSHQ/payos-lib-golang"
)

type PayOSConfig struct {
	ClientID    string
	ApiKey      string
	ChecksumKey string
	ReturnURL   string
	CancelURL   string
}

// PayOS collects buyer funds through a hosted checkout link. payOS has no
// payout API, so Release and Refund go to the configured payout rail.
type PayOS struct {
	cfg     PayOSConfig
	payouts Gateway
}

func NewPayOS(cfg PayOSConfig, payouts Gateway) (*PayOS, error) {
	if err := payos.Key(cfg.ClientID, cfg.ApiKey, cfg.ChecksumKey); err != nil {
		return nil, fmt.Errorf("payos client init: %w", err)
	}
	return &PayOS{cfg: cfg, payouts: payouts}, nil
}

func (p *PayOS) Name() string { return "payos" }

// OrderCode maps a payment reference onto the numeric order code payOS
// requires. The same reference always yields the same code.
func OrderCode(reference string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(reference))
	// payOS caps order codes at 2^53-1.
	return int64(h.Sum64() % 9_007_199_254_740_991)
}

func (p *PayOS) Collect(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	orderCode := OrderCode(req.Reference)
	amount := int(req.Amount.Ceil().IntPart())

	desc := req.Description
	if len(desc) > 25 {
		desc = desc[:25]
	}

	body := payos.CheckoutRequestType{
		OrderCode: orderCode,
		Amount:    amount,
		Items: []payos.Item{{
			Name:     req.Reference,
			Price:    amount,
			Quantity: 1,
		}},
		Description: desc,
		CancelUrl:   p.cfg.CancelURL,
		ReturnUrl:   p.cfg.ReturnURL,
	}

	resp, err := payos.CreatePaymentLink(body)
	if err != nil {
		return Result{}, fmt.Errorf("payos create link: %w", err)
	}

	return Result{
		Status:            StatusPending,
		ExternalReference: strconv.FormatInt(orderCode, 10),
		CheckoutURL:       resp.CheckoutUrl,
		Raw: map[string]interface{}{
			"payment_link_id": resp.PaymentLinkId,
			"order_code":      orderCode,
		},
	}, nil
}

func (p *PayOS) Release(ctx context.Context, req Request) (Result, error) {
	return p.payouts.Release(ctx, req)
}

func (p *PayOS) Refund(ctx context.Context, req Request) (Result, error) {
	return p.payouts.Refund(ctx, req)
}
