package gateway_fx

import (
	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/fx"

	"kimi/internal/config"
	"kimi/internal/gateway"
)

var log = logging.Logger("gateway")

var Module = fx.Provide(provideGateway)

func provideGateway(cfg *config.Config) (gateway.Gateway, error) {
	if cfg.PaymentProvider != "payos" {
		log.Warnw("using sandbox payment gateway, no money moves", "provider", cfg.PaymentProvider)
		return gateway.NewSandbox(), nil
	}

	// TODO: replace the sandbox payout rail once the mobile money disbursement contract is signed.
	log.Warn("payOS has no payout API, releases and refunds go through the sandbox rail")
	return gateway.NewPayOS(gateway.PayOSConfig{
		ClientID:    cfg.PayOS.ClientID,
		ApiKey:      cfg.PayOS.ApiKey,
		ChecksumKey: cfg.PayOS.ChecksumKey,
		ReturnURL:   cfg.PayOS.ReturnURL,
		CancelURL:   cfg.PayOS.CancelURL,
	}, gateway.NewSandbox())
}
