package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/payOSHQ/payos-lib-golang"
)

var ErrInvalidSignature = errors.New("webhook signature mismatch")

// Callback is a provider notification normalised for reconciliation.
type Callback struct {
	Provider          string
	WebhookID         string
	EventType         string
	Reference         string
	ExternalReference string
	Status            Status
	FailureReason     string
}

// ParsePayOS verifies a payOS webhook body with the SDK checksum and maps it
// to a Callback. payOS only reports paid orders with code "00".
func ParsePayOS(body []byte) (Callback, error) {
	var hook payos.WebhookType
	if err := json.Unmarshal(body, &hook); err != nil {
		return Callback{}, err
	}
	if hook.Signature == "" {
		return Callback{}, ErrInvalidSignature
	}
	data, err := payos.VerifyPaymentWebhookData(hook)
	if err != nil {
		return Callback{}, errors.Join(ErrInvalidSignature, err)
	}

	orderCode := strconv.FormatInt(data.OrderCode, 10)
	cb := Callback{
		Provider:          "payos",
		WebhookID:         orderCode + ":" + data.Code,
		EventType:         "payment." + strings.ToLower(data.Code),
		ExternalReference: orderCode,
		Status:            StatusSuccess,
	}
	if data.Code != "00" {
		cb.Status = StatusFailed
		cb.FailureReason = data.Desc
	}
	return cb, nil
}

type mobileMoneyEvent struct {
	ID                string `json:"id"`
	Event             string `json:"event"`
	Reference         string `json:"reference"`
	ExternalReference string `json:"external_reference"`
	Status            string `json:"status"`
	Reason            string `json:"reason"`
}

// SignMobileMoney is the HMAC-SHA256 hex digest the rail sends in X-Signature.
func SignMobileMoney(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func ParseMobileMoney(secret string, body []byte, signature string) (Callback, error) {
	if secret == "" || !hmac.Equal([]byte(SignMobileMoney(secret, body)), []byte(strings.ToLower(signature))) {
		return Callback{}, ErrInvalidSignature
	}
	var ev mobileMoneyEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return Callback{}, err
	}
	if ev.ID == "" || (ev.Reference == "" && ev.ExternalReference == "") {
		return Callback{}, errors.New("mobile money webhook missing id or reference")
	}

	cb := Callback{
		Provider:          "mobile_money",
		WebhookID:         ev.ID,
		EventType:         ev.Event,
		Reference:         ev.Reference,
		ExternalReference: ev.ExternalReference,
		FailureReason:     ev.Reason,
	}
	switch strings.ToUpper(ev.Status) {
	case "SUCCESS", "SUCCESSFUL", "COMPLETED":
		cb.Status = StatusSuccess
	case "FAILED", "REJECTED", "CANCELLED", "EXPIRED":
		cb.Status = StatusFailed
	default:
		cb.Status = StatusPending
	}
	return cb, nil
}
