package response_models

import "time"

type AccountLoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type AccountResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	PhoneNumber     string `json:"phone_number"`
	Role            string `json:"role"`
	KYCStatus       string `json:"kyc_status"`
	CanCreateEscrow bool   `json:"can_create_escrow"`
	CanArbitrate    bool   `json:"can_arbitrate"`
}

type KYCResponse struct {
	Status     string  `json:"status"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}
