package db_models

import (
	"time"

	"gorm.io/datatypes"
)

type WebhookStatus string

const (
	WebhookReceived  WebhookStatus = "RECEIVED"
	WebhookProcessed WebhookStatus = "PROCESSED"
	WebhookIgnored   WebhookStatus = "IGNORED"
	WebhookFailed    WebhookStatus = "FAILED"
)

type Webhook struct {
	BaseModel
	Provider    string         `gorm:"size:20;uniqueIndex:idx_webhook_provider_event" json:"provider"`
	WebhookID   string         `gorm:"size:100;uniqueIndex:idx_webhook_provider_event" json:"webhook_id"`
	EventType   string         `gorm:"size:50" json:"event_type"`
	Reference   string         `gorm:"size:64;index" json:"reference"`
	Payload     datatypes.JSON `json:"payload"`
	Status      WebhookStatus  `gorm:"size:20" json:"status"`
	Error       string         `json:"error,omitempty"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
}
