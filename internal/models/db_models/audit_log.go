package db_models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AuditLog is append-only; one row per state change.
type AuditLog struct {
	BaseModel
	ResourceType string         `gorm:"size:30;index:idx_audit_resource" json:"resource_type"`
	ResourceID   uuid.UUID      `gorm:"type:uuid;index:idx_audit_resource" json:"resource_id"`
	Action       string         `gorm:"size:40" json:"action"`
	FromStatus   string         `gorm:"size:20" json:"from_status"`
	ToStatus     string         `gorm:"size:20" json:"to_status"`
	ActorID      *uuid.UUID     `gorm:"type:uuid" json:"actor_id,omitempty"`
	ActorRole    string         `gorm:"size:20" json:"actor_role"`
	Details      datatypes.JSON `json:"details,omitempty"`
}
