package services

import (
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"kimi/internal/lifecycle"
	dbm "kimi/internal/models/db_models"
)

func auditEntry(resource string, id uuid.UUID, action string, from, to string, actor lifecycle.Actor, actorID uuid.UUID, details map[string]interface{}) *dbm.AuditLog {
	entry := &dbm.AuditLog{
		ResourceType: resource,
		ResourceID:   id,
		Action:       action,
		FromStatus:   from,
		ToStatus:     to,
		ActorRole:    string(actor),
	}
	if actorID != uuid.Nil {
		entry.ActorID = &actorID
	}
	if len(details) > 0 {
		if raw, err := json.Marshal(details); err == nil {
			entry.Details = datatypes.JSON(raw)
		}
	}
	return entry
}

func participants(t *dbm.EscrowTransaction) []uuid.UUID {
	return []uuid.UUID{t.BuyerID, t.SellerID}
}
