package repositories

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbm "kimi/internal/models/db_models"
)

type AuditRepository interface {
	WithTx(tx *gorm.DB) AuditRepository
	Append(ctx context.Context, entries ...*dbm.AuditLog) error
	ListForResource(ctx context.Context, resourceType string, id uuid.UUID) ([]dbm.AuditLog, error)
}

type auditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) WithTx(tx *gorm.DB) AuditRepository {
	return &auditRepository{db: tx}
}

func (r *auditRepository) Append(ctx context.Context, entries ...*dbm.AuditLog) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(entries).Error
}

func (r *auditRepository) ListForResource(ctx context.Context, resourceType string, id uuid.UUID) ([]dbm.AuditLog, error) {
	var items []dbm.AuditLog
	err := r.db.WithContext(ctx).
		Where("resource_type = ? AND resource_id = ?", resourceType, id).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}
