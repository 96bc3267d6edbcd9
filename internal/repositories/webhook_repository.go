package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbm "kimi/internal/models/db_models"
)

type WebhookRepository interface {
	// Insert records a delivery. It reports false when the provider already
	// sent this webhook id.
	Insert(ctx context.Context, w *dbm.Webhook) (bool, error)
	// Reclaim hands an already logged delivery back for processing when the
	// earlier attempt failed or stalled. It returns nil when the delivery was
	// handled or is still being handled.
	Reclaim(ctx context.Context, provider, webhookID string, stale time.Duration) (*dbm.Webhook, error)
	MarkStatus(ctx context.Context, id uuid.UUID, status dbm.WebhookStatus, reason string, at time.Time) error
}

type webhookRepository struct {
	db *gorm.DB
}

func NewWebhookRepository(db *gorm.DB) WebhookRepository {
	return &webhookRepository{db: db}
}

func (r *webhookRepository) Insert(ctx context.Context, w *dbm.Webhook) (bool, error) {
	if err := r.db.WithContext(ctx).Create(w).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *webhookRepository) Reclaim(ctx context.Context, provider, webhookID string, stale time.Duration) (*dbm.Webhook, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&dbm.Webhook{}).
		Where("provider = ? AND webhook_id = ?", provider, webhookID).
		Where("status = ? OR (status = ? AND updated_at < ?)", dbm.WebhookFailed, dbm.WebhookReceived, now.Add(-stale).Unix()).
		Updates(map[string]interface{}{"status": dbm.WebhookReceived, "error": "", "updated_at": now.Unix()})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	var w dbm.Webhook
	err := r.db.WithContext(ctx).
		Where("provider = ? AND webhook_id = ?", provider, webhookID).
		First(&w).Error
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *webhookRepository) MarkStatus(ctx context.Context, id uuid.UUID, status dbm.WebhookStatus, reason string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&dbm.Webhook{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "error": reason, "processed_at": at}).Error
}
