package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbm "kimi/internal/models/db_models"
)

type MilestoneRepository interface {
	WithTx(tx *gorm.DB) MilestoneRepository
	FindByID(ctx context.Context, id uuid.UUID) (*dbm.Milestone, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*dbm.Milestone, error)
	ListByTransaction(ctx context.Context, txnID uuid.UUID) ([]dbm.Milestone, error)
	UpdateIfStatus(ctx context.Context, ms *dbm.Milestone, from dbm.MilestoneStatus) (bool, error)
}

type milestoneRepository struct {
	db *gorm.DB
}

func NewMilestoneRepository(db *gorm.DB) MilestoneRepository {
	return &milestoneRepository{db: db}
}

func (r *milestoneRepository) WithTx(tx *gorm.DB) MilestoneRepository {
	return &milestoneRepository{db: tx}
}

func (r *milestoneRepository) FindByID(ctx context.Context, id uuid.UUID) (*dbm.Milestone, error) {
	var ms dbm.Milestone
	if err := r.db.WithContext(ctx).First(&ms, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ms, nil
}

func (r *milestoneRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*dbm.Milestone, error) {
	var ms dbm.Milestone
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&ms, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ms, nil
}

func (r *milestoneRepository) ListByTransaction(ctx context.Context, txnID uuid.UUID) ([]dbm.Milestone, error) {
	var items []dbm.Milestone
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", txnID).
		Order("sort_order ASC").
		Find(&items).Error
	return items, err
}

func (r *milestoneRepository) UpdateIfStatus(ctx context.Context, ms *dbm.Milestone, from dbm.MilestoneStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&dbm.Milestone{}).
		Where("id = ? AND status = ?", ms.ID, from).
		Updates(map[string]interface{}{
			"status":           ms.Status,
			"started_at":       ms.StartedAt,
			"completed_at":     ms.CompletedAt,
			"approved_at":      ms.ApprovedAt,
			"rejected_at":      ms.RejectedAt,
			"completion_note":  ms.CompletionNote,
			"rejection_reason": ms.RejectionReason,
			"payment_ref":      ms.PaymentRef,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
