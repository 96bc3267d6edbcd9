package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbm "kimi/internal/models/db_models"
)

type DisputeFilter struct {
	// Participant limits to disputes where the account is complainant or respondent.
	Participant *uuid.UUID
	ArbitreID   *uuid.UUID
	Status      dbm.DisputeStatus
	Page        int
	PageSize    int
}

type DisputeRepository interface {
	WithTx(tx *gorm.DB) DisputeRepository

	Create(ctx context.Context, d *dbm.Dispute) error
	FindByID(ctx context.Context, id uuid.UUID) (*dbm.Dispute, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*dbm.Dispute, error)
	FindByTransaction(ctx context.Context, txnID uuid.UUID) (*dbm.Dispute, error)
	List(ctx context.Context, f DisputeFilter) ([]dbm.Dispute, int64, error)
	UpdateIfStatus(ctx context.Context, d *dbm.Dispute, from dbm.DisputeStatus) (bool, error)

	AddComment(ctx context.Context, c *dbm.DisputeComment) error
	ListComments(ctx context.Context, disputeID uuid.UUID, includeInternal bool) ([]dbm.DisputeComment, error)
}

type disputeRepository struct {
	db *gorm.DB
}

func NewDisputeRepository(db *gorm.DB) DisputeRepository {
	return &disputeRepository{db: db}
}

func (r *disputeRepository) WithTx(tx *gorm.DB) DisputeRepository {
	return &disputeRepository{db: tx}
}

func (r *disputeRepository) Create(ctx context.Context, d *dbm.Dispute) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *disputeRepository) FindByID(ctx context.Context, id uuid.UUID) (*dbm.Dispute, error) {
	return r.first(r.db.WithContext(ctx), "id = ?", id)
}

func (r *disputeRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*dbm.Dispute, error) {
	return r.first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), "id = ?", id)
}

func (r *disputeRepository) FindByTransaction(ctx context.Context, txnID uuid.UUID) (*dbm.Dispute, error) {
	return r.first(r.db.WithContext(ctx), "transaction_id = ?", txnID)
}

func (r *disputeRepository) first(q *gorm.DB, query string, args ...interface{}) (*dbm.Dispute, error) {
	var d dbm.Dispute
	if err := q.Where(query, args...).First(&d).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

func (r *disputeRepository) List(ctx context.Context, f DisputeFilter) ([]dbm.Dispute, int64, error) {
	q := r.db.WithContext(ctx).Model(&dbm.Dispute{})
	if f.Participant != nil {
		q = q.Where("complainant_id = ? OR respondent_id = ?", *f.Participant, *f.Participant)
	}
	if f.ArbitreID != nil {
		q = q.Where("arbitre_id = ?", *f.ArbitreID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var items []dbm.Dispute
	err := q.Order("created_at DESC").
		Offset((f.Page - 1) * f.PageSize).
		Limit(f.PageSize).
		Find(&items).Error
	return items, total, err
}

func (r *disputeRepository) UpdateIfStatus(ctx context.Context, d *dbm.Dispute, from dbm.DisputeStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&dbm.Dispute{}).
		Where("id = ? AND status = ?", d.ID, from).
		Updates(map[string]interface{}{
			"status":              d.Status,
			"arbitre_id":          d.ArbitreID,
			"verdict":             d.Verdict,
			"refund_amount":       d.RefundAmount,
			"resolution_notes":    d.ResolutionNotes,
			"refund_payment_ref":  d.RefundPaymentRef,
			"release_payment_ref": d.ReleasePaymentRef,
			"escalation_reason":   d.EscalationReason,
			"assigned_at":         d.AssignedAt,
			"review_started_at":   d.ReviewStartedAt,
			"escalated_at":        d.EscalatedAt,
			"resolved_at":         d.ResolvedAt,
			"closed_at":           d.ClosedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *disputeRepository) AddComment(ctx context.Context, c *dbm.DisputeComment) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *disputeRepository) ListComments(ctx context.Context, disputeID uuid.UUID, includeInternal bool) ([]dbm.DisputeComment, error) {
	q := r.db.WithContext(ctx).Where("dispute_id = ?", disputeID)
	if !includeInternal {
		q = q.Where("is_internal = ?", false)
	}
	var items []dbm.DisputeComment
	err := q.Order("created_at ASC").Find(&items).Error
	return items, err
}
