package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbm "kimi/internal/models/db_models"
)

type PaymentRepository interface {
	WithTx(tx *gorm.DB) PaymentRepository

	Create(ctx context.Context, p *dbm.Payment) error
	// FirstOrCreate returns the existing row for p.Reference or inserts p.
	FirstOrCreate(ctx context.Context, p *dbm.Payment) (*dbm.Payment, bool, error)
	FindByReference(ctx context.Context, ref string) (*dbm.Payment, error)
	FindByReferenceForUpdate(ctx context.Context, ref string) (*dbm.Payment, error)
	FindByExternalReference(ctx context.Context, provider, external string) (*dbm.Payment, error)
	ListForAccount(ctx context.Context, accountID uuid.UUID, page, pageSize int) ([]dbm.Payment, int64, error)
	ListByTransaction(ctx context.Context, txnID uuid.UUID) ([]dbm.Payment, error)
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]string, error)
	SumSucceeded(ctx context.Context, txnID uuid.UUID, purposes ...dbm.PaymentPurpose) (decimal.Decimal, error)

	// UpdateIfStatus writes the mutable columns of p only while the row is
	// still in one of from.
	UpdateIfStatus(ctx context.Context, p *dbm.Payment, from ...dbm.PaymentStatus) (bool, error)
}

type paymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) WithTx(tx *gorm.DB) PaymentRepository {
	return &paymentRepository{db: tx}
}

func (r *paymentRepository) Create(ctx context.Context, p *dbm.Payment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *paymentRepository) FirstOrCreate(ctx context.Context, p *dbm.Payment) (*dbm.Payment, bool, error) {
	existing, err := r.FindByReference(ctx, p.Reference)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}
	if err := r.Create(ctx, p); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, ferr := r.FindByReference(ctx, p.Reference)
			if ferr != nil {
				return nil, false, ferr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return p, true, nil
}

func (r *paymentRepository) FindByReference(ctx context.Context, ref string) (*dbm.Payment, error) {
	return r.first(r.db.WithContext(ctx), "reference = ?", ref)
}

func (r *paymentRepository) FindByReferenceForUpdate(ctx context.Context, ref string) (*dbm.Payment, error) {
	return r.first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), "reference = ?", ref)
}

func (r *paymentRepository) FindByExternalReference(ctx context.Context, provider, external string) (*dbm.Payment, error) {
	return r.first(r.db.WithContext(ctx), "provider = ? AND external_reference = ?", provider, external)
}

func (r *paymentRepository) first(q *gorm.DB, query string, args ...interface{}) (*dbm.Payment, error) {
	var p dbm.Payment
	if err := q.Where(query, args...).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepository) ListForAccount(ctx context.Context, accountID uuid.UUID, page, pageSize int) ([]dbm.Payment, int64, error) {
	q := r.db.WithContext(ctx).Model(&dbm.Payment{}).Where("account_id = ?", accountID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var items []dbm.Payment
	err := q.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&items).Error
	return items, total, err
}

func (r *paymentRepository) ListByTransaction(ctx context.Context, txnID uuid.UUID) ([]dbm.Payment, error) {
	var items []dbm.Payment
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", txnID).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

func (r *paymentRepository) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var refs []string
	err := r.db.WithContext(ctx).
		Model(&dbm.Payment{}).
		Where("status = ? AND type IN ? AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?",
			dbm.PaymentPending, []dbm.PaymentType{dbm.PaymentDisbursement, dbm.PaymentRefund}, now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Pluck("reference", &refs).Error
	return refs, err
}

func (r *paymentRepository) SumSucceeded(ctx context.Context, txnID uuid.UUID, purposes ...dbm.PaymentPurpose) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := r.db.WithContext(ctx).
		Model(&dbm.Payment{}).
		Select("SUM(amount)").
		Where("transaction_id = ? AND status = ? AND purpose IN ?", txnID, dbm.PaymentSuccess, purposes).
		Scan(&sum).Error
	if err != nil {
		return decimal.Zero, err
	}
	return sum.Decimal, nil
}

func (r *paymentRepository) UpdateIfStatus(ctx context.Context, p *dbm.Payment, from ...dbm.PaymentStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&dbm.Payment{}).
		Where("id = ? AND status IN ?", p.ID, from).
		Updates(map[string]interface{}{
			"status":             p.Status,
			"external_reference": p.ExternalReference,
			"checkout_url":       p.CheckoutURL,
			"failure_reason":     p.FailureReason,
			"provider_response":  p.ProviderResponse,
			"attempts":           p.Attempts,
			"next_attempt_at":    p.NextAttemptAt,
			"processed_at":       p.ProcessedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
