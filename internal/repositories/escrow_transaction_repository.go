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

type TransactionFilter struct {
	UserID   uuid.UUID
	Side     string // "buyer", "seller" or empty for both
	Status   dbm.TransactionStatus
	Page     int
	PageSize int
}

type UserStats struct {
	Purchases          int64
	Sales              int64
	CompletedPurchases int64
	CompletedSales     int64
	Disputed           int64
	PurchaseVolume     decimal.Decimal
	SalesVolume        decimal.Decimal
}

type EscrowTransactionRepository interface {
	WithTx(tx *gorm.DB) EscrowTransactionRepository

	Create(ctx context.Context, txn *dbm.EscrowTransaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*dbm.EscrowTransaction, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*dbm.EscrowTransaction, error)
	List(ctx context.Context, f TransactionFilter) ([]dbm.EscrowTransaction, int64, error)

	// SaveTransition persists the state fields of txn only if the row is still
	// in from at the version txn was read with.
	SaveTransition(ctx context.Context, txn *dbm.EscrowTransaction, from dbm.TransactionStatus) (bool, error)
	ClaimSettlement(ctx context.Context, id uuid.UUID, status dbm.TransactionStatus, ref string) (bool, error)
	ClearSettlement(ctx context.Context, id uuid.UUID, ref string) error

	ListDueForAutoRelease(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ListByDeadline(ctx context.Context, status dbm.TransactionStatus, column string, from, to time.Time) ([]dbm.EscrowTransaction, error)
	Stats(ctx context.Context, userID uuid.UUID) (*UserStats, error)
}

type escrowTransactionRepository struct {
	db *gorm.DB
}

func NewEscrowTransactionRepository(db *gorm.DB) EscrowTransactionRepository {
	return &escrowTransactionRepository{db: db}
}

func (r *escrowTransactionRepository) WithTx(tx *gorm.DB) EscrowTransactionRepository {
	return &escrowTransactionRepository{db: tx}
}

func (r *escrowTransactionRepository) Create(ctx context.Context, txn *dbm.EscrowTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *escrowTransactionRepository) FindByID(ctx context.Context, id uuid.UUID) (*dbm.EscrowTransaction, error) {
	var txn dbm.EscrowTransaction
	err := r.db.WithContext(ctx).
		Preload("Milestones", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		First(&txn, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

func (r *escrowTransactionRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*dbm.EscrowTransaction, error) {
	var txn dbm.EscrowTransaction
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&txn, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

func (r *escrowTransactionRepository) List(ctx context.Context, f TransactionFilter) ([]dbm.EscrowTransaction, int64, error) {
	q := r.db.WithContext(ctx).Model(&dbm.EscrowTransaction{})
	switch f.Side {
	case "buyer":
		q = q.Where("buyer_id = ?", f.UserID)
	case "seller":
		q = q.Where("seller_id = ?", f.UserID)
	default:
		q = q.Where("buyer_id = ? OR seller_id = ?", f.UserID, f.UserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []dbm.EscrowTransaction
	err := q.Order("created_at DESC").
		Offset((f.Page - 1) * f.PageSize).
		Limit(f.PageSize).
		Find(&items).Error
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *escrowTransactionRepository) SaveTransition(ctx context.Context, txn *dbm.EscrowTransaction, from dbm.TransactionStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&dbm.EscrowTransaction{}).
		Where("id = ? AND status = ? AND version = ?", txn.ID, from, txn.Version-1).
		Updates(map[string]interface{}{
			"status":            txn.Status,
			"version":           txn.Version,
			"funds_received_at": txn.FundsReceivedAt,
			"delivered_at":      txn.DeliveredAt,
			"auto_release_date": txn.AutoReleaseDate,
			"dispute_deadline":  txn.DisputeDeadline,
			"released_at":       txn.ReleasedAt,
			"refunded_at":       txn.RefundedAt,
			"cancelled_at":      txn.CancelledAt,
			"cancel_reason":     txn.CancelReason,
			"updated_at":        time.Now().Unix(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *escrowTransactionRepository) ClaimSettlement(ctx context.Context, id uuid.UUID, status dbm.TransactionStatus, ref string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&dbm.EscrowTransaction{}).
		Where("id = ? AND status = ? AND settlement_ref = ?", id, status, "").
		Update("settlement_ref", ref)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *escrowTransactionRepository) ClearSettlement(ctx context.Context, id uuid.UUID, ref string) error {
	return r.db.WithContext(ctx).
		Model(&dbm.EscrowTransaction{}).
		Where("id = ? AND settlement_ref = ?", id, ref).
		Update("settlement_ref", "").Error
}

func (r *escrowTransactionRepository) ListDueForAutoRelease(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&dbm.EscrowTransaction{}).
		Where("status = ? AND auto_release_enabled = ? AND auto_release_date IS NOT NULL AND auto_release_date <= ? AND settlement_ref = ?",
			dbm.TxnDelivered, true, now, "").
		Order("auto_release_date ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

var deadlineColumns = map[string]bool{"payment_deadline": true, "delivery_deadline": true, "auto_release_date": true}

func (r *escrowTransactionRepository) ListByDeadline(ctx context.Context, status dbm.TransactionStatus, column string, from, to time.Time) ([]dbm.EscrowTransaction, error) {
	if !deadlineColumns[column] {
		return nil, errors.New("unsupported deadline column " + column)
	}
	var items []dbm.EscrowTransaction
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Where(column+" > ? AND "+column+" <= ?", from, to).
		Find(&items).Error
	return items, err
}

func (r *escrowTransactionRepository) Stats(ctx context.Context, userID uuid.UUID) (*UserStats, error) {
	var row struct {
		Purchases          int64
		Sales              int64
		CompletedPurchases int64
		CompletedSales     int64
		Disputed           int64
		PurchaseVolume     decimal.NullDecimal
		SalesVolume        decimal.NullDecimal
	}
	err := r.db.WithContext(ctx).Raw(`
		SELECT
			COALESCE(SUM(CASE WHEN buyer_id = @u THEN 1 ELSE 0 END), 0) AS purchases,
			COALESCE(SUM(CASE WHEN seller_id = @u THEN 1 ELSE 0 END), 0) AS sales,
			COALESCE(SUM(CASE WHEN buyer_id = @u AND status = @released THEN 1 ELSE 0 END), 0) AS completed_purchases,
			COALESCE(SUM(CASE WHEN seller_id = @u AND status = @released THEN 1 ELSE 0 END), 0) AS completed_sales,
			COALESCE(SUM(CASE WHEN status = @dispute THEN 1 ELSE 0 END), 0) AS disputed,
			SUM(CASE WHEN buyer_id = @u AND status = @released THEN amount ELSE 0 END) AS purchase_volume,
			SUM(CASE WHEN seller_id = @u AND status = @released THEN amount ELSE 0 END) AS sales_volume
		FROM escrow_transactions
		WHERE (buyer_id = @u OR seller_id = @u) AND deleted_at IS NULL`,
		map[string]interface{}{"u": userID, "released": dbm.TxnReleased, "dispute": dbm.TxnDispute}).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return &UserStats{
		Purchases:          row.Purchases,
		Sales:              row.Sales,
		CompletedPurchases: row.CompletedPurchases,
		CompletedSales:     row.CompletedSales,
		Disputed:           row.Disputed,
		PurchaseVolume:     row.PurchaseVolume.Decimal,
		SalesVolume:        row.SalesVolume.Decimal,
	}, nil
}
