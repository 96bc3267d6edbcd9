package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbm "kimi/internal/models/db_models"
)

type EscrowAccountRepository interface {
	WithTx(tx *gorm.DB) EscrowAccountRepository
	Create(ctx context.Context, acc *dbm.EscrowAccount) error
	FindByTransaction(ctx context.Context, txnID uuid.UUID) (*dbm.EscrowAccount, error)
	FindByTransactionForUpdate(ctx context.Context, txnID uuid.UUID) (*dbm.EscrowAccount, error)
	Save(ctx context.Context, acc *dbm.EscrowAccount) error
}

type escrowAccountRepository struct {
	db *gorm.DB
}

func NewEscrowAccountRepository(db *gorm.DB) EscrowAccountRepository {
	return &escrowAccountRepository{db: db}
}

func (r *escrowAccountRepository) WithTx(tx *gorm.DB) EscrowAccountRepository {
	return &escrowAccountRepository{db: tx}
}

func (r *escrowAccountRepository) Create(ctx context.Context, acc *dbm.EscrowAccount) error {
	return r.db.WithContext(ctx).Create(acc).Error
}

func (r *escrowAccountRepository) FindByTransaction(ctx context.Context, txnID uuid.UUID) (*dbm.EscrowAccount, error) {
	return r.find(r.db.WithContext(ctx), txnID)
}

func (r *escrowAccountRepository) FindByTransactionForUpdate(ctx context.Context, txnID uuid.UUID) (*dbm.EscrowAccount, error) {
	return r.find(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), txnID)
}

func (r *escrowAccountRepository) find(q *gorm.DB, txnID uuid.UUID) (*dbm.EscrowAccount, error) {
	var acc dbm.EscrowAccount
	if err := q.First(&acc, "transaction_id = ?", txnID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &acc, nil
}

func (r *escrowAccountRepository) Save(ctx context.Context, acc *dbm.EscrowAccount) error {
	return r.db.WithContext(ctx).
		Model(acc).
		Select("balance", "frozen_amount", "status", "closed_at", "updated_at").
		Updates(acc).Error
}
