package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"kimi/internal/models/db_models"
)

type AccountRepository interface {
	InsertTx(account *db_models.Account, ctx context.Context) error
	FindById(ctx context.Context, id uuid.UUID) (*db_models.Account, error)
	FindByEmail(ctx context.Context, email string) (*db_models.Account, error)
	FindByPhone(ctx context.Context, phone string) (*db_models.Account, error)
	UpdateKYC(ctx context.Context, account *db_models.Account) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
}

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{
		db: db,
	}
}

func (a *accountRepository) InsertTx(account *db_models.Account, ctx context.Context) error {
	return a.db.WithContext(ctx).Create(account).Error
}

func (a *accountRepository) FindById(ctx context.Context, id uuid.UUID) (*db_models.Account, error) {
	return a.first(ctx, "id = ?", id)
}

func (a *accountRepository) FindByEmail(ctx context.Context, email string) (*db_models.Account, error) {
	return a.first(ctx, "email = ?", email)
}

func (a *accountRepository) FindByPhone(ctx context.Context, phone string) (*db_models.Account, error) {
	return a.first(ctx, "phone_number = ?", phone)
}

func (a *accountRepository) first(ctx context.Context, query string, args ...interface{}) (*db_models.Account, error) {
	var account db_models.Account
	err := a.db.WithContext(ctx).Where(query, args...).First(&account).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &account, nil
}

func (a *accountRepository) UpdateKYC(ctx context.Context, account *db_models.Account) error {
	return a.db.WithContext(ctx).
		Model(account).
		Select("kyc_status", "kyc_documents", "kyc_confidence", "kyc_submitted_at",
			"kyc_verified_at", "kyc_rejection_reason", "updated_at").
		Updates(account).Error
}

func (a *accountRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	res := a.db.WithContext(ctx).
		Model(&db_models.Account{}).
		Where("id = ?", id).
		Update("password_hash", passwordHash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
