package repositories

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbm "kimi/internal/models/db_models"
)

// ConversationRepository stores the messages and ratings attached to a transaction.
type ConversationRepository interface {
	WithTx(tx *gorm.DB) ConversationRepository
	AddMessage(ctx context.Context, m *dbm.TransactionMessage) error
	ListMessages(ctx context.Context, txnID uuid.UUID) ([]dbm.TransactionMessage, error)
	AddRating(ctx context.Context, r *dbm.TransactionRating) error
	AverageRating(ctx context.Context, ratedID uuid.UUID) (float64, int64, error)
}

type conversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) WithTx(tx *gorm.DB) ConversationRepository {
	return &conversationRepository{db: tx}
}

func (r *conversationRepository) AddMessage(ctx context.Context, m *dbm.TransactionMessage) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *conversationRepository) ListMessages(ctx context.Context, txnID uuid.UUID) ([]dbm.TransactionMessage, error) {
	var items []dbm.TransactionMessage
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", txnID).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

func (r *conversationRepository) AddRating(ctx context.Context, rating *dbm.TransactionRating) error {
	return r.db.WithContext(ctx).Create(rating).Error
}

func (r *conversationRepository) AverageRating(ctx context.Context, ratedID uuid.UUID) (float64, int64, error) {
	var row struct {
		Avg   *float64
		Count int64
	}
	err := r.db.WithContext(ctx).
		Model(&dbm.TransactionRating{}).
		Select("AVG(rating) AS avg, COUNT(*) AS count").
		Where("rated_id = ?", ratedID).
		Scan(&row).Error
	if err != nil || row.Avg == nil {
		return 0, row.Count, err
	}
	return *row.Avg, row.Count, nil
}
