package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbm "kimi/internal/models/db_models"
	"kimi/internal/testutil"
)

func newTxn(t *testing.T, repo EscrowTransactionRepository, status dbm.TransactionStatus) *dbm.EscrowTransaction {
	t.Helper()
	txn := &dbm.EscrowTransaction{
		Reference:        "TXN-" + uuid.NewString()[:8],
		BuyerID:          uuid.New(),
		SellerID:         uuid.New(),
		Title:            "Phone",
		Amount:           decimal.NewFromInt(100000),
		Commission:       decimal.NewFromInt(2500),
		TotalAmount:      decimal.NewFromInt(102500),
		Currency:         "XAF",
		Status:           status,
		PaymentDeadline:  time.Now().Add(72 * time.Hour),
		DeliveryDeadline: time.Now().Add(240 * time.Hour),
		Version:          1,
	}
	require.NoError(t, repo.Create(context.Background(), txn))
	return txn
}

func TestSaveTransitionRejectsStaleVersion(t *testing.T) {
	db := testutil.NewSQLite(t)
	repo := NewEscrowTransactionRepository(db)
	ctx := context.Background()
	txn := newTxn(t, repo, dbm.TxnFundsHeld)

	first := *txn
	second := *txn

	now := time.Now().UTC()
	first.Status = dbm.TxnDelivered
	first.DeliveredAt = &now
	first.Version++
	ok, err := repo.SaveTransition(ctx, &first, dbm.TxnFundsHeld)
	require.NoError(t, err)
	assert.True(t, ok)

	second.Status = dbm.TxnCancelled
	second.Version++
	ok, err = repo.SaveTransition(ctx, &second, dbm.TxnFundsHeld)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.FindByID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, dbm.TxnDelivered, got.Status)
	assert.Equal(t, 2, got.Version)
}

func TestClaimSettlementOnce(t *testing.T) {
	db := testutil.NewSQLite(t)
	repo := NewEscrowTransactionRepository(db)
	ctx := context.Background()
	txn := newTxn(t, repo, dbm.TxnDelivered)

	ok, err := repo.ClaimSettlement(ctx, txn.ID, dbm.TxnDelivered, "REL-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ClaimSettlement(ctx, txn.ID, dbm.TxnDelivered, "REL-2")
	require.NoError(t, err)
	assert.False(t, ok)

	due, err := repo.ListDueForAutoRelease(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, repo.ClearSettlement(ctx, txn.ID, "REL-2"))
	ok, err = repo.ClaimSettlement(ctx, txn.ID, dbm.TxnDelivered, "REL-3")
	require.NoError(t, err)
	assert.False(t, ok, "clearing with a foreign ref must not release the claim")

	require.NoError(t, repo.ClearSettlement(ctx, txn.ID, "REL-1"))
	ok, err = repo.ClaimSettlement(ctx, txn.ID, dbm.TxnDelivered, "REL-3")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListDueForAutoReleaseSkipsOptOut(t *testing.T) {
	db := testutil.NewSQLite(t)
	repo := NewEscrowTransactionRepository(db)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	enabled := newTxn(t, repo, dbm.TxnDelivered)
	optedOut := newTxn(t, repo, dbm.TxnDelivered)
	require.NoError(t, db.Model(&dbm.EscrowTransaction{}).Where("id = ?", enabled.ID).
		Updates(map[string]interface{}{"auto_release_enabled": true, "auto_release_date": past}).Error)
	require.NoError(t, db.Model(&dbm.EscrowTransaction{}).Where("id = ?", optedOut.ID).
		Updates(map[string]interface{}{"auto_release_enabled": false, "auto_release_date": past}).Error)

	due, err := repo.ListDueForAutoRelease(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{enabled.ID}, due)
}

func TestFindByIDMissingReturnsNil(t *testing.T) {
	db := testutil.NewSQLite(t)
	got, err := NewEscrowTransactionRepository(db).FindByID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWebhookInsertDeduplicates(t *testing.T) {
	db := testutil.NewSQLite(t)
	repo := NewWebhookRepository(db)
	ctx := context.Background()

	hook := func() *dbm.Webhook {
		return &dbm.Webhook{Provider: "mobile_money", WebhookID: "evt-1", EventType: "collection.completed", Status: dbm.WebhookReceived}
	}

	ok, err := repo.Insert(ctx, hook())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Insert(ctx, hook())
	require.NoError(t, err)
	assert.False(t, ok)

	other := hook()
	other.Provider = "payos"
	ok, err = repo.Insert(ctx, other)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWebhookReclaim(t *testing.T) {
	db := testutil.NewSQLite(t)
	repo := NewWebhookRepository(db)
	ctx := context.Background()

	hook := &dbm.Webhook{Provider: "mobile_money", WebhookID: "evt-7", Status: dbm.WebhookReceived}
	ok, err := repo.Insert(ctx, hook)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := repo.Reclaim(ctx, "mobile_money", "evt-7", time.Hour)
	require.NoError(t, err)
	assert.Nil(t, got, "a fresh delivery is still in flight")

	require.NoError(t, repo.MarkStatus(ctx, hook.ID, dbm.WebhookFailed, "boom", time.Now()))
	got, err = repo.Reclaim(ctx, "mobile_money", "evt-7", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, hook.ID, got.ID)
	assert.Equal(t, dbm.WebhookReceived, got.Status)
	assert.Empty(t, got.Error)

	// A delivery stuck in RECEIVED past the stale window is taken over.
	got, err = repo.Reclaim(ctx, "mobile_money", "evt-7", -time.Hour)
	require.NoError(t, err)
	assert.NotNil(t, got)

	require.NoError(t, repo.MarkStatus(ctx, hook.ID, dbm.WebhookProcessed, "", time.Now()))
	got, err = repo.Reclaim(ctx, "mobile_money", "evt-7", -time.Hour)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = repo.Reclaim(ctx, "payos", "evt-7", time.Hour)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPaymentUpdateIfStatus(t *testing.T) {
	db := testutil.NewSQLite(t)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	p := &dbm.Payment{
		Reference: "REL-42",
		AccountID: uuid.New(),
		Type:      dbm.PaymentDisbursement,
		Amount:    decimal.NewFromInt(50000),
		Currency:  "XAF",
		Status:    dbm.PaymentPending,
	}
	require.NoError(t, repo.Create(ctx, p))

	p.Status = dbm.PaymentSuccess
	ok, err := repo.UpdateIfStatus(ctx, p, dbm.PaymentPending, dbm.PaymentProcessing)
	require.NoError(t, err)
	assert.True(t, ok)

	p.Status = dbm.PaymentFailed
	ok, err = repo.UpdateIfStatus(ctx, p, dbm.PaymentPending, dbm.PaymentProcessing)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.FindByReference(ctx, "REL-42")
	require.NoError(t, err)
	assert.Equal(t, dbm.PaymentSuccess, got.Status)

	_, created, err := repo.FirstOrCreate(ctx, &dbm.Payment{Reference: "REL-42", AccountID: uuid.New(), Type: dbm.PaymentDisbursement})
	require.NoError(t, err)
	assert.False(t, created)
}
