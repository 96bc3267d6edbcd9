package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kimi/internal/gateway"
	"kimi/internal/lifecycle"
	dbm "kimi/internal/models/db_models"
	"kimi/pkg/utils"
)

func TestCollectionFundsEscrow(t *testing.T) {
	h := newHarness(t)
	txn := h.createTxn(t)

	resp, err := h.payments.StartCollection(h.ctx, txn.ID, h.buyer.ID, "pay-1", "")
	require.NoError(t, err)
	assert.False(t, resp.Replayed)
	assert.Equal(t, dbm.PaymentSuccess, resp.Payment.Status)
	assert.Equal(t, "102500", resp.Payment.TotalAmount.String())

	got := h.txn(t, txn.ID)
	assert.Equal(t, dbm.TxnFundsHeld, got.Status)
	assert.NotNil(t, got.FundsReceivedAt)

	acc := h.escrowAccount(t, txn.ID)
	assert.Equal(t, "100000", acc.Balance.String())
	assert.True(t, acc.FrozenAmount.IsZero())

	fee := h.payment(t, "FEE-pay-1")
	assert.Equal(t, dbm.PaymentFee, fee.Type)
	assert.Equal(t, "2500", fee.Amount.String())
	assert.Equal(t, dbm.PaymentSuccess, fee.Status)

	calls := h.callsFor(gateway.OpCollect)
	require.Len(t, calls, 1)
	assert.Equal(t, "102500", calls[0].Amount.String())
	assert.Contains(t, h.notifier.Types(), "transaction.funded")
}

func TestCollectionReplaysIdempotencyKey(t *testing.T) {
	h := newHarness(t)
	txn := h.createTxn(t)
	h.gw.Script(gateway.OpCollect, gateway.StatusPending)

	first, err := h.payments.StartCollection(h.ctx, txn.ID, h.buyer.ID, "pay-2", "")
	require.NoError(t, err)
	assert.Equal(t, dbm.PaymentProcessing, first.Payment.Status)
	assert.NotEmpty(t, first.CheckoutURL)

	second, err := h.payments.StartCollection(h.ctx, txn.ID, h.buyer.ID, "pay-2", "")
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	assert.Len(t, h.callsFor(gateway.OpCollect), 1)

	_, err = h.payments.StartCollection(h.ctx, txn.ID, h.buyer.ID, "pay-3", "")
	assert.ErrorIs(t, err, utils.ErrConcurrencyConflict)
	assert.Equal(t, dbm.TxnPendingFunds, h.txn(t, txn.ID).Status)
}

func TestCollectionKeyBelongsToOneTransaction(t *testing.T) {
	h := newHarness(t)
	a := h.createTxn(t)
	b := h.createTxn(t)

	_, err := h.payments.StartCollection(h.ctx, a.ID, h.buyer.ID, "shared", "")
	require.NoError(t, err)

	_, err = h.payments.StartCollection(h.ctx, b.ID, h.buyer.ID, "shared", "")
	var ve *utils.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestCollectionRejectedAfterPaymentDeadline(t *testing.T) {
	h := newHarness(t)
	txn := h.createTxn(t)
	h.clock.Advance(73 * time.Hour)

	_, err := h.payments.StartCollection(h.ctx, txn.ID, h.buyer.ID, "", "")
	assert.True(t, utils.IsTransitionReason(err, utils.ReasonDeadlinePassed), "got %v", err)
	assert.Empty(t, h.gw.Calls())
}

func TestOnlyBuyerPays(t *testing.T) {
	h := newHarness(t)
	txn := h.createTxn(t)

	_, err := h.payments.StartCollection(h.ctx, txn.ID, h.seller.ID, "", "")
	assert.True(t, utils.IsTransitionReason(err, utils.ReasonWrongRole), "got %v", err)

	_, err = h.payments.StartCollection(h.ctx, txn.ID, h.admin.ID, "", "")
	assert.ErrorIs(t, err, utils.ErrForbidden)
}

func TestRefusedCollectionIsTerminal(t *testing.T) {
	h := newHarness(t)
	txn := h.createTxn(t)
	h.gw.Script(gateway.OpCollect, gateway.StatusFailed)

	_, err := h.payments.StartCollection(h.ctx, txn.ID, h.buyer.ID, "pay-x", "")
	var gwErr *utils.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.True(t, gwErr.Terminal)
	assert.Equal(t, dbm.PaymentFailed, h.payment(t, "pay-x").Status)

	require.Equal(t, 1, countType(h, "payment.failed"))
	for _, ev := range h.notifier.Events() {
		if ev.Type == "payment.failed" {
			assert.Equal(t, []uuid.UUID{h.buyer.ID}, ev.Recipients)
			assert.Equal(t, txn.Reference, ev.Reference)
			assert.Equal(t, "pay-x", ev.Data["payment"])
			assert.Equal(t, "declined by sandbox", ev.Data["reason"])
		}
	}

	// A new attempt with a fresh key is allowed.
	_, err = h.payments.StartCollection(h.ctx, txn.ID, h.buyer.ID, "pay-y", "")
	require.NoError(t, err)
	assert.Equal(t, dbm.TxnFundsHeld, h.txn(t, txn.ID).Status)
}

func mobileMoneyBody(t *testing.T, id, ref, status string) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]string{"id": id, "event": "payment.updated", "reference": ref, "status": status})
	require.NoError(t, err)
	return b
}

func TestWebhookSettlesPendingCollectionOnce(t *testing.T) {
	h := newHarness(t)
	txn := h.createTxn(t)
	h.gw.Script(gateway.OpCollect, gateway.StatusPending)

	_, err := h.payments.StartCollection(h.ctx, txn.ID, h.buyer.ID, "pay-hook", "")
	require.NoError(t, err)

	body := mobileMoneyBody(t, "evt-1", "pay-hook", "SUCCESSFUL")
	cb, err := gateway.ParseMobileMoney("secret", body, gateway.SignMobileMoney("secret", body))
	require.NoError(t, err)

	require.NoError(t, h.payments.HandleCallback(h.ctx, cb, body))
	require.NoError(t, h.payments.HandleCallback(h.ctx, cb, body))

	assert.Equal(t, dbm.TxnFundsHeld, h.txn(t, txn.ID).Status)
	assert.Equal(t, dbm.PaymentSuccess, h.payment(t, "pay-hook").Status)

	var hooks int64
	require.NoError(t, h.db.Model(&dbm.Webhook{}).Count(&hooks).Error)
	assert.Equal(t, int64(1), hooks)

	assert.Equal(t, 1, countType(h, "transaction.funded"))
}

func TestWebhookRedeliveryAfterFailureIsReconciled(t *testing.T) {
	h := newHarness(t)
	txn := h.createTxn(t)
	h.gw.Script(gateway.OpCollect, gateway.StatusPending)
	_, err := h.payments.StartCollection(h.ctx, txn.ID, h.buyer.ID, "pay-again", "")
	require.NoError(t, err)

	body := mobileMoneyBody(t, "evt-9", "pay-again", "SUCCESSFUL")
	cb, err := gateway.ParseMobileMoney("secret", body, gateway.SignMobileMoney("secret", body))
	require.NoError(t, err)

	// Hide the transaction so the first reconcile cannot finish.
	require.NoError(t, h.db.Delete(&dbm.EscrowTransaction{}, "id = ?", txn.ID).Error)
	require.Error(t, h.payments.HandleCallback(h.ctx, cb, body))

	var hook dbm.Webhook
	require.NoError(t, h.db.First(&hook).Error)
	assert.Equal(t, dbm.WebhookFailed, hook.Status)
	assert.NotEqual(t, dbm.PaymentSuccess, h.payment(t, "pay-again").Status)

	require.NoError(t, h.db.Unscoped().Model(&dbm.EscrowTransaction{}).Where("id = ?", txn.ID).Update("deleted_at", nil).Error)
	require.NoError(t, h.payments.HandleCallback(h.ctx, cb, body))

	assert.Equal(t, dbm.TxnFundsHeld, h.txn(t, txn.ID).Status)
	assert.Equal(t, dbm.PaymentSuccess, h.payment(t, "pay-again").Status)
	require.NoError(t, h.db.First(&hook).Error)
	assert.Equal(t, dbm.WebhookProcessed, hook.Status)
	assert.Empty(t, hook.Error)

	// Once processed, further copies are plain replays.
	require.NoError(t, h.payments.HandleCallback(h.ctx, cb, body))
	var hooks int64
	require.NoError(t, h.db.Model(&dbm.Webhook{}).Count(&hooks).Error)
	assert.Equal(t, int64(1), hooks)
	assert.Equal(t, 1, countType(h, "transaction.funded"))
}

func TestRefusedCollectionWebhookNotifiesBuyer(t *testing.T) {
	h := newHarness(t)
	txn := h.createTxn(t)
	h.gw.Script(gateway.OpCollect, gateway.StatusPending)
	_, err := h.payments.StartCollection(h.ctx, txn.ID, h.buyer.ID, "pay-no", "")
	require.NoError(t, err)

	body := mobileMoneyBody(t, "evt-3", "pay-no", "FAILED")
	cb, err := gateway.ParseMobileMoney("secret", body, gateway.SignMobileMoney("secret", body))
	require.NoError(t, err)
	require.NoError(t, h.payments.HandleCallback(h.ctx, cb, body))
	require.NoError(t, h.payments.HandleCallback(h.ctx, cb, body))

	assert.Equal(t, dbm.PaymentFailed, h.payment(t, "pay-no").Status)
	assert.Equal(t, dbm.TxnPendingFunds, h.txn(t, txn.ID).Status)
	assert.Equal(t, 1, countType(h, "payment.failed"))
}

func TestWebhookForUnknownReferenceIsIgnored(t *testing.T) {
	h := newHarness(t)
	body := mobileMoneyBody(t, "evt-2", "nope", "SUCCESSFUL")
	cb, err := gateway.ParseMobileMoney("secret", body, gateway.SignMobileMoney("secret", body))
	require.NoError(t, err)

	require.NoError(t, h.payments.HandleCallback(h.ctx, cb, body))

	var hook dbm.Webhook
	require.NoError(t, h.db.First(&hook).Error)
	assert.Equal(t, dbm.WebhookIgnored, hook.Status)
}

func TestPayoutRetryBackoffThenTerminalFailure(t *testing.T) {
	h := newHarness(t)
	txn := h.createTxn(t)
	h.fund(t, txn.ID)
	h.deliver(t, txn.ID)
	h.gw.FailTransport(gateway.OpRelease, 3)

	err := h.act(txn.ID, h.buyer.ID, dbm.RoleBuyer, "confirm_delivery")
	var gwErr *utils.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.False(t, gwErr.Terminal)

	got := h.txn(t, txn.ID)
	assert.Equal(t, dbm.TxnDelivered, got.Status)
	require.NotEmpty(t, got.SettlementRef)
	ref := got.SettlementRef

	p := h.payment(t, ref)
	assert.Equal(t, 1, p.Attempts)
	assert.Equal(t, dbm.PaymentPending, p.Status)
	require.NotNil(t, p.NextAttemptAt)
	assert.WithinDuration(t, start.Add(time.Minute), *p.NextAttemptAt, time.Second)
	assert.Equal(t, "100000", h.escrowAccount(t, txn.ID).FrozenAmount.String())

	// Not due yet.
	n, err := h.scheduler.SweepRetries(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(time.Minute)
	_, err = h.scheduler.SweepRetries(h.ctx)
	require.NoError(t, err)
	p = h.payment(t, ref)
	assert.Equal(t, 2, p.Attempts)
	require.NotNil(t, p.NextAttemptAt)
	assert.WithinDuration(t, h.clock.Now().Add(2*time.Minute), *p.NextAttemptAt, time.Second)

	h.clock.Advance(2 * time.Minute)
	_, err = h.scheduler.SweepRetries(h.ctx)
	require.NoError(t, err)
	p = h.payment(t, ref)
	assert.Equal(t, 3, p.Attempts)
	assert.Equal(t, dbm.PaymentFailed, p.Status)
	assert.Nil(t, p.NextAttemptAt)

	got = h.txn(t, txn.ID)
	assert.Equal(t, dbm.TxnDelivered, got.Status)
	assert.Empty(t, got.SettlementRef)
	acc := h.escrowAccount(t, txn.ID)
	assert.True(t, acc.FrozenAmount.IsZero())
	assert.Equal(t, "100000", acc.Balance.String())
	assert.Contains(t, h.notifier.Types(), "payment.failed")

	// The buyer can try again once the provider is back.
	require.NoError(t, h.act(txn.ID, h.buyer.ID, dbm.RoleBuyer, "confirm_delivery"))
	assert.Equal(t, dbm.TxnReleased, h.txn(t, txn.ID).Status)
}

func TestPendingPayoutSettledByWebhook(t *testing.T) {
	h := newHarness(t)
	txn := h.createTxn(t)
	h.fund(t, txn.ID)
	h.deliver(t, txn.ID)
	h.gw.Script(gateway.OpRelease, gateway.StatusPending)

	err := h.act(txn.ID, h.buyer.ID, dbm.RoleBuyer, "confirm_delivery")
	assert.ErrorIs(t, err, utils.ErrSettlementPending)
	ref := h.txn(t, txn.ID).SettlementRef
	assert.Equal(t, dbm.PaymentProcessing, h.payment(t, ref).Status)

	// Disputes are refused while the payout is in flight.
	_, err = h.disputes.Open(h.ctx, h.buyer.ID, dbm.RoleBuyer, openDispute(txn.ID))
	assert.ErrorIs(t, err, utils.ErrSettlementPending)

	body := mobileMoneyBody(t, "evt-rel", ref, "SUCCESS")
	cb, err := gateway.ParseMobileMoney("secret", body, gateway.SignMobileMoney("secret", body))
	require.NoError(t, err)
	require.NoError(t, h.payments.HandleCallback(h.ctx, cb, body))

	got := h.txn(t, txn.ID)
	assert.Equal(t, dbm.TxnReleased, got.Status)
	acc := h.escrowAccount(t, txn.ID)
	assert.True(t, acc.Balance.IsZero())
	assert.Equal(t, dbm.EscrowAccountClosed, acc.Status)

	var logs []dbm.AuditLog
	require.NoError(t, h.db.Where("resource_id = ? AND action = ?", txn.ID, string(lifecycle.ActionConfirmDelivery)).Find(&logs).Error)
	assert.Len(t, logs, 1)
}
