package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kimi/internal/gateway"
	dbm "kimi/internal/models/db_models"
)

func countType(h *harness, typ string) int {
	n := 0
	for _, got := range h.notifier.Types() {
		if got == typ {
			n++
		}
	}
	return n
}

func TestAutoReleaseAfterFourteenDays(t *testing.T) {
	h := newHarness(t)
	txn := h.createTxn(t)
	h.fund(t, txn.ID)
	h.deliver(t, txn.ID)

	got := h.txn(t, txn.ID)
	require.NotNil(t, got.AutoReleaseDate)
	assert.WithinDuration(t, start.Add(14*24*time.Hour), *got.AutoReleaseDate, time.Second)

	h.clock.Advance(13 * 24 * time.Hour)
	n, err := h.scheduler.SweepAutoRelease(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, dbm.TxnDelivered, h.txn(t, txn.ID).Status)

	h.clock.Advance(24 * time.Hour)
	n, err = h.scheduler.SweepAutoRelease(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, dbm.TxnReleased, h.txn(t, txn.ID).Status)

	n, err = h.scheduler.SweepAutoRelease(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, h.callsFor(gateway.OpRelease), 1)

	rel := h.payment(t, h.callsFor(gateway.OpRelease)[0].Reference)
	assert.Equal(t, "auto_release", rel.TriggerAction)
}

func TestAutoReleaseWithoutConfirmationFollowsDisputeWindow(t *testing.T) {
	h := newHarness(t)
	txn := h.createTxn(t, withoutConfirmation())
	h.fund(t, txn.ID)
	h.deliver(t, txn.ID)

	got := h.txn(t, txn.ID)
	require.NotNil(t, got.AutoReleaseDate)
	require.NotNil(t, got.DisputeDeadline)
	assert.True(t, got.AutoReleaseDate.Equal(*got.DisputeDeadline))

	h.clock.Advance(7*24*time.Hour + time.Minute)
	n, err := h.scheduler.SweepAutoRelease(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, dbm.TxnReleased, h.txn(t, txn.ID).Status)
}

func TestAutoReleaseRespectsOptOut(t *testing.T) {
	h := newHarness(t)
	txn := h.createTxn(t, withoutConfirmation(), withoutAutoRelease())
	h.fund(t, txn.ID)
	h.deliver(t, txn.ID)

	got := h.txn(t, txn.ID)
	assert.False(t, got.AutoReleaseEnabled)
	assert.Nil(t, got.AutoReleaseDate)

	h.clock.Advance(30 * 24 * time.Hour)
	n, err := h.scheduler.SweepAutoRelease(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, dbm.TxnDelivered, h.txn(t, txn.ID).Status)
	assert.Empty(t, h.callsFor(gateway.OpRelease))

	require.NoError(t, h.act(txn.ID, h.buyer.ID, dbm.RoleBuyer, "confirm_delivery"))
	assert.Equal(t, dbm.TxnReleased, h.txn(t, txn.ID).Status)
}

func TestAutoReleaseSkipsHeldLease(t *testing.T) {
	h := newHarness(t)
	txn := h.createTxn(t)
	h.fund(t, txn.ID)
	h.deliver(t, txn.ID)
	h.clock.Advance(15 * 24 * time.Hour)

	ok, err := h.leases.Acquire(h.ctx, "sweep:auto_release", "other-instance", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := h.scheduler.SweepAutoRelease(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, dbm.TxnDelivered, h.txn(t, txn.ID).Status)

	require.NoError(t, h.leases.Release(h.ctx, "sweep:auto_release", "other-instance"))
	n, err = h.scheduler.SweepAutoRelease(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRemindersSentOnce(t *testing.T) {
	h := newHarness(t)
	txn := h.createTxn(t)

	// Payment deadline is 72h out; nothing due yet.
	sent, err := h.scheduler.SweepReminders(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)

	h.clock.Advance(50 * time.Hour)
	sent, err = h.scheduler.SweepReminders(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, countType(h, "reminder.payment_due"))

	h.clock.Advance(time.Hour)
	sent, err = h.scheduler.SweepReminders(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)

	h.clock.Advance(22 * time.Hour)
	_, err = h.scheduler.SweepReminders(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, countType(h, "overdue.payment"))

	_, err = h.scheduler.SweepReminders(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, countType(h, "overdue.payment"))

	var reminder Event
	for _, ev := range h.notifier.Events() {
		if ev.Type == "reminder.payment_due" {
			reminder = ev
		}
	}
	assert.Equal(t, txn.ID, reminder.TransactionID)
	assert.Equal(t, []uuid.UUID{h.buyer.ID}, reminder.Recipients)
}

func TestRunOnceRunsEverySweep(t *testing.T) {
	h := newHarness(t)
	txn := h.createTxn(t)
	h.fund(t, txn.ID)
	h.deliver(t, txn.ID)
	h.clock.Advance(14*24*time.Hour + time.Minute)

	require.NoError(t, h.scheduler.RunOnce(h.ctx))
	assert.Equal(t, dbm.TxnReleased, h.txn(t, txn.ID).Status)
}

func TestSchedulerStartStop(t *testing.T) {
	h := newHarness(t)
	h.scheduler.Start()
	h.scheduler.Stop()
}
