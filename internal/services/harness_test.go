package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"kimi/internal/config"
	"kimi/internal/gateway"
	"kimi/internal/lifecycle"
	dbm "kimi/internal/models/db_models"
	"kimi/internal/models/request_models"
	"kimi/internal/repositories"
	"kimi/internal/testutil"
	mem "kimi/pkg/memcache"
)

var start = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type harness struct {
	ctx      context.Context
	db       *gorm.DB
	repos    repositories.Set
	gw       *gateway.Sandbox
	notifier *RecordingNotifier
	clock    *testutil.Clock

	payments   *PaymentService
	escrow     *EscrowService
	milestones *MilestoneService
	disputes   *DisputeService
	scheduler  *Scheduler
	leases     *mem.Leases

	buyer, seller, arbitre, admin *dbm.Account
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessOn(t, testutil.NewSQLite(t))
}

func newHarnessOn(t *testing.T, db *gorm.DB) *harness {
	t.Helper()
	repos := repositories.NewSet(db)
	clock := testutil.NewClock(start)
	gw := gateway.NewSandbox()
	notifier := &RecordingNotifier{}
	machine := lifecycle.NewMachine(config.DefaultEscrowPolicy())
	leases := mem.NewLeases()

	payments := NewPaymentService(db, repos, gw, machine, notifier, config.RetryPolicy{MaxAttempts: 3, Base: time.Minute})
	escrow := NewEscrowService(db, repos, machine, payments, notifier)
	milestones := NewMilestoneService(db, repos, escrow, payments, notifier)
	disputes := NewDisputeService(db, repos, machine, payments)
	scheduler := NewScheduler(repos, payments, leases, notifier, SchedulerConfig{SweepInterval: time.Minute, ReminderInterval: time.Hour})

	payments.now = clock.Now
	escrow.now = clock.Now
	milestones.now = clock.Now
	disputes.now = clock.Now
	scheduler.now = clock.Now

	h := &harness{
		ctx:        context.Background(),
		db:         db,
		repos:      repos,
		gw:         gw,
		notifier:   notifier,
		clock:      clock,
		payments:   payments,
		escrow:     escrow,
		milestones: milestones,
		disputes:   disputes,
		scheduler:  scheduler,
		leases:     leases,
	}
	h.buyer = h.account(t, "buyer@kimi.cm", "+237670000001", dbm.RoleBuyer)
	h.seller = h.account(t, "seller@kimi.cm", "+237670000002", dbm.RoleSeller)
	h.arbitre = h.account(t, "arbitre@kimi.cm", "+237670000003", dbm.RoleArbitre)
	h.admin = h.account(t, "admin@kimi.cm", "+237670000004", dbm.RoleAdmin)
	return h
}

func (h *harness) account(t *testing.T, email, phone string, role dbm.Role) *dbm.Account {
	t.Helper()
	acc := &dbm.Account{
		Name:          email,
		Email:         email,
		PhoneNumber:   phone,
		PasswordHash:  "x",
		Role:          role,
		PhoneVerified: true,
		KYCStatus:     dbm.KYCVerified,
	}
	require.NoError(t, h.repos.Accounts.InsertTx(acc, h.ctx))
	return acc
}

type txnOption func(*request_models.CreateTransactionRequest)

func withoutConfirmation() txnOption {
	return func(r *request_models.CreateTransactionRequest) {
		f := false
		r.RequireDeliveryConfirmation = &f
	}
}

func withoutAutoRelease() txnOption {
	return func(r *request_models.CreateTransactionRequest) {
		f := false
		r.AutoReleaseEnabled = &f
	}
}

func withMilestones(percentages ...int64) txnOption {
	return func(r *request_models.CreateTransactionRequest) {
		for i, p := range percentages {
			r.Milestones = append(r.Milestones, request_models.MilestoneRequest{
				Title:      "Step " + string(rune('A'+i)),
				Percentage: decimal.NewFromInt(p),
			})
		}
	}
}

func (h *harness) createTxn(t *testing.T, opts ...txnOption) *dbm.EscrowTransaction {
	t.Helper()
	req := request_models.CreateTransactionRequest{
		SellerID:         h.seller.ID,
		Title:            "Used laptop",
		Amount:           decimal.NewFromInt(100000),
		DeliveryDeadline: h.clock.Now().Add(10 * 24 * time.Hour),
	}
	for _, o := range opts {
		o(&req)
	}
	detail, err := h.escrow.Create(h.ctx, h.buyer.ID, req)
	require.NoError(t, err)
	return &detail.EscrowTransaction
}

func (h *harness) fund(t *testing.T, txnID uuid.UUID) {
	t.Helper()
	_, err := h.payments.StartCollection(h.ctx, txnID, h.buyer.ID, "", "")
	require.NoError(t, err)
	require.Equal(t, dbm.TxnFundsHeld, h.txn(t, txnID).Status)
}

func (h *harness) act(txnID, actorID uuid.UUID, role dbm.Role, action string) error {
	_, err := h.escrow.PerformAction(h.ctx, txnID, actorID, role, request_models.TransactionActionRequest{Action: action})
	return err
}

func (h *harness) deliver(t *testing.T, txnID uuid.UUID) {
	t.Helper()
	require.NoError(t, h.act(txnID, h.seller.ID, dbm.RoleSeller, "mark_delivered"))
}

func (h *harness) txn(t *testing.T, id uuid.UUID) *dbm.EscrowTransaction {
	t.Helper()
	txn, err := h.repos.Transactions.FindByID(h.ctx, id)
	require.NoError(t, err)
	require.NotNil(t, txn)
	return txn
}

func (h *harness) escrowAccount(t *testing.T, txnID uuid.UUID) *dbm.EscrowAccount {
	t.Helper()
	acc, err := h.repos.EscrowAccounts.FindByTransaction(h.ctx, txnID)
	require.NoError(t, err)
	require.NotNil(t, acc)
	return acc
}

func (h *harness) payment(t *testing.T, ref string) *dbm.Payment {
	t.Helper()
	p, err := h.repos.Payments.FindByReference(h.ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func (h *harness) callsFor(op gateway.Op) []gateway.SandboxCall {
	var out []gateway.SandboxCall
	for _, c := range h.gw.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// openReviewedDispute opens a dispute as the buyer and brings it
// to IN_REVIEW with the harness arbitre.
func (h *harness) openReviewedDispute(t *testing.T, txnID uuid.UUID) *dbm.Dispute {
	t.Helper()
	d, err := h.disputes.Open(h.ctx, h.buyer.ID, dbm.RoleBuyer, openDispute(txnID))
	require.NoError(t, err)
	_, err = h.disputes.Assign(h.ctx, d.ID, h.admin.ID, dbm.RoleAdmin, h.arbitre.ID)
	require.NoError(t, err)
	d, err = h.disputes.Review(h.ctx, d.ID, h.arbitre.ID, dbm.RoleArbitre)
	require.NoError(t, err)
	require.Equal(t, dbm.DisputeInReview, d.Status)
	return d
}

func openDispute(txnID uuid.UUID) request_models.OpenDisputeRequest {
	return request_models.OpenDisputeRequest{
		TransactionID: txnID,
		Category:      "NOT_AS_DESCRIBED",
		Title:         "Screen is cracked",
		Description:   "The laptop arrived with a cracked screen.",
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
