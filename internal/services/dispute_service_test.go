package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kimi/internal/gateway"
	dbm "kimi/internal/models/db_models"
	"kimi/internal/models/request_models"
	"kimi/pkg/utils"
)

func refund(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestOpenDisputeFreezesEscrow(t *testing.T) {
	h := newHarness(t)
	txn := h.createTxn(t)
	h.fund(t, txn.ID)

	d, err := h.disputes.Open(h.ctx, h.buyer.ID, dbm.RoleBuyer, openDispute(txn.ID))
	require.NoError(t, err)
	assert.Equal(t, dbm.DisputeOpen, d.Status)
	assert.Equal(t, dbm.PriorityMedium, d.Priority)
	assert.Equal(t, "100000", d.FrozenAmount.String())
	assert.Equal(t, h.buyer.ID, d.ComplainantID)
	assert.Equal(t, h.seller.ID, d.RespondentID)
	assert.Equal(t, dbm.TxnDispute, h.txn(t, txn.ID).Status)
	assert.Contains(t, h.notifier.Types(), "dispute.opened")

	_, err = h.disputes.Open(h.ctx, h.seller.ID, dbm.RoleSeller, openDispute(txn.ID))
	assert.True(t, utils.IsTransitionReason(err, utils.ReasonWrongState), "got %v", err)
}

func TestOpenDisputeAfterWindow(t *testing.T) {
	h := newHarness(t)
	txn := h.createTxn(t)
	h.fund(t, txn.ID)
	h.deliver(t, txn.ID)
	h.clock.Advance(8 * 24 * time.Hour)

	_, err := h.disputes.Open(h.ctx, h.buyer.ID, dbm.RoleBuyer, openDispute(txn.ID))
	assert.True(t, utils.IsTransitionReason(err, utils.ReasonDeadlinePassed), "got %v", err)
}

func TestAssignRequiresAdminAndArbitre(t *testing.T) {
	h := newHarness(t)
	txn := h.createTxn(t)
	h.fund(t, txn.ID)
	d, err := h.disputes.Open(h.ctx, h.buyer.ID, dbm.RoleBuyer, openDispute(txn.ID))
	require.NoError(t, err)

	_, err = h.disputes.Assign(h.ctx, d.ID, h.arbitre.ID, dbm.RoleArbitre, h.arbitre.ID)
	assert.ErrorIs(t, err, utils.ErrForbidden)

	_, err = h.disputes.Assign(h.ctx, d.ID, h.admin.ID, dbm.RoleAdmin, h.seller.ID)
	assert.Error(t, err)

	d, err = h.disputes.Assign(h.ctx, d.ID, h.admin.ID, dbm.RoleAdmin, h.arbitre.ID)
	require.NoError(t, err)
	assert.Equal(t, dbm.DisputeAssigned, d.Status)
	require.NotNil(t, d.ArbitreID)
	assert.Equal(t, h.arbitre.ID, *d.ArbitreID)

	// The assigned arbitre can now see the transaction.
	_, err = h.escrow.Get(h.ctx, txn.ID, h.arbitre.ID, dbm.RoleArbitre)
	assert.NoError(t, err)
}

func TestEscalateNeedsReason(t *testing.T) {
	h := newHarness(t)
	txn := h.createTxn(t)
	h.fund(t, txn.ID)
	d := h.openReviewedDispute(t, txn.ID)

	_, err := h.disputes.Escalate(h.ctx, d.ID, h.arbitre.ID, dbm.RoleArbitre, " ")
	var ve *utils.ValidationError
	assert.ErrorAs(t, err, &ve)

	d, err = h.disputes.Escalate(h.ctx, d.ID, h.arbitre.ID, dbm.RoleArbitre, "fraud suspected")
	require.NoError(t, err)
	assert.Equal(t, dbm.DisputeEscalated, d.Status)
}

func TestResolveBuyerFavorRefundsEverything(t *testing.T) {
	h := newHarness(t)
	txn := h.createTxn(t)
	h.fund(t, txn.ID)
	d := h.openReviewedDispute(t, txn.ID)

	d, err := h.disputes.Resolve(h.ctx, d.ID, h.arbitre.ID, dbm.RoleArbitre,
		request_models.ResolveDisputeRequest{Verdict: "BUYER_FAVOR", Notes: "never shipped"})
	require.NoError(t, err)
	assert.Equal(t, dbm.DisputeResolved, d.Status)
	assert.Equal(t, "never shipped", d.ResolutionNotes)

	assert.Equal(t, dbm.TxnRefunded, h.txn(t, txn.ID).Status)
	calls := h.gw.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, gateway.OpRefund, calls[1].Op)
	assert.Equal(t, "100000", calls[1].Amount.String())

	acc := h.escrowAccount(t, txn.ID)
	assert.True(t, acc.Balance.IsZero())
	assert.Equal(t, dbm.EscrowAccountClosed, acc.Status)
	assert.Contains(t, h.notifier.Types(), "dispute.resolved")
	assert.Contains(t, h.notifier.Types(), "transaction.refunded")
}

func TestResolvePartialRefundSplitsFunds(t *testing.T) {
	h := newHarness(t)
	txn := h.createTxn(t)
	h.fund(t, txn.ID)
	h.deliver(t, txn.ID)
	d := h.openReviewedDispute(t, txn.ID)

	d, err := h.disputes.Resolve(h.ctx, d.ID, h.arbitre.ID, dbm.RoleArbitre,
		request_models.ResolveDisputeRequest{Verdict: "PARTIAL_REFUND", RefundAmount: refund("50000")})
	require.NoError(t, err)
	assert.Equal(t, dbm.DisputeResolved, d.Status)
	assert.Equal(t, dbm.VerdictPartialRefund, d.Verdict)

	calls := h.gw.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, gateway.OpRefund, calls[1].Op)
	assert.Equal(t, "50000", calls[1].Amount.String())
	assert.Equal(t, gateway.OpRelease, calls[2].Op)
	assert.Equal(t, "50000", calls[2].Amount.String())

	assert.Equal(t, dbm.TxnReleased, h.txn(t, txn.ID).Status)
	acc := h.escrowAccount(t, txn.ID)
	assert.True(t, acc.Balance.IsZero())
	assert.True(t, acc.FrozenAmount.IsZero())
}

func TestPartialRefundAboveAmountRejected(t *testing.T) {
	h := newHarness(t)
	txn := h.createTxn(t)
	h.fund(t, txn.ID)
	d := h.openReviewedDispute(t, txn.ID)

	_, err := h.disputes.Resolve(h.ctx, d.ID, h.arbitre.ID, dbm.RoleArbitre,
		request_models.ResolveDisputeRequest{Verdict: "PARTIAL_REFUND", RefundAmount: refund("150000")})
	var ve *utils.ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Len(t, h.gw.Calls(), 1)
}

func TestRefundFailureKeepsDisputeOpen(t *testing.T) {
	h := newHarness(t)
	txn := h.createTxn(t)
	h.fund(t, txn.ID)
	h.deliver(t, txn.ID)
	d := h.openReviewedDispute(t, txn.ID)
	h.gw.FailTransport(gateway.OpRefund, 1)

	req := request_models.ResolveDisputeRequest{Verdict: "PARTIAL_REFUND", RefundAmount: refund("50000")}
	_, err := h.disputes.Resolve(h.ctx, d.ID, h.arbitre.ID, dbm.RoleArbitre, req)
	var gwErr *utils.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.False(t, gwErr.Terminal)

	stored, err := h.repos.Disputes.FindByID(h.ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, dbm.DisputeInReview, stored.Status)
	assert.Equal(t, dbm.TxnDispute, h.txn(t, txn.ID).Status)
	assert.Empty(t, h.callsFor(gateway.OpRelease))
	assert.Equal(t, "100000", h.escrowAccount(t, txn.ID).FrozenAmount.String())

	// A different verdict cannot replace a settlement in progress.
	_, err = h.disputes.Resolve(h.ctx, d.ID, h.arbitre.ID, dbm.RoleArbitre,
		request_models.ResolveDisputeRequest{Verdict: "SELLER_FAVOR"})
	var ve *utils.ValidationError
	assert.ErrorAs(t, err, &ve)

	h.clock.Advance(time.Minute)
	for i := 0; i < 2; i++ {
		_, err = h.scheduler.SweepRetries(h.ctx)
		require.NoError(t, err)
	}

	stored, err = h.repos.Disputes.FindByID(h.ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, dbm.DisputeResolved, stored.Status)
	assert.Equal(t, dbm.TxnReleased, h.txn(t, txn.ID).Status)
	assert.Len(t, h.callsFor(gateway.OpRelease), 1)
}

func TestRefundGivingUpCancelsReleaseLeg(t *testing.T) {
	h := newHarness(t)
	txn := h.createTxn(t)
	h.fund(t, txn.ID)
	h.deliver(t, txn.ID)
	d := h.openReviewedDispute(t, txn.ID)
	h.gw.FailTransport(gateway.OpRefund, 3)

	req := request_models.ResolveDisputeRequest{Verdict: "PARTIAL_REFUND", RefundAmount: refund("50000")}
	_, err := h.disputes.Resolve(h.ctx, d.ID, h.arbitre.ID, dbm.RoleArbitre, req)
	require.Error(t, err)
	stored, err := h.repos.Disputes.FindByID(h.ctx, d.ID)
	require.NoError(t, err)
	releaseRef := stored.ReleasePaymentRef
	require.NotEmpty(t, releaseRef)

	for i := 0; i < 6; i++ {
		h.clock.Advance(10 * time.Minute)
		_, err = h.scheduler.SweepRetries(h.ctx)
		require.NoError(t, err)
	}

	stored, err = h.repos.Disputes.FindByID(h.ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, dbm.DisputeInReview, stored.Status)
	assert.Empty(t, stored.RefundPaymentRef)
	assert.Empty(t, stored.ReleasePaymentRef)
	assert.Equal(t, dbm.TxnDispute, h.txn(t, txn.ID).Status)
	assert.Len(t, h.callsFor(gateway.OpRefund), 3)
	assert.Empty(t, h.callsFor(gateway.OpRelease))
	assert.Equal(t, dbm.PaymentCancelled, h.payment(t, releaseRef).Status)

	acc := h.escrowAccount(t, txn.ID)
	assert.Equal(t, "100000", acc.Balance.String())
	assert.True(t, acc.FrozenAmount.IsZero())
	assert.Contains(t, h.notifier.Types(), "payment.failed")

	// The arbitre can settle the same verdict again once the rail is back.
	_, err = h.disputes.Resolve(h.ctx, d.ID, h.arbitre.ID, dbm.RoleArbitre, req)
	require.NoError(t, err)
	stored, err = h.repos.Disputes.FindByID(h.ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, dbm.DisputeResolved, stored.Status)
	assert.Equal(t, dbm.TxnReleased, h.txn(t, txn.ID).Status)
	assert.Len(t, h.callsFor(gateway.OpRelease), 1)
	assert.Equal(t, "0", h.escrowAccount(t, txn.ID).Balance.String())
}

func TestDisputeCommentsVisibility(t *testing.T) {
	h := newHarness(t)
	txn := h.createTxn(t)
	h.fund(t, txn.ID)
	d := h.openReviewedDispute(t, txn.ID)

	_, err := h.disputes.Comment(h.ctx, d.ID, h.buyer.ID, dbm.RoleBuyer,
		request_models.DisputeCommentRequest{Body: "photos attached", IsInternal: true})
	assert.ErrorIs(t, err, utils.ErrForbidden)

	_, err = h.disputes.Comment(h.ctx, d.ID, h.buyer.ID, dbm.RoleBuyer, request_models.DisputeCommentRequest{Body: "photos attached"})
	require.NoError(t, err)
	_, err = h.disputes.Comment(h.ctx, d.ID, h.arbitre.ID, dbm.RoleArbitre,
		request_models.DisputeCommentRequest{Body: "seller history looks fine", IsInternal: true})
	require.NoError(t, err)

	asBuyer, err := h.disputes.Get(h.ctx, d.ID, h.buyer.ID, dbm.RoleBuyer)
	require.NoError(t, err)
	assert.Len(t, asBuyer.Comments, 1)

	asArbitre, err := h.disputes.Get(h.ctx, d.ID, h.arbitre.ID, dbm.RoleArbitre)
	require.NoError(t, err)
	assert.Len(t, asArbitre.Comments, 2)

	outsider := h.account(t, "x@kimi.cm", "+237670000011", dbm.RoleBuyer)
	_, err = h.disputes.Get(h.ctx, d.ID, outsider.ID, dbm.RoleBuyer)
	assert.ErrorIs(t, err, utils.ErrForbidden)
}

func TestListDisputesScopedToViewer(t *testing.T) {
	h := newHarness(t)
	a := h.createTxn(t)
	h.fund(t, a.ID)
	_, err := h.disputes.Open(h.ctx, h.buyer.ID, dbm.RoleBuyer, openDispute(a.ID))
	require.NoError(t, err)

	q := request_models.ListDisputesQuery{Page: 1, PageSize: 20}
	mine, err := h.disputes.List(h.ctx, h.seller.ID, dbm.RoleSeller, q)
	require.NoError(t, err)
	assert.Len(t, mine.Items, 1)

	outsider := h.account(t, "y@kimi.cm", "+237670000012", dbm.RoleSeller)
	none, err := h.disputes.List(h.ctx, outsider.ID, dbm.RoleSeller, q)
	require.NoError(t, err)
	assert.Empty(t, none.Items)

	all, err := h.disputes.List(h.ctx, h.admin.ID, dbm.RoleAdmin, q)
	require.NoError(t, err)
	assert.Equal(t, int64(1), all.Pagination.TotalItems)
}

func TestResolveMissingDispute(t *testing.T) {
	h := newHarness(t)
	_, err := h.disputes.Resolve(h.ctx, uuid.New(), h.admin.ID, dbm.RoleAdmin,
		request_models.ResolveDisputeRequest{Verdict: "BUYER_FAVOR"})
	assert.ErrorIs(t, err, utils.ErrNotFound)

	_, err = staffActor(nil, h.admin.ID, dbm.RoleAdmin)
	assert.ErrorIs(t, err, utils.ErrNotFound)
}
