package lifecycle

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbm "kimi/internal/models/db_models"
	"kimi/pkg/utils"
)

func TestDisputeFlow(t *testing.T) {
	d := &dbm.Dispute{Status: dbm.DisputeOpen}

	_, err := CheckDispute(d, DisputeResolve, ActorArbitre)
	assert.True(t, utils.IsTransitionReason(err, utils.ReasonWrongState))

	err = ApplyDispute(d, DisputeAssign, ActorArbitre, t0)
	assert.True(t, utils.IsTransitionReason(err, utils.ReasonWrongRole))

	require.NoError(t, ApplyDispute(d, DisputeAssign, ActorAdmin, t0))
	require.NoError(t, ApplyDispute(d, DisputeReview, ActorArbitre, t0))
	require.NoError(t, ApplyDispute(d, DisputeEscalate, ActorArbitre, t0))
	assert.Equal(t, dbm.DisputeEscalated, d.Status)

	require.NoError(t, ApplyDispute(d, DisputeAssign, ActorAdmin, t0))
	require.NoError(t, ApplyDispute(d, DisputeReview, ActorArbitre, t0))
	require.NoError(t, ApplyDispute(d, DisputeResolve, ActorArbitre, t0))
	assert.NotNil(t, d.ResolvedAt)

	err = ApplyDispute(d, DisputeClose, ActorArbitre, t0)
	assert.True(t, utils.IsTransitionReason(err, utils.ReasonWrongRole))
	require.NoError(t, ApplyDispute(d, DisputeClose, ActorAdmin, t0))
	assert.Equal(t, dbm.DisputeClosed, d.Status)
}

func TestCanArbitrate(t *testing.T) {
	txn := &dbm.EscrowTransaction{BuyerID: uuid.New(), SellerID: uuid.New()}
	arb := &dbm.Account{BaseModel: dbm.BaseModel{ID: uuid.New()}, Role: dbm.RoleArbitre, KYCStatus: dbm.KYCVerified}
	assert.NoError(t, CanArbitrate(arb, txn))

	unverified := *arb
	unverified.KYCStatus = dbm.KYCPending
	assert.ErrorIs(t, CanArbitrate(&unverified, txn), utils.ErrKYCRequired)

	participant := *arb
	participant.ID = txn.SellerID
	assert.Error(t, CanArbitrate(&participant, txn))

	buyerRole := *arb
	buyerRole.Role = dbm.RoleBuyer
	assert.Error(t, CanArbitrate(&buyerRole, txn))
}

func TestSettlementFor(t *testing.T) {
	amount := decimal.NewFromInt(100000)
	half := decimal.NewFromInt(50000)

	s, err := SettlementFor(dbm.VerdictPartialRefund, &half, amount, amount)
	require.NoError(t, err)
	assert.Equal(t, "50000", s.Refund.String())
	assert.Equal(t, "50000", s.Release.String())
	assert.Equal(t, dbm.TxnReleased, s.Final)

	s, err = SettlementFor(dbm.VerdictPartialRefund, &amount, amount, amount)
	require.NoError(t, err)
	assert.True(t, s.Release.IsZero())
	assert.Equal(t, dbm.TxnRefunded, s.Final)

	s, err = SettlementFor(dbm.VerdictSellerFavor, nil, amount, amount)
	require.NoError(t, err)
	assert.True(t, s.Refund.IsZero())
	assert.Equal(t, dbm.TxnReleased, s.Final)

	s, err = SettlementFor(dbm.VerdictNoFault, nil, amount, amount)
	require.NoError(t, err)
	assert.Equal(t, dbm.TxnRefunded, s.Final)

	_, err = SettlementFor(dbm.VerdictPartialRefund, nil, amount, amount)
	assert.Error(t, err)

	over := decimal.NewFromInt(100001)
	_, err = SettlementFor(dbm.VerdictPartialRefund, &over, amount, amount)
	assert.Error(t, err)

	_, err = SettlementFor(dbm.VerdictPartialRefund, &half, amount, decimal.NewFromInt(40000))
	assert.Error(t, err)
}
