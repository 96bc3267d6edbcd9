package lifecycle

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	dbm "kimi/internal/models/db_models"
	"kimi/pkg/utils"
)

type DisputeAction string

const (
	DisputeAssign   DisputeAction = "assign"
	DisputeReview   DisputeAction = "review"
	DisputeResolve  DisputeAction = "resolve"
	DisputeEscalate DisputeAction = "escalate"
	DisputeClose    DisputeAction = "close"
)

type disputeRule struct {
	from   []dbm.DisputeStatus
	to     dbm.DisputeStatus
	actors []Actor
}

// Reassignment after escalation goes through assign again.
var disputeTransitions = map[DisputeAction]disputeRule{
	DisputeAssign:   {from: []dbm.DisputeStatus{dbm.DisputeOpen, dbm.DisputeEscalated}, to: dbm.DisputeAssigned, actors: []Actor{ActorAdmin}},
	DisputeReview:   {from: []dbm.DisputeStatus{dbm.DisputeAssigned}, to: dbm.DisputeInReview, actors: []Actor{ActorArbitre, ActorAdmin}},
	DisputeResolve:  {from: []dbm.DisputeStatus{dbm.DisputeInReview}, to: dbm.DisputeResolved, actors: []Actor{ActorArbitre, ActorAdmin}},
	DisputeEscalate: {from: []dbm.DisputeStatus{dbm.DisputeAssigned, dbm.DisputeInReview}, to: dbm.DisputeEscalated, actors: []Actor{ActorArbitre, ActorAdmin}},
	DisputeClose:    {from: []dbm.DisputeStatus{dbm.DisputeResolved}, to: dbm.DisputeClosed, actors: []Actor{ActorAdmin}},
}

// CheckDispute reports whether actor may take action on d.
func CheckDispute(d *dbm.Dispute, action DisputeAction, actor Actor) (dbm.DisputeStatus, error) {
	r, ok := disputeTransitions[action]
	if !ok {
		return "", utils.NewValidationError("action", "unknown dispute action %q", action)
	}
	inFrom := false
	for _, s := range r.from {
		if d.Status == s {
			inFrom = true
			break
		}
	}
	if !inFrom {
		return "", disputeError(d, action, utils.ReasonWrongState)
	}
	if !actorAllowed(r.actors, actor) {
		return "", disputeError(d, action, utils.ReasonWrongRole)
	}
	return r.to, nil
}

func ApplyDispute(d *dbm.Dispute, action DisputeAction, actor Actor, now time.Time) error {
	to, err := CheckDispute(d, action, actor)
	if err != nil {
		return err
	}
	switch action {
	case DisputeAssign:
		d.AssignedAt = &now
	case DisputeReview:
		d.ReviewStartedAt = &now
	case DisputeEscalate:
		d.EscalatedAt = &now
	case DisputeResolve:
		d.ResolvedAt = &now
	case DisputeClose:
		d.ClosedAt = &now
	}
	d.Status = to
	return nil
}

// CanArbitrate checks an arbitre candidate against the disputed transaction.
func CanArbitrate(candidate *dbm.Account, t *dbm.EscrowTransaction) error {
	if candidate.Role != dbm.RoleArbitre {
		return utils.NewValidationError("arbitre_id", "account is not an arbitre")
	}
	if candidate.KYCStatus != dbm.KYCVerified {
		return utils.ErrKYCRequired
	}
	if t.IsParticipant(candidate.ID) {
		return utils.NewValidationError("arbitre_id", "arbitre cannot be a participant of the transaction")
	}
	return nil
}

// Settlement is the money a verdict moves out of escrow.
type Settlement struct {
	Refund  decimal.Decimal
	Release decimal.Decimal
	// Final is the transaction status once both legs are paid.
	Final dbm.TransactionStatus
}

// SettlementFor splits available between buyer refund and seller release.
// NO_FAULT returns the funds to the buyer.
func SettlementFor(verdict dbm.Verdict, refundAmount *decimal.Decimal, amount, available decimal.Decimal) (Settlement, error) {
	switch verdict {
	case dbm.VerdictBuyerFavor, dbm.VerdictNoFault:
		return Settlement{Refund: available, Release: decimal.Zero, Final: dbm.TxnRefunded}, nil
	case dbm.VerdictSellerFavor:
		return Settlement{Refund: decimal.Zero, Release: available, Final: dbm.TxnReleased}, nil
	case dbm.VerdictPartialRefund:
		if refundAmount == nil {
			return Settlement{}, utils.NewValidationError("refund_amount", "required for a partial refund")
		}
		r := *refundAmount
		if !r.IsPositive() || !r.Equal(r.Round(2)) {
			return Settlement{}, utils.NewValidationError("refund_amount", "must be a positive amount with at most two decimals")
		}
		if r.GreaterThan(amount) {
			return Settlement{}, utils.NewValidationError("refund_amount", "cannot exceed the transaction amount")
		}
		if r.GreaterThan(available) {
			return Settlement{}, utils.NewValidationError("refund_amount", "exceeds the escrow balance still held")
		}
		release := available.Sub(r)
		final := dbm.TxnReleased
		if release.IsZero() {
			final = dbm.TxnRefunded
		}
		return Settlement{Refund: r, Release: release, Final: final}, nil
	}
	return Settlement{}, utils.NewValidationError("verdict", "unknown verdict %q", verdict)
}

// DisputeParties derives complainant and respondent from who opened it.
func DisputeParties(t *dbm.EscrowTransaction, openedBy uuid.UUID) (complainant, respondent uuid.UUID) {
	return openedBy, t.CounterpartyOf(openedBy)
}

func disputeError(d *dbm.Dispute, action DisputeAction, reason utils.TransitionReason) error {
	return &utils.StateTransitionError{
		Resource: "dispute",
		Action:   string(action),
		From:     string(d.Status),
		Reason:   reason,
	}
}
