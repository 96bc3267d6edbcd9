package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"kimi/internal/lifecycle"
	dbm "kimi/internal/models/db_models"
	"kimi/internal/models/request_models"
	"kimi/internal/models/response_models"
	"kimi/internal/repositories"
	"kimi/pkg/utils"
)

var disputeLog = logging.Logger("dispute")

type DisputeServiceInterface interface {
	Open(ctx context.Context, openerID uuid.UUID, role dbm.Role, req request_models.OpenDisputeRequest) (*dbm.Dispute, error)
	Get(ctx context.Context, id, viewerID uuid.UUID, role dbm.Role) (*response_models.DisputeDetail, error)
	List(ctx context.Context, viewerID uuid.UUID, role dbm.Role, q request_models.ListDisputesQuery) (*response_models.DisputeList, error)
	Assign(ctx context.Context, id, actorID uuid.UUID, role dbm.Role, arbitreID uuid.UUID) (*dbm.Dispute, error)
	Review(ctx context.Context, id, actorID uuid.UUID, role dbm.Role) (*dbm.Dispute, error)
	Escalate(ctx context.Context, id, actorID uuid.UUID, role dbm.Role, reason string) (*dbm.Dispute, error)
	Resolve(ctx context.Context, id, actorID uuid.UUID, role dbm.Role, req request_models.ResolveDisputeRequest) (*dbm.Dispute, error)
	Close(ctx context.Context, id, actorID uuid.UUID, role dbm.Role) (*dbm.Dispute, error)
	Comment(ctx context.Context, id, authorID uuid.UUID, role dbm.Role, req request_models.DisputeCommentRequest) (*dbm.DisputeComment, error)
}

type DisputeService struct {
	db       *gorm.DB
	repos    repositories.Set
	machine  *lifecycle.Machine
	payments *PaymentService
	now      utils.Clock
}

func NewDisputeService(db *gorm.DB, repos repositories.Set, machine *lifecycle.Machine, payments *PaymentService) *DisputeService {
	return &DisputeService{
		db:       db,
		repos:    repos,
		machine:  machine,
		payments: payments,
		now:      utils.SystemClock,
	}
}

// Open freezes the escrow balance still held and moves the transaction to
// DISPUTE. It is refused while a release is waiting on the provider.
func (s *DisputeService) Open(ctx context.Context, openerID uuid.UUID, role dbm.Role, req request_models.OpenDisputeRequest) (*dbm.Dispute, error) {
	now := s.now()
	var (
		d      *dbm.Dispute
		events []Event
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := s.repos.WithTx(tx)

		txn, err := r.Transactions.FindByIDForUpdate(ctx, req.TransactionID)
		if err != nil {
			return err
		}
		if txn == nil {
			return utils.ErrNotFound
		}
		if !txn.IsParticipant(openerID) {
			return utils.ErrForbidden
		}
		actor, _ := lifecycle.ActorFor(txn, openerID, role)
		if txn.SettlementRef != "" {
			return utils.ErrSettlementPending
		}
		from, err := s.machine.Apply(txn, lifecycle.ActionOpenDispute, actor, now)
		if err != nil {
			return err
		}
		if ok, err := r.Transactions.SaveTransition(ctx, txn, from); err != nil {
			return err
		} else if !ok {
			return utils.ErrConcurrencyConflict
		}

		acc, err := r.EscrowAccounts.FindByTransactionForUpdate(ctx, txn.ID)
		if err != nil {
			return err
		}
		frozen := decimal.Zero
		if acc != nil {
			frozen = acc.AvailableBalance()
		}

		complainant, respondent := lifecycle.DisputeParties(txn, openerID)
		priority := dbm.DisputePriority(strings.ToUpper(req.Priority))
		if priority == "" {
			priority = dbm.PriorityMedium
		}
		d = &dbm.Dispute{
			Reference:     utils.NewReference("DSP", 8),
			TransactionID: txn.ID,
			ComplainantID: complainant,
			RespondentID:  respondent,
			Category:      req.Category,
			Priority:      priority,
			Title:         strings.TrimSpace(req.Title),
			Description:   req.Description,
			Status:        dbm.DisputeOpen,
			FrozenAmount:  frozen,
		}
		if err := r.Disputes.Create(ctx, d); err != nil {
			return err
		}

		if err := r.Audit.Append(ctx,
			auditEntry("transaction", txn.ID, string(lifecycle.ActionOpenDispute), string(from), string(txn.Status), actor, openerID,
				map[string]interface{}{"dispute": d.Reference}),
			auditEntry("dispute", d.ID, "open", "", string(d.Status), actor, openerID,
				map[string]interface{}{"category": d.Category, "frozen": frozen.String()}),
		); err != nil {
			return err
		}

		disputeLog.Infow("dispute opened", "dispute", d.Reference, "transaction", txn.Reference, "frozen", frozen)
		events = append(events, Event{
			Type:          "dispute.opened",
			TransactionID: txn.ID,
			Reference:     txn.Reference,
			Recipients:    participants(txn),
			Data:          map[string]string{"title": txn.Title, "dispute": d.Reference, "category": d.Category},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.payments.emit(ctx, events...)
	return d, nil
}

// staffActor is the part an account plays on a dispute's workflow.
func staffActor(d *dbm.Dispute, actorID uuid.UUID, role dbm.Role) (lifecycle.Actor, error) {
	if d == nil {
		return "", utils.ErrNotFound
	}
	switch {
	case role == dbm.RoleAdmin:
		return lifecycle.ActorAdmin, nil
	case role == dbm.RoleArbitre && d.ArbitreID != nil && *d.ArbitreID == actorID:
		return lifecycle.ActorArbitre, nil
	case d.ComplainantID == actorID || d.RespondentID == actorID:
		// Parties may read and comment but never drive the workflow.
		return lifecycle.ActorBuyer, nil
	}
	return "", utils.ErrForbidden
}

func (s *DisputeService) canView(d *dbm.Dispute, viewerID uuid.UUID, role dbm.Role) bool {
	_, err := staffActor(d, viewerID, role)
	return err == nil
}

func (s *DisputeService) Get(ctx context.Context, id, viewerID uuid.UUID, role dbm.Role) (*response_models.DisputeDetail, error) {
	d, err := s.repos.Disputes.FindByID(ctx, id)
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	if d == nil {
		return nil, utils.ErrNotFound
	}
	if !s.canView(d, viewerID, role) {
		return nil, utils.ErrForbidden
	}
	staff := role == dbm.RoleAdmin || role == dbm.RoleArbitre
	comments, err := s.repos.Disputes.ListComments(ctx, d.ID, staff)
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	return &response_models.DisputeDetail{Dispute: *d, Comments: comments}, nil
}

func (s *DisputeService) List(ctx context.Context, viewerID uuid.UUID, role dbm.Role, q request_models.ListDisputesQuery) (*response_models.DisputeList, error) {
	if q.Page < 1 {
		return nil, utils.ErrInvalidPage
	}
	if q.PageSize < 1 || q.PageSize > 100 {
		return nil, utils.ErrInvalidPageSize
	}
	f := repositories.DisputeFilter{
		Status:   dbm.DisputeStatus(strings.ToUpper(q.Status)),
		Page:     q.Page,
		PageSize: q.PageSize,
	}
	switch role {
	case dbm.RoleAdmin:
	case dbm.RoleArbitre:
		f.ArbitreID = &viewerID
	default:
		f.Participant = &viewerID
	}
	items, total, err := s.repos.Disputes.List(ctx, f)
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	return &response_models.DisputeList{Items: items, Pagination: response_models.NewPagination(q.Page, q.PageSize, total)}, nil
}

func (s *DisputeService) Assign(ctx context.Context, id, actorID uuid.UUID, role dbm.Role, arbitreID uuid.UUID) (*dbm.Dispute, error) {
	if role != dbm.RoleAdmin {
		return nil, utils.ErrForbidden
	}
	candidate, err := s.repos.Accounts.FindById(ctx, arbitreID)
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	if candidate == nil {
		return nil, utils.NewValidationError("arbitre_id", "account not found")
	}

	return s.step(ctx, id, actorID, role, lifecycle.DisputeAssign, func(d *dbm.Dispute, txn *dbm.EscrowTransaction) error {
		if err := lifecycle.CanArbitrate(candidate, txn); err != nil {
			return err
		}
		d.ArbitreID = &candidate.ID
		return nil
	}, map[string]interface{}{"arbitre": arbitreID.String()})
}

func (s *DisputeService) Review(ctx context.Context, id, actorID uuid.UUID, role dbm.Role) (*dbm.Dispute, error) {
	return s.step(ctx, id, actorID, role, lifecycle.DisputeReview, nil, nil)
}

func (s *DisputeService) Escalate(ctx context.Context, id, actorID uuid.UUID, role dbm.Role, reason string) (*dbm.Dispute, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, utils.NewValidationError("reason", "escalation reason is required")
	}
	return s.step(ctx, id, actorID, role, lifecycle.DisputeEscalate, func(d *dbm.Dispute, _ *dbm.EscrowTransaction) error {
		d.EscalationReason = reason
		return nil
	}, map[string]interface{}{"reason": reason})
}

func (s *DisputeService) Close(ctx context.Context, id, actorID uuid.UUID, role dbm.Role) (*dbm.Dispute, error) {
	return s.step(ctx, id, actorID, role, lifecycle.DisputeClose, nil, nil)
}

// step runs a dispute workflow action that moves no money.
func (s *DisputeService) step(ctx context.Context, id, actorID uuid.UUID, role dbm.Role, action lifecycle.DisputeAction,
	mutate func(d *dbm.Dispute, txn *dbm.EscrowTransaction) error, details map[string]interface{}) (*dbm.Dispute, error) {
	now := s.now()
	var (
		d      *dbm.Dispute
		events []Event
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := s.repos.WithTx(tx)

		var err error
		d, err = r.Disputes.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if d == nil {
			return utils.ErrNotFound
		}
		actor, err := staffActor(d, actorID, role)
		if err != nil {
			return err
		}
		txn, err := r.Transactions.FindByID(ctx, d.TransactionID)
		if err != nil {
			return err
		}
		if txn == nil {
			return utils.ErrNotFound
		}

		from := d.Status
		if _, err := lifecycle.CheckDispute(d, action, actor); err != nil {
			return err
		}
		if mutate != nil {
			if err := mutate(d, txn); err != nil {
				return err
			}
		}
		if err := lifecycle.ApplyDispute(d, action, actor, now); err != nil {
			return err
		}
		ok, err := r.Disputes.UpdateIfStatus(ctx, d, from)
		if err != nil {
			return err
		}
		if !ok {
			return utils.ErrConcurrencyConflict
		}
		if err := r.Audit.Append(ctx, auditEntry("dispute", d.ID, string(action), string(from), string(d.Status), actor, actorID, details)); err != nil {
			return err
		}

		recipients := participants(txn)
		if d.ArbitreID != nil {
			recipients = append(recipients, *d.ArbitreID)
		}
		events = append(events, Event{
			Type:          "dispute.updated",
			TransactionID: txn.ID,
			Reference:     txn.Reference,
			Recipients:    recipients,
			Data:          map[string]string{"title": txn.Title, "dispute": d.Reference, "status": string(d.Status)},
		})
		disputeLog.Infow("dispute updated", "dispute", d.Reference, "action", action, "from", from, "to", d.Status)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.payments.emit(ctx, events...)
	return d, nil
}

// Resolve records the verdict and pays its legs out of the frozen balance:
// the buyer refund first, then the seller release. The dispute becomes
// RESOLVED only once every leg is confirmed; a failed leg leaves it IN_REVIEW
// so the same verdict can be resolved again.
func (s *DisputeService) Resolve(ctx context.Context, id, actorID uuid.UUID, role dbm.Role, req request_models.ResolveDisputeRequest) (*dbm.Dispute, error) {
	verdict := dbm.Verdict(strings.ToUpper(req.Verdict))
	if !verdict.Valid() {
		return nil, utils.NewValidationError("verdict", "unknown verdict %q", req.Verdict)
	}

	current, err := s.repos.Disputes.FindByID(ctx, id)
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	if current == nil {
		return nil, utils.ErrNotFound
	}

	now := s.now()
	var (
		refundRef, releaseRef string
		events                []Event
	)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := s.repos.WithTx(tx)

		txn, err := r.Transactions.FindByIDForUpdate(ctx, current.TransactionID)
		if err != nil {
			return err
		}
		if txn == nil {
			return utils.ErrNotFound
		}
		d, err := r.Disputes.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if d == nil {
			return utils.ErrNotFound
		}
		actor, err := staffActor(d, actorID, role)
		if err != nil {
			return err
		}
		if _, err := lifecycle.CheckDispute(d, lifecycle.DisputeResolve, actor); err != nil {
			return err
		}

		// Legs still owed or already paid count toward the amount being split.
		legs := map[string]*dbm.Payment{}
		reserved := decimal.Zero
		for _, ref := range []string{d.RefundPaymentRef, d.ReleasePaymentRef} {
			if ref == "" {
				continue
			}
			p, err := r.Payments.FindByReference(ctx, ref)
			if err != nil {
				return err
			}
			if p == nil || (p.Status.IsTerminal() && p.Status != dbm.PaymentSuccess) {
				continue
			}
			legs[ref] = p
			reserved = reserved.Add(p.Amount)
		}
		if len(legs) > 0 && !sameVerdict(d, verdict, req.RefundAmount) {
			return utils.NewValidationError("verdict", "settlement for verdict %s is still in progress", d.Verdict)
		}

		acc, err := r.EscrowAccounts.FindByTransactionForUpdate(ctx, txn.ID)
		if err != nil {
			return err
		}
		available := reserved
		if acc != nil {
			available = available.Add(acc.AvailableBalance())
		}
		settlement, err := lifecycle.SettlementFor(verdict, req.RefundAmount, txn.Amount, available)
		if err != nil {
			return err
		}

		d.Verdict = verdict
		d.RefundAmount = decimal.NullDecimal{Decimal: settlement.Refund, Valid: true}
		if notes := strings.TrimSpace(req.Notes); notes != "" {
			d.ResolutionNotes = notes
		}

		newLeg := func(typ dbm.PaymentType, purpose dbm.PaymentPurpose, prefix string, recipient uuid.UUID, amount decimal.Decimal) (string, error) {
			p := s.payments.outgoingPayment(txn, utils.NewReference(prefix, 10), typ, purpose, recipient, amount, now)
			p.DisputeID = &d.ID
			p.InitiatedBy = &actorID
			if err := r.Payments.Create(ctx, p); err != nil {
				return "", err
			}
			if acc != nil {
				acc.FrozenAmount = acc.FrozenAmount.Add(amount)
			}
			return p.Reference, nil
		}

		if _, ok := legs[d.RefundPaymentRef]; !ok {
			d.RefundPaymentRef = ""
			if settlement.Refund.IsPositive() {
				if d.RefundPaymentRef, err = newLeg(dbm.PaymentRefund, dbm.PurposeDisputeRefund, "DRF", txn.BuyerID, settlement.Refund); err != nil {
					return err
				}
			}
		}
		if _, ok := legs[d.ReleasePaymentRef]; !ok {
			d.ReleasePaymentRef = ""
			if settlement.Release.IsPositive() {
				if d.ReleasePaymentRef, err = newLeg(dbm.PaymentDisbursement, dbm.PurposeDisputeRelease, "DRL", txn.SellerID, settlement.Release); err != nil {
					return err
				}
			}
		}
		if acc != nil {
			if err := r.EscrowAccounts.Save(ctx, acc); err != nil {
				return err
			}
		}
		if ok, err := r.Disputes.UpdateIfStatus(ctx, d, dbm.DisputeInReview); err != nil {
			return err
		} else if !ok {
			return utils.ErrConcurrencyConflict
		}
		refundRef, releaseRef = d.RefundPaymentRef, d.ReleasePaymentRef

		if err := r.Audit.Append(ctx, auditEntry("dispute", d.ID, "verdict", string(d.Status), string(d.Status), actor, actorID,
			map[string]interface{}{
				"verdict": verdict,
				"refund":  settlement.Refund.String(),
				"release": settlement.Release.String(),
			})); err != nil {
			return err
		}

		if refundRef == "" && releaseRef == "" {
			// Nothing left in escrow to move.
			events, err = s.payments.finalizeDisputeTx(ctx, r, d.ID, now)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.payments.emit(ctx, events...)

	for _, ref := range []string{refundRef, releaseRef} {
		if ref == "" {
			continue
		}
		if err := s.payments.executePayout(ctx, ref); err != nil {
			disputeLog.Warnw("dispute leg failed", "dispute", current.Reference, "reference", ref, "err", err)
			return nil, err
		}
	}

	d, err := s.repos.Disputes.FindByID(ctx, id)
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	if d.Status != dbm.DisputeResolved {
		return d, utils.ErrSettlementPending
	}
	return d, nil
}

func sameVerdict(d *dbm.Dispute, verdict dbm.Verdict, refund *decimal.Decimal) bool {
	if d.Verdict != verdict {
		return false
	}
	if verdict != dbm.VerdictPartialRefund {
		return true
	}
	return refund != nil && d.RefundAmount.Valid && d.RefundAmount.Decimal.Equal(*refund)
}

// Comment adds to the dispute thread. Internal notes are staff-only.
func (s *DisputeService) Comment(ctx context.Context, id, authorID uuid.UUID, role dbm.Role, req request_models.DisputeCommentRequest) (*dbm.DisputeComment, error) {
	d, err := s.repos.Disputes.FindByID(ctx, id)
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	if d == nil {
		return nil, utils.ErrNotFound
	}
	actor, err := staffActor(d, authorID, role)
	if err != nil {
		return nil, err
	}
	if req.IsInternal && actor != lifecycle.ActorAdmin && actor != lifecycle.ActorArbitre {
		return nil, utils.ErrForbidden
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return nil, utils.NewValidationError("body", "comment is empty")
	}
	c := &dbm.DisputeComment{DisputeID: d.ID, AuthorID: authorID, Body: body, IsInternal: req.IsInternal}
	if err := s.repos.Disputes.AddComment(ctx, c); err != nil {
		return nil, utils.ErrDatabaseError
	}
	return c, nil
}
