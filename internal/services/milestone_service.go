package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"kimi/internal/lifecycle"
	dbm "kimi/internal/models/db_models"
	"kimi/internal/repositories"
	"kimi/pkg/utils"
)

type MilestoneServiceInterface interface {
	List(ctx context.Context, txnID, viewerID uuid.UUID, role dbm.Role) ([]dbm.Milestone, error)
	Act(ctx context.Context, txnID, milestoneID, actorID uuid.UUID, role dbm.Role, action lifecycle.MilestoneAction, note string) (*dbm.Milestone, error)
	ActOn(ctx context.Context, milestoneID, actorID uuid.UUID, role dbm.Role, action lifecycle.MilestoneAction, note string) (*dbm.Milestone, error)
}

type MilestoneService struct {
	db       *gorm.DB
	repos    repositories.Set
	escrow   *EscrowService
	payments *PaymentService
	notifier Notifier
	now      utils.Clock
}

func NewMilestoneService(db *gorm.DB, repos repositories.Set, escrow *EscrowService, payments *PaymentService, notifier Notifier) *MilestoneService {
	return &MilestoneService{
		db:       db,
		repos:    repos,
		escrow:   escrow,
		payments: payments,
		notifier: notifier,
		now:      utils.SystemClock,
	}
}

func (s *MilestoneService) List(ctx context.Context, txnID, viewerID uuid.UUID, role dbm.Role) ([]dbm.Milestone, error) {
	if _, err := s.escrow.load(ctx, txnID, viewerID, role); err != nil {
		return nil, err
	}
	items, err := s.repos.Milestones.ListByTransaction(ctx, txnID)
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	return items, nil
}

// ActOn is Act for callers that only know the milestone id.
func (s *MilestoneService) ActOn(ctx context.Context, milestoneID, actorID uuid.UUID, role dbm.Role, action lifecycle.MilestoneAction, note string) (*dbm.Milestone, error) {
	ms, err := s.repos.Milestones.FindByID(ctx, milestoneID)
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	if ms == nil {
		return nil, utils.ErrNotFound
	}
	return s.Act(ctx, ms.TransactionID, milestoneID, actorID, role, action, note)
}

// Act moves a milestone forward. Approval pays the milestone amount to the
// seller out of escrow; a payout the provider has not confirmed yet is left
// to the retry sweep.
func (s *MilestoneService) Act(ctx context.Context, txnID, milestoneID, actorID uuid.UUID, role dbm.Role, action lifecycle.MilestoneAction, note string) (*dbm.Milestone, error) {
	now := s.now()
	var (
		ms     *dbm.Milestone
		payRef string
		events []Event
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := s.repos.WithTx(tx)

		txn, err := r.Transactions.FindByIDForUpdate(ctx, txnID)
		if err != nil {
			return err
		}
		if txn == nil {
			return utils.ErrNotFound
		}
		actor, err := s.milestoneActor(ctx, r, txn, actorID, role)
		if err != nil {
			return err
		}

		ms, err = r.Milestones.FindByIDForUpdate(ctx, milestoneID)
		if err != nil {
			return err
		}
		if ms == nil || ms.TransactionID != txn.ID {
			return utils.ErrNotFound
		}

		from := ms.Status
		if err := lifecycle.ApplyMilestone(ms, txn, action, actor, now); err != nil {
			return err
		}
		switch action {
		case lifecycle.MilestoneComplete:
			ms.CompletionNote = strings.TrimSpace(note)
		case lifecycle.MilestoneReject:
			ms.RejectionReason = strings.TrimSpace(note)
		}

		if action == lifecycle.MilestoneApprove {
			acc, err := r.EscrowAccounts.FindByTransactionForUpdate(ctx, txn.ID)
			if err != nil {
				return err
			}
			if acc == nil {
				return fmt.Errorf("escrow account for %s: %w", txn.Reference, utils.ErrNotFound)
			}
			if acc.AvailableBalance().LessThan(ms.Amount) {
				return utils.ErrInsufficientEscrow
			}
			p := s.payments.outgoingPayment(txn, utils.NewReference("MS", 10), dbm.PaymentDisbursement, dbm.PurposeMilestone, txn.SellerID, ms.Amount, now)
			p.MilestoneID = &ms.ID
			p.InitiatedBy = &actorID
			if err := r.Payments.Create(ctx, p); err != nil {
				return err
			}
			acc.FrozenAmount = acc.FrozenAmount.Add(ms.Amount)
			if err := r.EscrowAccounts.Save(ctx, acc); err != nil {
				return err
			}
			ms.PaymentRef = p.Reference
			payRef = p.Reference
		}

		ok, err := r.Milestones.UpdateIfStatus(ctx, ms, from)
		if err != nil {
			return err
		}
		if !ok {
			return utils.ErrConcurrencyConflict
		}
		if err := r.Audit.Append(ctx, auditEntry("milestone", ms.ID, string(action), string(from), string(ms.Status),
			actor, actorID, map[string]interface{}{"transaction": txn.Reference, "note": note})); err != nil {
			return err
		}

		events = append(events, Event{
			Type:          "milestone.updated",
			TransactionID: txn.ID,
			Reference:     txn.Reference,
			Recipients:    participants(txn),
			Data: map[string]string{
				"title":     txn.Title,
				"milestone": ms.Title,
				"status":    string(ms.Status),
				"amount":    utils.FormatAmount(ms.Amount, txn.Currency),
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.payments.emit(ctx, events...)
	if payRef != "" {
		err := s.payments.executePayout(ctx, payRef)
		var gwErr *utils.GatewayError
		switch {
		case errors.As(err, &gwErr) && !gwErr.Terminal:
			escrowLog.Warnw("milestone payout deferred to retry sweep", "reference", payRef, "err", err)
		case err != nil:
			return nil, err
		}
	}
	return ms, nil
}

// milestoneActor resolves the caller's part on txn. The arbitre assigned to
// the transaction's dispute acts in the buyer's place.
func (s *MilestoneService) milestoneActor(ctx context.Context, r repositories.Set, txn *dbm.EscrowTransaction, actorID uuid.UUID, role dbm.Role) (lifecycle.Actor, error) {
	switch {
	case txn.BuyerID == actorID:
		return lifecycle.ActorBuyer, nil
	case txn.SellerID == actorID:
		return lifecycle.ActorSeller, nil
	case role == dbm.RoleArbitre:
		d, err := r.Disputes.FindByTransaction(ctx, txn.ID)
		if err != nil {
			return "", err
		}
		if d != nil && d.ArbitreID != nil && *d.ArbitreID == actorID {
			return lifecycle.ActorArbitre, nil
		}
	}
	return "", utils.ErrForbidden
}
