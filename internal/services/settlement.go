package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"kimi/internal/gateway"
	"kimi/internal/lifecycle"
	dbm "kimi/internal/models/db_models"
	"kimi/internal/repositories"
	"kimi/pkg/utils"
)

// ReleaseFunds pays the seller whatever the escrow account still holds and
// moves the transaction to RELEASED once the provider confirms. The claim on
// the transaction is taken before the gateway is called so that a buyer
// confirmation racing the auto-release sweep produces one payout.
func (s *PaymentService) ReleaseFunds(ctx context.Context, txnID uuid.UUID, action lifecycle.Action, actor lifecycle.Actor, initiatedBy uuid.UUID) error {
	now := s.now()
	var (
		ref       string
		finalized bool
		events    []Event
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
		if _, err := s.machine.Check(txn, action, actor, now); err != nil {
			return err
		}
		if txn.SettlementRef != "" {
			return utils.ErrConcurrencyConflict
		}

		ref = utils.NewReference("REL", 10)
		claimed, err := r.Transactions.ClaimSettlement(ctx, txn.ID, dbm.TxnDelivered, ref)
		if err != nil {
			return err
		}
		if !claimed {
			return utils.ErrConcurrencyConflict
		}
		txn.SettlementRef = ref

		acc, err := r.EscrowAccounts.FindByTransactionForUpdate(ctx, txn.ID)
		if err != nil {
			return err
		}
		if acc == nil {
			return fmt.Errorf("escrow account for %s: %w", txn.Reference, utils.ErrNotFound)
		}

		remaining := acc.AvailableBalance()
		p := s.outgoingPayment(txn, ref, dbm.PaymentDisbursement, dbm.PurposeRelease, txn.SellerID, remaining, now)
		p.TriggerAction = string(action)
		if initiatedBy != uuid.Nil {
			p.InitiatedBy = &initiatedBy
		}

		if remaining.IsZero() {
			// Milestones already paid everything out.
			p.Status = dbm.PaymentSuccess
			p.ProcessedAt = &now
			p.NextAttemptAt = nil
			if err := r.Payments.Create(ctx, p); err != nil {
				return err
			}
			events, err = s.applyRelease(ctx, r, txn, acc, p, now)
			finalized = true
			return err
		}

		if err := r.Payments.Create(ctx, p); err != nil {
			return err
		}
		acc.FrozenAmount = acc.FrozenAmount.Add(remaining)
		return r.EscrowAccounts.Save(ctx, acc)
	})
	if err != nil {
		return err
	}

	s.emit(ctx, events...)
	if finalized {
		return nil
	}

	if err := s.executePayout(ctx, ref); err != nil {
		return err
	}
	p, err := s.repos.Payments.FindByReference(ctx, ref)
	if err != nil {
		return err
	}
	if p == nil || p.Status != dbm.PaymentSuccess {
		return utils.ErrSettlementPending
	}
	return nil
}

// CancelWithRefund cancels a funded transaction on the seller's request and
// returns the escrowed amount and the commission to the buyer.
func (s *PaymentService) CancelWithRefund(ctx context.Context, txnID, sellerID uuid.UUID, reason string) error {
	now := s.now()
	var (
		refs   []string
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
		if txn.SellerID != sellerID {
			return &utils.StateTransitionError{Resource: "transaction", Action: string(lifecycle.ActionCancel), From: string(txn.Status), Reason: utils.ReasonWrongRole}
		}
		if txn.Status != dbm.TxnFundsHeld {
			return &utils.StateTransitionError{Resource: "transaction", Action: string(lifecycle.ActionCancel), From: string(txn.Status), Reason: utils.ReasonWrongState}
		}
		from, err := s.machine.Apply(txn, lifecycle.ActionCancel, lifecycle.ActorSeller, now)
		if err != nil {
			return err
		}
		txn.CancelReason = reason
		ok, err := r.Transactions.SaveTransition(ctx, txn, from)
		if err != nil {
			return err
		}
		if !ok {
			return utils.ErrConcurrencyConflict
		}

		acc, err := r.EscrowAccounts.FindByTransactionForUpdate(ctx, txn.ID)
		if err != nil {
			return err
		}
		if acc == nil {
			return fmt.Errorf("escrow account for %s: %w", txn.Reference, utils.ErrNotFound)
		}

		available := acc.AvailableBalance()
		if available.IsPositive() {
			p := s.outgoingPayment(txn, utils.NewReference("RFD", 10), dbm.PaymentRefund, dbm.PurposeCancelRefund, txn.BuyerID, available, now)
			p.InitiatedBy = &sellerID
			if err := r.Payments.Create(ctx, p); err != nil {
				return err
			}
			acc.FrozenAmount = acc.FrozenAmount.Add(available)
			if err := r.EscrowAccounts.Save(ctx, acc); err != nil {
				return err
			}
			refs = append(refs, p.Reference)
		}
		if txn.Commission.IsPositive() {
			p := s.outgoingPayment(txn, utils.NewReference("FRF", 10), dbm.PaymentRefund, dbm.PurposeFeeRefund, txn.BuyerID, txn.Commission, now)
			p.InitiatedBy = &sellerID
			if err := r.Payments.Create(ctx, p); err != nil {
				return err
			}
			refs = append(refs, p.Reference)
		}

		if err := r.Audit.Append(ctx, auditEntry("transaction", txn.ID, string(lifecycle.ActionCancel), string(from), string(txn.Status),
			lifecycle.ActorSeller, sellerID, map[string]interface{}{"reason": reason, "refunds": refs})); err != nil {
			return err
		}
		events = append(events, Event{
			Type:          "transaction.cancelled",
			TransactionID: txn.ID,
			Reference:     txn.Reference,
			Recipients:    participants(txn),
			Data:          map[string]string{"title": txn.Title, "reason": reason, "amount": utils.FormatAmount(txn.TotalAmount, txn.Currency)},
		})
		return nil
	})
	if err != nil {
		return err
	}

	s.emit(ctx, events...)
	for _, ref := range refs {
		if err := s.executePayout(ctx, ref); err != nil {
			settleLog.Warnw("cancel refund deferred to retry sweep", "reference", ref, "err", err)
		}
	}
	return nil
}

func (s *PaymentService) outgoingPayment(txn *dbm.EscrowTransaction, ref string, typ dbm.PaymentType, purpose dbm.PaymentPurpose, recipient uuid.UUID, amount decimal.Decimal, now time.Time) *dbm.Payment {
	next := now.Add(s.retry.Base)
	return &dbm.Payment{
		Reference:     ref,
		TransactionID: &txn.ID,
		AccountID:     recipient,
		Type:          typ,
		Purpose:       purpose,
		Provider:      s.gw.Name(),
		Amount:        amount,
		Fee:           decimal.Zero,
		TotalAmount:   amount,
		Currency:      txn.Currency,
		Status:        dbm.PaymentPending,
		NextAttemptAt: &next,
	}
}

// executePayout sends one outgoing payment to the provider and settles the
// outcome. It is safe to call again for the same reference.
func (s *PaymentService) executePayout(ctx context.Context, ref string) error {
	p, err := s.repos.Payments.FindByReference(ctx, ref)
	if err != nil {
		return err
	}
	if p == nil {
		return utils.ErrNotFound
	}
	if !p.IsOutgoing() || p.Status != dbm.PaymentPending {
		return nil
	}

	if p.Purpose == dbm.PurposeDisputeRelease && p.DisputeID != nil {
		d, err := s.repos.Disputes.FindByID(ctx, *p.DisputeID)
		if err != nil {
			return err
		}
		if d != nil && owesRefund(d) {
			if d.RefundPaymentRef == "" {
				settleLog.Warnw("release leg held, verdict refund has no live leg", "reference", ref, "dispute", d.Reference)
				return nil
			}
			refund, err := s.repos.Payments.FindByReference(ctx, d.RefundPaymentRef)
			if err != nil {
				return err
			}
			if refund == nil || refund.Status != dbm.PaymentSuccess {
				settleLog.Debugw("release leg waits for refund leg", "reference", ref, "refund", d.RefundPaymentRef)
				return nil
			}
		}
	}

	phone := p.PhoneNumber
	if phone == "" {
		if acc, err := s.repos.Accounts.FindById(ctx, p.AccountID); err == nil && acc != nil {
			phone = acc.PhoneNumber
		}
	}

	op := gateway.OpRelease
	if p.Type == dbm.PaymentRefund {
		op = gateway.OpRefund
	}
	req := gateway.Request{
		Reference:   p.Reference,
		AccountID:   p.AccountID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		PhoneNumber: phone,
		Description: string(p.Purpose),
	}

	res, err := gateway.Call(ctx, s.gw, op, req)
	if err != nil {
		settleLog.Warnw("payout transport failure", "reference", ref, "op", op, "err", err)
		return s.recordPayoutFailure(ctx, ref, string(op), err.Error(), err)
	}

	switch res.Status {
	case gateway.StatusSuccess:
		return s.finalizePayout(ctx, ref, res)
	case gateway.StatusPending:
		return s.markProcessing(ctx, ref, res)
	default:
		return s.recordPayoutFailure(ctx, ref, string(op), res.FailureReason, nil)
	}
}

func (s *PaymentService) markProcessing(ctx context.Context, ref string, res gateway.Result) error {
	p, err := s.repos.Payments.FindByReference(ctx, ref)
	if err != nil || p == nil {
		return err
	}
	p.Status = dbm.PaymentProcessing
	p.ExternalReference = res.ExternalReference
	p.CheckoutURL = res.CheckoutURL
	p.ProviderResponse = rawJSON(res.Raw)
	p.NextAttemptAt = nil
	if _, err := s.repos.Payments.UpdateIfStatus(ctx, p, dbm.PaymentPending); err != nil {
		return err
	}
	settleLog.Infow("payout awaiting provider confirmation", "reference", ref, "external", res.ExternalReference)
	return nil
}

// finalizePayout books a confirmed payout against the escrow account and
// runs the follow-up for its purpose.
func (s *PaymentService) finalizePayout(ctx context.Context, ref string, res gateway.Result) error {
	now := s.now()
	var events []Event

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := s.repos.WithTx(tx)

		p, err := r.Payments.FindByReferenceForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		if p == nil {
			return utils.ErrNotFound
		}
		if p.Status.IsTerminal() {
			return nil
		}

		p.Status = dbm.PaymentSuccess
		if res.ExternalReference != "" {
			p.ExternalReference = res.ExternalReference
		}
		if res.Raw != nil {
			p.ProviderResponse = rawJSON(res.Raw)
		}
		p.FailureReason = ""
		p.NextAttemptAt = nil
		p.ProcessedAt = &now
		ok, err := r.Payments.UpdateIfStatus(ctx, p, dbm.PaymentPending, dbm.PaymentProcessing)
		if err != nil {
			return err
		}
		if !ok {
			return utils.ErrConcurrencyConflict
		}

		var (
			txn *dbm.EscrowTransaction
			acc *dbm.EscrowAccount
		)
		if p.TransactionID != nil {
			if txn, err = r.Transactions.FindByIDForUpdate(ctx, *p.TransactionID); err != nil {
				return err
			}
			if acc, err = r.EscrowAccounts.FindByTransactionForUpdate(ctx, *p.TransactionID); err != nil {
				return err
			}
		}
		if p.DrawsEscrow() && acc != nil {
			acc.Balance = acc.Balance.Sub(p.Amount)
			acc.FrozenAmount = acc.FrozenAmount.Sub(p.Amount)
			if acc.FrozenAmount.IsNegative() {
				acc.FrozenAmount = decimal.Zero
			}
			if err := r.EscrowAccounts.Save(ctx, acc); err != nil {
				return err
			}
		}

		if txn == nil {
			return nil
		}

		if err := r.Audit.Append(ctx, auditEntry("payment", p.ID, "settled", string(dbm.PaymentPending), string(dbm.PaymentSuccess),
			lifecycle.ActorSystem, uuid.Nil, map[string]interface{}{"reference": p.Reference, "purpose": p.Purpose, "amount": p.Amount.String()})); err != nil {
			return err
		}

		switch p.Purpose {
		case dbm.PurposeRelease:
			events, err = s.applyRelease(ctx, r, txn, acc, p, now)
			return err
		case dbm.PurposeMilestone:
			events = append(events, Event{
				Type:          "milestone.paid",
				TransactionID: txn.ID,
				Reference:     txn.Reference,
				Recipients:    participants(txn),
				Data:          map[string]string{"title": txn.Title, "amount": utils.FormatAmount(p.Amount, p.Currency)},
			})
		case dbm.PurposeCancelRefund, dbm.PurposeFeeRefund:
			return closeIfEmpty(ctx, r, acc, now)
		case dbm.PurposeDisputeRefund, dbm.PurposeDisputeRelease:
			if p.DisputeID != nil {
				events, err = s.finalizeDisputeTx(ctx, r, *p.DisputeID, now)
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.emit(ctx, events...)
	return nil
}

// applyRelease moves a DELIVERED transaction to RELEASED with the action that
// started the settlement. The payout already left, so a transition that no
// longer applies is logged rather than rolled back.
func (s *PaymentService) applyRelease(ctx context.Context, r repositories.Set, txn *dbm.EscrowTransaction, acc *dbm.EscrowAccount, p *dbm.Payment, now time.Time) ([]Event, error) {
	action := lifecycle.Action(p.TriggerAction)
	actor := lifecycle.ActorSystem
	if action == lifecycle.ActionConfirmDelivery {
		actor = lifecycle.ActorBuyer
	}

	from, err := s.machine.Apply(txn, action, actor, now)
	if err != nil {
		settleLog.Errorw("release settled but transition rejected", "transaction", txn.Reference, "payment", p.Reference, "err", err)
		return nil, nil
	}
	ok, err := r.Transactions.SaveTransition(ctx, txn, from)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, utils.ErrConcurrencyConflict
	}
	if err := closeIfEmpty(ctx, r, acc, now); err != nil {
		return nil, err
	}

	var actorID uuid.UUID
	if p.InitiatedBy != nil {
		actorID = *p.InitiatedBy
	}
	if err := r.Audit.Append(ctx, auditEntry("transaction", txn.ID, string(action), string(from), string(txn.Status),
		actor, actorID, map[string]interface{}{"payment": p.Reference, "amount": p.Amount.String()})); err != nil {
		return nil, err
	}

	settleLog.Infow("funds released", "transaction", txn.Reference, "action", action, "amount", p.Amount)
	return []Event{{
		Type:          "transaction.released",
		TransactionID: txn.ID,
		Reference:     txn.Reference,
		Recipients:    participants(txn),
		Data:          map[string]string{"title": txn.Title, "amount": utils.FormatAmount(txn.Amount, txn.Currency), "trigger": string(action)},
	}}, nil
}

func closeIfEmpty(ctx context.Context, r repositories.Set, acc *dbm.EscrowAccount, now time.Time) error {
	if acc == nil || acc.Status == dbm.EscrowAccountClosed || !acc.Balance.IsZero() {
		return nil
	}
	acc.Status = dbm.EscrowAccountClosed
	acc.ClosedAt = &now
	return r.EscrowAccounts.Save(ctx, acc)
}

// recordPayoutFailure counts a failed attempt. Below the attempt limit the
// payment stays PENDING with an exponential backoff; at the limit it fails
// for good and its reservation is released back to the escrow account.
func (s *PaymentService) recordPayoutFailure(ctx context.Context, ref, op, reason string, cause error) error {
	now := s.now()
	var (
		gwErr  *utils.GatewayError
		events []Event
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := s.repos.WithTx(tx)

		p, err := r.Payments.FindByReferenceForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		if p == nil || p.Status.IsTerminal() {
			return nil
		}

		from := p.Status
		p.Attempts++
		p.FailureReason = reason
		gwErr = &utils.GatewayError{Op: op, Reference: ref, Reason: reason, Attempts: p.Attempts, Err: cause}

		if p.Attempts < s.retry.MaxAttempts {
			next := now.Add(backoff(s.retry.Base, p.Attempts))
			p.Status = dbm.PaymentPending
			p.NextAttemptAt = &next
			_, err := r.Payments.UpdateIfStatus(ctx, p, dbm.PaymentPending, dbm.PaymentProcessing)
			settleLog.Warnw("payout attempt failed", "reference", ref, "attempts", p.Attempts, "next_attempt_at", next, "reason", reason)
			return err
		}

		gwErr.Terminal = true
		p.Status = dbm.PaymentFailed
		p.NextAttemptAt = nil
		p.ProcessedAt = &now
		if _, err := r.Payments.UpdateIfStatus(ctx, p, dbm.PaymentPending, dbm.PaymentProcessing); err != nil {
			return err
		}
		settleLog.Errorw("payout failed permanently", "reference", ref, "attempts", p.Attempts, "reason", reason)

		if p.TransactionID == nil {
			return nil
		}
		txn, err := r.Transactions.FindByIDForUpdate(ctx, *p.TransactionID)
		if err != nil {
			return err
		}

		acc, err := r.EscrowAccounts.FindByTransactionForUpdate(ctx, *p.TransactionID)
		if err != nil {
			return err
		}
		if p.DrawsEscrow() {
			unfreeze(acc, p.Amount)
		}

		switch p.Purpose {
		case dbm.PurposeRelease:
			if err := r.Transactions.ClearSettlement(ctx, *p.TransactionID, p.Reference); err != nil {
				return err
			}
		case dbm.PurposeDisputeRefund, dbm.PurposeDisputeRelease:
			if p.DisputeID != nil {
				d, err := r.Disputes.FindByIDForUpdate(ctx, *p.DisputeID)
				if err != nil {
					return err
				}
				if d != nil {
					if d.RefundPaymentRef == p.Reference {
						d.RefundPaymentRef = ""
						// The seller leg must not go out while the buyer is owed.
						cancelled, err := s.cancelLeg(ctx, r, acc, d.ReleasePaymentRef, now)
						if err != nil {
							return err
						}
						if cancelled {
							d.ReleasePaymentRef = ""
						}
					}
					if d.ReleasePaymentRef == p.Reference {
						d.ReleasePaymentRef = ""
					}
					if _, err := r.Disputes.UpdateIfStatus(ctx, d, d.Status); err != nil {
						return err
					}
				}
			}
		}
		if acc != nil {
			if err := r.EscrowAccounts.Save(ctx, acc); err != nil {
				return err
			}
		}

		if err := r.Audit.Append(ctx, auditEntry("payment", p.ID, "failed", string(from), string(p.Status),
			lifecycle.ActorSystem, uuid.Nil, map[string]interface{}{"reference": p.Reference, "reason": reason, "attempts": p.Attempts})); err != nil {
			return err
		}

		if txn != nil {
			events = append(events, Event{
				Type:          "payment.failed",
				TransactionID: txn.ID,
				Reference:     txn.Reference,
				Recipients:    participants(txn),
				Data:          map[string]string{"title": txn.Title, "payment": p.Reference, "amount": utils.FormatAmount(p.Amount, p.Currency), "reason": reason, "attempts": strconv.Itoa(p.Attempts)},
			})
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.emit(ctx, events...)
	if gwErr == nil {
		return nil
	}
	return gwErr
}

// cancelLeg withdraws a payout that was never sent and gives its reservation
// back to the escrow account. Legs already with the provider are left alone.
func (s *PaymentService) cancelLeg(ctx context.Context, r repositories.Set, acc *dbm.EscrowAccount, ref string, now time.Time) (bool, error) {
	if ref == "" {
		return true, nil
	}
	leg, err := r.Payments.FindByReferenceForUpdate(ctx, ref)
	if err != nil {
		return false, err
	}
	if leg == nil {
		return true, nil
	}
	if leg.Status != dbm.PaymentPending {
		return leg.Status.IsTerminal() && leg.Status != dbm.PaymentSuccess, nil
	}
	leg.Status = dbm.PaymentCancelled
	leg.FailureReason = "refund leg failed"
	leg.NextAttemptAt = nil
	leg.ProcessedAt = &now
	ok, err := r.Payments.UpdateIfStatus(ctx, leg, dbm.PaymentPending)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, utils.ErrConcurrencyConflict
	}
	if leg.DrawsEscrow() {
		unfreeze(acc, leg.Amount)
	}
	settleLog.Warnw("payout leg cancelled", "reference", ref)
	return true, r.Audit.Append(ctx, auditEntry("payment", leg.ID, "cancelled", string(dbm.PaymentPending), string(dbm.PaymentCancelled),
		lifecycle.ActorSystem, uuid.Nil, map[string]interface{}{"reference": ref}))
}

func unfreeze(acc *dbm.EscrowAccount, amount decimal.Decimal) {
	if acc == nil {
		return
	}
	acc.FrozenAmount = acc.FrozenAmount.Sub(amount)
	if acc.FrozenAmount.IsNegative() {
		acc.FrozenAmount = decimal.Zero
	}
}

// owesRefund reports whether the recorded verdict sends money to the buyer.
func owesRefund(d *dbm.Dispute) bool {
	return d.Verdict.Valid() && d.Verdict != dbm.VerdictSellerFavor &&
		d.RefundAmount.Valid && d.RefundAmount.Decimal.IsPositive()
}

func backoff(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 16 {
		attempts = 16
	}
	return base * time.Duration(1<<(attempts-1))
}

// finalizeDisputeTx closes a dispute once every leg of its settlement has
// been paid. It is a no-op while a leg is outstanding.
func (s *PaymentService) finalizeDisputeTx(ctx context.Context, r repositories.Set, disputeID uuid.UUID, now time.Time) ([]Event, error) {
	d, err := r.Disputes.FindByIDForUpdate(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d == nil || d.Status != dbm.DisputeInReview || !d.Verdict.Valid() {
		return nil, nil
	}
	for _, ref := range []string{d.RefundPaymentRef, d.ReleasePaymentRef} {
		if ref == "" {
			continue
		}
		p, err := r.Payments.FindByReference(ctx, ref)
		if err != nil {
			return nil, err
		}
		if p == nil || p.Status != dbm.PaymentSuccess {
			return nil, nil
		}
	}

	actor := lifecycle.ActorAdmin
	var actorID uuid.UUID
	if d.ArbitreID != nil {
		actor = lifecycle.ActorArbitre
		actorID = *d.ArbitreID
	}
	if err := lifecycle.ApplyDispute(d, lifecycle.DisputeResolve, actor, now); err != nil {
		return nil, err
	}
	ok, err := r.Disputes.UpdateIfStatus(ctx, d, dbm.DisputeInReview)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, utils.ErrConcurrencyConflict
	}

	txn, err := r.Transactions.FindByIDForUpdate(ctx, d.TransactionID)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, utils.ErrNotFound
	}
	action := lifecycle.ActionResolveRelease
	if finalStatusFor(d) == dbm.TxnRefunded {
		action = lifecycle.ActionResolveRefund
	}
	from, err := s.machine.Apply(txn, action, actor, now)
	if err != nil {
		return nil, err
	}
	if ok, err := r.Transactions.SaveTransition(ctx, txn, from); err != nil {
		return nil, err
	} else if !ok {
		return nil, utils.ErrConcurrencyConflict
	}

	acc, err := r.EscrowAccounts.FindByTransactionForUpdate(ctx, txn.ID)
	if err != nil {
		return nil, err
	}
	if err := closeIfEmpty(ctx, r, acc, now); err != nil {
		return nil, err
	}

	details := map[string]interface{}{"verdict": d.Verdict, "refund": d.RefundPaymentRef, "release": d.ReleasePaymentRef}
	if err := r.Audit.Append(ctx,
		auditEntry("dispute", d.ID, string(lifecycle.DisputeResolve), string(dbm.DisputeInReview), string(d.Status), actor, actorID, details),
		auditEntry("transaction", txn.ID, string(action), string(from), string(txn.Status), actor, actorID, details),
	); err != nil {
		return nil, err
	}

	settleLog.Infow("dispute resolved", "dispute", d.Reference, "transaction", txn.Reference, "verdict", d.Verdict, "status", txn.Status)
	data := map[string]string{"title": txn.Title, "dispute": d.Reference, "verdict": string(d.Verdict)}
	final := "transaction.released"
	if txn.Status == dbm.TxnRefunded {
		final = "transaction.refunded"
	}
	return []Event{
		{Type: "dispute.resolved", TransactionID: txn.ID, Reference: txn.Reference, Recipients: participants(txn), Data: data},
		{Type: final, TransactionID: txn.ID, Reference: txn.Reference, Recipients: participants(txn),
			Data: map[string]string{"title": txn.Title, "amount": utils.FormatAmount(txn.Amount, txn.Currency)}},
	}, nil
}

// finalStatusFor is the status a resolved dispute leaves its transaction in.
func finalStatusFor(d *dbm.Dispute) dbm.TransactionStatus {
	switch d.Verdict {
	case dbm.VerdictSellerFavor:
		return dbm.TxnReleased
	case dbm.VerdictPartialRefund:
		if d.ReleasePaymentRef != "" {
			return dbm.TxnReleased
		}
	}
	return dbm.TxnRefunded
}

// ProcessDueRetries re-sends outgoing payments whose backoff has elapsed.
func (s *PaymentService) ProcessDueRetries(ctx context.Context, limit int) (int, error) {
	refs, err := s.repos.Payments.ListDueRetries(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, ref := range refs {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		err := s.executePayout(ctx, ref)
		var gwErr *utils.GatewayError
		switch {
		case err == nil:
			done++
		case errors.As(err, &gwErr):
			done++
		default:
			settleLog.Errorw("retrying payout", "reference", ref, "err", err)
		}
	}
	return done, nil
}
