package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"kimi/internal/config"
	"kimi/internal/gateway"
	"kimi/internal/lifecycle"
	dbm "kimi/internal/models/db_models"
	"kimi/internal/models/response_models"
	"kimi/internal/repositories"
	"kimi/pkg/utils"
)

var settleLog = logging.Logger("settlement")

type PaymentServiceInterface interface {
	StartCollection(ctx context.Context, txnID, buyerID uuid.UUID, idempotencyKey, phone string) (*response_models.StartPaymentResponse, error)
	HandleCallback(ctx context.Context, cb gateway.Callback, body []byte) error
	ListPayments(ctx context.Context, accountID uuid.UUID, page, pageSize int) (*response_models.PaymentList, error)
	GetPayment(ctx context.Context, ref string, viewerID uuid.UUID, role dbm.Role) (*dbm.Payment, error)
}

// PaymentService owns every movement of money: collection from the buyer,
// payouts and refunds out of escrow, and provider callbacks.
type PaymentService struct {
	db       *gorm.DB
	repos    repositories.Set
	gw       gateway.Gateway
	machine  *lifecycle.Machine
	notifier Notifier
	retry    config.RetryPolicy
	now      utils.Clock
}

func NewPaymentService(db *gorm.DB, repos repositories.Set, gw gateway.Gateway, machine *lifecycle.Machine, notifier Notifier, retry config.RetryPolicy) *PaymentService {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &PaymentService{
		db:       db,
		repos:    repos,
		gw:       gw,
		machine:  machine,
		notifier: notifier,
		retry:    retry,
		now:      utils.SystemClock,
	}
}

func (s *PaymentService) emit(ctx context.Context, events ...Event) {
	for _, ev := range events {
		if ev.OccurredAt.IsZero() {
			ev.OccurredAt = s.now()
		}
		s.notifier.Notify(ctx, ev)
	}
}

func rawJSON(v map[string]interface{}) datatypes.JSON {
	if len(v) == 0 {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// StartCollection asks the provider to collect the transaction total from the
// buyer. The idempotency key becomes the payment reference, so a retried
// request replays the stored payment instead of charging twice.
func (s *PaymentService) StartCollection(ctx context.Context, txnID, buyerID uuid.UUID, idempotencyKey, phone string) (*response_models.StartPaymentResponse, error) {
	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		key = utils.NewReference("PAY", 12)
	}
	if len(key) > 64 {
		return nil, utils.NewValidationError("Idempotency-Key", "must be at most 64 characters")
	}

	existing, err := s.repos.Payments.FindByReference(ctx, key)
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	if existing != nil {
		if existing.Type != dbm.PaymentCollection || existing.TransactionID == nil ||
			*existing.TransactionID != txnID || existing.AccountID != buyerID {
			return nil, utils.NewValidationError("Idempotency-Key", "already used for another request")
		}
		if existing.Status != dbm.PaymentPending {
			return &response_models.StartPaymentResponse{Payment: *existing, CheckoutURL: existing.CheckoutURL, Replayed: true}, nil
		}
		return s.collect(ctx, existing, true)
	}

	buyer, err := s.repos.Accounts.FindById(ctx, buyerID)
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	if buyer == nil {
		return nil, utils.ErrUnauthorized
	}
	if phone == "" {
		phone = buyer.PhoneNumber
	}
	phone = utils.NormalizePhone(phone)
	if !utils.ValidCameroonMobile(phone) {
		return nil, utils.NewValidationError("phone_number", "expected a Cameroon mobile number (+2376XXXXXXXX)")
	}

	now := s.now()
	var payment *dbm.Payment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := s.repos.WithTx(tx)

		txn, err := r.Transactions.FindByIDForUpdate(ctx, txnID)
		if err != nil {
			return err
		}
		if txn == nil {
			return utils.ErrNotFound
		}
		if !txn.IsParticipant(buyerID) {
			return utils.ErrForbidden
		}
		if txn.BuyerID != buyerID {
			return &utils.StateTransitionError{Resource: "transaction", Action: "pay", From: string(txn.Status), Reason: utils.ReasonWrongRole}
		}
		if txn.Status != dbm.TxnPendingFunds {
			return &utils.StateTransitionError{Resource: "transaction", Action: "pay", From: string(txn.Status), Reason: utils.ReasonWrongState}
		}
		if now.After(txn.PaymentDeadline) {
			return &utils.StateTransitionError{Resource: "transaction", Action: "pay", From: string(txn.Status), Reason: utils.ReasonDeadlinePassed}
		}

		prior, err := r.Payments.ListByTransaction(ctx, txn.ID)
		if err != nil {
			return err
		}
		for _, p := range prior {
			if p.Type != dbm.PaymentCollection {
				continue
			}
			if p.Status == dbm.PaymentSuccess || !p.Status.IsTerminal() {
				return utils.ErrConcurrencyConflict
			}
		}

		payment = &dbm.Payment{
			Reference:     key,
			TransactionID: &txn.ID,
			AccountID:     buyerID,
			Type:          dbm.PaymentCollection,
			Purpose:       dbm.PurposeEscrowFunding,
			Provider:      s.gw.Name(),
			PhoneNumber:   phone,
			InitiatedBy:   &buyerID,
			Amount:        txn.Amount,
			Fee:           txn.Commission,
			TotalAmount:   txn.TotalAmount,
			Currency:      txn.Currency,
			Status:        dbm.PaymentPending,
		}
		created, isNew, err := r.Payments.FirstOrCreate(ctx, payment)
		if err != nil {
			return err
		}
		if !isNew {
			return utils.ErrConcurrencyConflict
		}
		payment = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.collect(ctx, payment, false)
}

func (s *PaymentService) collect(ctx context.Context, p *dbm.Payment, replayed bool) (*response_models.StartPaymentResponse, error) {
	txn, err := s.repos.Transactions.FindByID(ctx, *p.TransactionID)
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	if txn == nil {
		return nil, utils.ErrNotFound
	}

	res, err := s.gw.Collect(ctx, gateway.Request{
		Reference:   p.Reference,
		AccountID:   p.AccountID,
		Amount:      p.TotalAmount,
		Currency:    p.Currency,
		PhoneNumber: p.PhoneNumber,
		Description: txn.Reference,
	})
	if err != nil {
		settleLog.Warnw("collection transport failure", "reference", p.Reference, "err", err)
		return nil, &utils.GatewayError{Op: string(gateway.OpCollect), Reference: p.Reference, Reason: "provider unreachable", Err: err}
	}

	switch res.Status {
	case gateway.StatusSuccess:
		if err := s.finalizeCollection(ctx, p.Reference, res); err != nil {
			return nil, err
		}
	case gateway.StatusPending:
		p.Status = dbm.PaymentProcessing
		p.ExternalReference = res.ExternalReference
		p.CheckoutURL = res.CheckoutURL
		p.ProviderResponse = rawJSON(res.Raw)
		if _, err := s.repos.Payments.UpdateIfStatus(ctx, p, dbm.PaymentPending); err != nil {
			return nil, utils.ErrDatabaseError
		}
	default:
		if err := s.failCollection(ctx, p.Reference, res.FailureReason); err != nil {
			return nil, err
		}
		return nil, &utils.GatewayError{Op: string(gateway.OpCollect), Reference: p.Reference, Reason: res.FailureReason, Attempts: 1, Terminal: true}
	}

	stored, err := s.repos.Payments.FindByReference(ctx, p.Reference)
	if err != nil || stored == nil {
		return nil, utils.ErrDatabaseError
	}
	settleLog.Infow("collection started", "reference", stored.Reference, "transaction", txn.Reference, "status", stored.Status)
	return &response_models.StartPaymentResponse{Payment: *stored, CheckoutURL: stored.CheckoutURL, Replayed: replayed}, nil
}

// finalizeCollection books a confirmed collection: the transaction moves to
// FUNDS_HELD, the escrow account opens and the commission is recorded. Money
// that arrives after the transaction stopped waiting is sent back.
func (s *PaymentService) finalizeCollection(ctx context.Context, ref string, res gateway.Result) error {
	now := s.now()
	var (
		events    []Event
		refundRef string
	)

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
		p.ProcessedAt = &now
		if ok, err := r.Payments.UpdateIfStatus(ctx, p, dbm.PaymentPending, dbm.PaymentProcessing); err != nil {
			return err
		} else if !ok {
			return utils.ErrConcurrencyConflict
		}

		txn, err := r.Transactions.FindByIDForUpdate(ctx, *p.TransactionID)
		if err != nil {
			return err
		}
		if txn == nil {
			return utils.ErrNotFound
		}

		if txn.Status != dbm.TxnPendingFunds {
			refund := &dbm.Payment{
				Reference:     "LRF-" + p.Reference,
				TransactionID: &txn.ID,
				AccountID:     p.AccountID,
				Type:          dbm.PaymentRefund,
				Purpose:       dbm.PurposeLateRefund,
				Provider:      s.gw.Name(),
				PhoneNumber:   p.PhoneNumber,
				Amount:        p.TotalAmount,
				TotalAmount:   p.TotalAmount,
				Currency:      p.Currency,
				Status:        dbm.PaymentPending,
				NextAttemptAt: &now,
			}
			if _, _, err := r.Payments.FirstOrCreate(ctx, refund); err != nil {
				return err
			}
			refundRef = refund.Reference
			settleLog.Warnw("collection settled after transaction left PENDING_FUNDS", "transaction", txn.Reference, "status", txn.Status, "refund", refundRef)
			return nil
		}

		from, err := s.machine.Apply(txn, lifecycle.ActionFundsReceived, lifecycle.ActorSystem, now)
		if err != nil {
			return err
		}
		if ok, err := r.Transactions.SaveTransition(ctx, txn, from); err != nil {
			return err
		} else if !ok {
			return utils.ErrConcurrencyConflict
		}

		if err := r.EscrowAccounts.Create(ctx, &dbm.EscrowAccount{
			TransactionID: txn.ID,
			Balance:       p.Amount,
			FrozenAmount:  decimal.Zero,
			Currency:      txn.Currency,
			Status:        dbm.EscrowAccountActive,
		}); err != nil {
			return err
		}

		fee := &dbm.Payment{
			Reference:     "FEE-" + p.Reference,
			TransactionID: &txn.ID,
			AccountID:     p.AccountID,
			Type:          dbm.PaymentFee,
			Purpose:       dbm.PurposeCommission,
			Provider:      p.Provider,
			Amount:        p.Fee,
			TotalAmount:   p.Fee,
			Currency:      p.Currency,
			Status:        dbm.PaymentSuccess,
			ProcessedAt:   &now,
		}
		if _, _, err := r.Payments.FirstOrCreate(ctx, fee); err != nil {
			return err
		}

		if err := r.Audit.Append(ctx, auditEntry("transaction", txn.ID, string(lifecycle.ActionFundsReceived), string(from), string(txn.Status),
			lifecycle.ActorSystem, uuid.Nil, map[string]interface{}{"payment": p.Reference, "amount": p.TotalAmount.String()})); err != nil {
			return err
		}

		settleLog.Infow("funds received", "transaction", txn.Reference, "payment", p.Reference, "amount", p.TotalAmount)
		events = append(events, Event{
			Type:          "transaction.funded",
			TransactionID: txn.ID,
			Reference:     txn.Reference,
			Recipients:    participants(txn),
			Data:          map[string]string{"title": txn.Title, "amount": utils.FormatAmount(txn.TotalAmount, txn.Currency)},
		})
		return nil
	})
	if err != nil {
		return err
	}

	s.emit(ctx, events...)
	if refundRef != "" {
		if err := s.executePayout(ctx, refundRef); err != nil {
			settleLog.Warnw("late refund deferred to retry sweep", "reference", refundRef, "err", err)
		}
	}
	return nil
}

func (s *PaymentService) failCollection(ctx context.Context, ref, reason string) error {
	p, err := s.repos.Payments.FindByReference(ctx, ref)
	if err != nil {
		return utils.ErrDatabaseError
	}
	if p == nil || p.Status.IsTerminal() {
		return nil
	}
	now := s.now()
	p.Status = dbm.PaymentFailed
	p.FailureReason = reason
	p.Attempts++
	p.ProcessedAt = &now
	ok, err := s.repos.Payments.UpdateIfStatus(ctx, p, dbm.PaymentPending, dbm.PaymentProcessing)
	if err != nil {
		return utils.ErrDatabaseError
	}
	if !ok {
		return nil
	}
	settleLog.Warnw("collection refused", "reference", ref, "reason", reason)

	ev := Event{
		Type:       "payment.failed",
		Recipients: []uuid.UUID{p.AccountID},
		Data: map[string]string{
			"payment":  p.Reference,
			"amount":   utils.FormatAmount(p.TotalAmount, p.Currency),
			"reason":   reason,
			"attempts": strconv.Itoa(p.Attempts),
		},
	}
	if p.TransactionID != nil {
		if txn, err := s.repos.Transactions.FindByID(ctx, *p.TransactionID); err == nil && txn != nil {
			ev.TransactionID = txn.ID
			ev.Reference = txn.Reference
			ev.Data["title"] = txn.Title
		}
	}
	s.emit(ctx, ev)
	return nil
}

// webhookStaleAfter is how long a delivery may sit in RECEIVED before a
// redelivery is allowed to take it over.
const webhookStaleAfter = 5 * time.Minute

// HandleCallback reconciles a verified provider notification. Each provider
// event is processed once; replays of a handled event are acknowledged without
// side effects, while a redelivery of a failed one is reconciled again.
func (s *PaymentService) HandleCallback(ctx context.Context, cb gateway.Callback, body []byte) error {
	now := s.now()
	hook := &dbm.Webhook{
		Provider:  cb.Provider,
		WebhookID: cb.WebhookID,
		EventType: cb.EventType,
		Reference: cb.Reference,
		Payload:   datatypes.JSON(body),
		Status:    dbm.WebhookReceived,
	}
	inserted, err := s.repos.Webhooks.Insert(ctx, hook)
	if err != nil {
		return err
	}
	if !inserted {
		retry, err := s.repos.Webhooks.Reclaim(ctx, cb.Provider, cb.WebhookID, webhookStaleAfter)
		if err != nil {
			return err
		}
		if retry == nil {
			settleLog.Infow("webhook replay ignored", "provider", cb.Provider, "webhook_id", cb.WebhookID)
			return nil
		}
		settleLog.Infow("webhook redelivery reprocessed", "provider", cb.Provider, "webhook_id", cb.WebhookID)
		hook = retry
	}

	p, err := s.repos.Payments.FindByReference(ctx, cb.Reference)
	if err == nil && p == nil && cb.ExternalReference != "" {
		p, err = s.repos.Payments.FindByExternalReference(ctx, cb.Provider, cb.ExternalReference)
	}
	if err != nil {
		return err
	}
	if p == nil {
		return s.repos.Webhooks.MarkStatus(ctx, hook.ID, dbm.WebhookIgnored, "unknown payment reference", now)
	}

	result := gateway.Result{Status: cb.Status, ExternalReference: cb.ExternalReference, FailureReason: cb.FailureReason}
	err = s.reconcile(ctx, p, result)

	var gwErr *utils.GatewayError
	switch {
	case err == nil, errors.As(err, &gwErr):
		return s.repos.Webhooks.MarkStatus(ctx, hook.ID, dbm.WebhookProcessed, "", now)
	default:
		if merr := s.repos.Webhooks.MarkStatus(ctx, hook.ID, dbm.WebhookFailed, err.Error(), now); merr != nil {
			settleLog.Errorw("marking webhook failed", "webhook", hook.ID, "err", merr)
		}
		return fmt.Errorf("reconcile %s: %w", p.Reference, err)
	}
}

func (s *PaymentService) reconcile(ctx context.Context, p *dbm.Payment, res gateway.Result) error {
	if p.Status.IsTerminal() {
		return nil
	}
	if p.Type == dbm.PaymentCollection {
		switch res.Status {
		case gateway.StatusSuccess:
			return s.finalizeCollection(ctx, p.Reference, res)
		case gateway.StatusFailed:
			return s.failCollection(ctx, p.Reference, res.FailureReason)
		}
		return nil
	}
	if !p.IsOutgoing() {
		return nil
	}

	switch res.Status {
	case gateway.StatusSuccess:
		if err := s.finalizePayout(ctx, p.Reference, res); err != nil {
			return err
		}
		if p.Purpose == dbm.PurposeDisputeRefund && p.DisputeID != nil {
			d, err := s.repos.Disputes.FindByID(ctx, *p.DisputeID)
			if err != nil {
				return err
			}
			if d != nil && d.ReleasePaymentRef != "" {
				if err := s.executePayout(ctx, d.ReleasePaymentRef); err != nil {
					settleLog.Warnw("dispute release leg deferred to retry sweep", "reference", d.ReleasePaymentRef, "err", err)
				}
			}
		}
		return nil
	case gateway.StatusFailed:
		op := gateway.OpRelease
		if p.Type == dbm.PaymentRefund {
			op = gateway.OpRefund
		}
		return s.recordPayoutFailure(ctx, p.Reference, string(op), res.FailureReason, nil)
	}
	return nil
}

func (s *PaymentService) ListPayments(ctx context.Context, accountID uuid.UUID, page, pageSize int) (*response_models.PaymentList, error) {
	if page < 1 {
		return nil, utils.ErrInvalidPage
	}
	if pageSize < 1 || pageSize > 100 {
		return nil, utils.ErrInvalidPageSize
	}
	items, total, err := s.repos.Payments.ListForAccount(ctx, accountID, page, pageSize)
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	return &response_models.PaymentList{Items: items, Pagination: response_models.NewPagination(page, pageSize, total)}, nil
}

// GetPayment is visible to its account, the transaction participants and admins.
func (s *PaymentService) GetPayment(ctx context.Context, ref string, viewerID uuid.UUID, role dbm.Role) (*dbm.Payment, error) {
	p, err := s.repos.Payments.FindByReference(ctx, ref)
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	if p == nil {
		return nil, utils.ErrNotFound
	}
	if p.AccountID == viewerID || role == dbm.RoleAdmin {
		return p, nil
	}
	if p.TransactionID != nil {
		txn, err := s.repos.Transactions.FindByID(ctx, *p.TransactionID)
		if err != nil {
			return nil, utils.ErrDatabaseError
		}
		if txn != nil && txn.IsParticipant(viewerID) {
			return p, nil
		}
	}
	return nil, utils.ErrForbidden
}
