package services

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"gorm.io/gorm"

	"kimi/internal/lifecycle"
	dbm "kimi/internal/models/db_models"
	"kimi/internal/models/request_models"
	"kimi/internal/models/response_models"
	"kimi/internal/repositories"
	"kimi/pkg/utils"
)

var escrowLog = logging.Logger("escrow")

type EscrowServiceInterface interface {
	Create(ctx context.Context, buyerID uuid.UUID, req request_models.CreateTransactionRequest) (*response_models.TransactionDetail, error)
	Get(ctx context.Context, id, viewerID uuid.UUID, role dbm.Role) (*response_models.TransactionDetail, error)
	List(ctx context.Context, viewerID uuid.UUID, q request_models.ListTransactionsQuery) (*response_models.TransactionList, error)
	Stats(ctx context.Context, userID uuid.UUID) (*response_models.UserStatistics, error)
	PerformAction(ctx context.Context, id, viewerID uuid.UUID, role dbm.Role, req request_models.TransactionActionRequest) (*response_models.TransactionDetail, error)
	PostMessage(ctx context.Context, id, senderID uuid.UUID, role dbm.Role, body string) (*dbm.TransactionMessage, error)
	Messages(ctx context.Context, id, viewerID uuid.UUID, role dbm.Role) ([]dbm.TransactionMessage, error)
	Rate(ctx context.Context, id, raterID uuid.UUID, req request_models.RateTransactionRequest) (*dbm.TransactionRating, error)
	EscrowAccount(ctx context.Context, id, viewerID uuid.UUID, role dbm.Role) (*response_models.EscrowAccountResponse, error)
	History(ctx context.Context, id, viewerID uuid.UUID, role dbm.Role) ([]dbm.AuditLog, error)
}

type EscrowService struct {
	db       *gorm.DB
	repos    repositories.Set
	machine  *lifecycle.Machine
	payments *PaymentService
	notifier Notifier
	now      utils.Clock
}

func NewEscrowService(db *gorm.DB, repos repositories.Set, machine *lifecycle.Machine, payments *PaymentService, notifier Notifier) *EscrowService {
	return &EscrowService{
		db:       db,
		repos:    repos,
		machine:  machine,
		payments: payments,
		notifier: notifier,
		now:      utils.SystemClock,
	}
}

func (s *EscrowService) emit(ctx context.Context, events ...Event) {
	for _, ev := range events {
		if ev.OccurredAt.IsZero() {
			ev.OccurredAt = s.now()
		}
		s.notifier.Notify(ctx, ev)
	}
}

func (s *EscrowService) Create(ctx context.Context, buyerID uuid.UUID, req request_models.CreateTransactionRequest) (*response_models.TransactionDetail, error) {
	buyer, err := s.repos.Accounts.FindById(ctx, buyerID)
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	if buyer == nil {
		return nil, utils.ErrUnauthorized
	}
	if !buyer.CanCreateEscrow() {
		return nil, utils.ErrKYCRequired
	}
	seller, err := s.repos.Accounts.FindById(ctx, req.SellerID)
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	if seller == nil {
		return nil, utils.NewValidationError("seller_id", "seller account not found")
	}
	if seller.Role != dbm.RoleSeller && seller.Role != dbm.RoleBuyer {
		return nil, utils.NewValidationError("seller_id", "account cannot sell")
	}

	in := lifecycle.CreateInput{
		BuyerID:                     buyerID,
		SellerID:                    req.SellerID,
		Title:                       req.Title,
		Description:                 req.Description,
		Category:                    req.Category,
		Amount:                      req.Amount,
		PaymentDeadline:             req.PaymentDeadline,
		DeliveryDeadline:            req.DeliveryDeadline,
		AutoReleaseEnabled:          req.AutoReleaseEnabled,
		AutoReleaseDays:             req.AutoReleaseDays,
		RequireDeliveryConfirmation: req.RequireDeliveryConfirmation,
		DeliveryAddress:             req.DeliveryAddress,
		DeliveryInstructions:        req.DeliveryInstructions,
		Notes:                       req.Notes,
	}
	for _, ms := range req.Milestones {
		in.Milestones = append(in.Milestones, lifecycle.MilestoneInput{
			Title:       ms.Title,
			Description: ms.Description,
			Percentage:  ms.Percentage,
			DueDate:     ms.DueDate,
		})
	}

	now := s.now()
	txn, err := s.machine.NewTransaction(in, now)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := s.repos.WithTx(tx)
		if err := r.Transactions.Create(ctx, txn); err != nil {
			return err
		}
		return r.Audit.Append(ctx, auditEntry("transaction", txn.ID, "create", "", string(txn.Status),
			lifecycle.ActorBuyer, buyerID, map[string]interface{}{"amount": txn.Amount.String(), "milestones": len(txn.Milestones)}))
	})
	if err != nil {
		escrowLog.Errorw("creating transaction", "buyer", buyerID, "err", err)
		return nil, utils.ErrDatabaseError
	}

	escrowLog.Infow("transaction created", "reference", txn.Reference, "amount", txn.Amount, "total", txn.TotalAmount)
	s.emit(ctx, Event{
		Type:          "transaction.created",
		TransactionID: txn.ID,
		Reference:     txn.Reference,
		Recipients:    participants(txn),
		Data: map[string]string{
			"title":            txn.Title,
			"amount":           utils.FormatAmount(txn.TotalAmount, txn.Currency),
			"payment_deadline": utils.FormatDisplayLocal(txn.PaymentDeadline),
		},
	})
	return s.detail(txn, buyerID, dbm.RoleBuyer), nil
}

// load returns the transaction if viewer may see it: the participants,
// admins and the arbitre assigned to its dispute.
func (s *EscrowService) load(ctx context.Context, id, viewerID uuid.UUID, role dbm.Role) (*dbm.EscrowTransaction, error) {
	txn, err := s.repos.Transactions.FindByID(ctx, id)
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	if txn == nil {
		return nil, utils.ErrNotFound
	}
	if txn.IsParticipant(viewerID) || role == dbm.RoleAdmin {
		return txn, nil
	}
	if role == dbm.RoleArbitre {
		d, err := s.repos.Disputes.FindByTransaction(ctx, txn.ID)
		if err != nil {
			return nil, utils.ErrDatabaseError
		}
		if d != nil && d.ArbitreID != nil && *d.ArbitreID == viewerID {
			return txn, nil
		}
	}
	return nil, utils.ErrForbidden
}

func (s *EscrowService) detail(txn *dbm.EscrowTransaction, viewerID uuid.UUID, role dbm.Role) *response_models.TransactionDetail {
	out := &response_models.TransactionDetail{
		EscrowTransaction: *txn,
		AllowedActions:    []string{},
		FormattedTotal:    utils.FormatAmount(txn.TotalAmount, txn.Currency),
	}
	if actor, ok := lifecycle.ActorFor(txn, viewerID, role); ok {
		out.MyRole = string(actor)
		for _, a := range s.machine.Allowed(txn, actor, s.now()) {
			out.AllowedActions = append(out.AllowedActions, string(a))
		}
	}
	return out
}

func (s *EscrowService) Get(ctx context.Context, id, viewerID uuid.UUID, role dbm.Role) (*response_models.TransactionDetail, error) {
	txn, err := s.load(ctx, id, viewerID, role)
	if err != nil {
		return nil, err
	}
	return s.detail(txn, viewerID, role), nil
}

func (s *EscrowService) List(ctx context.Context, viewerID uuid.UUID, q request_models.ListTransactionsQuery) (*response_models.TransactionList, error) {
	if q.Page < 1 {
		return nil, utils.ErrInvalidPage
	}
	if q.PageSize < 1 || q.PageSize > 100 {
		return nil, utils.ErrInvalidPageSize
	}
	items, total, err := s.repos.Transactions.List(ctx, repositories.TransactionFilter{
		UserID:   viewerID,
		Side:     q.Role,
		Status:   dbm.TransactionStatus(strings.ToUpper(q.Status)),
		Page:     q.Page,
		PageSize: q.PageSize,
	})
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	return &response_models.TransactionList{Items: items, Pagination: response_models.NewPagination(q.Page, q.PageSize, total)}, nil
}

func (s *EscrowService) Stats(ctx context.Context, userID uuid.UUID) (*response_models.UserStatistics, error) {
	st, err := s.repos.Transactions.Stats(ctx, userID)
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	avg, count, err := s.repos.Conversations.AverageRating(ctx, userID)
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	return &response_models.UserStatistics{
		TotalPurchases:       st.Purchases,
		TotalSales:           st.Sales,
		PurchaseSuccessRate:  rate(st.CompletedPurchases, st.Purchases),
		SalesSuccessRate:     rate(st.CompletedSales, st.Sales),
		PurchaseVolume:       st.PurchaseVolume,
		SalesVolume:          st.SalesVolume,
		DisputedTransactions: st.Disputed,
		AverageRating:        math.Round(avg*100) / 100,
		RatingsReceived:      count,
	}, nil
}

func rate(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*10000) / 100
}

// PerformAction runs one participant action. Confirming delivery settles
// through the payment gateway; a seller cancelling a funded transaction
// refunds the buyer.
func (s *EscrowService) PerformAction(ctx context.Context, id, viewerID uuid.UUID, role dbm.Role, req request_models.TransactionActionRequest) (*response_models.TransactionDetail, error) {
	txn, err := s.load(ctx, id, viewerID, role)
	if err != nil {
		return nil, err
	}
	actor, ok := lifecycle.ActorFor(txn, viewerID, role)
	if !ok {
		return nil, utils.ErrForbidden
	}

	switch req.Action {
	case string(lifecycle.ActionConfirmDelivery):
		err = s.payments.ReleaseFunds(ctx, id, lifecycle.ActionConfirmDelivery, actor, viewerID)
	case string(lifecycle.ActionCancel):
		if txn.Status == dbm.TxnFundsHeld && actor == lifecycle.ActorSeller {
			err = s.payments.CancelWithRefund(ctx, id, viewerID, req.Reason)
		} else {
			err = s.transition(ctx, id, lifecycle.ActionCancel, actor, viewerID, req.Reason)
		}
	case string(lifecycle.ActionMarkDelivered):
		err = s.transition(ctx, id, lifecycle.ActionMarkDelivered, actor, viewerID, req.Reason)
	case "request_release":
		err = s.requestRelease(ctx, txn, actor, viewerID, req.Reason)
	default:
		return nil, utils.NewValidationError("action", "unknown action %q", req.Action)
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id, viewerID, role)
}

var transitionEvents = map[lifecycle.Action]string{
	lifecycle.ActionCancel:        "transaction.cancelled",
	lifecycle.ActionMarkDelivered: "transaction.delivered",
}

// transition applies an action that moves no money.
func (s *EscrowService) transition(ctx context.Context, id uuid.UUID, action lifecycle.Action, actor lifecycle.Actor, actorID uuid.UUID, reason string) error {
	now := s.now()
	var events []Event

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := s.repos.WithTx(tx)
		txn, err := r.Transactions.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if txn == nil {
			return utils.ErrNotFound
		}
		if txn.SettlementRef != "" {
			return utils.ErrSettlementPending
		}
		from, err := s.machine.Apply(txn, action, actor, now)
		if err != nil {
			return err
		}
		if action == lifecycle.ActionCancel {
			txn.CancelReason = reason
		}
		ok, err := r.Transactions.SaveTransition(ctx, txn, from)
		if err != nil {
			return err
		}
		if !ok {
			return utils.ErrConcurrencyConflict
		}
		if err := r.Audit.Append(ctx, auditEntry("transaction", txn.ID, string(action), string(from), string(txn.Status),
			actor, actorID, map[string]interface{}{"reason": reason})); err != nil {
			return err
		}

		data := map[string]string{"title": txn.Title, "reason": reason}
		if txn.AutoReleaseDate != nil {
			data["auto_release_date"] = utils.FormatDisplayLocal(*txn.AutoReleaseDate)
		}
		if txn.DisputeDeadline != nil {
			data["dispute_deadline"] = utils.FormatDisplayLocal(*txn.DisputeDeadline)
		}
		events = append(events, Event{
			Type:          transitionEvents[action],
			TransactionID: txn.ID,
			Reference:     txn.Reference,
			Recipients:    participants(txn),
			Data:          data,
		})
		escrowLog.Infow("transaction transition", "reference", txn.Reference, "action", action, "from", from, "to", txn.Status)
		return nil
	})
	if err != nil {
		return err
	}
	s.emit(ctx, events...)
	return nil
}

// requestRelease lets the seller nudge the buyer once the goods are delivered.
func (s *EscrowService) requestRelease(ctx context.Context, txn *dbm.EscrowTransaction, actor lifecycle.Actor, sellerID uuid.UUID, note string) error {
	if actor != lifecycle.ActorSeller {
		return &utils.StateTransitionError{Resource: "transaction", Action: "request_release", From: string(txn.Status), Reason: utils.ReasonWrongRole}
	}
	if txn.Status != dbm.TxnDelivered {
		return &utils.StateTransitionError{Resource: "transaction", Action: "request_release", From: string(txn.Status), Reason: utils.ReasonWrongState}
	}
	body := "The seller asked for the funds to be released."
	if note = strings.TrimSpace(note); note != "" {
		body += " " + note
	}
	if err := s.repos.Conversations.AddMessage(ctx, &dbm.TransactionMessage{TransactionID: txn.ID, Body: body, IsSystem: true}); err != nil {
		return utils.ErrDatabaseError
	}
	s.emit(ctx, Event{
		Type:          "release.requested",
		TransactionID: txn.ID,
		Reference:     txn.Reference,
		Recipients:    []uuid.UUID{txn.BuyerID},
		Data:          map[string]string{"title": txn.Title, "note": note},
	})
	return nil
}

func (s *EscrowService) PostMessage(ctx context.Context, id, senderID uuid.UUID, role dbm.Role, body string) (*dbm.TransactionMessage, error) {
	txn, err := s.load(ctx, id, senderID, role)
	if err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, utils.NewValidationError("body", "message is empty")
	}
	msg := &dbm.TransactionMessage{TransactionID: txn.ID, SenderID: &senderID, Body: body}
	if err := s.repos.Conversations.AddMessage(ctx, msg); err != nil {
		return nil, utils.ErrDatabaseError
	}
	var recipients []uuid.UUID
	for _, p := range participants(txn) {
		if p != senderID {
			recipients = append(recipients, p)
		}
	}
	s.emit(ctx, Event{
		Type:          "message.posted",
		TransactionID: txn.ID,
		Reference:     txn.Reference,
		Recipients:    recipients,
		Data:          map[string]string{"title": txn.Title, "preview": preview(body, 140)},
	})
	return msg, nil
}

func preview(body string, limit int) string {
	r := []rune(body)
	if len(r) <= limit {
		return body
	}
	return string(r[:limit]) + "..."
}

func (s *EscrowService) Messages(ctx context.Context, id, viewerID uuid.UUID, role dbm.Role) ([]dbm.TransactionMessage, error) {
	if _, err := s.load(ctx, id, viewerID, role); err != nil {
		return nil, err
	}
	msgs, err := s.repos.Conversations.ListMessages(ctx, id)
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	return msgs, nil
}

// Rate records one rating per participant once the seller has been paid.
func (s *EscrowService) Rate(ctx context.Context, id, raterID uuid.UUID, req request_models.RateTransactionRequest) (*dbm.TransactionRating, error) {
	txn, err := s.repos.Transactions.FindByID(ctx, id)
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	if txn == nil {
		return nil, utils.ErrNotFound
	}
	if !txn.IsParticipant(raterID) {
		return nil, utils.ErrForbidden
	}
	if txn.Status != dbm.TxnReleased {
		return nil, &utils.StateTransitionError{Resource: "transaction", Action: "rate", From: string(txn.Status), Reason: utils.ReasonWrongState}
	}
	if req.Rating < 1 || req.Rating > 5 {
		return nil, utils.NewValidationError("rating", "must be between 1 and 5")
	}

	rating := &dbm.TransactionRating{
		TransactionID: txn.ID,
		RaterID:       raterID,
		RatedID:       txn.CounterpartyOf(raterID),
		Rating:        req.Rating,
		Communication: req.Communication,
		Reliability:   req.Reliability,
		Quality:       req.Quality,
		Comment:       req.Comment,
	}
	if err := s.repos.Conversations.AddRating(ctx, rating); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, utils.NewValidationError("rating", "transaction already rated")
		}
		return nil, utils.ErrDatabaseError
	}
	return rating, nil
}

func (s *EscrowService) EscrowAccount(ctx context.Context, id, viewerID uuid.UUID, role dbm.Role) (*response_models.EscrowAccountResponse, error) {
	if _, err := s.load(ctx, id, viewerID, role); err != nil {
		return nil, err
	}
	acc, err := s.repos.EscrowAccounts.FindByTransaction(ctx, id)
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	if acc == nil {
		return nil, utils.ErrNotFound
	}
	return &response_models.EscrowAccountResponse{EscrowAccount: *acc, AvailableBalance: acc.AvailableBalance()}, nil
}

func (s *EscrowService) History(ctx context.Context, id, viewerID uuid.UUID, role dbm.Role) ([]dbm.AuditLog, error) {
	if _, err := s.load(ctx, id, viewerID, role); err != nil {
		return nil, err
	}
	logs, err := s.repos.Audit.ListForResource(ctx, "transaction", id)
	if err != nil {
		return nil, utils.ErrDatabaseError
	}
	return logs, nil
}
