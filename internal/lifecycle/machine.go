// Package lifecycle holds the escrow state machines. It does no I/O: callers
// load a row, apply an action here, then persist the result.
package lifecycle

import (
	"time"

	"github.com/google/uuid"

	"kimi/internal/config"
	dbm "kimi/internal/models/db_models"
	"kimi/pkg/utils"
)

// Actor is the part someone plays on a given transaction.
type Actor string

const (
	ActorBuyer   Actor = "buyer"
	ActorSeller  Actor = "seller"
	ActorSystem  Actor = "system"
	ActorArbitre Actor = "arbitre"
	ActorAdmin   Actor = "admin"
)

type Action string

const (
	ActionFundsReceived   Action = "funds_received"
	ActionMarkDelivered   Action = "mark_delivered"
	ActionConfirmDelivery Action = "confirm_delivery"
	ActionAutoRelease     Action = "auto_release"
	ActionCancel          Action = "cancel"
	ActionOpenDispute     Action = "open_dispute"
	ActionResolveRefund   Action = "resolve_refund"
	ActionResolveRelease  Action = "resolve_release"
)

type guardFunc func(m *Machine, t *dbm.EscrowTransaction, now time.Time) utils.TransitionReason
type applyFunc func(m *Machine, t *dbm.EscrowTransaction, now time.Time)

type rule struct {
	to     dbm.TransactionStatus
	actors []Actor
	guard  guardFunc
	apply  applyFunc
}

// transitions is keyed by action, then by the status the action starts from.
var transitions = map[Action]map[dbm.TransactionStatus]rule{
	ActionFundsReceived: {
		dbm.TxnPendingFunds: {to: dbm.TxnFundsHeld, actors: []Actor{ActorSystem}, apply: setFundsReceived},
	},
	ActionMarkDelivered: {
		dbm.TxnFundsHeld: {to: dbm.TxnDelivered, actors: []Actor{ActorSeller}, guard: beforeDeliveryDeadline, apply: setDelivered},
	},
	ActionConfirmDelivery: {
		dbm.TxnDelivered: {to: dbm.TxnReleased, actors: []Actor{ActorBuyer}, apply: setReleased},
	},
	ActionAutoRelease: {
		dbm.TxnDelivered: {to: dbm.TxnReleased, actors: []Actor{ActorSystem}, guard: autoReleaseDue, apply: setReleased},
	},
	ActionCancel: {
		dbm.TxnPendingFunds: {to: dbm.TxnCancelled, actors: []Actor{ActorBuyer, ActorSeller}, apply: setCancelled},
		dbm.TxnFundsHeld:    {to: dbm.TxnCancelled, actors: []Actor{ActorSeller}, apply: setCancelled},
	},
	ActionOpenDispute: {
		dbm.TxnFundsHeld: {to: dbm.TxnDispute, actors: []Actor{ActorBuyer, ActorSeller}, guard: beforeDisputeDeadline},
		dbm.TxnDelivered: {to: dbm.TxnDispute, actors: []Actor{ActorBuyer, ActorSeller}, guard: beforeDisputeDeadline},
	},
	ActionResolveRefund: {
		dbm.TxnDispute: {to: dbm.TxnRefunded, actors: []Actor{ActorArbitre, ActorAdmin}, apply: setRefunded},
	},
	ActionResolveRelease: {
		dbm.TxnDispute: {to: dbm.TxnReleased, actors: []Actor{ActorArbitre, ActorAdmin}, apply: setReleased},
	},
}

type Machine struct {
	policy config.EscrowPolicy
}

func NewMachine(policy config.EscrowPolicy) *Machine {
	return &Machine{policy: policy}
}

func (m *Machine) Policy() config.EscrowPolicy { return m.policy }

// Check evaluates the guards for action without touching t. It returns the
// target status when the transition is allowed.
func (m *Machine) Check(t *dbm.EscrowTransaction, action Action, actor Actor, now time.Time) (dbm.TransactionStatus, error) {
	byState, ok := transitions[action]
	if !ok {
		return "", utils.NewValidationError("action", "unknown action %q", action)
	}
	r, ok := byState[t.Status]
	if !ok {
		return "", transitionError(t, action, utils.ReasonWrongState)
	}
	if !actorAllowed(r.actors, actor) {
		return "", transitionError(t, action, utils.ReasonWrongRole)
	}
	if r.guard != nil {
		if reason := r.guard(m, t, now); reason != "" {
			return "", transitionError(t, action, reason)
		}
	}
	return r.to, nil
}

// Apply checks the guards and, when they pass, moves t to the target status
// and fills the derived fields. It returns the status t left.
func (m *Machine) Apply(t *dbm.EscrowTransaction, action Action, actor Actor, now time.Time) (dbm.TransactionStatus, error) {
	to, err := m.Check(t, action, actor, now)
	if err != nil {
		return "", err
	}
	from := t.Status
	if r := transitions[action][from]; r.apply != nil {
		r.apply(m, t, now)
	}
	t.Status = to
	t.Version++
	return from, nil
}

// Allowed lists the actions actor could take on t right now.
func (m *Machine) Allowed(t *dbm.EscrowTransaction, actor Actor, now time.Time) []Action {
	var out []Action
	for _, a := range []Action{ActionMarkDelivered, ActionConfirmDelivery, ActionCancel, ActionOpenDispute} {
		if _, err := m.Check(t, a, actor, now); err == nil {
			out = append(out, a)
		}
	}
	return out
}

// ActorFor resolves the part accountID plays on t. Participants win over
// their platform role; anyone else gets arbitre or admin only through it.
func ActorFor(t *dbm.EscrowTransaction, accountID uuid.UUID, role dbm.Role) (Actor, bool) {
	switch {
	case t.BuyerID == accountID:
		return ActorBuyer, true
	case t.SellerID == accountID:
		return ActorSeller, true
	case role == dbm.RoleAdmin:
		return ActorAdmin, true
	case role == dbm.RoleArbitre:
		return ActorArbitre, true
	}
	return "", false
}

func actorAllowed(allowed []Actor, actor Actor) bool {
	for _, a := range allowed {
		if a == actor {
			return true
		}
	}
	return false
}

func transitionError(t *dbm.EscrowTransaction, action Action, reason utils.TransitionReason) error {
	return &utils.StateTransitionError{
		Resource: "transaction",
		Action:   string(action),
		From:     string(t.Status),
		Reason:   reason,
	}
}

func beforeDeliveryDeadline(_ *Machine, t *dbm.EscrowTransaction, now time.Time) utils.TransitionReason {
	if now.After(t.DeliveryDeadline) {
		return utils.ReasonDeadlinePassed
	}
	return ""
}

func beforeDisputeDeadline(_ *Machine, t *dbm.EscrowTransaction, now time.Time) utils.TransitionReason {
	if t.DisputeDeadline != nil && now.After(*t.DisputeDeadline) {
		return utils.ReasonDeadlinePassed
	}
	return ""
}

func autoReleaseDue(_ *Machine, t *dbm.EscrowTransaction, now time.Time) utils.TransitionReason {
	if !t.AutoReleaseEnabled || t.AutoReleaseDate == nil || now.Before(*t.AutoReleaseDate) {
		return utils.ReasonNotDue
	}
	return ""
}

func setFundsReceived(_ *Machine, t *dbm.EscrowTransaction, now time.Time) {
	t.FundsReceivedAt = &now
}

// setDelivered opens the dispute window and, when auto-release is enabled,
// schedules it. With confirmation required the buyer gets auto_release_days
// to react, otherwise funds are due as soon as the dispute window closes.
func setDelivered(m *Machine, t *dbm.EscrowTransaction, now time.Time) {
	t.DeliveredAt = &now
	disputeDeadline := now.Add(utils.Days(m.policy.DisputeWindowDays))
	t.DisputeDeadline = &disputeDeadline

	if !t.AutoReleaseEnabled {
		return
	}
	release := now.Add(utils.Days(t.AutoReleaseDays))
	if !t.RequireDeliveryConfirmation {
		release = disputeDeadline
	}
	t.AutoReleaseDate = &release
}

func setReleased(_ *Machine, t *dbm.EscrowTransaction, now time.Time) {
	t.ReleasedAt = &now
}

func setRefunded(_ *Machine, t *dbm.EscrowTransaction, now time.Time) {
	t.RefundedAt = &now
}

func setCancelled(_ *Machine, t *dbm.EscrowTransaction, now time.Time) {
	t.CancelledAt = &now
}
