package lifecycle

import (
	"time"

	dbm "kimi/internal/models/db_models"
	"kimi/pkg/utils"
)

type MilestoneAction string

const (
	MilestoneStart    MilestoneAction = "start"
	MilestoneComplete MilestoneAction = "complete"
	MilestoneApprove  MilestoneAction = "approve"
	MilestoneReject   MilestoneAction = "reject"
)

type milestoneRule struct {
	from   dbm.MilestoneStatus
	to     dbm.MilestoneStatus
	actors []Actor
}

var milestoneTransitions = map[MilestoneAction]milestoneRule{
	MilestoneStart:    {from: dbm.MilestonePending, to: dbm.MilestoneInProgress, actors: []Actor{ActorSeller}},
	MilestoneComplete: {from: dbm.MilestoneInProgress, to: dbm.MilestoneCompleted, actors: []Actor{ActorSeller}},
	MilestoneApprove:  {from: dbm.MilestoneCompleted, to: dbm.MilestoneApproved, actors: []Actor{ActorBuyer, ActorArbitre}},
	MilestoneReject:   {from: dbm.MilestoneCompleted, to: dbm.MilestoneRejected, actors: []Actor{ActorBuyer, ActorArbitre}},
}

// ApplyMilestone moves ms along PENDING→IN_PROGRESS→COMPLETED→APPROVED|REJECTED.
// Work on milestones only happens while the parent holds funds; during a
// dispute only the arbitre may still decide on completed milestones.
func ApplyMilestone(ms *dbm.Milestone, parent *dbm.EscrowTransaction, action MilestoneAction, actor Actor, now time.Time) error {
	r, ok := milestoneTransitions[action]
	if !ok {
		return utils.NewValidationError("action", "unknown milestone action %q", action)
	}
	switch parent.Status {
	case dbm.TxnFundsHeld, dbm.TxnDelivered:
	case dbm.TxnDispute:
		if actor != ActorArbitre {
			return milestoneError(ms, action, utils.ReasonWrongState)
		}
	default:
		return milestoneError(ms, action, utils.ReasonWrongState)
	}
	if ms.Status != r.from {
		return milestoneError(ms, action, utils.ReasonWrongState)
	}
	if !actorAllowed(r.actors, actor) {
		return milestoneError(ms, action, utils.ReasonWrongRole)
	}

	switch action {
	case MilestoneStart:
		ms.StartedAt = &now
	case MilestoneComplete:
		ms.CompletedAt = &now
	case MilestoneApprove:
		ms.ApprovedAt = &now
	case MilestoneReject:
		ms.RejectedAt = &now
	}
	ms.Status = r.to
	return nil
}

func milestoneError(ms *dbm.Milestone, action MilestoneAction, reason utils.TransitionReason) error {
	return &utils.StateTransitionError{
		Resource: "milestone",
		Action:   string(action),
		From:     string(ms.Status),
		Reason:   reason,
	}
}
