package workflow

import (
	"fmt"

	"github.com/Ramsey-B/aster/pkg/models"
)

// Transition names a workflow operation
type Transition string

const (
	TransitionSubmit  Transition = "submit"
	TransitionClaim   Transition = "claim"
	TransitionReview  Transition = "review"
	TransitionReject  Transition = "reject"
	TransitionUnclaim Transition = "unclaim"
	TransitionPublish Transition = "publish"
	TransitionTrash   Transition = "trash"
	TransitionUntrash Transition = "untrash"
)

// rule is one row of the permission table: which statuses a transition may
// start from, whether it is gated to admins, and the audit action it records.
// Transitions whose target depends on the current status (claim, unclaim,
// untrash) resolve it in targetStatus.
type rule struct {
	action    models.ApprovalAction
	adminOnly bool
	from      []models.DraftStatus
}

var rules = map[Transition]rule{
	TransitionSubmit: {
		action: models.ApprovalSubmit,
		from:   []models.DraftStatus{models.StatusCreated, models.StatusInProgress},
	},
	TransitionClaim: {
		action: models.ApprovalClaim,
		from:   []models.DraftStatus{models.StatusAwaitingReview, models.StatusAwaitingAdminReview},
	},
	TransitionReview: {
		action: models.ApprovalReview,
		from:   []models.DraftStatus{models.StatusInReview},
	},
	TransitionReject: {
		action: models.ApprovalReject,
		from:   []models.DraftStatus{models.StatusInReview, models.StatusInAdminReview},
	},
	TransitionUnclaim: {
		action:    models.ApprovalUnclaim,
		adminOnly: true,
		from:      []models.DraftStatus{models.StatusInReview, models.StatusInAdminReview},
	},
	TransitionPublish: {
		action:    models.ApprovalPublish,
		adminOnly: true,
		from:      models.WorkingStatuses,
	},
	TransitionTrash: {
		action:    models.ApprovalTrash,
		adminOnly: true,
		from:      models.WorkingStatuses,
	},
	TransitionUntrash: {
		action:    models.ApprovalUntrash,
		adminOnly: true,
		from:      []models.DraftStatus{models.StatusInTrash},
	},
}

// checkGuards evaluates the permission table for a transition attempt.
// A nil return means the transition may proceed; otherwise the returned
// result carries the denial reason and the unchanged status.
func checkGuards(t Transition, r rule, draft *models.Draft, actor models.Actor) *models.TransitionResult {
	denied := func(msg string) *models.TransitionResult {
		return &models.TransitionResult{Success: false, Status: draft.Status, Message: msg}
	}

	if r.adminOnly && !actor.IsAdmin() {
		return denied(fmt.Sprintf("%s failed because initiating user was not admin", t))
	}

	if t == TransitionTrash && draft.Status == models.StatusPublished {
		return denied("trash failed because the draft has been published")
	}

	allowed := false
	for _, s := range r.from {
		if draft.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return denied(fmt.Sprintf("%s failed because status was not one of %v", t, r.from))
	}

	// Claiming the admin review queue is reserved for admins; the first
	// review queue is open to any authenticated reviewer.
	if t == TransitionClaim && draft.Status == models.StatusAwaitingAdminReview && !actor.IsAdmin() {
		return denied("claim failed because initiating user was not admin")
	}

	return nil
}

// targetStatus resolves where a permitted transition lands from the current
// status.
func targetStatus(t Transition, draft *models.Draft) models.DraftStatus {
	switch t {
	case TransitionSubmit:
		return models.StatusAwaitingReview
	case TransitionClaim:
		if draft.Status == models.StatusAwaitingAdminReview {
			return models.StatusInAdminReview
		}
		return models.StatusInReview
	case TransitionReview:
		return models.StatusAwaitingAdminReview
	case TransitionReject:
		return models.StatusInProgress
	case TransitionUnclaim:
		if draft.Status == models.StatusInAdminReview {
			return models.StatusAwaitingAdminReview
		}
		return models.StatusAwaitingReview
	case TransitionPublish:
		return models.StatusPublished
	case TransitionTrash:
		return models.StatusInTrash
	case TransitionUntrash:
		if draft.PreviousStatus != nil {
			return *draft.PreviousStatus
		}
		return models.StatusCreated
	}
	return draft.Status
}
