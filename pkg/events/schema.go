package events

import (
	"github.com/Ramsey-B/aster/pkg/models"
)

// EventType defines the type of event
type EventType string

const (
	// Draft lifecycle events
	EventTypeDraftCreated   EventType = "draft.created"
	EventTypeDraftEdited    EventType = "draft.edited"
	EventTypeDraftSubmitted EventType = "draft.submitted"
	EventTypeDraftClaimed   EventType = "draft.claimed"
	EventTypeDraftUnclaimed EventType = "draft.unclaimed"
	EventTypeDraftReviewed  EventType = "draft.reviewed"
	EventTypeDraftRejected  EventType = "draft.rejected"
	EventTypeDraftPublished EventType = "draft.published"
	EventTypeDraftTrashed   EventType = "draft.trashed"
	EventTypeDraftRestored  EventType = "draft.restored"
)

// eventTypeFor maps an approval action to its event type
func eventTypeFor(action models.ApprovalAction) EventType {
	switch action {
	case models.ApprovalCreate:
		return EventTypeDraftCreated
	case models.ApprovalEdit:
		return EventTypeDraftEdited
	case models.ApprovalSubmit:
		return EventTypeDraftSubmitted
	case models.ApprovalClaim:
		return EventTypeDraftClaimed
	case models.ApprovalUnclaim:
		return EventTypeDraftUnclaimed
	case models.ApprovalReview:
		return EventTypeDraftReviewed
	case models.ApprovalReject:
		return EventTypeDraftRejected
	case models.ApprovalPublish:
		return EventTypeDraftPublished
	case models.ApprovalTrash:
		return EventTypeDraftTrashed
	case models.ApprovalUntrash:
		return EventTypeDraftRestored
	}
	return EventType("draft." + string(action))
}
