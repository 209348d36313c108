// Package events handles event emission for draft lifecycle changes
package events

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/aster/pkg/tracing"

	"github.com/Ramsey-B/aster/pkg/kafka"
	"github.com/Ramsey-B/aster/pkg/models"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Emitter publishes draft lifecycle events. Emission is best effort: the
// transition has already committed by the time an event goes out, so a
// publish failure is logged and swallowed rather than surfaced.
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitDraftCreated emits a draft created event
func (e *Emitter) EmitDraftCreated(ctx context.Context, draft *models.Draft, actor models.Actor) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitDraftCreated")
	defer span.End()

	e.publish(ctx, &kafka.DraftEvent{
		EventType:  string(EventTypeDraftCreated),
		TenantID:   draft.TenantID,
		DraftID:    draft.ID,
		TargetType: draft.TargetType,
		TargetID:   draft.TargetID,
		Action:     string(draft.Action),
		Status:     string(draft.Status),
		Actor:      actor.ID,
	})
}

// EmitDraftUpdated emits a draft edited event
func (e *Emitter) EmitDraftUpdated(ctx context.Context, draft *models.Draft, actor models.Actor) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitDraftUpdated")
	defer span.End()

	e.publish(ctx, &kafka.DraftEvent{
		EventType:  string(EventTypeDraftEdited),
		TenantID:   draft.TenantID,
		DraftID:    draft.ID,
		TargetType: draft.TargetType,
		TargetID:   draft.TargetID,
		Action:     string(draft.Action),
		Status:     string(draft.Status),
		Actor:      actor.ID,
	})
}

// EmitDraftTransitioned emits the event for a committed workflow transition.
// Published drafts carry their payload so downstream consumers can project
// the final record without a read back.
func (e *Emitter) EmitDraftTransitioned(ctx context.Context, draft *models.Draft, action models.ApprovalAction, actor models.Actor) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitDraftTransitioned")
	defer span.End()

	event := &kafka.DraftEvent{
		EventType:  string(eventTypeFor(action)),
		TenantID:   draft.TenantID,
		DraftID:    draft.ID,
		TargetType: draft.TargetType,
		TargetID:   draft.TargetID,
		Action:     string(draft.Action),
		Status:     string(draft.Status),
		Actor:      actor.ID,
	}
	if action == models.ApprovalPublish {
		event.Payload = draft.Payload
	}

	e.publish(ctx, event)
}

func (e *Emitter) publish(ctx context.Context, event *kafka.DraftEvent) {
	if err := e.producer.PublishDraftEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type": event.EventType,
			"draft_id":   event.DraftID,
		}).Error("Failed to emit draft event")
	}
}
