package graph

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/aster/pkg/lineage"
	"github.com/Ramsey-B/aster/pkg/models"
)

// Subscriber keeps the graph projection current by listening to draft
// lifecycle notifications. Projection failures are logged and swallowed: the
// relational store is authoritative and the projection can be rebuilt.
type Subscriber struct {
	projector *Projector
	schema    lineage.ReferenceFieldSource
	logger    ectologger.Logger
}

// NewSubscriber creates a lifecycle subscriber over the projector
func NewSubscriber(projector *Projector, schema lineage.ReferenceFieldSource, logger ectologger.Logger) *Subscriber {
	return &Subscriber{
		projector: projector,
		schema:    schema,
		logger:    logger,
	}
}

// EmitDraftCreated projects a newly opened draft
func (s *Subscriber) EmitDraftCreated(ctx context.Context, draft *models.Draft, actor models.Actor) {
	s.sync(ctx, draft)
}

// EmitDraftUpdated re-projects an edited draft; payload edits can add or drop
// dependency edges
func (s *Subscriber) EmitDraftUpdated(ctx context.Context, draft *models.Draft, actor models.Actor) {
	s.sync(ctx, draft)
}

// EmitDraftTransitioned refreshes the projected status
func (s *Subscriber) EmitDraftTransitioned(ctx context.Context, draft *models.Draft, action models.ApprovalAction, actor models.Actor) {
	if err := s.projector.UpdateStatus(ctx, draft.TenantID, draft.ID, draft.Status); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("draft_id", draft.ID).Warn("Draft status projection failed")
	}
}

func (s *Subscriber) sync(ctx context.Context, draft *models.Draft) {
	refFields, err := s.schema.GetReferenceFields(ctx, draft.TenantID, draft.TargetType)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("draft_id", draft.ID).Warn("Draft projection failed to resolve reference fields")
		refFields = nil
	}

	dependsOn, err := lineage.ReferenceIDs(draft, refFields)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("draft_id", draft.ID).Warn("Draft projection failed to scan payload")
		return
	}

	if err := s.projector.SyncDraft(ctx, draft, dependsOn); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("draft_id", draft.ID).Warn("Draft projection failed")
	}
}
