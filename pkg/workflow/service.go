package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/tracing"
)

// DraftStore is the draft persistence surface the engine drives
type DraftStore interface {
	Get(ctx context.Context, tenantID, id string) (*models.Draft, error)
	UpdateStatus(ctx context.Context, tenantID, id string, upd models.DraftStatusUpdate) (*models.Draft, error)
}

// AuditLog records every successful transition
type AuditLog interface {
	Append(ctx context.Context, entry models.ApprovalLogEntry) error
}

// Materializer applies an approved draft's payload onto the canonical store
type Materializer interface {
	Materialize(ctx context.Context, draft *models.Draft) (*models.CanonicalRecord, error)
}

// TxBeginner opens (or joins) a context-scoped transaction
type TxBeginner interface {
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error)
}

// EventEmitter publishes lifecycle events after a transition commits.
// Emission is best effort and never fails the transition.
type EventEmitter interface {
	EmitDraftTransitioned(ctx context.Context, draft *models.Draft, action models.ApprovalAction, actor models.Actor)
}

// Service is the workflow state machine. Every transition is validated
// against the permission table, applied with a compare-and-swap on the
// draft's status, and logged to the approval log in the same transaction.
// Guard failures come back as TransitionResult values, not errors.
type Service struct {
	db           TxBeginner
	drafts       DraftStore
	audit        AuditLog
	materializer Materializer
	events       EventEmitter
	logger       ectologger.Logger
}

// NewService creates a new workflow service. events may be nil.
func NewService(db TxBeginner, drafts DraftStore, audit AuditLog, materializer Materializer, events EventEmitter, logger ectologger.Logger) *Service {
	return &Service{
		db:           db,
		drafts:       drafts,
		audit:        audit,
		materializer: materializer,
		events:       events,
		logger:       logger,
	}
}

// Submit moves a draft into the review queue
func (s *Service) Submit(ctx context.Context, tenantID, draftID string, actor models.Actor) (*models.TransitionResult, error) {
	return s.transition(ctx, tenantID, draftID, actor, TransitionSubmit, "")
}

// Claim takes a draft out of a review queue for the acting reviewer
func (s *Service) Claim(ctx context.Context, tenantID, draftID string, actor models.Actor) (*models.TransitionResult, error) {
	return s.transition(ctx, tenantID, draftID, actor, TransitionClaim, "")
}

// Review approves a claimed draft into the admin review queue
func (s *Service) Review(ctx context.Context, tenantID, draftID string, actor models.Actor) (*models.TransitionResult, error) {
	return s.transition(ctx, tenantID, draftID, actor, TransitionReview, "")
}

// Reject sends a claimed draft back to its author with notes
func (s *Service) Reject(ctx context.Context, tenantID, draftID string, actor models.Actor, notes string) (*models.TransitionResult, error) {
	return s.transition(ctx, tenantID, draftID, actor, TransitionReject, notes)
}

// Unclaim returns a claimed draft to its review queue
func (s *Service) Unclaim(ctx context.Context, tenantID, draftID string, actor models.Actor) (*models.TransitionResult, error) {
	return s.transition(ctx, tenantID, draftID, actor, TransitionUnclaim, "")
}

// Publish materializes the draft onto the canonical store and finalizes it.
// Materialization and the status flip share one transaction: both land or
// neither does.
func (s *Service) Publish(ctx context.Context, tenantID, draftID string, actor models.Actor) (*models.TransitionResult, error) {
	return s.transition(ctx, tenantID, draftID, actor, TransitionPublish, "")
}

// Trash soft-deletes a draft, remembering its pre-trash status
func (s *Service) Trash(ctx context.Context, tenantID, draftID string, actor models.Actor, notes string) (*models.TransitionResult, error) {
	return s.transition(ctx, tenantID, draftID, actor, TransitionTrash, notes)
}

// Untrash restores a trashed draft to its pre-trash status
func (s *Service) Untrash(ctx context.Context, tenantID, draftID string, actor models.Actor) (*models.TransitionResult, error) {
	return s.transition(ctx, tenantID, draftID, actor, TransitionUntrash, "")
}

func (s *Service) transition(ctx context.Context, tenantID, draftID string, actor models.Actor, t Transition, notes string) (*models.TransitionResult, error) {
	ctx, span := tracing.StartSpan(ctx, fmt.Sprintf("workflow.Service.%s", t))
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":  tenantID,
		"draft_id":   draftID,
		"transition": t,
		"actor":      actor.ID,
	})

	r, ok := rules[t]
	if !ok {
		return nil, fmt.Errorf("unknown transition %q", t)
	}

	ctx, tx, err := s.db.GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	draft, err := s.drafts.Get(ctx, tenantID, draftID)
	if err != nil {
		return nil, err
	}

	if denied := checkGuards(t, r, draft, actor); denied != nil {
		log.WithFields(map[string]any{"status": draft.Status, "reason": denied.Message}).Info("Transition denied")
		return denied, nil
	}

	upd := buildUpdate(t, draft, actor)

	// Publish mutates the canonical store before the status flip commits;
	// a materialization failure aborts the whole transaction.
	if t == TransitionPublish {
		if _, err := s.materializer.Materialize(ctx, draft); err != nil {
			log.WithError(err).Error("Materialization failed, aborting publish")
			return nil, err
		}
	}

	updated, err := s.drafts.UpdateStatus(ctx, tenantID, draftID, upd)
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			// Lost a compare-and-swap race against a concurrent transition.
			current, getErr := s.drafts.Get(ctx, tenantID, draftID)
			if getErr != nil {
				return nil, getErr
			}
			return &models.TransitionResult{
				Success: false,
				Status:  current.Status,
				Message: fmt.Sprintf("%s failed because status was not one of %v", t, r.from),
			}, nil
		}
		return nil, err
	}

	if err := s.audit.Append(ctx, models.ApprovalLogEntry{
		TenantID: tenantID,
		DraftID:  draftID,
		Actor:    actor.ID,
		Action:   r.action,
		Notes:    notes,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.WithFields(map[string]any{"status": updated.Status}).Info("Transition applied")

	if s.events != nil {
		s.events.EmitDraftTransitioned(ctx, updated, r.action, actor)
	}

	return &models.TransitionResult{Success: true, Status: updated.Status}, nil
}

// buildUpdate assembles the compare-and-swap update for a permitted
// transition, including its side effects on claim ownership, the trash
// snapshot, and the untrash restore.
func buildUpdate(t Transition, draft *models.Draft, actor models.Actor) models.DraftStatusUpdate {
	upd := models.DraftStatusUpdate{
		Status:       targetStatus(t, draft),
		ExpectStatus: []models.DraftStatus{draft.Status},
	}

	switch t {
	case TransitionClaim:
		claimer := actor.ID
		upd.SetClaimedBy = true
		upd.ClaimedBy = &claimer
	case TransitionReview, TransitionReject, TransitionUnclaim, TransitionPublish:
		upd.SetClaimedBy = true
		upd.ClaimedBy = nil
	case TransitionTrash:
		prev := draft.Status
		upd.SetPreviousStatus = true
		upd.PreviousStatus = &prev
		upd.SetClaimedBy = true
		upd.ClaimedBy = nil
		// Swap payload and baseline. Untrash swaps them back, so a
		// trash/untrash cycle restores both exactly.
		upd.SetBaseline = true
		upd.Baseline = draft.Payload
		upd.SetPayload = true
		upd.Payload = orEmptyObject(draft.Baseline)
	case TransitionUntrash:
		upd.SetPreviousStatus = true
		upd.PreviousStatus = nil
		upd.SetPayload = true
		upd.Payload = orEmptyObject(draft.Baseline)
		upd.SetBaseline = true
		upd.Baseline = orEmptyObject(draft.Payload)
	}

	return upd
}

func orEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}
