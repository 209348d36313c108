package drafts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/schema"
	"github.com/Ramsey-B/aster/pkg/tracing"
	"github.com/google/uuid"
)

// DraftStore is the draft persistence surface
type DraftStore interface {
	Insert(ctx context.Context, draft *models.Draft) (*models.Draft, error)
	Get(ctx context.Context, tenantID, id string) (*models.Draft, error)
	FindUnresolvedByTarget(ctx context.Context, tenantID, targetType, targetID string) (*models.Draft, error)
	UpdatePayload(ctx context.Context, tenantID, id string, payload, baseline []byte, status models.DraftStatus) (*models.Draft, error)
	Query(ctx context.Context, tenantID string, filters models.DraftQuery) (*models.DraftListResponse, error)
}

// AuditLog records draft creation and edits
type AuditLog interface {
	Append(ctx context.Context, entry models.ApprovalLogEntry) error
	History(ctx context.Context, tenantID, draftID string) ([]models.ApprovalLogEntry, error)
}

// CanonicalReader resolves the canonical record a draft targets, used for
// baseline capture
type CanonicalReader interface {
	Get(ctx context.Context, tenantID, entityType, id string) (*models.CanonicalRecord, error)
}

// PayloadValidator validates a payload against the target type's schema
type PayloadValidator interface {
	ValidatePayload(ctx context.Context, tenantID, targetType string, payload map[string]any, action models.DraftAction) (schema.ValidationResult, error)
}

// TxBeginner opens (or joins) a context-scoped transaction
type TxBeginner interface {
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error)
}

// EventEmitter publishes lifecycle events after a mutation commits.
// Emission is best effort and never fails the mutation.
type EventEmitter interface {
	EmitDraftCreated(ctx context.Context, draft *models.Draft, actor models.Actor)
	EmitDraftUpdated(ctx context.Context, draft *models.Draft, actor models.Actor)
}

// Service is the Draft Store: it opens, edits and queries drafts, enforcing
// the one-unresolved-draft-per-target invariant and recording every mutation
// in the approval log.
type Service struct {
	db        TxBeginner
	drafts    DraftStore
	audit     AuditLog
	canonical CanonicalReader
	validator PayloadValidator
	events    EventEmitter
	logger    ectologger.Logger
}

// NewService creates a new draft service. events may be nil.
func NewService(db TxBeginner, drafts DraftStore, audit AuditLog, canonical CanonicalReader, validator PayloadValidator, events EventEmitter, logger ectologger.Logger) *Service {
	return &Service{
		db:        db,
		drafts:    drafts,
		audit:     audit,
		canonical: canonical,
		validator: validator,
		events:    events,
		logger:    logger,
	}
}

// Create opens a new draft. CREATE drafts mint a fresh id and reserve it as
// the future canonical id, so other drafts can reference the entity before
// it is published. UPDATE and DELETE drafts must name an existing canonical
// record and fail with ErrConflictingDraft while another unresolved draft
// holds the same target.
func (s *Service) Create(ctx context.Context, tenantID string, actor models.Actor, req models.CreateDraftRequest) (*models.Draft, error) {
	ctx, span := tracing.StartSpan(ctx, "drafts.Service.Create")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":   tenantID,
		"target_type": req.TargetType,
		"action":      req.Action,
		"author":      actor.ID,
	})

	result, err := s.validator.ValidatePayload(ctx, tenantID, req.TargetType, req.Payload, req.Action)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, fmt.Errorf("payload failed schema validation: %v: %w", result.Errors, models.ErrInvalidTarget)
	}

	payloadJSON, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	draft := &models.Draft{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		TargetType: req.TargetType,
		Action:     req.Action,
		Status:     models.StatusCreated,
		Payload:    payloadJSON,
		Baseline:   json.RawMessage(`{}`),
		Author:     actor.ID,
	}

	if req.Action == models.ActionCreate {
		// The draft's own id doubles as the future canonical id.
		draft.TargetID = draft.ID
	} else {
		if req.TargetID == "" {
			return nil, fmt.Errorf("target_id is required for %s drafts: %w", req.Action, models.ErrInvalidTarget)
		}
		draft.TargetID = req.TargetID

		record, err := s.canonical.Get(ctx, tenantID, req.TargetType, req.TargetID)
		if err != nil {
			return nil, err
		}
		if record == nil {
			return nil, fmt.Errorf("canonical record %s/%s: %w", req.TargetType, req.TargetID, models.ErrNotFound)
		}

		baseline, err := captureBaseline(record, req.Payload)
		if err != nil {
			return nil, err
		}
		draft.Baseline = baseline

		// Pre-check the slot before inserting; the partial unique index is
		// the authoritative guard under concurrency.
		existing, err := s.drafts.FindUnresolvedByTarget(ctx, tenantID, req.TargetType, req.TargetID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, fmt.Errorf("draft %s already targets %s/%s: %w", existing.ID, req.TargetType, req.TargetID, models.ErrConflictingDraft)
		}
	}

	ctx, tx, err := s.db.GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	created, err := s.drafts.Insert(ctx, draft)
	if err != nil {
		return nil, err
	}

	if err := s.audit.Append(ctx, models.ApprovalLogEntry{
		TenantID: tenantID,
		DraftID:  created.ID,
		Actor:    actor.ID,
		Action:   models.ApprovalCreate,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.WithFields(map[string]any{"id": created.ID}).Info("Opened draft")

	if s.events != nil {
		s.events.EmitDraftCreated(ctx, created, actor)
	}

	return created, nil
}

// Get retrieves a draft by id
func (s *Service) Get(ctx context.Context, tenantID, id string) (*models.Draft, error) {
	return s.drafts.Get(ctx, tenantID, id)
}

// Mutate merges field updates into the draft's payload. Only the author (or
// an admin) may edit, only while the draft is neither published nor trashed.
// The first edit after creation advances the draft to IN_PROGRESS.
func (s *Service) Mutate(ctx context.Context, tenantID, id string, actor models.Actor, updates map[string]any) (*models.Draft, error) {
	ctx, span := tracing.StartSpan(ctx, "drafts.Service.Mutate")
	defer span.End()

	draft, err := s.drafts.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if draft.Status == models.StatusPublished || draft.Status == models.StatusInTrash {
		return nil, fmt.Errorf("draft %s is %s and can no longer be edited: %w", id, draft.Status, models.ErrInvalidTransition)
	}
	if draft.Author != actor.ID && !actor.IsAdmin() {
		return nil, fmt.Errorf("draft %s may only be edited by its author: %w", id, models.ErrInvalidTransition)
	}

	result, err := s.validator.ValidatePayload(ctx, tenantID, draft.TargetType, updates, models.ActionUpdate)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, fmt.Errorf("updates failed schema validation: %v: %w", result.Errors, models.ErrInvalidTarget)
	}

	updatesJSON, err := json.Marshal(updates)
	if err != nil {
		return nil, fmt.Errorf("failed to encode updates: %w", err)
	}
	merged, err := deepMergeJSON(draft.Payload, updatesJSON)
	if err != nil {
		return nil, err
	}

	baseline := draft.Baseline
	if draft.Action != models.ActionCreate {
		// Extend the baseline with the prior value of any newly touched field.
		record, err := s.canonical.Get(ctx, tenantID, draft.TargetType, draft.TargetID)
		if err != nil {
			return nil, err
		}
		if record != nil {
			baseline, err = extendBaseline(draft.Baseline, record, updates)
			if err != nil {
				return nil, err
			}
		}
	}

	status := draft.Status
	if status == models.StatusCreated {
		status = models.StatusInProgress
	}

	ctx, tx, err := s.db.GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	updated, err := s.drafts.UpdatePayload(ctx, tenantID, id, merged, baseline, status)
	if err != nil {
		return nil, err
	}

	if err := s.audit.Append(ctx, models.ApprovalLogEntry{
		TenantID: tenantID,
		DraftID:  id,
		Actor:    actor.ID,
		Action:   models.ApprovalEdit,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	if s.events != nil {
		s.events.EmitDraftUpdated(ctx, updated, actor)
	}

	return updated, nil
}

// Query retrieves drafts with filtering and pagination
func (s *Service) Query(ctx context.Context, tenantID string, filters models.DraftQuery) (*models.DraftListResponse, error) {
	return s.drafts.Query(ctx, tenantID, filters)
}

// History returns the draft's approval log, oldest first
func (s *Service) History(ctx context.Context, tenantID, draftID string) ([]models.ApprovalLogEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "drafts.Service.History")
	defer span.End()

	// Verify the draft exists so callers get NotFound rather than an empty log.
	if _, err := s.drafts.Get(ctx, tenantID, draftID); err != nil {
		return nil, err
	}
	return s.audit.History(ctx, tenantID, draftID)
}

// captureBaseline snapshots the prior canonical value of every field the
// payload touches.
func captureBaseline(record *models.CanonicalRecord, payload map[string]any) (json.RawMessage, error) {
	fields, err := record.DataMap()
	if err != nil {
		return nil, fmt.Errorf("failed to decode canonical record data: %w", err)
	}

	baseline := make(map[string]any, len(payload))
	for key := range payload {
		if prior, ok := fields[key]; ok {
			baseline[key] = prior
		}
	}

	encoded, err := json.Marshal(baseline)
	if err != nil {
		return nil, fmt.Errorf("failed to encode baseline: %w", err)
	}
	return encoded, nil
}

// extendBaseline adds prior values for fields the update touches for the
// first time, without disturbing values captured earlier.
func extendBaseline(existing json.RawMessage, record *models.CanonicalRecord, updates map[string]any) (json.RawMessage, error) {
	baseline := map[string]any{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &baseline); err != nil {
			return nil, fmt.Errorf("failed to decode baseline: %w", err)
		}
	}

	fields, err := record.DataMap()
	if err != nil {
		return nil, fmt.Errorf("failed to decode canonical record data: %w", err)
	}

	for key := range updates {
		if _, captured := baseline[key]; captured {
			continue
		}
		if prior, ok := fields[key]; ok {
			baseline[key] = prior
		}
	}

	encoded, err := json.Marshal(baseline)
	if err != nil {
		return nil, fmt.Errorf("failed to encode baseline: %w", err)
	}
	return encoded, nil
}

// deepMergeJSON performs a deep merge of two JSON objects.
// The source JSON is merged into the target JSON, with source values taking precedence.
func deepMergeJSON(target, source json.RawMessage) (json.RawMessage, error) {
	targetMap := map[string]any{}
	sourceMap := map[string]any{}

	if len(target) > 0 {
		if err := json.Unmarshal(target, &targetMap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal target JSON: %w", err)
		}
	}
	if err := json.Unmarshal(source, &sourceMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal source JSON: %w", err)
	}

	deepMerge(targetMap, sourceMap)

	merged, err := json.Marshal(targetMap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal merged JSON: %w", err)
	}

	return merged, nil
}

// deepMerge recursively merges source map into target map.
// For nested maps, it merges recursively. For all other types, source values overwrite target values.
func deepMerge(target, source map[string]any) {
	for key, sourceVal := range source {
		if targetVal, exists := target[key]; exists {
			targetMap, targetIsMap := targetVal.(map[string]any)
			sourceMap, sourceIsMap := sourceVal.(map[string]any)

			if targetIsMap && sourceIsMap {
				deepMerge(targetMap, sourceMap)
				continue
			}
		}
		target[key] = sourceVal
	}
}
