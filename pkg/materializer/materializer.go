package materializer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/tracing"
)

// CanonicalStore is the canonical record surface the materializer writes to
type CanonicalStore interface {
	Get(ctx context.Context, tenantID, entityType, id string) (*models.CanonicalRecord, error)
	Create(ctx context.Context, record *models.CanonicalRecord) (*models.CanonicalRecord, error)
	Update(ctx context.Context, tenantID, entityType, id string, data json.RawMessage) (*models.CanonicalRecord, error)
	Tombstone(ctx context.Context, tenantID, entityType, id string) (bool, error)
}

// Materializer applies an approved draft's payload onto the canonical store.
// This is the only component that writes canonical records; it runs inside
// the publish transaction so the write and the status flip are atomic.
type Materializer struct {
	canonical CanonicalStore
	logger    ectologger.Logger
}

// New creates a new materializer
func New(canonical CanonicalStore, logger ectologger.Logger) *Materializer {
	return &Materializer{
		canonical: canonical,
		logger:    logger,
	}
}

// Materialize commits the draft's staged change to the canonical store
func (m *Materializer) Materialize(ctx context.Context, draft *models.Draft) (*models.CanonicalRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "materializer.Materializer.Materialize")
	defer span.End()

	log := m.logger.WithContext(ctx).WithFields(map[string]any{
		"draft_id":    draft.ID,
		"target_type": draft.TargetType,
		"target_id":   draft.TargetID,
		"action":      draft.Action,
	})

	switch draft.Action {
	case models.ActionCreate:
		return m.create(ctx, draft, log)
	case models.ActionUpdate:
		return m.update(ctx, draft, log)
	case models.ActionDelete:
		return m.delete(ctx, draft, log)
	default:
		return nil, fmt.Errorf("unknown draft action %q", draft.Action)
	}
}

// create instantiates a new canonical record keyed by the draft's reserved
// id, so references made against the draft before publication stay valid.
func (m *Materializer) create(ctx context.Context, draft *models.Draft, log ectologger.Logger) (*models.CanonicalRecord, error) {
	existing, err := m.canonical.Get(ctx, draft.TenantID, draft.TargetType, draft.TargetID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("canonical record %s/%s already exists: %w", draft.TargetType, draft.TargetID, models.ErrConflictingDraft)
	}

	record, err := m.canonical.Create(ctx, &models.CanonicalRecord{
		ID:         draft.TargetID,
		TenantID:   draft.TenantID,
		EntityType: draft.TargetType,
		Data:       draft.Payload,
	})
	if err != nil {
		return nil, err
	}

	log.Info("Materialized create draft")
	return record, nil
}

// update overwrites the target record's fields with the payload's keys,
// leaving untouched fields as they are.
func (m *Materializer) update(ctx context.Context, draft *models.Draft, log ectologger.Logger) (*models.CanonicalRecord, error) {
	existing, err := m.canonical.Get(ctx, draft.TenantID, draft.TargetType, draft.TargetID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("canonical record %s/%s no longer exists: %w", draft.TargetType, draft.TargetID, models.ErrTargetMissing)
	}

	fields, err := existing.DataMap()
	if err != nil {
		return nil, fmt.Errorf("failed to decode canonical record data: %w", err)
	}
	payload, err := draft.PayloadMap()
	if err != nil {
		return nil, fmt.Errorf("failed to decode draft payload: %w", err)
	}
	for key, value := range payload {
		fields[key] = value
	}

	merged, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merged record data: %w", err)
	}

	record, err := m.canonical.Update(ctx, draft.TenantID, draft.TargetType, draft.TargetID, merged)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("canonical record %s/%s no longer exists: %w", draft.TargetType, draft.TargetID, models.ErrTargetMissing)
	}

	log.Info("Materialized update draft")
	return record, nil
}

func (m *Materializer) delete(ctx context.Context, draft *models.Draft, log ectologger.Logger) (*models.CanonicalRecord, error) {
	existing, err := m.canonical.Get(ctx, draft.TenantID, draft.TargetType, draft.TargetID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("canonical record %s/%s no longer exists: %w", draft.TargetType, draft.TargetID, models.ErrTargetMissing)
	}

	removed, err := m.canonical.Tombstone(ctx, draft.TenantID, draft.TargetType, draft.TargetID)
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, fmt.Errorf("canonical record %s/%s no longer exists: %w", draft.TargetType, draft.TargetID, models.ErrTargetMissing)
	}

	log.Info("Materialized delete draft")
	return existing, nil
}
