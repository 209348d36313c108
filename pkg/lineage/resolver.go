package lineage

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/tracing"
	"github.com/google/uuid"
)

// DraftStore is the draft lookup surface the resolver scans
type DraftStore interface {
	Get(ctx context.Context, tenantID, id string) (*models.Draft, error)
	Query(ctx context.Context, tenantID string, filters models.DraftQuery) (*models.DraftListResponse, error)
	FindByPayloadValue(ctx context.Context, tenantID, value string) ([]models.Draft, error)
}

// ReferenceFieldSource reports which payload fields of a target type hold
// references to other records
type ReferenceFieldSource interface {
	GetReferenceFields(ctx context.Context, tenantID, targetType string) (map[string]bool, error)
}

// Resolver derives draft dependencies by scanning payload values for record
// ids. Because CREATE drafts reserve their own id as the future canonical id,
// a payload can reference an entity that only exists as a pending draft;
// the resolver finds those edges without any explicit link table.
type Resolver struct {
	drafts DraftStore
	schema ReferenceFieldSource
	logger ectologger.Logger
}

// NewResolver creates a new lineage resolver
func NewResolver(drafts DraftStore, schema ReferenceFieldSource, logger ectologger.Logger) *Resolver {
	return &Resolver{
		drafts: drafts,
		schema: schema,
		logger: logger,
	}
}

// Resolve returns the draft together with its ancestors (drafts whose target
// this draft's payload references) and descendants (drafts whose payloads
// reference this draft's target). References that do not resolve to a draft
// are silently skipped: a dangling id is data to be reviewed, not an error.
func (r *Resolver) Resolve(ctx context.Context, tenantID, draftID string) (*models.LineageResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "lineage.Resolver.Resolve")
	defer span.End()

	draft, err := r.drafts.Get(ctx, tenantID, draftID)
	if err != nil {
		return nil, err
	}

	ancestors, err := r.ancestors(ctx, tenantID, draft)
	if err != nil {
		return nil, err
	}
	descendants, err := r.descendants(ctx, tenantID, draft)
	if err != nil {
		return nil, err
	}

	return &models.LineageResponse{
		Draft:       *draft,
		Ancestors:   ancestors,
		Descendants: descendants,
	}, nil
}

// ancestors dereferences every id-shaped value in the payload against the
// draft store. When the target type's schema flags reference fields, only
// those fields are scanned; otherwise every field is a candidate.
func (r *Resolver) ancestors(ctx context.Context, tenantID string, draft *models.Draft) ([]models.Draft, error) {
	refFields, err := r.schema.GetReferenceFields(ctx, tenantID, draft.TargetType)
	if err != nil {
		return nil, err
	}

	candidates, err := ReferenceIDs(draft, refFields)
	if err != nil {
		return nil, err
	}

	ancestors := []models.Draft{}
	seen := map[string]bool{}
	for _, id := range candidates {
		targetID := id
		resp, err := r.drafts.Query(ctx, tenantID, models.DraftQuery{
			TargetID: &targetID,
			PageSize: 10,
		})
		if err != nil {
			return nil, err
		}
		for _, d := range resp.Items {
			if d.ID == draft.ID || seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			ancestors = append(ancestors, d)
		}
	}

	return ancestors, nil
}

// descendants finds drafts whose payload holds this draft's target id in any
// field.
func (r *Resolver) descendants(ctx context.Context, tenantID string, draft *models.Draft) ([]models.Draft, error) {
	matches, err := r.drafts.FindByPayloadValue(ctx, tenantID, draft.TargetID)
	if err != nil {
		return nil, err
	}

	descendants := []models.Draft{}
	for _, d := range matches {
		if d.ID == draft.ID {
			continue
		}
		descendants = append(descendants, d)
	}
	return descendants, nil
}

// ReferenceIDs extracts the record ids a draft's payload references, excluding
// the draft's own ids. When refFields is non-nil only flagged fields are
// scanned; otherwise every field is a candidate.
func ReferenceIDs(draft *models.Draft, refFields map[string]bool) ([]string, error) {
	payload, err := draft.PayloadMap()
	if err != nil {
		return nil, err
	}

	candidates := map[string]bool{}
	for field, value := range payload {
		if refFields != nil && !refFields[field] {
			continue
		}
		collectIDs(value, candidates)
	}
	delete(candidates, draft.ID)
	delete(candidates, draft.TargetID)

	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	return ids, nil
}

// collectIDs gathers uuid-shaped strings from a payload value, descending
// into arrays and nested objects.
func collectIDs(value any, out map[string]bool) {
	switch v := value.(type) {
	case string:
		if _, err := uuid.Parse(v); err == nil {
			out[v] = true
		}
	case []any:
		for _, item := range v {
			collectIDs(item, out)
		}
	case map[string]any:
		for _, item := range v {
			collectIDs(item, out)
		}
	}
}
