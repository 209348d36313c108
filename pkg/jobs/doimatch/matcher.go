// Package doimatch refreshes published DOI records against an external
// metadata catalog, proposing UPDATE drafts for curators to review.
package doimatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/tracing"
)

const doiTargetType = "doi"

// Fields a curator has already shaped by hand. Catalog refreshes never
// overwrite these; the prior draft's values win.
var curatedFields = []string{
	"campaigns",
	"instruments",
	"platforms",
	"collection_periods",
	"long_name",
}

// MetadataAPI queries the external catalog
type MetadataAPI interface {
	LookupByConceptID(ctx context.Context, conceptID string) ([]map[string]any, error)
	LookupByDOI(ctx context.Context, doi string) ([]map[string]any, error)
}

// DraftService opens and edits drafts
type DraftService interface {
	Create(ctx context.Context, tenantID string, actor models.Actor, req models.CreateDraftRequest) (*models.Draft, error)
	Mutate(ctx context.Context, tenantID, id string, actor models.Actor, updates map[string]any) (*models.Draft, error)
}

// DraftFinder locates existing drafts for update-in-place
type DraftFinder interface {
	FindUnresolvedByTarget(ctx context.Context, tenantID, targetType, targetID string) (*models.Draft, error)
}

// CanonicalStore reads published DOI records
type CanonicalStore interface {
	List(ctx context.Context, tenantID, entityType string, page, pageSize int) (*models.CanonicalRecordListResponse, error)
}

// Result summarizes a matching run
type Result struct {
	Scanned  int      `json:"scanned"`
	Proposed []string `json:"proposed"`
	Missing  []string `json:"missing"`
}

// Summary renders a human readable run summary
func (r *Result) Summary() string {
	return fmt.Sprintf("scanned %d doi records: %d update drafts proposed, %d without a catalog match",
		r.Scanned, len(r.Proposed), len(r.Missing))
}

// Matcher walks the published DOI records, looks each one up in the catalog,
// and opens an UPDATE draft when the catalog has fresher metadata. Records
// with zero or ambiguous catalog hits are reported, not guessed at.
type Matcher struct {
	api       MetadataAPI
	drafts    DraftService
	finder    DraftFinder
	canonical CanonicalStore
	pageSize  int
	actor     models.Actor
	logger    ectologger.Logger
}

// NewMatcher creates a new DOI matcher
func NewMatcher(api MetadataAPI, drafts DraftService, finder DraftFinder, canonical CanonicalStore, pageSize int, actor models.Actor, logger ectologger.Logger) *Matcher {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Matcher{
		api:       api,
		drafts:    drafts,
		finder:    finder,
		canonical: canonical,
		pageSize:  pageSize,
		actor:     actor,
		logger:    logger,
	}
}

// Run matches every published DOI record against the catalog
func (m *Matcher) Run(ctx context.Context, tenantID string) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "doimatch.Matcher.Run")
	defer span.End()

	log := m.logger.WithContext(ctx).WithFields(map[string]any{"tenant_id": tenantID})
	result := &Result{}

	for page := 1; ; page++ {
		resp, err := m.canonical.List(ctx, tenantID, doiTargetType, page, m.pageSize)
		if err != nil {
			return nil, err
		}
		for i := range resp.Items {
			record := resp.Items[i]
			result.Scanned++
			if err := m.matchRecord(ctx, tenantID, &record, result); err != nil {
				return nil, err
			}
		}
		if len(resp.Items) < m.pageSize {
			break
		}
	}

	log.WithFields(map[string]any{
		"scanned":  result.Scanned,
		"proposed": len(result.Proposed),
		"missing":  len(result.Missing),
	}).Info("DOI matching complete")
	return result, nil
}

func (m *Matcher) matchRecord(ctx context.Context, tenantID string, record *models.CanonicalRecord, result *Result) error {
	fields, err := record.DataMap()
	if err != nil {
		return err
	}

	hits, err := m.lookup(ctx, fields)
	if err != nil {
		return err
	}
	if len(hits) != 1 {
		result.Missing = append(result.Missing, record.ID)
		return nil
	}

	recommendation := buildRecommendation(hits[0])
	if keywordSubset(fields, recommendation) {
		return nil
	}

	existing, err := m.finder.FindUnresolvedByTarget(ctx, tenantID, doiTargetType, record.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		merged, err := mergeCurated(existing, recommendation)
		if err != nil {
			return err
		}
		if _, err := m.drafts.Mutate(ctx, tenantID, existing.ID, m.actor, merged); err != nil {
			return err
		}
		result.Proposed = append(result.Proposed, existing.ID)
		return nil
	}

	draft, err := m.drafts.Create(ctx, tenantID, m.actor, models.CreateDraftRequest{
		TargetType: doiTargetType,
		TargetID:   record.ID,
		Action:     models.ActionUpdate,
		Payload:    recommendation,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflictingDraft) {
			// Another draft claimed the slot between the check and the insert.
			winner, findErr := m.finder.FindUnresolvedByTarget(ctx, tenantID, doiTargetType, record.ID)
			if findErr != nil {
				return findErr
			}
			if winner != nil {
				merged, mergeErr := mergeCurated(winner, recommendation)
				if mergeErr != nil {
					return mergeErr
				}
				if _, err := m.drafts.Mutate(ctx, tenantID, winner.ID, m.actor, merged); err != nil {
					return err
				}
				result.Proposed = append(result.Proposed, winner.ID)
				return nil
			}
		}
		return err
	}
	result.Proposed = append(result.Proposed, draft.ID)
	return nil
}

// lookup tries the concept id first, then falls back to the DOI string
func (m *Matcher) lookup(ctx context.Context, fields map[string]any) ([]map[string]any, error) {
	if conceptID, _ := fields["concept_id"].(string); conceptID != "" {
		hits, err := m.api.LookupByConceptID(ctx, conceptID)
		if err != nil {
			return nil, err
		}
		if len(hits) > 0 {
			return hits, nil
		}
	}
	if doi, _ := fields["doi"].(string); doi != "" {
		return m.api.LookupByDOI(ctx, doi)
	}
	return nil, nil
}

// buildRecommendation extracts the catalog fields worth carrying onto a DOI
// record
func buildRecommendation(hit map[string]any) map[string]any {
	recommendation := map[string]any{}
	fields := []string{
		"concept_id", "doi",
		"cmr_short_name", "cmr_entry_title", "cmr_projects", "cmr_dates",
		"cmr_plats_and_insts", "cmr_science_keywords", "cmr_abstract",
		"cmr_data_formats",
	}
	for _, field := range fields {
		if value, ok := hit[field]; ok {
			recommendation[field] = value
		}
	}
	return recommendation
}

// mergeCurated layers the recommendation under the draft's hand-curated
// fields
func mergeCurated(draft *models.Draft, recommendation map[string]any) (map[string]any, error) {
	payload, err := draft.PayloadMap()
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any, len(recommendation))
	for key, value := range recommendation {
		merged[key] = value
	}
	for _, field := range curatedFields {
		if value, ok := payload[field]; ok && value != nil {
			merged[field] = value
		}
	}
	return merged, nil
}

// keywordSubset reports whether the record already carries every field of
// the recommendation, excluding curated fields
func keywordSubset(fields, recommendation map[string]any) bool {
	curated := map[string]bool{}
	for _, f := range curatedFields {
		curated[f] = true
	}
	for key, value := range recommendation {
		if curated[key] {
			continue
		}
		if fmt.Sprintf("%v", fields[key]) != fmt.Sprintf("%v", value) {
			return false
		}
	}
	return true
}
