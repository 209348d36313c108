// Package gcmdsync reconciles the canonical keyword tables against the GCMD
// Keyword Management Service by proposing drafts for every divergence.
package gcmdsync

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/tracing"
	"github.com/google/uuid"
)

// schemeToType maps KMS concept schemes to their target types
var schemeToType = map[string]string{
	"instruments":     "gcmd_instrument",
	"projects":        "gcmd_project",
	"platforms":       "gcmd_platform",
	"sciencekeywords": "gcmd_phenomenon",
}

// Schemes returns every keyword scheme the syncer understands
func Schemes() []string {
	schemes := make([]string, 0, len(schemeToType))
	for scheme := range schemeToType {
		schemes = append(schemes, scheme)
	}
	return schemes
}

// fieldRenames maps KMS response keys to canonical field names per scheme
var fieldRenames = map[string]map[string]string{
	"instruments": {
		"Category": "instrument_category",
		"Class":    "instrument_class",
		"Type":     "instrument_type",
		"Subtype":  "instrument_subtype",
	},
	"platforms": {
		"Basis":        "basis",
		"Category":     "category",
		"Sub_Category": "subcategory",
	},
	"sciencekeywords": {
		"Variable_Level_1": "variable_1",
		"Variable_Level_2": "variable_2",
		"Variable_Level_3": "variable_3",
	},
}

// KeywordAPI fetches keyword concepts from the external service
type KeywordAPI interface {
	FetchKeywords(ctx context.Context, scheme string) ([]map[string]any, error)
}

// DraftService opens and edits drafts
type DraftService interface {
	Create(ctx context.Context, tenantID string, actor models.Actor, req models.CreateDraftRequest) (*models.Draft, error)
	Mutate(ctx context.Context, tenantID, id string, actor models.Actor, updates map[string]any) (*models.Draft, error)
}

// WorkflowService publishes drafts
type WorkflowService interface {
	Publish(ctx context.Context, tenantID, draftID string, actor models.Actor) (*models.TransitionResult, error)
}

// DraftFinder locates existing drafts for update-in-place
type DraftFinder interface {
	FindUnresolvedByTarget(ctx context.Context, tenantID, targetType, targetID string) (*models.Draft, error)
	FindByPayloadValue(ctx context.Context, tenantID, value string) ([]models.Draft, error)
}

// CanonicalStore reads published keyword records
type CanonicalStore interface {
	List(ctx context.Context, tenantID, entityType string, page, pageSize int) (*models.CanonicalRecordListResponse, error)
	FindByDataValue(ctx context.Context, tenantID, entityType, field, value string) ([]models.CanonicalRecord, error)
}

// ReferenceFieldSource reports which payload fields reference other records
type ReferenceFieldSource interface {
	GetReferenceFields(ctx context.Context, tenantID, targetType string) (map[string]bool, error)
}

// Result summarizes a sync run
type Result struct {
	Scheme    string   `json:"scheme"`
	Fetched   int      `json:"fetched"`
	Created   []string `json:"created"`
	Updated   []string `json:"updated"`
	Deleted   []string `json:"deleted"`
	Published []string `json:"published"`
}

// Summary renders a human readable run summary
func (r *Result) Summary() string {
	return fmt.Sprintf("synced %d %s keywords: %d create, %d update, %d delete drafts (%d auto-published)",
		r.Fetched, r.Scheme, len(r.Created), len(r.Updated), len(r.Deleted), len(r.Published))
}

// Syncer drives one keyword scheme through the draft workflow: external
// additions become CREATE drafts, divergences become UPDATE drafts, removals
// become DELETE drafts. A divergence that already has an unresolved draft
// updates that draft in place instead of colliding with it.
type Syncer struct {
	api       KeywordAPI
	drafts    DraftService
	workflow  WorkflowService
	finder    DraftFinder
	canonical CanonicalStore
	schema    ReferenceFieldSource
	actor     models.Actor
	logger    ectologger.Logger
}

// NewSyncer creates a new keyword syncer. The actor should be an admin
// system account so proposed drafts can be auto-published.
func NewSyncer(api KeywordAPI, drafts DraftService, workflow WorkflowService, finder DraftFinder, canonical CanonicalStore, schema ReferenceFieldSource, actor models.Actor, logger ectologger.Logger) *Syncer {
	return &Syncer{
		api:       api,
		drafts:    drafts,
		workflow:  workflow,
		finder:    finder,
		canonical: canonical,
		schema:    schema,
		actor:     actor,
		logger:    logger,
	}
}

// Sync reconciles one keyword scheme
func (s *Syncer) Sync(ctx context.Context, tenantID, scheme string) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "gcmdsync.Syncer.Sync")
	defer span.End()

	targetType, ok := schemeToType[scheme]
	if !ok {
		return nil, fmt.Errorf("unknown keyword scheme %q", scheme)
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": tenantID,
		"scheme":    scheme,
	})

	raw, err := s.api.FetchKeywords(ctx, scheme)
	if err != nil {
		return nil, err
	}

	result := &Result{Scheme: scheme, Fetched: len(raw)}
	seen := map[string]bool{}

	for _, record := range raw {
		keyword := normalizeKeyword(record, scheme)
		if !isValidKeyword(keyword) {
			continue
		}
		gcmdUUID := keyword["gcmd_uuid"].(string)
		seen[gcmdUUID] = true

		published, err := s.canonical.FindByDataValue(ctx, tenantID, targetType, "gcmd_uuid", gcmdUUID)
		if err != nil {
			return nil, err
		}

		if len(published) == 0 {
			if err := s.propose(ctx, tenantID, targetType, keyword, models.ActionCreate, "", result); err != nil {
				return nil, err
			}
			continue
		}

		fields, err := published[0].DataMap()
		if err != nil {
			return nil, err
		}
		if !keywordMatches(fields, keyword) {
			if err := s.propose(ctx, tenantID, targetType, keyword, models.ActionUpdate, published[0].ID, result); err != nil {
				return nil, err
			}
		}
	}

	if err := s.proposeDeletes(ctx, tenantID, targetType, seen, result); err != nil {
		return nil, err
	}

	log.WithFields(map[string]any{
		"created":   len(result.Created),
		"updated":   len(result.Updated),
		"deleted":   len(result.Deleted),
		"published": len(result.Published),
	}).Info("Keyword sync complete")
	return result, nil
}

// proposeDeletes opens DELETE drafts for published keywords the external
// service no longer carries
func (s *Syncer) proposeDeletes(ctx context.Context, tenantID, targetType string, seen map[string]bool, result *Result) error {
	for page := 1; ; page++ {
		resp, err := s.canonical.List(ctx, tenantID, targetType, page, 100)
		if err != nil {
			return err
		}
		for _, record := range resp.Items {
			fields, err := record.DataMap()
			if err != nil {
				return err
			}
			gcmdUUID, _ := fields["gcmd_uuid"].(string)
			if gcmdUUID == "" || seen[gcmdUUID] {
				continue
			}
			payload := map[string]any{"gcmd_uuid": gcmdUUID}
			if err := s.propose(ctx, tenantID, targetType, payload, models.ActionDelete, record.ID, result); err != nil {
				return err
			}
		}
		if len(resp.Items) < 100 {
			return nil
		}
	}
}

// propose opens (or updates in place) the draft carrying one divergence
func (s *Syncer) propose(ctx context.Context, tenantID, targetType string, keyword map[string]any, action models.DraftAction, targetID string, result *Result) error {
	existing, err := s.findExistingDraft(ctx, tenantID, targetType, action, keyword, targetID)
	if err != nil {
		return err
	}
	if existing != nil {
		if _, err := s.drafts.Mutate(ctx, tenantID, existing.ID, s.actor, keyword); err != nil {
			return err
		}
		s.record(result, action, existing.ID)
		return nil
	}

	draft, err := s.drafts.Create(ctx, tenantID, s.actor, models.CreateDraftRequest{
		TargetType: targetType,
		TargetID:   targetID,
		Action:     action,
		Payload:    keyword,
	})
	if err != nil {
		// Lost a race against another sync run; fold into the winner's draft.
		if errors.Is(err, models.ErrConflictingDraft) {
			winner, findErr := s.finder.FindUnresolvedByTarget(ctx, tenantID, targetType, targetID)
			if findErr != nil {
				return findErr
			}
			if winner != nil {
				if _, err := s.drafts.Mutate(ctx, tenantID, winner.ID, s.actor, keyword); err != nil {
					return err
				}
				s.record(result, action, winner.ID)
				return nil
			}
		}
		return err
	}
	s.record(result, action, draft.ID)

	// CREATE and DELETE drafts that touch no other records need no curator
	// judgment and publish straight away.
	if action == models.ActionCreate || action == models.ActionDelete {
		linked, err := s.hasReferences(ctx, tenantID, targetType, keyword)
		if err != nil {
			return err
		}
		if !linked {
			res, err := s.workflow.Publish(ctx, tenantID, draft.ID, s.actor)
			if err != nil {
				return err
			}
			if res.Success {
				result.Published = append(result.Published, draft.ID)
			}
		}
	}
	return nil
}

// findExistingDraft locates the unresolved draft already carrying this
// keyword, if any. UPDATE and DELETE drafts are found by target; CREATE
// drafts have no published target yet and are found by gcmd_uuid.
func (s *Syncer) findExistingDraft(ctx context.Context, tenantID, targetType string, action models.DraftAction, keyword map[string]any, targetID string) (*models.Draft, error) {
	if action != models.ActionCreate {
		return s.finder.FindUnresolvedByTarget(ctx, tenantID, targetType, targetID)
	}

	gcmdUUID, _ := keyword["gcmd_uuid"].(string)
	if gcmdUUID == "" {
		return nil, nil
	}
	matches, err := s.finder.FindByPayloadValue(ctx, tenantID, gcmdUUID)
	if err != nil {
		return nil, err
	}
	for i := range matches {
		d := matches[i]
		if d.TargetType == targetType && d.Action == models.ActionCreate && d.Status != models.StatusPublished && d.Status != models.StatusInTrash {
			return &d, nil
		}
	}
	return nil, nil
}

// hasReferences reports whether the payload's reference fields point at any
// other records
func (s *Syncer) hasReferences(ctx context.Context, tenantID, targetType string, payload map[string]any) (bool, error) {
	refs, err := s.schema.GetReferenceFields(ctx, tenantID, targetType)
	if err != nil {
		return false, err
	}
	for field := range refs {
		value, ok := payload[field]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case string:
			if v != "" {
				return true, nil
			}
		case []any:
			if len(v) > 0 {
				return true, nil
			}
		default:
			return true, nil
		}
	}
	return false, nil
}

func (s *Syncer) record(result *Result, action models.DraftAction, draftID string) {
	switch action {
	case models.ActionCreate:
		result.Created = append(result.Created, draftID)
	case models.ActionUpdate:
		result.Updated = append(result.Updated, draftID)
	case models.ActionDelete:
		result.Deleted = append(result.Deleted, draftID)
	}
}

// normalizeKeyword lowercases KMS response keys and applies the per-scheme
// field renames, so payloads line up with the canonical schema
func normalizeKeyword(record map[string]any, scheme string) map[string]any {
	renames := fieldRenames[scheme]
	out := make(map[string]any, len(record))
	for key, value := range record {
		if key == "UUID" {
			out["gcmd_uuid"] = value
			continue
		}
		if key == "Detailed_Variable" {
			continue
		}
		if renamed, ok := renames[key]; ok {
			out[renamed] = value
			continue
		}
		out[strings.ToLower(key)] = value
	}
	return out
}

// isValidKeyword filters out placeholder rows the service includes
func isValidKeyword(keyword map[string]any) bool {
	id, _ := keyword["gcmd_uuid"].(string)
	if _, err := uuid.Parse(id); err != nil {
		return false
	}
	name, _ := keyword["short_name"].(string)
	name = strings.TrimSpace(strings.ToUpper(name))
	return name != "" && name != "NOT APPLICABLE"
}

// keywordMatches reports whether the published record already carries every
// field of the external keyword
func keywordMatches(published, keyword map[string]any) bool {
	for key, value := range keyword {
		if !reflect.DeepEqual(published[key], value) {
			return false
		}
	}
	return true
}
