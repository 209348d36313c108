package doimatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/aster/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeMetadataAPI struct {
	byConceptID map[string][]map[string]any
	byDOI       map[string][]map[string]any
}

func (a *fakeMetadataAPI) LookupByConceptID(ctx context.Context, conceptID string) ([]map[string]any, error) {
	return a.byConceptID[conceptID], nil
}

func (a *fakeMetadataAPI) LookupByDOI(ctx context.Context, doi string) ([]map[string]any, error) {
	return a.byDOI[doi], nil
}

type fakeDraftService struct {
	created []models.CreateDraftRequest
	mutated map[string]map[string]any
}

func newFakeDraftService() *fakeDraftService {
	return &fakeDraftService{mutated: map[string]map[string]any{}}
}

func (s *fakeDraftService) Create(ctx context.Context, tenantID string, actor models.Actor, req models.CreateDraftRequest) (*models.Draft, error) {
	s.created = append(s.created, req)
	return &models.Draft{ID: uuid.New().String(), TenantID: tenantID, TargetType: req.TargetType, TargetID: req.TargetID, Action: req.Action}, nil
}

func (s *fakeDraftService) Mutate(ctx context.Context, tenantID, id string, actor models.Actor, updates map[string]any) (*models.Draft, error) {
	s.mutated[id] = updates
	return &models.Draft{ID: id, TenantID: tenantID}, nil
}

type fakeDraftFinder struct {
	byTarget map[string]*models.Draft
}

func (f *fakeDraftFinder) FindUnresolvedByTarget(ctx context.Context, tenantID, targetType, targetID string) (*models.Draft, error) {
	if f.byTarget == nil {
		return nil, nil
	}
	return f.byTarget[targetID], nil
}

type fakeCanonicalStore struct {
	records []models.CanonicalRecord
}

func (s *fakeCanonicalStore) List(ctx context.Context, tenantID, entityType string, page, pageSize int) (*models.CanonicalRecordListResponse, error) {
	if page > 1 {
		return &models.CanonicalRecordListResponse{}, nil
	}
	return &models.CanonicalRecordListResponse{Items: s.records, TotalCount: len(s.records)}, nil
}

const testTenant = "c1b70e3e-47a3-4e8f-9e5c-3a8d2cf6b0a1"

var matchActor = models.Actor{ID: "system-doi", Role: models.RoleAdmin}

func doiRecord(id string, fields map[string]any) models.CanonicalRecord {
	data, _ := json.Marshal(fields)
	return models.CanonicalRecord{ID: id, TenantID: testTenant, EntityType: "doi", Data: data}
}

func TestRunProposesUpdateForFresherMetadata(t *testing.T) {
	api := &fakeMetadataAPI{byConceptID: map[string][]map[string]any{
		"C1000-PROV": {{
			"concept_id":      "C1000-PROV",
			"doi":             "10.5067/ABC",
			"cmr_entry_title": "New Title",
			"irrelevant":      "dropped",
		}},
	}}
	drafts := newFakeDraftService()
	canonical := &fakeCanonicalStore{records: []models.CanonicalRecord{
		doiRecord("rec-1", map[string]any{"concept_id": "C1000-PROV", "doi": "10.5067/ABC", "cmr_entry_title": "Old Title"}),
	}}

	matcher := NewMatcher(api, drafts, &fakeDraftFinder{}, canonical, 100, matchActor, testLogger())
	result, err := matcher.Run(context.Background(), testTenant)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Scanned)
	require.Len(t, drafts.created, 1)
	req := drafts.created[0]
	assert.Equal(t, "doi", req.TargetType)
	assert.Equal(t, "rec-1", req.TargetID)
	assert.Equal(t, models.ActionUpdate, req.Action)
	assert.Equal(t, "New Title", req.Payload["cmr_entry_title"])
	// Only catalog fields worth carrying make it into the proposal.
	assert.NotContains(t, req.Payload, "irrelevant")
	assert.Len(t, result.Proposed, 1)
	assert.Empty(t, result.Missing)
}

func TestRunSkipsRecordsAlreadyCurrent(t *testing.T) {
	api := &fakeMetadataAPI{byConceptID: map[string][]map[string]any{
		"C1000-PROV": {{"concept_id": "C1000-PROV", "doi": "10.5067/ABC", "cmr_entry_title": "Title"}},
	}}
	drafts := newFakeDraftService()
	canonical := &fakeCanonicalStore{records: []models.CanonicalRecord{
		doiRecord("rec-1", map[string]any{"concept_id": "C1000-PROV", "doi": "10.5067/ABC", "cmr_entry_title": "Title"}),
	}}

	matcher := NewMatcher(api, drafts, &fakeDraftFinder{}, canonical, 100, matchActor, testLogger())
	result, err := matcher.Run(context.Background(), testTenant)
	require.NoError(t, err)

	assert.Empty(t, drafts.created)
	assert.Empty(t, result.Proposed)
}

func TestRunReportsUnmatchedRecords(t *testing.T) {
	api := &fakeMetadataAPI{
		byDOI: map[string][]map[string]any{
			// Two catalog hits is ambiguous, not a match.
			"10.5067/AMBIG": {{"doi": "10.5067/AMBIG"}, {"doi": "10.5067/AMBIG"}},
		},
	}
	drafts := newFakeDraftService()
	canonical := &fakeCanonicalStore{records: []models.CanonicalRecord{
		doiRecord("rec-1", map[string]any{"doi": "10.5067/GONE"}),
		doiRecord("rec-2", map[string]any{"doi": "10.5067/AMBIG"}),
	}}

	matcher := NewMatcher(api, drafts, &fakeDraftFinder{}, canonical, 100, matchActor, testLogger())
	result, err := matcher.Run(context.Background(), testTenant)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Scanned)
	assert.ElementsMatch(t, []string{"rec-1", "rec-2"}, result.Missing)
	assert.Empty(t, drafts.created)
}

func TestRunFallsBackToDOILookup(t *testing.T) {
	api := &fakeMetadataAPI{
		byDOI: map[string][]map[string]any{
			"10.5067/ABC": {{"doi": "10.5067/ABC", "cmr_entry_title": "Title"}},
		},
	}
	drafts := newFakeDraftService()
	canonical := &fakeCanonicalStore{records: []models.CanonicalRecord{
		doiRecord("rec-1", map[string]any{"doi": "10.5067/ABC"}),
	}}

	matcher := NewMatcher(api, drafts, &fakeDraftFinder{}, canonical, 100, matchActor, testLogger())
	result, err := matcher.Run(context.Background(), testTenant)
	require.NoError(t, err)
	assert.Len(t, result.Proposed, 1)
}

func TestRunPreservesCuratedFieldsOnExistingDraft(t *testing.T) {
	api := &fakeMetadataAPI{byConceptID: map[string][]map[string]any{
		"C1000-PROV": {{"concept_id": "C1000-PROV", "cmr_entry_title": "New Title"}},
	}}
	drafts := newFakeDraftService()
	canonical := &fakeCanonicalStore{records: []models.CanonicalRecord{
		doiRecord("rec-1", map[string]any{"concept_id": "C1000-PROV", "cmr_entry_title": "Old Title"}),
	}}
	existingPayload, _ := json.Marshal(map[string]any{
		"cmr_entry_title": "Stale Title",
		"campaigns":       []any{"ABOVE"},
	})
	finder := &fakeDraftFinder{byTarget: map[string]*models.Draft{
		"rec-1": {ID: "open-draft", TargetType: "doi", TargetID: "rec-1", Action: models.ActionUpdate, Payload: existingPayload},
	}}

	matcher := NewMatcher(api, drafts, finder, canonical, 100, matchActor, testLogger())
	result, err := matcher.Run(context.Background(), testTenant)
	require.NoError(t, err)

	assert.Empty(t, drafts.created)
	require.Contains(t, drafts.mutated, "open-draft")
	merged := drafts.mutated["open-draft"]
	// Catalog data refreshes, hand-curated assignments survive.
	assert.Equal(t, "New Title", merged["cmr_entry_title"])
	assert.Equal(t, []any{"ABOVE"}, merged["campaigns"])
	assert.Equal(t, []string{"open-draft"}, result.Proposed)
}
