package gcmdsync

import (
	"context"
	"encoding/json"
	"fmt"
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

type fakeKeywordAPI struct {
	keywords []map[string]any
}

func (a *fakeKeywordAPI) FetchKeywords(ctx context.Context, scheme string) ([]map[string]any, error) {
	return a.keywords, nil
}

type createdDraft struct {
	draft   *models.Draft
	payload map[string]any
}

type fakeDraftService struct {
	created []createdDraft
	mutated map[string]map[string]any
}

func newFakeDraftService() *fakeDraftService {
	return &fakeDraftService{mutated: map[string]map[string]any{}}
}

func (s *fakeDraftService) Create(ctx context.Context, tenantID string, actor models.Actor, req models.CreateDraftRequest) (*models.Draft, error) {
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, err
	}
	draft := &models.Draft{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		Action:     req.Action,
		Status:     models.StatusCreated,
		Payload:    payload,
		Author:     actor.ID,
	}
	if req.Action == models.ActionCreate {
		draft.TargetID = draft.ID
	}
	s.created = append(s.created, createdDraft{draft: draft, payload: req.Payload})
	return draft, nil
}

func (s *fakeDraftService) Mutate(ctx context.Context, tenantID, id string, actor models.Actor, updates map[string]any) (*models.Draft, error) {
	s.mutated[id] = updates
	return &models.Draft{ID: id, TenantID: tenantID}, nil
}

type fakeWorkflowService struct {
	published []string
}

func (w *fakeWorkflowService) Publish(ctx context.Context, tenantID, draftID string, actor models.Actor) (*models.TransitionResult, error) {
	w.published = append(w.published, draftID)
	return &models.TransitionResult{Success: true, Status: models.StatusPublished}, nil
}

type fakeDraftFinder struct {
	byTarget  map[string]*models.Draft
	byPayload map[string][]models.Draft
}

func (f *fakeDraftFinder) FindUnresolvedByTarget(ctx context.Context, tenantID, targetType, targetID string) (*models.Draft, error) {
	if f.byTarget == nil {
		return nil, nil
	}
	return f.byTarget[targetID], nil
}

func (f *fakeDraftFinder) FindByPayloadValue(ctx context.Context, tenantID, value string) ([]models.Draft, error) {
	if f.byPayload == nil {
		return nil, nil
	}
	return f.byPayload[value], nil
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

func (s *fakeCanonicalStore) FindByDataValue(ctx context.Context, tenantID, entityType, field, value string) ([]models.CanonicalRecord, error) {
	matches := []models.CanonicalRecord{}
	for _, record := range s.records {
		fields, err := record.DataMap()
		if err != nil {
			return nil, err
		}
		if v, _ := fields[field].(string); v == value {
			matches = append(matches, record)
		}
	}
	return matches, nil
}

type fakeSchema struct {
	refFields map[string]bool
}

func (s *fakeSchema) GetReferenceFields(ctx context.Context, tenantID, targetType string) (map[string]bool, error) {
	return s.refFields, nil
}

const testTenant = "c1b70e3e-47a3-4e8f-9e5c-3a8d2cf6b0a1"

var syncActor = models.Actor{ID: "system-sync", Role: models.RoleAdmin}

type syncEnv struct {
	api       *fakeKeywordAPI
	drafts    *fakeDraftService
	workflow  *fakeWorkflowService
	finder    *fakeDraftFinder
	canonical *fakeCanonicalStore
	schema    *fakeSchema
	syncer    *Syncer
}

func newSyncEnv() *syncEnv {
	env := &syncEnv{
		api:       &fakeKeywordAPI{},
		drafts:    newFakeDraftService(),
		workflow:  &fakeWorkflowService{},
		finder:    &fakeDraftFinder{},
		canonical: &fakeCanonicalStore{},
		schema:    &fakeSchema{},
	}
	env.syncer = NewSyncer(env.api, env.drafts, env.workflow, env.finder, env.canonical, env.schema, syncActor, testLogger())
	return env
}

func kmsKeyword(id, shortName string) map[string]any {
	return map[string]any{"UUID": id, "Short_Name": shortName}
}

func canonicalKeyword(id, gcmdUUID, shortName string) models.CanonicalRecord {
	data, _ := json.Marshal(map[string]any{"gcmd_uuid": gcmdUUID, "short_name": shortName})
	return models.CanonicalRecord{ID: id, TenantID: testTenant, EntityType: "gcmd_platform", Data: data}
}

func TestSyncProposesAndPublishesNewKeyword(t *testing.T) {
	env := newSyncEnv()
	gcmdUUID := uuid.New().String()
	env.api.keywords = []map[string]any{kmsKeyword(gcmdUUID, "G-III")}

	result, err := env.syncer.Sync(context.Background(), testTenant, "platforms")
	require.NoError(t, err)

	require.Len(t, env.drafts.created, 1)
	created := env.drafts.created[0]
	assert.Equal(t, "gcmd_platform", created.draft.TargetType)
	assert.Equal(t, models.ActionCreate, created.draft.Action)
	assert.Equal(t, gcmdUUID, created.payload["gcmd_uuid"])
	assert.Equal(t, "G-III", created.payload["short_name"])

	// Reference-free keyword creates publish without curator review.
	assert.Equal(t, []string{created.draft.ID}, env.workflow.published)
	assert.Equal(t, result.Published, env.workflow.published)
	assert.Equal(t, 1, result.Fetched)
}

func TestSyncSkipsMatchingKeyword(t *testing.T) {
	env := newSyncEnv()
	gcmdUUID := uuid.New().String()
	env.api.keywords = []map[string]any{kmsKeyword(gcmdUUID, "G-III")}
	env.canonical.records = []models.CanonicalRecord{canonicalKeyword("rec-1", gcmdUUID, "G-III")}

	result, err := env.syncer.Sync(context.Background(), testTenant, "platforms")
	require.NoError(t, err)

	assert.Empty(t, env.drafts.created)
	assert.Empty(t, result.Created)
	assert.Empty(t, result.Updated)
	assert.Empty(t, result.Deleted)
}

func TestSyncProposesUpdateForDivergence(t *testing.T) {
	env := newSyncEnv()
	gcmdUUID := uuid.New().String()
	env.api.keywords = []map[string]any{kmsKeyword(gcmdUUID, "G-III RENAMED")}
	env.canonical.records = []models.CanonicalRecord{canonicalKeyword("rec-1", gcmdUUID, "G-III")}

	result, err := env.syncer.Sync(context.Background(), testTenant, "platforms")
	require.NoError(t, err)

	require.Len(t, env.drafts.created, 1)
	created := env.drafts.created[0]
	assert.Equal(t, models.ActionUpdate, created.draft.Action)
	assert.Equal(t, "rec-1", created.draft.TargetID)
	assert.Equal(t, result.Updated, []string{created.draft.ID})

	// Updates always wait for a curator.
	assert.Empty(t, env.workflow.published)
}

func TestSyncProposesDeleteForRemovedKeyword(t *testing.T) {
	env := newSyncEnv()
	env.api.keywords = nil
	env.canonical.records = []models.CanonicalRecord{canonicalKeyword("rec-1", uuid.New().String(), "G-III")}

	result, err := env.syncer.Sync(context.Background(), testTenant, "platforms")
	require.NoError(t, err)

	require.Len(t, env.drafts.created, 1)
	created := env.drafts.created[0]
	assert.Equal(t, models.ActionDelete, created.draft.Action)
	assert.Equal(t, "rec-1", created.draft.TargetID)
	assert.Equal(t, result.Deleted, []string{created.draft.ID})
	assert.Equal(t, []string{created.draft.ID}, env.workflow.published)
}

func TestSyncUpdatesExistingDraftInPlace(t *testing.T) {
	env := newSyncEnv()
	gcmdUUID := uuid.New().String()
	env.api.keywords = []map[string]any{kmsKeyword(gcmdUUID, "G-III RENAMED")}
	env.canonical.records = []models.CanonicalRecord{canonicalKeyword("rec-1", gcmdUUID, "G-III")}
	env.finder.byTarget = map[string]*models.Draft{
		"rec-1": {ID: "open-draft", TargetType: "gcmd_platform", TargetID: "rec-1", Action: models.ActionUpdate, Status: models.StatusInProgress},
	}

	result, err := env.syncer.Sync(context.Background(), testTenant, "platforms")
	require.NoError(t, err)

	assert.Empty(t, env.drafts.created)
	require.Contains(t, env.drafts.mutated, "open-draft")
	assert.Equal(t, "G-III RENAMED", env.drafts.mutated["open-draft"]["short_name"])
	assert.Equal(t, []string{"open-draft"}, result.Updated)
}

func TestSyncHoldsLinkedCreatesForReview(t *testing.T) {
	env := newSyncEnv()
	gcmdUUID := uuid.New().String()
	keyword := kmsKeyword(gcmdUUID, "AVIRIS")
	keyword["Category"] = uuid.New().String()
	env.api.keywords = []map[string]any{keyword}
	env.schema.refFields = map[string]bool{"category": true}

	result, err := env.syncer.Sync(context.Background(), testTenant, "platforms")
	require.NoError(t, err)

	require.Len(t, result.Created, 1)
	// A keyword that references another record needs curator judgment.
	assert.Empty(t, env.workflow.published)
}

func TestSyncFiltersPlaceholderRows(t *testing.T) {
	env := newSyncEnv()
	env.api.keywords = []map[string]any{
		kmsKeyword(uuid.New().String(), "NOT APPLICABLE"),
		kmsKeyword("not-a-uuid", "G-III"),
		kmsKeyword(uuid.New().String(), "  "),
	}

	result, err := env.syncer.Sync(context.Background(), testTenant, "platforms")
	require.NoError(t, err)

	assert.Equal(t, 3, result.Fetched)
	assert.Empty(t, env.drafts.created)
}

func TestSyncRejectsUnknownScheme(t *testing.T) {
	env := newSyncEnv()

	_, err := env.syncer.Sync(context.Background(), testTenant, "chronostratigraphy")
	require.Error(t, err)
}

func TestNormalizeKeyword(t *testing.T) {
	record := map[string]any{
		"UUID":              "abc",
		"Short_Name":        "MODIS",
		"Category":          "Earth Remote Sensing Instruments",
		"Detailed_Variable": "dropped",
	}

	out := normalizeKeyword(record, "instruments")
	assert.Equal(t, "abc", out["gcmd_uuid"])
	assert.Equal(t, "MODIS", out["short_name"])
	assert.Equal(t, "Earth Remote Sensing Instruments", out["instrument_category"])
	assert.NotContains(t, out, "detailed_variable")
	assert.NotContains(t, out, "Detailed_Variable")
}

func TestSchemesCoverEveryMappedScheme(t *testing.T) {
	schemes := Schemes()
	assert.ElementsMatch(t, []string{"instruments", "projects", "platforms", "sciencekeywords"}, schemes)

	for _, scheme := range schemes {
		_, ok := schemeToType[scheme]
		assert.True(t, ok, fmt.Sprintf("scheme %s", scheme))
	}
}
