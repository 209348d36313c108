package lineage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/aster/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeDraftStore struct {
	drafts map[string]*models.Draft
}

func (s *fakeDraftStore) Get(ctx context.Context, tenantID, id string) (*models.Draft, error) {
	draft, ok := s.drafts[id]
	if !ok {
		return nil, fmt.Errorf("draft %s: %w", id, models.ErrNotFound)
	}
	return draft, nil
}

func (s *fakeDraftStore) Query(ctx context.Context, tenantID string, filters models.DraftQuery) (*models.DraftListResponse, error) {
	items := []models.Draft{}
	for _, d := range s.drafts {
		if filters.TargetID != nil && d.TargetID != *filters.TargetID {
			continue
		}
		items = append(items, *d)
	}
	return &models.DraftListResponse{Items: items, TotalCount: len(items)}, nil
}

func (s *fakeDraftStore) FindByPayloadValue(ctx context.Context, tenantID, value string) ([]models.Draft, error) {
	matches := []models.Draft{}
	for _, d := range s.drafts {
		payload, err := d.PayloadMap()
		if err != nil {
			return nil, err
		}
		for _, v := range payload {
			if str, ok := v.(string); ok && str == value {
				matches = append(matches, *d)
				break
			}
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

const (
	platformID   = "0aa3b3f2-1f3e-4a51-8a6f-2c4a9d0e1101"
	campaignID   = "1bb4c4a3-2a4f-4b62-9b70-3d5bae1f2202"
	instrumentID = "2cc5d5b4-3b50-4c73-ac81-4e6cbf203303"
)

func payload(fields map[string]any) json.RawMessage {
	data, _ := json.Marshal(fields)
	return data
}

func draftIDs(drafts []models.Draft) []string {
	ids := make([]string, 0, len(drafts))
	for _, d := range drafts {
		ids = append(ids, d.ID)
	}
	sort.Strings(ids)
	return ids
}

func TestResolveAncestorsAndDescendants(t *testing.T) {
	platformDraft := &models.Draft{
		ID: platformID, TenantID: testTenant,
		TargetType: "platform", TargetID: platformID,
		Action:  models.ActionCreate,
		Payload: payload(map[string]any{"short_name": "G-III"}),
	}
	campaignDraft := &models.Draft{
		ID: campaignID, TenantID: testTenant,
		TargetType: "campaign", TargetID: campaignID,
		Action:  models.ActionCreate,
		Payload: payload(map[string]any{"short_name": "ABOVE", "platform_id": platformID}),
	}
	instrumentDraft := &models.Draft{
		ID: instrumentID, TenantID: testTenant,
		TargetType: "instrument", TargetID: instrumentID,
		Action:  models.ActionCreate,
		Payload: payload(map[string]any{"short_name": "AVIRIS", "campaign_id": campaignID}),
	}
	store := &fakeDraftStore{drafts: map[string]*models.Draft{
		platformID:   platformDraft,
		campaignID:   campaignDraft,
		instrumentID: instrumentDraft,
	}}

	resolver := NewResolver(store, &fakeSchema{}, testLogger())

	resp, err := resolver.Resolve(context.Background(), testTenant, campaignID)
	require.NoError(t, err)

	assert.Equal(t, campaignID, resp.Draft.ID)
	assert.Equal(t, []string{platformID}, draftIDs(resp.Ancestors))
	assert.Equal(t, []string{instrumentID}, draftIDs(resp.Descendants))
}

func TestResolveHonorsReferenceFields(t *testing.T) {
	campaignDraft := &models.Draft{
		ID: campaignID, TenantID: testTenant,
		TargetType: "campaign", TargetID: campaignID,
		Action: models.ActionCreate,
		// instrumentID sits in a field the schema does not flag as a reference.
		Payload: payload(map[string]any{"platform_id": platformID, "notes": instrumentID}),
	}
	platformDraft := &models.Draft{
		ID: platformID, TenantID: testTenant,
		TargetType: "platform", TargetID: platformID,
		Action:  models.ActionCreate,
		Payload: payload(map[string]any{"short_name": "G-III"}),
	}
	instrumentDraft := &models.Draft{
		ID: instrumentID, TenantID: testTenant,
		TargetType: "instrument", TargetID: instrumentID,
		Action:  models.ActionCreate,
		Payload: payload(map[string]any{"short_name": "AVIRIS"}),
	}
	store := &fakeDraftStore{drafts: map[string]*models.Draft{
		platformID:   platformDraft,
		campaignID:   campaignDraft,
		instrumentID: instrumentDraft,
	}}

	resolver := NewResolver(store, &fakeSchema{refFields: map[string]bool{"platform_id": true}}, testLogger())

	resp, err := resolver.Resolve(context.Background(), testTenant, campaignID)
	require.NoError(t, err)
	assert.Equal(t, []string{platformID}, draftIDs(resp.Ancestors))
}

func TestResolveSkipsDanglingReferences(t *testing.T) {
	campaignDraft := &models.Draft{
		ID: campaignID, TenantID: testTenant,
		TargetType: "campaign", TargetID: campaignID,
		Action: models.ActionCreate,
		// No draft targets this id.
		Payload: payload(map[string]any{"platform_id": "99f0e0d0-5d72-4e95-ce93-6080e1425505"}),
	}
	store := &fakeDraftStore{drafts: map[string]*models.Draft{campaignID: campaignDraft}}

	resolver := NewResolver(store, &fakeSchema{}, testLogger())

	resp, err := resolver.Resolve(context.Background(), testTenant, campaignID)
	require.NoError(t, err)
	assert.Empty(t, resp.Ancestors)
	assert.Empty(t, resp.Descendants)
}

func TestReferenceIDsExcludesSelf(t *testing.T) {
	draft := &models.Draft{
		ID: campaignID, TenantID: testTenant,
		TargetType: "campaign", TargetID: campaignID,
		Payload: payload(map[string]any{
			"self":      campaignID,
			"platform":  platformID,
			"nested":    map[string]any{"instrument": instrumentID},
			"free_text": "not an id",
		}),
	}

	ids, err := ReferenceIDs(draft, nil)
	require.NoError(t, err)
	sort.Strings(ids)
	assert.Equal(t, []string{platformID, instrumentID}, ids)
}

func TestResolveUnknownDraft(t *testing.T) {
	store := &fakeDraftStore{drafts: map[string]*models.Draft{}}
	resolver := NewResolver(store, &fakeSchema{}, testLogger())

	_, err := resolver.Resolve(context.Background(), testTenant, "missing")
	require.ErrorIs(t, err, models.ErrNotFound)
}
