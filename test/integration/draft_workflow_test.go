package integration

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/aster/pkg/models"
)

// Walks a CREATE draft through the full review pipeline and verifies the
// published payload lands in the canonical store and the approval log holds
// the complete trail.
func TestDraftLifecyclePublishesCanonicalRecord(t *testing.T) {
	e := setupEngine(t)
	e.registerCampaignType(t)
	ctx := context.Background()

	draft, err := e.drafts.Create(ctx, e.tenantID, author, models.CreateDraftRequest{
		TargetType: "campaign",
		Action:     models.ActionCreate,
		Payload:    map[string]any{"short_name": "ABOVE", "long_name": "Arctic Boreal Vulnerability Experiment"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, draft.Status)
	assert.Equal(t, draft.ID, draft.TargetID)

	result, err := e.workflow.Submit(ctx, e.tenantID, draft.ID, author)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, models.StatusAwaitingReview, result.Status)

	result, err = e.workflow.Claim(ctx, e.tenantID, draft.ID, reviewer)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, models.StatusInReview, result.Status)

	result, err = e.workflow.Review(ctx, e.tenantID, draft.ID, reviewer)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, models.StatusAwaitingAdminReview, result.Status)

	result, err = e.workflow.Claim(ctx, e.tenantID, draft.ID, admin)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, models.StatusInAdminReview, result.Status)

	result, err = e.workflow.Publish(ctx, e.tenantID, draft.ID, admin)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, models.StatusPublished, result.Status)

	record, err := e.canonicalRepo.Get(ctx, e.tenantID, "campaign", draft.TargetID)
	require.NoError(t, err)
	require.NotNil(t, record)
	var data map[string]any
	require.NoError(t, json.Unmarshal(record.Data, &data))
	assert.Equal(t, "ABOVE", data["short_name"])

	history, err := e.drafts.History(ctx, e.tenantID, draft.ID)
	require.NoError(t, err)
	actions := make([]models.ApprovalAction, len(history))
	for i, entry := range history {
		actions[i] = entry.Action
	}
	assert.Equal(t, []models.ApprovalAction{
		models.ApprovalCreate,
		models.ApprovalSubmit,
		models.ApprovalClaim,
		models.ApprovalReview,
		models.ApprovalClaim,
		models.ApprovalPublish,
	}, actions)

	// Publishing resolves the draft, so the target slot opens up again.
	_, err = e.drafts.Create(ctx, e.tenantID, author, models.CreateDraftRequest{
		TargetType: "campaign",
		TargetID:   draft.TargetID,
		Action:     models.ActionUpdate,
		Payload:    map[string]any{"long_name": "ABoVE"},
	})
	require.NoError(t, err)
}

// Races several authors for the same target. The partial unique index on
// (tenant_id, target_type, target_id) must let exactly one draft through and
// surface the rest as conflicts.
func TestConcurrentCreatesOneUnresolvedDraftPerTarget(t *testing.T) {
	e := setupEngine(t)
	e.registerCampaignType(t)
	targetID := e.seedCampaign(t, "ABOVE")

	const writers = 8
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.drafts.Create(context.Background(), e.tenantID, author, models.CreateDraftRequest{
				TargetType: "campaign",
				TargetID:   targetID,
				Action:     models.ActionUpdate,
				Payload:    map[string]any{"long_name": "renamed"},
			})
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		require.ErrorIs(t, err, models.ErrConflictingDraft)
	}
	assert.Equal(t, 1, created)
}

// Races concurrent submits of one draft. The compare-and-swap on status must
// let exactly one transition through; the losers get a failure result, not an
// error.
func TestConcurrentSubmitsSingleWinner(t *testing.T) {
	e := setupEngine(t)
	e.registerCampaignType(t)
	ctx := context.Background()

	draft, err := e.drafts.Create(ctx, e.tenantID, author, models.CreateDraftRequest{
		TargetType: "campaign",
		Action:     models.ActionCreate,
		Payload:    map[string]any{"short_name": "ABOVE"},
	})
	require.NoError(t, err)

	const submitters = 6
	results := make([]*models.TransitionResult, submitters)
	errs := make([]error, submitters)
	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.workflow.Submit(context.Background(), e.tenantID, draft.ID, author)
		}(i)
	}
	wg.Wait()

	wins := 0
	for i := 0; i < submitters; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		if results[i].Success {
			wins++
		} else {
			assert.Contains(t, results[i].Message, "submit failed because status was not one of")
		}
	}
	assert.Equal(t, 1, wins)

	current, err := e.drafts.Get(ctx, e.tenantID, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingReview, current.Status)

	history, err := e.drafts.History(ctx, e.tenantID, draft.ID)
	require.NoError(t, err)
	submits := 0
	for _, entry := range history {
		if entry.Action == models.ApprovalSubmit {
			submits++
		}
	}
	assert.Equal(t, 1, submits)
}

// A trashed draft keeps holding its target slot: the unique index only
// releases a target when its draft is published.
func TestTrashedDraftHoldsTargetSlot(t *testing.T) {
	e := setupEngine(t)
	e.registerCampaignType(t)
	ctx := context.Background()
	targetID := e.seedCampaign(t, "ABOVE")

	draft, err := e.drafts.Create(ctx, e.tenantID, author, models.CreateDraftRequest{
		TargetType: "campaign",
		TargetID:   targetID,
		Action:     models.ActionUpdate,
		Payload:    map[string]any{"long_name": "renamed"},
	})
	require.NoError(t, err)

	result, err := e.workflow.Trash(ctx, e.tenantID, draft.ID, admin, "stale")
	require.NoError(t, err)
	require.True(t, result.Success)

	_, err = e.drafts.Create(ctx, e.tenantID, author, models.CreateDraftRequest{
		TargetType: "campaign",
		TargetID:   targetID,
		Action:     models.ActionUpdate,
		Payload:    map[string]any{"long_name": "other"},
	})
	require.ErrorIs(t, err, models.ErrConflictingDraft)

	// Untrashing never collides: the trashed draft is still the slot holder.
	result, err = e.workflow.Untrash(ctx, e.tenantID, draft.ID, admin)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, models.StatusCreated, result.Status)

	restored, err := e.drafts.Get(ctx, e.tenantID, draft.ID)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(restored.Payload, &payload))
	assert.Equal(t, "renamed", payload["long_name"])
}

// Republishing onto a tombstoned id revives the canonical row instead of
// tripping the primary key.
func TestCanonicalCreateRevivesTombstonedRecord(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()
	id := e.seedCampaign(t, "ABOVE")

	deleted, err := e.canonicalRepo.Tombstone(ctx, e.tenantID, "campaign", id)
	require.NoError(t, err)
	require.True(t, deleted)

	record, err := e.canonicalRepo.Get(ctx, e.tenantID, "campaign", id)
	require.NoError(t, err)
	require.Nil(t, record)

	_, err = e.canonicalRepo.Create(ctx, &models.CanonicalRecord{
		ID:         id,
		TenantID:   e.tenantID,
		EntityType: "campaign",
		Data:       json.RawMessage(`{"short_name":"ABOVE-2"}`),
	})
	require.NoError(t, err)

	record, err = e.canonicalRepo.Get(ctx, e.tenantID, "campaign", id)
	require.NoError(t, err)
	require.NotNil(t, record)
	var data map[string]any
	require.NoError(t, json.Unmarshal(record.Data, &data))
	assert.Equal(t, "ABOVE-2", data["short_name"])
	assert.Greater(t, record.Version, 1)
}

// The schema column round-trips through the registry as a typed descriptor.
func TestEntityTypeSchemaRoundTrip(t *testing.T) {
	e := setupEngine(t)
	e.registerCampaignType(t)
	ctx := context.Background()

	descriptor, err := e.entityTypes.GetSchema(ctx, e.tenantID, "campaign")
	require.NoError(t, err)
	require.NotNil(t, descriptor)
	assert.Equal(t, []string{"short_name"}, descriptor.Required)
	assert.Contains(t, descriptor.Properties, "long_name")

	missing, err := e.entityTypes.GetSchema(ctx, e.tenantID, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
