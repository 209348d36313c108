package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeTx struct {
	database.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) IsOpen() bool { return !t.committed && !t.rolledBack }

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeTxBeginner struct {
	lastTx *fakeTx
}

func (f *fakeTxBeginner) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error) {
	f.lastTx = &fakeTx{}
	return ctx, f.lastTx, nil
}

type fakeDraftStore struct {
	draft     *models.Draft
	updates   []models.DraftStatusUpdate
	updateErr error
}

func (s *fakeDraftStore) Get(ctx context.Context, tenantID, id string) (*models.Draft, error) {
	if s.draft == nil || s.draft.ID != id {
		return nil, fmt.Errorf("draft %s: %w", id, models.ErrNotFound)
	}
	copy := *s.draft
	return &copy, nil
}

func (s *fakeDraftStore) UpdateStatus(ctx context.Context, tenantID, id string, upd models.DraftStatusUpdate) (*models.Draft, error) {
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	s.updates = append(s.updates, upd)

	s.draft.Status = upd.Status
	if upd.SetClaimedBy {
		s.draft.ClaimedBy = upd.ClaimedBy
	}
	if upd.SetPreviousStatus {
		s.draft.PreviousStatus = upd.PreviousStatus
	}
	if upd.SetPayload {
		s.draft.Payload = upd.Payload
	}
	if upd.SetBaseline {
		s.draft.Baseline = upd.Baseline
	}
	copy := *s.draft
	return &copy, nil
}

type fakeAudit struct {
	entries []models.ApprovalLogEntry
}

func (a *fakeAudit) Append(ctx context.Context, entry models.ApprovalLogEntry) error {
	a.entries = append(a.entries, entry)
	return nil
}

type fakeMaterializer struct {
	calls int
	err   error
}

func (m *fakeMaterializer) Materialize(ctx context.Context, draft *models.Draft) (*models.CanonicalRecord, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &models.CanonicalRecord{ID: draft.TargetID, TenantID: draft.TenantID, EntityType: draft.TargetType}, nil
}

type fakeEmitter struct {
	actions []models.ApprovalAction
}

func (e *fakeEmitter) EmitDraftTransitioned(ctx context.Context, draft *models.Draft, action models.ApprovalAction, actor models.Actor) {
	e.actions = append(e.actions, action)
}

const testTenant = "c1b70e3e-47a3-4e8f-9e5c-3a8d2cf6b0a1"

func newTestDraft(status models.DraftStatus) *models.Draft {
	return &models.Draft{
		ID:         "d8f3f1cc-4a07-4f83-96a8-56e5f0d4a001",
		TenantID:   testTenant,
		TargetType: "campaign",
		TargetID:   "0d6ad0d2-94b1-4c2d-bd6b-25e50c2f7002",
		Action:     models.ActionUpdate,
		Status:     status,
		Payload:    json.RawMessage(`{"short_name":"ABOVE"}`),
		Baseline:   json.RawMessage(`{"short_name":"OLD"}`),
		Author:     "author-1",
	}
}

func newTestService(store *fakeDraftStore) (*Service, *fakeTxBeginner, *fakeAudit, *fakeMaterializer, *fakeEmitter) {
	db := &fakeTxBeginner{}
	audit := &fakeAudit{}
	mat := &fakeMaterializer{}
	emitter := &fakeEmitter{}
	svc := NewService(db, store, audit, mat, emitter, testLogger())
	return svc, db, audit, mat, emitter
}

func TestNormalWorkflow(t *testing.T) {
	store := &fakeDraftStore{draft: newTestDraft(models.StatusCreated)}
	svc, _, audit, mat, emitter := newTestService(store)
	ctx := context.Background()

	author := models.Actor{ID: "author-1", Role: models.RoleStaff}
	reviewer := models.Actor{ID: "reviewer-1", Role: models.RoleStaff}
	admin := models.Actor{ID: "admin-1", Role: models.RoleAdmin}

	result, err := svc.Submit(ctx, testTenant, store.draft.ID, author)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, models.StatusAwaitingReview, result.Status)

	result, err = svc.Claim(ctx, testTenant, store.draft.ID, reviewer)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, models.StatusInReview, result.Status)
	require.NotNil(t, store.draft.ClaimedBy)
	assert.Equal(t, "reviewer-1", *store.draft.ClaimedBy)

	result, err = svc.Review(ctx, testTenant, store.draft.ID, reviewer)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, models.StatusAwaitingAdminReview, result.Status)
	assert.Nil(t, store.draft.ClaimedBy)

	// The admin review queue is closed to staff.
	result, err = svc.Claim(ctx, testTenant, store.draft.ID, reviewer)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, models.StatusAwaitingAdminReview, result.Status)
	assert.Equal(t, "claim failed because initiating user was not admin", result.Message)

	result, err = svc.Claim(ctx, testTenant, store.draft.ID, admin)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, models.StatusInAdminReview, result.Status)

	result, err = svc.Publish(ctx, testTenant, store.draft.ID, admin)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, models.StatusPublished, result.Status)
	assert.Equal(t, 1, mat.calls)

	assert.Equal(t, []models.ApprovalAction{
		models.ApprovalSubmit,
		models.ApprovalClaim,
		models.ApprovalReview,
		models.ApprovalClaim,
		models.ApprovalPublish,
	}, actionsOf(audit.entries))
	assert.Equal(t, actionsOf(audit.entries), emitter.actions)
}

func actionsOf(entries []models.ApprovalLogEntry) []models.ApprovalAction {
	actions := make([]models.ApprovalAction, len(entries))
	for i, e := range entries {
		actions[i] = e.Action
	}
	return actions
}

func TestStaffCannotPublish(t *testing.T) {
	store := &fakeDraftStore{draft: newTestDraft(models.StatusInAdminReview)}
	svc, _, audit, mat, _ := newTestService(store)

	result, err := svc.Publish(context.Background(), testTenant, store.draft.ID, models.Actor{ID: "reviewer-1", Role: models.RoleStaff})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, models.StatusInAdminReview, result.Status)
	assert.Equal(t, "publish failed because initiating user was not admin", result.Message)
	assert.Zero(t, mat.calls)
	assert.Empty(t, audit.entries)
}

func TestStaffCannotTrashOrUntrash(t *testing.T) {
	staff := models.Actor{ID: "reviewer-1", Role: models.RoleStaff}

	store := &fakeDraftStore{draft: newTestDraft(models.StatusInProgress)}
	svc, _, _, _, _ := newTestService(store)

	result, err := svc.Trash(context.Background(), testTenant, store.draft.ID, staff, "")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "trash failed because initiating user was not admin", result.Message)

	store = &fakeDraftStore{draft: newTestDraft(models.StatusInTrash)}
	svc, _, _, _, _ = newTestService(store)

	result, err = svc.Untrash(context.Background(), testTenant, store.draft.ID, staff)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "untrash failed because initiating user was not admin", result.Message)
}

func TestPublishedDraftCannotBeTrashed(t *testing.T) {
	store := &fakeDraftStore{draft: newTestDraft(models.StatusPublished)}
	svc, _, _, _, _ := newTestService(store)

	result, err := svc.Trash(context.Background(), testTenant, store.draft.ID, models.Actor{ID: "admin-1", Role: models.RoleAdmin}, "")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, models.StatusPublished, result.Status)
	assert.Equal(t, "trash failed because the draft has been published", result.Message)
}

func TestTrashSnapshotsAndUntrashRestores(t *testing.T) {
	store := &fakeDraftStore{draft: newTestDraft(models.StatusAwaitingReview)}
	svc, _, _, _, _ := newTestService(store)
	admin := models.Actor{ID: "admin-1", Role: models.RoleAdmin}
	payload := string(store.draft.Payload)
	baseline := string(store.draft.Baseline)

	result, err := svc.Trash(context.Background(), testTenant, store.draft.ID, admin, "stale")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, models.StatusInTrash, result.Status)
	require.NotNil(t, store.draft.PreviousStatus)
	assert.Equal(t, models.StatusAwaitingReview, *store.draft.PreviousStatus)
	assert.JSONEq(t, payload, string(store.draft.Baseline))
	assert.JSONEq(t, baseline, string(store.draft.Payload))

	result, err = svc.Untrash(context.Background(), testTenant, store.draft.ID, admin)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, models.StatusAwaitingReview, result.Status)
	assert.Nil(t, store.draft.PreviousStatus)

	// Both the working payload and the diffing baseline survive the cycle.
	assert.JSONEq(t, payload, string(store.draft.Payload))
	assert.JSONEq(t, baseline, string(store.draft.Baseline))
}

func TestTrashCycleOnCreateDraft(t *testing.T) {
	draft := newTestDraft(models.StatusCreated)
	draft.Action = models.ActionCreate
	draft.Baseline = nil
	store := &fakeDraftStore{draft: draft}
	svc, _, _, _, _ := newTestService(store)
	admin := models.Actor{ID: "admin-1", Role: models.RoleAdmin}
	payload := string(draft.Payload)

	result, err := svc.Trash(context.Background(), testTenant, draft.ID, admin, "")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.JSONEq(t, payload, string(store.draft.Baseline))
	assert.JSONEq(t, `{}`, string(store.draft.Payload))

	result, err = svc.Untrash(context.Background(), testTenant, draft.ID, admin)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.JSONEq(t, payload, string(store.draft.Payload))
	assert.JSONEq(t, `{}`, string(store.draft.Baseline))
}

func TestUntrashWithoutPreviousStatusFallsBack(t *testing.T) {
	draft := newTestDraft(models.StatusInTrash)
	draft.PreviousStatus = nil
	store := &fakeDraftStore{draft: draft}
	svc, _, _, _, _ := newTestService(store)

	result, err := svc.Untrash(context.Background(), testTenant, draft.ID, models.Actor{ID: "admin-1", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, models.StatusCreated, result.Status)
}

func TestUnclaimIsAdminOnly(t *testing.T) {
	claimer := "reviewer-1"
	draft := newTestDraft(models.StatusInReview)
	draft.ClaimedBy = &claimer
	store := &fakeDraftStore{draft: draft}
	svc, _, _, _, _ := newTestService(store)

	// Even the claim holder cannot release it without the admin tier.
	result, err := svc.Unclaim(context.Background(), testTenant, draft.ID, models.Actor{ID: claimer, Role: models.RoleStaff})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "unclaim failed because initiating user was not admin", result.Message)

	result, err = svc.Unclaim(context.Background(), testTenant, draft.ID, models.Actor{ID: "admin-1", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, models.StatusAwaitingReview, result.Status)
	assert.Nil(t, store.draft.ClaimedBy)
}

func TestClaimFromWrongStatus(t *testing.T) {
	store := &fakeDraftStore{draft: newTestDraft(models.StatusCreated)}
	svc, _, _, _, _ := newTestService(store)

	result, err := svc.Claim(context.Background(), testTenant, store.draft.ID, models.Actor{ID: "reviewer-1", Role: models.RoleStaff})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, models.StatusCreated, result.Status)
	assert.Equal(t, fmt.Sprintf("claim failed because status was not one of %v",
		[]models.DraftStatus{models.StatusAwaitingReview, models.StatusAwaitingAdminReview}), result.Message)
}

func TestLostStatusRaceReportsFailure(t *testing.T) {
	store := &fakeDraftStore{
		draft:     newTestDraft(models.StatusInProgress),
		updateErr: fmt.Errorf("status changed: %w", models.ErrInvalidTransition),
	}
	svc, _, audit, _, _ := newTestService(store)

	result, err := svc.Submit(context.Background(), testTenant, store.draft.ID, models.Actor{ID: "author-1", Role: models.RoleStaff})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "submit failed because status was not one of")
	assert.Empty(t, audit.entries)
}

func TestMaterializationFailureAbortsPublish(t *testing.T) {
	store := &fakeDraftStore{draft: newTestDraft(models.StatusInAdminReview)}
	svc, db, audit, mat, emitter := newTestService(store)
	mat.err = fmt.Errorf("canonical write failed")

	_, err := svc.Publish(context.Background(), testTenant, store.draft.ID, models.Actor{ID: "admin-1", Role: models.RoleAdmin})
	require.Error(t, err)
	assert.Equal(t, models.StatusInAdminReview, store.draft.Status)
	assert.Empty(t, audit.entries)
	assert.Empty(t, emitter.actions)
	assert.True(t, db.lastTx.rolledBack)
}

func TestUnknownDraft(t *testing.T) {
	store := &fakeDraftStore{}
	svc, _, _, _, _ := newTestService(store)

	_, err := svc.Submit(context.Background(), testTenant, "missing", models.Actor{ID: "author-1", Role: models.RoleStaff})
	require.ErrorIs(t, err, models.ErrNotFound)
}
