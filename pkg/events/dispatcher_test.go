package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/aster/pkg/models"
)

type recordingSink struct {
	events []string
}

func (s *recordingSink) EmitDraftCreated(ctx context.Context, draft *models.Draft, actor models.Actor) {
	s.events = append(s.events, "created:"+draft.ID)
}

func (s *recordingSink) EmitDraftUpdated(ctx context.Context, draft *models.Draft, actor models.Actor) {
	s.events = append(s.events, "updated:"+draft.ID)
}

func (s *recordingSink) EmitDraftTransitioned(ctx context.Context, draft *models.Draft, action models.ApprovalAction, actor models.Actor) {
	s.events = append(s.events, "transitioned:"+draft.ID+":"+string(action))
}

func TestDispatcherFansOutToEverySink(t *testing.T) {
	first := &recordingSink{}
	second := &recordingSink{}
	d := NewDispatcher(first, second)

	draft := &models.Draft{ID: "d-1"}
	actor := models.Actor{ID: "u-1", Role: models.RoleStaff}

	d.EmitDraftCreated(context.Background(), draft, actor)
	d.EmitDraftUpdated(context.Background(), draft, actor)
	d.EmitDraftTransitioned(context.Background(), draft, models.ApprovalSubmit, actor)

	expected := []string{"created:d-1", "updated:d-1", "transitioned:d-1:SUBMIT"}
	assert.Equal(t, expected, first.events)
	assert.Equal(t, expected, second.events)
}

func TestDispatcherWithNoSinks(t *testing.T) {
	d := NewDispatcher()
	// No sinks is a valid configuration; emission is a no-op.
	d.EmitDraftCreated(context.Background(), &models.Draft{ID: "d-1"}, models.Actor{})
}
