package events

import (
	"context"

	"github.com/Ramsey-B/aster/pkg/models"
)

// Sink receives draft lifecycle notifications after the owning transaction
// has committed
type Sink interface {
	EmitDraftCreated(ctx context.Context, draft *models.Draft, actor models.Actor)
	EmitDraftUpdated(ctx context.Context, draft *models.Draft, actor models.Actor)
	EmitDraftTransitioned(ctx context.Context, draft *models.Draft, action models.ApprovalAction, actor models.Actor)
}

// Dispatcher fans lifecycle notifications out to every registered sink. Sinks
// are independent: one sink failing (they log, they don't return errors) never
// stops the others.
type Dispatcher struct {
	sinks []Sink
}

// NewDispatcher creates a dispatcher over the given sinks
func NewDispatcher(sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks}
}

func (d *Dispatcher) EmitDraftCreated(ctx context.Context, draft *models.Draft, actor models.Actor) {
	for _, s := range d.sinks {
		s.EmitDraftCreated(ctx, draft, actor)
	}
}

func (d *Dispatcher) EmitDraftUpdated(ctx context.Context, draft *models.Draft, actor models.Actor) {
	for _, s := range d.sinks {
		s.EmitDraftUpdated(ctx, draft, actor)
	}
}

func (d *Dispatcher) EmitDraftTransitioned(ctx context.Context, draft *models.Draft, action models.ApprovalAction, actor models.Actor) {
	for _, s := range d.sinks {
		s.EmitDraftTransitioned(ctx, draft, action, actor)
	}
}
