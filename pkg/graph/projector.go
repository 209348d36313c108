package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/tracing"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Projector mirrors drafts into the graph database as :Draft nodes with
// DEPENDS_ON edges, so dependency chains can be traversed without repeated
// payload scans. The relational store stays authoritative; the projection is
// rebuilt from it and may lag.
type Projector struct {
	client *Client
	logger ectologger.Logger
}

// NewProjector creates a new draft projector
func NewProjector(client *Client, logger ectologger.Logger) *Projector {
	return &Projector{
		client: client,
		logger: logger,
	}
}

// SyncDraft upserts the draft's node and rewrites its outgoing DEPENDS_ON
// edges. dependsOn holds the target ids the draft's payload references;
// edges land on whichever draft currently holds each target, and ids with no
// matching node are skipped.
func (p *Projector) SyncDraft(ctx context.Context, draft *models.Draft, dependsOn []string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.SyncDraft")
	defer span.End()

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"draft_id":  draft.ID,
		"tenant_id": draft.TenantID,
	})

	props := map[string]any{
		"id":          draft.ID,
		"tenant_id":   draft.TenantID,
		"target_type": draft.TargetType,
		"target_id":   draft.TargetID,
		"action":      string(draft.Action),
		"status":      string(draft.Status),
		"author":      draft.Author,
	}

	_, err := p.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MERGE (d:Draft {id: $id, tenant_id: $tenant_id})
			SET d = $props
			WITH d
			OPTIONAL MATCH (d)-[r:DEPENDS_ON]->()
			DELETE r
		`, map[string]any{
			"id":        draft.ID,
			"tenant_id": draft.TenantID,
			"props":     props,
		})
		if err != nil {
			return nil, err
		}
		if _, err := result.Consume(ctx); err != nil {
			return nil, err
		}

		if len(dependsOn) == 0 {
			return nil, nil
		}

		result, err = tx.Run(ctx, `
			MATCH (d:Draft {id: $id, tenant_id: $tenant_id})
			UNWIND $deps AS dep_target
			MATCH (a:Draft {tenant_id: $tenant_id, target_id: dep_target})
			MERGE (d)-[:DEPENDS_ON]->(a)
		`, map[string]any{
			"id":        draft.ID,
			"tenant_id": draft.TenantID,
			"deps":      dependsOn,
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})

	if err != nil {
		log.WithError(err).Error("Failed to sync draft to graph")
		return fmt.Errorf("failed to sync draft to graph: %w", err)
	}

	log.Debug("Synced draft to graph")
	return nil
}

// UpdateStatus refreshes a projected draft's status property
func (p *Projector) UpdateStatus(ctx context.Context, tenantID, draftID string, status models.DraftStatus) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.UpdateStatus")
	defer span.End()

	_, err := p.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (d:Draft {id: $id, tenant_id: $tenant_id})
			SET d.status = $status
		`, map[string]any{
			"id":        draftID,
			"tenant_id": tenantID,
			"status":    string(status),
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})

	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to update draft status in graph")
		return fmt.Errorf("failed to update draft status in graph: %w", err)
	}
	return nil
}

// Remove detaches and deletes a draft's node
func (p *Projector) Remove(ctx context.Context, tenantID, draftID string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.Remove")
	defer span.End()

	_, err := p.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (d:Draft {id: $id, tenant_id: $tenant_id})
			DETACH DELETE d
		`, map[string]any{
			"id":        draftID,
			"tenant_id": tenantID,
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})

	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to remove draft from graph")
		return fmt.Errorf("failed to remove draft from graph: %w", err)
	}
	return nil
}

// Dependents returns the ids of drafts with a DEPENDS_ON edge into the draft
// holding the given target id
func (p *Projector) Dependents(ctx context.Context, tenantID, targetID string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.Dependents")
	defer span.End()

	result, err := p.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (d:Draft {tenant_id: $tenant_id})-[:DEPENDS_ON]->(a:Draft {tenant_id: $tenant_id, target_id: $target_id})
			RETURN d.id AS id
		`, map[string]any{
			"tenant_id": tenantID,
			"target_id": targetID,
		})
		if err != nil {
			return nil, err
		}

		ids := []string{}
		for result.Next(ctx) {
			if id, ok := result.Record().Get("id"); ok {
				ids = append(ids, fmt.Sprintf("%v", id))
			}
		}
		return ids, nil
	})

	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to query draft dependents")
		return nil, fmt.Errorf("failed to query draft dependents: %w", err)
	}
	return result.([]string), nil
}
