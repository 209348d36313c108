package draft

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/tracing"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"
)

const tableName = "drafts"

var columns = []string{
	"id", "tenant_id", "target_type", "target_id", "action", "status",
	"previous_status", "payload", "baseline", "author", "claimed_by",
	"created_at", "updated_at",
}

// Repository handles draft persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new draft repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// DB returns the underlying database handle for callers that open transactions
func (r *Repository) DB() database.DB {
	return r.db
}

// Insert persists a new draft. A unique-violation on the active-target index
// is surfaced as ErrConflictingDraft: another unresolved draft already holds
// the (target_type, target_id) slot.
func (r *Repository) Insert(ctx context.Context, draft *models.Draft) (*models.Draft, error) {
	ctx, span := tracing.StartSpan(ctx, "draft.Repository.Insert")
	defer span.End()

	now := time.Now().UTC()
	draft.CreatedAt = now
	draft.UpdatedAt = now

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(tableName)
	sb.Cols(columns...)
	sb.Values(
		draft.ID, draft.TenantID, draft.TargetType, draft.TargetID,
		draft.Action, draft.Status, draft.PreviousStatus, draft.Payload,
		draft.Baseline, draft.Author, draft.ClaimedBy,
		draft.CreatedAt, draft.UpdatedAt,
	)

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, fmt.Errorf("unresolved draft already exists for %s/%s: %w", draft.TargetType, draft.TargetID, models.ErrConflictingDraft)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": draft.ID, "tenant_id": draft.TenantID, "target_type": draft.TargetType}).Error("Failed to insert draft")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert draft")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": draft.ID, "target_type": draft.TargetType, "action": draft.Action}).Info("Created draft")
	return draft, nil
}

// Get retrieves a draft by ID
func (r *Repository) Get(ctx context.Context, tenantID string, id string) (*models.Draft, error) {
	ctx, span := tracing.StartSpan(ctx, "draft.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	var draft models.Draft
	if err := q.GetContext(ctx, &draft, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, fmt.Errorf("draft %s: %w", id, models.ErrNotFound)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID}).Error("Failed to get draft")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get draft")
	}

	return &draft, nil
}

// GetByIDs retrieves drafts by their IDs
func (r *Repository) GetByIDs(ctx context.Context, tenantID string, ids []string) ([]models.Draft, error) {
	ctx, span := tracing.StartSpan(ctx, "draft.Repository.GetByIDs")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.In("id", sqlbuilder.Flatten(ids)...),
	)

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	var drafts []models.Draft
	if err := q.SelectContext(ctx, &drafts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "ids": ids}).Error("Failed to get drafts by IDs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get drafts")
	}
	return drafts, nil
}

// FindUnresolvedByTarget returns the unresolved (not yet published) draft
// holding the (target_type, target_id) slot, or nil when the slot is free.
func (r *Repository) FindUnresolvedByTarget(ctx context.Context, tenantID, targetType, targetID string) (*models.Draft, error) {
	ctx, span := tracing.StartSpan(ctx, "draft.Repository.FindUnresolvedByTarget")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("target_type", targetType),
		sb.Equal("target_id", targetID),
		sb.NotEqual("status", models.StatusPublished),
	)
	sb.OrderBy("created_at DESC")
	sb.Limit(1)

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	var draft models.Draft
	if err := q.GetContext(ctx, &draft, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "target_type": targetType, "target_id": targetID}).Error("Failed to find unresolved draft by target")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find draft")
	}
	return &draft, nil
}

// UpdatePayload replaces the draft's payload and baseline and sets its status.
// Used by the mutate path; the workflow engine uses UpdateStatus instead.
func (r *Repository) UpdatePayload(ctx context.Context, tenantID, id string, payload, baseline []byte, status models.DraftStatus) (*models.Draft, error) {
	ctx, span := tracing.StartSpan(ctx, "draft.Repository.UpdatePayload")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(tableName)
	sb.Set(
		sb.Assign("payload", payload),
		sb.Assign("baseline", baseline),
		sb.Assign("status", status),
		sb.Assign("updated_at", now),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID}).Error("Failed to update draft payload")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update draft")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, fmt.Errorf("draft %s: %w", id, models.ErrNotFound)
	}

	return r.Get(ctx, tenantID, id)
}

// UpdateStatus applies a compare-and-swap status change. The update only
// lands while the draft still holds one of upd.ExpectStatus; a zero row count
// means a concurrent transition won the race.
func (r *Repository) UpdateStatus(ctx context.Context, tenantID, id string, upd models.DraftStatusUpdate) (*models.Draft, error) {
	ctx, span := tracing.StartSpan(ctx, "draft.Repository.UpdateStatus")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(tableName)
	sb.Set(
		sb.Assign("status", upd.Status),
		sb.Assign("updated_at", now),
	)
	if upd.SetClaimedBy {
		sb.Set(sb.Assign("claimed_by", upd.ClaimedBy))
	}
	if upd.SetPreviousStatus {
		sb.Set(sb.Assign("previous_status", upd.PreviousStatus))
	}
	if upd.SetPayload {
		sb.Set(sb.Assign("payload", []byte(upd.Payload)))
	}
	if upd.SetBaseline {
		sb.Set(sb.Assign("baseline", []byte(upd.Baseline)))
	}

	where := []string{
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	}
	if len(upd.ExpectStatus) > 0 {
		expect := make([]any, len(upd.ExpectStatus))
		for i, s := range upd.ExpectStatus {
			expect[i] = s
		}
		where = append(where, sb.In("status", expect...))
	}
	sb.Where(where...)

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID, "status": upd.Status}).Error("Failed to update draft status")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update draft status")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Distinguish a missing draft from a lost race.
		existing, getErr := r.Get(ctx, tenantID, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("draft %s moved to %s concurrently: %w", id, existing.Status, models.ErrInvalidTransition)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id, "status": upd.Status}).Info("Updated draft status")
	return r.Get(ctx, tenantID, id)
}

// Query retrieves drafts with filtering and pagination
func (r *Repository) Query(ctx context.Context, tenantID string, filters models.DraftQuery) (*models.DraftListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "draft.Repository.Query")
	defer span.End()

	page := filters.Page
	pageSize := filters.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	buildWhere := func(sb *sqlbuilder.SelectBuilder) []string {
		where := []string{sb.Equal("tenant_id", tenantID)}
		if filters.TargetType != nil {
			where = append(where, sb.Equal("target_type", *filters.TargetType))
		}
		if filters.TargetID != nil {
			where = append(where, sb.Equal("target_id", *filters.TargetID))
		}
		if filters.Status != nil {
			where = append(where, sb.Equal("status", *filters.Status))
		}
		if filters.Action != nil {
			where = append(where, sb.Equal("action", *filters.Action))
		}
		if filters.Author != nil {
			where = append(where, sb.Equal("author", *filters.Author))
		}
		if filters.Search != "" {
			where = append(where, sb.ILike("payload::text", "%"+filters.Search+"%"))
		}
		return where
	}

	q := database.FromContext(ctx, r.db)

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From(tableName)
	countSb.Where(buildWhere(countSb)...)

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := q.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID}).Error("Failed to count drafts")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count drafts")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(buildWhere(sb)...)
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var drafts []models.Draft
	if err := q.SelectContext(ctx, &drafts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "page": page, "page_size": pageSize}).Error("Failed to query drafts")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to query drafts")
	}

	return &models.DraftListResponse{
		Items:      drafts,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// FindByPayloadValue returns drafts whose payload contains the given value in
// any top-level field. Used by the lineage resolver to find descendants.
func (r *Repository) FindByPayloadValue(ctx context.Context, tenantID, value string) ([]models.Draft, error) {
	ctx, span := tracing.StartSpan(ctx, "draft.Repository.FindByPayloadValue")
	defer span.End()

	// jsonb_each_text flattens top-level payload fields so any field holding
	// the id (scalar or inside an array) matches.
	query := `
		SELECT DISTINCT d.id, d.tenant_id, d.target_type, d.target_id, d.action, d.status,
		       d.previous_status, d.payload, d.baseline, d.author, d.claimed_by,
		       d.created_at, d.updated_at
		FROM drafts d, jsonb_each_text(d.payload) AS kv
		WHERE d.tenant_id = $1
		  AND (kv.value = $2 OR kv.value LIKE '%' || $2 || '%')
	`

	q := database.FromContext(ctx, r.db)
	var drafts []models.Draft
	if err := q.SelectContext(ctx, &drafts, query, tenantID, value); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID}).Error("Failed to find drafts by payload value")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find drafts")
	}
	return drafts, nil
}
