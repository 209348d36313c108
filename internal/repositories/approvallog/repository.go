package approvallog

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/tracing"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
)

const tableName = "approval_logs"

// Repository handles the append-only approval log. Rows are never updated or
// deleted; there are deliberately no update/delete methods here.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new approval log repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Append writes an entry. When the ctx carries an open transaction the write
// joins it, so a transition and its log entry land atomically.
func (r *Repository) Append(ctx context.Context, entry models.ApprovalLogEntry) error {
	ctx, span := tracing.StartSpan(ctx, "approvallog.Repository.Append")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(tableName)
	sb.Cols("id", "tenant_id", "draft_id", "actor", "action", "notes", "created_at")
	sb.Values(entry.ID, entry.TenantID, entry.DraftID, entry.Actor, entry.Action, entry.Notes, entry.CreatedAt)

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"draft_id": entry.DraftID, "action": entry.Action}).Error("Failed to append approval log entry")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to append approval log entry")
	}

	return nil
}

// History returns all entries for a draft, oldest first
func (r *Repository) History(ctx context.Context, tenantID, draftID string) ([]models.ApprovalLogEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "approvallog.Repository.History")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "tenant_id", "draft_id", "actor", "action", "notes", "created_at")
	sb.From(tableName)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("draft_id", draftID),
	)
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	var entries []models.ApprovalLogEntry
	if err := q.SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "draft_id": draftID}).Error("Failed to get approval log history")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get approval log history")
	}
	return entries, nil
}
