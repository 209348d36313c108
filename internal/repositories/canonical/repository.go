package canonical

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/tracing"
	"github.com/huandu/go-sqlbuilder"
)

const tableName = "canonical_records"

var columns = []string{
	"id", "tenant_id", "entity_type", "data", "version",
	"created_at", "updated_at", "deleted_at",
}

// Repository handles the canonical (published) record store. Only the
// materializer writes here.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new canonical record repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Get retrieves a live record by (entity_type, id). Returns nil when the
// record does not exist or is tombstoned.
func (r *Repository) Get(ctx context.Context, tenantID, entityType, id string) (*models.CanonicalRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "canonical.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.Equal("entity_type", entityType),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	var record models.CanonicalRecord
	if err := q.GetContext(ctx, &record, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID, "entity_type": entityType}).Error("Failed to get canonical record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get canonical record")
	}
	return &record, nil
}

// GetByID retrieves a live record by id alone. Used by the lineage resolver
// when dereferencing an id of unknown type.
func (r *Repository) GetByID(ctx context.Context, tenantID, id string) (*models.CanonicalRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "canonical.Repository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	var record models.CanonicalRecord
	if err := q.GetContext(ctx, &record, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID}).Error("Failed to get canonical record by id")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get canonical record")
	}
	return &record, nil
}

// Create inserts a new record keyed by the caller-supplied id (a draft's
// reserved id for CREATE materializations). The materializer rejects CREATE
// drafts against live records before calling this, so the only row a conflict
// can hit is a tombstone: the upsert revives it under the new data.
func (r *Repository) Create(ctx context.Context, record *models.CanonicalRecord) (*models.CanonicalRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "canonical.Repository.Create")
	defer span.End()

	now := time.Now().UTC()
	record.Version = 1
	record.CreatedAt = now
	record.UpdatedAt = now

	ib := database.NewInsertBuilder()
	ib.InsertInto(tableName)
	ib.Cols("id", "tenant_id", "entity_type", "data", "version", "created_at", "updated_at")
	ib.Values(record.ID, record.TenantID, record.EntityType, record.Data, record.Version, record.CreatedAt, record.UpdatedAt)

	ub := ib.OnConflict("tenant_id", "entity_type", "id")
	ub.Set(
		ub.Assign("data", database.Excluded("data")),
		"version = canonical_records.version + 1",
		ub.Assign("updated_at", database.Excluded("updated_at")),
		"deleted_at = NULL",
	)

	query, args := ib.Build()
	q := database.FromContext(ctx, r.db)
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": record.ID, "entity_type": record.EntityType}).Error("Failed to create canonical record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create canonical record")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": record.ID, "entity_type": record.EntityType}).Info("Created canonical record")
	return record, nil
}

// Update replaces a record's data and increments its version
func (r *Repository) Update(ctx context.Context, tenantID, entityType, id string, data json.RawMessage) (*models.CanonicalRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "canonical.Repository.Update")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(tableName)
	sb.Set(
		sb.Assign("data", data),
		sb.Assign("updated_at", now),
		"version = version + 1",
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.Equal("entity_type", entityType),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "entity_type": entityType}).Error("Failed to update canonical record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update canonical record")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, nil
	}

	return r.Get(ctx, tenantID, entityType, id)
}

// Tombstone soft deletes a record
func (r *Repository) Tombstone(ctx context.Context, tenantID, entityType, id string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "canonical.Repository.Tombstone")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(tableName)
	sb.Set(sb.Assign("deleted_at", now))
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.Equal("entity_type", entityType),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "entity_type": entityType}).Error("Failed to tombstone canonical record")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete canonical record")
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{"id": id, "entity_type": entityType}).Info("Tombstoned canonical record")
	}
	return rows > 0, nil
}

// List retrieves live records of a type with pagination
func (r *Repository) List(ctx context.Context, tenantID, entityType string, page, pageSize int) (*models.CanonicalRecordListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "canonical.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	q := database.FromContext(ctx, r.db)

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From(tableName)
	countSb.Where(
		countSb.Equal("tenant_id", tenantID),
		countSb.Equal("entity_type", entityType),
		countSb.IsNull("deleted_at"),
	)

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := q.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "entity_type": entityType}).Error("Failed to count canonical records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count canonical records")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("entity_type", entityType),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var records []models.CanonicalRecord
	if err := q.SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "entity_type": entityType}).Error("Failed to list canonical records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list canonical records")
	}

	return &models.CanonicalRecordListResponse{
		Items:      records,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// FindByDataValue returns live records whose data contains the given value in
// any top-level field. Used by reconciliation jobs to match external records.
func (r *Repository) FindByDataValue(ctx context.Context, tenantID, entityType, field, value string) ([]models.CanonicalRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "canonical.Repository.FindByDataValue")
	defer span.End()

	query := `
		SELECT id, tenant_id, entity_type, data, version, created_at, updated_at, deleted_at
		FROM canonical_records
		WHERE tenant_id = $1
		  AND entity_type = $2
		  AND deleted_at IS NULL
		  AND (data ->> $3) = $4
		ORDER BY updated_at DESC
		LIMIT 10
	`

	q := database.FromContext(ctx, r.db)
	var records []models.CanonicalRecord
	if err := q.SelectContext(ctx, &records, query, tenantID, entityType, field, value); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "entity_type": entityType, "field": field}).Error("Failed to find canonical records by data value")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find canonical records")
	}
	return records, nil
}
