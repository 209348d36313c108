package integration

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/aster/internal/repositories/approvallog"
	"github.com/Ramsey-B/aster/internal/repositories/canonical"
	draftrepo "github.com/Ramsey-B/aster/internal/repositories/draft"
	"github.com/Ramsey-B/aster/internal/repositories/entitytype"
	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/drafts"
	"github.com/Ramsey-B/aster/pkg/materializer"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/schema"
	"github.com/Ramsey-B/aster/pkg/workflow"
)

// engine wires the full service stack against a live PostgreSQL instance.
// Each test gets its own tenant, so runs never interfere with each other or
// with leftover rows from earlier runs.
type engine struct {
	db            database.DB
	drafts        *drafts.Service
	workflow      *workflow.Service
	draftRepo     *draftrepo.Repository
	canonicalRepo *canonical.Repository
	entityTypes   *entitytype.Repository
	tenantID      string
}

var (
	author   = models.Actor{ID: "author-1", Role: models.RoleStaff}
	reviewer = models.Actor{ID: "reviewer-1", Role: models.RoleStaff}
	admin    = models.Actor{ID: "admin-1", Role: models.RoleAdmin}
)

// setupEngine connects to TEST_DATABASE_URL, runs the migrations, and builds
// the repositories and services exactly as cmd/api does. Skips when no
// database is configured.
func setupEngine(t *testing.T) *engine {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping database integration tests in short mode")
	}
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	sqlxDB, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { sqlxDB.Close() })

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	db := database.NewDatabaseInstance(sqlxDB, logger)

	driver, err := postgres.WithInstance(sqlxDB.DB, &postgres.Config{})
	require.NoError(t, err)
	migrations := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: "../../db/pg",
	})
	require.NoError(t, migrations.Migrate("postgres", driver))

	draftRepo := draftrepo.NewRepository(db, logger)
	auditRepo := approvallog.NewRepository(db, logger)
	canonicalRepo := canonical.NewRepository(db, logger)
	entityTypeRepo := entitytype.NewRepository(db, logger)
	schemaSvc := schema.NewValidationService(entityTypeRepo, logger)

	return &engine{
		db:            db,
		drafts:        drafts.NewService(db, draftRepo, auditRepo, canonicalRepo, schemaSvc, nil, logger),
		workflow:      workflow.NewService(db, draftRepo, auditRepo, materializer.New(canonicalRepo, logger), nil, logger),
		draftRepo:     draftRepo,
		canonicalRepo: canonicalRepo,
		entityTypes:   entityTypeRepo,
		tenantID:      uuid.New().String(),
	}
}

func (e *engine) registerCampaignType(t *testing.T) {
	t.Helper()
	schemaJSON := json.RawMessage(`{
		"properties": {
			"short_name": {"type": "string"},
			"long_name": {"type": "string"}
		},
		"required": ["short_name"],
		"identity_field": "short_name"
	}`)
	_, err := e.entityTypes.Create(context.Background(), e.tenantID, models.CreateEntityTypeRequest{
		Key:    "campaign",
		Name:   "Campaign",
		Schema: schemaJSON,
	})
	require.NoError(t, err)
}

func (e *engine) seedCampaign(t *testing.T, shortName string) string {
	t.Helper()
	id := uuid.New().String()
	_, err := e.canonicalRepo.Create(context.Background(), &models.CanonicalRecord{
		ID:         id,
		TenantID:   e.tenantID,
		EntityType: "campaign",
		Data:       json.RawMessage(`{"short_name":"` + shortName + `"}`),
	})
	require.NoError(t, err)
	return id
}
