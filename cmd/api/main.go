package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/Ramsey-B/aster/config"
	"github.com/Ramsey-B/aster/internal/repositories/approvallog"
	"github.com/Ramsey-B/aster/internal/repositories/canonical"
	draftrepo "github.com/Ramsey-B/aster/internal/repositories/draft"
	"github.com/Ramsey-B/aster/internal/repositories/entitytype"
	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/drafts"
	"github.com/Ramsey-B/aster/pkg/events"
	"github.com/Ramsey-B/aster/pkg/graph"
	"github.com/Ramsey-B/aster/pkg/jobs/doimatch"
	"github.com/Ramsey-B/aster/pkg/jobs/gcmdsync"
	"github.com/Ramsey-B/aster/pkg/kafka"
	"github.com/Ramsey-B/aster/pkg/lineage"
	"github.com/Ramsey-B/aster/pkg/materializer"
	"github.com/Ramsey-B/aster/pkg/middleware"
	"github.com/Ramsey-B/aster/pkg/models"
	draftroutes "github.com/Ramsey-B/aster/pkg/routes/draft"
	entitytyperoutes "github.com/Ramsey-B/aster/pkg/routes/entitytype"
	graphroutes "github.com/Ramsey-B/aster/pkg/routes/graph"
	"github.com/Ramsey-B/aster/pkg/routes/health"
	recordroutes "github.com/Ramsey-B/aster/pkg/routes/record"
	tenantroutes "github.com/Ramsey-B/aster/pkg/routes/tenant"
	validationroutes "github.com/Ramsey-B/aster/pkg/routes/validation"
	workflowroutes "github.com/Ramsey-B/aster/pkg/routes/workflow"
	"github.com/Ramsey-B/aster/pkg/schema"
	"github.com/Ramsey-B/aster/pkg/startup"
	"github.com/Ramsey-B/aster/pkg/tracing"
	"github.com/Ramsey-B/aster/pkg/workflow"
)

// version is stamped at build time
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	tracing.SetTracer(otel.Tracer(cfg.AppName))
	defer tp.Shutdown(context.Background())

	// PostgreSQL
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName, cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode)
	sqlxDB, err := sqlx.Connect(cfg.DatabaseDriver, dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlxDB.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	sqlxDB.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	sqlxDB.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)
	db := database.NewDatabaseInstance(sqlxDB, logger)

	driver, err := postgres.WithInstance(sqlxDB.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	migrations := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.Migrate(cfg.DatabaseName, driver); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Repositories
	draftRepo := draftrepo.NewRepository(db, logger)
	auditRepo := approvallog.NewRepository(db, logger)
	canonicalRepo := canonical.NewRepository(db, logger)
	entityTypeRepo := entitytype.NewRepository(db, logger)
	schemaSvc := schema.NewValidationService(entityTypeRepo, logger)

	// Kafka producer for draft lifecycle events
	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaOutputTopic,
		BatchSize:    cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: cfg.KafkaRequiredAcks,
		Compression:  cfg.KafkaCompression,
	}, logger)
	sinks := []events.Sink{events.NewEmitter(producer, logger)}

	// Optional graph projection
	var graphClient *graph.Client
	var queryService *graph.QueryService
	if cfg.GraphDBEnabled {
		graphClient, err = graph.NewClient(graph.Config{
			Host:     cfg.GraphDBHost,
			Port:     cfg.GraphDBPort,
			Username: cfg.GraphDBUser,
			Password: cfg.GraphDBPassword,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to graph database: %w", err)
		}
		queryService = graph.NewQueryService(graphClient, logger)
		projector := graph.NewProjector(graphClient, logger)
		sinks = append(sinks, graph.NewSubscriber(projector, schemaSvc, logger))
	}
	dispatcher := events.NewDispatcher(sinks...)

	// Services
	draftSvc := drafts.NewService(db, draftRepo, auditRepo, canonicalRepo, schemaSvc, dispatcher, logger)
	workflowSvc := workflow.NewService(db, draftRepo, auditRepo, materializer.New(canonicalRepo, logger), dispatcher, logger)
	resolver := lineage.NewResolver(draftRepo, schemaSvc, logger)

	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return fmt.Errorf("failed to create DI container: %w", err)
	}
	if err := registerDependencies(container, logger, db, draftSvc, workflowSvc, resolver, canonicalRepo, entityTypeRepo, schemaSvc, queryService); err != nil {
		return fmt.Errorf("failed to register dependencies: %w", err)
	}

	// HTTP server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(echomiddleware.Recover())
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	api := e.Group("/api/v1")
	draftGroup := api.Group("/drafts")
	draftroutes.Register(draftGroup)
	workflowroutes.Register(draftGroup)
	entitytyperoutes.Register(api.Group("/entity-types"))
	recordroutes.Register(api.Group("/records"))
	validationroutes.Register(api)
	tenantroutes.Register(api)
	graphroutes.NewHandler(queryService, logger).Register(api.Group("/graph"))

	var pinger health.GraphPinger
	if graphClient != nil {
		pinger = graphClient
	}
	checker := health.NewChecker(sqlxDB, pinger, version)
	checker.RegisterRoutes(e)

	// Lifecycle orchestration
	orchestrator := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	orchestrator.AddDependency(&dependency{
		name:  "database",
		start: func(ctx context.Context) error { return sqlxDB.PingContext(ctx) },
		stop:  func(ctx context.Context) error { return sqlxDB.Close() },
	})
	orchestrator.AddDependency(&dependency{
		name: "kafka-producer",
		stop: func(ctx context.Context) error { return producer.Close() },
	})
	if graphClient != nil {
		orchestrator.AddDependency(&dependency{
			name:  "graph",
			start: func(ctx context.Context) error { return graphClient.VerifyConnectivity(ctx) },
			stop:  func(ctx context.Context) error { return graphClient.Close(ctx) },
		})
	}
	if cfg.KafkaConsumerEnabled {
		consumer := kafka.NewConsumer(cfg, logger, syncHandler(cfg, draftSvc, workflowSvc, draftRepo, canonicalRepo, schemaSvc, logger))
		orchestrator.AddDependency(&dependency{
			name:      "kafka-consumer",
			dependsOn: []string{"database"},
			start:     consumer.Start,
			stop:      func(ctx context.Context) error { return consumer.Stop() },
		})
	}

	if err := orchestrator.Start(ctx); err != nil {
		return err
	}
	checker.SetReady(true)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.WithField("addr", addr).Infof("%s listening on %s", cfg.AppName, addr)
		if err := e.Start(addr); err != nil {
			logger.WithError(err).Info("HTTP server stopped")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	checker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown failed")
	}
	return orchestrator.Stop(shutdownCtx)
}

func newLogger(cfg config.Config) (ectologger.Logger, error) {
	var zapLogger *zap.Logger
	var err error
	if cfg.PrettyLogs {
		zapLogger, err = zap.NewDevelopment()
	} else {
		zapLogger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}

func registerDependencies(
	container ectocontainer.DIContainer,
	logger ectologger.Logger,
	db database.DB,
	draftSvc *drafts.Service,
	workflowSvc *workflow.Service,
	resolver *lineage.Resolver,
	canonicalRepo *canonical.Repository,
	entityTypeRepo *entitytype.Repository,
	schemaSvc *schema.ValidationService,
	queryService *graph.QueryService,
) error {
	if err := ectoinject.RegisterInstance[ectologger.Logger](container, logger); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[database.DB](container, db); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*drafts.Service](container, draftSvc); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*workflow.Service](container, workflowSvc); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*lineage.Resolver](container, resolver); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*canonical.Repository](container, canonicalRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*entitytype.Repository](container, entityTypeRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*schema.ValidationService](container, schemaSvc); err != nil {
		return err
	}
	if queryService != nil {
		if err := ectoinject.RegisterInstance[*graph.QueryService](container, queryService); err != nil {
			return err
		}
	}
	return nil
}

// syncHandler dispatches sync requests from the consumer topic to the
// reconciliation jobs. Job failures are returned so the message is retried;
// malformed or disabled requests are dropped.
func syncHandler(
	cfg config.Config,
	draftSvc *drafts.Service,
	workflowSvc *workflow.Service,
	draftRepo *draftrepo.Repository,
	canonicalRepo *canonical.Repository,
	schemaSvc *schema.ValidationService,
	logger ectologger.Logger,
) kafka.MessageHandler {
	systemActor := models.Actor{ID: cfg.SyncActorID, Role: models.RoleAdmin}

	return func(ctx context.Context, msg *kafka.IncomingMessage) error {
		tenantID := msg.GetTenantID()
		if tenantID == "" {
			logger.WithContext(ctx).Warn("Dropping sync request without tenant_id")
			return nil
		}

		switch msg.GetType() {
		case kafka.SyncTypeKeywords:
			if !cfg.KeywordSyncEnabled {
				logger.WithContext(ctx).Info("Keyword sync is disabled, dropping request")
				return nil
			}
			client := gcmdsync.NewClient(cfg.KeywordSyncBaseURL, cfg.KeywordSyncPageSize, logger)
			syncer := gcmdsync.NewSyncer(client, draftSvc, workflowSvc, draftRepo, canonicalRepo, schemaSvc, systemActor, logger)

			schemes := gcmdsync.Schemes()
			if msg.SyncRequest.Scheme != "" {
				schemes = []string{msg.SyncRequest.Scheme}
			}
			for _, scheme := range schemes {
				result, err := syncer.Sync(ctx, tenantID, scheme)
				if err != nil {
					return err
				}
				logger.WithContext(ctx).WithField("tenant_id", tenantID).Info(result.Summary())
			}
			return nil

		case kafka.SyncTypeDOI:
			if !cfg.DOIMatchEnabled {
				logger.WithContext(ctx).Info("DOI matching is disabled, dropping request")
				return nil
			}
			client := doimatch.NewClient(cfg.DOIMatchBaseURL, logger)
			matcher := doimatch.NewMatcher(client, draftSvc, draftRepo, canonicalRepo, cfg.DOIMatchPageSize, systemActor, logger)
			result, err := matcher.Run(ctx, tenantID)
			if err != nil {
				return err
			}
			logger.WithContext(ctx).WithField("tenant_id", tenantID).Info(result.Summary())
			return nil

		default:
			logger.WithContext(ctx).WithField("type", msg.GetType()).Warn("Dropping sync request with unknown type")
			return nil
		}
	}
}

// dependency adapts a pair of start/stop funcs to the startup orchestrator
type dependency struct {
	name      string
	dependsOn []string
	start     func(ctx context.Context) error
	stop      func(ctx context.Context) error
}

func (d *dependency) GetName() string { return d.name }

func (d *dependency) DependsOn() []string { return d.dependsOn }

func (d *dependency) Start(ctx context.Context) error {
	if d.start == nil {
		return nil
	}
	return d.start(ctx)
}

func (d *dependency) Stop(ctx context.Context) error {
	if d.stop == nil {
		return nil
	}
	return d.stop(ctx)
}
