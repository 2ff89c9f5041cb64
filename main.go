package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-askdb/pkg/adapters/datasource/all"
	"github.com/ekaya-inc/ekaya-askdb/pkg/audit"
	"github.com/ekaya-inc/ekaya-askdb/pkg/config"
	"github.com/ekaya-inc/ekaya-askdb/pkg/database"
	"github.com/ekaya-inc/ekaya-askdb/pkg/handlers"
	"github.com/ekaya-inc/ekaya-askdb/pkg/llm"
	"github.com/ekaya-inc/ekaya-askdb/pkg/logging"
	"github.com/ekaya-inc/ekaya-askdb/pkg/mcp"
	"github.com/ekaya-inc/ekaya-askdb/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-askdb/pkg/middleware"
	"github.com/ekaya-inc/ekaya-askdb/pkg/observability"
	"github.com/ekaya-inc/ekaya-askdb/pkg/repositories"
	"github.com/ekaya-inc/ekaya-askdb/pkg/retry"
	"github.com/ekaya-inc/ekaya-askdb/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("datasource_type", cfg.Datasource.Type),
		zap.String("datasource_id", cfg.Datasource.ID),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model),
		zap.Bool("redis", cfg.Redis.Host != ""),
		zap.Bool("audit", cfg.Audit.Enabled),
		zap.String("audit_store", cfg.Audit.Store),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	connManager := datasource.NewConnectionManager([]datasource.DatasourceConfig{{
		ID:     cfg.Datasource.ID,
		Type:   cfg.Datasource.Type,
		Config: cfg.Datasource.ToMap(),
	}}, logger)
	defer func() { _ = connManager.Close() }()

	var introspector datasource.SchemaIntrospector = connManager
	if path := cfg.Datasource.AnnotationsPath; path != "" {
		annotations, err := services.LoadSchemaAnnotations(path)
		if err != nil {
			return err
		}
		introspector = services.NewAnnotatedIntrospector(connManager, annotations)
		logger.Info("Schema annotations loaded", zap.String("path", path))
	}

	var cacheOpts []services.SchemaCacheOption
	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		cacheOpts = append(cacheOpts, services.WithSnapshotStore(repositories.NewSnapshotRepository(redisClient)))
	}
	schemaCache := services.NewSchemaCache(introspector, cfg.Pipeline.SchemaCacheTTL(), logger, cacheOpts...)

	textGen, err := llm.NewFromConfig(cfg.LLM, logger)
	if err != nil {
		return err
	}

	securityAuditor := audit.NewSecurityAuditor(logger)

	auditSink, auditLister, closeAudit, err := openAuditSink(ctx, cfg.Audit, logger)
	if err != nil {
		return err
	}
	defer closeAudit()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewPipelineMetrics(registry)
	observability.RegisterCacheStats(registry, schemaCache.Stats)

	orchestrator := services.NewOrchestrator(services.OrchestratorDeps{
		Schema: schemaCache,
		Filter: services.NewSchemaFilter(cfg.Pipeline.MaxTablesInContext),
		Generator: services.NewQueryGenerator(textGen, services.QueryGeneratorConfig{
			Temperature:   cfg.LLM.Temperature,
			MaxTokens:     cfg.LLM.MaxTokens,
			MaxPriorTurns: cfg.Pipeline.MaxPriorTurns,
			Retry:         retry.ProviderConfig(cfg.LLM.MaxRetries),
			Dialect:       connManager.Dialect,
		}, logger),
		Gate: services.NewValidationGate(services.ValidationConfig{
			MaxRows:                 cfg.Pipeline.MaxQueryRows,
			AllowDestructiveQueries: cfg.Pipeline.AllowDestructiveQueries,
			LargeTableRowThreshold:  cfg.Pipeline.LargeTableRowThreshold,
			LowConfidenceThreshold:  cfg.Pipeline.LowConfidenceThreshold,
		}, logger, services.WithSecurityAuditor(securityAuditor)),
		Executor: services.NewExecutionStage(connManager, logger),
		Renderer: services.NewChartRenderer(services.VisualizationConfig{
			DefaultChartType: cfg.Visualization.DefaultChartType,
			MaxChartPoints:   cfg.Visualization.MaxChartPoints,
		}, logger),
		Conversations:   services.NewConversationStore(),
		Audit:           auditSink,
		Metrics:         metrics,
		SecurityAuditor: securityAuditor,
		Dialect:         connManager.Dialect,
	}, services.OrchestratorConfig{
		MaxRows:       cfg.Pipeline.MaxQueryRows,
		QueryTimeout:  cfg.Pipeline.QueryTimeout(),
		MaxPriorTurns: cfg.Pipeline.MaxPriorTurns,
	}, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, connManager, schemaCache, logger).RegisterRoutes(mux)
	handlers.NewAskHandler(orchestrator, logger).RegisterRoutes(mux)
	handlers.NewSchemaHandler(schemaCache, connManager, logger).RegisterRoutes(mux)
	if auditLister != nil {
		handlers.NewAuditHandler(auditLister, logger).RegisterRoutes(mux)
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	if cfg.MCP.Enabled {
		mcpServer := mcp.NewServer("ekaya-askdb", cfg.Version, logger.Named("mcp"))
		tools.RegisterHealthTool(mcpServer.MCP(), cfg.Version, connManager, schemaCache)
		tools.RegisterAskTools(mcpServer.MCP(), &tools.AskToolDeps{
			Orchestrator:      orchestrator,
			SchemaCache:       schemaCache,
			Databases:         connManager,
			DefaultDatabaseID: cfg.Datasource.ID,
			Logger:            logger.Named("mcp"),
		})
		handlers.NewMCPHandler(mcpServer, logger.Named("mcp"), cfg.MCP).RegisterRoutes(mux)
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.Recoverer(logger)(middleware.RequestLogger(logger)(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-askdb",
			zap.String("addr", srv.Addr),
			zap.String("base_url", cfg.BaseURL),
			zap.String("version", cfg.Version))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// openAuditSink builds the configured audit sink. The lister is nil when the
// store cannot be read back. The returned func releases the store.
func openAuditSink(ctx context.Context, cfg config.AuditConfig, logger *zap.Logger) (services.AuditSink, handlers.AuditLister, func(), error) {
	noop := func() {}
	if !cfg.Enabled {
		return services.NopAuditSink{}, nil, noop, nil
	}

	switch cfg.Store {
	case "postgres":
		connStr := cfg.Database.ConnectionString()
		migrateDB, err := sql.Open("pgx", connStr)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open audit database for migrations: %w", err)
		}
		if err := database.RunMigrations(migrateDB, database.DialectPostgres, cfg.MigrationsPath, logger); err != nil {
			return nil, nil, nil, err
		}
		db, err := database.NewConnection(ctx, database.ConfigFrom(&cfg.Database))
		if err != nil {
			return nil, nil, nil, err
		}
		svc := services.NewAuditService(repositories.NewPostgresAuditRepository(db), logger)
		return svc, svc, db.Close, nil

	case "sqlite":
		migrateDB, err := repositories.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := database.RunMigrations(migrateDB, database.DialectSQLite, cfg.MigrationsPath, logger); err != nil {
			return nil, nil, nil, err
		}
		db, err := repositories.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		svc := services.NewAuditService(repositories.NewSQLiteAuditRepository(db), logger)
		return svc, svc, func() { _ = db.Close() }, nil

	default:
		return services.NewLogAuditSink(logger), nil, noop, nil
	}
}
