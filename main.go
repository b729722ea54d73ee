package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"go.uber.org/zap"

	"github.com/lanewise-ai/lanewise-engine/pkg/audit"
	"github.com/lanewise-ai/lanewise-engine/pkg/auth"
	"github.com/lanewise-ai/lanewise-engine/pkg/config"
	"github.com/lanewise-ai/lanewise-engine/pkg/database"
	"github.com/lanewise-ai/lanewise-engine/pkg/handlers"
	"github.com/lanewise-ai/lanewise-engine/pkg/llm"
	"github.com/lanewise-ai/lanewise-engine/pkg/logging"
	"github.com/lanewise-ai/lanewise-engine/pkg/mcp"
	mcptools "github.com/lanewise-ai/lanewise-engine/pkg/mcp/tools"
	"github.com/lanewise-ai/lanewise-engine/pkg/middleware"
	"github.com/lanewise-ai/lanewise-engine/pkg/repositories"
	"github.com/lanewise-ai/lanewise-engine/pkg/retry"
	"github.com/lanewise-ai/lanewise-engine/pkg/services"
	"github.com/lanewise-ai/lanewise-engine/pkg/warehouse"
)

// Version is set at build time via ldflags
var Version = "dev"

const (
	migrationsPath  = "migrations"
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("engine_store", cfg.Database.Host),
		zap.String("warehouse_driver", cfg.Warehouse.Driver),
		zap.String("ai_model", cfg.AI.Model))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runMigrations(cfg, logger); err != nil {
		logger.Fatal("Migrations failed", zap.Error(err))
	}

	// Engine store (report history, knowledge, schema metadata). Retried so
	// a restarting database does not kill the process on deploy.
	db, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*database.DB, error) {
		return database.NewConnection(ctx, &database.Config{
			URL:            cfg.Database.ConnectionString(),
			MaxConnections: cfg.Database.MaxConnections,
		})
	})
	if err != nil {
		logger.Fatal("Failed to connect to engine store", zap.Error(err))
	}
	defer db.Close()

	// Freight warehouse the report tools query.
	warehouseExec, err := warehouse.Open(ctx, &cfg.Warehouse)
	if err != nil {
		logger.Fatal("Failed to connect to warehouse", zap.Error(err))
	}
	defer warehouseExec.Close()

	// Redis is optional; schema resolution falls through to the warehouse
	// on every request when it is absent.
	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	if redisClient == nil {
		logger.Info("Redis not configured, schema cache disabled")
	} else {
		defer func() { _ = redisClient.Close() }()
	}

	jwksClient, err := auth.NewJWKSClient(&auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		logger.Fatal("Failed to create JWKS client", zap.Error(err))
	}
	defer jwksClient.Close()

	authService := auth.NewAuthService(jwksClient, logger)
	authMiddleware := auth.NewMiddleware(authService)
	tenantMiddleware := database.WithTenantContext(db, logger)

	chatClient, err := llm.NewClient(&llm.Config{
		Endpoint:          cfg.AI.Endpoint,
		Model:             cfg.AI.Model,
		APIKey:            cfg.AI.APIKey,
		MaxToolIterations: cfg.AI.MaxToolIterations,
		Temperature:       float64(cfg.AI.Temperature),
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create LLM client", zap.Error(err))
	}

	// Repositories
	schemaMetadataRepo := repositories.NewSchemaMetadataRepository()
	knowledgeRepo := repositories.NewKnowledgeRepository()
	feedbackRepo := repositories.NewFeedbackRepository()
	reportRepo := repositories.NewReportRepository()

	// Services
	auditor := audit.NewSecurityAuditor(logger)
	catalog := warehouse.NewCatalog()
	profiler := warehouse.NewProfiler(warehouseExec, catalog)

	schemaService := services.NewSchemaContextService(
		schemaMetadataRepo,
		profiler,
		redisClient,
		time.Duration(cfg.Redis.SchemaTTLMinutes)*time.Minute,
		logger)
	knowledgeContext := services.NewKnowledgeContextService(knowledgeRepo, logger)
	accessPolicy := services.NewAccessPolicy(logger)
	validator := services.NewReportValidationService(logger)
	learning := services.NewLearningExtractionService(knowledgeRepo, feedbackRepo, logger)
	toolExecutor := services.NewReportToolExecutor(warehouseExec, catalog, knowledgeRepo, auditor, logger)
	agentService := services.NewReportAgentService(
		chatClient,
		toolExecutor,
		schemaService,
		knowledgeContext,
		accessPolicy,
		validator,
		learning,
		reportRepo,
		auditor,
		float64(cfg.AI.Temperature),
		logger)

	// HTTP API
	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewReportHandler(agentService, reportRepo, logger).
		RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewKnowledgeHandler(knowledgeRepo, feedbackRepo, logger).
		RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewSchemaHandler(schemaService, logger).
		RegisterRoutes(mux, authMiddleware, tenantMiddleware)

	// MCP server with audit hooks, sharing the HTTP service stack.
	mcpAudit := mcp.NewAuditLogger(db, logger)
	mcpServer := mcp.NewServer("lanewise-engine", cfg.Version, mcpAudit.Hooks(), logger)
	mcptools.RegisterReportTools(mcpServer.MCP(), &mcptools.ReportToolDeps{
		BaseToolDeps: mcptools.BaseToolDeps{
			DB:     db,
			Logger: logger,
		},
		AgentService:  agentService,
		SchemaService: schemaService,
	})
	mcpHTTP := mcpServer.NewStreamableHTTPServer()
	mux.Handle("/mcp", middleware.MCPRequestLogger(logger)(
		authMiddleware.RequireAuth(mcpHTTP.ServeHTTP)))

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting lanewise-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version),
			zap.Bool("tls", cfg.TLSCertPath != ""))

		var serveErr error
		if cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
			serveErr = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			serveErr = server.ListenAndServe()
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("Server failed", zap.Error(serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}

// runMigrations applies pending engine store migrations through a separate
// database/sql connection; the pgx pool does not expose one.
func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := sqlDB.Close(); closeErr != nil {
			logger.Warn("Failed to close migration connection", zap.Error(closeErr))
		}
	}()

	if _, statErr := os.Stat(migrationsPath); statErr != nil {
		return statErr
	}
	return database.RunMigrations(sqlDB, migrationsPath, logger)
}
