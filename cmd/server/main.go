package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/api"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/client"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/config"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/database"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/handler"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/logger"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/middleware"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/oracle"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/repository"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/service"
)

const streamPath = "/api/v1/invoices/upload/stream"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("state_store", cfg.Store.Driver).
		Msg("Starting AP Invoice Pipeline")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize workflow state store
	var (
		states      service.StateRepository
		idempotency service.IdempotencyStore
		auditLog    handler.AuditLog
	)
	switch cfg.Store.Driver {
	case "postgres":
		db, err := database.New(ctx, database.Config{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			Database:    cfg.Database.Database,
			SSLMode:     cfg.Database.SSLMode,
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			MaxConnTime: cfg.Database.MaxConnTime,
			MaxIdleTime: cfg.Database.MaxIdleTime,
			HealthCheck: cfg.Database.HealthCheck,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		if err := repository.MigratePostgres(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate database")
		}
		log.Info().Msg("Database connection established")

		stateRepo := repository.NewPostgresStateRepository(db)
		states = stateRepo
		auditLog = stateRepo.Audit()
		idempotency = repository.NewMemoryIdempotencyStore(cfg.Redis.IdempotencyTTL)

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to connect to Redis")
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis connection established")

		states = repository.NewRedisStateRepository(rdb)
		idempotency = repository.NewRedisIdempotencyStore(rdb, cfg.Redis.IdempotencyTTL)

	default:
		states = repository.NewMemoryStateRepository()
		idempotency = repository.NewMemoryIdempotencyStore(cfg.Redis.IdempotencyTTL)
	}

	// Initialize master data
	masterDB, err := database.OpenSQL(ctx, cfg.MasterData.Driver, cfg.MasterData.DSN)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.MasterData.Driver).Msg("Failed to open master data")
	}
	defer masterDB.Close()

	masterData, err := initMasterData(ctx, masterDB, cfg.MasterData.Seed)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize master data")
	}
	log.Info().
		Str("driver", cfg.MasterData.Driver).
		Bool("seeded", cfg.MasterData.Seed).
		Msg("Master data ready")

	// Initialize clients
	var publisher service.EventPublisher
	if cfg.NATS.URL != "" {
		natsClient, err := client.NewNATSClient(ctx, client.NATSConfig{
			URL:    cfg.NATS.URL,
			Stream: cfg.NATS.Stream,
			Name:   cfg.Service.Name,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
		}
		defer natsClient.Close()
		publisher = client.NewNotificationPublisher(natsClient, log)
	} else {
		log.Warn().Msg("NATS_URL not set, audit events will not be published")
	}

	var aiOracle oracle.Oracle = oracle.Disabled{}
	if cfg.Oracle.APIKey != "" {
		chat, err := oracle.NewChatClient(oracle.ChatConfig{
			BaseURL: cfg.Oracle.BaseURL,
			APIKey:  cfg.Oracle.APIKey,
			Model:   cfg.Oracle.Model,
			Timeout: cfg.Oracle.Timeout,
		}, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create oracle client")
		}
		aiOracle = chat
	} else {
		log.Warn().Msg("XAI_API_KEY not set, AI stages will fall back to rule-based decisions")
	}

	gateway := client.NewMockPaymentGateway(cfg.Payment.SingleTransactionLimit, cfg.Payment.BlockedVendors, log)

	// Initialize services
	pipeline := service.NewOrchestrator(service.Dependencies{
		Oracle:         aiOracle,
		Inventory:      masterData,
		Vendors:        masterData,
		PurchaseOrders: masterData,
		Gateway:        gateway,
		States:         states,
		Idempotency:    idempotency,
		Publisher:      publisher,
	}, service.OrchestratorConfig{
		Triage: service.TriageConfig{
			AmountThreshold:    cfg.Approval.AmountThreshold,
			ExecutiveThreshold: cfg.Approval.ExecutiveThreshold,
			CriticalVariance:   float64(cfg.Approval.CriticalVariance),
		},
		Validation: service.ValidationConfig{
			AmountThreshold: cfg.Approval.AmountThreshold,
			POTolerance:     cfg.Validation.POTolerance,
			MaxTokens:       cfg.Oracle.MaxTokens,
		},
		ExtractionMaxTokens: cfg.Oracle.MaxTokens,
		Concurrency:         cfg.Pipeline.Concurrency,
		PendingTTL:          cfg.Approval.PendingTTL,
	}, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(pipeline, masterData, auditLog, log)
	mux := http.NewServeMux()
	httpHandler.Routes(mux)

	// Apply middleware
	h := middleware.Chain(mux,
		middleware.RequestID,
		middleware.Logger(&log.Logger),
		middleware.Recovery(&log.Logger),
		middleware.CORS([]string{"*"}),
		middleware.Timeout(cfg.Server.RequestTimeout, streamPath),
	)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC server
	grpcHandler := handler.NewGRPCHandler(pipeline, log)

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		handler.UnaryRecovery(log),
		handler.UnaryLogging(log),
	))
	api.RegisterInvoicePipelineServer(grpcServer, grpcHandler)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer) // Enable reflection for debugging

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Expire stale approvals
	if cfg.Approval.PendingTTL > 0 {
		go runExpirySweep(ctx, pipeline, cfg.Approval.SweepInterval, log)
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stop gRPC server gracefully
	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
}

// initMasterData creates the master data tables and optionally loads the
// demo catalog.
func initMasterData(ctx context.Context, db *sql.DB, seed bool) (*repository.MasterDataRepository, error) {
	repo := repository.NewMasterDataRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		return nil, err
	}
	if seed {
		if err := repo.Seed(ctx); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

// runExpirySweep rejects PENDING_APPROVAL invoices that outlived their TTL.
func runExpirySweep(ctx context.Context, pipeline *service.Orchestrator, interval time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			expired, err := pipeline.ExpirePending(ctx, now)
			if err != nil {
				log.Error().Err(err).Msg("Expiry sweep failed")
				continue
			}
			if expired > 0 {
				log.Info().Int("expired", expired).Msg("Expired pending approvals")
			}
		}
	}
}
