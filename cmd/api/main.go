// File: cmd/api/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sql-run-service/internal/config"
	"sql-run-service/internal/domain/ports/adapter"
	"sql-run-service/internal/infra/adapters/credentials"
	qe "sql-run-service/internal/infra/adapters/engine"
	pg "sql-run-service/internal/infra/db/postgres"
	"sql-run-service/internal/infra/logging"
	"sql-run-service/internal/infra/metrics"
	red "sql-run-service/internal/infra/redis"
	"sql-run-service/internal/infra/security"
	"sql-run-service/internal/infra/web"
	"sql-run-service/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	jobQueue := red.NewJobQueue(redisClient, cfg.Queue)
	statusChannel := red.NewStatusChannel(redisClient, cfg.Events.BackfillTTL)

	// ---- Encryption ----
	encSvc, err := security.NewEncryptionService(cfg.Security.EncryptionKey)
	if err != nil {
		log.Fatalf("encryption: %v", err)
	}

	// ---- Repositories ----
	txManager := pg.NewTxManager(pool)
	runRepo := pg.NewRunRepo(pool)

	// ---- Credentials ----
	var tokenGW adapter.TokenGateway
	if gw, err := credentials.NewHTTPGateway(cfg.Engine); err == nil {
		tokenGW = gw
	} else if cfg.Runtime.Dev {
		logger.Warn().Err(err).Msg("falling back to static dev credentials")
		tokenGW = credentials.NewStaticGateway("", time.Hour)
	} else {
		log.Fatalf("token gateway: %v", err)
	}
	credUC := usecase.NewCredentialUseCase(tokenGW, cfg.Engine.TokenSkew, logger)

	// ---- Query engine (results fetch path) ----
	var queryEngine adapter.QueryEngineAdapter
	if eng, err := qe.NewHTTPEngine(cfg.Engine, credUC); err == nil {
		queryEngine = eng
	} else if cfg.Runtime.Dev {
		logger.Warn().Err(err).Msg("falling back to noop engine")
		queryEngine = qe.NewNoopEngine(logger)
	} else {
		log.Fatalf("query engine: %v", err)
	}

	// ---- Use cases ----
	runUC := usecase.NewRunUseCase(runRepo, txManager, jobQueue, statusChannel, queryEngine, encSvc, cfg.Limits, cfg.Queue, logger)

	// ---- HTTP server ----
	srv := web.NewServer(runUC, credUC, statusChannel, *cfg, logger)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.API.Port),
		Handler: srv.Router(),
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown error")
	}
	cancel()
}
