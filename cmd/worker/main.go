// File: cmd/worker/main.go
package main

import (
	"context"
	"flag"
	"log"
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
	"sql-run-service/internal/infra/worker"
	"sql-run-service/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (noop engine)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
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
	runRepo := pg.NewRunRepo(pool)

	// ---- Credentials + engine ----
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

	var queryEngine adapter.QueryEngineAdapter
	if cfg.Runtime.Dev {
		queryEngine = qe.NewNoopEngine(logger)
		logger.Warn().Msg("using noop engine")
	} else {
		eng, err := qe.NewHTTPEngine(cfg.Engine, credUC)
		if err != nil {
			log.Fatalf("query engine: %v", err)
		}
		queryEngine = eng
	}

	// ---- Processor ----
	pool2 := worker.NewPool(cfg.Worker.Concurrency, logger)
	pool2.Start(ctx)

	processor := worker.NewRunProcessor(runRepo, jobQueue, statusChannel, queryEngine, encSvc, cfg.Worker, logger)
	go processor.Start(ctx, pool2)

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()
	pool2.Stop()
}
