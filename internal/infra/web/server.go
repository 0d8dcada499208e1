// File: internal/infra/web/server.go
package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"sql-run-service/internal/config"
	"sql-run-service/internal/domain/ports/stream"
	"sql-run-service/internal/usecase"
)

// Server is the HTTP gateway: run lifecycle endpoints plus the SSE event
// stream. All /api/v1 routes sit behind JWT auth; identity comes from
// token claims, never from the request body.
type Server struct {
	runUC   usecase.RunUseCase
	credUC  usecase.CredentialUseCase
	events  stream.StatusChannel
	limiter *StreamLimiter
	cfg     config.Config
	log     *zerolog.Logger
}

func NewServer(
	runUC usecase.RunUseCase,
	credUC usecase.CredentialUseCase,
	events stream.StatusChannel,
	cfg config.Config,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		runUC:   runUC,
		credUC:  credUC,
		events:  events,
		limiter: NewStreamLimiter(cfg.Limits.MaxOpenStreams),
		cfg:     cfg,
		log:     logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(traceID())
	r.Use(requestLog(s.log))
	r.Use(recoverer(s.log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(jwtAuth(s.cfg.Security.JWTSecret, s.log))

		r.Post("/runs", s.handleSubmitRun)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{runID}", s.handleGetRun)
		r.Delete("/runs/{runID}", s.handleCancelRun)
		r.Get("/runs/{runID}/results", s.handleGetResults)
		r.Get("/runs/{runID}/events", s.handleStreamEvents)

		r.Post("/credentials/refresh", s.handleRefreshCredentials)
	})

	return r
}
