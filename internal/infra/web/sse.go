// File: internal/infra/web/sse.go
package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sql-run-service/internal/domain/model"
	"sql-run-service/internal/infra/logging"
)

// handleStreamEvents serves a run's status channel as Server-Sent Events.
// Backfill comes first (the channel caches the latest event), then live
// updates; the stream closes itself once a terminal event is delivered.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	runID := chi.URLParam(r, "runID")
	log := logging.With(r.Context(), s.log)

	// Ownership gate before any slot is consumed. Foreign runs are
	// indistinguishable from missing ones.
	run, err := s.runUC.GetRunStatus(r.Context(), identity, runID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	release, err := s.limiter.Acquire(identity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer release()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// A terminal run may have outlived its cached backfill event. Serve
	// one synthesized frame from the store and end the stream.
	if run.Status.Terminal() {
		ev := model.NewStatusEvent(run.ID, run.Status, "run "+string(run.Status))
		ev.ErrorMessage = run.ErrorMessage
		writeEvent(w, flusher, ev)
		return
	}

	sub, err := s.events.Subscribe(r.Context(), runID)
	if err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("event subscribe failed")
		return
	}
	defer sub.Close()

	heartbeat := time.NewTicker(s.cfg.Events.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			writeEvent(w, flusher, ev)
			if ev.Status.Terminal() {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev model.StatusEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Status, data)
	flusher.Flush()
}
