// File: internal/infra/web/handlers.go
package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"sql-run-service/internal/domain"
	"sql-run-service/internal/domain/model"
	"sql-run-service/internal/domain/ports/repository"
)

type submitRunRequest struct {
	SQL         string             `json:"sql"`
	SnippetName string             `json:"snippet_name"`
	ColumnHints []model.ColumnHint `json:"column_hints,omitempty"`
}

type runResponse struct {
	ID           string     `json:"id"`
	SnippetName  string     `json:"snippet_name"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

func toRunResponse(run *model.Run) runResponse {
	return runResponse{
		ID:           run.ID,
		SnippetName:  run.SnippetName,
		Status:       string(run.Status),
		ErrorMessage: run.ErrorMessage,
		CreatedAt:    run.CreatedAt,
		StartedAt:    run.StartedAt,
		CompletedAt:  run.CompletedAt,
	}
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req submitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	run, err := s.runUC.SubmitRun(r.Context(), identity, req.SQL, req.SnippetName, req.ColumnHints)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toRunResponse(run))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	run, err := s.runUC.GetRunStatus(r.Context(), identity, chi.URLParam(r, "runID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(run))
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	res, err := s.runUC.CancelRun(r.Context(), identity, chi.URLParam(r, "runID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	body := struct {
		Run              runResponse `json:"run"`
		AlreadyCompleted bool        `json:"already_completed"`
		Message          string      `json:"message,omitempty"`
	}{
		Run:              toRunResponse(res.Run),
		AlreadyCompleted: res.AlreadyCompleted,
		Message:          res.Message,
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "Invalid page", http.StatusBadRequest)
			return
		}
		page = n
	}

	results, err := s.runUC.GetResults(r.Context(), identity, chi.URLParam(r, "runID"), page)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	body := struct {
		Columns []string `json:"columns"`
		Rows    [][]any  `json:"rows"`
		Page    int      `json:"page"`
		HasMore bool     `json:"has_more"`
	}{
		Columns: results.Columns,
		Rows:    results.Rows,
		Page:    results.Page,
		HasMore: results.HasMore,
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	opts := repository.ListOptions{
		SortBy:   q.Get("sort_by"),
		SortDesc: q.Get("order") != "asc",
	}
	if raw := q.Get("page"); raw != "" {
		opts.Page, _ = strconv.Atoi(raw)
	}
	if raw := q.Get("page_size"); raw != "" {
		opts.PageSize, _ = strconv.Atoi(raw)
	}

	runs, total, err := s.runUC.ListRuns(r.Context(), identity, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	items := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		items = append(items, toRunResponse(run))
	}
	body := struct {
		Runs  []runResponse `json:"runs"`
		Total int           `json:"total"`
	}{Runs: items, Total: total}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleRefreshCredentials(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	token, err := s.credUC.Refresh(r.Context(), identity, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body := struct {
		ExpiresAt time.Time `json:"expires_at"`
	}{ExpiresAt: token.ExpiresAt}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain sentinels onto HTTP statuses. Internal detail
// stays in the logs; the client gets the sentinel's message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrRateLimitExceeded):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case errors.Is(err, domain.ErrStreamLimit):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
