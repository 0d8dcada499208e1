// File: internal/infra/adapters/engine/http_engine.go
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"sql-run-service/internal/config"
	"sql-run-service/internal/domain/model"
	"sql-run-service/internal/domain/ports/adapter"
)

var _ adapter.QueryEngineAdapter = (*HTTPEngine)(nil)

// TokenProvider yields a usable access token for an identity. Satisfied by
// the credential use case, which coalesces and caches refreshes.
type TokenProvider interface {
	Refresh(ctx context.Context, identity model.Identity, force bool) (model.AccessToken, error)
}

// HTTPEngine implements adapter.QueryEngineAdapter against the engine's
// REST API. Every call is authenticated per identity; a 401 forces one
// token refresh and a single retry.
type HTTPEngine struct {
	baseURL string
	client  *http.Client
	tokens  TokenProvider
}

func NewHTTPEngine(cfg config.EngineConfig, tokens TokenProvider) (*HTTPEngine, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("engine base url empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid engine base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPEngine{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
		tokens:  tokens,
	}, nil
}

func (e *HTTPEngine) Validate(ctx context.Context, identity model.Identity, sql string, hints []model.ColumnHint) (string, error) {
	payload := map[string]any{"sql": sql}
	if len(hints) > 0 {
		payload["column_hints"] = hints
	}
	var out struct {
		QueryID string `json:"query_id"`
		Valid   bool   `json:"valid"`
		Message string `json:"message"`
	}
	if err := e.call(ctx, identity, http.MethodPost, "/v1/queries/validate", payload, &out); err != nil {
		return "", err
	}
	if !out.Valid || out.QueryID == "" {
		if out.Message == "" {
			out.Message = "query rejected"
		}
		return "", errors.New(out.Message)
	}
	return out.QueryID, nil
}

func (e *HTTPEngine) CreateTarget(ctx context.Context, identity model.Identity, runID string) (string, error) {
	// Table name derived from the run ID so a retried execute message
	// lands on the same target instead of provisioning a second one.
	payload := map[string]any{"name": "run_" + runID}
	var out struct {
		Table string `json:"table"`
	}
	if err := e.call(ctx, identity, http.MethodPost, "/v1/tables", payload, &out); err != nil {
		return "", err
	}
	if out.Table == "" {
		return "", errors.New("engine returned no output table")
	}
	return out.Table, nil
}

func (e *HTTPEngine) Execute(ctx context.Context, identity model.Identity, queryID, outputTable string) (string, error) {
	payload := map[string]any{"output_table": outputTable}
	var out struct {
		TaskID string `json:"task_id"`
	}
	path := fmt.Sprintf("/v1/queries/%s/execute", url.PathEscape(queryID))
	if err := e.call(ctx, identity, http.MethodPost, path, payload, &out); err != nil {
		return "", err
	}
	if out.TaskID == "" {
		return "", errors.New("engine returned no task id")
	}
	return out.TaskID, nil
}

func (e *HTTPEngine) JobStatus(ctx context.Context, identity model.Identity, handles model.EngineHandles) (adapter.JobStatus, error) {
	var out struct {
		State   string `json:"state"`
		Message string `json:"message"`
	}
	path := fmt.Sprintf("/v1/tasks/%s", url.PathEscape(handles.TaskID))
	if err := e.call(ctx, identity, http.MethodGet, path, nil, &out); err != nil {
		return adapter.JobStatus{}, err
	}
	switch out.State {
	case "complete", "succeeded":
		return adapter.JobStatus{State: adapter.JobStateComplete}, nil
	case "error", "failed":
		return adapter.JobStatus{State: adapter.JobStateError, ErrorMessage: out.Message}, nil
	default:
		return adapter.JobStatus{State: adapter.JobStateRunning}, nil
	}
}

func (e *HTTPEngine) FetchResults(ctx context.Context, identity model.Identity, handles model.EngineHandles, page int) (*adapter.ResultPage, error) {
	var out struct {
		Columns []string `json:"columns"`
		Rows    [][]any  `json:"rows"`
		HasMore bool     `json:"has_more"`
	}
	path := fmt.Sprintf("/v1/tables/%s/rows?page=%d", url.PathEscape(handles.OutputTable), page)
	if err := e.call(ctx, identity, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &adapter.ResultPage{
		Columns: out.Columns,
		Rows:    out.Rows,
		Page:    page,
		HasMore: out.HasMore,
	}, nil
}

// call performs one authenticated round trip, retrying once with a forced
// token refresh on 401.
func (e *HTTPEngine) call(ctx context.Context, identity model.Identity, method, path string, payload, out any) error {
	resp, err := e.do(ctx, identity, method, path, payload, false)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		resp, err = e.do(ctx, identity, method, path, payload, true)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("engine %s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("engine %s %s: decode: %w", method, path, err)
	}
	return nil
}

func (e *HTTPEngine) do(ctx context.Context, identity model.Identity, method, path string, payload any, forceToken bool) (*http.Response, error) {
	token, err := e.tokens.Refresh(ctx, identity, forceToken)
	if err != nil {
		return nil, fmt.Errorf("credential refresh: %w", err)
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.Value)
	req.Header.Set("X-Tenant-ID", identity.TenantID)
	req.Header.Set("X-Business-Unit-ID", identity.BusinessUnitID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.client.Do(req)
}
