// File: internal/infra/web/server_test.go
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sql-run-service/internal/config"
	"sql-run-service/internal/domain"
	"sql-run-service/internal/domain/model"
	"sql-run-service/internal/domain/ports/adapter"
	"sql-run-service/internal/infra/logging"
	"sql-run-service/internal/usecase"
)

const testSecret = "test-jwt-secret"

var testIdentity = model.Identity{TenantID: "t1", BusinessUnitID: "b1", UserID: "u1"}

func newTestServer(t *testing.T, runUC usecase.RunUseCase, credUC usecase.CredentialUseCase, events *chanChannel) *Server {
	t.Helper()
	cfg := config.Config{}
	cfg.ApplyDefaults()
	cfg.Security.JWTSecret = testSecret
	cfg.Events.Heartbeat = 50 * time.Millisecond
	log := logging.New(cfg.Log, true)
	if events == nil {
		events = newChanChannel()
	}
	return NewServer(runUC, credUC, events, cfg, log)
}

func signToken(t *testing.T, identity model.Identity) string {
	t.Helper()
	claims := identityClaims{
		TenantID:       identity.TenantID,
		BusinessUnitID: identity.BusinessUnitID,
		UserID:         identity.UserID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func authedRequest(t *testing.T, method, target, body string) *http.Request {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	r.Header.Set("Authorization", "Bearer "+signToken(t, testIdentity))
	return r
}

func TestSubmitRunReturnsAccepted(t *testing.T) {
	var gotSQL string
	uc := &fakeRunUC{
		submitFn: func(ctx context.Context, identity model.Identity, sql, snippetName string, hints []model.ColumnHint) (*model.Run, error) {
			if identity != testIdentity {
				t.Errorf("identity = %+v", identity)
			}
			gotSQL = sql
			return model.NewRun("run-1", identity, snippetName, "hash"), nil
		},
	}
	srv := newTestServer(t, uc, &fakeCredUC{}, nil)

	rec := httptest.NewRecorder()
	req := authedRequest(t, http.MethodPost, "/api/v1/runs", `{"sql":"SELECT 1","snippet_name":"quick"}`)
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if gotSQL != "SELECT 1" {
		t.Fatalf("sql = %q", gotSQL)
	}
	var body runResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ID != "run-1" || body.Status != "queued" {
		t.Fatalf("body = %+v", body)
	}
}

func TestRequestWithoutTokenIsUnauthorized(t *testing.T) {
	srv := newTestServer(t, &fakeRunUC{}, &fakeCredUC{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(`{}`))
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTokenWithIncompleteIdentityIsRejected(t *testing.T) {
	srv := newTestServer(t, &fakeRunUC{}, &fakeCredUC{}, nil)

	claims := identityClaims{
		TenantID: "t1", // no business unit, no user
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRateLimitMapsTo429(t *testing.T) {
	uc := &fakeRunUC{
		submitFn: func(ctx context.Context, identity model.Identity, sql, snippetName string, hints []model.ColumnHint) (*model.Run, error) {
			return nil, domain.ErrRateLimitExceeded
		},
	}
	srv := newTestServer(t, uc, &fakeCredUC{}, nil)

	rec := httptest.NewRecorder()
	req := authedRequest(t, http.MethodPost, "/api/v1/runs", `{"sql":"SELECT 1"}`)
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUnknownRunMapsTo404(t *testing.T) {
	uc := &fakeRunUC{
		statusFn: func(ctx context.Context, identity model.Identity, runID string) (*model.Run, error) {
			return nil, domain.ErrNotFound
		},
	}
	srv := newTestServer(t, uc, &fakeCredUC{}, nil)

	rec := httptest.NewRecorder()
	req := authedRequest(t, http.MethodGet, "/api/v1/runs/nope", "")
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestResultsOnRunningRunMapsTo409(t *testing.T) {
	uc := &fakeRunUC{
		resultsFn: func(ctx context.Context, identity model.Identity, runID string, page int) (*adapter.ResultPage, error) {
			return nil, domain.ErrInvalidState
		},
	}
	srv := newTestServer(t, uc, &fakeCredUC{}, nil)

	rec := httptest.NewRecorder()
	req := authedRequest(t, http.MethodGet, "/api/v1/runs/run-1/results", "")
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCancelReturnsNoopForTerminalRun(t *testing.T) {
	uc := &fakeRunUC{
		cancelFn: func(ctx context.Context, identity model.Identity, runID string) (*usecase.CancelResult, error) {
			run := model.NewRun(runID, identity, "snippet", "hash")
			run.Status = model.RunStatusReady
			return &usecase.CancelResult{
				Run:              run,
				AlreadyCompleted: true,
				Message:          "run already completed with status ready",
			}, nil
		},
	}
	srv := newTestServer(t, uc, &fakeCredUC{}, nil)

	rec := httptest.NewRecorder()
	req := authedRequest(t, http.MethodDelete, "/api/v1/runs/run-1", "")
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		AlreadyCompleted bool   `json:"already_completed"`
		Message          string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.AlreadyCompleted || !strings.Contains(body.Message, "ready") {
		t.Fatalf("body = %+v", body)
	}
}

func TestRefreshCredentialsForcesUpstream(t *testing.T) {
	cred := &fakeCredUC{}
	srv := newTestServer(t, &fakeRunUC{}, cred, nil)

	rec := httptest.NewRecorder()
	req := authedRequest(t, http.MethodPost, "/api/v1/credentials/refresh", "")
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if cred.forced != 1 {
		t.Fatalf("forced = %d, want 1", cred.forced)
	}
}

func TestHealthAndMetricsSkipAuth(t *testing.T) {
	srv := newTestServer(t, &fakeRunUC{}, &fakeCredUC{}, nil)

	for _, path := range []string{"/health", "/metrics"} {
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
	}
}
