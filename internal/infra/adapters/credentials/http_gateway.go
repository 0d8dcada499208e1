// File: internal/infra/adapters/credentials/http_gateway.go
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"sql-run-service/internal/config"
	"sql-run-service/internal/domain/model"
	"sql-run-service/internal/domain/ports/adapter"
)

var _ adapter.TokenGateway = (*HTTPGateway)(nil)

// HTTPGateway exchanges client credentials for a short-lived access token
// scoped to one identity. Callers must not invoke this concurrently for
// the same identity; the credential use case coalesces for them.
type HTTPGateway struct {
	tokenURL     string
	clientID     string
	clientSecret string
	client       *http.Client
}

func NewHTTPGateway(cfg config.EngineConfig) (*HTTPGateway, error) {
	if cfg.TokenURL == "" {
		return nil, errors.New("token url empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPGateway{
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		client:       &http.Client{Timeout: timeout},
	}, nil
}

func (g *HTTPGateway) Refresh(ctx context.Context, identity model.Identity) (model.AccessToken, error) {
	payload := map[string]any{
		"grant_type":       "client_credentials",
		"client_id":        g.clientID,
		"client_secret":    g.clientSecret,
		"tenant_id":        identity.TenantID,
		"business_unit_id": identity.BusinessUnitID,
		"user_id":          identity.UserID,
	}
	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.tokenURL, bytes.NewReader(b))
	if err != nil {
		return model.AccessToken{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return model.AccessToken{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.AccessToken{}, fmt.Errorf("token refresh: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"` // seconds
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.AccessToken{}, fmt.Errorf("token refresh: decode: %w", err)
	}
	if out.AccessToken == "" {
		return model.AccessToken{}, errors.New("token refresh: empty access token")
	}
	return model.AccessToken{
		Value:     out.AccessToken,
		ExpiresAt: time.Now().Add(time.Duration(out.ExpiresIn) * time.Second),
	}, nil
}
