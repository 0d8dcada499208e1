// File: internal/usecase/credential_uc.go
package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"sql-run-service/internal/domain/model"
	"sql-run-service/internal/domain/ports/adapter"
	"sql-run-service/internal/infra/metrics"
)

// Compile-time check
var _ CredentialUseCase = (*credentialUC)(nil)

type CredentialUseCase interface {
	// Refresh returns a usable engine token for the identity. With force
	// false a cached unexpired token is returned without any upstream call.
	// Concurrent refreshes for the same identity coalesce into exactly one
	// upstream call whose result every waiter receives.
	Refresh(ctx context.Context, identity model.Identity, force bool) (model.AccessToken, error)
}

// credentialUC coalesces token refreshes per identity. The flight group's
// entry lifecycle is tied to the in-flight call: once it settles the entry
// is gone and a later call starts a fresh refresh. Scope is per process;
// cross-process duplication is tolerated by the upstream protocol.
type credentialUC struct {
	gateway adapter.TokenGateway
	skew    time.Duration

	flight singleflight.Group
	mu     sync.RWMutex
	cache  map[string]model.AccessToken

	log *zerolog.Logger
}

func NewCredentialUseCase(gateway adapter.TokenGateway, skew time.Duration, log *zerolog.Logger) *credentialUC {
	return &credentialUC{
		gateway: gateway,
		skew:    skew,
		cache:   make(map[string]model.AccessToken),
		log:     log,
	}
}

func (c *credentialUC) Refresh(ctx context.Context, identity model.Identity, force bool) (model.AccessToken, error) {
	key := identity.Key()

	if !force {
		c.mu.RLock()
		tok, ok := c.cache[key]
		c.mu.RUnlock()
		if ok && tok.Usable(c.skew) {
			return tok, nil
		}
	}

	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		tok, err := c.gateway.Refresh(ctx, identity)
		metrics.IncTokenRefresh(err == nil)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[key] = tok
		c.mu.Unlock()
		c.log.Debug().Str("identity", key).Time("expires_at", tok.ExpiresAt).Msg("token refreshed")
		return tok, nil
	})
	if err != nil {
		return model.AccessToken{}, err
	}
	return v.(model.AccessToken), nil
}
