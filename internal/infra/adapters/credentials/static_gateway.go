// File: internal/infra/adapters/credentials/static_gateway.go
package credentials

import (
	"context"
	"time"

	"sql-run-service/internal/domain/model"
	"sql-run-service/internal/domain/ports/adapter"
)

var _ adapter.TokenGateway = (*StaticGateway)(nil)

// StaticGateway issues a fixed token for local/dev runs, paired with the
// noop engine which ignores it.
type StaticGateway struct {
	value string
	ttl   time.Duration
}

func NewStaticGateway(value string, ttl time.Duration) *StaticGateway {
	if value == "" {
		value = "dev-token"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &StaticGateway{value: value, ttl: ttl}
}

func (g *StaticGateway) Refresh(ctx context.Context, identity model.Identity) (model.AccessToken, error) {
	return model.AccessToken{Value: g.value, ExpiresAt: time.Now().Add(g.ttl)}, nil
}
