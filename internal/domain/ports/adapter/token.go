package adapter

import (
	"context"

	"sql-run-service/internal/domain/model"
)

// TokenGateway performs the upstream credential refresh for one identity.
// The upstream rotates refresh tokens, so concurrent duplicate calls are
// tolerated by the remote protocol but should be minimized; the use-case
// layer coalesces them per process.
type TokenGateway interface {
	Refresh(ctx context.Context, identity model.Identity) (model.AccessToken, error)
}
