package session

import (
	"context"
	"time"

	"github.com/openkcm/session-gateway/internal/idp"
)

// Cache keeps resolved sessions keyed by a digest of the cookie value.
// Implementations treat backend failures as misses.
type Cache interface {
	Get(ctx context.Context, key string) (idp.Session, bool)
	Set(ctx context.Context, key string, s idp.Session, ttl time.Duration)
	Delete(ctx context.Context, key string)
}
