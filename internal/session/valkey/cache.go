// Package sessionvalkey is a session resolution cache shared between gateway
// replicas through ValKey.
package sessionvalkey

import (
	"context"
	"errors"
	"time"

	"github.com/valkey-io/valkey-go"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-gateway/internal/idp"
	"github.com/openkcm/session-gateway/internal/session"
)

const objectTypeResolution ObjectType = "resolution"

type Cache struct {
	store *store
}

var _ session.Cache = (*Cache)(nil)

func NewCache(valkeyClient valkey.Client, prefix string) *Cache {
	return &Cache{
		store: newStore(valkeyClient, prefix),
	}
}

func (c *Cache) Get(ctx context.Context, key string) (idp.Session, bool) {
	var s idp.Session
	if err := c.store.Get(ctx, objectTypeResolution, key, &s); err != nil {
		if !errors.Is(err, ErrNotFound) {
			slogctx.Warn(ctx, "Failed to read cached session resolution", "error", err)
		}

		return idp.Session{}, false
	}

	return s, true
}

func (c *Cache) Set(ctx context.Context, key string, s idp.Session, ttl time.Duration) {
	if err := c.store.Set(ctx, objectTypeResolution, key, s, ttl); err != nil {
		slogctx.Warn(ctx, "Failed to cache session resolution", "error", err)
	}
}

func (c *Cache) Delete(ctx context.Context, key string) {
	if err := c.store.Destroy(ctx, objectTypeResolution, key); err != nil {
		slogctx.Warn(ctx, "Failed to delete cached session resolution", "error", err)
	}
}
