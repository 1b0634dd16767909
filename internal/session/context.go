package session

import (
	"context"
	"errors"
)

// Using an unexported type prevents key collisions from other packages.
type contextKey string

const storeKey contextKey = "session-store"

var ErrNoStore = errors.New("session store not found in context")

// NewContext returns a copy of ctx carrying the store.
func NewContext(ctx context.Context, s *Store) context.Context {
	return context.WithValue(ctx, storeKey, s)
}

// FromContext returns the store of the request.
func FromContext(ctx context.Context) (*Store, error) {
	s, ok := ctx.Value(storeKey).(*Store)
	if !ok || s == nil {
		return nil, ErrNoStore
	}

	return s, nil
}
