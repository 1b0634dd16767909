package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-gateway/internal/idp"
	"github.com/openkcm/session-gateway/internal/render"
	"github.com/openkcm/session-gateway/internal/serviceerr"
)

var (
	ErrNoCookie        = errors.New("no session cookie")
	ErrInactiveSession = errors.New("session is not active")
	ErrSessionExpired  = errors.New("session expired")
)

// SessionSource validates a session cookie against the identity provider.
type SessionSource interface {
	ToSession(ctx context.Context, cookie string) (idp.Session, error)
}

type ResolutionStatus int

const (
	Unauthenticated ResolutionStatus = iota
	Resolved
)

func (s ResolutionStatus) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Resolution is the outcome of resolving a session cookie. Reason holds the
// cause of an unauthenticated outcome.
type Resolution struct {
	Status  ResolutionStatus
	Session idp.Session
	Reason  error
}

type ResolverOption func(*ServerResolver)

// WithCache caches resolved sessions for at most ttl.
func WithCache(c Cache, ttl time.Duration) ResolverOption {
	return func(r *ServerResolver) {
		r.cache = c
		r.cacheTTL = ttl
	}
}

// WithTimeout bounds every provider call.
func WithTimeout(d time.Duration) ResolverOption {
	return func(r *ServerResolver) { r.timeout = d }
}

// ServerResolver turns the session cookie of a page request into a validated
// session. It fails open: every provider failure resolves as unauthenticated.
type ServerResolver struct {
	provider   SessionSource
	cookieName string
	timeout    time.Duration
	cache      Cache
	cacheTTL   time.Duration
	now        func() time.Time
}

func NewServerResolver(provider SessionSource, cookieName string, opts ...ResolverOption) *ServerResolver {
	r := &ServerResolver{
		provider:   provider,
		cookieName: cookieName,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *ServerResolver) CookieName() string {
	return r.cookieName
}

// Resolve validates cookie. It returns an error only when called outside the
// server phase, and does so before contacting the provider.
func (r *ServerResolver) Resolve(ctx context.Context, cookie *http.Cookie) (Resolution, error) {
	if phase := render.PhaseFromContext(ctx); phase != render.PhaseServer {
		return Resolution{}, serviceerr.ErrClientPhase
	}

	if cookie == nil || cookie.Value == "" {
		return Resolution{Status: Unauthenticated, Reason: ErrNoCookie}, nil
	}

	key := cacheKey(cookie.Value)
	if r.cache != nil {
		if s, ok := r.cache.Get(ctx, key); ok && r.usable(s) == nil {
			return Resolution{Status: Resolved, Session: s}, nil
		}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	s, err := r.provider.ToSession(ctx, r.cookieName+"="+cookie.Value)
	if err != nil {
		slogctx.Debug(ctx, "Session resolution failed, continuing unauthenticated", "error", err)
		return Resolution{Status: Unauthenticated, Reason: err}, nil
	}

	if err := r.usable(s); err != nil {
		return Resolution{Status: Unauthenticated, Reason: err}, nil
	}

	if r.cache != nil {
		ttl := r.cacheTTL
		if untilExpiry := s.ExpiresAt.Sub(r.now()); !s.ExpiresAt.IsZero() && untilExpiry < ttl {
			ttl = untilExpiry
		}
		if ttl > 0 {
			r.cache.Set(ctx, key, s, ttl)
		}
	}

	return Resolution{Status: Resolved, Session: s}, nil
}

// ResolveRequest resolves the session cookie carried by r.
func (r *ServerResolver) ResolveRequest(ctx context.Context, req *http.Request) (Resolution, error) {
	cookie, err := req.Cookie(r.cookieName)
	if err != nil {
		cookie = nil
	}

	return r.Resolve(ctx, cookie)
}

// Forget drops the cached resolution of the cookie value.
func (r *ServerResolver) Forget(ctx context.Context, cookieValue string) {
	if r.cache == nil || cookieValue == "" {
		return
	}

	r.cache.Delete(ctx, cacheKey(cookieValue))
}

func (r *ServerResolver) usable(s idp.Session) error {
	if !s.Active {
		return ErrInactiveSession
	}
	if s.Expired(r.now()) {
		return ErrSessionExpired
	}

	return nil
}

func cacheKey(cookieValue string) string {
	sum := sha256.Sum256([]byte(cookieValue))
	return hex.EncodeToString(sum[:])
}
