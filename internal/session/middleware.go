package session

import (
	"context"
	"net/http"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-gateway/internal/render"
)

// Observer is notified of every resolution made by the middleware.
type Observer func(ctx context.Context, res Resolution)

// Middleware resolves the session cookie once per request and hands the
// populated store to the next handler through the request context.
func Middleware(resolver *ServerResolver, observe Observer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := render.WithPhase(r.Context(), render.PhaseServer)

			res, err := resolver.ResolveRequest(ctx, r)
			if err != nil {
				slogctx.Error(ctx, "Failed to resolve session", "error", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			if observe != nil {
				observe(ctx, res)
			}

			store := NewStore()
			if res.Status == Resolved {
				store.Set(res.Session)
			}

			next.ServeHTTP(w, r.WithContext(NewContext(ctx, store)))
		})
	}
}
