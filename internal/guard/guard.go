// Package guard keeps authenticated visitors away from the authentication pages.
package guard

import (
	"net/http"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-gateway/internal/nav"
	"github.com/openkcm/session-gateway/internal/session"
)

type Action int

const (
	Allow Action = iota
	Redirect
	Abort
)

func (a Action) String() string {
	switch a {
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	case Abort:
		return "abort"
	default:
		return "unknown"
	}
}

// Decision is the outcome of evaluating a navigation. Path is set for Redirect.
type Decision struct {
	Action Action
	Path   string
}

// AuthState is the read side of the session store the guard consults.
type AuthState interface {
	Authenticated() bool
}

// Evaluate decides a navigation from current to target for the given state.
// Anonymous visitors are allowed. Authenticated visitors reloading the page
// are sent home, and any other navigation of theirs is aborted. An empty
// current path never equals target.
func Evaluate(state AuthState, target, current, home string) Decision {
	if !state.Authenticated() {
		return Decision{Action: Allow}
	}

	if current != "" && target == current {
		return Decision{Action: Redirect, Path: home}
	}

	return Decision{Action: Abort}
}

// PreventAuth applies Evaluate to page requests. The current path is taken
// from a same-origin Referer. A redirect is answered with 302 and an abort with
// 204, which leaves the browser on the page it came from.
func PreventAuth(home string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			store, err := session.FromContext(r.Context())
			if err != nil {
				slogctx.Error(r.Context(), "Route guard without session store", "error", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			var current string
			if ref := nav.Referrer(r); ref != nil {
				current = ref.Path
			}

			decision := Evaluate(store, r.URL.Path, current, home)
			switch decision.Action {
			case Redirect:
				http.Redirect(w, r, decision.Path, http.StatusFound)
			case Abort:
				w.WriteHeader(http.StatusNoContent)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
