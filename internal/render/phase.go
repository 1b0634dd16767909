// Package render carries the execution phase of a request in its context.
//
// Page requests are handled in the server phase: the gateway resolves the
// session cookie and produces the hydration state for the UI. Calls made by
// page scripts after hydration are handled in the client phase. Code that must
// only run in one of the phases checks the value with PhaseFromContext.
package render

import (
	"context"
	"net/http"
)

type Phase int

const (
	PhaseServer Phase = iota
	PhaseClient
)

func (p Phase) String() string {
	switch p {
	case PhaseServer:
		return "server"
	case PhaseClient:
		return "client"
	default:
		return "unknown"
	}
}

// Using an unexported type prevents key collisions from other packages.
type contextKey string

const phaseKey contextKey = "render-phase"

// WithPhase returns a copy of ctx carrying the given phase.
func WithPhase(ctx context.Context, p Phase) context.Context {
	return context.WithValue(ctx, phaseKey, p)
}

// PhaseFromContext returns the phase stored in ctx. A context without a phase
// is a page render, so PhaseServer is returned.
func PhaseFromContext(ctx context.Context) Phase {
	p, ok := ctx.Value(phaseKey).(Phase)
	if !ok {
		return PhaseServer
	}

	return p
}

// ServerPhase is an http.Handler middleware that marks the request as a page render.
func ServerPhase(next http.Handler) http.Handler {
	return withPhase(next, PhaseServer)
}

// ClientPhase is an http.Handler middleware that marks the request as a call
// issued by the browser after hydration.
func ClientPhase(next http.Handler) http.Handler {
	return withPhase(next, PhaseClient)
}

func withPhase(next http.Handler, p Phase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithPhase(r.Context(), p)))
	})
}
