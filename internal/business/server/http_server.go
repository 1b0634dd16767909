package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-gateway/internal/config"
	"github.com/openkcm/session-gateway/internal/flow"
	"github.com/openkcm/session-gateway/internal/guard"
	"github.com/openkcm/session-gateway/internal/idp"
	"github.com/openkcm/session-gateway/internal/render"
	"github.com/openkcm/session-gateway/internal/session"
)

// Deps are the collaborators of the HTTP handlers.
type Deps struct {
	Resolver *session.ServerResolver
	Flows    *flow.Controller
	// ProviderTransport carries proxied requests to the identity provider.
	ProviderTransport http.RoundTripper
}

func newRouter(cfg *config.Config, deps Deps) (http.Handler, error) {
	h := &handlers{cfg: cfg, flows: deps.Flows}
	trace := newTraceMiddleware(cfg)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.With(trace("ping")).Get("/healthz", pingHandlerFunc)

	if prefix := cfg.Provider.ProxyPath; prefix != "" {
		proxy, err := newProviderProxy(cfg.Provider.PublicURL, prefix, deps.ProviderTransport)
		if err != nil {
			return nil, err
		}
		r.With(trace("provider-proxy")).Handle(prefix+"*", proxy)
	}

	r.Group(func(r chi.Router) {
		r.Use(session.Middleware(deps.Resolver, observeResolution(cfg)))

		r.With(trace("home")).Get(cfg.Routes.Home, h.home)
		r.With(trace("session")).Get("/api/auth/session", h.session)

		r.Group(func(r chi.Router) {
			r.Use(guard.PreventAuth(cfg.Routes.Home))

			r.With(trace("signin")).Get(cfg.Routes.SignIn, h.authPage(idp.FlowLogin))
			r.With(trace("signup")).Get(cfg.Routes.SignUp, h.authPage(idp.FlowRegistration))
		})

		r.Group(func(r chi.Router) {
			r.Use(render.ClientPhase)

			r.With(trace("create-flow")).Post("/api/auth/flows/{kind}", h.createFlow)
			r.With(trace("submit-flow")).Post("/api/auth/flows/{kind}/{id}", h.submitFlow)
			r.With(trace("logout")).Post("/api/auth/logout", h.logout)
		})
	})

	return r, nil
}

// createHTTPServer creates the gateway http server using the given config
func createHTTPServer(ctx context.Context, cfg *config.Config, deps Deps) (*http.Server, error) {
	if err := initMeters(ctx, cfg); err != nil {
		return nil, err
	}

	handler, err := newRouter(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("creating router: %w", err)
	}

	return &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: handler,
	}, nil
}

// StartHTTPServer starts the HTTP server using the given config and blocks
// until ctx is done.
func StartHTTPServer(ctx context.Context, cfg *config.Config, deps Deps) error {
	server, err := createHTTPServer(ctx, cfg, deps)
	if err != nil {
		return err
	}

	slogctx.Info(ctx, "Starting a listener", "address", server.Addr)

	// Parse network if the address if provided in the format of network://address.
	// Otherwise use tcp network by default.
	network := "tcp"
	if idx := strings.IndexRune(server.Addr, ':'); idx != -1 && len(server.Addr) > idx+3 && server.Addr[idx:idx+3] == "://" {
		network = server.Addr[:idx]
		server.Addr = server.Addr[idx+3:]
	}

	listener, err := new(net.ListenConfig).Listen(ctx, network, server.Addr)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed to create a listener")
	}

	slogctx.Info(ctx, "A listener started", "address", listener.Addr().String())

	go func() {
		slogctx.Info(ctx, "Serving an HTTP server", "address", listener.Addr().String())
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogctx.Error(ctx, "Failed to serve an HTTP server", "error", err)
		}

		slogctx.Info(ctx, "Stopped an HTTP server")
	}()

	<-ctx.Done()

	shutdownCtx, shutdownRelease := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer shutdownRelease()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed shutting down HTTP server")
	}

	slogctx.Info(ctx, "Completed graceful shutdown of HTTP server")

	return nil
}
