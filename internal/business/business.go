package business

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/valkey-io/valkey-go"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-gateway/internal/business/server"
	"github.com/openkcm/session-gateway/internal/config"
	"github.com/openkcm/session-gateway/internal/flow"
	"github.com/openkcm/session-gateway/internal/idp"
	"github.com/openkcm/session-gateway/internal/render"
	"github.com/openkcm/session-gateway/internal/session"
	"github.com/openkcm/session-gateway/internal/session/memcache"
	sessionvalkey "github.com/openkcm/session-gateway/internal/session/valkey"
)

// Main starts the gateway HTTP server and blocks until ctx is done.
func Main(ctx context.Context, cfg *config.Config) error {
	deps, closeFn, err := initDeps(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the gateway: %w", err)
	}

	defer closeFn()

	return server.StartHTTPServer(ctx, cfg, deps)
}

// CheckSession resolves the session behind a session cookie value the way a
// page request would.
func CheckSession(ctx context.Context, cfg *config.Config, cookieValue string) (session.Resolution, error) {
	deps, closeFn, err := initDeps(ctx, cfg)
	if err != nil {
		return session.Resolution{}, fmt.Errorf("initialising the gateway: %w", err)
	}

	defer closeFn()

	ctx = render.WithPhase(ctx, render.PhaseServer)

	res, err := deps.Resolver.Resolve(ctx, &http.Cookie{Name: deps.Resolver.CookieName(), Value: cookieValue})
	if err != nil {
		return session.Resolution{}, err
	}

	attrs := []any{"status", res.Status.String()}
	if res.Status == session.Resolved {
		attrs = append(attrs, "session", res.Session.ID, "expiresAt", res.Session.ExpiresAt)
	} else if res.Reason != nil {
		attrs = append(attrs, "reason", res.Reason)
	}
	slogctx.Info(ctx, "Checked session", attrs...)

	return res, nil
}

func initDeps(ctx context.Context, cfg *config.Config) (_ server.Deps, closeFn func(), _ error) {
	if err := cfg.Validate(); err != nil {
		return server.Deps{}, nil, fmt.Errorf("validating config: %w", err)
	}

	httpClient, err := loadHTTPClient(cfg)
	if err != nil {
		return server.Deps{}, nil, fmt.Errorf("loading http client: %w", err)
	}

	client, err := idp.NewClient(cfg.Provider.PublicURL, httpClient)
	if err != nil {
		return server.Deps{}, nil, fmt.Errorf("creating identity provider client: %w", err)
	}

	resolverOpts := []session.ResolverOption{session.WithTimeout(cfg.Provider.Timeout)}

	closeFn = func() {}
	if cfg.Cache.Enabled {
		cache, cacheClose, err := newCache(ctx, cfg)
		if err != nil {
			return server.Deps{}, nil, fmt.Errorf("creating session cache: %w", err)
		}

		closeFn = cacheClose
		resolverOpts = append(resolverOpts, session.WithCache(cache, cfg.Cache.TTL))
	}

	resolver := session.NewServerResolver(client, cfg.Provider.SessionCookie, resolverOpts...)
	controller := flow.NewController(client,
		flow.WithForgetter(resolver),
		flow.WithRoutes(cfg.Routes.Home, cfg.Routes.SignIn),
		flow.WithSessionCookie(cfg.Provider.SessionCookie),
	)

	return server.Deps{
		Resolver:          resolver,
		Flows:             controller,
		ProviderTransport: httpClient.Transport,
	}, closeFn, nil
}

func newCache(ctx context.Context, cfg *config.Config) (_ session.Cache, closeFn func(), _ error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendMemory:
		slogctx.Info(ctx, "Caching resolved sessions in memory", "ttl", cfg.Cache.TTL)
		return memcache.New(cfg.Cache.CleanupInterval), func() {}, nil
	case config.CacheBackendValKey:
		valkeyClient, err := newValkeyClient(cfg.ValKey)
		if err != nil {
			return nil, nil, err
		}

		slogctx.Info(ctx, "Caching resolved sessions in valkey", "ttl", cfg.Cache.TTL, "prefix", cfg.ValKey.Prefix)
		return sessionvalkey.NewCache(valkeyClient, cfg.ValKey.Prefix), valkeyClient.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

func newValkeyClient(cfg config.ValKey) (valkey.Client, error) {
	valkeyHost, err := commoncfg.LoadValueFromSourceRef(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("loading valkey host: %w", err)
	}

	valkeyUsername, err := commoncfg.LoadValueFromSourceRef(cfg.User)
	if err != nil {
		return nil, fmt.Errorf("loading valkey username: %w", err)
	}

	valkeyPassword, err := commoncfg.LoadValueFromSourceRef(cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("loading valkey password: %w", err)
	}

	valkeyOpts := valkey.ClientOption{
		InitAddress: []string{string(valkeyHost)},
		Username:    string(valkeyUsername),
		Password:    string(valkeyPassword),
	}

	if cfg.SecretRef.Type == commoncfg.MTLSSecretType {
		tlsConfig, err := commoncfg.LoadMTLSConfig(&cfg.SecretRef.MTLS)
		if err != nil {
			return nil, fmt.Errorf("loading valkey mTLS config from secret ref: %w", err)
		}

		valkeyOpts.TLSConfig = tlsConfig
	}

	valkeyClient, err := valkey.NewClient(valkeyOpts)
	if err != nil {
		return nil, fmt.Errorf("creating a new valkey client: %w", err)
	}

	return valkeyClient, nil
}

// loadHTTPClient builds the client used for the identity provider, both for
// API calls and for the proxy.
func loadHTTPClient(cfg *config.Config) (*http.Client, error) {
	switch cfg.Provider.ClientAuth.Type {
	case config.ClientAuthMTLS:
		tlsConfig, err := commoncfg.LoadMTLSConfig(cfg.Provider.ClientAuth.MTLS)
		if err != nil {
			return nil, fmt.Errorf("loading mTLS config: %w", err)
		}

		return &http.Client{
			Timeout: cfg.Provider.Timeout,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: tlsConfig,
			},
		}, nil
	case config.ClientAuthInsecure:
		return &http.Client{
			Timeout:   cfg.Provider.Timeout,
			Transport: http.DefaultTransport,
		}, nil
	default:
		return nil, errors.New("unknown Client Auth type")
	}
}
