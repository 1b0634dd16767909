package business

import (
	"context"
	"fmt"

	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/session-gateway/internal/config"
	"github.com/openkcm/session-gateway/internal/idp"
)

// ReadinessCheck checks a dependency the gateway needs to serve requests.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// ReadinessChecks returns a check of the identity provider and, when sessions
// are cached in valkey, of the valkey server. closeFn releases the clients
// the checks use.
func ReadinessChecks(cfg *config.Config) (_ []ReadinessCheck, closeFn func(), _ error) {
	httpClient, err := loadHTTPClient(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("loading http client: %w", err)
	}

	client, err := idp.NewClient(cfg.Provider.PublicURL, httpClient)
	if err != nil {
		return nil, nil, fmt.Errorf("creating identity provider client: %w", err)
	}

	checks := []ReadinessCheck{{
		Name:  "identity-provider",
		Check: client.Alive,
	}}

	closeFn = func() {}
	if cfg.Cache.Enabled && cfg.Cache.Backend == config.CacheBackendValKey {
		valkeyClient, err := newValkeyClient(cfg.ValKey)
		if err != nil {
			return nil, nil, err
		}

		closeFn = valkeyClient.Close
		checks = append(checks, ReadinessCheck{
			Name:  "valkey",
			Check: pingValkey(valkeyClient),
		})
	}

	return checks, closeFn, nil
}

func pingValkey(client valkey.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
			return fmt.Errorf("pinging valkey: %w", err)
		}

		return nil
	}
}
