// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

const (
	CacheBackendMemory = "memory"
	CacheBackendValKey = "valkey"

	ClientAuthInsecure = "insecure"
	ClientAuthMTLS     = "mtls"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP     HTTPServer `yaml:"http"`
	Provider Provider   `yaml:"provider"`
	Routes   Routes     `yaml:"routes"`
	Cache    Cache      `yaml:"cache"`
	ValKey   ValKey     `yaml:"valkey"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
	MaxBodyBytes    int64         `yaml:"maxBodyBytes" default:"65536"`
}

// Provider configures access to the public API of the identity provider.
type Provider struct {
	PublicURL     string        `yaml:"publicURL" default:"http://127.0.0.1:4433"`
	Timeout       time.Duration `yaml:"timeout" default:"5s"`
	SessionCookie string        `yaml:"sessionCookie" default:"ory_kratos_session"`
	// ProxyPath is where the provider's public API is exposed on the
	// application origin. Empty disables the proxy.
	ProxyPath  string     `yaml:"proxyPath" default:"/ory/kratos/"`
	ClientAuth ClientAuth `yaml:"clientAuth"`
}

type ClientAuth struct {
	Type string          `yaml:"type" default:"insecure"`
	MTLS *commoncfg.MTLS `yaml:"mtls"`
}

type Routes struct {
	Home   string `yaml:"home" default:"/"`
	SignIn string `yaml:"signIn" default:"/auth/signin"`
	SignUp string `yaml:"signUp" default:"/auth/signup"`
}

// Cache configures caching of resolved sessions.
type Cache struct {
	Enabled         bool          `yaml:"enabled" default:"false"`
	Backend         string        `yaml:"backend" default:"memory"`
	TTL             time.Duration `yaml:"ttl" default:"30s"`
	CleanupInterval time.Duration `yaml:"cleanupInterval" default:"1m"`
}

type ValKey struct {
	Host      commoncfg.SourceRef `yaml:"host"`
	User      commoncfg.SourceRef `yaml:"user"`
	Password  commoncfg.SourceRef `yaml:"password"`
	Prefix    string              `yaml:"prefix" default:"session-gateway"`
	SecretRef commoncfg.SecretRef `yaml:"secretRef"`
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.Provider.PublicURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("provider.publicURL %q must be an absolute url", c.Provider.PublicURL))
	}

	if c.Provider.SessionCookie == "" {
		errs = append(errs, errors.New("provider.sessionCookie must not be empty"))
	}

	if p := c.Provider.ProxyPath; p != "" && (!strings.HasPrefix(p, "/") || !strings.HasSuffix(p, "/")) {
		errs = append(errs, fmt.Errorf("provider.proxyPath %q must start and end with a slash", p))
	}

	switch c.Provider.ClientAuth.Type {
	case ClientAuthInsecure:
	case ClientAuthMTLS:
		if c.Provider.ClientAuth.MTLS == nil {
			errs = append(errs, errors.New("provider.clientAuth.mtls must be set for mtls client auth"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider.clientAuth.type %q", c.Provider.ClientAuth.Type))
	}

	for name, route := range map[string]string{
		"routes.home":   c.Routes.Home,
		"routes.signIn": c.Routes.SignIn,
		"routes.signUp": c.Routes.SignUp,
	} {
		if !strings.HasPrefix(route, "/") {
			errs = append(errs, fmt.Errorf("%s %q must be an absolute path", name, route))
		}
	}

	if c.Cache.Enabled {
		switch c.Cache.Backend {
		case CacheBackendMemory, CacheBackendValKey:
		default:
			errs = append(errs, fmt.Errorf("unknown cache.backend %q", c.Cache.Backend))
		}

		if c.Cache.TTL <= 0 {
			errs = append(errs, errors.New("cache.ttl must be positive"))
		}
	}

	return errors.Join(errs...)
}
