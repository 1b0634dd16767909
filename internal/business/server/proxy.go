package server

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	slogctx "github.com/veqryn/slog-context"
)

// newProviderProxy exposes the provider's public API below prefix so its
// cookies are issued for the application origin.
func newProviderProxy(publicURL, prefix string, transport http.RoundTripper) (http.Handler, error) {
	target, err := url.Parse(publicURL)
	if err != nil {
		return nil, fmt.Errorf("parsing provider public url: %w", err)
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slogctx.Warn(r.Context(), "Identity provider proxy request failed", "error", err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}

	return http.StripPrefix(strings.TrimSuffix(prefix, "/"), proxy), nil
}
