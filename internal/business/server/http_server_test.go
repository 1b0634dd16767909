package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/session-gateway/internal/config"
	"github.com/openkcm/session-gateway/internal/flow"
	"github.com/openkcm/session-gateway/internal/idp"
	"github.com/openkcm/session-gateway/internal/idp/idptest"
	"github.com/openkcm/session-gateway/internal/session"
)

const userEmail = "ada@example.com"

func testConfig(publicURL string) *config.Config {
	return &config.Config{
		BaseConfig: commoncfg.BaseConfig{
			Application: commoncfg.Application{
				Name: "test-app",
			},
		},
		HTTP: config.HTTPServer{
			Address:         "localhost:0",
			ShutdownTimeout: time.Second,
			MaxBodyBytes:    1 << 16,
		},
		Provider: config.Provider{
			PublicURL:     publicURL,
			Timeout:       time.Second,
			SessionCookie: idptest.SessionCookieName,
			ProxyPath:     "/ory/kratos/",
		},
		Routes: config.Routes{Home: "/", SignIn: "/auth/signin", SignUp: "/auth/signup"},
	}
}

type gateway struct {
	provider *idptest.Server
	server   *httptest.Server
}

func startGateway(t *testing.T, opts ...idptest.Option) *gateway {
	t.Helper()

	identity := idptest.NewIdentity("identity-1", userEmail)
	opts = append([]idptest.Option{
		idptest.WithUser(userEmail, *identity),
		idptest.WithSession("valid", idptest.NewSession("sess-1", identity)),
	}, opts...)
	provider := idptest.Start(t, opts...)

	cfg := testConfig(provider.URL)
	client, err := idp.NewClient(provider.URL, provider.Client())
	require.NoError(t, err)

	resolver := session.NewServerResolver(client, cfg.Provider.SessionCookie, session.WithTimeout(cfg.Provider.Timeout))
	deps := Deps{
		Resolver: resolver,
		Flows: flow.NewController(client,
			flow.WithForgetter(resolver),
			flow.WithRoutes(cfg.Routes.Home, cfg.Routes.SignIn),
			flow.WithSessionCookie(cfg.Provider.SessionCookie),
		),
	}

	srv, err := createHTTPServer(t.Context(), cfg, deps)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)

	return &gateway{provider: provider, server: ts}
}

type request struct {
	method  string
	path    string
	cookie  string
	referer string
	body    string
}

func (g *gateway) do(t *testing.T, req request) (*http.Response, map[string]any) {
	t.Helper()

	method := req.method
	if method == "" {
		method = http.MethodGet
	}

	r, err := http.NewRequestWithContext(t.Context(), method, g.server.URL+req.path, strings.NewReader(req.body))
	require.NoError(t, err)
	if req.cookie != "" {
		r.Header.Set("Cookie", req.cookie)
	}
	if req.referer != "" {
		r.Header.Set("Referer", g.server.URL+req.referer)
	}

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}

	resp, err := client.Do(r)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}

	return resp, decoded
}

const validCookie = idptest.SessionCookieName + "=valid"

func cookieHeader(c *http.Cookie) string {
	return c.Name + "=" + c.Value
}

func TestPing(t *testing.T) {
	g := startGateway(t)

	resp, body := g.do(t, request{path: "/healthz"})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["result"])
	assert.Equal(t, 0, g.provider.TotalCalls())
}

func TestPages(t *testing.T) {
	g := startGateway(t)

	t.Run("anonymous home", func(t *testing.T) {
		resp, body := g.do(t, request{path: "/"})

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "/", body["path"])
		assert.Nil(t, body["session"])
		assert.Nil(t, body["identity"])
	})

	t.Run("authenticated home", func(t *testing.T) {
		resp, body := g.do(t, request{path: "/", cookie: validCookie})

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		require.NotNil(t, body["identity"])
		assert.Equal(t, "identity-1", body["identity"].(map[string]any)["id"])
	})

	t.Run("provider rejects the cookie", func(t *testing.T) {
		resp, body := g.do(t, request{path: "/", cookie: idptest.SessionCookieName + "=forged"})

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Nil(t, body["session"])
	})

	t.Run("anonymous sign in renders without a flow", func(t *testing.T) {
		before := g.provider.Calls("/self-service/login/browser")

		resp, body := g.do(t, request{path: "/auth/signin"})

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Nil(t, body["flow"])
		assert.Equal(t, before, g.provider.Calls("/self-service/login/browser"))
	})

	t.Run("authenticated reload of sign in goes home", func(t *testing.T) {
		resp, _ := g.do(t, request{path: "/auth/signin", cookie: validCookie, referer: "/auth/signin"})

		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "/", resp.Header.Get("Location"))
	})

	t.Run("authenticated navigation to sign up is aborted", func(t *testing.T) {
		resp, _ := g.do(t, request{path: "/auth/signup", cookie: validCookie, referer: "/dashboard"})

		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("session endpoint", func(t *testing.T) {
		resp, body := g.do(t, request{path: "/api/auth/session", cookie: validCookie})

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		require.NotNil(t, body["session"])
		assert.Equal(t, "sess-1", body["session"].(map[string]any)["id"])
	})
}

func TestLoginJourney(t *testing.T) {
	g := startGateway(t)

	resp, body := g.do(t, request{method: http.MethodPost, path: "/api/auth/flows/login", referer: "/auth/signin"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	flowID := body["flow"].(map[string]any)["id"].(string)
	require.NotEmpty(t, flowID)
	assert.Equal(t, "/auth/signin?flow="+flowID, body["location"])
	require.NotEmpty(t, resp.Cookies())
	csrf := resp.Cookies()[0]
	assert.Equal(t, idptest.CSRFCookieName, csrf.Name)

	t.Run("page resumes the flow", func(t *testing.T) {
		resp, body := g.do(t, request{path: "/auth/signin?flow=" + flowID})

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		require.NotNil(t, body["flow"])
		assert.Equal(t, flowID, body["flow"].(map[string]any)["id"])
	})

	t.Run("page ignores an unknown flow", func(t *testing.T) {
		resp, body := g.do(t, request{path: "/auth/signin?flow=unknown"})

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Nil(t, body["flow"])
	})

	t.Run("wrong password returns the reissued flow", func(t *testing.T) {
		resp, body := g.do(t, request{
			method: http.MethodPost,
			path:   "/api/auth/flows/login/" + flowID,
			cookie: cookieHeader(csrf),
			body:   `{"method":"password","identifier":"` + userEmail + `","password":"wrong"}`,
		})

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "flow_validation", body["error"])
		require.NotNil(t, body["flow"])
		assert.Equal(t, flowID, body["flow"].(map[string]any)["id"])
		require.Len(t, resp.Cookies(), 1)
		assert.Equal(t, "csrf-renewed-"+flowID, resp.Cookies()[0].Value)
	})

	t.Run("social sign in relays the continuity cookie", func(t *testing.T) {
		resp, body := g.do(t, request{
			method: http.MethodPost,
			path:   "/api/auth/flows/login/" + flowID,
			cookie: cookieHeader(csrf),
			body:   `{"method":"oidc","provider":"github"}`,
		})

		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "https://social.example.com/authorize?flow="+flowID, body["redirect_to"])
		assert.Nil(t, body["session"])
		require.Len(t, resp.Cookies(), 1)
		assert.Equal(t, idptest.ContinuityCookie, resp.Cookies()[0].Name)
		assert.Equal(t, "continuity-"+flowID, resp.Cookies()[0].Value)
	})

	t.Run("invalid body", func(t *testing.T) {
		resp, body := g.do(t, request{method: http.MethodPost, path: "/api/auth/flows/login/" + flowID, body: "not json"})

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalid_request", body["error"])
	})

	t.Run("valid credentials", func(t *testing.T) {
		resp, body := g.do(t, request{
			method: http.MethodPost,
			path:   "/api/auth/flows/login/" + flowID,
			cookie: cookieHeader(csrf),
			body:   `{"method":"password","identifier":"` + userEmail + `","password":"` + idptest.Password + `"}`,
		})

		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "/", body["redirect_to"])
		assert.Equal(t, "identity-1", body["identity"].(map[string]any)["id"])

		var sessionCookie *http.Cookie
		for _, c := range resp.Cookies() {
			if c.Name == idptest.SessionCookieName {
				sessionCookie = c
			}
		}
		require.NotNil(t, sessionCookie)

		_, page := g.do(t, request{path: "/", cookie: cookieHeader(sessionCookie)})
		assert.NotNil(t, page["session"])
	})

	t.Run("submitting a finished flow", func(t *testing.T) {
		resp, body := g.do(t, request{method: http.MethodPost, path: "/api/auth/flows/login/" + flowID, body: `{}`})

		assert.Equal(t, http.StatusGone, resp.StatusCode)
		assert.Equal(t, "flow_expired", body["error"])
	})
}

func TestCreateFlow_Errors(t *testing.T) {
	t.Run("unsupported kind", func(t *testing.T) {
		g := startGateway(t)

		resp, body := g.do(t, request{method: http.MethodPost, path: "/api/auth/flows/settings"})

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "unsupported_flow", body["error"])
		assert.Equal(t, 0, g.provider.Calls("/self-service/settings/browser"))
	})

	t.Run("provider failure", func(t *testing.T) {
		g := startGateway(t, idptest.WithFailure("/self-service/registration/browser", http.StatusServiceUnavailable))

		resp, body := g.do(t, request{method: http.MethodPost, path: "/api/auth/flows/registration"})

		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		assert.Equal(t, "provider_unavailable", body["error"])
	})
}

func TestLogout(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		g := startGateway(t)

		resp, body := g.do(t, request{method: http.MethodPost, path: "/api/auth/logout", cookie: validCookie, referer: "/"})

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "completed", body["status"])
		assert.Equal(t, "/auth/signin", body["redirect_to"])
		assert.False(t, g.provider.HasSession("valid"))
		assert.NotEmpty(t, resp.Header.Values("Set-Cookie"))
	})

	t.Run("provider failure is not surfaced as an error", func(t *testing.T) {
		g := startGateway(t, idptest.WithFailure("/self-service/logout", http.StatusInternalServerError))

		resp, body := g.do(t, request{method: http.MethodPost, path: "/api/auth/logout", cookie: validCookie})

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "completed_with_provider_error", body["status"])
		assert.Equal(t, "/auth/signin", body["redirect_to"])
	})
}

func TestProviderProxy(t *testing.T) {
	g := startGateway(t)

	resp, body := g.do(t, request{path: "/ory/kratos/sessions/whoami", cookie: validCookie})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sess-1", body["id"])
	assert.Equal(t, 1, g.provider.Calls("/sessions/whoami"))
}

func TestStartHTTPServer_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())

	cfg := testConfig("http://127.0.0.1:4433")
	client, err := idp.NewClient(cfg.Provider.PublicURL, nil)
	require.NoError(t, err)

	deps := Deps{
		Resolver: session.NewServerResolver(client, cfg.Provider.SessionCookie),
		Flows:    flow.NewController(client),
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- StartHTTPServer(ctx, cfg, deps)
	}()

	// Give the server a moment to start
	time.Sleep(100 * time.Millisecond)

	cancel()

	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not shut down within timeout")
	}
}

func TestStartHTTPServer_InvalidAddress(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:4433")
	cfg.HTTP.Address = "invalid-address-format"

	client, err := idp.NewClient(cfg.Provider.PublicURL, nil)
	require.NoError(t, err)

	err = StartHTTPServer(t.Context(), cfg, Deps{
		Resolver: session.NewServerResolver(client, cfg.Provider.SessionCookie),
		Flows:    flow.NewController(client),
	})
	assert.Error(t, err)
}
