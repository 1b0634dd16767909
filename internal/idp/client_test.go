package idp_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/session-gateway/internal/idp"
	"github.com/openkcm/session-gateway/internal/idp/idptest"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "absolute url", url: "http://kratos:4433"},
		{name: "absolute url with path", url: "https://example.com/ory/kratos"},
		{name: "relative url", url: "/ory/kratos", wantErr: true},
		{name: "invalid url", url: "http://[::1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := idp.NewClient(tt.url, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
		})
	}
}

func TestClient_Alive(t *testing.T) {
	t.Run("alive", func(t *testing.T) {
		srv := idptest.Start(t)
		client, err := idp.NewClient(srv.URL, srv.Client())
		require.NoError(t, err)

		assert.NoError(t, client.Alive(t.Context()))
		assert.Equal(t, 1, srv.Calls("/health/alive"))
	})

	t.Run("unavailable", func(t *testing.T) {
		srv := idptest.Start(t, idptest.WithFailure("/health/alive", http.StatusServiceUnavailable))
		client, err := idp.NewClient(srv.URL, srv.Client())
		require.NoError(t, err)

		err = client.Alive(t.Context())
		assert.Equal(t, http.StatusServiceUnavailable, idp.StatusCode(err))
	})
}

func TestClient_ToSession(t *testing.T) {
	identity := idptest.NewIdentity("identity-1", "ada@example.com")
	want := idptest.NewSession("sess-1", identity)
	srv := idptest.Start(t, idptest.WithSession("valid", want))

	client, err := idp.NewClient(srv.URL, srv.Client())
	require.NoError(t, err)

	t.Run("valid cookie", func(t *testing.T) {
		got, err := client.ToSession(t.Context(), idptest.SessionCookieName+"=valid")
		require.NoError(t, err)

		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("session mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("unknown cookie", func(t *testing.T) {
		_, err := client.ToSession(t.Context(), idptest.SessionCookieName+"=unknown")
		require.Error(t, err)

		var providerErr *idp.ProviderError
		require.ErrorAs(t, err, &providerErr)
		assert.Equal(t, http.StatusUnauthorized, providerErr.StatusCode)
		assert.Equal(t, "session_inactive", providerErr.ID)
		assert.Equal(t, http.StatusUnauthorized, idp.StatusCode(err))
	})
}

func TestClient_LoginFlow(t *testing.T) {
	identity := idptest.NewIdentity("identity-1", "ada@example.com")
	srv := idptest.Start(t, idptest.WithUser("ada@example.com", *identity))

	client, err := idp.NewClient(srv.URL, srv.Client())
	require.NoError(t, err)

	flow, err := client.CreateBrowserFlow(t.Context(), idp.FlowLogin, "")
	require.NoError(t, err)
	assert.NotEmpty(t, flow.ID)
	assert.Equal(t, http.MethodPost, flow.UI.Method)
	require.Len(t, flow.SetCookie, 1)
	assert.True(t, strings.HasPrefix(flow.SetCookie[0], idptest.CSRFCookieName+"="))

	fetched, err := client.GetFlow(t.Context(), idp.FlowLogin, flow.ID, "")
	require.NoError(t, err)
	assert.Equal(t, flow.ID, fetched.ID)

	t.Run("rejected credentials reissue the flow", func(t *testing.T) {
		body := json.RawMessage(`{"method":"password","identifier":"ada@example.com","password":"wrong"}`)

		_, err := client.UpdateFlow(t.Context(), idp.FlowLogin, flow.ID, "", body)
		require.Error(t, err)

		var flowErr *idp.FlowError
		require.ErrorAs(t, err, &flowErr)
		assert.Equal(t, flow.ID, flowErr.Flow.ID)
		require.NotEmpty(t, flowErr.Messages())
		assert.Equal(t, int64(4000006), flowErr.Messages()[0].ID)
		assert.Equal(t, http.StatusBadRequest, idp.StatusCode(err))
		require.Len(t, flowErr.Flow.SetCookie, 1)
		assert.True(t, strings.HasPrefix(flowErr.Flow.SetCookie[0], idptest.CSRFCookieName+"=csrf-renewed-"))
	})

	t.Run("social sign in requires a browser redirect", func(t *testing.T) {
		body := json.RawMessage(`{"method":"oidc","provider":"github"}`)

		_, err := client.UpdateFlow(t.Context(), idp.FlowLogin, flow.ID, "", body)

		var providerErr *idp.ProviderError
		require.ErrorAs(t, err, &providerErr)
		assert.Equal(t, http.StatusUnprocessableEntity, providerErr.StatusCode)
		assert.Equal(t, "browser_location_change_required", providerErr.ID)
		assert.Contains(t, providerErr.RedirectBrowserTo, "https://social.example.com/authorize")
		require.Len(t, providerErr.SetCookie, 1)
		assert.True(t, strings.HasPrefix(providerErr.SetCookie[0], idptest.ContinuityCookie+"="))
	})

	t.Run("valid credentials", func(t *testing.T) {
		body := json.RawMessage(`{"method":"password","identifier":"ada@example.com","password":"` + idptest.Password + `"}`)

		result, err := client.UpdateFlow(t.Context(), idp.FlowLogin, flow.ID, "", body)
		require.NoError(t, err)
		require.NotNil(t, result.Session)
		assert.True(t, result.Session.Active)
		assert.Equal(t, "identity-1", result.Session.Identity.ID)
		require.Len(t, result.SetCookie, 1)
		assert.True(t, strings.HasPrefix(result.SetCookie[0], idptest.SessionCookieName+"="))
	})

	t.Run("completed flow is gone", func(t *testing.T) {
		body := json.RawMessage(`{"method":"password"}`)

		_, err := client.UpdateFlow(t.Context(), idp.FlowLogin, flow.ID, "", body)
		assert.Equal(t, http.StatusGone, idp.StatusCode(err))
	})
}

func TestClient_Logout(t *testing.T) {
	identity := idptest.NewIdentity("identity-1", "ada@example.com")
	srv := idptest.Start(t, idptest.WithSession("valid", idptest.NewSession("sess-1", identity)))

	client, err := idp.NewClient(srv.URL, srv.Client())
	require.NoError(t, err)

	cookie := idptest.SessionCookieName + "=valid"

	flow, err := client.CreateBrowserLogoutFlow(t.Context(), cookie)
	require.NoError(t, err)
	assert.NotEmpty(t, flow.LogoutToken)

	resp, err := client.UpdateLogoutFlow(t.Context(), flow.LogoutToken, cookie)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SetCookie)
	assert.False(t, srv.HasSession("valid"))

	_, err = client.CreateBrowserLogoutFlow(t.Context(), cookie)
	assert.Equal(t, http.StatusUnauthorized, idp.StatusCode(err))
}

func TestClient_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	client, err := idp.NewClient(srv.URL, srv.Client())
	require.NoError(t, err)

	_, err = client.ToSession(t.Context(), "")

	var providerErr *idp.ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, http.StatusBadGateway, providerErr.StatusCode)
	assert.Empty(t, providerErr.ID)
}

func TestClient_ForwardsCookies(t *testing.T) {
	var gotCookie, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	client, err := idp.NewClient(srv.URL+"/ory/kratos/", srv.Client())
	require.NoError(t, err)

	_, _ = client.ToSession(t.Context(), "ory_kratos_session=abc; csrf_token=x")

	assert.Equal(t, "ory_kratos_session=abc; csrf_token=x", gotCookie)
	assert.Equal(t, "/ory/kratos/sessions/whoami", gotPath)
}
