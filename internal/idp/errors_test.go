package idp

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseError(t *testing.T) {
	t.Run("reissued flow", func(t *testing.T) {
		body := []byte(`{"id":"f1","type":"browser","ui":{"action":"/x","method":"POST","nodes":[],"messages":[{"id":1,"text":"bad","type":"error"}]}}`)

		err := parseError(400, body, nil)

		var flowErr *FlowError
		require.ErrorAs(t, err, &flowErr)
		assert.Equal(t, "f1", flowErr.Flow.ID)
		assert.Equal(t, "flow f1 rejected: bad", err.Error())
	})

	t.Run("generic error", func(t *testing.T) {
		body := []byte(`{"error":{"id":"session_inactive","code":401,"reason":"no session","message":"No valid session"}}`)

		err := parseError(401, body, nil)

		var providerErr *ProviderError
		require.ErrorAs(t, err, &providerErr)
		assert.Equal(t, &ProviderError{
			StatusCode: 401,
			ID:         "session_inactive",
			Reason:     "no session",
			Message:    "No valid session",
		}, providerErr)
		assert.Equal(t, "identity provider responded with status 401: session_inactive: No valid session", err.Error())
	})

	t.Run("set cookie headers are kept", func(t *testing.T) {
		setCookie := []string{"ory_kratos_continuity=c1; Path=/; HttpOnly"}

		err := parseError(422, []byte(`{"error":{"id":"browser_location_change_required"},"redirect_browser_to":"https://social.example.com/authorize"}`), setCookie)

		var providerErr *ProviderError
		require.ErrorAs(t, err, &providerErr)
		assert.Equal(t, setCookie, providerErr.SetCookie)

		err = parseError(400, []byte(`{"id":"f1","ui":{"nodes":[]}}`), setCookie)

		var flowErr *FlowError
		require.ErrorAs(t, err, &flowErr)
		assert.Equal(t, setCookie, flowErr.Flow.SetCookie)

		err = parseError(502, []byte("bad gateway"), setCookie)
		require.ErrorAs(t, err, &providerErr)
		assert.Equal(t, setCookie, providerErr.SetCookie)
	})

	t.Run("not json", func(t *testing.T) {
		err := parseError(503, []byte("upstream down"), nil)
		assert.Equal(t, &ProviderError{StatusCode: 503}, err)
	})
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 0, StatusCode(errors.New("dial tcp: refused")))
	assert.Equal(t, 410, StatusCode(fmt.Errorf("wrapped: %w", &ProviderError{StatusCode: 410})))
	assert.Equal(t, 400, StatusCode(&FlowError{}))
}
