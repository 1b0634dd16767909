// Package idp is a client for the browser-facing API of the identity provider
// (Ory Kratos). It validates session cookies and creates and advances
// self-service flows on behalf of the browser, forwarding the browser's cookies
// and returning the provider's Set-Cookie headers for relaying.
package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const maxResponseSize = 1 << 20

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewClient returns a client for the provider's public API at publicURL.
func NewClient(publicURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(publicURL)
	if err != nil {
		return nil, fmt.Errorf("parsing provider public url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("provider public url %q must be absolute", publicURL)
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    u,
		httpClient: httpClient,
	}, nil
}

// Alive checks the provider's liveness endpoint.
func (c *Client) Alive(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health/alive", nil, "", nil)
	if err != nil {
		return err
	}

	if resp.status != http.StatusOK {
		return parseError(resp.status, resp.body, resp.setCookie)
	}

	return nil
}

// ToSession validates the session carried by cookie, a Cookie header value.
func (c *Client) ToSession(ctx context.Context, cookie string) (Session, error) {
	resp, err := c.do(ctx, http.MethodGet, "/sessions/whoami", nil, cookie, nil)
	if err != nil {
		return Session{}, err
	}

	if resp.status != http.StatusOK {
		return Session{}, parseError(resp.status, resp.body, resp.setCookie)
	}

	var s Session
	if err := json.Unmarshal(resp.body, &s); err != nil {
		return Session{}, fmt.Errorf("decoding session: %w", err)
	}

	return s, nil
}

// CreateBrowserFlow creates a new login or registration flow for the browser.
func (c *Client) CreateBrowserFlow(ctx context.Context, kind FlowKind, cookie string) (Flow, error) {
	resp, err := c.do(ctx, http.MethodGet, "/self-service/"+string(kind)+"/browser", nil, cookie, nil)
	if err != nil {
		return Flow{}, err
	}

	if resp.status != http.StatusOK {
		return Flow{}, parseError(resp.status, resp.body, resp.setCookie)
	}

	return resp.decodeFlow()
}

// GetFlow fetches an existing flow, e.g. to resume it after a provider redirect.
func (c *Client) GetFlow(ctx context.Context, kind FlowKind, id, cookie string) (Flow, error) {
	query := url.Values{"id": {id}}

	resp, err := c.do(ctx, http.MethodGet, "/self-service/"+string(kind)+"/flows", query, cookie, nil)
	if err != nil {
		return Flow{}, err
	}

	if resp.status != http.StatusOK {
		return Flow{}, parseError(resp.status, resp.body, resp.setCookie)
	}

	return resp.decodeFlow()
}

// UpdateFlow submits body to the flow with the given id. A rejected submission
// is returned as a *FlowError carrying the reissued flow.
func (c *Client) UpdateFlow(ctx context.Context, kind FlowKind, id, cookie string, body json.RawMessage) (UpdateResult, error) {
	query := url.Values{"flow": {id}}

	resp, err := c.do(ctx, http.MethodPost, "/self-service/"+string(kind), query, cookie, bytes.NewReader(body))
	if err != nil {
		return UpdateResult{}, err
	}

	if resp.status != http.StatusOK {
		return UpdateResult{}, parseError(resp.status, resp.body, resp.setCookie)
	}

	var result UpdateResult
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return UpdateResult{}, fmt.Errorf("decoding %s flow result: %w", kind, err)
	}
	result.SetCookie = resp.setCookie

	return result, nil
}

// CreateBrowserLogoutFlow obtains a logout token for the session carried by cookie.
func (c *Client) CreateBrowserLogoutFlow(ctx context.Context, cookie string) (LogoutFlow, error) {
	resp, err := c.do(ctx, http.MethodGet, "/self-service/logout/browser", nil, cookie, nil)
	if err != nil {
		return LogoutFlow{}, err
	}

	if resp.status != http.StatusOK {
		return LogoutFlow{}, parseError(resp.status, resp.body, resp.setCookie)
	}

	var flow LogoutFlow
	if err := json.Unmarshal(resp.body, &flow); err != nil {
		return LogoutFlow{}, fmt.Errorf("decoding logout flow: %w", err)
	}

	if flow.LogoutToken == "" {
		return LogoutFlow{}, errors.New("logout flow without a logout token")
	}

	return flow, nil
}

// UpdateLogoutFlow invalidates the session the logout token was issued for.
func (c *Client) UpdateLogoutFlow(ctx context.Context, token, cookie string) (LogoutResponse, error) {
	query := url.Values{"token": {token}}

	resp, err := c.do(ctx, http.MethodGet, "/self-service/logout", query, cookie, nil)
	if err != nil {
		return LogoutResponse{}, err
	}

	if resp.status != http.StatusNoContent && resp.status != http.StatusOK {
		return LogoutResponse{}, parseError(resp.status, resp.body, resp.setCookie)
	}

	return LogoutResponse{SetCookie: resp.setCookie}, nil
}

type response struct {
	status    int
	body      []byte
	setCookie []string
}

func (r response) decodeFlow() (Flow, error) {
	var flow Flow
	if err := json.Unmarshal(r.body, &flow); err != nil {
		return Flow{}, fmt.Errorf("decoding flow: %w", err)
	}
	flow.SetCookie = r.setCookie

	return flow, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, cookie string, body io.Reader) (response, error) {
	u := c.baseURL.JoinPath(path)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return response{}, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie = strings.TrimSpace(cookie); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return response{}, fmt.Errorf("reading response: %w", err)
	}

	return response{
		status:    resp.StatusCode,
		body:      data,
		setCookie: resp.Header.Values("Set-Cookie"),
	}, nil
}
