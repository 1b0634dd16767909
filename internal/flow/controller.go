// Package flow drives the self-service flows of the identity provider: it
// creates and submits login and registration flows and performs logout.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-gateway/internal/idp"
	"github.com/openkcm/session-gateway/internal/nav"
	"github.com/openkcm/session-gateway/internal/render"
	"github.com/openkcm/session-gateway/internal/serviceerr"
	"github.com/openkcm/session-gateway/internal/session"
)

const QueryFlowID = "flow"

// Provider is the part of the identity provider API the flows use.
type Provider interface {
	CreateBrowserFlow(ctx context.Context, kind idp.FlowKind, cookie string) (idp.Flow, error)
	GetFlow(ctx context.Context, kind idp.FlowKind, id, cookie string) (idp.Flow, error)
	UpdateFlow(ctx context.Context, kind idp.FlowKind, id, cookie string, body json.RawMessage) (idp.UpdateResult, error)
	CreateBrowserLogoutFlow(ctx context.Context, cookie string) (idp.LogoutFlow, error)
	UpdateLogoutFlow(ctx context.Context, token, cookie string) (idp.LogoutResponse, error)
}

// Forgetter drops cached state of a session cookie value.
type Forgetter interface {
	Forget(ctx context.Context, cookieValue string)
}

// ClientFlowCreator creates login and registration flows for the browser.
type ClientFlowCreator struct {
	provider Provider
}

func NewClientFlowCreator(provider Provider) *ClientFlowCreator {
	return &ClientFlowCreator{provider: provider}
}

// Create starts a flow of the given kind and records its id in the query of
// the current location so the flow can be resumed after a provider redirect.
// In the server phase no flow is created and the returned Ref stays unset.
func (c *ClientFlowCreator) Create(ctx context.Context, kind idp.FlowKind, cookie string, nv nav.Navigator) (*Ref, error) {
	if _, err := idp.ParseFlowKind(string(kind)); err != nil {
		return nil, fmt.Errorf("%w: %w", serviceerr.ErrUnsupportedFlow, err)
	}

	ref := NewRef()
	if render.PhaseFromContext(ctx) != render.PhaseClient {
		return ref, nil
	}

	f, err := c.provider.CreateBrowserFlow(ctx, kind, cookie)
	if err != nil {
		return nil, fmt.Errorf("creating %s flow: %w", kind, classify(err))
	}

	ref.set(f)
	nv.ReplaceQuery(url.Values{QueryFlowID: {f.ID}})

	return ref, nil
}

type ControllerOption func(*Controller)

// WithForgetter invalidates cached resolutions of logged out sessions.
func WithForgetter(f Forgetter) ControllerOption {
	return func(c *Controller) { c.forgetter = f }
}

// WithRoutes sets the pages navigated to after sign in and logout.
func WithRoutes(home, signIn string) ControllerOption {
	return func(c *Controller) {
		c.home = home
		c.signIn = signIn
	}
}

// WithSessionCookie sets the name of the provider's session cookie.
func WithSessionCookie(name string) ControllerOption {
	return func(c *Controller) { c.sessionCookie = name }
}

type Controller struct {
	*ClientFlowCreator

	forgetter     Forgetter
	home          string
	signIn        string
	sessionCookie string
}

func NewController(provider Provider, opts ...ControllerOption) *Controller {
	c := &Controller{
		ClientFlowCreator: NewClientFlowCreator(provider),
		home:              "/",
		signIn:            "/auth/signin",
		sessionCookie:     "ory_kratos_session",
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Outcome is the result of a submitted flow. RedirectTo is where the browser
// goes next, outside the application when social sign in continues there.
type Outcome struct {
	Session    *idp.Session
	Identity   *idp.Identity
	RedirectTo string
	SetCookie  []string
}

// Flow fetches an existing flow.
func (c *Controller) Flow(ctx context.Context, kind idp.FlowKind, id, cookie string) (idp.Flow, error) {
	if _, err := idp.ParseFlowKind(string(kind)); err != nil {
		return idp.Flow{}, fmt.Errorf("%w: %w", serviceerr.ErrUnsupportedFlow, err)
	}

	f, err := c.provider.GetFlow(ctx, kind, id, cookie)
	if err != nil {
		return idp.Flow{}, fmt.Errorf("getting %s flow: %w", kind, classify(err))
	}

	return f, nil
}

// Submit posts body to the flow. On success the resulting session is written
// to store and the browser is sent to the address the provider continues with,
// or home. Provider failures are returned to the caller; a rejected submission
// wraps an *idp.FlowError carrying the reissued flow.
func (c *Controller) Submit(
	ctx context.Context,
	store *session.Store,
	kind idp.FlowKind,
	flowID, cookie string,
	body json.RawMessage,
	nv nav.Navigator,
) (Outcome, error) {
	if _, err := idp.ParseFlowKind(string(kind)); err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", serviceerr.ErrUnsupportedFlow, err)
	}

	result, err := c.provider.UpdateFlow(ctx, kind, flowID, cookie, body)
	if err != nil {
		if to, setCookie, ok := browserLocationChange(err); ok {
			nv.Push(to)
			return Outcome{RedirectTo: to, SetCookie: setCookie}, nil
		}

		return Outcome{}, fmt.Errorf("updating %s flow: %w", kind, classify(err))
	}

	outcome := Outcome{
		Session:   result.Session,
		Identity:  result.Identity,
		SetCookie: result.SetCookie,
	}

	if result.Session != nil {
		s := *result.Session
		if s.Identity == nil && result.Identity != nil {
			s.Identity = result.Identity
		}
		store.Set(s)

		if outcome.Identity == nil {
			outcome.Identity = s.Identity
		}
	}

	target := c.home
	if to := result.RedirectBrowserTo(); to != "" {
		target = to
	}
	outcome.RedirectTo = target
	nv.Push(target)

	return outcome, nil
}

type LogoutStatus int

const (
	LogoutCompleted LogoutStatus = iota
	LogoutCompletedWithProviderError
)

func (s LogoutStatus) String() string {
	switch s {
	case LogoutCompleted:
		return "completed"
	case LogoutCompletedWithProviderError:
		return "completed_with_provider_error"
	default:
		return "unknown"
	}
}

// LogoutResult reports how a logout went at the provider. Err holds the
// provider failure of a LogoutCompletedWithProviderError.
type LogoutResult struct {
	Status    LogoutStatus
	Err       error
	SetCookie []string
}

// Logout ends the session at the provider, then clears store and navigates to
// the sign in page. The local logout happens even when the provider fails.
func (c *Controller) Logout(ctx context.Context, store *session.Store, cookie string, nv nav.Navigator) LogoutResult {
	result := LogoutResult{Status: LogoutCompleted}

	if err := c.endProviderSession(ctx, cookie, &result); err != nil {
		slogctx.Warn(ctx, "Logout at the identity provider failed", "error", err)
		result.Status = LogoutCompletedWithProviderError
		result.Err = err
	}

	store.Clear()

	if c.forgetter != nil {
		if value := c.sessionCookieValue(cookie); value != "" {
			c.forgetter.Forget(ctx, value)
		}
	}

	nv.Push(c.signIn)

	return result
}

func (c *Controller) endProviderSession(ctx context.Context, cookie string, result *LogoutResult) error {
	logoutFlow, err := c.provider.CreateBrowserLogoutFlow(ctx, cookie)
	if err != nil {
		return fmt.Errorf("creating logout flow: %w", err)
	}

	resp, err := c.provider.UpdateLogoutFlow(ctx, logoutFlow.LogoutToken, cookie)
	if err != nil {
		return fmt.Errorf("updating logout flow: %w", err)
	}
	result.SetCookie = resp.SetCookie

	return nil
}

func (c *Controller) sessionCookieValue(cookie string) string {
	cookies, err := http.ParseCookie(cookie)
	if err != nil {
		return ""
	}

	for _, ck := range cookies {
		if ck.Name == c.sessionCookie {
			return ck.Value
		}
	}

	return ""
}

// browserLocationChange reports whether err asks the browser to continue the
// flow elsewhere, as the provider does for social sign in.
func browserLocationChange(err error) (to string, setCookie []string, ok bool) {
	var providerErr *idp.ProviderError
	if !errors.As(err, &providerErr) ||
		providerErr.StatusCode != http.StatusUnprocessableEntity ||
		providerErr.RedirectBrowserTo == "" {
		return "", nil, false
	}

	return providerErr.RedirectBrowserTo, providerErr.SetCookie, true
}

// classify attaches the service error matching a provider failure.
func classify(err error) error {
	var flowErr *idp.FlowError
	if errors.As(err, &flowErr) {
		return fmt.Errorf("%w: %w", serviceerr.ErrFlowValidation, err)
	}

	var code *serviceerr.Error
	switch idp.StatusCode(err) {
	case http.StatusBadRequest:
		code = serviceerr.ErrInvalidRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		code = serviceerr.ErrUnauthorized
	case http.StatusNotFound:
		code = serviceerr.ErrNotFound
	case http.StatusGone:
		code = serviceerr.ErrFlowExpired
	default:
		code = serviceerr.ErrProviderUnavailable
	}

	return fmt.Errorf("%w: %w", code, err)
}
