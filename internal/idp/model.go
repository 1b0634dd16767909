package idp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Session is a session validated by the identity provider. It is replaced
// wholesale whenever it changes and never patched.
type Session struct {
	ID                          string    `json:"id"`
	Active                      bool      `json:"active"`
	ExpiresAt                   time.Time `json:"expires_at"`
	AuthenticatedAt             time.Time `json:"authenticated_at"`
	IssuedAt                    time.Time `json:"issued_at"`
	AuthenticatorAssuranceLevel string    `json:"authenticator_assurance_level,omitempty"`
	Identity                    *Identity `json:"identity,omitempty"`
}

// Expired reports whether the session expiry lies before now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Identity is the profile record of the authenticated subject.
type Identity struct {
	ID       string          `json:"id"`
	SchemaID string          `json:"schema_id"`
	State    string          `json:"state,omitempty"`
	Traits   json.RawMessage `json:"traits,omitempty"`
}

// Traits holds the identity traits of the default identity schema.
type Traits struct {
	Email string `json:"email"`
	Name  struct {
		First string `json:"first"`
		Last  string `json:"last"`
	} `json:"name"`
}

func (t Traits) FullName() string {
	return strings.TrimSpace(t.Name.First + " " + t.Name.Last)
}

// DecodeTraits decodes the raw traits of the identity.
func (i Identity) DecodeTraits() (Traits, error) {
	var traits Traits
	if len(i.Traits) == 0 {
		return traits, nil
	}

	if err := json.Unmarshal(i.Traits, &traits); err != nil {
		return Traits{}, fmt.Errorf("decoding identity traits: %w", err)
	}

	return traits, nil
}

// FlowKind names the self-service operation a flow belongs to.
type FlowKind string

const (
	FlowLogin        FlowKind = "login"
	FlowRegistration FlowKind = "registration"
)

// ParseFlowKind returns the flow kind for s. Only login and registration flows
// can be created and submitted by the browser.
func ParseFlowKind(s string) (FlowKind, error) {
	switch kind := FlowKind(s); kind {
	case FlowLogin, FlowRegistration:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown flow kind %q", s)
	}
}

// Flow is an in-progress login or registration issued by the provider.
type Flow struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	State      string    `json:"state,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
	IssuedAt   time.Time `json:"issued_at"`
	RequestURL string    `json:"request_url,omitempty"`
	ReturnTo   string    `json:"return_to,omitempty"`
	UI         UI        `json:"ui"`

	// SetCookie holds the provider's Set-Cookie headers, relayed to the browser.
	SetCookie []string `json:"-"`
}

type UI struct {
	Action   string    `json:"action"`
	Method   string    `json:"method"`
	Nodes    []Node    `json:"nodes"`
	Messages []Message `json:"messages,omitempty"`
}

type Node struct {
	Type       string          `json:"type"`
	Group      string          `json:"group"`
	Attributes json.RawMessage `json:"attributes"`
	Messages   []Message       `json:"messages"`
}

type Message struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
	Type string `json:"type"`
}

// UpdateResult is the successful outcome of submitting a login or registration flow.
type UpdateResult struct {
	Session      *Session       `json:"session,omitempty"`
	Identity     *Identity      `json:"identity,omitempty"`
	ContinueWith []ContinueWith `json:"continue_with,omitempty"`

	SetCookie []string `json:"-"`
}

// RedirectBrowserTo returns the address the provider asks the browser to
// continue at, if any.
func (r UpdateResult) RedirectBrowserTo() string {
	for _, c := range r.ContinueWith {
		if c.Action == "redirect_browser_to" && c.RedirectBrowserTo != "" {
			return c.RedirectBrowserTo
		}
	}

	return ""
}

type ContinueWith struct {
	Action            string `json:"action"`
	RedirectBrowserTo string `json:"redirect_browser_to,omitempty"`
}

// LogoutFlow carries the token required to end the current session.
type LogoutFlow struct {
	LogoutURL   string `json:"logout_url"`
	LogoutToken string `json:"logout_token"`
}

// LogoutResponse is the result of submitting a logout flow.
type LogoutResponse struct {
	SetCookie []string
}
