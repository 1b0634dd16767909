// Package idptest provides an in-memory identity provider speaking the subset
// of the Kratos public API used by the gateway.
package idptest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openkcm/session-gateway/internal/idp"
)

const (
	SessionCookieName = "ory_kratos_session"
	CSRFCookieName    = "csrf_token"
	ContinuityCookie  = "ory_kratos_continuity"
	Password          = "secret"
)

type Option func(*Server)

// WithSession registers a valid session for the given cookie value.
func WithSession(cookieValue string, s idp.Session) Option {
	return func(srv *Server) { srv.sessions[cookieValue] = s }
}

// WithUser registers an identity that can log in with Password.
func WithUser(identifier string, identity idp.Identity) Option {
	return func(srv *Server) { srv.users[identifier] = identity }
}

// WithFailure makes every request to path answer with status.
func WithFailure(path string, status int) Option {
	return func(srv *Server) { srv.failures[path] = status }
}

// Server is a fake identity provider. It counts requests per path so tests
// can assert that no network call was made.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	sessions     map[string]idp.Session
	users        map[string]idp.Identity
	flows        map[string]idp.FlowKind
	logoutTokens map[string]string
	failures     map[string]int
	calls        map[string]int
	seq          int
}

// Start starts a fake provider that is closed when the test ends.
func Start(t *testing.T, opts ...Option) *Server {
	t.Helper()

	srv := &Server{
		sessions:     make(map[string]idp.Session),
		users:        make(map[string]idp.Identity),
		flows:        make(map[string]idp.FlowKind),
		logoutTokens: make(map[string]string),
		failures:     make(map[string]int),
		calls:        make(map[string]int),
	}
	for _, opt := range opts {
		opt(srv)
	}

	srv.Server = httptest.NewServer(http.HandlerFunc(srv.serve))
	t.Cleanup(srv.Close)

	return srv
}

// Calls returns the number of requests received for path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[path]
}

// TotalCalls returns the number of requests received.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, n := range s.calls {
		total += n
	}

	return total
}

// HasSession reports whether the session cookie value is still valid.
func (s *Server) HasSession(cookieValue string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[cookieValue]
	return ok
}

// NewSession returns an active session for the identity expiring in an hour.
func NewSession(id string, identity *idp.Identity) idp.Session {
	now := time.Now().UTC().Truncate(time.Second)

	return idp.Session{
		ID:                          id,
		Active:                      true,
		ExpiresAt:                   now.Add(time.Hour),
		AuthenticatedAt:             now,
		IssuedAt:                    now,
		AuthenticatorAssuranceLevel: "aal1",
		Identity:                    identity,
	}
}

// NewIdentity returns an identity with email and name traits.
func NewIdentity(id, email string) *idp.Identity {
	traits := fmt.Sprintf(`{"email":%q,"name":{"first":"Ada","last":"Lovelace"}}`, email)

	return &idp.Identity{
		ID:       id,
		SchemaID: "default",
		State:    "active",
		Traits:   json.RawMessage(traits),
	}
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[r.URL.Path]++

	if status, ok := s.failures[r.URL.Path]; ok {
		writeError(w, status, "server_error", "injected failure")
		return
	}

	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/health/alive":
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	case r.URL.Path == "/sessions/whoami":
		s.whoami(w, r)
	case r.URL.Path == "/self-service/login/browser":
		s.createFlow(w, r, idp.FlowLogin)
	case r.URL.Path == "/self-service/registration/browser":
		s.createFlow(w, r, idp.FlowRegistration)
	case r.URL.Path == "/self-service/login/flows":
		s.getFlow(w, r, idp.FlowLogin)
	case r.URL.Path == "/self-service/registration/flows":
		s.getFlow(w, r, idp.FlowRegistration)
	case r.URL.Path == "/self-service/login" && r.Method == http.MethodPost:
		s.updateLogin(w, r)
	case r.URL.Path == "/self-service/registration" && r.Method == http.MethodPost:
		s.updateRegistration(w, r)
	case r.URL.Path == "/self-service/logout/browser":
		s.createLogout(w, r)
	case r.URL.Path == "/self-service/logout":
		s.updateLogout(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown path "+r.URL.Path)
	}
}

func (s *Server) whoami(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "session_inactive", "No valid session credentials found in the request.")
		return
	}

	_ = json.NewEncoder(w).Encode(sess)
}

func (s *Server) createFlow(w http.ResponseWriter, r *http.Request, kind idp.FlowKind) {
	if _, ok := s.sessionFromRequest(r); ok && kind == idp.FlowLogin {
		writeError(w, http.StatusBadRequest, "session_already_available", "A valid session was detected and thus login is not possible.")
		return
	}

	s.seq++
	id := fmt.Sprintf("%s-flow-%d", kind, s.seq)
	s.flows[id] = kind

	http.SetCookie(w, &http.Cookie{Name: CSRFCookieName, Value: "csrf-" + id, Path: "/", HttpOnly: true})
	_ = json.NewEncoder(w).Encode(newFlow(id, kind, nil))
}

func (s *Server) getFlow(w http.ResponseWriter, r *http.Request, kind idp.FlowKind) {
	id := r.URL.Query().Get("id")
	if s.flows[id] != kind {
		writeError(w, http.StatusNotFound, "not_found", "flow not found")
		return
	}

	_ = json.NewEncoder(w).Encode(newFlow(id, kind, nil))
}

type submission struct {
	Method     string          `json:"method"`
	Identifier string          `json:"identifier"`
	Password   string          `json:"password"`
	Traits     json.RawMessage `json:"traits"`
}

func (s *Server) updateLogin(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("flow")
	if s.flows[id] != idp.FlowLogin {
		writeError(w, http.StatusGone, "self_service_flow_expired", "The self-service flow expired.")
		return
	}

	var body submission
	_ = json.NewDecoder(r.Body).Decode(&body)

	if body.Method == "oidc" {
		http.SetCookie(w, &http.Cookie{Name: ContinuityCookie, Value: "continuity-" + id, Path: "/", HttpOnly: true})
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":               map[string]any{"id": "browser_location_change_required", "code": 422},
			"redirect_browser_to": "https://social.example.com/authorize?flow=" + id,
		})
		return
	}

	identity, ok := s.users[body.Identifier]
	if !ok || body.Password != Password {
		http.SetCookie(w, &http.Cookie{Name: CSRFCookieName, Value: "csrf-renewed-" + id, Path: "/", HttpOnly: true})
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(newFlow(id, idp.FlowLogin, []idp.Message{{
			ID:   4000006,
			Text: "The provided credentials are invalid, check for spelling mistakes in your password or username, email address, or phone number.",
			Type: "error",
		}}))
		return
	}

	s.seq++
	cookieValue := fmt.Sprintf("session-%d", s.seq)
	sess := NewSession("sess-"+cookieValue, &identity)
	s.sessions[cookieValue] = sess
	delete(s.flows, id)

	http.SetCookie(w, &http.Cookie{Name: SessionCookieName, Value: cookieValue, Path: "/", HttpOnly: true})
	_ = json.NewEncoder(w).Encode(map[string]any{"session": sess})
}

func (s *Server) updateRegistration(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("flow")
	if s.flows[id] != idp.FlowRegistration {
		writeError(w, http.StatusGone, "self_service_flow_expired", "The self-service flow expired.")
		return
	}

	var body submission
	_ = json.NewDecoder(r.Body).Decode(&body)

	var traits idp.Traits
	_ = json.Unmarshal(body.Traits, &traits)
	if traits.Email == "" || body.Password == "" {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(newFlow(id, idp.FlowRegistration, []idp.Message{{
			ID:   4000002,
			Text: "Property email is missing.",
			Type: "error",
		}}))
		return
	}

	s.seq++
	identity := idp.Identity{
		ID:       fmt.Sprintf("identity-%d", s.seq),
		SchemaID: "default",
		State:    "active",
		Traits:   body.Traits,
	}
	s.users[traits.Email] = identity

	cookieValue := fmt.Sprintf("session-%d", s.seq)
	sess := NewSession("sess-"+cookieValue, &identity)
	s.sessions[cookieValue] = sess
	delete(s.flows, id)

	http.SetCookie(w, &http.Cookie{Name: SessionCookieName, Value: cookieValue, Path: "/", HttpOnly: true})
	_ = json.NewEncoder(w).Encode(map[string]any{"identity": identity, "session": sess})
}

func (s *Server) createLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || !s.hasSession(cookie.Value) {
		writeError(w, http.StatusUnauthorized, "session_inactive", "No active session was found in this request.")
		return
	}

	s.seq++
	token := fmt.Sprintf("logout-token-%d", s.seq)
	s.logoutTokens[token] = cookie.Value

	_ = json.NewEncoder(w).Encode(idp.LogoutFlow{
		LogoutURL:   s.URL + "/self-service/logout?token=" + token,
		LogoutToken: token,
	})
}

func (s *Server) updateLogout(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	cookieValue, ok := s.logoutTokens[token]
	if !ok {
		writeError(w, http.StatusBadRequest, "security_csrf_violation", "unknown logout token")
		return
	}

	delete(s.logoutTokens, token)
	delete(s.sessions, cookieValue)

	http.SetCookie(w, &http.Cookie{Name: SessionCookieName, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sessionFromRequest(r *http.Request) (idp.Session, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return idp.Session{}, false
	}

	sess, ok := s.sessions[cookie.Value]
	return sess, ok
}

func (s *Server) hasSession(cookieValue string) bool {
	_, ok := s.sessions[cookieValue]
	return ok
}

func newFlow(id string, kind idp.FlowKind, messages []idp.Message) idp.Flow {
	now := time.Now().UTC().Truncate(time.Second)

	return idp.Flow{
		ID:        id,
		Type:      "browser",
		ExpiresAt: now.Add(10 * time.Minute),
		IssuedAt:  now,
		UI: idp.UI{
			Action: "/self-service/" + string(kind) + "?flow=" + id,
			Method: http.MethodPost,
			Nodes: []idp.Node{{
				Type:       "input",
				Group:      "default",
				Attributes: json.RawMessage(`{"name":"csrf_token","type":"hidden","value":"csrf-` + id + `"}`),
				Messages:   []idp.Message{},
			}},
			Messages: messages,
		},
	}
}

func writeError(w http.ResponseWriter, status int, id, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"id":      id,
			"code":    status,
			"status":  strings.ReplaceAll(http.StatusText(status), " ", ""),
			"message": message,
		},
	})
}
