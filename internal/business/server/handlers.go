package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-gateway/internal/config"
	"github.com/openkcm/session-gateway/internal/flow"
	"github.com/openkcm/session-gateway/internal/idp"
	"github.com/openkcm/session-gateway/internal/nav"
	"github.com/openkcm/session-gateway/internal/serviceerr"
	"github.com/openkcm/session-gateway/internal/session"
)

type handlers struct {
	cfg   *config.Config
	flows *flow.Controller
}

// pageState is the hydration state of a page.
type pageState struct {
	Path     string        `json:"path"`
	Session  *idp.Session  `json:"session"`
	Identity *idp.Identity `json:"identity"`
	Flow     *idp.Flow     `json:"flow,omitempty"`
}

func newPageState(path string, state session.State, f *idp.Flow) pageState {
	return pageState{
		Path:     path,
		Session:  state.Session,
		Identity: state.Identity,
		Flow:     f,
	}
}

func (h *handlers) home(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	store, err := session.FromContext(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, newPageState(r.URL.Path, store.Snapshot(), nil))
}

// authPage renders a sign in or sign up page. A flow named in the query is
// resumed; otherwise the browser creates one after hydration.
func (h *handlers) authPage(kind idp.FlowKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		store, err := session.FromContext(ctx)
		if err != nil {
			writeError(ctx, w, err)
			return
		}

		cookie := r.Header.Get("Cookie")

		var f *idp.Flow
		if id := r.URL.Query().Get(flow.QueryFlowID); id != "" {
			resumed, err := h.flows.Flow(ctx, kind, id, cookie)
			if err != nil {
				slogctx.Debug(ctx, "Failed to resume flow", "flow", id, "error", err)
			} else {
				relayCookies(w, resumed.SetCookie)
				f = &resumed
			}
		} else {
			ref, err := h.flows.Create(ctx, kind, cookie, nav.NewRecorder(r.URL))
			if err != nil {
				writeError(ctx, w, err)
				return
			}
			if created, ok := ref.Get(); ok {
				f = &created
			}
		}

		writeJSON(ctx, w, http.StatusOK, newPageState(r.URL.Path, store.Snapshot(), f))
	}
}

func (h *handlers) session(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	store, err := session.FromContext(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, store.Snapshot())
}

type createFlowResponse struct {
	Flow     idp.Flow `json:"flow"`
	Location string   `json:"location"`
}

func (h *handlers) createFlow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	kind, err := idp.ParseFlowKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(ctx, w, fmt.Errorf("%w: %w", serviceerr.ErrUnsupportedFlow, err))
		return
	}

	rec := nav.FromRequest(r)

	ref, err := h.flows.Create(ctx, kind, r.Header.Get("Cookie"), rec)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	f, ok := ref.Get()
	if !ok {
		writeError(ctx, w, errors.New("flow was not created"))
		return
	}

	relayCookies(w, f.SetCookie)
	writeJSON(ctx, w, http.StatusOK, createFlowResponse{Flow: f, Location: rec.Location()})
}

type submitFlowResponse struct {
	Session    *idp.Session  `json:"session,omitempty"`
	Identity   *idp.Identity `json:"identity,omitempty"`
	RedirectTo string        `json:"redirect_to"`
}

func (h *handlers) submitFlow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	kind, err := idp.ParseFlowKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(ctx, w, fmt.Errorf("%w: %w", serviceerr.ErrUnsupportedFlow, err))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.HTTP.MaxBodyBytes))
	if err != nil {
		writeError(ctx, w, fmt.Errorf("%w: reading body: %w", serviceerr.ErrInvalidRequest, err))
		return
	}
	if !json.Valid(body) {
		writeError(ctx, w, fmt.Errorf("%w: body is not valid json", serviceerr.ErrInvalidRequest))
		return
	}

	store, err := session.FromContext(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	rec := nav.FromRequest(r)

	out, err := h.flows.Submit(ctx, store, kind, chi.URLParam(r, "id"), r.Header.Get("Cookie"), body, rec)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	relayCookies(w, out.SetCookie)
	writeJSON(ctx, w, http.StatusOK, submitFlowResponse{
		Session:    out.Session,
		Identity:   out.Identity,
		RedirectTo: out.RedirectTo,
	})
}

type logoutResponse struct {
	Status     string `json:"status"`
	RedirectTo string `json:"redirect_to"`
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	store, err := session.FromContext(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	rec := nav.FromRequest(r)
	res := h.flows.Logout(ctx, store, r.Header.Get("Cookie"), rec)

	target, _ := rec.Target()
	relayCookies(w, res.SetCookie)
	writeJSON(ctx, w, http.StatusOK, logoutResponse{
		Status:     res.Status.String(),
		RedirectTo: target,
	})
}
