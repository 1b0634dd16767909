package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-gateway/internal/idp"
	"github.com/openkcm/session-gateway/internal/serviceerr"
)

type errorModel struct {
	Error            string    `json:"error"`
	ErrorDescription string    `json:"error_description,omitempty"`
	Flow             *idp.Flow `json:"flow,omitempty"`
}

func toErrorModel(err error) (model errorModel, httpStatus int) {
	var serviceErr *serviceerr.Error
	if !errors.As(err, &serviceErr) {
		serviceErr = serviceerr.ErrUnknown
	}

	model = errorModel{
		Error:            string(serviceErr.Err),
		ErrorDescription: serviceErr.Description,
	}

	var flowErr *idp.FlowError
	if errors.As(err, &flowErr) {
		model.Flow = &flowErr.Flow
	}

	return model, serviceErr.HTTPStatus()
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	model, status := toErrorModel(err)
	if status >= http.StatusInternalServerError {
		slogctx.Error(ctx, "Request failed", "error", err)
	} else {
		slogctx.Debug(ctx, "Request rejected", "error", err)
	}

	relayCookies(w, errorCookies(err))
	writeJSON(ctx, w, status, model)
}

// errorCookies returns the Set-Cookie headers of a failed provider answer.
func errorCookies(err error) []string {
	var flowErr *idp.FlowError
	if errors.As(err, &flowErr) {
		return flowErr.Flow.SetCookie
	}

	var providerErr *idp.ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.SetCookie
	}

	return nil
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slogctx.Error(ctx, "Failed to write response", "error", err)
	}
}

// relayCookies forwards the identity provider's Set-Cookie headers.
func relayCookies(w http.ResponseWriter, setCookie []string) {
	for _, c := range setCookie {
		w.Header().Add("Set-Cookie", c)
	}
}
