package server

import (
	"net/http"

	slogctx "github.com/veqryn/slog-context"
)

func pingHandlerFunc(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if _, err := w.Write([]byte(`{"result":"ok"}`)); err != nil {
		slogctx.Debug(r.Context(), "Failed to write ping response", "error", err)
	}
}
