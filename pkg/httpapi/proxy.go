package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stormstack/thunder/pkg/errs"
)

// proxyMatch forwards any /api/matches/{id}/* request to the node
// hosting that match. It is deliberately outside the bearer-scope
// groups: the engine node itself validates the match token players
// present, so the control plane only needs to route the request.
func (h *handlers) proxyMatch(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "id")
	h.deps.Proxy.Forward(w, r, matchID)
}

// proxySnapshot forwards the snapshot websocket stream, gated by a
// match token (rather than a bearer scope) presented either as a
// bearer Authorization header or a ?token= query parameter, since
// browser WebSocket clients cannot set arbitrary headers.
func (h *handlers) proxySnapshot(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "match_id")

	raw := r.URL.Query().Get("token")
	if raw == "" {
		if header := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(header), "bearer ") {
			raw = header[len("Bearer "):]
		}
	}
	if raw == "" {
		RespondError(w, errs.New(errs.KindUnauthorized, "match token required"))
		return
	}

	if _, err := h.deps.Tokens.VerifyForMatch(raw, matchID); err != nil {
		RespondError(w, err)
		return
	}

	h.deps.Proxy.Forward(w, r, matchID)
}
