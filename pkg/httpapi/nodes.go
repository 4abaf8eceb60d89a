package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stormstack/thunder/pkg/errs"
	"github.com/stormstack/thunder/pkg/types"
)

type registerNodeRequest struct {
	NodeID           string             `json:"node_id"`
	AdvertiseAddress string             `json:"advertise_address"`
	Capacity         types.NodeCapacity `json:"capacity"`
	JoinToken        string             `json:"join_token,omitempty"`
}

func (h *handlers) registerNode(w http.ResponseWriter, r *http.Request) {
	var req registerNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, errs.New(errs.KindInvalidArgument, "decoding register request: %v", err))
		return
	}

	if h.deps.JoinTokens != nil && h.deps.JoinTokens.Required() {
		if err := h.deps.JoinTokens.Validate(req.JoinToken); err != nil {
			RespondError(w, err)
			return
		}
	}

	node := &types.Node{
		NodeID:           req.NodeID,
		AdvertiseAddress: req.AdvertiseAddress,
		Capacity:         req.Capacity,
	}
	if err := h.deps.Nodes.Register(r.Context(), node); err != nil {
		RespondError(w, err)
		return
	}

	got, err := h.deps.Nodes.Get(req.NodeID)
	if err != nil {
		RespondError(w, err)
		return
	}
	Respond(w, http.StatusOK, got)
}

func (h *handlers) heartbeat(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "id")

	var metrics types.NodeMetrics
	if err := json.NewDecoder(r.Body).Decode(&metrics); err != nil {
		RespondError(w, errs.New(errs.KindInvalidArgument, "decoding heartbeat request: %v", err))
		return
	}

	if err := h.deps.Nodes.Heartbeat(r.Context(), nodeID, metrics); err != nil {
		RespondError(w, err)
		return
	}
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) drainNode(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "id")
	if err := h.deps.Nodes.Drain(r.Context(), nodeID); err != nil {
		RespondError(w, err)
		return
	}
	Respond(w, http.StatusOK, map[string]string{"status": "draining"})
}

func (h *handlers) deregisterNode(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "id")
	if err := h.deps.Nodes.Deregister(r.Context(), nodeID); err != nil {
		RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listNodes(w http.ResponseWriter, r *http.Request) {
	Respond(w, http.StatusOK, h.deps.Nodes.List())
}

func (h *handlers) getNode(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "id")
	node, err := h.deps.Nodes.Get(nodeID)
	if err != nil {
		RespondError(w, err)
		return
	}
	Respond(w, http.StatusOK, node)
}
