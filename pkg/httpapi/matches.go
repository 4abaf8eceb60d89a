package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stormstack/thunder/pkg/errs"
	"github.com/stormstack/thunder/pkg/types"
)

type createMatchRequest struct {
	ModuleNames []string `json:"module_names"`
	PlayerLimit uint     `json:"player_limit"`
	Hints       struct {
		PreferredNodeID string   `json:"preferred_node_id"`
		Excluded        []string `json:"excluded"`
	} `json:"hints"`
}

func (req createMatchRequest) schedulingHints() types.SchedulingHints {
	excluded := make(map[string]bool, len(req.Hints.Excluded))
	for _, id := range req.Hints.Excluded {
		excluded[id] = true
	}
	return types.SchedulingHints{
		PreferredNodeID: req.Hints.PreferredNodeID,
		Excluded:        excluded,
	}
}

func (h *handlers) createMatch(w http.ResponseWriter, r *http.Request) {
	var req createMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, errs.New(errs.KindInvalidArgument, "decoding deploy request: %v", err))
		return
	}
	if len(req.ModuleNames) == 0 {
		RespondError(w, errs.New(errs.KindInvalidArgument, "module_names must not be empty"))
		return
	}

	resp, err := h.deps.Coordinator.Deploy(r.Context(), req.ModuleNames, req.schedulingHints(), req.PlayerLimit)
	if err != nil {
		RespondError(w, err)
		return
	}
	Respond(w, http.StatusCreated, resp)
}

func (h *handlers) listMatches(w http.ResponseWriter, r *http.Request) {
	Respond(w, http.StatusOK, h.deps.Matches.List())
}

func (h *handlers) getMatch(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "id")
	m, err := h.deps.Matches.Get(matchID)
	if err != nil {
		RespondError(w, err)
		return
	}
	Respond(w, http.StatusOK, m)
}

func (h *handlers) deleteMatch(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "id")
	if err := h.deps.Coordinator.Delete(r.Context(), matchID); err != nil {
		RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) finishMatch(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "id")
	if err := h.deps.Coordinator.Finish(r.Context(), matchID); err != nil {
		RespondError(w, err)
		return
	}
	Respond(w, http.StatusOK, map[string]string{"status": "finished"})
}

type joinMatchRequest struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
}

func (h *handlers) joinMatch(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "id")

	var req joinMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, errs.New(errs.KindInvalidArgument, "decoding join request: %v", err))
		return
	}
	if req.PlayerID == "" {
		RespondError(w, errs.New(errs.KindInvalidArgument, "player_id is required"))
		return
	}

	resp, err := h.deps.Coordinator.Join(r.Context(), matchID, req.PlayerID, req.PlayerName)
	if err != nil {
		RespondError(w, err)
		return
	}
	Respond(w, http.StatusOK, resp)
}

type leaveMatchRequest struct {
	PlayerID string `json:"player_id"`
}

func (h *handlers) leaveMatch(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "id")

	var req leaveMatchRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.deps.Coordinator.Leave(r.Context(), matchID, req.PlayerID); err != nil {
		RespondError(w, err)
		return
	}
	Respond(w, http.StatusOK, map[string]string{"status": "left"})
}
