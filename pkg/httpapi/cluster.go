package httpapi

import (
	"net/http"

	"github.com/stormstack/thunder/pkg/types"
)

// clusterStatusResponse aggregates the state a cluster operator needs
// in one call instead of walking /cluster/nodes and /matches separately.
type clusterStatusResponse struct {
	NodeCount       int                             `json:"node_count"`
	HealthyNodes    int                             `json:"healthy_nodes"`
	TotalCapacity   uint                            `json:"total_capacity"`
	UsedCapacity    uint                            `json:"used_capacity"`
	MatchesByStatus map[types.MatchStatus]int      `json:"matches_by_status"`
	Autoscaler      *types.AutoscaleRecommendation `json:"autoscaler,omitempty"`
}

func (h *handlers) clusterStatus(w http.ResponseWriter, r *http.Request) {
	nodes := h.deps.Nodes.List()

	resp := clusterStatusResponse{
		NodeCount:       len(nodes),
		HealthyNodes:    h.deps.Nodes.HealthyCount(),
		MatchesByStatus: h.deps.Matches.CountByStatus(),
	}
	for _, n := range nodes {
		resp.TotalCapacity += n.Capacity.MaxContainers
		resp.UsedCapacity += n.Metrics.Containers
	}

	if h.deps.Autoscaler != nil {
		rec := h.deps.Autoscaler.Last()
		resp.Autoscaler = &rec
	}

	Respond(w, http.StatusOK, resp)
}
