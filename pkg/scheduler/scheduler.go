// Package scheduler implements C4: selection of a single node to host a
// new match, from a set of candidate nodes supplied by NodeRegistry.
package scheduler

import (
	"sort"

	"github.com/stormstack/thunder/pkg/errs"
	"github.com/stormstack/thunder/pkg/log"
	"github.com/stormstack/thunder/pkg/metrics"
	"github.com/stormstack/thunder/pkg/types"
)

// Scheduler selects the least-loaded capable node for a new match.
type Scheduler struct{}

// New returns a Scheduler. It carries no state: every call is a pure
// function of its candidate list and hints.
func New() *Scheduler {
	return &Scheduler{}
}

// Select picks one node from candidates to host a new match container.
//
// Candidates are first filtered to HEALTHY nodes with spare capacity.
// If hints.PreferredNodeID names a node that survives filtering, it is
// returned immediately. Otherwise the surviving node with the lowest
// saturation (containers/max_containers) wins; ties break on CPU usage,
// then lexicographically on node_id for determinism.
//
// Returns NoAvailableNodes if candidates is empty or every node is
// excluded/unhealthy, and NoCapableNodes if healthy nodes exist but none
// has spare capacity.
func (s *Scheduler) Select(candidates []*types.Node, hints types.SchedulingHints) (*types.Node, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)

	logger := log.WithComponent("scheduler")

	eligible := filterEligible(candidates, hints)
	if len(eligible) == 0 {
		if len(filterHealthy(candidates, hints)) == 0 {
			metrics.SchedulingDecisionsTotal.WithLabelValues("no_available_nodes").Inc()
			return nil, errs.New(errs.KindNoAvailableNodes, "no healthy, non-excluded nodes are registered")
		}
		metrics.SchedulingDecisionsTotal.WithLabelValues("no_capable_nodes").Inc()
		return nil, errs.New(errs.KindNoCapableNodes, "no eligible node has spare container capacity")
	}

	if hints.PreferredNodeID != "" {
		for _, n := range eligible {
			if n.NodeID == hints.PreferredNodeID {
				metrics.SchedulingDecisionsTotal.WithLabelValues("preferred").Inc()
				logger.Debug().Str("node_id", n.NodeID).Msg("scheduled to preferred node")
				return n, nil
			}
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		satA, satB := a.Saturation(), b.Saturation()
		if satA != satB {
			return satA < satB
		}
		if a.Metrics.CPUUsage != b.Metrics.CPUUsage {
			return a.Metrics.CPUUsage < b.Metrics.CPUUsage
		}
		return a.NodeID < b.NodeID
	})

	selected := eligible[0]
	metrics.SchedulingDecisionsTotal.WithLabelValues("least_loaded").Inc()
	logger.Debug().Str("node_id", selected.NodeID).Float64("saturation", selected.Saturation()).Msg("scheduled to least-loaded node")
	return selected, nil
}

// filterHealthy returns candidates that are HEALTHY and not excluded by
// hints, regardless of capacity.
func filterHealthy(candidates []*types.Node, hints types.SchedulingHints) []*types.Node {
	var out []*types.Node
	for _, n := range candidates {
		if n.Status != types.NodeHealthy {
			continue
		}
		if hints.Excludes(n.NodeID) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// filterEligible narrows filterHealthy's result to nodes with spare
// container capacity.
func filterEligible(candidates []*types.Node, hints types.SchedulingHints) []*types.Node {
	var out []*types.Node
	for _, n := range filterHealthy(candidates, hints) {
		if n.HasCapacity() {
			out = append(out, n)
		}
	}
	return out
}
