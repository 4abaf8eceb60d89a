package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormstack/thunder/pkg/errs"
	"github.com/stormstack/thunder/pkg/types"
)

func node(id string, status types.NodeStatus, containers, max uint, cpu float64) *types.Node {
	return &types.Node{
		NodeID:   id,
		Status:   status,
		Capacity: types.NodeCapacity{MaxContainers: max},
		Metrics:  types.NodeMetrics{Containers: containers, CPUUsage: cpu},
	}
}

func TestSelect_PicksLeastSaturated(t *testing.T) {
	s := New()
	candidates := []*types.Node{
		node("n1", types.NodeHealthy, 8, 10, 0.5),
		node("n2", types.NodeHealthy, 2, 10, 0.9),
		node("n3", types.NodeHealthy, 5, 10, 0.1),
	}

	got, err := s.Select(candidates, types.SchedulingHints{})
	require.NoError(t, err)
	assert.Equal(t, "n2", got.NodeID)
}

func TestSelect_TiesBreakOnCPUThenNodeID(t *testing.T) {
	s := New()
	candidates := []*types.Node{
		node("n2", types.NodeHealthy, 5, 10, 0.5),
		node("n1", types.NodeHealthy, 5, 10, 0.5),
	}

	got, err := s.Select(candidates, types.SchedulingHints{})
	require.NoError(t, err)
	assert.Equal(t, "n1", got.NodeID)
}

func TestSelect_PreferredNodeShortcut(t *testing.T) {
	s := New()
	candidates := []*types.Node{
		node("n1", types.NodeHealthy, 1, 10, 0.1),
		node("n2", types.NodeHealthy, 9, 10, 0.9),
	}

	got, err := s.Select(candidates, types.SchedulingHints{PreferredNodeID: "n2"})
	require.NoError(t, err)
	assert.Equal(t, "n2", got.NodeID)
}

func TestSelect_PreferredNodeIgnoredIfIneligible(t *testing.T) {
	s := New()
	candidates := []*types.Node{
		node("n1", types.NodeHealthy, 1, 10, 0.1),
		node("n2", types.NodeUnhealthy, 0, 10, 0.0),
	}

	got, err := s.Select(candidates, types.SchedulingHints{PreferredNodeID: "n2"})
	require.NoError(t, err)
	assert.Equal(t, "n1", got.NodeID)
}

func TestSelect_ExcludesUnhealthyNodes(t *testing.T) {
	s := New()
	candidates := []*types.Node{
		node("n1", types.NodeUnhealthy, 0, 10, 0.0),
		node("n2", types.NodeDraining, 0, 10, 0.0),
		node("n3", types.NodeHealthy, 1, 10, 0.1),
	}

	got, err := s.Select(candidates, types.SchedulingHints{})
	require.NoError(t, err)
	assert.Equal(t, "n3", got.NodeID)
}

func TestSelect_ExcludesHintedNodes(t *testing.T) {
	s := New()
	candidates := []*types.Node{
		node("n1", types.NodeHealthy, 1, 10, 0.1),
		node("n2", types.NodeHealthy, 2, 10, 0.2),
	}

	got, err := s.Select(candidates, types.SchedulingHints{Excluded: map[string]bool{"n1": true}})
	require.NoError(t, err)
	assert.Equal(t, "n2", got.NodeID)
}

func TestSelect_NoAvailableNodesWhenEmpty(t *testing.T) {
	s := New()
	_, err := s.Select(nil, types.SchedulingHints{})
	assert.True(t, errs.Is(err, errs.KindNoAvailableNodes))
}

func TestSelect_NoAvailableNodesWhenAllUnhealthy(t *testing.T) {
	s := New()
	candidates := []*types.Node{
		node("n1", types.NodeUnhealthy, 0, 10, 0.0),
		node("n2", types.NodeOffline, 0, 10, 0.0),
	}
	_, err := s.Select(candidates, types.SchedulingHints{})
	assert.True(t, errs.Is(err, errs.KindNoAvailableNodes))
}

func TestSelect_NoCapableNodesWhenAllSaturated(t *testing.T) {
	s := New()
	candidates := []*types.Node{
		node("n1", types.NodeHealthy, 10, 10, 0.5),
		node("n2", types.NodeHealthy, 5, 5, 0.9),
	}
	_, err := s.Select(candidates, types.SchedulingHints{})
	assert.True(t, errs.Is(err, errs.KindNoCapableNodes))
}

func TestSelect_ZeroCapacityNodeTreatedAsSaturated(t *testing.T) {
	s := New()
	candidates := []*types.Node{
		node("n1", types.NodeHealthy, 0, 0, 0.0),
	}
	_, err := s.Select(candidates, types.SchedulingHints{})
	assert.True(t, errs.Is(err, errs.KindNoCapableNodes))
}
