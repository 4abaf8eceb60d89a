package autoscaler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stormstack/thunder/pkg/events"
	"github.com/stormstack/thunder/pkg/types"
)

type fakeLister struct {
	nodes []*types.Node
}

func (f *fakeLister) List() []*types.Node { return f.nodes }

func node(status types.NodeStatus, maxContainers, containers uint) *types.Node {
	return &types.Node{
		NodeID: "n",
		Status: status,
		Capacity: types.NodeCapacity{
			MaxContainers: maxContainers,
		},
		Metrics: types.NodeMetrics{
			Containers: containers,
		},
	}
}

func newTestAutoscaler(lister NodeLister, cfg Config) (*Autoscaler, func()) {
	broker := events.NewBroker()
	broker.Start()
	a := New(cfg, lister, broker)
	return a, broker.Stop
}

func baseConfig() Config {
	return Config{
		PollInterval:       time.Hour,
		ScaleUpThreshold:   0.8,
		ScaleDownThreshold: 0.2,
		Cooldown:           time.Minute,
		MinNodes:           1,
		MaxNodes:           10,
	}
}

func TestAutoscaler_RecommendsScaleUpWhenSaturated(t *testing.T) {
	lister := &fakeLister{nodes: []*types.Node{
		node(types.NodeHealthy, 10, 9),
		node(types.NodeHealthy, 10, 9),
	}}
	a, stop := newTestAutoscaler(lister, baseConfig())
	defer stop()

	rec := a.Decide(time.Now())
	assert.Equal(t, types.ScaleUp, rec.Action)
	assert.Equal(t, 2, rec.CurrentNodes)
	assert.Equal(t, 4, rec.RecommendedNodes)
}

func TestAutoscaler_RecommendsScaleDownWhenIdle(t *testing.T) {
	lister := &fakeLister{nodes: []*types.Node{
		node(types.NodeHealthy, 10, 0),
		node(types.NodeHealthy, 10, 1),
		node(types.NodeHealthy, 10, 0),
	}}
	a, stop := newTestAutoscaler(lister, baseConfig())
	defer stop()

	rec := a.Decide(time.Now())
	assert.Equal(t, types.ScaleDown, rec.Action)
	assert.Equal(t, 1, rec.RecommendedNodes)
}

func TestAutoscaler_NoActionWithinThresholds(t *testing.T) {
	lister := &fakeLister{nodes: []*types.Node{
		node(types.NodeHealthy, 10, 5),
	}}
	a, stop := newTestAutoscaler(lister, baseConfig())
	defer stop()

	rec := a.Decide(time.Now())
	assert.Equal(t, types.ScaleNone, rec.Action)
}

func TestAutoscaler_RespectsMaxNodesClamp(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxNodes = 2
	lister := &fakeLister{nodes: []*types.Node{
		node(types.NodeHealthy, 10, 9),
		node(types.NodeHealthy, 10, 9),
	}}
	a, stop := newTestAutoscaler(lister, cfg)
	defer stop()

	rec := a.Decide(time.Now())
	assert.Equal(t, types.ScaleNone, rec.Action)
}

func TestAutoscaler_RespectsMinNodesClamp(t *testing.T) {
	cfg := baseConfig()
	cfg.MinNodes = 1
	lister := &fakeLister{nodes: []*types.Node{
		node(types.NodeHealthy, 10, 0),
	}}
	a, stop := newTestAutoscaler(lister, cfg)
	defer stop()

	rec := a.Decide(time.Now())
	assert.Equal(t, types.ScaleNone, rec.Action)
}

func TestAutoscaler_CooldownSuppressesRepeatedScaling(t *testing.T) {
	lister := &fakeLister{nodes: []*types.Node{
		node(types.NodeHealthy, 10, 9),
	}}
	cfg := baseConfig()
	cfg.Cooldown = time.Hour
	a, stop := newTestAutoscaler(lister, cfg)
	defer stop()

	now := time.Now()
	first := a.decide(now)
	assert.Equal(t, types.ScaleUp, first.Action)

	second := a.decide(now.Add(time.Second))
	assert.Equal(t, types.ScaleNone, second.Action)
	assert.Contains(t, second.Reason, "cooldown")
}

func TestAutoscaler_CooldownExpiresAllowsNewDecision(t *testing.T) {
	lister := &fakeLister{nodes: []*types.Node{
		node(types.NodeHealthy, 10, 9),
	}}
	cfg := baseConfig()
	cfg.Cooldown = 10 * time.Millisecond
	a, stop := newTestAutoscaler(lister, cfg)
	defer stop()

	now := time.Now()
	first := a.decide(now)
	assert.Equal(t, types.ScaleUp, first.Action)

	second := a.decide(now.Add(20 * time.Millisecond))
	assert.Equal(t, types.ScaleUp, second.Action)
}

func TestAutoscaler_OfflineNodesExcludedFromSaturation(t *testing.T) {
	lister := &fakeLister{nodes: []*types.Node{
		node(types.NodeHealthy, 10, 1),
		node(types.NodeOffline, 10, 10),
	}}
	a, stop := newTestAutoscaler(lister, baseConfig())
	defer stop()

	rec := a.Decide(time.Now())
	assert.Equal(t, 1, rec.CurrentNodes)
	assert.InDelta(t, 0.1, rec.Saturation, 0.001)
}

func TestAutoscaler_UnhealthyAndDrainingNodesExcludedFromSaturation(t *testing.T) {
	lister := &fakeLister{nodes: []*types.Node{
		node(types.NodeHealthy, 10, 1),
		node(types.NodeUnhealthy, 10, 10),
		node(types.NodeDraining, 10, 10),
	}}
	a, stop := newTestAutoscaler(lister, baseConfig())
	defer stop()

	rec := a.Decide(time.Now())
	assert.Equal(t, 1, rec.CurrentNodes)
	assert.InDelta(t, 0.1, rec.Saturation, 0.001)
}

func TestAutoscaler_LastReturnsMostRecentDecision(t *testing.T) {
	lister := &fakeLister{nodes: []*types.Node{node(types.NodeHealthy, 10, 5)}}
	a, stop := newTestAutoscaler(lister, baseConfig())
	defer stop()

	assert.Equal(t, types.AutoscaleRecommendation{}, a.Last())

	rec := a.Tick()
	assert.Equal(t, rec, a.Last())
}

func TestAutoscaler_ZeroCapacityClusterHasZeroSaturation(t *testing.T) {
	lister := &fakeLister{nodes: []*types.Node{}}
	a, stop := newTestAutoscaler(lister, baseConfig())
	defer stop()

	rec := a.Decide(time.Now())
	assert.Equal(t, types.ScaleNone, rec.Action)
	assert.Equal(t, float64(0), rec.Saturation)
}
