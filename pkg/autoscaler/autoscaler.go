// Package autoscaler implements C7: a periodic loop that observes the
// cluster's node saturation and emits a scale recommendation, gated by
// hysteresis thresholds, min/max node bounds, and a cooldown between
// successive scaling actions.
package autoscaler

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stormstack/thunder/pkg/events"
	"github.com/stormstack/thunder/pkg/log"
	"github.com/stormstack/thunder/pkg/metrics"
	"github.com/stormstack/thunder/pkg/types"
)

// NodeLister is the subset of NodeRegistry the autoscaler reads.
type NodeLister interface {
	List() []*types.Node
}

// Config controls the decision cycle.
type Config struct {
	PollInterval       time.Duration
	ScaleUpThreshold   float64 // cluster saturation above which SCALE_UP is recommended
	ScaleDownThreshold float64 // cluster saturation below which SCALE_DOWN is recommended
	Cooldown           time.Duration
	MinNodes           int
	MaxNodes           int
}

// Autoscaler runs the periodic decision loop.
type Autoscaler struct {
	cfg    Config
	nodes  NodeLister
	broker *events.Broker
	logger zerolog.Logger

	mu          sync.RWMutex
	last        types.AutoscaleRecommendation
	lastScaleAt time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs an Autoscaler.
func New(cfg Config, nodes NodeLister, broker *events.Broker) *Autoscaler {
	return &Autoscaler{
		cfg:    cfg,
		nodes:  nodes,
		broker: broker,
		logger: log.WithComponent("autoscaler"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the decision loop.
func (a *Autoscaler) Start() {
	a.wg.Add(1)
	go a.run()
}

// Stop halts the decision loop and blocks until it exits.
func (a *Autoscaler) Stop() {
	close(a.stopCh)
	a.wg.Wait()
}

func (a *Autoscaler) run() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.decide(time.Now())
		case <-a.stopCh:
			return
		}
	}
}

// decide runs one decision cycle and records its recommendation. The
// recommendation itself comes from the exported Decide, which tests
// call directly without driving the ticker.
func (a *Autoscaler) decide(now time.Time) types.AutoscaleRecommendation {
	rec := a.Decide(now)

	a.mu.Lock()
	a.last = rec
	if rec.Action != types.ScaleNone {
		a.lastScaleAt = now
	}
	a.mu.Unlock()

	metrics.AutoscaleDecisionsTotal.WithLabelValues(string(rec.Action)).Inc()
	metrics.AutoscaleSaturation.Set(rec.Saturation)
	a.broker.Publish(&events.Event{Type: events.EventAutoscaleDecision, Message: rec.Reason})

	if rec.Action != types.ScaleNone {
		a.logger.Info().
			Str("action", string(rec.Action)).
			Int("current_nodes", rec.CurrentNodes).
			Int("recommended_nodes", rec.RecommendedNodes).
			Float64("saturation", rec.Saturation).
			Msg("autoscale decision")
	} else {
		a.logger.Debug().Float64("saturation", rec.Saturation).Msg("autoscale decision: no action")
	}

	return rec
}

// Decide computes (without side effects) the recommendation for the
// current node set at time now, honoring cooldown against the
// previously recorded decision.
func (a *Autoscaler) Decide(now time.Time) types.AutoscaleRecommendation {
	nodes := a.nodes.List()

	current := 0
	var capacitySum, usedSum float64
	for _, n := range nodes {
		if n.Status != types.NodeHealthy {
			continue
		}
		current++
		capacitySum += float64(n.Capacity.MaxContainers)
		usedSum += float64(n.Metrics.Containers)
	}

	var saturation float64
	if capacitySum > 0 {
		saturation = usedSum / capacitySum
	}

	rec := types.AutoscaleRecommendation{
		Action:           types.ScaleNone,
		CurrentNodes:     current,
		RecommendedNodes: current,
		Saturation:       saturation,
		Reason:           "saturation within thresholds",
		DecidedAt:        now,
	}

	a.mu.RLock()
	inCooldown := !a.lastScaleAt.IsZero() && now.Sub(a.lastScaleAt) < a.cfg.Cooldown
	a.mu.RUnlock()

	if inCooldown {
		rec.Reason = "in cooldown since last scaling action"
		return rec
	}

	target := (a.cfg.ScaleUpThreshold + a.cfg.ScaleDownThreshold) / 2

	switch {
	case saturation > a.cfg.ScaleUpThreshold && current < a.cfg.MaxNodes:
		rec.Action = types.ScaleUp
		rec.RecommendedNodes = clamp(ceilRatio(current, saturation, target), current, a.cfg.MaxNodes)
		rec.Reason = "saturation above scale-up threshold"
	case saturation < a.cfg.ScaleDownThreshold && current > a.cfg.MinNodes:
		rec.Action = types.ScaleDown
		rec.RecommendedNodes = clampLow(ceilRatio(current, saturation, target), current, a.cfg.MinNodes)
		rec.Reason = "saturation below scale-down threshold"
	}

	return rec
}

// ceilRatio computes ceil(current * saturation / target), guarding
// against a degenerate zero target.
func ceilRatio(current int, saturation, target float64) int {
	if target <= 0 {
		return current
	}
	return int(math.Ceil(float64(current) * saturation / target))
}

// clamp bounds a SCALE_UP recommendation between the current node count
// and max.
func clamp(recommended, current, max int) int {
	if recommended > max {
		recommended = max
	}
	if recommended < current {
		recommended = current
	}
	return recommended
}

// clampLow bounds a SCALE_DOWN recommendation between min and the
// current node count.
func clampLow(recommended, current, min int) int {
	if recommended < min {
		recommended = min
	}
	if recommended > current {
		recommended = current
	}
	return recommended
}

// Last returns the most recent recommendation, or the zero value if no
// cycle has run yet.
func (a *Autoscaler) Last() types.AutoscaleRecommendation {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.last
}

// Tick runs one decision cycle immediately, independent of the ticker.
// Used by the wire surface's on-demand status endpoint and by tests.
func (a *Autoscaler) Tick() types.AutoscaleRecommendation {
	return a.decide(time.Now())
}
