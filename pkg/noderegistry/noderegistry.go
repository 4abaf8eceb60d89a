// Package noderegistry implements C1: the authoritative record of engine
// nodes, their heartbeats, and their lifecycle transitions between
// HEALTHY, UNHEALTHY, DRAINING and OFFLINE.
package noderegistry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stormstack/thunder/pkg/errs"
	"github.com/stormstack/thunder/pkg/events"
	"github.com/stormstack/thunder/pkg/log"
	"github.com/stormstack/thunder/pkg/metrics"
	"github.com/stormstack/thunder/pkg/statestore"
	"github.com/stormstack/thunder/pkg/types"
)

const statestoreKeyPrefix = "nodes:"

// Config controls the heartbeat-timeout sweep.
type Config struct {
	// HeartbeatTimeout (ttl) is the duration after which a node with no
	// heartbeat is swept to UNHEALTHY.
	HeartbeatTimeout time.Duration
	// HeartbeatGrace is how much longer past HeartbeatTimeout a node is
	// allowed to stay UNHEALTHY before the sweep moves it to OFFLINE and
	// removes the record. Defaults to 2*HeartbeatTimeout if zero.
	HeartbeatGrace time.Duration
	// SweepInterval is how often the sweep runs.
	SweepInterval time.Duration
}

func (c Config) grace() time.Duration {
	if c.HeartbeatGrace > 0 {
		return c.HeartbeatGrace
	}
	return 2 * c.HeartbeatTimeout
}

// Registry is the in-memory node index, warm-backed by a StateStore.
type Registry struct {
	cfg    Config
	store  statestore.StateStore
	broker *events.Broker
	logger zerolog.Logger

	mu    sync.RWMutex
	nodes map[string]*types.Node

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Registry and warm-starts its index from store.
func New(ctx context.Context, cfg Config, store statestore.StateStore, broker *events.Broker) (*Registry, error) {
	r := &Registry{
		cfg:    cfg,
		store:  store,
		broker: broker,
		logger: log.WithComponent("noderegistry"),
		nodes:  make(map[string]*types.Node),
		stopCh: make(chan struct{}),
	}

	if err := r.warmStart(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Registry) warmStart(ctx context.Context) error {
	keys, err := r.store.Scan(ctx, statestoreKeyPrefix)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "scanning nodes from statestore")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range keys {
		raw, err := r.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var n types.Node
		if err := json.Unmarshal(raw, &n); err != nil {
			r.logger.Warn().Str("key", key).Err(err).Msg("skipping corrupt node record on warm start")
			continue
		}
		node := n
		r.nodes[node.NodeID] = &node
	}

	return nil
}

// Start begins the heartbeat-timeout sweep loop.
func (r *Registry) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop halts the sweep loop and blocks until it exits.
func (r *Registry) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Registry) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopCh:
			return
		}
	}
}

// sweep moves nodes past their heartbeat ttl to UNHEALTHY, and nodes
// past ttl+grace to OFFLINE, removing the record entirely. DRAINING
// nodes obey the same expiry but never become HEALTHY again.
func (r *Registry) sweep() {
	now := time.Now()
	unhealthyDeadline := now.Add(-r.cfg.HeartbeatTimeout)
	offlineDeadline := now.Add(-r.cfg.HeartbeatTimeout - r.cfg.grace())

	r.mu.Lock()
	var droppedToUnhealthy []*types.Node
	var removed []string
	for id, n := range r.nodes {
		if n.Status == types.NodeOffline {
			continue
		}
		if n.LastHeartbeat.Before(offlineDeadline) {
			n.Status = types.NodeOffline
			delete(r.nodes, id)
			removed = append(removed, id)
			continue
		}
		if n.LastHeartbeat.Before(unhealthyDeadline) && n.Status == types.NodeHealthy {
			n.Status = types.NodeUnhealthy
			droppedToUnhealthy = append(droppedToUnhealthy, n)
		}
	}
	r.mu.Unlock()

	for _, n := range droppedToUnhealthy {
		r.persist(context.Background(), n)
		r.logger.Warn().Str("node_id", n.NodeID).Msg("node marked UNHEALTHY after missed heartbeat ttl")
	}
	for _, id := range removed {
		if err := r.store.Del(context.Background(), statestoreKeyPrefix+id); err != nil {
			r.logger.Error().Err(err).Str("node_id", id).Msg("failed to delete expired node from statestore")
		}
		metrics.NodeExpiredTotal.Inc()
		r.logger.Warn().Str("node_id", id).Msg("node marked OFFLINE and removed after missed heartbeat grace")
		r.broker.Publish(&events.Event{
			Type:     events.EventNodeDown,
			Metadata: map[string]string{"node_id": id},
		})
	}

	r.refreshGauges()
}

func (r *Registry) refreshGauges() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := map[types.NodeStatus]float64{}
	var capacitySum float64
	for _, n := range r.nodes {
		counts[n.Status]++
		if n.Status == types.NodeHealthy {
			capacitySum += float64(n.Capacity.MaxContainers)
		}
	}
	for _, s := range []types.NodeStatus{types.NodeHealthy, types.NodeUnhealthy, types.NodeDraining, types.NodeOffline} {
		metrics.NodesTotal.WithLabelValues(string(s)).Set(counts[s])
	}
	metrics.NodeCapacityTotal.Set(capacitySum)
}

// Register creates a node record, or idempotently refreshes an existing
// non-OFFLINE one in place (TTL reset, advertise_address/capacity
// overwritten, status reset to HEALTHY). A DRAINING node rejects
// re-registration with DrainingNodeReregister; an OFFLINE record is
// replaced with a fresh one rather than refreshed.
func (r *Registry) Register(ctx context.Context, node *types.Node) error {
	now := time.Now()

	r.mu.Lock()
	if existing, ok := r.nodes[node.NodeID]; ok && existing.Status != types.NodeOffline {
		if existing.Status == types.NodeDraining {
			r.mu.Unlock()
			return errs.New(errs.KindDrainingNodeReregister, "node %s is draining and must fully deregister before re-registering", node.NodeID)
		}
		existing.AdvertiseAddress = node.AdvertiseAddress
		existing.Capacity = node.Capacity
		existing.Status = types.NodeHealthy
		existing.LastHeartbeat = now
		node = existing
	} else {
		node.RegisteredAt = now
		node.LastHeartbeat = now
		node.Status = types.NodeHealthy
		r.nodes[node.NodeID] = node
	}
	snapshot := *node
	r.mu.Unlock()
	node = &snapshot

	if err := r.persist(ctx, node); err != nil {
		return err
	}

	r.refreshGauges()
	r.logger.Info().Str("node_id", node.NodeID).Str("advertise_address", node.AdvertiseAddress).Msg("node registered")
	r.broker.Publish(&events.Event{
		Type:     events.EventNodeJoined,
		Metadata: map[string]string{"node_id": node.NodeID},
	})
	return nil
}

// Heartbeat updates a node's metrics and LastHeartbeat, reviving it to
// HEALTHY if it was previously UNHEALTHY or OFFLINE (but not DRAINING —
// an operator-initiated drain survives heartbeats until explicitly
// cleared by re-registration).
func (r *Registry) Heartbeat(ctx context.Context, nodeID string, metrics_ types.NodeMetrics) error {
	r.mu.Lock()
	n, ok := r.nodes[nodeID]
	if !ok {
		r.mu.Unlock()
		return errs.New(errs.KindNodeNotFound, "node %s is not registered", nodeID)
	}
	n.Metrics = metrics_
	n.LastHeartbeat = time.Now()
	if n.Status == types.NodeUnhealthy || n.Status == types.NodeOffline {
		n.Status = types.NodeHealthy
	}
	snapshot := *n
	r.mu.Unlock()

	metrics.NodeHeartbeatsTotal.Inc()
	return r.persist(ctx, &snapshot)
}

// Drain marks a node DRAINING: it stays in the index (existing matches
// keep routing) but the scheduler stops selecting it.
func (r *Registry) Drain(ctx context.Context, nodeID string) error {
	r.mu.Lock()
	n, ok := r.nodes[nodeID]
	if !ok {
		r.mu.Unlock()
		return errs.New(errs.KindNodeNotFound, "node %s is not registered", nodeID)
	}
	n.Status = types.NodeDraining
	snapshot := *n
	r.mu.Unlock()

	if err := r.persist(ctx, &snapshot); err != nil {
		return err
	}
	r.refreshGauges()
	r.broker.Publish(&events.Event{Type: events.EventNodeDrained, Metadata: map[string]string{"node_id": nodeID}})
	return nil
}

// Deregister removes a node from the registry entirely. Deregistering a
// node that is already gone is a no-op success, not an error.
func (r *Registry) Deregister(ctx context.Context, nodeID string) error {
	r.mu.Lock()
	_, ok := r.nodes[nodeID]
	delete(r.nodes, nodeID)
	r.mu.Unlock()

	if !ok {
		return nil
	}

	if err := r.store.Del(ctx, statestoreKeyPrefix+nodeID); err != nil {
		return errs.Wrap(errs.KindInternal, err, "deleting node %s from statestore", nodeID)
	}
	r.refreshGauges()
	return nil
}

// Get returns a copy of the node record for nodeID.
func (r *Registry) Get(nodeID string) (*types.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.nodes[nodeID]
	if !ok {
		return nil, errs.New(errs.KindNodeNotFound, "node %s is not registered", nodeID)
	}
	snapshot := *n
	return &snapshot, nil
}

// List returns a copy of every node record.
func (r *Registry) List() []*types.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		snapshot := *n
		out = append(out, &snapshot)
	}
	return out
}

// ListHealthy returns a copy of every HEALTHY node record, used by
// Scheduler as its candidate pool.
func (r *Registry) ListHealthy() []*types.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*types.Node
	for _, n := range r.nodes {
		if n.Status == types.NodeHealthy {
			snapshot := *n
			out = append(out, &snapshot)
		}
	}
	return out
}

// HealthyCount returns the number of HEALTHY nodes; it backs the cluster
// status aggregate.
func (r *Registry) HealthyCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, node := range r.nodes {
		if node.Status == types.NodeHealthy {
			n++
		}
	}
	return n
}

func (r *Registry) persist(ctx context.Context, n *types.Node) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "marshalling node %s", n.NodeID)
	}
	ttl := r.cfg.HeartbeatTimeout + r.cfg.grace()
	if err := r.store.Set(ctx, statestoreKeyPrefix+n.NodeID, raw, ttl); err != nil {
		return errs.Wrap(errs.KindInternal, err, "persisting node %s", n.NodeID)
	}
	return nil
}
