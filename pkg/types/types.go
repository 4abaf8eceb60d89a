// Package types holds the data model owned by the control plane core:
// nodes, matches, module metadata, match tokens, and autoscale
// recommendations. Ownership of each type is documented on the
// component that mutates it (see pkg/noderegistry, pkg/matchregistry,
// pkg/modulecatalog); everything else holds a read-through view.
package types

import "time"

// NodeStatus is the lifecycle state of an engine node record.
type NodeStatus string

const (
	NodeHealthy   NodeStatus = "HEALTHY"
	NodeUnhealthy NodeStatus = "UNHEALTHY"
	NodeDraining  NodeStatus = "DRAINING"
	NodeOffline   NodeStatus = "OFFLINE"
)

// NodeCapacity is the advertised ceiling for an engine node.
type NodeCapacity struct {
	MaxContainers uint `json:"max_containers"`
}

// NodeMetrics is the most recently heartbeated load snapshot for a node.
type NodeMetrics struct {
	Containers uint    `json:"containers"`
	Matches    uint    `json:"matches"`
	CPUUsage   float64 `json:"cpu_usage"`
	MemUsedMB  uint64  `json:"mem_used_mb"`
	MemMaxMB   uint64  `json:"mem_max_mb"`
}

// Node is an engine node record, owned exclusively by NodeRegistry.
type Node struct {
	NodeID           string       `json:"node_id"`
	AdvertiseAddress string       `json:"advertise_address"`
	Status           NodeStatus   `json:"status"`
	Capacity         NodeCapacity `json:"capacity"`
	Metrics          NodeMetrics  `json:"metrics"`
	RegisteredAt     time.Time    `json:"registered_at"`
	LastHeartbeat    time.Time    `json:"last_heartbeat"`
}

// Saturation returns containers/max_containers, or 1.0 if the node
// advertises zero capacity (treated as fully saturated, never a
// scheduling target).
func (n *Node) Saturation() float64 {
	if n.Capacity.MaxContainers == 0 {
		return 1
	}
	return float64(n.Metrics.Containers) / float64(n.Capacity.MaxContainers)
}

// HasCapacity reports whether the node can host one more container.
func (n *Node) HasCapacity() bool {
	return n.Metrics.Containers < n.Capacity.MaxContainers
}

// MatchStatus is the lifecycle state of a match registry entry.
type MatchStatus string

const (
	MatchPending  MatchStatus = "PENDING"
	MatchRunning  MatchStatus = "RUNNING"
	MatchFull     MatchStatus = "FULL"
	MatchFinished MatchStatus = "FINISHED"
	MatchError    MatchStatus = "ERROR"
)

// IsTerminal reports whether no further transitions are expected.
func (s MatchStatus) IsTerminal() bool {
	return s == MatchFinished || s == MatchError
}

// MatchRegistryEntry is the authoritative record for one match, owned
// exclusively by MatchRegistry. MatchID is stable after creation.
type MatchRegistryEntry struct {
	MatchID          string      `json:"match_id"`
	NodeID           string      `json:"node_id"`
	ContainerID      string      `json:"container_id"`
	Status           MatchStatus `json:"status"`
	ModuleNames      []string    `json:"module_names"`
	CreatedAt        time.Time   `json:"created_at"`
	AdvertiseAddress string      `json:"advertise_address"`
	WebsocketURL     string      `json:"websocket_url"`
	PlayerCount      uint        `json:"player_count"`
	PlayerLimit      uint        `json:"player_limit"` // 0 = unlimited
}

// AtLimit reports whether the roster is full. A zero PlayerLimit is
// treated as unlimited.
func (m *MatchRegistryEntry) AtLimit() bool {
	return m.PlayerLimit > 0 && m.PlayerCount >= m.PlayerLimit
}

// ModuleMetadata describes one uploaded artifact version, owned
// exclusively by ModuleCatalog. Identity is (Name, Version).
type ModuleMetadata struct {
	Name          string          `json:"name"`
	Version       string          `json:"version"`
	FileName      string          `json:"file_name"`
	FileSize      int64           `json:"file_size"`
	Checksum      string          `json:"checksum"` // sha256 hex
	UploadedAt    time.Time       `json:"uploaded_at"`
	UploadedBy    string          `json:"uploaded_by"`
	DistributedTo map[string]bool `json:"distributed_to"` // set<node_id>
}

// Key returns the (name, version) identity as a single string, used as
// the StateStore key suffix.
func (m *ModuleMetadata) Key() string {
	return m.Name + ":" + m.Version
}

// MatchTokenClaims are the claims carried by a match auth token.
type MatchTokenClaims struct {
	PlayerID   string    `json:"player_id"`
	MatchID    string    `json:"match_id"`
	PlayerName string    `json:"player_name"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// AutoscaleAction is the recommendation C7 emits each poll interval.
type AutoscaleAction string

const (
	ScaleUp   AutoscaleAction = "SCALE_UP"
	ScaleDown AutoscaleAction = "SCALE_DOWN"
	ScaleNone AutoscaleAction = "NONE"
)

// AutoscaleRecommendation is the output of one autoscaler decision cycle.
type AutoscaleRecommendation struct {
	Action           AutoscaleAction `json:"action"`
	CurrentNodes     int             `json:"current_nodes"`
	RecommendedNodes int             `json:"recommended_nodes"`
	Reason           string          `json:"reason"`
	Saturation       float64         `json:"saturation"`
	DecidedAt        time.Time       `json:"decided_at"`
}

// SchedulingHints influences Scheduler.Select without binding it.
type SchedulingHints struct {
	PreferredNodeID string
	Excluded        map[string]bool
}

// Excludes reports whether a node id is in the hint's exclusion set.
func (h SchedulingHints) Excludes(nodeID string) bool {
	if h.Excluded == nil {
		return false
	}
	return h.Excluded[nodeID]
}
