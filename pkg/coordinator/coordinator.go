// Package coordinator implements C5: the transactional glue that turns
// a deploy/join/leave/finish/delete call into the right sequence of
// Scheduler, NodeRegistry, MatchRegistry, EngineNode and TokenIssuer
// operations. Nothing here owns state; every mutation goes through the
// owning collaborator.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stormstack/thunder/pkg/enginenode"
	"github.com/stormstack/thunder/pkg/errs"
	"github.com/stormstack/thunder/pkg/log"
	"github.com/stormstack/thunder/pkg/metrics"
	"github.com/stormstack/thunder/pkg/types"
)

// NodeSource is the subset of NodeRegistry the coordinator reads.
type NodeSource interface {
	ListHealthy() []*types.Node
	Get(nodeID string) (*types.Node, error)
}

// MatchStore is the subset of MatchRegistry the coordinator drives.
type MatchStore interface {
	Create(ctx context.Context, m *types.MatchRegistryEntry) error
	Get(matchID string) (*types.MatchRegistryEntry, error)
	SetStatus(ctx context.Context, matchID string, status types.MatchStatus) error
	JoinPlayer(ctx context.Context, matchID string) error
	LeavePlayer(ctx context.Context, matchID string) error
	Delete(ctx context.Context, matchID string) error
}

// NodeScheduler is the subset of Scheduler the coordinator calls.
type NodeScheduler interface {
	Select(candidates []*types.Node, hints types.SchedulingHints) (*types.Node, error)
}

// EngineNodeClient is the subset of the EngineNode collaborator the
// coordinator calls directly (module push is ModuleCatalog's concern).
type EngineNodeClient interface {
	Deploy(ctx context.Context, advertiseAddress string, req enginenode.DeployRequest) (*enginenode.DeployResult, error)
	StopContainer(ctx context.Context, advertiseAddress, containerID string) error
}

// TokenIssuer is the subset of the token Issuer the coordinator calls.
type TokenIssuer interface {
	Issue(playerID, matchID, playerName string) (string, *types.MatchTokenClaims, error)
}

// Config controls the deploy retry budget.
type Config struct {
	// SchedulerRetries is how many additional node selections are
	// attempted after the first EngineNode deploy failure.
	SchedulerRetries int
}

// Coordinator is the C5 orchestrator.
type Coordinator struct {
	cfg     Config
	nodes   NodeSource
	matches MatchStore
	sched   NodeScheduler
	engine  EngineNodeClient
	tokens  TokenIssuer
	logger  zerolog.Logger
}

// New constructs a Coordinator.
func New(cfg Config, nodes NodeSource, matches MatchStore, sched NodeScheduler, engine EngineNodeClient, tokens TokenIssuer) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		nodes:   nodes,
		matches: matches,
		sched:   sched,
		engine:  engine,
		tokens:  tokens,
		logger:  log.WithComponent("coordinator"),
	}
}

// MatchResponse is returned by Deploy.
type MatchResponse struct {
	MatchID          string            `json:"match_id"`
	NodeID           string            `json:"node_id"`
	Status           types.MatchStatus `json:"status"`
	AdvertiseAddress string            `json:"advertise_address"`
	WebsocketURL     string            `json:"websocket_url"`
	PlayerLimit      uint              `json:"player_limit"`
}

// JoinResponse is returned by Join.
type JoinResponse struct {
	MatchToken    string    `json:"match_token"`
	CommandWSURL  string    `json:"command_ws_url"`
	SnapshotWSURL string    `json:"snapshot_ws_url"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Deploy selects a node, asks it to create a match container, and
// records the resulting match. On an EngineNode-side failure it
// excludes the failed node and retries selection up to
// cfg.SchedulerRetries additional times before failing with
// DeploymentFailed, including when a retry finds no node left once the
// failed ones are excluded. A Scheduler selection failure on the first
// attempt (no candidate nodes) is not retried — it surfaces immediately.
func (c *Coordinator) Deploy(ctx context.Context, moduleNames []string, hints types.SchedulingHints, playerLimit uint) (*MatchResponse, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MatchDeployDuration)

	if hints.Excluded == nil {
		hints.Excluded = make(map[string]bool)
	}

	maxAttempts := c.cfg.SchedulerRetries + 1
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		node, err := c.sched.Select(c.nodes.ListHealthy(), hints)
		if err != nil {
			if lastErr != nil {
				return nil, errs.Wrap(errs.KindDeploymentFailed, lastErr, "no node left to retry after %d failed attempt(s): %v", attempt, err)
			}
			return nil, err
		}

		matchID := fmt.Sprintf("%s-%s", node.NodeID, uuid.NewString())
		result, err := c.engine.Deploy(ctx, node.AdvertiseAddress, enginenode.DeployRequest{
			MatchID:     matchID,
			ModuleNames: moduleNames,
			PlayerLimit: playerLimit,
		})
		if err != nil {
			c.logger.Warn().Err(err).Str("node_id", node.NodeID).Int("attempt", attempt+1).Msg("engine node rejected deploy, retrying on another node")
			hints.Excluded[node.NodeID] = true
			lastErr = err
			continue
		}

		entry := &types.MatchRegistryEntry{
			MatchID:          matchID,
			NodeID:           node.NodeID,
			ContainerID:      result.ContainerID,
			Status:           types.MatchRunning,
			ModuleNames:      moduleNames,
			AdvertiseAddress: node.AdvertiseAddress,
			WebsocketURL:     result.WebsocketURL,
			PlayerLimit:      playerLimit,
		}
		if err := c.matches.Create(ctx, entry); err != nil {
			return nil, err
		}

		c.logger.Info().Str("match_id", matchID).Str("node_id", node.NodeID).Msg("match deployed")
		return &MatchResponse{
			MatchID:          matchID,
			NodeID:           node.NodeID,
			Status:           entry.Status,
			AdvertiseAddress: entry.AdvertiseAddress,
			WebsocketURL:     entry.WebsocketURL,
			PlayerLimit:      playerLimit,
		}, nil
	}

	return nil, errs.Wrap(errs.KindDeploymentFailed, lastErr, "exhausted %d scheduling attempts", maxAttempts)
}

// Join admits a player to a running match and issues their match token.
// If token issuance fails after the roster increment, the increment is
// rolled back best-effort.
func (c *Coordinator) Join(ctx context.Context, matchID, playerID, playerName string) (*JoinResponse, error) {
	if err := c.matches.JoinPlayer(ctx, matchID); err != nil {
		return nil, err
	}

	raw, claims, err := c.tokens.Issue(playerID, matchID, playerName)
	if err != nil {
		if rollbackErr := c.matches.LeavePlayer(ctx, matchID); rollbackErr != nil {
			c.logger.Error().Err(rollbackErr).Str("match_id", matchID).Msg("failed to roll back roster increment after token issuance failure")
		}
		return nil, err
	}

	m, err := c.matches.Get(matchID)
	if err != nil {
		return nil, err
	}

	return &JoinResponse{
		MatchToken:    raw,
		CommandWSURL:  m.WebsocketURL,
		SnapshotWSURL: "/ws/snapshots/" + matchID,
		ExpiresAt:     claims.ExpiresAt,
	}, nil
}

// Leave removes a player from a match's roster.
func (c *Coordinator) Leave(ctx context.Context, matchID, playerID string) error {
	return c.matches.LeavePlayer(ctx, matchID)
}

// Finish transitions a match to FINISHED and notifies the hosting node
// asynchronously; the caller does not wait on the node round trip.
func (c *Coordinator) Finish(ctx context.Context, matchID string) error {
	m, err := c.matches.Get(matchID)
	if err != nil {
		return err
	}

	if err := c.matches.SetStatus(ctx, matchID, types.MatchFinished); err != nil {
		return err
	}

	go func() {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.engine.StopContainer(notifyCtx, m.AdvertiseAddress, m.ContainerID); err != nil {
			c.logger.Warn().Err(err).Str("match_id", matchID).Msg("failed to notify node of match finish")
		}
	}()

	return nil
}

// Delete tears down a match's container (if its node is reachable) and
// removes the registry entry. A reachable, HEALTHY node that fails to
// stop the container blocks the delete to avoid orphaning a running
// container; an unreachable or non-HEALTHY node's failure is logged and
// the delete proceeds.
func (c *Coordinator) Delete(ctx context.Context, matchID string) error {
	m, err := c.matches.Get(matchID)
	if err != nil {
		return err
	}

	if stopErr := c.engine.StopContainer(ctx, m.AdvertiseAddress, m.ContainerID); stopErr != nil {
		node, nodeErr := c.nodes.Get(m.NodeID)
		if nodeErr == nil && node.Status == types.NodeHealthy {
			return errs.Wrap(errs.KindUpstreamUnreachable, stopErr, "node %s is healthy but rejected container teardown for match %s", m.NodeID, matchID)
		}
		c.logger.Warn().Err(stopErr).Str("match_id", matchID).Str("node_id", m.NodeID).Msg("failed to stop container on delete, proceeding to remove registry entry")
	}

	return c.matches.Delete(ctx, matchID)
}
