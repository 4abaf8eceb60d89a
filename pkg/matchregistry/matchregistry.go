// Package matchregistry implements C2: the authoritative record of
// matches, their roster counts, and the retention sweep that deletes
// terminal entries past their retention window.
package matchregistry

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

const statestoreKeyPrefix = "matches:"

// Config controls the terminal-entry retention sweep.
type Config struct {
	// Retention bounds how long a FINISHED or ERROR entry is kept. The
	// sweep measures it from the entry's CreatedAt, not from the moment
	// the match reached its terminal status, so an entry whose match ran
	// longer than Retention is deleted at the first sweep after it ends.
	Retention time.Duration
	// SweepInterval is how often the retention sweep runs.
	SweepInterval time.Duration
}

// Registry is the in-memory match index, warm-backed by a StateStore.
type Registry struct {
	cfg    Config
	store  statestore.StateStore
	broker *events.Broker
	logger zerolog.Logger

	mu      sync.RWMutex
	matches map[string]*types.MatchRegistryEntry

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Registry and warm-starts its index from store.
func New(ctx context.Context, cfg Config, store statestore.StateStore, broker *events.Broker) (*Registry, error) {
	r := &Registry{
		cfg:     cfg,
		store:   store,
		broker:  broker,
		logger:  log.WithComponent("matchregistry"),
		matches: make(map[string]*types.MatchRegistryEntry),
		stopCh:  make(chan struct{}),
	}

	if err := r.warmStart(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) warmStart(ctx context.Context) error {
	keys, err := r.store.Scan(ctx, statestoreKeyPrefix)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "scanning matches from statestore")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range keys {
		raw, err := r.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var m types.MatchRegistryEntry
		if err := json.Unmarshal(raw, &m); err != nil {
			r.logger.Warn().Str("key", key).Err(err).Msg("skipping corrupt match record on warm start")
			continue
		}
		entry := m
		r.matches[entry.MatchID] = &entry
	}
	return nil
}

// Start begins the retention sweep loop.
func (r *Registry) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop halts the retention sweep loop and blocks until it exits.
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

func (r *Registry) sweep() {
	deadline := time.Now().Add(-r.cfg.Retention)

	r.mu.Lock()
	var toDelete []string
	for id, m := range r.matches {
		if m.Status.IsTerminal() && m.CreatedAt.Before(deadline) {
			toDelete = append(toDelete, id)
		}
	}
	for _, id := range toDelete {
		delete(r.matches, id)
	}
	r.mu.Unlock()

	for _, id := range toDelete {
		if err := r.store.Del(context.Background(), statestoreKeyPrefix+id); err != nil {
			r.logger.Error().Err(err).Str("match_id", id).Msg("failed to delete retained match from statestore")
			continue
		}
		metrics.MatchesDeletedTotal.Inc()
		r.broker.Publish(&events.Event{Type: events.EventMatchDeleted, Metadata: map[string]string{"match_id": id}})
	}
	r.refreshGauges()
}

func (r *Registry) refreshGauges() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := map[types.MatchStatus]float64{}
	for _, m := range r.matches {
		counts[m.Status]++
	}
	for _, s := range []types.MatchStatus{types.MatchPending, types.MatchRunning, types.MatchFull, types.MatchFinished, types.MatchError} {
		metrics.MatchesTotal.WithLabelValues(string(s)).Set(counts[s])
	}
}

// Create inserts a new match entry. The caller is responsible for
// assigning MatchID. Fails with MatchAlreadyExists if the id is occupied.
func (r *Registry) Create(ctx context.Context, m *types.MatchRegistryEntry) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.Status == "" {
		m.Status = types.MatchPending
	}

	r.mu.Lock()
	if _, exists := r.matches[m.MatchID]; exists {
		r.mu.Unlock()
		return errs.New(errs.KindMatchAlreadyExists, "match %s already exists", m.MatchID)
	}
	r.matches[m.MatchID] = m
	r.mu.Unlock()

	if err := r.persist(ctx, m); err != nil {
		return err
	}

	metrics.MatchesCreatedTotal.Inc()
	r.refreshGauges()
	r.broker.Publish(&events.Event{Type: events.EventMatchCreated, Metadata: map[string]string{"match_id": m.MatchID}})
	return nil
}

// Get returns a copy of the match entry for matchID.
func (r *Registry) Get(matchID string) (*types.MatchRegistryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.matches[matchID]
	if !ok {
		return nil, errs.New(errs.KindMatchNotFound, "match %s does not exist", matchID)
	}
	snapshot := *m
	return &snapshot, nil
}

// List returns a copy of every match entry.
func (r *Registry) List() []*types.MatchRegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.MatchRegistryEntry, 0, len(r.matches))
	for _, m := range r.matches {
		snapshot := *m
		out = append(out, &snapshot)
	}
	return out
}

// SetStatus transitions a match's status and persists the change. It
// publishes EventMatchFinished when the new status is terminal.
func (r *Registry) SetStatus(ctx context.Context, matchID string, status types.MatchStatus) error {
	r.mu.Lock()
	m, ok := r.matches[matchID]
	if !ok {
		r.mu.Unlock()
		return errs.New(errs.KindMatchNotFound, "match %s does not exist", matchID)
	}
	m.Status = status
	snapshot := *m
	r.mu.Unlock()

	if err := r.persist(ctx, &snapshot); err != nil {
		return err
	}
	r.refreshGauges()
	if status.IsTerminal() {
		r.broker.Publish(&events.Event{Type: events.EventMatchFinished, Metadata: map[string]string{"match_id": matchID}})
	}
	return nil
}

// JoinPlayer increments the roster count, transitioning to FULL when the
// player limit is reached. Returns MATCH_FULL if the match is already at
// its limit, or INVALID_MATCH_STATE if the match cannot accept joins.
func (r *Registry) JoinPlayer(ctx context.Context, matchID string) error {
	r.mu.Lock()
	m, ok := r.matches[matchID]
	if !ok {
		r.mu.Unlock()
		return errs.New(errs.KindMatchNotFound, "match %s does not exist", matchID)
	}
	if m.Status != types.MatchPending && m.Status != types.MatchRunning {
		status := m.Status
		r.mu.Unlock()
		return errs.New(errs.KindInvalidMatchState, "match %s is %s, cannot accept players", matchID, status)
	}
	if m.AtLimit() {
		r.mu.Unlock()
		return errs.New(errs.KindMatchFull, "match %s is at its player limit", matchID)
	}

	m.PlayerCount++
	if m.AtLimit() {
		m.Status = types.MatchFull
	} else if m.Status == types.MatchPending {
		m.Status = types.MatchRunning
	}
	snapshot := *m
	r.mu.Unlock()

	if err := r.persist(ctx, &snapshot); err != nil {
		return err
	}
	r.refreshGauges()
	metrics.PlayerJoinsTotal.Inc()
	r.broker.Publish(&events.Event{Type: events.EventPlayerJoined, Metadata: map[string]string{"match_id": matchID}})
	return nil
}

// LeavePlayer decrements the roster count, reopening a FULL match to
// RUNNING if it drops below the limit.
func (r *Registry) LeavePlayer(ctx context.Context, matchID string) error {
	r.mu.Lock()
	m, ok := r.matches[matchID]
	if !ok {
		r.mu.Unlock()
		return errs.New(errs.KindMatchNotFound, "match %s does not exist", matchID)
	}
	if m.PlayerCount > 0 {
		m.PlayerCount--
	}
	if m.Status == types.MatchFull && !m.AtLimit() {
		m.Status = types.MatchRunning
	}
	snapshot := *m
	r.mu.Unlock()

	if err := r.persist(ctx, &snapshot); err != nil {
		return err
	}
	r.refreshGauges()
	metrics.PlayerLeavesTotal.Inc()
	r.broker.Publish(&events.Event{Type: events.EventPlayerLeft, Metadata: map[string]string{"match_id": matchID}})
	return nil
}

// Delete removes a match entry immediately, independent of retention.
func (r *Registry) Delete(ctx context.Context, matchID string) error {
	r.mu.Lock()
	_, ok := r.matches[matchID]
	delete(r.matches, matchID)
	r.mu.Unlock()

	if !ok {
		return errs.New(errs.KindMatchNotFound, "match %s does not exist", matchID)
	}

	if err := r.store.Del(ctx, statestoreKeyPrefix+matchID); err != nil {
		return errs.Wrap(errs.KindInternal, err, "deleting match %s from statestore", matchID)
	}
	metrics.MatchesDeletedTotal.Inc()
	r.refreshGauges()
	r.broker.Publish(&events.Event{Type: events.EventMatchDeleted, Metadata: map[string]string{"match_id": matchID}})
	return nil
}

// CountByStatus backs the cluster status aggregate.
func (r *Registry) CountByStatus() map[types.MatchStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[types.MatchStatus]int)
	for _, m := range r.matches {
		counts[m.Status]++
	}
	return counts
}

// persist write-through's m. Once m reaches a terminal status it is
// written with a TTL of Retention, counted from this write, so a
// Redis-backed StateStore also reclaims it on its own; a still-active
// match is persisted without expiry since it is explicitly removed by
// Delete.
func (r *Registry) persist(ctx context.Context, m *types.MatchRegistryEntry) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "marshalling match %s", m.MatchID)
	}

	var ttl time.Duration
	if m.Status.IsTerminal() {
		ttl = r.cfg.Retention
	}

	if err := r.store.Set(ctx, statestoreKeyPrefix+m.MatchID, raw, ttl); err != nil {
		return errs.Wrap(errs.KindInternal, err, "persisting match %s", m.MatchID)
	}
	return nil
}
