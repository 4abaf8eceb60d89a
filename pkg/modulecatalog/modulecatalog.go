// Package modulecatalog implements C3: tracking uploaded module
// artifacts and fanning them out to engine nodes with bounded
// concurrency and retry.
package modulecatalog

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/stormstack/thunder/pkg/errs"
	"github.com/stormstack/thunder/pkg/events"
	"github.com/stormstack/thunder/pkg/log"
	"github.com/stormstack/thunder/pkg/metrics"
	"github.com/stormstack/thunder/pkg/moduleblob"
	"github.com/stormstack/thunder/pkg/statestore"
	"github.com/stormstack/thunder/pkg/types"
)

const statestoreKeyPrefix = "modules:"

// EngineNodePusher is the subset of the EngineNode collaborator the
// catalog needs to fan a module out to a node.
type EngineNodePusher interface {
	PushModule(ctx context.Context, advertiseAddress, name, version, checksum string, data io.Reader) error
}

// Config controls distribution fan-out.
type Config struct {
	MaxConcurrentDistributions int
	RetryBase                  time.Duration
	RetryMax                   time.Duration
	MaxAttempts                int
}

// Catalog tracks module metadata and orchestrates distribution.
type Catalog struct {
	cfg    Config
	store  statestore.StateStore
	blobs  moduleblob.Store
	nodes  EngineNodePusher
	broker *events.Broker
	logger zerolog.Logger

	mu      sync.RWMutex
	modules map[string]*types.ModuleMetadata
}

// New constructs a Catalog and warm-starts its index from store.
func New(ctx context.Context, cfg Config, store statestore.StateStore, blobs moduleblob.Store, nodes EngineNodePusher, broker *events.Broker) (*Catalog, error) {
	c := &Catalog{
		cfg:     cfg,
		store:   store,
		blobs:   blobs,
		nodes:   nodes,
		broker:  broker,
		logger:  log.WithComponent("modulecatalog"),
		modules: make(map[string]*types.ModuleMetadata),
	}

	if err := c.warmStart(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) warmStart(ctx context.Context) error {
	keys, err := c.store.Scan(ctx, statestoreKeyPrefix)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "scanning modules from statestore")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		raw, err := c.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var m types.ModuleMetadata
		if err := json.Unmarshal(raw, &m); err != nil {
			c.logger.Warn().Str("key", key).Err(err).Msg("skipping corrupt module record on warm start")
			continue
		}
		mod := m
		c.modules[mod.Key()] = &mod
	}
	metrics.ModulesTotal.Set(float64(len(c.modules)))
	return nil
}

// Upload stores the artifact bytes and records its metadata. It does
// not distribute the module to any node; call Distribute for that. A
// re-upload of an existing (name, version) with a different checksum
// fails with ModuleVersionConflict without touching the stored artifact.
func (c *Catalog) Upload(ctx context.Context, name, version, fileName, uploadedBy string, data io.Reader) (*types.ModuleMetadata, error) {
	key := name + ":" + version
	c.mu.RLock()
	existing, exists := c.modules[key]
	c.mu.RUnlock()

	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "reading uploaded module %s", key)
	}
	sum := sha256.Sum256(buf)
	checksum := hex.EncodeToString(sum[:])

	if exists {
		if existing.Checksum != checksum {
			return nil, errs.New(errs.KindModuleVersionConflict, "module %s is already uploaded with a different checksum", key)
		}
		return c.Get(name, version)
	}

	size, _, err := c.blobs.Put(ctx, name, version, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}

	m := &types.ModuleMetadata{
		Name:          name,
		Version:       version,
		FileName:      fileName,
		FileSize:      size,
		Checksum:      checksum,
		UploadedAt:    time.Now(),
		UploadedBy:    uploadedBy,
		DistributedTo: make(map[string]bool),
	}

	c.mu.Lock()
	c.modules[m.Key()] = m
	count := len(c.modules)
	c.mu.Unlock()

	if err := c.persist(ctx, m); err != nil {
		return nil, err
	}
	metrics.ModulesTotal.Set(float64(count))
	c.logger.Info().Str("module_name", name).Str("module_version", version).Int64("size", size).Msg("module uploaded")
	return m, nil
}

// Get returns a copy of the module metadata for (name, version).
func (c *Catalog) Get(name, version string) (*types.ModuleMetadata, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.modules[name+":"+version]
	if !ok {
		return nil, errs.New(errs.KindModuleNotFound, "module %s:%s is not uploaded", name, version)
	}
	snapshot := *m
	return &snapshot, nil
}

// List returns a copy of every module's metadata.
func (c *Catalog) List() []*types.ModuleMetadata {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*types.ModuleMetadata, 0, len(c.modules))
	for _, m := range c.modules {
		snapshot := *m
		out = append(out, &snapshot)
	}
	return out
}

// Delete removes a module's metadata and stored bytes.
func (c *Catalog) Delete(ctx context.Context, name, version string) error {
	key := name + ":" + version

	c.mu.Lock()
	_, ok := c.modules[key]
	delete(c.modules, key)
	c.mu.Unlock()

	if !ok {
		return errs.New(errs.KindModuleNotFound, "module %s:%s is not uploaded", name, version)
	}

	if err := c.blobs.Delete(ctx, name, version); err != nil {
		return err
	}
	if err := c.store.Del(ctx, statestoreKeyPrefix+key); err != nil {
		return errs.Wrap(errs.KindInternal, err, "deleting module %s from statestore", key)
	}
	return nil
}

// FailedNode pairs a node_id that rejected a distribution attempt with
// the reason it was rejected.
type FailedNode struct {
	NodeID string `json:"node_id"`
	Reason string `json:"reason"`
}

// Distribute fans a module's bytes out to every node in nodeAddresses
// (keyed by node_id), bounding concurrency to
// cfg.MaxConcurrentDistributions and retrying each node's push with
// exponential backoff. It returns the node_ids that received the
// module and the node_ids that ultimately failed along with why.
func (c *Catalog) Distribute(ctx context.Context, name, version string, nodeAddresses map[string]string) ([]string, []FailedNode, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ModuleDistributionDuration)

	m, err := c.Get(name, version)
	if err != nil {
		return nil, nil, err
	}

	raw, err := c.readArtifact(ctx, name, version)
	if err != nil {
		return nil, nil, err
	}

	sem := make(chan struct{}, max(1, c.cfg.MaxConcurrentDistributions))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var succeeded []string
	var failed []FailedNode

	for nodeID, addr := range nodeAddresses {
		wg.Add(1)
		go func(nodeID, addr string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := c.distributeToNode(ctx, nodeID, addr, name, version, m.Checksum, raw); err != nil {
				metrics.ModuleDistributionFailedTotal.WithLabelValues(nodeID).Inc()
				c.logger.Error().Err(err).Str("node_id", nodeID).Str("module_name", name).Msg("module distribution failed")
				mu.Lock()
				failed = append(failed, FailedNode{NodeID: nodeID, Reason: err.Error()})
				mu.Unlock()
				return
			}

			mu.Lock()
			m.DistributedTo[nodeID] = true
			succeeded = append(succeeded, nodeID)
			mu.Unlock()
		}(nodeID, addr)
	}
	wg.Wait()

	if err := c.persist(ctx, m); err != nil {
		return succeeded, failed, err
	}
	c.broker.Publish(&events.Event{Type: events.EventModuleDistributed, Metadata: map[string]string{"module_name": name, "module_version": version}})
	return succeeded, failed, nil
}

// Download returns a reader for a module's stored artifact bytes.
// Callers must close it.
func (c *Catalog) Download(ctx context.Context, name, version string) (io.ReadCloser, error) {
	if _, err := c.Get(name, version); err != nil {
		return nil, err
	}
	return c.blobs.Open(ctx, name, version)
}

func (c *Catalog) distributeToNode(ctx context.Context, nodeID, addr, name, version, checksum string, data []byte) error {
	op := func() (struct{}, error) {
		if err := c.nodes.PushModule(ctx, addr, name, version, checksum, bytes.NewReader(data)); err != nil {
			metrics.ModuleDistributionRetriesTotal.WithLabelValues(nodeID).Inc()
			return struct{}{}, err
		}
		return struct{}{}, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryBase
	b.MaxInterval = c.cfg.RetryMax

	_, err := backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(uint(max(1, c.cfg.MaxAttempts))))
	if err != nil {
		return errs.Wrap(errs.KindDistributionFailed, err, "distributing module %s:%s to node %s", name, version, nodeID)
	}
	return nil
}

func (c *Catalog) readArtifact(ctx context.Context, name, version string) ([]byte, error) {
	r, err := c.blobs.Open(ctx, name, version)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "reading module artifact %s:%s", name, version)
	}
	return data, nil
}

func (c *Catalog) persist(ctx context.Context, m *types.ModuleMetadata) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "marshalling module %s", m.Key())
	}
	if err := c.store.Set(ctx, statestoreKeyPrefix+m.Key(), raw, 0); err != nil {
		return errs.Wrap(errs.KindInternal, err, "persisting module %s", m.Key())
	}
	return nil
}
