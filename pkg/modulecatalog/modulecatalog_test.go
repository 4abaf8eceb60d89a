package modulecatalog

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormstack/thunder/pkg/errs"
	"github.com/stormstack/thunder/pkg/events"
	"github.com/stormstack/thunder/pkg/moduleblob"
	"github.com/stormstack/thunder/pkg/statestore"
)

type fakePusher struct {
	mu          sync.Mutex
	failUntil   map[string]int
	pushedNodes []string
}

func (f *fakePusher) PushModule(_ context.Context, addr, name, version, checksum string, data io.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failUntil[addr] > 0 {
		f.failUntil[addr]--
		return errs.New(errs.KindUpstreamUnreachable, "simulated failure for %s", addr)
	}
	f.pushedNodes = append(f.pushedNodes, addr)
	return nil
}

func newTestCatalog(t *testing.T, pusher EngineNodePusher) (*Catalog, func()) {
	t.Helper()

	dir := t.TempDir()
	blobs, err := moduleblob.NewLocalStore(dir)
	require.NoError(t, err)

	broker := events.NewBroker()
	broker.Start()

	cfg := Config{
		MaxConcurrentDistributions: 4,
		RetryBase:                  time.Millisecond,
		RetryMax:                   5 * time.Millisecond,
		MaxAttempts:                3,
	}
	c, err := New(context.Background(), cfg, statestore.NewMemoryStore(), blobs, pusher, broker)
	require.NoError(t, err)

	return c, broker.Stop
}

func TestCatalog_UploadAndGet(t *testing.T) {
	c, stop := newTestCatalog(t, &fakePusher{})
	defer stop()

	m, err := c.Upload(context.Background(), "arena", "1.0.0", "arena.tar.gz", "alice", strings.NewReader("module bytes"))
	require.NoError(t, err)
	assert.NotEmpty(t, m.Checksum)
	assert.Equal(t, int64(len("module bytes")), m.FileSize)

	got, err := c.Get("arena", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, m.Checksum, got.Checksum)
}

func TestCatalog_ReUploadSameChecksumIsNoOp(t *testing.T) {
	c, stop := newTestCatalog(t, &fakePusher{})
	defer stop()

	first, err := c.Upload(context.Background(), "arena", "1.0.0", "f", "alice", strings.NewReader("bytes"))
	require.NoError(t, err)

	second, err := c.Upload(context.Background(), "arena", "1.0.0", "f", "alice", strings.NewReader("bytes"))
	require.NoError(t, err)
	assert.Equal(t, first.Checksum, second.Checksum)
}

func TestCatalog_ReUploadDifferentChecksumConflicts(t *testing.T) {
	c, stop := newTestCatalog(t, &fakePusher{})
	defer stop()

	_, err := c.Upload(context.Background(), "arena", "1.0.0", "f", "alice", strings.NewReader("bytes-v1"))
	require.NoError(t, err)

	_, err = c.Upload(context.Background(), "arena", "1.0.0", "f", "alice", strings.NewReader("bytes-v2"))
	assert.True(t, errs.Is(err, errs.KindModuleVersionConflict))
}

func TestCatalog_GetMissing(t *testing.T) {
	c, stop := newTestCatalog(t, &fakePusher{})
	defer stop()

	_, err := c.Get("ghost", "1.0.0")
	assert.True(t, errs.Is(err, errs.KindModuleNotFound))
}

func TestCatalog_DistributeSucceedsToAllNodes(t *testing.T) {
	pusher := &fakePusher{}
	c, stop := newTestCatalog(t, pusher)
	defer stop()

	_, err := c.Upload(context.Background(), "arena", "1.0.0", "f", "alice", strings.NewReader("bytes"))
	require.NoError(t, err)

	succeeded, failed, err := c.Distribute(context.Background(), "arena", "1.0.0", map[string]string{
		"n1": "10.0.0.1:9000",
		"n2": "10.0.0.2:9000",
	})
	require.NoError(t, err)
	assert.Empty(t, failed)
	assert.ElementsMatch(t, []string{"n1", "n2"}, succeeded)

	m, err := c.Get("arena", "1.0.0")
	require.NoError(t, err)
	assert.True(t, m.DistributedTo["n1"])
	assert.True(t, m.DistributedTo["n2"])
}

func TestCatalog_DistributeRetriesThenSucceeds(t *testing.T) {
	pusher := &fakePusher{failUntil: map[string]int{"10.0.0.1:9000": 2}}
	c, stop := newTestCatalog(t, pusher)
	defer stop()

	_, err := c.Upload(context.Background(), "arena", "1.0.0", "f", "alice", strings.NewReader("bytes"))
	require.NoError(t, err)

	succeeded, failed, err := c.Distribute(context.Background(), "arena", "1.0.0", map[string]string{"n1": "10.0.0.1:9000"})
	require.NoError(t, err)
	assert.Empty(t, failed)
	assert.Equal(t, []string{"n1"}, succeeded)
}

func TestCatalog_DistributeExhaustsRetriesAndReportsFailure(t *testing.T) {
	pusher := &fakePusher{failUntil: map[string]int{"10.0.0.1:9000": 10}}
	c, stop := newTestCatalog(t, pusher)
	defer stop()

	_, err := c.Upload(context.Background(), "arena", "1.0.0", "f", "alice", strings.NewReader("bytes"))
	require.NoError(t, err)

	succeeded, failed, err := c.Distribute(context.Background(), "arena", "1.0.0", map[string]string{"n1": "10.0.0.1:9000"})
	require.NoError(t, err)
	assert.Empty(t, succeeded)
	require.Len(t, failed, 1)
	assert.Equal(t, "n1", failed[0].NodeID)
	assert.NotEmpty(t, failed[0].Reason)
}

func TestCatalog_DownloadReturnsStoredArtifactBytes(t *testing.T) {
	c, stop := newTestCatalog(t, &fakePusher{})
	defer stop()

	_, err := c.Upload(context.Background(), "arena", "1.0.0", "f", "alice", strings.NewReader("artifact-bytes"))
	require.NoError(t, err)

	r, err := c.Download(context.Background(), "arena", "1.0.0")
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "artifact-bytes", string(got))
}

func TestCatalog_DownloadMissingModuleReturnsModuleNotFound(t *testing.T) {
	c, stop := newTestCatalog(t, &fakePusher{})
	defer stop()

	_, err := c.Download(context.Background(), "ghost", "1.0.0")
	assert.True(t, errs.Is(err, errs.KindModuleNotFound))
}

func TestCatalog_DeleteRemovesMetadataAndBytes(t *testing.T) {
	c, stop := newTestCatalog(t, &fakePusher{})
	defer stop()

	_, err := c.Upload(context.Background(), "arena", "1.0.0", "f", "alice", strings.NewReader("bytes"))
	require.NoError(t, err)

	require.NoError(t, c.Delete(context.Background(), "arena", "1.0.0"))

	_, err = c.Get("arena", "1.0.0")
	assert.True(t, errs.Is(err, errs.KindModuleNotFound))
}

func TestCatalog_WarmStartRebuildsIndex(t *testing.T) {
	dir := t.TempDir()
	blobs, err := moduleblob.NewLocalStore(dir)
	require.NoError(t, err)
	store := statestore.NewMemoryStore()
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	cfg := Config{MaxConcurrentDistributions: 1, RetryBase: time.Millisecond, RetryMax: time.Millisecond, MaxAttempts: 1}

	c1, err := New(context.Background(), cfg, store, blobs, &fakePusher{}, broker)
	require.NoError(t, err)
	_, err = c1.Upload(context.Background(), "arena", "1.0.0", "f", "alice", strings.NewReader("bytes"))
	require.NoError(t, err)

	c2, err := New(context.Background(), cfg, store, blobs, &fakePusher{}, broker)
	require.NoError(t, err)

	got, err := c2.Get("arena", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "arena", got.Name)
}
