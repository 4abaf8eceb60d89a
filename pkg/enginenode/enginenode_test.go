package enginenode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormstack/thunder/pkg/errs"
)

func TestClient_DeployPostsRequestAndParsesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/containers", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"container_id":"c1","websocket_url":"wss://node/c1"}`))
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	result, err := c.Deploy(context.Background(), srv.Listener.Addr().String(), DeployRequest{MatchID: "m1", ModuleNames: []string{"arena"}, PlayerLimit: 4})

	require.NoError(t, err)
	assert.Equal(t, "c1", result.ContainerID)
	assert.Equal(t, "wss://node/c1", result.WebsocketURL)
}

func TestClient_DeploySurfacesNodeErrorAsUpstreamOrDistribution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("at capacity"))
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	_, err := c.Deploy(context.Background(), srv.Listener.Addr().String(), DeployRequest{MatchID: "m1"})
	require.Error(t, err)
}

func TestClient_StopContainerSendsDelete(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	err := c.StopContainer(context.Background(), srv.Listener.Addr().String(), "c1")

	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/v1/containers/c1", gotPath)
}

func TestClient_PushModuleSendsChecksumHeaderAndBody(t *testing.T) {
	var gotChecksum string
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotChecksum = r.Header.Get("X-Module-Checksum")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	err := c.PushModule(context.Background(), srv.Listener.Addr().String(), "arena", "1.0.0", "deadbeef", strings.NewReader("module-bytes"))

	require.NoError(t, err)
	assert.Equal(t, "deadbeef", gotChecksum)
	assert.Equal(t, "module-bytes", gotBody)
}

func TestClient_PushModuleReturnsDistributionFailedOnRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("checksum mismatch"))
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	err := c.PushModule(context.Background(), srv.Listener.Addr().String(), "arena", "1.0.0", "deadbeef", strings.NewReader("x"))

	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindDistributionFailed))
}

func TestClient_DeployReturnsUpstreamUnreachableWhenNodeIsDown(t *testing.T) {
	c := NewClient(100 * time.Millisecond)
	_, err := c.Deploy(context.Background(), "127.0.0.1:1", DeployRequest{MatchID: "m1"})

	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindUpstreamUnreachable))
}
