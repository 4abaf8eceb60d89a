package proxyrouter

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormstack/thunder/pkg/errs"
	"github.com/stormstack/thunder/pkg/types"
)

type fakeResolver struct {
	entry *types.MatchRegistryEntry
	err   error
}

func (f *fakeResolver) Get(matchID string) (*types.MatchRegistryEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.entry, nil
}

func TestRouter_ForwardsToHostingNode(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/matches/m1/state", r.URL.Path)
		assert.Equal(t, "m1", r.Header.Get("X-Thunder-Match-Id"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	router := New(Config{Enabled: true, Timeout: time.Second}, &fakeResolver{
		entry: &types.MatchRegistryEntry{MatchID: "m1", NodeID: "engine-1", AdvertiseAddress: strings.TrimPrefix(upstream.URL, "http://")},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/matches/m1/state", nil)
	rec := httptest.NewRecorder()
	router.Forward(rec, req, "m1")

	assert.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, "ok", string(body))
}

func TestRouter_DisabledReturnsProxyDisabled(t *testing.T) {
	router := New(Config{Enabled: false}, &fakeResolver{})

	req := httptest.NewRequest(http.MethodGet, "/api/matches/m1/state", nil)
	rec := httptest.NewRecorder()
	router.Forward(rec, req, "m1")

	assert.Equal(t, errs.StatusOf(errs.New(errs.KindProxyDisabled, "")), rec.Code)
}

func TestRouter_UnknownMatchReturnsMatchNotFound(t *testing.T) {
	router := New(Config{Enabled: true}, &fakeResolver{err: errs.New(errs.KindMatchNotFound, "match m1 does not exist")})

	req := httptest.NewRequest(http.MethodGet, "/api/matches/m1/state", nil)
	rec := httptest.NewRecorder()
	router.Forward(rec, req, "m1")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_UnreachableNodeReturnsUpstreamUnreachable(t *testing.T) {
	router := New(Config{Enabled: true, Timeout: 100 * time.Millisecond}, &fakeResolver{
		entry: &types.MatchRegistryEntry{MatchID: "m1", NodeID: "engine-1", AdvertiseAddress: "127.0.0.1:1"},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/matches/m1/state", nil)
	rec := httptest.NewRecorder()
	router.Forward(rec, req, "m1")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRouter_DefaultsTimeoutWhenUnset(t *testing.T) {
	r := New(Config{Enabled: true}, &fakeResolver{})
	assert.Equal(t, 30*time.Second, r.cfg.Timeout)
}

func TestRouter_PreservesRequestMethodAndBody(t *testing.T) {
	var gotMethod, gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
	}))
	defer upstream.Close()

	router := New(Config{Enabled: true, Timeout: time.Second}, &fakeResolver{
		entry: &types.MatchRegistryEntry{MatchID: "m1", NodeID: "engine-1", AdvertiseAddress: strings.TrimPrefix(upstream.URL, "http://")},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/matches/m1/actions", strings.NewReader("payload"))
	rec := httptest.NewRecorder()
	router.Forward(rec, req, "m1")

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "payload", gotBody)
}
