// Package proxyrouter implements C8: resolving a match_id to its
// hosting node via MatchRegistry and forwarding the request there,
// websocket upgrades included.
package proxyrouter

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/stormstack/thunder/pkg/errs"
	"github.com/stormstack/thunder/pkg/log"
	"github.com/stormstack/thunder/pkg/metrics"
	"github.com/stormstack/thunder/pkg/types"
)

// MatchResolver is the subset of MatchRegistry the router needs.
type MatchResolver interface {
	Get(matchID string) (*types.MatchRegistryEntry, error)
}

// Config controls the router's behavior.
type Config struct {
	Enabled bool
	Timeout time.Duration
}

// Router forwards requests addressed by match_id to the node currently
// hosting that match.
type Router struct {
	cfg     Config
	matches MatchResolver
	logger  zerolog.Logger
}

// New constructs a Router.
func New(cfg Config, matches MatchResolver) *Router {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Router{cfg: cfg, matches: matches, logger: log.WithComponent("proxyrouter")}
}

// Forward resolves matchID via MatchRegistry and reverse-proxies r to
// the hosting node's advertise address, preserving method, headers
// (minus hop-by-hop), body, and websocket upgrades.
func (p *Router) Forward(w http.ResponseWriter, r *http.Request, matchID string) {
	if !p.cfg.Enabled {
		writeEarlyError(w, matchID, errs.New(errs.KindProxyDisabled, "proxying to match %s is disabled", matchID))
		return
	}

	m, err := p.matches.Get(matchID)
	if err != nil {
		writeEarlyError(w, matchID, err)
		return
	}

	target, err := url.Parse(fmt.Sprintf("http://%s", m.AdvertiseAddress))
	if err != nil {
		writeEarlyError(w, matchID, errs.Wrap(errs.KindUpstreamUnreachable, err, "match %s has an unroutable node address", matchID))
		return
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ProxyRequestDuration, matchID)

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.Transport = &http.Transport{
		ResponseHeaderTimeout: p.cfg.Timeout,
	}

	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = target.Host
		req.Header.Set("X-Forwarded-For", req.RemoteAddr)
		req.Header.Set("X-Forwarded-Proto", "http")
		req.Header.Set("X-Thunder-Match-Id", matchID)
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		p.logger.Warn().Err(err).Str("match_id", matchID).Str("node_id", m.NodeID).Msg("proxy forward failed")
		if isTimeout(err) {
			writeError(w, matchID, errs.Wrap(errs.KindUpstreamTimeout, err, "node %s timed out forwarding match %s", m.NodeID, matchID))
			return
		}
		writeError(w, matchID, errs.Wrap(errs.KindUpstreamUnreachable, err, "node %s is unreachable for match %s", m.NodeID, matchID))
	}

	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	proxy.ServeHTTP(sw, r)
	metrics.ProxyRequestsTotal.WithLabelValues(matchID, fmt.Sprintf("%d", sw.status)).Inc()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack delegates to the underlying ResponseWriter so websocket
// upgrades proxied by httputil.ReverseProxy still work through the
// status-capturing wrapper.
func (s *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	return hj.Hijack()
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

// writeError renders the standard JSON error envelope. It does not
// record proxy metrics itself: callers that already have a
// statusWriter in flight get counted once, after ServeHTTP returns.
func writeError(w http.ResponseWriter, matchID string, err error) {
	status := errs.StatusOf(err)
	kind := errs.KindInternal
	var e *errs.Error
	if errors.As(err, &e) {
		kind = e.Kind
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":%q,"message":%q,"timestamp":%q}`, kind, err.Error(), time.Now().UTC().Format(time.RFC3339))
}

// writeEarlyError handles the pre-proxy error paths, where no
// statusWriter has been constructed yet, so the metric must be
// recorded here.
func writeEarlyError(w http.ResponseWriter, matchID string, err error) {
	metrics.ProxyRequestsTotal.WithLabelValues(matchID, fmt.Sprintf("%d", errs.StatusOf(err))).Inc()
	writeError(w, matchID, err)
}
