package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Node registry metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "thunder_nodes_total",
			Help: "Total number of registered nodes by status",
		},
		[]string{"status"},
	)

	NodeCapacityTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "thunder_node_capacity_containers_total",
			Help: "Sum of max_containers across HEALTHY nodes",
		},
	)

	NodeHeartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "thunder_node_heartbeats_total",
			Help: "Total number of node heartbeats accepted",
		},
	)

	NodeExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "thunder_node_expired_total",
			Help: "Total number of nodes marked OFFLINE by the heartbeat sweep",
		},
	)

	// Match registry metrics
	MatchesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "thunder_matches_total",
			Help: "Total number of matches by status",
		},
		[]string{"status"},
	)

	MatchesCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "thunder_matches_created_total",
			Help: "Total number of matches created",
		},
	)

	MatchesDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "thunder_matches_deleted_total",
			Help: "Total number of matches deleted by retention sweep or explicit call",
		},
	)

	// Module catalog metrics
	ModulesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "thunder_modules_total",
			Help: "Total number of distinct module (name, version) artifacts",
		},
	)

	ModuleDistributionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "thunder_module_distribution_duration_seconds",
			Help:    "Time taken to fan a module out to all target nodes",
			Buckets: prometheus.DefBuckets,
		},
	)

	ModuleDistributionRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thunder_module_distribution_retries_total",
			Help: "Total number of module distribution retry attempts by node",
		},
		[]string{"node_id"},
	)

	ModuleDistributionFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thunder_module_distribution_failed_total",
			Help: "Total number of module distributions that exhausted retries",
		},
		[]string{"node_id"},
	)

	// Scheduler metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "thunder_scheduling_latency_seconds",
			Help:    "Time taken to select a node for a match in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SchedulingDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thunder_scheduling_decisions_total",
			Help: "Total number of scheduling decisions by outcome",
		},
		[]string{"outcome"},
	)

	// Match coordinator metrics
	MatchDeployDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "thunder_match_deploy_duration_seconds",
			Help:    "Time taken to deploy a match end to end in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PlayerJoinsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "thunder_player_joins_total",
			Help: "Total number of player join operations accepted",
		},
	)

	PlayerLeavesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "thunder_player_leaves_total",
			Help: "Total number of player leave operations accepted",
		},
	)

	// Token issuer metrics
	TokensIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "thunder_match_tokens_issued_total",
			Help: "Total number of match auth tokens issued",
		},
	)

	TokenVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thunder_match_token_verifications_total",
			Help: "Total number of match auth token verifications by outcome",
		},
		[]string{"outcome"},
	)

	// Autoscaler metrics
	AutoscaleDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thunder_autoscale_decisions_total",
			Help: "Total number of autoscale decisions by action",
		},
		[]string{"action"},
	)

	AutoscaleSaturation = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "thunder_autoscale_saturation_ratio",
			Help: "Cluster-wide saturation ratio observed at the last autoscale cycle",
		},
	)

	// Proxy router metrics
	ProxyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thunder_proxy_requests_total",
			Help: "Total number of proxied requests by match and status",
		},
		[]string{"match_id", "status"},
	)

	ProxyRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "thunder_proxy_request_duration_seconds",
			Help:    "Proxied request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"match_id"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thunder_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "thunder_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(NodeCapacityTotal)
	prometheus.MustRegister(NodeHeartbeatsTotal)
	prometheus.MustRegister(NodeExpiredTotal)

	prometheus.MustRegister(MatchesTotal)
	prometheus.MustRegister(MatchesCreatedTotal)
	prometheus.MustRegister(MatchesDeletedTotal)

	prometheus.MustRegister(ModulesTotal)
	prometheus.MustRegister(ModuleDistributionDuration)
	prometheus.MustRegister(ModuleDistributionRetriesTotal)
	prometheus.MustRegister(ModuleDistributionFailedTotal)

	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(SchedulingDecisionsTotal)

	prometheus.MustRegister(MatchDeployDuration)
	prometheus.MustRegister(PlayerJoinsTotal)
	prometheus.MustRegister(PlayerLeavesTotal)

	prometheus.MustRegister(TokensIssuedTotal)
	prometheus.MustRegister(TokenVerificationsTotal)

	prometheus.MustRegister(AutoscaleDecisionsTotal)
	prometheus.MustRegister(AutoscaleSaturation)

	prometheus.MustRegister(ProxyRequestsTotal)
	prometheus.MustRegister(ProxyRequestDuration)

	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
