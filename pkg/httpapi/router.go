// Package httpapi wires the control plane's chi router: the REST
// surface over NodeRegistry/MatchRegistry/ModuleCatalog/MatchCoordinator,
// the Prometheus metrics endpoint, and C8's proxy passthrough.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/stormstack/thunder/pkg/autoscaler"
	"github.com/stormstack/thunder/pkg/coordinator"
	"github.com/stormstack/thunder/pkg/identityservice"
	"github.com/stormstack/thunder/pkg/log"
	"github.com/stormstack/thunder/pkg/matchregistry"
	"github.com/stormstack/thunder/pkg/metrics"
	"github.com/stormstack/thunder/pkg/modulecatalog"
	"github.com/stormstack/thunder/pkg/noderegistry"
	"github.com/stormstack/thunder/pkg/proxyrouter"
	"github.com/stormstack/thunder/pkg/token"
)

// Scopes named in the wire contract.
const (
	ScopeNodeRegister = "control-plane.node.register"
	ScopeNodeManage   = "control-plane.node.manage"
	ScopeClusterRead  = "control-plane.cluster.read"
	ScopeMatchCreate  = "control-plane.match.create"
	ScopeMatchManage  = "control-plane.match.*"
	ScopeMatchJoin    = "control-plane.match.join"
	ScopeModuleManage = "control-plane.module.*"
	ScopeDeployAlias  = "control-plane.deploy.*"
)

// Deps bundles every collaborator the API surface calls into.
type Deps struct {
	Nodes       *noderegistry.Registry
	Matches     *matchregistry.Registry
	Modules     *modulecatalog.Catalog
	Coordinator *coordinator.Coordinator
	Tokens      *token.Issuer
	Autoscaler  *autoscaler.Autoscaler
	Proxy       *proxyrouter.Router
	Verifier    *identityservice.Verifier
	CORSOrigins []string
	JoinTokens  *JoinTokenManager
}

// NewRouter builds the fully wired chi.Mux.
func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(RequestLogger(log.WithComponent("httpapi")))
	r.Use(Metrics)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		Respond(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	h := &handlers{deps: deps, logger: log.WithComponent("httpapi")}

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", h.login)
		r.Post("/auth/refresh", h.refresh)

		r.Group(func(r chi.Router) {
			r.Use(RequireScope(deps.Verifier, ScopeNodeRegister))
			r.Post("/nodes/register", h.registerNode)
			r.Put("/nodes/{id}/heartbeat", h.heartbeat)
		})
		r.Group(func(r chi.Router) {
			r.Use(RequireScope(deps.Verifier, ScopeNodeManage))
			r.Post("/nodes/{id}/drain", h.drainNode)
			r.Delete("/nodes/{id}", h.deregisterNode)
			r.Post("/nodes/join-tokens", h.mintJoinToken)
		})
		r.Group(func(r chi.Router) {
			r.Use(RequireScope(deps.Verifier, ScopeClusterRead))
			r.Get("/cluster/nodes", h.listNodes)
			r.Get("/cluster/nodes/{id}", h.getNode)
			r.Get("/cluster/status", h.clusterStatus)
		})
		r.Group(func(r chi.Router) {
			r.Use(RequireScope(deps.Verifier, ScopeMatchCreate))
			r.Post("/matches/create", h.createMatch)
		})
		r.Group(func(r chi.Router) {
			r.Use(RequireScope(deps.Verifier, ScopeDeployAlias))
			r.Post("/v1/deploy", h.createMatch)
		})
		r.Group(func(r chi.Router) {
			r.Use(RequireScope(deps.Verifier, ScopeMatchManage))
			r.Get("/matches", h.listMatches)
			r.Get("/matches/{id}", h.getMatch)
			r.Delete("/matches/{id}", h.deleteMatch)
			r.Post("/matches/{id}/finish", h.finishMatch)
		})
		r.Group(func(r chi.Router) {
			r.Use(RequireScope(deps.Verifier, ScopeMatchJoin))
			r.Post("/matches/{id}/join", h.joinMatch)
			r.Post("/matches/{id}/leave", h.leaveMatch)
		})
		r.Group(func(r chi.Router) {
			r.Use(RequireScope(deps.Verifier, ScopeModuleManage))
			r.Post("/modules/upload", h.uploadModule)
			r.Get("/modules", h.listModules)
			r.Get("/modules/{name}/{version}", h.getModule)
			r.Get("/modules/{name}/{version}/download", h.downloadModule)
			r.Delete("/modules/{name}/{version}", h.deleteModule)
			r.Post("/modules/{name}/{version}/distribute", h.distributeModule)
		})

		// C8: proxied to the hosting node, authenticated with the
		// match token rather than a bearer scope.
		r.Handle("/matches/{id}/*", http.HandlerFunc(h.proxyMatch))
	})

	r.Get("/ws/snapshots/{match_id}", h.proxySnapshot)

	return r
}

type handlers struct {
	deps   Deps
	logger zerolog.Logger
}
