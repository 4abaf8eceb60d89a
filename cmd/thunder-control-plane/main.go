// Command thunder-control-plane runs the StormStack Thunder control
// plane: node registry, match registry, module catalog, scheduler,
// match coordinator, autoscaler and proxy router behind one HTTP
// listener.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/oauth2"

	"github.com/stormstack/thunder/pkg/autoscaler"
	"github.com/stormstack/thunder/pkg/config"
	"github.com/stormstack/thunder/pkg/coordinator"
	"github.com/stormstack/thunder/pkg/enginenode"
	"github.com/stormstack/thunder/pkg/events"
	"github.com/stormstack/thunder/pkg/httpapi"
	"github.com/stormstack/thunder/pkg/identityservice"
	"github.com/stormstack/thunder/pkg/log"
	"github.com/stormstack/thunder/pkg/matchregistry"
	"github.com/stormstack/thunder/pkg/moduleblob"
	"github.com/stormstack/thunder/pkg/modulecatalog"
	"github.com/stormstack/thunder/pkg/noderegistry"
	"github.com/stormstack/thunder/pkg/proxyrouter"
	"github.com/stormstack/thunder/pkg/scheduler"
	"github.com/stormstack/thunder/pkg/security"
	"github.com/stormstack/thunder/pkg/statestore"
	"github.com/stormstack/thunder/pkg/token"
)

const signingKeyStateKey = "control-plane:match-token-signing-key"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogFormat == "json",
	})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newStateStore(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("initializing statestore")
	}
	defer store.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	nodes, err := noderegistry.New(ctx, noderegistry.Config{
		HeartbeatTimeout: cfg.NodeHeartbeatTimeout,
		HeartbeatGrace:   cfg.NodeHeartbeatGrace,
		SweepInterval:    cfg.NodeSweepInterval,
	}, store, broker)
	if err != nil {
		logger.Fatal().Err(err).Msg("initializing node registry")
	}
	nodes.Start()
	defer nodes.Stop()

	matches, err := matchregistry.New(ctx, matchregistry.Config{
		Retention:     cfg.MatchRetention,
		SweepInterval: cfg.MatchSweepInterval,
	}, store, broker)
	if err != nil {
		logger.Fatal().Err(err).Msg("initializing match registry")
	}
	matches.Start()
	defer matches.Stop()

	blobs, err := moduleblob.NewLocalStore(cfg.ModuleStorageDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("initializing module blob store")
	}

	engineClient := enginenode.NewClient(cfg.EngineNodeTimeout)

	modules, err := modulecatalog.New(ctx, modulecatalog.Config{
		MaxConcurrentDistributions: cfg.MaxConcurrentDistributions,
		RetryBase:                  cfg.DistributionRetryBase,
		RetryMax:                   cfg.DistributionRetryMax,
		MaxAttempts:                cfg.DistributionMaxAttempts,
	}, store, blobs, engineClient, broker)
	if err != nil {
		logger.Fatal().Err(err).Msg("initializing module catalog")
	}

	sched := scheduler.New()

	signingKey := cfg.MatchTokenSigningKey
	if signingKey == "" {
		signingKey, err = recoverOrMintSigningKey(ctx, store, cfg.ClusterID)
		if err != nil {
			logger.Fatal().Err(err).Msg("recovering match token signing key")
		}
	}
	tokens, err := token.New(signingKey, cfg.MatchTokenTTL, cfg.MatchTokenRotationGrace)
	if err != nil {
		logger.Fatal().Err(err).Msg("initializing token issuer")
	}

	mc := coordinator.New(coordinator.Config{SchedulerRetries: cfg.SchedulerRetries}, nodes, matches, sched, engineClient, tokens)

	var scaler *autoscaler.Autoscaler
	if cfg.AutoscaleEnabled {
		scaler = autoscaler.New(autoscaler.Config{
			PollInterval:       cfg.AutoscalePollInterval,
			ScaleUpThreshold:   cfg.AutoscaleScaleUpThreshold,
			ScaleDownThreshold: cfg.AutoscaleScaleDownThreshold,
			Cooldown:           cfg.AutoscaleCooldown,
			MinNodes:           cfg.AutoscaleMinNodes,
			MaxNodes:           cfg.AutoscaleMaxNodes,
		}, nodes, broker)
		scaler.Start()
		defer scaler.Stop()
	}

	proxy := proxyrouter.New(proxyrouter.Config{
		Enabled: cfg.ProxyEnabled,
		Timeout: cfg.ProxyTimeout,
	}, matches)

	var verifier *identityservice.Verifier
	if cfg.OIDCIssuerURL != "" {
		var oauth2Cfg *oauth2.Config
		if cfg.OAuth2TokenURL != "" {
			oauth2Cfg = &oauth2.Config{
				ClientID: cfg.OIDCClientID,
				Endpoint: oauth2.Endpoint{TokenURL: cfg.OAuth2TokenURL},
			}
		}
		verifier, err = identityservice.New(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID, oauth2Cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("initializing identity service verifier")
		}
	} else {
		logger.Warn().Msg("OIDC_ISSUER_URL is unset, the API will reject every bearer-scoped request")
	}

	var joinTokens *httpapi.JoinTokenManager
	if cfg.JoinTokenRequired {
		joinTokens = httpapi.NewJoinTokenManager(true)
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Nodes:       nodes,
		Matches:     matches,
		Modules:     modules,
		Coordinator: mc,
		Tokens:      tokens,
		Autoscaler:  scaler,
		Proxy:       proxy,
		Verifier:    verifier,
		CORSOrigins: cfg.CORSAllowedOrigins,
		JoinTokens:  joinTokens,
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: router,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("control plane listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during http server shutdown")
	}
}

// recoverOrMintSigningKey recovers the match-token signing key this
// cluster was using, or mints one and persists it encrypted under a
// key derived from clusterID. Losing the StateStore loses the key too
// (and with it every outstanding match token), same as losing
// THUNDER_MATCH_TOKEN_SIGNING_KEY would.
func recoverOrMintSigningKey(ctx context.Context, store statestore.StateStore, clusterID string) (string, error) {
	sm, err := security.NewSecretsManager(security.DeriveKeyFromClusterID(clusterID))
	if err != nil {
		return "", err
	}

	if sealed, err := store.Get(ctx, signingKeyStateKey); err == nil {
		plain, err := sm.Decrypt(sealed)
		if err != nil {
			return "", err
		}
		return string(plain), nil
	} else if !errors.Is(err, statestore.ErrNotFound) {
		return "", err
	}

	key, err := randomHex(32)
	if err != nil {
		return "", err
	}
	sealed, err := sm.Encrypt([]byte(key))
	if err != nil {
		return "", err
	}
	if err := store.Set(ctx, signingKeyStateKey, sealed, 0); err != nil {
		return "", err
	}
	return key, nil
}

func newStateStore(ctx context.Context, redisURL string) (statestore.StateStore, error) {
	if redisURL == "" {
		return statestore.NewMemoryStore(), nil
	}
	return statestore.NewRedisStore(ctx, redisURL)
}

func randomHex(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
