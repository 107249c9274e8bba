// Command gateway is the dispatch core's process entry point: it wires
// configuration, logging, the cost ledger, classification, budget
// enforcement, sessions, the circuit breaker, upstream adapters, the
// heartbeat reaper, and the dispatcher into an HTTP server with graceful
// shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/gatewaydev/dispatchcore/internal/adapter"
	"github.com/gatewaydev/dispatchcore/internal/breaker"
	"github.com/gatewaydev/dispatchcore/internal/budget"
	"github.com/gatewaydev/dispatchcore/internal/classify"
	"github.com/gatewaydev/dispatchcore/internal/config"
	"github.com/gatewaydev/dispatchcore/internal/dispatch"
	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
	"github.com/gatewaydev/dispatchcore/internal/heartbeat"
	"github.com/gatewaydev/dispatchcore/internal/httpapi"
	"github.com/gatewaydev/dispatchcore/internal/ledger"
	"github.com/gatewaydev/dispatchcore/internal/logging"
	"github.com/gatewaydev/dispatchcore/internal/session"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("dispatch core starting")

	led, err := ledger.NewSQLLedger(cfg.LedgerDSN, log)
	if err != nil {
		log.Fatal().Err(err).Msg("ledger init failed")
	}
	defer led.Close()

	classifier := classify.NewClassifier(cfg.HaikuThreshold, cfg.PremiumThreshold, log)
	pool := classify.NewPool(cfg.Tiers)
	cache := classify.NewDecisionCache(cfg.CacheTTL, cfg.CacheMaxEntries)
	enforcer := budget.NewEnforcer(led, cfg, true, log)

	sessionBackend, err := sessionBackendFor(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("session backend init failed")
	}
	sessions := session.NewStore(cfg.SessionTTL, sessionBackend, log)
	sweeper := session.NewSweeper(sessions, cfg.SessionTTL)
	sweeper.Start()
	defer sweeper.Stop()

	br := breaker.New(cfg.FailureThreshold, cfg.ResetTimeout, cfg.HalfOpenSuccesses, log)

	targets, targetNames := buildTargets(cfg)

	heartbeats := heartbeat.NewRegistry(log)
	reaper := heartbeat.NewReaper(heartbeats, cfg.CheckInterval, cfg.StaleThreshold, cfg.TimeoutThreshold)
	reaper.Start()
	defer reaper.Stop()

	dispatcher := dispatch.New(classifier, pool, cache, enforcer, led, sessions, br, targets, heartbeats, cfg.MaxTurnsExported, log)

	router := httpapi.NewRouter(httpapi.Deps{
		Config:     cfg,
		Logger:     log,
		Dispatcher: dispatcher,
		Classifier: classifier,
		Pool:       pool,
		Sessions:   sessions,
		Ledger:     led,
		Breaker:    br,
		Targets:    targetNames,
		Metrics:    httpapi.NewMetrics(),
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("dispatch core listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("dispatch core stopped gracefully")
	}
}

// sessionBackendFor picks the Redis-backed session store when REDIS_URL is
// configured, falling back to the in-process backend otherwise.
func sessionBackendFor(cfg *config.Config, log zerolog.Logger) (session.Backend, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	backend, err := session.NewRedisBackend(cfg.RedisURL, cfg.SessionTTL)
	if err != nil {
		log.Warn().Err(err).Msg("redis session backend unavailable — falling back to in-process store")
		return nil, nil
	}
	log.Info().Msg("redis session backend connected")
	return backend, nil
}

// buildTargets constructs one HTTP adapter Target per configured tier,
// plus the ordered list of target names the health handler watches.
func buildTargets(cfg *config.Config) (map[gatewaytypes.ModelTier]adapter.Target, []string) {
	order := []gatewaytypes.ModelTier{
		gatewaytypes.TierPremium,
		gatewaytypes.TierStandard,
		gatewaytypes.TierEconomy,
		gatewaytypes.TierLocal,
	}

	targets := make(map[gatewaytypes.ModelTier]adapter.Target, len(order))
	names := make([]string, 0, len(order))

	for _, tier := range order {
		tc, ok := cfg.Tiers[tier]
		if !ok {
			continue
		}
		apiKey := apiKeyFor(tier)
		httpAdapter := adapter.NewHTTPAdapter(string(tier), tc.Endpoint, tc.DisplayName, apiKey, tc.Timeout)
		targets[tier] = adapter.Target{
			Name:    string(tier),
			Tier:    tier,
			Adapter: httpAdapter,
			Timeout: tc.Timeout,
		}
		names = append(names, string(tier))
	}

	return targets, names
}

// apiKeyFor resolves the upstream credential for a tier from its
// conventional environment variable.
func apiKeyFor(tier gatewaytypes.ModelTier) string {
	switch tier {
	case gatewaytypes.TierPremium, gatewaytypes.TierStandard:
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("OPENAI_API_KEY")
	case gatewaytypes.TierEconomy:
		return os.Getenv("OPENAI_API_KEY")
	default:
		return ""
	}
}
