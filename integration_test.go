package integration_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

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

// testMetrics is shared by every test server: NewMetrics registers its
// collectors on the default Prometheus registry, which accepts them once.
var testMetrics = httpapi.NewMetrics()

// buildTestServer assembles the full component graph the way cmd/gateway
// does, swapping the SQL ledger for an in-memory one and every upstream
// target for a scripted fake, so the whole HTTP surface can be driven
// end-to-end without external services.
func buildTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := config.Load()
	cfg.APIKey = ""
	log := logging.New(cfg)

	led := ledger.NewMemoryLedger()
	classifier := classify.NewClassifier(cfg.HaikuThreshold, cfg.PremiumThreshold, log)
	pool := classify.NewPool(cfg.Tiers)
	cache := classify.NewDecisionCache(cfg.CacheTTL, cfg.CacheMaxEntries)
	enforcer := budget.NewEnforcer(led, cfg, true, log)
	sessions := session.NewStore(cfg.SessionTTL, nil, log)
	br := breaker.New(cfg.FailureThreshold, cfg.ResetTimeout, cfg.HalfOpenSuccesses, log)
	heartbeats := heartbeat.NewRegistry(log)

	targets := map[gatewaytypes.ModelTier]adapter.Target{}
	for tier, tc := range cfg.Tiers {
		fake := adapter.NewFakeAdapter(adapter.Succeed("test response from "+string(tier), 20, 10))
		targets[tier] = adapter.Target{Name: string(tier), Tier: tier, Adapter: fake, Timeout: tc.Timeout}
	}

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
		Targets:    targetNames(cfg),
		Metrics:    testMetrics,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func targetNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Tiers))
	for tier := range cfg.Tiers {
		names = append(names, string(tier))
	}
	return names
}

func TestHealthEndpointReportsOK(t *testing.T) {
	srv := buildTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body.Status)
}

func TestChatEndpointAdmitsAndDispatches(t *testing.T) {
	srv := buildTestServer(t)

	reqBody, err := json.Marshal(map[string]string{
		"content":    "what is the capital of France",
		"project_id": "proj-1",
	})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/chat", "application/json", bytes.NewReader(reqBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Response      string `json:"response"`
		Tier          string `json:"tier"`
		HistoryLength int    `json:"historyLength"`
		SessionKey    string `json:"sessionKey"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.Response)
	require.NotEmpty(t, body.Tier)
	require.Equal(t, 2, body.HistoryLength) // user turn + assistant turn
}

func TestChatEndpointRejectsEmptyContent(t *testing.T) {
	srv := buildTestServer(t)

	resp, err := http.Post(srv.URL+"/chat", "application/json", bytes.NewReader([]byte(`{"content":""}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouteEndpointPreviewsClassificationWithoutDispatch(t *testing.T) {
	srv := buildTestServer(t)

	reqBody, err := json.Marshal(map[string]string{"query": "refactor the entire billing subsystem architecture"})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/route", "application/json", bytes.NewReader(reqBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decision gatewaytypes.RoutingDecision
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decision))
	require.NotEmpty(t, decision.ModelName)
}

func TestQuotaStatusReportsZeroSpendForFreshProject(t *testing.T) {
	srv := buildTestServer(t)

	resp, err := http.Get(srv.URL + "/quotas/status?project_id=fresh-project")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		DailySpend float64 `json:"dailySpend"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Zero(t, body.DailySpend)
}

func TestRequestsAreServedWithinReasonableLatency(t *testing.T) {
	srv := buildTestServer(t)

	start := time.Now()
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Less(t, time.Since(start), 2*time.Second)
}
