package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gatewaydev/dispatchcore/internal/adapter"
	"github.com/gatewaydev/dispatchcore/internal/breaker"
	"github.com/gatewaydev/dispatchcore/internal/budget"
	"github.com/gatewaydev/dispatchcore/internal/classify"
	"github.com/gatewaydev/dispatchcore/internal/config"
	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
	"github.com/gatewaydev/dispatchcore/internal/heartbeat"
	"github.com/gatewaydev/dispatchcore/internal/ledger"
	"github.com/gatewaydev/dispatchcore/internal/session"
)

func testTiers() map[gatewaytypes.ModelTier]gatewaytypes.TierConfig {
	return map[gatewaytypes.ModelTier]gatewaytypes.TierConfig{
		gatewaytypes.TierEconomy: {
			Tier: gatewaytypes.TierEconomy, DisplayName: "economy",
			InputPricePerMtk: 0.15, OutputPricePerMtk: 0.60,
			Timeout: time.Second, MaxOutputTokens: 256,
		},
		gatewaytypes.TierStandard: {
			Tier: gatewaytypes.TierStandard, DisplayName: "standard",
			InputPricePerMtk: 3.00, OutputPricePerMtk: 15.00,
			Timeout: time.Second, MaxOutputTokens: 512,
		},
		gatewaytypes.TierPremium: {
			Tier: gatewaytypes.TierPremium, DisplayName: "premium",
			InputPricePerMtk: 15.00, OutputPricePerMtk: 75.00,
			Timeout: time.Second, MaxOutputTokens: 1024,
		},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		PerTaskUSD: 1.00, DailyUSD: 5.00, MonthlyUSD: 100.00,
		MaxQueue: 10, WarningFraction: 0.8,
		ProjectOverrides: map[string]config.ProjectLimits{},
	}
}

type harness struct {
	dispatcher *Dispatcher
	led        *ledger.MemoryLedger
	br         *breaker.Breaker
	targets    map[gatewaytypes.ModelTier]adapter.Target
}

func newHarness(t *testing.T, targets map[gatewaytypes.ModelTier]adapter.Target) *harness {
	return newHarnessStrict(t, targets, false)
}

func newHarnessStrict(t *testing.T, targets map[gatewaytypes.ModelTier]adapter.Target, strict bool) *harness {
	t.Helper()
	logger := zerolog.Nop()
	led := ledger.NewMemoryLedger()
	br := breaker.New(2, 50*time.Millisecond, 1, logger)
	d := New(
		classify.NewClassifier(0.30, 0.70, logger),
		classify.NewPool(testTiers()),
		classify.NewDecisionCache(time.Minute, 100),
		budget.NewEnforcer(led, testConfig(), strict, logger),
		led,
		session.NewStore(time.Hour, nil, logger),
		br,
		targets,
		heartbeat.NewRegistry(logger),
		20,
		logger,
	)
	return &harness{dispatcher: d, led: led, br: br, targets: targets}
}

func standardTarget(a adapter.Adapter) map[gatewaytypes.ModelTier]adapter.Target {
	return map[gatewaytypes.ModelTier]adapter.Target{
		gatewaytypes.TierEconomy:  {Name: "economy", Tier: gatewaytypes.TierEconomy, Adapter: a, Timeout: time.Second},
		gatewaytypes.TierStandard: {Name: "standard", Tier: gatewaytypes.TierStandard, Adapter: a, Timeout: time.Second},
		gatewaytypes.TierPremium:  {Name: "premium", Tier: gatewaytypes.TierPremium, Adapter: a, Timeout: time.Second},
	}
}

func TestDispatchSimpleAdmitSucceeds(t *testing.T) {
	fake := adapter.NewFakeAdapter(adapter.Succeed("hello back", 100, 50))
	h := newHarness(t, standardTarget(fake))

	resp, err := h.dispatcher.Dispatch(context.Background(), gatewaytypes.Query{Content: "what is the capital of France?"})
	require.NoError(t, err)
	require.Equal(t, "hello back", resp.Text)
	require.Greater(t, resp.CostUSD, 0.0)
	require.Equal(t, 1, h.led.Len())
}

func TestDispatchFallsBackToCheaperTierWhenPremiumBudgetExceeded(t *testing.T) {
	// Premium ($0.08) and standard ($0.01) estimates push the day over its
	// $5.00 limit; economy's estimate rounds to $0.00 and still fits, so the
	// re-checked-per-target budget gate lets the request land on the
	// cheapest surviving tier rather than rejecting outright.
	fake := adapter.NewFakeAdapter(adapter.Succeed("ok", 10, 10))
	h := newHarness(t, standardTarget(fake))

	require.NoError(t, h.led.Record(context.Background(), gatewaytypes.SpendRecord{
		Timestamp: time.Now().UTC(), Tier: gatewaytypes.TierStandard, CostUSD: 5.00,
	}))

	resp, err := h.dispatcher.Dispatch(context.Background(), gatewaytypes.Query{
		Content: "migrate and refactor the entire architecture end-to-end",
	})
	require.NoError(t, err)
	require.Equal(t, gatewaytypes.TierEconomy, resp.Tier)
}

func TestDispatchRejectsWhenEveryTierExceedsBudget(t *testing.T) {
	fake := adapter.NewFakeAdapter(adapter.Succeed("ok", 10, 10))
	h := newHarness(t, standardTarget(fake))

	require.NoError(t, h.led.Record(context.Background(), gatewaytypes.SpendRecord{
		Timestamp: time.Now().UTC(), Tier: gatewaytypes.TierStandard, CostUSD: 5.01,
	}))

	_, err := h.dispatcher.Dispatch(context.Background(), gatewaytypes.Query{
		Content: "migrate and refactor the entire architecture end-to-end",
	})
	require.Error(t, err)
}

func TestDispatchFallsBackWhenPrimaryBreakerOpen(t *testing.T) {
	fake := adapter.NewFakeAdapter(adapter.Succeed("from fallback", 20, 20))
	targets := standardTarget(fake)
	h := newHarness(t, targets)

	h.br.OnFailure(string(gatewaytypes.TierPremium))
	h.br.OnFailure(string(gatewaytypes.TierPremium))
	require.False(t, h.br.Available(string(gatewaytypes.TierPremium)))

	resp, err := h.dispatcher.Dispatch(context.Background(), gatewaytypes.Query{
		Content: "migrate and refactor the entire architecture end-to-end",
	})
	require.NoError(t, err)
	require.NotEqual(t, gatewaytypes.TierPremium, resp.Tier)
}

func TestDispatchRetriesTransientThenSucceeds(t *testing.T) {
	fake := adapter.NewFakeAdapter(adapter.FailTransient("flaky"), adapter.Succeed("recovered", 5, 5))
	h := newHarness(t, standardTarget(fake))

	resp, err := h.dispatcher.Dispatch(context.Background(), gatewaytypes.Query{Content: "hello there"})
	require.NoError(t, err)
	require.Equal(t, "recovered", resp.Text)
	require.GreaterOrEqual(t, fake.Calls(), 2)
}

func TestDispatchGivesUpAfterAllTargetsFail(t *testing.T) {
	fake := adapter.NewFakeAdapter(adapter.FailPermanent("nope"))
	h := newHarness(t, standardTarget(fake))

	_, err := h.dispatcher.Dispatch(context.Background(), gatewaytypes.Query{Content: "hello"})
	require.Error(t, err)
}

func TestDispatchAppendsBothTurnsToSession(t *testing.T) {
	fake := adapter.NewFakeAdapter(adapter.Succeed("answer", 10, 10))
	h := newHarness(t, standardTarget(fake))

	key := gatewaytypes.SessionKey("sess-1")
	_, err := h.dispatcher.Dispatch(context.Background(), gatewaytypes.Query{Content: "question", SessionKey: key})
	require.NoError(t, err)

	recent := h.dispatcher.sessions.Recent(context.Background(), key, 10)
	require.Len(t, recent, 2)
	require.Equal(t, gatewaytypes.RoleUser, recent[0].Role)
	require.Equal(t, gatewaytypes.RoleAssistant, recent[1].Role)
}

func TestDispatchExportsOnlyBoundedRecentHistory(t *testing.T) {
	fake := adapter.NewFakeAdapter(adapter.Succeed("answer", 10, 10))
	h := newHarness(t, standardTarget(fake))

	key := gatewaytypes.SessionKey("sess-bounded")
	store := h.dispatcher.sessions
	now := time.Now().UTC()
	for i := 0; i < 50; i++ {
		store.Append(context.Background(), key, gatewaytypes.RoleUser, "turn", now)
	}

	_, err := h.dispatcher.Dispatch(context.Background(), gatewaytypes.Query{Content: "one more", SessionKey: key})
	require.NoError(t, err)

	// 20 turns of history (maxTurns) plus the new user message just sent.
	require.Len(t, fake.LastMessages, 21)
}

func TestReleasedHalfOpenProbeCanBeClaimedAgain(t *testing.T) {
	fake := adapter.NewFakeAdapter(adapter.Succeed("ok", 10, 10))
	h := newHarness(t, standardTarget(fake))

	premium := string(gatewaytypes.TierPremium)
	h.br.OnFailure(premium)
	h.br.OnFailure(premium)
	require.False(t, h.br.Available(premium), "breaker should be open immediately after threshold failures")

	// Wait for reset-timeout to elapse, then claim the half-open probe and
	// release it without a result, which is what attemptTier does when the
	// budget gate rejects a target after Available has claimed its probe.
	time.Sleep(60 * time.Millisecond)
	require.True(t, h.br.Available(premium), "breaker should offer a half-open probe after reset timeout")
	h.br.ReleaseProbe(premium)

	// With the probe released, a fresh caller must be able to claim it
	// again rather than finding the target permanently wedged half-open.
	require.True(t, h.br.Available(premium))
}

func TestDispatchUnderStrictBudgetEnforcementStillSucceeds(t *testing.T) {
	// Strict mode wraps the budget read and the ledger record in a
	// per-project critical section; a single dispatch must still complete
	// normally under that lock.
	fake := adapter.NewFakeAdapter(adapter.Succeed("ok", 10, 10))
	h := newHarnessStrict(t, standardTarget(fake), true)

	resp, err := h.dispatcher.Dispatch(context.Background(), gatewaytypes.Query{Content: "hello under strict mode"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Text)
	require.Equal(t, 1, h.led.Len())
}

func TestDispatchHonorsExplicitModelOverride(t *testing.T) {
	fake := adapter.NewFakeAdapter(adapter.Succeed("overridden", 5, 5))
	h := newHarness(t, standardTarget(fake))

	resp, err := h.dispatcher.Dispatch(context.Background(), gatewaytypes.Query{
		Content: "anything at all", RequestedModel: string(gatewaytypes.TierEconomy),
	})
	require.NoError(t, err)
	require.Equal(t, gatewaytypes.TierEconomy, resp.Tier)
}
