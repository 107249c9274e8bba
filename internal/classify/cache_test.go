package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
)

func TestDecisionCacheRoundTrip(t *testing.T) {
	c := NewDecisionCache(5*time.Minute, 10)
	d := gatewaytypes.RoutingDecision{Tier: gatewaytypes.TierEconomy, ModelName: "economy"}
	c.Store("hello world", d)

	got, ok := c.Lookup("hello world")
	require.True(t, ok)
	require.Equal(t, gatewaytypes.TierEconomy, got.Tier)
	require.True(t, got.Cached)
}

func TestDecisionCacheNormalizesWhitespaceAndCase(t *testing.T) {
	c := NewDecisionCache(5*time.Minute, 10)
	c.Store("Hello   World", gatewaytypes.RoutingDecision{Tier: gatewaytypes.TierStandard})

	_, ok := c.Lookup("hello world")
	require.True(t, ok)
}

func TestDecisionCacheExpires(t *testing.T) {
	c := NewDecisionCache(1*time.Nanosecond, 10)
	c.Store("q", gatewaytypes.RoutingDecision{Tier: gatewaytypes.TierEconomy})
	time.Sleep(time.Millisecond)

	_, ok := c.Lookup("q")
	require.False(t, ok)
}

func TestDecisionCacheInvalidate(t *testing.T) {
	c := NewDecisionCache(5*time.Minute, 10)
	c.Store("q", gatewaytypes.RoutingDecision{Tier: gatewaytypes.TierEconomy})
	c.Invalidate("q")

	_, ok := c.Lookup("q")
	require.False(t, ok)
}

func TestDecisionCacheEvictsOldestAtCapacity(t *testing.T) {
	c := NewDecisionCache(5*time.Minute, 2)
	c.Store("a", gatewaytypes.RoutingDecision{Tier: gatewaytypes.TierEconomy})
	c.Store("b", gatewaytypes.RoutingDecision{Tier: gatewaytypes.TierEconomy})
	c.Store("c", gatewaytypes.RoutingDecision{Tier: gatewaytypes.TierEconomy})

	_, ok := c.Lookup("a")
	require.False(t, ok, "oldest entry should have been evicted")
	require.Equal(t, 2, c.Len())
}
