package classify

import (
	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
)

// Pool resolves a Classification to a tier and exposes the tier
// configuration the rest of the dispatch core needs (pricing, endpoint,
// timeout, context window).
type Pool struct {
	tiers map[gatewaytypes.ModelTier]gatewaytypes.TierConfig
}

// NewPool builds a Pool from the configured tier table.
func NewPool(tiers map[gatewaytypes.ModelTier]gatewaytypes.TierConfig) *Pool {
	return &Pool{tiers: tiers}
}

// Tier returns the configuration for a given tier, if known.
func (p *Pool) Tier(tier gatewaytypes.ModelTier) (gatewaytypes.TierConfig, bool) {
	t, ok := p.tiers[tier]
	return t, ok
}

// Select applies the tier selection policy to a Classification. An
// explicit model override in the Query bypasses this policy entirely —
// the caller is responsible for still running budget and circuit checks
// against the requested tier.
func (p *Pool) Select(c gatewaytypes.Classification) gatewaytypes.RoutingDecision {
	var tier gatewaytypes.ModelTier
	var reason string

	switch {
	case c.Complexity == gatewaytypes.ComplexityLow &&
		(c.Intent == gatewaytypes.IntentGeneral || c.Intent == gatewaytypes.IntentDatabase):
		tier = gatewaytypes.TierEconomy
		reason = "low complexity, general/database intent"
	case c.Complexity == gatewaytypes.ComplexityMedium:
		tier = gatewaytypes.TierStandard
		reason = "medium complexity"
	case c.Complexity == gatewaytypes.ComplexityHigh || c.Intent == gatewaytypes.IntentPlanning:
		tier = gatewaytypes.TierPremium
		reason = "high complexity or planning intent"
	default:
		tier = gatewaytypes.TierStandard
		reason = "default policy fallback"
	}

	cfg, ok := p.tiers[tier]
	modelName := string(tier)
	if ok {
		modelName = cfg.DisplayName
	}

	return gatewaytypes.RoutingDecision{
		Tier:           tier,
		ModelName:      modelName,
		Reason:         reason,
		Classification: c,
	}
}

// FallbackChain builds the ordered list of targets a Dispatcher should try:
// the selected tier, then progressively cheaper available tiers, then the
// local tier if configured.
func (p *Pool) FallbackChain(primary gatewaytypes.ModelTier) []gatewaytypes.ModelTier {
	order := []gatewaytypes.ModelTier{
		gatewaytypes.TierPremium,
		gatewaytypes.TierStandard,
		gatewaytypes.TierEconomy,
	}

	var chain []gatewaytypes.ModelTier
	chain = append(chain, primary)

	// Walk from primary's position toward cheaper tiers.
	startIdx := -1
	for i, t := range order {
		if t == primary {
			startIdx = i
			break
		}
	}
	if startIdx >= 0 {
		for i := startIdx + 1; i < len(order); i++ {
			chain = append(chain, order[i])
		}
	}

	if _, ok := p.tiers[gatewaytypes.TierLocal]; ok && primary != gatewaytypes.TierLocal {
		chain = append(chain, gatewaytypes.TierLocal)
	}

	// De-duplicate while preserving order (primary may already equal a
	// later entry when callers pass a tier outside the standard ladder).
	seen := make(map[gatewaytypes.ModelTier]bool, len(chain))
	var dedup []gatewaytypes.ModelTier
	for _, t := range chain {
		if seen[t] {
			continue
		}
		if _, ok := p.tiers[t]; !ok {
			continue
		}
		seen[t] = true
		dedup = append(dedup, t)
	}
	return dedup
}
