// Package classify implements the Classifier + Model Pool component:
// keyword-vocabulary classification of queries, tier selection, and a
// decision cache keyed by a normalized-query fingerprint.
package classify

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
)

// Rule is a single keyword vocabulary scored against a query.
type Rule struct {
	Intent   gatewaytypes.Intent
	Keywords []string
}

// highComplexityVocabulary triggers the high-complexity bucket regardless
// of intent when matched.
var highComplexityVocabulary = []string{
	"migrate", "refactor", "architecture", "redesign", "end-to-end",
	"rearchitect", "overhaul", "rewrite",
}

// defaultRules define the four intent vocabularies, ordered by the
// tie-break priority security > database > development > planning > general.
var defaultRules = []Rule{
	{gatewaytypes.IntentSecurity, []string{"vulnerability", "exploit", "cve", "auth", "credential", "encrypt", "injection", "xss", "secret", "breach"}},
	{gatewaytypes.IntentDatabase, []string{"query", "schema", "index", "migration", "sql", "table", "database", "postgres", "mysql", "transaction"}},
	{gatewaytypes.IntentDevelopment, []string{"code", "function", "implement", "debug", "compile", "syntax", "class", "method", "variable", "api", "endpoint"}},
	{gatewaytypes.IntentPlanning, []string{"plan", "roadmap", "strategy", "milestone", "timeline", "prioritize", "scope", "estimate"}},
}

const wordCountDivisor = 20.0

// Default complexity-score thresholds, used when NewClassifier is given
// non-positive values.
const (
	defaultLowThreshold  = 0.30
	defaultHighThreshold = 0.70
)

// Classifier scores a query against fixed keyword vocabularies and
// deterministically buckets it into a Classification.
type Classifier struct {
	rules         []Rule
	highVocab     []string
	lowThreshold  float64
	highThreshold float64
	logger        zerolog.Logger
}

// NewClassifier builds a Classifier with the default vocabularies. lowThreshold
// and highThreshold are the score cutoffs separating low/medium/high
// complexity (router.haiku_threshold / router.premium_threshold); passing
// 0 for either falls back to the documented default.
func NewClassifier(lowThreshold, highThreshold float64, logger zerolog.Logger) *Classifier {
	if lowThreshold <= 0 {
		lowThreshold = defaultLowThreshold
	}
	if highThreshold <= 0 {
		highThreshold = defaultHighThreshold
	}
	return &Classifier{
		rules:         defaultRules,
		highVocab:     highComplexityVocabulary,
		lowThreshold:  lowThreshold,
		highThreshold: highThreshold,
		logger:        logger.With().Str("component", "classifier").Logger(),
	}
}

// Classify is pure and total: the empty query maps to {low, general}.
func (c *Classifier) Classify(content string) gatewaytypes.Classification {
	lower := strings.ToLower(content)
	wordCount := len(strings.Fields(lower))

	intentCounts := make(map[gatewaytypes.Intent]int, len(c.rules))
	var matched []string
	totalMatches := 0

	for _, rule := range c.rules {
		count := 0
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) {
				count++
				matched = append(matched, kw)
			}
		}
		intentCounts[rule.Intent] = count
		totalMatches += count
	}

	highMatches := 0
	for _, kw := range c.highVocab {
		if strings.Contains(lower, kw) {
			highMatches++
			matched = append(matched, kw)
			totalMatches++
		}
	}

	intent := pickIntent(intentCounts)

	score := float64(highMatches)*1.0 + float64(wordCount)/wordCountDivisor
	if score > 1.0 {
		score = 1.0
	}
	if score < 0 {
		score = 0
	}

	complexity := gatewaytypes.ComplexityMedium
	switch {
	case score < c.lowThreshold:
		complexity = gatewaytypes.ComplexityLow
	case score >= c.highThreshold:
		complexity = gatewaytypes.ComplexityHigh
	}

	maxCount := 0
	for _, n := range intentCounts {
		if n > maxCount {
			maxCount = n
		}
	}
	if highMatches > maxCount {
		maxCount = highMatches
	}
	confidence := float64(maxCount) / float64(totalMatches+1)
	if confidence > 1.0 {
		confidence = 1.0
	}

	return gatewaytypes.Classification{
		Complexity:      complexity,
		Intent:          intent,
		MatchedKeywords: matched,
		Confidence:      confidence,
	}
}

// pickIntent returns the vocabulary with the highest non-zero count,
// breaking ties by priority order security > database > development >
// planning > general.
func pickIntent(counts map[gatewaytypes.Intent]int) gatewaytypes.Intent {
	priority := []gatewaytypes.Intent{
		gatewaytypes.IntentSecurity,
		gatewaytypes.IntentDatabase,
		gatewaytypes.IntentDevelopment,
		gatewaytypes.IntentPlanning,
	}
	best := gatewaytypes.IntentGeneral
	bestCount := 0
	for _, intent := range priority {
		if n := counts[intent]; n > bestCount {
			bestCount = n
			best = intent
		}
	}
	return best
}
