// Package config loads gateway configuration from environment variables
// and an optional .env file.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
)

// Config holds every configuration option the dispatch core recognizes.
type Config struct {
	// Server
	Addr            string
	Env             string
	GracefulTimeout time.Duration
	RequestTimeout  time.Duration

	// Storage
	LedgerDSN string
	RedisURL  string

	// Auth
	APIKeyHeader string
	APIKey       string

	// Body limits
	MaxBodyBytes int64

	// Logging
	LogLevel string

	// Budget gates (limits.*)
	PerTaskUSD       float64
	DailyUSD         float64
	MonthlyUSD       float64
	MaxQueue         int
	WarningFraction  float64
	ProjectOverrides map[string]ProjectLimits

	// Model pool (tiers.*)
	Tiers map[gatewaytypes.ModelTier]gatewaytypes.TierConfig

	// Classifier (router.*)
	HaikuThreshold   float64
	PremiumThreshold float64
	CacheTTL         time.Duration
	CacheMaxEntries  int

	// Circuit breaker (breaker.*)
	FailureThreshold  int
	ResetTimeout      time.Duration
	HalfOpenSuccesses int

	// Heartbeat reaper (heartbeat.*)
	CheckInterval    time.Duration
	StaleThreshold   time.Duration
	TimeoutThreshold time.Duration

	// Session store (session.*)
	MaxTurnsExported int
	SessionTTL       time.Duration
}

// ProjectLimits overrides the global budget gates for one project-id.
type ProjectLimits struct {
	PerTaskUSD float64
	DailyUSD   float64
	MonthlyUSD float64
	MaxQueue   int
}

// Load reads configuration from environment variables and an optional
// .env file, falling back to documented defaults.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("GATEWAY_GRACEFUL_TIMEOUT_SEC", 15)

	cfg := &Config{
		Addr:            getEnv("GATEWAY_ADDR", ":8080"),
		Env:             getEnv("ENV", "development"),
		GracefulTimeout: time.Duration(gracefulSec) * time.Second,
		RequestTimeout:  time.Duration(getEnvInt("GATEWAY_REQUEST_TIMEOUT_SEC", 60)) * time.Second,
		LedgerDSN:       getEnv("LEDGER_DSN", "gateway_ledger.db"),
		RedisURL:        getEnv("REDIS_URL", "redis://redis:6379"),
		APIKeyHeader:    getEnv("API_KEY_HEADER", "Authorization"),
		APIKey:          getEnv("GATEWAY_API_KEY", ""),
		MaxBodyBytes:    int64(getEnvInt("GATEWAY_MAX_BODY_BYTES", 1*1024*1024)),
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		PerTaskUSD:      getEnvFloat("LIMITS_PER_TASK_USD", 1.00),
		DailyUSD:        getEnvFloat("LIMITS_DAILY_USD", 25.00),
		MonthlyUSD:      getEnvFloat("LIMITS_MONTHLY_USD", 500.00),
		MaxQueue:        getEnvInt("LIMITS_MAX_QUEUE", 100),
		WarningFraction: getEnvFloat("LIMITS_WARNING_FRACTION", 0.8),

		HaikuThreshold:   getEnvFloat("ROUTER_HAIKU_THRESHOLD", 0.30),
		PremiumThreshold: getEnvFloat("ROUTER_PREMIUM_THRESHOLD", 0.70),
		CacheTTL:         time.Duration(getEnvInt("ROUTER_CACHE_TTL_S", 300)) * time.Second,
		CacheMaxEntries:  getEnvInt("ROUTER_CACHE_MAX_ENTRIES", 10000),

		FailureThreshold:  getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		ResetTimeout:      time.Duration(getEnvInt("BREAKER_RESET_TIMEOUT_S", 60)) * time.Second,
		HalfOpenSuccesses: getEnvInt("BREAKER_HALFOPEN_SUCCESSES", 1),

		CheckInterval:    time.Duration(getEnvInt("HEARTBEAT_CHECK_INTERVAL_S", 30)) * time.Second,
		StaleThreshold:   time.Duration(getEnvInt("HEARTBEAT_STALE_THRESHOLD_S", 300)) * time.Second,
		TimeoutThreshold: time.Duration(getEnvInt("HEARTBEAT_TIMEOUT_THRESHOLD_S", 1800)) * time.Second,

		MaxTurnsExported: getEnvInt("SESSION_MAX_TURNS_EXPORTED", 20),
		SessionTTL:       time.Duration(getEnvInt("SESSION_TTL_S", 24*3600)) * time.Second,

		ProjectOverrides: map[string]ProjectLimits{},
	}

	cfg.Tiers = defaultTiers()
	return cfg
}

func defaultTiers() map[gatewaytypes.ModelTier]gatewaytypes.TierConfig {
	return map[gatewaytypes.ModelTier]gatewaytypes.TierConfig{
		gatewaytypes.TierEconomy: {
			Tier: gatewaytypes.TierEconomy, DisplayName: "economy",
			Endpoint: getEnv("TIERS_ECONOMY_ENDPOINT", "https://api.openai.com/v1/chat/completions"),
			InputPricePerMtk: getEnvFloat("TIERS_ECONOMY_INPUT_PRICE", 0.15),
			OutputPricePerMtk: getEnvFloat("TIERS_ECONOMY_OUTPUT_PRICE", 0.60),
			Timeout: time.Duration(getEnvInt("TIERS_ECONOMY_TIMEOUT_S", 30)) * time.Second,
			ContextWindow: getEnvInt("TIERS_ECONOMY_CONTEXT_WINDOW", 128000),
			MaxOutputTokens: getEnvInt("TIERS_ECONOMY_MAX_OUTPUT_TOKENS", 1024),
		},
		gatewaytypes.TierStandard: {
			Tier: gatewaytypes.TierStandard, DisplayName: "standard",
			Endpoint: getEnv("TIERS_STANDARD_ENDPOINT", "https://api.anthropic.com/v1/messages"),
			InputPricePerMtk: getEnvFloat("TIERS_STANDARD_INPUT_PRICE", 3.00),
			OutputPricePerMtk: getEnvFloat("TIERS_STANDARD_OUTPUT_PRICE", 15.00),
			Timeout: time.Duration(getEnvInt("TIERS_STANDARD_TIMEOUT_S", 60)) * time.Second,
			ContextWindow: getEnvInt("TIERS_STANDARD_CONTEXT_WINDOW", 200000),
			MaxOutputTokens: getEnvInt("TIERS_STANDARD_MAX_OUTPUT_TOKENS", 4096),
		},
		gatewaytypes.TierPremium: {
			Tier: gatewaytypes.TierPremium, DisplayName: "premium",
			Endpoint: getEnv("TIERS_PREMIUM_ENDPOINT", "https://api.anthropic.com/v1/messages"),
			InputPricePerMtk: getEnvFloat("TIERS_PREMIUM_INPUT_PRICE", 15.00),
			OutputPricePerMtk: getEnvFloat("TIERS_PREMIUM_OUTPUT_PRICE", 75.00),
			Timeout: time.Duration(getEnvInt("TIERS_PREMIUM_TIMEOUT_S", 120)) * time.Second,
			ContextWindow: getEnvInt("TIERS_PREMIUM_CONTEXT_WINDOW", 200000),
			MaxOutputTokens: getEnvInt("TIERS_PREMIUM_MAX_OUTPUT_TOKENS", 8192),
		},
		gatewaytypes.TierLocal: {
			Tier: gatewaytypes.TierLocal, DisplayName: "local",
			Endpoint: getEnv("TIERS_LOCAL_ENDPOINT", "http://localhost:11434/api/chat"),
			InputPricePerMtk: 0,
			OutputPricePerMtk: 0,
			Timeout: time.Duration(getEnvInt("TIERS_LOCAL_TIMEOUT_S", 60)) * time.Second,
			ContextWindow: getEnvInt("TIERS_LOCAL_CONTEXT_WINDOW", 32000),
			MaxOutputTokens: getEnvInt("TIERS_LOCAL_MAX_OUTPUT_TOKENS", 2048),
		},
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool { return c.Env == "development" }

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool { return c.Env == "production" }

// LimitsForProject resolves the effective budget gates for a project-id,
// applying the global default and any per-project override.
func (c *Config) LimitsForProject(projectID string) ProjectLimits {
	base := ProjectLimits{
		PerTaskUSD: c.PerTaskUSD,
		DailyUSD:   c.DailyUSD,
		MonthlyUSD: c.MonthlyUSD,
		MaxQueue:   c.MaxQueue,
	}
	if projectID == "" {
		return base
	}
	if o, ok := c.ProjectOverrides[projectID]; ok {
		if o.PerTaskUSD > 0 {
			base.PerTaskUSD = o.PerTaskUSD
		}
		if o.DailyUSD > 0 {
			base.DailyUSD = o.DailyUSD
		}
		if o.MonthlyUSD > 0 {
			base.MonthlyUSD = o.MonthlyUSD
		}
		if o.MaxQueue > 0 {
			base.MaxQueue = o.MaxQueue
		}
	}
	return base
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
