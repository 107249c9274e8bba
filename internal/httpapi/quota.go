package httpapi

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/gatewaydev/dispatchcore/internal/config"
	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
	"github.com/gatewaydev/dispatchcore/internal/ledger"
)

type quotaStatus struct {
	ProjectID    string  `json:"project_id"`
	DailySpend   float64 `json:"dailySpend"`
	DailyLimit   float64 `json:"dailyLimit"`
	DailyPercent float64 `json:"dailyPercent"`

	MonthlySpend   float64 `json:"monthlySpend"`
	MonthlyLimit   float64 `json:"monthlyLimit"`
	MonthlyPercent float64 `json:"monthlyPercent"`

	DailyRemaining   float64 `json:"dailyRemaining"`
	MonthlyRemaining float64 `json:"monthlyRemaining"`
}

// QuotaHandler serves GET /quotas/status, reporting current spend against
// the configured budget gates for a project.
type QuotaHandler struct {
	led    ledger.Reader
	cfg    *config.Config
	logger zerolog.Logger
}

// NewQuotaHandler builds a QuotaHandler.
func NewQuotaHandler(led ledger.Reader, cfg *config.Config, logger zerolog.Logger) *QuotaHandler {
	return &QuotaHandler{led: led, cfg: cfg, logger: logger.With().Str("component", "quota-handler").Logger()}
}

func (h *QuotaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	limits := h.cfg.LimitsForProject(projectID)

	daily, err := h.led.SpendInCurrentDay(r.Context(), projectID)
	if err != nil {
		h.logger.Error().Err(err).Msg("ledger read failed")
		writeError(w, http.StatusInternalServerError, gatewaytypes.CodeInternal, "ledger unavailable")
		return
	}
	monthly, err := h.led.SpendInCurrentMonth(r.Context(), projectID)
	if err != nil {
		h.logger.Error().Err(err).Msg("ledger read failed")
		writeError(w, http.StatusInternalServerError, gatewaytypes.CodeInternal, "ledger unavailable")
		return
	}

	writeJSON(w, http.StatusOK, quotaStatus{
		ProjectID:        projectID,
		DailySpend:       daily,
		DailyLimit:       limits.DailyUSD,
		DailyPercent:     percent(daily, limits.DailyUSD),
		MonthlySpend:     monthly,
		MonthlyLimit:     limits.MonthlyUSD,
		MonthlyPercent:   percent(monthly, limits.MonthlyUSD),
		DailyRemaining:   limits.DailyUSD - daily,
		MonthlyRemaining: limits.MonthlyUSD - monthly,
	})
}

func percent(spend, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return spend / limit * 100
}
