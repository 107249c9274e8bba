package httpapi

import (
	"net/http"

	"github.com/gatewaydev/dispatchcore/internal/breaker"
	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
)

type healthResponse struct {
	Status     string                                        `json:"status"`
	Subsystems map[string]gatewaytypes.CircuitStateName `json:"subsystems"`
}

// HealthHandler serves GET /health, reporting overall gateway status
// derived from every tracked target's breaker state.
type HealthHandler struct {
	br      *breaker.Breaker
	targets []string
}

// NewHealthHandler builds a HealthHandler watching the given target names.
func NewHealthHandler(br *breaker.Breaker, targets []string) *HealthHandler {
	return &HealthHandler{br: br, targets: targets}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subsystems := make(map[string]gatewaytypes.CircuitStateName, len(h.targets))
	openCount, halfOpenCount := 0, 0
	for _, target := range h.targets {
		snap := h.br.Snapshot(target)
		subsystems[target] = snap.State
		switch snap.State {
		case gatewaytypes.StateOpen:
			openCount++
		case gatewaytypes.StateHalfOpen:
			halfOpenCount++
		}
	}

	status := "ok"
	switch {
	case openCount == len(h.targets) && len(h.targets) > 0:
		status = "critical"
	case openCount > 0 || halfOpenCount > 0:
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, healthResponse{Status: status, Subsystems: subsystems})
}
