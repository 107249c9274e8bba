package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, kind, detail string) {
	writeJSON(w, status, map[string]string{"error": kind, "detail": detail})
}

// writeDispatchError maps a Dispatcher error to the status codes in §6:
// 401 unauthorized, 402 budget-exceeded, 429 rate-limited/queue-full,
// 502 upstream-failed, 504 timeout, 500 everything else internal.
func writeDispatchError(w http.ResponseWriter, err error) {
	var gwErr *gatewaytypes.Error
	if !errors.As(err, &gwErr) {
		writeError(w, http.StatusBadGateway, gatewaytypes.CodeUpstreamFailed, err.Error())
		return
	}

	switch gwErr.Code {
	case gatewaytypes.CodeUnauthorized:
		writeError(w, http.StatusUnauthorized, gwErr.Code, gwErr.Detail)
	case gatewaytypes.CodeBudgetExceeded:
		writeError(w, http.StatusPaymentRequired, gwErr.Code, gwErr.Detail)
	case gatewaytypes.CodeRateLimited, gatewaytypes.CodeQueueFull:
		writeError(w, http.StatusTooManyRequests, gwErr.Code, gwErr.Detail)
	case gatewaytypes.CodeTimeout:
		writeError(w, http.StatusGatewayTimeout, gwErr.Code, gwErr.Detail)
	case gatewaytypes.CodeInvalidRequest:
		writeError(w, http.StatusBadRequest, gwErr.Code, gwErr.Detail)
	case gatewaytypes.CodeInternal:
		writeError(w, http.StatusInternalServerError, gwErr.Code, gwErr.Detail)
	default:
		switch gwErr.Kind {
		case gatewaytypes.KindClient:
			writeError(w, http.StatusBadRequest, gwErr.Code, gwErr.Detail)
		default:
			writeError(w, http.StatusBadGateway, gatewaytypes.CodeUpstreamFailed, gwErr.Detail)
		}
	}
}
