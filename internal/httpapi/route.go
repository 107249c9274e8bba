package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gatewaydev/dispatchcore/internal/classify"
	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
)

type routeRequest struct {
	Query string `json:"query"`
}

// RouteHandler serves POST /route: classification and tier selection
// without admission, budget, or execution — useful for previewing where a
// query would land.
type RouteHandler struct {
	classifier *classify.Classifier
	pool       *classify.Pool
}

// NewRouteHandler builds a RouteHandler.
func NewRouteHandler(classifier *classify.Classifier, pool *classify.Pool) *RouteHandler {
	return &RouteHandler{classifier: classifier, pool: pool}
}

func (h *RouteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		writeError(w, http.StatusBadRequest, gatewaytypes.CodeInvalidRequest, "query is required")
		return
	}

	classification := h.classifier.Classify(req.Query)
	decision := h.pool.Select(classification)
	writeJSON(w, http.StatusOK, decision)
}
