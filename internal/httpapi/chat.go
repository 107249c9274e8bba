package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/gatewaydev/dispatchcore/internal/dispatch"
	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
	"github.com/gatewaydev/dispatchcore/internal/session"
)

type chatRequest struct {
	Content    string `json:"content"`
	SessionKey string `json:"sessionKey"`
	Agent      string `json:"agent"`
	Model      string `json:"model"`
	ProjectID  string `json:"project_id"`
}

type chatResponse struct {
	Response      string `json:"response"`
	Model         string `json:"model"`
	Tokens        tokens `json:"tokens"`
	SessionKey    string `json:"sessionKey"`
	HistoryLength int    `json:"historyLength"`
	Tier          string `json:"tier"`
}

type tokens struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
}

// ChatHandler serves POST /chat, the core admission-and-dispatch endpoint.
type ChatHandler struct {
	dispatcher *dispatch.Dispatcher
	sessions   *session.Store
	metrics    *Metrics
	logger     zerolog.Logger
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(d *dispatch.Dispatcher, sessions *session.Store, metrics *Metrics, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{dispatcher: d, sessions: sessions, metrics: metrics, logger: logger.With().Str("component", "chat-handler").Logger()}
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, gatewaytypes.CodeInvalidRequest, "malformed request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, gatewaytypes.CodeInvalidRequest, "content is required")
		return
	}

	sessionKey := gatewaytypes.SessionKey(req.SessionKey)
	if sessionKey == "" {
		sessionKey = gatewaytypes.SessionKey(req.ProjectID + ":" + req.Content[:min(len(req.Content), 16)])
	}

	start := time.Now()
	resp, err := h.dispatcher.Dispatch(r.Context(), gatewaytypes.Query{
		Content:        req.Content,
		SessionKey:     sessionKey,
		ProjectID:      req.ProjectID,
		RequestedAgent: req.Agent,
		RequestedModel: req.Model,
	})
	if err != nil {
		if h.metrics != nil {
			h.metrics.observeOutcome("error")
		}
		h.logger.Warn().Err(err).Str("session_key", string(sessionKey)).Msg("dispatch failed")
		writeDispatchError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.observeOutcome("success")
		h.metrics.observeDispatch(string(resp.Tier), time.Since(start).Seconds())
	}

	rec := h.sessions.Load(r.Context(), sessionKey)
	writeJSON(w, http.StatusOK, chatResponse{
		Response:      resp.Text,
		Model:         string(resp.Tier),
		Tokens:        tokens{Input: resp.InputTokens, Output: resp.OutputTokens},
		SessionKey:    string(sessionKey),
		HistoryLength: rec.MessageCount,
		Tier:          string(resp.Tier),
	})
}
