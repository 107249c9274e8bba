package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
)

// wireMessage and wireRequest/wireResponse mirror the donor gateway's
// OpenAI-compatible ChatRequest/ChatMessage/Usage wire types — the one
// upstream wire shape this module speaks natively; other vendors are out
// of scope for this package.
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model     string        `json:"model"`
	Messages  []wireMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type wireChoice struct {
	Message wireMessage `json:"message"`
}

type wireUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

type wireResponse struct {
	Choices []wireChoice `json:"choices"`
	Usage   wireUsage    `json:"usage"`
}

// HTTPAdapter calls a single OpenAI-compatible chat-completions endpoint.
type HTTPAdapter struct {
	name     string
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
}

// NewHTTPAdapter builds an adapter with a pooled client, mirroring the
// donor provider connectors' http.Transport tuning.
func NewHTTPAdapter(name, endpoint, model, apiKey string, timeout time.Duration) *HTTPAdapter {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPAdapter{
		name:     name,
		endpoint: endpoint,
		model:    model,
		apiKey:   apiKey,
		client:   &http.Client{Transport: transport, Timeout: timeout},
	}
}

// Call implements Adapter.
func (a *HTTPAdapter) Call(ctx context.Context, messages []gatewaytypes.Message, maxOutputTokens int) (gatewaytypes.UpstreamResult, error) {
	wireMsgs := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wireMsgs = append(wireMsgs, wireMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(wireRequest{Model: a.model, Messages: wireMsgs, MaxTokens: maxOutputTokens})
	if err != nil {
		return gatewaytypes.UpstreamResult{}, gatewaytypes.NewInternalError(gatewaytypes.CodeInternal, "marshal upstream request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return gatewaytypes.UpstreamResult{}, gatewaytypes.NewInternalError(gatewaytypes.CodeInternal, "build upstream request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return gatewaytypes.UpstreamResult{}, gatewaytypes.NewTransientError(gatewaytypes.CodeUpstreamFailed, "request cancelled or timed out", ctx.Err())
		}
		return gatewaytypes.UpstreamResult{}, gatewaytypes.NewTransientError(gatewaytypes.CodeUpstreamFailed, "network error", err)
	}
	defer resp.Body.Close()

	return a.classifyResponse(resp)
}

// classifyResponse translates the HTTP status into the four-class
// taxonomy: 429 → rate-limit (honoring Retry-After), other 4xx →
// permanent, 5xx → transient.
func (a *HTTPAdapter) classifyResponse(resp *http.Response) (gatewaytypes.UpstreamResult, error) {
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		respBody, _ := io.ReadAll(resp.Body)
		return gatewaytypes.UpstreamResult{}, gatewaytypes.NewRateLimitError(
			gatewaytypes.CodeRateLimited, string(respBody), retryAfter, nil)
	}
	if resp.StatusCode >= 500 {
		respBody, _ := io.ReadAll(resp.Body)
		return gatewaytypes.UpstreamResult{}, gatewaytypes.NewTransientError(
			gatewaytypes.CodeUpstreamFailed, fmt.Sprintf("status %d: %s", resp.StatusCode, string(respBody)), nil)
	}
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return gatewaytypes.UpstreamResult{}, gatewaytypes.NewPermanentError(
			gatewaytypes.CodeUpstreamFailed, fmt.Sprintf("status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var wr wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return gatewaytypes.UpstreamResult{}, gatewaytypes.NewPermanentError(gatewaytypes.CodeUpstreamFailed, "invalid upstream response body", err)
	}
	if len(wr.Choices) == 0 {
		return gatewaytypes.UpstreamResult{}, gatewaytypes.NewPermanentError(gatewaytypes.CodeUpstreamFailed, "upstream returned no choices", nil)
	}

	return gatewaytypes.UpstreamResult{
		Text:         wr.Choices[0].Message.Content,
		InputTokens:  wr.Usage.PromptTokens,
		OutputTokens: wr.Usage.CompletionTokens,
	}, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t)
	}
	return 0
}
