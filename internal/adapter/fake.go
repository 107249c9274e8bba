package adapter

import (
	"context"
	"time"

	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
)

// FakeAdapter is a deterministic in-memory Adapter for dispatch tests: it
// replays a scripted sequence of results, one per call, and repeats the
// final entry once the script is exhausted.
type FakeAdapter struct {
	Script       []FakeResult
	calls        int
	LastMessages []gatewaytypes.Message
}

// FakeResult is one scripted outcome: either a successful UpstreamResult or
// an error to return.
type FakeResult struct {
	Result UpstreamResultOrErr
}

// UpstreamResultOrErr pairs a result with an error; exactly one is
// meaningful per the Go (value, error) convention.
type UpstreamResultOrErr struct {
	Value gatewaytypes.UpstreamResult
	Err   error
}

// NewFakeAdapter builds a FakeAdapter from a script of results.
func NewFakeAdapter(script ...UpstreamResultOrErr) *FakeAdapter {
	a := &FakeAdapter{}
	for _, s := range script {
		a.Script = append(a.Script, FakeResult{Result: s})
	}
	return a
}

// Call implements Adapter by returning the next scripted result.
func (a *FakeAdapter) Call(ctx context.Context, messages []gatewaytypes.Message, maxOutputTokens int) (gatewaytypes.UpstreamResult, error) {
	a.LastMessages = messages
	a.calls++
	if err := ctx.Err(); err != nil {
		return gatewaytypes.UpstreamResult{}, gatewaytypes.NewTransientError(gatewaytypes.CodeCancelled, "context cancelled", err)
	}
	if len(a.Script) == 0 {
		return gatewaytypes.UpstreamResult{Text: "ok", InputTokens: 10, OutputTokens: 10}, nil
	}
	idx := a.calls - 1
	if idx >= len(a.Script) {
		idx = len(a.Script) - 1
	}
	r := a.Script[idx].Result
	return r.Value, r.Err
}

// Calls reports how many times Call has been invoked.
func (a *FakeAdapter) Calls() int { return a.calls }

// Succeed is a convenience constructor for a scripted success entry.
func Succeed(text string, inputTokens, outputTokens int64) UpstreamResultOrErr {
	return UpstreamResultOrErr{Value: gatewaytypes.UpstreamResult{Text: text, InputTokens: inputTokens, OutputTokens: outputTokens}}
}

// Fail is a convenience constructor for a scripted failure entry.
func Fail(err error) UpstreamResultOrErr {
	return UpstreamResultOrErr{Err: err}
}

// FailTransient scripts a transient upstream failure.
func FailTransient(detail string) UpstreamResultOrErr {
	return Fail(gatewaytypes.NewTransientError(gatewaytypes.CodeUpstreamFailed, detail, nil))
}

// FailRateLimit scripts a rate-limit failure with the given retry-after.
func FailRateLimit(detail string, retryAfter time.Duration) UpstreamResultOrErr {
	return Fail(gatewaytypes.NewRateLimitError(gatewaytypes.CodeRateLimited, detail, retryAfter, nil))
}

// FailPermanent scripts a non-retryable failure.
func FailPermanent(detail string) UpstreamResultOrErr {
	return Fail(gatewaytypes.NewPermanentError(gatewaytypes.CodeUpstreamFailed, detail, nil))
}
