// Package adapter defines the single upstream chat-completion interface
// the Dispatcher calls through, and translates each target's wire errors
// into the four-class error taxonomy from §7. Generalized from the donor
// gateway's per-provider Provider interface (ChatCompletion/HealthCheck);
// the specific wire formats of individual upstream APIs are out of scope
// since upstream model providers are external collaborators, so this package carries
// one HTTP-generic adapter plus an in-memory fake for tests rather than
// one file per upstream vendor.
package adapter

import (
	"context"
	"time"

	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
)

// Adapter is the single chat-completion call contract every target
// implements.
type Adapter interface {
	// Call sends messages to the target and returns token usage and text,
	// or a classified *gatewaytypes.Error.
	Call(ctx context.Context, messages []gatewaytypes.Message, maxOutputTokens int) (gatewaytypes.UpstreamResult, error)
}

// Target names one concrete endpoint the Dispatcher can call: a tier at a
// provider, or a specific requested agent/model.
type Target struct {
	Name    string
	Tier    gatewaytypes.ModelTier
	Adapter Adapter
	Timeout time.Duration
}
