// Package breaker implements the Health & Circuit Breaker component: a
// per-target three-state machine (closed/open/half-open) governing
// whether calls to a target are attempted.
package breaker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
)

type targetState struct {
	mu                     sync.Mutex
	state                  gatewaytypes.CircuitStateName
	consecutiveFailures    int
	lastFailureTime        time.Time
	successCountInHalfOpen int
	probeInFlight          bool
}

// Breaker tracks per-target reliability, extending the donor gateway's
// two-state FailoverState (consecutive-failure counter plus cooldown)
// with an explicit half-open state and a single-flight probe lock so at
// most one half-open trial is in flight per target; concurrent callers
// that lose the race are treated as though the breaker is open.
type Breaker struct {
	mu                sync.Mutex
	targets           map[string]*targetState
	failureThreshold  int // failures to open from closed
	resetTimeout      time.Duration
	halfOpenSuccesses int // successes to close from half-open
	logger            zerolog.Logger
}

// New builds a Breaker with the configured thresholds.
func New(failureThreshold int, resetTimeout time.Duration, halfOpenSuccesses int, logger zerolog.Logger) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if halfOpenSuccesses <= 0 {
		halfOpenSuccesses = 1
	}
	return &Breaker{
		targets:           make(map[string]*targetState),
		failureThreshold:  failureThreshold,
		resetTimeout:      resetTimeout,
		halfOpenSuccesses: halfOpenSuccesses,
		logger:            logger.With().Str("component", "breaker").Logger(),
	}
}

func (b *Breaker) stateFor(target string) *targetState {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.targets[target]
	if !ok {
		t = &targetState{state: gatewaytypes.StateClosed}
		b.targets[target] = t
	}
	return t
}

// Available reports whether target may be called right now. It also
// performs the open→half-open transition and the half-open single-flight
// tie-break: a caller that loses the race to claim the in-flight probe is
// told the breaker is unavailable, exactly as if it were open.
func (b *Breaker) Available(target string) bool {
	t := b.stateFor(target)
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case gatewaytypes.StateClosed:
		return true
	case gatewaytypes.StateOpen:
		if time.Since(t.lastFailureTime) < b.resetTimeout {
			return false
		}
		// Reset-timeout elapsed: transition to half-open and claim the
		// single probe slot for this caller.
		t.state = gatewaytypes.StateHalfOpen
		t.successCountInHalfOpen = 0
		t.probeInFlight = true
		b.logger.Info().Str("target", target).Msg("breaker transitioning to half-open")
		return true
	case gatewaytypes.StateHalfOpen:
		if t.probeInFlight {
			return false
		}
		t.probeInFlight = true
		return true
	default:
		return false
	}
}

// ReleaseProbe releases a claimed half-open probe slot without recording a
// success or a failure, for a caller that bailed out between Available()
// and the actual call (for example, a per-target budget rejection). A
// no-op outside the half-open state, so it is safe to call unconditionally
// whenever a caller abandons an attempt after checking Available.
func (b *Breaker) ReleaseProbe(target string) {
	t := b.stateFor(target)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == gatewaytypes.StateHalfOpen {
		t.probeInFlight = false
	}
}

// OnSuccess records a successful call to target.
func (b *Breaker) OnSuccess(target string) {
	t := b.stateFor(target)
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case gatewaytypes.StateClosed:
		t.consecutiveFailures = 0
	case gatewaytypes.StateHalfOpen:
		t.probeInFlight = false
		t.successCountInHalfOpen++
		if t.successCountInHalfOpen >= b.halfOpenSuccesses {
			t.state = gatewaytypes.StateClosed
			t.consecutiveFailures = 0
			t.successCountInHalfOpen = 0
			b.logger.Info().Str("target", target).Msg("breaker closed")
		}
	}
}

// OnFailure records a failed call to target.
func (b *Breaker) OnFailure(target string) {
	t := b.stateFor(target)
	t.mu.Lock()
	defer t.mu.Unlock()

	threshold := b.failureThreshold
	if t.state == gatewaytypes.StateHalfOpen {
		threshold = 1
		t.probeInFlight = false
	}

	t.consecutiveFailures++
	if t.consecutiveFailures >= threshold {
		t.state = gatewaytypes.StateOpen
		t.lastFailureTime = time.Now()
		b.logger.Warn().Str("target", target).Int("failures", t.consecutiveFailures).Msg("breaker opened")
	}
}

// Snapshot returns the observable CircuitState for a target.
func (b *Breaker) Snapshot(target string) gatewaytypes.CircuitState {
	t := b.stateFor(target)
	t.mu.Lock()
	defer t.mu.Unlock()
	return gatewaytypes.CircuitState{
		Target:                 target,
		State:                  t.state,
		ConsecutiveFailures:    t.consecutiveFailures,
		LastFailureTime:        t.lastFailureTime,
		SuccessCountInHalfOpen: t.successCountInHalfOpen,
	}
}
