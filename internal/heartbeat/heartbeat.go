// Package heartbeat implements the Heartbeat Reaper component: liveness
// tracking for in-flight dispatches, with a stale-signal at the first
// threshold and a forced cancellation at the second.
package heartbeat

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
)

// Registry tracks one AgentActivity per in-flight task-id. Grounded on the
// donor gateway's HealthPoller ticker/cancellation shape, generalized from
// a single-target poller to a per-task-id liveness table.
type Registry struct {
	mu           sync.Mutex
	activities   map[string]*gatewaytypes.AgentActivity
	staleEmitted map[string]bool
	logger       zerolog.Logger
}

// NewRegistry builds an empty Registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		activities:   make(map[string]*gatewaytypes.AgentActivity),
		staleEmitted: make(map[string]bool),
		logger:       logger.With().Str("component", "heartbeat").Logger(),
	}
}

// Register begins tracking one in-flight task. cancel is invoked at most
// once, by the reaper, if the task exceeds the timeout threshold.
func (r *Registry) Register(taskID, agentID string, cancel func()) {
	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities[taskID] = &gatewaytypes.AgentActivity{
		AgentID:        agentID,
		TaskID:         taskID,
		StartedAt:      now,
		LastActivityAt: now,
		Status:         gatewaytypes.ActivityRunning,
		Cancel:         cancel,
	}
}

// Touch refreshes the liveness timestamp for taskID, clearing any prior
// stale signal so a task that resumes activity can be flagged stale again
// later.
func (r *Registry) Touch(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.activities[taskID]; ok {
		a.LastActivityAt = time.Now().UTC()
		delete(r.staleEmitted, taskID)
	}
}

// Unregister stops tracking taskID, normally called on dispatch
// completion (success, exhaustion, or client cancellation).
func (r *Registry) Unregister(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.activities, taskID)
	delete(r.staleEmitted, taskID)
}

// Snapshot returns the current AgentActivity for taskID, if tracked.
func (r *Registry) Snapshot(taskID string) (gatewaytypes.AgentActivity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.activities[taskID]
	if !ok {
		return gatewaytypes.AgentActivity{}, false
	}
	return *a, true
}

// Len reports the number of tracked in-flight tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.activities)
}

// sweep evaluates every tracked task against the stale and timeout
// thresholds. Staleness is judged against last activity (a task that keeps
// touching never goes stale); timeout is judged against the task's
// start time, so a task that keeps calling Touch but still overruns its
// total time budget is still reaped. A task past staleThreshold but not
// yet past timeoutThreshold is logged at most once. A task past
// timeoutThreshold has its Cancel invoked and is removed. Returns the
// task-ids reaped, for tests.
func (r *Registry) sweep(now time.Time, staleThreshold, timeoutThreshold time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reaped []string
	for taskID, a := range r.activities {
		staleAge := now.Sub(a.LastActivityAt)
		totalAge := now.Sub(a.StartedAt)

		if totalAge >= timeoutThreshold {
			if a.Cancel != nil {
				a.Cancel()
			}
			delete(r.activities, taskID)
			delete(r.staleEmitted, taskID)
			reaped = append(reaped, taskID)
			r.logger.Warn().Str("task_id", taskID).Str("agent_id", a.AgentID).
				Dur("age", totalAge).Msg("heartbeat timeout reached, task cancelled")
			continue
		}

		if staleAge >= staleThreshold && !r.staleEmitted[taskID] {
			r.staleEmitted[taskID] = true
			r.logger.Warn().Str("task_id", taskID).Str("agent_id", a.AgentID).
				Dur("age", staleAge).Msg("heartbeat stale")
		}
	}
	return reaped
}
