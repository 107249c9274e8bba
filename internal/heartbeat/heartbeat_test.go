package heartbeat

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRegisterThenSnapshotReportsRunning(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	r.Register("task-1", "agent-1", func() {})

	a, ok := r.Snapshot("task-1")
	require.True(t, ok)
	require.Equal(t, "agent-1", a.AgentID)
}

func TestSweepEmitsStaleAtMostOnce(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	r.Register("task-1", "agent-1", func() {})

	past := time.Now().UTC().Add(-10 * time.Minute)
	r.activities["task-1"].LastActivityAt = past

	reaped := r.sweep(time.Now().UTC(), 5*time.Minute, 30*time.Minute)
	require.Empty(t, reaped)
	require.True(t, r.staleEmitted["task-1"])

	reaped = r.sweep(time.Now().UTC(), 5*time.Minute, 30*time.Minute)
	require.Empty(t, reaped)
}

func TestSweepReapsPastTimeoutThresholdAndInvokesCancel(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	cancelled := false
	r.Register("task-1", "agent-1", func() { cancelled = true })

	past := time.Now().UTC().Add(-31 * time.Minute)
	r.activities["task-1"].StartedAt = past
	r.activities["task-1"].LastActivityAt = past

	reaped := r.sweep(time.Now().UTC(), 5*time.Minute, 30*time.Minute)
	require.Equal(t, []string{"task-1"}, reaped)
	require.True(t, cancelled)

	_, ok := r.Snapshot("task-1")
	require.False(t, ok)
}

func TestSweepReapsByStartAgeEvenWhenTouchKeepsLastActivityFresh(t *testing.T) {
	// A task that keeps calling Touch never goes stale by last-activity,
	// but the timeout gate is measured from StartedAt, so a long-running
	// task must still be reaped once it exceeds the total time budget.
	r := NewRegistry(zerolog.Nop())
	cancelled := false
	r.Register("task-1", "agent-1", func() { cancelled = true })

	r.activities["task-1"].StartedAt = time.Now().UTC().Add(-31 * time.Minute)
	r.Touch("task-1") // LastActivityAt is now "fresh"

	reaped := r.sweep(time.Now().UTC(), 5*time.Minute, 30*time.Minute)
	require.Equal(t, []string{"task-1"}, reaped)
	require.True(t, cancelled)
}

func TestTouchClearsStaleSignal(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	r.Register("task-1", "agent-1", func() {})
	r.staleEmitted["task-1"] = true

	r.Touch("task-1")
	require.False(t, r.staleEmitted["task-1"])
}

func TestUnregisterRemovesTask(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	r.Register("task-1", "agent-1", func() {})
	r.Unregister("task-1")

	_, ok := r.Snapshot("task-1")
	require.False(t, ok)
}

func TestReaperStartStopDoesNotPanic(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	reaper := NewReaper(r, time.Millisecond, 5*time.Minute, 30*time.Minute)
	reaper.Start()
	time.Sleep(5 * time.Millisecond)
	reaper.Stop()
}
