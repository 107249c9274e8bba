package session

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
)

func TestLoadCreatesEmptySessionLazily(t *testing.T) {
	s := NewStore(24*time.Hour, nil, zerolog.Nop())
	rec := s.Load(context.Background(), "s1")
	require.Equal(t, 0, rec.MessageCount)
	require.False(t, rec.CreatedAt.IsZero())
}

func TestAppendThenRecentReturnsLastEntry(t *testing.T) {
	s := NewStore(24*time.Hour, nil, zerolog.Nop())
	ctx := context.Background()
	s.Append(ctx, "s1", gatewaytypes.RoleUser, "hello", time.Now().UTC())
	s.Append(ctx, "s1", gatewaytypes.RoleAssistant, "hi there", time.Now().UTC())

	recent := s.Recent(ctx, "s1", 100)
	require.Len(t, recent, 2)
	require.Equal(t, "hi there", recent[len(recent)-1].Content)
}

func TestRecentBoundsToLastN(t *testing.T) {
	s := NewStore(24*time.Hour, nil, zerolog.Nop())
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		s.Append(ctx, "s1", gatewaytypes.RoleUser, "msg", time.Now().UTC())
	}
	recent := s.Recent(ctx, "s1", 20)
	require.Len(t, recent, 20)
}

func TestSessionsAreIsolatedByKey(t *testing.T) {
	s := NewStore(24*time.Hour, nil, zerolog.Nop())
	ctx := context.Background()
	s.Append(ctx, "a", gatewaytypes.RoleUser, "for a", time.Now().UTC())

	recB := s.Load(ctx, "b")
	require.Equal(t, 0, recB.MessageCount)
}

func TestSweepExpiredRemovesStaleSessions(t *testing.T) {
	s := NewStore(time.Millisecond, nil, zerolog.Nop())
	ctx := context.Background()
	s.Append(ctx, "s1", gatewaytypes.RoleUser, "hi", time.Now().UTC())

	time.Sleep(5 * time.Millisecond)
	removed := s.sweepExpired(time.Now().UTC())
	require.Equal(t, 1, removed)

	rec := s.Load(ctx, "s1")
	require.Equal(t, 0, rec.MessageCount, "session should have been recreated empty after eviction")
}
