package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
)

func TestFakeAdapterReplaysScriptInOrder(t *testing.T) {
	a := NewFakeAdapter(FailTransient("boom"), Succeed("ok", 5, 5))
	msgs := []gatewaytypes.Message{{Role: gatewaytypes.RoleUser, Content: "hi"}}

	_, err := a.Call(context.Background(), msgs, 100)
	require.Error(t, err)

	res, err := a.Call(context.Background(), msgs, 100)
	require.NoError(t, err)
	require.Equal(t, "ok", res.Text)
	require.Equal(t, 2, a.Calls())
}

func TestFakeAdapterRepeatsFinalEntryPastScriptEnd(t *testing.T) {
	a := NewFakeAdapter(Succeed("only", 1, 1))
	msgs := []gatewaytypes.Message{{Role: gatewaytypes.RoleUser, Content: "hi"}}

	for i := 0; i < 3; i++ {
		res, err := a.Call(context.Background(), msgs, 100)
		require.NoError(t, err)
		require.Equal(t, "only", res.Text)
	}
	require.Equal(t, 3, a.Calls())
}

func TestFakeAdapterHonorsCancelledContext(t *testing.T) {
	a := NewFakeAdapter(Succeed("ok", 1, 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Call(ctx, nil, 100)
	require.Error(t, err)
	gwErr, ok := err.(*gatewaytypes.Error)
	require.True(t, ok)
	require.Equal(t, gatewaytypes.CodeCancelled, gwErr.Code)
}

func TestFailRateLimitCarriesRetryAfter(t *testing.T) {
	script := FailRateLimit("slow down", 0)
	require.NotNil(t, script.Err)
	gwErr, ok := script.Err.(*gatewaytypes.Error)
	require.True(t, ok)
	require.Equal(t, gatewaytypes.KindRateLimit, gwErr.Kind)
}
