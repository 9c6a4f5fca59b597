package randsrc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldnode/nodecore"
)

func startedPool(t *testing.T) (*Pool, context.Context) {
	t.Helper()
	p := NewPool(64)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, p.Start(ctx))
	return p, ctx
}

func TestPoolU8ReturnsWithoutBlockingOnceFilled(t *testing.T) {
	p, ctx := startedPool(t)
	cctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	_, err := p.U8(cctx)
	require.NoError(t, err)
}

func TestPoolU64AssemblesEightBytes(t *testing.T) {
	p, ctx := startedPool(t)
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	v, err := p.U64(cctx)
	require.NoError(t, err)
	_ = v // any 64-bit value is valid; this checks the call completes at all
}

func TestPoolIntNStaysInRange(t *testing.T) {
	p, ctx := startedPool(t)
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for i := 0; i < 50; i++ {
		n, err := p.IntN(cctx, 7)
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, 0)
		require.Less(t, n, 7)
	}
}

func TestPoolIntNRejectsNonPositive(t *testing.T) {
	p := NewPool(8)
	_, err := p.IntN(context.Background(), 0)
	require.Error(t, err)
	kind, ok := nodecore.ErrorKind(err)
	require.True(t, ok)
	require.Equal(t, nodecore.KindInvalidParameter, kind)
}
