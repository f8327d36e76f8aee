package gateway

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swizard0/blockwheel/internal/blockid"
	"github.com/swizard0/blockwheel/internal/defrag"
	"github.com/swizard0/blockwheel/internal/interpret"
	"github.com/swizard0/blockwheel/internal/layout"
	"github.com/swizard0/blockwheel/internal/lrucache"
	"github.com/swizard0/blockwheel/internal/performer"
	"github.com/swizard0/blockwheel/internal/schema"
)

func newTestGateway(t *testing.T, wheelSizeBytes uint64) Gateway {
	t.Helper()
	lay := layout.Default()
	path := filepath.Join(t.TempDir(), "wheel.bin")

	ip, err := interpret.Open(path, wheelSizeBytes, 0, lay, nil)
	require.NoError(t, err)

	s := schema.New(lay, wheelSizeBytes)
	cache := lrucache.New(1 << 20)
	perf := performer.New(s, cache, defrag.DefaultConfig())

	return Open(perf, ip, nil)
}

func TestWriteReadDeleteThroughGateway(t *testing.T) {
	gw := newTestGateway(t, 200)
	defer gw.Close()
	ctx := context.Background()

	id, err := gw.WriteBlock(ctx, []byte("payload"))
	require.NoError(t, err)

	bytes, err := gw.ReadBlock(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), bytes)

	require.NoError(t, gw.DeleteBlock(ctx, id))

	_, err = gw.ReadBlock(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestWriteNoSpaceThroughGateway(t *testing.T) {
	gw := newTestGateway(t, 160)
	defer gw.Close()
	ctx := context.Background()

	_, err := gw.WriteBlock(ctx, make([]byte, 1_000_000))
	require.ErrorIs(t, err, ErrNoSpaceLeft)
}

func TestIterBlocksThroughGateway(t *testing.T) {
	gw := newTestGateway(t, 200)
	defer gw.Close()
	ctx := context.Background()

	_, err := gw.WriteBlock(ctx, []byte("one"))
	require.NoError(t, err)
	_, err = gw.WriteBlock(ctx, []byte("two"))
	require.NoError(t, err)

	var seen [][]byte
	err = gw.IterBlocks(ctx, func(id blockid.Id, payload []byte) error {
		seen = append(seen, payload)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("one"), []byte("two")}, seen)
}

func TestInterpretStatsThroughGateway(t *testing.T) {
	gw := newTestGateway(t, 200)
	defer gw.Close()
	ctx := context.Background()

	_, err := gw.WriteBlock(ctx, []byte("payload"))
	require.NoError(t, err)

	stats, err := gw.InterpretStats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.CountTotal)
}

func TestFlushAndInfoThroughGateway(t *testing.T) {
	gw := newTestGateway(t, 200)
	defer gw.Close()
	ctx := context.Background()

	require.NoError(t, gw.Flush(ctx))

	_, err := gw.WriteBlock(ctx, []byte("x"))
	require.NoError(t, err)

	info, err := gw.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, info.BlocksCount)
}
