package gapindex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateBestFit(t *testing.T) {
	idx := New()
	idx.Insert(100, BlockAndEnd(1))
	small := idx.Insert(10, TwoBlocks(1, 2))
	idx.Insert(50, TwoBlocks(2, 3))

	res := idx.Allocate(10)
	require.Equal(t, Success, res.Kind)
	require.Equal(t, small, res.Key)
}

func TestAllocateTiesBreakByInsertionOrder(t *testing.T) {
	idx := New()
	first := idx.Insert(20, TwoBlocks(1, 2))
	idx.Insert(20, TwoBlocks(2, 3))

	res := idx.Allocate(20)
	require.Equal(t, Success, res.Kind)
	require.Equal(t, first, res.Key)
}

func TestAllocatePendingDefragmentation(t *testing.T) {
	idx := New()
	idx.Insert(10, TwoBlocks(1, 2))
	idx.Insert(10, TwoBlocks(2, 3))

	res := idx.Allocate(15)
	require.Equal(t, PendingDefragmentation, res.Kind)
}

func TestAllocateNoSpaceLeft(t *testing.T) {
	idx := New()
	idx.Insert(10, TwoBlocks(1, 2))

	res := idx.Allocate(15)
	require.Equal(t, NoSpaceLeft, res.Kind)
}

func TestRemoveUpdatesTotal(t *testing.T) {
	idx := New()
	key := idx.Insert(10, StartAndBlock(1))
	require.EqualValues(t, 10, idx.SpaceTotal())

	between, ok := idx.Remove(key)
	require.True(t, ok)
	require.True(t, between.HasRight)
	require.EqualValues(t, 0, idx.SpaceTotal())

	_, ok = idx.Remove(key)
	require.False(t, ok)
}

func TestEmptyIndexAllocateNoSpace(t *testing.T) {
	idx := New()
	res := idx.Allocate(1)
	require.Equal(t, NoSpaceLeft, res.Kind)
}
