package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swizard0/blockwheel/internal/blockid"
	"github.com/swizard0/blockwheel/internal/blockindex"
	"github.com/swizard0/blockwheel/internal/gapindex"
	"github.com/swizard0/blockwheel/internal/layout"
)

const wheelSize = 160

func newTestSchema() *Schema {
	return New(layout.Default(), wheelSize)
}

func TestFirstWritePlacedRightAfterWheelHeader(t *testing.T) {
	s := newTestSchema()
	lay := layout.Default()

	res := s.ProcessWriteBlockRequest(13, 0)
	require.Equal(t, WritePerform, res.Kind)
	require.Equal(t, blockid.Id(1), res.BlockId)
	require.EqualValues(t, lay.WheelHeaderSize, res.Offset)
	require.Equal(t, CommitAndEof, res.TaskKind, "first write always lands in the tail gap")

	info := s.Info()
	require.Equal(t, 1, info.BlocksCount)
	require.EqualValues(t, 13, info.DataBytesUsed)
}

func TestSecondWriteContinuesFromFirst(t *testing.T) {
	s := newTestSchema()
	lay := layout.Default()

	first := s.ProcessWriteBlockRequest(13, 0)
	second := s.ProcessWriteBlockRequest(13, 0)

	require.Equal(t, WritePerform, second.Kind)
	require.EqualValues(t, first.Offset+lay.DataSizeBlockMin()+13, second.Offset)
	require.Equal(t, blockid.Id(2), second.BlockId)
}

func TestWriteTooBigReportsNoSpaceLeft(t *testing.T) {
	s := newTestSchema()
	res := s.ProcessWriteBlockRequest(1_000_000, 0)
	require.Equal(t, WriteNoSpaceLeft, res.Kind)
}

func TestWriteExceedingAggregateFreeSpaceReportsNoSpaceLeft(t *testing.T) {
	s := newTestSchema()
	s.ProcessWriteBlockRequest(13, 0)
	res := s.ProcessWriteBlockRequest(1000, 0)
	require.Equal(t, WriteNoSpaceLeft, res.Kind)
}

func TestWriteThatFitsOnlyAggregateQueuesPendingDefrag(t *testing.T) {
	// A bigger wheel with two widely separated small gaps: a single
	// request that fits neither gap alone but fits their sum must be
	// deferred to the pending-defrag queue, not rejected outright.
	s := New(layout.Default(), 400)
	a := s.ProcessWriteBlockRequest(20, 0)
	b := s.ProcessWriteBlockRequest(20, 0)
	_ = b
	s.ProcessDeleteBlockTaskDone(a.BlockId)

	total := s.Info().BytesFree
	res := s.ProcessWriteBlockRequest(total, 0)
	require.Equal(t, WriteQueuePendingDefrag, res.Kind, "exact aggregate fit still requires a single contiguous gap")
}

func TestReadRoundTrip(t *testing.T) {
	s := newTestSchema()
	write := s.ProcessWriteBlockRequest(13, 0)

	read := s.ProcessReadBlockRequest(write.BlockId)
	require.True(t, read.Found)
	require.Equal(t, write.Offset, read.Offset)
	require.EqualValues(t, 13, read.Header.Size)

	_, missing := s.blocks.Get(blockid.Id(9999))
	require.False(t, missing)
}

func TestDeleteFreesSpaceForSubsequentWrite(t *testing.T) {
	s := newTestSchema()
	write := s.ProcessWriteBlockRequest(13, 0)

	beforeFree := s.Info().BytesFree
	del := s.ProcessDeleteBlockTaskDone(write.BlockId)
	require.False(t, s.ProcessDeleteBlockRequest(write.BlockId), "deleted id must no longer validate as present")
	require.Greater(t, s.Info().BytesFree, beforeFree)
	require.EqualValues(t, 13, del.Entry.Header.Size)

	again := s.ProcessWriteBlockRequest(13, 0)
	require.Equal(t, WritePerform, again.Kind)
	require.Equal(t, write.Offset, again.Offset, "the reclaimed gap is reused for the next write")
}

func TestDeleteMiddleBlockMergesFlankingGaps(t *testing.T) {
	s := New(layout.Default(), 300)
	a := s.ProcessWriteBlockRequest(13, 0)
	b := s.ProcessWriteBlockRequest(13, 0)
	c := s.ProcessWriteBlockRequest(13, 0)
	_ = c

	del := s.ProcessDeleteBlockTaskDone(b.BlockId)
	require.Equal(t, DefragOpQueue, del.DefragOp.Kind, "deleting a middle block offers its right neighbor for relocation")
	require.Equal(t, c.BlockId, del.DefragOp.MovingBlockId)

	entryA, ok := s.blocks.Get(a.BlockId)
	require.True(t, ok)
	right, hasRight := entryA.Right()
	require.True(t, hasRight)
	require.Equal(t, c.BlockId, right, "A and C are now direct neighbors")
}

func TestUniversalInvariantFootprintPlusGapsEqualsWheelMinusService(t *testing.T) {
	s := newTestSchema()
	lay := layout.Default()
	a := s.ProcessWriteBlockRequest(13, 0)
	_ = a

	var footprint uint64
	idx := s.BlockIndex()
	id, ok := idx.NextBlockIdFrom(blockid.Init())
	for ok {
		e, _ := idx.Get(id)
		if e.Header.Kind == blockindex.Regular {
			footprint += lay.DataSizeBlockMin() + e.Header.Size
		}
		id, ok = idx.NextBlockIdFrom(blockid.Next(id))
	}

	gapsRaw := gapsRawTotal(s, lay)
	require.EqualValues(t, wheelSize-lay.DataSizeServiceMin(), footprint+gapsRaw)
}

// gapsRawTotal reconstructs raw gap bytes (space_available + dsbm per gap)
// from the schema's bookkeeping maps, mirroring spec invariant 2.
func gapsRawTotal(s *Schema, lay layout.Layout) uint64 {
	seen := make(map[gapindex.Key]bool)
	var total uint64
	add := func(k gapindex.Key) {
		if seen[k] {
			return
		}
		seen[k] = true
		total += k.SpaceAvailable() + lay.DataSizeBlockMin()
	}
	for _, k := range s.gapBeforeBlock {
		add(k)
	}
	for _, k := range s.gapAfterBlock {
		add(k)
	}
	if s.wholeGapKey != nil {
		add(*s.wholeGapKey)
	}
	return total
}
