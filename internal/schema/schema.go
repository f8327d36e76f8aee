// Package schema is the pure allocation/deletion planner (spec §4.3): it
// does no I/O, only mutates the gap and block indices and returns a
// decision for the performer to act on. Every exported method is a total
// function over the current indices.
package schema

import (
	"github.com/swizard0/blockwheel/internal/blockid"
	"github.com/swizard0/blockwheel/internal/blockindex"
	"github.com/swizard0/blockwheel/internal/defrag"
	"github.com/swizard0/blockwheel/internal/gapindex"
	"github.com/swizard0/blockwheel/internal/layout"
)

// Schema owns the gap index, the block index, and the id generator for one
// wheel instance.
type Schema struct {
	layout         layout.Layout
	wheelSizeBytes uint64

	gaps   *gapindex.Index
	blocks *blockindex.Index

	nextId blockid.Id
	eofId  blockid.Id

	blocksCount   int
	dataBytesUsed uint64

	// gapBeforeBlock[id] / gapAfterBlock[id] name the gap immediately to the
	// left / right of a regular block, when one exists. gapindex itself
	// knows nothing about block adjacency, so schema keeps this reverse
	// index to find a block's flanking gaps in O(1) at delete time.
	gapBeforeBlock map[blockid.Id]gapindex.Key
	gapAfterBlock  map[blockid.Id]gapindex.Key
	// wholeGapKey is set only while the wheel holds no regular blocks at
	// all, naming the single gap spanning the whole data region.
	wholeGapKey    *gapindex.Key
}

// New builds the schema for a freshly initialized wheel of the given size:
// just the EOF sentinel and one gap spanning the whole data region.
func New(l layout.Layout, wheelSizeBytes uint64) *Schema {
	s := &Schema{
		layout:         l,
		wheelSizeBytes: wheelSizeBytes,
		gaps:           gapindex.New(),
		blocks:         blockindex.New(),
		gapBeforeBlock: make(map[blockid.Id]gapindex.Key),
		gapAfterBlock:  make(map[blockid.Id]gapindex.Key),
	}

	eofId := blockid.Init()
	eofOffset := wheelSizeBytes - l.EofTagSize
	s.blocks.Insert(eofId, eofOffset, blockindex.Header{Kind: blockindex.EndOfFile, Id: eofId}, nil, nil)
	s.eofId = eofId
	s.nextId = blockid.Next(eofId)

	wholeSpace := eofOffset - l.WheelHeaderSize - l.DataSizeBlockMin()
	s.registerGap(wholeSpace, gapindex.Between{})
	return s
}

// RecoveredBlock is one live frame a recovery scan found on disk: its id,
// physical offset, and payload size, exactly as read from its block header.
type RecoveredBlock struct {
	Id     blockid.Id
	Offset uint64
	Size   uint64
}

// FromRecoveredBlocks rebuilds the schema a wheel reopen needs from the
// frames a disk scan found still carrying a matching CRC (internal/interpret's
// recovery scan; corrupt or tombstoned frames are simply absent from blocks
// and fold back into free space). blocks must be sorted by Offset ascending.
// The EOF sentinel id is never stored on disk, so a fresh one is minted past
// every id the scan observed, preserving the "ids are never reused" rule.
func FromRecoveredBlocks(l layout.Layout, wheelSizeBytes uint64, blocks []RecoveredBlock) *Schema {
	s := &Schema{
		layout:         l,
		wheelSizeBytes: wheelSizeBytes,
		gaps:           gapindex.New(),
		blocks:         blockindex.New(),
		gapBeforeBlock: make(map[blockid.Id]gapindex.Key),
		gapAfterBlock:  make(map[blockid.Id]gapindex.Key),
	}

	eofOffset := wheelSizeBytes - l.EofTagSize
	cursor := l.WheelHeaderSize
	var prevId blockid.Id
	var prevIdPtr *blockid.Id
	maxId := blockid.Id(0)
	sawBlock := false

	for _, b := range blocks {
		if raw := b.Offset - cursor; raw > 0 {
			space := raw - l.DataSizeBlockMin()
			var between gapindex.Between
			if prevIdPtr == nil {
				between = gapindex.StartAndBlock(b.Id)
			} else {
				between = gapindex.TwoBlocks(*prevIdPtr, b.Id)
			}
			s.registerGap(space, between)
		}
		s.blocks.Insert(b.Id, b.Offset, blockindex.Header{Kind: blockindex.Regular, Id: b.Id, Size: b.Size}, prevIdPtr, nil)
		s.blocksCount++
		s.dataBytesUsed += b.Size
		cursor = b.Offset + l.DataSizeBlockMin() + b.Size
		prevId = b.Id
		prevIdPtr = &prevId
		if !sawBlock || b.Id > maxId {
			maxId = b.Id
		}
		sawBlock = true
	}

	if raw := eofOffset - cursor; raw > 0 || prevIdPtr == nil {
		space := raw - l.DataSizeBlockMin()
		var between gapindex.Between
		if prevIdPtr != nil {
			between = gapindex.BlockAndEnd(*prevIdPtr)
		}
		s.registerGap(space, between)
	}

	eofId := blockid.Init()
	if sawBlock {
		eofId = blockid.Next(maxId)
	}
	s.blocks.Insert(eofId, eofOffset, blockindex.Header{Kind: blockindex.EndOfFile, Id: eofId}, prevIdPtr, nil)
	s.eofId = eofId
	s.nextId = blockid.Next(eofId)
	return s
}

func (s *Schema) allocateId() blockid.Id {
	id := s.nextId
	s.nextId = blockid.Next(s.nextId)
	return id
}

func (s *Schema) registerGap(spaceAvailable uint64, between gapindex.Between) gapindex.Key {
	key := s.gaps.Insert(spaceAvailable, between)
	if between.HasRight {
		s.gapBeforeBlock[between.Right] = key
	}
	if between.HasLeft {
		s.gapAfterBlock[between.Left] = key
	}
	if !between.HasLeft && !between.HasRight {
		s.wholeGapKey = &key
	}
	return key
}

func (s *Schema) unregisterGap(key gapindex.Key) gapindex.Between {
	between, _ := s.gaps.Remove(key)
	if between.HasRight {
		delete(s.gapBeforeBlock, between.Right)
	}
	if between.HasLeft {
		delete(s.gapAfterBlock, between.Left)
	}
	if !between.HasLeft && !between.HasRight {
		s.wholeGapKey = nil
	}
	return between
}

// leftBoundaryOffset computes where a new block placed in this gap would
// start: right after the left neighbor's footprint, or right after the
// wheel header if there is no left neighbor.
func (s *Schema) leftBoundaryOffset(between gapindex.Between) uint64 {
	if !between.HasLeft {
		return s.layout.WheelHeaderSize
	}
	left, _ := s.blocks.Get(between.Left)
	return left.Offset + s.layout.DataSizeBlockMin() + left.Header.Size
}

// TaskKind distinguishes an ordinary commit from one that also relocates
// the EOF sentinel (spec §4.3's "CommitAndEof" tagging).
type TaskKind int

const (
	Commit TaskKind = iota
	CommitAndEof
)

// DefragOpKind distinguishes "nothing to queue" from "queue this block for
// relocation".
type DefragOpKind int

const (
	DefragOpNone DefragOpKind = iota
	DefragOpQueue
)

// DefragOp is the defragmentation side effect a placement or deletion may
// emit: a candidate block to relocate, together with the witness the
// performer will revalidate before acting on it.
type DefragOp struct {
	Kind          DefragOpKind
	MovingBlockId blockid.Id
	Gaps          defrag.Gaps
}

// neighborExpectation snapshots a block's current left/right neighbor ids
// into a defrag.Gaps-shaped pair, used when building a witness for it.
func (s *Schema) neighborExpectation(id blockid.Id) (hasLeft bool, left blockid.Id, hasRight bool, right blockid.Id) {
	e, _ := s.blocks.Get(id)
	left, hasLeft = e.Left()
	right, hasRight = e.Right()
	return
}

func (s *Schema) queueOpFor(movingBlockId blockid.Id, newGapKey gapindex.Key) DefragOp {
	hasLeft, left, hasRight, right := s.neighborExpectation(movingBlockId)
	gaps := defrag.Gaps{
		HasLeftNeighbor:  hasLeft,
		LeftNeighbor:     left,
		HasRightNeighbor: hasRight,
		RightNeighbor:    right,
	}
	gaps.HasLeftGap, gaps.LeftGap = true, newGapKey
	if rightGap, ok := s.gapAfterBlock[movingBlockId]; ok {
		gaps.HasRightGap, gaps.RightGap = true, rightGap
	}
	return DefragOp{Kind: DefragOpQueue, MovingBlockId: movingBlockId, Gaps: gaps}
}

// WriteKind distinguishes the three outcomes of ProcessWriteBlockRequest.
type WriteKind int

const (
	WritePerform WriteKind = iota
	WriteQueuePendingDefrag
	WriteNoSpaceLeft
)

// WriteResult is the planner's decision for a write request.
type WriteResult struct {
	Kind WriteKind

	// Valid when Kind == WritePerform.
	BlockId  blockid.Id
	Offset   uint64
	TaskKind TaskKind
	DefragOp DefragOp

	// Valid when Kind == WriteQueuePendingDefrag.
	SpaceRequired uint64
}

// ProcessWriteBlockRequest runs the write-admission decision described in
// spec §4.3: best-fit allocate, and on success perform the placement.
func (s *Schema) ProcessWriteBlockRequest(payloadSize uint64, defragPendingBytes uint64) WriteResult {
	alloc := s.gaps.Allocate(payloadSize)
	switch alloc.Kind {
	case gapindex.Success:
		return s.performPlacement(payloadSize, alloc.Key, alloc.Between)
	case gapindex.NoSpaceLeft:
		if defragPendingBytes+payloadSize > s.gaps.SpaceTotal() {
			return WriteResult{Kind: WriteNoSpaceLeft}
		}
		return WriteResult{Kind: WriteQueuePendingDefrag, SpaceRequired: payloadSize}
	default: // PendingDefragmentation
		return WriteResult{Kind: WriteQueuePendingDefrag, SpaceRequired: payloadSize}
	}
}

func (s *Schema) performPlacement(payloadSize uint64, key gapindex.Key, between gapindex.Between) WriteResult {
	return s.placeAt(payloadSize, key, between, s.allocateId())
}

// ProcessWriteBlockRequestWithId runs the identical best-fit placement as
// ProcessWriteBlockRequest, but for the rewrite half of a relocation: the
// block being moved keeps its id rather than minting a new one (spec §4.5,
// "the block id is preserved" across a relocation).
func (s *Schema) ProcessWriteBlockRequestWithId(id blockid.Id, payloadSize uint64, defragPendingBytes uint64) WriteResult {
	alloc := s.gaps.Allocate(payloadSize)
	switch alloc.Kind {
	case gapindex.Success:
		return s.placeAt(payloadSize, alloc.Key, alloc.Between, id)
	case gapindex.NoSpaceLeft:
		if defragPendingBytes+payloadSize > s.gaps.SpaceTotal() {
			return WriteResult{Kind: WriteNoSpaceLeft}
		}
		return WriteResult{Kind: WriteQueuePendingDefrag, SpaceRequired: payloadSize}
	default:
		return WriteResult{Kind: WriteQueuePendingDefrag, SpaceRequired: payloadSize}
	}
}

func (s *Schema) placeAt(payloadSize uint64, key gapindex.Key, between gapindex.Between, newId blockid.Id) WriteResult {
	spaceAvailable := key.SpaceAvailable()
	s.unregisterGap(key)

	offset := s.leftBoundaryOffset(between)

	if !between.HasRight {
		// Tail placement: the new block takes the EOF sentinel's old spot
		// and the EOF entry is relinked past it under its existing id, so
		// client-visible ids stay consecutive.
		s.blocks.Insert(newId, offset, blockindex.Header{Kind: blockindex.Regular, Id: newId, Size: payloadSize}, leftPtr(between), &s.eofId)
		s.blocks.Remove(s.eofId)

		newEofOffset := offset + s.layout.DataSizeBlockMin() + payloadSize
		s.blocks.Insert(s.eofId, newEofOffset, blockindex.Header{Kind: blockindex.EndOfFile, Id: s.eofId}, &newId, nil)
	} else {
		s.blocks.Insert(newId, offset, blockindex.Header{Kind: blockindex.Regular, Id: newId, Size: payloadSize}, leftPtr(between), &between.Right)
	}

	s.blocksCount++
	s.dataBytesUsed += payloadSize

	result := WriteResult{
		Kind:     WritePerform,
		BlockId:  newId,
		Offset:   offset,
		TaskKind: Commit,
	}
	if !between.HasRight {
		result.TaskKind = CommitAndEof
	}

	remaining := spaceAvailable - payloadSize
	if remaining >= s.layout.DataSizeBlockMin() {
		newGapSpace := remaining - s.layout.DataSizeBlockMin()
		var newBetween gapindex.Between
		if between.HasRight {
			newBetween = gapindex.TwoBlocks(newId, between.Right)
		} else {
			newBetween = gapindex.BlockAndEnd(newId)
		}
		newGapKey := s.registerGap(newGapSpace, newBetween)

		if between.HasRight {
			result.DefragOp = s.queueOpFor(between.Right, newGapKey)
		}
	}
	return result
}

func leftPtr(between gapindex.Between) *blockid.Id {
	if !between.HasLeft {
		return nil
	}
	left := between.Left
	return &left
}

// ReadResult is the planner's decision for a read request.
type ReadResult struct {
	Found  bool
	Offset uint64
	Header blockindex.Header
}

// ProcessReadBlockRequest is an index lookup only; it mutates nothing.
func (s *Schema) ProcessReadBlockRequest(id blockid.Id) ReadResult {
	e, ok := s.blocks.Get(id)
	if !ok || e.Header.Kind != blockindex.Regular {
		return ReadResult{}
	}
	return ReadResult{Found: true, Offset: e.Offset, Header: e.Header}
}

// ProcessDeleteBlockRequest validates presence only; the state change
// happens at ProcessDeleteBlockTaskDone once the tombstone is durable.
func (s *Schema) ProcessDeleteBlockRequest(id blockid.Id) bool {
	e, ok := s.blocks.Get(id)
	return ok && e.Header.Kind == blockindex.Regular
}

// DeleteResult is the planner's decision once a delete task completes.
type DeleteResult struct {
	DefragOp      DefragOp
	Entry         blockindex.Entry
	FreedSpaceKey gapindex.Key
}

// ProcessDeleteBlockTaskDone removes id's entry, merges its two flanking
// gaps (plus the overhead the block itself freed) into one new gap, and
// optionally queues the right neighbor for relocation to coalesce further.
func (s *Schema) ProcessDeleteBlockTaskDone(id blockid.Id) DeleteResult {
	defragOp, freedKey, entry := s.mergeAfterDelete(id)
	s.blocksCount--
	s.dataBytesUsed -= entry.Header.Size
	return DeleteResult{DefragOp: defragOp, Entry: entry, FreedSpaceKey: freedKey}
}

// DeleteDefragResult is ProcessDeleteBlockTaskDoneDefrag's decision; it
// omits the removed entry since the defrag caller already holds it from
// the preceding read.
type DeleteDefragResult struct {
	DefragOp      DefragOp
	FreedSpaceKey gapindex.Key
}

// ProcessDeleteBlockTaskDoneDefrag performs the identical merge as
// ProcessDeleteBlockTaskDone; the distinct name exists because the caller
// (a defrag relocation in progress) treats the freed gap differently: it
// is earmarked for the rewrite that immediately follows, not offered to
// the pending-writes queue.
func (s *Schema) ProcessDeleteBlockTaskDoneDefrag(id blockid.Id) DeleteDefragResult {
	defragOp, freedKey, entry := s.mergeAfterDelete(id)
	s.blocksCount--
	s.dataBytesUsed -= entry.Header.Size
	return DeleteDefragResult{DefragOp: defragOp, FreedSpaceKey: freedKey}
}

func (s *Schema) mergeAfterDelete(id blockid.Id) (DefragOp, gapindex.Key, blockindex.Entry) {
	entry, _ := s.blocks.Get(id)
	hasLeft, left := entry.Left()
	rightNeighbor, hasRightNeighbor := entry.Right()
	// A right neighbor that is the EOF sentinel is not a regular block as
	// far as the gap index is concerned: gapindex.Between never names EOF,
	// the absence of a right side stands for it implicitly.
	hasRight := hasRightNeighbor && rightNeighbor != s.eofId
	right := rightNeighbor

	dsbm := s.layout.DataSizeBlockMin()

	// Raw width of the region flanking this block on a side is 0 unless a
	// gap object is actually registered there: a block may sit perfectly
	// flush against its neighbor with no free bytes between them at all.
	rawBefore := uint64(0)
	if leftKey, ok := s.gapBeforeBlock[id]; ok {
		rawBefore = leftKey.SpaceAvailable() + dsbm
		s.unregisterGap(leftKey)
	}
	rawAfter := uint64(0)
	if rightKey, ok := s.gapAfterBlock[id]; ok {
		rawAfter = rightKey.SpaceAvailable() + dsbm
		s.unregisterGap(rightKey)
	}
	freedRaw := dsbm + entry.Header.Size
	mergedRaw := rawBefore + freedRaw + rawAfter
	mergedSpace := mergedRaw - dsbm

	s.blocks.Remove(id)

	var newBetween gapindex.Between
	if hasLeft && hasRight {
		newBetween = gapindex.TwoBlocks(left, right)
	} else if hasLeft {
		newBetween = gapindex.BlockAndEnd(left)
	} else if hasRight {
		newBetween = gapindex.StartAndBlock(right)
	} else {
		newBetween = gapindex.Between{}
	}
	freedKey := s.registerGap(mergedSpace, newBetween)

	var defragOp DefragOp
	if hasRight {
		defragOp = s.queueOpFor(right, freedKey)
	}
	return defragOp, freedKey, entry
}

// Info reports the point-in-time usage summary (spec §4.3's info()). Its
// BytesFree does not yet account for bytes reserved by the pending-defrag
// queue; callers needing the client-facing figure subtract that separately.
type Info struct {
	BlocksCount      int
	WheelSizeBytes   uint64
	ServiceBytesUsed uint64
	DataBytesUsed    uint64
	BytesFree        uint64
}

// Info computes the current usage summary.
func (s *Schema) Info() Info {
	return Info{
		BlocksCount:      s.blocksCount,
		WheelSizeBytes:   s.wheelSizeBytes,
		ServiceBytesUsed: s.layout.DataSizeServiceMin() + uint64(s.blocksCount)*s.layout.DataSizeBlockMin(),
		DataBytesUsed:    s.dataBytesUsed,
		BytesFree:        s.gaps.SpaceTotal(),
	}
}

// BlockIndex exposes the underlying block index for read-only queries the
// performer needs directly (iteration, neighbor checks).
func (s *Schema) BlockIndex() *blockindex.Index {
	return s.blocks
}

// GapIndex exposes the underlying gap index for read-only queries.
func (s *Schema) GapIndex() *gapindex.Index {
	return s.gaps
}
