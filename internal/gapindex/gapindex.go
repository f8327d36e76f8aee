// Package gapindex is the ordered multiset of free gaps between blocks on
// the wheel (spec §4.1). Allocation is best-fit: the smallest gap whose
// space_available satisfies a request wins, ties broken by insertion order.
//
// The ordering structure is github.com/petar/GoLLRB/llrb, the same
// red-black tree go-car v2 pulls in transitively for sorted index
// iteration; here it backs (size, serial) keyed best-fit queries instead of
// sorted CID iteration.
package gapindex

import (
	"sync/atomic"

	"github.com/petar/GoLLRB/llrb"

	"github.com/swizard0/blockwheel/internal/blockid"
)

// Between names the two logical neighbors a gap sits between.
type Between struct {
	// StartAndBlock is set (via HasLeft=false) when the gap runs from the
	// start of the data region up to Right.
	HasLeft  bool
	HasRight bool
	Left     blockid.Id
	Right    blockid.Id
}

// StartAndBlock builds a Between for the gap preceding the wheel's first block.
func StartAndBlock(right blockid.Id) Between {
	return Between{HasRight: true, Right: right}
}

// TwoBlocks builds a Between for a gap flanked by two regular blocks.
func TwoBlocks(left, right blockid.Id) Between {
	return Between{HasLeft: true, Left: left, HasRight: true, Right: right}
}

// BlockAndEnd builds a Between for the gap that ends at the EOF sentinel.
func BlockAndEnd(left blockid.Id) Between {
	return Between{HasLeft: true, Left: left}
}

// Key is an opaque, stable reference to a gap's position in the index,
// returned by Insert and required by Remove.
type Key struct {
	space  uint64
	serial uint64
}

// SpaceAvailable is the payload-byte capacity the key's gap was inserted with.
func (k Key) SpaceAvailable() uint64 {
	return k.space
}

type entry struct {
	key     Key
	between Between
}

func (e *entry) Less(other llrb.Item) bool {
	o := other.(*entry)
	if e.key.space != o.key.space {
		return e.key.space < o.key.space
	}
	return e.key.serial < o.key.serial
}

// Index is the best-fit gap allocator.
type Index struct {
	tree       *llrb.LLRB
	byKey      map[Key]*entry
	nextSerial uint64
	total      uint64
}

// New returns an empty gap index.
func New() *Index {
	return &Index{
		tree:  llrb.New(),
		byKey: make(map[Key]*entry),
	}
}

// Insert registers a new gap and returns the key identifying it.
func (idx *Index) Insert(spaceAvailable uint64, between Between) Key {
	serial := atomic.AddUint64(&idx.nextSerial, 1)
	key := Key{space: spaceAvailable, serial: serial}
	e := &entry{key: key, between: between}
	idx.tree.InsertNoReplace(e)
	idx.byKey[key] = e
	idx.total += spaceAvailable
	return key
}

// Remove deletes the gap identified by key, if present.
func (idx *Index) Remove(key Key) (Between, bool) {
	e, ok := idx.byKey[key]
	if !ok {
		return Between{}, false
	}
	idx.tree.Delete(e)
	delete(idx.byKey, key)
	idx.total -= key.space
	return e.between, true
}

// SpaceTotal is the sum of space_available across every gap currently indexed.
func (idx *Index) SpaceTotal() uint64 {
	return idx.total
}

// AllocateResult is the outcome of a best-fit allocation attempt.
type AllocateResult struct {
	// Kind distinguishes Success / PendingDefragmentation / NoSpaceLeft.
	Kind    AllocateKind
	Key     Key
	Between Between
}

// AllocateKind enumerates the three outcomes of Allocate.
type AllocateKind int

const (
	// Success means a single gap satisfies the request; Key/Between name it.
	Success AllocateKind = iota
	// PendingDefragmentation means no single gap fits, but the aggregate
	// free space does.
	PendingDefragmentation
	// NoSpaceLeft means even the aggregate free space is insufficient.
	NoSpaceLeft
)

// Allocate runs the best-fit query described in spec §4.1.
func (idx *Index) Allocate(spaceRequired uint64) AllocateResult {
	var found *entry
	pivot := &entry{key: Key{space: spaceRequired}}
	idx.tree.AscendGreaterOrEqual(pivot, func(item llrb.Item) bool {
		found = item.(*entry)
		return false
	})
	if found != nil {
		return AllocateResult{Kind: Success, Key: found.key, Between: found.between}
	}
	if idx.total >= spaceRequired {
		return AllocateResult{Kind: PendingDefragmentation}
	}
	return AllocateResult{Kind: NoSpaceLeft}
}

// Len reports how many gaps are currently indexed.
func (idx *Index) Len() int {
	return idx.tree.Len()
}
