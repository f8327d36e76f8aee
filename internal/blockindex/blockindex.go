// Package blockindex maps block ids to their on-disk entry (offset, header)
// and maintains the doubly-linked neighbor relation used to compute
// physical placement (spec §4.2). The index is the in-memory source of
// truth for layout; the wheel file's own headers are the durable copy.
package blockindex

import (
	"github.com/petar/GoLLRB/llrb"

	"github.com/swizard0/blockwheel/internal/blockid"
)

type idItem blockid.Id

func (a idItem) Less(other llrb.Item) bool {
	return a < other.(idItem)
}

// HeaderKind distinguishes a regular block from the EOF sentinel.
type HeaderKind int

const (
	// Regular is a live block carrying a payload.
	Regular HeaderKind = iota
	// EndOfFile is the sentinel entry that always terminates the index.
	EndOfFile
)

// Header is the sum type spec §3 calls Regular{id, size} | EndOfFile.
type Header struct {
	Kind HeaderKind
	Id   blockid.Id
	Size uint64
}

// Entry is the in-memory descriptor of one live or sentinel block.
type Entry struct {
	Offset uint64
	Header Header

	hasLeft  bool
	left     blockid.Id
	hasRight bool
	right    blockid.Id
}

// Left returns the entry's left neighbor id, if any.
func (e Entry) Left() (blockid.Id, bool) {
	return e.left, e.hasLeft
}

// Right returns the entry's right neighbor id, if any.
func (e Entry) Right() (blockid.Id, bool) {
	return e.right, e.hasRight
}

// Index is the id -> Entry map plus a sorted view for NextBlockIdFrom.
type Index struct {
	entries map[blockid.Id]*Entry
	ids     *llrb.LLRB
}

// New returns an empty block index.
func New() *Index {
	return &Index{
		entries: make(map[blockid.Id]*Entry),
		ids:     llrb.New(),
	}
}

// Insert adds or overwrites the entry for id and relinks its neighbors.
func (idx *Index) Insert(id blockid.Id, offset uint64, header Header, left, right *blockid.Id) {
	e := &Entry{Offset: offset, Header: header}
	if left != nil {
		e.hasLeft, e.left = true, *left
	}
	if right != nil {
		e.hasRight, e.right = true, *right
	}
	idx.entries[id] = e
	idx.ids.ReplaceOrInsert(idItem(id))

	if left != nil {
		if le, ok := idx.entries[*left]; ok {
			le.hasRight, le.right = true, id
		}
	}
	if right != nil {
		if re, ok := idx.entries[*right]; ok {
			re.hasLeft, re.left = true, id
		}
	}
}

// Get looks up the entry for id.
func (idx *Index) Get(id blockid.Id) (Entry, bool) {
	e, ok := idx.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Remove deletes id from the index and splices its neighbors together,
// returning the removed entry.
func (idx *Index) Remove(id blockid.Id) (Entry, bool) {
	e, ok := idx.entries[id]
	if !ok {
		return Entry{}, false
	}
	delete(idx.entries, id)
	idx.ids.Delete(idItem(id))

	if e.hasLeft {
		if le, ok := idx.entries[e.left]; ok {
			if e.hasRight {
				le.hasRight, le.right = true, e.right
			} else {
				le.hasRight = false
			}
		}
	}
	if e.hasRight {
		if re, ok := idx.entries[e.right]; ok {
			if e.hasLeft {
				re.hasLeft, re.left = true, e.left
			} else {
				re.hasLeft = false
			}
		}
	}
	return *e, true
}

// Len reports the number of entries currently indexed, EOF sentinel included.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// NextBlockIdFrom returns the smallest live id >= from.
func (idx *Index) NextBlockIdFrom(from blockid.Id) (blockid.Id, bool) {
	var best blockid.Id
	found := false
	idx.ids.AscendGreaterOrEqual(idItem(from), func(item llrb.Item) bool {
		best, found = blockid.Id(item.(idItem)), true
		return false
	})
	return best, found
}

// NeighborsMatch reports whether id's current left/right neighbors equal the
// given expectations, used to revalidate a DefragGaps witness (spec §4.2:
// "still relevant" means the two recorded gaps are still both adjacent to
// the block).
func (idx *Index) NeighborsMatch(id blockid.Id, hasLeft bool, left blockid.Id, hasRight bool, right blockid.Id) bool {
	e, ok := idx.entries[id]
	if !ok {
		return false
	}
	if e.hasLeft != hasLeft || (hasLeft && e.left != left) {
		return false
	}
	if e.hasRight != hasRight || (hasRight && e.right != right) {
		return false
	}
	return true
}
