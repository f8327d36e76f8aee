// Package taskqueue is the per-block FIFO of pending I/O plus the
// offset-ordered trigger set the performer's elevator dispatch consults
// (spec §4.4). A block id's FIFO guarantees at most one outstanding I/O per
// id at the interpreter; the trigger set names which blocks currently have
// a head task waiting and at what offset, so the next dispatch can pick the
// nearest one in the direction of travel.
package taskqueue

import (
	"container/list"

	"github.com/petar/GoLLRB/llrb"

	"github.com/swizard0/blockwheel/internal/blockid"
)

// Kind distinguishes the three task shapes a block's FIFO can hold.
type Kind int

const (
	Write Kind = iota
	Read
	Delete
)

// Task is one pending operation against a block id. Context carries an
// opaque payload defined by the caller (performer): client reply tokens,
// defrag markers, in-flight read buffers, etc.
type Task struct {
	Kind    Kind
	Context interface{}
}

// BlockGet resolves a block id's current file offset, backed by the block
// index. It returns ok=false if the id is not currently indexed.
type BlockGet func(blockid.Id) (offset uint64, ok bool)

type triggerItem struct {
	offset uint64
	id     blockid.Id
}

func (a *triggerItem) Less(other llrb.Item) bool {
	b := other.(*triggerItem)
	if a.offset != b.offset {
		return a.offset < b.offset
	}
	return a.id < b.id
}

// Queue owns every block's FIFO, the trigger set, and the flush slot.
type Queue struct {
	perBlock       map[blockid.Id]*list.List
	trigger        *llrb.LLRB
	triggerOffsets map[blockid.Id]uint64
	flushes        *list.List
}

// New returns an empty task queue.
func New() *Queue {
	return &Queue{
		perBlock:       make(map[blockid.Id]*list.List),
		trigger:        llrb.New(),
		triggerOffsets: make(map[blockid.Id]uint64),
		flushes:        list.New(),
	}
}

// IsEmptyTasks reports whether every block's FIFO is empty.
func (q *Queue) IsEmptyTasks() bool {
	return len(q.perBlock) == 0
}

// Lens focuses the queue's operations on a single block id.
type Lens struct {
	q  *Queue
	id blockid.Id
}

// FocusBlockId returns a Lens over id's FIFO.
func (q *Queue) FocusBlockId(id blockid.Id) *Lens {
	return &Lens{q: q, id: id}
}

// BlockId returns the id this lens is focused on.
func (l *Lens) BlockId() blockid.Id {
	return l.id
}

func (l *Lens) fifo() *list.List {
	return l.q.perBlock[l.id]
}

func (l *Lens) fifoOrCreate() *list.List {
	lst, ok := l.q.perBlock[l.id]
	if !ok {
		lst = list.New()
		l.q.perBlock[l.id] = lst
	}
	return lst
}

func (l *Lens) dropIfEmpty(lst *list.List) {
	if lst.Len() == 0 {
		delete(l.q.perBlock, l.id)
	}
}

// PushTask appends a task to the back of this block's FIFO. It does not by
// itself register the block in the trigger set — callers explicitly call
// Enqueue once placement is settled, mirroring the source's separation of
// "append work" from "make it dispatchable".
func (l *Lens) PushTask(t Task) {
	l.fifoOrCreate().PushBack(t)
}

func (l *Lens) popFront() (Task, bool) {
	lst := l.fifo()
	if lst == nil || lst.Len() == 0 {
		return Task{}, false
	}
	front := lst.Front()
	lst.Remove(front)
	l.dropIfEmpty(lst)
	return front.Value.(Task), true
}

func (l *Lens) peekFront() (Task, bool) {
	lst := l.fifo()
	if lst == nil || lst.Len() == 0 {
		return Task{}, false
	}
	return lst.Front().Value.(Task), true
}

// PopWriteTask removes and returns the head task if it is a Write, else
// leaves the FIFO untouched and returns ok=false.
func (l *Lens) PopWriteTask() (Task, bool) {
	return l.popFrontIfKind(Write)
}

// PopReadTask removes and returns the head task if it is a Read.
func (l *Lens) PopReadTask() (Task, bool) {
	return l.popFrontIfKind(Read)
}

// PopDeleteTask removes and returns the head task if it is a Delete.
func (l *Lens) PopDeleteTask() (Task, bool) {
	return l.popFrontIfKind(Delete)
}

func (l *Lens) popFrontIfKind(kind Kind) (Task, bool) {
	t, ok := l.peekFront()
	if !ok || t.Kind != kind {
		return Task{}, false
	}
	return l.popFront()
}

// PopTask removes and returns the head task regardless of kind, used to
// drain a block's FIFO once its id has been retired.
func (l *Lens) PopTask() (Task, bool) {
	return l.popFront()
}

// PeekTask returns the head task without removing it. The performer uses
// this to inspect the task the elevator is about to dispatch before
// committing to it; the task is only actually removed once the interpreter
// reports it done, via Finish.
func (l *Lens) PeekTask() (Task, bool) {
	return l.peekFront()
}

// Finish removes the head task unconditionally, acknowledging that the
// interpreter has completed it. Per-block serialization (spec §4.4)
// guarantees the head is exactly the task that just completed.
func (l *Lens) Finish() (Task, bool) {
	return l.popFront()
}

// Enqueue registers this block id in the trigger set at its current offset
// if a head task remains, or removes any stale registration otherwise.
func (l *Lens) Enqueue(blockGet BlockGet) {
	lst := l.fifo()
	if lst == nil || lst.Len() == 0 {
		l.unregisterTrigger()
		return
	}
	offset, ok := blockGet(l.id)
	if !ok {
		l.unregisterTrigger()
		return
	}
	if old, exists := l.q.triggerOffsets[l.id]; exists {
		if old == offset {
			return
		}
		l.q.trigger.Delete(&triggerItem{offset: old, id: l.id})
	}
	l.q.trigger.ReplaceOrInsert(&triggerItem{offset: offset, id: l.id})
	l.q.triggerOffsets[l.id] = offset
}

func (l *Lens) unregisterTrigger() {
	if old, exists := l.q.triggerOffsets[l.id]; exists {
		l.q.trigger.Delete(&triggerItem{offset: old, id: l.id})
		delete(l.q.triggerOffsets, l.id)
	}
}

// NextTrigger picks the block with a pending head task whose offset is the
// smallest offset >= currentOffset (elevator dispatch), wrapping to the
// smallest offset overall if nothing is >= currentOffset. The chosen block
// is removed from the trigger set; callers re-register it via Lens.Enqueue
// once they know whether more work remains after popping its head task.
func (q *Queue) NextTrigger(currentOffset uint64) (offset uint64, lens *Lens, ok bool) {
	var found *triggerItem
	q.trigger.AscendGreaterOrEqual(&triggerItem{offset: currentOffset}, func(item llrb.Item) bool {
		found = item.(*triggerItem)
		return false
	})
	if found == nil {
		q.trigger.AscendGreaterOrEqual(&triggerItem{offset: 0}, func(item llrb.Item) bool {
			found = item.(*triggerItem)
			return false
		})
	}
	if found == nil {
		return 0, nil, false
	}
	q.trigger.Delete(found)
	delete(q.triggerOffsets, found.id)
	return found.offset, q.FocusBlockId(found.id), true
}

// PushFlush enqueues a flush token, to be popped once the queue quiesces.
func (q *Queue) PushFlush(token interface{}) {
	q.flushes.PushBack(token)
}

// PopFlush removes and returns the oldest pending flush token, if any.
func (q *Queue) PopFlush() (interface{}, bool) {
	front := q.flushes.Front()
	if front == nil {
		return nil, false
	}
	q.flushes.Remove(front)
	return front.Value, true
}
