// Package performer is the owner-driven state machine at the center of the
// wheel (spec §4.6). Performer itself does no I/O and is never touched by
// more than one goroutine: a single owner loop alternates calling Next and
// feeding results back through SubmitRequest / SubmitInterpretDone, exactly
// the cooperative, lock-free shape the source's Performer::next state
// machine uses, translated from its ownership-passing ...Next continuations
// into plain mutating methods since Go has no borrow checker to satisfy.
package performer

import (
	"github.com/swizard0/blockwheel/internal/blockid"
	"github.com/swizard0/blockwheel/internal/blockindex"
	"github.com/swizard0/blockwheel/internal/defrag"
	"github.com/swizard0/blockwheel/internal/layout"
	"github.com/swizard0/blockwheel/internal/lrucache"
	"github.com/swizard0/blockwheel/internal/schema"
	"github.com/swizard0/blockwheel/internal/taskqueue"
)

// RequestKind distinguishes the client-facing operations the performer accepts.
type RequestKind int

const (
	ReqInfo RequestKind = iota
	ReqFlush
	ReqWriteBlock
	ReqReadBlock
	ReqDeleteBlock
	ReqIterBlocks
)

// Request is one client-facing call. Reply is an opaque token the caller
// supplies and later receives back unchanged on the matching Event; the
// performer never interprets it (in practice a reply channel).
type Request struct {
	Kind RequestKind

	WriteBytes []byte
	ReadId     blockid.Id
	DeleteId   blockid.Id

	Reply interface{}
}

// EventKind distinguishes the shapes an emitted Event can take.
type EventKind int

const (
	EvInfo EventKind = iota
	EvFlush
	EvWriteBlock
	EvWriteNoSpace
	EvReadBlock
	EvReadNotFound
	EvDeleteBlock
	EvDeleteNotFound
	EvIterItem
	EvIterFinish
)

// Event is a reply the owner loop must forward to whoever holds Reply.
type Event struct {
	Kind  EventKind
	Reply interface{}

	Info         schema.Info
	WriteBlockId blockid.Id
	ReadBytes    []byte
	IterId       blockid.Id
}

// OpKind distinguishes what Next is asking its caller to do.
type OpKind int

const (
	// OpIdle never escapes Next (kept only as the zero value); Next always
	// resolves to one of the other four before returning.
	OpIdle OpKind = iota
	// OpPollRequest: no interpreter task is outstanding; block for the next
	// client request.
	OpPollRequest
	// OpPollRequestAndInterpreter: an interpreter task is outstanding;
	// block for either a new client request or that task's completion.
	OpPollRequestAndInterpreter
	// OpInterpretTask: dispatch this to the interpreter, then call
	// SubmitInterpretDone once it reports completion.
	OpInterpretTask
	// OpEvent: forward this reply, then call Next again immediately.
	OpEvent
)

// Op is Next's instruction to its caller.
type Op struct {
	Kind          OpKind
	InterpretTask InterpretTask
	Event         Event
}

// InterpretTask is one unit of disk work the owner hands to the interpreter.
type InterpretTask struct {
	Offset       uint64
	BlockId      blockid.Id
	Kind         taskqueue.Kind
	WriteBytes   []byte
	WriteCRC     uint64
	CommitAndEof bool
	ReadSize     uint64
}

// InterpretDone is what the owner reports back once an InterpretTask
// finishes. CurrentOffset is where the operation left the file position,
// becoming the elevator's new reference point.
type InterpretDone struct {
	BlockId       blockid.Id
	Kind          taskqueue.Kind
	CurrentOffset uint64
	ReadBytes     []byte
}

type originKind int

const (
	originExternal originKind = iota
	originDefragRead
	originDefragDelete
	originDefragWrite
	originIterRead
)

// taskContext is the Context payload every task pushed onto the taskqueue
// carries: who asked for it and, for defrag-tagged tasks, the witness that
// justified relocating this block.
type taskContext struct {
	Origin originKind
	Reply  interface{}

	Gaps         defrag.Gaps
	WriteBytes   []byte
	WriteCRC     uint64
	CommitAndEof bool
	IterNextId   blockid.Id
}

type doneTaskKind int

const (
	doneNone doneTaskKind = iota
	doneReadBlock
	doneDeleteRegular
)

type doneTaskEntry struct {
	Kind    doneTaskKind
	BlockId blockid.Id
	Bytes   []byte
}

// Performer is the owner-driven state machine. It is not safe for
// concurrent use; exactly one goroutine may call its methods.
type Performer struct {
	schema    *schema.Schema
	lru       *lrucache.Cache
	tasks     *taskqueue.Queue
	defragCtl *defrag.Controller

	busy      bool
	bgOffset  uint64
	bgBlockId blockid.Id

	doneTask doneTaskEntry

	pendingEvents []Event
}

// New builds a performer over an already-initialized schema and cache.
func New(s *schema.Schema, cache *lrucache.Cache, defragCfg defrag.Config) *Performer {
	return &Performer{
		schema:    s,
		lru:       cache,
		tasks:     taskqueue.New(),
		defragCtl: defrag.NewController(defragCfg),
	}
}

// Next returns the oldest buffered event if there is one; otherwise it runs
// every internal bookkeeping step (done-task fan-out, pending writes, defrag
// reads, flush quiescence) and returns the next instruction. Callers loop
// on Next, handling each OpEvent
// and calling Next again immediately, until a poll or interpret-task
// instruction is returned.
func (p *Performer) Next() Op {
	if ev, ok := p.popPendingEvent(); ok {
		return Op{Kind: OpEvent, Event: ev}
	}

	p.drainDoneTask()
	p.drainPendingWrites()
	p.enqueueDefragReads()
	p.flushQuiescence()

	if ev, ok := p.popPendingEvent(); ok {
		return Op{Kind: OpEvent, Event: ev}
	}
	return p.pickNextIO()
}

// SubmitRequest feeds a client-facing request into the performer. Some
// requests resolve immediately (an Info snapshot, a cache hit, a missing
// id); those surface as an Event from the next Next call. Others enqueue
// disk work and resolve only once SubmitInterpretDone reports it finished.
func (p *Performer) SubmitRequest(req Request) {
	switch req.Kind {
	case ReqInfo:
		info := p.schema.Info()
		if pending := p.defragCtl.Pending.PendingBytes(); pending > info.BytesFree {
			info.BytesFree = 0
		} else {
			info.BytesFree -= pending
		}
		p.pushEvent(Event{Kind: EvInfo, Reply: req.Reply, Info: info})
	case ReqFlush:
		p.tasks.PushFlush(req.Reply)
	case ReqWriteBlock:
		p.handleWrite(req.WriteBytes, req.Reply)
	case ReqReadBlock:
		p.handleRead(req.ReadId, req.Reply)
	case ReqDeleteBlock:
		p.handleDelete(req.DeleteId, req.Reply)
	case ReqIterBlocks:
		p.continueIteration(blockid.Init(), req.Reply)
	}
}

// SubmitInterpretDone reports that a previously dispatched InterpretTask
// finished, releasing the performer to dispatch its next one.
func (p *Performer) SubmitInterpretDone(done InterpretDone) {
	p.busy = false
	p.bgOffset = done.CurrentOffset

	lens := p.tasks.FocusBlockId(done.BlockId)
	t, ok := lens.Finish()
	if !ok {
		return
	}
	ctx, _ := t.Context.(taskContext)

	switch t.Kind {
	case taskqueue.Write:
		lens.Enqueue(p.blockGet)
		if ctx.Origin == originExternal {
			p.pushEvent(Event{Kind: EvWriteBlock, Reply: ctx.Reply, WriteBlockId: done.BlockId})
		} else {
			p.defragCtl.DecrementInProgress()
		}

	case taskqueue.Read:
		p.lru.Insert(done.BlockId, done.ReadBytes)
		p.resolveReadWaiter(done.BlockId, t, done.ReadBytes)
		lens.Enqueue(p.blockGet)
		p.doneTask = doneTaskEntry{Kind: doneReadBlock, BlockId: done.BlockId, Bytes: done.ReadBytes}

	case taskqueue.Delete:
		if ctx.Origin == originExternal {
			p.lru.Invalidate(done.BlockId)
			res := p.schema.ProcessDeleteBlockTaskDone(done.BlockId)
			p.enqueueDefragCandidate(res.DefragOp)
			p.pushEvent(Event{Kind: EvDeleteBlock, Reply: ctx.Reply})
			p.doneTask = doneTaskEntry{Kind: doneDeleteRegular, BlockId: done.BlockId}
		} else {
			p.finishDefragDelete(done.BlockId, ctx)
		}
	}
}

// finishDefragDelete merges the gap the old copy just vacated, then
// immediately re-places the same block id at its new location and queues
// the rewrite. The id is preserved across the relocation.
func (p *Performer) finishDefragDelete(id blockid.Id, ctx taskContext) {
	res := p.schema.ProcessDeleteBlockTaskDoneDefrag(id)
	p.enqueueDefragCandidate(res.DefragOp)

	payloadSize := uint64(len(ctx.WriteBytes))
	wres := p.schema.ProcessWriteBlockRequestWithId(id, payloadSize, p.defragCtl.Pending.PendingBytes())
	if wres.Kind != schema.WritePerform {
		// Unreachable under single-threaded cooperative execution: nothing
		// else can have claimed the gap this block's own deletion just
		// freed between the two calls above.
		return
	}

	lens := p.tasks.FocusBlockId(id)
	lens.PushTask(taskqueue.Task{Kind: taskqueue.Write, Context: taskContext{
		Origin:       originDefragWrite,
		WriteBytes:   ctx.WriteBytes,
		WriteCRC:     ctx.WriteCRC,
		CommitAndEof: wres.TaskKind == schema.CommitAndEof,
	}})
	lens.Enqueue(p.blockGet)
	p.enqueueDefragCandidate(wres.DefragOp)
}

// resolveReadWaiter dispatches one completed (or cache-satisfied) read
// according to who asked for it.
func (p *Performer) resolveReadWaiter(blockId blockid.Id, t taskqueue.Task, bytes []byte) {
	ctx, _ := t.Context.(taskContext)
	switch ctx.Origin {
	case originExternal:
		p.pushEvent(Event{Kind: EvReadBlock, Reply: ctx.Reply, ReadBytes: bytes})

	case originIterRead:
		p.pushEvent(Event{Kind: EvIterItem, Reply: ctx.Reply, IterId: blockId, ReadBytes: bytes})
		p.continueIteration(ctx.IterNextId, ctx.Reply)

	case originDefragRead:
		if !ctx.Gaps.IsStillRelevant(p.schema.BlockIndex(), blockId) {
			p.defragCtl.DecrementInProgress()
			return
		}
		crc := layout.CRC64(bytes)
		lens := p.tasks.FocusBlockId(blockId)
		lens.PushTask(taskqueue.Task{Kind: taskqueue.Delete, Context: taskContext{
			Origin:     originDefragDelete,
			Gaps:       ctx.Gaps,
			WriteBytes: bytes,
			WriteCRC:   crc,
		}})
		lens.Enqueue(p.blockGet)
	}
}

// drainDoneTask handles the deferred fan-out of the task that completed on
// the previous Next/SubmitInterpretDone round trip: extra read waiters
// queued behind the one that just triggered the fetch, or every op left
// queued against an id an external delete just retired.
func (p *Performer) drainDoneTask() {
	d := p.doneTask
	p.doneTask = doneTaskEntry{}

	switch d.Kind {
	case doneReadBlock:
		lens := p.tasks.FocusBlockId(d.BlockId)
		for {
			t, ok := lens.PopReadTask()
			if !ok {
				break
			}
			p.resolveReadWaiter(d.BlockId, t, d.Bytes)
		}
		lens.Enqueue(p.blockGet)

	case doneDeleteRegular:
		p.cancelRemaining(d.BlockId)
	}
}

// cancelRemaining drains every task still queued against an id that no
// longer exists, answering external callers with "not found" and quietly
// dropping defrag bookkeeping for anything else.
func (p *Performer) cancelRemaining(id blockid.Id) {
	lens := p.tasks.FocusBlockId(id)
	for {
		t, ok := lens.PopTask()
		if !ok {
			return
		}
		ctx, _ := t.Context.(taskContext)
		switch ctx.Origin {
		case originExternal:
			switch t.Kind {
			case taskqueue.Read:
				p.pushEvent(Event{Kind: EvReadNotFound, Reply: ctx.Reply})
			case taskqueue.Delete:
				p.pushEvent(Event{Kind: EvDeleteNotFound, Reply: ctx.Reply})
			}
		case originIterRead:
			p.continueIteration(ctx.IterNextId, ctx.Reply)
		case originDefragRead, originDefragDelete, originDefragWrite:
			p.defragCtl.DecrementInProgress()
		}
	}
}

// drainPendingWrites retries the head of the deferred-write FIFO after any
// change that may have freed or merged gaps. It stops at the first write
// that still does not fit, preserving submission order among pending writes.
func (p *Performer) drainPendingWrites() {
	for {
		pw, ok := p.defragCtl.Pending.Peek()
		if !ok {
			return
		}
		otherPending := p.defragCtl.Pending.PendingBytes() - uint64(len(pw.Bytes))
		res := p.schema.ProcessWriteBlockRequest(uint64(len(pw.Bytes)), otherPending)
		if res.Kind != schema.WritePerform {
			return
		}
		p.defragCtl.Pending.Pop()

		crc := layout.CRC64(pw.Bytes)
		if pw.CRC != nil {
			crc = *pw.CRC
		}
		lens := p.tasks.FocusBlockId(res.BlockId)
		lens.PushTask(taskqueue.Task{Kind: taskqueue.Write, Context: taskContext{
			Origin:       originExternal,
			Reply:        pw.Context,
			WriteBytes:   pw.Bytes,
			WriteCRC:     crc,
			CommitAndEof: res.TaskKind == schema.CommitAndEof,
		}})
		lens.Enqueue(p.blockGet)
		p.enqueueDefragCandidate(res.DefragOp)
	}
}

// enqueueDefragReads starts as many queued relocations as the controller has
// capacity for, skipping any candidate that went stale while it waited.
func (p *Performer) enqueueDefragReads() {
	for p.defragCtl.HasCapacity() {
		task, ok := p.defragCtl.Tasks.Pop()
		if !ok {
			return
		}
		entry, ok := p.schema.BlockIndex().Get(task.BlockId)
		if !ok || entry.Header.Kind != blockindex.Regular {
			continue
		}
		if !task.Gaps.IsStillRelevant(p.schema.BlockIndex(), task.BlockId) {
			continue
		}
		lens := p.tasks.FocusBlockId(task.BlockId)
		lens.PushTask(taskqueue.Task{Kind: taskqueue.Read, Context: taskContext{Origin: originDefragRead, Gaps: task.Gaps}})
		lens.Enqueue(p.blockGet)
		p.defragCtl.IncrementInProgress()
	}
}

// flushQuiescence answers every pending flush once no work of any kind
// remains outstanding.
func (p *Performer) flushQuiescence() {
	if !p.tasks.IsEmptyTasks() || p.defragCtl.InProgressCount() != 0 {
		return
	}
	for {
		reply, ok := p.tasks.PopFlush()
		if !ok {
			return
		}
		p.pushEvent(Event{Kind: EvFlush, Reply: reply})
	}
}

// pickNextIO is the elevator dispatch: while idle, pick the nearest
// triggerable block in the direction of travel and hand its head task to
// the interpreter, skipping (and cancelling) any stale defrag delete found
// at the head.
func (p *Performer) pickNextIO() Op {
	if p.busy {
		return Op{Kind: OpPollRequestAndInterpreter}
	}
	for {
		offset, lens, ok := p.tasks.NextTrigger(p.bgOffset)
		if !ok {
			return Op{Kind: OpPollRequest}
		}
		t, ok := lens.PeekTask()
		if !ok {
			continue
		}
		if t.Kind == taskqueue.Delete {
			if ctx, ok := t.Context.(taskContext); ok && ctx.Origin == originDefragDelete {
				if !ctx.Gaps.IsStillRelevant(p.schema.BlockIndex(), lens.BlockId()) {
					lens.Finish()
					lens.Enqueue(p.blockGet)
					p.defragCtl.DecrementInProgress()
					continue
				}
			}
		}

		p.busy = true
		p.bgBlockId = lens.BlockId()
		return Op{Kind: OpInterpretTask, InterpretTask: p.buildInterpretTask(lens.BlockId(), offset, t)}
	}
}

func (p *Performer) buildInterpretTask(id blockid.Id, offset uint64, t taskqueue.Task) InterpretTask {
	it := InterpretTask{Offset: offset, BlockId: id, Kind: t.Kind}
	ctx, _ := t.Context.(taskContext)
	switch t.Kind {
	case taskqueue.Write:
		it.WriteBytes = ctx.WriteBytes
		it.WriteCRC = ctx.WriteCRC
		it.CommitAndEof = ctx.CommitAndEof
	case taskqueue.Read, taskqueue.Delete:
		// The interpreter needs the payload size to locate the commit tag
		// that follows it, for a Read's bounds or a Delete's tombstone.
		if e, ok := p.schema.BlockIndex().Get(id); ok {
			it.ReadSize = e.Header.Size
		}
	}
	return it
}

func (p *Performer) handleWrite(bytes []byte, reply interface{}) {
	res := p.schema.ProcessWriteBlockRequest(uint64(len(bytes)), p.defragCtl.Pending.PendingBytes())
	switch res.Kind {
	case schema.WritePerform:
		lens := p.tasks.FocusBlockId(res.BlockId)
		lens.PushTask(taskqueue.Task{Kind: taskqueue.Write, Context: taskContext{
			Origin:       originExternal,
			Reply:        reply,
			WriteBytes:   bytes,
			WriteCRC:     layout.CRC64(bytes),
			CommitAndEof: res.TaskKind == schema.CommitAndEof,
		}})
		lens.Enqueue(p.blockGet)
		p.enqueueDefragCandidate(res.DefragOp)
	case schema.WriteQueuePendingDefrag:
		if p.defragCtl.Config.Disabled {
			p.pushEvent(Event{Kind: EvWriteNoSpace, Reply: reply})
			return
		}
		crc := layout.CRC64(bytes)
		p.defragCtl.Pending.Push(defrag.PendingWrite{Bytes: bytes, CRC: &crc, Context: reply})
	case schema.WriteNoSpaceLeft:
		p.pushEvent(Event{Kind: EvWriteNoSpace, Reply: reply})
	}
}

func (p *Performer) handleRead(id blockid.Id, reply interface{}) {
	if bytes, hit := p.lru.Get(id); hit {
		p.pushEvent(Event{Kind: EvReadBlock, Reply: reply, ReadBytes: bytes})
		return
	}
	res := p.schema.ProcessReadBlockRequest(id)
	if !res.Found {
		p.pushEvent(Event{Kind: EvReadNotFound, Reply: reply})
		return
	}
	lens := p.tasks.FocusBlockId(id)
	lens.PushTask(taskqueue.Task{Kind: taskqueue.Read, Context: taskContext{Origin: originExternal, Reply: reply}})
	lens.Enqueue(p.blockGet)
}

func (p *Performer) handleDelete(id blockid.Id, reply interface{}) {
	if !p.schema.ProcessDeleteBlockRequest(id) {
		p.pushEvent(Event{Kind: EvDeleteNotFound, Reply: reply})
		return
	}
	lens := p.tasks.FocusBlockId(id)
	lens.PushTask(taskqueue.Task{Kind: taskqueue.Delete, Context: taskContext{Origin: originExternal, Reply: reply}})
	lens.Enqueue(p.blockGet)
}

// continueIteration walks forward from fromId, emitting every block already
// cached directly and stopping to queue a read at the first cache miss (or
// emitting EvIterFinish once no ids remain). The read's completion resumes
// iteration from IterNextId.
func (p *Performer) continueIteration(fromId blockid.Id, reply interface{}) {
	cursor := fromId
	for {
		id, ok := p.schema.BlockIndex().NextBlockIdFrom(cursor)
		if !ok {
			p.pushEvent(Event{Kind: EvIterFinish, Reply: reply})
			return
		}
		e, _ := p.schema.BlockIndex().Get(id)
		if e.Header.Kind != blockindex.Regular {
			cursor = blockid.Next(id)
			continue
		}
		if bytes, hit := p.lru.Get(id); hit {
			p.pushEvent(Event{Kind: EvIterItem, Reply: reply, IterId: id, ReadBytes: bytes})
			cursor = blockid.Next(id)
			continue
		}
		lens := p.tasks.FocusBlockId(id)
		lens.PushTask(taskqueue.Task{Kind: taskqueue.Read, Context: taskContext{
			Origin:     originIterRead,
			Reply:      reply,
			IterNextId: blockid.Next(id),
		}})
		lens.Enqueue(p.blockGet)
		return
	}
}

func (p *Performer) enqueueDefragCandidate(op schema.DefragOp) {
	if op.Kind != schema.DefragOpQueue {
		return
	}
	entry, ok := p.schema.BlockIndex().Get(op.MovingBlockId)
	if !ok {
		return
	}
	p.defragCtl.Tasks.Push(defrag.MovingTask{Offset: entry.Offset, BlockId: op.MovingBlockId, Gaps: op.Gaps})
}

func (p *Performer) blockGet(id blockid.Id) (uint64, bool) {
	e, ok := p.schema.BlockIndex().Get(id)
	if !ok {
		return 0, false
	}
	return e.Offset, true
}

func (p *Performer) pushEvent(e Event) {
	p.pendingEvents = append(p.pendingEvents, e)
}

func (p *Performer) popPendingEvent() (Event, bool) {
	if len(p.pendingEvents) == 0 {
		return Event{}, false
	}
	e := p.pendingEvents[0]
	p.pendingEvents = p.pendingEvents[1:]
	return e, true
}
