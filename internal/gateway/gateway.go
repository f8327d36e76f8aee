// Package gateway is the client-facing translation layer spec §1 names as
// an external collaborator but never specifies: it owns the single
// goroutine allowed to drive a performer.Performer, and turns its
// Request/Event protocol into ordinary blocking Go calls a caller can use
// without ever seeing a performer.Request or performer.Event.
package gateway

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/swizard0/blockwheel/internal/blockid"
	"github.com/swizard0/blockwheel/internal/interpret"
	"github.com/swizard0/blockwheel/internal/performer"
	"github.com/swizard0/blockwheel/internal/schema"
)

// Gateway is the blocking interface wheel.go and the CLI drive the wheel
// through. Every method is safe to call from multiple goroutines: dispatch
// onto the owner goroutine is serialized by a single request channel.
type Gateway interface {
	WriteBlock(ctx context.Context, payload []byte) (blockid.Id, error)
	ReadBlock(ctx context.Context, id blockid.Id) ([]byte, error)
	DeleteBlock(ctx context.Context, id blockid.Id) error
	IterBlocks(ctx context.Context, fn func(blockid.Id, []byte) error) error
	Flush(ctx context.Context) error
	Info(ctx context.Context) (schema.Info, error)
	InterpretStats(ctx context.Context) (interpret.Stats, error)
	Close() error
}

// inbound is one request handed to the owner goroutine, paired with the
// channel its single reply is delivered on.
type inbound struct {
	req   performer.Request
	reply chan performer.Event
}

// owner is the sole goroutine allowed to call Performer.Next,
// Performer.SubmitRequest and Performer.SubmitInterpretDone: the performer
// is documented as unsafe for concurrent use, and this is where that
// single-owner discipline is enforced.
type owner struct {
	p   *performer.Performer
	ip  *interpret.Interpreter
	log *zap.Logger

	reqCh      chan inbound
	statsReqCh chan chan interpret.Stats
	closed     chan struct{}
	doneCh     chan struct{}
}

// Open builds a Gateway backed by a running owner goroutine, driving perf
// against disk through ip. Close stops the goroutine and closes ip.
func Open(perf *performer.Performer, ip *interpret.Interpreter, log *zap.Logger) Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	o := &owner{
		p:          perf,
		ip:         ip,
		log:        log,
		reqCh:      make(chan inbound),
		statsReqCh: make(chan chan interpret.Stats),
		closed:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *owner) run() {
	defer close(o.doneCh)
	pending := make(map[interface{}]chan performer.Event)
	for {
		op := o.p.Next()
		switch op.Kind {
		case performer.OpEvent:
			if ch, ok := pending[op.Event.Reply]; ok {
				// EvIterItem is the one event kind where more replies
				// follow on the same channel (EvIterFinish ends it); every
				// other kind is a single-shot request/reply pair.
				if op.Event.Kind != performer.EvIterItem {
					delete(pending, op.Event.Reply)
				}
				ch <- op.Event
			}
		case performer.OpInterpretTask:
			done, err := o.ip.Run(op.InterpretTask)
			if err != nil {
				o.log.Error("interpret task failed", zap.Error(err))
				// The wheel has no way to represent a failed I/O back
				// through the performer's protocol; surfacing it here
				// would desynchronize the state machine, so it is fatal.
				panic(fmt.Sprintf("gateway: interpreter: %v", err))
			}
			o.p.SubmitInterpretDone(done)
		default: // OpIdle, OpPollRequest, OpPollRequestAndInterpreter
			select {
			case in := <-o.reqCh:
				pending[in.req.Reply] = in.reply
				o.p.SubmitRequest(in.req)
			case statsReply := <-o.statsReqCh:
				// Reading ip.Stats() only from this goroutine keeps it free
				// of the data race a concurrent reader would otherwise have
				// against trackSeek's writes.
				statsReply <- o.ip.Stats()
			case <-o.closed:
				return
			}
		}
	}
}

func (o *owner) call(ctx context.Context, req performer.Request) (performer.Event, error) {
	reply := make(chan performer.Event, 1)
	req.Reply = reply
	select {
	case o.reqCh <- inbound{req: req, reply: reply}:
	case <-o.closed:
		return performer.Event{}, ErrClosed
	case <-o.doneCh:
		return performer.Event{}, ErrClosed
	case <-ctx.Done():
		return performer.Event{}, ctx.Err()
	}
	select {
	case ev := <-reply:
		return ev, nil
	case <-ctx.Done():
		return performer.Event{}, ctx.Err()
	}
}

func (o *owner) WriteBlock(ctx context.Context, payload []byte) (blockid.Id, error) {
	ev, err := o.call(ctx, performer.Request{Kind: performer.ReqWriteBlock, WriteBytes: payload})
	if err != nil {
		return 0, err
	}
	if ev.Kind == performer.EvWriteNoSpace {
		return 0, ErrNoSpaceLeft
	}
	return ev.WriteBlockId, nil
}

func (o *owner) ReadBlock(ctx context.Context, id blockid.Id) ([]byte, error) {
	ev, err := o.call(ctx, performer.Request{Kind: performer.ReqReadBlock, ReadId: id})
	if err != nil {
		return nil, err
	}
	if ev.Kind == performer.EvReadNotFound {
		return nil, ErrNotFound
	}
	return ev.ReadBytes, nil
}

func (o *owner) DeleteBlock(ctx context.Context, id blockid.Id) error {
	ev, err := o.call(ctx, performer.Request{Kind: performer.ReqDeleteBlock, DeleteId: id})
	if err != nil {
		return err
	}
	if ev.Kind == performer.EvDeleteNotFound {
		return ErrNotFound
	}
	return nil
}

// IterBlocks streams every live block to fn in id order. It stops as soon
// as fn returns a non-nil error, which it returns to the caller, and
// returns nil once the wheel has no more blocks.
func (o *owner) IterBlocks(ctx context.Context, fn func(blockid.Id, []byte) error) error {
	reply := make(chan performer.Event, 1)
	req := performer.Request{Kind: performer.ReqIterBlocks, Reply: reply}
	select {
	case o.reqCh <- inbound{req: req, reply: reply}:
	case <-o.closed:
		return ErrClosed
	case <-o.doneCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	for {
		var ev performer.Event
		select {
		case ev = <-reply:
		case <-ctx.Done():
			return ctx.Err()
		}
		switch ev.Kind {
		case performer.EvIterFinish:
			return nil
		case performer.EvIterItem:
			if err := fn(ev.IterId, ev.ReadBytes); err != nil {
				return err
			}
		}
	}
}

func (o *owner) Flush(ctx context.Context) error {
	_, err := o.call(ctx, performer.Request{Kind: performer.ReqFlush})
	return err
}

func (o *owner) Info(ctx context.Context) (schema.Info, error) {
	ev, err := o.call(ctx, performer.Request{Kind: performer.ReqInfo})
	if err != nil {
		return schema.Info{}, err
	}
	return ev.Info, nil
}

// InterpretStats reports the interpreter's seek-direction counters,
// fetched through the owner goroutine so the read never races its writer.
func (o *owner) InterpretStats(ctx context.Context) (interpret.Stats, error) {
	reply := make(chan interpret.Stats, 1)
	select {
	case o.statsReqCh <- reply:
	case <-o.closed:
		return interpret.Stats{}, ErrClosed
	case <-o.doneCh:
		return interpret.Stats{}, ErrClosed
	case <-ctx.Done():
		return interpret.Stats{}, ctx.Err()
	}
	select {
	case stats := <-reply:
		return stats, nil
	case <-ctx.Done():
		return interpret.Stats{}, ctx.Err()
	}
}

func (o *owner) Close() error {
	close(o.closed)
	<-o.doneCh
	return o.ip.Close()
}
