package blockwheel

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/swizard0/blockwheel/internal/blockid"
	"github.com/swizard0/blockwheel/internal/gateway"
	"github.com/swizard0/blockwheel/internal/interpret"
	"github.com/swizard0/blockwheel/internal/layout"
	"github.com/swizard0/blockwheel/internal/lrucache"
	"github.com/swizard0/blockwheel/internal/performer"
	"github.com/swizard0/blockwheel/internal/schema"
)

// Wheel is the public facade over a running wheel, the analog of the
// teacher's ReadWrite/ReadOnly blockstore types: one struct, one open file,
// safe for concurrent use by multiple goroutines (calls are serialized onto
// a single owner goroutine internally, see internal/gateway).
type Wheel struct {
	gw  gateway.Gateway
	cfg Config
}

// Open opens the wheel file named by path, creating and initializing it at
// Config.InitWheelSizeBytes if it does not already exist, or reconstructing
// its schema by scanning it (spec §9's reopen resolution) if it does.
func Open(path string, opts ...Option) (*Wheel, error) {
	cfg := defaultConfig(path)
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	lay := layout.Default()
	stat, statErr := os.Stat(path)
	existed := statErr == nil && stat.Size() > 0

	var (
		s              *schema.Schema
		wheelSizeBytes uint64
	)
	if existed {
		var (
			err        error
			corruption []interpret.CorruptionFrame
		)
		s, wheelSizeBytes, corruption, err = interpret.Recover(path, lay)
		if err != nil {
			return nil, fmt.Errorf("blockwheel: %w", err)
		}
		for _, c := range corruption {
			cfg.Logger.Warn("dropped corrupt frame during recovery",
				zap.Error(&CorruptionError{Offset: c.Offset, Reason: c.Reason}))
		}
		cfg.Logger.Info("recovered wheel", zap.String("path", path), zap.Uint64("size_bytes", wheelSizeBytes))
	} else {
		wheelSizeBytes = cfg.InitWheelSizeBytes
		s = schema.New(lay, wheelSizeBytes)
		cfg.Logger.Info("initialized wheel", zap.String("path", path), zap.Uint64("size_bytes", wheelSizeBytes))
	}

	ip, err := interpret.Open(path, wheelSizeBytes, cfg.WorkBlockSizeBytes, lay, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("blockwheel: %w", err)
	}

	cache := lrucache.New(cfg.LRUCacheSizeBytes)
	defragCfg := cfg.DefragConfig
	defragCfg.Disabled = cfg.DisableDefragmentation
	perf := performer.New(s, cache, defragCfg)

	return &Wheel{gw: gateway.Open(perf, ip, cfg.Logger), cfg: cfg}, nil
}

// Write admits payload as a new block and returns its id.
func (w *Wheel) Write(ctx context.Context, payload []byte) (blockid.Id, error) {
	id, err := w.gw.WriteBlock(ctx, payload)
	return id, translateErr(err)
}

// Read returns the payload of the block named by id.
func (w *Wheel) Read(ctx context.Context, id blockid.Id) ([]byte, error) {
	bytes, err := w.gw.ReadBlock(ctx, id)
	return bytes, translateErr(err)
}

// Delete retires id. Its storage is reclaimed once any in-flight
// defragmentation referencing it settles.
func (w *Wheel) Delete(ctx context.Context, id blockid.Id) error {
	return translateErr(w.gw.DeleteBlock(ctx, id))
}

// Iterate streams every live block's id and payload to fn, in id order,
// stopping early if fn returns an error.
func (w *Wheel) Iterate(ctx context.Context, fn func(blockid.Id, []byte) error) error {
	return translateErr(w.gw.IterBlocks(ctx, fn))
}

// Flush blocks until every in-flight write and relocation has settled.
func (w *Wheel) Flush(ctx context.Context) error {
	return translateErr(w.gw.Flush(ctx))
}

// Info reports current usage: live block count and payload bytes used.
func (w *Wheel) Info(ctx context.Context) (schema.Info, error) {
	info, err := w.gw.Info(ctx)
	return info, translateErr(err)
}

// Close stops the owner goroutine and closes the backing file. Further
// calls on w return ErrClosed.
func (w *Wheel) Close() error {
	return w.gw.Close()
}

// InterpretStats reports the interpreter's seek-direction counters: how
// many disk tasks required no seek, a forward seek, or a backward seek
// relative to where the previous task left the file cursor.
func (w *Wheel) InterpretStats(ctx context.Context) (interpret.Stats, error) {
	stats, err := w.gw.InterpretStats(ctx)
	return stats, translateErr(err)
}

func translateErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gateway.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, gateway.ErrNoSpaceLeft):
		return ErrNoSpaceLeft
	case errors.Is(err, gateway.ErrClosed):
		return ErrClosed
	default:
		return err
	}
}
