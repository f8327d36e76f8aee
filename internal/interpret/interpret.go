// Package interpret is the disk I/O worker the performer's owner loop feeds
// InterpretTask values to and collects InterpretDone values from (spec §5).
// It is the only package in the engine that touches a real file: the
// performer decides what to do and where, the interpreter does it.
package interpret

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/swizard0/blockwheel/internal/layout"
	"github.com/swizard0/blockwheel/internal/performer"
	"github.com/swizard0/blockwheel/internal/taskqueue"
)

// Stats are the seek-direction counters spec §5 names but leaves
// unconsumed; the CLI's stat subcommand surfaces them to an operator.
type Stats struct {
	CountTotal        uint64
	CountNoSeek       uint64
	CountSeekForward  uint64
	CountSeekBackward uint64
}

// Interpreter owns the open wheel file and runs one InterpretTask at a time,
// on whatever goroutine its owner calls Run from. It keeps no queue of its
// own: the performer's taskqueue is the only scheduler.
type Interpreter struct {
	f        *os.File
	lay      layout.Layout
	log      *zap.Logger
	lastSeek int64
	stats    Stats
}

// Open opens (creating if absent) the wheel file at path for read/write use
// by Run, and zero-fills it to sizeBytes if it was just created.
// workBlockSizeBytes bounds how much zero-fill Open buffers in memory at
// once when laying out a brand new wheel file (spec §6's work_block_size_bytes);
// 0 means "do it in one shot".
func Open(path string, sizeBytes uint64, workBlockSizeBytes uint64, lay layout.Layout, log *zap.Logger) (*Interpreter, error) {
	if log == nil {
		log = zap.NewNop()
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("interpret: open %s: %w", path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("interpret: stat %s: %w", path, err)
	}
	if stat.Size() == 0 {
		if err := zeroFill(f, sizeBytes, workBlockSizeBytes); err != nil {
			f.Close()
			return nil, fmt.Errorf("interpret: zero-fill %s: %w", path, err)
		}
		header := layout.WheelHeader{WheelSizeBytes: sizeBytes}.Encode(lay)
		if _, err := f.WriteAt(header, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("interpret: write wheel header: %w", err)
		}
		eof := layout.EofTag{}.Encode(lay)
		if _, err := f.WriteAt(eof, int64(lay.WheelHeaderSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("interpret: write eof tag: %w", err)
		}
	}
	return &Interpreter{f: f, lay: lay, log: log, lastSeek: -1}, nil
}

// zeroFill claims sizeBytes of real (non-sparse) disk for f, writing in
// workBlockSizeBytes-sized chunks so a large wheel never needs its full
// size buffered in memory at once.
func zeroFill(f *os.File, sizeBytes, workBlockSizeBytes uint64) error {
	if workBlockSizeBytes == 0 || workBlockSizeBytes > sizeBytes {
		workBlockSizeBytes = sizeBytes
	}
	if workBlockSizeBytes == 0 {
		return nil
	}
	chunk := make([]byte, workBlockSizeBytes)
	for written := uint64(0); written < sizeBytes; {
		n := workBlockSizeBytes
		if remain := sizeBytes - written; remain < n {
			n = remain
		}
		if _, err := f.WriteAt(chunk[:n], int64(written)); err != nil {
			return err
		}
		written += n
	}
	return nil
}

// Close closes the backing file.
func (ip *Interpreter) Close() error {
	return ip.f.Close()
}

// Stats returns a snapshot of the seek-direction counters accumulated so far.
func (ip *Interpreter) Stats() Stats {
	return ip.stats
}

func (ip *Interpreter) trackSeek(offset uint64) {
	target := int64(offset)
	ip.stats.CountTotal++
	switch {
	case ip.lastSeek < 0 || target == ip.lastSeek:
		ip.stats.CountNoSeek++
	case target > ip.lastSeek:
		ip.stats.CountSeekForward++
	default:
		ip.stats.CountSeekBackward++
	}
}

// Run performs one InterpretTask synchronously and returns the
// InterpretDone the performer expects back via SubmitInterpretDone.
func (ip *Interpreter) Run(it performer.InterpretTask) (performer.InterpretDone, error) {
	ip.trackSeek(it.Offset)
	ip.log.Debug("dispatch task",
		zap.Uint64("offset", it.Offset),
		zap.Uint64("block_id", uint64(it.BlockId)),
		zap.Int("kind", int(it.Kind)),
	)

	switch it.Kind {
	case taskqueue.Write:
		return ip.runWrite(it)
	case taskqueue.Read:
		return ip.runRead(it)
	default:
		return ip.runDelete(it)
	}
}

func (ip *Interpreter) runWrite(it performer.InterpretTask) (performer.InterpretDone, error) {
	header := layout.BlockHeader{Id: uint64(it.BlockId), Size: uint32(len(it.WriteBytes))}.Encode(ip.lay)
	if _, err := ip.f.WriteAt(header, int64(it.Offset)); err != nil {
		return performer.InterpretDone{}, fmt.Errorf("interpret: write block header at %d: %w", it.Offset, err)
	}
	payloadOffset := it.Offset + ip.lay.BlockHeaderSize
	if len(it.WriteBytes) > 0 {
		if _, err := ip.f.WriteAt(it.WriteBytes, int64(payloadOffset)); err != nil {
			return performer.InterpretDone{}, fmt.Errorf("interpret: write payload at %d: %w", payloadOffset, err)
		}
	}
	tagOffset := payloadOffset + uint64(len(it.WriteBytes))
	tag := layout.CommitTag{BlockId: uint64(it.BlockId), CRC: it.WriteCRC}.Encode(ip.lay)
	if _, err := ip.f.WriteAt(tag, int64(tagOffset)); err != nil {
		return performer.InterpretDone{}, fmt.Errorf("interpret: write commit tag at %d: %w", tagOffset, err)
	}
	currentOffset := tagOffset + ip.lay.CommitTagSize
	if it.CommitAndEof {
		eof := layout.EofTag{}.Encode(ip.lay)
		if _, err := ip.f.WriteAt(eof, int64(currentOffset)); err != nil {
			return performer.InterpretDone{}, fmt.Errorf("interpret: write eof tag at %d: %w", currentOffset, err)
		}
	}
	ip.lastSeek = int64(currentOffset)
	return performer.InterpretDone{BlockId: it.BlockId, Kind: it.Kind, CurrentOffset: currentOffset}, nil
}

func (ip *Interpreter) runRead(it performer.InterpretTask) (performer.InterpretDone, error) {
	payloadOffset := it.Offset + ip.lay.BlockHeaderSize
	buf := make([]byte, it.ReadSize)
	if it.ReadSize > 0 {
		if _, err := ip.f.ReadAt(buf, int64(payloadOffset)); err != nil {
			return performer.InterpretDone{}, fmt.Errorf("interpret: read payload at %d: %w", payloadOffset, err)
		}
	}
	currentOffset := payloadOffset + it.ReadSize + ip.lay.CommitTagSize
	ip.lastSeek = int64(currentOffset)
	return performer.InterpretDone{BlockId: it.BlockId, Kind: it.Kind, CurrentOffset: currentOffset, ReadBytes: buf}, nil
}

func (ip *Interpreter) runDelete(it performer.InterpretTask) (performer.InterpretDone, error) {
	tagOffset := it.Offset + ip.lay.BlockHeaderSize + it.ReadSize
	tombstone := layout.Tombstone(uint64(it.BlockId)).Encode(ip.lay)
	if _, err := ip.f.WriteAt(tombstone, int64(tagOffset)); err != nil {
		return performer.InterpretDone{}, fmt.Errorf("interpret: write tombstone at %d: %w", tagOffset, err)
	}
	currentOffset := tagOffset + ip.lay.CommitTagSize
	ip.lastSeek = int64(currentOffset)
	return performer.InterpretDone{BlockId: it.BlockId, Kind: it.Kind, CurrentOffset: currentOffset}, nil
}
