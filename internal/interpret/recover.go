package interpret

import (
	"fmt"

	"golang.org/x/exp/mmap"

	"github.com/swizard0/blockwheel/internal/blockid"
	"github.com/swizard0/blockwheel/internal/layout"
	"github.com/swizard0/blockwheel/internal/schema"
)

// CorruptionFrame describes one non-tombstone frame Recover found on disk
// whose commit tag did not match its block header, folded back into free
// space rather than kept as a live block.
type CorruptionFrame struct {
	Offset uint64
	Reason string
}

// Recover reopens an existing wheel file by scanning it, reconstructing the
// schema a fresh performer can resume from (spec §9's reopen question).
// Frames whose commit tag CRC does not match their payload are treated as
// free space rather than an error: a torn write left behind by a crash
// between the payload write and the commit tag write. Every such frame is
// reported in the returned slice for diagnostics; Recover itself never
// fails because of one.
func Recover(path string, lay layout.Layout) (*schema.Schema, uint64, []CorruptionFrame, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("interpret: recover: open %s: %w", path, err)
	}
	defer r.Close()

	headerBuf := make([]byte, lay.WheelHeaderSize)
	if _, err := r.ReadAt(headerBuf, 0); err != nil {
		return nil, 0, nil, fmt.Errorf("interpret: recover: read wheel header: %w", err)
	}
	header, err := layout.DecodeWheelHeader(lay, headerBuf)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("interpret: recover: %w", err)
	}

	var blocks []schema.RecoveredBlock
	var corruption []CorruptionFrame
	cursor := int64(lay.WheelHeaderSize)
	end := int64(header.WheelSizeBytes - lay.EofTagSize)

	for cursor < end {
		hdrBuf := make([]byte, lay.BlockHeaderSize)
		if _, err := r.ReadAt(hdrBuf, cursor); err != nil {
			return nil, 0, nil, fmt.Errorf("interpret: recover: read block header at %d: %w", cursor, err)
		}
		blockHeader, ok, err := layout.DecodeBlockHeader(lay, hdrBuf)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("interpret: recover: %w", err)
		}
		if !ok {
			// Not a block header: either the EOF tag (checked by the loop
			// bound) or unwritten tail space from a wheel that never filled.
			break
		}

		payloadOffset := cursor + int64(lay.BlockHeaderSize)
		payload := make([]byte, blockHeader.Size)
		if blockHeader.Size > 0 {
			if _, err := r.ReadAt(payload, payloadOffset); err != nil {
				return nil, 0, nil, fmt.Errorf("interpret: recover: read payload at %d: %w", payloadOffset, err)
			}
		}
		tagOffset := payloadOffset + int64(blockHeader.Size)
		tagBuf := make([]byte, lay.CommitTagSize)
		if _, err := r.ReadAt(tagBuf, tagOffset); err != nil {
			return nil, 0, nil, fmt.Errorf("interpret: recover: read commit tag at %d: %w", tagOffset, err)
		}
		tag, err := layout.DecodeCommitTag(lay, tagBuf)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("interpret: recover: %w", err)
		}

		frameLen := int64(lay.DataSizeBlockMin()) + int64(blockHeader.Size)
		switch {
		case tag.IsTombstone():
			// Already deleted before the crash; free space, not corruption.
		case tag.BlockId != blockHeader.Id:
			corruption = append(corruption, CorruptionFrame{
				Offset: uint64(cursor),
				Reason: fmt.Sprintf("commit tag block id %d does not match header id %d", tag.BlockId, blockHeader.Id),
			})
		case tag.CRC != layout.CRC64(payload):
			corruption = append(corruption, CorruptionFrame{
				Offset: uint64(cursor),
				Reason: fmt.Sprintf("commit tag CRC %#x does not match payload CRC %#x", tag.CRC, layout.CRC64(payload)),
			})
		default:
			blocks = append(blocks, schema.RecoveredBlock{
				Id:     blockid.Id(blockHeader.Id),
				Offset: uint64(cursor),
				Size:   uint64(blockHeader.Size),
			})
		}
		cursor += frameLen
	}

	s := schema.FromRecoveredBlocks(lay, header.WheelSizeBytes, blocks)
	return s, header.WheelSizeBytes, corruption, nil
}
