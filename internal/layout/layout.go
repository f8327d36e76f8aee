// Package layout is the storage-layout oracle: the fixed-width framing
// constants and CRC algorithm the rest of the engine treats as given (spec
// §3, §6). It also supplies a concrete binary encoding for the wheel
// header, block header, commit tag, tombstone tag and EOF tag, so that the
// recovery scan (internal/interpret) and the CLI have real bytes to read;
// the encoding is swappable without touching any other package.
package layout

import (
	"encoding/binary"
	"fmt"
	"hash/crc64"
)

// Layout describes the fixed overhead sizes the rest of the engine builds
// its arithmetic on. All four fields come from spec §3's "Storage Layout".
type Layout struct {
	WheelHeaderSize uint64
	BlockHeaderSize uint64
	CommitTagSize   uint64
	EofTagSize      uint64
}

// Default matches the sizing table used throughout spec §8's end-to-end
// scenarios: wheel_header=24, block_header=20, commit_tag=16, eof_tag=4.
func Default() Layout {
	return Layout{
		WheelHeaderSize: wheelHeaderSize,
		BlockHeaderSize: blockHeaderSize,
		CommitTagSize:   commitTagSize,
		EofTagSize:      eofTagSize,
	}
}

// DataSizeBlockMin is the per-block overhead: header plus commit tag.
func (l Layout) DataSizeBlockMin() uint64 {
	return l.BlockHeaderSize + l.CommitTagSize
}

// DataSizeServiceMin is the overhead that can never hold payload bytes:
// the wheel header plus the EOF tag.
func (l Layout) DataSizeServiceMin() uint64 {
	return l.WheelHeaderSize + l.EofTagSize
}

const (
	wheelHeaderMagic uint32 = 0xB10C_4EE7
	blockHeaderMagic uint32 = 0xB10C_0000
	eofTagMagic      uint32 = 0xE0F0_E0F0

	wheelHeaderSize = 24
	blockHeaderSize = 20
	commitTagSize   = 16
	eofTagSize      = 4

	// tombstoneCRC is written into a CommitTag's CRC field to mark a block
	// as deleted without changing the tag's footprint on disk.
	tombstoneCRC uint64 = ^uint64(0)
)

// CRC64 computes the CRC-64/ECMA checksum of a block's payload, as named by
// spec §6 ("CRC-64/ECMA of the payload"). No third-party CRC-64
// implementation appears anywhere in the retrieved corpus; every
// storage-record reader example reaches for the standard library's
// hash/crcNN family, so this is the idiomatic choice (see DESIGN.md).
func CRC64(payload []byte) uint64 {
	table := crc64.MakeTable(crc64.ECMA)
	return crc64.Checksum(payload, table)
}

// WheelHeader is the fixed-width header at the start of the wheel file.
type WheelHeader struct {
	WheelSizeBytes uint64
}

// Encode writes h into a WheelHeaderSize-length buffer.
func (h WheelHeader) Encode(l Layout) []byte {
	buf := make([]byte, l.WheelHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], wheelHeaderMagic)
	binary.BigEndian.PutUint32(buf[4:8], 1) // format version
	binary.BigEndian.PutUint64(buf[8:16], h.WheelSizeBytes)
	// buf[16:24] reserved, left zero.
	return buf
}

// DecodeWheelHeader parses a WheelHeaderSize-length buffer produced by Encode.
func DecodeWheelHeader(l Layout, buf []byte) (WheelHeader, error) {
	if uint64(len(buf)) != l.WheelHeaderSize {
		return WheelHeader{}, fmt.Errorf("layout: wheel header: want %d bytes, got %d", l.WheelHeaderSize, len(buf))
	}
	if magic := binary.BigEndian.Uint32(buf[0:4]); magic != wheelHeaderMagic {
		return WheelHeader{}, fmt.Errorf("layout: wheel header: bad magic %#x", magic)
	}
	return WheelHeader{WheelSizeBytes: binary.BigEndian.Uint64(buf[8:16])}, nil
}

// BlockHeader is the fixed-width per-block header preceding the payload.
type BlockHeader struct {
	Id   uint64
	Size uint32
}

// Encode writes h into a BlockHeaderSize-length buffer.
func (h BlockHeader) Encode(l Layout) []byte {
	buf := make([]byte, l.BlockHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], blockHeaderMagic)
	binary.BigEndian.PutUint64(buf[4:12], h.Id)
	binary.BigEndian.PutUint32(buf[12:16], h.Size)
	// buf[16:20] reserved, left zero.
	return buf
}

// DecodeBlockHeader parses a BlockHeaderSize-length buffer produced by Encode.
// ok is false when the magic does not match, which callers treat as "not a
// block header at this offset" rather than a hard error.
func DecodeBlockHeader(l Layout, buf []byte) (h BlockHeader, ok bool, err error) {
	if uint64(len(buf)) != l.BlockHeaderSize {
		return BlockHeader{}, false, fmt.Errorf("layout: block header: want %d bytes, got %d", l.BlockHeaderSize, len(buf))
	}
	if magic := binary.BigEndian.Uint32(buf[0:4]); magic != blockHeaderMagic {
		return BlockHeader{}, false, nil
	}
	return BlockHeader{
		Id:   binary.BigEndian.Uint64(buf[4:12]),
		Size: binary.BigEndian.Uint32(buf[12:16]),
	}, true, nil
}

// CommitTag follows a block's payload once the write is durable.
type CommitTag struct {
	BlockId uint64
	CRC     uint64
}

// IsTombstone reports whether this tag marks a block as deleted.
func (t CommitTag) IsTombstone() bool {
	return t.CRC == tombstoneCRC
}

// Encode writes t into a CommitTagSize-length buffer.
func (t CommitTag) Encode(l Layout) []byte {
	buf := make([]byte, l.CommitTagSize)
	binary.BigEndian.PutUint64(buf[0:8], t.BlockId)
	binary.BigEndian.PutUint64(buf[8:16], t.CRC)
	return buf
}

// Tombstone returns the tag written over a deleted block's commit tag.
func Tombstone(blockId uint64) CommitTag {
	return CommitTag{BlockId: blockId, CRC: tombstoneCRC}
}

// DecodeCommitTag parses a CommitTagSize-length buffer produced by Encode.
func DecodeCommitTag(l Layout, buf []byte) (CommitTag, error) {
	if uint64(len(buf)) != l.CommitTagSize {
		return CommitTag{}, fmt.Errorf("layout: commit tag: want %d bytes, got %d", l.CommitTagSize, len(buf))
	}
	return CommitTag{
		BlockId: binary.BigEndian.Uint64(buf[0:8]),
		CRC:     binary.BigEndian.Uint64(buf[8:16]),
	}, nil
}

// EofTag marks the sentinel end-of-file entry.
type EofTag struct{}

// Encode writes the EOF tag into an EofTagSize-length buffer.
func (EofTag) Encode(l Layout) []byte {
	buf := make([]byte, l.EofTagSize)
	binary.BigEndian.PutUint32(buf[0:4], eofTagMagic)
	return buf
}

// DecodeEofTag validates an EofTagSize-length buffer produced by Encode.
func DecodeEofTag(l Layout, buf []byte) (EofTag, error) {
	if uint64(len(buf)) != l.EofTagSize {
		return EofTag{}, fmt.Errorf("layout: eof tag: want %d bytes, got %d", l.EofTagSize, len(buf))
	}
	if magic := binary.BigEndian.Uint32(buf[0:4]); magic != eofTagMagic {
		return EofTag{}, fmt.Errorf("layout: eof tag: bad magic %#x", magic)
	}
	return EofTag{}, nil
}
