package layout

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultSizingMatchesSpecTable(t *testing.T) {
	l := Default()
	require.EqualValues(t, 24, l.WheelHeaderSize)
	require.EqualValues(t, 20, l.BlockHeaderSize)
	require.EqualValues(t, 16, l.CommitTagSize)
	require.EqualValues(t, 4, l.EofTagSize)
	require.EqualValues(t, 36, l.DataSizeBlockMin())
	require.EqualValues(t, 28, l.DataSizeServiceMin())
}

func TestWheelHeaderRoundTrip(t *testing.T) {
	l := Default()
	h := WheelHeader{WheelSizeBytes: 160}
	buf := h.Encode(l)
	require.Len(t, buf, int(l.WheelHeaderSize))

	got, err := DecodeWheelHeader(l, buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestBlockHeaderRoundTrip(t *testing.T) {
	l := Default()
	h := BlockHeader{Id: 7, Size: 13}
	buf := h.Encode(l)
	got, ok, err := DecodeBlockHeader(l, buf)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, h, got)
}

func TestBlockHeaderBadMagicIsNotOk(t *testing.T) {
	l := Default()
	buf := make([]byte, l.BlockHeaderSize)
	_, ok, err := DecodeBlockHeader(l, buf)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCommitTagTombstone(t *testing.T) {
	l := Default()
	tag := Tombstone(7)
	require.True(t, tag.IsTombstone())

	buf := tag.Encode(l)
	got, err := DecodeCommitTag(l, buf)
	require.NoError(t, err)
	require.True(t, got.IsTombstone())
	require.EqualValues(t, 7, got.BlockId)
}

func TestCommitTagLiveIsNotTombstone(t *testing.T) {
	tag := CommitTag{BlockId: 1, CRC: CRC64([]byte("hello, world!"))}
	require.False(t, tag.IsTombstone())
}

func TestEofTagRoundTrip(t *testing.T) {
	l := Default()
	buf := EofTag{}.Encode(l)
	_, err := DecodeEofTag(l, buf)
	require.NoError(t, err)
}

func TestCRC64IsDeterministicAndSensitiveToContent(t *testing.T) {
	a := CRC64([]byte("hello, world!"))
	b := CRC64([]byte("hello, world!"))
	c := CRC64([]byte("hello, world?"))
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}
