package lrucache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swizard0/blockwheel/internal/blockid"
)

func TestInsertAndGet(t *testing.T) {
	c := New(1024)
	c.Insert(blockid.Id(1), []byte("hello, world!"))

	got, ok := c.Get(blockid.Id(1))
	require.True(t, ok)
	require.Equal(t, []byte("hello, world!"), got)
}

func TestInvalidate(t *testing.T) {
	c := New(1024)
	c.Insert(blockid.Id(1), []byte("hello"))
	c.Invalidate(blockid.Id(1))

	_, ok := c.Get(blockid.Id(1))
	require.False(t, ok)
	require.EqualValues(t, 0, c.UsedBytes())
}

func TestEvictsLeastRecentlyUsedUnderBudget(t *testing.T) {
	c := New(10)
	c.Insert(blockid.Id(1), []byte("0123456789")) // exactly fills budget
	c.Insert(blockid.Id(2), []byte("touch"))       // forces eviction of 1

	_, ok := c.Get(blockid.Id(1))
	require.False(t, ok)
	_, ok = c.Get(blockid.Id(2))
	require.True(t, ok)
}

func TestMostRecentInsertNeverEvictedByItself(t *testing.T) {
	c := New(4)
	big := make([]byte, 100)
	c.Insert(blockid.Id(1), big)

	got, ok := c.Get(blockid.Id(1))
	require.True(t, ok)
	require.Len(t, got, 100)
}

func TestGetTouchesRecency(t *testing.T) {
	c := New(10)
	c.Insert(blockid.Id(1), []byte("12345"))
	c.Insert(blockid.Id(2), []byte("12345"))
	c.Get(blockid.Id(1)) // bump 1 to most-recent
	c.Insert(blockid.Id(3), []byte("12345")) // should evict 2, not 1

	_, ok := c.Get(blockid.Id(1))
	require.True(t, ok)
	_, ok = c.Get(blockid.Id(2))
	require.False(t, ok)
}
