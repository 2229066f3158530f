package file

import (
	"math"
	"os"
	"testing"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClock() timeutil.Clock {
	clock := &timeutil.SimulatedClock{}
	clock.SetTime(time.Date(2023, 4, 25, 12, 0, 0, 0, time.UTC))
	return clock
}

func newTestMemory(mode WriteMode) *MemoryBackend {
	return NewMemoryBackend(NewEntryMetadata(testClock(), 11, 0, 0644), mode)
}

func TestEntryMetadata(t *testing.T) {
	clock := testClock()
	m := NewEntryMetadata(clock, 42, 1000, os.ModeDir|0755)
	assert.EqualValues(t, 42, m.Inode)
	assert.EqualValues(t, 1000, m.Size)
	assert.EqualValues(t, 1, m.Nlink)
	assert.Equal(t, os.ModeDir|0755, m.Mode)
	assert.EqualValues(t, os.Getuid(), m.Uid)
	assert.EqualValues(t, os.Getgid(), m.Gid)
	assert.Equal(t, clock.Now(), m.Atime)
	assert.Equal(t, m.Atime, m.Mtime)
	assert.Equal(t, m.Atime, m.Ctime)
	assert.Equal(t, m.Atime, m.Crtime)
	assert.EqualValues(t, 2, m.Blocks)
	assert.EqualValues(t, 1, NewEntryMetadata(clock, 1, 0, 0644).Blocks)
}

func TestMemoryWriteRead(t *testing.T) {
	m := newTestMemory(WriteModePreserve)
	require.NoError(t, m.Open())
	n, err := m.Write([]byte("hello"), 1)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.EqualValues(t, 6, m.Metadata().Size)

	b, err := m.Read(2, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("he"), b)

	b, err = m.Read(WholeContent, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x00hello"), b)

	b, err = m.Read(5, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), b)
}

func TestMemoryReadBounds(t *testing.T) {
	m := newTestMemory(WriteModePreserve)
	_, err := m.Write([]byte("abc"), 0)
	require.NoError(t, err)

	b, err := m.Read(10, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("bc"), b)

	b, err = m.Read(10, 3)
	require.NoError(t, err)
	assert.Empty(t, b)

	b, err = m.Read(WholeContent, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), b)

	_, err = m.Read(-2, 0)
	assert.ErrorIs(t, err, ErrInvalidRange)
	_, err = m.Write([]byte("x"), -1)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestMemoryReadReturnsCopy(t *testing.T) {
	m := newTestMemory(WriteModePreserve)
	_, err := m.Write([]byte("abc"), 0)
	require.NoError(t, err)
	b, err := m.Read(WholeContent, 0)
	require.NoError(t, err)
	b[0] = 'z'
	b, err = m.Read(1, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), b)
}

func TestMemoryPreserveKeepsTail(t *testing.T) {
	m := newTestMemory(WriteModePreserve)
	_, err := m.Write([]byte("0123456789"), 0)
	require.NoError(t, err)
	n, err := m.Write([]byte("ab"), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.EqualValues(t, 10, m.Metadata().Size)
	b, err := m.Read(WholeContent, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("01ab456789"), b)
}

func TestMemoryTruncateModeReplacesTail(t *testing.T) {
	m := newTestMemory(WriteModeTruncate)
	_, err := m.Write([]byte("0123456789"), 0)
	require.NoError(t, err)
	n, err := m.Write([]byte("ab"), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.EqualValues(t, 4, m.Metadata().Size)
	b, err := m.Read(WholeContent, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("01ab"), b)

	// gaps are still zero filled
	_, err = m.Write([]byte("z"), 6)
	require.NoError(t, err)
	b, err = m.Read(WholeContent, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("01ab\x00\x00z"), b)
	assert.EqualValues(t, 7, m.Metadata().Size)
}

func TestMemoryGapAfterShrinkIsZero(t *testing.T) {
	m := newTestMemory(WriteModePreserve)
	_, err := m.Write([]byte("abcdef"), 0)
	require.NoError(t, err)
	require.NoError(t, m.Truncate(2))
	_, err = m.Write([]byte("z"), 5)
	require.NoError(t, err)
	b, err := m.Read(WholeContent, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("ab\x00\x00\x00z"), b)
}

func TestMemoryTruncate(t *testing.T) {
	m := newTestMemory(WriteModePreserve)
	_, err := m.Write([]byte("abcdef"), 0)
	require.NoError(t, err)
	require.NoError(t, m.Truncate(3))
	assert.EqualValues(t, 3, m.Metadata().Size)
	require.NoError(t, m.Truncate(5))
	b, err := m.Read(WholeContent, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc\x00\x00"), b)
	assert.EqualValues(t, 5, m.Metadata().Size)
}

func TestMemoryCleanup(t *testing.T) {
	m := newTestMemory(WriteModePreserve)
	require.NoError(t, m.Open())
	_, err := m.Write([]byte("abc"), 0)
	require.NoError(t, err)
	require.NoError(t, m.Cleanup())
	require.NoError(t, m.Cleanup())
	assert.False(t, m.IsOpen())
	_, err = m.Read(WholeContent, 0)
	assert.ErrorIs(t, err, ErrReleased)
	_, err = m.Write([]byte("abc"), 0)
	assert.ErrorIs(t, err, ErrReleased)
	assert.ErrorIs(t, m.Open(), ErrReleased)
}

func TestMemoryOversizedRead(t *testing.T) {
	m := newTestMemory(WriteModePreserve)
	_, err := m.Write([]byte("\x00hello"), 0)
	require.NoError(t, err)
	b, err := m.Read(math.MaxInt64, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), b)
	b, err = m.Read(math.MaxInt64, 6)
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestMemoryRejectsHugeSizes(t *testing.T) {
	m := newTestMemory(WriteModePreserve)
	_, err := m.Write([]byte("abc"), 0)
	require.NoError(t, err)
	assert.ErrorIs(t, m.Truncate(1<<50), ErrTooLarge)
	_, err = m.Write([]byte("x"), 1<<50)
	assert.ErrorIs(t, err, ErrTooLarge)
	_, err = m.Write([]byte("x"), math.MaxInt64)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.EqualValues(t, 3, m.Metadata().Size)
	b, err := m.Read(WholeContent, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), b)
}
