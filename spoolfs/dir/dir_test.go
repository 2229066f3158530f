package dir

import (
	"testing"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDir() (*FsDir, *timeutil.SimulatedClock) {
	clock := &timeutil.SimulatedClock{}
	clock.SetTime(time.Date(2023, 4, 25, 12, 0, 0, 0, time.UTC))
	return New(clock, fuseops.RootInodeID, fuseops.RootInodeID, 0755), clock
}

func TestDirAttributes(t *testing.T) {
	d, _ := newTestDir()
	assert.True(t, d.Attrs.Mode.IsDir())
	assert.EqualValues(t, DirSize, d.Attrs.Size)
	assert.Equal(t, fuseops.InodeID(fuseops.RootInodeID), d.GetInodeID())
	assert.Equal(t, fuseops.InodeID(fuseops.RootInodeID), d.Parent())
}

func TestDirAddLookUpRemove(t *testing.T) {
	d, clock := newTestDir()
	created := d.Attrs.Mtime
	clock.AdvanceTime(time.Second)

	require.NoError(t, d.Add("foo", 2))
	assert.ErrorIs(t, d.Add("foo", 3), ErrExists)
	assert.True(t, d.Attrs.Mtime.After(created))

	inode, ok := d.LookUp("foo")
	assert.True(t, ok)
	assert.EqualValues(t, 2, inode)
	_, ok = d.LookUp("bar")
	assert.False(t, ok)

	inode, err := d.Remove("foo")
	require.NoError(t, err)
	assert.EqualValues(t, 2, inode)
	_, err = d.Remove("foo")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, d.Len())
}

func TestDirEntriesSorted(t *testing.T) {
	d, _ := newTestDir()
	require.NoError(t, d.Add("c", 4))
	require.NoError(t, d.Add("a", 2))
	require.NoError(t, d.Add("b", 3))
	assert.Equal(t, []Entry{{"a", 2}, {"b", 3}, {"c", 4}}, d.Entries())
}

func TestHandleDentries(t *testing.T) {
	d, _ := newTestDir()
	require.NoError(t, d.Add("a", 2))
	require.NoError(t, d.Add("b", 3))
	h := NewHandle(d)
	assert.Equal(t, d.GetInodeID(), h.GetInodeID())

	// changes after open are not visible until rewind
	require.NoError(t, d.Add("c", 4))
	assert.Equal(t, []Entry{{"b", 3}}, h.GetDentries(d, 1))
	assert.Empty(t, h.GetDentries(d, 2))
	assert.Len(t, h.GetDentries(d, 0), 3)
	assert.Empty(t, h.GetDentries(d, 10))
}
