package file

import (
	"os"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/timeutil"
)

const (
	// DefaultBlockSize block size reported for every entry
	DefaultBlockSize = 512
	// DefaultRdev device number reported for every entry
	DefaultRdev = 1997
)

// EntryMetadata attribute record attached to every storage object.
// Size always equals the logical length of the backing content.
type EntryMetadata struct {
	Inode      fuseops.InodeID
	Generation fuseops.GenerationNumber
	BlockSize  uint32
	Blocks     uint64
	fuseops.InodeAttributes
}

// NewEntryMetadata creates metadata owned by the running process with all
// timestamps set to the same instant.
func NewEntryMetadata(clock timeutil.Clock, inode fuseops.InodeID, size uint64, mode os.FileMode) *EntryMetadata {
	t := clock.Now()
	m := &EntryMetadata{
		Inode:     inode,
		BlockSize: DefaultBlockSize,
		InodeAttributes: fuseops.InodeAttributes{
			Nlink:  1,
			Mode:   mode,
			Rdev:   DefaultRdev,
			Uid:    uint32(os.Getuid()),
			Gid:    uint32(os.Getgid()),
			Atime:  t,
			Mtime:  t,
			Ctime:  t,
			Crtime: t,
		},
	}
	m.setSize(size)
	return m
}

// setSize is the only writer of Size.
func (m *EntryMetadata) setSize(size uint64) {
	m.Size = size
	m.Blocks = (size + DefaultBlockSize - 1) / DefaultBlockSize
	if m.Blocks == 0 {
		m.Blocks = 1
	}
}

// clone returns a detached copy
func (m *EntryMetadata) clone() *EntryMetadata {
	c := *m
	return &c
}
