package dir

import "github.com/jacobsa/fuse/fuseops"

// Handle open directory stream. Entries are captured on open and again
// whenever the caller rewinds to offset 0.
type Handle struct {
	inode    fuseops.InodeID
	dentries []Entry
}

// NewHandle creates a handle over the current entries of dir
func NewHandle(dir *FsDir) *Handle {
	return &Handle{
		inode:    dir.GetInodeID(),
		dentries: dir.Entries(),
	}
}

// GetInodeID returns inode id
func (h *Handle) GetInodeID() fuseops.InodeID {
	return h.inode
}

// GetDentries returns entries starting at offset
func (h *Handle) GetDentries(dir *FsDir, offset fuseops.DirOffset) []Entry {
	if offset == 0 {
		h.dentries = dir.Entries()
	}
	if int(offset) >= len(h.dentries) {
		return nil
	}
	return h.dentries[offset:]
}
