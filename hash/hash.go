package hash

import (
	"sync"

	"github.com/jacobsa/fuse/fuseops"
)

// Hash striped set of inode locks
type Hash struct {
	stripes []sync.RWMutex
}

func New(size uint64) *Hash {
	if size == 0 {
		size = 1
	}
	return &Hash{
		stripes: make([]sync.RWMutex, size),
	}
}

func (h *Hash) stripe(inode fuseops.InodeID) int {
	return int(uint64(inode) % uint64(len(h.stripes)))
}

func (h *Hash) Lock(inode fuseops.InodeID) {
	h.stripes[h.stripe(inode)].Lock()
}

func (h *Hash) Unlock(inode fuseops.InodeID) {
	h.stripes[h.stripe(inode)].Unlock()
}

func (h *Hash) RLock(inode fuseops.InodeID) {
	h.stripes[h.stripe(inode)].RLock()
}

func (h *Hash) RUnlock(inode fuseops.InodeID) {
	h.stripes[h.stripe(inode)].RUnlock()
}

// LockPair locks both inodes in stripe order. Inodes sharing a stripe lock it once.
func (h *Hash) LockPair(a, b fuseops.InodeID) {
	sa, sb := h.stripe(a), h.stripe(b)
	switch {
	case sa == sb:
		h.stripes[sa].Lock()
	case sa < sb:
		h.stripes[sa].Lock()
		h.stripes[sb].Lock()
	default:
		h.stripes[sb].Lock()
		h.stripes[sa].Lock()
	}
}

// UnlockPair releases locks taken by LockPair
func (h *Hash) UnlockPair(a, b fuseops.InodeID) {
	sa, sb := h.stripe(a), h.stripe(b)
	h.stripes[sa].Unlock()
	if sa != sb {
		h.stripes[sb].Unlock()
	}
}
