package spoolfs

import (
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/rarydzu/spoolfs/spoolfs/dir"
	"github.com/rarydzu/spoolfs/spoolfs/file"
)

type nodeKind int

const (
	kindDir nodeKind = iota
	kindFile
	kindSymlink
)

// node inode table entry. Guarded by Spoolfs.mu.
type node struct {
	id   fuseops.InodeID
	kind nodeKind
	dir  *dir.FsDir
	// regular file content
	store *file.SpoolStore
	// symlink only
	target string
	attrs  fuseops.InodeAttributes

	// kernel references, dropped by ForgetInode
	lookups uint64
	// open file handles
	handles int
	// no directory entry points here anymore
	unlinked bool
}

func (n *node) attributes() fuseops.InodeAttributes {
	switch n.kind {
	case kindDir:
		return n.dir.Attrs
	case kindFile:
		return n.store.Attributes().InodeAttributes
	}
	return n.attrs
}

func (n *node) direntType() fuseutil.DirentType {
	switch n.kind {
	case kindDir:
		return fuseutil.DT_Directory
	case kindSymlink:
		return fuseutil.DT_Link
	}
	return fuseutil.DT_File
}

// unused reports whether the kernel and every handle are done with the node
func (n *node) unused() bool {
	return n.unlinked && n.lookups == 0 && n.handles == 0
}
