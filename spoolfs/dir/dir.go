package dir

import (
	"errors"
	"os"
	"sort"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/timeutil"
)

const DirSize = 4096

var (
	ErrExists   = errors.New("entry already exists")
	ErrNotFound = errors.New("no such entry")
)

// Entry single directory entry
type Entry struct {
	Name  string
	Inode fuseops.InodeID
}

// FsDir in-memory directory. Callers serialise access.
type FsDir struct {
	inode    fuseops.InodeID
	parent   fuseops.InodeID
	Attrs    fuseops.InodeAttributes
	children map[string]fuseops.InodeID
	clock    timeutil.Clock
}

// New creates new FsDir object
func New(clock timeutil.Clock, inode, parent fuseops.InodeID, mode os.FileMode) *FsDir {
	t := clock.Now()
	return &FsDir{
		inode:  inode,
		parent: parent,
		Attrs: fuseops.InodeAttributes{
			Size:   DirSize,
			Nlink:  2,
			Mode:   mode | os.ModeDir,
			Uid:    uint32(os.Getuid()),
			Gid:    uint32(os.Getgid()),
			Atime:  t,
			Mtime:  t,
			Ctime:  t,
			Crtime: t,
		},
		children: make(map[string]fuseops.InodeID),
		clock:    clock,
	}
}

// GetInodeID returns inode id
func (dir *FsDir) GetInodeID() fuseops.InodeID {
	return dir.inode
}

// Parent returns parent inode id
func (dir *FsDir) Parent() fuseops.InodeID {
	return dir.parent
}

// SetParent moves the directory under parent
func (dir *FsDir) SetParent(parent fuseops.InodeID) {
	dir.parent = parent
	dir.Attrs.Ctime = dir.clock.Now()
}

// LookUp returns the inode of name
func (dir *FsDir) LookUp(name string) (fuseops.InodeID, bool) {
	inode, ok := dir.children[name]
	return inode, ok
}

// Add adds name pointing at inode
func (dir *FsDir) Add(name string, inode fuseops.InodeID) error {
	if _, ok := dir.children[name]; ok {
		return ErrExists
	}
	dir.children[name] = inode
	dir.touch()
	return nil
}

// Remove removes name and returns the inode it pointed at
func (dir *FsDir) Remove(name string) (fuseops.InodeID, error) {
	inode, ok := dir.children[name]
	if !ok {
		return 0, ErrNotFound
	}
	delete(dir.children, name)
	dir.touch()
	return inode, nil
}

// Len returns number of entries
func (dir *FsDir) Len() int {
	return len(dir.children)
}

// Entries returns entries sorted by name
func (dir *FsDir) Entries() []Entry {
	entries := make([]Entry, 0, len(dir.children))
	for name, inode := range dir.children {
		entries = append(entries, Entry{Name: name, Inode: inode})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries
}

func (dir *FsDir) touch() {
	t := dir.clock.Now()
	dir.Attrs.Mtime = t
	dir.Attrs.Ctime = t
}
