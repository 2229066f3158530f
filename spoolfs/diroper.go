package spoolfs

import (
	"context"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/rarydzu/spoolfs/spoolfs/dir"
)

// MkDir creates a new directory.
func (fs *Spoolfs) MkDir(
	ctx context.Context,
	op *fuseops.MkDirOp) error {
	fs.fsHashLock.Lock(op.Parent)
	defer fs.fsHashLock.Unlock(op.Parent)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p, err := fs.getDir(op.Parent)
	if err != nil {
		return err
	}
	if _, ok := p.LookUp(op.Name); ok {
		fs.log.Debugf("MkDir(%d:%s): already exists", op.Parent, op.Name)
		return fuse.EEXIST
	}
	id := fs.NextInode()
	n := &node{
		id:   id,
		kind: kindDir,
		dir:  dir.New(fs.Clock, id, op.Parent, op.Mode),
	}
	if err := p.Add(op.Name, id); err != nil {
		fs.log.Errorf("MkDir(%d:%s): %v", op.Parent, op.Name, err)
		return fuse.EIO
	}
	p.Attrs.Nlink++
	fs.inodes[id] = n
	op.Entry = fs.entry(n)
	return nil
}

// OpenDir opens a directory for reading.
func (fs *Spoolfs) OpenDir(
	ctx context.Context,
	op *fuseops.OpenDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	d, err := fs.getDir(op.Inode)
	if err != nil {
		return err
	}
	op.Handle = fs.NextHandle()
	fs.dirHandles[op.Handle] = dir.NewHandle(d)
	return nil
}

// ReadDir reads a directory.
func (fs *Spoolfs) ReadDir(
	ctx context.Context,
	op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h, ok := fs.dirHandles[op.Handle]
	if !ok {
		return fuse.EINVAL
	}
	if op.Inode != h.GetInodeID() {
		fs.log.Errorf("ReadDir(%d): wrong inode %d", op.Inode, h.GetInodeID())
		return fuse.EINVAL
	}
	d, err := fs.getDir(op.Inode)
	if err != nil {
		return err
	}
	for x, e := range h.GetDentries(d, op.Offset) {
		child, ok := fs.inodes[e.Inode]
		if !ok {
			continue
		}
		dirent := fuseutil.Dirent{
			Offset: op.Offset + fuseops.DirOffset(x+1),
			Inode:  e.Inode,
			Name:   e.Name,
			Type:   child.direntType(),
		}
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], dirent)
		// Stop if we've filled the buffer.
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

// RmDir removes an empty directory.
func (fs *Spoolfs) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	fs.fsHashLock.Lock(op.Parent)
	defer fs.fsHashLock.Unlock(op.Parent)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p, n, err := fs.getChild(op.Parent, op.Name)
	if err != nil {
		return err
	}
	if n.kind != kindDir {
		return fuse.ENOTDIR
	}
	if n.dir.Len() > 0 {
		return fuse.ENOTEMPTY
	}
	if _, err := p.Remove(op.Name); err != nil {
		fs.log.Errorf("RmDir(Remove)(%d:%s): %v", op.Parent, op.Name, err)
		return fuse.EIO
	}
	p.Attrs.Nlink--
	return fs.dropLink(n)
}

// ReleaseDirHandle releases a directory handle.
func (fs *Spoolfs) ReleaseDirHandle(
	ctx context.Context,
	op *fuseops.ReleaseDirHandleOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.dirHandles, op.Handle)
	return nil
}
