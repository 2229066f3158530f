package spoolfs

import (
	"context"
	"errors"
	"os"
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/rarydzu/spoolfs/spoolfs/file"
)

// createFile adds an empty regular file. mu must be held.
func (fs *Spoolfs) createFile(parent fuseops.InodeID, name string, mode os.FileMode) (*node, error) {
	p, err := fs.getDir(parent)
	if err != nil {
		return nil, err
	}
	if _, ok := p.LookUp(name); ok {
		return nil, fuse.EEXIST
	}
	id := fs.NextInode()
	n := &node{
		id:    id,
		kind:  kindFile,
		store: file.NewSpoolStore(id, mode, fs.spoolOptions()...),
	}
	if err := p.Add(name, id); err != nil {
		fs.log.Errorf("createFile(%d:%s): %v", parent, name, err)
		return nil, fuse.EIO
	}
	fs.inodes[id] = n
	return n, nil
}

// CreateFile Create a new file and open it.
func (fs *Spoolfs) CreateFile(
	ctx context.Context,
	op *fuseops.CreateFileOp) error {
	fs.fsHashLock.Lock(op.Parent)
	defer fs.fsHashLock.Unlock(op.Parent)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.createFile(op.Parent, op.Name, op.Mode)
	if err != nil {
		return err
	}
	if err := n.store.Open(); err != nil {
		fs.log.Errorf("CreateFile(Open)(%d:%s): %v", op.Parent, op.Name, err)
		return fuse.EIO
	}
	n.handles++
	op.Handle = fs.NextHandle()
	fs.fileHandles[op.Handle] = n.id
	op.Entry = fs.entry(n)
	return nil
}

// CreateLink Create a new hard link to a regular file.
func (fs *Spoolfs) CreateLink(
	ctx context.Context,
	op *fuseops.CreateLinkOp) error {
	fs.fsHashLock.Lock(op.Parent)
	defer fs.fsHashLock.Unlock(op.Parent)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p, err := fs.getDir(op.Parent)
	if err != nil {
		return err
	}
	n, err := fs.getNode(op.Target)
	if err != nil {
		return err
	}
	if n.kind != kindFile {
		return syscall.EPERM
	}
	if n.unlinked {
		return fuse.ENOENT
	}
	if err := p.Add(op.Name, n.id); err != nil {
		return fuse.EEXIST
	}
	if err := n.store.UpdateAttributes(func(m *file.EntryMetadata) {
		m.Nlink++
		m.Ctime = fs.Clock.Now()
	}); err != nil {
		fs.log.Errorf("CreateLink(%d:%s): %v", op.Target, op.Name, err)
		return fuse.EIO
	}
	op.Entry = fs.entry(n)
	return nil
}

// CreateSymlink Create a new symlink.
func (fs *Spoolfs) CreateSymlink(
	ctx context.Context,
	op *fuseops.CreateSymlinkOp) error {
	fs.fsHashLock.Lock(op.Parent)
	defer fs.fsHashLock.Unlock(op.Parent)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p, err := fs.getDir(op.Parent)
	if err != nil {
		return err
	}
	if _, ok := p.LookUp(op.Name); ok {
		return fuse.EEXIST
	}
	t := fs.Clock.Now()
	id := fs.NextInode()
	n := &node{
		id:     id,
		kind:   kindSymlink,
		target: op.Target,
		attrs: fuseops.InodeAttributes{
			Size:   uint64(len(op.Target)),
			Nlink:  1,
			Mode:   0777 | os.ModeSymlink,
			Rdev:   file.DefaultRdev,
			Uid:    uint32(os.Getuid()),
			Gid:    uint32(os.Getgid()),
			Atime:  t,
			Mtime:  t,
			Ctime:  t,
			Crtime: t,
		},
	}
	if err := p.Add(op.Name, id); err != nil {
		fs.log.Errorf("CreateSymlink(%s:%s): %v", op.Target, op.Name, err)
		return fuse.EIO
	}
	fs.inodes[id] = n
	op.Entry = fs.entry(n)
	return nil
}

// ReadSymlink returns the symlink target
func (fs *Spoolfs) ReadSymlink(
	ctx context.Context,
	op *fuseops.ReadSymlinkOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.getNode(op.Inode)
	if err != nil {
		return err
	}
	if n.kind != kindSymlink {
		return fuse.EINVAL
	}
	op.Target = n.target
	return nil
}

// Rename rename a file or directory, replacing the target if present
func (fs *Spoolfs) Rename(
	ctx context.Context,
	op *fuseops.RenameOp) error {
	fs.fsHashLock.LockPair(op.OldParent, op.NewParent)
	defer fs.fsHashLock.UnlockPair(op.OldParent, op.NewParent)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	oldParent, n, err := fs.getChild(op.OldParent, op.OldName)
	if err != nil {
		return err
	}
	newParent, err := fs.getDir(op.NewParent)
	if err != nil {
		return err
	}
	if id, ok := newParent.LookUp(op.NewName); ok {
		if id == n.id {
			return nil
		}
		target, err := fs.getNode(id)
		if err != nil {
			fs.log.Errorf("Rename(%d:%s): dangling entry %d", op.NewParent, op.NewName, id)
			return fuse.EIO
		}
		switch {
		case target.kind == kindDir && n.kind != kindDir:
			return syscall.EISDIR
		case target.kind != kindDir && n.kind == kindDir:
			return fuse.ENOTDIR
		case target.kind == kindDir && target.dir.Len() > 0:
			return fuse.ENOTEMPTY
		}
		if _, err := newParent.Remove(op.NewName); err != nil {
			fs.log.Errorf("Rename(Remove)(%d:%s): %v", op.NewParent, op.NewName, err)
			return fuse.EIO
		}
		if target.kind == kindDir {
			newParent.Attrs.Nlink--
		}
		if err := fs.dropLink(target); err != nil {
			return err
		}
	}
	if _, err := oldParent.Remove(op.OldName); err != nil {
		fs.log.Errorf("Rename(Remove)(%d:%s): %v", op.OldParent, op.OldName, err)
		return fuse.EIO
	}
	if err := newParent.Add(op.NewName, n.id); err != nil {
		fs.log.Errorf("Rename(Add)(%d:%s): %v", op.NewParent, op.NewName, err)
		return fuse.EIO
	}
	if n.kind == kindDir && op.OldParent != op.NewParent {
		oldParent.Attrs.Nlink--
		newParent.Attrs.Nlink++
		n.dir.SetParent(op.NewParent)
	}
	return nil
}

// Unlink remove a file or symlink
func (fs *Spoolfs) Unlink(
	ctx context.Context,
	op *fuseops.UnlinkOp) error {
	fs.fsHashLock.Lock(op.Parent)
	defer fs.fsHashLock.Unlock(op.Parent)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p, n, err := fs.getChild(op.Parent, op.Name)
	if err != nil {
		return err
	}
	if n.kind == kindDir {
		return syscall.EISDIR
	}
	if _, err := p.Remove(op.Name); err != nil {
		fs.log.Errorf("Unlink(Remove)(%d:%s): %v", op.Parent, op.Name, err)
		return fuse.EIO
	}
	return fs.dropLink(n)
}

// OpenFile open a file. The first handle opens the content store.
func (fs *Spoolfs) OpenFile(
	ctx context.Context,
	op *fuseops.OpenFileOp) error {
	fs.fsHashLock.Lock(op.Inode)
	defer fs.fsHashLock.Unlock(op.Inode)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.getNode(op.Inode)
	if err != nil {
		return err
	}
	if n.kind != kindFile {
		return syscall.EISDIR
	}
	if n.unlinked && n.handles == 0 {
		return fuse.ENOENT
	}
	if n.handles == 0 {
		if err := n.store.Open(); err != nil {
			fs.log.Errorf("OpenFile(Open)(%d): %v", op.Inode, err)
			return fuse.EIO
		}
	}
	n.handles++
	op.Handle = fs.NextHandle()
	fs.fileHandles[op.Handle] = n.id
	return nil
}

// ReadFile read a file
func (fs *Spoolfs) ReadFile(
	ctx context.Context,
	op *fuseops.ReadFileOp) error {
	fs.fsHashLock.RLock(op.Inode)
	defer fs.fsHashLock.RUnlock(op.Inode)
	fs.mu.Lock()
	n, err := fs.getFileHandle(op.Inode, op.Handle)
	fs.mu.Unlock()
	if err != nil {
		return err
	}
	data, err := n.store.Read(int64(len(op.Dst)), op.Offset)
	if err != nil {
		fs.log.Errorf("ReadFile(%d, %d): %v", op.Inode, op.Offset, err)
		return fuse.EIO
	}
	op.BytesRead = copy(op.Dst, data)
	return nil
}

// WriteFile write a file
func (fs *Spoolfs) WriteFile(
	ctx context.Context,
	op *fuseops.WriteFileOp) error {
	fs.fsHashLock.RLock(op.Inode)
	defer fs.fsHashLock.RUnlock(op.Inode)
	fs.mu.Lock()
	n, err := fs.getFileHandle(op.Inode, op.Handle)
	fs.mu.Unlock()
	if err != nil {
		return err
	}
	if _, err := n.store.Write(op.Data, op.Offset); errors.Is(err, file.ErrTooLarge) {
		return syscall.EFBIG
	} else if err != nil {
		fs.log.Errorf("WriteFile(%d, %d): %v", op.Inode, op.Offset, err)
		return fuse.EIO
	}
	t := fs.Clock.Now()
	if err := n.store.UpdateAttributes(func(m *file.EntryMetadata) {
		m.Mtime = t
		m.Ctime = t
	}); err != nil {
		fs.log.Errorf("WriteFile(UpdateAttributes)(%d): %v", op.Inode, err)
		return fuse.EIO
	}
	return nil
}

// FlushFile flush a file. Content lives in memory or in the spool file, so
// there is nothing to push.
func (fs *Spoolfs) FlushFile(
	ctx context.Context,
	op *fuseops.FlushFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, err := fs.getFileHandle(op.Inode, op.Handle)
	return err
}

// ReleaseFileHandle release a file handle. The last handle closes the
// store and frees it when the file was unlinked meanwhile.
func (fs *Spoolfs) ReleaseFileHandle(
	ctx context.Context,
	op *fuseops.ReleaseFileHandleOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	id, ok := fs.fileHandles[op.Handle]
	if !ok {
		return fuse.EINVAL
	}
	delete(fs.fileHandles, op.Handle)
	n, err := fs.getNode(id)
	if err != nil {
		return nil
	}
	n.handles--
	if n.handles > 0 {
		return nil
	}
	if n.unlinked {
		err = fs.release(n)
		fs.dropIfUnused(n)
		return err
	}
	if err := n.store.Close(); err != nil {
		fs.log.Errorf("ReleaseFileHandle(Close)(%d): %v", id, err)
		return fuse.EIO
	}
	return nil
}

// SyncFile sync a file
func (fs *Spoolfs) SyncFile(
	ctx context.Context,
	op *fuseops.SyncFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, err := fs.getFileHandle(op.Inode, op.Handle)
	return err
}
