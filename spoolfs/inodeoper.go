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

// MkNode - Create a new regular file.
func (fs *Spoolfs) MkNode(
	ctx context.Context,
	op *fuseops.MkNodeOp) error {
	if op.Mode&os.ModeType != 0 {
		return syscall.EPERM
	}
	fs.fsHashLock.Lock(op.Parent)
	defer fs.fsHashLock.Unlock(op.Parent)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.createFile(op.Parent, op.Name, op.Mode)
	if err != nil {
		return err
	}
	op.Entry = fs.entry(n)
	return nil
}

// LookUpInode looks up a child inode by name and reports its attributes.
func (fs *Spoolfs) LookUpInode(
	ctx context.Context,
	op *fuseops.LookUpInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, n, err := fs.getChild(op.Parent, op.Name)
	if err != nil {
		return err
	}
	op.Entry = fs.entry(n)
	return nil
}

// GetInodeAttributes looks up an inode and reports its attributes.
func (fs *Spoolfs) GetInodeAttributes(
	ctx context.Context,
	op *fuseops.GetInodeAttributesOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.getNode(op.Inode)
	if err != nil {
		return err
	}
	op.Attributes = n.attributes()
	op.AttributesExpiration = fs.expiration()
	return nil
}

// SetInodeAttributes sets the attributes of an inode. A size change
// truncates the file content.
func (fs *Spoolfs) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	fs.fsHashLock.Lock(op.Inode)
	defer fs.fsHashLock.Unlock(op.Inode)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.getNode(op.Inode)
	if err != nil {
		return err
	}
	t := fs.Clock.Now()
	switch n.kind {
	case kindFile:
		if op.Size != nil {
			if err := n.store.Truncate(*op.Size); errors.Is(err, file.ErrTooLarge) {
				return syscall.EFBIG
			} else if err != nil {
				fs.log.Errorf("SetInodeAttributes(Truncate)(%d, %d): %v", op.Inode, *op.Size, err)
				return fuse.EIO
			}
		}
		err := n.store.UpdateAttributes(func(m *file.EntryMetadata) {
			fs.applyAttrs(op, &m.InodeAttributes)
			if op.Size != nil {
				m.Mtime = t
			}
			m.Ctime = t
		})
		if errors.Is(err, file.ErrReleased) {
			return fuse.ENOENT
		} else if err != nil {
			fs.log.Errorf("SetInodeAttributes(%d): %v", op.Inode, err)
			return fuse.EIO
		}
	case kindDir:
		if op.Size != nil {
			return syscall.EISDIR
		}
		fs.applyAttrs(op, &n.dir.Attrs)
		n.dir.Attrs.Ctime = t
	case kindSymlink:
		if op.Size != nil {
			return fuse.EINVAL
		}
		fs.applyAttrs(op, &n.attrs)
		n.attrs.Ctime = t
	}
	op.Attributes = n.attributes()
	op.AttributesExpiration = fs.expiration()
	return nil
}

// applyAttrs copies mode, ownership and times from op, keeping the file type
func (fs *Spoolfs) applyAttrs(op *fuseops.SetInodeAttributesOp, attrs *fuseops.InodeAttributes) {
	if op.Mode != nil {
		attrs.Mode = attrs.Mode&os.ModeType | *op.Mode&^os.ModeType
	}
	if op.Uid != nil {
		attrs.Uid = *op.Uid
	}
	if op.Gid != nil {
		attrs.Gid = *op.Gid
	}
	if op.Atime != nil {
		attrs.Atime = *op.Atime
	}
	if op.Mtime != nil {
		attrs.Mtime = *op.Mtime
	}
}

// ForgetInode - Drop kernel references to an inode.
func (fs *Spoolfs) ForgetInode(
	ctx context.Context,
	op *fuseops.ForgetInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.forget(op.Inode, op.N)
	return nil
}

// BatchForget - ForgetInode for many inodes at once.
func (fs *Spoolfs) BatchForget(
	ctx context.Context,
	op *fuseops.BatchForgetOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, e := range op.Entries {
		fs.forget(e.Inode, e.N)
	}
	return nil
}

// forget mu must be held
func (fs *Spoolfs) forget(inode fuseops.InodeID, count uint64) {
	n, ok := fs.inodes[inode]
	if !ok {
		return
	}
	if count > n.lookups {
		fs.log.Debugf("ForgetInode(%d): %d > %d lookups", inode, count, n.lookups)
		count = n.lookups
	}
	n.lookups -= count
	fs.dropIfUnused(n)
}
