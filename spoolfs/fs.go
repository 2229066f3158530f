package spoolfs

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/timeutil"
	"github.com/rarydzu/spoolfs/hash"
	"github.com/rarydzu/spoolfs/spoolfs/config"
	"github.com/rarydzu/spoolfs/spoolfs/dir"
	"github.com/rarydzu/spoolfs/spoolfs/file"
	"github.com/shirou/gopsutil/v3/disk"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	StatFsDurationDeadline = 200 * time.Millisecond
	StatFsBlockSize        = 4096
)

type Spoolfs struct {
	fuseutil.NotImplementedFileSystem
	Name  string
	log   *zap.SugaredLogger
	Clock timeutil.Clock

	// mu guards the inode and handle tables and spoolOpts
	mu          sync.Mutex
	inodes      map[fuseops.InodeID]*node
	fileHandles map[fuseops.HandleID]fuseops.InodeID
	dirHandles  map[fuseops.HandleID]*dir.Handle
	nextInode   fuseops.InodeID
	nextHandle  fuseops.HandleID
	fsHashLock  *hash.Hash

	spoolDir    string
	spoolOpts   []file.Option
	metrics     file.Metrics
	attrTimeout time.Duration
}

// NewSpoolFS creates the filesystem. metrics may be nil.
func NewSpoolFS(cfg *config.Config, log *zap.SugaredLogger, metrics file.Metrics) (*Spoolfs, error) {
	if cfg.SpoolDir != "" {
		st, err := os.Stat(cfg.SpoolDir)
		if err != nil {
			return nil, fmt.Errorf("spool dir: %w", err)
		}
		if !st.IsDir() {
			return nil, fmt.Errorf("spool dir %s: not a directory", cfg.SpoolDir)
		}
	}
	stripes := cfg.LockStripes
	if stripes == 0 {
		stripes = config.DefaultLockStripes
	}
	fs := &Spoolfs{
		Name:        cfg.FilesystemName,
		log:         log,
		Clock:       timeutil.RealClock(),
		inodes:      make(map[fuseops.InodeID]*node),
		fileHandles: make(map[fuseops.HandleID]fuseops.InodeID),
		dirHandles:  make(map[fuseops.HandleID]*dir.Handle),
		nextInode:   fuseops.RootInodeID,
		fsHashLock:  hash.New(stripes),
		spoolDir:    cfg.SpoolDir,
		spoolOpts:   cfg.SpoolOptions(),
		metrics:     metrics,
		attrTimeout: cfg.AttrTimeout,
	}
	return fs, nil
}

// NewSpoolFuseFS creates the root directory and wraps fs in a fuse server.
func NewSpoolFuseFS(fs *Spoolfs) fuse.Server {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.inodes[fuseops.RootInodeID]; !ok {
		fs.inodes[fuseops.RootInodeID] = &node{
			id:      fuseops.RootInodeID,
			kind:    kindDir,
			dir:     dir.New(fs.Clock, fuseops.RootInodeID, fuseops.RootInodeID, 0755),
			lookups: 1,
		}
	}
	fs.log.Debugf("%s: root inode %d", fs.Name, fuseops.RootInodeID)
	return fuseutil.NewFileSystemServer(fs)
}

// Reload applies the spool settings of cfg to files created from now on
func (fs *Spoolfs) Reload(cfg *config.Config) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.spoolOpts = cfg.SpoolOptions()
	fs.log.Infof("%s: spool threshold %s, write mode %s", fs.Name, cfg.ThresholdString(), cfg.WriteMode)
}

// spoolOptions must be called with mu held
func (fs *Spoolfs) spoolOptions() []file.Option {
	opts := append([]file.Option{}, fs.spoolOpts...)
	opts = append(opts, file.WithClock(fs.Clock), file.WithLogger(fs.log))
	if fs.metrics != nil {
		opts = append(opts, file.WithMetrics(fs.metrics))
	}
	return opts
}

// NextInode returns the next available inode ID. mu must be held.
func (fs *Spoolfs) NextInode() fuseops.InodeID {
	fs.nextInode++
	return fs.nextInode
}

// NextHandle returns unused handle. mu must be held.
func (fs *Spoolfs) NextHandle() fuseops.HandleID {
	handle := fs.nextHandle
	for fs.handleInUse(handle) {
		handle++
	}
	fs.nextHandle = handle + 1
	return handle
}

func (fs *Spoolfs) handleInUse(handle fuseops.HandleID) bool {
	if _, ok := fs.fileHandles[handle]; ok {
		return true
	}
	_, ok := fs.dirHandles[handle]
	return ok
}

// getNode mu must be held
func (fs *Spoolfs) getNode(inode fuseops.InodeID) (*node, error) {
	n, ok := fs.inodes[inode]
	if !ok {
		return nil, fuse.ENOENT
	}
	return n, nil
}

// getDir mu must be held
func (fs *Spoolfs) getDir(inode fuseops.InodeID) (*dir.FsDir, error) {
	n, err := fs.getNode(inode)
	if err != nil {
		return nil, err
	}
	if n.kind != kindDir {
		return nil, fuse.ENOTDIR
	}
	return n.dir, nil
}

// getChild mu must be held
func (fs *Spoolfs) getChild(parent fuseops.InodeID, name string) (*dir.FsDir, *node, error) {
	p, err := fs.getDir(parent)
	if err != nil {
		return nil, nil, err
	}
	id, ok := p.LookUp(name)
	if !ok {
		return p, nil, fuse.ENOENT
	}
	n, err := fs.getNode(id)
	if err != nil {
		fs.log.Errorf("LookUp(%d:%s): dangling entry %d", parent, name, id)
		return p, nil, fuse.EIO
	}
	return p, n, nil
}

// getFileHandle mu must be held
func (fs *Spoolfs) getFileHandle(inode fuseops.InodeID, handle fuseops.HandleID) (*node, error) {
	id, ok := fs.fileHandles[handle]
	if !ok || id != inode {
		return nil, fuse.EINVAL
	}
	return fs.getNode(id)
}

// entry reports n to the kernel and takes a lookup reference. mu must be held.
func (fs *Spoolfs) entry(n *node) fuseops.ChildInodeEntry {
	n.lookups++
	exp := fs.expiration()
	return fuseops.ChildInodeEntry{
		Child:                n.id,
		Attributes:           n.attributes(),
		AttributesExpiration: exp,
		EntryExpiration:      exp,
	}
}

func (fs *Spoolfs) expiration() time.Time {
	return fs.Clock.Now().Add(fs.attrTimeout)
}

// dropLink handles removal of one directory entry pointing at n. mu must be held.
func (fs *Spoolfs) dropLink(n *node) error {
	switch n.kind {
	case kindFile:
		var nlink uint32
		if err := n.store.UpdateAttributes(func(m *file.EntryMetadata) {
			if m.Nlink > 0 {
				m.Nlink--
			}
			m.Ctime = fs.Clock.Now()
			nlink = m.Nlink
		}); err != nil {
			fs.log.Errorf("dropLink(%d): %v", n.id, err)
			return fuse.EIO
		}
		if nlink > 0 {
			return nil
		}
		n.unlinked = true
		if n.handles == 0 {
			if err := fs.release(n); err != nil {
				return err
			}
		}
	case kindDir:
		n.dir.Attrs.Nlink = 0
		n.unlinked = true
	case kindSymlink:
		n.attrs.Nlink = 0
		n.unlinked = true
	}
	fs.dropIfUnused(n)
	return nil
}

// release frees the content of an unlinked file. mu must be held.
func (fs *Spoolfs) release(n *node) error {
	if err := n.store.Cleanup(); err != nil {
		fs.log.Errorf("Cleanup(%d): %v", n.id, err)
		return fuse.EIO
	}
	return nil
}

// dropIfUnused mu must be held
func (fs *Spoolfs) dropIfUnused(n *node) {
	if n.id != fuseops.RootInodeID && n.unused() {
		delete(fs.inodes, n.id)
	}
}

// StatFS reports capacity of the spool directory.
func (fs *Spoolfs) StatFS(
	ctx context.Context,
	op *fuseops.StatFSOp) error {
	nctx, cancel := context.WithTimeout(ctx, StatFsDurationDeadline)
	defer cancel()
	path := fs.spoolDir
	if path == "" {
		path = os.TempDir()
	}
	op.BlockSize = StatFsBlockSize
	op.IoSize = StatFsBlockSize
	usage, err := disk.UsageWithContext(nctx, path)
	if err != nil {
		fs.log.Debugf("StatFS(%s): %v", path, err)
		op.Blocks = 1024 * 1024 * 1024
		op.BlocksFree = 1024 * 1024 * 1024
		op.BlocksAvailable = 1024 * 1024 * 1024
		return nil
	}
	op.Blocks = usage.Total / StatFsBlockSize
	op.BlocksFree = usage.Free / StatFsBlockSize
	op.BlocksAvailable = usage.Free / StatFsBlockSize
	op.Inodes = usage.InodesTotal
	op.InodesFree = usage.InodesFree
	return nil
}

// Destroy releases every file, removing all spooled temporary files.
func (fs *Spoolfs) Destroy() {
	fs.mu.Lock()
	stores := make([]*file.SpoolStore, 0, len(fs.inodes))
	for _, n := range fs.inodes {
		if n.kind == kindFile {
			stores = append(stores, n.store)
		}
	}
	fs.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for _, s := range stores {
		g.Go(s.Cleanup)
	}
	if err := g.Wait(); err != nil {
		fs.log.Errorf("Destroy(%s): %v", fs.Name, err)
	}
	fs.log.Debugf("Destroy(%s): released %d files", fs.Name, len(stores))
}
