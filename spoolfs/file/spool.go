package file

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/timeutil"
	"github.com/ztrue/tracerr"
	"go.uber.org/zap"
)

// DefaultThreshold largest size a store keeps in memory unless configured
const DefaultThreshold = 1 << 20

// State of a SpoolStore
type State int

const (
	MemoryBacked State = iota
	DiskBacked
	Released
)

func (s State) String() string {
	switch s {
	case MemoryBacked:
		return "memory"
	case DiskBacked:
		return "disk"
	case Released:
		return "released"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Metrics receives spool events. A nil Metrics is valid and records nothing.
type Metrics interface {
	StoreCreated(state State)
	StoreReleased(state State)
	Migrated(bytes uint64, took time.Duration)
	MigrationFailed()
}

// SpoolStore keeps content in memory until a write would grow it past the
// threshold, then moves it to a temporary file for the rest of its life.
// Exactly one of mem and disk is set while not Released. All methods are
// serialised by mu so a migration is never observed half way.
type SpoolStore struct {
	mu    sync.Mutex
	state State
	mem   *MemoryBackend
	disk  *DiskBackend
	// last attributes, kept for getattr after release
	final EntryMetadata

	threshold uint64
	spooling  bool
	dir       string
	writeMode WriteMode
	clock     timeutil.Clock
	log       *zap.SugaredLogger
	metrics   Metrics
}

type Option func(*SpoolStore)

// WithThreshold sets the spool threshold in bytes
func WithThreshold(n uint64) Option {
	return func(s *SpoolStore) {
		s.threshold = n
		s.spooling = true
	}
}

// WithoutSpooling keeps the content in memory forever
func WithoutSpooling() Option {
	return func(s *SpoolStore) {
		s.spooling = false
	}
}

// WithSpoolDir sets where temporary files are created
func WithSpoolDir(dir string) Option {
	return func(s *SpoolStore) {
		s.dir = dir
	}
}

func WithWriteMode(mode WriteMode) Option {
	return func(s *SpoolStore) {
		s.writeMode = mode
	}
}

func WithClock(clock timeutil.Clock) Option {
	return func(s *SpoolStore) {
		s.clock = clock
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *SpoolStore) {
		s.log = log
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *SpoolStore) {
		s.metrics = m
	}
}

func newSpoolStore(opts []Option) *SpoolStore {
	s := &SpoolStore{
		threshold: DefaultThreshold,
		spooling:  true,
		clock:     timeutil.RealClock(),
		log:       zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSpoolStore creates an empty memory backed store for inode
func NewSpoolStore(inode fuseops.InodeID, mode os.FileMode, opts ...Option) *SpoolStore {
	s := newSpoolStore(opts)
	s.state = MemoryBacked
	s.mem = NewMemoryBackend(NewEntryMetadata(s.clock, inode, 0, mode), s.writeMode)
	if s.metrics != nil {
		s.metrics.StoreCreated(MemoryBacked)
	}
	return s
}

// NewSpoolStoreFromBytes creates a store holding data. Content larger than
// the threshold goes straight to disk. The store is returned closed.
func NewSpoolStoreFromBytes(inode fuseops.InodeID, mode os.FileMode, data []byte, opts ...Option) (*SpoolStore, error) {
	s := newSpoolStore(opts)
	meta := NewEntryMetadata(s.clock, inode, 0, mode)
	if !s.exceeds(uint64(len(data))) {
		s.state = MemoryBacked
		s.mem = NewMemoryBackend(meta, s.writeMode)
		if _, err := s.mem.Write(data, 0); err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.StoreCreated(MemoryBacked)
		}
		return s, nil
	}
	disk, err := NewDiskBackend(s.dir, meta)
	if err != nil {
		return nil, err
	}
	if err := disk.Open(); err != nil {
		disk.Cleanup()
		return nil, err
	}
	if _, err := disk.Write(data, 0); err != nil {
		disk.Cleanup()
		return nil, err
	}
	if err := disk.Close(); err != nil {
		disk.Cleanup()
		return nil, err
	}
	s.state = DiskBacked
	s.disk = disk
	if s.metrics != nil {
		s.metrics.StoreCreated(DiskBacked)
	}
	return s, nil
}

func (s *SpoolStore) exceeds(size uint64) bool {
	return s.spooling && size > s.threshold
}

// migrate moves the memory content to a fresh disk backend. The memory
// backend is retired only after the copy succeeded.
func (s *SpoolStore) migrate() error {
	start := s.clock.Now()
	inode := s.mem.meta.Inode
	disk, err := NewDiskBackendFromMemory(s.dir, s.mem)
	if err == nil {
		if err = disk.Open(); err != nil {
			disk.Cleanup()
		}
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.MigrationFailed()
		}
		s.log.Errorf("spool migration of inode %d failed: %v", inode, err)
		return tracerr.Errorf("spool migration of inode %d: %w", inode, err)
	}
	old := s.mem
	s.state, s.mem, s.disk = DiskBacked, nil, disk
	old.Close()
	old.Cleanup()
	took := s.clock.Now().Sub(start)
	if s.metrics != nil {
		s.metrics.Migrated(disk.meta.Size, took)
	}
	s.log.Debugf("inode %d spooled to %s (%d bytes, %v)", inode, disk.Path(), disk.meta.Size, took)
	return nil
}

// Open delegates to the active backend
func (s *SpoolStore) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case MemoryBacked:
		return s.mem.Open()
	case DiskBacked:
		return s.disk.Open()
	}
	return ErrReleased
}

// Close delegates to the active backend
func (s *SpoolStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case MemoryBacked:
		return s.mem.Close()
	case DiskBacked:
		return s.disk.Close()
	}
	return ErrReleased
}

// Write stores buf at off, spooling to disk first when the resulting size
// would exceed the threshold.
func (s *SpoolStore) Write(buf []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if off < 0 {
		return 0, ErrInvalidRange
	}
	switch s.state {
	case MemoryBacked:
		size := s.mem.meta.Size
		if s.exceeds(size + SizeDelta(size, uint64(off), uint64(len(buf)))) {
			if err := s.migrate(); err != nil {
				return 0, err
			}
			return s.disk.Write(buf, off)
		}
		return s.mem.Write(buf, off)
	case DiskBacked:
		return s.disk.Write(buf, off)
	}
	return 0, ErrReleased
}

// Read delegates to the active backend
func (s *SpoolStore) Read(size, off int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case MemoryBacked:
		return s.mem.Read(size, off)
	case DiskBacked:
		return s.disk.Read(size, off)
	}
	return nil, ErrReleased
}

// Truncate resizes the content, spooling first when size exceeds the threshold.
// The spool file is left open only if the memory backing was open.
func (s *SpoolStore) Truncate(size uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case MemoryBacked:
		if !s.exceeds(size) {
			return s.mem.Truncate(size)
		}
		wasOpen := s.mem.IsOpen()
		if err := s.migrate(); err != nil {
			return err
		}
		if err := s.disk.Truncate(size); err != nil {
			return err
		}
		// a truncate by path holds no handle, keep the spool file closed too
		if !wasOpen {
			return s.disk.Close()
		}
		return nil
	case DiskBacked:
		return s.disk.Truncate(size)
	}
	return ErrReleased
}

// Cleanup releases the active backend. The store is unusable afterwards;
// further calls to Cleanup are no-ops.
func (s *SpoolStore) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var backend Backend
	switch s.state {
	case MemoryBacked:
		backend = s.mem
	case DiskBacked:
		backend = s.disk
	default:
		return nil
	}
	if err := backend.Cleanup(); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.StoreReleased(s.state)
	}
	s.final = *backend.Metadata()
	s.state, s.mem, s.disk = Released, nil, nil
	return nil
}

// Metadata returns the live metadata of the active backend, nil once released
func (s *SpoolStore) Metadata() *EntryMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata()
}

func (s *SpoolStore) metadata() *EntryMetadata {
	switch s.state {
	case MemoryBacked:
		return s.mem.meta
	case DiskBacked:
		return s.disk.meta
	}
	return nil
}

// Attributes returns a copy of the current metadata. After Cleanup it is
// the metadata at release time.
func (s *SpoolStore) Attributes() EntryMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.metadata(); m != nil {
		return *m
	}
	return s.final
}

// UpdateAttributes applies fn to the metadata. Size and Blocks are owned by
// the backends and are restored after fn returns.
func (s *SpoolStore) UpdateAttributes(fn func(m *EntryMetadata)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.metadata()
	if m == nil {
		return ErrReleased
	}
	size, blocks := m.Size, m.Blocks
	fn(m)
	m.Size, m.Blocks = size, blocks
	return nil
}

// State reports which backing is active
func (s *SpoolStore) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DiskPath returns the temporary file path while disk backed
func (s *SpoolStore) DiskPath() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != DiskBacked {
		return "", false
	}
	return s.disk.Path(), true
}
