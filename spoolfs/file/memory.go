package file

// MemoryBackend keeps the content in a growable in-process buffer.
// It holds no external resource, so Open and Close only track state.
type MemoryBackend struct {
	meta     *EntryMetadata
	data     []byte
	mode     WriteMode
	opened   bool
	released bool
}

// NewMemoryBackend creates an empty memory backing. meta.Size is reset to 0.
func NewMemoryBackend(meta *EntryMetadata, mode WriteMode) *MemoryBackend {
	meta.setSize(0)
	return &MemoryBackend{
		meta: meta,
		data: []byte{},
		mode: mode,
	}
}

func (m *MemoryBackend) Open() error {
	if m.released {
		return ErrReleased
	}
	m.opened = true
	return nil
}

func (m *MemoryBackend) Close() error {
	m.opened = false
	return nil
}

// IsOpen reports whether Open was called without a matching Close
func (m *MemoryBackend) IsOpen() bool {
	return m.opened
}

// Write stores buf at off, zero filling any gap between the current end and
// off. It always reports len(buf) bytes written.
func (m *MemoryBackend) Write(buf []byte, off int64) (int, error) {
	if m.released {
		return 0, ErrReleased
	}
	if off < 0 {
		return 0, ErrInvalidRange
	}
	if off > MaxMemorySize-int64(len(buf)) {
		return 0, ErrTooLarge
	}
	cur := int64(len(m.data))
	if off > cur {
		m.data = append(m.data, make([]byte, off-cur)...)
		cur = off
	}
	if m.mode == WriteModeTruncate {
		m.data = append(m.data[:off], buf...)
		m.meta.setSize(uint64(len(m.data)))
		return len(buf), nil
	}
	if end := off + int64(len(buf)); end > cur {
		m.data = append(m.data, make([]byte, end-cur)...)
	}
	copy(m.data[off:], buf)
	m.meta.setSize(m.meta.Size + SizeDelta(m.meta.Size, uint64(off), uint64(len(buf))))
	return len(buf), nil
}

// Read returns a copy of [off, off+size) clipped to the content length.
// size == WholeContent returns everything from the start regardless of off.
func (m *MemoryBackend) Read(size, off int64) ([]byte, error) {
	if m.released {
		return nil, ErrReleased
	}
	if size == WholeContent {
		return append([]byte{}, m.data...), nil
	}
	if size < 0 || off < 0 {
		return nil, ErrInvalidRange
	}
	if off >= int64(len(m.data)) {
		return []byte{}, nil
	}
	end := int64(len(m.data))
	if size < end-off {
		end = off + size
	}
	return append([]byte{}, m.data[off:end]...), nil
}

// Truncate shrinks or zero extends the content to size bytes
func (m *MemoryBackend) Truncate(size uint64) error {
	if m.released {
		return ErrReleased
	}
	if size > MaxMemorySize {
		return ErrTooLarge
	}
	if cur := uint64(len(m.data)); size < cur {
		m.data = m.data[:size]
	} else if size > cur {
		m.data = append(m.data, make([]byte, size-cur)...)
	}
	m.meta.setSize(size)
	return nil
}

// Cleanup drops the buffer. Calling it again is a no-op.
func (m *MemoryBackend) Cleanup() error {
	m.opened = false
	m.released = true
	m.data = nil
	return nil
}

func (m *MemoryBackend) Metadata() *EntryMetadata {
	return m.meta
}
