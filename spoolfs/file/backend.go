package file

import (
	"errors"
	"fmt"
)

// WholeContent read size meaning "everything currently stored"
const WholeContent = -1

// MaxMemorySize largest content a memory backing accepts
const MaxMemorySize = 1 << 36

var (
	ErrReleased     = errors.New("storage released")
	ErrNotOpen      = errors.New("storage not open")
	ErrInvalidRange = errors.New("invalid offset or size")
	ErrTooLarge     = errors.New("content too large for memory backing")
)

// Backend is the capability shared by every content backing.
// Open must precede Write and Read; Cleanup is terminal and may be called
// more than once.
type Backend interface {
	Open() error
	Close() error
	Write(buf []byte, off int64) (int, error)
	Read(size, off int64) ([]byte, error)
	Truncate(size uint64) error
	Cleanup() error
	Metadata() *EntryMetadata
}

var (
	_ Backend = (*MemoryBackend)(nil)
	_ Backend = (*DiskBackend)(nil)
)

// WriteMode selects what a write inside the current content does with the
// bytes after the written span.
type WriteMode int

const (
	// WriteModePreserve keeps trailing bytes, like a regular file
	WriteModePreserve WriteMode = iota
	// WriteModeTruncate replaces the whole tail from the write offset.
	// Only memory backings honour it.
	WriteModeTruncate
)

func (m WriteMode) String() string {
	switch m {
	case WriteModePreserve:
		return "preserve"
	case WriteModeTruncate:
		return "truncate"
	}
	return fmt.Sprintf("WriteMode(%d)", int(m))
}

// ParseWriteMode parses the textual form produced by String
func ParseWriteMode(s string) (WriteMode, error) {
	switch s {
	case "", "preserve":
		return WriteModePreserve, nil
	case "truncate":
		return WriteModeTruncate, nil
	}
	return WriteModePreserve, fmt.Errorf("unknown write mode %q", s)
}
