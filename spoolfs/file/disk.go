package file

import (
	"errors"
	"io"
	"io/fs"
	"os"
)

const tempPattern = "spoolfs-*"

// DiskBackend keeps the content in a private temporary file. The file exists
// from construction until Cleanup; Open and Close only manage the handle.
type DiskBackend struct {
	meta    *EntryMetadata
	path    string
	fh      *os.File
	removed bool
}

// NewDiskBackend creates the temporary file in dir (the OS default when
// empty). meta.Size is reset to 0 since the file starts empty.
func NewDiskBackend(dir string, meta *EntryMetadata) (*DiskBackend, error) {
	f, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, err
	}
	meta.setSize(0)
	return &DiskBackend{
		meta: meta,
		path: f.Name(),
	}, nil
}

// NewDiskBackendFromMemory builds a disk backing holding the full content and
// metadata (inode included) of mem. The result is closed. On failure the
// temporary file is removed and mem is left untouched.
func NewDiskBackendFromMemory(dir string, mem *MemoryBackend) (*DiskBackend, error) {
	content, err := mem.Read(WholeContent, 0)
	if err != nil {
		return nil, err
	}
	disk, err := NewDiskBackend(dir, mem.Metadata().clone())
	if err != nil {
		return nil, err
	}
	if err := disk.Open(); err != nil {
		disk.Cleanup()
		return nil, err
	}
	if _, err := disk.Write(content, 0); err != nil {
		disk.Cleanup()
		return nil, err
	}
	if err := disk.Close(); err != nil {
		disk.Cleanup()
		return nil, err
	}
	return disk, nil
}

// Open acquires a read/write handle. Opening an open backend is a no-op.
func (d *DiskBackend) Open() error {
	if d.removed {
		return ErrReleased
	}
	if d.fh != nil {
		return nil
	}
	fh, err := os.OpenFile(d.path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	d.fh = fh
	return nil
}

// Close releases the handle, keeping the file
func (d *DiskBackend) Close() error {
	if d.fh == nil {
		return nil
	}
	err := d.fh.Close()
	d.fh = nil
	return err
}

// IsOpen reports whether the backend holds a handle
func (d *DiskBackend) IsOpen() bool {
	return d.fh != nil
}

// Write writes buf at off. Bytes past the written span are preserved and the
// OS zero fills any gap. Size grows by the bytes actually written.
func (d *DiskBackend) Write(buf []byte, off int64) (int, error) {
	if d.removed {
		return 0, ErrReleased
	}
	if d.fh == nil {
		return 0, ErrNotOpen
	}
	if off < 0 {
		return 0, ErrInvalidRange
	}
	n, err := d.fh.WriteAt(buf, off)
	if n > 0 {
		d.meta.setSize(d.meta.Size + SizeDelta(d.meta.Size, uint64(off), uint64(n)))
	}
	return n, err
}

// Read reads up to size bytes at off. With WholeContent it asks for the
// current size worth of bytes starting at off, so fewer come back when off > 0.
func (d *DiskBackend) Read(size, off int64) ([]byte, error) {
	if d.removed {
		return nil, ErrReleased
	}
	if d.fh == nil {
		return nil, ErrNotOpen
	}
	if size == WholeContent {
		size = int64(d.meta.Size)
	}
	if size < 0 || off < 0 {
		return nil, ErrInvalidRange
	}
	if avail := int64(d.meta.Size) - off; size > avail {
		size = avail
	}
	if size < 0 {
		size = 0
	}
	buf := make([]byte, size)
	n, err := d.fh.ReadAt(buf, off)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return buf[:n], err
}

// Truncate resizes the file, through the handle when open
func (d *DiskBackend) Truncate(size uint64) error {
	if d.removed {
		return ErrReleased
	}
	var err error
	if d.fh != nil {
		err = d.fh.Truncate(int64(size))
	} else {
		err = os.Truncate(d.path, int64(size))
	}
	if err != nil {
		return err
	}
	d.meta.setSize(size)
	return nil
}

// Cleanup closes the handle if needed and deletes the file. A second call
// does nothing.
func (d *DiskBackend) Cleanup() error {
	if d.removed {
		return nil
	}
	closeErr := d.Close()
	if err := os.Remove(d.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	d.removed = true
	return closeErr
}

func (d *DiskBackend) Metadata() *EntryMetadata {
	return d.meta
}

// Path returns the location of the temporary file
func (d *DiskBackend) Path() string {
	return d.path
}
