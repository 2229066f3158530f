package file

// SizeDelta returns how much the logical size of content of oldSize bytes
// grows after writing length bytes at offset. A write starting at or past the
// end also accounts for the zero-filled gap before it. It never shrinks.
func SizeDelta(oldSize, offset, length uint64) uint64 {
	if offset < oldSize {
		if end := offset + length; end > oldSize {
			return end - oldSize
		}
		return 0
	}
	return (offset - oldSize) + length
}
