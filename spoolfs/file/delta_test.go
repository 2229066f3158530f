package file

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizeDelta(t *testing.T) {
	tests := []struct {
		name                 string
		oldSize, off, length uint64
		expected             uint64
	}{
		{"empty append", 0, 0, 5, 5},
		{"gap on empty", 0, 1, 5, 6},
		{"inside bounds", 10, 2, 3, 0},
		{"ends exactly at end", 10, 5, 5, 0},
		{"extends past end", 10, 8, 5, 3},
		{"starts at end", 10, 10, 4, 4},
		{"starts past end", 10, 12, 4, 6},
		{"zero length past end", 10, 12, 0, 2},
		{"zero length inside", 10, 3, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SizeDelta(tt.oldSize, tt.off, tt.length))
		})
	}
}
