package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatSpeed(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0 B/s"},
		{512, "512 B/s"},
		{999, "999 B/s"},
		{511.6, "512 B/s"},
		{1023.4, "1023 B/s"},
		{1024, "1 KB/s"},
		{1536, "1.5 KB/s"},
		{1024 * 1.75, "1.75 KB/s"},
		{1048576, "1 MB/s"},
		{2097152, "2 MB/s"},
		{1024 * 1024 * 1536, "1,536 MB/s"},
		{-0.2, "0 B/s"},
		{-5, "-5 B/s"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSpeed(tt.in), "FormatSpeed(%v)", tt.in)
	}
}
