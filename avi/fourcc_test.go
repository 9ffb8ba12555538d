package avi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMakeFourCCString(t *testing.T) {
	f := MakeFourCC('R', 'I', 'F', 'F')
	require.Equal(t, "RIFF", f.String())
	require.Equal(t, riffCC, f)
}

func TestStreamChunkID(t *testing.T) {
	tests := []struct {
		name   string
		n      int
		suffix StreamSuffix
		want   string
	}{
		{"stream 0 compressed video", 0, SuffixDC, "00dc"},
		{"stream 1 uncompressed video", 1, SuffixDB, "01db"},
		{"stream 12 palette change", 12, SuffixPC, "12pc"},
		{"stream 9 audio", 9, SuffixWB, "09wb"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, StreamChunkID(tc.n, tc.suffix).String())
		})
	}
}
