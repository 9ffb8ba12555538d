package avi

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// writeAVI produces a complete single-RIFF AVI file at path, one stream,
// carrying the given frame payloads in order.
func writeAVI(t *testing.T, path string, payloads [][]byte) {
	t.Helper()
	w := NewWriter()
	require.True(t, w.Init(path, 10, 16, 16, true))
	w.StartWriteAVI(1)
	w.WriteStreamHeader(CodecMJPEG)
	for _, p := range payloads {
		w.StartFrame(SuffixDC)
		w.PutBytes(p)
		w.EndFrame()
	}
	w.WriteIndex(0, SuffixDC)
	w.FinishWriteAVI()
	require.NoError(t, w.Err())
}

func TestReaderParsesAVIXContinuation(t *testing.T) {
	dir := t.TempDir()
	firstPath := filepath.Join(dir, "first.avi")
	secondPath := filepath.Join(dir, "second.avi")

	firstFrame := []byte{0x01, 0x02, 0x03}
	secondFrames := [][]byte{
		{0x10, 0x11, 0x12, 0x13},
		{0x20, 0x21},
	}

	writeAVI(t, firstPath, [][]byte{firstFrame})
	writeAVI(t, secondPath, secondFrames)

	first, err := os.ReadFile(firstPath)
	require.NoError(t, err)
	second, err := os.ReadFile(secondPath)
	require.NoError(t, err)

	// Turn the second file's outer RIFF list type from "AVI " into "AVIX",
	// as if it were a continuation segment of one logical capture.
	require.Equal(t, "AVI ", string(second[8:12]))
	copy(second[8:12], "AVIX")

	combinedPath := filepath.Join(dir, "combined.avi")
	require.NoError(t, os.WriteFile(combinedPath, append(first, second...), 0o644))

	src, ok := NewByteSource(combinedPath)
	require.True(t, ok)
	defer src.Close()

	r := NewReader()
	r.Open(src)
	require.True(t, r.Parse())

	frames := r.Frames()
	require.Len(t, frames, 3)

	want := append([][]byte{firstFrame}, secondFrames...)
	for i, w := range want {
		got, err := r.ReadFrame(frames[i])
		require.NoError(t, err)
		require.Equal(t, w, got)
	}
}

func TestReaderParseOnEmptyFileReturnsFalse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	src, ok := NewByteSource(path)
	require.True(t, ok)
	defer src.Close()

	r := NewReader()
	r.Open(src)
	require.False(t, r.Parse())
	require.Empty(t, r.Frames())
}

// writeAVITwoVideoStreams hand-assembles a two-video-stream AVI file, a
// shape Writer itself never produces (it only ever emits one strl), so the
// reader's "ignore every video stream after the first" path can be
// exercised against a file that genuinely has two.
func writeAVITwoVideoStreams(t *testing.T, path string, payload []byte) {
	t.Helper()
	sink := NewBitSink()
	require.True(t, sink.Open(path))

	startChunk := func(fourcc FourCC) uint64 {
		sink.PutInt(uint32(fourcc))
		pos := sink.GetPos()
		sink.PutInt(0)
		return pos
	}
	endChunk := func(pos uint64) {
		sink.PatchInt(uint32(sink.GetPos()-(pos+4)), pos)
	}

	riffPos := startChunk(riffCC)
	sink.PutInt(uint32(aviCC))

	hdrlPos := startChunk(listCC)
	sink.PutInt(uint32(hdrlCC))

	avihPos := startChunk(avihCC)
	mainHdr := aviMainHeader{
		MicroSecPerFrame:    100000,
		MaxBytesPerSec:      maxBytesPerSec,
		Flags:               aviFlagHasIndex,
		TotalFrames:         1,
		Streams:             2,
		SuggestedBufferSize: suggestedBufferSize,
		Width:               8,
		Height:              8,
	}
	buf, err := encodePacked(mainHdr)
	require.NoError(t, err)
	sink.PutBytes(buf)
	endChunk(avihPos)

	writeStrl := func(rate uint32) {
		strlPos := startChunk(listCC)
		sink.PutInt(uint32(strlCC))

		strhPos := startChunk(strhCC)
		strHdr := aviStreamHeader{
			Type:                uint32(vidsCC),
			Handler:             uint32(mjpgCC),
			Scale:               1,
			Rate:                rate,
			Length:              1,
			SuggestedBufferSize: suggestedBufferSize,
			Quality:             -1,
			FrameRight:          8,
			FrameBottom:         8,
		}
		buf, err := encodePacked(strHdr)
		require.NoError(t, err)
		sink.PutBytes(buf)
		endChunk(strhPos)

		strfPos := startChunk(strfCC)
		bih := bitmapInfoHeader{
			Size:        bitmapInfoHeaderSize,
			Width:       8,
			Height:      8,
			Planes:      1,
			BitCount:    24,
			Compression: uint32(mjpgCC),
			SizeImage:   8 * 8 * 3,
		}
		buf, err = encodePacked(bih)
		require.NoError(t, err)
		sink.PutBytes(buf)
		endChunk(strfPos)

		endChunk(strlPos)
	}
	writeStrl(10)
	writeStrl(30)

	endChunk(hdrlPos)

	moviPos := startChunk(listCC)
	moviPointer := sink.GetPos()
	sink.PutInt(uint32(moviCC))

	frameOffset := sink.GetPos() - moviPointer
	chunkPos := startChunk(StreamChunkID(0, SuffixDC))
	sink.PutBytes(payload)
	frameSize := uint32(sink.GetPos() - (chunkPos + 4))
	endChunk(chunkPos)

	endChunk(moviPos)

	idx1Pos := startChunk(idx1CC)
	sink.PutInt(uint32(StreamChunkID(0, SuffixDC)))
	sink.PutInt(aviIndexKeyframe)
	sink.PutInt(uint32(frameOffset))
	sink.PutInt(frameSize)
	endChunk(idx1Pos)

	endChunk(riffPos)
	sink.Close()
	require.NoError(t, sink.Err)
}

func TestReaderIndexesOnlyFirstOfTwoVideoStreams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twostreams.avi")
	payload := []byte{0x01, 0x02, 0x03, 0x04}
	writeAVITwoVideoStreams(t, path, payload)

	var logBuf bytes.Buffer
	logger := zerolog.New(&logBuf)

	src, ok := NewByteSource(path)
	require.True(t, ok)
	defer src.Close()

	r := NewReader().WithLogger(logger)
	r.Open(src)
	require.True(t, r.Parse())

	require.Len(t, r.Frames(), 1)
	got, err := r.ReadFrame(r.Frames()[0])
	require.NoError(t, err)
	require.Equal(t, payload, got)

	require.Contains(t, logBuf.String(), "more than one MJPEG video stream")
}

func TestReaderSkipsIndexEntryOutsideMovi(t *testing.T) {
	path := filepath.Join(t.TempDir(), "badindex.avi")
	payloads := [][]byte{
		{0x01, 0x02, 0x03},
		{0x04, 0x05, 0x06, 0x07},
	}
	writeAVI(t, path, payloads)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	// idx1 holds one 16-byte record per frame (ChunkID, Flags, Offset,
	// Length) as the last bytes of the file, in frame order. Corrupt the
	// second frame's offset so it resolves outside the movi section.
	const entrySize = 16
	secondEntryOffsetField := len(raw) - entrySize + 8
	binary.LittleEndian.PutUint32(raw[secondEntryOffsetField:], 0xFFFFFF00)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	var logBuf bytes.Buffer
	logger := zerolog.New(&logBuf)

	src, ok := NewByteSource(path)
	require.True(t, ok)
	defer src.Close()

	r := NewReader().WithLogger(logger)
	r.Open(src)
	require.True(t, r.Parse())

	require.Len(t, r.Frames(), 1)
	got, err := r.ReadFrame(r.Frames()[0])
	require.NoError(t, err)
	require.Equal(t, payloads[0], got)

	require.Contains(t, logBuf.String(), "frame offset points outside movi section")
}

func TestReaderFallsBackToLinearScanWithoutIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noindex.avi")
	payloads := [][]byte{
		{0xAA, 0xBB},
		{0xCC, 0xDD, 0xEE},
	}

	w := NewWriter()
	require.True(t, w.Init(path, 25, 8, 8, false))
	w.StartWriteAVI(1)
	w.WriteStreamHeader(CodecMJPEG)
	for _, p := range payloads {
		w.StartFrame(SuffixDC)
		w.PutBytes(p)
		w.EndFrame()
	}
	// No WriteIndex call: close movi directly and finish without an idx1.
	w.EndWriteChunk() // movi
	w.FinishWriteAVI()
	require.NoError(t, w.Err())

	src, ok := NewByteSource(path)
	require.True(t, ok)
	defer src.Close()

	r := NewReader()
	r.Open(src)
	require.True(t, r.Parse())
	require.Len(t, r.Frames(), 2)
	for i, want := range payloads {
		got, err := r.ReadFrame(r.Frames()[i])
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}
