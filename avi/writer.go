package avi

import (
	"math"

	"github.com/rs/zerolog"
)

// Header constants the writer emits, taken from the AVI 1.0 legacy layout.
const (
	maxBytesPerSec      = 99_999_999
	suggestedBufferSize = 1_048_576
	junkSeek            = 4096
	avif_dwFlags        = 0x910 // HAS_INDEX | IS_INTERLEAVED | WAS_CAPTURE_FILE
	dwScale             = 1
	dwQuality           = 0xFFFFFFFF // bit pattern of the legacy int32(-1) "use default quality"
)

// Codec identifies the video compression written into strf/strh. Only
// MJPEG is supported; the type exists so a future codec doesn't require an
// API break.
type Codec int

const (
	CodecMJPEG Codec = iota
)

// Writer assembles a single-video-stream AVI file, one frame at a time,
// while an external JPEG encoder pushes entropy-coded bytes through the
// exposed BitSink passthroughs.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	sink *BitSink
	log  zerolog.Logger

	fps      int
	width    uint32
	height   uint32
	channels int

	moviPointer uint64

	frameOffset []uint64
	frameSize   []uint64

	chunkSizePositions []uint64
	frameCountPatches  []uint64
}

// NewWriter constructs an unopened Writer with diagnostics disabled. Use
// WithLogger to attach a zerolog.Logger.
func NewWriter() *Writer {
	return &Writer{sink: NewBitSink(), log: zerolog.Nop()}
}

// WithLogger attaches a logger for non-fatal diagnostics. It returns the
// receiver for chaining.
func (w *Writer) WithLogger(log zerolog.Logger) *Writer {
	w.log = log
	return w
}

// Init opens path for writing and records the stream's geometry. fps is
// rounded to the nearest integer for the header's dwRate field, matching
// the legacy writer.
func (w *Writer) Init(path string, fps float64, width, height uint32, isColor bool) bool {
	w.fps = int(math.Round(fps))
	w.width = width
	w.height = height
	if isColor {
		w.channels = 3
	} else {
		w.channels = 1
	}
	w.moviPointer = 0
	return w.sink.Open(path)
}

// StartWriteAVI emits RIFF/AVI /LIST/hdrl/avih and records the avih
// total-frames slot as one of the three positions patched at Finish.
func (w *Writer) StartWriteAVI(streamCount int) {
	w.StartWriteChunk(riffCC)
	w.sink.PutInt(uint32(aviCC))

	w.StartWriteChunk(listCC)
	w.sink.PutInt(uint32(hdrlCC))
	w.sink.PutInt(uint32(avihCC))
	w.sink.PutInt(aviMainHeaderSize)
	w.sink.PutInt(uint32(math.Round(1e6 / float64(w.fps))))
	w.sink.PutInt(maxBytesPerSec)
	w.sink.PutInt(0)
	w.sink.PutInt(avif_dwFlags)

	w.frameCountPatches = append(w.frameCountPatches, w.sink.GetPos())
	w.sink.PutInt(0) // dwTotalFrames, patched at Finish

	w.sink.PutInt(0) // dwInitialFrames
	w.sink.PutInt(uint32(streamCount))
	w.sink.PutInt(suggestedBufferSize)
	w.sink.PutInt(w.width)
	w.sink.PutInt(w.height)
	w.sink.PutInt(0)
	w.sink.PutInt(0)
	w.sink.PutInt(0)
	w.sink.PutInt(0)
}

// WriteStreamHeader emits the single strl (strh+strf), the odml/dmlh
// placeholder, closes hdrl, pads with JUNK up to offset 4096, and opens
// movi. codec is currently always CodecMJPEG.
func (w *Writer) WriteStreamHeader(codec Codec) {
	w.StartWriteChunk(listCC)
	w.sink.PutInt(uint32(strlCC))

	w.StartWriteChunk(strhCC)
	w.sink.PutInt(uint32(vidsCC))
	w.sink.PutInt(uint32(mjpgCC))
	w.sink.PutInt(0) // flags
	w.sink.PutInt(0) // priority | language
	w.sink.PutInt(0) // initial frames
	w.sink.PutInt(dwScale)
	w.sink.PutInt(uint32(w.fps))
	w.sink.PutInt(0) // start

	w.frameCountPatches = append(w.frameCountPatches, w.sink.GetPos())
	w.sink.PutInt(0) // dwLength, patched at Finish

	w.sink.PutInt(suggestedBufferSize)
	w.sink.PutInt(dwQuality)
	w.sink.PutInt(0) // sample size
	w.sink.PutShort(0)
	w.sink.PutShort(0)
	w.sink.PutShort(uint16(w.width))
	w.sink.PutShort(uint16(w.height))
	w.EndWriteChunk() // strh

	w.StartWriteChunk(strfCC)
	bih := bitmapInfoHeader{
		Size:        bitmapInfoHeaderSize,
		Width:       int32(w.width),
		Height:      int32(w.height),
		Planes:      1,
		BitCount:    uint16(8 * w.channels),
		Compression: uint32(mjpgCC),
		SizeImage:   w.width * w.height * uint32(w.channels),
	}
	buf, err := encodePacked(bih)
	if err != nil {
		if w.sink.Err == nil {
			w.sink.Err = err
		}
		return
	}
	w.sink.PutBytes(buf)
	w.EndWriteChunk() // strf

	w.EndWriteChunk() // strl

	w.StartWriteChunk(listCC)
	w.sink.PutInt(uint32(odmlCC))
	w.StartWriteChunk(dmlhCC)
	w.frameCountPatches = append(w.frameCountPatches, w.sink.GetPos())
	w.sink.PutInt(0) // total frames, patched at Finish
	w.sink.PutInt(0)
	w.EndWriteChunk() // dmlh
	w.EndWriteChunk() // odml

	w.EndWriteChunk() // hdrl

	w.StartWriteChunk(junkCC)
	for pos := w.sink.GetPos(); pos < junkSeek; pos += 4 {
		w.sink.PutInt(0)
	}
	w.EndWriteChunk() // JUNK

	w.StartWriteChunk(listCC)
	w.moviPointer = w.sink.GetPos()
	w.sink.PutInt(uint32(moviCC))
}

// StartWriteChunk emits fourcc followed by a zero placeholder size, and
// pushes the size slot's position for EndWriteChunk to patch later.
func (w *Writer) StartWriteChunk(fourcc FourCC) {
	w.sink.PutInt(uint32(fourcc))
	w.chunkSizePositions = append(w.chunkSizePositions, w.sink.GetPos())
	w.sink.PutInt(0)
}

// EndWriteChunk patches the most recently opened chunk's size field with
// the number of bytes written since it.
func (w *Writer) EndWriteChunk() {
	if len(w.chunkSizePositions) == 0 {
		return
	}
	n := len(w.chunkSizePositions) - 1
	pos := w.chunkSizePositions[n]
	w.chunkSizePositions = w.chunkSizePositions[:n]

	currPos := w.sink.GetPos()
	size := uint32(currPos - (pos + 4))
	w.sink.PatchInt(size, pos)
}

// StartFrame opens a data chunk for stream 0 tagged with suffix, and
// records the frame's offset relative to moviPointer. Payload bytes should
// be pushed through PutByte/PutBytes/JPut/JPutShort/JFlush; call EndFrame
// once the encoder has finished the frame.
func (w *Writer) StartFrame(suffix StreamSuffix) {
	w.frameOffset = append(w.frameOffset, w.sink.GetPos()-w.moviPointer)
	w.StartWriteChunk(StreamChunkID(0, suffix))
}

// EndFrame closes the chunk opened by StartFrame and records the frame's
// payload size.
func (w *Writer) EndFrame() {
	n := len(w.chunkSizePositions) - 1
	sizeSlot := w.chunkSizePositions[n]
	w.frameSize = append(w.frameSize, w.sink.GetPos()-(sizeSlot+4))
	w.EndWriteChunk()
}

// WriteIndex closes movi — which has stayed open since WriteStreamHeader so
// every frame chunk nests inside it — then emits the legacy idx1 chunk as
// movi's sibling, covering every frame written so far, all flagged as
// keyframes (every MJPEG frame decodes independently).
func (w *Writer) WriteIndex(streamNumber int, suffix StreamSuffix) {
	w.EndWriteChunk() // movi

	w.StartWriteChunk(idx1CC)
	tag := StreamChunkID(streamNumber, suffix)
	for i := range w.frameOffset {
		w.sink.PutInt(uint32(tag))
		w.sink.PutInt(aviIndexKeyframe)
		w.sink.PutInt(uint32(w.frameOffset[i]))
		w.sink.PutInt(uint32(w.frameSize[i]))
	}
	w.EndWriteChunk() // idx1
}

// FinishWriteAVI patches the three frame-count positions recorded during
// StartWriteAVI/WriteStreamHeader with the final frame count, closes the
// outer RIFF chunk, and closes the underlying BitSink.
func (w *Writer) FinishWriteAVI() {
	nframes := uint32(len(w.frameOffset))
	for len(w.frameCountPatches) > 0 {
		n := len(w.frameCountPatches) - 1
		pos := w.frameCountPatches[n]
		w.frameCountPatches = w.frameCountPatches[:n]
		w.sink.PatchInt(nframes, pos)
	}
	w.EndWriteChunk() // RIFF
	w.sink.Close()
}

// Err reports the first I/O failure latched by the underlying BitSink, if
// any.
func (w *Writer) Err() error { return w.sink.Err }

// The following passthroughs let a JPEG encoder write directly into the
// currently open frame chunk without depending on the avi package's
// internal BitSink field.

// GetPos returns the sink's current logical write position.
func (w *Writer) GetPos() uint64 { return w.sink.GetPos() }

// PutByte writes one raw byte.
func (w *Writer) PutByte(v byte) { w.sink.PutByte(v) }

// PutBytes writes buf verbatim.
func (w *Writer) PutBytes(buf []byte) { w.sink.PutBytes(buf) }

// JPutShort writes a big-endian 16-bit value (JPEG segment length).
func (w *Writer) JPutShort(v uint16) { w.sink.JPutShort(v) }

// JPut writes a 32-bit value big-endian with JPEG 0xFF-stuffing.
func (w *Writer) JPut(v uint32) { w.sink.JPut(v) }

// JFlush finalizes a JPEG entropy bit buffer; see BitSink.JFlush.
func (w *Writer) JFlush(currval uint32, bitIdx int) { w.sink.JFlush(currval, bitIdx) }
