package avi

// On-disk structures for the RIFF/AVI subset handled by this package. All
// fields are little-endian; sizes below are the on-disk byte counts, kept as
// explicit constants rather than taken from the Go structs' in-memory size,
// since Go struct padding does not follow C layout rules for these
// mixed-width types.

// riffChunkHeader is the common 8-byte chunk header: a FourCC tag followed
// by the size of the data that follows (excluding this header).
type riffChunkHeader struct {
	FourCC uint32
	Size   uint32
}

// riffListHeader is the 12-byte LIST/RIFF header: the outer tag, a size that
// includes the 4-byte embedded list type, and the list type itself.
type riffListHeader struct {
	Tag      uint32
	Size     uint32
	ListType uint32
}

// aviMainHeader is the 56-byte body of the avih chunk.
type aviMainHeader struct {
	MicroSecPerFrame    uint32
	MaxBytesPerSec      uint32
	Reserved1           uint32
	Flags               uint32
	TotalFrames         uint32
	InitialFrames       uint32
	Streams             uint32
	SuggestedBufferSize uint32
	Width               uint32
	Height              uint32
	Reserved            [4]uint32
}

const aviMainHeaderSize = 56

// AVIF_HASINDEX marks that the file has a trailing idx1 index.
const aviFlagHasIndex = 0x10

// aviStreamHeader is the 56-byte body of the strh chunk.
type aviStreamHeader struct {
	Type                uint32
	Handler             uint32
	Flags               uint32
	Priority            uint16
	Language            uint16
	InitialFrames       uint32
	Scale               uint32
	Rate                uint32
	Start               uint32
	Length              uint32
	SuggestedBufferSize uint32
	Quality             int32
	SampleSize          uint32
	FrameLeft           int16
	FrameTop            int16
	FrameRight          int16
	FrameBottom         int16
}

const aviStreamHeaderSize = 56

// bitmapInfoHeader is the 40-byte body of the strf chunk for a video stream.
type bitmapInfoHeader struct {
	Size          uint32
	Width         int32
	Height        int32
	Planes        uint16
	BitCount      uint16
	Compression   uint32
	SizeImage     uint32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ClrUsed       uint32
	ClrImportant  uint32
}

const bitmapInfoHeaderSize = 40

// aviIndexEntry is one 16-byte record of the legacy idx1 index.
type aviIndexEntry struct {
	ChunkID uint32
	Flags   uint32
	Offset  uint32
	Length  uint32
}

const aviIndexEntrySize = 16

// AVIIF_KEYFRAME marks an idx1 entry as a keyframe. MJPEG frames are all
// independently decodable, so the writer always sets it.
const aviIndexKeyframe = 0x10

// FrameDescriptor locates one indexed video frame's chunk within the file:
// the absolute byte offset of the chunk's 8-byte header, and the payload
// length recorded for it by the index (or by the movi scan fallback).
type FrameDescriptor struct {
	AbsolutePosition uint64
	Length           uint32
}
