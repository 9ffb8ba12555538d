package avi

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrBadFourCC reports that an expected FourCC or list type was not found
// at the current read position.
var ErrBadFourCC = errors.New("avi: unexpected element")

// ErrStreamCountInvalid is a fatal invariant violation: the main header
// claims 255 or more streams, which the legacy chunk-ID scheme ("NNxx")
// cannot address.
var ErrStreamCountInvalid = errors.New("avi: stream count must be < 255")

// Reader walks the RIFF tree of an AVI file, locates its first MJPEG video
// stream, and builds the frame index that ReadFrame serves from.
//
// A Reader is not safe for concurrent use.
type Reader struct {
	src *ByteSource
	log zerolog.Logger

	streamID   FourCC
	haveStream bool

	moviStart uint64
	moviEnd   uint64

	width, height uint32
	fps           float64

	frames []FrameDescriptor

	err error
}

// NewReader constructs a Reader with diagnostics disabled. Use WithLogger to
// attach a zerolog.Logger for structural-mismatch and fallback notices.
func NewReader() *Reader {
	return &Reader{log: zerolog.Nop()}
}

// WithLogger attaches a logger used for non-fatal diagnostics (unexpected
// FourCCs, ignored secondary streams, missing index fallback). It returns
// the receiver for chaining.
func (r *Reader) WithLogger(log zerolog.Logger) *Reader {
	r.log = log
	return r
}

// Open binds the reader to src. The reader does not take ownership of src;
// the caller closes it.
func (r *Reader) Open(src *ByteSource) {
	r.src = src
}

// Frames returns the ordered frame list built by Parse.
func (r *Reader) Frames() []FrameDescriptor { return r.frames }

// FPS returns the video stream's frames-per-second, populated by Parse.
func (r *Reader) FPS() float64 { return r.fps }

// Width returns the video width in pixels, populated by Parse.
func (r *Reader) Width() uint32 { return r.width }

// Height returns the video height in pixels, populated by Parse.
func (r *Reader) Height() uint32 { return r.height }

// Err reports the first structural mismatch or short read latched during
// Parse, if any, wrapping ErrBadFourCC or ErrShortRead so callers can
// errors.Is/errors.As against them.
func (r *Reader) Err() error { return r.err }

// latch records err as r.err if no error has been latched yet, mirroring
// BitSink's Err latch: the first failure wins, later diagnostics are still
// logged but don't overwrite it.
func (r *Reader) latch(err error) {
	if r.err == nil {
		r.err = err
	}
}

// Parse walks every RIFF/AVIX chunk in the file, in order, concatenating
// their movi sections into a single frame list. It reports true iff at
// least one frame was indexed.
func (r *Reader) Parse() bool {
	for r.src.IsValid() {
		list, ok := r.readListHeader()
		if !ok {
			break
		}
		if list.Tag != uint32(riffCC) || (list.ListType != uint32(aviCC) && list.ListType != uint32(avixCC)) {
			break
		}

		nextRiff := r.src.Position() + uint64(list.Size) - 4
		r.parseAVI()
		if !r.src.Seek(nextRiff) {
			break
		}
	}
	return len(r.frames) > 0
}

// ReadFrame seeks to descriptor's position, reads the 8-byte chunk header
// found there, and returns exactly chunk.Size bytes of payload. It trusts
// the index and does not check the chunk's FourCC against the tracked
// stream ID.
func (r *Reader) ReadFrame(descriptor FrameDescriptor) ([]byte, error) {
	if !r.src.Seek(descriptor.AbsolutePosition) {
		return nil, ErrShortRead
	}
	chunk, ok := r.readChunkHeader()
	if !ok {
		return nil, ErrShortRead
	}
	out := make([]byte, chunk.Size)
	if _, err := r.src.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Reader) readChunkHeader() (riffChunkHeader, bool) {
	var buf [8]byte
	if _, err := r.src.Read(buf[:]); err != nil {
		return riffChunkHeader{}, false
	}
	return riffChunkHeader{
		FourCC: binary.LittleEndian.Uint32(buf[0:4]),
		Size:   binary.LittleEndian.Uint32(buf[4:8]),
	}, true
}

func (r *Reader) readListHeader() (riffListHeader, bool) {
	var buf [12]byte
	if _, err := r.src.Read(buf[:]); err != nil {
		return riffListHeader{}, false
	}
	return riffListHeader{
		Tag:      binary.LittleEndian.Uint32(buf[0:4]),
		Size:     binary.LittleEndian.Uint32(buf[4:8]),
		ListType: binary.LittleEndian.Uint32(buf[8:12]),
	}, true
}

// parseAVI parses the body of one accepted RIFF/AVI(X) list: hdrl, the
// optional INFO/JUNK preamble, movi, and (if present) idx1.
func (r *Reader) parseAVI() {
	hdrl, ok := r.readListHeader()
	if !ok || hdrl.Tag != uint32(listCC) || hdrl.ListType != uint32(hdrlCC) {
		r.logBadList(hdrl, hdrlCC)
		return
	}
	nextList := r.src.Position() + uint64(hdrl.Size) - 4

	hasIndex, ok := r.parseHdrl()
	if !ok {
		return
	}
	if !r.src.Seek(nextList) {
		return
	}

	some, ok := r.readListHeader()
	if !ok {
		return
	}

	if some.Tag == uint32(listCC) && some.ListType == uint32(infoCC) {
		nextList = r.src.Position() + uint64(some.Size) - 4
		if !r.src.Seek(nextList) {
			return
		}
		if some, ok = r.readListHeader(); !ok {
			return
		}
	}

	some, ok = r.skipJunk(some)
	if !ok {
		return
	}

	if some.Tag != uint32(listCC) || some.ListType != uint32(moviCC) {
		r.logBadList(some, moviCC)
		return
	}

	r.moviStart = r.src.Position() - 4
	r.moviEnd = r.moviStart + uint64(some.Size)

	indexFound := false
	if hasIndex {
		idxPos := r.moviEnd
		if !r.src.Seek(idxPos) {
			return
		}
		idxChunk, ok := r.readChunkHeader()
		if ok && idxChunk.FourCC == uint32(idx1CC) {
			indexFound = r.parseIndex(idxChunk.Size)
		} else {
			r.logBadChunk(idxChunk, idx1CC, ok)
		}
	}

	if !indexFound {
		r.log.Warn().Msg("avi: index was not found, falling back to linear movi scan")
		r.parseMovi()
	}
}

// skipJunk advances past a JUNK preamble, which on read may appear shaped
// either as a plain chunk (size bytes of payload) or as a list (size - 4
// bytes, since a list header carries an extra embedded FourCC). It then
// re-reads the next list header so the caller always receives the element
// following any JUNK.
func (r *Reader) skipJunk(list riffListHeader) (riffListHeader, bool) {
	for list.Tag == uint32(junkCC) {
		if !r.src.Seek(r.src.Position() + uint64(list.Size) - 4) {
			return riffListHeader{}, false
		}
		var ok bool
		if list, ok = r.readListHeader(); !ok {
			return list, false
		}
	}
	return list, true
}

// parseHdrl reads the avih chunk and every strl sub-list, recording the
// first MJPEG video stream found.
func (r *Reader) parseHdrl() (hasIndex bool, ok bool) {
	avih, ok := r.readChunkHeader()
	if !ok || avih.FourCC != uint32(avihCC) {
		r.logBadChunk(avih, avihCC, ok)
		return false, false
	}
	nextStrl := r.src.Position() + uint64(avih.Size)

	var hdr aviMainHeader
	if !r.readPacked(&hdr, aviMainHeaderSize) {
		return false, false
	}

	hasIndex = hdr.Flags&aviFlagHasIndex != 0
	if hdr.Streams >= 255 {
		panic(ErrStreamCountInvalid)
	}
	r.width = hdr.Width
	r.height = hdr.Height

	for i := uint32(0); i < hdr.Streams; i++ {
		if !r.src.Seek(nextStrl) {
			return hasIndex, false
		}
		strl, ok := r.readListHeader()
		if !ok || strl.Tag != uint32(listCC) || strl.ListType != uint32(strlCC) {
			r.logBadList(strl, strlCC)
			continue
		}
		nextStrl = r.src.Position() + uint64(strl.Size) - 4
		r.parseStrl(int(i))
	}
	return hasIndex, true
}

// parseStrl reads one strl's strh chunk and, if it describes an MJPEG video
// stream, records it as the tracked stream.
func (r *Reader) parseStrl(streamIndex int) {
	strh, ok := r.readChunkHeader()
	if !ok || strh.FourCC != uint32(strhCC) {
		r.logBadChunk(strh, strhCC, ok)
		return
	}

	var hdr aviStreamHeader
	if !r.readPacked(&hdr, aviStreamHeaderSize) {
		return
	}

	if hdr.Type != uint32(vidsCC) || hdr.Handler != uint32(mjpgCC) {
		return
	}

	id := StreamChunkID(streamIndex, SuffixDC)
	if !r.haveStream {
		r.streamID = id
		r.haveStream = true
		r.fps = float64(hdr.Rate) / float64(hdr.Scale)
	} else {
		r.log.Warn().
			Str("stream", id.String()).
			Msg("avi: more than one MJPEG video stream found, ignoring")
	}
}

// parseIndex reads sizeBytes worth of 16-byte idx1 records, keeping only
// those belonging to the tracked stream and whose offset lands inside
// [moviStart, moviEnd).
func (r *Reader) parseIndex(sizeBytes uint32) bool {
	indexEnd := r.src.Position() + uint64(sizeBytes)
	found := false

	for r.src.IsValid() && r.src.Position() < indexEnd {
		var entry aviIndexEntry
		if !r.readPacked(&entry, aviIndexEntrySize) {
			break
		}
		found = true

		if entry.ChunkID != uint32(r.streamID) {
			continue
		}
		absolute := r.moviStart + uint64(entry.Offset)
		if absolute < r.moviEnd {
			r.frames = append(r.frames, FrameDescriptor{
				AbsolutePosition: absolute,
				Length:           entry.Length,
			})
		} else {
			r.log.Warn().
				Uint64("offset", absolute).
				Msg("avi: frame offset points outside movi section")
		}
	}
	return found
}

// parseMovi is the fallback used when no usable idx1 index is present: a
// linear scan of every chunk in [moviStart+4, moviEnd), keeping those that
// match the tracked stream's chunk ID.
func (r *Reader) parseMovi() {
	if !r.src.Seek(r.moviStart + 4) {
		return
	}
	for r.src.IsValid() && r.src.Position() < r.moviEnd {
		chunk, ok := r.readChunkHeader()
		if !ok {
			break
		}
		pos := r.src.Position()
		if chunk.FourCC == uint32(r.streamID) {
			r.frames = append(r.frames, FrameDescriptor{
				AbsolutePosition: pos - 8,
				Length:           chunk.Size,
			})
		}
		if !r.src.Seek(pos + uint64(chunk.Size)) {
			break
		}
	}
}

func (r *Reader) readPacked(v interface{}, wantSize int) bool {
	buf := make([]byte, wantSize)
	if _, err := r.src.Read(buf); err != nil {
		return false
	}
	if err := decodePacked(buf, v); err != nil {
		r.log.Error().Err(err).Msg("avi: malformed packed header")
		return false
	}
	return true
}

func (r *Reader) logBadList(got riffListHeader, want FourCC) {
	if !r.src.IsValid() {
		r.log.Warn().Str("want", want.String()).Msg("avi: unexpected end of file while searching for list")
		r.latch(fmt.Errorf("avi: unexpected end of file while searching for list %q: %w", want, ErrShortRead))
		return
	}
	if got.Tag != uint32(listCC) {
		r.log.Warn().
			Str("want", FourCC(listCC).String()).
			Str("got", FourCC(got.Tag).String()).
			Msg("avi: unexpected element")
		r.latch(fmt.Errorf("avi: expected tag %q, got %q: %w", FourCC(listCC), FourCC(got.Tag), ErrBadFourCC))
		return
	}
	r.log.Warn().
		Str("want", want.String()).
		Str("got", FourCC(got.ListType).String()).
		Msg("avi: unexpected list type")
	r.latch(fmt.Errorf("avi: expected list type %q, got %q: %w", want, FourCC(got.ListType), ErrBadFourCC))
}

func (r *Reader) logBadChunk(got riffChunkHeader, want FourCC, readOK bool) {
	if !readOK || !r.src.IsValid() {
		r.log.Warn().Str("want", want.String()).Msg("avi: unexpected end of file while searching for chunk")
		r.latch(fmt.Errorf("avi: unexpected end of file while searching for chunk %q: %w", want, ErrShortRead))
		return
	}
	r.log.Warn().
		Str("want", want.String()).
		Str("got", FourCC(got.FourCC).String()).
		Msg("avi: unexpected element")
	r.latch(fmt.Errorf("avi: expected chunk %q, got %q: %w", want, FourCC(got.FourCC), ErrBadFourCC))
}
