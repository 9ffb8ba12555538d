package avi

import (
	"errors"
	"io"
	"os"
)

// defaultBlockSize is the size of a full write-out block. It matches the
// legacy AVI writer's 32 KiB buffer.
const defaultBlockSize = 1 << 15

// overrunMargin is extra scratch space kept past end so that jput/jflush,
// which can each emit up to 8 bytes per call without checking the bound
// mid-write, can never write past the backing array.
const overrunMargin = 1024

// ErrPatchStraddlesBoundary is a fatal invariant violation: patchInt was
// asked to overwrite 4 bytes that span the boundary between data already
// flushed to disk and data still resident in the in-memory buffer, or that
// run past the last byte written so far.
var ErrPatchStraddlesBoundary = errors.New("avi: patch target straddles flushed/resident boundary")

// BitSink is a buffered, seekable binary output. It mirrors the JPEG
// encoder's expectations directly: little-endian raw writes for container
// framing, big-endian byte-stuffed writes for JPEG entropy data, and
// deferred back-patching of size fields that may already be on disk.
//
// A BitSink is not safe for concurrent use. Like dominikh-xcapture's
// ebml.Encoder, failures are latched into Err rather than returned from
// every Put call, so a producer can push a whole frame through and check
// Err once at the end.
type BitSink struct {
	f *os.File

	buf     []byte
	start   int // always 0; kept for readability against the source
	current int // write cursor into buf
	end     int // the block size; current >= end triggers a flush

	pos uint64 // bytes already flushed to the file

	Err error
}

// NewBitSink constructs a BitSink with the default 32 KiB block size. It is
// not yet open; call Open before writing.
func NewBitSink() *BitSink {
	return newBitSinkWithBlockSize(defaultBlockSize)
}

// NewBitSinkWithBlockSize is the same as NewBitSink but with a caller-chosen
// block size, useful for tests that want to exercise the flush boundary
// without writing 32 KiB of filler first.
func NewBitSinkWithBlockSize(blockSize int) *BitSink {
	return newBitSinkWithBlockSize(blockSize)
}

func newBitSinkWithBlockSize(blockSize int) *BitSink {
	return &BitSink{
		buf: make([]byte, blockSize+overrunMargin),
		end: blockSize,
	}
}

// Open creates (truncating) the file at path for writing.
func (s *BitSink) Open(path string) bool {
	s.Close()
	f, err := os.Create(path)
	if err != nil {
		s.Err = err
		return false
	}
	s.f = f
	s.current = 0
	s.pos = 0
	s.Err = nil
	return true
}

// IsOpened reports whether the sink currently owns an open file handle.
func (s *BitSink) IsOpened() bool {
	return s.f != nil
}

// Close flushes any buffered bytes and releases the file handle.
func (s *BitSink) Close() {
	s.WriteBlock()
	if s.f != nil {
		s.f.Close()
		s.f = nil
	}
}

// WriteBlock flushes the currently buffered bytes to the file.
func (s *BitSink) WriteBlock() {
	n := s.current
	if n > 0 && s.f != nil {
		wsz, err := s.f.Write(s.buf[s.start:s.current])
		if err != nil || wsz != n {
			if err == nil {
				err = io.ErrShortWrite
			}
			if s.Err == nil {
				s.Err = err
			}
		}
	}
	s.pos += uint64(n)
	s.current = 0
}

// GetPos returns the logical offset of the next byte that will be written.
func (s *BitSink) GetPos() uint64 {
	return s.pos + uint64(s.current-s.start)
}

func (s *BitSink) maybeFlush() {
	if s.current >= s.end {
		s.WriteBlock()
	}
}

// PutByte writes a single raw byte.
func (s *BitSink) PutByte(v byte) {
	s.buf[s.current] = v
	s.current++
	s.maybeFlush()
}

// PutBytes writes buf verbatim, flushing whenever the buffer fills.
func (s *BitSink) PutBytes(buf []byte) {
	s.maybeFlush()
	for len(buf) > 0 {
		room := s.end - s.current
		if room > len(buf) {
			room = len(buf)
		}
		if room > 0 {
			copy(s.buf[s.current:s.current+room], buf[:room])
			s.current += room
			buf = buf[room:]
		}
		s.maybeFlush()
	}
}

// PutShort writes a little-endian 16-bit value.
func (s *BitSink) PutShort(v uint16) {
	s.buf[s.current] = byte(v)
	s.buf[s.current+1] = byte(v >> 8)
	s.current += 2
	s.maybeFlush()
}

// PutInt writes a little-endian 32-bit value.
func (s *BitSink) PutInt(v uint32) {
	s.buf[s.current] = byte(v)
	s.buf[s.current+1] = byte(v >> 8)
	s.buf[s.current+2] = byte(v >> 16)
	s.buf[s.current+3] = byte(v >> 24)
	s.current += 4
	s.maybeFlush()
}

// JPutShort writes a big-endian 16-bit value, used for JPEG segment marker
// lengths.
func (s *BitSink) JPutShort(v uint16) {
	s.buf[s.current] = byte(v >> 8)
	s.buf[s.current+1] = byte(v)
	s.current += 2
	s.maybeFlush()
}

// PatchInt overwrites the 4 little-endian bytes at absolutePos with v. If
// absolutePos still lies within the resident buffer it is patched in
// place; otherwise the sink seeks the file, writes, and restores its
// position. PatchInt panics if the 4-byte target straddles the boundary
// between flushed and resident data, or runs past the last byte written —
// the writer never does this by construction, so hitting it means a
// bookkeeping bug upstream.
func (s *BitSink) PatchInt(v uint32, absolutePos uint64) {
	if absolutePos >= s.pos {
		delta := int(absolutePos - s.pos)
		if delta+4 > s.current-s.start {
			panic(ErrPatchStraddlesBoundary)
		}
		s.buf[delta] = byte(v)
		s.buf[delta+1] = byte(v >> 8)
		s.buf[delta+2] = byte(v >> 16)
		s.buf[delta+3] = byte(v >> 24)
		return
	}
	if absolutePos+4 > s.pos {
		panic(ErrPatchStraddlesBoundary)
	}

	if s.f == nil {
		if s.Err == nil {
			s.Err = errors.New("avi: patchInt on closed sink")
		}
		return
	}
	fpos, err := s.f.Seek(0, io.SeekCurrent)
	if err != nil {
		s.Err = err
		return
	}
	if _, err := s.f.Seek(int64(absolutePos), io.SeekStart); err != nil {
		s.Err = err
		return
	}
	var b [4]byte
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	if _, err := s.f.Write(b[:]); err != nil {
		s.Err = err
		return
	}
	if _, err := s.f.Seek(fpos, io.SeekStart); err != nil {
		s.Err = err
	}
}

// putStuffedByte writes v, following it with a 0x00 stuffing byte whenever
// v is 0xFF, per JPEG's entropy-stream escaping rule.
func (s *BitSink) putStuffedByte(v byte) {
	s.buf[s.current] = v
	s.current++
	if v == 0xFF {
		s.buf[s.current] = 0
		s.current++
	}
}

// JPut emits a 32-bit value most-significant byte first, inserting a 0x00
// byte after every 0xFF byte. Four raw bytes become four to eight bytes on
// disk.
func (s *BitSink) JPut(currval uint32) {
	s.putStuffedByte(byte(currval >> 24))
	s.putStuffedByte(byte(currval >> 16))
	s.putStuffedByte(byte(currval >> 8))
	s.putStuffedByte(byte(currval))
	s.maybeFlush()
}

// JFlush finalizes a JPEG entropy bit buffer: currval's low bitIdx bits are
// padded with 1s, then the value is emitted top-down one byte at a time
// (with 0xFF-stuffing) until bitIdx reaches 32.
func (s *BitSink) JFlush(currval uint32, bitIdx int) {
	if bitIdx < 32 {
		currval |= (uint32(1) << uint(bitIdx)) - 1
	}
	for bitIdx < 32 {
		s.putStuffedByte(byte(currval >> 24))
		currval <<= 8
		bitIdx += 8
	}
	s.maybeFlush()
}
