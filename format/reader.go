package format

import (
	"bufio"
	"fmt"
	"io"

	"github.com/mireska/weir/media"
)

const (
	// readerBufSize is the buffered window in front of the source. It
	// bounds Peek, so it must stay comfortably above ProbeSize.
	readerBufSize = 32 * 1024
)

// Reader is the buffered byte reader demuxers parse from. It tracks the
// consumed position, knows the source size when the source can seek, and
// degrades gracefully on pipe-like sources: forward skips read and
// discard, backward seeks fail with media.ErrUnsupported.
type Reader struct {
	src     io.Reader
	buf     *bufio.Reader
	seeker  io.Seeker
	pos     int64
	size    int64
	scratch [4]byte
}

// NewReader wraps src. If src also implements io.Seeker the reader
// supports backward seeks and reports the total size.
func NewReader(src io.Reader) *Reader {
	r := &Reader{
		src:  src,
		buf:  bufio.NewReaderSize(src, readerBufSize),
		size: -1,
	}
	if s, ok := src.(io.Seeker); ok {
		r.seeker = s
		if cur, err := s.Seek(0, io.SeekCurrent); err == nil {
			if end, err := s.Seek(0, io.SeekEnd); err == nil {
				r.size = end
				if _, err := s.Seek(cur, io.SeekStart); err != nil {
					r.size = -1
				}
			}
		}
	}
	return r
}

// Position reports how many bytes have been consumed from the start of
// the source.
func (r *Reader) Position() int64 {
	return r.pos
}

// Size reports the total source size, when known.
func (r *Reader) Size() (int64, bool) {
	return r.size, r.size >= 0
}

// Seekable reports whether backward seeks work.
func (r *Reader) Seekable() bool {
	return r.seeker != nil
}

// ReadFull fills p completely. A clean end of source before any byte is
// io.EOF; a partial read is io.ErrUnexpectedEOF.
func (r *Reader) ReadFull(p []byte) error {
	n, err := io.ReadFull(r.buf, p)
	r.pos += int64(n)
	return err
}

// ReadAtMost fills p as far as the source allows and reports how much it
// read. It returns io.EOF only when nothing could be read at all.
func (r *Reader) ReadAtMost(p []byte) (int, error) {
	n, err := io.ReadFull(r.buf, p)
	r.pos += int64(n)
	if err == io.ErrUnexpectedEOF {
		return n, nil
	}
	return n, err
}

// Peek returns the next n bytes without consuming them, up to the
// buffered window. At the end of the source it returns what remains
// alongside the error.
func (r *Reader) Peek(n int) ([]byte, error) {
	return r.buf.Peek(n)
}

// Skip discards n bytes.
func (r *Reader) Skip(n int64) error {
	if n < 0 {
		return fmt.Errorf("format: skip %d bytes: %w", n, media.ErrInvalidParameters)
	}
	for n > 0 {
		chunk := n
		const maxInt = int64(int(^uint(0) >> 1))
		if chunk > maxInt {
			chunk = maxInt
		}
		d, err := r.buf.Discard(int(chunk))
		r.pos += int64(d)
		if err != nil {
			return err
		}
		n -= int64(d)
	}
	return nil
}

// Seek repositions the reader. Backward seeks need a seekable source;
// forward seeks fall back to skipping. io.SeekEnd needs a known size.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.pos + offset
	case io.SeekEnd:
		if r.size < 0 {
			return 0, fmt.Errorf("format: seek from end of unsized source: %w", media.ErrUnsupported)
		}
		abs = r.size + offset
	default:
		return 0, fmt.Errorf("format: seek whence %d: %w", whence, media.ErrInvalidParameters)
	}
	if abs < 0 {
		return 0, fmt.Errorf("format: seek to %d: %w", abs, media.ErrInvalidParameters)
	}

	if abs >= r.pos {
		if err := r.Skip(abs - r.pos); err != nil {
			return 0, err
		}
		return r.pos, nil
	}
	if r.seeker == nil {
		return 0, fmt.Errorf("format: seek backward on non-seekable source: %w", media.ErrUnsupported)
	}
	if _, err := r.seeker.Seek(abs, io.SeekStart); err != nil {
		return 0, err
	}
	r.buf.Reset(r.src)
	r.pos = abs
	return abs, nil
}

func (r *Reader) ReadU8() (uint8, error) {
	b := r.scratch[:1]
	if err := r.ReadFull(b); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadU16LE() (uint16, error) {
	b := r.scratch[:2]
	if err := r.ReadFull(b); err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

func (r *Reader) ReadU16BE() (uint16, error) {
	b := r.scratch[:2]
	if err := r.ReadFull(b); err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

func (r *Reader) ReadU24BE() (uint32, error) {
	b := r.scratch[:3]
	if err := r.ReadFull(b); err != nil {
		return 0, err
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]), nil
}

func (r *Reader) ReadU32LE() (uint32, error) {
	b := r.scratch[:4]
	if err := r.ReadFull(b); err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

func (r *Reader) ReadU32BE() (uint32, error) {
	b := r.scratch[:4]
	if err := r.ReadFull(b); err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// ReadTag reads a four-character chunk identifier.
func (r *Reader) ReadTag() ([4]byte, error) {
	var tag [4]byte
	if err := r.ReadFull(tag[:]); err != nil {
		return tag, err
	}
	return tag, nil
}
