// Package aiff demuxes AIFF and AIFF-C audio files. Standard AIFF carries
// big-endian PCM; AIFF-C adds a compression type, of which the
// uncompressed "NONE", little-endian "sowt" and float "fl32" variants are
// supported.
package aiff

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/mireska/weir/format"
	"github.com/mireska/weir/media"
)

// packetSamples is the block-aligned packet size ReadPacket aims for.
const packetSamples = 4096

// Register adds the AIFF demuxer to a registry.
func Register(r *format.Registry) {
	r.Register(format.Registration{
		ID:         media.FormatAIFF,
		Name:       "aiff",
		Extensions: []string{"aiff", "aif", "aifc"},
		Probe:      probe,
		New:        func() format.Demuxer { return New() },
	})
}

func probe(data []byte, name string) int {
	if len(data) >= 12 && string(data[0:4]) == "FORM" &&
		(string(data[8:12]) == "AIFF" || string(data[8:12]) == "AIFC") {
		return format.ScoreMax
	}
	return 0
}

// Demuxer reads one AIFF file: a single PCM stream at index 0.
type Demuxer struct {
	log   *slog.Logger
	alloc media.Allocator

	stream       *format.Stream
	aifc         bool
	blockAlign   int
	dataStart    int64
	dataSize     int64
	totalSamples int64
	consumed     int64
	buf          []byte
}

func New() *Demuxer {
	return &Demuxer{}
}

func (d *Demuxer) FormatID() media.FormatID { return media.FormatAIFF }
func (d *Demuxer) Name() string             { return "aiff" }

func (d *Demuxer) Open(r *format.Reader, host format.Host) error {
	d.log = host.Log
	d.alloc = host.Alloc

	tag, err := r.ReadTag()
	if err != nil {
		return fmt.Errorf("aiff: reading FORM header: %w", err)
	}
	if tag != [4]byte{'F', 'O', 'R', 'M'} {
		return fmt.Errorf("aiff: missing FORM header")
	}
	if _, err := r.ReadU32BE(); err != nil {
		return fmt.Errorf("aiff: reading FORM size: %w", err)
	}
	if tag, err = r.ReadTag(); err != nil {
		return fmt.Errorf("aiff: reading form type: %w", err)
	}
	switch tag {
	case [4]byte{'A', 'I', 'F', 'F'}:
		d.aifc = false
	case [4]byte{'A', 'I', 'F', 'C'}:
		d.aifc = true
	default:
		return fmt.Errorf("aiff: form type %q is not AIFF or AIFC", tag[:])
	}

	for {
		tag, err := r.ReadTag()
		if err == io.EOF {
			return fmt.Errorf("aiff: no SSND chunk")
		}
		if err != nil {
			return fmt.Errorf("aiff: reading chunk header: %w", err)
		}
		size, err := r.ReadU32BE()
		if err != nil {
			return fmt.Errorf("aiff: reading %q chunk size: %w", tag[:], err)
		}

		switch tag {
		case [4]byte{'C', 'O', 'M', 'M'}:
			if err := d.parseCOMM(r, int64(size)); err != nil {
				return err
			}
		case [4]byte{'S', 'S', 'N', 'D'}:
			if d.stream == nil {
				return fmt.Errorf("aiff: SSND chunk before COMM chunk")
			}
			offset, err := r.ReadU32BE()
			if err != nil {
				return fmt.Errorf("aiff: reading SSND offset: %w", err)
			}
			if _, err := r.ReadU32BE(); err != nil { // block size, unused
				return fmt.Errorf("aiff: reading SSND block size: %w", err)
			}
			if offset > 0 {
				if err := r.Skip(int64(offset)); err != nil {
					return fmt.Errorf("aiff: skipping SSND offset: %w", err)
				}
			}
			d.dataStart = r.Position()
			d.dataSize = int64(size) - 8 - int64(offset)
			if d.dataSize < 0 {
				d.dataSize = 0
			}
			d.totalSamples = d.dataSize / int64(d.blockAlign)
			if d.stream.Duration == 0 {
				d.stream.Duration = d.totalSamples
			}
			return nil
		default:
			d.log.Debug("skipping chunk", "id", string(tag[:]), "size", size)
			if err := r.Skip(int64(size) + int64(size%2)); err != nil {
				return fmt.Errorf("aiff: skipping %q chunk: %w", tag[:], err)
			}
		}
	}
}

func (d *Demuxer) parseCOMM(r *format.Reader, size int64) error {
	if size < 18 {
		return fmt.Errorf("aiff: COMM chunk of %d bytes is too short", size)
	}
	channels, err := r.ReadU16BE()
	if err != nil {
		return fmt.Errorf("aiff: reading COMM chunk: %w", err)
	}
	frames, err := r.ReadU32BE()
	if err != nil {
		return fmt.Errorf("aiff: reading COMM chunk: %w", err)
	}
	bits, err := r.ReadU16BE()
	if err != nil {
		return fmt.Errorf("aiff: reading COMM chunk: %w", err)
	}
	var srBytes [10]byte
	if err := r.ReadFull(srBytes[:]); err != nil {
		return fmt.Errorf("aiff: reading sample rate: %w", err)
	}
	read := int64(18)

	compression := [4]byte{'N', 'O', 'N', 'E'}
	if d.aifc && size >= 22 {
		if compression, err = r.ReadTag(); err != nil {
			return fmt.Errorf("aiff: reading compression type: %w", err)
		}
		read += 4
	}
	// Remainder is the pascal-string compression name and padding.
	if err := r.Skip(size - read + size%2); err != nil {
		return fmt.Errorf("aiff: skipping COMM tail: %w", err)
	}

	sampleRate := int(math.Round(parseExtended(srBytes)))
	if sampleRate <= 0 || channels == 0 {
		return fmt.Errorf("aiff: COMM declares %d Hz, %d channels: %w",
			sampleRate, channels, media.ErrInvalidParameters)
	}

	codecID, sampleFormat, err := pcmCodec(compression, int(bits))
	if err != nil {
		return err
	}

	d.blockAlign = int(channels) * int(bits) / 8
	d.buf = make([]byte, packetSamples*d.blockAlign)
	d.stream = &format.Stream{
		Index:         0,
		MediaType:     media.MediaTypeAudio,
		CodecID:       codecID,
		TimeBase:      media.NewRational(1, sampleRate),
		Duration:      int64(frames),
		SampleRate:    sampleRate,
		Channels:      int(channels),
		ChannelLayout: media.LayoutFromChannels(int(channels)),
		SampleFormat:  sampleFormat,
		BitsPerSample: int(bits),
		BitRate:       sampleRate * int(channels) * int(bits),
	}
	return nil
}

// pcmCodec maps a compression type and bit depth to a codec. Standard AIFF
// uses the "NONE" row.
func pcmCodec(compression [4]byte, bits int) (media.CodecID, media.SampleFormat, error) {
	switch string(compression[:]) {
	case "NONE", "none":
		switch bits {
		case 8:
			return media.CodecPCMS8, media.SampleFormatU8, nil
		case 16:
			return media.CodecPCMS16BE, media.SampleFormatS16, nil
		case 24:
			return media.CodecPCMS24BE, media.SampleFormatS32, nil
		case 32:
			return media.CodecPCMS32BE, media.SampleFormatS32, nil
		}
		return 0, 0, fmt.Errorf("aiff: %d-bit PCM: %w", bits, media.ErrUnsupported)
	case "sowt":
		switch bits {
		case 16:
			return media.CodecPCMS16LE, media.SampleFormatS16, nil
		case 24:
			return media.CodecPCMS24LE, media.SampleFormatS32, nil
		case 32:
			return media.CodecPCMS32LE, media.SampleFormatS32, nil
		}
		return 0, 0, fmt.Errorf("aiff: %d-bit sowt: %w", bits, media.ErrUnsupported)
	case "fl32", "FL32":
		if bits == 32 {
			return media.CodecPCMF32BE, media.SampleFormatF32, nil
		}
		return 0, 0, fmt.Errorf("aiff: %d-bit fl32: %w", bits, media.ErrUnsupported)
	}
	return 0, 0, fmt.Errorf("aiff: compression type %q: %w", compression[:], media.ErrUnsupported)
}

// parseExtended decodes the 80-bit IEEE 754 extended float COMM stores the
// sample rate in: sign bit, 15-bit exponent biased 16383, 64-bit mantissa
// with an explicit integer bit.
func parseExtended(b [10]byte) float64 {
	exp := int(b[0]&0x7F)<<8 | int(b[1])
	mant := binary.BigEndian.Uint64(b[2:10])
	if exp == 0 && mant == 0 {
		return 0
	}
	if exp == 0x7FFF {
		return math.Inf(1)
	}
	v := math.Ldexp(float64(mant), exp-16383-63)
	if b[0]&0x80 != 0 {
		return -v
	}
	return v
}

func (d *Demuxer) Streams() []*format.Stream {
	return []*format.Stream{d.stream}
}

func (d *Demuxer) ReadPacket(r *format.Reader) (*media.Packet, error) {
	want := len(d.buf)
	if rem := d.dataSize - d.consumed; rem < int64(want) {
		want = int(rem)
	}
	if want == 0 {
		return nil, io.EOF
	}

	pos := r.Position()
	n, err := r.ReadAtMost(d.buf[:want])
	if err != nil {
		return nil, err
	}
	if part := n % d.blockAlign; part != 0 {
		d.log.Warn("dropping partial sample block", "bytes", part)
		n -= part
		if n == 0 {
			return nil, io.EOF
		}
	}

	pts := d.consumed / int64(d.blockAlign)
	d.consumed += int64(n)
	samples := int64(n) / int64(d.blockAlign)
	return media.NewPacket(d.alloc, d.buf[:n], media.PacketParams{
		StreamIndex: 0,
		PTS:         pts,
		DTS:         pts,
		Duration:    samples,
		TimeBase:    d.stream.TimeBase,
		Keyframe:    true,
		Pos:         pos,
	}), nil
}

func (d *Demuxer) Duration() (time.Duration, bool) {
	return media.ToDuration(d.totalSamples, d.stream.TimeBase), true
}

// Seek jumps to the block holding sample ts; PCM is sample-addressable,
// so this is exact.
func (d *Demuxer) Seek(r *format.Reader, streamIndex int, ts int64) error {
	if ts < 0 {
		ts = 0
	}
	if ts > d.totalSamples {
		ts = d.totalSamples
	}
	if _, err := r.Seek(d.dataStart+ts*int64(d.blockAlign), io.SeekStart); err != nil {
		return err
	}
	d.consumed = ts * int64(d.blockAlign)
	return nil
}

func (d *Demuxer) Metadata() map[string]string { return nil }
