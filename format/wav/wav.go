// Package wav demuxes RIFF/WAVE audio files: PCM and IEEE-float payloads,
// including the WAVE_FORMAT_EXTENSIBLE wrapping.
package wav

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mireska/weir/format"
	"github.com/mireska/weir/media"
)

const (
	formatPCM        = 0x0001
	formatIEEEFloat  = 0x0003
	formatExtensible = 0xFFFE

	// packetSamples is the block-aligned packet size ReadPacket aims for.
	packetSamples = 4096
)

// Register adds the WAV demuxer to a registry.
func Register(r *format.Registry) {
	r.Register(format.Registration{
		ID:         media.FormatWAV,
		Name:       "wav",
		Extensions: []string{"wav", "wave"},
		Probe:      probe,
		New:        func() format.Demuxer { return New() },
	})
}

func probe(data []byte, name string) int {
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		return format.ScoreMax
	}
	return 0
}

// Demuxer reads one WAV file: a single PCM stream at index 0.
type Demuxer struct {
	log   *slog.Logger
	alloc media.Allocator

	stream       *format.Stream
	blockAlign   int
	dataStart    int64
	dataSize     int64 // -1 when the header does not say
	totalSamples int64 // -1 when unknown
	consumed     int64
	buf          []byte
}

func New() *Demuxer {
	return &Demuxer{}
}

func (d *Demuxer) FormatID() media.FormatID { return media.FormatWAV }
func (d *Demuxer) Name() string             { return "wav" }

func (d *Demuxer) Open(r *format.Reader, host format.Host) error {
	d.log = host.Log
	d.alloc = host.Alloc

	tag, err := r.ReadTag()
	if err != nil {
		return fmt.Errorf("wav: reading RIFF header: %w", err)
	}
	if tag != [4]byte{'R', 'I', 'F', 'F'} {
		return fmt.Errorf("wav: missing RIFF header")
	}
	if _, err := r.ReadU32LE(); err != nil {
		return fmt.Errorf("wav: reading RIFF size: %w", err)
	}
	if tag, err = r.ReadTag(); err != nil {
		return fmt.Errorf("wav: reading form type: %w", err)
	}
	if tag != [4]byte{'W', 'A', 'V', 'E'} {
		return fmt.Errorf("wav: form type %q is not WAVE", tag[:])
	}

	haveFmt := false
	for {
		tag, err := r.ReadTag()
		if err == io.EOF {
			return fmt.Errorf("wav: no data chunk")
		}
		if err != nil {
			return fmt.Errorf("wav: reading chunk header: %w", err)
		}
		size, err := r.ReadU32LE()
		if err != nil {
			return fmt.Errorf("wav: reading %q chunk size: %w", tag[:], err)
		}

		switch tag {
		case [4]byte{'f', 'm', 't', ' '}:
			if err := d.parseFmt(r, int64(size)); err != nil {
				return err
			}
			haveFmt = true
		case [4]byte{'d', 'a', 't', 'a'}:
			if !haveFmt {
				return fmt.Errorf("wav: data chunk before fmt chunk")
			}
			d.dataStart = r.Position()
			if size == 0xFFFFFFFF {
				// Streaming writers leave the size unpatched.
				d.dataSize = -1
				d.totalSamples = -1
			} else {
				d.dataSize = int64(size)
				d.totalSamples = d.dataSize / int64(d.blockAlign)
				d.stream.Duration = d.totalSamples
			}
			return nil
		default:
			d.log.Debug("skipping chunk", "id", string(tag[:]), "size", size)
			if err := r.Skip(int64(size) + int64(size%2)); err != nil {
				return fmt.Errorf("wav: skipping %q chunk: %w", tag[:], err)
			}
		}
	}
}

func (d *Demuxer) parseFmt(r *format.Reader, size int64) error {
	if size < 16 {
		return fmt.Errorf("wav: fmt chunk of %d bytes is too short", size)
	}
	audioFormat, err := r.ReadU16LE()
	if err != nil {
		return fmt.Errorf("wav: reading fmt chunk: %w", err)
	}
	channels, err := r.ReadU16LE()
	if err != nil {
		return fmt.Errorf("wav: reading fmt chunk: %w", err)
	}
	sampleRate, err := r.ReadU32LE()
	if err != nil {
		return fmt.Errorf("wav: reading fmt chunk: %w", err)
	}
	byteRate, err := r.ReadU32LE()
	if err != nil {
		return fmt.Errorf("wav: reading fmt chunk: %w", err)
	}
	blockAlign, err := r.ReadU16LE()
	if err != nil {
		return fmt.Errorf("wav: reading fmt chunk: %w", err)
	}
	bits, err := r.ReadU16LE()
	if err != nil {
		return fmt.Errorf("wav: reading fmt chunk: %w", err)
	}
	read := int64(16)

	var channelMask uint32
	if audioFormat == formatExtensible {
		if size < 40 {
			return fmt.Errorf("wav: extensible fmt chunk of %d bytes is too short", size)
		}
		if _, err := r.ReadU16LE(); err != nil { // cbSize
			return fmt.Errorf("wav: reading extensible fmt: %w", err)
		}
		if _, err := r.ReadU16LE(); err != nil { // valid bits per sample
			return fmt.Errorf("wav: reading extensible fmt: %w", err)
		}
		if channelMask, err = r.ReadU32LE(); err != nil {
			return fmt.Errorf("wav: reading extensible fmt: %w", err)
		}
		if audioFormat, err = r.ReadU16LE(); err != nil { // subformat GUID leads with the format code
			return fmt.Errorf("wav: reading extensible fmt: %w", err)
		}
		if err := r.Skip(14); err != nil {
			return fmt.Errorf("wav: reading extensible fmt: %w", err)
		}
		read = 40
	}
	if err := r.Skip(size - read + size%2); err != nil {
		return fmt.Errorf("wav: skipping fmt chunk tail: %w", err)
	}

	if sampleRate == 0 {
		return fmt.Errorf("wav: fmt chunk declares sample rate 0")
	}
	if channels == 0 {
		return fmt.Errorf("wav: fmt chunk declares 0 channels")
	}
	codecID, sampleFormat, err := pcmCodec(audioFormat, int(bits))
	if err != nil {
		return err
	}
	align := int(blockAlign)
	if align == 0 {
		align = int(channels) * int(bits) / 8
		if align == 0 {
			return fmt.Errorf("wav: cannot derive block alignment")
		}
	}

	layout := media.ChannelLayout(channelMask)
	if layout == 0 {
		layout = media.LayoutFromChannels(int(channels))
	}
	d.blockAlign = align
	d.buf = make([]byte, packetSamples*d.blockAlign)
	d.dataSize = -1
	d.totalSamples = -1
	d.stream = &format.Stream{
		Index:         0,
		MediaType:     media.MediaTypeAudio,
		CodecID:       codecID,
		TimeBase:      media.NewRational(1, int(sampleRate)),
		Duration:      media.NoPTS,
		SampleRate:    int(sampleRate),
		Channels:      int(channels),
		ChannelLayout: layout,
		SampleFormat:  sampleFormat,
		BitsPerSample: int(bits),
		BitRate:       int(byteRate) * 8,
	}
	d.log.Debug("parsed fmt chunk",
		"codec", codecID, "rate", sampleRate, "channels", channels, "bits", bits)
	return nil
}

func pcmCodec(audioFormat uint16, bits int) (media.CodecID, media.SampleFormat, error) {
	switch audioFormat {
	case formatPCM:
		switch bits {
		case 8:
			return media.CodecPCMU8, media.SampleFormatU8, nil
		case 16:
			return media.CodecPCMS16LE, media.SampleFormatS16, nil
		case 24:
			return media.CodecPCMS24LE, media.SampleFormatS32, nil
		case 32:
			return media.CodecPCMS32LE, media.SampleFormatS32, nil
		}
		return 0, 0, fmt.Errorf("wav: %d-bit PCM: %w", bits, media.ErrUnsupported)
	case formatIEEEFloat:
		if bits == 32 {
			return media.CodecPCMF32LE, media.SampleFormatF32, nil
		}
		return 0, 0, fmt.Errorf("wav: %d-bit float: %w", bits, media.ErrUnsupported)
	}
	return 0, 0, fmt.Errorf("wav: audio format 0x%04X: %w", audioFormat, media.ErrUnsupported)
}

func (d *Demuxer) Streams() []*format.Stream {
	return []*format.Stream{d.stream}
}

func (d *Demuxer) ReadPacket(r *format.Reader) (*media.Packet, error) {
	want := len(d.buf)
	if d.dataSize >= 0 {
		if rem := d.dataSize - d.consumed; rem < int64(want) {
			want = int(rem)
		}
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
		// Truncated mid-block; keep the whole blocks.
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
	if d.totalSamples < 0 {
		return 0, false
	}
	return media.ToDuration(d.totalSamples, d.stream.TimeBase), true
}

// Seek jumps to the block holding sample ts; PCM is sample-addressable,
// so this is exact.
func (d *Demuxer) Seek(r *format.Reader, streamIndex int, ts int64) error {
	if ts < 0 {
		ts = 0
	}
	if d.totalSamples >= 0 && ts > d.totalSamples {
		ts = d.totalSamples
	}
	if _, err := r.Seek(d.dataStart+ts*int64(d.blockAlign), io.SeekStart); err != nil {
		return err
	}
	d.consumed = ts * int64(d.blockAlign)
	return nil
}

func (d *Demuxer) Metadata() map[string]string { return nil }
