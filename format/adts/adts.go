// Package adts demuxes raw AAC streams in ADTS framing: one packet per
// ADTS frame, headers stripped, with an AudioSpecificConfig synthesized
// into the stream's ExtraData for decoders that need it.
package adts

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mireska/weir/format"
	"github.com/mireska/weir/media"
)

const (
	// samplesPerFrame is fixed for AAC-LC.
	samplesPerFrame = 1024

	// maxScan bounds the leading-junk search for the first frame.
	maxScan = 16384
)

// Sample rate index table (ISO 14496-3). Indexes 13..15 are reserved.
var sampleRates = [16]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350, 0, 0, 0,
}

// Register adds the ADTS demuxer to a registry.
func Register(r *format.Registry) {
	r.Register(format.Registration{
		ID:         media.FormatADTS,
		Name:       "adts",
		Extensions: []string{"aac", "adts"},
		Probe:      probe,
		New:        func() format.Demuxer { return New() },
	})
}

func probe(data []byte, name string) int {
	offset := id3Size(data)
	if offset+7 > len(data) {
		return 0
	}
	h, ok := parseHeader(data[offset:])
	if !ok {
		return 0
	}
	next := offset + h.frameLength
	if next+2 <= len(data) && data[next] == 0xFF && data[next+1]&0xF0 == 0xF0 {
		return format.ScoreMax
	}
	// A lone frame with no second sync word to confirm it.
	return format.ScoreMax - 10
}

// id3Size reports the bytes occupied by a leading ID3v2 tag, if any.
func id3Size(data []byte) int {
	if len(data) < 10 || string(data[0:3]) != "ID3" {
		return 0
	}
	// Syncsafe 28-bit size, excluding the 10-byte tag header.
	size := int(data[6]&0x7F)<<21 | int(data[7]&0x7F)<<14 |
		int(data[8]&0x7F)<<7 | int(data[9]&0x7F)
	return 10 + size
}

type header struct {
	profile       int // 0=Main 1=LC 2=SSR 3=LTP
	srIndex       int
	channelConfig int
	frameLength   int // including the header itself
	crc           bool
	size          int // 7, or 9 with CRC
}

func parseHeader(data []byte) (header, bool) {
	if len(data) < 7 {
		return header{}, false
	}
	if data[0] != 0xFF || data[1]&0xF0 != 0xF0 {
		return header{}, false
	}
	if data[1]&0x06 != 0 { // layer must be 0
		return header{}, false
	}

	h := header{
		profile:       int(data[2]>>6) & 0x03,
		srIndex:       int(data[2]>>2) & 0x0F,
		channelConfig: int(data[2]&0x01)<<2 | int(data[3]>>6)&0x03,
		frameLength: int(data[3]&0x03)<<11 |
			int(data[4])<<3 |
			int(data[5])>>5,
		crc: data[1]&0x01 == 0,
	}
	if h.srIndex >= 13 || h.channelConfig > 7 {
		return header{}, false
	}
	h.size = 7
	if h.crc {
		h.size = 9
	}
	if h.frameLength < h.size {
		return header{}, false
	}
	return h, true
}

// Demuxer reads one ADTS stream: a single AAC stream at index 0.
type Demuxer struct {
	log   *slog.Logger
	alloc media.Allocator

	stream      *format.Stream
	sampleCount int64
	buf         []byte
}

func New() *Demuxer {
	return &Demuxer{}
}

func (d *Demuxer) FormatID() media.FormatID { return media.FormatADTS }
func (d *Demuxer) Name() string             { return "adts" }

func (d *Demuxer) Open(r *format.Reader, host format.Host) error {
	d.log = host.Log
	d.alloc = host.Alloc

	if peeked, _ := r.Peek(10); id3Size(peeked) > 0 {
		size := id3Size(peeked)
		d.log.Debug("skipping ID3v2 tag", "size", size)
		if err := r.Skip(int64(size)); err != nil {
			return fmt.Errorf("adts: skipping ID3v2 tag: %w", err)
		}
	}

	h, off, err := findFirstFrame(r)
	if err != nil {
		return err
	}
	if off > 0 {
		d.log.Debug("skipped leading junk", "bytes", off)
		if err := r.Skip(int64(off)); err != nil {
			return fmt.Errorf("adts: skipping to first frame: %w", err)
		}
	}

	rate := sampleRates[h.srIndex]
	if rate == 0 {
		return fmt.Errorf("adts: reserved sampling frequency index %d", h.srIndex)
	}
	channels := h.channelConfig
	switch h.channelConfig {
	case 0:
		channels = 2 // declared out of band; assume stereo
	case 7:
		channels = 8
	}

	// AudioSpecificConfig: 5-bit object type, 4-bit frequency index,
	// 4-bit channel configuration.
	aot := h.profile + 1
	extra := []byte{
		byte(aot<<3) | byte(h.srIndex>>1),
		byte(h.srIndex&1)<<7 | byte(h.channelConfig)<<3,
	}

	d.stream = &format.Stream{
		Index:         0,
		MediaType:     media.MediaTypeAudio,
		CodecID:       media.CodecAAC,
		TimeBase:      media.NewRational(1, rate),
		Duration:      media.NoPTS,
		SampleRate:    rate,
		Channels:      channels,
		ChannelLayout: media.LayoutFromChannels(channels),
		SampleFormat:  media.SampleFormatF32,
		FrameSize:     samplesPerFrame,
		ExtraData:     extra,
	}
	return nil
}

// findFirstFrame scans the buffered window for a header that is followed
// by another sync word, tolerating leading garbage. A header whose next
// frame would start past the window is only accepted when nothing
// validates, which covers single-frame files without letting a false sync
// in the junk win.
func findFirstFrame(r *format.Reader) (header, int, error) {
	window, _ := r.Peek(maxScan)
	fallback := -1
	var fallbackHdr header
	for off := 0; off+7 <= len(window); off++ {
		h, ok := parseHeader(window[off:])
		if !ok {
			continue
		}
		if fallback < 0 {
			fallback, fallbackHdr = off, h
		}
		next := off + h.frameLength
		if next+2 <= len(window) {
			if window[next] == 0xFF && window[next+1]&0xF0 == 0xF0 {
				return h, off, nil
			}
		}
	}
	if fallback >= 0 {
		return fallbackHdr, fallback, nil
	}
	return header{}, 0, fmt.Errorf("adts: no frame found in the first %d bytes", len(window))
}

func (d *Demuxer) Streams() []*format.Stream {
	return []*format.Stream{d.stream}
}

func (d *Demuxer) ReadPacket(r *format.Reader) (*media.Packet, error) {
	pos := r.Position()

	var hdr [7]byte
	if err := r.ReadFull(hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("adts: reading frame header: %w", err)
	}
	h, ok := parseHeader(hdr[:])
	if !ok {
		return nil, fmt.Errorf("adts: invalid frame header at offset %d", pos)
	}
	if h.crc {
		if err := r.Skip(2); err != nil {
			return nil, fmt.Errorf("adts: skipping frame CRC: %w", err)
		}
	}

	n := h.frameLength - h.size
	if cap(d.buf) < n {
		d.buf = make([]byte, n)
	}
	payload := d.buf[:n]
	if err := r.ReadFull(payload); err != nil {
		return nil, fmt.Errorf("adts: reading %d-byte frame payload: %w", n, err)
	}

	pts := d.sampleCount
	d.sampleCount += samplesPerFrame
	return media.NewPacket(d.alloc, payload, media.PacketParams{
		StreamIndex: 0,
		PTS:         pts,
		DTS:         pts,
		Duration:    samplesPerFrame,
		TimeBase:    d.stream.TimeBase,
		Keyframe:    true,
		Pos:         pos,
	}), nil
}

func (d *Demuxer) Duration() (time.Duration, bool) {
	return 0, false
}

// Seek is unsupported: raw ADTS has no index, and byte position does not
// map to time without walking every frame.
func (d *Demuxer) Seek(r *format.Reader, streamIndex int, ts int64) error {
	return fmt.Errorf("adts: seek: %w", media.ErrUnsupported)
}

func (d *Demuxer) Metadata() map[string]string { return nil }
