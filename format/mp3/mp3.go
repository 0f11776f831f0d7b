// Package mp3 demuxes MPEG audio elementary streams (Layers I, II and
// III, all three MPEG versions). Each packet carries one whole frame,
// the 4-byte header included.
package mp3

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mireska/weir/format"
	"github.com/mireska/weir/media"
)

// maxScan bounds the search for the first frame header.
const maxScan = 16384

// MPEG version from the header's 2-bit field. The fourth value is
// reserved and rejected.
const (
	mpeg1 = iota
	mpeg2
	mpeg25
)

// Bitrate tables in kbit/s indexed by the 4-bit bitrate field. Index 0
// is free format and index 15 is forbidden; both stay zero and are
// rejected by the lookup.
var (
	bitrateV1L1  = [16]int{0, 32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448, 0}
	bitrateV1L2  = [16]int{0, 32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384, 0}
	bitrateV1L3  = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
	bitrateV2L1  = [16]int{0, 32, 48, 56, 64, 80, 96, 112, 128, 144, 160, 176, 192, 224, 256, 0}
	bitrateV2L23 = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}
)

// sampleRatesV1 holds the MPEG-1 rates; MPEG-2 halves them and
// MPEG-2.5 quarters them. Index 3 is reserved.
var sampleRatesV1 = [4]int{44100, 48000, 32000, 0}

// Register adds the MP3 demuxer to r.
func Register(r *format.Registry) {
	r.Register(format.Registration{
		ID:         media.FormatMP3,
		Name:       "mp3",
		Extensions: []string{"mp3", "mp2"},
		Probe:      probe,
		New:        func() format.Demuxer { return New() },
	})
}

func probe(data []byte, name string) int {
	offset := id3Size(data)
	if offset > 0 && offset+4 > len(data) {
		// The tag swallows the whole window; the marker alone is a
		// weak hint.
		return format.ScoreExtension
	}

	// Walk the frame chain: each header must sit exactly where the
	// previous frame's size says.
	count := 0
	at := offset
	for count < 3 && at+4 <= len(data) {
		h, ok := parseHeader(binary.BigEndian.Uint32(data[at:]))
		if !ok {
			break
		}
		count++
		at += h.size
	}
	if count >= 3 || (count >= 1 && offset > 0) {
		return format.ScoreMax - 5
	}
	return 0
}

// id3Size returns the full size of a leading ID3v2 tag, header
// included, or 0 when there is none.
func id3Size(data []byte) int {
	if len(data) < 10 || string(data[0:3]) != "ID3" {
		return 0
	}
	size := int(data[6]&0x7F)<<21 | int(data[7]&0x7F)<<14 |
		int(data[8]&0x7F)<<7 | int(data[9]&0x7F)
	return size + 10
}

type header struct {
	version    int
	layer      int
	bitrate    int // bits per second
	sampleRate int
	channels   int
	samples    int // PCM samples the frame decodes to
	size       int // whole frame including the 4-byte header
}

func parseHeader(h uint32) (header, bool) {
	if h>>21&0x7FF != 0x7FF {
		return header{}, false
	}

	var version int
	switch h >> 19 & 0x3 {
	case 0:
		version = mpeg25
	case 2:
		version = mpeg2
	case 3:
		version = mpeg1
	default:
		return header{}, false
	}

	// The layer field counts down: 3 means Layer I.
	layerBits := int(h >> 17 & 0x3)
	if layerBits == 0 {
		return header{}, false
	}
	layer := 4 - layerBits

	var table *[16]int
	switch {
	case version == mpeg1 && layer == 1:
		table = &bitrateV1L1
	case version == mpeg1 && layer == 2:
		table = &bitrateV1L2
	case version == mpeg1:
		table = &bitrateV1L3
	case layer == 1:
		table = &bitrateV2L1
	default:
		table = &bitrateV2L23
	}
	kbps := table[h>>12&0xF]
	if kbps == 0 {
		return header{}, false
	}
	bitrate := kbps * 1000

	srIndex := h >> 10 & 0x3
	if srIndex == 3 {
		return header{}, false
	}
	rate := sampleRatesV1[srIndex]
	switch version {
	case mpeg2:
		rate /= 2
	case mpeg25:
		rate /= 4
	}

	channels := 2
	if h>>6&0x3 == 3 {
		channels = 1
	}

	var samples int
	switch {
	case layer == 1:
		samples = 384
	case layer == 2 || version == mpeg1:
		samples = 1152
	default:
		samples = 576
	}

	padding := int(h >> 9 & 0x1)
	var size int
	if layer == 1 {
		// Layer I slots are 4 bytes wide.
		size = (12*bitrate/rate + padding) * 4
	} else {
		size = samples/8*bitrate/rate + padding
	}
	if size <= 4 {
		return header{}, false
	}

	return header{
		version:    version,
		layer:      layer,
		bitrate:    bitrate,
		sampleRate: rate,
		channels:   channels,
		samples:    samples,
		size:       size,
	}, true
}

// Demuxer reads an MPEG audio elementary stream: a single stream at
// index 0, one frame per packet.
type Demuxer struct {
	log   *slog.Logger
	alloc media.Allocator

	stream    *format.Stream
	buf       []byte
	dataStart int64 // offset of the first audio frame
	frameSize int   // first frame's size, drives the seek byte math
	vbr       bool
	pts       int64
}

func New() *Demuxer {
	return &Demuxer{}
}

func (d *Demuxer) FormatID() media.FormatID { return media.FormatMP3 }
func (d *Demuxer) Name() string             { return "mp3" }

func (d *Demuxer) Open(r *format.Reader, host format.Host) error {
	d.log = host.Log
	d.alloc = host.Alloc

	if hdr, _ := r.Peek(10); len(hdr) == 10 {
		if n := id3Size(hdr); n > 0 {
			d.log.Debug("skipping id3v2 tag", "bytes", n)
			if err := r.Skip(int64(n)); err != nil {
				return fmt.Errorf("mp3: skipping id3 tag: %w", err)
			}
		}
	}

	h, off, err := findFirstFrame(r)
	if err != nil {
		return err
	}
	if off > 0 {
		d.log.Debug("skipped leading junk", "bytes", off)
		if err := r.Skip(int64(off)); err != nil {
			return err
		}
	}
	d.dataStart = r.Position()
	d.frameSize = h.size

	// A Xing/Info or VBRI tag rides in an otherwise silent first
	// frame. When present the frame is metadata, not audio.
	var totalFrames int64
	if frame, _ := r.Peek(h.size); len(frame) == h.size {
		if info, ok := parseVBRTag(frame, h); ok {
			d.vbr = info.vbr
			totalFrames = info.frames
			d.log.Debug("vbr tag", "frames", info.frames, "vbr", info.vbr)
			if err := r.Skip(int64(h.size)); err != nil {
				return err
			}
			d.dataStart = r.Position()
		}
	}

	duration := media.NoPTS
	if totalFrames > 0 {
		duration = totalFrames * int64(h.samples)
	}

	d.pts = 0
	d.stream = &format.Stream{
		Index:         0,
		MediaType:     media.MediaTypeAudio,
		CodecID:       media.CodecMP3,
		TimeBase:      media.NewRational(1, h.sampleRate),
		Duration:      duration,
		SampleRate:    h.sampleRate,
		Channels:      h.channels,
		ChannelLayout: media.LayoutFromChannels(h.channels),
		SampleFormat:  media.SampleFormatF32,
		FrameSize:     h.samples,
		BitRate:       h.bitrate,
	}
	d.log.Debug("opened mpeg audio",
		"layer", h.layer, "rate", h.sampleRate, "channels", h.channels, "kbps", h.bitrate/1000)
	return nil
}

// findFirstFrame scans for a frame header that is confirmed by a second
// header exactly one frame later. When nothing in the window confirms,
// the first parseable header stands in so one-frame files still open.
func findFirstFrame(r *format.Reader) (header, int, error) {
	window, _ := r.Peek(maxScan)
	fallback := -1
	var fallbackHdr header
	for i := 0; i+4 <= len(window); i++ {
		h, ok := parseHeader(binary.BigEndian.Uint32(window[i:]))
		if !ok {
			continue
		}
		if fallback < 0 {
			fallback = i
			fallbackHdr = h
		}
		next := i + h.size
		if next+4 <= len(window) {
			if _, ok := parseHeader(binary.BigEndian.Uint32(window[next:])); ok {
				return h, i, nil
			}
		}
	}
	if fallback >= 0 {
		return fallbackHdr, fallback, nil
	}
	return header{}, 0, fmt.Errorf("mp3: no frame header in the first %d bytes", maxScan)
}

type vbrInfo struct {
	frames int64
	vbr    bool // Xing or VBRI; an Info tag marks constant bitrate
}

const xingFramesFlag = 0x1

func parseVBRTag(frame []byte, h header) (vbrInfo, bool) {
	// Xing/Info sits after the Layer III side info block, whose size
	// depends on version and channel count.
	off := 4 + sideInfoSize(h)
	if off+8 <= len(frame) {
		switch tag := string(frame[off : off+4]); tag {
		case "Xing", "Info":
			info := vbrInfo{vbr: tag == "Xing"}
			flags := binary.BigEndian.Uint32(frame[off+4:])
			if flags&xingFramesFlag != 0 && off+12 <= len(frame) {
				info.frames = int64(binary.BigEndian.Uint32(frame[off+8:]))
			}
			return info, true
		}
	}

	// VBRI sits a fixed 32 bytes after the header; the frame count is
	// at byte 14 of the tag.
	if len(frame) >= 54 && string(frame[36:40]) == "VBRI" {
		return vbrInfo{
			frames: int64(binary.BigEndian.Uint32(frame[50:])),
			vbr:    true,
		}, true
	}
	return vbrInfo{}, false
}

func sideInfoSize(h header) int {
	if h.version == mpeg1 {
		if h.channels == 1 {
			return 17
		}
		return 32
	}
	if h.channels == 1 {
		return 9
	}
	return 17
}

func (d *Demuxer) Streams() []*format.Stream {
	return []*format.Stream{d.stream}
}

func (d *Demuxer) ReadPacket(r *format.Reader) (*media.Packet, error) {
	skipped := 0
	var h header
	for {
		hdr, _ := r.Peek(4)
		if len(hdr) < 4 {
			// Trailing tags (ID3v1 and friends) end up here.
			if skipped > 0 {
				d.log.Debug("discarded trailing bytes", "bytes", skipped)
			}
			return nil, io.EOF
		}
		var ok bool
		h, ok = parseHeader(binary.BigEndian.Uint32(hdr))
		if ok {
			break
		}
		if err := r.Skip(1); err != nil {
			return nil, err
		}
		skipped++
	}
	if skipped > 0 {
		d.log.Warn("lost sync", "skipped", skipped)
	}

	pos := r.Position()
	if cap(d.buf) < h.size {
		d.buf = make([]byte, h.size)
	}
	d.buf = d.buf[:h.size]
	if err := r.ReadFull(d.buf); err != nil {
		return nil, fmt.Errorf("mp3: truncated frame at offset %d: %w", pos, err)
	}

	pts := d.pts
	d.pts += int64(h.samples)
	return media.NewPacket(d.alloc, d.buf, media.PacketParams{
		StreamIndex: 0,
		PTS:         pts,
		DTS:         pts,
		Duration:    int64(h.samples),
		TimeBase:    d.stream.TimeBase,
		Keyframe:    true,
		Pos:         pos,
	}), nil
}

func (d *Demuxer) Duration() (time.Duration, bool) {
	if d.stream == nil || d.stream.Duration == media.NoPTS {
		return 0, false
	}
	return media.ToDuration(d.stream.Duration, d.stream.TimeBase), true
}

// Seek uses constant-bitrate byte math: frame n starts at
// dataStart+n*frameSize. Padding bits drift the target by a byte per
// frame; the resync in ReadPacket recovers at the next header.
func (d *Demuxer) Seek(r *format.Reader, streamIndex int, ts int64) error {
	if d.vbr {
		return fmt.Errorf("mp3: seek in vbr stream: %w", media.ErrUnsupported)
	}
	if ts < 0 {
		ts = 0
	}
	frame := ts / int64(d.stream.FrameSize)
	if _, err := r.Seek(d.dataStart+frame*int64(d.frameSize), io.SeekStart); err != nil {
		return err
	}
	d.pts = frame * int64(d.stream.FrameSize)
	return nil
}

func (d *Demuxer) Metadata() map[string]string { return nil }
