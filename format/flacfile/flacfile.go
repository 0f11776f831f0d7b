// Package flacfile demuxes the native FLAC container: a "fLaC" marker,
// a chain of metadata blocks, then raw FLAC frames. Each packet carries
// one whole frame found by scanning for the next validated sync code.
package flacfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mireska/weir/format"
	"github.com/mireska/weir/internal/bits"
	"github.com/mireska/weir/media"
)

// Frame sync code: 14 bits of 0b11111111111110, leaving the blocking
// strategy bit free.
const (
	syncCode = 0xFFF8
	syncMask = 0xFFFE
)

// Metadata block types.
const (
	blockStreamInfo    = 0
	blockVorbisComment = 4
)

// fillChunk is how much ReadPacket pulls from the source per attempt
// while hunting for the next frame boundary.
const fillChunk = 4096

// Register adds the FLAC container demuxer to r.
func Register(r *format.Registry) {
	r.Register(format.Registration{
		ID:         media.FormatFLAC,
		Name:       "flac",
		Extensions: []string{"flac"},
		Probe:      probe,
		New:        func() format.Demuxer { return New() },
	})
}

func probe(data []byte, name string) int {
	if len(data) >= 4 && string(data[0:4]) == "fLaC" {
		return format.ScoreMax
	}
	return 0
}

type streamInfo struct {
	minBlockSize  int
	maxBlockSize  int
	minFrameSize  int
	maxFrameSize  int
	sampleRate    int
	channels      int
	bitsPerSample int
	totalSamples  int64
	md5           [16]byte
}

func parseStreamInfo(data []byte) (streamInfo, error) {
	if len(data) < 34 {
		return streamInfo{}, fmt.Errorf("flac: STREAMINFO block is %d bytes, need 34", len(data))
	}
	var info streamInfo
	info.minBlockSize = int(binary.BigEndian.Uint16(data[0:]))
	info.maxBlockSize = int(binary.BigEndian.Uint16(data[2:]))
	info.minFrameSize = int(data[4])<<16 | int(data[5])<<8 | int(data[6])
	info.maxFrameSize = int(data[7])<<16 | int(data[8])<<8 | int(data[9])

	// Bytes 10-13 pack rate(20) + channels(3) + bps(5) + the top of the
	// 36-bit sample count.
	info.sampleRate = int(data[10])<<12 | int(data[11])<<4 | int(data[12])>>4
	info.channels = int(data[12]>>1&0x07) + 1
	info.bitsPerSample = (int(data[12]&0x01)<<4 | int(data[13]>>4)) + 1
	info.totalSamples = int64(data[13]&0x0F)<<32 | int64(binary.BigEndian.Uint32(data[14:]))
	copy(info.md5[:], data[18:34])
	return info, nil
}

func sampleFormatFor(bitsPerSample int) media.SampleFormat {
	switch bitsPerSample {
	case 8:
		return media.SampleFormatU8
	case 16:
		return media.SampleFormatS16
	default:
		return media.SampleFormatS32
	}
}

// Demuxer reads a FLAC file: one audio stream at index 0 whose
// ExtraData is the raw STREAMINFO block.
type Demuxer struct {
	log   *slog.Logger
	alloc media.Allocator

	stream   *format.Stream
	info     streamInfo
	meta     map[string]string
	maxFrame int // carve limit estimate in bytes

	acc          []byte // buffered source bytes not yet carved
	accPos       int64  // stream offset of acc[0]
	eof          bool
	framesOffset int64
	pts          int64
}

func New() *Demuxer {
	return &Demuxer{}
}

func (d *Demuxer) FormatID() media.FormatID { return media.FormatFLAC }
func (d *Demuxer) Name() string             { return "flac" }

func (d *Demuxer) Open(r *format.Reader, host format.Host) error {
	d.log = host.Log
	d.alloc = host.Alloc

	magic, err := r.ReadTag()
	if err != nil {
		return fmt.Errorf("flac: reading magic: %w", err)
	}
	if string(magic[:]) != "fLaC" {
		return fmt.Errorf("flac: bad magic %q: %w", magic, media.ErrInvalidParameters)
	}

	var (
		extraData []byte
		haveInfo  bool
		first     = true
		last      = false
	)
	for !last {
		hdr, err := r.ReadU8()
		if err != nil {
			return fmt.Errorf("flac: reading metadata block header: %w", err)
		}
		last = hdr&0x80 != 0
		blockType := hdr & 0x7F
		size, err := r.ReadU24BE()
		if err != nil {
			return fmt.Errorf("flac: reading metadata block size: %w", err)
		}

		switch blockType {
		case blockStreamInfo:
			if !first {
				d.log.Warn("STREAMINFO is not the first metadata block")
			}
			data := make([]byte, size)
			if err := r.ReadFull(data); err != nil {
				return fmt.Errorf("flac: reading STREAMINFO: %w", err)
			}
			info, err := parseStreamInfo(data)
			if err != nil {
				return err
			}
			d.info = info
			extraData = data
			haveInfo = true
			d.log.Debug("STREAMINFO",
				"rate", info.sampleRate, "channels", info.channels,
				"bps", info.bitsPerSample, "samples", info.totalSamples,
				"block", fmt.Sprintf("%d-%d", info.minBlockSize, info.maxBlockSize))
		case blockVorbisComment:
			data := make([]byte, size)
			if err := r.ReadFull(data); err != nil {
				return fmt.Errorf("flac: reading VORBIS_COMMENT: %w", err)
			}
			d.meta = parseVorbisComment(data)
			d.log.Debug("vorbis comments", "count", len(d.meta))
		default:
			d.log.Debug("skipping metadata block", "type", blockType, "size", size)
			if err := r.Skip(int64(size)); err != nil {
				return fmt.Errorf("flac: skipping metadata block: %w", err)
			}
		}
		first = false
	}
	if !haveInfo {
		return fmt.Errorf("flac: no STREAMINFO block: %w", media.ErrInvalidParameters)
	}
	if d.info.sampleRate == 0 || d.info.channels == 0 {
		return fmt.Errorf("flac: STREAMINFO rate %d channels %d: %w",
			d.info.sampleRate, d.info.channels, media.ErrInvalidParameters)
	}

	d.maxFrame = d.info.maxFrameSize
	if d.maxFrame == 0 {
		// Streaming encoders leave the frame bounds zero; size the carve
		// limit from the block shape instead.
		d.maxFrame = d.info.maxBlockSize*d.info.channels*((d.info.bitsPerSample+7)/8) + 256
	}

	d.framesOffset = r.Position()
	d.accPos = d.framesOffset
	d.acc = d.acc[:0]
	d.eof = false
	d.pts = 0

	duration := d.info.totalSamples
	if duration == 0 {
		duration = media.NoPTS
	}
	d.stream = &format.Stream{
		Index:         0,
		MediaType:     media.MediaTypeAudio,
		CodecID:       media.CodecFLAC,
		TimeBase:      media.NewRational(1, d.info.sampleRate),
		Duration:      duration,
		SampleRate:    d.info.sampleRate,
		Channels:      d.info.channels,
		ChannelLayout: media.LayoutFromChannels(d.info.channels),
		SampleFormat:  sampleFormatFor(d.info.bitsPerSample),
		BitsPerSample: d.info.bitsPerSample,
		FrameSize:     d.info.maxBlockSize,
		BitRate:       d.info.sampleRate * d.info.channels * d.info.bitsPerSample,
		ExtraData:     extraData,
	}
	d.log.Debug("opened flac",
		"rate", d.info.sampleRate, "channels", d.info.channels, "bps", d.info.bitsPerSample)
	return nil
}

func parseVorbisComment(data []byte) map[string]string {
	if len(data) < 8 {
		return nil
	}
	vendorLen := int(binary.LittleEndian.Uint32(data))
	pos := 4 + vendorLen
	if pos < 0 || pos+4 > len(data) {
		return nil
	}
	count := int(binary.LittleEndian.Uint32(data[pos:]))
	pos += 4

	meta := make(map[string]string)
	for i := 0; i < count; i++ {
		if pos+4 > len(data) {
			break
		}
		n := int(binary.LittleEndian.Uint32(data[pos:]))
		pos += 4
		if n < 0 || pos+n > len(data) {
			break
		}
		comment := data[pos : pos+n]
		pos += n
		if !utf8.Valid(comment) {
			continue
		}
		if key, value, ok := strings.Cut(string(comment), "="); ok {
			meta[strings.ToUpper(key)] = value
		}
	}
	return meta
}

// utf8CodedLen returns the byte length of the frame header's coded
// frame/sample number from its first byte, 0 when the byte is invalid.
func utf8CodedLen(b byte) int {
	switch {
	case b&0x80 == 0:
		return 1
	case b&0xE0 == 0xC0:
		return 2
	case b&0xF0 == 0xE0:
		return 3
	case b&0xF8 == 0xF0:
		return 4
	case b&0xFC == 0xF8:
		return 5
	case b&0xFE == 0xFC:
		return 6
	case b == 0xFE:
		return 7
	}
	return 0
}

// validateFrameHeader separates real frame headers from sync patterns
// that happen to occur in compressed audio: field range checks first,
// then the header CRC-8 when enough bytes are present.
func validateFrameHeader(data []byte) bool {
	if len(data) < 5 {
		return false
	}
	bsCode := data[2] >> 4
	srCode := data[2] & 0x0F
	chCode := data[3] >> 4
	ssCode := data[3] >> 1 & 0x07
	if data[3]&0x01 != 0 || bsCode == 0 || srCode == 15 || chCode > 10 || ssCode == 3 {
		return false
	}

	n := utf8CodedLen(data[4])
	if n == 0 {
		return false
	}
	end := 4 + n
	if end > len(data) {
		return false
	}
	for _, b := range data[5:end] {
		if b&0xC0 != 0x80 {
			return false
		}
	}

	switch bsCode {
	case 6:
		end++
	case 7:
		end += 2
	}
	switch srCode {
	case 12:
		end++
	case 13, 14:
		end += 2
	}
	if end >= len(data) {
		// Too short to reach the CRC byte; the structural checks stand.
		return true
	}
	return data[end] == bits.CRC8(data[:end])
}

// findSync returns the offset of the next validated frame header at or
// after start, or -1.
func findSync(buf []byte, start int) int {
	for i := start; i+2 <= len(buf); i++ {
		if binary.BigEndian.Uint16(buf[i:])&syncMask != syncCode {
			continue
		}
		if validateFrameHeader(buf[i:]) {
			return i
		}
	}
	return -1
}

// frameBlockSize decodes the sample count of the frame starting at
// data. Codes 6 and 7 carry the size after the coded frame number.
func frameBlockSize(data []byte, fallback int) int {
	if len(data) < 5 {
		return fallback
	}
	code := data[2] >> 4
	switch {
	case code == 1:
		return 192
	case code >= 2 && code <= 5:
		return 576 << (code - 2)
	case code >= 8:
		return 256 << (code - 8)
	}
	end := 4 + utf8CodedLen(data[4])
	switch code {
	case 6:
		if end < len(data) {
			return int(data[end]) + 1
		}
	case 7:
		if end+2 <= len(data) {
			return int(binary.BigEndian.Uint16(data[end:])) + 1
		}
	}
	return fallback
}

func (d *Demuxer) Streams() []*format.Stream {
	return []*format.Stream{d.stream}
}

func (d *Demuxer) fill(r *format.Reader) error {
	old := len(d.acc)
	d.acc = append(d.acc, make([]byte, fillChunk)...)
	n, err := r.ReadAtMost(d.acc[old:])
	d.acc = d.acc[:old+n]
	if err == io.EOF {
		d.eof = true
		return nil
	}
	return err
}

func (d *Demuxer) ReadPacket(r *format.Reader) (*media.Packet, error) {
	for {
		// Land the head of the buffer on a frame boundary.
		if at := findSync(d.acc, 0); at > 0 {
			d.log.Warn("lost sync", "skipped", at)
			d.accPos += int64(at)
			d.acc = d.acc[:copy(d.acc, d.acc[at:])]
		} else if at < 0 && len(d.acc) > 0 {
			if !d.eof {
				// No header in the buffer; a partial one may hang off
				// the tail, so keep only that much.
				if keep := 16; len(d.acc) > keep {
					d.accPos += int64(len(d.acc) - keep)
					d.acc = d.acc[:copy(d.acc, d.acc[len(d.acc)-keep:])]
				}
				if err := d.fill(r); err != nil {
					return nil, err
				}
				continue
			}
			d.log.Debug("discarding trailing bytes", "bytes", len(d.acc))
			d.acc = d.acc[:0]
		}
		if len(d.acc) == 0 {
			if d.eof {
				return nil, io.EOF
			}
			if err := d.fill(r); err != nil {
				return nil, err
			}
			continue
		}

		// The frame ends where the next validated header begins.
		end := findSync(d.acc, 2)
		if end < 0 {
			if !d.eof && len(d.acc) < d.maxFrame*2+fillChunk {
				if err := d.fill(r); err != nil {
					return nil, err
				}
				continue
			}
			if !d.eof {
				// Way past any plausible frame size without a boundary;
				// hand the buffer over and let the decoder complain.
				d.log.Warn("no frame boundary found", "buffered", len(d.acc))
			}
			end = len(d.acc)
		}

		samples := frameBlockSize(d.acc, d.info.maxBlockSize)
		pts := d.pts
		d.pts += int64(samples)
		pkt := media.NewPacket(d.alloc, d.acc[:end], media.PacketParams{
			StreamIndex: 0,
			PTS:         pts,
			DTS:         pts,
			Duration:    int64(samples),
			TimeBase:    d.stream.TimeBase,
			Keyframe:    true,
			Pos:         d.accPos,
		})
		d.accPos += int64(end)
		d.acc = d.acc[:copy(d.acc, d.acc[end:])]
		return pkt, nil
	}
}

func (d *Demuxer) Duration() (time.Duration, bool) {
	if d.info.totalSamples <= 0 || d.info.sampleRate == 0 {
		return 0, false
	}
	return media.ToDuration(d.info.totalSamples, d.stream.TimeBase), true
}

// Seek rewinds to the first frame regardless of ts; FLAC frames carry
// no index here, so callers reach ts by reading forward.
func (d *Demuxer) Seek(r *format.Reader, streamIndex int, ts int64) error {
	if _, err := r.Seek(d.framesOffset, io.SeekStart); err != nil {
		return err
	}
	d.acc = d.acc[:0]
	d.accPos = d.framesOffset
	d.eof = false
	d.pts = 0
	return nil
}

func (d *Demuxer) Metadata() map[string]string { return d.meta }
