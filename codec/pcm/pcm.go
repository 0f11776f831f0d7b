// Package pcm decodes the raw PCM family.
//
// One decoder type covers every variant through a descriptor table: input
// bytes per sample, the sample format frames come out in, and an optional
// byte transform (endian swap, 24-to-32-bit widening). Decoding is a copy,
// so a packet in is a frame out with no lookahead, unless Parameters set
// FrameSize, in which case input accumulates across packets and frames come
// out in fixed-size chunks.
package pcm

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mireska/weir/codec"
	"github.com/mireska/weir/media"
)

type descriptor struct {
	sampleBytes int // per sample in the packet payload
	format      media.SampleFormat
	transform   func(dst, src []byte) // nil means straight copy
}

var descriptors = map[media.CodecID]descriptor{
	media.CodecPCMU8:    {1, media.SampleFormatU8, nil},
	media.CodecPCMS8:    {1, media.SampleFormatU8, bias8},
	media.CodecPCMS16LE: {2, media.SampleFormatS16, nil},
	media.CodecPCMS16BE: {2, media.SampleFormatS16, swap16},
	media.CodecPCMS24LE: {3, media.SampleFormatS32, widen24LE},
	media.CodecPCMS24BE: {3, media.SampleFormatS32, widen24BE},
	media.CodecPCMS32LE: {4, media.SampleFormatS32, nil},
	media.CodecPCMS32BE: {4, media.SampleFormatS32, swap32},
	media.CodecPCMF32LE: {4, media.SampleFormatF32, nil},
	media.CodecPCMF32BE: {4, media.SampleFormatF32, swap32},
}

// Register adds the whole PCM family to r.
func Register(r *codec.Registry) {
	for id := range descriptors {
		r.Register(codec.Registration{ID: id, Name: id.String(), New: newFor(id)})
	}
}

func newFor(id media.CodecID) func() codec.Decoder {
	return func() codec.Decoder { return &Decoder{id: id} }
}

// Decoder turns PCM packets into audio frames.
type Decoder struct {
	id   media.CodecID
	desc descriptor

	alloc media.Allocator

	sampleRate int
	channels   int
	layout     media.ChannelLayout
	timeBase   media.Rational
	blockBytes int // one interleaved sample across all channels
	frameBytes int // fixed frame size in input bytes, 0 for frame-per-packet

	acc      []byte
	pts      int64 // of the first sample in acc
	flushing bool
}

func (d *Decoder) CodecID() media.CodecID { return d.id }
func (d *Decoder) Name() string           { return d.id.String() }

func (d *Decoder) Open(params *codec.Parameters, host codec.Host) error {
	desc, ok := descriptors[d.id]
	if !ok {
		return fmt.Errorf("pcm: codec %s: %w", d.id, media.ErrUnsupported)
	}
	if params.CodecID != d.id {
		return fmt.Errorf("pcm: parameters are for %s, decoder is %s: %w",
			params.CodecID, d.id, media.ErrInvalidParameters)
	}
	if err := params.ValidateAudio(); err != nil {
		return err
	}

	d.desc = desc
	d.alloc = host.Alloc
	d.sampleRate = params.SampleRate
	d.channels = params.ChannelCount()
	d.layout = params.ChannelLayout
	d.timeBase = params.TimeBase
	if !d.timeBase.IsValid() {
		d.timeBase = media.NewRational(1, d.sampleRate)
	}
	d.blockBytes = desc.sampleBytes * d.channels
	d.frameBytes = params.FrameSize * d.blockBytes
	d.Reset()
	return nil
}

func (d *Decoder) SendPacket(pkt *media.Packet) error {
	if pkt == nil {
		d.flushing = true
		return nil
	}
	if d.ready() {
		return media.ErrAgain
	}
	data := pkt.Data()
	if len(data)%d.blockBytes != 0 {
		return fmt.Errorf("pcm: packet size %d is not a multiple of the %d-byte sample block",
			len(data), d.blockBytes)
	}
	if len(d.acc) == 0 {
		d.pts = pkt.PTS()
	}
	d.acc = append(d.acc, data...)
	return nil
}

func (d *Decoder) ReceiveFrame() (media.Frame, error) {
	var n int
	switch {
	case d.ready():
		n = len(d.acc)
		if d.frameBytes > 0 {
			n = d.frameBytes
		}
	case d.flushing:
		if len(d.acc) == 0 {
			return nil, io.EOF
		}
		n = len(d.acc) // short final frame
	default:
		return nil, media.ErrAgain
	}

	samples := n / d.blockBytes
	frame, err := media.NewAudioFrame(d.alloc, media.AudioFrameParams{
		NumSamples:    samples,
		SampleRate:    d.sampleRate,
		SampleFormat:  d.desc.format,
		ChannelLayout: d.layout,
		Channels:      d.channels,
		PTS:           d.pts,
		TimeBase:      d.timeBase,
	})
	if err != nil {
		return nil, err
	}
	if d.desc.transform != nil {
		d.desc.transform(frame.Data(0), d.acc[:n])
	} else {
		copy(frame.Data(0), d.acc[:n])
	}

	if d.pts != media.NoPTS {
		d.pts += media.Rescale(int64(samples), media.NewRational(1, d.sampleRate), d.timeBase)
	}
	d.acc = d.acc[:copy(d.acc, d.acc[n:])]
	return frame, nil
}

func (d *Decoder) Reset() {
	d.acc = d.acc[:0]
	d.pts = media.NoPTS
	d.flushing = false
}

// ready reports whether a frame can be produced without flushing.
func (d *Decoder) ready() bool {
	if d.frameBytes > 0 {
		return len(d.acc) >= d.frameBytes
	}
	return len(d.acc) > 0
}

func bias8(dst, src []byte) {
	for i, b := range src {
		dst[i] = b ^ 0x80
	}
}

func swap16(dst, src []byte) {
	for i := 0; i+1 < len(src); i += 2 {
		dst[i], dst[i+1] = src[i+1], src[i]
	}
}

func swap32(dst, src []byte) {
	for i := 0; i+3 < len(src); i += 4 {
		dst[i], dst[i+1], dst[i+2], dst[i+3] = src[i+3], src[i+2], src[i+1], src[i]
	}
}

func widen24LE(dst, src []byte) {
	for i, j := 0, 0; i+2 < len(src); i, j = i+3, j+4 {
		v := int32(src[i]) | int32(src[i+1])<<8 | int32(src[i+2])<<16
		v = v << 8 >> 8 // sign extend
		binary.LittleEndian.PutUint32(dst[j:], uint32(v))
	}
}

func widen24BE(dst, src []byte) {
	for i, j := 0, 0; i+2 < len(src); i, j = i+3, j+4 {
		v := int32(src[i])<<16 | int32(src[i+1])<<8 | int32(src[i+2])
		v = v << 8 >> 8
		binary.LittleEndian.PutUint32(dst[j:], uint32(v))
	}
}
