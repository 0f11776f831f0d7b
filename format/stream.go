package format

import (
	"github.com/mireska/weir/codec"
	"github.com/mireska/weir/media"
)

// Stream describes one elementary stream found by a demuxer. Index is the
// stream's position in the container's own order and tags every packet
// the demuxer produces for it.
type Stream struct {
	Index     int
	MediaType media.MediaType
	CodecID   media.CodecID
	TimeBase  media.Rational
	// Duration in TimeBase units, media.NoPTS when the container does
	// not say.
	Duration int64

	// Audio.
	SampleRate    int
	Channels      int
	ChannelLayout media.ChannelLayout
	SampleFormat  media.SampleFormat
	BitsPerSample int
	FrameSize     int

	// Video.
	Width       int
	Height      int
	PixelFormat media.PixelFormat

	// BitRate in bits per second, 0 when unknown.
	BitRate int
	// ExtraData is codec initialization data from the container, such as
	// a FLAC STREAMINFO block.
	ExtraData []byte
}

// CodecParameters hands a decoder everything it needs to open for this
// stream, the binding stream index included.
func (s *Stream) CodecParameters() codec.Parameters {
	return codec.Parameters{
		CodecID:       s.CodecID,
		StreamIndex:   s.Index,
		SampleRate:    s.SampleRate,
		Channels:      s.Channels,
		ChannelLayout: s.ChannelLayout,
		SampleFormat:  s.SampleFormat,
		BitsPerSample: s.BitsPerSample,
		FrameSize:     s.FrameSize,
		Width:         s.Width,
		Height:        s.Height,
		PixelFormat:   s.PixelFormat,
		TimeBase:      s.TimeBase,
		ExtraData:     s.ExtraData,
	}
}
