package codec

import (
	"fmt"

	"github.com/mireska/weir/media"
)

// Parameters describes the stream a decoder is opened for. Demuxers
// produce them through Stream.CodecParameters; callers can also fill them
// by hand. StreamIndex binds the context to one stream: packets for any
// other stream are rejected.
type Parameters struct {
	CodecID     media.CodecID
	StreamIndex int

	// Audio.
	SampleRate    int
	Channels      int
	ChannelLayout media.ChannelLayout
	SampleFormat  media.SampleFormat
	BitsPerSample int
	// FrameSize asks the decoder to emit fixed chunks of this many
	// samples where the codec allows it; 0 keeps the codec's natural
	// framing.
	FrameSize int

	// Video.
	Width       int
	Height      int
	PixelFormat media.PixelFormat

	TimeBase  media.Rational
	ExtraData []byte
}

// ChannelCount resolves the channel count from Channels or, failing that,
// the layout.
func (p *Parameters) ChannelCount() int {
	if p.Channels > 0 {
		return p.Channels
	}
	return p.ChannelLayout.Channels()
}

// ValidateAudio rejects parameters no audio decoder can work with.
func (p *Parameters) ValidateAudio() error {
	if p.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", media.ErrInvalidParameters, p.SampleRate)
	}
	if p.ChannelCount() <= 0 {
		return fmt.Errorf("%w: %d channels", media.ErrInvalidParameters, p.ChannelCount())
	}
	return nil
}

// ValidateVideo rejects parameters no video decoder can work with.
func (p *Parameters) ValidateVideo() error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", media.ErrInvalidParameters, p.Width, p.Height)
	}
	if p.PixelFormat.PlaneCount() == 0 {
		return fmt.Errorf("%w: pixel format %s", media.ErrInvalidParameters, p.PixelFormat)
	}
	return nil
}
