// Package rawvideo wraps uncompressed video packets as frames.
//
// There is nothing to decompress. A packet must hold exactly one frame of
// plane data packed in layout order, which is split into the pixel
// format's planes; any other size is rejected. Every frame stands alone,
// so all output is keyframes.
package rawvideo

import (
	"fmt"
	"io"

	"github.com/mireska/weir/codec"
	"github.com/mireska/weir/media"
)

// Register adds the raw video decoder to r.
func Register(r *codec.Registry) {
	r.Register(codec.Registration{
		ID:   media.CodecRawVideo,
		Name: "rawvideo",
		New:  func() codec.Decoder { return &Decoder{} },
	})
}

// Decoder splits packed raw frames into planar video frames.
type Decoder struct {
	alloc media.Allocator

	width       int
	height      int
	pixelFormat media.PixelFormat
	frameSize   int
	timeBase    media.Rational

	pending  media.Frame
	flushing bool
}

func (d *Decoder) CodecID() media.CodecID { return media.CodecRawVideo }
func (d *Decoder) Name() string           { return "rawvideo" }

func (d *Decoder) Open(params *codec.Parameters, host codec.Host) error {
	if params.CodecID != media.CodecRawVideo {
		return fmt.Errorf("rawvideo: parameters are for %s: %w", params.CodecID, media.ErrInvalidParameters)
	}
	if err := params.ValidateVideo(); err != nil {
		return err
	}
	d.alloc = host.Alloc
	d.width = params.Width
	d.height = params.Height
	d.pixelFormat = params.PixelFormat
	d.frameSize = params.PixelFormat.FrameSize(params.Width, params.Height)
	d.timeBase = params.TimeBase
	d.Reset()
	return nil
}

func (d *Decoder) SendPacket(pkt *media.Packet) error {
	if pkt == nil {
		d.flushing = true
		return nil
	}
	if d.pending != nil {
		return media.ErrAgain
	}
	data := pkt.Data()
	if len(data) != d.frameSize {
		return fmt.Errorf("rawvideo: packet holds %d bytes, a %dx%d %s frame needs %d",
			len(data), d.width, d.height, d.pixelFormat, d.frameSize)
	}

	tb := pkt.TimeBase()
	if !tb.IsValid() {
		tb = d.timeBase
	}
	frame, err := media.NewVideoFrame(d.alloc, media.VideoFrameParams{
		Width:       d.width,
		Height:      d.height,
		PixelFormat: d.pixelFormat,
		Keyframe:    true,
		PTS:         pkt.PTS(),
		TimeBase:    tb,
	})
	if err != nil {
		return err
	}
	offset := 0
	for i := 0; i < frame.Planes(); i++ {
		plane := frame.Plane(i)
		copy(plane, data[offset:])
		offset += len(plane)
	}
	d.pending = frame
	return nil
}

func (d *Decoder) ReceiveFrame() (media.Frame, error) {
	if d.pending != nil {
		f := d.pending
		d.pending = nil
		return f, nil
	}
	if d.flushing {
		return nil, io.EOF
	}
	return nil, media.ErrAgain
}

func (d *Decoder) Reset() {
	if d.pending != nil {
		d.pending.Release()
		d.pending = nil
	}
	d.flushing = false
}
