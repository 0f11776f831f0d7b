// Package codec decodes compressed packets into raw frames.
//
// A Context wraps one Decoder implementation with the send/receive
// lifecycle: Open it with the stream's Parameters, feed packets with
// SendPacket, drain frames with ReceiveFrame, send nil to flush, and Close
// when done. Submitting and draining are decoupled on purpose: one packet
// may yield zero frames or several, and media.ErrAgain steers the caller
// toward whichever side can make progress.
//
// A Context is not safe for concurrent use. It belongs to one goroutine at
// a time; separate contexts are fully independent, so per-stream decode
// goroutines need no shared locking.
//
// Implementations are discovered through a Registry, usually the package
// default populated by weir.Init.
package codec

import (
	"log/slog"

	"github.com/mireska/weir/media"
)

// Decoder is one codec implementation. Decoders are driven through a
// Context, which enforces the lifecycle, so implementations only see calls
// that are legal in their current state: Open exactly once before
// anything else, and no calls after the owning context closes.
type Decoder interface {
	CodecID() media.CodecID
	Name() string

	// Open configures the decoder for one stream.
	Open(params *Parameters, host Host) error

	// SendPacket accepts one compressed packet, or nil to mark the end of
	// input. media.ErrAgain means pending output must be drained first;
	// the packet was not consumed and may be resubmitted.
	SendPacket(pkt *media.Packet) error

	// ReceiveFrame returns the next decoded frame. media.ErrAgain means
	// more input is needed; io.EOF means the end-of-input marker has been
	// seen and everything buffered has been drained.
	ReceiveFrame() (media.Frame, error)

	// Reset drops buffered state so decoding can restart cleanly, for
	// example after a seek.
	Reset()
}

// Host hands an implementation the facilities of its owning context. Both
// fields are always non-nil by the time Open runs.
type Host struct {
	Log   *slog.Logger
	Alloc media.Allocator
}
