package codec

import "errors"

var (
	// ErrDecoderNotFound means no registered decoder handles the codec.
	ErrDecoderNotFound = errors.New("codec: decoder not found")

	// ErrNotOpen is reported for decode operations on a context that was
	// never opened.
	ErrNotOpen = errors.New("codec: context not open")

	// ErrAlreadyOpen is reported by Open on an open context.
	ErrAlreadyOpen = errors.New("codec: context already open")

	// ErrClosed is reported for any operation on a closed context.
	ErrClosed = errors.New("codec: context closed")

	// ErrDraining is reported when packets arrive after the end-of-input
	// marker. Reset returns a draining context to normal decoding.
	ErrDraining = errors.New("codec: context draining")

	// ErrStreamMismatch is reported when a packet belongs to a different
	// stream than the one the context was opened for. The context state
	// is unchanged.
	ErrStreamMismatch = errors.New("codec: packet stream does not match bound stream")
)
