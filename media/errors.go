package media

import "errors"

var (
	// ErrAgain means the call cannot make progress right now: a decoder
	// holding finished output wants it drained before accepting input, or
	// a drain found nothing pending. It is flow control, not failure,
	// filling the role EAGAIN plays in C media APIs.
	ErrAgain = errors.New("media: try again")

	// ErrReleased is reported by Release when the buffer was already
	// released.
	ErrReleased = errors.New("media: buffer already released")

	// ErrInvalidParameters marks rejected configuration, wrapped with
	// detail about the offending field.
	ErrInvalidParameters = errors.New("media: invalid parameters")

	// ErrUnsupported marks an operation the implementation does not
	// provide, such as seeking a live transport stream.
	ErrUnsupported = errors.New("media: unsupported")
)
