package format

import "errors"

var (
	// ErrFormatNotFound means probing matched no registered container.
	ErrFormatNotFound = errors.New("format: no matching container format")

	// ErrStreamNotFound means no stream satisfied the selection.
	ErrStreamNotFound = errors.New("format: no matching stream")

	// ErrClosed is reported for any operation on a closed context.
	ErrClosed = errors.New("format: context closed")
)
