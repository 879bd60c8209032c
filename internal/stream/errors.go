package stream

import "errors"

var (
	// ErrUpstreamPanic is returned when the node reports an unrecoverable fault on the live channel.
	ErrUpstreamPanic = errors.New("upstream panic")

	// ErrConnectionFailed is returned when the live subscription is lost and the reconnect strategy gives up.
	ErrConnectionFailed = errors.New("live connection failed")

	// ErrLiveSourceClosed is returned when the live source stops without reporting an error.
	ErrLiveSourceClosed = errors.New("live source closed")

	// errReachedEnd stops a merge once the upper bound of the range has been emitted.
	errReachedEnd = errors.New("reached end of range")
)
