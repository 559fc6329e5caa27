package readers

import (
	"errors"
	"fmt"
)

var ErrWindowExceeded = errors.New("seek outside of replay window")
var ErrEndOffsetOutOfRange = errors.New("end-relative seek exceeds replay window")
var ErrInvalidWhence = errors.New("invalid seek mode")
var ErrInvalidBufferSize = errors.New("replay buffer size must be positive")
var ErrReplayBufferClosed = errors.New("replay buffer is closed")

// WindowExceededError is returned when an absolute seek targets an offset that
// is no longer (or not yet) held by the replay window.
type WindowExceededError struct {
	Offset int64
	Start  int64
	End    int64
}

func (e *WindowExceededError) Error() string {
	return fmt.Sprintf("unable to recover from an upload error because limited buffering is available for streaming uploads: offset %d was requested, but only data from %d to %d is buffered", e.Offset, e.Start, e.End)
}

func (e *WindowExceededError) Unwrap() error {
	return ErrWindowExceeded
}

// EndOffsetError is returned when an end-relative seek reaches further back
// than the buffer can ever hold.
type EndOffsetError struct {
	Offset        int64
	MaxBufferSize int64
}

func (e *EndOffsetError) Error() string {
	return fmt.Sprintf("invalid end-relative offset %d on streaming upload: only %d bytes can be buffered", e.Offset, e.MaxBufferSize)
}

func (e *EndOffsetError) Unwrap() error {
	return ErrEndOffsetOutOfRange
}

type InvalidWhenceError struct {
	Whence int
	Offset int64
}

func (e *InvalidWhenceError) Error() string {
	return fmt.Sprintf("invalid seek mode on streaming upload: mode %d, offset %d", e.Whence, e.Offset)
}

func (e *InvalidWhenceError) Unwrap() error {
	return ErrInvalidWhence
}
