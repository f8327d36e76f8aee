package blockwheel

import (
	"errors"
	"fmt"
)

// ErrNoSpaceLeft is returned by Write when the wheel has no single gap (and
// no amount of pending defragmentation) large enough for the payload.
var ErrNoSpaceLeft = errors.New("blockwheel: no space left")

// ErrNotFound is returned by Read and Delete for an id that names no live
// block, whether it never existed or has already been deleted.
var ErrNotFound = errors.New("blockwheel: block not found")

// ErrClosed is returned by any call made after Close.
var ErrClosed = errors.New("blockwheel: wheel is closed")

// CorruptionError reports a frame recovery found on disk whose commit tag
// did not match its payload. Recover does not fail on this: the frame is
// treated as free space and the error is only surfaced for diagnostics.
type CorruptionError struct {
	Offset uint64
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("blockwheel: corruption at offset %d: %s", e.Offset, e.Reason)
}
