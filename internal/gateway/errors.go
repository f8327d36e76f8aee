package gateway

import "errors"

// ErrNotFound and ErrNoSpaceLeft are the two performer outcomes a blocking
// call can fail with that aren't Go errors at the performer layer (they're
// just event kinds). ErrClosed is returned once the owner goroutine has
// stopped. wheel.go maps all three onto the public sentinels in the module
// root's errors.go.
var (
	ErrNotFound    = errors.New("gateway: block not found")
	ErrNoSpaceLeft = errors.New("gateway: no space left on wheel")
	ErrClosed      = errors.New("gateway: closed")
)
