package core

import (
	"errors"
)

var (
	// Swapchain invalidation. Recovered inside the frame loop by
	// reconfiguring the surface.
	ErrOutOfDate   = errors.New("surface out of date")
	ErrSuboptimal  = errors.New("surface suboptimal")
	ErrSurfaceLost = errors.New("surface lost")

	// Fatal device conditions.
	ErrDeviceLost = errors.New("device lost")
	ErrTimeout    = errors.New("wait timed out")

	// Resource exhaustion.
	ErrOutOfHostMemory   = errors.New("out of host memory")
	ErrOutOfDeviceMemory = errors.New("out of device memory")

	// Misuse.
	ErrNotRecording      = errors.New("command buffer is not recording")
	ErrStillRecording    = errors.New("command buffer is still recording")
	ErrInvalidHandle     = errors.New("invalid handle")
	ErrAlreadyConsumed   = errors.New("already consumed")
	ErrInvalidRingLength = errors.New("frame ring length must be at least 1")

	ErrUnknown = errors.New("unknown")
)

// IsSwapchainInvalid reports whether err means that the surface has to be
// reconfigured before the next frame can be presented.
func IsSwapchainInvalid(err error) bool {
	return errors.Is(err, ErrOutOfDate) || errors.Is(err, ErrSuboptimal) || errors.Is(err, ErrSurfaceLost)
}

// IsOutOfMemory reports whether err is a host or device allocation failure.
func IsOutOfMemory(err error) bool {
	return errors.Is(err, ErrOutOfHostMemory) || errors.Is(err, ErrOutOfDeviceMemory)
}
