package core

import (
	"errors"
)

var (
	// Fatal device errors. The graphics context has to be torn down and
	// recreated when one of these surfaces.
	ErrDeviceLost       = errors.New("device lost")
	ErrSubmitFailed     = errors.New("queue submission failed")
	ErrFenceTimeout     = errors.New("fence wait timed out")
	ErrAllocationFailed = errors.New("gpu object allocation failed")

	// Soft faults. Rendering continues.
	ErrSwapchainBooting      = errors.New("swapchain resized or recreated, booting")
	ErrStatsNotReady         = errors.New("gpu timings not retired yet")
	ErrTimestampsUnsupported = errors.New("device does not support timestamp queries")

	// Caller contract violations.
	ErrUnbalancedGroups = errors.New("unbalanced profiling group push/pop")
	ErrNoRecordedWork   = errors.New("flush requested with no recorded commands")

	ErrUnknown = errors.New("unknown")
)

// IsFatal reports whether err requires the graphics context to be recreated.
func IsFatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrDeviceLost),
		errors.Is(err, ErrSubmitFailed),
		errors.Is(err, ErrFenceTimeout),
		errors.Is(err, ErrAllocationFailed),
		errors.Is(err, ErrUnknown):
		return true
	}
	return false
}
