package pwmout

import "errors"

var (
	// ErrDeviceUnavailable means the controller could not be opened. There is
	// no degraded mode; callers treat it as fatal.
	ErrDeviceUnavailable = errors.New("pwmout: device unavailable")

	// ErrDeviceWriteFailed wraps any failed write to the controller.
	ErrDeviceWriteFailed = errors.New("pwmout: device write failed")

	// ErrNotReady is returned when operations are called out of the
	// open -> resetAll -> setFrequency -> setChannel order.
	ErrNotReady = errors.New("pwmout: startup sequence not complete")

	// ErrPulseOutOfRange is returned for channels or ticks the controller
	// cannot address. It is always joined with ErrDeviceWriteFailed.
	ErrPulseOutOfRange = errors.New("pwmout: pulse out of range")
)
