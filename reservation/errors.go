package reservation

import "errors"

var (
	ErrEventNotFound   = errors.New("event not found")
	ErrUnauthenticated = errors.New("caller is not authenticated")
)

// ErrTransientStore marks store failures that may succeed on retry:
// network errors, timeouts reported by the driver and write contention.
var ErrTransientStore = errors.New("transient store error")

// ErrOutcomeUnknown is returned when a write may or may not have been
// committed. Callers must re-read the event before assuming either way.
var ErrOutcomeUnknown = errors.New("booking outcome unknown")

// ErrCapacityExceeded reports an event holding more bookings than slots.
// It is a data-integrity error and is never clamped away.
var ErrCapacityExceeded = errors.New("event capacity exceeded")

var ErrWatchUnsupported = errors.New("store does not support watching events")
