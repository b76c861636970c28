package motor

import "errors"

var (
	// ErrInvalidConfig rejects zero or negative geometry, speed,
	// duration, or pin values.
	ErrInvalidConfig = errors.New("motor: invalid configuration")

	// ErrInvalidMove rejects negative step counts and angles.
	ErrInvalidMove = errors.New("motor: invalid move request")

	// ErrDeviceUnavailable means a GPIO line could not be acquired.
	ErrDeviceUnavailable = errors.New("motor: gpio line unavailable")

	// ErrHomingTimeout means the bottom limit switch was never seen
	// within the homing step budget.
	ErrHomingTimeout = errors.New("motor: homing exceeded step budget")

	// ErrStopped means a stop request interrupted the operation
	// before it could finish.
	ErrStopped = errors.New("motor: movement stopped")

	// ErrClosed means the controller has been shut down.
	ErrClosed = errors.New("motor: controller closed")
)
