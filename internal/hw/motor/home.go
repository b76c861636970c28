package motor

import (
	"context"
	"fmt"

	"github.com/cjeanneret/StepGo/internal/debug"
)

// Home drives toward the bottom limit switch and zeroes the step
// counter when it trips. The run is bounded by HomingMaxSteps so an
// axis with a dead switch reports ErrHomingTimeout instead of
// grinding forever. Returns the pulses traveled.
func (c *Controller) Home(ctx context.Context) (int, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.homeLocked(ctx)
}

func (c *Controller) homeLocked(ctx context.Context) (int, error) {
	debug.Live("Homing toward bottom limit, budget %d pulses", c.cfg.HomingMaxSteps)
	res, err := c.moveLocked(ctx, c.cfg.HomingMaxSteps, Reverse)
	if err != nil {
		return res.Moved, err
	}
	switch res.Reason {
	case LimitTripped:
		c.position.Store(0)
		debug.Homed(res.Moved)
		return res.Moved, nil
	case Stopped:
		return res.Moved, fmt.Errorf("%w: homing interrupted after %d pulses", ErrStopped, res.Moved)
	default:
		return res.Moved, fmt.Errorf("%w: bottom limit not reached within %d pulses",
			ErrHomingTimeout, c.cfg.HomingMaxSteps)
	}
}

// Calibrate homes the axis, then runs forward across the expected
// full range and reports the position where the top switch stopped
// it: the measured travel in pulses. If the switch never trips the
// expected range itself is reported.
func (c *Controller) Calibrate(ctx context.Context) (int, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.homeLocked(ctx); err != nil {
		return 0, err
	}
	res, err := c.moveLocked(ctx, c.cfg.FullRangeSteps, Forward)
	if err != nil {
		return res.Moved, err
	}
	if res.Reason == Stopped {
		return res.Moved, fmt.Errorf("%w: calibration interrupted after %d pulses", ErrStopped, res.Moved)
	}
	measured := c.Position()
	debug.Range(measured)
	return measured, nil
}
