package motor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cjeanneret/StepGo/internal/debug"
	"github.com/cjeanneret/StepGo/internal/hw/gpio"
	"github.com/cjeanneret/StepGo/internal/logic/geometry"
)

// Direction selects which limit switch a move runs toward.
type Direction int

const (
	// Reverse runs toward the bottom limit switch (DIR low).
	Reverse Direction = 0
	// Forward runs toward the top limit switch (DIR high).
	Forward Direction = 1
)

func (d Direction) String() string {
	if d == Forward {
		return "forward"
	}
	return "reverse"
}

func (d Direction) level() gpio.Level {
	return gpio.Level(d == Forward)
}

// ParseDirection maps the direction names accepted on the CLI and the
// web API.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "forward", "f", "up", "open":
		return Forward, nil
	case "reverse", "r", "down", "close":
		return Reverse, nil
	}
	return Forward, fmt.Errorf("%w: unknown direction %q", ErrInvalidMove, s)
}

// StopReason says how a move ended.
type StopReason int

const (
	// Completed means every requested pulse was issued.
	Completed StopReason = iota
	// LimitTripped means the limit switch ahead of the move closed.
	LimitTripped
	// Stopped means Stop, EmergencyStop or Close interrupted the move.
	Stopped
	// Canceled means the context ended the move.
	Canceled
	// Failed means a GPIO operation errored; see the returned error.
	Failed
)

func (r StopReason) String() string {
	switch r {
	case Completed:
		return "completed"
	case LimitTripped:
		return "limit"
	case Stopped:
		return "stopped"
	case Canceled:
		return "canceled"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// MoveResult reports how much of a requested move actually ran.
// Ending early on a limit switch or a stop request is a normal
// outcome, not an error; Moved says how far the axis got.
type MoveResult struct {
	Requested int
	Moved     int
	Reason    StopReason
}

// Complete reports whether every requested pulse was issued.
func (r MoveResult) Complete() bool { return r.Reason == Completed }

// MoveSteps pulses the axis steps times toward dir, checking the
// limit switch for that direction before every pulse. It blocks until
// the move ends and holds the exclusivity guard for the whole run;
// the context cancels cooperatively at pulse granularity.
func (c *Controller) MoveSteps(ctx context.Context, steps int, dir Direction) (MoveResult, error) {
	if steps < 0 {
		return MoveResult{Requested: steps, Reason: Failed},
			fmt.Errorf("%w: steps must be >= 0, got %d", ErrInvalidMove, steps)
	}
	if err := c.checkOpen(); err != nil {
		return MoveResult{Requested: steps, Reason: Failed}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveLocked(ctx, steps, dir)
}

// MoveAngle converts degrees of shaft rotation to whole pulses (ties
// round away from zero) and moves them toward dir.
func (c *Controller) MoveAngle(ctx context.Context, degrees float64, dir Direction) (MoveResult, error) {
	if math.IsNaN(degrees) || math.IsInf(degrees, 0) || degrees < 0 {
		return MoveResult{Reason: Failed},
			fmt.Errorf("%w: angle must be >= 0 degrees, got %v", ErrInvalidMove, degrees)
	}
	if err := c.checkOpen(); err != nil {
		return MoveResult{Reason: Failed}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	steps := geometry.StepsForAngle(degrees, c.cfg.StepsPerRev, c.cfg.Microstepping)
	debug.Verbose("%.3f degrees is %d pulses at %dx%d",
		degrees, steps, c.cfg.StepsPerRev, c.cfg.Microstepping)
	return c.moveLocked(ctx, steps, dir)
}

// MoveStepsOverDuration spreads steps evenly over d by deriving the
// matching speed, then moves forward. The derived speed replaces the
// configured one and stays in effect for later moves.
func (c *Controller) MoveStepsOverDuration(ctx context.Context, steps int, d time.Duration) (MoveResult, error) {
	if steps < 0 {
		return MoveResult{Requested: steps, Reason: Failed},
			fmt.Errorf("%w: steps must be >= 0, got %d", ErrInvalidMove, steps)
	}
	if d <= 0 {
		return MoveResult{Requested: steps, Reason: Failed},
			fmt.Errorf("%w: duration must be > 0, got %v", ErrInvalidConfig, d)
	}
	if err := c.checkOpen(); err != nil {
		return MoveResult{Requested: steps, Reason: Failed}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if steps == 0 {
		return MoveResult{Reason: Completed}, nil
	}
	rpm := geometry.RPMForDuration(steps, d, c.cfg.StepsPerRev, c.cfg.Microstepping)
	c.cfg.SpeedRPM = rpm
	debug.Verbose("%d pulses over %v needs %.3f RPM", steps, d, rpm)
	return c.moveLocked(ctx, steps, Forward)
}

// moveLocked runs the pulse loop. Callers hold mu.
func (c *Controller) moveLocked(ctx context.Context, steps int, dir Direction) (res MoveResult, err error) {
	res = MoveResult{Requested: steps, Reason: Completed}
	if err = c.checkOpen(); err != nil {
		res.Reason = Failed
		return res, err
	}
	if steps == 0 {
		return res, nil
	}

	half := geometry.PulsePeriod(c.cfg.SpeedRPM, c.cfg.StepsPerRev, c.cfg.Microstepping) / 2

	limitPin := c.cfg.TopLimitPin
	limitName := "top"
	if dir == Reverse {
		limitPin = c.cfg.BottomLimitPin
		limitName = "bottom"
	}

	if err = c.writeEnable(true); err != nil {
		res.Reason = Failed
		return res, err
	}
	c.moving.Store(true)
	c.notifyMotion(true)
	defer func() {
		c.moving.Store(false)
		c.notifyMotion(false)
		if derr := c.writeEnable(false); derr != nil && err == nil {
			res.Reason = Failed
			err = derr
		}
	}()

	if err = c.gpio.WritePin(c.cfg.DirPin, dir.level()); err != nil {
		res.Reason = Failed
		return res, err
	}

	debug.Move(steps, dir.String())

	for i := 0; i < steps; i++ {
		tripped, rerr := c.limitTripped(limitPin)
		if rerr != nil {
			res.Reason = Failed
			err = rerr
			return res, err
		}
		if tripped {
			res.Reason = LimitTripped
			debug.Limit(limitName, c.Position())
			return res, nil
		}
		if c.stopReq.Load() {
			res.Reason = Stopped
			debug.Live("Stop requested after %d/%d pulses", res.Moved, steps)
			return res, nil
		}
		select {
		case <-ctx.Done():
			res.Reason = Canceled
			return res, ctx.Err()
		default:
		}

		if err = c.pulse(half); err != nil {
			res.Reason = Failed
			return res, err
		}
		if dir == Forward {
			c.position.Add(1)
		} else {
			c.position.Add(-1)
		}
		res.Moved++
	}

	debug.Live("Move complete: %d pulses %s, position %d", res.Moved, dir, c.Position())
	return res, nil
}

// pulse raises then lowers the STEP line, holding each half period.
func (c *Controller) pulse(half time.Duration) error {
	if err := c.gpio.WritePin(c.cfg.StepPin, gpio.High); err != nil {
		return err
	}
	time.Sleep(half)
	if err := c.gpio.WritePin(c.cfg.StepPin, gpio.Low); err != nil {
		return err
	}
	time.Sleep(half)
	return nil
}

// limitTripped reads a limit input. The switches short to ground, so
// a LOW read means pressed.
func (c *Controller) limitTripped(pin int) (bool, error) {
	level, err := c.gpio.ReadPin(pin)
	if err != nil {
		return false, fmt.Errorf("read limit pin %d: %w", pin, err)
	}
	return level == gpio.Low, nil
}
