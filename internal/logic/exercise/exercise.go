package exercise

import (
	"context"
	"fmt"
	"time"

	"github.com/cjeanneret/StepGo/internal/debug"
	"github.com/cjeanneret/StepGo/internal/hw/motor"
)

// Runner contains the high-level cycling routine used for burn-in and
// for freeing a sticky axis after storage: repeated full strokes
// between the two limit switches.
type Runner struct {
	motor *motor.Controller
}

func NewRunner(m *motor.Controller) *Runner {
	return &Runner{motor: m}
}

// Params defines a cycling run.
type Params struct {
	Cycles int           // full open+close round trips
	Dwell  time.Duration // pause at each end of travel
}

// CycleResult records one round trip. The two step counts are the
// measured travel in each direction; a healthy axis reports the same
// number going up and coming back down.
type CycleResult struct {
	Cycle      int
	OpenSteps  int // pulses from the bottom switch to the top switch
	CloseSteps int // pulses back down to the bottom switch
}

// Run homes the axis, then cycles it between the switches. Each
// cycle is a full stroke up (the top switch stops it), a dwell, a
// homing stroke back down that re-zeroes the counter, and another
// dwell. Results for finished cycles are returned even when the run
// ends early on a stop request or context cancellation.
func (r *Runner) Run(ctx context.Context, p Params) ([]CycleResult, error) {
	if p.Cycles < 1 {
		return nil, fmt.Errorf("cycles must be >= 1, got %d", p.Cycles)
	}

	debug.Section("Exercise Run")

	// Start from a known origin.
	if _, err := r.motor.Home(ctx); err != nil {
		return nil, err
	}

	cfg := r.motor.Config()
	results := make([]CycleResult, 0, p.Cycles)
	for cycle := 1; cycle <= p.Cycles; cycle++ {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}
		debug.Cycle(cycle, p.Cycles)

		// Full stroke up; the top switch ends it early on a short axis.
		up, err := r.motor.MoveSteps(ctx, cfg.FullRangeSteps, motor.Forward)
		if err != nil {
			return results, fmt.Errorf("cycle %d: %w", cycle, err)
		}
		if up.Reason == motor.Stopped {
			return results, fmt.Errorf("cycle %d: %w", cycle, motor.ErrStopped)
		}
		time.Sleep(p.Dwell)

		// Home for the downstroke so drift never accumulates.
		down, err := r.motor.Home(ctx)
		if err != nil {
			return results, fmt.Errorf("cycle %d: %w", cycle, err)
		}
		time.Sleep(p.Dwell)

		results = append(results, CycleResult{Cycle: cycle, OpenSteps: up.Moved, CloseSteps: down})
		debug.Verbose("Cycle %d: open %d pulses, close %d pulses", cycle, up.Moved, down)
	}

	debug.Info("Exercise complete: %d cycles", len(results))
	return results, nil
}
