package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cjeanneret/StepGo/internal/config"
	"github.com/cjeanneret/StepGo/internal/hw/motor"
	"github.com/cjeanneret/StepGo/internal/logic/exercise"
)

// console drives the controller from stdin, one command per line.
// It is the bench tool the hardware gets brought up with, and stays
// available next to the web UI.
type console struct {
	ctrl   *motor.Controller
	runner *exercise.Runner
	dwell  time.Duration
	out    io.Writer
	bg     *motor.Task
}

func runConsole(ctx context.Context, ctrl *motor.Controller, runner *exercise.Runner, cfg *config.Config, out io.Writer) error {
	c := &console{ctrl: ctrl, runner: runner, dwell: cfg.Dwell(), out: out}
	c.printMenu()

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		fmt.Fprint(out, "> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case line, ok := <-lines:
			if !ok {
				// stdin closed (running as a service); wait for shutdown
				<-ctx.Done()
				return nil
			}
			if quit := c.dispatch(ctx, line); quit {
				return nil
			}
		}
	}
}

// dispatch runs one command line. It returns true when the user quits.
func (c *console) dispatch(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "m":
		steps, dir, err := parseMove(fields[1:])
		if err != nil {
			fmt.Fprintln(c.out, err)
			return false
		}
		c.report(c.ctrl.MoveSteps(ctx, steps, dir))

	case "b":
		steps, dir, err := parseMove(fields[1:])
		if err != nil {
			fmt.Fprintln(c.out, err)
			return false
		}
		if c.bg != nil {
			select {
			case <-c.bg.Done():
			default:
				fmt.Fprintln(c.out, "a background move is already running (stop it first)")
				return false
			}
		}
		c.bg = c.ctrl.MoveStepsAsync(ctx, steps, dir, func(res motor.MoveResult, err error) {
			c.report(res, err)
		})
		fmt.Fprintln(c.out, "background move started")

	case "a":
		if len(fields) != 3 {
			fmt.Fprintln(c.out, "usage: a <degrees> <forward|reverse>")
			return false
		}
		degrees, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			fmt.Fprintf(c.out, "bad angle %q\n", fields[1])
			return false
		}
		dir, err := motor.ParseDirection(fields[2])
		if err != nil {
			fmt.Fprintln(c.out, err)
			return false
		}
		c.report(c.ctrl.MoveAngle(ctx, degrees, dir))

	case "t":
		if len(fields) != 3 {
			fmt.Fprintln(c.out, "usage: t <steps> <seconds>")
			return false
		}
		steps, err := strconv.Atoi(fields[1])
		if err != nil {
			fmt.Fprintf(c.out, "bad step count %q\n", fields[1])
			return false
		}
		secs, err := strconv.ParseFloat(fields[2], 64)
		if err != nil || secs <= 0 {
			fmt.Fprintf(c.out, "bad duration %q\n", fields[2])
			return false
		}
		c.report(c.ctrl.MoveStepsOverDuration(ctx, steps, time.Duration(secs*float64(time.Second))))

	case "h":
		moved, err := c.ctrl.Home(ctx)
		if err != nil {
			fmt.Fprintf(c.out, "homing failed: %v\n", err)
			return false
		}
		fmt.Fprintf(c.out, "homed after %d steps\n", moved)

	case "c":
		measured, err := c.ctrl.Calibrate(ctx)
		if err != nil {
			fmt.Fprintf(c.out, "calibration failed: %v\n", err)
			return false
		}
		fmt.Fprintf(c.out, "measured range: %d steps\n", measured)

	case "x":
		cycles := 1
		if len(fields) > 1 {
			n, err := strconv.Atoi(fields[1])
			if err != nil || n < 1 {
				fmt.Fprintf(c.out, "bad cycle count %q\n", fields[1])
				return false
			}
			cycles = n
		}
		results, err := c.runner.Run(ctx, exercise.Params{Cycles: cycles, Dwell: c.dwell})
		if err != nil {
			fmt.Fprintf(c.out, "exercise failed after %d cycles: %v\n", len(results), err)
			return false
		}
		fmt.Fprintf(c.out, "exercise done: %d cycles, position %d\n", len(results), c.ctrl.Position())

	case "s":
		if len(fields) != 2 {
			fmt.Fprintln(c.out, "usage: s <rpm>")
			return false
		}
		rpm, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			fmt.Fprintf(c.out, "bad speed %q\n", fields[1])
			return false
		}
		if err := c.ctrl.SetSpeed(rpm); err != nil {
			fmt.Fprintln(c.out, err)
			return false
		}
		fmt.Fprintf(c.out, "speed set to %g RPM\n", rpm)

	case "u":
		if len(fields) != 2 {
			fmt.Fprintln(c.out, "usage: u <factor>")
			return false
		}
		factor, err := strconv.Atoi(fields[1])
		if err != nil {
			fmt.Fprintf(c.out, "bad microstepping factor %q\n", fields[1])
			return false
		}
		if err := c.ctrl.SetMicrostepping(factor); err != nil {
			fmt.Fprintln(c.out, err)
			return false
		}
		fmt.Fprintf(c.out, "microstepping set to 1/%d\n", factor)

	case "e":
		if err := c.ctrl.Enable(); err != nil {
			fmt.Fprintf(c.out, "enable failed: %v\n", err)
			return false
		}
		fmt.Fprintln(c.out, "driver enabled")

	case "d":
		if err := c.ctrl.Disable(); err != nil {
			fmt.Fprintf(c.out, "disable failed: %v\n", err)
			return false
		}
		fmt.Fprintln(c.out, "driver disabled")

	case "p":
		fmt.Fprintf(c.out, "position: %d steps, moving: %v\n", c.ctrl.Position(), c.ctrl.Moving())

	case "stop":
		c.ctrl.Stop()
		fmt.Fprintf(c.out, "stopped at %d steps\n", c.ctrl.Position())

	case "estop":
		c.ctrl.EmergencyStop()
		fmt.Fprintln(c.out, "emergency stop: driver disabled, position zeroed")

	case "q":
		c.ctrl.Stop()
		return true

	case "?", "help":
		c.printMenu()

	default:
		fmt.Fprintf(c.out, "unknown command %q (? for help)\n", fields[0])
	}
	return false
}

func (c *console) report(res motor.MoveResult, err error) {
	if err != nil {
		fmt.Fprintf(c.out, "move failed after %d/%d steps: %v\n", res.Moved, res.Requested, err)
		return
	}
	fmt.Fprintf(c.out, "moved %d/%d steps (%s), position %d\n",
		res.Moved, res.Requested, res.Reason, c.ctrl.Position())
}

func parseMove(args []string) (int, motor.Direction, error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("usage: <steps> <forward|reverse>")
	}
	steps, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad step count %q", args[0])
	}
	dir, err := motor.ParseDirection(args[1])
	if err != nil {
		return 0, 0, err
	}
	return steps, dir, nil
}

func (c *console) printMenu() {
	fmt.Fprint(c.out, `Commands:
  m <steps> <dir>      move (dir: forward|reverse)
  b <steps> <dir>      move in the background
  a <degrees> <dir>    move by angle
  t <steps> <seconds>  move a step count over a duration
  h                    home to the bottom switch
  c                    calibrate the full range
  x [cycles]           exercise between the switches
  s <rpm>              set speed
  u <factor>           set microstepping
  e / d                enable / disable the driver
  p                    position and state
  stop                 stop the current move
  estop                emergency stop (disables driver, zeroes position)
  q                    quit
`)
}
