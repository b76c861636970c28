package motor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cjeanneret/StepGo/internal/hw/gpio"
)

func TestMoveSteps_Forward(t *testing.T) {
	drv := newFakeDriver()
	c, err := NewController(drv, testConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer c.Close()
	drv.reset()

	res, err := c.MoveSteps(context.Background(), 10, Forward)
	if err != nil {
		t.Fatalf("MoveSteps: %v", err)
	}
	if res.Requested != 10 || res.Moved != 10 || !res.Complete() {
		t.Errorf("result = %+v, want 10/10 completed", res)
	}
	if got := c.Position(); got != 10 {
		t.Errorf("position = %d, want 10", got)
	}

	writes := drv.writeCalls()
	if len(writes) < 4 {
		t.Fatalf("expected enable, dir, pulses and disable, got %v", writes)
	}
	// Enable first, then direction HIGH for forward.
	if writes[0].pin != 22 || writes[0].level != gpio.High {
		t.Errorf("first write = %+v, want enable pin HIGH", writes[0])
	}
	if writes[1].pin != 17 || writes[1].level != gpio.High {
		t.Errorf("second write = %+v, want dir pin HIGH", writes[1])
	}
	// Driver released once the move is done.
	last := writes[len(writes)-1]
	if last.pin != 22 || last.level != gpio.Low {
		t.Errorf("last write = %+v, want enable pin LOW", last)
	}

	// Count step pulses (HIGH+LOW pairs on the step pin).
	pulses := 0
	for _, w := range drv.writeCallsForPin(27) {
		if w.level == gpio.High {
			pulses++
		}
	}
	if pulses != 10 {
		t.Errorf("step pulses = %d, want 10", pulses)
	}
}

func TestMoveSteps_ReverseUsesBottomLimit(t *testing.T) {
	drv := newFakeDriver()
	c, err := NewController(drv, testConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer c.Close()
	drv.reset()

	res, err := c.MoveSteps(context.Background(), 5, Reverse)
	if err != nil {
		t.Fatalf("MoveSteps: %v", err)
	}
	if res.Moved != 5 || !res.Complete() {
		t.Errorf("result = %+v, want 5 completed", res)
	}
	if got := c.Position(); got != -5 {
		t.Errorf("position = %d, want -5", got)
	}

	if dir := drv.writeCallsForPin(17); len(dir) != 1 || dir[0].level != gpio.Low {
		t.Errorf("dir writes = %v, want one LOW", dir)
	}
	if got := drv.readCount(21); got != 5 {
		t.Errorf("bottom limit reads = %d, want 5", got)
	}
	if got := drv.readCount(20); got != 0 {
		t.Errorf("top limit reads = %d, want 0 on a reverse move", got)
	}
}

func TestMoveSteps_RoundTrip(t *testing.T) {
	drv := newFakeDriver()
	c, err := NewController(drv, testConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer c.Close()

	for _, n := range []int{0, 1, 7, 63} {
		if _, err := c.MoveSteps(context.Background(), n, Forward); err != nil {
			t.Fatalf("MoveSteps(%d, forward): %v", n, err)
		}
		if _, err := c.MoveSteps(context.Background(), n, Reverse); err != nil {
			t.Fatalf("MoveSteps(%d, reverse): %v", n, err)
		}
		if got := c.Position(); got != 0 {
			t.Errorf("position after %d out and back = %d, want 0", n, got)
		}
	}
}

func TestMoveSteps_ZeroSteps(t *testing.T) {
	drv := newFakeDriver()
	c, err := NewController(drv, testConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer c.Close()
	drv.reset()

	res, err := c.MoveSteps(context.Background(), 0, Forward)
	if err != nil {
		t.Fatalf("MoveSteps: %v", err)
	}
	if !res.Complete() || res.Moved != 0 {
		t.Errorf("result = %+v, want 0 completed", res)
	}
	if calls := drv.writeCalls(); len(calls) != 0 {
		t.Errorf("zero steps should produce no GPIO writes, got %v", calls)
	}
}

func TestMoveSteps_NegativeSteps(t *testing.T) {
	drv := newFakeDriver()
	c, err := NewController(drv, testConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer c.Close()
	drv.reset()

	if _, err := c.MoveSteps(context.Background(), -3, Forward); !errors.Is(err, ErrInvalidMove) {
		t.Errorf("MoveSteps(-3) error = %v, want ErrInvalidMove", err)
	}
	if calls := drv.writeCalls(); len(calls) != 0 {
		t.Errorf("rejected move should produce no GPIO writes, got %v", calls)
	}
}

func TestMoveSteps_LimitStopsMove(t *testing.T) {
	drv := newFakeDriver()
	c, err := NewController(drv, testConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer c.Close()
	drv.trip[20] = 4 // top switch closes after four pulses

	res, err := c.MoveSteps(context.Background(), 100, Forward)
	if err != nil {
		t.Fatalf("MoveSteps: %v", err)
	}
	if res.Reason != LimitTripped {
		t.Errorf("reason = %v, want limit", res.Reason)
	}
	if res.Moved != 4 {
		t.Errorf("moved = %d, want 4", res.Moved)
	}
	if got := c.Position(); got != 4 {
		t.Errorf("position = %d, want 4", got)
	}

	writes := drv.writeCallsForPin(22)
	if last := writes[len(writes)-1]; last.level != gpio.Low {
		t.Errorf("driver still enabled after hitting the limit: %v", writes)
	}
}

func TestMoveSteps_AlreadyAtLimit(t *testing.T) {
	drv := newFakeDriver()
	c, err := NewController(drv, testConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer c.Close()
	drv.inputs[20] = gpio.Low
	drv.reset()

	res, err := c.MoveSteps(context.Background(), 10, Forward)
	if err != nil {
		t.Fatalf("MoveSteps: %v", err)
	}
	if res.Reason != LimitTripped || res.Moved != 0 {
		t.Errorf("result = %+v, want 0 moved with limit reason", res)
	}
	if pulses := drv.writeCallsForPin(27); len(pulses) != 0 {
		t.Errorf("no pulse should be issued against a closed switch, got %v", pulses)
	}
	if got := c.Position(); got != 0 {
		t.Errorf("position = %d, want 0", got)
	}
}

func TestMoveSteps_OppositeLimitIgnored(t *testing.T) {
	drv := newFakeDriver()
	c, err := NewController(drv, testConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer c.Close()
	drv.inputs[21] = gpio.Low // pressed bottom switch must not stop a forward move

	res, err := c.MoveSteps(context.Background(), 5, Forward)
	if err != nil {
		t.Fatalf("MoveSteps: %v", err)
	}
	if !res.Complete() || res.Moved != 5 {
		t.Errorf("result = %+v, want 5 completed", res)
	}
}

func TestMoveSteps_ContextCanceled(t *testing.T) {
	drv := newFakeDriver()
	c, err := NewController(drv, testConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	drv.onRead = func(pin, n int) {
		if pin == 20 && n == 5 {
			cancel()
		}
	}

	res, err := c.MoveSteps(ctx, 100, Forward)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("MoveSteps error = %v, want context.Canceled", err)
	}
	if res.Reason != Canceled {
		t.Errorf("reason = %v, want canceled", res.Reason)
	}
	if res.Moved != 4 {
		t.Errorf("moved = %d, want 4 (cancel lands before the fifth pulse)", res.Moved)
	}
	if got := c.Position(); got != 4 {
		t.Errorf("position = %d, want 4", got)
	}
}

func TestMoveSteps_PreCanceledContext(t *testing.T) {
	drv := newFakeDriver()
	c, err := NewController(drv, testConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := c.MoveSteps(ctx, 10, Forward)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("MoveSteps error = %v, want context.Canceled", err)
	}
	if res.Moved != 0 {
		t.Errorf("moved = %d, want 0", res.Moved)
	}
	if pulses := drv.writeCallsForPin(27); len(pulses) > 1 {
		// One LOW write comes from init; no pulse may follow it.
		t.Errorf("pulses issued under a dead context: %v", pulses)
	}
}

func TestMoveSteps_Stop(t *testing.T) {
	drv := newFakeDriver()
	c, err := NewController(drv, testConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer c.Close()

	stopDone := make(chan struct{})
	drv.onRead = func(pin, n int) {
		if pin == 20 && n == 5 {
			go func() {
				defer close(stopDone)
				c.Stop()
			}()
		}
	}
	// Slow the pulses down so the stop request lands mid-move.
	drv.onWrite = func(pin int, level gpio.Level) {
		if pin == 27 {
			time.Sleep(time.Millisecond)
		}
	}

	res, err := c.MoveSteps(context.Background(), 1000, Forward)
	if err != nil {
		t.Fatalf("MoveSteps: %v", err)
	}
	<-stopDone

	if res.Reason != Stopped {
		t.Errorf("reason = %v, want stopped", res.Reason)
	}
	if res.Moved < 4 || res.Moved >= 1000 {
		t.Errorf("moved = %d, want an early stop", res.Moved)
	}
	if got := c.Position(); got != res.Moved {
		t.Errorf("position = %d, want %d", got, res.Moved)
	}

	// The stop request must be consumed; the next move runs normally.
	drv.onRead = nil
	drv.onWrite = nil
	res, err = c.MoveSteps(context.Background(), 3, Forward)
	if err != nil {
		t.Fatalf("MoveSteps after Stop: %v", err)
	}
	if !res.Complete() {
		t.Errorf("move after Stop ended with %v, want completed", res.Reason)
	}
}

func TestMoveSteps_WriteFailure(t *testing.T) {
	drv := newFakeDriver()
	c, err := NewController(drv, testConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer c.Close()
	drv.failWrite[27] = errors.New("write failed")

	res, err := c.MoveSteps(context.Background(), 10, Forward)
	if err == nil {
		t.Fatal("MoveSteps with a failing step line should error")
	}
	if res.Reason != Failed {
		t.Errorf("reason = %v, want failed", res.Reason)
	}
	if res.Moved != 0 {
		t.Errorf("moved = %d, want 0", res.Moved)
	}

	// Even on failure the driver ends up disabled.
	writes := drv.writeCallsForPin(22)
	if last := writes[len(writes)-1]; last.level != gpio.Low {
		t.Errorf("driver left enabled after a failed move: %v", writes)
	}
}

func TestMoveSteps_ReadFailure(t *testing.T) {
	drv := newFakeDriver()
	c, err := NewController(drv, testConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer c.Close()
	drv.failRead[20] = errors.New("read failed")

	res, err := c.MoveSteps(context.Background(), 10, Forward)
	if err == nil {
		t.Fatal("MoveSteps with a failing limit line should error")
	}
	if res.Reason != Failed || res.Moved != 0 {
		t.Errorf("result = %+v, want 0 moved, failed", res)
	}
}

func TestMoveAngle_FullRevolution(t *testing.T) {
	drv := newFakeDriver()
	c, err := NewController(drv, testConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer c.Close()

	// 360 degrees at 200 steps/rev and 1/8 microstepping is 1600 pulses.
	res, err := c.MoveAngle(context.Background(), 360, Forward)
	if err != nil {
		t.Fatalf("MoveAngle: %v", err)
	}
	if res.Requested != 1600 || res.Moved != 1600 || !res.Complete() {
		t.Errorf("result = %+v, want 1600/1600 completed", res)
	}
	if got := c.Position(); got != 1600 {
		t.Errorf("position = %d, want 1600", got)
	}
}

func TestMoveAngle_Invalid(t *testing.T) {
	drv := newFakeDriver()
	c, err := NewController(drv, testConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer c.Close()

	if _, err := c.MoveAngle(context.Background(), -90, Forward); !errors.Is(err, ErrInvalidMove) {
		t.Errorf("MoveAngle(-90) error = %v, want ErrInvalidMove", err)
	}

	res, err := c.MoveAngle(context.Background(), 0, Forward)
	if err != nil {
		t.Fatalf("MoveAngle(0): %v", err)
	}
	if !res.Complete() || res.Moved != 0 {
		t.Errorf("result = %+v, want 0 completed", res)
	}
}

func TestMoveStepsOverDuration(t *testing.T) {
	drv := newFakeDriver()
	cfg := testConfig()
	cfg.StepsPerRev = 200
	cfg.Microstepping = 1
	c, err := NewController(drv, cfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer c.Close()

	// 25 pulses over 125ms is 200 pulses/s: 60 RPM at full step.
	start := time.Now()
	res, err := c.MoveStepsOverDuration(context.Background(), 25, 125*time.Millisecond)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("MoveStepsOverDuration: %v", err)
	}
	if res.Moved != 25 || !res.Complete() {
		t.Errorf("result = %+v, want 25 completed", res)
	}
	if got := c.Config().SpeedRPM; got != 60 {
		t.Errorf("derived speed = %v RPM, want 60", got)
	}
	if elapsed < 100*time.Millisecond {
		t.Errorf("move finished in %v, want roughly 125ms", elapsed)
	}
}

func TestMoveStepsOverDuration_Invalid(t *testing.T) {
	drv := newFakeDriver()
	c, err := NewController(drv, testConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer c.Close()
	before := c.Config().SpeedRPM

	if _, err := c.MoveStepsOverDuration(context.Background(), -1, time.Second); !errors.Is(err, ErrInvalidMove) {
		t.Errorf("negative steps error = %v, want ErrInvalidMove", err)
	}
	if _, err := c.MoveStepsOverDuration(context.Background(), 10, 0); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("zero duration error = %v, want ErrInvalidConfig", err)
	}

	// Zero steps over a valid duration is a no-op and keeps the speed.
	res, err := c.MoveStepsOverDuration(context.Background(), 0, time.Second)
	if err != nil {
		t.Fatalf("MoveStepsOverDuration(0): %v", err)
	}
	if !res.Complete() {
		t.Errorf("result = %+v, want completed", res)
	}
	if got := c.Config().SpeedRPM; got != before {
		t.Errorf("speed changed to %v on a zero-step move, want %v", got, before)
	}
}

func TestParseDirection(t *testing.T) {
	fwd := []string{"forward", "f", "up", "open"}
	for _, s := range fwd {
		d, err := ParseDirection(s)
		if err != nil || d != Forward {
			t.Errorf("ParseDirection(%q) = %v, %v, want Forward", s, d, err)
		}
	}
	rev := []string{"reverse", "r", "down", "close"}
	for _, s := range rev {
		d, err := ParseDirection(s)
		if err != nil || d != Reverse {
			t.Errorf("ParseDirection(%q) = %v, %v, want Reverse", s, d, err)
		}
	}
	if _, err := ParseDirection("sideways"); !errors.Is(err, ErrInvalidMove) {
		t.Errorf("ParseDirection(sideways) error = %v, want ErrInvalidMove", err)
	}
}
