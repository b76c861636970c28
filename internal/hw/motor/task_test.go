package motor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/cjeanneret/StepGo/internal/hw/gpio"
)

func TestTask_WaitReturnsResult(t *testing.T) {
	drv := newFakeDriver()
	c, err := NewController(drv, testConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer c.Close()

	task := c.MoveStepsAsync(context.Background(), 10, Forward, nil)
	res, err := task.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Moved != 10 || !res.Complete() {
		t.Errorf("result = %+v, want 10 completed", res)
	}
	if got := c.Position(); got != 10 {
		t.Errorf("position = %d, want 10", got)
	}

	select {
	case <-task.Done():
	default:
		t.Error("Done() not closed after Wait returned")
	}
}

func TestTask_Cancel(t *testing.T) {
	drv := newFakeDriver()
	c, err := NewController(drv, testConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	drv.onRead = func(pin, n int) {
		if pin == 20 && n == 10 {
			cancel()
		}
	}

	task := c.MoveStepsAsync(ctx, 100000, Forward, nil)
	res, err := task.Wait()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait error = %v, want context.Canceled", err)
	}
	if res.Reason != Canceled {
		t.Errorf("reason = %v, want canceled", res.Reason)
	}
	if res.Moved != 9 {
		t.Errorf("moved = %d, want 9", res.Moved)
	}
}

func TestTask_CancelMethod(t *testing.T) {
	drv := newFakeDriver()
	c, err := NewController(drv, testConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer c.Close()

	reached := make(chan struct{})
	var once atomic.Bool
	drv.onRead = func(pin, n int) {
		if pin == 20 && n == 10 && !once.Swap(true) {
			close(reached)
		}
	}

	task := c.MoveStepsAsync(context.Background(), 100000, Forward, nil)
	<-reached
	task.Cancel()

	res, err := task.Wait()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait error = %v, want context.Canceled", err)
	}
	if res.Moved >= 100000 {
		t.Errorf("moved = %d, want an early cancel", res.Moved)
	}
	if got := c.Position(); got != res.Moved {
		t.Errorf("position = %d, want %d", got, res.Moved)
	}
}

func TestTask_CallbackRunsBeforeWait(t *testing.T) {
	drv := newFakeDriver()
	c, err := NewController(drv, testConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer c.Close()

	var fromCallback atomic.Int64
	task := c.MoveStepsAsync(context.Background(), 7, Forward, func(res MoveResult, err error) {
		if err == nil {
			fromCallback.Store(int64(res.Moved))
		}
	})
	res, err := task.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := fromCallback.Load(); got != int64(res.Moved) {
		t.Errorf("callback saw moved = %d, Wait saw %d", got, res.Moved)
	}
}

func TestTask_ConcurrentTasksSerialize(t *testing.T) {
	drv := newFakeDriver()
	c, err := NewController(drv, testConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer c.Close()
	drv.reset()

	var done atomic.Int32
	onDone := func(MoveResult, error) { done.Add(1) }
	a := c.MoveStepsAsync(context.Background(), 10, Forward, onDone)
	b := c.MoveStepsAsync(context.Background(), 10, Forward, onDone)

	resA, errA := a.Wait()
	resB, errB := b.Wait()
	if errA != nil || errB != nil {
		t.Fatalf("Wait: %v / %v", errA, errB)
	}
	if !resA.Complete() || !resB.Complete() {
		t.Errorf("results = %+v / %+v, want both completed", resA, resB)
	}
	if got := done.Load(); got != 2 {
		t.Errorf("callbacks ran %d times, want 2", got)
	}
	if got := c.Position(); got != 20 {
		t.Errorf("position = %d, want 20 (both moves ran in full)", got)
	}

	// Each move holds the enable line for its own pulses, so the write
	// log must show two windows of exactly ten rising step edges and no
	// step writes outside a window.
	var windows []int
	open := false
	for _, w := range drv.writeCalls() {
		switch {
		case w.pin == 22 && w.level == gpio.High:
			open = true
			windows = append(windows, 0)
		case w.pin == 22 && w.level == gpio.Low:
			open = false
		case w.pin == 27 && w.level == gpio.High:
			if !open {
				t.Fatal("step pulse outside an enable window")
			}
			windows[len(windows)-1]++
		}
	}
	if len(windows) != 2 || windows[0] != 10 || windows[1] != 10 {
		t.Errorf("pulse windows = %v, want [10 10]", windows)
	}
}

func TestTask_OnClosedController(t *testing.T) {
	drv := newFakeDriver()
	c, err := NewController(drv, testConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	task := c.MoveStepsAsync(context.Background(), 5, Forward, nil)
	if _, err := task.Wait(); !errors.Is(err, ErrClosed) {
		t.Errorf("Wait error = %v, want ErrClosed", err)
	}
}
