package motor

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cjeanneret/StepGo/internal/debug"
	"github.com/cjeanneret/StepGo/internal/hw/gpio"
)

// Default wiring (BCM numbering) and geometry. Matches the reference
// rig: DRV8825 carrier, 200 step/rev motor at 1/8 microstepping, two
// limit switches shorting to ground.
const (
	DefaultStepPin        = 27
	DefaultDirPin         = 17
	DefaultEnablePin      = 22
	DefaultTopLimitPin    = 20
	DefaultBottomLimitPin = 21
	DefaultStepsPerRev    = 200
	DefaultMicrostepping  = 8
	DefaultSpeedRPM       = 20
	DefaultFullRangeSteps = 1700
)

// Config holds the wiring and geometry of the axis.
type Config struct {
	StepPin   int
	DirPin    int
	EnablePin int

	TopLimitPin    int
	BottomLimitPin int

	// EnableActiveLow inverts the enable line for boards that wake the
	// driver on LOW (A4988/DRV8825 carriers wired to nENABLE). The
	// default active-high matches opto-isolated driver bricks.
	EnableActiveLow bool

	StepsPerRev   int
	Microstepping int
	SpeedRPM      float64

	// FullRangeSteps is the expected travel between the two limit
	// switches. Calibrate and the exercise routine run this far and
	// let the top switch stop them early.
	FullRangeSteps int

	// HomingMaxSteps bounds Home. 0 means twice FullRangeSteps.
	HomingMaxSteps int
}

// withDefaults fills zero fields with the reference rig values.
// Negative values are left for validate to reject.
func (c Config) withDefaults() Config {
	if c.StepPin == 0 {
		c.StepPin = DefaultStepPin
	}
	if c.DirPin == 0 {
		c.DirPin = DefaultDirPin
	}
	if c.EnablePin == 0 {
		c.EnablePin = DefaultEnablePin
	}
	if c.TopLimitPin == 0 {
		c.TopLimitPin = DefaultTopLimitPin
	}
	if c.BottomLimitPin == 0 {
		c.BottomLimitPin = DefaultBottomLimitPin
	}
	if c.StepsPerRev == 0 {
		c.StepsPerRev = DefaultStepsPerRev
	}
	if c.Microstepping == 0 {
		c.Microstepping = DefaultMicrostepping
	}
	if c.SpeedRPM == 0 {
		c.SpeedRPM = DefaultSpeedRPM
	}
	if c.FullRangeSteps == 0 {
		c.FullRangeSteps = DefaultFullRangeSteps
	}
	if c.HomingMaxSteps == 0 {
		c.HomingMaxSteps = 2 * c.FullRangeSteps
	}
	return c
}

func (c Config) validate() error {
	seen := make(map[int]string)
	for _, p := range []struct {
		name string
		pin  int
	}{
		{"step pin", c.StepPin},
		{"dir pin", c.DirPin},
		{"enable pin", c.EnablePin},
		{"top limit pin", c.TopLimitPin},
		{"bottom limit pin", c.BottomLimitPin},
	} {
		if p.pin <= 0 {
			return fmt.Errorf("%w: %s must be > 0, got %d", ErrInvalidConfig, p.name, p.pin)
		}
		if other, dup := seen[p.pin]; dup {
			return fmt.Errorf("%w: %s and %s both assigned pin %d", ErrInvalidConfig, other, p.name, p.pin)
		}
		seen[p.pin] = p.name
	}
	if c.StepsPerRev <= 0 {
		return fmt.Errorf("%w: steps per revolution must be >= 1, got %d", ErrInvalidConfig, c.StepsPerRev)
	}
	if c.Microstepping <= 0 {
		return fmt.Errorf("%w: microstepping must be >= 1, got %d", ErrInvalidConfig, c.Microstepping)
	}
	if math.IsNaN(c.SpeedRPM) || math.IsInf(c.SpeedRPM, 0) || c.SpeedRPM <= 0 {
		return fmt.Errorf("%w: speed must be > 0 RPM, got %v", ErrInvalidConfig, c.SpeedRPM)
	}
	if c.FullRangeSteps <= 0 {
		return fmt.Errorf("%w: full range must be > 0 steps, got %d", ErrInvalidConfig, c.FullRangeSteps)
	}
	if c.HomingMaxSteps <= 0 {
		return fmt.Errorf("%w: homing budget must be > 0 steps, got %d", ErrInvalidConfig, c.HomingMaxSteps)
	}
	return nil
}

// Controller drives a single stepper axis between two limit switches:
// STEP/DIR/ENABLE outputs toward the driver board, two pulled-up
// inputs for the switches. One mutex serializes every motion and
// configuration operation; position and the moving flag are atomics
// so status reads never wait behind a move.
type Controller struct {
	gpio gpio.Driver

	mu       sync.Mutex
	cfg      Config
	onMotion func(moving bool)

	position atomic.Int64
	moving   atomic.Bool
	stopReq  atomic.Bool
	closed   atomic.Bool
}

// NewController acquires the five GPIO lines and starts with the
// driver disabled and the step counter at zero. Zero Config fields
// fall back to the reference wiring; negative or colliding values
// are rejected before any line is touched.
func NewController(g gpio.Driver, cfg Config) (*Controller, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	for _, s := range []struct {
		name string
		pin  int
		mode gpio.PinMode
	}{
		{"step", cfg.StepPin, gpio.Output},
		{"dir", cfg.DirPin, gpio.Output},
		{"enable", cfg.EnablePin, gpio.Output},
		{"top limit", cfg.TopLimitPin, gpio.InputPullUp},
		{"bottom limit", cfg.BottomLimitPin, gpio.InputPullUp},
	} {
		if err := g.SetupPin(s.pin, s.mode); err != nil {
			return nil, fmt.Errorf("%w: %s line (pin %d): %v", ErrDeviceUnavailable, s.name, s.pin, err)
		}
	}

	c := &Controller{gpio: g, cfg: cfg}

	// STEP idles low so the first rising edge is a clean pulse.
	if err := c.gpio.WritePin(cfg.StepPin, gpio.Low); err != nil {
		return nil, fmt.Errorf("%w: step line (pin %d): %v", ErrDeviceUnavailable, cfg.StepPin, err)
	}
	if err := c.writeEnable(false); err != nil {
		return nil, fmt.Errorf("%w: enable line (pin %d): %v", ErrDeviceUnavailable, cfg.EnablePin, err)
	}

	debug.Info("Motor controller ready: step=%d dir=%d enable=%d limits=%d/%d",
		cfg.StepPin, cfg.DirPin, cfg.EnablePin, cfg.TopLimitPin, cfg.BottomLimitPin)
	return c, nil
}

// SetSpeed sets the shaft speed in RPM for subsequent moves.
func (c *Controller) SetSpeed(rpm float64) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if math.IsNaN(rpm) || math.IsInf(rpm, 0) || rpm <= 0 {
		return fmt.Errorf("%w: speed must be > 0 RPM, got %v", ErrInvalidConfig, rpm)
	}
	c.mu.Lock()
	c.cfg.SpeedRPM = rpm
	c.mu.Unlock()
	debug.Verbose("Speed set to %.2f RPM", rpm)
	return nil
}

// SetMicrostepping sets the driver's microstep factor used for pulse
// timing and angle conversion. It must match the board's mode jumpers.
func (c *Controller) SetMicrostepping(factor int) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if factor <= 0 {
		return fmt.Errorf("%w: microstepping must be >= 1, got %d", ErrInvalidConfig, factor)
	}
	c.mu.Lock()
	c.cfg.Microstepping = factor
	c.mu.Unlock()
	debug.Verbose("Microstepping set to 1/%d", factor)
	return nil
}

// Config returns a snapshot of the current configuration. Like all
// configuration operations it waits for any in-flight motion.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Enable powers the driver so the motor holds torque between moves.
// Moves enable the driver themselves; this is for explicit holds.
func (c *Controller) Enable() error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeEnable(true)
}

// Disable cuts the driver; the motor freewheels with no holding torque.
func (c *Controller) Disable() error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeEnable(false)
}

// Position returns the signed step count relative to the last homing
// origin. It never blocks, even while a move is in flight.
func (c *Controller) Position() int {
	return int(c.position.Load())
}

// Moving reports whether a motion operation is pulsing right now.
func (c *Controller) Moving() bool {
	return c.moving.Load()
}

// SetMotionHook registers fn to run on the moving goroutine whenever
// pulsing starts or ends. Used for the front-panel indicator lamp.
func (c *Controller) SetMotionHook(fn func(moving bool)) {
	c.mu.Lock()
	c.onMotion = fn
	c.mu.Unlock()
}

// Stop interrupts an in-flight move at the next pulse boundary and
// disables the driver. A move already queued on the guard may also
// observe the request and end before its first pulse. Safe to call
// from any goroutine; returns once motion has actually halted.
func (c *Controller) Stop() {
	c.stopReq.Store(true)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopReq.Store(false)
	if err := c.writeEnable(false); err != nil {
		debug.Error(err)
	}
	debug.Live("Stop: motion halted at step %d", c.Position())
}

// EmergencyStop is Stop plus zeroing the step counter. The position
// reference is lost until the next Home.
func (c *Controller) EmergencyStop() {
	c.stopReq.Store(true)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopReq.Store(false)
	c.position.Store(0)
	if err := c.writeEnable(false); err != nil {
		debug.Error(err)
	}
	debug.Live("EMERGENCY STOP: driver disabled, step counter zeroed")
}

// Close interrupts any motion, disables the driver and rejects
// further operations. The GPIO driver itself stays open; its owner
// closes it.
func (c *Controller) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.stopReq.Store(true)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopReq.Store(false)
	return c.writeEnable(false)
}

func (c *Controller) checkOpen() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

// writeEnable drives the enable line; on is the logical state, the
// electrical level follows EnableActiveLow.
func (c *Controller) writeEnable(on bool) error {
	level := gpio.Level(on)
	if c.cfg.EnableActiveLow {
		level = !level
	}
	return c.gpio.WritePin(c.cfg.EnablePin, level)
}

func (c *Controller) notifyMotion(moving bool) {
	if c.onMotion != nil {
		c.onMotion(moving)
	}
}
