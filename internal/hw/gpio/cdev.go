package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"

	"github.com/cjeanneret/StepGo/internal/debug"
)

// CdevDriver drives GPIOs through the Linux character device
// (/dev/gpiochipN). Unlike go-rpio it needs no /dev/gpiomem and
// works on any board with a recent kernel, but each line must be
// requested before use and stays claimed until Close.
type CdevDriver struct {
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
}

// NewCdevDriver opens the named chip (e.g. "gpiochip0"). Opening
// fails if the chip does not exist or the process lacks permission,
// so a bad setup is caught here rather than at the first pulse.
func NewCdevDriver(chip string) (*CdevDriver, error) {
	if chip == "" {
		chip = "gpiochip0"
	}
	debug.Info("Initializing character-device GPIO driver on %s", chip)

	c, err := gpiocdev.NewChip(chip, gpiocdev.WithConsumer("stepgo"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chip, err)
	}

	return &CdevDriver{
		chip:  c,
		lines: make(map[int]*gpiocdev.Line),
	}, nil
}

func (c *CdevDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	// Re-requesting an already claimed line releases it first so the
	// direction change takes effect.
	if l, ok := c.lines[pin]; ok {
		_ = l.Close()
		delete(c.lines, pin)
	}

	var opts []gpiocdev.LineReqOption
	switch mode {
	case Input:
		opts = append(opts, gpiocdev.AsInput)
	case InputPullUp:
		opts = append(opts, gpiocdev.AsInput, gpiocdev.WithPullUp)
	case Output:
		opts = append(opts, gpiocdev.AsOutput(0))
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	line, err := c.chip.RequestLine(pin, opts...)
	if err != nil {
		return fmt.Errorf("request line %d: %w", pin, err)
	}
	c.lines[pin] = line
	return nil
}

func (c *CdevDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	l, ok := c.lines[pin]
	if !ok {
		// Line not requested yet, request as output
		if err := c.SetupPin(pin, Output); err != nil {
			return err
		}
		l = c.lines[pin]
	}

	v := 0
	if level == High {
		v = 1
	}
	return l.SetValue(v)
}

func (c *CdevDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)

	l, ok := c.lines[pin]
	if !ok {
		// Line not requested yet, request as plain input
		if err := c.SetupPin(pin, Input); err != nil {
			return Low, err
		}
		l = c.lines[pin]
	}

	v, err := l.Value()
	if err != nil {
		return Low, fmt.Errorf("read line %d: %w", pin, err)
	}
	if v != 0 {
		return High, nil
	}
	return Low, nil
}

func (c *CdevDriver) Close() error {
	debug.Trace("GPIO Close (character device)")

	for pin, l := range c.lines {
		debug.Verbose("Releasing line %d", pin)
		_ = l.Close()
	}
	return c.chip.Close()
}
