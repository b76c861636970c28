package indicator

import (
	"github.com/cjeanneret/StepGo/internal/debug"
	"github.com/cjeanneret/StepGo/internal/hw/gpio"
)

// Lamp is a machine-running indicator on a single GPIO output:
// - GND: lamp cathode or relay common
// - PIN: lamp anode or relay coil, possibly behind a transistor
//
// The lamp is lit while the axis is moving. Rigs without one leave
// the pin unset (0) and every operation becomes a no-op, so callers
// never need to check whether the lamp is fitted.
type Lamp struct {
	gpio      gpio.Driver
	pin       int
	activeLow bool
}

// NewLamp configures pin as an output and switches the lamp off.
// pin <= 0 means no lamp is fitted.
func NewLamp(g gpio.Driver, pin int, activeLow bool) (*Lamp, error) {
	l := &Lamp{gpio: g, pin: pin, activeLow: activeLow}
	if pin <= 0 {
		debug.Verbose("Indicator: no lamp fitted")
		return l, nil
	}
	if err := g.SetupPin(pin, gpio.Output); err != nil {
		return nil, err
	}
	if err := l.Set(false); err != nil {
		return nil, err
	}
	debug.Verbose("Indicator: lamp on pin %d (activeLow=%v)", pin, activeLow)
	return l, nil
}

// Fitted reports whether a lamp pin is configured.
func (l *Lamp) Fitted() bool { return l.pin > 0 }

// Set switches the lamp; on is the logical state, the electrical
// level follows the activeLow wiring.
func (l *Lamp) Set(on bool) error {
	if !l.Fitted() {
		return nil
	}
	level := gpio.Level(on)
	if l.activeLow {
		level = !level
	}
	return l.gpio.WritePin(l.pin, level)
}

// On lights the lamp.
func (l *Lamp) On() error { return l.Set(true) }

// Off extinguishes the lamp.
func (l *Lamp) Off() error { return l.Set(false) }
