package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/StepGo/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates how a GPIO line is requested.
// Limit switches close to ground, so their inputs want the
// internal pull-up: the line idles HIGH and reads LOW when pressed.
type PinMode int

const (
	Input PinMode = iota
	InputPullUp
	Output
)

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// NewDriver creates a GPIO driver for the chosen backend:
//   - "mock": logs operations, for development on PC or testing
//   - "rpio": memory-mapped /dev/gpiomem via go-rpio
//   - "gpiocdev": the /dev/gpiochipN character device (same kernel
//     interface libgpiod uses); chip names the device, e.g. "gpiochip0"
func NewDriver(backend, chip string) (Driver, error) {
	switch backend {
	case "mock":
		debug.Info("Using MOCK GPIO driver (development mode)")
		return NewMockDriver(), nil
	case "rpio":
		return NewRPiRealDriver()
	case "gpiocdev":
		return NewCdevDriver(chip)
	default:
		return nil, fmt.Errorf("unknown gpio backend: %q", backend)
	}
}

// MockDriver is a test implementation that logs actions and keeps
// pin levels in memory. Inputs idle HIGH like a pulled-up line, so
// a mocked limit switch reads "not pressed" until SetInput says
// otherwise. Used for development on PC or testing.
type MockDriver struct {
	mu     sync.Mutex
	modes  map[int]PinMode
	levels map[int]Level
}

func NewMockDriver() *MockDriver {
	return &MockDriver{
		modes:  make(map[int]PinMode),
		levels: make(map[int]Level),
	}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modes[pin] = mode
	if _, ok := m.levels[pin]; !ok {
		if mode == Output {
			m.levels[pin] = Low
		} else {
			m.levels[pin] = High
		}
	}
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.mu.Lock()
	m.levels[pin] = level
	m.mu.Unlock()
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	m.mu.Lock()
	level, ok := m.levels[pin]
	m.mu.Unlock()
	if !ok {
		level = High
	}
	debug.GPIO("ReadPin", pin, level)
	return level, nil
}

// SetInput forces the level an input pin will read, simulating
// an external signal such as a pressed limit switch.
func (m *MockDriver) SetInput(pin int, level Level) {
	m.mu.Lock()
	m.levels[pin] = level
	m.mu.Unlock()
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}
