package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Reference rig wiring and geometry (BCM numbering). A config file
// only needs to name what differs from these.
const (
	defaultStepPin        = 27
	defaultDirPin         = 17
	defaultEnablePin      = 22
	defaultTopLimitPin    = 20
	defaultBottomLimitPin = 21
	defaultStepsPerRev    = 200
	defaultMicrostepping  = 8
	defaultSpeedRPM       = 20.0
	defaultFullRangeSteps = 1700
	defaultDwellMs        = 500
	defaultBackend        = "gpiocdev"
	defaultChip           = "gpiochip0"
)

// MaxConfigFileBytes caps how much Load reads. Config files are a few
// hundred bytes; anything near this limit is not a config file.
const MaxConfigFileBytes = 1 << 20

// MotorConfig holds the driver wiring and motor geometry.
type MotorConfig struct {
	StepPin         int  `yaml:"step_pin"`
	DirPin          int  `yaml:"dir_pin"`
	EnablePin       int  `yaml:"enable_pin"`        // driver ENABLE line (BCM)
	EnableActiveLow bool `yaml:"enable_active_low"` // true for A4988/DRV8825 nENABLE wiring
	StepsPerRev     int  `yaml:"steps_per_rev"`
	Microstepping   int  `yaml:"microstepping"`
}

// LimitsConfig names the two end-of-travel switch inputs. The
// switches short to ground; the lines are pulled up internally.
type LimitsConfig struct {
	TopPin    int `yaml:"top_pin"`
	BottomPin int `yaml:"bottom_pin"`
}

// DefaultsConfig contains generic motion parameters.
type DefaultsConfig struct {
	SpeedRPM       float64 `yaml:"speed_rpm"`        // shaft speed for moves
	FullRangeSteps int     `yaml:"full_range_steps"` // expected travel between the switches
	HomingMaxSteps int     `yaml:"homing_max_steps"` // homing budget; 0 = twice the range
	DwellMs        int     `yaml:"dwell_ms"`         // pause at each end of an exercise cycle
	DebugLevel     int     `yaml:"debug_level"`      // 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
}

// GPIOConfig selects how the process reaches the pins.
type GPIOConfig struct {
	Backend string `yaml:"backend"` // "mock", "rpio" or "gpiocdev"
	Chip    string `yaml:"chip"`    // character device name for gpiocdev, e.g. "gpiochip0"
}

// IndicatorConfig describes the optional machine-running lamp.
type IndicatorConfig struct {
	Pin       int  `yaml:"pin"` // 0 = not fitted
	ActiveLow bool `yaml:"active_low"`
}

// Config aggregates all application configuration.
type Config struct {
	Motor     MotorConfig     `yaml:"motor"`
	Limits    LimitsConfig    `yaml:"limits"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
	GPIO      GPIOConfig      `yaml:"gpio"`
	Indicator IndicatorConfig `yaml:"indicator"`
}

// ValidateConfigPath rejects paths outside a configs/ directory or
// without a .yaml extension, before anything is read from disk.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config file must have a .yaml extension, got %q", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file must live in a configs/ directory, got %q", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration with defaults
// applied. Zero values pick the reference rig settings; negative
// values are rejected as wiring typos.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	// Motor wiring
	if cfg.Motor.StepPin < 0 {
		return nil, fmt.Errorf("motor.step_pin must be > 0, got %d", cfg.Motor.StepPin)
	}
	if cfg.Motor.StepPin == 0 {
		cfg.Motor.StepPin = defaultStepPin
	}
	if cfg.Motor.DirPin < 0 {
		return nil, fmt.Errorf("motor.dir_pin must be > 0, got %d", cfg.Motor.DirPin)
	}
	if cfg.Motor.DirPin == 0 {
		cfg.Motor.DirPin = defaultDirPin
	}
	if cfg.Motor.EnablePin < 0 {
		return nil, fmt.Errorf("motor.enable_pin must be > 0, got %d", cfg.Motor.EnablePin)
	}
	if cfg.Motor.EnablePin == 0 {
		cfg.Motor.EnablePin = defaultEnablePin
	}
	if cfg.Motor.StepsPerRev < 0 {
		return nil, fmt.Errorf("motor.steps_per_rev must be > 0, got %d", cfg.Motor.StepsPerRev)
	}
	if cfg.Motor.StepsPerRev == 0 {
		cfg.Motor.StepsPerRev = defaultStepsPerRev
	}
	if cfg.Motor.Microstepping < 0 {
		return nil, fmt.Errorf("motor.microstepping must be >= 1, got %d", cfg.Motor.Microstepping)
	}
	if cfg.Motor.Microstepping == 0 {
		cfg.Motor.Microstepping = defaultMicrostepping
	}

	// Limit switches
	if cfg.Limits.TopPin < 0 {
		return nil, fmt.Errorf("limits.top_pin must be > 0, got %d", cfg.Limits.TopPin)
	}
	if cfg.Limits.TopPin == 0 {
		cfg.Limits.TopPin = defaultTopLimitPin
	}
	if cfg.Limits.BottomPin < 0 {
		return nil, fmt.Errorf("limits.bottom_pin must be > 0, got %d", cfg.Limits.BottomPin)
	}
	if cfg.Limits.BottomPin == 0 {
		cfg.Limits.BottomPin = defaultBottomLimitPin
	}

	// Motion defaults
	if cfg.Defaults.SpeedRPM < 0 {
		return nil, fmt.Errorf("defaults.speed_rpm must be > 0, got %g", cfg.Defaults.SpeedRPM)
	}
	if cfg.Defaults.SpeedRPM == 0 {
		cfg.Defaults.SpeedRPM = defaultSpeedRPM
	}
	if cfg.Defaults.FullRangeSteps < 0 {
		return nil, fmt.Errorf("defaults.full_range_steps must be > 0, got %d", cfg.Defaults.FullRangeSteps)
	}
	if cfg.Defaults.FullRangeSteps == 0 {
		cfg.Defaults.FullRangeSteps = defaultFullRangeSteps
	}
	if cfg.Defaults.HomingMaxSteps < 0 {
		return nil, fmt.Errorf("defaults.homing_max_steps must be > 0, got %d", cfg.Defaults.HomingMaxSteps)
	}
	if cfg.Defaults.HomingMaxSteps == 0 {
		cfg.Defaults.HomingMaxSteps = 2 * cfg.Defaults.FullRangeSteps
	}
	if cfg.Defaults.DwellMs < 0 {
		return nil, fmt.Errorf("defaults.dwell_ms must be >= 0, got %d", cfg.Defaults.DwellMs)
	}
	if cfg.Defaults.DwellMs == 0 {
		cfg.Defaults.DwellMs = defaultDwellMs
	}
	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return nil, fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}

	// GPIO backend
	if cfg.GPIO.Backend == "" {
		cfg.GPIO.Backend = defaultBackend
	}
	switch cfg.GPIO.Backend {
	case "mock", "rpio", "gpiocdev":
	default:
		return nil, fmt.Errorf("gpio.backend must be mock, rpio or gpiocdev, got %q", cfg.GPIO.Backend)
	}
	if cfg.GPIO.Chip == "" {
		cfg.GPIO.Chip = defaultChip
	}

	// Indicator lamp
	if cfg.Indicator.Pin < 0 {
		return nil, fmt.Errorf("indicator.pin must be >= 0, got %d", cfg.Indicator.Pin)
	}

	return &cfg, nil
}

// Dwell returns the pause held at each end of an exercise cycle.
func (c *Config) Dwell() time.Duration {
	return time.Duration(c.Defaults.DwellMs) * time.Millisecond
}

// MockGPIO reports whether the mock backend is selected.
func (c *Config) MockGPIO() bool {
	return c.GPIO.Backend == "mock"
}
