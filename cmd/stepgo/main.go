package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/StepGo/internal/config"
	"github.com/cjeanneret/StepGo/internal/debug"
	"github.com/cjeanneret/StepGo/internal/hw/gpio"
	"github.com/cjeanneret/StepGo/internal/hw/indicator"
	"github.com/cjeanneret/StepGo/internal/hw/motor"
	"github.com/cjeanneret/StepGo/internal/logic/exercise"
	"github.com/cjeanneret/StepGo/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	speedRPM := flag.Float64("speed_rpm", 0, "override motor speed in RPM")
	microstepping := flag.Int("microstepping", 0, "override microstepping factor")
	gpioBackend := flag.String("gpio", "", "override GPIO backend (mock, rpio or gpiocdev)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Validate CLI overrides (only non-zero values are applied; zero means "use config value")
	if err := validateCLIOverrides(*speedRPM, *microstepping, *gpioBackend); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, *speedRPM, *microstepping, *gpioBackend)

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	// Initialize GPIO driver
	debug.Value("GPIO backend", cfg.GPIO.Backend)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.GPIO.Backend, cfg.GPIO.Chip)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	// Initialize motor controller
	debug.Step(2, "Initializing motor controller")
	ctrl, err := motor.NewController(gpioDriver, motorConfig(cfg))
	if err != nil {
		log.Fatalf("init motor failed: %v", err)
	}
	defer func() {
		if err := ctrl.Close(); err != nil {
			log.Printf("closing motor failed: %v", err)
		}
	}()
	debug.PrintStruct("Motor config", cfg.Motor)
	debug.PrintStruct("Limit switches", cfg.Limits)

	// Activity lamp (optional)
	debug.Step(3, "Initializing activity lamp")
	lamp, err := indicator.NewLamp(gpioDriver, cfg.Indicator.Pin, cfg.Indicator.ActiveLow)
	if err != nil {
		log.Fatalf("init indicator failed: %v", err)
	}

	runner := exercise.NewRunner(ctrl)

	var broadcaster *web.StatusBroadcaster
	if webPort.port() > 0 {
		broadcaster = web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
	}

	// The lamp follows motion; so do web clients when the server is up.
	// The hook runs on the motion goroutine, so it only touches atomics
	// and non-blocking sends.
	ctrl.SetMotionHook(func(moving bool) {
		lamp.Set(moving)
		if broadcaster != nil {
			broadcaster.BroadcastPosition(ctrl.Position(), moving)
		}
	})

	if port := webPort.port(); port > 0 {
		webAddr := fmt.Sprintf(":%d", port)
		srv := web.NewServer(webAddr, broadcaster, ctrl)

		// Web server and console run side by side; quitting the
		// console shuts the server down and vice versa.
		runCtx, stop := context.WithCancel(ctx)
		defer stop()
		g, gctx := errgroup.WithContext(runCtx)
		g.Go(func() error { return srv.Run(gctx) })
		g.Go(func() error {
			defer stop()
			return runConsole(gctx, ctrl, runner, cfg, os.Stdout)
		})
		if err := g.Wait(); err != nil {
			log.Fatalf("stepgo: %v", err)
		}
		return
	}

	if err := runConsole(ctx, ctrl, runner, cfg, os.Stdout); err != nil {
		log.Fatalf("console: %v", err)
	}
}

// motorConfig maps the file schema onto the controller's config.
func motorConfig(cfg *config.Config) motor.Config {
	return motor.Config{
		StepPin:         cfg.Motor.StepPin,
		DirPin:          cfg.Motor.DirPin,
		EnablePin:       cfg.Motor.EnablePin,
		EnableActiveLow: cfg.Motor.EnableActiveLow,
		TopLimitPin:     cfg.Limits.TopPin,
		BottomLimitPin:  cfg.Limits.BottomPin,
		StepsPerRev:     cfg.Motor.StepsPerRev,
		Microstepping:   cfg.Motor.Microstepping,
		SpeedRPM:        cfg.Defaults.SpeedRPM,
		FullRangeSteps:  cfg.Defaults.FullRangeSteps,
		HomingMaxSteps:  cfg.Defaults.HomingMaxSteps,
	}
}

// validateCLIOverrides checks that non-zero CLI overrides are usable.
// Zero values are ignored (they mean "use config value").
func validateCLIOverrides(speed float64, microstep int, backend string) error {
	if speed != 0 {
		if math.IsNaN(speed) || math.IsInf(speed, 0) || speed <= 0 {
			return fmt.Errorf("speed_rpm must be > 0, got %g", speed)
		}
	}
	if microstep < 0 {
		return fmt.Errorf("microstepping must be > 0, got %d", microstep)
	}
	if backend != "" {
		switch backend {
		case "mock", "rpio", "gpiocdev":
		default:
			return fmt.Errorf("gpio backend must be mock, rpio or gpiocdev, got %q", backend)
		}
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero override values are applied.
func applyOverrides(cfg *config.Config, speed float64, microstep int, backend string) {
	if speed > 0 {
		cfg.Defaults.SpeedRPM = speed
	}
	if microstep > 0 {
		cfg.Motor.Microstepping = microstep
	}
	if backend != "" {
		cfg.GPIO.Backend = backend
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
