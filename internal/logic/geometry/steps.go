package geometry

import (
	"math"
	"time"
)

// microstepsPerRev returns the number of STEP pulses per shaft revolution.
func microstepsPerRev(stepsPerRev, microstepping int) float64 {
	return float64(stepsPerRev) * float64(microstepping)
}

// StepsForAngle converts a shaft angle in degrees to STEP pulses,
// rounded to the nearest pulse with ties away from zero.
func StepsForAngle(angleDegrees float64, stepsPerRev, microstepping int) int {
	return int(math.Round(angleDegrees / 360.0 * microstepsPerRev(stepsPerRev, microstepping)))
}

// AngleForSteps converts STEP pulses back to shaft degrees.
func AngleForSteps(steps int, stepsPerRev, microstepping int) float64 {
	return float64(steps) / microstepsPerRev(stepsPerRev, microstepping) * 360.0
}

// PulsePeriod returns the duration of one full STEP cycle at the given
// shaft speed. The HIGH and LOW half-cycles each last half of it.
// speedRPM must be > 0; callers validate before converting.
func PulsePeriod(speedRPM float64, stepsPerRev, microstepping int) time.Duration {
	ns := 60e9 / (speedRPM * microstepsPerRev(stepsPerRev, microstepping))
	return time.Duration(ns)
}

// RPMForDuration returns the shaft speed that spreads the given number
// of pulses evenly over the duration.
func RPMForDuration(steps int, d time.Duration, stepsPerRev, microstepping int) float64 {
	pulsesPerSecond := float64(steps) / d.Seconds()
	return pulsesPerSecond * 60.0 / microstepsPerRev(stepsPerRev, microstepping)
}
