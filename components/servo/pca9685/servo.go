// Package pca9685 implements a servo on one channel of a PCA9685 PWM controller.
package pca9685

import (
	"context"
	"math"
	"sync"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/picar-labs/rover/components/board"
	"github.com/picar-labs/rover/components/servo"
)

const (
	defaultMinDeg float64 = 0.0
	defaultMaxDeg float64 = 180.0
	minWidthUs    uint    = 500  // absolute minimum pwm width
	maxWidthUs    uint    = 2500 // absolute maximum pwm width
)

// Config describes one servo.
type Config struct {
	Channel int `json:"channel"`
	// MinWidthUS and MaxWidthUS are the pulse widths at 0 and 180 degrees.
	MinWidthUS uint `json:"min_width_us,omitempty"`
	MaxWidthUS uint `json:"max_width_us,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Channel < 0 || cfg.Channel > 15 {
		return goutils.NewConfigValidationError(path, errors.Errorf("channel %d is not in [0, 15]", cfg.Channel))
	}
	if cfg.MinWidthUS != 0 && cfg.MinWidthUS < minWidthUs {
		return goutils.NewConfigValidationError(path, errors.Errorf("min_width_us cannot be lower than %d", minWidthUs))
	}
	if cfg.MaxWidthUS != 0 && cfg.MaxWidthUS > maxWidthUs {
		return goutils.NewConfigValidationError(path, errors.Errorf("max_width_us cannot be higher than %d", maxWidthUs))
	}
	if cfg.MinWidthUS != 0 && cfg.MaxWidthUS != 0 && cfg.MinWidthUS >= cfg.MaxWidthUS {
		return goutils.NewConfigValidationError(path, errors.New("min_width_us must be less than max_width_us"))
	}
	return nil
}

type pwmServo struct {
	pwm     board.PWM
	channel int
	minUs   uint
	maxUs   uint

	mu    sync.Mutex
	angle float64
}

// NewServo returns a servo driven by channel cfg.Channel of pwm.
func NewServo(pwm board.PWM, cfg *Config) (servo.Servo, error) {
	if err := cfg.Validate("servo"); err != nil {
		return nil, err
	}
	s := &pwmServo{pwm: pwm, channel: cfg.Channel, minUs: minWidthUs, maxUs: maxWidthUs}
	if cfg.MinWidthUS != 0 {
		s.minUs = cfg.MinWidthUS
	}
	if cfg.MaxWidthUS != 0 {
		s.maxUs = cfg.MaxWidthUS
	}
	return s, nil
}

// Given minUs, maxUs, deg and frequency attempt to calculate the corresponding duty cycle pct.
func mapDegToDutyCylePct(minUs, maxUs uint, minDeg, maxDeg, deg, frequency float64) float64 {
	period := 1.0 / frequency         // dutyCycle in s
	degRange := maxDeg - minDeg       // servo moves from minDeg to maxDeg
	uSRange := float64(maxUs - minUs) // pulse width between minUs to maxUs

	scale := uSRange / degRange

	pwmWidthUs := float64(minUs) + (deg-minDeg)*scale
	return (pwmWidthUs / (1000 * 1000)) / period
}

// Move moves the servo to the given angle, clamped to [0, 180].
func (s *pwmServo) Move(ctx context.Context, angleDeg float64) error {
	angle := math.Max(defaultMinDeg, math.Min(defaultMaxDeg, angleDeg))
	pct := mapDegToDutyCylePct(s.minUs, s.maxUs, defaultMinDeg, defaultMaxDeg, angle, s.pwm.Frequency())

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.pwm.SetDutyCycle(ctx, s.channel, pct); err != nil {
		return errors.Wrap(err, "couldn't move the servo")
	}
	s.angle = angle
	return nil
}

// Position returns the current set angle (degrees) of the servo.
func (s *pwmServo) Position(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.angle, nil
}

// Stop stops the servo. It is assumed the servo stops immediately.
func (s *pwmServo) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.pwm.SetDutyCycle(ctx, s.channel, 0); err != nil {
		return errors.Wrap(err, "couldn't stop servo")
	}
	return nil
}
