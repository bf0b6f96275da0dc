// Package pca9685 implements a DC motor behind an H-bridge whose speed and direction inputs are
// wired to channels of a PCA9685 PWM controller.
package pca9685

import (
	"context"
	"math"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/picar-labs/rover/components/board"
	"github.com/picar-labs/rover/components/motor"
)

// Config describes the three channels of one H-bridge.
type Config struct {
	// PWM is the speed input.
	PWM int `json:"pwm"`
	// In1 and In2 select the direction: In1 high is forwards, In2 high is backwards.
	In1     int  `json:"in1"`
	In2     int  `json:"in2"`
	DirFlip bool `json:"dir_flip,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	chans := []int{cfg.PWM, cfg.In1, cfg.In2}
	for _, c := range chans {
		if c < 0 || c > 15 {
			return goutils.NewConfigValidationError(path, errors.Errorf("channel %d is not in [0, 15]", c))
		}
	}
	if cfg.PWM == cfg.In1 || cfg.PWM == cfg.In2 || cfg.In1 == cfg.In2 {
		return goutils.NewConfigValidationError(path, errors.New("pwm, in1 and in2 must be distinct channels"))
	}
	return nil
}

type hBridgeMotor struct {
	pwm board.PWM
	cfg Config

	mu       sync.Mutex
	powerPct float64
}

// NewMotor returns a stopped motor.
func NewMotor(ctx context.Context, pwm board.PWM, cfg *Config) (motor.Motor, error) {
	if err := cfg.Validate("motor"); err != nil {
		return nil, err
	}
	m := &hBridgeMotor{pwm: pwm, cfg: *cfg}
	if err := m.Stop(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *hBridgeMotor) SetPower(ctx context.Context, powerPct float64) error {
	powerPct = motor.ClampPower(powerPct)
	dir := powerPct
	if m.cfg.DirFlip {
		dir = -dir
	}
	var in1, in2 float64
	switch {
	case dir > 0:
		in1 = 1
	case dir < 0:
		in2 = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	err := multierr.Combine(
		m.pwm.SetDutyCycle(ctx, m.cfg.In1, in1),
		m.pwm.SetDutyCycle(ctx, m.cfg.In2, in2),
		m.pwm.SetDutyCycle(ctx, m.cfg.PWM, math.Abs(powerPct)),
	)
	if err != nil {
		return errors.Wrap(err, "cannot set motor power")
	}
	m.powerPct = powerPct
	return nil
}

func (m *hBridgeMotor) Stop(ctx context.Context) error {
	return m.SetPower(ctx, 0)
}

func (m *hBridgeMotor) IsPowered(ctx context.Context) (bool, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return math.Abs(m.powerPct) >= 0.005, m.powerPct, nil
}
