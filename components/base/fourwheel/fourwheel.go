// Package fourwheel implements a skid-steer base: the motors on each side turn together and the
// rover turns by running the two sides in opposite directions.
package fourwheel

import (
	"context"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/picar-labs/rover/components/base"
	"github.com/picar-labs/rover/components/motor"
	motorpca "github.com/picar-labs/rover/components/motor/pca9685"
	rutils "github.com/picar-labs/rover/utils"
)

// Config is how you configure a four wheel base.
type Config struct {
	Left  []motorpca.Config `json:"left"`
	Right []motorpca.Config `json:"right"`
}

// DefaultConfig is the motor wiring of the stock four wheel drive hat.
func DefaultConfig() *Config {
	return &Config{
		Left:  []motorpca.Config{{PWM: 0, In1: 1, In2: 2}, {PWM: 5, In1: 3, In2: 4}},
		Right: []motorpca.Config{{PWM: 6, In1: 8, In2: 7}, {PWM: 11, In1: 12, In2: 13}},
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if len(cfg.Left) == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "left")
	}
	if len(cfg.Right) == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "right")
	}
	if len(cfg.Left) != len(cfg.Right) {
		return utils.NewConfigValidationError(path,
			errors.Errorf("left and right need to have the same number of motors, not %d vs %d",
				len(cfg.Left), len(cfg.Right)))
	}
	for i, m := range append(append([]motorpca.Config{}, cfg.Left...), cfg.Right...) {
		if err := m.Validate(path); err != nil {
			return errors.Wrapf(err, "motor %d", i)
		}
	}
	return nil
}

type fourWheelBase struct {
	left, right []motor.Motor
	logger      golog.Logger

	mu     sync.Mutex
	status base.Status
}

// NewBase returns a base over the given motors and stops them.
func NewBase(ctx context.Context, left, right []motor.Motor, logger golog.Logger) (base.Base, error) {
	if len(left) == 0 || len(left) != len(right) {
		return nil, errors.Errorf("need the same non-zero number of left and right motors, not %d vs %d", len(left), len(right))
	}
	b := &fourWheelBase{left: left, right: right, logger: logger}
	if err := b.Stop(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// sidePowers is the fraction of full power each side runs at to drive in dir.
func sidePowers(dir base.Direction, speed int) (float64, float64) {
	p := float64(speed) / 100
	switch dir {
	case base.DirectionForward:
		return p, p
	case base.DirectionBackward:
		return -p, -p
	case base.DirectionLeft:
		return -p, p
	case base.DirectionRight:
		return p, -p
	default:
		return 0, 0
	}
}

func (b *fourWheelBase) Drive(ctx context.Context, dir base.Direction, speed int) error {
	if err := base.ValidateDrive(dir, speed); err != nil {
		return err
	}
	if dir == base.DirectionStop {
		speed = 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.logger.Debugw("drive", "direction", dir, "speed", speed)
	leftPower, rightPower := sidePowers(dir, speed)
	if err := b.runAll(ctx, leftPower, rightPower); err != nil {
		return err
	}
	b.status = base.Status{Speed: speed, Direction: dir}
	return nil
}

// runAll sets every motor in parallel. If any fails the whole base is stopped.
func (b *fourWheelBase) runAll(ctx context.Context, leftPower, rightPower float64) error {
	fs := make([]rutils.SimpleFunc, 0, len(b.left)+len(b.right))
	for _, m := range b.left {
		fs = append(fs, func(ctx context.Context) error { return m.SetPower(ctx, leftPower) })
	}
	for _, m := range b.right {
		fs = append(fs, func(ctx context.Context) error { return m.SetPower(ctx, rightPower) })
	}
	if err := rutils.RunInParallel(ctx, fs); err != nil {
		b.status = base.Status{Direction: base.DirectionStop}
		return multierr.Combine(err, b.stopAll(ctx))
	}
	return nil
}

func (b *fourWheelBase) stopAll(ctx context.Context) error {
	var err error
	for _, m := range append(append([]motor.Motor{}, b.left...), b.right...) {
		err = multierr.Combine(err, m.Stop(ctx))
	}
	return err
}

func (b *fourWheelBase) Stop(ctx context.Context) error {
	return b.Drive(ctx, base.DirectionStop, 0)
}

func (b *fourWheelBase) Status() base.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *fourWheelBase) Close(ctx context.Context) error {
	return b.Stop(ctx)
}
