package pca9685

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/picar-labs/rover/components/board/fake"
)

func TestMotor(t *testing.T) {
	ctx := context.Background()
	pwm := fake.NewPWM(50)
	m, err := NewMotor(ctx, pwm, &Config{PWM: 0, In1: 1, In2: 2})
	test.That(t, err, test.ShouldBeNil)

	on, power, err := m.IsPowered(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, on, test.ShouldBeFalse)
	test.That(t, power, test.ShouldEqual, 0.0)

	test.That(t, m.SetPower(ctx, 0.3), test.ShouldBeNil)
	test.That(t, pwm.DutyCycle(0), test.ShouldEqual, 0.3)
	test.That(t, pwm.DutyCycle(1), test.ShouldEqual, 1.0)
	test.That(t, pwm.DutyCycle(2), test.ShouldEqual, 0.0)

	test.That(t, m.SetPower(ctx, -2), test.ShouldBeNil)
	test.That(t, pwm.DutyCycle(0), test.ShouldEqual, 1.0)
	test.That(t, pwm.DutyCycle(1), test.ShouldEqual, 0.0)
	test.That(t, pwm.DutyCycle(2), test.ShouldEqual, 1.0)
	on, power, _ = m.IsPowered(ctx)
	test.That(t, on, test.ShouldBeTrue)
	test.That(t, power, test.ShouldEqual, -1.0)

	test.That(t, m.Stop(ctx), test.ShouldBeNil)
	test.That(t, pwm.DutyCycle(0), test.ShouldEqual, 0.0)
	test.That(t, pwm.DutyCycle(1), test.ShouldEqual, 0.0)
	test.That(t, pwm.DutyCycle(2), test.ShouldEqual, 0.0)

	pwm.SetError(errors.New("bus down"))
	test.That(t, m.SetPower(ctx, 0.5), test.ShouldNotBeNil)
	_, power, _ = m.IsPowered(ctx)
	test.That(t, power, test.ShouldEqual, 0.0)
}

func TestMotorDirFlip(t *testing.T) {
	ctx := context.Background()
	pwm := fake.NewPWM(50)
	m, err := NewMotor(ctx, pwm, &Config{PWM: 5, In1: 3, In2: 4, DirFlip: true})
	test.That(t, err, test.ShouldBeNil)

	test.That(t, m.SetPower(ctx, 0.5), test.ShouldBeNil)
	test.That(t, pwm.DutyCycle(5), test.ShouldEqual, 0.5)
	test.That(t, pwm.DutyCycle(3), test.ShouldEqual, 0.0)
	test.That(t, pwm.DutyCycle(4), test.ShouldEqual, 1.0)
}

func TestMotorConfig(t *testing.T) {
	test.That(t, (&Config{PWM: 0, In1: 1, In2: 2}).Validate("motor"), test.ShouldBeNil)
	test.That(t, (&Config{PWM: 0, In1: 0, In2: 2}).Validate("motor"), test.ShouldNotBeNil)
	test.That(t, (&Config{PWM: 16, In1: 1, In2: 2}).Validate("motor"), test.ShouldNotBeNil)
}
