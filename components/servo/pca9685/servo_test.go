package pca9685

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/picar-labs/rover/components/board/fake"
)

func TestMapDegToDutyCycle(t *testing.T) {
	test.That(t, mapDegToDutyCylePct(500, 2500, 0, 180, 0, 50), test.ShouldAlmostEqual, 0.025, 1e-12)
	test.That(t, mapDegToDutyCylePct(500, 2500, 0, 180, 90, 50), test.ShouldAlmostEqual, 0.075, 1e-12)
	test.That(t, mapDegToDutyCylePct(500, 2500, 0, 180, 180, 50), test.ShouldAlmostEqual, 0.125, 1e-12)
	test.That(t, mapDegToDutyCylePct(1000, 2000, 0, 180, 90, 100), test.ShouldAlmostEqual, 0.15, 1e-12)
}

func TestServo(t *testing.T) {
	ctx := context.Background()
	pwm := fake.NewPWM(50)
	s, err := NewServo(pwm, &Config{Channel: 9})
	test.That(t, err, test.ShouldBeNil)

	test.That(t, s.Move(ctx, 80), test.ShouldBeNil)
	test.That(t, pwm.DutyCycle(9), test.ShouldAlmostEqual, (500+80*2000.0/180)/20000, 1e-12)
	pos, err := s.Position(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos, test.ShouldEqual, 80.0)

	test.That(t, s.Move(ctx, 300), test.ShouldBeNil)
	test.That(t, pwm.DutyCycle(9), test.ShouldAlmostEqual, 0.125, 1e-12)
	pos, _ = s.Position(ctx)
	test.That(t, pos, test.ShouldEqual, 180.0)

	test.That(t, s.Move(ctx, -5), test.ShouldBeNil)
	test.That(t, pwm.DutyCycle(9), test.ShouldAlmostEqual, 0.025, 1e-12)

	test.That(t, s.Stop(ctx), test.ShouldBeNil)
	test.That(t, pwm.DutyCycle(9), test.ShouldEqual, 0.0)

	pwm.SetError(errors.New("bus down"))
	test.That(t, s.Move(ctx, 10), test.ShouldNotBeNil)
	pos, _ = s.Position(ctx)
	test.That(t, pos, test.ShouldEqual, 0.0)
}

func TestConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		cfg Config
		ok  bool
	}{
		{Config{Channel: 10}, true},
		{Config{Channel: 16}, false},
		{Config{Channel: -1}, false},
		{Config{MinWidthUS: 400}, false},
		{Config{MaxWidthUS: 3000}, false},
		{Config{MinWidthUS: 2000, MaxWidthUS: 1000}, false},
		{Config{MinWidthUS: 1000, MaxWidthUS: 2000}, true},
	} {
		err := tc.cfg.Validate("servo")
		if tc.ok {
			test.That(t, err, test.ShouldBeNil)
		} else {
			test.That(t, err, test.ShouldNotBeNil)
		}
	}
}
