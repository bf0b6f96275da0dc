// Package robot assembles the rover's components and services from a config and owns their
// lifetimes.
package robot

import (
	"context"
	"fmt"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/picar-labs/rover/components/base"
	basefake "github.com/picar-labs/rover/components/base/fake"
	"github.com/picar-labs/rover/components/base/fourwheel"
	"github.com/picar-labs/rover/components/board"
	"github.com/picar-labs/rover/components/board/adc"
	"github.com/picar-labs/rover/components/board/genericlinux"
	"github.com/picar-labs/rover/components/board/pca9685"
	"github.com/picar-labs/rover/components/camera"
	camerafake "github.com/picar-labs/rover/components/camera/fake"
	"github.com/picar-labs/rover/components/camera/videosource"
	"github.com/picar-labs/rover/components/gimbal"
	"github.com/picar-labs/rover/components/motor"
	motorpca "github.com/picar-labs/rover/components/motor/pca9685"
	"github.com/picar-labs/rover/components/movementsensor"
	imufake "github.com/picar-labs/rover/components/movementsensor/fake"
	"github.com/picar-labs/rover/components/movementsensor/mpu6050"
	"github.com/picar-labs/rover/components/powersensor"
	"github.com/picar-labs/rover/components/powersensor/battery"
	powerfake "github.com/picar-labs/rover/components/powersensor/fake"
	"github.com/picar-labs/rover/components/servo"
	servofake "github.com/picar-labs/rover/components/servo/fake"
	servopca "github.com/picar-labs/rover/components/servo/pca9685"
	"github.com/picar-labs/rover/config"
	"github.com/picar-labs/rover/services/slam"
	"github.com/picar-labs/rover/services/slam/builtin"
	"github.com/picar-labs/rover/services/slam/inertial"
	"github.com/picar-labs/rover/services/teleop"
)

type part struct {
	name  string
	close func(ctx context.Context) error
}

// Robot is everything the web server needs.
type Robot struct {
	Camera camera.Camera
	// Inertial is never nil; without an IMU it is simply never available.
	Inertial *inertial.Integrator
	Base     base.Base
	Gimbal   *gimbal.Gimbal
	// Battery is nil when no battery monitor is configured.
	Battery powersensor.PowerSensor
	SLAM    slam.Service
	Teleop  *teleop.Service

	logger golog.Logger
	parts  []part
	start  []func(ctx context.Context) error
}

// New builds a robot from cfg, which must have been through Ensure. Nothing moves and no background
// work begins until Start.
func New(ctx context.Context, cfg *config.Config, logger golog.Logger) (_ *Robot, err error) {
	r := &Robot{logger: logger}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, r.Close(ctx))
		}
	}()

	var (
		bus board.I2C
		pwm board.PWM
	)
	if cfg.UsesHardware() {
		i2cBus, err := genericlinux.NewI2CBus(cfg.Board.I2CBus)
		if err != nil {
			return nil, err
		}
		r.add("i2c bus", func(ctx context.Context) error { return i2cBus.Close() })
		bus = i2cBus
	}
	if cfg.Base.Model == config.ModelFourWheel || cfg.Gimbal.Model == config.ModelPCA9685 {
		controller, err := pca9685.New(ctx, bus, cfg.Board.PWMAddress, cfg.Board.PWMFrequencyHz, logger.Named("pwm"))
		if err != nil {
			return nil, err
		}
		r.add("pwm controller", controller.Close)
		pwm = controller
	}

	if err := r.newCamera(ctx, cfg); err != nil {
		return nil, errors.Wrap(err, "cannot create camera")
	}
	if err := r.newInertial(ctx, cfg, bus); err != nil {
		return nil, errors.Wrap(err, "cannot create imu")
	}
	if err := r.newBase(ctx, cfg, pwm); err != nil {
		return nil, errors.Wrap(err, "cannot create base")
	}
	if err := r.newGimbal(ctx, cfg, pwm); err != nil {
		return nil, errors.Wrap(err, "cannot create gimbal")
	}
	if err := r.newBattery(cfg, bus); err != nil {
		return nil, errors.Wrap(err, "cannot create battery monitor")
	}

	svc, err := builtin.New(&cfg.SLAM.Config, r.Camera, r.Inertial, logger.Named("slam"))
	if err != nil {
		return nil, errors.Wrap(err, "cannot create slam service")
	}
	r.SLAM = svc
	r.add("slam", svc.Close)
	r.start = append(r.start, svc.Start)

	r.Teleop = teleop.New(r.Base, r.Gimbal, r.Battery, logger.Named("teleop"))
	return r, nil
}

func (r *Robot) add(name string, closeFn func(ctx context.Context) error) {
	r.parts = append(r.parts, part{name: name, close: closeFn})
}

func (r *Robot) newCamera(ctx context.Context, cfg *config.Config) error {
	var (
		cam camera.Camera
		err error
	)
	switch attrs := cfg.Camera.ConvertedAttributes.(type) {
	case *videosource.Config:
		cam, err = videosource.NewWebcam(ctx, attrs, r.logger.Named("camera"))
	case *camerafake.Config:
		cam, err = camerafake.NewCamera(attrs, true, r.logger.Named("camera"))
	default:
		err = errors.Errorf("unsupported camera model %q", cfg.Camera.Model)
	}
	if err != nil {
		return err
	}
	r.Camera = cam
	r.add("camera", cam.Close)
	return nil
}

func (r *Robot) newInertial(ctx context.Context, cfg *config.Config, bus board.I2C) error {
	var sensor movementsensor.MovementSensor
	switch cfg.IMU.Model {
	case "":
		r.logger.Warn("no imu configured, localization will use vision only")
	case config.ModelMPU6050:
		attrs, ok := cfg.IMU.ConvertedAttributes.(*mpu6050.Config)
		if !ok {
			return errors.New("imu attributes were not converted")
		}
		mpu, err := mpu6050.NewMpu6050(ctx, bus, attrs, r.logger.Named("imu"))
		if err != nil {
			// the rover can still drive and map without it
			r.logger.Warnw("imu unavailable, continuing without it", "error", err)
			break
		}
		sensor = mpu
	case config.ModelFake:
		sensor = imufake.NewMovementSensor()
	default:
		return errors.Errorf("unsupported imu model %q", cfg.IMU.Model)
	}
	if sensor != nil {
		r.add("imu", sensor.Close)
	}

	period := time.Duration(cfg.SLAM.InertialPeriodMs) * time.Millisecond
	r.Inertial = inertial.NewIntegrator(sensor, period, nil, r.logger.Named("inertial"))
	r.add("inertial integrator", func(ctx context.Context) error {
		r.Inertial.Close()
		return nil
	})
	r.start = append(r.start, func(ctx context.Context) error {
		r.Inertial.Start()
		return nil
	})
	return nil
}

func (r *Robot) newBase(ctx context.Context, cfg *config.Config, pwm board.PWM) error {
	switch cfg.Base.Model {
	case config.ModelFourWheel:
		attrs, ok := cfg.Base.ConvertedAttributes.(*fourwheel.Config)
		if !ok {
			return errors.New("base attributes were not converted")
		}
		newMotors := func(cfgs []motorpca.Config) ([]motor.Motor, error) {
			motors := make([]motor.Motor, 0, len(cfgs))
			for i := range cfgs {
				m, err := motorpca.NewMotor(ctx, pwm, &cfgs[i])
				if err != nil {
					return nil, err
				}
				motors = append(motors, m)
			}
			return motors, nil
		}
		left, err := newMotors(attrs.Left)
		if err != nil {
			return err
		}
		right, err := newMotors(attrs.Right)
		if err != nil {
			return err
		}
		b, err := fourwheel.NewBase(ctx, left, right, r.logger.Named("base"))
		if err != nil {
			return err
		}
		r.Base = b
	case config.ModelFake:
		r.Base = basefake.NewBase()
	default:
		return errors.Errorf("unsupported base model %q", cfg.Base.Model)
	}
	r.add("base", r.Base.Close)
	return nil
}

func (r *Robot) newGimbal(ctx context.Context, cfg *config.Config, pwm board.PWM) error {
	attrs, ok := cfg.Gimbal.ConvertedAttributes.(*gimbal.Config)
	if !ok {
		return errors.New("gimbal attributes were not converted")
	}
	var pan, tilt servo.Servo
	switch cfg.Gimbal.Model {
	case config.ModelPCA9685:
		var err error
		if pan, err = servopca.NewServo(pwm, &servopca.Config{Channel: attrs.PanChannel}); err != nil {
			return err
		}
		if tilt, err = servopca.NewServo(pwm, &servopca.Config{Channel: attrs.TiltChannel}); err != nil {
			return err
		}
	case config.ModelFake:
		pan, tilt = &servofake.Servo{}, &servofake.Servo{}
	default:
		return errors.Errorf("unsupported gimbal model %q", cfg.Gimbal.Model)
	}
	g, err := gimbal.New(ctx, pan, tilt, attrs)
	if err != nil {
		return err
	}
	r.Gimbal = g
	r.add("gimbal", g.Close)
	return nil
}

func (r *Robot) newBattery(cfg *config.Config, bus board.I2C) error {
	switch cfg.Battery.Model {
	case "":
		return nil
	case config.ModelADC:
		attrs, ok := cfg.Battery.ConvertedAttributes.(*config.BatteryAttributes)
		if !ok {
			return errors.New("battery attributes were not converted")
		}
		reader, err := adc.NewReader(bus, attrs.ADC)
		if err != nil {
			return err
		}
		monitor, err := battery.NewBattery(reader, &attrs.Config, nil, r.logger.Named("battery"))
		if err != nil {
			return err
		}
		r.Battery = monitor
		r.start = append(r.start, func(ctx context.Context) error {
			monitor.Start()
			return nil
		})
	case config.ModelFake:
		r.Battery = powerfake.NewPowerSensor()
	default:
		return errors.Errorf("unsupported battery model %q", cfg.Battery.Model)
	}
	r.add("battery", r.Battery.Close)
	return nil
}

// Start begins sampling the IMU, monitoring the battery and running localization.
func (r *Robot) Start(ctx context.Context) error {
	for _, start := range r.start {
		if err := start(ctx); err != nil {
			return err
		}
	}
	r.logger.Info("robot started")
	return nil
}

// Close stops the rover and releases everything, newest first.
func (r *Robot) Close(ctx context.Context) error {
	var allErrs error
	for i := len(r.parts) - 1; i >= 0; i-- {
		p := r.parts[i]
		if err := p.close(ctx); err != nil {
			allErrs = multierr.Combine(allErrs, fmt.Errorf("error closing %s: %w", p.name, err))
		}
	}
	r.parts = nil
	return allErrs
}
