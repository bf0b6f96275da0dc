package mpu6050

import (
	"context"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/picar-labs/rover/components/board/fake"
)

func be16(v int16) []byte {
	return []byte{byte(uint16(v) >> 8), byte(uint16(v))}
}

func setRaw(dev *fake.Device, accel, gyro [3]int16) {
	var data []byte
	for _, v := range accel {
		data = append(data, be16(v)...)
	}
	data = append(data, be16(0)...)
	for _, v := range gyro {
		data = append(data, be16(v)...)
	}
	dev.SetRegisters(regAccelXOutH, data...)
}

func newTestSensor(t *testing.T) (*fake.Device, *mpu6050) {
	t.Helper()
	bus := fake.NewI2C()
	dev := bus.Device(defaultAddress)
	dev.SetRegisters(regWhoAmI, defaultAddress)
	setRaw(dev, [3]int16{0, 0, 16384}, [3]int16{0, 0, 1310})

	ms, err := NewMpu6050(context.Background(), bus, &Config{
		I2CBus:             "1",
		CalibrationSamples: 3,
		PollIntervalMs:     1,
	}, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return dev, ms.(*mpu6050)
}

func TestValidate(t *testing.T) {
	cfg := Config{}
	test.That(t, cfg.Validate("imu"), test.ShouldNotBeNil)
	cfg.I2CBus = "1"
	test.That(t, cfg.Validate("imu"), test.ShouldBeNil)
	cfg.PollIntervalMs = -1
	test.That(t, cfg.Validate("imu"), test.ShouldNotBeNil)
}

func TestWrongDevice(t *testing.T) {
	bus := fake.NewI2C()
	bus.Device(defaultAddress).SetRegisters(regWhoAmI, 0x12)
	_, err := NewMpu6050(context.Background(), bus, &Config{I2CBus: "1"}, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "non-MPU6050")

	_, err = NewMpu6050(context.Background(), bus, &Config{I2CBus: "1", UseAlternateI2CAddress: true}, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestInitAndCalibration(t *testing.T) {
	ctx := context.Background()
	dev, sensor := newTestSensor(t)

	test.That(t, dev.Register(regPowerMgmt1), test.ShouldEqual, byte(0))
	test.That(t, dev.Register(regSampleRateDiv), test.ShouldEqual, byte(7))
	test.That(t, dev.Register(regIntEnable), test.ShouldEqual, byte(1))

	test.That(t, sensor.accelBias.X, test.ShouldAlmostEqual, 0)
	test.That(t, sensor.accelBias.Z, test.ShouldAlmostEqual, 0)
	test.That(t, sensor.gyroBias.Z, test.ShouldAlmostEqual, 10)

	// rotate at 20 deg/s and tip 0.5 g onto x
	setRaw(dev, [3]int16{8192, 0, 16384}, [3]int16{0, 0, 2620})
	var gyro, accel r3.Vector
	for i := 0; i < 200; i++ {
		var err error
		gyro, err = sensor.AngularVelocity(ctx)
		test.That(t, err, test.ShouldBeNil)
		if gyro.Z > 5 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(5 * time.Millisecond)
	gyro, err := sensor.AngularVelocity(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, gyro.Z, test.ShouldAlmostEqual, 10)
	accel, err = sensor.LinearAcceleration(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, accel.X, test.ShouldAlmostEqual, 0.5)
	test.That(t, accel.Z, test.ShouldAlmostEqual, 1)

	readings, err := sensor.Readings(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, readings["temperature_celsius"], test.ShouldAlmostEqual, 36.53)

	test.That(t, sensor.Close(ctx), test.ShouldBeNil)
	test.That(t, dev.Register(regPowerMgmt1), test.ShouldEqual, byte(sleepBit))
}

func TestReadFailure(t *testing.T) {
	ctx := context.Background()
	dev, sensor := newTestSensor(t)
	defer sensor.workers.Stop()

	dev.SetError(errors.New("i2c bus fault"))
	var err error
	for i := 0; i < 200 && err == nil; i++ {
		time.Sleep(5 * time.Millisecond)
		_, err = sensor.LinearAcceleration(ctx)
	}
	test.That(t, err, test.ShouldNotBeNil)
	_, err = sensor.AngularVelocity(ctx)
	test.That(t, err, test.ShouldNotBeNil)
}
