// Package mpu6050 implements the movementsensor interface for an MPU-6050 6-axis accelerometer and
// gyroscope. A description of the I2C registers is at
// https://download.datasheets.com/pdfs/2015/3/19/8/3/59/59/invse_/manual/5rm-mpu-6000a-00v4.2.pdf
//
// The chip is configured for its most sensitive ranges: +/- 2 g and +/- 250 degrees per second.
// At start up it is held still for a number of samples to estimate the sensor biases; the
// accelerometer z axis keeps its 1 g of gravity.
//
// The chip has two possible I2C addresses, which can be selected by wiring the AD0 pin to either
// hot or ground:
//   - if AD0 is wired to ground, it uses the default I2C address of 0x68
//   - if AD0 is wired to hot, it uses the alternate I2C address of 0x69
package mpu6050

import (
	"context"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/picar-labs/rover/components/board"
	"github.com/picar-labs/rover/components/movementsensor"
	rutils "github.com/picar-labs/rover/utils"
)

const (
	defaultAddress   = 0x68
	alternateAddress = 0x69

	regSampleRateDiv = 0x19
	regConfig        = 0x1a
	regGyroConfig    = 0x1b
	regAccelConfig   = 0x1c
	regIntEnable     = 0x38
	regAccelXOutH    = 0x3b
	regPowerMgmt1    = 0x6b
	regWhoAmI        = 0x75

	sleepBit = 0x40

	// LSB sensitivity for the +/- 2 g and +/- 250 deg/s ranges.
	accelLSBPerG   = 16384.0
	gyroLSBPerDegS = 131.0

	defaultCalibrationSamples = 100
	defaultPollInterval       = 10 * time.Millisecond
)

// Config is used to configure the chip.
type Config struct {
	I2CBus                 string `json:"i2c_bus"`
	UseAlternateI2CAddress bool   `json:"use_alt_i2c_address,omitempty"`
	CalibrationSamples     int    `json:"calibration_samples,omitempty"`
	PollIntervalMs         int    `json:"poll_interval_ms,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.I2CBus == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "i2c_bus")
	}
	if cfg.CalibrationSamples < 0 {
		return utils.NewConfigValidationError(path, errors.New("calibration_samples cannot be negative"))
	}
	if cfg.PollIntervalMs < 0 {
		return utils.NewConfigValidationError(path, errors.New("poll_interval_ms cannot be negative"))
	}
	return nil
}

type sample struct {
	acceleration    r3.Vector
	angularVelocity r3.Vector
	temperature     float64
}

type mpu6050 struct {
	bus        board.I2C
	i2cAddress byte

	accelBias r3.Vector
	gyroBias  r3.Vector

	// Lock the mutex before reading or writing latest.
	mu     sync.Mutex
	latest sample
	err    *movementsensor.LastError

	workers rutils.StoppableWorkers
	logger  golog.Logger
}

// NewMpu6050 checks that an MPU-6050 answers on the bus, configures and calibrates it, and starts
// polling it in the background.
func NewMpu6050(ctx context.Context, bus board.I2C, cfg *Config, logger golog.Logger) (movementsensor.MovementSensor, error) {
	if err := cfg.Validate("imu"); err != nil {
		return nil, err
	}
	address := byte(defaultAddress)
	if cfg.UseAlternateI2CAddress {
		address = alternateAddress
	}
	logger.Debugf("Using address %#x for MPU6050 sensor", address)

	sensor := &mpu6050{
		bus:        bus,
		i2cAddress: address,
		err:        movementsensor.NewLastError(1, 1),
		logger:     logger,
	}

	// WHO_AM_I holds the device's non-alternative address regardless of AD0.
	whoAmI, err := sensor.readByte(ctx, regWhoAmI)
	if err != nil {
		return nil, errors.Wrapf(err, "can't read from I2C address %#x on bus %s", address, cfg.I2CBus)
	}
	if whoAmI != defaultAddress {
		return nil, errors.Errorf("unexpected non-MPU6050 device at address %#x: response '%#x'", address, whoAmI)
	}

	// Wake the chip (it powers up asleep), sample at 1kHz/(1+7), no low pass filter, the smallest
	// full scale ranges, and data ready interrupts.
	for _, rv := range [][2]byte{
		{regPowerMgmt1, 0},
		{regSampleRateDiv, 7},
		{regConfig, 0},
		{regGyroConfig, 0},
		{regAccelConfig, 0},
		{regIntEnable, 1},
	} {
		if err := sensor.writeByte(ctx, rv[0], rv[1]); err != nil {
			return nil, errors.Wrapf(err, "unable to configure MPU6050 register %#x", rv[0])
		}
	}

	pollInterval := defaultPollInterval
	if cfg.PollIntervalMs > 0 {
		pollInterval = time.Duration(cfg.PollIntervalMs) * time.Millisecond
	}
	samples := cfg.CalibrationSamples
	if samples == 0 {
		samples = defaultCalibrationSamples
	}
	if err := sensor.calibrate(ctx, samples, pollInterval); err != nil {
		return nil, err
	}

	sensor.workers = rutils.NewStoppableWorkers(func(ctx context.Context) {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
			s, err := sensor.readSample(ctx)
			sensor.err.Set(err)
			if err != nil {
				sensor.logger.Debugf("error reading MPU6050 sensor: '%s'", err)
				continue
			}
			s.acceleration = s.acceleration.Sub(sensor.accelBias)
			s.angularVelocity = s.angularVelocity.Sub(sensor.gyroBias)

			sensor.mu.Lock()
			sensor.latest = s
			sensor.mu.Unlock()
		}
	})

	return sensor, nil
}

// calibrate averages samples taken while the rover sits still.
func (mpu *mpu6050) calibrate(ctx context.Context, count int, interval time.Duration) error {
	var ax, ay, az, gx, gy, gz stats.Float64Data
	for i := 0; i < count; i++ {
		s, err := mpu.readSample(ctx)
		if err != nil {
			return errors.Wrap(err, "MPU6050 calibration failed")
		}
		ax, ay, az = append(ax, s.acceleration.X), append(ay, s.acceleration.Y), append(az, s.acceleration.Z)
		gx, gy, gz = append(gx, s.angularVelocity.X), append(gy, s.angularVelocity.Y), append(gz, s.angularVelocity.Z)
		if !utils.SelectContextOrWait(ctx, interval) {
			return ctx.Err()
		}
	}
	mean := func(d stats.Float64Data) float64 {
		m, err := d.Mean()
		if err != nil {
			return 0
		}
		return m
	}
	mpu.accelBias = r3.Vector{X: mean(ax), Y: mean(ay), Z: mean(az) - 1}
	mpu.gyroBias = r3.Vector{X: mean(gx), Y: mean(gy), Z: mean(gz)}
	mpu.logger.Infow("MPU6050 calibrated", "accel_bias", mpu.accelBias, "gyro_bias", mpu.gyroBias)
	return nil
}

func (mpu *mpu6050) readSample(ctx context.Context) (sample, error) {
	raw, err := mpu.readBlock(ctx, regAccelXOutH, 14)
	if err != nil {
		return sample{}, err
	}
	return sample{
		acceleration: toVector(raw[0:6], accelLSBPerG),
		// Taken straight from the MPU6050 register map. Yes, these are weird constants.
		temperature:     float64(rutils.Int16FromBytesBE(raw[6:8]))/340.0 + 36.53,
		angularVelocity: toVector(raw[8:14], gyroLSBPerDegS),
	}, nil
}

func (mpu *mpu6050) readByte(ctx context.Context, register byte) (byte, error) {
	result, err := mpu.readBlock(ctx, register, 1)
	if err != nil {
		return 0, err
	}
	return result[0], nil
}

func (mpu *mpu6050) readBlock(ctx context.Context, register byte, length uint8) ([]byte, error) {
	var results []byte
	err := board.WithHandle(mpu.bus, mpu.i2cAddress, func(h board.I2CHandle) error {
		var err error
		results, err = h.ReadBlockData(ctx, register, length)
		return err
	})
	return results, err
}

func (mpu *mpu6050) writeByte(ctx context.Context, register, value byte) error {
	return board.WithHandle(mpu.bus, mpu.i2cAddress, func(h board.I2CHandle) error {
		return h.WriteByteData(ctx, register, value)
	})
}

// toVector converts three big endian int16s into a vector in sensor units.
func toVector(data []byte, lsbPerUnit float64) r3.Vector {
	return r3.Vector{
		X: float64(rutils.Int16FromBytesBE(data[0:2])) / lsbPerUnit,
		Y: float64(rutils.Int16FromBytesBE(data[2:4])) / lsbPerUnit,
		Z: float64(rutils.Int16FromBytesBE(data[4:6])) / lsbPerUnit,
	}
}

func (mpu *mpu6050) AngularVelocity(ctx context.Context) (r3.Vector, error) {
	if err := mpu.err.Get(); err != nil {
		return r3.Vector{}, err
	}
	mpu.mu.Lock()
	defer mpu.mu.Unlock()
	return mpu.latest.angularVelocity, nil
}

func (mpu *mpu6050) LinearAcceleration(ctx context.Context) (r3.Vector, error) {
	if err := mpu.err.Get(); err != nil {
		return r3.Vector{}, err
	}
	mpu.mu.Lock()
	defer mpu.mu.Unlock()
	return mpu.latest.acceleration, nil
}

func (mpu *mpu6050) Readings(ctx context.Context) (map[string]interface{}, error) {
	if err := mpu.err.Get(); err != nil {
		return nil, err
	}
	mpu.mu.Lock()
	defer mpu.mu.Unlock()

	return map[string]interface{}{
		"linear_acceleration": mpu.latest.acceleration,
		"angular_velocity":    mpu.latest.angularVelocity,
		"temperature_celsius": mpu.latest.temperature,
	}, nil
}

// Close stops polling and puts the chip back to sleep.
func (mpu *mpu6050) Close(ctx context.Context) error {
	mpu.workers.Stop()
	if err := mpu.writeByte(ctx, regPowerMgmt1, sleepBit); err != nil {
		mpu.logger.Errorf("unable to sleep MPU6050: '%s'", err)
		return err
	}
	return nil
}
