// Package inertial turns raw accelerometer and gyroscope readings into a filtered orientation.
//
// Roll and pitch come from a complementary filter that trusts the integrated gyroscope in the short
// term and the direction of gravity in the long term. Yaw is the plain integral of the z gyroscope
// rate. There is no magnetometer, so yaw drifts without bound; it is reported in [0, 360).
package inertial

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"

	"github.com/picar-labs/rover/components/movementsensor"
	"github.com/picar-labs/rover/services/slam"
	"github.com/picar-labs/rover/utils"
)

const (
	// DefaultPeriod is how often the sensor is sampled.
	DefaultPeriod = 10 * time.Millisecond
	// GyroWeight is the share of the gyroscope integral in the filtered roll and pitch.
	GyroWeight = 0.98
)

// Sample is one copy of the integrator's output.
type Sample struct {
	// Acceleration is in g.
	Acceleration r3.Vector
	// AngularVelocity is in degrees per second.
	AngularVelocity r3.Vector
	// Orientation is in degrees, with Yaw in [0, 360).
	Orientation slam.Orientation
	// RelativeYaw is the unwrapped yaw turned through since the last MarkYawReference. It does not
	// jump when Orientation.Yaw crosses 0.
	RelativeYaw float64
}

// Integrator samples a MovementSensor on its own goroutine. All accessors return copies and never
// wait on the sensor.
type Integrator struct {
	sensor movementsensor.MovementSensor
	clock  clock.Clock
	period time.Duration
	logger golog.Logger

	mu         sync.Mutex
	available  bool
	sample     Sample
	rawYaw     float64
	yawOffset  float64
	lastUpdate time.Time

	workersMu sync.Mutex
	workers   utils.StoppableWorkers
}

// NewIntegrator returns an integrator over sensor. A nil sensor gives an integrator that is never
// available. A zero period means DefaultPeriod and a nil clock means the wall clock.
func NewIntegrator(sensor movementsensor.MovementSensor, period time.Duration, clk clock.Clock, logger golog.Logger) *Integrator {
	if period <= 0 {
		period = DefaultPeriod
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Integrator{
		sensor:    sensor,
		clock:     clk,
		period:    period,
		logger:    logger,
		available: sensor != nil,
	}
}

// Start begins sampling. It does nothing if the integrator is already running or unavailable.
func (in *Integrator) Start() {
	in.workersMu.Lock()
	defer in.workersMu.Unlock()
	if in.workers != nil || !in.Available() {
		return
	}

	in.mu.Lock()
	in.lastUpdate = in.clock.Now()
	in.mu.Unlock()

	in.workers = utils.NewStoppableWorkers(in.run)
}

func (in *Integrator) run(ctx context.Context) {
	ticker := in.clock.Ticker(in.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !in.step(ctx) {
			return
		}
	}
}

// step performs one filter update and reports whether sampling should continue.
func (in *Integrator) step(ctx context.Context) bool {
	if !in.Available() {
		return false
	}

	accel, err := in.sensor.LinearAcceleration(ctx)
	if err == nil {
		var gyro r3.Vector
		gyro, err = in.sensor.AngularVelocity(ctx)
		if err == nil {
			in.integrate(accel, gyro)
			return true
		}
	}
	if ctx.Err() != nil {
		return false
	}
	in.markUnavailable(err)
	return false
}

func (in *Integrator) integrate(accel, gyro r3.Vector) {
	now := in.clock.Now()

	in.mu.Lock()
	prev := in.sample.Orientation
	prev.Yaw = in.rawYaw
	last := in.lastUpdate
	in.mu.Unlock()

	var dt float64
	if !last.IsZero() {
		dt = now.Sub(last).Seconds()
	}
	next := Filter(prev, accel, gyro, dt)

	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.available {
		return
	}
	in.lastUpdate = now
	in.sample.Acceleration = accel
	in.sample.AngularVelocity = gyro
	in.rawYaw = next.Yaw
	next.Yaw = utils.ModAngDeg(next.Yaw)
	in.sample.Orientation = next
}

func (in *Integrator) markUnavailable(err error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.available {
		return
	}
	in.logger.Warnw("inertial sensor failed, continuing without it", "error", err)
	in.available = false
	in.sample = Sample{}
	in.rawYaw = 0
	in.yawOffset = 0
}

// Filter advances orientation prev by dt seconds given a reading of acceleration in g and angular
// velocity in degrees per second. Yaw is integrated as given and not wrapped.
func Filter(prev slam.Orientation, accel, gyro r3.Vector, dt float64) slam.Orientation {
	accelRoll := utils.RadToDeg(math.Atan2(accel.Y, accel.Z))
	accelPitch := utils.RadToDeg(math.Atan2(-accel.X, math.Sqrt(accel.Y*accel.Y+accel.Z*accel.Z)))
	return slam.Orientation{
		Roll:  GyroWeight*(prev.Roll+gyro.X*dt) + (1-GyroWeight)*accelRoll,
		Pitch: GyroWeight*(prev.Pitch+gyro.Y*dt) + (1-GyroWeight)*accelPitch,
		Yaw:   prev.Yaw + gyro.Z*dt,
	}
}

// Available is false once the sensor has failed, and for an integrator built without one.
func (in *Integrator) Available() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.available
}

// Orientation is the filtered orientation in degrees, or zero when unavailable.
func (in *Integrator) Orientation() slam.Orientation {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.sample.Orientation
}

// Acceleration is the latest acceleration in g, or zero when unavailable.
func (in *Integrator) Acceleration() r3.Vector {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.sample.Acceleration
}

// AngularVelocity is the latest angular velocity in degrees per second, or zero when unavailable.
func (in *Integrator) AngularVelocity() r3.Vector {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.sample.AngularVelocity
}

// Snapshot copies everything at once. ok is false when the integrator is unavailable.
func (in *Integrator) Snapshot() (Sample, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	s := in.sample
	s.RelativeYaw = in.rawYaw - in.yawOffset
	return s, in.available
}

// MarkYawReference records the current yaw so that later snapshots report yaw relative to it.
// The filter state itself is left untouched.
func (in *Integrator) MarkYawReference() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.yawOffset = in.rawYaw
}

// Close stops sampling. The sensor is owned by the caller and is not closed.
func (in *Integrator) Close() {
	in.workersMu.Lock()
	defer in.workersMu.Unlock()
	if in.workers != nil {
		in.workers.Stop()
		in.workers = nil
	}
}
