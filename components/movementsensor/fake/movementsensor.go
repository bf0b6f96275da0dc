// Package fake is a fake MovementSensor for testing and for running without an IMU.
package fake

import (
	"context"
	"sync"

	"github.com/golang/geo/r3"
)

// MovementSensor returns whatever readings it was last given. A new one sits still and level.
type MovementSensor struct {
	mu              sync.Mutex
	acceleration    r3.Vector
	angularVelocity r3.Vector
	err             error
}

// NewMovementSensor returns a level, motionless sensor.
func NewMovementSensor() *MovementSensor {
	return &MovementSensor{acceleration: r3.Vector{Z: 1}}
}

// Set changes the reported acceleration (g) and angular velocity (deg/s).
func (f *MovementSensor) Set(acceleration, angularVelocity r3.Vector) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acceleration = acceleration
	f.angularVelocity = angularVelocity
}

// SetError makes every read fail with err until it is cleared with nil.
func (f *MovementSensor) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// LinearAcceleration returns the set acceleration.
func (f *MovementSensor) LinearAcceleration(ctx context.Context) (r3.Vector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acceleration, f.err
}

// AngularVelocity returns the set angular velocity.
func (f *MovementSensor) AngularVelocity(ctx context.Context) (r3.Vector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.angularVelocity, f.err
}

// Readings returns both readings.
func (f *MovementSensor) Readings(ctx context.Context) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return map[string]interface{}{
		"linear_acceleration": f.acceleration,
		"angular_velocity":    f.angularVelocity,
	}, nil
}

// Close does nothing.
func (f *MovementSensor) Close(ctx context.Context) error {
	return nil
}
