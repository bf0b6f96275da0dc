// Package movementsensor defines the interface of the rover's inertial measurement unit.
package movementsensor

import (
	"context"

	"github.com/golang/geo/r3"
)

// A MovementSensor reports calibrated accelerometer and gyroscope readings. Reads never block on
// the device; they return the most recent sample taken by the driver's own polling loop.
type MovementSensor interface {
	// LinearAcceleration is in multiples of g.
	LinearAcceleration(ctx context.Context) (r3.Vector, error)
	// AngularVelocity is in degrees per second.
	AngularVelocity(ctx context.Context) (r3.Vector, error)
	// Readings is everything the sensor knows, keyed by name.
	Readings(ctx context.Context) (map[string]interface{}, error)
	Close(ctx context.Context) error
}
