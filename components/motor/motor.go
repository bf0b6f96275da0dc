// Package motor defines the DC motors that drive the rover's wheels.
package motor

import (
	"context"
	"math"
)

// A Motor turns a wheel.
type Motor interface {
	// SetPower sets the fraction of full power, in [-1, 1]; negative runs backwards.
	SetPower(ctx context.Context, powerPct float64) error
	// Stop cuts power.
	Stop(ctx context.Context) error
	// IsPowered reports whether the motor is on and at what power.
	IsPowered(ctx context.Context) (bool, float64, error)
}

// ClampPower limits a power percentage to [-1, 1].
func ClampPower(powerPct float64) float64 {
	return math.Max(-1, math.Min(1, powerPct))
}
