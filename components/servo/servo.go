// Package servo defines a hobby servo that can be moved to an angle.
package servo

import "context"

// A Servo turns to an angle in degrees, 0 to 180.
type Servo interface {
	// Move commands the servo to angleDeg. It does not wait for the horn to arrive.
	Move(ctx context.Context, angleDeg float64) error
	// Position returns the last commanded angle.
	Position(ctx context.Context) (float64, error)
	// Stop cuts the pulse so the servo goes limp.
	Stop(ctx context.Context) error
}
