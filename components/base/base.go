// Package base defines the rover's drive base: the wheels as a whole rather than single motors.
package base

import (
	"context"

	"github.com/pkg/errors"
)

// A Direction is which way the base is being driven.
type Direction string

// The directions a base can drive in. Left and right spin the rover in place.
const (
	DirectionStop     = Direction("stop")
	DirectionForward  = Direction("forward")
	DirectionBackward = Direction("backward")
	DirectionLeft     = Direction("left")
	DirectionRight    = Direction("right")
)

// Status is what the base was last told to do.
type Status struct {
	// Speed is a percentage of full power, 0 to 100.
	Speed     int       `json:"speed"`
	Direction Direction `json:"direction"`
}

// A Base drives the rover.
type Base interface {
	// Drive runs the base in the given direction at a speed between 0 and 100.
	Drive(ctx context.Context, dir Direction, speed int) error
	Stop(ctx context.Context) error
	Status() Status
	Close(ctx context.Context) error
}

// ValidateDrive checks a Drive request.
func ValidateDrive(dir Direction, speed int) error {
	switch dir {
	case DirectionStop, DirectionForward, DirectionBackward, DirectionLeft, DirectionRight:
	default:
		return errors.Errorf("unknown direction %q", dir)
	}
	if speed < 0 || speed > 100 {
		return errors.Errorf("speed %d is not in [0, 100]", speed)
	}
	return nil
}
