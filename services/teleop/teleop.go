// Package teleop turns joystick input from the web client into base and gimbal commands.
package teleop

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/edaniels/golog"
	goutils "go.viam.com/utils"

	"github.com/picar-labs/rover/components/base"
	"github.com/picar-labs/rover/components/gimbal"
	"github.com/picar-labs/rover/components/powersensor"
)

// Note: these constants are flexible and may be tweaked.
const (
	// MaxSpeed is the fastest the joystick can drive, in percent.
	MaxSpeed = 30
	// TurnFactor scales the speed used for spinning in place.
	TurnFactor = 0.5
	// Deadzone is how far the stick must move before the rover does.
	Deadzone = 0.1
	// centeredEpsilon is how close to (0, 0) a released stick reports.
	centeredEpsilon = 0.01
	// GimbalStep is how many degrees a full stick deflection nudges the gimbal per event.
	GimbalStep = 2.0

	// ThrottledSpeed and ThrottledTurnSpeed cap driving on a critical battery.
	ThrottledSpeed     = 15
	ThrottledTurnSpeed = 8

	defaultThrottlePause = 500 * time.Millisecond
)

// Service drives a base and a gimbal from normalized stick positions. Both sticks report x to the
// right and y upwards in [-1, 1]; the rover is mounted so that both axes are inverted.
type Service struct {
	base    base.Base
	gimbal  *gimbal.Gimbal
	battery powersensor.PowerSensor
	logger  golog.Logger

	throttlePause time.Duration

	// mu serializes commands so throttling cannot interleave with a joystick event.
	mu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithThrottlePause sets how long the base rests before it is restarted at the throttled speed.
func WithThrottlePause(d time.Duration) Option {
	return func(s *Service) { s.throttlePause = d }
}

// New returns a teleop service. battery may be nil, in which case nothing is ever throttled.
func New(b base.Base, g *gimbal.Gimbal, battery powersensor.PowerSensor, logger golog.Logger, opts ...Option) *Service {
	s := &Service{
		base:          b,
		gimbal:        g,
		battery:       battery,
		logger:        logger,
		throttlePause: defaultThrottlePause,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func centered(x, y float64) bool {
	return math.Abs(x) < centeredEpsilon && math.Abs(y) < centeredEpsilon
}

// command works out what the base should do for a stick position.
func command(x, y float64) (base.Direction, int) {
	if centered(x, y) {
		return base.DirectionStop, 0
	}
	x, y = -x, -y
	if math.Abs(x) < Deadzone && math.Abs(y) < Deadzone {
		return base.DirectionStop, 0
	}
	speed := int(math.Min(MaxSpeed, math.Max(math.Abs(x), math.Abs(y))*MaxSpeed))
	switch {
	case math.Abs(y) > math.Abs(x) && y > 0:
		return base.DirectionForward, speed
	case math.Abs(y) > math.Abs(x):
		return base.DirectionBackward, speed
	case x > 0:
		return base.DirectionRight, int(float64(speed) * TurnFactor)
	default:
		return base.DirectionLeft, int(float64(speed) * TurnFactor)
	}
}

// CarControl drives the base from a stick position and returns what the base is now doing.
func (s *Service) CarControl(ctx context.Context, x, y float64) (base.Status, error) {
	dir, speed := command(x, y)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.base.Drive(ctx, dir, speed); err != nil {
		return s.base.Status(), err
	}
	return s.base.Status(), nil
}

// GimbalControl nudges the gimbal from a stick position. A released stick re-centres it.
func (s *Service) GimbalControl(ctx context.Context, x, y float64) (gimbal.Angles, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if centered(x, y) {
		return s.gimbal.Center(ctx)
	}
	x, y = -x, -y
	return s.gimbal.Nudge(ctx, x*GimbalStep, -y*GimbalStep)
}

// ResetGimbal re-centres the gimbal.
func (s *Service) ResetGimbal(ctx context.Context) (gimbal.Angles, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gimbal.Center(ctx)
}

// Stop halts the base.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base.Stop(ctx)
}

// Status returns what the base is doing.
func (s *Service) Status() base.Status {
	return s.base.Status()
}

// Throttle slows the base down when the battery is critical. It pauses, then carries on in the same
// direction at a reduced speed. It reports whether it did anything.
func (s *Service) Throttle(ctx context.Context) (base.Status, bool, error) {
	if s.battery == nil || !s.battery.Battery(ctx).Critical() {
		return s.base.Status(), false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.base.Status()
	speed := ThrottledSpeed
	if status.Direction == base.DirectionLeft || status.Direction == base.DirectionRight {
		speed = ThrottledTurnSpeed
	}
	if status.Speed <= speed {
		return status, false, nil
	}

	s.logger.Warnw("battery critical, slowing down", "direction", status.Direction, "speed", status.Speed)
	if err := s.base.Stop(ctx); err != nil {
		return s.base.Status(), false, err
	}
	if !goutils.SelectContextOrWait(ctx, s.throttlePause) {
		return s.base.Status(), false, ctx.Err()
	}
	if err := s.base.Drive(ctx, status.Direction, speed); err != nil {
		return s.base.Status(), false, err
	}
	return s.base.Status(), true, nil
}
