// Package gimbal implements the two servo pan/tilt mount the rover's camera sits on.
package gimbal

import (
	"context"
	"math"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/picar-labs/rover/components/servo"
)

const (
	defaultPanCenter  = 80.0
	defaultTiltCenter = 40.0
	defaultMaxOffset  = 45.0
)

// Config configures the gimbal's rest position and travel.
type Config struct {
	PanChannel  int     `json:"pan_channel"`
	TiltChannel int     `json:"tilt_channel"`
	PanCenter   float64 `json:"pan_center_deg,omitempty"`
	TiltCenter  float64 `json:"tilt_center_deg,omitempty"`
	// MaxOffset is how far either axis may turn away from its centre.
	MaxOffset float64 `json:"max_offset_deg,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.PanChannel == cfg.TiltChannel {
		return goutils.NewConfigValidationError(path, errors.New("pan_channel and tilt_channel must differ"))
	}
	for _, c := range []float64{cfg.PanCenter, cfg.TiltCenter} {
		if c < 0 || c > 180 {
			return goutils.NewConfigValidationError(path, errors.Errorf("centre %.1f is not in [0, 180]", c))
		}
	}
	if cfg.MaxOffset < 0 {
		return goutils.NewConfigValidationError(path, errors.New("max_offset_deg cannot be negative"))
	}
	return nil
}

// Angles is where the gimbal points, in servo degrees.
type Angles struct {
	Horizontal float64 `json:"horizontal"`
	Vertical   float64 `json:"vertical"`
}

// Gimbal moves a pan and a tilt servo together.
type Gimbal struct {
	pan, tilt servo.Servo
	center    Angles
	maxOffset float64

	mu      sync.Mutex
	current Angles
}

// New returns a gimbal over the two servos and moves it to its centre.
func New(ctx context.Context, pan, tilt servo.Servo, cfg *Config) (*Gimbal, error) {
	if cfg == nil {
		cfg = &Config{PanChannel: 9, TiltChannel: 10}
	}
	g := &Gimbal{
		pan:       pan,
		tilt:      tilt,
		center:    Angles{Horizontal: defaultPanCenter, Vertical: defaultTiltCenter},
		maxOffset: defaultMaxOffset,
	}
	if cfg.PanCenter != 0 {
		g.center.Horizontal = cfg.PanCenter
	}
	if cfg.TiltCenter != 0 {
		g.center.Vertical = cfg.TiltCenter
	}
	if cfg.MaxOffset != 0 {
		g.maxOffset = cfg.MaxOffset
	}
	if _, err := g.Center(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Gimbal) clamp(angle, center float64) float64 {
	angle = math.Max(center-g.maxOffset, math.Min(center+g.maxOffset, angle))
	return math.Max(0, math.Min(180, angle))
}

// Move points the gimbal at the given angles, each limited to within the maximum offset of its
// centre. It returns where the gimbal was actually sent.
func (g *Gimbal) Move(ctx context.Context, horizontal, vertical float64) (Angles, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.moveLocked(ctx, Angles{
		Horizontal: g.clamp(horizontal, g.center.Horizontal),
		Vertical:   g.clamp(vertical, g.center.Vertical),
	})
}

// Nudge moves the gimbal by the given deltas from where it points now.
func (g *Gimbal) Nudge(ctx context.Context, dh, dv float64) (Angles, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.moveLocked(ctx, Angles{
		Horizontal: g.clamp(g.current.Horizontal+dh, g.center.Horizontal),
		Vertical:   g.clamp(g.current.Vertical+dv, g.center.Vertical),
	})
}

// Center returns the gimbal to its rest position.
func (g *Gimbal) Center(ctx context.Context) (Angles, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.moveLocked(ctx, g.center)
}

func (g *Gimbal) moveLocked(ctx context.Context, target Angles) (Angles, error) {
	err := multierr.Combine(
		g.pan.Move(ctx, target.Horizontal),
		g.tilt.Move(ctx, target.Vertical),
	)
	if err != nil {
		return g.current, errors.Wrap(err, "cannot move gimbal")
	}
	g.current = target
	return target, nil
}

// Angles returns where the gimbal was last sent.
func (g *Gimbal) Angles() Angles {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// Close relaxes both servos.
func (g *Gimbal) Close(ctx context.Context) error {
	return multierr.Combine(g.pan.Stop(ctx), g.tilt.Stop(ctx))
}
