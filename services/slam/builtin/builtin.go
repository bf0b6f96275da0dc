// Package builtin implements the rover's localization and mapping pipeline.
//
// A single goroutine takes the newest camera frame, tracks ORB features against the previous
// frame, fits a partial affine motion to the best matches and fuses it with the inertial yaw into
// a dead-reckoned pose. Landmark points are scattered around the pose as it moves. This is not
// real SLAM: there is no loop closure, no keyframe graph and no optimization, so the estimate drifts.
package builtin

import (
	"context"
	"encoding/json"
	"image"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	goutils "go.viam.com/utils"

	"github.com/picar-labs/rover/services/slam"
	"github.com/picar-labs/rover/services/slam/inertial"
	"github.com/picar-labs/rover/utils"
	"github.com/picar-labs/rover/vision/odometry"
)

const (
	defaultPeriodMs            = 50
	defaultIdleRetryMs         = 10
	defaultMapPointProbability = 0.1
	defaultSaveProbability     = 0.05
	defaultMaxMapPoints        = 1000
	// DefaultDataPath is where map snapshots are written unless configured otherwise.
	DefaultDataPath = "static/data/map_data.json"
)

// Config configures the pipeline. Zero values take defaults, except for the probabilities where
// only an unset value does; an explicit 0 turns map growth or periodic snapshots off.
type Config struct {
	PeriodMs            int      `json:"period_ms,omitempty"`
	IdleRetryMs         int      `json:"idle_retry_ms,omitempty"`
	MapPointProbability *float64 `json:"map_point_probability,omitempty"`
	SaveProbability     *float64 `json:"save_probability,omitempty"`
	DataPath            string   `json:"data_path,omitempty"`
	MaxMapPoints        int      `json:"max_map_points,omitempty"`
	Seed                int64    `json:"seed,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.PeriodMs < 0 {
		return goutils.NewConfigValidationError(path, errors.New("period_ms cannot be negative"))
	}
	if cfg.IdleRetryMs < 0 {
		return goutils.NewConfigValidationError(path, errors.New("idle_retry_ms cannot be negative"))
	}
	if !validProbability(cfg.MapPointProbability) {
		return goutils.NewConfigValidationError(path, errors.New("map_point_probability must be in [0, 1]"))
	}
	if !validProbability(cfg.SaveProbability) {
		return goutils.NewConfigValidationError(path, errors.New("save_probability must be in [0, 1]"))
	}
	if cfg.MaxMapPoints < 0 {
		return goutils.NewConfigValidationError(path, errors.New("max_map_points cannot be negative"))
	}
	return nil
}

func validProbability(p *float64) bool {
	return p == nil || (*p >= 0 && *p <= 1)
}

func (cfg *Config) withDefaults() Config {
	out := *cfg
	if out.PeriodMs == 0 {
		out.PeriodMs = defaultPeriodMs
	}
	if out.IdleRetryMs == 0 {
		out.IdleRetryMs = defaultIdleRetryMs
	}
	if out.MapPointProbability == nil {
		p := defaultMapPointProbability
		out.MapPointProbability = &p
	}
	if out.SaveProbability == nil {
		p := defaultSaveProbability
		out.SaveProbability = &p
	}
	if out.MaxMapPoints == 0 {
		out.MaxMapPoints = defaultMaxMapPoints
	}
	return out
}

// InertialSource is what the pipeline needs from the inertial integrator.
type InertialSource interface {
	Snapshot() (inertial.Sample, bool)
	MarkYawReference()
}

// FeatureTracker matches each frame it sees against the one before it.
type FeatureTracker interface {
	Track(ctx context.Context, frame image.Image) ([]odometry.Correspondence, error)
	Reset()
}

// Option changes how New builds the service.
type Option func(*builtIn)

// WithTracker replaces the ORB feature tracker.
func WithTracker(tracker FeatureTracker) Option {
	return func(b *builtIn) { b.tracker = tracker }
}

// WithRand replaces the random source behind map growth and snapshot timing.
func WithRand(r utils.Rand) Option {
	return func(b *builtIn) { b.rand = r }
}

type builtIn struct {
	frames    slam.FrameSource
	imu       InertialSource
	tracker   FeatureTracker
	rand      utils.Rand
	logger    golog.Logger
	period    time.Duration
	idleRetry time.Duration
	saveProb  float64
	dataPath  string

	state *stateStore

	lifecycleMu sync.Mutex
	workers     utils.StoppableWorkers
	closed      bool
}

// New returns a stopped pipeline reading from frames. imu may be nil, in which case the pose is
// driven by vision alone.
func New(cfg *Config, frames slam.FrameSource, imu InertialSource, logger golog.Logger, opts ...Option) (slam.Service, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.Validate("slam"); err != nil {
		return nil, err
	}
	conf := cfg.withDefaults()

	b := &builtIn{
		frames:    frames,
		imu:       imu,
		logger:    logger,
		period:    time.Duration(conf.PeriodMs) * time.Millisecond,
		idleRetry: time.Duration(conf.IdleRetryMs) * time.Millisecond,
		saveProb:  *conf.SaveProbability,
		dataPath:  conf.DataPath,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.rand == nil {
		seed := conf.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		b.rand = utils.NewLockedRand(seed)
	}
	if b.tracker == nil {
		tracker, err := odometry.NewORBTracker(nil, logger)
		if err != nil {
			return nil, err
		}
		b.tracker = tracker
	}
	b.state = newStateStore(conf.MaxMapPoints, *conf.MapPointProbability, b.rand)
	return b, nil
}

func (b *builtIn) Start(ctx context.Context) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if b.closed {
		return errors.New("slam: service is closed")
	}
	if b.workers != nil {
		return nil
	}
	if b.frames == nil {
		return slam.ErrNoFrameSource
	}
	b.workers = utils.NewStoppableWorkers(b.loop)
	b.logger.Info("slam pipeline started")
	return nil
}

func (b *builtIn) Stop(ctx context.Context) error {
	b.lifecycleMu.Lock()
	workers := b.workers
	b.workers = nil
	b.lifecycleMu.Unlock()

	if workers == nil {
		return nil
	}
	workers.Stop()
	b.save(ctx)
	b.logger.Info("slam pipeline stopped")
	return nil
}

// Close stops the pipeline for good. Resets after Close do nothing.
func (b *builtIn) Close(ctx context.Context) error {
	err := b.Stop(ctx)
	b.lifecycleMu.Lock()
	b.closed = true
	b.lifecycleMu.Unlock()
	return err
}

func (b *builtIn) Running() bool {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()
	return b.workers != nil
}

func (b *builtIn) Reset(ctx context.Context) {
	b.lifecycleMu.Lock()
	closed := b.closed
	b.lifecycleMu.Unlock()
	if closed {
		return
	}

	// the tracker goes first so a cycle that sees the new generation cannot match against
	// features cached before the reset
	b.tracker.Reset()
	b.state.reset()
	if b.imu != nil {
		b.imu.MarkYawReference()
	}
	b.logger.Debug("slam state reset")
}

func (b *builtIn) Position(ctx context.Context) slam.Pose {
	return b.state.position()
}

func (b *builtIn) MapData(ctx context.Context) slam.MapData {
	return b.state.mapData()
}

func (b *builtIn) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		wait := b.period
		if !b.cycle(ctx) {
			wait = b.idleRetry
		}
		if !goutils.SelectContextOrWait(ctx, wait) {
			return
		}
	}
}

// cycle runs one frame through the pipeline. It returns false only when there was no frame to
// process.
func (b *builtIn) cycle(ctx context.Context) bool {
	frame, ok := b.frames.LatestFrame(ctx)
	if !ok {
		return false
	}

	ctx, span := trace.StartSpan(ctx, "slam::builtIn::cycle")
	defer span.End()

	generation := b.state.currentGeneration()
	correspondences, err := b.tracker.Track(ctx, frame)
	if err != nil {
		b.logger.Debugw("feature tracking failed", "error", err)
		return true
	}
	if motion, ok := odometry.EstimateMotion(correspondences); ok {
		var sample inertial.Sample
		var inertialOK bool
		if b.imu != nil {
			sample, inertialOK = b.imu.Snapshot()
		}
		if !b.state.apply(generation, motion, sample, inertialOK) {
			b.logger.Debug("dropping motion estimate computed before reset")
		}
	}

	if b.rand.Float64() < b.saveProb {
		b.save(ctx)
	}
	return true
}

// save writes a snapshot of the map. Failures are logged and otherwise ignored.
func (b *builtIn) save(ctx context.Context) {
	if b.dataPath == "" {
		return
	}
	_, span := trace.StartSpan(ctx, "slam::builtIn::save")
	defer span.End()

	data, err := json.Marshal(b.state.mapData())
	if err != nil {
		b.logger.Warnw("cannot encode map data", "error", err)
		return
	}
	if err := utils.WriteFileAtomic(b.dataPath, data); err != nil {
		b.logger.Warnw("cannot save map data", "path", b.dataPath, "error", err)
	}
}
