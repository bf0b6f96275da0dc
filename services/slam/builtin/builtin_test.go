package builtin

import (
	"context"
	"encoding/json"
	"image"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/picar-labs/rover/services/slam"
	"github.com/picar-labs/rover/services/slam/inertial"
	"github.com/picar-labs/rover/utils"
	"github.com/picar-labs/rover/vision/odometry"
)

// fixedRand always draws the same values, so with f=0 every probabilistic branch is taken.
type fixedRand struct {
	f, n float64
}

func (r fixedRand) Float64() float64     { return r.f }
func (r fixedRand) NormFloat64() float64 { return r.n }

type staticFrames struct {
	mu    sync.Mutex
	frame image.Image
}

func (s *staticFrames) LatestFrame(ctx context.Context) (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.frame != nil
}

func (s *staticFrames) set(img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = img
}

// scriptedTracker returns the same correspondences for every frame. If gate is set, Track waits on
// it before returning and signals entered when it starts.
type scriptedTracker struct {
	mu              sync.Mutex
	correspondences []odometry.Correspondence
	resets          int
	entered         chan struct{}
	gate            chan struct{}
	onReset         func()
}

func (s *scriptedTracker) Track(ctx context.Context, frame image.Image) ([]odometry.Correspondence, error) {
	if s.gate != nil {
		s.entered <- struct{}{}
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]odometry.Correspondence{}, s.correspondences...), nil
}

func (s *scriptedTracker) Reset() {
	if s.onReset != nil {
		s.onReset()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

type stubInertial struct {
	mu        sync.Mutex
	sample    inertial.Sample
	ok        bool
	refMarked int
}

func (s *stubInertial) Snapshot() (inertial.Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sample, s.ok
}

func (s *stubInertial) MarkYawReference() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refMarked++
}

func shifted(n int, dx, dy float64) []odometry.Correspondence {
	out := make([]odometry.Correspondence, n)
	for i := range out {
		p := r2.Point{X: float64(30 + 17*i%250), Y: float64(20 + 23*i%190)}
		out[i] = odometry.Correspondence{Prev: p, Curr: r2.Point{X: p.X + dx, Y: p.Y + dy}, Distance: i}
	}
	return out
}

func frame() image.Image {
	return image.NewGray(image.Rect(0, 0, 32, 24))
}

func newTestService(t *testing.T, cfg *Config, tracker FeatureTracker, imu InertialSource) (*builtIn, *staticFrames) {
	t.Helper()
	frames := &staticFrames{frame: frame()}
	svc, err := New(cfg, frames, imu, golog.NewTestLogger(t), WithTracker(tracker), WithRand(fixedRand{f: 0.5}))
	test.That(t, err, test.ShouldBeNil)
	return svc.(*builtIn), frames
}

func probability(p float64) *float64 {
	return &p
}

func flat() inertial.Sample {
	return inertial.Sample{Acceleration: r3.Vector{Z: 1}}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	test.That(t, cfg.Validate("slam"), test.ShouldBeNil)
	conf := cfg.withDefaults()
	test.That(t, conf.PeriodMs, test.ShouldEqual, 50)
	test.That(t, conf.MaxMapPoints, test.ShouldEqual, 1000)
	test.That(t, *conf.SaveProbability, test.ShouldEqual, 0.05)
	test.That(t, *conf.MapPointProbability, test.ShouldEqual, 0.1)

	cfg.MapPointProbability = probability(1.5)
	test.That(t, cfg.Validate("slam"), test.ShouldNotBeNil)
	cfg = Config{PeriodMs: -1}
	test.That(t, cfg.Validate("slam"), test.ShouldNotBeNil)
	cfg = Config{SaveProbability: probability(-0.1)}
	test.That(t, cfg.Validate("slam"), test.ShouldNotBeNil)

	var parsed Config
	test.That(t, json.Unmarshal([]byte(`{"map_point_probability": 0, "save_probability": 0}`), &parsed), test.ShouldBeNil)
	test.That(t, parsed.Validate("slam"), test.ShouldBeNil)
	conf = parsed.withDefaults()
	test.That(t, *conf.MapPointProbability, test.ShouldEqual, 0)
	test.That(t, *conf.SaveProbability, test.ShouldEqual, 0)
}

func TestZeroProbabilitiesDisableMapAndSnapshots(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "map_data.json")
	tracker := &scriptedTracker{correspondences: shifted(12, 5, 0)}
	svc, _ := newTestService(t, &Config{
		DataPath:            path,
		MapPointProbability: probability(0),
		SaveProbability:     probability(0),
	}, tracker, nil)
	svc.rand = fixedRand{}
	svc.state.rand = fixedRand{}

	for i := 0; i < 5; i++ {
		test.That(t, svc.cycle(ctx), test.ShouldBeTrue)
	}
	md := svc.MapData(ctx)
	test.That(t, md.Trajectory, test.ShouldHaveLength, 5)
	test.That(t, md.Points, test.ShouldBeEmpty)
	_, err := os.Stat(path)
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
}

func TestTranslationFromFourPoints(t *testing.T) {
	prev := []r2.Point{{X: 10, Y: 10}, {X: 60, Y: 10}, {X: 60, Y: 40}, {X: 10, Y: 40}}
	curr := make([]r2.Point, len(prev))
	for i, p := range prev {
		curr[i] = r2.Point{X: p.X + 5, Y: p.Y}
	}
	m, err := odometry.EstimatePartialAffine(prev, curr)
	test.That(t, err, test.ShouldBeNil)
	motion := odometry.MotionFromAffine(m)

	st := newStateStore(1000, 0.1, fixedRand{f: 1})
	test.That(t, st.apply(st.currentGeneration(), motion, flat(), true), test.ShouldBeTrue)

	pose := st.position()
	test.That(t, pose.Position.X, test.ShouldAlmostEqual, 0.05, 1e-9)
	test.That(t, pose.Position.Y, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, pose.Orientation.Yaw, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, st.mapData().Trajectory, test.ShouldHaveLength, 1)
}

func TestFusionBlendsInertialYaw(t *testing.T) {
	st := newStateStore(1000, 0, fixedRand{f: 1})
	sample := flat()

	// the first update after a reset has no inertial reference, so only vision counts
	st.apply(st.currentGeneration(), odometry.Motion2D{Da: utils.DegToRad(10)}, sample, true)
	test.That(t, st.position().Orientation.Yaw, test.ShouldAlmostEqual, 7, 1e-9)

	sample.RelativeYaw = 20
	st.apply(st.currentGeneration(), odometry.Motion2D{}, sample, true)
	test.That(t, st.position().Orientation.Yaw, test.ShouldAlmostEqual, 13, 1e-9)

	// turning right past zero wraps the heading
	sample.RelativeYaw = -80
	st.apply(st.currentGeneration(), odometry.Motion2D{Da: utils.DegToRad(-20)}, sample, true)
	test.That(t, st.position().Orientation.Yaw, test.ShouldAlmostEqual, 13-14-30+360, 1e-9)
}

func TestFusionTakesRollPitchFromInertial(t *testing.T) {
	st := newStateStore(1000, 0, fixedRand{f: 1})
	sample := flat()
	sample.Orientation = slam.Orientation{Roll: 3, Pitch: -4, Yaw: 100}
	st.apply(st.currentGeneration(), odometry.Motion2D{}, sample, true)
	o := st.position().Orientation
	test.That(t, o.Roll, test.ShouldEqual, 3.0)
	test.That(t, o.Pitch, test.ShouldEqual, -4.0)
	test.That(t, o.Yaw, test.ShouldEqual, 0.0)
}

func TestFusionRotatesIntoWorldFrame(t *testing.T) {
	st := newStateStore(1000, 0, fixedRand{f: 1})
	st.apply(st.currentGeneration(), odometry.Motion2D{Dx: 10, Da: math.Pi / 2}, inertial.Sample{}, false)
	pose := st.position()
	test.That(t, pose.Orientation.Yaw, test.ShouldAlmostEqual, 90, 1e-9)
	test.That(t, pose.Position.X, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, pose.Position.Y, test.ShouldAlmostEqual, 0.1, 1e-9)
}

func TestYawStaysInRange(t *testing.T) {
	r := utils.NewLockedRand(7)
	st := newStateStore(1000, 0, r)
	sample := flat()
	for i := 0; i < 2000; i++ {
		sample.RelativeYaw += (r.Float64() - 0.5) * 720
		motion := odometry.Motion2D{Dx: 1, Da: (r.Float64() - 0.5) * 4 * math.Pi}
		st.apply(st.currentGeneration(), motion, sample, i%3 != 0)
		yaw := st.position().Orientation.Yaw
		test.That(t, yaw, test.ShouldBeGreaterThanOrEqualTo, 0)
		test.That(t, yaw, test.ShouldBeLessThan, 360)
	}
}

func TestMapGrowthIsCapped(t *testing.T) {
	st := newStateStore(1000, 0.1, fixedRand{f: 0, n: 1})
	last := 0
	for i := 0; i < 1500; i++ {
		st.apply(st.currentGeneration(), odometry.Motion2D{Dx: 1}, inertial.Sample{}, false)
		n := len(st.mapData().Points)
		test.That(t, n, test.ShouldBeGreaterThanOrEqualTo, last)
		test.That(t, n, test.ShouldBeLessThanOrEqualTo, 1000)
		last = n
	}
	md := st.mapData()
	test.That(t, md.Points, test.ShouldHaveLength, 1000)
	test.That(t, md.Trajectory, test.ShouldHaveLength, 1500)

	// points are jittered around the position at the time they were added
	first := md.Points[0]
	test.That(t, first.X, test.ShouldAlmostEqual, md.Trajectory[0].X+0.5, 1e-9)
	test.That(t, first.Z, test.ShouldAlmostEqual, 0.2, 1e-9)
}

func TestMapGrowthProbability(t *testing.T) {
	st := newStateStore(1000, 0.1, fixedRand{f: 0.1})
	st.apply(st.currentGeneration(), odometry.Motion2D{Dx: 1}, inertial.Sample{}, false)
	test.That(t, st.mapData().Points, test.ShouldBeEmpty)

	st = newStateStore(1000, 0.1, fixedRand{f: 0.09})
	st.apply(st.currentGeneration(), odometry.Motion2D{Dx: 1}, inertial.Sample{}, false)
	test.That(t, st.mapData().Points, test.ShouldHaveLength, 5)
}

func TestCopiesAreIndependent(t *testing.T) {
	st := newStateStore(1000, 1, fixedRand{})
	st.apply(st.currentGeneration(), odometry.Motion2D{Dx: 1}, inertial.Sample{}, false)
	md := st.mapData()
	md.Points[0].X = 1000
	md.Trajectory[0].X = 1000
	test.That(t, st.mapData().Points[0].X, test.ShouldNotEqual, 1000.0)
	test.That(t, st.mapData().Trajectory[0].X, test.ShouldNotEqual, 1000.0)
}

func TestCycle(t *testing.T) {
	tracker := &scriptedTracker{correspondences: shifted(12, 5, 0)}
	svc, frames := newTestService(t, nil, tracker, nil)
	ctx := context.Background()

	test.That(t, svc.cycle(ctx), test.ShouldBeTrue)
	pose := svc.Position(ctx)
	test.That(t, pose.Position.X, test.ShouldAlmostEqual, 0.05, 1e-9)
	test.That(t, svc.MapData(ctx).Trajectory, test.ShouldHaveLength, 1)

	frames.set(nil)
	test.That(t, svc.cycle(ctx), test.ShouldBeFalse)
	test.That(t, svc.MapData(ctx).Trajectory, test.ShouldHaveLength, 1)
}

func TestTooFewMatchesLeavesStateAlone(t *testing.T) {
	tracker := &scriptedTracker{correspondences: shifted(odometry.MinMatches-1, 5, 0)}
	svc, _ := newTestService(t, nil, tracker, &stubInertial{sample: flat(), ok: true})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		test.That(t, svc.cycle(ctx), test.ShouldBeTrue)
	}
	test.That(t, svc.Position(ctx), test.ShouldResemble, slam.Pose{})
	md := svc.MapData(ctx)
	test.That(t, md.Points, test.ShouldBeEmpty)
	test.That(t, md.Trajectory, test.ShouldBeEmpty)
}

func TestDegradesWithoutInertial(t *testing.T) {
	ctx := context.Background()
	motion := shifted(12, 0, 0)

	for _, tc := range []struct {
		name string
		imu  InertialSource
	}{
		{"no sensor", nil},
		{"sensor down", &stubInertial{sample: inertial.Sample{RelativeYaw: 90}, ok: false}},
		{"integrator without sensor", inertial.NewIntegrator(nil, 0, nil, golog.NewTestLogger(t))},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tracker := &scriptedTracker{correspondences: motion}
			svc, _ := newTestService(t, nil, tracker, tc.imu)
			test.That(t, svc.cycle(ctx), test.ShouldBeTrue)
			test.That(t, svc.cycle(ctx), test.ShouldBeTrue)
			test.That(t, svc.Position(ctx).Orientation, test.ShouldResemble, slam.Orientation{})
			test.That(t, svc.MapData(ctx).Trajectory, test.ShouldHaveLength, 2)
			svc.Reset(ctx)
			test.That(t, svc.Position(ctx), test.ShouldResemble, slam.Pose{})
		})
	}
}

func TestReset(t *testing.T) {
	imu := &stubInertial{sample: flat(), ok: true}
	tracker := &scriptedTracker{correspondences: shifted(12, 3, 4)}
	svc, _ := newTestService(t, &Config{MapPointProbability: probability(1)}, tracker, imu)
	svc.rand = fixedRand{}
	svc.state.rand = fixedRand{}
	ctx := context.Background()

	svc.cycle(ctx)
	svc.cycle(ctx)
	test.That(t, svc.MapData(ctx).Points, test.ShouldNotBeEmpty)

	svc.Reset(ctx)
	zeroPose := svc.Position(ctx)
	zeroMap := svc.MapData(ctx)
	test.That(t, zeroPose, test.ShouldResemble, slam.Pose{})
	test.That(t, zeroMap.Points, test.ShouldBeEmpty)
	test.That(t, zeroMap.Trajectory, test.ShouldBeEmpty)
	test.That(t, tracker.resets, test.ShouldEqual, 1)
	test.That(t, imu.refMarked, test.ShouldEqual, 1)

	svc.Reset(ctx)
	test.That(t, svc.Position(ctx), test.ShouldResemble, zeroPose)
	test.That(t, svc.MapData(ctx), test.ShouldResemble, zeroMap)

	test.That(t, svc.Close(ctx), test.ShouldBeNil)
	svc.state.apply(svc.state.currentGeneration(), odometry.Motion2D{Dx: 1}, inertial.Sample{}, false)
	svc.Reset(ctx)
	test.That(t, svc.MapData(ctx).Trajectory, test.ShouldHaveLength, 1)
	test.That(t, tracker.resets, test.ShouldEqual, 2)
}

func TestResetRacingCycle(t *testing.T) {
	ctx := context.Background()

	t.Run("reset while tracking", func(t *testing.T) {
		tracker := &scriptedTracker{
			correspondences: shifted(12, 5, 0),
			entered:         make(chan struct{}),
			gate:            make(chan struct{}),
		}
		svc, _ := newTestService(t, nil, tracker, nil)

		done := make(chan bool)
		go func() { done <- svc.cycle(ctx) }()
		<-tracker.entered
		svc.Reset(ctx)
		close(tracker.gate)
		test.That(t, <-done, test.ShouldBeTrue)

		test.That(t, svc.Position(ctx), test.ShouldResemble, slam.Pose{})
		test.That(t, svc.MapData(ctx).Trajectory, test.ShouldBeEmpty)
	})

	t.Run("reset before tracking", func(t *testing.T) {
		tracker := &scriptedTracker{correspondences: shifted(12, 5, 0)}
		svc, _ := newTestService(t, nil, tracker, nil)
		svc.cycle(ctx)
		svc.Reset(ctx)
		svc.cycle(ctx)

		test.That(t, svc.Position(ctx).Position.X, test.ShouldAlmostEqual, 0.05, 1e-9)
		test.That(t, svc.MapData(ctx).Trajectory, test.ShouldHaveLength, 1)
	})

	t.Run("tracker cleared before generation moves", func(t *testing.T) {
		tracker := &scriptedTracker{correspondences: shifted(12, 5, 0)}
		svc, _ := newTestService(t, nil, tracker, nil)
		before := svc.state.currentGeneration()
		var seen uint64
		tracker.onReset = func() { seen = svc.state.currentGeneration() }

		svc.Reset(ctx)
		test.That(t, seen, test.ShouldEqual, before)
		test.That(t, svc.state.currentGeneration(), test.ShouldNotEqual, before)
	})

	t.Run("concurrent", func(t *testing.T) {
		tracker := &scriptedTracker{correspondences: shifted(12, 5, 0)}
		svc, _ := newTestService(t, &Config{PeriodMs: 1, IdleRetryMs: 1}, tracker, nil)
		test.That(t, svc.Start(ctx), test.ShouldBeNil)
		defer func() { test.That(t, svc.Stop(ctx), test.ShouldBeNil) }()

		for i := 0; i < 50; i++ {
			svc.Reset(ctx)
			md := svc.MapData(ctx)
			pose := svc.Position(ctx)
			// every trajectory entry is a whole number of 5px steps
			for j, p := range md.Trajectory {
				test.That(t, p.X, test.ShouldAlmostEqual, 0.05*float64(j+1), 1e-9)
			}
			steps := math.Round(pose.Position.X / 0.05)
			test.That(t, pose.Position.X, test.ShouldAlmostEqual, steps*0.05, 1e-9)
		}
	})
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)

	noFrames, err := New(nil, nil, nil, logger, WithTracker(&scriptedTracker{}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, noFrames.Start(ctx), test.ShouldEqual, slam.ErrNoFrameSource)
	test.That(t, noFrames.Running(), test.ShouldBeFalse)

	_, err = New(&Config{SaveProbability: probability(2)}, &staticFrames{}, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)

	tracker := &scriptedTracker{correspondences: shifted(12, 5, 0)}
	svc, _ := newTestService(t, &Config{PeriodMs: 1}, tracker, nil)
	test.That(t, svc.Stop(ctx), test.ShouldBeNil)
	test.That(t, svc.Start(ctx), test.ShouldBeNil)
	test.That(t, svc.Start(ctx), test.ShouldBeNil)
	test.That(t, svc.Running(), test.ShouldBeTrue)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, len(svc.MapData(ctx).Trajectory), test.ShouldBeGreaterThan, 2)
	})

	// reset keeps it running
	svc.Reset(ctx)
	test.That(t, svc.Running(), test.ShouldBeTrue)

	test.That(t, svc.Stop(ctx), test.ShouldBeNil)
	test.That(t, svc.Stop(ctx), test.ShouldBeNil)
	test.That(t, svc.Running(), test.ShouldBeFalse)

	test.That(t, svc.Start(ctx), test.ShouldBeNil)
	test.That(t, svc.Close(ctx), test.ShouldBeNil)
	test.That(t, svc.Start(ctx), test.ShouldNotBeNil)
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "map_data.json")
	tracker := &scriptedTracker{correspondences: shifted(12, 5, 0)}
	svc, _ := newTestService(t, &Config{DataPath: path, SaveProbability: probability(1), MapPointProbability: probability(1), PeriodMs: 1}, tracker, nil)
	svc.rand = fixedRand{}
	svc.state.rand = fixedRand{}

	svc.cycle(ctx)
	raw, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	var saved slam.MapData
	test.That(t, json.Unmarshal(raw, &saved), test.ShouldBeNil)
	test.That(t, saved, test.ShouldResemble, svc.MapData(ctx))
	test.That(t, saved.Points, test.ShouldHaveLength, 5)

	t.Run("final snapshot on stop", func(t *testing.T) {
		svc.saveProb = 0
		test.That(t, svc.Start(ctx), test.ShouldBeNil)
		testutils.WaitForAssertion(t, func(tb testing.TB) {
			tb.Helper()
			test.That(tb, len(svc.MapData(ctx).Trajectory), test.ShouldBeGreaterThan, 3)
		})
		test.That(t, svc.Stop(ctx), test.ShouldBeNil)

		raw, err := os.ReadFile(path)
		test.That(t, err, test.ShouldBeNil)
		var final slam.MapData
		test.That(t, json.Unmarshal(raw, &final), test.ShouldBeNil)
		test.That(t, final, test.ShouldResemble, svc.MapData(ctx))
	})
}

func TestPersistenceFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	blocker := filepath.Join(t.TempDir(), "file")
	test.That(t, os.WriteFile(blocker, []byte("x"), 0o600), test.ShouldBeNil)

	logger, logs := golog.NewObservedTestLogger(t)
	tracker := &scriptedTracker{correspondences: shifted(12, 5, 0)}
	svcIfc, err := New(&Config{DataPath: filepath.Join(blocker, "map.json"), SaveProbability: probability(1)},
		&staticFrames{frame: frame()}, nil, logger, WithTracker(tracker), WithRand(fixedRand{}))
	test.That(t, err, test.ShouldBeNil)
	svc := svcIfc.(*builtIn)

	test.That(t, svc.cycle(ctx), test.ShouldBeTrue)
	test.That(t, svc.cycle(ctx), test.ShouldBeTrue)
	test.That(t, svc.MapData(ctx).Trajectory, test.ShouldHaveLength, 2)
	test.That(t, logs.FilterMessageSnippet("cannot save map data").Len(), test.ShouldEqual, 2)
}
