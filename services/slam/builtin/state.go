package builtin

import (
	"math"
	"sync"

	"github.com/golang/geo/r3"

	"github.com/picar-labs/rover/services/slam"
	"github.com/picar-labs/rover/services/slam/inertial"
	"github.com/picar-labs/rover/utils"
	"github.com/picar-labs/rover/vision/odometry"
)

const (
	// translationScale converts image pixels into map units.
	translationScale = 0.01
	visualWeight     = 0.7
	inertialWeight   = 1 - visualWeight

	pointsPerGrowth = 5
	pointSigmaXY    = 0.5
	pointSigmaZ     = 0.2
)

// stateStore holds everything the pipeline produces. Every field is guarded by mu and leaves the
// store only as a copy.
type stateStore struct {
	mu         sync.Mutex
	pose       slam.Pose
	trajectory []r3.Vector
	points     []r3.Vector

	// relative inertial yaw, in radians, at the last pose update
	prevInertialYaw  float64
	haveInertialYaw  bool
	generation       uint64
	maxPoints        int
	pointProbability float64
	rand             utils.Rand
}

func newStateStore(maxPoints int, pointProbability float64, rand utils.Rand) *stateStore {
	return &stateStore{maxPoints: maxPoints, pointProbability: pointProbability, rand: rand}
}

// currentGeneration identifies the state a cycle starts from. Updates computed against an older
// generation are dropped.
func (st *stateStore) currentGeneration() uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.generation
}

// reset clears the pose, trajectory and map.
func (st *stateStore) reset() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.pose = slam.Pose{}
	st.trajectory = nil
	st.points = nil
	st.prevInertialYaw = 0
	st.haveInertialYaw = false
	st.generation++
}

// apply fuses one motion estimate into the pose and grows the map. It reports false, changing
// nothing, when the state has been reset since generation was read.
func (st *stateStore) apply(generation uint64, motion odometry.Motion2D, sample inertial.Sample, inertialOK bool) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if generation != st.generation {
		return false
	}
	st.fuse(motion, sample, inertialOK)
	st.grow()
	return true
}

// fuse blends the visual rotation with the inertial yaw change since the last update, then moves
// the position along the camera translation rotated by the new heading.
func (st *stateStore) fuse(motion odometry.Motion2D, sample inertial.Sample, inertialOK bool) {
	da := motion.Da
	if inertialOK {
		yaw := utils.DegToRad(sample.RelativeYaw)
		var inertialDelta float64
		if st.haveInertialYaw {
			inertialDelta = utils.WrapRad(yaw - st.prevInertialYaw)
		}
		da = visualWeight*motion.Da + inertialWeight*inertialDelta
		st.prevInertialYaw = yaw
		st.haveInertialYaw = true

		st.pose.Orientation.Roll = sample.Orientation.Roll
		st.pose.Orientation.Pitch = sample.Orientation.Pitch
	}

	st.pose.Orientation.Yaw = utils.ModAngDeg(st.pose.Orientation.Yaw + utils.RadToDeg(da))

	angle := utils.DegToRad(st.pose.Orientation.Yaw)
	sin, cos := math.Sincos(angle)
	dxWorld := motion.Dx*cos - motion.Dy*sin
	dyWorld := motion.Dx*sin + motion.Dy*cos
	st.pose.Position.X += dxWorld * translationScale
	st.pose.Position.Y += dyWorld * translationScale

	st.trajectory = append(st.trajectory, st.pose.Position)
}

// grow sometimes scatters a handful of landmark points around the current position. The map never
// holds more than maxPoints and nothing is evicted.
func (st *stateStore) grow() {
	if len(st.points) >= st.maxPoints || st.rand.Float64() >= st.pointProbability {
		return
	}
	center := st.pose.Position
	for i := 0; i < pointsPerGrowth && len(st.points) < st.maxPoints; i++ {
		st.points = append(st.points, r3.Vector{
			X: center.X + st.rand.NormFloat64()*pointSigmaXY,
			Y: center.Y + st.rand.NormFloat64()*pointSigmaXY,
			Z: center.Z + st.rand.NormFloat64()*pointSigmaZ,
		})
	}
}

func (st *stateStore) position() slam.Pose {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.pose
}

func (st *stateStore) mapData() slam.MapData {
	st.mu.Lock()
	defer st.mu.Unlock()
	return slam.MapData{
		Points:     append([]r3.Vector{}, st.points...),
		Trajectory: append([]r3.Vector{}, st.trajectory...),
	}
}
