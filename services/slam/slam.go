// Package slam defines the rover's localization and mapping service: a running pose estimate and a
// sparse landmark map built from camera frames and inertial samples.
package slam

import (
	"context"
	"encoding/json"
	"image"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ErrNoFrameSource is returned when the pipeline is started without a camera to read from.
var ErrNoFrameSource = errors.New("slam: no frame source configured")

// Orientation is roll, pitch and yaw in degrees.
type Orientation struct {
	Roll  float64
	Pitch float64
	Yaw   float64
}

// Pose is where the rover thinks it is. Position is in map units.
type Pose struct {
	Position    r3.Vector
	Orientation Orientation
}

// MarshalJSON encodes the pose as {"position":[x,y,z],"orientation":[roll,pitch,yaw]}.
func (p Pose) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Position    [3]float64 `json:"position"`
		Orientation [3]float64 `json:"orientation"`
	}{
		Position:    vectorToArray(p.Position),
		Orientation: [3]float64{p.Orientation.Roll, p.Orientation.Pitch, p.Orientation.Yaw},
	})
}

// MapData is the landmark point cloud together with the trajectory that produced it.
type MapData struct {
	Points     []r3.Vector
	Trajectory []r3.Vector
}

type mapDataJSON struct {
	Points     [][3]float64 `json:"points"`
	Trajectory [][3]float64 `json:"trajectory"`
}

// MarshalJSON encodes the map as {"points":[[x,y,z],...],"trajectory":[[x,y,z],...]}. Empty maps
// encode as empty arrays, never null.
func (md MapData) MarshalJSON() ([]byte, error) {
	out := mapDataJSON{
		Points:     make([][3]float64, 0, len(md.Points)),
		Trajectory: make([][3]float64, 0, len(md.Trajectory)),
	}
	for _, p := range md.Points {
		out.Points = append(out.Points, vectorToArray(p))
	}
	for _, p := range md.Trajectory {
		out.Trajectory = append(out.Trajectory, vectorToArray(p))
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the format written by MarshalJSON.
func (md *MapData) UnmarshalJSON(data []byte) error {
	var in mapDataJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	md.Points = make([]r3.Vector, 0, len(in.Points))
	for _, p := range in.Points {
		md.Points = append(md.Points, r3.Vector{X: p[0], Y: p[1], Z: p[2]})
	}
	md.Trajectory = make([]r3.Vector, 0, len(in.Trajectory))
	for _, p := range in.Trajectory {
		md.Trajectory = append(md.Trajectory, r3.Vector{X: p[0], Y: p[1], Z: p[2]})
	}
	return nil
}

func vectorToArray(v r3.Vector) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

// A FrameSource hands out the most recent camera frame without waiting for a new one. ok is false
// when no frame has been captured yet.
type FrameSource interface {
	LatestFrame(ctx context.Context) (image.Image, bool)
}

// A Service estimates the rover's pose and accumulates a map. Position and MapData may be called
// from any goroutine at any time and return copies that the caller owns.
type Service interface {
	// Start launches the processing loop. Starting a running service does nothing.
	Start(ctx context.Context) error
	// Stop waits for the current cycle to finish and ends the loop. Stopping a stopped service
	// does nothing.
	Stop(ctx context.Context) error
	// Reset clears the pose, trajectory, map and cached frame features.
	Reset(ctx context.Context)
	Position(ctx context.Context) Pose
	MapData(ctx context.Context) MapData
	Running() bool
	// Close stops the service for good.
	Close(ctx context.Context) error
}
