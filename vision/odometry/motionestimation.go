// Package odometry estimates the frame to frame motion of a monocular camera from matched
// keypoints. The estimate is a plain least squares fit over the best matches with no outlier
// rejection, so it is only as good as the top matches are.
package odometry

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	// MinMatches is the fewest matches between two frames for which motion is estimated.
	MinMatches = 10
	// TopK is how many of the best matches the transform is fitted to.
	TopK = 10
	// minFitPoints is the fewest correspondences the partial affine fit accepts.
	minFitPoints = 4
)

// Correspondence is a keypoint seen in the previous and current frame.
type Correspondence struct {
	Prev     r2.Point
	Curr     r2.Point
	Distance int
}

// Motion2D is the incremental camera motion between two frames, in pixels and radians.
type Motion2D struct {
	Dx, Dy float64
	Da     float64
	// Scale is the uniform scale of the fitted transform; near 1 when the distance to the scene
	// does not change.
	Scale float64
}

// EstimatePartialAffine fits the 2x3 transform [[a, -b, tx], [b, a, ty]] (rotation, uniform scale
// and translation, no shear) mapping prev onto curr in the least squares sense.
func EstimatePartialAffine(prev, curr []r2.Point) (*mat.Dense, error) {
	if len(prev) != len(curr) {
		return nil, errors.Errorf("point sets differ in size: %d and %d", len(prev), len(curr))
	}
	n := len(prev)
	if n < minFitPoints {
		return nil, errors.Errorf("need at least %d correspondences, got %d", minFitPoints, n)
	}
	// each correspondence gives two rows:
	//   x' = a*x - b*y + tx
	//   y' = b*x + a*y + ty
	a := mat.NewDense(2*n, 4, nil)
	b := mat.NewVecDense(2*n, nil)
	for i := 0; i < n; i++ {
		p, q := prev[i], curr[i]
		a.SetRow(2*i, []float64{p.X, -p.Y, 1, 0})
		a.SetRow(2*i+1, []float64{p.Y, p.X, 0, 1})
		b.SetVec(2*i, q.X)
		b.SetVec(2*i+1, q.Y)
	}
	var params mat.VecDense
	if err := params.SolveVec(a, b); err != nil {
		return nil, errors.Wrap(err, "partial affine fit failed")
	}
	pa, pb, tx, ty := params.AtVec(0), params.AtVec(1), params.AtVec(2), params.AtVec(3)
	for _, v := range []float64{pa, pb, tx, ty} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.New("partial affine fit is degenerate")
		}
	}
	if pa == 0 && pb == 0 {
		return nil, errors.New("partial affine fit collapsed to zero scale")
	}
	return mat.NewDense(2, 3, []float64{
		pa, -pb, tx,
		pb, pa, ty,
	}), nil
}

// EstimateMotion fits the motion to the best TopK correspondences, which must already be sorted
// by ascending match distance. It reports false, without error, when there are fewer than
// MinMatches correspondences or the fit fails.
func EstimateMotion(correspondences []Correspondence) (Motion2D, bool) {
	if len(correspondences) < MinMatches {
		return Motion2D{}, false
	}
	k := min(TopK, len(correspondences))
	prev := make([]r2.Point, k)
	curr := make([]r2.Point, k)
	for i, c := range correspondences[:k] {
		prev[i] = c.Prev
		curr[i] = c.Curr
	}
	m, err := EstimatePartialAffine(prev, curr)
	if err != nil {
		return Motion2D{}, false
	}
	return MotionFromAffine(m), true
}

// MotionFromAffine extracts the translation, rotation and scale of a partial affine matrix.
func MotionFromAffine(m mat.Matrix) Motion2D {
	return Motion2D{
		Dx:    m.At(0, 2),
		Dy:    m.At(1, 2),
		Da:    math.Atan2(m.At(1, 0), m.At(0, 0)),
		Scale: math.Hypot(m.At(0, 0), m.At(1, 0)),
	}
}

// convertImagePointToFloatPoint is a helper to convert an image.Point to an r2.Point.
func convertImagePointToFloatPoint(pt image.Point) r2.Point {
	return r2.Point{X: float64(pt.X), Y: float64(pt.Y)}
}
