// Package keypoints detects and describes sparse image features (ORB: oriented FAST corners with
// rotated BRIEF descriptors) and matches them between frames.
package keypoints

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
)

// KeyPoints is a set of keypoint locations in image coordinates.
type KeyPoints []image.Point

// FASTKeypoints contains keypoints and, when computed, their orientations in radians.
type FASTKeypoints struct {
	Points       KeyPoints
	Orientations []float64
}

// IsOriented returns true if the keypoints carry orientations.
func (kps *FASTKeypoints) IsOriented() bool {
	return kps.Orientations != nil
}

// A Detector finds keypoints in an image and computes a descriptor for each.
type Detector interface {
	DetectAndDescribe(img *image.Gray) (KeyPoints, Descriptors, error)
}

// A Matcher pairs descriptors of two images, best match first.
type Matcher interface {
	Match(desc1, desc2 Descriptors) []DescriptorMatch
}

// ToGray converts any image into a grayscale image with its origin at (0, 0).
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	nrgba := imaging.Grayscale(img)
	bounds := nrgba.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(gray, gray.Bounds(), nrgba, bounds.Min, draw.Src)
	return gray
}

// maskOrientation is the circular patch of radius 15 over which the intensity centroid is taken.
var maskOrientation = computeMaskOrientationFAST()

func computeMaskOrientationFAST() *image.Gray {
	mask := image.NewGray(image.Rect(0, 0, 31, 31))
	halfWidths := []int{15, 15, 15, 15, 14, 14, 14, 13, 13, 12, 11, 10, 9, 8, 6, 3}
	for i := -15; i < 16; i++ {
		hw := halfWidths[int(math.Abs(float64(i)))]
		for j := -hw; j < hw+1; j++ {
			mask.SetGray(j+15, i+15, color.Gray{1})
		}
	}
	return mask
}

// computeKeypointsOrientations returns the angle from each keypoint to the intensity centroid of
// the patch around it. Pixels outside the image count as black.
func computeKeypointsOrientations(img *image.Gray, kps KeyPoints) []float64 {
	const half = 15
	bounds := img.Bounds()
	orientations := make([]float64, len(kps))
	for i, kp := range kps {
		m01, m10 := 0, 0
		for y := -half; y <= half; y++ {
			rowSum := 0
			for x := -half; x <= half; x++ {
				if maskOrientation.GrayAt(x+half, y+half).Y == 0 {
					continue
				}
				p := image.Point{kp.X + x, kp.Y + y}
				if !p.In(bounds) {
					continue
				}
				v := int(img.GrayAt(p.X, p.Y).Y)
				m10 += v * x
				rowSum += v
			}
			m01 += rowSum * y
		}
		orientations[i] = math.Atan2(float64(m01), float64(m10))
	}
	return orientations
}

// RescaleKeypoints multiplies keypoint coordinates by scale.
func RescaleKeypoints(kps KeyPoints, scale float64) KeyPoints {
	out := make(KeyPoints, len(kps))
	for i, kp := range kps {
		out[i] = image.Point{
			X: int(math.Round(float64(kp.X) * scale)),
			Y: int(math.Round(float64(kp.Y) * scale)),
		}
	}
	return out
}
