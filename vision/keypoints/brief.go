package keypoints

import (
	"image"
	"math"
	"math/rand"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// SamplingType chooses how BRIEF test locations are drawn inside the patch.
type SamplingType int

const (
	uniform SamplingType = iota
	normal
	fixed
)

// briefBlurSigma is the Gaussian pre-smoothing applied before the binary tests.
const briefBlurSigma = 2.0

type (
	// Descriptor is a binary descriptor packed 64 tests per word.
	Descriptor []uint64
	// Descriptors is one Descriptor per keypoint.
	Descriptors []Descriptor
)

// SamplePairs are N pairs of offsets used to create the BRIEF descriptor of a patch.
type SamplePairs struct {
	P0 []image.Point
	P1 []image.Point
	N  int
}

// GenerateSamplePairs draws n test pairs for the patch size. The same seed always gives the same
// pairs, which every frame of a session must share for descriptors to be comparable.
func GenerateSamplePairs(dist SamplingType, n, patchSize int, seed int64) *SamplePairs {
	//nolint:gosec
	rng := rand.New(rand.NewSource(seed))
	var xs0, ys0, xs1, ys1 []int
	if dist == fixed {
		xs0 = sampleIntegers(rng, patchSize, n, dist)
		ys0 = sampleIntegers(rng, patchSize, n, dist)
		xs1 = sampleIntegers(rng, patchSize, n, dist)
		for i := 0; i < n; i++ {
			ys1 = append(ys1, -ys0[i])
			if i%2 == 0 {
				xs0[i] = 2 * xs0[i] / 3
				xs1[i] = -2 * xs1[i] / 3
				ys1[i] = ys0[i]
			}
		}
	} else {
		xs0 = sampleIntegers(rng, patchSize, n, dist)
		ys0 = sampleIntegers(rng, patchSize, n, dist)
		xs1 = sampleIntegers(rng, patchSize, n, dist)
		ys1 = sampleIntegers(rng, patchSize, n, dist)
	}
	p0 := make([]image.Point, 0, n)
	p1 := make([]image.Point, 0, n)
	for i := 0; i < n; i++ {
		p0 = append(p0, image.Point{X: xs0[i], Y: ys0[i]})
		p1 = append(p1, image.Point{X: xs1[i], Y: ys1[i]})
	}
	return &SamplePairs{P0: p0, P1: p1, N: n}
}

func sampleIntegers(rng *rand.Rand, patchSize, n int, sampling SamplingType) []int {
	half := patchSize / 2
	out := make([]int, n)
	for i := range out {
		switch sampling {
		case normal:
			// isotropic Gaussian with sigma^2 = S^2/25, clipped to the patch
			v := int(math.Round(rng.NormFloat64() * float64(patchSize) / 5))
			out[i] = max(-half, min(half, v))
		case fixed:
			if n == 1 {
				out[i] = 0
				continue
			}
			out[i] = -half + int(math.Round(float64(i)*float64(2*half)/float64(n-1)))
		case uniform:
			fallthrough
		default:
			out[i] = rng.Intn(2*half+1) - half
		}
	}
	return out
}

// BRIEFConfig stores the parameters.
type BRIEFConfig struct {
	N              int          `json:"n"` // number of binary tests, a multiple of 64
	Sampling       SamplingType `json:"sampling"`
	UseOrientation bool         `json:"use_orientation"`
	PatchSize      int          `json:"patch_size"`
	Seed           int64        `json:"seed"`
}

// Validate ensures all parts of the config are valid.
func (cfg *BRIEFConfig) Validate(path string) error {
	if cfg.N <= 0 || cfg.N%64 != 0 {
		return utils.NewConfigValidationError(path, errors.New("n must be a positive multiple of 64"))
	}
	if cfg.PatchSize < 5 {
		return utils.NewConfigValidationError(path, errors.New("patch_size must be at least 5"))
	}
	if cfg.Sampling < uniform || cfg.Sampling > fixed {
		return utils.NewConfigValidationError(path, errors.Errorf("unknown sampling type %d", cfg.Sampling))
	}
	return nil
}

// ComputeBRIEFDescriptors computes BRIEF descriptors on img at kps. Keypoints whose patch does not
// fit inside the image are dropped; the returned keypoints and orientations line up with the
// returned descriptors.
func ComputeBRIEFDescriptors(
	img *image.Gray,
	sp *SamplePairs,
	kps *FASTKeypoints,
	cfg *BRIEFConfig,
) (Descriptors, *FASTKeypoints) {
	blurred := ToGray(imaging.Blur(img, briefBlurSigma))
	bnd := blurred.Bounds()
	oriented := cfg.UseOrientation && kps.IsOriented()
	reach := cfg.PatchSize / 2
	if oriented {
		reach = int(math.Ceil(float64(reach) * math.Sqrt2))
	}

	descs := make(Descriptors, 0, len(kps.Points))
	kept := &FASTKeypoints{Points: make(KeyPoints, 0, len(kps.Points))}
	if kps.IsOriented() {
		kept.Orientations = make([]float64, 0, len(kps.Points))
	}
	inner := image.Rect(bnd.Min.X+reach, bnd.Min.Y+reach, bnd.Max.X-reach, bnd.Max.Y-reach)
	for k, kp := range kps.Points {
		if !kp.In(inner) {
			continue
		}
		cosTheta, sinTheta := 1.0, 0.0
		if oriented {
			cosTheta = math.Cos(kps.Orientations[k])
			sinTheta = math.Sin(kps.Orientations[k])
		}
		descriptor := make(Descriptor, sp.N/64)
		for i := 0; i < sp.N; i++ {
			x0, y0 := float64(sp.P0[i].X), float64(sp.P0[i].Y)
			x1, y1 := float64(sp.P1[i].X), float64(sp.P1[i].Y)
			outx0 := int(math.Round(cosTheta*x0 - sinTheta*y0))
			outy0 := int(math.Round(sinTheta*x0 + cosTheta*y0))
			outx1 := int(math.Round(cosTheta*x1 - sinTheta*y1))
			outy1 := int(math.Round(sinTheta*x1 + cosTheta*y1))
			if blurred.GrayAt(kp.X+outx0, kp.Y+outy0).Y > blurred.GrayAt(kp.X+outx1, kp.Y+outy1).Y {
				descriptor[i/64] |= 1 << (i % 64)
			}
		}
		descs = append(descs, descriptor)
		kept.Points = append(kept.Points, kp)
		if kps.IsOriented() {
			kept.Orientations = append(kept.Orientations, kps.Orientations[k])
		}
	}
	return descs, kept
}
