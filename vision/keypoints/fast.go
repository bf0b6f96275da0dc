package keypoints

import (
	"image"
	"sort"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// FASTConfig holds the parameters of the FAST corner detector.
type FASTConfig struct {
	// NMatchesCircle is how many contiguous circle pixels must be all brighter or all darker.
	NMatchesCircle int `json:"n_matches"`
	// NMSWinSize is the side of the non-maximum suppression window.
	NMSWinSize int `json:"nms_win_size"`
	// Threshold is the intensity difference, as a fraction of 255, for a pixel to count.
	Threshold float64 `json:"threshold"`
	Oriented  bool    `json:"oriented"`
	// MaxKeypoints keeps only the strongest corners. Zero keeps all.
	MaxKeypoints int `json:"max_keypoints"`
}

// Validate ensures all parts of the config are valid.
func (cfg *FASTConfig) Validate(path string) error {
	if cfg.NMatchesCircle < 1 || cfg.NMatchesCircle > len(CircleIdx) {
		return utils.NewConfigValidationError(path, errors.Errorf("n_matches must be in 1-%d", len(CircleIdx)))
	}
	if cfg.NMSWinSize < 1 {
		return utils.NewConfigValidationError(path, errors.New("nms_win_size must be positive"))
	}
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		return utils.NewConfigValidationError(path, errors.New("threshold must be in (0, 1)"))
	}
	if cfg.MaxKeypoints < 0 {
		return utils.NewConfigValidationError(path, errors.New("max_keypoints cannot be negative"))
	}
	return nil
}

// PointsIndices are offsets around a center pixel.
type PointsIndices []image.Point

var (
	// CrossIdx is the 4 compass points of the Bresenham circle of radius 3.
	CrossIdx = PointsIndices{{0, -3}, {3, 0}, {0, 3}, {-3, 0}}
	// CircleIdx is the Bresenham circle of radius 3, clockwise from the top.
	CircleIdx = PointsIndices{
		{0, -3}, {1, -3}, {2, -2}, {3, -1},
		{3, 0}, {3, 1}, {2, 2}, {1, 3},
		{0, 3}, {-1, 3}, {-2, 2}, {-3, 1},
		{-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
	}
)

const fastBorder = 3

// GetPointValuesInNeighborhood returns the values of img at the offsets around p.
func GetPointValuesInNeighborhood(img *image.Gray, p image.Point, neighborhood PointsIndices) []float64 {
	vals := make([]float64, len(neighborhood))
	for i, off := range neighborhood {
		vals[i] = float64(img.GrayAt(p.X+off.X, p.Y+off.Y).Y)
	}
	return vals
}

// isValidSliceVals returns true if s, read as a ring, has n contiguous non-zero values.
func isValidSliceVals(s []float64, n int) bool {
	count := 0
	for i := 0; i < 2*len(s); i++ {
		if s[i%len(s)] > 0 {
			count++
			if count >= n {
				return true
			}
		} else {
			count = 0
		}
	}
	return false
}

func sumOfPositiveValuesSlice(s []float64) float64 {
	sum := 0.
	for _, v := range s {
		if v > 0 {
			sum += v
		}
	}
	return sum
}

func sumOfNegativeValuesSlice(s []float64) float64 {
	sum := 0.
	for _, v := range s {
		if v < 0 {
			sum += v
		}
	}
	return sum
}

// getBrighterValues returns a mask of the values strictly above t.
func getBrighterValues(s []float64, t float64) []float64 {
	mask := make([]float64, len(s))
	for i, v := range s {
		if v > t {
			mask[i] = 1
		}
	}
	return mask
}

// getDarkerValues returns a mask of the values strictly below t.
func getDarkerValues(s []float64, t float64) []float64 {
	mask := make([]float64, len(s))
	for i, v := range s {
		if v < t {
			mask[i] = 1
		}
	}
	return mask
}

// cornerScore returns the FAST score of p, or 0 if p is not a corner.
func cornerScore(img *image.Gray, p image.Point, cfg *FASTConfig) float64 {
	center := float64(img.GrayAt(p.X, p.Y).Y)
	t := cfg.Threshold * 255
	upper, lower := center+t, center-t

	// quick rejection on the compass points: a contiguous arc of n covers at least n/4 of them
	cross := GetPointValuesInNeighborhood(img, p, CrossIdx)
	needed := cfg.NMatchesCircle / 4
	if sumOfPositiveValuesSlice(getBrighterValues(cross, upper)) < float64(needed) &&
		sumOfPositiveValuesSlice(getDarkerValues(cross, lower)) < float64(needed) {
		return 0
	}

	circle := GetPointValuesInNeighborhood(img, p, CircleIdx)
	brighter := getBrighterValues(circle, upper)
	darker := getDarkerValues(circle, lower)
	isBright := isValidSliceVals(brighter, cfg.NMatchesCircle)
	isDark := isValidSliceVals(darker, cfg.NMatchesCircle)
	if !isBright && !isDark {
		return 0
	}
	diffs := make([]float64, len(circle))
	for i, v := range circle {
		if brighter[i] > 0 || darker[i] > 0 {
			diffs[i] = v - center
		}
	}
	pos := sumOfPositiveValuesSlice(diffs)
	neg := -sumOfNegativeValuesSlice(diffs)
	if pos > neg {
		return pos
	}
	return neg
}

// ComputeFAST returns the FAST corners of img after non-maximum suppression, in raster order.
func ComputeFAST(img *image.Gray, cfg *FASTConfig) KeyPoints {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 2*fastBorder || h <= 2*fastBorder {
		return KeyPoints{}
	}
	scores := make([]float64, w*h)
	candidates := make([]int, 0)
	for y := bounds.Min.Y + fastBorder; y < bounds.Max.Y-fastBorder; y++ {
		for x := bounds.Min.X + fastBorder; x < bounds.Max.X-fastBorder; x++ {
			s := cornerScore(img, image.Point{x, y}, cfg)
			if s > 0 {
				idx := (y-bounds.Min.Y)*w + (x - bounds.Min.X)
				scores[idx] = s
				candidates = append(candidates, idx)
			}
		}
	}

	// a corner survives if no neighbor in the window beats it; ties go to the earlier pixel
	half := cfg.NMSWinSize / 2
	kept := make([]int, 0, len(candidates))
	for _, idx := range candidates {
		cx, cy := idx%w, idx/w
		s := scores[idx]
		isMax := true
		for y := max(0, cy-half); y <= min(h-1, cy+half) && isMax; y++ {
			for x := max(0, cx-half); x <= min(w-1, cx+half); x++ {
				n := y*w + x
				if n == idx {
					continue
				}
				if scores[n] > s || (scores[n] == s && n < idx) {
					isMax = false
					break
				}
			}
		}
		if isMax {
			kept = append(kept, idx)
		}
	}

	if cfg.MaxKeypoints > 0 && len(kept) > cfg.MaxKeypoints {
		sort.SliceStable(kept, func(i, j int) bool { return scores[kept[i]] > scores[kept[j]] })
		kept = kept[:cfg.MaxKeypoints]
		sort.Ints(kept)
	}

	kps := make(KeyPoints, len(kept))
	for i, idx := range kept {
		kps[i] = image.Point{X: idx%w + bounds.Min.X, Y: idx/w + bounds.Min.Y}
	}
	return kps
}

// NewFASTKeypointsFromImage computes FAST corners and, if configured, their orientations.
func NewFASTKeypointsFromImage(img *image.Gray, cfg *FASTConfig) *FASTKeypoints {
	kps := ComputeFAST(img, cfg)
	var orientations []float64
	if cfg.Oriented {
		orientations = computeKeypointsOrientations(img, kps)
	}
	return &FASTKeypoints{Points: kps, Orientations: orientations}
}
