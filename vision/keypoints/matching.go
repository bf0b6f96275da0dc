package keypoints

import (
	"math/bits"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// MatchingConfig contains the parameters for matching descriptors.
type MatchingConfig struct {
	DoCrossCheck bool `json:"do_cross_check"`
	// MaxDist rejects matches at or above this Hamming distance. Zero disables the check.
	MaxDist int `json:"max_dist"`
}

// DescriptorMatch contains the index of a match in the first and second set of descriptors and
// the Hamming distance between them.
type DescriptorMatch struct {
	Idx1     int
	Idx2     int
	Distance int
}

// HammingDistance counts the differing bits of two descriptors of the same length.
func HammingDistance(d1, d2 Descriptor) (int, error) {
	if len(d1) != len(d2) {
		return 0, errors.Errorf("descriptors must have the same length, got %d and %d", len(d1), len(d2))
	}
	dist := 0
	for i := range d1 {
		dist += bits.OnesCount64(d1[i] ^ d2[i])
	}
	return dist, nil
}

// BruteForceMatcher compares every descriptor of the first set with every descriptor of the second.
type BruteForceMatcher struct {
	Cfg MatchingConfig
}

// Match implements Matcher.
func (m *BruteForceMatcher) Match(desc1, desc2 Descriptors) []DescriptorMatch {
	return MatchKeypoints(desc1, desc2, &m.Cfg)
}

// MatchKeypoints finds, for each descriptor of desc1, its nearest descriptor in desc2. With cross
// checking only mutual nearest neighbors are kept. Matches are sorted by ascending distance.
func MatchKeypoints(desc1, desc2 Descriptors, cfg *MatchingConfig) []DescriptorMatch {
	if len(desc1) == 0 || len(desc2) == 0 {
		return nil
	}
	distances := make([][]int, len(desc1))
	best12 := make([]int, len(desc1))
	best21 := make([]int, len(desc2))
	best21Dist := make([]int, len(desc2))
	for j := range best21Dist {
		best21Dist[j] = -1
	}
	for i, d1 := range desc1 {
		distances[i] = make([]int, len(desc2))
		best12[i] = -1
		for j, d2 := range desc2 {
			dist, err := HammingDistance(d1, d2)
			if err != nil {
				return nil
			}
			distances[i][j] = dist
			if best12[i] < 0 || dist < distances[i][best12[i]] {
				best12[i] = j
			}
			if best21Dist[j] < 0 || dist < best21Dist[j] {
				best21[j] = i
				best21Dist[j] = dist
			}
		}
	}

	matches := make([]DescriptorMatch, 0, len(desc1))
	for i, j := range best12 {
		if cfg.DoCrossCheck && best21[j] != i {
			continue
		}
		if cfg.MaxDist > 0 && distances[i][j] >= cfg.MaxDist {
			continue
		}
		matches = append(matches, DescriptorMatch{Idx1: i, Idx2: j, Distance: distances[i][j]})
	}

	dists := make([]float64, len(matches))
	for i, m := range matches {
		dists[i] = float64(m.Distance)
	}
	order := make([]int, len(matches))
	floats.Argsort(dists, order)
	sorted := make([]DescriptorMatch, len(matches))
	for i, idx := range order {
		sorted[i] = matches[idx]
	}
	return sorted
}

// GetMatchingKeyPoints returns the keypoints of each match, in match order.
func GetMatchingKeyPoints(matches []DescriptorMatch, kps1, kps2 KeyPoints) (KeyPoints, KeyPoints, error) {
	matched1 := make(KeyPoints, len(matches))
	matched2 := make(KeyPoints, len(matches))
	for i, m := range matches {
		if m.Idx1 >= len(kps1) || m.Idx2 >= len(kps2) {
			return nil, nil, errors.Errorf("match %d refers to a keypoint that does not exist", i)
		}
		matched1[i] = kps1[m.Idx1]
		matched2[i] = kps2[m.Idx2]
	}
	return matched1, matched2, nil
}
