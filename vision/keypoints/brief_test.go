package keypoints

import (
	"image"
	"testing"

	"go.viam.com/test"
)

func TestGenerateSamplePairs(t *testing.T) {
	for _, sampling := range []SamplingType{uniform, normal, fixed} {
		sp := GenerateSamplePairs(sampling, 256, 31, 7)
		test.That(t, sp.N, test.ShouldEqual, 256)
		test.That(t, len(sp.P0), test.ShouldEqual, 256)
		test.That(t, len(sp.P1), test.ShouldEqual, 256)
		for i := 0; i < sp.N; i++ {
			for _, p := range []image.Point{sp.P0[i], sp.P1[i]} {
				test.That(t, p.X, test.ShouldBeBetweenOrEqual, -15, 15)
				test.That(t, p.Y, test.ShouldBeBetweenOrEqual, -15, 15)
			}
		}
		// the same seed gives the same tests
		test.That(t, GenerateSamplePairs(sampling, 256, 31, 7), test.ShouldResemble, sp)
	}
	test.That(t, GenerateSamplePairs(uniform, 64, 31, 1), test.ShouldNotResemble, GenerateSamplePairs(uniform, 64, 31, 2))
}

func TestBRIEFConfigValidate(t *testing.T) {
	cfg := BRIEFConfig{N: 256, PatchSize: 31}
	test.That(t, cfg.Validate("brief"), test.ShouldBeNil)
	cfg.N = 100
	test.That(t, cfg.Validate("brief"), test.ShouldNotBeNil)
	cfg.N = 128
	cfg.PatchSize = 3
	test.That(t, cfg.Validate("brief"), test.ShouldNotBeNil)
	cfg.PatchSize = 31
	cfg.Sampling = 5
	test.That(t, cfg.Validate("brief"), test.ShouldNotBeNil)
}

func TestComputeBRIEFDescriptors(t *testing.T) {
	img := noiseImage(120, 100, 11)
	cfg := &BRIEFConfig{N: 128, Sampling: uniform, PatchSize: 31}
	sp := GenerateSamplePairs(cfg.Sampling, cfg.N, cfg.PatchSize, 1)

	kps := &FASTKeypoints{Points: KeyPoints{{60, 50}, {5, 5}, {110, 50}, {40, 30}}}
	descs, kept := ComputeBRIEFDescriptors(img, sp, kps, cfg)
	// keypoints too close to the border are dropped
	test.That(t, kept.Points, test.ShouldResemble, KeyPoints{{60, 50}, {40, 30}})
	test.That(t, kept.IsOriented(), test.ShouldBeFalse)
	test.That(t, len(descs), test.ShouldEqual, 2)
	test.That(t, len(descs[0]), test.ShouldEqual, 2)

	// descriptors are a pure function of the patch
	again, _ := ComputeBRIEFDescriptors(img, sp, kps, cfg)
	test.That(t, again, test.ShouldResemble, descs)
	d, err := HammingDistance(descs[0], descs[1])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldBeGreaterThan, 0)
}

func TestComputeBRIEFDescriptorsOriented(t *testing.T) {
	img := noiseImage(120, 100, 11)
	cfg := &BRIEFConfig{N: 64, Sampling: normal, PatchSize: 31, UseOrientation: true}
	sp := GenerateSamplePairs(cfg.Sampling, cfg.N, cfg.PatchSize, 1)

	// with rotation the patch needs 22 pixels of room on each side
	kps := &FASTKeypoints{Points: KeyPoints{{60, 50}, {18, 50}}, Orientations: []float64{0.5, 0.1}}
	descs, kept := ComputeBRIEFDescriptors(img, sp, kps, cfg)
	test.That(t, len(descs), test.ShouldEqual, 1)
	test.That(t, kept.Points, test.ShouldResemble, KeyPoints{{60, 50}})
	test.That(t, kept.Orientations, test.ShouldResemble, []float64{0.5})
}
