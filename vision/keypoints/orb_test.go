package keypoints

import (
	"image"
	"testing"

	"go.viam.com/test"
)

func TestORBConfigValidate(t *testing.T) {
	cfg := DefaultORBConfig()
	test.That(t, cfg.Validate("orb"), test.ShouldBeNil)

	cfg.Layers = 0
	test.That(t, cfg.Validate("orb"), test.ShouldNotBeNil)

	cfg = DefaultORBConfig()
	cfg.Layers = 2
	cfg.DownscaleFactor = 1
	test.That(t, cfg.Validate("orb"), test.ShouldNotBeNil)

	cfg = DefaultORBConfig()
	cfg.FastConf = nil
	test.That(t, cfg.Validate("orb"), test.ShouldNotBeNil)

	cfg = DefaultORBConfig()
	cfg.BRIEFConf.N = 10
	_, err := NewORB(cfg)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestORBTranslation(t *testing.T) {
	orb, err := NewORB(DefaultORBConfig())
	test.That(t, err, test.ShouldBeNil)
	prev, curr := shiftedPair(320, 240, 5, 1)

	kps1, desc1, err := orb.DetectAndDescribe(prev)
	test.That(t, err, test.ShouldBeNil)
	kps2, desc2, err := orb.DetectAndDescribe(curr)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(kps1), test.ShouldEqual, len(desc1))
	test.That(t, len(kps2), test.ShouldEqual, len(desc2))
	test.That(t, len(kps1), test.ShouldBeGreaterThan, 100)

	matches := (&BruteForceMatcher{Cfg: MatchingConfig{DoCrossCheck: true}}).Match(desc1, desc2)
	test.That(t, len(matches), test.ShouldBeGreaterThan, 10)
	m1, m2, err := GetMatchingKeyPoints(matches[:10], kps1, kps2)
	test.That(t, err, test.ShouldBeNil)
	for i := range m1 {
		test.That(t, matches[i].Distance, test.ShouldEqual, 0)
		test.That(t, m2[i].Sub(m1[i]), test.ShouldResemble, image.Point{5, 0})
	}
}

func TestORBPyramid(t *testing.T) {
	cfg := DefaultORBConfig()
	cfg.Layers = 3
	orb, err := NewORB(cfg)
	test.That(t, err, test.ShouldBeNil)

	img := noiseImage(200, 160, 5)
	kps, descs, err := orb.DetectAndDescribe(img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(kps), test.ShouldEqual, len(descs))
	for _, kp := range kps {
		test.That(t, kp.In(img.Bounds()), test.ShouldBeTrue)
	}

	// too dark to find anything
	kps, descs, err = orb.DetectAndDescribe(image.NewGray(image.Rect(0, 0, 64, 48)))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(kps), test.ShouldEqual, 0)
	test.That(t, len(descs), test.ShouldEqual, 0)

	_, _, err = orb.DetectAndDescribe(nil)
	test.That(t, err, test.ShouldNotBeNil)
}
