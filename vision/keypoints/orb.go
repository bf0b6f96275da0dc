package keypoints

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// ORBConfig contains the parameters needed to compute ORB features.
type ORBConfig struct {
	Layers          int          `json:"n_layers"`
	DownscaleFactor float64      `json:"downscale_factor"`
	FastConf        *FASTConfig  `json:"fast"`
	BRIEFConf       *BRIEFConfig `json:"brief"`
}

// DefaultORBConfig is tuned for 320x240 frames.
func DefaultORBConfig() *ORBConfig {
	return &ORBConfig{
		Layers:          1,
		DownscaleFactor: 2,
		FastConf: &FASTConfig{
			NMatchesCircle: 9,
			NMSWinSize:     7,
			Threshold:      0.15,
			Oriented:       true,
			MaxKeypoints:   500,
		},
		BRIEFConf: &BRIEFConfig{
			N:              256,
			Sampling:       normal,
			UseOrientation: true,
			PatchSize:      31,
			Seed:           42,
		},
	}
}

// Validate ensures all parts of the ORBConfig are valid.
func (config *ORBConfig) Validate(path string) error {
	if config.Layers < 1 {
		return utils.NewConfigValidationError(path, errors.New("n_layers should be >= 1"))
	}
	if config.Layers > 1 && config.DownscaleFactor <= 1 {
		return utils.NewConfigValidationError(path, errors.New("downscale_factor should be greater than 1"))
	}
	if config.FastConf == nil {
		return utils.NewConfigValidationFieldRequiredError(path, "fast")
	}
	if err := config.FastConf.Validate(path + ".fast"); err != nil {
		return err
	}
	if config.BRIEFConf == nil {
		return utils.NewConfigValidationFieldRequiredError(path, "brief")
	}
	return config.BRIEFConf.Validate(path + ".brief")
}

// ORB detects FAST corners on an image pyramid and describes them with BRIEF. It is safe for
// concurrent use.
type ORB struct {
	cfg   *ORBConfig
	pairs *SamplePairs
}

// NewORB validates cfg and draws the BRIEF sample pairs.
func NewORB(cfg *ORBConfig) (*ORB, error) {
	if err := cfg.Validate("orb"); err != nil {
		return nil, err
	}
	b := cfg.BRIEFConf
	return &ORB{cfg: cfg, pairs: GenerateSamplePairs(b.Sampling, b.N, b.PatchSize, b.Seed)}, nil
}

// DetectAndDescribe implements Detector. Keypoints are in the coordinates of img.
func (o *ORB) DetectAndDescribe(img *image.Gray) (KeyPoints, Descriptors, error) {
	if img == nil {
		return nil, nil, errors.New("no image")
	}
	allKps := make(KeyPoints, 0)
	allDescs := make(Descriptors, 0)
	level := img
	for i := 0; i < o.cfg.Layers; i++ {
		scale := math.Pow(o.cfg.DownscaleFactor, float64(i))
		if i > 0 {
			w := int(float64(img.Bounds().Dx()) / scale)
			h := int(float64(img.Bounds().Dy()) / scale)
			if w <= o.cfg.BRIEFConf.PatchSize || h <= o.cfg.BRIEFConf.PatchSize {
				break
			}
			level = ToGray(imaging.Resize(img, w, h, imaging.Linear))
		}
		fastKps := NewFASTKeypointsFromImage(level, o.cfg.FastConf)
		descs, kept := ComputeBRIEFDescriptors(level, o.pairs, fastKps, o.cfg.BRIEFConf)
		allKps = append(allKps, RescaleKeypoints(kept.Points, scale)...)
		allDescs = append(allDescs, descs...)
	}
	return allKps, allDescs, nil
}
