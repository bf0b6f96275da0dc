// Package fake implements a fake camera that pans across a fixed random texture, so the
// localization pipeline sees steady sideways motion without any hardware.
package fake

import (
	"context"
	"image"
	"image/color"
	"math/rand"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/picar-labs/rover/components/camera"
	"github.com/picar-labs/rover/utils"
)

const (
	initialWidth  = 320
	initialHeight = 240
	// texture cells are blockSize pixels square
	blockSize   = 4
	canvasWidth = 4
)

// Config are the attributes of the fake camera config.
type Config struct {
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	FrameRate float64 `json:"frame_rate,omitempty"`
	// PanPx is how far the view moves right between frames.
	PanPx int   `json:"pan_px,omitempty"`
	Seed  int64 `json:"seed,omitempty"`
}

// Validate checks that the config attributes are valid for a fake camera.
func (conf *Config) Validate(path string) error {
	if conf.Height%2 != 0 {
		return errors.Errorf("odd-number resolutions cannot be rendered, cannot use a height of %d", conf.Height)
	}
	if conf.Width%2 != 0 {
		return errors.Errorf("odd-number resolutions cannot be rendered, cannot use a width of %d", conf.Width)
	}
	if conf.Width < 0 || conf.Height < 0 || conf.FrameRate < 0 {
		return goutils.NewConfigValidationError(path, errors.New("dimensions and frame rate cannot be negative"))
	}
	return nil
}

// Camera renders a window onto a texture, sliding the window PanPx each frame.
type Camera struct {
	width, height int
	pan           int
	interval      time.Duration
	texture       *image.Gray
	frames        *camera.FrameBuffer

	mu      sync.Mutex
	offset  int
	workers utils.StoppableWorkers
}

// NewCamera returns a fake camera. If start is true frames are produced in the background at the
// configured rate; otherwise frames only advance on Step.
func NewCamera(cfg *Config, start bool, logger golog.Logger) (*Camera, error) {
	if err := cfg.Validate("camera"); err != nil {
		return nil, err
	}
	width, height := cfg.Width, cfg.Height
	if width == 0 {
		width = initialWidth
	}
	if height == 0 {
		height = initialHeight
	}
	rate := cfg.FrameRate
	if rate == 0 {
		rate = 15
	}
	c := &Camera{
		width:    width,
		height:   height,
		pan:      cfg.PanPx,
		interval: time.Duration(float64(time.Second) / rate),
		texture:  newTexture(width*canvasWidth, height, cfg.Seed),
		frames:   camera.NewFrameBuffer(camera.DefaultJPEGQuality),
	}
	c.Step()
	if start {
		c.workers = utils.NewStoppableWorkers(c.run)
		logger.Infow("fake camera started", "width", width, "height", height, "pan_px", cfg.PanPx)
	}
	return c, nil
}

func newTexture(width, height int, seed int64) *image.Gray {
	//nolint:gosec
	r := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, width, height))
	for by := 0; by < height; by += blockSize {
		for bx := 0; bx < width; bx += blockSize {
			v := color.Gray{Y: uint8(r.Intn(256))}
			for y := by; y < by+blockSize && y < height; y++ {
				for x := bx; x < bx+blockSize && x < width; x++ {
					img.SetGray(x, y, v)
				}
			}
		}
	}
	return img
}

func (c *Camera) run(ctx context.Context) {
	for goutils.SelectContextOrWait(ctx, c.interval) {
		c.Step()
	}
}

// Step renders the next frame and makes it the latest.
func (c *Camera) Step() {
	c.mu.Lock()
	offset := c.offset
	c.offset = (c.offset + c.pan) % c.texture.Rect.Dx()
	c.mu.Unlock()

	img := image.NewGray(image.Rect(0, 0, c.width, c.height))
	tw := c.texture.Rect.Dx()
	for y := 0; y < c.height; y++ {
		for x := 0; x < c.width; x++ {
			img.Pix[y*img.Stride+x] = c.texture.Pix[y*c.texture.Stride+(x+offset)%tw]
		}
	}
	c.frames.Put(img)
}

// LatestFrame returns the last rendered frame.
func (c *Camera) LatestFrame(ctx context.Context) (image.Image, bool) {
	return c.frames.Frame()
}

// LatestJPEG returns the last rendered frame as JPEG.
func (c *Camera) LatestJPEG(ctx context.Context) ([]byte, bool) {
	return c.frames.JPEG()
}

// Close stops producing frames.
func (c *Camera) Close(ctx context.Context) error {
	if c.workers != nil {
		c.workers.Stop()
	}
	return nil
}
